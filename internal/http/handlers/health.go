package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Credits reports the ledger balance.
func (a *App) Credits(w http.ResponseWriter, r *http.Request) {
	if a.Ledger == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "credit ledger not configured")
		return
	}
	a.json(w, http.StatusOK, a.Ledger.Snapshot())
}
