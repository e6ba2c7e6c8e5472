package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"scenecast/internal/domain"
	"scenecast/internal/infra"
	"scenecast/internal/pipeline"
)

// Generator is the orchestrator surface the handlers drive.
type Generator interface {
	Start(ctx context.Context, in pipeline.Input) (string, error)
	StartFromScene(ctx context.Context, in pipeline.SceneInput) (string, error)
	Job(ctx context.Context, id string) (domain.GenerationJob, error)
}

// CreditReader exposes the ledger snapshot.
type CreditReader interface {
	Snapshot() domain.CreditSnapshot
}

// EventSource streams progress events for one job.
type EventSource interface {
	Subscribe(jobID string) (<-chan pipeline.Event, func())
}

// App carries handler dependencies.
type App struct {
	Generator Generator
	Ledger    CreditReader
	Events    EventSource
	Logger    *infra.Logger
	// RunContext outlives requests; background runs are started under it.
	RunContext     context.Context
	MaxUploadBytes int64
	AllowedOrigins []string
}

// NewApp fills defaults for optional fields.
func NewApp(app App) *App {
	if app.Logger == nil {
		app.Logger = infra.DiscardLogger()
	}
	if app.RunContext == nil {
		app.RunContext = context.Background()
	}
	if app.MaxUploadBytes <= 0 {
		app.MaxUploadBytes = 10 << 20
	}
	return &app
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorBody{Error: errorDetail{Code: errCode, Message: message}})
}

// fail maps domain errors onto HTTP statuses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errUploadTooLarge):
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", err.Error())
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("http: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
