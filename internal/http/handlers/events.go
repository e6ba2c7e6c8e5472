package handlers

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"scenecast/internal/domain"
	"scenecast/internal/pipeline"
)

const wsWriteWait = 10 * time.Second

type streamMessage struct {
	Type  string                `json:"type"`
	Job   *domain.GenerationJob `json:"job,omitempty"`
	Event *pipeline.Event       `json:"event,omitempty"`
}

func (a *App) upgrader() *websocket.Upgrader {
	allowed := make(map[string]bool, len(a.AllowedOrigins))
	for _, o := range a.AllowedOrigins {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed[origin] {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		},
	}
}

// GenerationEvents streams a job over a websocket: the current snapshot,
// then each progress event, then a final snapshot before closing.
func (a *App) GenerationEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.Generator.Job(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	if a.Events == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "event stream not configured")
		return
	}
	events, cancel := a.Events.Subscribe(id)
	defer cancel()

	conn, err := a.upgrader().Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Warn().Err(err).Str("job_id", id).Msg("http: websocket upgrade failed")
		return
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Time{})

	send := func(msg streamMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(msg) == nil
	}
	sendSnapshot := func() (terminal, ok bool) {
		job, err := a.Generator.Job(r.Context(), id)
		if err != nil {
			return true, false
		}
		return job.Stage.Terminal(), send(streamMessage{Type: "snapshot", Job: &job})
	}
	closeNormally := func() {
		deadline := time.Now().Add(wsWriteWait)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), deadline)
	}

	// Subscribed before the snapshot is read, so no transition falls between.
	if terminal, ok := sendSnapshot(); !ok || terminal {
		closeNormally()
		return
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, open := <-events:
			if !open {
				sendSnapshot()
				closeNormally()
				return
			}
			if !send(streamMessage{Type: "event", Event: &ev}) {
				return
			}
		case <-gone:
			return
		case <-a.RunContext.Done():
			closeNormally()
			return
		}
	}
}
