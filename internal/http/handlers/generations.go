package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"scenecast/internal/domain"
	"scenecast/internal/middleware"
	"scenecast/internal/pipeline"
	"scenecast/internal/providers/scene"
)

type acceptedResponse struct {
	JobID string       `json:"job_id"`
	Stage domain.Stage `json:"stage"`
}

// CreateGeneration accepts two portraits and a scenario and starts a full
// run in the background.
func (a *App) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	if err := a.parseForm(w, r, 2); err != nil {
		a.fail(w, r, err)
		return
	}
	portraitA, err := a.readImage(r, "portrait_a", true)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	portraitB, err := a.readImage(r, "portrait_b", true)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	duration, err := formDuration(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	id, err := a.Generator.Start(a.RunContext, pipeline.Input{
		PortraitA:       portraitA,
		PortraitB:       portraitB,
		Scenario:        r.FormValue("scenario"),
		ActionPrompt:    r.FormValue("action_prompt"),
		DurationSeconds: duration,
		RequestID:       middleware.RequestIDFromContext(r.Context()),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, acceptedResponse{JobID: id, Stage: domain.StagePending})
}

// CreateFromScene animates an existing scene, given as a `scene` upload or a
// `scene_url` field.
func (a *App) CreateFromScene(w http.ResponseWriter, r *http.Request) {
	if err := a.parseForm(w, r, 1); err != nil {
		a.fail(w, r, err)
		return
	}
	upload, err := a.readImage(r, "scene", false)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ref := scene.ImageRef{Data: upload.Data, MIME: upload.MIME}
	if len(upload.Data) == 0 {
		sceneURL := strings.TrimSpace(r.FormValue("scene_url"))
		if !strings.HasPrefix(sceneURL, "https://") && !strings.HasPrefix(sceneURL, "http://") {
			a.fail(w, r, domain.InvalidInput("scene upload or http(s) scene_url is required"))
			return
		}
		ref = scene.ImageRef{URL: sceneURL}
	}
	duration, err := formDuration(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	id, err := a.Generator.StartFromScene(a.RunContext, pipeline.SceneInput{
		Scene:           ref,
		Scenario:        r.FormValue("scenario"),
		ActionPrompt:    r.FormValue("action_prompt"),
		DurationSeconds: duration,
		RequestID:       middleware.RequestIDFromContext(r.Context()),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, acceptedResponse{JobID: id, Stage: domain.StagePending})
}

// GetGeneration returns the current job record.
func (a *App) GetGeneration(w http.ResponseWriter, r *http.Request) {
	job, err := a.Generator.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}
