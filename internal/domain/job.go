package domain

import "time"

// Stage enumerates the lifecycle of a single pipeline run.
type Stage string

const (
	StagePending           Stage = "pending"
	StageComposingScene    Stage = "composing_scene"
	StageSynthesizingVideo Stage = "synthesizing_video"
	StageComplete          Stage = "complete"
	StageError             Stage = "error"
)

// Terminal reports whether no further transition can happen from s.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageError
}

// GenerationJob is the queryable record of one pipeline run.
type GenerationJob struct {
	ID                string    `json:"id"`
	Stage             Stage     `json:"stage"`
	Message           string    `json:"message"`
	CompositeImageURL string    `json:"composite_image_url,omitempty"`
	VideoURL          string    `json:"video_url,omitempty"`
	RemoteJobID       string    `json:"remote_job_id,omitempty"`
	Error             string    `json:"error,omitempty"`
	ErrorStage        Stage     `json:"error_stage,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CreditSnapshot is the read-only view of the credit ledger.
type CreditSnapshot struct {
	StartingBalance int64 `json:"startingBalance"`
	ConsumedTotal   int64 `json:"consumedTotal"`
	Remaining       int64 `json:"remaining"`
}
