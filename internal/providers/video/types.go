package video

import (
	"encoding/json"
	"strings"
)

// Status is a remote job state as reported by the status endpoint.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusGenerating Status = "generating"
	StatusActive     Status = "active"
	StatusWaiting    Status = "waiting"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusError      Status = "error"
)

func parseStatus(raw string) Status {
	return Status(strings.ToLower(strings.TrimSpace(raw)))
}

// Failed reports whether the remote job ended unsuccessfully.
func (s Status) Failed() bool {
	return s == StatusFailed || s == StatusError
}

// Request is the input to SynthesizeVideo.
type Request struct {
	// ImageLocator is an http(s) URL or a data URI of the source frame.
	ImageLocator    string
	Prompt          string
	DurationSeconds int
	RequestID       string
	// OnStatus, when set, is called each time polling observes a new status.
	OnStatus func(Status)
}

// Result is the outcome of a completed remote job.
type Result struct {
	VideoURL    string
	RemoteJobID string
	Credits     int64
	Polls       int
}

type createRequest struct {
	Model         string `json:"model"`
	Prompt        string `json:"prompt"`
	ImageURL      string `json:"image_url"`
	GenerateAudio bool   `json:"generate_audio"`
	Duration      string `json:"duration"`
	AspectRatio   string `json:"aspect_ratio"`
	Resolution    string `json:"resolution"`
}

type createResponse struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`
}

func (r createResponse) jobID() string {
	if id := strings.TrimSpace(r.ID); id != "" {
		return id
	}
	return strings.TrimSpace(r.TaskID)
}

type statusResponse struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	VideoURL string          `json:"video_url"`
	Video    *videoObject    `json:"video"`
	Usage    *usage          `json:"usage"`
	Error    json.RawMessage `json:"error"`
}

type videoObject struct {
	URL string `json:"url"`
}

type usage struct {
	Credits int64 `json:"credits"`
}

func (r statusResponse) videoURL() string {
	if u := strings.TrimSpace(r.VideoURL); u != "" {
		return u
	}
	if r.Video != nil {
		return strings.TrimSpace(r.Video.URL)
	}
	return ""
}

func (r statusResponse) credits() int64 {
	if r.Usage == nil || r.Usage.Credits < 0 {
		return 0
	}
	return r.Usage.Credits
}
