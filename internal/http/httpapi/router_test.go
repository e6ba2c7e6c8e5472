package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"scenecast/internal/domain"
	"scenecast/internal/http/handlers"
	"scenecast/internal/pipeline"
)

var (
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
)

type stubGenerator struct {
	mu        sync.Mutex
	jobs      map[string]domain.GenerationJob
	lastInput pipeline.Input
	lastScene pipeline.SceneInput
	startErr  error
}

func newStubGenerator() *stubGenerator {
	return &stubGenerator{jobs: make(map[string]domain.GenerationJob)}
}

func (s *stubGenerator) Start(ctx context.Context, in pipeline.Input) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return "", s.startErr
	}
	s.lastInput = in
	s.jobs["job-1"] = domain.GenerationJob{ID: "job-1", Stage: domain.StagePending}
	return "job-1", nil
}

func (s *stubGenerator) StartFromScene(ctx context.Context, in pipeline.SceneInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastScene = in
	s.jobs["job-2"] = domain.GenerationJob{ID: "job-2", Stage: domain.StagePending}
	return "job-2", nil
}

func (s *stubGenerator) Job(ctx context.Context, id string) (domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.GenerationJob{}, domain.ErrNotFound
	}
	return job, nil
}

func (s *stubGenerator) inputs() (pipeline.Input, pipeline.SceneInput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInput, s.lastScene
}

func (s *stubGenerator) failWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startErr = err
}

func (s *stubGenerator) set(job domain.GenerationJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

type stubCredits domain.CreditSnapshot

func (s stubCredits) Snapshot() domain.CreditSnapshot { return domain.CreditSnapshot(s) }

type fixture struct {
	gen    *stubGenerator
	events *pipeline.Broadcaster
	server *httptest.Server
}

func newFixture(t *testing.T, rateLimit int) *fixture {
	t.Helper()
	gen := newStubGenerator()
	events := pipeline.NewBroadcaster()
	app := handlers.NewApp(handlers.App{
		Generator:      gen,
		Ledger:         stubCredits{StartingBalance: 1000, ConsumedTotal: 1250, Remaining: 0},
		Events:         events,
		MaxUploadBytes: 1024,
	})
	srv := httptest.NewServer(NewRouter(app, Options{RateLimitPerMin: rateLimit}))
	t.Cleanup(srv.Close)
	return &fixture{gen: gen, events: events, server: srv}
}

type part struct {
	field, filename string
	data            []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	for _, f := range files {
		w, err := mw.CreateFormFile(f.field, f.filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		_, _ = w.Write(f.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func post(t *testing.T, url string, body *bytes.Buffer, contentType string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, contentType, body)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestCreateGenerationAccepted(t *testing.T) {
	f := newFixture(t, 0)
	body, ct := multipartBody(t,
		map[string]string{"scenario": "Two colleagues in an office", "duration": "6", "action_prompt": "they laugh"},
		part{"portrait_a", "a.png", pngBytes},
		part{"portrait_b", "b.jpg", jpegBytes},
	)
	resp, out := post(t, f.server.URL+"/v1/generations", body, ct)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d body=%v", resp.StatusCode, out)
	}
	if out["job_id"] != "job-1" || out["stage"] != "pending" {
		t.Fatalf("body = %v", out)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}

	in, _ := f.gen.inputs()
	if in.Scenario != "Two colleagues in an office" || in.ActionPrompt != "they laugh" || in.DurationSeconds != 6 {
		t.Fatalf("unexpected input %#v", in)
	}
	if in.PortraitA.MIME != "image/png" || in.PortraitB.MIME != "image/jpeg" || in.PortraitB.Filename != "b.jpg" {
		t.Fatalf("unexpected portraits %+v %+v", in.PortraitA.MIME, in.PortraitB.MIME)
	}
	if in.RequestID != resp.Header.Get("X-Request-ID") {
		t.Fatalf("request id not forwarded")
	}
}

func TestCreateGenerationRejectsBadUploads(t *testing.T) {
	f := newFixture(t, 0)
	tests := []struct {
		name   string
		fields map[string]string
		files  []part
		status int
	}{
		{
			name:   "missing portrait",
			fields: map[string]string{"scenario": "x"},
			files:  []part{{"portrait_a", "a.png", pngBytes}},
			status: http.StatusBadRequest,
		},
		{
			name:   "not an image",
			fields: map[string]string{"scenario": "x"},
			files:  []part{{"portrait_a", "a.png", pngBytes}, {"portrait_b", "b.txt", []byte("hello world")}},
			status: http.StatusBadRequest,
		},
		{
			name:   "too large",
			fields: map[string]string{"scenario": "x"},
			files:  []part{{"portrait_a", "a.png", append(append([]byte{}, pngBytes...), make([]byte, 2048)...)}, {"portrait_b", "b.jpg", jpegBytes}},
			status: http.StatusRequestEntityTooLarge,
		},
		{
			name:   "bad duration",
			fields: map[string]string{"scenario": "x", "duration": "eight"},
			files:  []part{{"portrait_a", "a.png", pngBytes}, {"portrait_b", "b.jpg", jpegBytes}},
			status: http.StatusBadRequest,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := multipartBody(t, tc.fields, tc.files...)
			resp, out := post(t, f.server.URL+"/v1/generations", body, ct)
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tc.status, out)
			}
			if _, ok := out["error"]; !ok {
				t.Fatalf("missing error envelope: %v", out)
			}
		})
	}

	resp, _ := post(t, f.server.URL+"/v1/generations", bytes.NewBufferString(`{}`), "application/json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-multipart status = %d", resp.StatusCode)
	}
}

func TestCreateGenerationMapsOrchestratorErrors(t *testing.T) {
	f := newFixture(t, 0)
	f.gen.failWith(domain.InvalidInput("scenario text is required"))
	body, ct := multipartBody(t, nil, part{"portrait_a", "a.png", pngBytes}, part{"portrait_b", "b.jpg", jpegBytes})
	resp, out := post(t, f.server.URL+"/v1/generations", body, ct)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	detail := out["error"].(map[string]any)
	if detail["code"] != "invalid_input" || !strings.Contains(detail["message"].(string), "scenario") {
		t.Fatalf("error = %v", detail)
	}
}

func TestCreateFromScene(t *testing.T) {
	f := newFixture(t, 0)
	body, ct := multipartBody(t, map[string]string{"scene_url": "https://cdn.example/s.png", "action_prompt": "wave"})
	resp, out := post(t, f.server.URL+"/v1/generations/from-scene", body, ct)
	if resp.StatusCode != http.StatusAccepted || out["job_id"] != "job-2" {
		t.Fatalf("status = %d body=%v", resp.StatusCode, out)
	}
	_, sc := f.gen.inputs()
	if sc.Scene.URL != "https://cdn.example/s.png" || sc.ActionPrompt != "wave" {
		t.Fatalf("unexpected scene input %#v", sc)
	}

	body, ct = multipartBody(t, map[string]string{"action_prompt": "wave"}, part{"scene", "s.png", pngBytes})
	resp, _ = post(t, f.server.URL+"/v1/generations/from-scene", body, ct)
	_, sc = f.gen.inputs()
	if resp.StatusCode != http.StatusAccepted || sc.Scene.MIME != "image/png" || len(sc.Scene.Data) == 0 {
		t.Fatalf("upload variant: status=%d mime=%q", resp.StatusCode, sc.Scene.MIME)
	}

	body, ct = multipartBody(t, map[string]string{"scene_url": "ftp://x"})
	resp, _ = post(t, f.server.URL+"/v1/generations/from-scene", body, ct)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad scene url status = %d", resp.StatusCode)
	}
}

func TestGetGeneration(t *testing.T) {
	f := newFixture(t, 0)
	f.gen.set(domain.GenerationJob{ID: "job-9", Stage: domain.StageComplete, VideoURL: "https://example/video.mp4"})

	resp, err := http.Get(f.server.URL + "/v1/generations/job-9")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var job domain.GenerationJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || job.Stage != domain.StageComplete || job.VideoURL != "https://example/video.mp4" {
		t.Fatalf("status=%d job=%#v", resp.StatusCode, job)
	}

	missing, err := http.Get(f.server.URL + "/v1/generations/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown job status = %d", missing.StatusCode)
	}
}

func TestCreditsAndHealth(t *testing.T) {
	f := newFixture(t, 0)
	resp, err := http.Get(f.server.URL + "/v1/credits")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["startingBalance"] != 1000 || out["consumedTotal"] != 1250 || out["remaining"] != 0 {
		t.Fatalf("credits = %v", out)
	}

	health, err := http.Get(f.server.URL + "/v1/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", health.StatusCode)
	}
}

func TestGenerationEndpointsAreRateLimited(t *testing.T) {
	f := newFixture(t, 1)
	for i, want := range []int{http.StatusAccepted, http.StatusTooManyRequests} {
		body, ct := multipartBody(t, map[string]string{"scenario": "x"}, part{"portrait_a", "a.png", pngBytes}, part{"portrait_b", "b.jpg", jpegBytes})
		resp, _ := post(t, f.server.URL+"/v1/generations", body, ct)
		if resp.StatusCode != want {
			t.Fatalf("request %d status = %d, want %d", i, resp.StatusCode, want)
		}
	}
	resp, err := http.Get(f.server.URL + "/v1/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reads must not be rate limited: %d", resp.StatusCode)
	}
}

func TestGenerationEventsStream(t *testing.T) {
	f := newFixture(t, 0)
	f.gen.set(domain.GenerationJob{ID: "job-7", Stage: domain.StageComposingScene})

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/generations/job-7/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if msg["type"] != "snapshot" {
		t.Fatalf("first message = %v", msg)
	}

	f.events.Notify(pipeline.Event{JobID: "job-7", Stage: domain.StageSynthesizingVideo, Message: "Video job queued"})
	f.gen.set(domain.GenerationJob{ID: "job-7", Stage: domain.StageComplete, VideoURL: "https://example/video.mp4"})
	f.events.Notify(pipeline.Event{JobID: "job-7", Stage: domain.StageComplete, Message: "Video ready"})

	var types []string
	var last map[string]any
	for {
		var m map[string]any
		if err := conn.ReadJSON(&m); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("unexpected read error: %v", err)
			}
			break
		}
		types = append(types, m["type"].(string))
		last = m
	}
	if strings.Join(types, ",") != "event,event,snapshot" {
		t.Fatalf("message types = %v", types)
	}
	job := last["job"].(map[string]any)
	if job["stage"] != "complete" || job["video_url"] != "https://example/video.mp4" {
		t.Fatalf("final snapshot = %v", job)
	}
}

func TestGenerationEventsUnknownJob(t *testing.T) {
	f := newFixture(t, 0)
	resp, err := http.Get(f.server.URL + "/v1/generations/missing/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
