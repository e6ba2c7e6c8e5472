// Package pipeline sequences scene composition and video synthesis for one
// run, keeps the run's job record current and reports progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"scenecast/internal/domain"
	"scenecast/internal/infra"
	"scenecast/internal/jobs"
	"scenecast/internal/providers/scene"
	"scenecast/internal/providers/video"
	"scenecast/internal/storage"
)

// SceneComposer produces the composite still.
type SceneComposer interface {
	ComposeScene(ctx context.Context, req scene.Request) (*scene.Result, error)
}

// VideoSynthesizer animates a still into a clip.
type VideoSynthesizer interface {
	SynthesizeVideo(ctx context.Context, req video.Request) (*video.Result, error)
}

// CreditReader exposes the ledger balance for the optional spending cap.
type CreditReader interface {
	Snapshot() domain.CreditSnapshot
}

// ArtifactSink stores inline artifacts and returns their public URL.
type ArtifactSink interface {
	SaveArtifact(ctx context.Context, key string, data []byte) (string, error)
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Scene     SceneComposer
	Video     VideoSynthesizer
	Jobs      jobs.Store
	Credits   CreditReader
	Artifacts ArtifactSink
	Observer  Observer
	// EnforceCreditCap refuses to start a stage once nothing remains.
	EnforceCreditCap bool
	Logger           *infra.Logger
	Now              func() time.Time
}

// Input is a full two-stage run.
type Input struct {
	PortraitA       scene.Portrait
	PortraitB       scene.Portrait
	Scenario        string
	ActionPrompt    string
	DurationSeconds int
	RequestID       string
}

// SceneInput starts from an existing scene and skips composition.
type SceneInput struct {
	Scene           scene.ImageRef
	Scenario        string
	ActionPrompt    string
	DurationSeconds int
	RequestID       string
}

// Timing records how long each stage took.
type Timing struct {
	Scene time.Duration
	Video time.Duration
	Total time.Duration
}

// Result is the terminal outcome of a run. On failure it still carries
// whatever the completed stages produced.
type Result struct {
	JobID          string
	Stage          domain.Stage
	CompositeImage string
	VideoURL       string
	RemoteJobID    string
	SceneCredits   int64
	VideoCredits   int64
	Timing         Timing
	Error          string
	ErrorStage     domain.Stage
}

// Orchestrator runs pipelines. It is safe for concurrent use; runs share
// nothing but the ledger behind the clients.
type Orchestrator struct {
	scene     SceneComposer
	video     VideoSynthesizer
	jobs      jobs.Store
	credits   CreditReader
	artifacts ArtifactSink
	observer  Observer
	enforce   bool
	logger    *infra.Logger
	now       func() time.Time

	running sync.WaitGroup
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Scene == nil || opts.Video == nil {
		return nil, errors.New("pipeline: scene and video clients are required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("pipeline: job store is required")
	}
	if opts.EnforceCreditCap && opts.Credits == nil {
		return nil, errors.New("pipeline: credit cap requires a credit reader")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		scene:     opts.Scene,
		video:     opts.Video,
		jobs:      opts.Jobs,
		credits:   opts.Credits,
		artifacts: opts.Artifacts,
		observer:  opts.Observer,
		enforce:   opts.EnforceCreditCap,
		logger:    infra.Component(opts.Logger, "pipeline"),
		now:       now,
	}, nil
}

// plan is a validated run description shared by both entry points.
type plan struct {
	compose      *scene.Request
	existing     scene.ImageRef
	actionPrompt string
	duration     int
	requestID    string
}

// Run executes a full run and blocks until it is terminal. The error, when
// non-nil, is the originating stage error; the Result is returned either way
// once the run has started.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Result, error) {
	p, err := planFor(in)
	if err != nil {
		return nil, err
	}
	r, err := o.begin(ctx, p)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, r, p)
}

// Start validates in, records the pending job and runs it in the background
// under ctx. It returns the job id immediately.
func (o *Orchestrator) Start(ctx context.Context, in Input) (string, error) {
	p, err := planFor(in)
	if err != nil {
		return "", err
	}
	return o.startPlan(ctx, p)
}

// RunFromScene executes only the video stage on a caller supplied scene.
func (o *Orchestrator) RunFromScene(ctx context.Context, in SceneInput) (*Result, error) {
	p, err := planFromScene(in)
	if err != nil {
		return nil, err
	}
	r, err := o.begin(ctx, p)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, r, p)
}

// StartFromScene is the background variant of RunFromScene.
func (o *Orchestrator) StartFromScene(ctx context.Context, in SceneInput) (string, error) {
	p, err := planFromScene(in)
	if err != nil {
		return "", err
	}
	return o.startPlan(ctx, p)
}

// Job returns the current record of a run.
func (o *Orchestrator) Job(ctx context.Context, id string) (domain.GenerationJob, error) {
	return o.jobs.Get(ctx, id)
}

func (o *Orchestrator) startPlan(ctx context.Context, p plan) (string, error) {
	r, err := o.begin(ctx, p)
	if err != nil {
		return "", err
	}
	o.running.Add(1)
	go func() {
		defer o.running.Done()
		defer func() {
			if rec := recover(); rec != nil {
				o.logger.Error().Str("job_id", r.job.ID).Interface("panic", rec).Msg("pipeline: run panicked")
				r.fail(ctx, r.job.Stage, fmt.Errorf("pipeline: internal error: %v", rec))
			}
		}()
		_, _ = o.execute(ctx, r, p)
	}()
	return r.job.ID, nil
}

// Wait blocks until every background run has written its final record or
// ctx is done. Callers cancel the run context first.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) begin(ctx context.Context, p plan) (*run, error) {
	now := o.now()
	r := &run{
		o:     o,
		start: now,
		job: domain.GenerationJob{
			ID:        jobs.NewID(),
			Stage:     domain.StagePending,
			Message:   "Run accepted",
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if p.compose == nil {
		log := o.logger.With().Str("job_id", r.job.ID).Logger()
		r.job.CompositeImageURL = o.publishComposite(ctx, r.job.ID, p.existing, &log)
	}
	if err := o.jobs.Save(ctx, r.job); err != nil {
		return nil, fmt.Errorf("pipeline: record job: %w", err)
	}
	r.emit()
	return r, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run, p plan) (*Result, error) {
	log := o.logger.With().Str("job_id", r.job.ID).Str("request_id", p.requestID).Logger()

	image := p.existing
	if p.compose != nil {
		if err := o.checkCredits(); err != nil {
			return r.fail(ctx, domain.StageComposingScene, err)
		}
		r.transition(ctx, domain.StageComposingScene, "Composing scene from both portraits")
		sceneStart := o.now()
		req := *p.compose
		req.RequestID = p.requestID
		res, err := o.scene.ComposeScene(ctx, req)
		r.result.Timing.Scene = o.now().Sub(sceneStart)
		if err != nil {
			log.Error().Err(err).Msg("pipeline: scene stage failed")
			return r.fail(ctx, domain.StageComposingScene, err)
		}
		r.result.SceneCredits = res.Credits
		image = res.Image
		r.job.CompositeImageURL = o.publishComposite(ctx, r.job.ID, res.Image, &log)
		r.transition(ctx, domain.StageComposingScene, "Scene composed")
	}

	if err := o.checkCredits(); err != nil {
		return r.fail(ctx, domain.StageSynthesizingVideo, err)
	}
	r.transition(ctx, domain.StageSynthesizingVideo, "Submitting video job")
	videoStart := o.now()
	res, err := o.video.SynthesizeVideo(ctx, video.Request{
		ImageLocator:    image.Locator(),
		Prompt:          p.actionPrompt,
		DurationSeconds: p.duration,
		RequestID:       p.requestID,
		OnStatus: func(s video.Status) {
			r.transition(ctx, domain.StageSynthesizingVideo, "Video job "+string(s))
		},
	})
	r.result.Timing.Video = o.now().Sub(videoStart)
	if err != nil {
		log.Error().Err(err).Msg("pipeline: video stage failed")
		return r.fail(ctx, domain.StageSynthesizingVideo, err)
	}
	r.result.VideoCredits = res.Credits
	r.job.VideoURL = res.VideoURL
	r.job.RemoteJobID = res.RemoteJobID
	r.transition(ctx, domain.StageComplete, "Video ready")
	log.Info().
		Dur("scene", r.result.Timing.Scene).
		Dur("video", r.result.Timing.Video).
		Int64("credits", r.result.SceneCredits+r.result.VideoCredits).
		Msg("pipeline: run complete")
	return r.finish(), nil
}

// publishComposite stores an inline scene and returns the locator to record
// on the job. Without a sink the data URI itself is recorded. The video API
// always receives the original locator.
func (o *Orchestrator) publishComposite(ctx context.Context, jobID string, img scene.ImageRef, log *infra.Logger) string {
	if !img.Inline() || o.artifacts == nil {
		return img.Locator()
	}
	key := "composites/" + jobID + storage.ExtensionFor(img.MIME)
	url, err := o.artifacts.SaveArtifact(ctx, key, img.Data)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("pipeline: storing composite failed, using inline data")
		return img.Locator()
	}
	return url
}

func (o *Orchestrator) checkCredits() error {
	if !o.enforce {
		return nil
	}
	if snap := o.credits.Snapshot(); snap.Remaining <= 0 {
		return fmt.Errorf("%w: %d of %d consumed", domain.ErrInsufficientCredits, snap.ConsumedTotal, snap.StartingBalance)
	}
	return nil
}

// run is the mutable state of one invocation. It is owned by the goroutine
// executing the run.
type run struct {
	o      *Orchestrator
	start  time.Time
	job    domain.GenerationJob
	result Result
}

// transition records the new stage before notifying, so a job is always
// queryable in the state an observer was told about.
func (r *run) transition(ctx context.Context, stage domain.Stage, msg string) {
	if r.job.Stage.Terminal() {
		return
	}
	r.job.Stage = stage
	r.job.Message = msg
	r.job.UpdatedAt = r.o.now()
	if err := r.o.jobs.Save(ctx, r.job); err != nil {
		r.o.logger.Warn().Err(err).Str("job_id", r.job.ID).Str("stage", string(stage)).Msg("pipeline: saving job failed")
	}
	r.emit()
}

func (r *run) emit() {
	if r.o.observer == nil {
		return
	}
	r.o.observer.Notify(Event{
		JobID:     r.job.ID,
		Stage:     r.job.Stage,
		Label:     StageLabel(r.job.Stage),
		Message:   r.job.Message,
		Timestamp: r.job.UpdatedAt,
	})
}

func (r *run) fail(ctx context.Context, stage domain.Stage, err error) (*Result, error) {
	if r.job.Stage.Terminal() {
		return r.finish(), err
	}
	r.job.Error = err.Error()
	r.job.ErrorStage = stage
	// A cancelled run context must not prevent the terminal record.
	r.transition(context.WithoutCancel(ctx), domain.StageError, "Failed while "+strings.ToLower(StageLabel(stage))+": "+err.Error())
	return r.finish(), err
}

func (r *run) finish() *Result {
	res := r.result
	res.JobID = r.job.ID
	res.Stage = r.job.Stage
	res.CompositeImage = r.job.CompositeImageURL
	res.VideoURL = r.job.VideoURL
	res.RemoteJobID = r.job.RemoteJobID
	res.Error = r.job.Error
	res.ErrorStage = r.job.ErrorStage
	res.Timing.Total = r.o.now().Sub(r.start)
	return &res
}

func planFor(in Input) (plan, error) {
	req := scene.Request{PortraitA: in.PortraitA, PortraitB: in.PortraitB, Scenario: in.Scenario}
	if err := scene.Validate(req); err != nil {
		return plan{}, err
	}
	duration, err := checkDuration(in.DurationSeconds)
	if err != nil {
		return plan{}, err
	}
	prompt := strings.TrimSpace(in.ActionPrompt)
	if prompt == "" {
		prompt = DefaultActionPrompt(in.Scenario)
	}
	return plan{compose: &req, actionPrompt: prompt, duration: duration, requestID: in.RequestID}, nil
}

func planFromScene(in SceneInput) (plan, error) {
	if in.Scene.Locator() == "" {
		return plan{}, domain.InvalidInput("scene image is required")
	}
	duration, err := checkDuration(in.DurationSeconds)
	if err != nil {
		return plan{}, err
	}
	prompt := strings.TrimSpace(in.ActionPrompt)
	if prompt == "" {
		if scene.NormalizeText(in.Scenario) == "" {
			return plan{}, domain.InvalidInput("action prompt or scenario is required")
		}
		prompt = DefaultActionPrompt(in.Scenario)
	}
	return plan{existing: in.Scene, actionPrompt: prompt, duration: duration, requestID: in.RequestID}, nil
}

func checkDuration(seconds int) (int, error) {
	if seconds == 0 {
		return video.DefaultDuration, nil
	}
	if !video.ValidDuration(seconds) {
		return 0, domain.InvalidInput("duration %ds is not one of %v", seconds, video.AllowedDurations)
	}
	return seconds, nil
}
