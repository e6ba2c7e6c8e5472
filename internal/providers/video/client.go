// Package video turns a still scene into a short clip through the video
// generation API: one create call followed by status polling.
package video

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"scenecast/internal/credits"
	"scenecast/internal/domain"
	"scenecast/internal/infra"
	"scenecast/internal/providers/remote"
	"scenecast/internal/retry"
)

const (
	serviceName = "video"

	AspectRatio     = "16:9"
	Resolution      = "1080p"
	DefaultDuration = 8
)

// AllowedDurations lists the clip lengths the API accepts, in seconds.
var AllowedDurations = []int{4, 6, 8}

// ErrMissingJobID indicates a create response without a job identifier.
var ErrMissingJobID = errors.New("video: create response has no job id")

// ErrMissingVideo indicates a completed job that reported no video locator.
var ErrMissingVideo = errors.New("video: completed job has no video url")

// Options configures the video client.
type Options struct {
	APIKey          string
	BaseURL         string
	Model           string
	RequestTimeout  time.Duration
	RetryDelays     []time.Duration
	PollInterval    time.Duration
	PollTimeout     time.Duration
	MaxPollFailures int
	HTTPClient      *http.Client
	Ledger          credits.Charger
	Logger          *infra.Logger
	// Wait overrides the create backoff wait, for tests.
	Wait func(ctx context.Context, d time.Duration) error
}

// Client drives one remote video job per SynthesizeVideo call.
type Client struct {
	caller      *remote.Caller
	createURL   string
	statusURL   string
	model       string
	createRetry retry.Policy
	poll        retry.PollPolicy
	ledger      credits.Charger
	logger      *infra.Logger
}

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("video: api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("video: base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "veo-3.1"
	}
	logger := infra.Component(opts.Logger, serviceName)
	return &Client{
		caller: &remote.Caller{
			Service:    serviceName,
			APIKey:     strings.TrimSpace(opts.APIKey),
			HTTPClient: httpClient,
		},
		createURL:   baseURL + "/videos/generations",
		statusURL:   baseURL + "/videos/generations/status",
		model:       model,
		createRetry: retry.Policy{Delays: opts.RetryDelays, Logger: logger, Wait: opts.Wait},
		poll: retry.PollPolicy{
			Interval:               opts.PollInterval,
			Timeout:                opts.PollTimeout,
			MaxConsecutiveFailures: opts.MaxPollFailures,
			Service:                serviceName,
			Logger:                 logger,
		},
		ledger: opts.Ledger,
		logger: logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// SynthesizeVideo submits the job and polls it to a terminal state. The
// ledger is charged once, after the job completes.
func (c *Client) SynthesizeVideo(ctx context.Context, req Request) (*Result, error) {
	duration, err := validate(req)
	if err != nil {
		return nil, err
	}

	jobID, err := c.create(ctx, req, duration)
	if err != nil {
		return nil, err
	}
	log := c.logger.With().Str("remote_job_id", jobID).Str("request_id", req.RequestID).Logger()
	log.Info().Msg("video: job created")

	final, polls, err := retry.Poll(ctx, c.poll, c.checkStatus(jobID, req.OnStatus))
	if err != nil {
		log.Error().Err(err).Int("polls", polls).Msg("video: job did not complete")
		return nil, err
	}

	cost := final.credits()
	if cost > 0 && c.ledger != nil {
		if _, err := c.ledger.Charge(ctx, cost); err != nil {
			log.Warn().Err(err).Int64("credits", cost).Msg("video: recording charge failed")
		}
	}
	log.Info().Int("polls", polls).Int64("credits", cost).Msg("video: job completed")

	return &Result{
		VideoURL:    final.videoURL(),
		RemoteJobID: jobID,
		Credits:     cost,
		Polls:       polls,
	}, nil
}

func (c *Client) create(ctx context.Context, req Request, duration int) (string, error) {
	payload := createRequest{
		Model:         c.model,
		Prompt:        strings.TrimSpace(req.Prompt),
		ImageURL:      strings.TrimSpace(req.ImageLocator),
		GenerateAudio: true,
		Duration:      strconv.Itoa(duration),
		AspectRatio:   AspectRatio,
		Resolution:    Resolution,
	}
	attempts := 0
	resp, err := retry.Do(ctx, c.createRetry, func(ctx context.Context, attempt int) (createResponse, error) {
		attempts = attempt
		var out createResponse
		err := c.caller.Do(ctx, http.MethodPost, c.createURL, payload, &out)
		return out, err
	})
	if err != nil {
		c.logger.Error().Err(err).Str("request_id", req.RequestID).Int("attempts", attempts).Msg("video: create failed")
		return "", err
	}
	id := resp.jobID()
	if id == "" {
		return "", &domain.RemoteError{
			Kind:     domain.ErrBusinessFailure,
			Service:  serviceName,
			Attempts: attempts,
			Message:  "create response carried no job id",
			Err:      ErrMissingJobID,
		}
	}
	return id, nil
}

func (c *Client) checkStatus(jobID string, onStatus func(Status)) retry.Check[statusResponse] {
	endpoint := c.statusURL + "?id=" + url.QueryEscape(jobID)
	var last Status
	return func(ctx context.Context) (statusResponse, bool, error) {
		var out statusResponse
		if err := c.caller.Do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
			return out, false, err
		}
		status := parseStatus(out.Status)
		if status != last {
			last = status
			c.logger.Debug().Str("remote_job_id", jobID).Str("status", string(status)).Msg("video: status changed")
			if onStatus != nil {
				onStatus(status)
			}
		}
		switch {
		case status == StatusCompleted:
			if out.videoURL() == "" {
				return out, false, &domain.RemoteError{
					Kind:    domain.ErrBusinessFailure,
					Service: serviceName,
					Message: "job " + jobID + " completed without a video url",
					Err:     ErrMissingVideo,
				}
			}
			return out, true, nil
		case status.Failed():
			msg := remote.RawMessageText(out.Error)
			if msg == "" {
				msg = "job " + jobID + " reported status " + string(status)
			}
			return out, false, &domain.RemoteError{
				Kind:    domain.ErrBusinessFailure,
				Service: serviceName,
				Message: msg,
			}
		default:
			return out, false, nil
		}
	}
}

func validate(req Request) (int, error) {
	locator := strings.TrimSpace(req.ImageLocator)
	if locator == "" {
		return 0, domain.InvalidInput("source image is required")
	}
	if !strings.HasPrefix(locator, "https://") && !strings.HasPrefix(locator, "http://") && !strings.HasPrefix(locator, "data:image/") {
		return 0, domain.InvalidInput("source image must be an http(s) url or image data uri")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return 0, domain.InvalidInput("action prompt is required")
	}
	duration := req.DurationSeconds
	if duration == 0 {
		return DefaultDuration, nil
	}
	if !ValidDuration(duration) {
		return 0, domain.InvalidInput("duration %ds is not one of %v", duration, AllowedDurations)
	}
	return duration, nil
}

// ValidDuration reports whether seconds is an accepted clip length.
func ValidDuration(seconds int) bool {
	return slices.Contains(AllowedDurations, seconds)
}
