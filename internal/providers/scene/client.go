// Package scene composes two portraits into one shared scene through the
// image compositing API.
package scene

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"scenecast/internal/credits"
	"scenecast/internal/domain"
	"scenecast/internal/infra"
	"scenecast/internal/providers/remote"
	"scenecast/internal/retry"
)

const (
	serviceName = "scene"

	AspectRatio = "16:9"
	Resolution  = "2K"
)

var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// ErrNoImage indicates a successful response that carried no usable image.
var ErrNoImage = errors.New("scene: response contained no image")

// Options configures the composition client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
	RetryDelays    []time.Duration
	HTTPClient     *http.Client
	Ledger         credits.Charger
	Logger         *infra.Logger
	// Wait overrides the backoff wait, for tests.
	Wait func(ctx context.Context, d time.Duration) error
}

// Client calls the compositing API. A call completes synchronously, so the
// HTTP timeout is generous.
type Client struct {
	caller   *remote.Caller
	endpoint string
	model    string
	policy   retry.Policy
	ledger   credits.Charger
	logger   *infra.Logger
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("scene: api key is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("scene: base url is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "seedream-4.0"
	}
	logger := infra.Component(opts.Logger, serviceName)
	return &Client{
		caller: &remote.Caller{
			Service:    serviceName,
			APIKey:     strings.TrimSpace(opts.APIKey),
			HTTPClient: httpClient,
		},
		endpoint: baseURL + "/images/generations",
		model:    model,
		policy:   retry.Policy{Delays: opts.RetryDelays, Logger: logger, Wait: opts.Wait},
		ledger:   opts.Ledger,
		logger:   logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// ComposeScene builds one composite image from two portraits. Transient
// failures are retried; the ledger is charged once, after success.
func (c *Client) ComposeScene(ctx context.Context, req Request) (*Result, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	payload := composeRequest{
		Model:       c.model,
		Prompt:      BuildPrompt(req.Scenario),
		ImageInput:  []string{portraitInput(req.PortraitA), portraitInput(req.PortraitB)},
		AspectRatio: AspectRatio,
		Resolution:  Resolution,
		NumImages:   1,
	}

	attempts := 0
	resp, err := retry.Do(ctx, c.policy, func(ctx context.Context, attempt int) (composeResponse, error) {
		attempts = attempt
		c.logger.Debug().Str("request_id", req.RequestID).Int("attempt", attempt).Msg("scene: submitting composition")
		var out composeResponse
		err := c.caller.Do(ctx, http.MethodPost, c.endpoint, payload, &out)
		return out, err
	})
	if err != nil {
		c.logger.Error().Err(err).Str("request_id", req.RequestID).Int("attempts", attempts).Msg("scene: composition failed")
		return nil, err
	}

	image, shape, ok := extractImage(resp)
	if !ok {
		return nil, &domain.RemoteError{
			Kind:     domain.ErrBusinessFailure,
			Service:  serviceName,
			Attempts: attempts,
			Message:  "no image under data[], images[] or url",
			Err:      ErrNoImage,
		}
	}

	cost := creditsOf(resp)
	if cost > 0 && c.ledger != nil {
		if _, err := c.ledger.Charge(ctx, cost); err != nil {
			c.logger.Warn().Err(err).Int64("credits", cost).Msg("scene: recording charge failed")
		}
	}
	c.logger.Info().
		Str("request_id", req.RequestID).
		Str("shape", shape).
		Int("attempts", attempts).
		Int64("credits", cost).
		Msg("scene: composition succeeded")

	return &Result{Image: image, Credits: cost, Attempts: attempts, Shape: shape}, nil
}

// Validate rejects requests that could never succeed remotely.
func Validate(req Request) error {
	if err := validatePortrait("portrait A", req.PortraitA); err != nil {
		return err
	}
	if err := validatePortrait("portrait B", req.PortraitB); err != nil {
		return err
	}
	if NormalizeText(req.Scenario) == "" {
		return domain.InvalidInput("scenario text is required")
	}
	return nil
}

func validatePortrait(name string, p Portrait) error {
	if strings.TrimSpace(p.URL) != "" {
		if !strings.HasPrefix(p.URL, "https://") && !strings.HasPrefix(p.URL, "http://") {
			return domain.InvalidInput("%s url must be http(s)", name)
		}
		return nil
	}
	if len(p.Data) == 0 {
		return domain.InvalidInput("%s is missing", name)
	}
	mime := SniffMIME(p.Data, p.MIME)
	if !allowedMIME[mime] {
		return domain.InvalidInput("%s has unsupported type %q", name, mime)
	}
	return nil
}

// SniffMIME trusts the content over the declared type.
func SniffMIME(data []byte, declared string) string {
	sniffed := http.DetectContentType(data)
	if allowedMIME[sniffed] {
		return sniffed
	}
	declared = strings.ToLower(strings.TrimSpace(strings.Split(declared, ";")[0]))
	if declared == "image/jpg" {
		declared = "image/jpeg"
	}
	if sniffed == "application/octet-stream" && allowedMIME[declared] {
		return declared
	}
	return sniffed
}

func portraitInput(p Portrait) string {
	if u := strings.TrimSpace(p.URL); u != "" {
		return u
	}
	return DataURI(SniffMIME(p.Data, p.MIME), p.Data)
}
