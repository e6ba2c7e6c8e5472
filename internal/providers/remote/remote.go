// Package remote performs single JSON round-trips against the generation APIs
// and classifies failures as transient or permanent.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"scenecast/internal/domain"
)

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 2048

// Caller issues authenticated JSON requests for one service.
type Caller struct {
	Service    string
	APIKey     string
	HTTPClient *http.Client
}

// Do sends body (nil for none) and decodes a successful JSON response into
// out. Errors are *domain.RemoteError unless the context ended first.
func (c *Caller) Do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", c.Service, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.Service, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &domain.RemoteError{Kind: domain.ErrTransient, Service: c.Service, Message: "network failure", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &domain.RemoteError{Kind: domain.ErrTransient, Service: c.Service, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	if kind := Classify(resp.StatusCode); kind != nil {
		return &domain.RemoteError{
			Kind:       kind,
			Service:    c.Service,
			StatusCode: resp.StatusCode,
			Message:    ErrorMessage(raw),
		}
	}

	if !LooksLikeJSON(raw) {
		// Gateways answer timeouts with HTML pages and a 2xx status.
		return &domain.RemoteError{
			Kind:       domain.ErrTransient,
			Service:    c.Service,
			StatusCode: resp.StatusCode,
			Message:    "non-JSON response: " + truncate(string(raw)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.RemoteError{
			Kind:       domain.ErrTransient,
			Service:    c.Service,
			StatusCode: resp.StatusCode,
			Message:    "malformed response body",
			Err:        err,
		}
	}
	return nil
}

// Classify maps a status code to an error kind, or nil for success.
// 408 and 429 are retried alongside 5xx; every other 4xx is permanent.
func Classify(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return domain.ErrTransient
	case status >= 500:
		return domain.ErrTransient
	case status >= 400:
		return domain.ErrClientError
	default:
		return domain.ErrTransient
	}
}

// LooksLikeJSON reports whether raw starts like a JSON object or array.
func LooksLikeJSON(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	return trimmed[0] == '{' || trimmed[0] == '['
}

// ErrorMessage extracts a human readable message from an error body. It
// understands {"error":{"message":..}}, {"error":".."}, {"message":".."} and
// falls back to the raw text.
func ErrorMessage(raw []byte) string {
	if !LooksLikeJSON(raw) {
		return truncate(strings.TrimSpace(string(raw)))
	}
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return truncate(strings.TrimSpace(string(raw)))
	}
	if msg := RawMessageText(envelope.Error); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(envelope.Message); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(envelope.Detail); msg != "" {
		return msg
	}
	return truncate(strings.TrimSpace(string(raw)))
}

// RawMessageText reads either a JSON string or an object with a message field.
func RawMessageText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		msg := strings.TrimSpace(obj.Message)
		if msg != "" && obj.Code != "" {
			return fmt.Sprintf("%s (%s)", msg, obj.Code)
		}
		return msg
	}
	return ""
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	return s[:maxErrorBody] + "..."
}
