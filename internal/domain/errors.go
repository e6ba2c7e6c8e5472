package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrTransient           = errors.New("remote service transient failure")
	ErrClientError         = errors.New("remote service client error")
	ErrBusinessFailure     = errors.New("remote service business failure")
	ErrTimeout             = errors.New("timed out waiting for remote job")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrJobFinalized        = errors.New("job already finalized")
)

// RemoteError describes a failed call against one of the generation APIs.
// Kind is one of ErrTransient, ErrClientError, ErrBusinessFailure or
// ErrTimeout.
type RemoteError struct {
	Kind       error
	Service    string
	StatusCode int
	Attempts   int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	if e.Service != "" {
		b.WriteString(e.Service)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("remote call failed")
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RemoteError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// InvalidInput wraps a validation message so that errors.Is(err, ErrInvalidInput) holds.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IsTransient reports whether err is eligible for another attempt.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// AsRemote extracts the RemoteError from an error chain.
func AsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
