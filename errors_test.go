package fitsync_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperengineering/fitsync"
)

func TestSentinelErrors_ErrorsIs(t *testing.T) {
	tests := []struct {
		name     string
		sentinel error
	}{
		{"ErrNotFound", fitsync.ErrNotFound},
		{"ErrOffline", fitsync.ErrOffline},
		{"ErrNoRemote", fitsync.ErrNoRemote},
		{"ErrUnknownRoute", fitsync.ErrUnknownRoute},
		{"ErrTokenExpired", fitsync.ErrTokenExpired},
		{"ErrMalformedResponse", fitsync.ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("operation failed: %w", tt.sentinel)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(wrapped, %v) = false, want true", tt.sentinel)
			}
		})
	}
}

func TestValidationError_ErrorFormat(t *testing.T) {
	err := &fitsync.ValidationError{Field: "LocalPath", Message: "required: path to SQLite database"}
	want := "config: LocalPath: required: path to SQLite database"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	var ve *fitsync.ValidationError
	if !errors.As(fmt.Errorf("wrap: %w", err), &ve) || ve.Field != "LocalPath" {
		t.Errorf("errors.As failed to extract ValidationError")
	}
}

func TestSyncError_ErrorFormat(t *testing.T) {
	inner := errors.New("connection refused")
	err := &fitsync.SyncError{Operation: "set_create", StatusCode: 503, Err: inner}
	want := "sync: set_create failed (status 503): connection refused"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, inner) {
		t.Error("errors.Is(syncErr, inner) = false, want true (Unwrap should expose inner)")
	}
}

func TestClassify(t *testing.T) {
	status := func(code int) error {
		return &fitsync.SyncError{Operation: "workout_create", StatusCode: code, Err: errors.New("x")}
	}

	tests := []struct {
		name string
		err  error
		want fitsync.FailureClass
	}{
		{"bad request", status(400), fitsync.FailurePermanent},
		{"unauthorized", status(401), fitsync.FailurePermanent},
		{"not found", status(404), fitsync.FailurePermanent},
		{"conflict", status(409), fitsync.FailurePermanent},
		{"unprocessable", status(422), fitsync.FailurePermanent},
		{"request timeout", status(408), fitsync.FailureTransient},
		{"too many requests", status(429), fitsync.FailureTransient},
		{"server error", status(500), fitsync.FailureTransient},
		{"unavailable", status(503), fitsync.FailureTransient},
		{"network", &fitsync.SyncError{Operation: "x", Err: errors.New("dial tcp: refused")}, fitsync.FailureTransient},
		{"deadline", context.DeadlineExceeded, fitsync.FailureTransient},
		{"wrapped 4xx", fmt.Errorf("replay: %w", status(410)), fitsync.FailurePermanent},
		{"unknown route", fitsync.ErrUnknownRoute, fitsync.FailurePermanent},
		{"unresolved dependency", fitsync.ErrUnresolvedDependency, fitsync.FailurePermanent},
		{"created without id", &fitsync.SyncError{Operation: "routine_create", StatusCode: 201,
			Err: fmt.Errorf("%w: create response has no id", fitsync.ErrMalformedResponse)}, fitsync.FailurePermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fitsync.Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
