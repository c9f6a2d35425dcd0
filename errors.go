package fitsync

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the fitsync client.
var (
	// ErrNotFound is returned when a local record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrOffline is returned when a manual sync is requested while disconnected.
	ErrOffline = errors.New("operation unavailable while offline")

	// ErrNoRemote is returned when no remote API is configured.
	ErrNoRemote = errors.New("no remote API configured")

	// ErrUnknownRoute is returned when an (entity, action) pair has no remote mapping.
	ErrUnknownRoute = errors.New("no remote route for entity/action")

	// ErrUnknownPayload is returned when a queued payload has an unknown tag.
	ErrUnknownPayload = errors.New("unknown mutation payload")

	// ErrInvalidRecord is returned when a local write fails validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrTokenExpired is returned when the configured bearer token has expired.
	ErrTokenExpired = errors.New("auth token expired")

	// ErrUnresolvedDependency is returned when a mutation's target or parent
	// will never receive a remote id.
	ErrUnresolvedDependency = errors.New("dependency has no remote id and no pending create")

	// ErrMalformedResponse is returned when the API accepts a call but its
	// response cannot be used, such as a create without an id.
	ErrMalformedResponse = errors.New("malformed API response")
)

// ValidationError is returned when configuration or record validation fails.
// Extractable via errors.As().
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// SyncError is returned when a remote call fails with details.
// Extractable via errors.As(). Supports Unwrap().
type SyncError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync: %s failed (status %d): %v", e.Operation, e.StatusCode, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// FailureClass tells the processor what to do with a failed replay.
type FailureClass int

const (
	// FailureTransient leaves the item queued for a later pass.
	FailureTransient FailureClass = iota
	// FailurePermanent discards the item after one attempt.
	FailurePermanent
)

func (c FailureClass) String() string {
	if c == FailurePermanent {
		return "permanent"
	}
	return "transient"
}

// Classify maps a replay error to a failure class. Client errors (4xx) are
// permanent except 408 and 429, which are timeouts and throttling. A 2xx with
// a malformed body is permanent since replaying it gets the same answer.
// Network errors, timeouts, 5xx and anything without a status are transient.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureTransient
	}
	if errors.Is(err, ErrUnknownRoute) || errors.Is(err, ErrUnknownPayload) || errors.Is(err, ErrUnresolvedDependency) ||
		errors.Is(err, ErrMalformedResponse) {
		return FailurePermanent
	}

	var syncErr *SyncError
	if errors.As(err, &syncErr) && syncErr.StatusCode >= 400 && syncErr.StatusCode < 500 {
		switch syncErr.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return FailureTransient
		}
		return FailurePermanent
	}
	return FailureTransient
}

// statusCodeOf extracts the HTTP status from a SyncError, or 0.
func statusCodeOf(err error) int {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.StatusCode
	}
	return 0
}
