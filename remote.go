package fitsync

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Remote is the backend REST API the processor replays mutations against.
// internal/sync provides the HTTP implementation.
type Remote interface {
	// Send performs one replay. A failure that carries an HTTP status must
	// be a *SyncError so it can be classified.
	Send(ctx context.Context, call Call) (*Ack, error)

	// Ping checks backend reachability.
	Ping(ctx context.Context) error
}

// Call is a resolved replay of one queue item.
type Call struct {
	Entity         EntityType
	Action         Action
	LocalID        string
	RemoteID       string
	ParentRemoteID string
	Payload        Payload
	IdempotencyKey string
}

// Ack is a successful remote response.
type Ack struct {
	// RemoteID is the server-assigned id, set for CREATE responses.
	RemoteID   string
	StatusCode int
	Body       []byte
}

type routeKey struct {
	entity EntityType
	action Action
}

// route is a method and a path pattern. A %s in the pattern receives the
// remote id (UPDATE/DELETE) or the parent's remote id (child CREATE).
type route struct {
	method  string
	pattern string
	parent  bool
}

var routes = map[routeKey]route{
	{EntityWorkout, ActionCreate}: {http.MethodPost, "/strength/workouts", false},
	{EntityWorkout, ActionUpdate}: {http.MethodPatch, "/strength/workouts/%s", false},
	{EntityWorkout, ActionDelete}: {http.MethodDelete, "/strength/workouts/%s", false},

	{EntityWorkoutExercise, ActionCreate}: {http.MethodPost, "/strength/workouts/%s/exercises", true},
	{EntityWorkoutExercise, ActionUpdate}: {http.MethodPatch, "/strength/workout-exercises/%s", false},
	{EntityWorkoutExercise, ActionDelete}: {http.MethodDelete, "/strength/workout-exercises/%s", false},

	{EntitySet, ActionCreate}: {http.MethodPost, "/strength/workout-exercises/%s/sets", true},
	{EntitySet, ActionUpdate}: {http.MethodPatch, "/strength/sets/%s", false},
	{EntitySet, ActionDelete}: {http.MethodDelete, "/strength/sets/%s", false},

	{EntityRoutine, ActionCreate}: {http.MethodPost, "/routines", false},
	{EntityRoutine, ActionUpdate}: {http.MethodPatch, "/routines/%s", false},
	{EntityRoutine, ActionDelete}: {http.MethodDelete, "/routines/%s", false},
}

// HasRoute reports whether (entity, action) maps to a remote operation.
func HasRoute(entity EntityType, action Action) bool {
	_, ok := routes[routeKey{entity, action}]
	return ok
}

// NeedsParent reports whether the route embeds the parent's remote id.
func NeedsParent(entity EntityType, action Action) bool {
	return routes[routeKey{entity, action}].parent
}

// Route resolves the HTTP method and path of the call.
func (c Call) Route() (method, path string, err error) {
	r, ok := routes[routeKey{c.Entity, c.Action}]
	if !ok {
		return "", "", fmt.Errorf("%s %s: %w", c.Entity, c.Action, ErrUnknownRoute)
	}

	switch {
	case r.parent:
		if c.ParentRemoteID == "" {
			return "", "", fmt.Errorf("%s %s needs a parent remote id: %w", c.Entity, c.Action, ErrUnresolvedDependency)
		}
		return r.method, fmt.Sprintf(r.pattern, url.PathEscape(c.ParentRemoteID)), nil
	case c.Action == ActionCreate:
		return r.method, r.pattern, nil
	default:
		if c.RemoteID == "" {
			return "", "", fmt.Errorf("%s %s needs a remote id: %w", c.Entity, c.Action, ErrUnresolvedDependency)
		}
		return r.method, fmt.Sprintf(r.pattern, url.PathEscape(c.RemoteID)), nil
	}
}

// TokenSource supplies the bearer token attached to remote calls. Token
// issuance and refresh happen outside the engine.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token returns the token.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }
