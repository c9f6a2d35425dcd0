package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/fitsync"
)

func TestHTTPClient_Send_CreateWorkout(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/strength/workouts" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "key-1" {
			t.Errorf("Idempotency-Key = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 77}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, fitsync.StaticToken("test-token"))
	ack, err := client.Send(context.Background(), fitsync.Call{
		Entity:         fitsync.EntityWorkout,
		Action:         fitsync.ActionCreate,
		LocalID:        "W1",
		Payload:        fitsync.WorkoutPayload{Name: "Push day", StartedAt: time.Now()},
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.RemoteID != "77" {
		t.Errorf("RemoteID = %q, want %q", ack.RemoteID, "77")
	}
	if ack.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", ack.StatusCode, http.StatusCreated)
	}
	if gotBody["name"] != "Push day" {
		t.Errorf("body name = %v", gotBody["name"])
	}
	if gotBody["client_id"] != "W1" {
		t.Errorf("body client_id = %v", gotBody["client_id"])
	}
}

func TestHTTPClient_Send_ChildCreateUsesParentPath(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/strength/workout-exercises/501/sets" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"data": {"id": "set-9"}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, nil)
	ack, err := client.Send(context.Background(), fitsync.Call{
		Entity:         fitsync.EntitySet,
		Action:         fitsync.ActionCreate,
		LocalID:        "S1",
		ParentRemoteID: "501",
		Payload:        fitsync.SetPayload{WorkoutExerciseID: "WE1", Weight: 100, Reps: 5},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.RemoteID != "set-9" {
		t.Errorf("RemoteID = %q, want %q", ack.RemoteID, "set-9")
	}
	if _, ok := gotBody["workout_exercise_id"]; ok {
		t.Error("local parent id leaked into request body")
	}
	if gotBody["reps"] != float64(5) {
		t.Errorf("body reps = %v", gotBody["reps"])
	}
}

func TestHTTPClient_Send_UpdateAndDelete(t *testing.T) {
	tests := []struct {
		name       string
		action     fitsync.Action
		wantMethod string
		wantBody   bool
	}{
		{"update", fitsync.ActionUpdate, http.MethodPatch, true},
		{"delete", fitsync.ActionDelete, http.MethodDelete, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != tt.wantMethod {
					t.Errorf("method = %s, want %s", r.Method, tt.wantMethod)
				}
				if r.URL.Path != "/strength/sets/42" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				body, _ := io.ReadAll(r.Body)
				if (len(body) > 0) != tt.wantBody {
					t.Errorf("body present = %v, want %v", len(body) > 0, tt.wantBody)
				}
				w.WriteHeader(http.StatusNoContent)
			}))
			defer server.Close()

			var payload fitsync.Payload = fitsync.SetPayload{Weight: 105, Reps: 5}
			if tt.action == fitsync.ActionDelete {
				payload = fitsync.DeletePayload{Entity: fitsync.EntitySet}
			}

			client := NewHTTPClient(server.URL, nil)
			ack, err := client.Send(context.Background(), fitsync.Call{
				Entity:   fitsync.EntitySet,
				Action:   tt.action,
				RemoteID: "42",
				Payload:  payload,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ack.RemoteID != "" {
				t.Errorf("RemoteID = %q, want empty", ack.RemoteID)
			}
		})
	}
}

func TestHTTPClient_Send_ErrorStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantClass fitsync.FailureClass
	}{
		{http.StatusBadRequest, fitsync.FailurePermanent},
		{http.StatusUnauthorized, fitsync.FailurePermanent},
		{http.StatusNotFound, fitsync.FailurePermanent},
		{http.StatusUnprocessableEntity, fitsync.FailurePermanent},
		{http.StatusRequestTimeout, fitsync.FailureTransient},
		{http.StatusTooManyRequests, fitsync.FailureTransient},
		{http.StatusInternalServerError, fitsync.FailureTransient},
		{http.StatusServiceUnavailable, fitsync.FailureTransient},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": "nope"}`))
			}))
			defer server.Close()

			client := NewHTTPClient(server.URL, nil)
			_, err := client.Send(context.Background(), fitsync.Call{
				Entity:  fitsync.EntityWorkout,
				Action:  fitsync.ActionCreate,
				Payload: fitsync.WorkoutPayload{Name: "x"},
			})
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var syncErr *fitsync.SyncError
			if !errors.As(err, &syncErr) {
				t.Fatalf("expected SyncError, got %T", err)
			}
			if syncErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", syncErr.StatusCode, tt.status)
			}
			if syncErr.Operation != "workout_create" {
				t.Errorf("Operation = %q, want %q", syncErr.Operation, "workout_create")
			}
			if got := fitsync.Classify(err); got != tt.wantClass {
				t.Errorf("Classify = %v, want %v", got, tt.wantClass)
			}
		})
	}
}

func TestHTTPClient_Send_NetworkErrorIsTransient(t *testing.T) {
	client := NewHTTPClient("http://localhost:1", nil)
	_, err := client.Send(context.Background(), fitsync.Call{
		Entity:  fitsync.EntityWorkout,
		Action:  fitsync.ActionCreate,
		Payload: fitsync.WorkoutPayload{Name: "x"},
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var syncErr *fitsync.SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("expected SyncError, got %T", err)
	}
	if syncErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", syncErr.StatusCode)
	}
	if fitsync.Classify(err) != fitsync.FailureTransient {
		t.Error("network error should be transient")
	}
}

func TestHTTPClient_Send_UnknownRoute(t *testing.T) {
	client := NewHTTPClient("http://localhost:1", nil)
	_, err := client.Send(context.Background(), fitsync.Call{
		Entity: fitsync.EntityExercise,
		Action: fitsync.ActionCreate,
	})
	if !errors.Is(err, fitsync.ErrUnknownRoute) {
		t.Errorf("expected ErrUnknownRoute, got %v", err)
	}
}

func TestHTTPClient_Send_CreateWithoutID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, nil)
	_, err := client.Send(context.Background(), fitsync.Call{
		Entity:  fitsync.EntityRoutine,
		Action:  fitsync.ActionCreate,
		Payload: fitsync.RoutinePayload{Name: "PPL"},
	})
	if err == nil {
		t.Fatal("expected error for create response without id")
	}
	if !errors.Is(err, fitsync.ErrMalformedResponse) {
		t.Errorf("error = %v, want ErrMalformedResponse", err)
	}
	if got := fitsync.Classify(err); got != fitsync.FailurePermanent {
		t.Errorf("Classify = %v, want permanent", got)
	}
}

func TestHTTPClient_Send_DebugLogging(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": 1}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	client := NewHTTPClient(server.URL, nil).WithDebugLogger(fitsync.NewDebugLoggerTo(&buf))
	_, err := client.Send(context.Background(), fitsync.Call{
		Entity:  fitsync.EntityRoutine,
		Action:  fitsync.ActionCreate,
		Payload: fitsync.RoutinePayload{Name: "PPL"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "REQUEST POST") || !strings.Contains(out, "/routines") {
		t.Errorf("debug log missing request line: %s", out)
	}
	if !strings.Contains(out, "RESPONSE 200") {
		t.Errorf("debug log missing response line: %s", out)
	}
}

func TestHTTPClient_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := NewHTTPClient(server.URL+"/", nil).Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHTTPClient_Ping_Unhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := NewHTTPClient(server.URL, nil).Ping(context.Background())
	var syncErr *fitsync.SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("expected SyncError, got %v", err)
	}
	if syncErr.Operation != "health_check" {
		t.Errorf("Operation = %q, want %q", syncErr.Operation, "health_check")
	}
}

func TestHTTPClient_WithHTTPClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, nil).WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond})
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestDecodeID(t *testing.T) {
	tests := []struct {
		body    string
		want    string
		wantErr bool
	}{
		{`{"id": 77}`, "77", false},
		{`{"id": "abc"}`, "abc", false},
		{`{"data": {"id": 12}}`, "12", false},
		{`{"id": null}`, "", true},
		{`{}`, "", true},
		{`not json`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			got, err := decodeID([]byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("decodeID = %q, want %q", got, tt.want)
			}
		})
	}
}
