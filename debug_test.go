package fitsync

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDebugLogger_Disabled(t *testing.T) {
	var buf bytes.Buffer
	l := &DebugLogger{enabled: false, writer: &buf}

	l.Log("hello %s", "world")
	l.LogRequest("POST", "http://x", []byte("{}"))
	if buf.Len() != 0 {
		t.Errorf("disabled logger wrote %q", buf.String())
	}

	var nilLogger *DebugLogger
	nilLogger.Log("no panic")
	if err := nilLogger.Close(); err != nil {
		t.Errorf("nil Close = %v", err)
	}
}

func TestDebugLogger_WritesTraffic(t *testing.T) {
	var buf bytes.Buffer
	l := NewDebugLoggerTo(&buf)

	l.LogRequest("POST", "http://api/strength/workouts", []byte(`{"name":"Legs"}`))
	l.LogResponse(201, "201 Created", []byte(`{"id":77}`))
	l.LogError("workout_create", errors.New("boom"))

	out := buf.String()
	for _, want := range []string{
		"[FITSYNC DEBUG] REQUEST POST http://api/strength/workouts",
		`REQUEST BODY: {"name":"Legs"}`,
		"RESPONSE 201 201 Created",
		"ERROR [workout_create]: boom",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDebugLogger_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	l := NewDebugLogger(true, path)
	l.Log("first line")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "first line") {
		t.Errorf("log file = %q", data)
	}
}

func TestTruncateForLog(t *testing.T) {
	if got := truncateForLog("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	got := truncateForLog(strings.Repeat("a", 20), 5)
	if !strings.HasPrefix(got, "aaaaa...") || !strings.Contains(got, "20 bytes total") {
		t.Errorf("got %q", got)
	}
}
