package fitsync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonitor_ReportsTransitionsOnly(t *testing.T) {
	m := NewMonitor(true)

	var events []bool
	m.OnConnectivityChange(func(online bool) { events = append(events, online) })

	assert.False(t, m.Report(true), "same state is not a transition")
	assert.True(t, m.Report(false))
	assert.False(t, m.Report(false))
	assert.True(t, m.Report(true))

	assert.Equal(t, []bool{false, true}, events)
	assert.True(t, m.Online())
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := NewMonitor(false)

	calls := 0
	unsubscribe := m.OnConnectivityChange(func(bool) { calls++ })
	m.Report(true)
	unsubscribe()
	unsubscribe()
	m.Report(false)

	assert.Equal(t, 1, calls)
}

func TestProber_DerivesConnectivity(t *testing.T) {
	remote := newFakeRemote()
	m := NewMonitor(false)
	p := NewProber(remote, m, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.True(t, p.Probe(context.Background()))
	assert.True(t, m.Online())

	remote.pingErr = errors.New("no route to host")
	assert.False(t, p.Probe(context.Background()))
	assert.False(t, m.Online())
}

func TestProber_RunStopsWithContext(t *testing.T) {
	remote := newFakeRemote()
	m := NewMonitor(false)
	p := NewProber(remote, m, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, m.Online, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
