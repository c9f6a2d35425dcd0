package fitsync

import (
	"context"
	"log/slog"
	"time"
)

// Prober derives connectivity from backend health checks. Hosts without an
// OS connectivity bridge (the CLI daemon) use it to feed the Monitor.
type Prober struct {
	remote   Remote
	monitor  *Monitor
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewProber creates a prober that pings remote every interval.
func NewProber(remote Remote, monitor *Monitor, interval time.Duration, logger *slog.Logger) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		remote:   remote,
		monitor:  monitor,
		interval: interval,
		timeout:  10 * time.Second,
		logger:   logger,
	}
}

// Probe performs one health check and reports the result.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.remote.Ping(ctx)
	online := err == nil
	if p.monitor.Report(online) {
		if online {
			p.logger.Info("backend reachable")
		} else {
			p.logger.Warn("backend unreachable", "error", err)
		}
	}
	return online
}

// Run probes immediately and then on every tick until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
