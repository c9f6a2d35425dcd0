package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperengineering/fitsync"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Keep the mutation queue drained in the background",
	Long: `Run the sync engine until interrupted.

The daemon probes the API to track connectivity, drains the queue as
soon as the API becomes reachable, retries transient failures with
backoff and runs a periodic safety-net pass on the configured schedule
(FITSYNC_SCHEDULE, default "@every 5m").

With --metrics-addr, Prometheus metrics are served at /metrics.`,
	Example:     `  fitsync daemon --metrics-addr :9464`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationLogLevel: "info"},
	RunE:        runDaemon,
}

var metricsAddr string

func init() {
	daemonCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.remote == nil {
		return errors.New("daemon needs an API: set --api-url (or FITSYNC_API_URL) and leave offline mode")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := a.config.Logger
	unsubscribe := a.client.Subscribe(func(s fitsync.SyncState) {
		logger.Info("sync state",
			"status", s.Status,
			"pending", s.PendingCount,
			"last_error", s.LastError,
		)
	})
	defer unsubscribe()

	if metricsAddr != "" {
		srv := newMetricsServer(metricsAddr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", metricsAddr)
	}

	prober := fitsync.NewProber(a.remote, a.client.Monitor(), a.config.ProbeInterval, logger)
	logger.Info("daemon started",
		"api_url", a.config.APIURL,
		"database", a.config.LocalPath,
		"schedule", a.config.SyncSchedule,
	)
	prober.Run(ctx)

	logger.Info("daemon stopping", "pending", a.client.State().PendingCount)
	return nil
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
