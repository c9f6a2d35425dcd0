package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/fitsync"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued changes against the API now",
	Long: `Replay every queued mutation against the fitness API in the order it
was made. The API is probed first; when it is unreachable nothing is
replayed and the queue is left intact.

Transient failures stay queued for the next pass. Rejected mutations
are discarded and listed by 'fitsync dead-letters'.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var syncTimeout time.Duration

func init() {
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 2*time.Minute, "Give up on the pass after this long")
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.remote == nil {
		return errors.New("sync unavailable: set --api-url (or FITSYNC_API_URL) and leave offline mode")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeout)
	defer cancel()

	prober := fitsync.NewProber(a.remote, a.client.Monitor(), a.config.ProbeInterval, a.config.Logger)

	var res *fitsync.PassResult
	err = runWithSpinner(cmd.ErrOrStderr(), "Syncing", func() error {
		if !prober.Probe(ctx) {
			return fitsync.ErrOffline
		}
		var err error
		res, err = a.client.ForceSync(ctx)
		return err
	})
	if errors.Is(err, fitsync.ErrOffline) {
		return fmt.Errorf("sync: API unreachable, %d mutations stay queued", a.client.State().PendingCount)
	}
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	state := a.client.State()
	if state.Status == fitsync.StatusError {
		return fmt.Errorf("sync: %s", state.LastError)
	}
	return outputPassResult(cmd, res, state)
}
