package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/fitsync"
	"github.com/hyperengineering/fitsync/internal/auth"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state and local cache statistics",
	Example: `  fitsync status
  fitsync status --health`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List queued mutations in replay order",
	Args:  cobra.NoArgs,
	RunE:  runPending,
}

var deadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "List mutations discarded after a permanent failure",
	Args:  cobra.NoArgs,
	RunE:  runDeadLetters,
}

var (
	statusHealth bool
	listLimit    int
)

func init() {
	statusCmd.Flags().BoolVar(&statusHealth, "health", false, "Include health check against the API")
	pendingCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum entries to show")
	deadLettersCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum entries to show")
}

// statusReport is the JSON shape of 'status'.
type statusReport struct {
	Profile  string                `json:"profile"`
	Database string                `json:"database"`
	APIURL   string                `json:"api_url,omitempty"`
	Offline  bool                  `json:"offline_mode"`
	State    fitsync.SyncState     `json:"state"`
	Stats    *fitsync.StoreStats   `json:"stats"`
	Token    *tokenReport          `json:"token,omitempty"`
	Health   *fitsync.HealthStatus `json:"health,omitempty"`
}

type tokenReport struct {
	Subject   string    `json:"subject,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Expired   bool      `json:"expired"`
	Opaque    bool      `json:"opaque"`
}

func inspectToken(token string, now time.Time) *tokenReport {
	if token == "" {
		return nil
	}
	info, err := auth.Inspect(token)
	if err != nil {
		return &tokenReport{Opaque: true}
	}
	return &tokenReport{
		Subject:   info.Subject,
		ExpiresAt: info.ExpiresAt,
		Expired:   auth.Expired(token, now),
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.client.Stats()
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	now := time.Now()
	report := statusReport{
		Profile:  a.config.Profile,
		Database: a.config.LocalPath,
		APIURL:   a.config.APIURL,
		Offline:  a.config.OfflineMode,
		State:    a.client.State(),
		Stats:    stats,
		Token:    inspectToken(a.config.Token, now),
	}
	if statusHealth {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		health := a.client.HealthCheck(ctx)
		report.Health = &health
	}

	if outputJSON {
		return outputAsJSON(cmd, report)
	}

	out := cmd.OutOrStdout()
	printInfo(out, "Sync")
	printField(out, "Profile", "%s", report.Profile)
	printField(out, "Database", "%s", report.Database)
	if report.APIURL == "" {
		printField(out, "API", "not configured")
	} else if report.Offline {
		printField(out, "API", "%s (offline mode)", report.APIURL)
	} else {
		printField(out, "API", "%s", report.APIURL)
	}
	printField(out, "Status", "%s", report.State.Status)
	printField(out, "Pending mutations", "%d", stats.PendingSync)
	printField(out, "Last sync", "%s", formatAgo(stats.LastSync, now))
	if report.State.LastError != "" {
		printField(out, "Last error", "%s", report.State.LastError)
	}

	if t := report.Token; t != nil {
		switch {
		case t.Opaque:
			printField(out, "Token", "opaque")
		case t.Expired:
			printWarning(out, "Token for %q expired at %s; sync is paused until it is replaced", t.Subject, t.ExpiresAt.Local().Format(time.RFC3339))
		case !t.ExpiresAt.IsZero():
			printField(out, "Token", "%s, expires in %s", t.Subject, t.ExpiresAt.Sub(now).Round(time.Minute))
		default:
			printField(out, "Token", "%s, no expiry", t.Subject)
		}
	}

	fmt.Fprintln(out)
	printInfo(out, "Local cache")
	printField(out, "Workouts", "%d", stats.Workouts)
	printField(out, "Sets", "%d", stats.Sets)
	printField(out, "Schema version", "%s", stats.SchemaVersion)
	if stats.DeadLetters > 0 {
		printWarning(out, "%d mutations were discarded (see 'fitsync dead-letters')", stats.DeadLetters)
	}

	if h := report.Health; h != nil {
		fmt.Fprintln(out)
		if h.Healthy && (h.RemoteReachable || a.remote == nil) {
			printSuccess(out, "Healthy")
		} else {
			printError(out, "Unhealthy")
		}
		printField(out, "Store OK", "%v", h.StoreOK)
		if a.remote != nil {
			printField(out, "API reachable", "%v", h.RemoteReachable)
		}
		if h.Error != "" {
			printField(out, "Error", "%s", h.Error)
		}
	}
	return nil
}

func runPending(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.client.PendingMutations(listLimit)
	if err != nil {
		return fmt.Errorf("list pending mutations: %w", err)
	}
	return outputQueue(cmd, items)
}

func runDeadLetters(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	letters, err := a.client.DeadLetters(listLimit)
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}
	return outputDeadLetters(cmd, letters)
}
