package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperengineering/fitsync"
	"github.com/spf13/cobra"
)

// secret is the configured token, scrubbed from error output.
var secret string

// outputAsJSON writes any value as formatted JSON to the command's stdout.
func outputAsJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError prints an error to stderr, ensuring no tokens are leaked.
func outputError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %s\n", scrubSensitiveData(err.Error()))
}

// scrubSensitiveData removes the bearer token from error messages.
func scrubSensitiveData(msg string) string {
	if secret != "" && strings.Contains(msg, secret) {
		msg = strings.ReplaceAll(msg, secret, "[REDACTED]")
	}
	return msg
}

func syncMarker(meta *fitsync.RecordMeta) string {
	if meta.SyncState == fitsync.SyncPending {
		return "*"
	}
	return " "
}

func formatWeight(w float64) string {
	return fmt.Sprintf("%g", w)
}

func formatAgo(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (%s ago)", t.Local().Format(time.RFC3339), now.Sub(t).Round(time.Second))
}

// outputWorkout prints a workout in the configured format.
func outputWorkout(cmd *cobra.Command, verb string, w *fitsync.Workout) error {
	if outputJSON {
		return outputAsJSON(cmd, w)
	}
	out := cmd.OutOrStdout()
	printSuccess(out, "%s workout %q", verb, w.Name)
	fmt.Fprintf(out, "  ID:      %s\n", w.LocalID)
	fmt.Fprintf(out, "  Started: %s\n", w.StartedAt.Local().Format(time.RFC3339))
	if w.EndedAt != nil {
		fmt.Fprintf(out, "  Ended:   %s (%s)\n", w.EndedAt.Local().Format(time.RFC3339), w.EndedAt.Sub(w.StartedAt).Round(time.Second))
	}
	return nil
}

// outputSetResult prints a logged set and any new personal record.
func outputSetResult(cmd *cobra.Command, verb string, res *fitsync.SetResult) error {
	if outputJSON {
		return outputAsJSON(cmd, res)
	}
	out := cmd.OutOrStdout()
	printSuccess(out, "%s set %s x %d", verb, formatWeight(res.Set.Weight), res.Set.Reps)
	fmt.Fprintf(out, "  ID: %s\n", res.Set.LocalID)
	if res.Set.RPE != nil {
		fmt.Fprintf(out, "  RPE: %g\n", *res.Set.RPE)
	}
	if pr := res.PersonalRecord; pr != nil {
		printInfo(out, "New personal record for %s: %s x %d", pr.ExerciseID, formatWeight(pr.Weight), pr.Reps)
	}
	return nil
}

// outputPassResult prints the outcome of a drain pass.
func outputPassResult(cmd *cobra.Command, res *fitsync.PassResult, state fitsync.SyncState) error {
	if outputJSON {
		return outputAsJSON(cmd, struct {
			*fitsync.PassResult
			DurationMs int `json:"duration_ms"`
			Pending    int `json:"pending"`
		}{res, int(res.Duration.Milliseconds()), state.PendingCount})
	}

	out := cmd.OutOrStdout()
	if res.Skipped {
		printWarning(out, "A sync pass is already running")
		return nil
	}
	if res.Interrupted {
		printWarning(out, "Sync interrupted: device went offline")
	} else {
		printSuccess(out, "Sync complete (took %s)", res.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(out, "  Replayed:  %d\n", res.Replayed)
	if res.Transient > 0 {
		fmt.Fprintf(out, "  Retrying:  %d\n", res.Transient)
	}
	if res.Blocked > 0 {
		fmt.Fprintf(out, "  Waiting:   %d\n", res.Blocked)
	}
	if res.Discarded > 0 {
		printWarning(out, "Discarded %d mutations (see 'fitsync dead-letters')", res.Discarded)
	}
	if state.PendingCount > 0 {
		fmt.Fprintf(out, "  Remaining in queue: %d\n", state.PendingCount)
	}
	return nil
}

// outputQueue prints pending mutations in replay order.
func outputQueue(cmd *cobra.Command, items []*fitsync.QueueItem) error {
	if outputJSON {
		return outputAsJSON(cmd, items)
	}
	out := cmd.OutOrStdout()
	if len(items) == 0 {
		printMuted(out, "No pending mutations.")
		return nil
	}

	printInfo(out, "Pending mutations (%d):", len(items))
	for _, it := range items {
		fmt.Fprintf(out, "  #%-5d %-6s %-16s %s", it.ID, it.Action, it.EntityType, it.EntityID)
		if it.Attempts > 0 {
			fmt.Fprintf(out, "  attempts=%d last_error=%q", it.Attempts, it.LastError)
		}
		fmt.Fprintln(out)
	}
	return nil
}

// outputDeadLetters prints discarded mutations, newest first.
func outputDeadLetters(cmd *cobra.Command, letters []fitsync.DeadLetter) error {
	if outputJSON {
		return outputAsJSON(cmd, letters)
	}
	out := cmd.OutOrStdout()
	if len(letters) == 0 {
		printMuted(out, "No discarded mutations.")
		return nil
	}

	printWarning(out, "Discarded mutations (%d):", len(letters))
	for _, dl := range letters {
		fmt.Fprintf(out, "  #%-5d %-6s %-16s %s\n", dl.QueueID, dl.Action, dl.EntityType, dl.EntityID)
		reason := dl.Reason
		if dl.StatusCode != 0 {
			reason = fmt.Sprintf("HTTP %d: %s", dl.StatusCode, reason)
		}
		printMuted(out, "         %s, discarded %s", reason, dl.DiscardedAt.Local().Format(time.RFC3339))
	}
	return nil
}
