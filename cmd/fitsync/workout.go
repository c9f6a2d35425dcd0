package main

import (
	"fmt"
	"time"

	"github.com/hyperengineering/fitsync"
	"github.com/spf13/cobra"
)

var workoutCmd = &cobra.Command{
	Use:   "workout",
	Short: "Start, finish and inspect workouts",
}

var workoutStartCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start a new workout",
	Example: `  fitsync workout start "Leg day"
  fitsync workout start "Push" --routine 01HV3K8Q2W --notes "deload week"`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkoutStart,
}

var workoutFinishCmd = &cobra.Command{
	Use:   "finish <workout-id>",
	Short: "Mark a workout as finished",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkoutFinish,
}

var workoutDeleteCmd = &cobra.Command{
	Use:   "delete <workout-id>",
	Short: "Delete a workout with its exercises and sets",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkoutDelete,
}

var workoutListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workouts (* marks changes not yet synced)",
	Args:  cobra.NoArgs,
	RunE:  runWorkoutList,
}

var workoutShowCmd = &cobra.Command{
	Use:   "show <workout-id>",
	Short: "Show a workout with its exercises and sets",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkoutShow,
}

var (
	workoutNotes   string
	workoutRoutine string
)

func init() {
	workoutStartCmd.Flags().StringVar(&workoutNotes, "notes", "", "Free-form notes (markdown)")
	workoutStartCmd.Flags().StringVar(&workoutRoutine, "routine", "", "Local id of the routine being followed")

	workoutCmd.AddCommand(workoutStartCmd, workoutFinishCmd, workoutDeleteCmd, workoutListCmd, workoutShowCmd)
}

func runWorkoutStart(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := a.client.StartWorkout(cmd.Context(), fitsync.StartWorkoutParams{
		Name:      args[0],
		Notes:     workoutNotes,
		RoutineID: workoutRoutine,
	})
	if err != nil {
		return fmt.Errorf("start workout: %w", err)
	}
	return outputWorkout(cmd, "Started", w)
}

func runWorkoutFinish(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := a.client.FinishWorkout(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("finish workout %s: %w", args[0], err)
	}
	return outputWorkout(cmd, "Finished", w)
}

func runWorkoutDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.client.DeleteWorkout(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("delete workout %s: %w", args[0], err)
	}
	if outputJSON {
		return outputAsJSON(cmd, map[string]string{"deleted": args[0]})
	}
	printSuccess(cmd.OutOrStdout(), "Deleted workout %s", args[0])
	return nil
}

func runWorkoutList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	workouts, err := a.client.Workouts()
	if err != nil {
		return fmt.Errorf("list workouts: %w", err)
	}
	if outputJSON {
		return outputAsJSON(cmd, workouts)
	}

	out := cmd.OutOrStdout()
	if len(workouts) == 0 {
		printMuted(out, "No workouts logged yet.")
		printMuted(out, "Start one with: fitsync workout start <name>")
		return nil
	}

	printInfo(out, "Workouts (%d):", len(workouts))
	for _, w := range workouts {
		status := "active"
		if w.EndedAt != nil {
			status = w.EndedAt.Sub(w.StartedAt).Round(time.Minute).String()
		}
		fmt.Fprintf(out, "%s %s  %-24s %s  %s\n",
			syncMarker(&w.RecordMeta), w.LocalID, w.Name, w.StartedAt.Local().Format("2006-01-02 15:04"), status)
	}
	return nil
}

// workoutDetail is the JSON shape of 'workout show'.
type workoutDetail struct {
	*fitsync.Workout
	Exercises []exerciseDetail `json:"exercises"`
}

type exerciseDetail struct {
	*fitsync.WorkoutExercise
	Sets []*fitsync.Set `json:"sets"`
}

func runWorkoutShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := a.client.Workout(args[0])
	if err != nil {
		return fmt.Errorf("workout %s: %w", args[0], err)
	}
	exercises, err := a.client.WorkoutExercises(w.LocalID)
	if err != nil {
		return fmt.Errorf("workout %s exercises: %w", args[0], err)
	}

	detail := workoutDetail{Workout: w}
	for _, we := range exercises {
		sets, err := a.client.Sets(we.LocalID)
		if err != nil {
			return fmt.Errorf("sets of %s: %w", we.LocalID, err)
		}
		detail.Exercises = append(detail.Exercises, exerciseDetail{WorkoutExercise: we, Sets: sets})
	}

	if outputJSON {
		return outputAsJSON(cmd, detail)
	}

	out := cmd.OutOrStdout()
	printInfo(out, "%s", w.Name)
	printField(out, "ID", "%s", w.LocalID)
	if w.RemoteID != "" {
		printField(out, "Remote ID", "%s", w.RemoteID)
	}
	printField(out, "Sync", "%s", w.SyncState)
	printField(out, "Started", "%s", w.StartedAt.Local().Format(time.RFC3339))
	if w.EndedAt != nil {
		printField(out, "Ended", "%s", w.EndedAt.Local().Format(time.RFC3339))
	}
	if w.Notes != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderMarkdown(w.Notes))
	}

	for _, ex := range detail.Exercises {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "%s %d. %s  (%s)\n", syncMarker(&ex.RecordMeta), ex.Position, ex.ExerciseID, ex.LocalID)
		if len(ex.Sets) == 0 {
			printMuted(out, "     no sets")
		}
		for i, s := range ex.Sets {
			line := fmt.Sprintf("     %d: %s x %d", i+1, formatWeight(s.Weight), s.Reps)
			if s.RPE != nil {
				line += fmt.Sprintf(" @%g", *s.RPE)
			}
			fmt.Fprintf(out, "%s%s  (%s)\n", syncMarker(&s.RecordMeta), line, s.LocalID)
		}
	}
	return nil
}
