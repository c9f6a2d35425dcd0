package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hyperengineering/fitsync"
	"github.com/spf13/cobra"
)

var exerciseCmd = &cobra.Command{
	Use:   "exercise",
	Short: "Add exercises to workouts and manage the exercise catalog",
}

var exerciseAddCmd = &cobra.Command{
	Use:     "add <workout-id> <exercise-id>",
	Short:   "Add an exercise to a workout",
	Example: `  fitsync exercise add 01HV3K8Q2WJ7ZP squat`,
	Args:    cobra.ExactArgs(2),
	RunE:    runExerciseAdd,
}

var exerciseRemoveCmd = &cobra.Command{
	Use:   "remove <workout-exercise-id>",
	Short: "Remove an exercise and its sets from a workout",
	Args:  cobra.ExactArgs(1),
	RunE:  runExerciseRemove,
}

var exerciseCacheCmd = &cobra.Command{
	Use:   "cache <catalog.json>",
	Short: "Load the exercise catalog for offline lookup",
	Long: `Load server-owned exercise catalog entries into the local cache.

The file holds a JSON array of objects with id, name, muscle_group and
equipment fields. Catalog entries are never queued for replay.`,
	Args: cobra.ExactArgs(1),
	RunE: runExerciseCache,
}

var exerciseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the cached exercise catalog",
	Args:  cobra.NoArgs,
	RunE:  runExerciseList,
}

func init() {
	exerciseCmd.AddCommand(exerciseAddCmd, exerciseRemoveCmd, exerciseCacheCmd, exerciseListCmd)
}

func runExerciseAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	we, err := a.client.AddExercise(cmd.Context(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("add exercise: %w", err)
	}
	if outputJSON {
		return outputAsJSON(cmd, we)
	}
	out := cmd.OutOrStdout()
	printSuccess(out, "Added %s at position %d", we.ExerciseID, we.Position)
	fmt.Fprintf(out, "  ID: %s\n", we.LocalID)
	return nil
}

func runExerciseRemove(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.client.RemoveExercise(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("remove exercise %s: %w", args[0], err)
	}
	if outputJSON {
		return outputAsJSON(cmd, map[string]string{"deleted": args[0]})
	}
	printSuccess(cmd.OutOrStdout(), "Removed exercise %s", args[0])
	return nil
}

// catalogEntry is one element of a catalog file.
type catalogEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MuscleGroup string `json:"muscle_group"`
	Equipment   string `json:"equipment"`
}

func runExerciseCache(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	var entries []catalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}

	exercises := make([]fitsync.Exercise, 0, len(entries))
	for i, e := range entries {
		if e.ID == "" || e.Name == "" {
			return fmt.Errorf("catalog entry %d: id and name are required", i)
		}
		exercises = append(exercises, fitsync.Exercise{
			RecordMeta:  fitsync.RecordMeta{RemoteID: e.ID},
			Name:        e.Name,
			MuscleGroup: e.MuscleGroup,
			Equipment:   e.Equipment,
		})
	}

	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.client.CacheExercises(cmd.Context(), exercises); err != nil {
		return err
	}
	if outputJSON {
		return outputAsJSON(cmd, map[string]int{"cached": len(exercises)})
	}
	printSuccess(cmd.OutOrStdout(), "Cached %d exercises", len(exercises))
	return nil
}

func runExerciseList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	exercises, err := a.client.Exercises()
	if err != nil {
		return fmt.Errorf("list exercises: %w", err)
	}
	if outputJSON {
		return outputAsJSON(cmd, exercises)
	}

	out := cmd.OutOrStdout()
	if len(exercises) == 0 {
		printMuted(out, "Exercise catalog is empty.")
		printMuted(out, "Load one with: fitsync exercise cache <catalog.json>")
		return nil
	}
	for _, e := range exercises {
		fmt.Fprintf(out, "%-20s %-28s %-12s %s\n", e.LocalID, e.Name, e.MuscleGroup, e.Equipment)
	}
	return nil
}
