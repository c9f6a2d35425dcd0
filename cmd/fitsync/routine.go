package main

import (
	"fmt"
	"strings"

	"github.com/hyperengineering/fitsync"
	"github.com/spf13/cobra"
)

var routineCmd = &cobra.Command{
	Use:   "routine",
	Short: "Manage premade routines",
}

var routineSaveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Create a routine, or update one with --id",
	Example: `  fitsync routine save "Push A" --exercise bench --exercise ohp --exercise dips
  fitsync routine save "Push A" --id 01HV3M1B7N --exercise bench --exercise ohp`,
	Args: cobra.ExactArgs(1),
	RunE: runRoutineSave,
}

var routineDeleteCmd = &cobra.Command{
	Use:   "delete <routine-id>",
	Short: "Delete a routine",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoutineDelete,
}

var routineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List routines",
	Args:  cobra.NoArgs,
	RunE:  runRoutineList,
}

var (
	routineID          string
	routineDescription string
	routineExercises   []string
)

func init() {
	routineSaveCmd.Flags().StringVar(&routineID, "id", "", "Local id of the routine to update")
	routineSaveCmd.Flags().StringVar(&routineDescription, "description", "", "Routine description")
	routineSaveCmd.Flags().StringSliceVar(&routineExercises, "exercise", nil, "Exercise id, in order (repeatable)")

	routineCmd.AddCommand(routineSaveCmd, routineDeleteCmd, routineListCmd)
}

func runRoutineSave(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.client.SaveRoutine(cmd.Context(), fitsync.SaveRoutineParams{
		LocalID:     routineID,
		Name:        args[0],
		Description: routineDescription,
		ExerciseIDs: routineExercises,
	})
	if err != nil {
		return fmt.Errorf("save routine: %w", err)
	}
	if outputJSON {
		return outputAsJSON(cmd, r)
	}

	out := cmd.OutOrStdout()
	verb := "Created"
	if routineID != "" {
		verb = "Updated"
	}
	printSuccess(out, "%s routine %q", verb, r.Name)
	fmt.Fprintf(out, "  ID: %s\n", r.LocalID)
	if len(r.ExerciseIDs) > 0 {
		fmt.Fprintf(out, "  Exercises: %s\n", strings.Join(r.ExerciseIDs, ", "))
	}
	return nil
}

func runRoutineDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.client.DeleteRoutine(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("delete routine %s: %w", args[0], err)
	}
	if outputJSON {
		return outputAsJSON(cmd, map[string]string{"deleted": args[0]})
	}
	printSuccess(cmd.OutOrStdout(), "Deleted routine %s", args[0])
	return nil
}

func runRoutineList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	routines, err := a.client.Routines()
	if err != nil {
		return fmt.Errorf("list routines: %w", err)
	}
	if outputJSON {
		return outputAsJSON(cmd, routines)
	}

	out := cmd.OutOrStdout()
	if len(routines) == 0 {
		printMuted(out, "No routines saved.")
		return nil
	}
	for _, r := range routines {
		fmt.Fprintf(out, "%s %s  %-24s %s\n", syncMarker(&r.RecordMeta), r.LocalID, r.Name, strings.Join(r.ExerciseIDs, ", "))
	}
	return nil
}
