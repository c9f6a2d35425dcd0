package main

import (
	"errors"
	"fmt"

	"github.com/hyperengineering/fitsync"
	"github.com/spf13/cobra"
)

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Log, correct and delete sets",
}

var setAddCmd = &cobra.Command{
	Use:   "add <workout-exercise-id>",
	Short: "Log a set",
	Example: `  fitsync set add 01HV3KA0P4 --weight 100 --reps 5
  fitsync set add 01HV3KA0P4 --weight 100 --reps 5 --rpe 8.5`,
	Args: cobra.ExactArgs(1),
	RunE: runSetAdd,
}

var setUpdateCmd = &cobra.Command{
	Use:   "update <set-id>",
	Short: "Correct a logged set",
	Args:  cobra.ExactArgs(1),
	RunE:  runSetUpdate,
}

var setDeleteCmd = &cobra.Command{
	Use:   "delete <set-id>",
	Short: "Delete a logged set",
	Args:  cobra.ExactArgs(1),
	RunE:  runSetDelete,
}

var (
	setWeight float64
	setReps   int
	setRPE    float64
)

func init() {
	for _, c := range []*cobra.Command{setAddCmd, setUpdateCmd} {
		c.Flags().Float64Var(&setWeight, "weight", 0, "Load lifted")
		c.Flags().IntVar(&setReps, "reps", 0, "Repetitions performed")
		c.Flags().Float64Var(&setRPE, "rpe", 0, "Rate of perceived exertion (1-10)")
	}
	_ = setAddCmd.MarkFlagRequired("reps")

	setCmd.AddCommand(setAddCmd, setUpdateCmd, setDeleteCmd)
}

func validateSetFlags(cmd *cobra.Command) error {
	if setWeight < 0 {
		return errors.New("--weight must not be negative")
	}
	if cmd.Flags().Changed("reps") && setReps <= 0 {
		return errors.New("--reps must be positive")
	}
	if cmd.Flags().Changed("rpe") && (setRPE < 1 || setRPE > 10) {
		return errors.New("--rpe must be between 1 and 10")
	}
	return nil
}

func runSetAdd(cmd *cobra.Command, args []string) error {
	if err := validateSetFlags(cmd); err != nil {
		return err
	}

	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	params := fitsync.AddSetParams{
		WorkoutExerciseID: args[0],
		Weight:            setWeight,
		Reps:              setReps,
	}
	if cmd.Flags().Changed("rpe") {
		rpe := setRPE
		params.RPE = &rpe
	}

	res, err := a.client.AddSet(cmd.Context(), params)
	if err != nil {
		return fmt.Errorf("add set: %w", err)
	}
	return outputSetResult(cmd, "Logged", res)
}

func runSetUpdate(cmd *cobra.Command, args []string) error {
	if err := validateSetFlags(cmd); err != nil {
		return err
	}

	var update fitsync.SetUpdate
	if cmd.Flags().Changed("weight") {
		w := setWeight
		update.Weight = &w
	}
	if cmd.Flags().Changed("reps") {
		r := setReps
		update.Reps = &r
	}
	if cmd.Flags().Changed("rpe") {
		rpe := setRPE
		update.RPE = &rpe
	}
	if update.Weight == nil && update.Reps == nil && update.RPE == nil {
		return errors.New("nothing to update: pass --weight, --reps or --rpe")
	}

	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.client.UpdateSet(cmd.Context(), args[0], update)
	if err != nil {
		return fmt.Errorf("update set %s: %w", args[0], err)
	}
	return outputSetResult(cmd, "Updated", res)
}

func runSetDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.client.DeleteSet(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("delete set %s: %w", args[0], err)
	}
	if outputJSON {
		return outputAsJSON(cmd, map[string]string{"deleted": args[0]})
	}
	printSuccess(cmd.OutOrStdout(), "Deleted set %s", args[0])
	return nil
}
