package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <user-id> <plan-id>",
		Short: "Make a plan the user's single active plan",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ok, err := a.manager.ActivatePlan(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("plan %s cannot be activated for user %s", args[1], args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "activated plan %s\n", args[1])
			return nil
		}),
	}
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <user-id>",
		Short: "Cancel every active plan of a user",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			n, err := a.manager.CancelActivePlans(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %d plan(s)\n", n)
			return nil
		}),
	}
}

type currentOutput struct {
	Plan  any `json:"plan"`
	State any `json:"training_state"`
}

func newCurrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current <user-id>",
		Short: "Show the user's current plan and training state",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			plan, err := a.manager.GetCurrentPlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			state, err := a.manager.GetTrainingState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), currentOutput{Plan: plan, State: state})
		}),
	}
}
