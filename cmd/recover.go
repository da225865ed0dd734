package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Inspect and recover interrupted deployments",
}

var recoverListCmd = &cobra.Command{
	Use:   "list",
	Short: "Find deployments that died mid-way",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := newEnvironment()
		if err != nil {
			return err
		}
		interrupted, err := env.states.FindInterrupted()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(interrupted) == 0 {
			fmt.Fprintln(out, "No interrupted deployments")
			return nil
		}
		for _, s := range interrupted {
			fmt.Fprintf(out, "%s  %s  %s  last activity %s  stuck=[%s]\n",
				s.DeploymentID, s.Platform, s.Workspace,
				s.UpdatedAt.Format("2006-01-02 15:04:05"),
				strings.Join(s.InProgressComponents, ","))
		}
		return nil
	},
}

var recoverPlanCmd = &cobra.Command{
	Use:   "plan <deployment-id>",
	Short: "Derive the recovery plan for an interrupted deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnvironment()
		if err != nil {
			return err
		}
		plan, err := env.states.Resume(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Deployment: %s\n", plan.DeploymentID)
		fmt.Fprintf(out, "Remaining:  %s\n", strings.Join(plan.RemainingComponents, ", "))
		fmt.Fprintf(out, "Estimated:  %s\n", plan.EstimatedTimeRemaining)
		for _, action := range plan.RecoveryActions {
			fmt.Fprintf(out, "  [%s] %s: %s\n", action.Priority, action.Type, strings.Join(action.Components, ", "))
		}
		return nil
	},
}

var recoverCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old completed and failed deployment states",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := newEnvironment()
		if err != nil {
			return err
		}
		removed, err := env.states.CleanupOld(env.cfg.State.Retention)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d old deployment state(s)\n", removed)
		return nil
	},
}

func init() {
	recoverCmd.AddCommand(recoverListCmd)
	recoverCmd.AddCommand(recoverPlanCmd)
	recoverCmd.AddCommand(recoverCleanupCmd)
}
