package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Manage deployment locks",
}

var locksCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale and corrupt lock files",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := newEnvironment()
		if err != nil {
			return err
		}
		removed, err := env.locks.CleanupStaleLocks()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale lock(s)\n", removed)
		return nil
	},
}

var locksReleaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Force-release every lock under a workspace scope",
	Long: `Release removes all locks whose resource matches the given scope prefix.
This is a maintenance escape hatch for locks left behind by killed
processes; a running deployment holding the lock will lose it.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		scope, _ := cmd.Flags().GetString("scope")
		if scope == "" {
			return fmt.Errorf("--scope is required")
		}
		env, err := newEnvironment()
		if err != nil {
			return err
		}
		removed, err := env.locks.ReleaseAll(scope)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Released %d lock(s) under %s\n", removed, scope)
		return nil
	},
}

func init() {
	locksReleaseCmd.Flags().String("scope", "", "Workspace scope prefix (e.g. /path/to/workspace#cursor)")
	locksCmd.AddCommand(locksCleanupCmd)
	locksCmd.AddCommand(locksReleaseCmd)
}
