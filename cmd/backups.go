package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "Manage deployment backups",
}

var backupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := newEnvironment()
		if err != nil {
			return err
		}
		manifests, err := env.backups.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(manifests) == 0 {
			fmt.Fprintln(out, "No backups")
			return nil
		}
		for _, m := range manifests {
			fmt.Fprintf(out, "%s  %s  %s  %d file(s)  deployment=%s\n",
				m.BackupID, m.Timestamp.Format("2006-01-02 15:04:05"), m.Platform, len(m.Files), m.DeploymentID)
		}
		return nil
	},
}

var backupsRestoreCmd = &cobra.Command{
	Use:   "restore <backup-id>",
	Short: "Restore every file from a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnvironment()
		if err != nil {
			return err
		}
		result, err := env.backups.Restore(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, path := range result.RestoredFiles {
			fmt.Fprintf(out, "restored %s\n", path)
		}
		for path, reason := range result.FailedFiles {
			fmt.Fprintf(out, "failed   %s: %s\n", path, reason)
		}
		if !result.Success {
			return fmt.Errorf("restore of %s restored no files", args[0])
		}
		return nil
	},
}

var backupsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old backups past the configured keep count",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := newEnvironment()
		if err != nil {
			return err
		}
		keep, _ := cmd.Flags().GetInt("keep")
		if keep <= 0 {
			keep = env.cfg.Backup.KeepCount
		}
		removed, failures := env.backups.Cleanup(keep)
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d backup(s), kept the %d most recent\n", removed, keep)
		for _, f := range failures {
			fmt.Fprintf(cmd.OutOrStdout(), "warning: %v\n", f)
		}
		return nil
	},
}

func init() {
	backupsCleanupCmd.Flags().Int("keep", 0, "Number of backups to keep (default: backup.keep_count from config)")
	backupsCmd.AddCommand(backupsListCmd)
	backupsCmd.AddCommand(backupsRestoreCmd)
	backupsCmd.AddCommand(backupsCleanupCmd)
}
