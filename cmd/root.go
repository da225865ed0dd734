package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ctxsync/ctxsync/pkg/buildinfo"
	"github.com/ctxsync/ctxsync/pkg/logger"
)

// newRootCommand creates a fresh root command instance.
// This factory pattern allows tests to create isolated command trees without shared state.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ctxsync",
		Short: "Deploy versioned context configuration to local IDE workspaces",
		Long: `ctxsync deploys a versioned configuration bundle (settings, keybindings,
AI rules, MCP servers) onto a local workspace for cursor, vscode, windsurf
or zed, with conflict resolution, locking, backups and rollback.

Examples:
   ctxsync deploy --bundle bundle.json        # Deploy a bundle to the current workspace
   ctxsync deploy --dry-run --bundle b.json   # Show what would change
   ctxsync recover list                       # Find interrupted deployments
   ctxsync backups list                       # List available backups`,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			initializeLogger(cmd)
		},
	}

	cmd.PersistentFlags().SetNormalizeFunc(normalizeFlagName)
	cmd.PersistentFlags().String("log-level", "info", "Set log level (debug|info|warn|error)")
	cmd.PersistentFlags().Bool("json", false, "Output logs in JSON format")
	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	cmd.Version = buildinfo.BinaryVersion
	cmd.SetVersionTemplate("ctxsync {{.Version}}\n")

	return cmd
}

// registerSubcommands adds all subcommands to the root command.
// This is called from init() for production and can be called explicitly in tests.
func registerSubcommands(cmd *cobra.Command) {
	cmd.AddCommand(versionCmd)
	cmd.AddCommand(deployCmd)
	cmd.AddCommand(locksCmd)
	cmd.AddCommand(backupsCmd)
	cmd.AddCommand(recoverCmd)
	cmd.AddCommand(scanCmd)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCommand()

// Execute runs the root command. Called once from main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command execution failed", logger.Err(err))
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	registerSubcommands(rootCmd)
}

// normalizeFlagName accepts underscore spellings for dashed flags.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// initializeLogger sets up the logger based on command flags
func initializeLogger(cmd *cobra.Command) {
	levelStr, _ := cmd.Flags().GetString("log-level")
	jsonLogs, _ := cmd.Flags().GetBool("json")
	noColor, _ := cmd.Flags().GetBool("no-color")

	logger.Initialize(logger.Config{
		Level:     logger.ParseLevel(levelStr),
		UseColor:  !noColor,
		JSON:      jsonLogs,
		Component: "ctxsync",
	})
}
