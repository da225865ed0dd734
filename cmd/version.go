package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ctxsync/ctxsync/pkg/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		extended, _ := cmd.Flags().GetBool("extended")
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ctxsync %s\n", buildinfo.BinaryVersion)
		if extended {
			fmt.Fprintf(out, "module:   %s\n", buildinfo.ModuleVersion())
			fmt.Fprintf(out, "go:       %s\n", runtime.Version())
			fmt.Fprintf(out, "platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().Bool("extended", false, "Show build and platform details")
}
