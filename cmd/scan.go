package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ctxsync/ctxsync/internal/deployerr"
	"github.com/ctxsync/ctxsync/pkg/configtree"
)

var scanCmd = &cobra.Command{
	Use:   "scan <file>...",
	Short: "Scan configuration files for secrets and dangerous commands",
	Long: `Scan parses configuration files and reports embedded secrets (with
confidence scores) and dangerous shell commands. With --sanitize, a
sanitized copy with secrets replaced by placeholders is written next to
each file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().Bool("sanitize", false, "Write a sanitized copy (<file>.sanitized) of each scanned file")
}

func runScan(cmd *cobra.Command, args []string) error {
	sanitize, _ := cmd.Flags().GetBool("sanitize")
	env, err := newEnvironment()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	blocked := false
	for _, path := range args {
		tree, err := configtree.DecodeFile(path)
		if err != nil {
			return err
		}

		secrets := env.gate.DetectSecrets(tree)
		for _, s := range secrets {
			fmt.Fprintf(out, "%s: secret %-20s at %s (confidence %.2f)\n", path, s.Type, s.Path, s.Confidence)
		}

		if scan := env.gate.ScanForMaliciousCommands(tree.Canonical()); !scan.Passed {
			blocked = true
			for _, b := range scan.Blockers {
				fmt.Fprintf(out, "%s: BLOCKED %s: %q\n", path, b.Pattern, b.Match)
			}
		}

		if len(secrets) == 0 {
			fmt.Fprintf(out, "%s: no secrets detected\n", path)
		}

		if sanitize && len(secrets) > 0 {
			clean, _ := env.gate.Sanitize(tree)
			data, err := configtree.EncodeJSON(clean)
			if err != nil {
				return err
			}
			target := path + ".sanitized"
			if err := os.WriteFile(target, data, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: sanitized copy written to %s\n", path, target)
		}
	}

	if blocked {
		// Dangerous commands are always blocking; Execute maps this to the
		// security-violation exit status.
		return deployerr.Security("scan", "dangerous command patterns detected")
	}
	return nil
}
