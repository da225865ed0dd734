package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ctxsync/ctxsync/internal/deployerr"
	"github.com/ctxsync/ctxsync/internal/orchestrator"
	"github.com/ctxsync/ctxsync/internal/platform"
	"github.com/ctxsync/ctxsync/pkg/configtree"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a configuration bundle to a workspace",
	Long: `Deploy reads a configuration bundle and applies it to the workspace for
the selected platform: lock the workspace scope, run the security gate,
resolve conflicts with existing configuration, back up what will be
overwritten, then write each component. Failed components are rolled back
from the backup together with anything layered on top of them.`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().String("workspace", ".", "Workspace root to deploy into")
	deployCmd.Flags().String("platform", "", "Target platform (cursor|vscode|windsurf|zed); auto-detected when empty")
	deployCmd.Flags().StringSlice("components", nil, "Components to deploy (default: all present in the bundle)")
	deployCmd.Flags().String("strategy", "merge", "Conflict strategy (skip|overwrite|merge|backup)")
	deployCmd.Flags().String("bundle", "", "Path to the bundle file (json|yaml|toml)")
	deployCmd.Flags().Bool("dry-run", false, "Resolve and report without writing anything")
	deployCmd.Flags().Bool("validate-only", false, "Stop after conflict detection, before any state or backup")
	deployCmd.Flags().Bool("sanitize-secrets", false, "Replace detected secrets with placeholders instead of refusing to deploy them")
	_ = deployCmd.MarkFlagRequired("bundle")
}

// bundleFileClient satisfies the orchestrator's fetch interface from a local
// bundle file: a document whose top-level keys are component names.
type bundleFileClient struct {
	path string
}

func (c bundleFileClient) Fetch(_ context.Context, _ string) (*orchestrator.Bundle, error) {
	tree, err := configtree.DecodeFile(c.path)
	if err != nil {
		return nil, err
	}
	if tree.Kind() != configtree.KindObject {
		return nil, deployerr.Validation("bundle %s must be an object keyed by component name", c.path)
	}
	bundle := &orchestrator.Bundle{Components: map[platform.Component]*configtree.Value{}}
	for _, key := range tree.Keys() {
		component := platform.Component(key)
		if !platform.Known(component) {
			return nil, deployerr.Validation("bundle %s names unknown component %q", c.path, key)
		}
		value, _ := tree.Field(key)
		bundle.Components[component] = value
	}
	return bundle, nil
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	workspace, _ := cmd.Flags().GetString("workspace")
	platformName, _ := cmd.Flags().GetString("platform")
	componentNames, _ := cmd.Flags().GetStringSlice("components")
	strategy, _ := cmd.Flags().GetString("strategy")
	bundlePath, _ := cmd.Flags().GetString("bundle")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	validateOnly, _ := cmd.Flags().GetBool("validate-only")
	sanitizeSecrets, _ := cmd.Flags().GetBool("sanitize-secrets")

	env, err := newEnvironment()
	if err != nil {
		return err
	}
	engine, err := orchestrator.New(orchestrator.Deps{
		Locks:          env.locks,
		States:         env.states,
		Backups:        env.backups,
		Gate:           env.gate,
		Fetch:          bundleFileClient{path: bundlePath},
		MaxConcurrency: env.cfg.Deploy.MaxConcurrency,
		FetchRetries:   env.cfg.Deploy.FetchRetries,
	})
	if err != nil {
		return err
	}

	components := make([]platform.Component, 0, len(componentNames))
	for _, name := range componentNames {
		components = append(components, platform.Component(name))
	}

	result, err := engine.Deploy(cmd.Context(), orchestrator.DeployOptions{
		Workspace:       workspace,
		Platform:        platformName,
		Components:      components,
		Strategy:        configtree.Strategy(strategy),
		DryRun:          dryRun,
		ValidateOnly:    validateOnly,
		SanitizeSecrets: sanitizeSecrets,
	})
	if err != nil {
		return err
	}

	printDeployResult(cmd, result)
	if !result.Success {
		return fmt.Errorf("deployment finished with %d error(s)", len(result.Errors))
	}
	return nil
}

func printDeployResult(cmd *cobra.Command, result *orchestrator.Result) {
	out := cmd.OutOrStdout()
	mode := ""
	if result.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(out, "Platform: %s%s\n", result.Platform, mode)
	if result.DeploymentID != "" {
		fmt.Fprintf(out, "Deployment: %s\n", result.DeploymentID)
	}
	if result.BackupID != "" {
		fmt.Fprintf(out, "Backup: %s\n", result.BackupID)
	}
	for _, o := range result.Outcomes {
		status := "skipped"
		switch {
		case o.Err != "":
			status = "FAILED: " + o.Err
		case o.Deployed:
			status = "deployed"
		}
		conflictNote := ""
		if o.HadConflicts {
			conflictNote = fmt.Sprintf(" (conflicts resolved via %s)", o.Strategy)
		}
		fmt.Fprintf(out, "  %-16s %s%s\n", o.DisplayName, status, conflictNote)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(out, "error: %s\n", e)
	}
}
