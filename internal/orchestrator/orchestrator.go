// Package orchestrator drives a deployment attempt end to end: lock the
// workspace scope, run the security gate, resolve conflicts per component,
// back up what will be overwritten, write the new configuration and track
// progress. The lock is released on every exit path.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ctxsync/ctxsync/internal/backup"
	"github.com/ctxsync/ctxsync/internal/conflict"
	"github.com/ctxsync/ctxsync/internal/deployerr"
	"github.com/ctxsync/ctxsync/internal/deploystate"
	"github.com/ctxsync/ctxsync/internal/gitctx"
	"github.com/ctxsync/ctxsync/internal/lockfile"
	"github.com/ctxsync/ctxsync/internal/platform"
	"github.com/ctxsync/ctxsync/internal/secgate"
	"github.com/ctxsync/ctxsync/pkg/configtree"
	"github.com/ctxsync/ctxsync/pkg/logger"
	"github.com/ctxsync/ctxsync/pkg/safeio"
)

// Bundle is one fetched configuration bundle: a tree per component.
type Bundle struct {
	Components map[platform.Component]*configtree.Value
}

// FetchClient retrieves the configuration bundle to deploy. The orchestrator
// retries transient failures with exponential backoff; exhaustion is terminal
// for the attempt.
type FetchClient interface {
	Fetch(ctx context.Context, platformName string) (*Bundle, error)
}

// ComponentWriter materializes one resolved component tree in the workspace.
type ComponentWriter interface {
	Write(ctx context.Context, plat *platform.Platform, workspaceRoot string, component platform.Component, tree *configtree.Value) error
}

// FileWriter is the default writer: the component's primary file, written
// atomically. String trees are written raw (rule files), everything else as
// indented JSON.
type FileWriter struct{}

// Write implements ComponentWriter.
func (FileWriter) Write(_ context.Context, plat *platform.Platform, workspaceRoot string, component platform.Component, tree *configtree.Value) error {
	path, err := plat.ComponentPrimaryFile(workspaceRoot, component)
	if err != nil {
		return deployerr.Validation("%v", err)
	}
	var data []byte
	if tree.Kind() == configtree.KindString {
		data = []byte(tree.StringVal())
	} else {
		data, err = configtree.EncodeJSON(tree)
		if err != nil {
			return deployerr.IO(path, err)
		}
	}
	if err := safeio.EnsureDir(filepath.Dir(path)); err != nil {
		return deployerr.IO(path, err)
	}
	if err := safeio.AtomicWriteFile(path, data, 0o644); err != nil {
		return deployerr.IO(path, err)
	}
	return nil
}

// WriterRegistry maps components to writers, falling back to a default.
type WriterRegistry struct {
	writers  map[platform.Component]ComponentWriter
	fallback ComponentWriter
}

// NewWriterRegistry creates a registry with FileWriter as the fallback.
func NewWriterRegistry() *WriterRegistry {
	return &WriterRegistry{
		writers:  map[platform.Component]ComponentWriter{},
		fallback: FileWriter{},
	}
}

// Register installs a writer for one component.
func (r *WriterRegistry) Register(c platform.Component, w ComponentWriter) {
	r.writers[c] = w
}

// For returns the writer handling component c.
func (r *WriterRegistry) For(c platform.Component) ComponentWriter {
	if w, ok := r.writers[c]; ok {
		return w
	}
	return r.fallback
}

var titleCaser = cases.Title(language.English)

// DisplayName renders a component name for reports ("ai-config" -> "AI Config").
func DisplayName(c platform.Component) string {
	name := titleCaser.String(strings.ReplaceAll(string(c), "-", " "))
	return strings.ReplaceAll(name, "Ai ", "AI ")
}

// DeployOptions select what and how to deploy.
type DeployOptions struct {
	Workspace       string
	Platform        string // empty means auto-detect
	Components      []platform.Component
	Strategy        configtree.Strategy
	DryRun          bool
	ValidateOnly    bool
	SanitizeSecrets bool // replace detected secrets with placeholders instead of blocking
}

// ComponentOutcome reports what happened to one component.
type ComponentOutcome struct {
	Component    platform.Component `json:"component"`
	DisplayName  string             `json:"display_name"`
	Deployed     bool               `json:"deployed"`
	HadConflicts bool               `json:"had_conflicts"`
	Strategy     string             `json:"strategy"`
	Err          string             `json:"error,omitempty"`
}

// Result is the outcome of a deployment attempt. Errors block success;
// warnings do not.
type Result struct {
	DeploymentID string             `json:"deployment_id"`
	Platform     string             `json:"platform"`
	BackupID     string             `json:"backup_id,omitempty"`
	Success      bool               `json:"success"`
	DryRun       bool               `json:"dry_run,omitempty"`
	Outcomes     []ComponentOutcome `json:"outcomes"`
	Errors       []string           `json:"errors,omitempty"`
	Warnings     []string           `json:"warnings,omitempty"`
}

// Deps wires the engine's collaborators.
type Deps struct {
	Locks    *lockfile.Coordinator
	States   *deploystate.Manager
	Backups  *backup.Manager
	Gate     *secgate.Gate
	Fetch    FetchClient
	Detector platform.Detector
	Writers  *WriterRegistry

	MaxConcurrency int
	FetchRetries   int
	BackoffBase    time.Duration
	Sleep          func(time.Duration)
}

// Engine runs deployments.
type Engine struct {
	locks    *lockfile.Coordinator
	states   *deploystate.Manager
	backups  *backup.Manager
	gate     *secgate.Gate
	fetch    FetchClient
	detector platform.Detector
	writers  *WriterRegistry

	maxConcurrency int64
	fetchRetries   int
	backoffBase    time.Duration
	sleep          func(time.Duration)
}

// New creates a deployment engine.
func New(deps Deps) (*Engine, error) {
	if deps.Locks == nil || deps.States == nil || deps.Backups == nil || deps.Gate == nil || deps.Fetch == nil {
		return nil, deployerr.Validation("orchestrator requires locks, states, backups, gate and fetch client")
	}
	if deps.Detector == nil {
		deps.Detector = platform.DirDetector{}
	}
	if deps.Writers == nil {
		deps.Writers = NewWriterRegistry()
	}
	if deps.MaxConcurrency <= 0 || deps.MaxConcurrency > 5 {
		deps.MaxConcurrency = 5
	}
	if deps.FetchRetries <= 0 {
		deps.FetchRetries = 3
	}
	if deps.BackoffBase <= 0 {
		deps.BackoffBase = 250 * time.Millisecond
	}
	if deps.Sleep == nil {
		deps.Sleep = time.Sleep
	}
	return &Engine{
		locks:          deps.Locks,
		states:         deps.States,
		backups:        deps.Backups,
		gate:           deps.Gate,
		fetch:          deps.Fetch,
		detector:       deps.Detector,
		writers:        deps.Writers,
		maxConcurrency: int64(deps.MaxConcurrency),
		fetchRetries:   deps.FetchRetries,
		backoffBase:    deps.BackoffBase,
		sleep:          deps.Sleep,
	}, nil
}

// Deploy runs one deployment attempt. Pre-mutation failures (validation,
// security violations, lock contention, fetch exhaustion) are returned as
// errors; once mutation starts, per-component failures are collected into
// the result instead.
func (e *Engine) Deploy(ctx context.Context, opts DeployOptions) (*Result, error) {
	plat, err := e.resolvePlatform(opts)
	if err != nil {
		return nil, err
	}
	components, err := e.resolveComponents(opts)
	if err != nil {
		return nil, err
	}
	if opts.Strategy != "" && !configtree.ValidStrategy(opts.Strategy) {
		return nil, deployerr.Validation("unknown merge strategy %q", opts.Strategy)
	}

	result := &Result{Platform: plat.Name, DryRun: opts.DryRun}

	// The lock scopes the whole attempt: fetch, gate and every mutation run
	// strictly serialized against other deployments of the same workspace.
	scope := plat.LockScope(opts.Workspace)
	handle, err := e.locks.Acquire(scope)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := e.locks.Release(handle); err != nil {
			logger.Warn("Lock release failed", logger.String("resource", scope), logger.Err(err))
		}
	}()

	bundle, err := e.fetchBundle(ctx, plat.Name)
	if err != nil {
		return nil, err
	}

	// Only components actually present in the bundle are deployed and
	// tracked; an explicitly requested component the bundle lacks is worth a
	// warning.
	var present []platform.Component
	for _, c := range components {
		if _, ok := bundle.Components[c]; ok {
			present = append(present, c)
		} else if len(opts.Components) > 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: not present in bundle", c))
		}
	}
	if len(present) == 0 {
		return nil, deployerr.Validation("bundle contains none of the requested components")
	}
	components = present

	// A bundle that fails the gate never touches the workspace.
	if err := e.runGate(plat, opts, components, bundle, result); err != nil {
		return nil, err
	}

	resolver := conflict.NewResolver(conflict.FileLoader(plat, opts.Workspace))

	if opts.ValidateOnly {
		e.validateComponents(resolver, components, bundle, opts.Strategy, result)
		result.Success = len(result.Errors) == 0
		return result, nil
	}

	state := e.states.Create(opts.Workspace, plat.Name, componentNames(components), gitctx.Collect(opts.Workspace))
	result.DeploymentID = state.DeploymentID

	if !opts.DryRun {
		backupRes := e.backups.Create(state.DeploymentID, plat, opts.Workspace, components)
		result.BackupID = backupRes.BackupID
		result.Warnings = append(result.Warnings, backupRes.Warnings...)
		if !backupRes.Success {
			result.Errors = append(result.Errors, backupRes.Errors...)
			result.Errors = append(result.Errors, "backup failed, deployment aborted before any write")
			return result, nil
		}
	}

	var parallel, ordered []platform.Component
	for _, c := range components {
		if platform.Ordered(c) {
			ordered = append(ordered, c)
		} else {
			parallel = append(parallel, c)
		}
	}

	var mu sync.Mutex
	record := func(o ComponentOutcome) {
		mu.Lock()
		defer mu.Unlock()
		result.Outcomes = append(result.Outcomes, o)
		if o.Err != "" {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", o.Component, o.Err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(e.maxConcurrency)
	for _, c := range parallel {
		component := c
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				record(ComponentOutcome{Component: component, DisplayName: DisplayName(component), Err: err.Error()})
				return nil
			}
			defer sem.Release(1)
			record(e.deployComponent(gctx, state.DeploymentID, plat, opts, resolver, component, bundle.Components[component]))
			return nil
		})
	}
	_ = g.Wait()

	// Ordered components layer on top of the parallel tier and run strictly
	// in sequence.
	for _, component := range ordered {
		record(e.deployComponent(ctx, state.DeploymentID, plat, opts, resolver, component, bundle.Components[component]))
	}

	sort.Slice(result.Outcomes, func(i, j int) bool {
		return result.Outcomes[i].Component < result.Outcomes[j].Component
	})

	deployed := make([]platform.Component, 0, len(result.Outcomes))
	var failed []platform.Component
	for _, o := range result.Outcomes {
		if o.Deployed {
			deployed = append(deployed, o.Component)
		} else if o.Err != "" {
			failed = append(failed, o.Component)
		}
	}

	if !opts.DryRun && len(failed) > 0 && result.BackupID != "" {
		e.rollbackFailed(result, failed, deployed)
	}

	result.Success = len(result.Errors) == 0 && len(deployed) > 0
	if len(deployed) == 0 && len(result.Errors) == 0 {
		result.Warnings = append(result.Warnings, "no components were deployed")
	}
	return result, nil
}

func (e *Engine) resolvePlatform(opts DeployOptions) (*platform.Platform, error) {
	if opts.Workspace == "" {
		return nil, deployerr.Validation("workspace path is required")
	}
	if err := e.gate.ValidatePath(opts.Workspace); err != nil {
		return nil, err
	}
	if opts.Platform != "" {
		plat, err := platform.Get(opts.Platform)
		if err != nil {
			return nil, deployerr.Validation("%v", err)
		}
		return plat, nil
	}
	plat, ok := e.detector.Detect(opts.Workspace)
	if !ok {
		return nil, deployerr.Validation("no supported platform detected in %s", opts.Workspace)
	}
	return plat, nil
}

func (e *Engine) resolveComponents(opts DeployOptions) ([]platform.Component, error) {
	if len(opts.Components) == 0 {
		return platform.AllComponents(), nil
	}
	for _, c := range opts.Components {
		if !platform.Known(c) {
			return nil, deployerr.Validation("unknown component %q", c)
		}
	}
	// Preserve deployment order regardless of the order requested.
	requested := map[platform.Component]bool{}
	for _, c := range opts.Components {
		requested[c] = true
	}
	var out []platform.Component
	for _, c := range platform.AllComponents() {
		if requested[c] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (e *Engine) fetchBundle(ctx context.Context, platformName string) (*Bundle, error) {
	var lastErr error
	for attempt := 0; attempt < e.fetchRetries; attempt++ {
		if attempt > 0 {
			e.sleep(e.backoffBase << (attempt - 1))
		}
		bundle, err := e.fetch.Fetch(ctx, platformName)
		if err == nil {
			if bundle == nil || len(bundle.Components) == 0 {
				return nil, deployerr.Validation("fetched bundle is empty")
			}
			return bundle, nil
		}
		lastErr = err
		logger.Warn("Bundle fetch failed",
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", e.fetchRetries),
			logger.Err(err))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, deployerr.Recovery("bundle fetch", lastErr)
}

// blockingSecretConfidence separates secrets the gate refuses to deploy
// verbatim from low-confidence matches (key-name heuristics, loose
// assignments) that are only worth a warning.
const blockingSecretConfidence = 0.8

// runGate validates every target path and scans bundle content. Dangerous
// commands and high-confidence secrets abort the attempt; with
// SanitizeSecrets the secrets are replaced by placeholders instead and the
// sanitized trees are what gets deployed.
func (e *Engine) runGate(plat *platform.Platform, opts DeployOptions, components []platform.Component, bundle *Bundle, result *Result) error {
	roots := []string{opts.Workspace}
	for _, component := range components {
		tree, ok := bundle.Components[component]
		if !ok {
			continue
		}
		path, err := plat.ComponentPrimaryFile(opts.Workspace, component)
		if err != nil {
			return deployerr.Validation("%v", err)
		}
		if err := e.gate.WithinAllowedRoots(path, roots); err != nil {
			return err
		}

		content := tree.Canonical()
		if scan := e.gate.ScanForMaliciousCommands(content); !scan.Passed {
			return deployerr.Security(string(component),
				fmt.Sprintf("bundle content contains dangerous commands: %s", scan.Blockers[0].Pattern))
		}

		secrets := e.gate.DetectSecrets(tree)
		if opts.SanitizeSecrets && len(secrets) > 0 {
			clean, mapping := e.gate.Sanitize(tree)
			bundle.Components[component] = clean
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: %d secret(s) replaced with placeholders", component, len(mapping.Entries)))
			continue
		}
		for _, secret := range secrets {
			if secret.Confidence >= blockingSecretConfidence {
				return deployerr.Security(string(component),
					fmt.Sprintf("unresolved %s secret at %s", secret.Type, secret.Path))
			}
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: possible %s at %s (confidence %.2f)", component, secret.Type, secret.Path, secret.Confidence))
		}
	}
	return nil
}

func (e *Engine) validateComponents(resolver *conflict.Resolver, components []platform.Component, bundle *Bundle, strategy configtree.Strategy, result *Result) {
	for _, component := range components {
		tree, ok := bundle.Components[component]
		if !ok {
			continue
		}
		res, err := resolver.Resolve(component, tree, conflict.Options{Strategy: strategy})
		outcome := ComponentOutcome{Component: component, DisplayName: DisplayName(component)}
		if err != nil {
			outcome.Err = err.Error()
		} else {
			outcome.HadConflicts = res.HasConflicts
			outcome.Strategy = res.Strategy
		}
		result.Outcomes = append(result.Outcomes, outcome)
		if outcome.Err != "" {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", component, outcome.Err))
		}
	}
}

func (e *Engine) deployComponent(ctx context.Context, deploymentID string, plat *platform.Platform, opts DeployOptions, resolver *conflict.Resolver, component platform.Component, tree *configtree.Value) ComponentOutcome {
	outcome := ComponentOutcome{Component: component, DisplayName: DisplayName(component)}
	if tree == nil {
		outcome.Strategy = "not_in_bundle"
		return outcome
	}

	if _, err := e.states.UpdateProgress(deploymentID, string(component), deploystate.EventStarted, nil); err != nil {
		outcome.Err = err.Error()
		return outcome
	}

	fail := func(err error) ComponentOutcome {
		outcome.Err = err.Error()
		if _, uerr := e.states.UpdateProgress(deploymentID, string(component), deploystate.EventFailed, err); uerr != nil {
			logger.Warn("Progress update failed", logger.String("component", string(component)), logger.Err(uerr))
		}
		return outcome
	}

	res, err := resolver.Resolve(component, tree, conflict.Options{Strategy: opts.Strategy})
	if err != nil {
		return fail(err)
	}
	outcome.HadConflicts = res.HasConflicts
	outcome.Strategy = res.Strategy

	if res.Strategy == string(configtree.StrategySkip) {
		// Existing configuration kept as-is, nothing to write.
		if _, err := e.states.UpdateProgress(deploymentID, string(component), deploystate.EventCompleted, nil); err != nil {
			logger.Warn("Progress update failed", logger.String("component", string(component)), logger.Err(err))
		}
		outcome.Deployed = true
		return outcome
	}

	if !opts.DryRun {
		if err := e.writers.For(component).Write(ctx, plat, opts.Workspace, component, res.Resolved); err != nil {
			return fail(err)
		}
	}

	if _, err := e.states.UpdateProgress(deploymentID, string(component), deploystate.EventCompleted, nil); err != nil {
		logger.Warn("Progress update failed", logger.String("component", string(component)), logger.Err(err))
	}
	outcome.Deployed = true
	logger.Debug("Component deployed",
		logger.String("component", string(component)),
		logger.String("strategy", outcome.Strategy),
		logger.Bool("dry_run", opts.DryRun))
	return outcome
}

// rollbackFailed restores every failed component plus its dependents from
// the attempt's backup. Rollback problems are warnings: the component errors
// already block success.
func (e *Engine) rollbackFailed(result *Result, failed, deployed []platform.Component) {
	for _, component := range failed {
		restore, err := e.backups.RollbackWithDependencies(result.BackupID, component, deployed)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("rollback of %s failed: %v", component, err))
			continue
		}
		for path, reason := range restore.FailedFiles {
			result.Warnings = append(result.Warnings, fmt.Sprintf("rollback of %s: %s: %s", component, path, reason))
		}
		if len(restore.RestoredFiles) > 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("rolled back %s (%d files restored)", DisplayName(component), len(restore.RestoredFiles)))
		}
	}
}

func componentNames(components []platform.Component) []string {
	out := make([]string, len(components))
	for i, c := range components {
		out[i] = string(c)
	}
	return out
}
