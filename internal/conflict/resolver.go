// Package conflict decides how an incoming component configuration is
// reconciled with whatever already exists on disk.
package conflict

import (
	"errors"
	"io/fs"

	"github.com/ctxsync/ctxsync/internal/deployerr"
	"github.com/ctxsync/ctxsync/internal/platform"
	"github.com/ctxsync/ctxsync/pkg/configtree"
	"github.com/ctxsync/ctxsync/pkg/logger"
)

// StrategyNoExisting marks a resolution that short-circuited because the
// component had no existing configuration to conflict with.
const StrategyNoExisting = "no_existing_config"

// Options tune a single resolution.
type Options struct {
	// Strategy selects the merge strategy. Empty means merge.
	Strategy configtree.Strategy
}

// Resolution is the outcome of resolving one component.
type Resolution struct {
	Component       platform.Component
	HasConflicts    bool
	Conflicts       []configtree.Conflict
	Strategy        string
	Resolved        *configtree.Value
	BackupRequested bool
}

// Loader fetches the existing configuration of a component. The boolean is
// false when no configuration exists yet.
type Loader func(component platform.Component) (*configtree.Value, bool, error)

// FileLoader loads a component's existing configuration from its primary
// file within the workspace.
func FileLoader(plat *platform.Platform, workspaceRoot string) Loader {
	return func(component platform.Component) (*configtree.Value, bool, error) {
		path, err := plat.ComponentPrimaryFile(workspaceRoot, component)
		if err != nil {
			return nil, false, deployerr.Validation("%v", err)
		}
		if _, err := configtree.FormatForPath(path); err != nil {
			// Plain-text components (rule files) have no structured
			// document to conflict with.
			return nil, false, nil
		}
		tree, err := configtree.DecodeFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, deployerr.IO(path, err)
		}
		return tree, true, nil
	}
}

// Resolver resolves incoming configurations against existing ones.
type Resolver struct {
	load Loader
}

// NewResolver creates a resolver backed by the given loader.
func NewResolver(load Loader) *Resolver {
	return &Resolver{load: load}
}

// Resolve reconciles incoming with the component's existing configuration.
// When nothing exists yet the incoming tree passes through untouched. When
// something exists, conflicts are detected on keys common to both trees and
// the requested strategy produces the resolved tree.
func (r *Resolver) Resolve(component platform.Component, incoming *configtree.Value, opts Options) (*Resolution, error) {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = configtree.StrategyMerge
	}
	if !configtree.ValidStrategy(strategy) {
		return nil, deployerr.Validation("unknown merge strategy %q", strategy)
	}

	existing, found, err := r.load(component)
	if err != nil {
		return nil, err
	}
	if !found {
		return &Resolution{
			Component: component,
			Strategy:  StrategyNoExisting,
			Resolved:  incoming.Clone(),
		}, nil
	}

	conflicts := configtree.Conflicts(incoming, existing)
	merged := configtree.Merge(incoming, existing, strategy)

	if len(conflicts) > 0 {
		logger.Debug("Resolved component conflicts",
			logger.String("component", string(component)),
			logger.Int("conflicts", len(conflicts)),
			logger.String("strategy", string(strategy)))
	}

	return &Resolution{
		Component:       component,
		HasConflicts:    len(conflicts) > 0,
		Conflicts:       conflicts,
		Strategy:        string(strategy),
		Resolved:        merged.Tree,
		BackupRequested: merged.BackupRequested,
	}, nil
}
