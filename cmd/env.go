package cmd

import (
	"errors"
	"path/filepath"

	"github.com/ctxsync/ctxsync/internal/backup"
	"github.com/ctxsync/ctxsync/internal/deployerr"
	"github.com/ctxsync/ctxsync/internal/deploystate"
	"github.com/ctxsync/ctxsync/internal/lockfile"
	"github.com/ctxsync/ctxsync/internal/secgate"
	"github.com/ctxsync/ctxsync/pkg/config"
	"github.com/ctxsync/ctxsync/pkg/exitcode"
)

// environment bundles the configured engine collaborators every subcommand
// builds from the ctxsync home directory.
type environment struct {
	cfg     *config.Config
	home    string
	locks   *lockfile.Coordinator
	states  *deploystate.Manager
	backups *backup.Manager
	gate    *secgate.Gate
}

func newEnvironment() (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	home, err := config.HomeDir()
	if err != nil {
		return nil, err
	}

	locks, err := lockfile.New(filepath.Join(home, "locks"), lockfile.Options{
		Timeout:      cfg.Lock.Timeout,
		PollInterval: cfg.Lock.PollInterval,
	})
	if err != nil {
		return nil, err
	}
	states, err := deploystate.NewManager(filepath.Join(home, "state"), deploystate.Options{
		InactivityThreshold: cfg.State.InactivityThreshold,
		StallThreshold:      cfg.State.StallThreshold,
	})
	if err != nil {
		return nil, err
	}
	backups, err := backup.NewManager(filepath.Join(home, "backups"), nil)
	if err != nil {
		return nil, err
	}

	return &environment{
		cfg:     cfg,
		home:    home,
		locks:   locks,
		states:  states,
		backups: backups,
		gate:    secgate.NewGate(cfg.Security.ExtraDenyPaths),
	}, nil
}

// exitCodeFor maps engine error kinds to CLI exit codes.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitcode.Success
	case errors.Is(err, deployerr.ErrSecurity):
		return exitcode.SecurityViolation
	case errors.Is(err, deployerr.ErrLockContention), errors.Is(err, deployerr.ErrLockOwnership):
		return exitcode.LockContention
	case errors.Is(err, deployerr.ErrState):
		return exitcode.StateCorruption
	case errors.Is(err, deployerr.ErrValidation):
		return exitcode.ValidationError
	case errors.Is(err, deployerr.ErrIO):
		return exitcode.FileSystemError
	default:
		return exitcode.GeneralError
	}
}
