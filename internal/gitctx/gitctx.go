// Package gitctx captures a minimal snapshot of the target workspace's git
// state. The snapshot is recorded in deployment state documents so an
// interrupted run can be diagnosed against the tree it was mutating.
package gitctx

import (
	git "github.com/go-git/go-git/v5"
)

// Snapshot is the recorded workspace git state.
type Snapshot struct {
	Branch     string `json:"branch,omitempty"`
	SHA        string `json:"sha,omitempty"`
	Dirty      bool   `json:"dirty"`
	DirtyFiles int    `json:"dirty_files,omitempty"`
}

// Collect returns the git snapshot for the workspace at path, or nil when
// the workspace is not a repository (which is not an error: deployments to
// non-repos are normal).
func Collect(path string) *Snapshot {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil
	}

	snap := &Snapshot{}
	if head, err := repo.Head(); err == nil {
		snap.SHA = head.Hash().String()
		if head.Name().IsBranch() {
			snap.Branch = head.Name().Short()
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return snap
	}
	status, err := wt.Status()
	if err != nil {
		return snap
	}
	snap.Dirty = !status.IsClean()
	for _, st := range status {
		if st.Worktree != git.Unmodified || st.Staging != git.Unmodified {
			snap.DirtyFiles++
		}
	}
	return snap
}
