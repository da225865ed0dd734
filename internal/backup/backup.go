// Package backup snapshots the on-disk files a deployment is about to
// overwrite and restores them on rollback, with per-file checksum
// verification. Partial failure never aborts the rest of a backup or
// restore; results report both sides.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ctxsync/ctxsync/internal/deployerr"
	"github.com/ctxsync/ctxsync/internal/platform"
	"github.com/ctxsync/ctxsync/pkg/logger"
	"github.com/ctxsync/ctxsync/pkg/safeio"
)

// BackedUpFile records one copied file.
type BackedUpFile struct {
	Component    string    `json:"component"`
	OriginalPath string    `json:"original_path"`
	BackupPath   string    `json:"backup_path"`
	Size         int64     `json:"size"`
	Timestamp    time.Time `json:"timestamp"`
}

// Manifest describes one backup.
type Manifest struct {
	BackupID     string            `json:"backup_id"`
	DeploymentID string            `json:"deployment_id"`
	Workspace    string            `json:"workspace"`
	Platform     string            `json:"platform"`
	Timestamp    time.Time         `json:"timestamp"`
	Files        []BackedUpFile    `json:"files"`
	Checksums    map[string]string `json:"checksums"`
}

// CreateResult reports a backup attempt. Warnings (files that did not exist
// yet) are non-blocking; success requires zero errors.
type CreateResult struct {
	BackupID string
	Manifest *Manifest
	Warnings []string
	Errors   []string
	Success  bool
}

// RestoreResult reports a restore attempt. Partial restoration is a valid
// outcome: the operation fails overall only when zero files restore.
type RestoreResult struct {
	BackupID      string
	RestoredFiles []string
	FailedFiles   map[string]string
	Success       bool
}

// Manager stores backups under one root directory.
type Manager struct {
	root string
	now  func() time.Time
}

// NewManager creates a backup manager rooted at dir.
func NewManager(dir string, clock func() time.Time) (*Manager, error) {
	if clock == nil {
		clock = time.Now
	}
	if err := safeio.EnsureDir(dir); err != nil {
		return nil, deployerr.IO(dir, err)
	}
	return &Manager{root: dir, now: clock}, nil
}

// Create snapshots the existing files of every listed component before a
// deployment mutates them. Missing files are warnings, not errors; one
// component's failure does not abort the others.
func (m *Manager) Create(deploymentID string, plat *platform.Platform, workspaceRoot string, components []platform.Component) CreateResult {
	backupID := "bak-" + uuid.NewString()
	result := CreateResult{BackupID: backupID}

	backupDir := filepath.Join(m.root, backupID)
	filesDir := filepath.Join(backupDir, "files")
	if err := safeio.EnsureDir(filesDir); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("create backup directory: %v", err))
		return result
	}

	manifest := &Manifest{
		BackupID:     backupID,
		DeploymentID: deploymentID,
		Workspace:    workspaceRoot,
		Platform:     plat.Name,
		Timestamp:    m.now(),
		Checksums:    map[string]string{},
	}

	seq := 0
	for _, component := range components {
		files, err := plat.ComponentFiles(workspaceRoot, component)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: resolve files: %v", component, err))
			continue
		}
		if len(files) == 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: no existing files, skipped from backup", component))
			continue
		}
		for _, original := range files {
			seq++
			dst := filepath.Join(filesDir, fmt.Sprintf("%03d_%s", seq, filepath.Base(original)))
			size, err := safeio.CopyFile(original, dst)
			if errors.Is(err, os.ErrNotExist) {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("%s: %s disappeared before backup, skipped", component, original))
				continue
			}
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: copy %s: %v", component, original, err))
				continue
			}
			sum, err := hashFile(dst)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: checksum %s: %v", component, original, err))
				continue
			}
			manifest.Files = append(manifest.Files, BackedUpFile{
				Component:    string(component),
				OriginalPath: original,
				BackupPath:   dst,
				Size:         size,
				Timestamp:    m.now(),
			})
			manifest.Checksums[original] = sum
		}
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("marshal manifest: %v", err))
	} else if err := safeio.AtomicWriteFile(filepath.Join(backupDir, "manifest.json"), data, 0o600); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("write manifest: %v", err))
	}

	result.Manifest = manifest
	result.Success = len(result.Errors) == 0
	logger.Debug("Backup created",
		logger.String("backup_id", backupID),
		logger.Int("files", len(manifest.Files)),
		logger.Int("warnings", len(result.Warnings)),
		logger.Int("errors", len(result.Errors)))
	return result
}

// Restore puts every backed-up file back in place. Each file restores
// independently: checksum mismatches and copy failures are recorded without
// stopping the rest.
func (m *Manager) Restore(backupID string) (RestoreResult, error) {
	manifest, err := m.loadManifest(backupID)
	if err != nil {
		return RestoreResult{BackupID: backupID}, err
	}
	return m.restoreFiles(manifest, manifest.Files), nil
}

// RollbackWithDependencies restores the failed component plus every
// component layered on top of it, limited to what was actually deployed.
func (m *Manager) RollbackWithDependencies(backupID string, failed platform.Component, deployed []platform.Component) (RestoreResult, error) {
	manifest, err := m.loadManifest(backupID)
	if err != nil {
		return RestoreResult{BackupID: backupID}, err
	}

	include := map[string]bool{}
	for _, c := range platform.RollbackSet(failed, deployed) {
		include[string(c)] = true
	}
	var files []BackedUpFile
	for _, f := range manifest.Files {
		if include[f.Component] {
			files = append(files, f)
		}
	}
	return m.restoreFiles(manifest, files), nil
}

func (m *Manager) restoreFiles(manifest *Manifest, files []BackedUpFile) RestoreResult {
	result := RestoreResult{
		BackupID:    manifest.BackupID,
		FailedFiles: map[string]string{},
	}

	for _, f := range files {
		if expected, ok := manifest.Checksums[f.OriginalPath]; ok {
			actual, err := hashFile(f.BackupPath)
			if err != nil {
				result.FailedFiles[f.OriginalPath] = fmt.Sprintf("read backup copy: %v", err)
				continue
			}
			if actual != expected {
				result.FailedFiles[f.OriginalPath] = "backup copy failed checksum verification"
				continue
			}
		}
		if err := safeio.EnsureDir(filepath.Dir(f.OriginalPath)); err != nil {
			result.FailedFiles[f.OriginalPath] = fmt.Sprintf("create directory: %v", err)
			continue
		}
		if _, err := safeio.CopyFile(f.BackupPath, f.OriginalPath); err != nil {
			result.FailedFiles[f.OriginalPath] = fmt.Sprintf("restore: %v", err)
			continue
		}
		result.RestoredFiles = append(result.RestoredFiles, f.OriginalPath)
	}

	result.Success = len(result.RestoredFiles) > 0 || len(files) == 0
	if !result.Success {
		logger.Error("Restore failed for every file", logger.String("backup_id", manifest.BackupID))
	}
	return result
}

func (m *Manager) loadManifest(backupID string) (*Manifest, error) {
	if strings.ContainsAny(backupID, "/\\") || backupID == "" {
		return nil, deployerr.Validation("invalid backup id %q", backupID)
	}
	path := filepath.Join(m.root, backupID, "manifest.json")
	data, err := os.ReadFile(path) // #nosec G304 -- id validated above, path inside m.root
	if errors.Is(err, os.ErrNotExist) {
		return nil, deployerr.Validation("no backup with id %s", backupID)
	}
	if err != nil {
		return nil, deployerr.IO(path, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, deployerr.State(path, err)
	}
	return &manifest, nil
}

// List enumerates backup manifests, newest first. Unreadable manifests are
// skipped with a warning.
func (m *Manager) List() ([]*Manifest, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, deployerr.IO(m.root, err)
	}
	var manifests []*Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifest, err := m.loadManifest(entry.Name())
		if err != nil {
			logger.Warn("Skipping unreadable backup manifest", logger.String("backup_id", entry.Name()), logger.Err(err))
			continue
		}
		manifests = append(manifests, manifest)
	}
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Timestamp.After(manifests[j].Timestamp) })
	return manifests, nil
}

// Cleanup keeps the keepCount most recent backups and deletes the rest.
// Per-backup deletion failures are collected, not fatal to the sweep.
func (m *Manager) Cleanup(keepCount int) (removed int, failures []error) {
	manifests, err := m.List()
	if err != nil {
		return 0, []error{err}
	}
	if keepCount < 0 {
		keepCount = 0
	}
	for i, manifest := range manifests {
		if i < keepCount {
			continue
		}
		dir := filepath.Join(m.root, manifest.BackupID)
		if err := os.RemoveAll(dir); err != nil {
			failures = append(failures, deployerr.IO(dir, err))
			continue
		}
		removed++
	}
	return removed, failures
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- paths come from manifests under m.root
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
