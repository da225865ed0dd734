// Package deploystate persists deployment progress, detects interrupted
// runs and derives recovery plans. It is the only part of the engine with
// cross-attempt memory; everything else is stateless between calls.
package deploystate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ctxsync/ctxsync/internal/deployerr"
	"github.com/ctxsync/ctxsync/internal/gitctx"
	"github.com/ctxsync/ctxsync/pkg/logger"
	"github.com/ctxsync/ctxsync/pkg/safeio"
)

// Status is the deployment lifecycle state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusInProgress   Status = "in_progress"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	// StatusInterrupted is a retroactive classification applied by the
	// recovery scanner; the state machine itself never writes it.
	StatusInterrupted Status = "interrupted"
)

// Terminal reports whether s is a final state eligible for retention
// cleanup.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Event is a component transition reported by the orchestrator.
type Event string

const (
	EventStarted   Event = "started"
	EventCompleted Event = "completed"
	EventFailed    Event = "failed"
)

// State is the persisted record of one deployment attempt.
type State struct {
	DeploymentID         string            `json:"deployment_id"`
	Workspace            string            `json:"workspace"`
	Platform             string            `json:"platform"`
	Status               Status            `json:"status"`
	StartedAt            time.Time         `json:"started_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
	Components           []string          `json:"components"`
	CompletedComponents  []string          `json:"completed_components"`
	FailedComponents     []string          `json:"failed_components"`
	InProgressComponents []string          `json:"in_progress_components"`
	ComponentErrors      map[string]string `json:"component_errors,omitempty"`
	Git                  *gitctx.Snapshot  `json:"git,omitempty"`
}

// SaveResult is the explicit outcome of a best-effort save. State tracking
// must never fail the deployment it tracks, so callers log and continue.
type SaveResult struct {
	Saved bool
	Err   error
}

// Recovery action types and priorities.
const (
	ActionRetryFailed       = "retry_failed"
	ActionCompleteRemaining = "complete_remaining"
	ActionCleanupPartial    = "cleanup_partial"

	PriorityHigh   = "high"
	PriorityMedium = "medium"
)

// RecoveryAction is one prioritized step toward a consistent terminal state.
type RecoveryAction struct {
	Type       string   `json:"type"`
	Components []string `json:"components"`
	Priority   string   `json:"priority"`
}

// RecoveryPlan is derived from an interrupted state; it is never persisted.
type RecoveryPlan struct {
	DeploymentID           string           `json:"deployment_id"`
	RemainingComponents    []string         `json:"remaining_components"`
	RecoveryActions        []RecoveryAction `json:"recovery_actions"`
	EstimatedTimeRemaining time.Duration    `json:"estimated_time_remaining"`
}

// Options configures a Manager.
type Options struct {
	Clock               func() time.Time
	InactivityThreshold time.Duration // in_progress with no update this long = interrupted
	StallThreshold      time.Duration // components stuck in progress this long = interrupted
}

// Manager persists deployment state documents under one directory.
type Manager struct {
	dir        string
	now        func() time.Time
	inactivity time.Duration
	stall      time.Duration

	// mu serializes the load-modify-save cycle of UpdateProgress. Components
	// of one deployment report transitions from concurrent goroutines.
	mu sync.Mutex
}

// perComponentEstimate feeds the recovery time heuristic.
const perComponentEstimate = 30 * time.Second

// NewManager creates a state manager rooted at dir.
func NewManager(dir string, opts Options) (*Manager, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.InactivityThreshold <= 0 {
		opts.InactivityThreshold = 30 * time.Minute
	}
	if opts.StallThreshold <= 0 {
		opts.StallThreshold = 10 * time.Minute
	}
	if err := safeio.EnsureDir(dir); err != nil {
		return nil, deployerr.IO(dir, err)
	}
	return &Manager{
		dir:        dir,
		now:        opts.Clock,
		inactivity: opts.InactivityThreshold,
		stall:      opts.StallThreshold,
	}, nil
}

// NewDeploymentID returns a fresh deployment identifier.
func NewDeploymentID() string {
	return "dep-" + uuid.NewString()
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

func (m *Manager) statePath(id string) (string, error) {
	if !idPattern.MatchString(id) {
		return "", deployerr.Validation("invalid deployment id %q", id)
	}
	return filepath.Join(m.dir, id+".json"), nil
}

// Create builds and persists the initial state for a deployment attempt.
func (m *Manager) Create(workspace, platformName string, components []string, git *gitctx.Snapshot) *State {
	now := m.now()
	state := &State{
		DeploymentID:         NewDeploymentID(),
		Workspace:            workspace,
		Platform:             platformName,
		Status:               StatusInitializing,
		StartedAt:            now,
		UpdatedAt:            now,
		Components:           append([]string{}, components...),
		CompletedComponents:  []string{},
		FailedComponents:     []string{},
		InProgressComponents: []string{},
		ComponentErrors:      map[string]string{},
		Git:                  git,
	}
	if result := m.Save(state); !result.Saved {
		logger.Warn("Could not persist initial deployment state",
			logger.String("deployment_id", state.DeploymentID), logger.Err(result.Err))
	}
	return state
}

// Save persists the state document. Failures are returned, never raised:
// progress tracking is best-effort by contract.
func (m *Manager) Save(state *State) SaveResult {
	path, err := m.statePath(state.DeploymentID)
	if err != nil {
		return SaveResult{Err: err}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return SaveResult{Err: fmt.Errorf("marshal deployment state: %w", err)}
	}
	if err := safeio.AtomicWriteFile(path, data, 0o600); err != nil {
		return SaveResult{Err: deployerr.IO(path, err)}
	}
	return SaveResult{Saved: true}
}

// Load reads and validates a persisted state document.
func (m *Manager) Load(id string) (*State, error) {
	path, err := m.statePath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is id-validated inside m.dir
	if errors.Is(err, os.ErrNotExist) {
		return nil, deployerr.Validation("no deployment state for %s", id)
	}
	if err != nil {
		return nil, deployerr.IO(path, err)
	}

	if err := validateDocument(data); err != nil {
		return nil, deployerr.State(path, err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, deployerr.State(path, err)
	}
	return &state, nil
}

// UpdateProgress applies a component transition event, recomputes the
// overall status and refreshes the last-activity timestamp. The updated
// state is saved best-effort and returned. Safe for concurrent use: the
// read-modify-write runs under the manager's lock so no transition is lost.
func (m *Manager) UpdateProgress(id, component string, event Event, componentErr error) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.Load(id)
	if err != nil {
		return nil, err
	}

	state.InProgressComponents = remove(state.InProgressComponents, component)
	state.CompletedComponents = remove(state.CompletedComponents, component)
	state.FailedComponents = remove(state.FailedComponents, component)

	switch event {
	case EventStarted:
		state.InProgressComponents = append(state.InProgressComponents, component)
		delete(state.ComponentErrors, component)
	case EventCompleted:
		state.CompletedComponents = append(state.CompletedComponents, component)
		delete(state.ComponentErrors, component)
	case EventFailed:
		state.FailedComponents = append(state.FailedComponents, component)
		if componentErr != nil {
			if state.ComponentErrors == nil {
				state.ComponentErrors = map[string]string{}
			}
			state.ComponentErrors[component] = componentErr.Error()
		}
	default:
		return nil, deployerr.Validation("unknown progress event %q", event)
	}

	now := m.now()
	state.UpdatedAt = now

	accounted := len(state.CompletedComponents) + len(state.FailedComponents)
	switch {
	case accounted >= len(state.Components) && len(state.Components) > 0:
		if len(state.FailedComponents) > 0 {
			state.Status = StatusFailed
		} else {
			state.Status = StatusCompleted
		}
		state.CompletedAt = &now
	default:
		state.Status = StatusInProgress
	}

	if result := m.Save(state); !result.Saved {
		logger.Warn("Could not persist deployment progress",
			logger.String("deployment_id", id),
			logger.String("component", component),
			logger.Err(result.Err))
	}
	return state, nil
}

// List loads every readable state document, newest first. Corrupt documents
// are skipped with a warning; a maintenance listing must not die on one bad
// file.
func (m *Manager) List() ([]*State, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, deployerr.IO(m.dir, err)
	}
	var states []*State
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		state, err := m.Load(id)
		if err != nil {
			logger.Warn("Skipping unreadable deployment state", logger.String("id", id), logger.Err(err))
			continue
		}
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].StartedAt.After(states[j].StartedAt) })
	return states, nil
}

// FindInterrupted scans all persisted states for deployments that died
// mid-way: in_progress with no activity past the inactivity threshold, or
// with components stuck in progress past the stall threshold. Returned
// copies carry the retroactive interrupted status.
func (m *Manager) FindInterrupted() ([]*State, error) {
	states, err := m.List()
	if err != nil {
		return nil, err
	}
	now := m.now()
	var interrupted []*State
	for _, state := range states {
		if state.Status != StatusInProgress {
			continue
		}
		idle := now.Sub(state.UpdatedAt)
		stalled := len(state.InProgressComponents) > 0 && idle > m.stall
		if idle > m.inactivity || stalled {
			state.Status = StatusInterrupted
			interrupted = append(interrupted, state)
		}
	}
	return interrupted, nil
}

// Resume derives the recovery plan for an interrupted deployment.
func (m *Manager) Resume(id string) (*RecoveryPlan, error) {
	state, err := m.Load(id)
	if err != nil {
		return nil, err
	}

	done := map[string]bool{}
	for _, c := range state.CompletedComponents {
		done[c] = true
	}
	for _, c := range state.FailedComponents {
		done[c] = true
	}
	var remaining []string
	for _, c := range state.Components {
		if !done[c] {
			remaining = append(remaining, c)
		}
	}

	plan := &RecoveryPlan{
		DeploymentID:        id,
		RemainingComponents: remaining,
	}

	// Components caught mid-write may have left partial output; cleaning
	// them up comes first.
	if len(state.InProgressComponents) > 0 {
		plan.RecoveryActions = append(plan.RecoveryActions, RecoveryAction{
			Type:       ActionCleanupPartial,
			Components: append([]string{}, state.InProgressComponents...),
			Priority:   PriorityHigh,
		})
	}
	if len(state.FailedComponents) > 0 {
		plan.RecoveryActions = append(plan.RecoveryActions, RecoveryAction{
			Type:       ActionRetryFailed,
			Components: append([]string{}, state.FailedComponents...),
			Priority:   PriorityHigh,
		})
	}
	if len(remaining) > 0 {
		plan.RecoveryActions = append(plan.RecoveryActions, RecoveryAction{
			Type:       ActionCompleteRemaining,
			Components: remaining,
			Priority:   PriorityMedium,
		})
	}

	workload := len(remaining) + len(state.FailedComponents)
	plan.EstimatedTimeRemaining = time.Duration(workload) * perComponentEstimate
	if plan.EstimatedTimeRemaining < perComponentEstimate {
		plan.EstimatedTimeRemaining = perComponentEstimate
	}
	return plan, nil
}

// CleanupOld deletes terminal states older than maxAge. Active and
// interrupted states are never deleted.
func (m *Manager) CleanupOld(maxAge time.Duration) (int, error) {
	states, err := m.List()
	if err != nil {
		return 0, err
	}
	now := m.now()
	removed := 0
	for _, state := range states {
		if !state.Status.Terminal() {
			continue
		}
		reference := state.UpdatedAt
		if state.CompletedAt != nil {
			reference = *state.CompletedAt
		}
		if now.Sub(reference) <= maxAge {
			continue
		}
		path, err := m.statePath(state.DeploymentID)
		if err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			logger.Warn("Could not remove old deployment state",
				logger.String("id", state.DeploymentID), logger.Err(err))
			continue
		}
		removed++
	}
	return removed, nil
}

func remove(list []string, item string) []string {
	out := list[:0]
	for _, v := range list {
		if v != item {
			out = append(out, v)
		}
	}
	return out
}
