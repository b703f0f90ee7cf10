// Package subagent implements the §9 redesign flag: the source's
// package-wide static subagent configuration and running-task map are
// replaced by an explicit Runtime value, owned by the top-level
// application and passed by reference, never a global.
package subagent

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Spec describes a subagent configuration: what it is invoked to do and
// which tools it may see. Concrete subagent behavior (skill discovery,
// persona headers) is out of scope here; the runtime only owns spawning
// and snapshotting.
type Spec struct {
	Name         string
	SystemPrompt string
	ToolNames    []string
}

// Snapshot is the point-in-time state of one spawned subagent task.
type Snapshot struct {
	TaskID   string
	SpecName string
	Running  bool
	Result   string
	Err      error
}

// Spawner starts a subagent task given its spec and input, reporting the
// final text or error back through the done channel. It is the runtime's
// sole collaborator for starting work; the runtime itself only tracks what
// it started.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec, input string, done chan<- Snapshot)
}

// Runtime owns the two collaborators named in §9: a task spawner and a
// snapshot table. It replaces the source's static globals with an explicit
// value the top-level application constructs once and passes by reference.
type Runtime struct {
	spawner Spawner

	mu        sync.RWMutex
	specs     map[string]Spec
	snapshots map[string]Snapshot
}

// NewRuntime builds a Runtime around the given spawner collaborator.
func NewRuntime(spawner Spawner) *Runtime {
	return &Runtime{
		spawner:   spawner,
		specs:     make(map[string]Spec),
		snapshots: make(map[string]Snapshot),
	}
}

// Register adds (or replaces) a subagent spec by name.
func (r *Runtime) Register(spec Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Name] = spec
}

// Spawn starts a registered subagent by name and tracks its snapshot until
// completion. Returns the generated task id immediately; the caller polls
// Snapshot(taskID) for completion.
func (r *Runtime) Spawn(ctx context.Context, specName, input string) (string, error) {
	r.mu.RLock()
	spec, ok := r.specs[specName]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("subagent: no spec registered under name %q", specName)
	}

	taskID := uuid.NewString()
	r.mu.Lock()
	r.snapshots[taskID] = Snapshot{TaskID: taskID, SpecName: specName, Running: true}
	r.mu.Unlock()

	done := make(chan Snapshot, 1)
	go r.spawner.Spawn(ctx, spec, input, done)

	go func() {
		snap := <-done
		snap.TaskID = taskID
		snap.SpecName = specName
		snap.Running = false
		r.mu.Lock()
		r.snapshots[taskID] = snap
		r.mu.Unlock()
		if snap.Err != nil {
			log.Warn().Err(snap.Err).Str("taskId", taskID).Str("spec", specName).Msg("subagent task failed")
		}
	}()

	return taskID, nil
}

// Snapshot returns the current state of a spawned task, or false if taskID
// is unknown to this runtime.
func (r *Runtime) Snapshot(taskID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[taskID]
	return snap, ok
}

// Running reports every task id currently in flight.
func (r *Runtime) Running() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, snap := range r.snapshots {
		if snap.Running {
			ids = append(ids, id)
		}
	}
	return ids
}
