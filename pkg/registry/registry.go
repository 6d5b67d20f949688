// Package registry is the process-wide Creation Job Registry: a keyed
// store from container ID to CreationJob that makes provisioning
// observable as an async background job with progress, stage and
// terminal status (spec.md §4.5). It also holds the cooperative
// cancellation flag a pipeline stage checks at its boundary.
package registry

import (
	"sync"
	"time"

	"github.com/nspawnhost/nspawnd/pkg/errs"
	"github.com/nspawnhost/nspawnd/pkg/events"
	"github.com/nspawnhost/nspawnd/pkg/types"
)

// Registry serializes all job mutations under a single mutex; job
// churn is low enough that this never becomes a bottleneck (spec.md
// §4.5 permits exactly this simplification).
type Registry struct {
	mu        sync.Mutex
	jobs      map[string]*types.CreationJob
	cancelled map[string]bool
	broker    *events.Broker
}

// New creates an empty Registry with its event broker running.
func New() *Registry {
	broker := events.NewBroker()
	broker.Start()
	return &Registry{
		jobs:      make(map[string]*types.CreationJob),
		cancelled: make(map[string]bool),
		broker:    broker,
	}
}

// Register creates a new non-terminal CreationJob for containerID. It
// fails with NameConflict if a non-terminal job for the same ID is
// already registered — a container_id may not have two concurrent
// pipeline workers.
func (r *Registry) Register(containerID string) (*types.CreationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.jobs[containerID]; ok && !existing.Done() {
		return nil, errs.Newf(errs.NameConflict, "job already in progress for %q", containerID)
	}

	job := &types.CreationJob{
		ContainerID:    containerID,
		Stage:          types.StageDetectArch,
		Percent:        0,
		TerminalStatus: types.TerminalNone,
		StartedAt:      time.Now(),
	}
	r.jobs[containerID] = job
	delete(r.cancelled, containerID)

	snapshot := *job
	return &snapshot, nil
}

// SetStage publishes the stage a job has just entered, with its fixed
// percent-at-entry value.
func (r *Registry) SetStage(containerID string, stage types.Stage) {
	r.mu.Lock()
	job, ok := r.jobs[containerID]
	if ok {
		job.Stage = stage
		job.Percent = types.PercentAtEntry(stage)
	}
	r.mu.Unlock()

	r.broker.Publish(&events.Event{
		Type:    events.EventStageEntered,
		Message: string(stage),
		Metadata: map[string]string{
			"container_id": containerID,
			"stage":        string(stage),
		},
	})
}

// Finish marks a job terminal: completed if runErr is nil, failed
// otherwise. Calling Finish on an already-terminal or unknown job is a
// no-op, so a deferred finalizer is always safe to call.
func (r *Registry) Finish(containerID string, runErr error) {
	r.mu.Lock()
	job, ok := r.jobs[containerID]
	if !ok || job.Done() {
		r.mu.Unlock()
		return
	}

	job.FinishedAt = time.Now()
	if runErr == nil {
		job.TerminalStatus = types.TerminalCompleted
		job.Stage = types.StageCompleted
		job.Percent = types.PercentAtEntry(types.StageCompleted)
	} else {
		job.TerminalStatus = types.TerminalFailed
		job.Error = runErr.Error()
	}
	terminal := job.TerminalStatus
	r.mu.Unlock()

	evType := events.EventJobCompleted
	if terminal == types.TerminalFailed {
		evType = events.EventJobFailed
	}
	r.broker.Publish(&events.Event{
		Type:     evType,
		Message:  string(terminal),
		Metadata: map[string]string{"container_id": containerID},
	})
}

// Get returns a snapshot of the current job state.
func (r *Registry) Get(containerID string) (types.CreationJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[containerID]
	if !ok {
		return types.CreationJob{}, false
	}
	return *job, true
}

// Cancel requests cooperative cancellation of a non-terminal job.
func (r *Registry) Cancel(containerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[containerID]
	if !ok {
		return errs.Newf(errs.NotFound, "no job for %q", containerID)
	}
	if job.Done() {
		return errs.Newf(errs.ValidationError, "job for %q already terminal", containerID)
	}
	r.cancelled[containerID] = true
	return nil
}

// Cancelled reports whether containerID's job has a pending
// cancellation request. A pipeline stage checks this at its boundary.
func (r *Registry) Cancelled(containerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled[containerID]
}

// Subscribe tails live stage-transition events for every job.
func (r *Registry) Subscribe() events.Subscriber {
	return r.broker.Subscribe()
}

// Unsubscribe stops a subscription started with Subscribe.
func (r *Registry) Unsubscribe(sub events.Subscriber) {
	r.broker.Unsubscribe(sub)
}

// Stop shuts down the registry's event broker.
func (r *Registry) Stop() {
	r.broker.Stop()
}
