// Package registry keeps the live sessions of suspended jobs addressable.
// Entries are process-local and deliberately not persisted: a restart
// orphans every waiting job, which the orchestrator reports as JobNotFound
// rather than retrying against a dead session.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/testpulse/admitflow/constants"
)

// Entry is one parked pipeline: the suspension it is waiting on, the
// continuation that consumes the human input, and a hard expiry after which
// the reaper fails the job and releases the session.
type Entry struct {
	JobID         uuid.UUID
	ApplicationID string
	Kind          constants.SuspensionKind
	ExpiresAt     time.Time

	// Resume re-enters the pipeline with the supplied input. Invoked at
	// most once, by whoever removed the entry from the registry.
	Resume func(ctx context.Context, input string)

	// Expire fails the job with a timeout reason and closes the session.
	// Invoked at most once, by the reaper, after the entry is removed.
	Expire func(ctx context.Context)
}

// Registry is a synchronized map from job id to suspended session entry.
// Insert-if-absent on suspend and remove-if-present on resume/terminate
// guarantee a single winner when resume calls race.
type Registry struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
}

func New() *Registry {
	return &Registry{entries: make(map[uuid.UUID]*Entry)}
}

// Put registers a parked job. Returns false if the job already has a live
// entry, which indicates a runner bug (one session per job, always).
func (r *Registry) Put(e *Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.JobID]; exists {
		return false
	}
	r.entries[e.JobID] = e
	return true
}

// Take removes and returns the entry for jobID, or nil. The caller owns
// the single permitted Resume/Expire invocation.
func (r *Registry) Take(jobID uuid.UUID) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[jobID]
	delete(r.entries, jobID)
	return e
}

// Remove drops the entry for jobID if present, without returning it.
// Used on job termination paths where the session is already being closed.
func (r *Registry) Remove(jobID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, jobID)
}

// Sweep removes and returns every entry whose expiry is at or before now.
func (r *Registry) Sweep(now time.Time) []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []*Entry
	for id, e := range r.entries {
		if !e.ExpiresAt.After(now) {
			expired = append(expired, e)
			delete(r.entries, id)
		}
	}
	return expired
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
