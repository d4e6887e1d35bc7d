package sandbox

import (
	"context"
	"sync"
	"time"
)

// Liveness is the lifecycle state of one provisioned sandbox.
type Liveness string

const (
	LivenessProvisioning Liveness = "provisioning"
	LivenessRunning      Liveness = "running"
	LivenessStopped      Liveness = "stopped"
	LivenessRemoved      Liveness = "removed"
)

// Handle is an opaque reference to one isolated execution context.
// Exactly one handle exists per job; it is created and destroyed
// exclusively by the Manager and must not outlive its job.
type Handle struct {
	ID          string // substrate container name
	JobID       string
	Category    string
	Image       string
	Limits      ResourceLimits
	Workdir     string // host path bind-mounted read-write at /workspace
	ProvisionAt time.Time

	mu    sync.Mutex
	state Liveness
}

// State returns the current liveness state.
func (h *Handle) State() Liveness {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) setState(s Liveness) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// markRemoved transitions to removed and reports whether this call was
// the one that performed the transition. Release idempotence hangs off
// this.
func (h *Handle) markRemoved() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == LivenessRemoved {
		return false
	}
	h.state = LivenessRemoved
	return true
}

// ExecResult is the captured outcome of one command run inside a sandbox.
// Stdout and stderr are demultiplexed into separate buffers.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Manager provisions, constrains, and tears down isolated execution
// contexts. Implementations must make Release idempotent and keep the
// active-handle registry safe for concurrent jobs.
type Manager interface {
	// Provision creates a sandbox for the job's runtime category with the
	// workspace mounted read-write. The context must reach running within
	// the manager's provision timeout or partially-created resources are
	// released and ErrProvision returned.
	Provision(ctx context.Context, category, jobID, workdir string) (*Handle, error)

	// Exec runs argv inside the sandbox workspace as the constrained
	// identity, enforcing a hard wall-clock timeout (ErrExecTimeout).
	// Output captured so far is returned alongside a timeout error.
	Exec(ctx context.Context, h *Handle, argv []string, timeout time.Duration) (*ExecResult, error)

	// Release stops and removes the sandbox. Idempotent: releasing an
	// already-stopped or already-removed handle succeeds.
	Release(ctx context.Context, h *Handle) error

	// Lookup returns the active handle for a job, if any.
	Lookup(jobID string) (*Handle, bool)

	// ActiveCount reports the number of live sandboxes.
	ActiveCount() int

	Close() error
}

// registry is the only state shared across concurrent jobs: active
// handles keyed by job identifier.
type registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

func newRegistry() *registry {
	return &registry{handles: make(map[string]*Handle)}
}

func (r *registry) insert(h *Handle) {
	r.mu.Lock()
	r.handles[h.JobID] = h
	r.mu.Unlock()
}

func (r *registry) remove(jobID string) {
	r.mu.Lock()
	delete(r.handles, jobID)
	r.mu.Unlock()
}

func (r *registry) lookup(jobID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[jobID]
	return h, ok
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
