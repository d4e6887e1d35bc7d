// Package pipeline owns the analysis job lifecycle: submission,
// execution through the phase sequence, and read access for callers.
// Each job is mutated by exactly one goroutine; everything handed out
// is a deep copy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"repo-sentinel/internal/events"
	"repo-sentinel/internal/fetch"
	"repo-sentinel/internal/model"
	"repo-sentinel/internal/monitor"
	"repo-sentinel/internal/oracle"
	"repo-sentinel/internal/runtime"
	"repo-sentinel/internal/sandbox"
	"repo-sentinel/internal/signals"
	"repo-sentinel/internal/store"
)

// Options bounds per-job work.
type Options struct {
	WorkRoot       string        // base directory for per-job workspaces
	CommitLimit    int           // max commits analyzed per job
	DiffLimit      int           // max diff bytes retained per commit
	OracleParallel int           // concurrent oracle consultations per job
	InstallTimeout time.Duration // sandboxed dependency-install wall clock
	BuildTimeout   time.Duration // sandboxed build wall clock
}

func (o *Options) applyDefaults() {
	if o.WorkRoot == "" {
		o.WorkRoot = "/var/lib/repo-sentinel/jobs"
	}
	if o.CommitLimit < 1 {
		o.CommitLimit = 50
	}
	if o.DiffLimit < 1 {
		o.DiffLimit = 16 * 1024
	}
	if o.OracleParallel < 1 {
		o.OracleParallel = 4
	}
	if o.InstallTimeout == 0 {
		o.InstallTimeout = 5 * time.Minute
	}
	if o.BuildTimeout == 0 {
		o.BuildTimeout = 5 * time.Minute
	}
}

// RepoFetcher materializes repositories into local working trees.
type RepoFetcher interface {
	Materialize(ctx context.Context, url, dest string) (*fetch.Metadata, error)
}

// CommitSource extracts commit records from a checked-out tree.
type CommitSource interface {
	Extract(ctx context.Context, repoPath string) ([]model.CommitRecord, error)
}

// DependencySource extracts declared dependencies from a checked-out tree.
type DependencySource interface {
	Extract(repoPath string) []model.DependencyRecord
}

// Deps are the collaborators a Controller drives. Commits and
// Dependencies default to the git/manifest extractors; Tracer defaults
// to the global provider.
type Deps struct {
	Sandbox      sandbox.Manager
	Runtimes     *runtime.Registry
	Fetcher      RepoFetcher
	Oracle       *oracle.Adapter
	Bus          *events.Bus
	Store        store.Store
	Saver        *store.AsyncSaver
	Metrics      *monitor.Metrics
	Tracer       *monitor.Tracer
	Commits      CommitSource
	Dependencies DependencySource
}

// Controller coordinates analysis jobs end to end.
type Controller struct {
	deps    Deps
	opts    Options
	scanner *signals.PatternScanner

	mu       sync.Mutex
	jobs     map[string]*model.Job
	draining bool
	running  sync.WaitGroup
}

// NewController wires a controller from its collaborators.
func NewController(deps Deps, opts Options) *Controller {
	opts.applyDefaults()
	if deps.Tracer == nil {
		deps.Tracer = monitor.NewTracer()
	}
	if deps.Commits == nil {
		deps.Commits = signals.NewCommitExtractor(opts.CommitLimit, opts.DiffLimit)
	}
	if deps.Dependencies == nil {
		deps.Dependencies = signals.NewDependencyExtractor()
	}
	return &Controller{
		deps:    deps,
		opts:    opts,
		scanner: signals.NewPatternScanner(),
		jobs:    make(map[string]*model.Job),
	}
}

// StartAnalysis validates the submission, registers a pending job, and
// launches its analysis goroutine. Validation failures allocate nothing.
func (c *Controller) StartAnalysis(ctx context.Context, repoURL, category string) (*model.Job, error) {
	if !fetch.ValidRef(repoURL) {
		return nil, fmt.Errorf("%w: malformed repository reference %q", ErrInvalidInput, repoURL)
	}
	if !c.deps.Runtimes.Supported(category) {
		return nil, fmt.Errorf("%w: unsupported category %q", ErrInvalidInput, category)
	}

	job := &model.Job{
		ID:        uuid.New().String(),
		RepoURL:   repoURL,
		Category:  category,
		Status:    model.StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return nil, ErrShuttingDown
	}
	c.jobs[job.ID] = job
	c.running.Add(1)
	c.mu.Unlock()

	if c.deps.Metrics != nil {
		c.deps.Metrics.ActiveJobs.Inc()
	}
	c.persist(job)

	log.Info().
		Str("job_id", job.ID).
		Str("repo", repoURL).
		Str("category", category).
		Msg("analysis job accepted")

	go c.run(job.ID)
	return c.snapshot(job.ID)
}

// GetStatus returns the reduced view of one job.
func (c *Controller) GetStatus(ctx context.Context, id string) (model.JobSummary, error) {
	job, err := c.GetDetails(ctx, id)
	if err != nil {
		return model.JobSummary{}, err
	}
	return job.Summary(), nil
}

// GetDetails returns a deep copy of the full job record, falling back to
// the store for jobs that predate this process.
func (c *Controller) GetDetails(ctx context.Context, id string) (*model.Job, error) {
	if job, err := c.snapshot(id); err == nil {
		return job, nil
	}
	job, err := c.deps.Store.Load(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job, err
}

// ListRecent returns up to limit recent job summaries.
func (c *Controller) ListRecent(ctx context.Context, limit int) ([]model.JobSummary, error) {
	return c.deps.Store.ListRecent(ctx, limit)
}

// Subscribe attaches a listener to a job's live event stream. For a job
// that is already terminal a synthetic done event is delivered, so late
// subscribers always observe termination.
func (c *Controller) Subscribe(ctx context.Context, id string) (<-chan model.Event, func(), error) {
	if _, err := c.GetDetails(ctx, id); err != nil {
		return nil, nil, err
	}

	ch, cancel := c.deps.Bus.Subscribe(id)

	// Re-check after subscribing: the terminal event may have been
	// published between the existence check and the subscription.
	job, err := c.GetDetails(ctx, id)
	if err == nil && job.Status.Terminal() {
		cancel()
		synth := make(chan model.Event, 1)
		synth <- doneEvent(job)
		close(synth)
		return synth, func() {}, nil
	}
	return ch, cancel, nil
}

// Drain stops accepting submissions and waits for in-flight jobs,
// bounded by ctx.
func (c *Controller) Drain(ctx context.Context) error {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// snapshot returns a deep copy of a live job.
func (c *Controller) snapshot(id string) (*model.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job.Clone(), nil
}

// persist enqueues an async snapshot save, or saves inline when no
// saver is configured.
func (c *Controller) persist(job *model.Job) {
	if c.deps.Saver != nil {
		c.deps.Saver.Enqueue(job)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.deps.Store.Save(ctx, job); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("saving job snapshot")
	}
}
