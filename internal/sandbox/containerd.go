package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog/log"

	"repo-sentinel/internal/runtime"
)

// Client wraps the containerd client with connection management.
type Client struct {
	inner     *containerd.Client
	socket    string
	namespace string

	mu     sync.RWMutex
	closed bool
}

// NewClient connects to containerd and verifies the connection.
func NewClient(ctx context.Context, socket, namespace string) (*Client, error) {
	inner, err := containerd.New(socket,
		containerd.WithDefaultNamespace(namespace),
		containerd.WithTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to containerd at %s: %v", ErrSubstrateDown, socket, err)
	}

	if _, err := inner.Version(ctx); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("%w: containerd health check failed: %v", ErrSubstrateDown, err)
	}

	log.Info().
		Str("socket", socket).
		Str("namespace", namespace).
		Msg("connected to containerd")

	return &Client{inner: inner, socket: socket, namespace: namespace}, nil
}

func (c *Client) withNamespace(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, c.namespace)
}

// Healthy checks whether the containerd connection is alive.
func (c *Client) Healthy(ctx context.Context) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	_, err := c.inner.Version(ctx)
	return err == nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}

// pullImage pulls a container image if it's not already available.
func (c *Client) pullImage(ctx context.Context, ref string) (containerd.Image, error) {
	ctx = c.withNamespace(ctx)

	image, err := c.inner.GetImage(ctx, ref)
	if err == nil {
		return image, nil
	}

	log.Info().Str("ref", ref).Msg("pulling image")
	image, err = c.inner.Pull(ctx, ref, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("pulling image %s: %w", ref, err)
	}
	return image, nil
}

// ContainerdManager is the containerd sandbox substrate (Linux). Each
// job gets one long-lived container kept alive by a sleep process;
// install/build commands run as exec'd tasks inside it.
type ContainerdManager struct {
	client   *Client
	runtimes *runtime.Registry
	reg      *registry

	limits           ResourceLimits
	provisionTimeout time.Duration

	containers sync.Map // jobID -> containerd.Container
}

// NewContainerdManager creates a containerd-backed manager and reaps
// sandbox containers left over from previous runs.
func NewContainerdManager(ctx context.Context, client *Client, limits ResourceLimits, provisionTimeout time.Duration) (*ContainerdManager, error) {
	if provisionTimeout == 0 {
		provisionTimeout = 30 * time.Second
	}
	m := &ContainerdManager{
		client:           client,
		runtimes:         runtime.NewRegistry(),
		reg:              newRegistry(),
		limits:           limits,
		provisionTimeout: provisionTimeout,
	}

	cleaned, err := m.cleanupOrphaned(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to clean orphaned sandbox containers")
	} else if cleaned > 0 {
		log.Info().Int("count", cleaned).Msg("cleaned orphaned sandbox containers on startup")
	}

	return m, nil
}

func (m *ContainerdManager) Provision(ctx context.Context, category, jobID, workdir string) (*Handle, error) {
	rt, err := m.runtimes.Get(category)
	if err != nil {
		return nil, &Error{JobID: jobID, Op: "resolve_runtime", Err: fmt.Errorf("%w: %s", ErrUnsupportedCategory, category)}
	}

	h := &Handle{
		ID:          "sentinel-" + jobID,
		JobID:       jobID,
		Category:    category,
		Image:       rt.Image(),
		Limits:      m.limits,
		Workdir:     workdir,
		ProvisionAt: time.Now(),
		state:       LivenessProvisioning,
	}

	provCtx, cancel := context.WithTimeout(ctx, m.provisionTimeout)
	defer cancel()
	nsCtx := m.client.withNamespace(provCtx)

	image, err := m.client.pullImage(provCtx, rt.Image())
	if err != nil {
		return nil, &Error{JobID: jobID, Op: "pull_image", Err: fmt.Errorf("%w: %v", ErrProvision, err)}
	}

	container, err := m.client.inner.NewContainer(nsCtx, h.ID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(h.ID+"-snapshot", image),
		containerd.WithNewSpec(
			oci.WithImageConfig(image),
			oci.WithProcessArgs("sleep", "infinity"),
			oci.WithHostname("sandbox"),
			func(_ context.Context, _ oci.Client, _ *containers.Container, s *specs.Spec) error {
				ApplySecurityProfile(s, AnalysisProfile())
				ApplyResourceLimits(s, m.limits)

				s.Mounts = append(s.Mounts, specs.Mount{
					Destination: "/workspace",
					Type:        "bind",
					Source:      workdir,
					Options:     []string{"rbind", "rw"},
				})
				s.Process.Cwd = "/workspace"
				s.Process.Env = []string{
					"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
					"HOME=/tmp",
					"LANG=C.UTF-8",
					"SANDBOX=true",
				}
				return nil
			},
		),
	)
	if err != nil {
		return nil, &Error{JobID: jobID, Op: "create_container", Err: fmt.Errorf("%w: %v", ErrProvision, err)}
	}

	task, err := container.NewTask(nsCtx, cio.NullIO)
	if err != nil {
		m.destroyContainer(context.Background(), container)
		return nil, &Error{JobID: jobID, Op: "create_task", Err: fmt.Errorf("%w: %v", ErrProvision, err)}
	}
	if err := task.Start(nsCtx); err != nil {
		m.destroyContainer(context.Background(), container)
		return nil, &Error{JobID: jobID, Op: "start_task", Err: fmt.Errorf("%w: %v", ErrProvision, err)}
	}

	h.setState(LivenessRunning)
	m.containers.Store(jobID, container)
	m.reg.insert(h)

	log.Info().Str("job_id", jobID).Str("container", h.ID).Msg("sandbox running")
	return h, nil
}

func (m *ContainerdManager) Exec(ctx context.Context, h *Handle, argv []string, timeout time.Duration) (*ExecResult, error) {
	if h.State() != LivenessRunning {
		return nil, &Error{JobID: h.JobID, Op: "exec", Err: ErrReleased}
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	v, ok := m.containers.Load(h.JobID)
	if !ok {
		return nil, &Error{JobID: h.JobID, Op: "exec", Err: ErrReleased}
	}
	container := v.(containerd.Container)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	nsCtx := m.client.withNamespace(execCtx)

	task, err := container.Task(nsCtx, nil)
	if err != nil {
		return nil, &Error{JobID: h.JobID, Op: "exec", Err: err}
	}

	execID := fmt.Sprintf("exec-%d", time.Now().UnixNano())
	var stdout, stderr bytes.Buffer

	process, err := task.Exec(nsCtx, execID, &specs.Process{
		Args: argv,
		Cwd:  "/workspace",
		User: specs.User{UID: sandboxUID, GID: sandboxUID},
		Env: []string{
			"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
			"HOME=/tmp",
		},
	}, cio.NewCreator(cio.WithStreams(nil, &stdout, &stderr)))
	if err != nil {
		return nil, &Error{JobID: h.JobID, Op: "exec_create", Err: err}
	}
	defer func() {
		if _, derr := process.Delete(m.client.withNamespace(context.Background()), containerd.WithProcessKill); derr != nil && !errdefs.IsNotFound(derr) {
			log.Warn().Err(derr).Str("job_id", h.JobID).Msg("exec process delete failed")
		}
	}()

	exitCh, err := process.Wait(nsCtx)
	if err != nil {
		return nil, &Error{JobID: h.JobID, Op: "exec_wait", Err: err}
	}
	if err := process.Start(nsCtx); err != nil {
		return nil, &Error{JobID: h.JobID, Op: "exec_start", Err: err}
	}

	start := time.Now()
	select {
	case status := <-exitCh:
		return &ExecResult{
			ExitCode: int(status.ExitCode()),
			Stdout:   truncateOutput(stdout.String(), 1<<20),
			Stderr:   truncateOutput(stderr.String(), 256*1024),
			Duration: time.Since(start),
		}, nil
	case <-execCtx.Done():
		_ = process.Kill(m.client.withNamespace(context.Background()), 9)
		<-exitCh
		return &ExecResult{
				ExitCode: -1,
				Stdout:   truncateOutput(stdout.String(), 1<<20),
				Stderr:   truncateOutput(stderr.String(), 256*1024),
				Duration: time.Since(start),
			}, &Error{JobID: h.JobID, Op: "exec",
				Err: fmt.Errorf("%w: exceeded %s", ErrExecTimeout, timeout)}
	}
}

// Release is an idempotent stop-then-remove.
func (m *ContainerdManager) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	if !h.markRemoved() {
		return nil
	}
	m.reg.remove(h.JobID)

	v, ok := m.containers.LoadAndDelete(h.JobID)
	if !ok {
		return nil
	}
	container := v.(containerd.Container)

	if err := m.destroyContainer(ctx, container); err != nil {
		return &Error{JobID: h.JobID, Op: "release", Err: err}
	}
	log.Info().Str("job_id", h.JobID).Str("container", h.ID).Msg("sandbox released")
	return nil
}

func (m *ContainerdManager) destroyContainer(ctx context.Context, container containerd.Container) error {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	nsCtx := m.client.withNamespace(cleanupCtx)

	if task, err := container.Task(nsCtx, nil); err == nil {
		if status, serr := task.Status(nsCtx); serr == nil && status.Status != containerd.Stopped {
			_ = task.Kill(nsCtx, 9)
			if exitCh, werr := task.Wait(nsCtx); werr == nil {
				select {
				case <-exitCh:
				case <-time.After(5 * time.Second):
					log.Warn().Str("container_id", container.ID()).Msg("timed out waiting for task to stop")
				}
			}
		}
		if _, derr := task.Delete(nsCtx, containerd.WithProcessKill); derr != nil && !errdefs.IsNotFound(derr) {
			log.Warn().Err(derr).Str("container_id", container.ID()).Msg("failed to delete task")
		}
	}

	if err := container.Delete(nsCtx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("deleting container %s: %w", container.ID(), err)
	}
	return nil
}

// cleanupOrphaned removes sandbox containers left over from previous runs.
func (m *ContainerdManager) cleanupOrphaned(ctx context.Context) (int, error) {
	nsCtx := m.client.withNamespace(ctx)

	list, err := m.client.inner.Containers(nsCtx)
	if err != nil {
		return 0, fmt.Errorf("listing containers: %w", err)
	}

	var cleaned int
	for _, c := range list {
		if !strings.HasPrefix(c.ID(), "sentinel-") {
			continue
		}
		log.Info().Str("container_id", c.ID()).Msg("cleaning orphaned sandbox container")
		if err := m.destroyContainer(ctx, c); err != nil {
			log.Error().Err(err).Str("container_id", c.ID()).Msg("orphan cleanup failed")
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

func (m *ContainerdManager) Lookup(jobID string) (*Handle, bool) {
	return m.reg.lookup(jobID)
}

func (m *ContainerdManager) ActiveCount() int {
	return m.reg.count()
}

func (m *ContainerdManager) Close() error {
	return m.client.Close()
}
