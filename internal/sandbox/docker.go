package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"repo-sentinel/internal/runtime"
	"repo-sentinel/pkg/seccomp"
)

// runCommand is the docker CLI invocation point, replaceable in tests.
var runCommand = func(ctx context.Context, env []string, stdout, stderr *bytes.Buffer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- args built internally, not from raw user input
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// DockerManager is the Docker-CLI sandbox substrate (macOS, or Linux
// without containerd). One long-lived container per job, held alive by a
// sleep entrypoint; analysis commands run through docker exec.
type DockerManager struct {
	runtimes         *runtime.Registry
	reg              *registry
	limits           ResourceLimits
	provisionTimeout time.Duration
	dockerHost       string

	mu            sync.Mutex
	closed        bool
	cancelCleanup context.CancelFunc
}

// NewDockerManager creates a Docker-backed manager and starts the orphan
// reaper for containers that survived a previous crash.
func NewDockerManager(limits ResourceLimits, provisionTimeout time.Duration) *DockerManager {
	if provisionTimeout == 0 {
		provisionTimeout = 30 * time.Second
	}
	m := &DockerManager{
		runtimes:         runtime.NewRegistry(),
		reg:              newRegistry(),
		limits:           limits,
		provisionTimeout: provisionTimeout,
		dockerHost:       resolveDockerHost(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelCleanup = cancel
	go m.orphanCleanupLoop(ctx)

	return m
}

// resolveDockerHost figures out the Docker socket. On macOS, Docker
// Desktop uses a context-specific socket that child processes don't
// inherit.
func resolveDockerHost() string {
	if h := os.Getenv("DOCKER_HOST"); h != "" {
		return h
	}
	out, err := exec.Command("docker", "context", "inspect", "--format", "{{.Endpoints.docker.Host}}").Output()
	if err == nil {
		host := strings.TrimSpace(string(out))
		if host != "" {
			log.Debug().Str("docker_host", host).Msg("resolved Docker host from context")
			return host
		}
	}
	return ""
}

func (m *DockerManager) env() []string {
	if m.dockerHost == "" {
		return nil
	}
	return []string{"DOCKER_HOST=" + m.dockerHost}
}

func (m *DockerManager) Provision(ctx context.Context, category, jobID, workdir string) (*Handle, error) {
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

	logger := log.With().Str("job_id", jobID).Str("category", category).Logger()
	logger.Info().Str("image", rt.Image()).Msg("provisioning sandbox")

	provCtx, cancel := context.WithTimeout(ctx, m.provisionTimeout)
	defer cancel()

	seccompPath, err := m.writeSeccompProfile(workdir)
	if err != nil {
		return nil, &Error{JobID: jobID, Op: "seccomp_profile", Err: fmt.Errorf("%w: %v", ErrProvision, err)}
	}

	args := m.buildRunArgs(h, seccompPath)

	var stdout, stderr bytes.Buffer
	if err := runCommand(provCtx, m.env(), &stdout, &stderr, "docker", args...); err != nil {
		// Release partially-created resources before reporting failure.
		m.forceRemove(h.ID)
		return nil, &Error{JobID: jobID, Op: "start_container",
			Err: fmt.Errorf("%w: %v: %s", ErrProvision, err, firstLine(stderr.String()))}
	}

	if err := m.waitRunning(provCtx, h.ID); err != nil {
		m.forceRemove(h.ID)
		return nil, &Error{JobID: jobID, Op: "wait_running", Err: fmt.Errorf("%w: %v", ErrProvision, err)}
	}

	h.setState(LivenessRunning)
	m.reg.insert(h)

	logger.Info().Str("container", h.ID).Msg("sandbox running")
	return h, nil
}

func (m *DockerManager) buildRunArgs(h *Handle, seccompPath string) []string {
	limits := h.Limits
	return []string{
		"run", "-d",
		"--name", h.ID,
		"--network", "none",
		"--cap-drop", "ALL",
		"--cap-add", "CHOWN",
		"--cap-add", "DAC_OVERRIDE",
		"--cap-add", "FOWNER",
		"--security-opt", "no-new-privileges",
		"--security-opt", "seccomp=" + seccompPath,
		"--memory", fmt.Sprintf("%dm", limits.MemoryMB),
		"--memory-swap", fmt.Sprintf("%dm", limits.MemoryMB),
		"--pids-limit", fmt.Sprintf("%d", limits.PidsLimit),
		"--cpus", fmt.Sprintf("%.1f", float64(limits.CPUShares)/1024.0),
		"--ulimit", fmt.Sprintf("nofile=%d:%d", limits.NoFile, limits.NoFile),
		"--tmpfs", fmt.Sprintf("/tmp:rw,nosuid,nodev,size=%dm", limits.DiskMB),
		"--read-only",
		"-v", fmt.Sprintf("%s:/workspace:rw", h.Workdir),
		"-w", "/workspace",
		"--user", fmt.Sprintf("%d:%d", sandboxUID, sandboxUID),
		"-e", "HOME=/tmp",
		"-e", "LANG=C.UTF-8",
		"-e", "SANDBOX=true",
		h.Image,
		"sleep", "infinity",
	}
}

func (m *DockerManager) writeSeccompProfile(workdir string) (string, error) {
	profileJSON, err := seccomp.DockerProfileJSON()
	if err != nil {
		return "", err
	}
	path := filepath.Join(workdir, "..", "seccomp.json")
	if err := os.WriteFile(path, profileJSON, 0600); err != nil {
		return "", err
	}
	return path, nil
}

// waitRunning polls container state until running or the context expires.
func (m *DockerManager) waitRunning(ctx context.Context, containerID string) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		var stdout, stderr bytes.Buffer
		err := runCommand(ctx, m.env(), &stdout, &stderr,
			"docker", "inspect", "-f", "{{.State.Running}}", containerID)
		if err == nil && strings.TrimSpace(stdout.String()) == "true" {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("container did not reach running state: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (m *DockerManager) Exec(ctx context.Context, h *Handle, argv []string, timeout time.Duration) (*ExecResult, error) {
	if h.State() != LivenessRunning {
		return nil, &Error{JobID: h.JobID, Op: "exec", Err: ErrReleased}
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{
		"exec",
		"-w", "/workspace",
		"-u", fmt.Sprintf("%d:%d", sandboxUID, sandboxUID),
		h.ID,
	}, argv...)

	start := time.Now()
	var stdout, stderr bytes.Buffer
	err := runCommand(execCtx, m.env(), &stdout, &stderr, "docker", args...)
	duration := time.Since(start)

	result := &ExecResult{
		Stdout:   truncateOutput(stdout.String(), 1<<20),
		Stderr:   truncateOutput(stderr.String(), 256*1024),
		Duration: duration,
	}

	if execCtx.Err() == context.DeadlineExceeded {
		result.ExitCode = -1
		return result, &Error{JobID: h.JobID, Op: "exec",
			Err: fmt.Errorf("%w: exceeded %s", ErrExecTimeout, timeout)}
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, &Error{JobID: h.JobID, Op: "exec", Err: err}
	}
	return result, nil
}

// Release is an idempotent stop-then-remove. "Already stopped" and
// "already gone" both count as success.
func (m *DockerManager) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	if !h.markRemoved() {
		return nil
	}
	m.reg.remove(h.JobID)

	var stdout, stderr bytes.Buffer
	err := runCommand(ctx, m.env(), &stdout, &stderr, "docker", "rm", "-f", h.ID)
	if err != nil && !isNotFoundOutput(stderr.String()) {
		log.Warn().Err(err).Str("container", h.ID).Msg("sandbox remove failed")
		return &Error{JobID: h.JobID, Op: "release", Err: err}
	}

	log.Info().Str("job_id", h.JobID).Str("container", h.ID).Msg("sandbox released")
	return nil
}

func (m *DockerManager) Lookup(jobID string) (*Handle, bool) {
	return m.reg.lookup(jobID)
}

func (m *DockerManager) ActiveCount() int {
	return m.reg.count()
}

func (m *DockerManager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	if m.cancelCleanup != nil {
		m.cancelCleanup()
	}
	return nil
}

func (m *DockerManager) forceRemove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var stdout, stderr bytes.Buffer
	_ = runCommand(ctx, m.env(), &stdout, &stderr, "docker", "rm", "-f", containerID)
}

// orphanCleanupLoop periodically kills sandbox containers that survived
// server crashes.
func (m *DockerManager) orphanCleanupLoop(ctx context.Context) {
	m.cleanupOrphans(ctx)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanupOrphans(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *DockerManager) cleanupOrphans(ctx context.Context) {
	var stdout, stderr bytes.Buffer
	if err := runCommand(ctx, m.env(), &stdout, &stderr,
		"docker", "ps", "--filter", "name=sentinel-", "--format", "{{.Names}}"); err != nil {
		return
	}
	for _, name := range strings.Fields(strings.TrimSpace(stdout.String())) {
		if m.ownsContainer(name) {
			continue
		}
		log.Warn().Str("container", name).Msg("removing orphaned sandbox container")
		m.forceRemove(name)
	}
}

// ownsContainer reports whether a container name belongs to a live handle.
func (m *DockerManager) ownsContainer(name string) bool {
	jobID := strings.TrimPrefix(name, "sentinel-")
	_, ok := m.reg.lookup(jobID)
	return ok
}

func isNotFoundOutput(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no such container") || strings.Contains(s, "is not running")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n... [output truncated]"
}
