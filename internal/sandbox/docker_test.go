package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// commandRecorder replaces runCommand so docker tests never touch a real
// daemon. Each recorded call keeps the full argv for later assertions.
type commandRecorder struct {
	mu    sync.Mutex
	calls [][]string

	// respond inspects argv and fills stdout/stderr or returns an error.
	respond func(args []string, stdout, stderr *bytes.Buffer) error
}

func (r *commandRecorder) install(t *testing.T) {
	t.Helper()
	orig := runCommand
	runCommand = func(_ context.Context, _ []string, stdout, stderr *bytes.Buffer, _ string, args ...string) error {
		r.mu.Lock()
		r.calls = append(r.calls, args)
		r.mu.Unlock()
		if r.respond != nil {
			return r.respond(args, stdout, stderr)
		}
		return nil
	}
	t.Cleanup(func() { runCommand = orig })
}

func (r *commandRecorder) countVerb(verb string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, call := range r.calls {
		if len(call) > 0 && call[0] == verb {
			n++
		}
	}
	return n
}

// healthyDocker answers like a cooperative daemon: containers start and
// report running, everything else succeeds silently.
func healthyDocker(args []string, stdout, _ *bytes.Buffer) error {
	if len(args) > 0 && args[0] == "inspect" {
		stdout.WriteString("true\n")
	}
	return nil
}

func newTestManager(t *testing.T, rec *commandRecorder) (*DockerManager, string) {
	t.Helper()
	rec.install(t)

	m := NewDockerManager(DefaultLimits(), 5*time.Second)
	t.Cleanup(func() { m.Close() })

	workdir := filepath.Join(t.TempDir(), "job-1", "repo")
	if err := os.MkdirAll(workdir, 0o750); err != nil {
		t.Fatal(err)
	}
	return m, workdir
}

func TestDockerProvisionAndRelease(t *testing.T) {
	rec := &commandRecorder{respond: healthyDocker}
	m, workdir := newTestManager(t, rec)

	h, err := m.Provision(context.Background(), "nodejs", "job-1", workdir)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if h.State() != LivenessRunning {
		t.Errorf("state = %v, want running", h.State())
	}
	if h.ID != "sentinel-job-1" {
		t.Errorf("container name = %q", h.ID)
	}
	if m.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", m.ActiveCount())
	}
	if got, ok := m.Lookup("job-1"); !ok || got != h {
		t.Error("Lookup did not return the provisioned handle")
	}

	// Seccomp profile materialized next to the repo checkout.
	if _, err := os.Stat(filepath.Join(workdir, "..", "seccomp.json")); err != nil {
		t.Errorf("seccomp profile not written: %v", err)
	}

	if err := m.Release(context.Background(), h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount after release = %d, want 0", m.ActiveCount())
	}

	// Second release is a no-op, not a second docker rm.
	removed := rec.countVerb("rm")
	if err := m.Release(context.Background(), h); err != nil {
		t.Fatalf("double Release: %v", err)
	}
	if rec.countVerb("rm") != removed {
		t.Error("double release issued another docker rm")
	}
}

func TestDockerProvisionHardening(t *testing.T) {
	rec := &commandRecorder{respond: healthyDocker}
	m, workdir := newTestManager(t, rec)

	if _, err := m.Provision(context.Background(), "python", "job-1", workdir); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	rec.mu.Lock()
	var runArgs []string
	for _, call := range rec.calls {
		if len(call) > 0 && call[0] == "run" {
			runArgs = call
		}
	}
	rec.mu.Unlock()
	if runArgs == nil {
		t.Fatal("no docker run recorded")
	}

	joined := strings.Join(runArgs, " ")
	for _, want := range []string{
		"--network none",
		"--cap-drop ALL",
		"--security-opt no-new-privileges",
		"--read-only",
		"--pids-limit",
		"--memory",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("docker run args missing %q:\n%s", want, joined)
		}
	}
}

func TestDockerProvisionFailureCleansUp(t *testing.T) {
	rec := &commandRecorder{
		respond: func(args []string, _, stderr *bytes.Buffer) error {
			if len(args) > 0 && args[0] == "run" {
				stderr.WriteString("docker: image pull failed\n")
				return errors.New("exit status 125")
			}
			return nil
		},
	}
	m, workdir := newTestManager(t, rec)

	_, err := m.Provision(context.Background(), "nodejs", "job-1", workdir)
	if !IsProvision(err) {
		t.Fatalf("err = %v, want ErrProvision", err)
	}
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0 after failed provision", m.ActiveCount())
	}
	if rec.countVerb("rm") == 0 {
		t.Error("failed provision did not remove the partial container")
	}
}

func TestDockerProvisionUnsupportedCategory(t *testing.T) {
	rec := &commandRecorder{respond: healthyDocker}
	m, workdir := newTestManager(t, rec)

	_, err := m.Provision(context.Background(), "cobol", "job-1", workdir)
	if !errors.Is(err, ErrUnsupportedCategory) {
		t.Fatalf("err = %v, want ErrUnsupportedCategory", err)
	}
	if rec.countVerb("run") != 0 {
		t.Error("unsupported category still launched a container")
	}
}

func TestDockerExec(t *testing.T) {
	rec := &commandRecorder{
		respond: func(args []string, stdout, _ *bytes.Buffer) error {
			switch args[0] {
			case "inspect":
				stdout.WriteString("true\n")
			case "exec":
				stdout.WriteString("install ok\n")
				if strings.Contains(strings.Join(args, " "), "fail-me") {
					// Produce a genuine *exec.ExitError so exit code
					// extraction takes the real path.
					return exec.Command("sh", "-c", "exit 3").Run()
				}
			}
			return nil
		},
	}
	m, workdir := newTestManager(t, rec)

	h, err := m.Provision(context.Background(), "nodejs", "job-1", workdir)
	if err != nil {
		t.Fatal(err)
	}

	res, err := m.Exec(context.Background(), h, []string{"npm", "install"}, time.Second)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 0 || !strings.Contains(res.Stdout, "install ok") {
		t.Errorf("result = %d %q", res.ExitCode, res.Stdout)
	}

	res, err = m.Exec(context.Background(), h, []string{"sh", "-c", "fail-me"}, time.Second)
	if err != nil {
		t.Fatalf("Exec with non-zero exit: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestDockerExecTimeout(t *testing.T) {
	rec := &commandRecorder{
		respond: func(args []string, stdout, _ *bytes.Buffer) error {
			if args[0] == "inspect" {
				stdout.WriteString("true\n")
			}
			return nil
		},
	}
	// Wrap the recorder's handler so exec blocks past the deadline.
	inner := rec.respond
	rec.respond = func(args []string, stdout, stderr *bytes.Buffer) error {
		if args[0] == "exec" {
			time.Sleep(200 * time.Millisecond)
			return context.DeadlineExceeded
		}
		return inner(args, stdout, stderr)
	}
	m, workdir := newTestManager(t, rec)

	h, err := m.Provision(context.Background(), "nodejs", "job-1", workdir)
	if err != nil {
		t.Fatal(err)
	}

	res, err := m.Exec(context.Background(), h, []string{"npm", "install"}, 50*time.Millisecond)
	if !IsTimeout(err) {
		t.Fatalf("err = %v, want ErrExecTimeout", err)
	}
	if res == nil || res.ExitCode != -1 {
		t.Errorf("result = %+v, want exit code -1", res)
	}
}

func TestDockerExecAfterRelease(t *testing.T) {
	rec := &commandRecorder{respond: healthyDocker}
	m, workdir := newTestManager(t, rec)

	h, err := m.Provision(context.Background(), "nodejs", "job-1", workdir)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Release(context.Background(), h); err != nil {
		t.Fatal(err)
	}

	_, err = m.Exec(context.Background(), h, []string{"npm", "install"}, time.Second)
	if !errors.Is(err, ErrReleased) {
		t.Errorf("err = %v, want ErrReleased", err)
	}
}

func TestRegistryConcurrent(t *testing.T) {
	reg := newRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i)
			reg.insert(&Handle{JobID: id})
			if _, ok := reg.lookup(id); !ok {
				t.Errorf("lookup(%s) missed after insert", id)
			}
			if i%2 == 0 {
				reg.remove(id)
			}
		}(i)
	}
	wg.Wait()

	if got := reg.count(); got != 16 {
		t.Errorf("count = %d, want 16", got)
	}
}

func TestResourceLimitsValidate(t *testing.T) {
	if err := DefaultLimits().Validate(); err != nil {
		t.Fatalf("default limits invalid: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*ResourceLimits)
	}{
		{"zero cpu", func(l *ResourceLimits) { l.CPUShares = 0 }},
		{"tiny memory", func(l *ResourceLimits) { l.MemoryMB = 8 }},
		{"huge memory", func(l *ResourceLimits) { l.MemoryMB = 1 << 20 }},
		{"pids too low", func(l *ResourceLimits) { l.PidsLimit = 1 }},
		{"nofile too low", func(l *ResourceLimits) { l.NoFile = 4 }},
		{"disk too low", func(l *ResourceLimits) { l.DiskMB = 1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			limits := DefaultLimits()
			tc.mutate(&limits)
			if err := limits.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
