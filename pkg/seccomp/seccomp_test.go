package seccomp

import (
	"encoding/json"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

func TestDefaultProfile_DeniesByDefault(t *testing.T) {
	p := DefaultProfile()
	if p.DefaultAction != specs.ActErrno {
		t.Errorf("DefaultAction = %v, want ActErrno", p.DefaultAction)
	}
	if len(p.Syscalls) == 0 {
		t.Fatal("no syscall rules")
	}
}

func TestDefaultProfile_NoNetworkSyscalls(t *testing.T) {
	p := DefaultProfile()
	for _, rule := range p.Syscalls {
		if rule.Action != specs.ActAllow {
			continue
		}
		for _, name := range rule.Names {
			switch name {
			case "socket", "connect", "bind", "listen", "accept", "accept4":
				t.Errorf("network syscall %q is allowlisted", name)
			}
		}
	}
}

func TestDefaultProfile_BlocksMountAndNamespaceEscapes(t *testing.T) {
	p := DefaultProfile()
	blocked := map[string]bool{}
	for _, rule := range p.Syscalls {
		if rule.Action == specs.ActErrno || rule.Action == specs.ActTrap {
			for _, name := range rule.Names {
				blocked[name] = true
			}
		}
	}
	for _, name := range []string{"mount", "pivot_root", "setns", "unshare", "ptrace", "bpf"} {
		if !blocked[name] {
			t.Errorf("syscall %q is not blocked or trapped", name)
		}
	}
}

func TestDockerProfileJSON_ValidJSON(t *testing.T) {
	data, err := DockerProfileJSON()
	if err != nil {
		t.Fatalf("DockerProfileJSON: %v", err)
	}
	var parsed struct {
		DefaultAction string `json:"defaultAction"`
		Syscalls      []struct {
			Names  []string `json:"names"`
			Action string   `json:"action"`
		} `json:"syscalls"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.DefaultAction != "SCMP_ACT_ERRNO" {
		t.Errorf("defaultAction = %q, want SCMP_ACT_ERRNO", parsed.DefaultAction)
	}
	if len(parsed.Syscalls) == 0 {
		t.Error("no syscall rules in Docker profile")
	}
}

func TestBuilder(t *testing.T) {
	p := NewBuilder().
		AllowSyscalls("read", "write").
		BlockSyscalls("mount").
		Build()

	if len(p.Syscalls) != 2 {
		t.Fatalf("got %d rules, want 2", len(p.Syscalls))
	}
	if p.Syscalls[0].Action != specs.ActAllow {
		t.Errorf("first rule action = %v, want ActAllow", p.Syscalls[0].Action)
	}
	if p.Syscalls[1].Action != specs.ActErrno {
		t.Errorf("second rule action = %v, want ActErrno", p.Syscalls[1].Action)
	}
}
