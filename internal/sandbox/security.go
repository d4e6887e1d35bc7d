package sandbox

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"repo-sentinel/pkg/seccomp"
)

// sandboxUID is the non-root identity everything inside a sandbox runs as.
const sandboxUID = 65534

// fsOwnershipCaps are the only capabilities retained: package managers
// chown/chmod files they unpack into the workspace. Everything else,
// including all network- and admin-related capabilities, is dropped.
var fsOwnershipCaps = []string{
	"CAP_CHOWN",
	"CAP_DAC_OVERRIDE",
	"CAP_FOWNER",
}

// SecurityProfile describes the isolation posture of a sandbox. The code
// under analysis is adversarial by assumption, so network egress is
// categorically denied rather than filtered.
type SecurityProfile struct {
	Seccomp       *specs.LinuxSeccomp
	Capabilities  []string
	Namespaces    []specs.LinuxNamespace
	MaskedPaths   []string
	ReadonlyPaths []string
}

// AnalysisProfile is the single posture used for repository analysis:
// isolated network namespace with no interfaces, deny-by-default seccomp,
// masked kernel surfaces.
func AnalysisProfile() SecurityProfile {
	return SecurityProfile{
		Seccomp:      seccomp.DefaultProfile(),
		Capabilities: fsOwnershipCaps,
		Namespaces: []specs.LinuxNamespace{
			{Type: specs.PIDNamespace},
			{Type: specs.NetworkNamespace},
			{Type: specs.MountNamespace},
			{Type: specs.UTSNamespace},
			{Type: specs.IPCNamespace},
		},
		MaskedPaths: []string{
			"/proc/acpi",
			"/proc/kcore",
			"/proc/keys",
			"/proc/latency_stats",
			"/proc/timer_list",
			"/proc/timer_stats",
			"/proc/sched_debug",
			"/proc/scsi",
			"/sys/firmware",
			"/sys/devices/virtual/powercap",
		},
		ReadonlyPaths: []string{
			"/proc/asound",
			"/proc/bus",
			"/proc/fs",
			"/proc/irq",
			"/proc/sys",
			"/proc/sysrq-trigger",
		},
	}
}

// ApplySecurityProfile mutates an OCI spec with the given posture.
func ApplySecurityProfile(spec *specs.Spec, profile SecurityProfile) {
	if spec.Linux == nil {
		spec.Linux = &specs.Linux{}
	}
	if spec.Process == nil {
		spec.Process = &specs.Process{}
	}
	if spec.Process.Capabilities == nil {
		spec.Process.Capabilities = &specs.LinuxCapabilities{}
	}

	spec.Linux.Seccomp = profile.Seccomp
	spec.Process.Capabilities.Bounding = profile.Capabilities
	spec.Process.Capabilities.Effective = profile.Capabilities
	spec.Process.Capabilities.Inheritable = profile.Capabilities
	spec.Process.Capabilities.Permitted = profile.Capabilities
	spec.Process.Capabilities.Ambient = profile.Capabilities

	spec.Linux.Namespaces = profile.Namespaces
	spec.Linux.MaskedPaths = profile.MaskedPaths
	spec.Linux.ReadonlyPaths = profile.ReadonlyPaths

	spec.Process.NoNewPrivileges = true
	spec.Process.User = specs.User{
		UID: sandboxUID,
		GID: sandboxUID,
	}

	// Rootfs stays read-only; the workspace bind mount and /tmp tmpfs are
	// the only writable surfaces.
	if spec.Root != nil {
		spec.Root.Readonly = true
	}
}
