package sandbox

import (
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// ResourceLimits is the hard resource ceiling of one sandbox. Limits are
// enforced by the execution substrate (cgroups + rlimits), not cooperatively.
type ResourceLimits struct {
	CPUShares int64 `json:"cpu_shares" yaml:"cpu_shares"` // 1024 = 1 CPU core
	MemoryMB  int64 `json:"memory_mb" yaml:"memory_mb"`   // hard memory limit, swap pinned to same value
	PidsLimit int64 `json:"pids_limit" yaml:"pids_limit"` // fork bomb protection
	NoFile    int64 `json:"nofile" yaml:"nofile"`         // open file descriptor ulimit
	DiskMB    int64 `json:"disk_mb" yaml:"disk_mb"`       // tmpfs size for /tmp
}

// DefaultLimits are sized for dependency installs and builds of typical
// repositories, not for one-shot script execution.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		CPUShares: 1024, // 1 CPU
		MemoryMB:  1024,
		PidsLimit: 256,
		NoFile:    1024,
		DiskMB:    512,
	}
}

func (rl ResourceLimits) Validate() error {
	if rl.CPUShares < 2 || rl.CPUShares > 8192 {
		return fmt.Errorf("cpu_shares must be 2-8192, got %d", rl.CPUShares)
	}
	if rl.MemoryMB < 64 || rl.MemoryMB > 16384 {
		return fmt.Errorf("memory_mb must be 64-16384, got %d", rl.MemoryMB)
	}
	if rl.PidsLimit < 16 || rl.PidsLimit > 2000 {
		return fmt.Errorf("pids_limit must be 16-2000, got %d", rl.PidsLimit)
	}
	if rl.NoFile < 64 || rl.NoFile > 65536 {
		return fmt.Errorf("nofile must be 64-65536, got %d", rl.NoFile)
	}
	if rl.DiskMB < 16 || rl.DiskMB > 10240 {
		return fmt.Errorf("disk_mb must be 16-10240, got %d", rl.DiskMB)
	}
	return nil
}

// ApplyResourceLimits mutates an OCI spec with cgroup and rlimit ceilings.
func ApplyResourceLimits(spec *specs.Spec, limits ResourceLimits) {
	if spec.Linux == nil {
		spec.Linux = &specs.Linux{}
	}
	if spec.Linux.Resources == nil {
		spec.Linux.Resources = &specs.LinuxResources{}
	}

	// CFS quota gives a hard CPU cap; shares alone are best-effort.
	// period=100ms, quota = (CPUShares/1024) * period.
	period := uint64(100000)
	quota := int64(float64(limits.CPUShares) / 1024.0 * float64(period))
	if quota < 1000 {
		quota = 1000
	}
	spec.Linux.Resources.CPU = &specs.LinuxCPU{
		Period: &period,
		Quota:  &quota,
	}

	memoryBytes := limits.MemoryMB * 1024 * 1024
	spec.Linux.Resources.Memory = &specs.LinuxMemory{
		Limit: &memoryBytes,
		Swap:  &memoryBytes,
	}

	spec.Linux.Resources.Pids = &specs.LinuxPids{
		Limit: limits.PidsLimit,
	}

	tmpfsBytes := limits.DiskMB * 1024 * 1024
	spec.Mounts = appendIfNotExists(spec.Mounts, specs.Mount{
		Destination: "/tmp",
		Type:        "tmpfs",
		Source:      "tmpfs",
		Options: []string{
			"nosuid", "nodev",
			fmt.Sprintf("size=%d", tmpfsBytes),
			"mode=1777",
		},
	})

	spec.Process.Rlimits = []specs.POSIXRlimit{
		{Type: "RLIMIT_NOFILE", Hard: safeUint64(limits.NoFile), Soft: safeUint64(limits.NoFile)},
		{Type: "RLIMIT_NPROC", Hard: safeUint64(limits.PidsLimit), Soft: safeUint64(limits.PidsLimit)},
		{Type: "RLIMIT_CORE", Hard: 0, Soft: 0},
		{Type: "RLIMIT_STACK", Hard: 8388608, Soft: 8388608},
	}
}

func safeUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func appendIfNotExists(mounts []specs.Mount, m specs.Mount) []specs.Mount {
	for _, existing := range mounts {
		if existing.Destination == m.Destination {
			return mounts
		}
	}
	return append(mounts, m)
}
