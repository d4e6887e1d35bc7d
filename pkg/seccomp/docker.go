package seccomp

import (
	"encoding/json"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// dockerProfile is the JSON shape Docker's --security-opt seccomp=
// expects. It mirrors the OCI LinuxSeccomp structure with Docker's field
// names.
type dockerProfile struct {
	DefaultAction string          `json:"defaultAction"`
	Architectures []string        `json:"architectures,omitempty"`
	Syscalls      []dockerSyscall `json:"syscalls"`
}

type dockerSyscall struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

var dockerActions = map[specs.LinuxSeccompAction]string{
	specs.ActAllow: "SCMP_ACT_ALLOW",
	specs.ActErrno: "SCMP_ACT_ERRNO",
	specs.ActKill:  "SCMP_ACT_KILL",
	specs.ActTrap:  "SCMP_ACT_TRAP",
	specs.ActLog:   "SCMP_ACT_LOG",
}

var dockerArches = map[specs.Arch]string{
	specs.ArchX86_64:  "SCMP_ARCH_X86_64",
	specs.ArchAARCH64: "SCMP_ARCH_AARCH64",
}

// DockerProfileJSON renders the default profile in the JSON format the
// Docker CLI consumes.
func DockerProfileJSON() ([]byte, error) {
	return toDockerJSON(DefaultProfile())
}

func toDockerJSON(p *specs.LinuxSeccomp) ([]byte, error) {
	out := dockerProfile{
		DefaultAction: dockerActions[p.DefaultAction],
	}
	for _, a := range p.Architectures {
		if name, ok := dockerArches[a]; ok {
			out.Architectures = append(out.Architectures, name)
		}
	}
	for _, sc := range p.Syscalls {
		out.Syscalls = append(out.Syscalls, dockerSyscall{
			Names:  sc.Names,
			Action: dockerActions[sc.Action],
		})
	}
	return json.MarshalIndent(out, "", "  ")
}
