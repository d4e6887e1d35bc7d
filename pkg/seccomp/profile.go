package seccomp

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// ProfileBuilder assembles an OCI seccomp profile rule by rule. The
// default action denies, so anything not explicitly allowed fails with
// EPERM inside the sandbox.
type ProfileBuilder struct {
	profile *specs.LinuxSeccomp
}

func NewBuilder() *ProfileBuilder {
	return &ProfileBuilder{
		profile: &specs.LinuxSeccomp{
			DefaultAction: specs.ActErrno,
			Architectures: []specs.Arch{
				specs.ArchX86_64,
				specs.ArchAARCH64,
			},
		},
	}
}

// AllowSyscalls adds one allow rule covering names.
func (b *ProfileBuilder) AllowSyscalls(names ...string) *ProfileBuilder {
	return b.rule(specs.ActAllow, names)
}

// BlockSyscalls adds an explicit errno rule. Redundant with the default
// action but keeps hostile syscalls visible in the rendered profile.
func (b *ProfileBuilder) BlockSyscalls(names ...string) *ProfileBuilder {
	return b.rule(specs.ActErrno, names)
}

// TrapSyscalls adds a SIGSYS trap rule for syscalls whose attempted use
// is itself a signal worth surfacing.
func (b *ProfileBuilder) TrapSyscalls(names ...string) *ProfileBuilder {
	return b.rule(specs.ActTrap, names)
}

func (b *ProfileBuilder) rule(action specs.LinuxSeccompAction, names []string) *ProfileBuilder {
	b.profile.Syscalls = append(b.profile.Syscalls, specs.LinuxSyscall{
		Names:  names,
		Action: action,
	})
	return b
}

func (b *ProfileBuilder) Build() *specs.LinuxSeccomp {
	return b.profile
}
