package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	goruntime "runtime"

	"github.com/rs/zerolog/log"

	"repo-sentinel/internal/config"
)

// NewManager picks the best available substrate: containerd on Linux,
// Docker elsewhere.
func NewManager(ctx context.Context, cfg *config.Config) (Manager, error) {
	limits := ResourceLimits{
		CPUShares: cfg.Sandbox.Limits.CPUShares,
		MemoryMB:  cfg.Sandbox.Limits.MemoryMB,
		PidsLimit: cfg.Sandbox.Limits.PidsLimit,
		NoFile:    cfg.Sandbox.Limits.NoFile,
		DiskMB:    cfg.Sandbox.Limits.DiskMB,
	}
	if limits == (ResourceLimits{}) {
		limits = DefaultLimits()
	}
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("sandbox limits: %w", err)
	}

	preference := cfg.Sandbox.Backend
	if preference == "" {
		preference = "auto"
	}

	switch preference {
	case "containerd":
		return newContainerdManager(ctx, cfg, limits)
	case "docker":
		return newDockerManager(cfg, limits)
	case "auto":
		if goruntime.GOOS == "linux" {
			m, err := newContainerdManager(ctx, cfg, limits)
			if err == nil {
				log.Info().Msg("using containerd sandbox substrate")
				return m, nil
			}
			log.Warn().Err(err).Msg("containerd unavailable, trying Docker")
		}
		m, err := newDockerManager(cfg, limits)
		if err == nil {
			log.Info().Msg("using Docker sandbox substrate")
			return m, nil
		}
		return nil, fmt.Errorf("no sandbox substrate available: install containerd (Linux) or Docker")
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q: must be auto, containerd, or docker", preference)
	}
}

func newContainerdManager(ctx context.Context, cfg *config.Config, limits ResourceLimits) (Manager, error) {
	client, err := NewClient(ctx, cfg.Sandbox.ContainerdSocket, cfg.Sandbox.Namespace)
	if err != nil {
		return nil, err
	}
	m, err := NewContainerdManager(ctx, client, limits, cfg.Sandbox.ProvisionTimeout)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return m, nil
}

func newDockerManager(cfg *config.Config, limits ResourceLimits) (Manager, error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, fmt.Errorf("docker not found in PATH: %w", err)
	}
	if err := exec.Command("docker", "info").Run(); err != nil {
		return nil, fmt.Errorf("docker daemon not reachable: %w", err)
	}
	return NewDockerManager(limits, cfg.Sandbox.ProvisionTimeout), nil
}
