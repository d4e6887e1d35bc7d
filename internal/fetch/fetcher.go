package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Distinct failure classes callers branch on.
var (
	ErrRepoNotFound = errors.New("repository not found")
	ErrNetwork      = errors.New("network error fetching repository")
	ErrInvalidRef   = errors.New("invalid repository reference")
)

// refPattern accepts https/ssh git URLs and scp-like git@host:path refs.
var refPattern = regexp.MustCompile(`^(https://[\w.\-]+/[\w.\-~/]+|ssh://[\w.\-@]+/[\w.\-~/]+|git@[\w.\-]+:[\w.\-~/]+)(\.git)?$`)

// ValidRef reports whether url is an acceptable repository reference.
func ValidRef(url string) bool {
	return refPattern.MatchString(url)
}

// gitCommand is the git invocation point, replaceable in tests.
var gitCommand = func(ctx context.Context, dir string, stdout, stderr *bytes.Buffer, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...) // #nosec G204 -- args built internally
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// Metadata describes the materialized checkout.
type Metadata struct {
	Branch string
	Remote string
}

// Fetcher materializes repositories into local working trees with a
// bounded history depth.
type Fetcher struct {
	Depth   int
	Timeout time.Duration
}

// NewFetcher returns a fetcher with the given history depth bound.
func NewFetcher(depth int, timeout time.Duration) *Fetcher {
	if depth < 1 {
		depth = 50
	}
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &Fetcher{Depth: depth, Timeout: timeout}
}

// Materialize clones url into dest. It fails with ErrInvalidRef before
// touching the network, and distinguishes ErrRepoNotFound from
// ErrNetwork afterward.
func (f *Fetcher) Materialize(ctx context.Context, url, dest string) (*Metadata, error) {
	if !ValidRef(url) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRef, url)
	}

	cloneCtx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	err := gitCommand(cloneCtx, "", &stdout, &stderr,
		"clone", "--depth", fmt.Sprintf("%d", f.Depth), "--single-branch", url, dest)
	if err != nil {
		return nil, classifyCloneError(url, stderr.String(), cloneCtx.Err())
	}

	meta := &Metadata{Remote: url}

	stdout.Reset()
	stderr.Reset()
	if err := gitCommand(cloneCtx, dest, &stdout, &stderr,
		"rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		meta.Branch = strings.TrimSpace(stdout.String())
	} else {
		log.Warn().Str("url", url).Msg("could not resolve checked-out branch")
	}

	return meta, nil
}

func classifyCloneError(url, stderr string, ctxErr error) error {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "not found") ||
		strings.Contains(s, "does not exist") ||
		strings.Contains(s, "404"):
		return fmt.Errorf("%w: %s", ErrRepoNotFound, url)
	case ctxErr != nil ||
		strings.Contains(s, "could not resolve host") ||
		strings.Contains(s, "unable to access") ||
		strings.Contains(s, "connection") ||
		strings.Contains(s, "timed out"):
		return fmt.Errorf("%w: %s", ErrNetwork, firstLine(stderr))
	default:
		return fmt.Errorf("%w: %s", ErrNetwork, firstLine(stderr))
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
