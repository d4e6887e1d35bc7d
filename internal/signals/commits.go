package signals

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/go-diff/diff"

	"repo-sentinel/internal/model"
)

const (
	// recordSep/fieldSep keep git log output parseable even when commit
	// messages contain newlines.
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// gitLog is the git invocation point, replaceable in tests.
var gitLog = func(ctx context.Context, repoPath string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...) // #nosec G204 -- args built internally
	cmd.Dir = repoPath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %v: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// CommitExtractor produces a bounded list of commit records with diff
// statistics from a checked-out repository tree.
type CommitExtractor struct {
	Limit     int // max commits extracted
	DiffLimit int // max bytes of unified diff retained per commit
	scanner   *PatternScanner
}

// NewCommitExtractor creates an extractor with the given bounds.
func NewCommitExtractor(limit, diffLimit int) *CommitExtractor {
	if limit < 1 {
		limit = 50
	}
	if diffLimit < 1 {
		diffLimit = 16 * 1024
	}
	return &CommitExtractor{Limit: limit, DiffLimit: diffLimit, scanner: NewPatternScanner()}
}

// Extract reads up to Limit commits from repoPath. A commit that fails
// to parse is logged and skipped; partial data is better than aborting.
func (e *CommitExtractor) Extract(ctx context.Context, repoPath string) ([]model.CommitRecord, error) {
	format := strings.Join([]string{"%H", "%an <%ae>", "%at", "%B"}, fieldSep) + recordSep
	out, err := gitLog(ctx, repoPath,
		"log", "-n", strconv.Itoa(e.Limit), "--pretty=format:"+format)
	if err != nil {
		return nil, fmt.Errorf("listing commits: %w", err)
	}

	var records []model.CommitRecord
	for _, raw := range strings.Split(out, recordSep) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		rec, err := e.parseCommit(ctx, repoPath, raw)
		if err != nil {
			log.Warn().Err(err).Str("repo", repoPath).Msg("skipping unparseable commit")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (e *CommitExtractor) parseCommit(ctx context.Context, repoPath, raw string) (model.CommitRecord, error) {
	fields := strings.SplitN(raw, fieldSep, 4)
	if len(fields) != 4 {
		return model.CommitRecord{}, fmt.Errorf("malformed log record (%d fields)", len(fields))
	}

	ts, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return model.CommitRecord{}, fmt.Errorf("bad author timestamp %q: %w", fields[2], err)
	}

	rec := model.CommitRecord{
		Hash:       fields[0],
		Author:     fields[1],
		AuthorTime: time.Unix(ts, 0).UTC(),
		Message:    strings.TrimSpace(fields[3]),
	}

	rawDiff, err := gitLog(ctx, repoPath,
		"show", "--format=", "--unified=3", "--no-color", rec.Hash)
	if err != nil {
		return model.CommitRecord{}, fmt.Errorf("reading diff for %s: %w", shortHash(rec.Hash), err)
	}

	rec.Files, rec.Added, rec.Removed = diffStats(rawDiff)
	rec.Diff = truncateDiff(rawDiff, e.DiffLimit)

	matches := e.scanner.Scan(rawDiff)
	rec.SuspiciousPatterns = Names(matches)
	if len(matches) > 0 {
		log.Debug().
			Str("commit", shortHash(rec.Hash)).
			Str("patterns", describe(matches)).
			Msg("suspicious patterns in commit diff")
	}

	return rec, nil
}

// diffStats parses a multi-file unified diff into changed paths and
// added/removed line counts. An unparseable diff yields zero stats
// rather than an error.
func diffStats(rawDiff string) (files []string, added, removed int) {
	fileDiffs, err := diff.ParseMultiFileDiff([]byte(rawDiff))
	if err != nil {
		return nil, 0, 0
	}
	for _, fd := range fileDiffs {
		files = append(files, cleanDiffPath(fd.NewName, fd.OrigName))
		stat := fd.Stat()
		added += int(stat.Added + stat.Changed)
		removed += int(stat.Deleted + stat.Changed)
	}
	return files, added, removed
}

// cleanDiffPath strips the a/ b/ prefixes git puts on diff paths and
// falls back to the original name for deletions.
func cleanDiffPath(newName, origName string) string {
	name := newName
	if name == "" || name == "/dev/null" {
		name = origName
	}
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	return name
}

func truncateDiff(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n... [diff truncated]"
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
