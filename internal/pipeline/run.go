package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"repo-sentinel/internal/model"
	"repo-sentinel/internal/monitor"
	"repo-sentinel/internal/oracle"
	"repo-sentinel/internal/sandbox"
	"repo-sentinel/internal/scoring"
	"repo-sentinel/internal/signals"
)

// Progress checkpoints, one per completed phase. Progress within a job
// only moves forward.
const (
	progressCloning      = 5
	progressMaterialized = 15
	progressProvisioned  = 25
	progressBuilt        = 40
	progressCommitsDone  = 60
	progressDepsDone     = 80
	progressScored       = 90
	progressDone         = 100
)

// run drives one job from pending to a terminal state. It is the only
// goroutine that mutates the job.
func (c *Controller) run(id string) {
	defer c.running.Done()
	start := time.Now()

	job, err := c.snapshot(id)
	if err != nil {
		log.Error().Str("job_id", id).Msg("job vanished before analysis started")
		return
	}

	ctx, span := c.deps.Tracer.StartSpan(context.Background(), "analyze",
		monitor.AttrJobID.String(id),
		monitor.AttrCategory.String(job.Category),
	)
	defer span.End()

	execErr := c.execute(ctx, id)

	var final *model.Job
	if execErr != nil {
		final = c.finishFailed(id, execErr)
	} else {
		final = c.finishCompleted(id)
	}

	if c.deps.Metrics != nil {
		c.deps.Metrics.ActiveJobs.Dec()
		c.deps.Metrics.RecordJob(final.Category, string(final.Status), time.Since(start).Seconds())
		if final.Status == model.StatusCompleted {
			c.deps.Metrics.RiskScore.WithLabelValues(final.Category).Observe(float64(final.RiskScore))
		}
	}
	span.SetAttributes(
		monitor.AttrRiskScore.Int(final.RiskScore),
		monitor.AttrRiskLevel.String(string(final.RiskLevel)),
	)
}

// execute walks the phase sequence. Any returned error fails the job; a
// panic is converted into one. The sandbox, once provisioned, is always
// released on the way out.
func (c *Controller) execute(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("job_id", id).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("analysis panicked")
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	job, err := c.snapshot(id)
	if err != nil {
		return err
	}

	// Phase: clone.
	c.transition(id, model.StatusCloning)
	c.setStage(id, progressCloning, "cloning")
	c.appendLog(id, model.LogInfo, model.SourceSystem, "cloning "+job.RepoURL)

	workdir := filepath.Join(c.opts.WorkRoot, id, "repo")
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(filepath.Join(c.opts.WorkRoot, id)); rmErr != nil {
			log.Warn().Err(rmErr).Str("job_id", id).Msg("removing workspace")
		}
	}()

	meta, err := c.deps.Fetcher.Materialize(ctx, job.RepoURL, workdir)
	if err != nil {
		return err
	}
	c.appendLog(id, model.LogInfo, model.SourceSystem,
		fmt.Sprintf("checked out branch %s", meta.Branch))
	c.setStage(id, progressMaterialized, "materialized")
	c.transition(id, model.StatusAnalyzing)

	// Phase: provision sandbox.
	handle, err := c.deps.Sandbox.Provision(ctx, job.Category, id, workdir)
	if err != nil {
		return fmt.Errorf("provisioning sandbox: %w", err)
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if relErr := c.deps.Sandbox.Release(relCtx, handle); relErr != nil {
			log.Error().Err(relErr).Str("job_id", id).Msg("releasing sandbox")
		}
		if c.deps.Metrics != nil {
			c.deps.Metrics.ActiveSandboxes.Set(float64(c.deps.Sandbox.ActiveCount()))
		}
	}()
	if c.deps.Metrics != nil {
		c.deps.Metrics.ActiveSandboxes.Set(float64(c.deps.Sandbox.ActiveCount()))
	}
	c.appendLog(id, model.LogInfo, model.SourceSystem, "sandbox provisioned")
	c.setStage(id, progressProvisioned, "sandboxed")

	// Phase: sandboxed install and build.
	c.runBuild(ctx, id, handle)
	c.setStage(id, progressBuilt, "built")

	// Phase: commit analysis.
	if err := c.analyzeCommits(ctx, id, workdir); err != nil {
		return err
	}
	c.setStage(id, progressCommitsDone, "commits_analyzed")

	// Phase: dependency analysis.
	c.analyzeDependencies(ctx, id, workdir)
	c.setStage(id, progressDepsDone, "dependencies_analyzed")

	// Phase: scoring.
	c.score(id)
	c.setStage(id, progressScored, "scored")
	return nil
}

// runBuild installs and builds the project inside the sandbox. Build
// failures degrade the analysis (static signals still score) rather
// than failing the job; the output is scanned for runtime indicators.
func (c *Controller) runBuild(ctx context.Context, id string, handle *sandbox.Handle) {
	job, err := c.snapshot(id)
	if err != nil {
		return
	}
	rt, err := c.deps.Runtimes.Get(job.Category)
	if err != nil {
		c.appendLog(id, model.LogError, model.SourceBuild, err.Error())
		return
	}

	start := time.Now()
	outcome := model.BuildOutcome{Success: true}

	steps := []struct {
		name    string
		argv    []string
		timeout time.Duration
	}{
		{"install", rt.InstallCommand(), c.opts.InstallTimeout},
		{"build", rt.BuildCommand(), c.opts.BuildTimeout},
	}
	for _, step := range steps {
		c.appendLog(id, model.LogInfo, model.SourceBuild,
			fmt.Sprintf("running %s: %s", step.name, strings.Join(step.argv, " ")))

		res, execErr := c.deps.Sandbox.Exec(ctx, handle, step.argv, step.timeout)
		if c.deps.Metrics != nil {
			phase := "build_" + step.name
			c.deps.Metrics.PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
		}
		if res != nil {
			c.scanRuntimeOutput(id, step.name, res.Stdout+"\n"+res.Stderr)
		}
		if execErr != nil || (res != nil && res.ExitCode != 0) {
			outcome.Success = false
			msg := fmt.Sprintf("%s failed", step.name)
			if execErr != nil {
				msg = fmt.Sprintf("%s: %v", msg, execErr)
			} else {
				msg = fmt.Sprintf("%s with exit code %d", msg, res.ExitCode)
			}
			outcome.Errors = append(outcome.Errors, msg)
			c.appendLog(id, model.LogWarn, model.SourceBuild, msg)
			if res != nil && res.Stderr != "" {
				c.appendLog(id, model.LogWarn, model.SourceBuild, tail(res.Stderr, 2048))
			}
			break
		}
		c.appendLog(id, model.LogInfo, model.SourceBuild, step.name+" succeeded")
	}

	outcome.Duration = time.Since(start)
	c.mutate(id, func(j *model.Job) {
		j.Build = outcome
	})
}

// scanRuntimeOutput raises one alert per build step whose sandboxed
// output matched suspicious patterns, at the worst matched severity.
func (c *Controller) scanRuntimeOutput(id, step, output string) {
	matches := c.scanner.Scan(output)
	sev, ok := signals.HighestSeverity(matches)
	if !ok {
		return
	}
	names := signals.Names(matches)
	c.appendAlert(id, model.Alert{
		ID:          uuid.New().String(),
		Time:        time.Now().UTC(),
		Severity:    sev,
		Category:    model.AlertRuntime,
		Title:       "Suspicious activity during " + step,
		Description: fmt.Sprintf("Output matched %d suspicious patterns: %s", len(matches), strings.Join(names, ", ")),
		Details:     map[string]string{"patterns": strings.Join(names, ", "), "step": step},
		Confidence:  0.6,
	})
}

// analyzeCommits extracts recent commits and consults the oracle about
// each, with bounded parallelism.
func (c *Controller) analyzeCommits(ctx context.Context, id, workdir string) error {
	records, err := c.deps.Commits.Extract(ctx, workdir)
	if err != nil {
		return fmt.Errorf("extracting commits: %w", err)
	}
	c.appendLog(id, model.LogInfo, model.SourceAnalysis,
		fmt.Sprintf("analyzing %d commits", len(records)))

	assessments := make([]oracle.CommitAssessment, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.OracleParallel)
	for i := range records {
		g.Go(func() error {
			assessments[i] = c.deps.Oracle.AssessCommit(gctx, records[i])
			return nil
		})
	}
	_ = g.Wait()

	for i := range records {
		a := assessments[i]
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordOracleCall(string(a.Kind))
		}
		v := a.Verdict
		records[i].RiskScore = a.Score
		records[i].Verdict = &v
		if v.Fallback {
			c.appendLog(id, model.LogWarn, model.SourceAI,
				fmt.Sprintf("oracle fallback for commit %s", shortHash(records[i].Hash)))
		}
	}

	c.mutate(id, func(j *model.Job) {
		j.Commits = records
	})

	for i := range records {
		if alert, ok := commitAlert(records[i]); ok {
			c.appendAlert(id, alert)
		}
	}
	return nil
}

// analyzeDependencies extracts declared dependencies, applies the local
// typosquat check, and consults the oracle about each.
func (c *Controller) analyzeDependencies(ctx context.Context, id, workdir string) {
	records := c.deps.Dependencies.Extract(workdir)
	c.appendLog(id, model.LogInfo, model.SourceAnalysis,
		fmt.Sprintf("analyzing %d dependencies", len(records)))

	for i := range records {
		records[i].Typosquat = signals.AssessTyposquat(records[i])
	}

	assessments := make([]oracle.DependencyAssessment, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.OracleParallel)
	for i := range records {
		g.Go(func() error {
			assessments[i] = c.deps.Oracle.AssessDependency(gctx, records[i])
			return nil
		})
	}
	_ = g.Wait()

	for i := range records {
		a := assessments[i]
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordOracleCall(string(a.Kind))
		}
		v := a.Verdict
		records[i].RiskTier = a.Tier
		records[i].Verdict = &v
	}

	c.mutate(id, func(j *model.Job) {
		j.Dependencies = records
	})

	for i := range records {
		if alert, ok := dependencyAlert(records[i]); ok {
			c.appendAlert(id, alert)
		}
	}
}

// score aggregates all collected signals into the job's final risk.
func (c *Controller) score(id string) {
	job, err := c.snapshot(id)
	if err != nil {
		return
	}
	result := scoring.Score(job.Commits, job.Dependencies, job.Alerts)
	if result.Degraded {
		c.appendLog(id, model.LogWarn, model.SourceAnalysis,
			"scoring degraded, neutral defaults applied")
	}
	c.mutate(id, func(j *model.Job) {
		j.RiskScore = result.Score
		j.RiskLevel = result.Level
	})
	c.appendLog(id, model.LogInfo, model.SourceAnalysis,
		fmt.Sprintf("risk score %d (%s)", result.Score, result.Level))
}

// finishCompleted moves the job to completed and publishes the terminal
// event.
func (c *Controller) finishCompleted(id string) *model.Job {
	final := c.mutate(id, func(j *model.Job) {
		now := time.Now().UTC()
		j.Status = model.StatusCompleted
		j.FinishedAt = &now
		j.Progress = progressDone
	})
	c.publish(doneEvent(final))
	log.Info().
		Str("job_id", id).
		Int("risk_score", final.RiskScore).
		Str("risk_level", string(final.RiskLevel)).
		Msg("analysis completed")
	return final
}

// finishFailed moves the job to failed and publishes the terminal event
// with score 0 and level unknown.
func (c *Controller) finishFailed(id string, cause error) *model.Job {
	final := c.mutate(id, func(j *model.Job) {
		now := time.Now().UTC()
		j.Status = model.StatusFailed
		j.FinishedAt = &now
		j.Error = cause.Error()
		j.RiskScore = 0
		j.RiskLevel = model.RiskUnknown
	})
	c.publish(doneEvent(final))
	log.Warn().
		Err(cause).
		Str("job_id", id).
		Msg("analysis failed")
	return final
}

// --- job mutation and event helpers -----------------------------------

// mutate applies fn to the live job under lock, persists a snapshot, and
// returns the snapshot.
func (c *Controller) mutate(id string, fn func(*model.Job)) *model.Job {
	c.mu.Lock()
	job, ok := c.jobs[id]
	if !ok {
		c.mu.Unlock()
		return &model.Job{ID: id}
	}
	fn(job)
	clone := job.Clone()
	c.mu.Unlock()

	if c.deps.Saver != nil {
		c.deps.Saver.Enqueue(clone)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.deps.Store.Save(ctx, clone); err != nil {
			log.Warn().Err(err).Str("job_id", id).Msg("saving job snapshot")
		}
		cancel()
	}
	return clone
}

func (c *Controller) publish(ev model.Event) {
	c.deps.Bus.Publish(ev)
}

// transition applies a status edge, refusing invalid ones.
func (c *Controller) transition(id string, to model.JobStatus) {
	c.mutate(id, func(j *model.Job) {
		if !model.ValidTransition(j.Status, to) {
			log.Error().
				Str("job_id", id).
				Str("from", string(j.Status)).
				Str("to", string(to)).
				Msg("refusing invalid status transition")
			return
		}
		j.Status = to
		if to == model.StatusCloning && j.StartedAt == nil {
			now := time.Now().UTC()
			j.StartedAt = &now
		}
	})
}

// setStage records phase completion. Progress never moves backward.
func (c *Controller) setStage(id string, pct int, stage string) {
	final := c.mutate(id, func(j *model.Job) {
		if pct > j.Progress {
			j.Progress = pct
		}
	})
	c.publish(model.Event{
		JobID:    id,
		Kind:     model.EventProgress,
		Time:     time.Now().UTC(),
		Progress: &model.ProgressUpdate{Percentage: final.Progress, Stage: stage},
	})
}

// appendLog appends to the job log, then publishes. State is durable
// before any subscriber can observe it.
func (c *Controller) appendLog(id string, level model.LogLevel, source model.LogSource, msg string) {
	entry := model.LogEntry{
		Time:    time.Now().UTC(),
		Level:   level,
		Source:  source,
		Message: msg,
	}
	c.mutate(id, func(j *model.Job) {
		j.Logs = append(j.Logs, entry)
	})
	c.publish(model.Event{
		JobID: id,
		Kind:  model.EventLog,
		Time:  entry.Time,
		Log:   &entry,
	})
}

// appendAlert appends an alert, then publishes it.
func (c *Controller) appendAlert(id string, alert model.Alert) {
	c.mutate(id, func(j *model.Job) {
		j.Alerts = append(j.Alerts, alert)
	})
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordAlert(string(alert.Severity))
	}
	c.publish(model.Event{
		JobID: id,
		Kind:  model.EventAlert,
		Time:  alert.Time,
		Alert: &alert,
	})
}

// --- alert derivation --------------------------------------------------

// commitAlert derives an alert from a classified commit when its score
// crosses the reporting threshold.
func commitAlert(rec model.CommitRecord) (model.Alert, bool) {
	if rec.Verdict == nil || rec.RiskScore < 50 {
		return model.Alert{}, false
	}
	sev := model.SeverityMedium
	switch {
	case rec.RiskScore >= 90:
		sev = model.SeverityCritical
	case rec.RiskScore >= 70:
		sev = model.SeverityHigh
	}
	details := map[string]string{
		"commit": rec.Hash,
		"author": rec.Author,
	}
	if len(rec.SuspiciousPatterns) > 0 {
		details["patterns"] = strings.Join(rec.SuspiciousPatterns, ", ")
	}
	return model.Alert{
		ID:          uuid.New().String(),
		Time:        time.Now().UTC(),
		Severity:    sev,
		Category:    model.AlertCommit,
		Title:       fmt.Sprintf("High-risk commit %s", shortHash(rec.Hash)),
		Description: rec.Verdict.Summary,
		Details:     details,
		Confidence:  rec.Verdict.Confidence,
	}, true
}

// dependencyAlert derives an alert from a classified dependency at tier
// high or above, or with a suspected typosquat.
func dependencyAlert(rec model.DependencyRecord) (model.Alert, bool) {
	ord, _ := model.TierOrdinal(rec.RiskTier)
	if ord < 75 && !rec.Typosquat.Suspected {
		return model.Alert{}, false
	}
	sev := model.SeverityHigh
	if rec.RiskTier == model.TierCritical {
		sev = model.SeverityCritical
	}
	details := map[string]string{
		"dependency": rec.Name,
		"version":    rec.Version,
		"ecosystem":  rec.Ecosystem,
	}
	desc := "Dependency classified as " + string(rec.RiskTier) + " risk"
	if rec.Verdict != nil && rec.Verdict.Summary != "" {
		desc = rec.Verdict.Summary
	}
	confidence := 0.5
	if rec.Verdict != nil {
		confidence = rec.Verdict.Confidence
	}
	if rec.Typosquat.Suspected {
		details["similar_to"] = strings.Join(rec.Typosquat.SimilarTo, ", ")
	}
	return model.Alert{
		ID:          uuid.New().String(),
		Time:        time.Now().UTC(),
		Severity:    sev,
		Category:    model.AlertDependency,
		Title:       "Risky dependency " + rec.Name,
		Description: desc,
		Details:     details,
		Confidence:  confidence,
	}, true
}

// doneEvent builds the exactly-once terminal event for a finished job.
func doneEvent(job *model.Job) model.Event {
	summary := model.DoneSummary{TotalAlerts: len(job.Alerts)}
	for _, a := range job.Alerts {
		if a.Severity == model.SeverityCritical {
			summary.CriticalAlerts++
		}
		switch a.Category {
		case model.AlertDependency:
			summary.DependencyIssues++
		case model.AlertCommit:
			summary.CommitIssues++
		}
	}
	return model.Event{
		JobID: job.ID,
		Kind:  model.EventDone,
		Time:  time.Now().UTC(),
		Done: &model.DoneReport{
			RiskScore: job.RiskScore,
			RiskLevel: job.RiskLevel,
			Summary:   summary,
			Alerts:    job.Alerts,
			Error:     job.Error,
		},
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// tail returns the last max bytes of s.
func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "... " + s[len(s)-max:]
}
