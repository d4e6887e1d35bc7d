package model

import "time"

// JobStatus is the lifecycle state of an analysis job. Transitions are
// one-directional: pending -> cloning -> analyzing -> completed|failed.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusCloning   JobStatus = "cloning"
	StatusAnalyzing JobStatus = "analyzing"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// validTransitions is the directed edge set of the job state machine.
var validTransitions = map[JobStatus][]JobStatus{
	StatusPending:   {StatusCloning, StatusFailed},
	StatusCloning:   {StatusAnalyzing, StatusFailed},
	StatusAnalyzing: {StatusCompleted, StatusFailed},
}

// ValidTransition reports whether from -> to is an allowed edge.
func ValidTransition(from, to JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RiskLevel is the four-tier classification of a job's aggregate score.
// RiskUnknown is reported only for failed jobs.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
	RiskUnknown  RiskLevel = "unknown"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// LogLevel classifies a job log line.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogSource identifies which stage of the pipeline produced a log line.
type LogSource string

const (
	SourceSystem   LogSource = "system"
	SourceBuild    LogSource = "build"
	SourceAnalysis LogSource = "analysis"
	SourceAI       LogSource = "ai"
)

// LogEntry is one append-only job log line.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   LogLevel  `json:"level"`
	Source  LogSource `json:"source"`
	Message string    `json:"message"`
}

// AlertCategory identifies which signal class raised an alert.
type AlertCategory string

const (
	AlertDependency AlertCategory = "dependency"
	AlertCommit     AlertCategory = "commit"
	AlertRuntime    AlertCategory = "runtime"
)

// Alert is a human-facing explanation of why risk increased. Alerts are
// derived from verdicts and never edited after creation.
type Alert struct {
	ID          string            `json:"id"`
	Time        time.Time         `json:"time"`
	Severity    Severity          `json:"severity"`
	Category    AlertCategory     `json:"category"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Details     map[string]string `json:"details,omitempty"`
	Confidence  float64           `json:"confidence"`
}

// BuildOutcome records the result of the sandboxed install/build phase.
type BuildOutcome struct {
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Errors   []string      `json:"errors,omitempty"`
}

// Job is one end-to-end analysis run for a single repository submission.
// It is mutated exclusively by the pipeline controller that owns it; all
// other components receive copies. Logs and alerts are append-only, and
// progress never decreases within a job's lifetime.
type Job struct {
	ID         string     `json:"id"`
	RepoURL    string     `json:"repo_url"`
	Category   string     `json:"category"` // runtime category, e.g. "nodejs", "python"
	Status     JobStatus  `json:"status"`
	Progress   int        `json:"progress"` // 0-100, monotonically non-decreasing
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Logs   []LogEntry `json:"logs,omitempty"`
	Alerts []Alert    `json:"alerts,omitempty"`

	Commits      []CommitRecord     `json:"commits,omitempty"`
	Dependencies []DependencyRecord `json:"dependencies,omitempty"`

	Build BuildOutcome `json:"build"`

	// RiskScore and RiskLevel are set once scoring completes.
	RiskScore int       `json:"risk_score"`
	RiskLevel RiskLevel `json:"risk_level,omitempty"`

	// Error is the message of the failure that forced a failed transition.
	Error string `json:"error,omitempty"`
}

// Clone returns a deep copy suitable for handing to readers outside the
// controller goroutine.
func (j *Job) Clone() *Job {
	c := *j
	c.Logs = append([]LogEntry(nil), j.Logs...)
	c.Alerts = make([]Alert, len(j.Alerts))
	for i, a := range j.Alerts {
		c.Alerts[i] = a
		if a.Details != nil {
			d := make(map[string]string, len(a.Details))
			for k, v := range a.Details {
				d[k] = v
			}
			c.Alerts[i].Details = d
		}
	}
	c.Commits = make([]CommitRecord, len(j.Commits))
	for i, cm := range j.Commits {
		c.Commits[i] = cm.clone()
	}
	c.Dependencies = make([]DependencyRecord, len(j.Dependencies))
	for i, d := range j.Dependencies {
		c.Dependencies[i] = d.clone()
	}
	c.Build.Errors = append([]string(nil), j.Build.Errors...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Summary returns the listing view of the job.
func (j *Job) Summary() JobSummary {
	return JobSummary{
		ID:        j.ID,
		RepoURL:   j.RepoURL,
		Category:  j.Category,
		Status:    j.Status,
		RiskScore: j.RiskScore,
		RiskLevel: j.RiskLevel,
		CreatedAt: j.CreatedAt,
	}
}

// JobSummary is the reduced record returned by recent-job listings.
type JobSummary struct {
	ID        string    `json:"id"`
	RepoURL   string    `json:"repo_url"`
	Category  string    `json:"category"`
	Status    JobStatus `json:"status"`
	RiskScore int       `json:"risk_score"`
	RiskLevel RiskLevel `json:"risk_level,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
