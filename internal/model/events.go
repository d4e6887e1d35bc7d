package model

import "time"

// EventKind discriminates the four per-job event types delivered to
// subscribers.
type EventKind string

const (
	EventLog      EventKind = "log"
	EventAlert    EventKind = "alert"
	EventProgress EventKind = "progress"
	EventDone     EventKind = "done"
)

// ProgressUpdate reports phase completion. Percentage values within one
// job are monotonically non-decreasing.
type ProgressUpdate struct {
	Percentage int    `json:"percentage"` // 0-100
	Stage      string `json:"stage"`
}

// DoneSummary is the derived count rollup carried by the terminal event.
type DoneSummary struct {
	TotalAlerts      int `json:"total_alerts"`
	CriticalAlerts   int `json:"critical_alerts"`
	DependencyIssues int `json:"dependency_issues"`
	CommitIssues     int `json:"commit_issues"`
}

// DoneReport is the payload of the exactly-once terminal event. On
// failure it carries score 0, level "unknown", and the error message.
type DoneReport struct {
	RiskScore int         `json:"risk_score"`
	RiskLevel RiskLevel   `json:"risk_level"`
	Summary   DoneSummary `json:"summary"`
	Alerts    []Alert     `json:"alerts,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Event is one item on a job's event stream. Exactly one of the payload
// pointers is set, matching Kind.
type Event struct {
	JobID string    `json:"job_id"`
	Kind  EventKind `json:"kind"`
	Time  time.Time `json:"time"`

	Log      *LogEntry       `json:"log,omitempty"`
	Alert    *Alert          `json:"alert,omitempty"`
	Progress *ProgressUpdate `json:"progress,omitempty"`
	Done     *DoneReport     `json:"done,omitempty"`
}
