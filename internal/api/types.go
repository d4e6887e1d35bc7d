package api

import (
	"time"

	"repo-sentinel/internal/model"
)

// AnalyzeRequest submits one repository for analysis.
type AnalyzeRequest struct {
	RepoURL  string `json:"repo_url"`
	Category string `json:"category"` // runtime category: nodejs, python, go
}

// AnalyzeResponse acknowledges an accepted submission.
type AnalyzeResponse struct {
	ID        string          `json:"id"`
	Status    model.JobStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// StatusResponse is the reduced polling view of one job.
type StatusResponse struct {
	ID        string          `json:"id"`
	RepoURL   string          `json:"repo_url"`
	Category  string          `json:"category"`
	Status    model.JobStatus `json:"status"`
	Progress  int             `json:"progress"`
	RiskScore int             `json:"risk_score"`
	RiskLevel model.RiskLevel `json:"risk_level,omitempty"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status          string `json:"status"`
	Database        bool   `json:"database"`
	Sandbox         bool   `json:"sandbox"`
	ActiveSandboxes int    `json:"active_sandboxes"`
	Uptime          string `json:"uptime"`
}
