package model

import (
	"testing"
	"time"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		want     bool
	}{
		{StatusPending, StatusCloning, true},
		{StatusPending, StatusFailed, true},
		{StatusCloning, StatusAnalyzing, true},
		{StatusCloning, StatusFailed, true},
		{StatusAnalyzing, StatusCompleted, true},
		{StatusAnalyzing, StatusFailed, true},

		{StatusPending, StatusAnalyzing, false}, // no stage skipping
		{StatusPending, StatusCompleted, false},
		{StatusCloning, StatusPending, false}, // no going back
		{StatusAnalyzing, StatusCloning, false},
		{StatusCompleted, StatusFailed, false}, // terminal states are final
		{StatusFailed, StatusPending, false},
		{StatusCompleted, StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := ValidTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for status, want := range map[JobStatus]bool{
		StatusPending:   false,
		StatusCloning:   false,
		StatusAnalyzing: false,
		StatusCompleted: true,
		StatusFailed:    true,
	} {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestTierOrdinal(t *testing.T) {
	cases := []struct {
		tier RiskTier
		want int
		ok   bool
	}{
		{TierSafe, 0, true},
		{TierLow, 25, true},
		{TierMedium, 50, true},
		{TierHigh, 75, true},
		{TierCritical, 100, true},
		{RiskTier("extreme"), 0, false},
		{RiskTier(""), 0, false},
	}
	for _, tc := range cases {
		got, ok := TierOrdinal(tc.tier)
		if got != tc.want || ok != tc.ok {
			t.Errorf("TierOrdinal(%q) = %d, %v, want %d, %v", tc.tier, got, ok, tc.want, tc.ok)
		}
	}
}

func TestJobClone_Independence(t *testing.T) {
	started := time.Now()
	job := &Job{
		ID:     "job-1",
		Status: StatusAnalyzing,
		Logs:   []LogEntry{{Message: "cloning repository"}},
		Alerts: []Alert{{
			Title:   "suspicious commit",
			Details: map[string]string{"commit": "aaaa1111"},
		}},
		Commits: []CommitRecord{{
			Hash:               "aaaa1111",
			Files:              []string{"index.js"},
			SuspiciousPatterns: []string{"eval-on-decoded-data"},
			Verdict:            &Verdict{Summary: "bad", Threats: []string{"backdoor"}},
		}},
		Dependencies: []DependencyRecord{{
			Name:      "lodahs",
			Typosquat: Typosquat{Suspected: true, SimilarTo: []string{"lodash"}},
		}},
		Build:     BuildOutcome{Errors: []string{"npm exited 1"}},
		StartedAt: &started,
	}

	clone := job.Clone()

	// Mutations through the clone must never reach the original.
	clone.Logs[0].Message = "changed"
	clone.Alerts[0].Details["commit"] = "bbbb2222"
	clone.Commits[0].Files[0] = "evil.js"
	clone.Commits[0].Verdict.Threats[0] = "changed"
	clone.Dependencies[0].Typosquat.SimilarTo[0] = "changed"
	clone.Build.Errors[0] = "changed"
	*clone.StartedAt = clone.StartedAt.Add(time.Hour)

	if job.Logs[0].Message != "cloning repository" {
		t.Error("log entry shared with clone")
	}
	if job.Alerts[0].Details["commit"] != "aaaa1111" {
		t.Error("alert details map shared with clone")
	}
	if job.Commits[0].Files[0] != "index.js" {
		t.Error("commit files shared with clone")
	}
	if job.Commits[0].Verdict.Threats[0] != "backdoor" {
		t.Error("commit verdict shared with clone")
	}
	if job.Dependencies[0].Typosquat.SimilarTo[0] != "lodash" {
		t.Error("typosquat slice shared with clone")
	}
	if job.Build.Errors[0] != "npm exited 1" {
		t.Error("build errors shared with clone")
	}
	if !job.StartedAt.Equal(started) {
		t.Error("StartedAt pointer shared with clone")
	}
}

func TestJobSummary(t *testing.T) {
	created := time.Now()
	job := &Job{
		ID:        "job-1",
		RepoURL:   "https://github.com/example/repo",
		Category:  "nodejs",
		Status:    StatusCompleted,
		RiskScore: 62,
		RiskLevel: RiskHigh,
		CreatedAt: created,
		Logs:      []LogEntry{{Message: "noise that summaries drop"}},
	}

	s := job.Summary()
	if s.ID != "job-1" || s.Status != StatusCompleted || s.RiskScore != 62 || s.RiskLevel != RiskHigh {
		t.Errorf("Summary() = %+v", s)
	}
	if !s.CreatedAt.Equal(created) {
		t.Error("CreatedAt not carried into summary")
	}
}
