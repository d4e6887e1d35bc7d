package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"repo-sentinel/internal/model"
)

// OutcomeKind distinguishes the three ways an oracle consultation ends.
type OutcomeKind string

const (
	// OutcomeVerdict means a well-formed verdict was extracted.
	OutcomeVerdict OutcomeKind = "verdict"
	// OutcomeUnavailable means the oracle could not be reached.
	OutcomeUnavailable OutcomeKind = "unavailable"
	// OutcomeMalformed means the oracle responded but the response could
	// not be parsed into a verdict.
	OutcomeMalformed OutcomeKind = "malformed"
)

// fallbackConfidence is attached to verdicts synthesized locally when
// the oracle gave no usable answer.
const fallbackConfidence = 0.1

// fallbackCommitScore is the neutral commit risk used when no oracle
// verdict is available and local patterns say nothing either way.
const fallbackCommitScore = 50

// CommitAssessment is the oracle's judgment of one commit.
type CommitAssessment struct {
	Kind    OutcomeKind
	Score   int // in [0,100]
	Verdict model.Verdict
}

// DependencyAssessment is the oracle's judgment of one dependency.
type DependencyAssessment struct {
	Kind    OutcomeKind
	Tier    model.RiskTier
	Verdict model.Verdict
}

// Adapter turns commits and dependencies into oracle consultations and
// parses the structured verdicts back out. Every path returns a usable
// assessment: oracle failure degrades to a low-confidence fallback, it
// never propagates as an error.
type Adapter struct {
	client Client
}

// NewAdapter wraps client.
func NewAdapter(client Client) *Adapter {
	return &Adapter{client: client}
}

const commitSystemPrompt = `You are a supply-chain security analyst reviewing a single git commit.
Assess whether the change is malicious, suspicious, or benign.
Respond with ONLY a JSON object, no prose, in this shape:
{"risk_score": <0-100>, "summary": "<one sentence>", "threats": ["<threat>", ...], "confidence": <0.0-1.0>}`

const dependencySystemPrompt = `You are a supply-chain security analyst reviewing a single declared dependency.
Assess the risk it poses to projects that install it.
Respond with ONLY a JSON object, no prose, in this shape:
{"risk_tier": "safe"|"low"|"medium"|"high"|"critical", "summary": "<one sentence>", "threats": ["<threat>", ...], "confidence": <0.0-1.0>}`

// AssessCommit consults the oracle about one commit.
func (a *Adapter) AssessCommit(ctx context.Context, rec model.CommitRecord) CommitAssessment {
	raw, err := a.client.Complete(ctx, commitSystemPrompt, commitPrompt(rec))
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			log.Warn().Err(err).Str("commit", rec.Hash).Msg("unexpected oracle error")
		}
		return fallbackCommit(rec, OutcomeUnavailable)
	}

	var payload struct {
		RiskScore  json.Number `json:"risk_score"`
		Summary    string      `json:"summary"`
		Threats    []string    `json:"threats"`
		Confidence any         `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(cleanJSONResponse(raw)), &payload); err != nil {
		log.Warn().Err(err).Str("commit", rec.Hash).Msg("malformed oracle verdict")
		return fallbackCommit(rec, OutcomeMalformed)
	}

	score, err := payload.RiskScore.Int64()
	if err != nil || payload.Summary == "" {
		return fallbackCommit(rec, OutcomeMalformed)
	}

	return CommitAssessment{
		Kind:  OutcomeVerdict,
		Score: clampScore(int(score)),
		Verdict: model.Verdict{
			Summary:    payload.Summary,
			Threats:    payload.Threats,
			Confidence: NormalizeConfidence(payload.Confidence),
		},
	}
}

// AssessDependency consults the oracle about one dependency.
func (a *Adapter) AssessDependency(ctx context.Context, dep model.DependencyRecord) DependencyAssessment {
	raw, err := a.client.Complete(ctx, dependencySystemPrompt, dependencyPrompt(dep))
	if err != nil {
		return fallbackDependency(dep, OutcomeUnavailable)
	}

	var payload struct {
		RiskTier   string   `json:"risk_tier"`
		Summary    string   `json:"summary"`
		Threats    []string `json:"threats"`
		Confidence any      `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(cleanJSONResponse(raw)), &payload); err != nil {
		log.Warn().Err(err).Str("dependency", dep.Name).Msg("malformed oracle verdict")
		return fallbackDependency(dep, OutcomeMalformed)
	}

	tier := model.RiskTier(strings.ToLower(payload.RiskTier))
	if _, ok := model.TierOrdinal(tier); !ok || payload.Summary == "" {
		return fallbackDependency(dep, OutcomeMalformed)
	}

	return DependencyAssessment{
		Kind: OutcomeVerdict,
		Tier: tier,
		Verdict: model.Verdict{
			Summary:    payload.Summary,
			Threats:    payload.Threats,
			Confidence: NormalizeConfidence(payload.Confidence),
		},
	}
}

func commitPrompt(rec model.CommitRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Commit: %s\nAuthor: %s\nMessage: %s\n", rec.Hash, rec.Author, rec.Message)
	fmt.Fprintf(&b, "Files changed: %s (+%d/-%d)\n", strings.Join(rec.Files, ", "), rec.Added, rec.Removed)
	if len(rec.SuspiciousPatterns) > 0 {
		fmt.Fprintf(&b, "Local pattern matches: %s\n", strings.Join(rec.SuspiciousPatterns, ", "))
	}
	fmt.Fprintf(&b, "\nDiff:\n%s\n", rec.Diff)
	return b.String()
}

func dependencyPrompt(dep model.DependencyRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dependency: %s\nVersion: %s\nEcosystem: %s\n", dep.Name, dep.Version, dep.Ecosystem)
	if dep.Typosquat.Suspected {
		fmt.Fprintf(&b, "Typosquat suspicion: similar to %s (confidence %.2f)\n",
			strings.Join(dep.Typosquat.SimilarTo, ", "), dep.Typosquat.Confidence)
	}
	return b.String()
}

func fallbackCommit(rec model.CommitRecord, kind OutcomeKind) CommitAssessment {
	score := fallbackCommitScore
	threats := rec.SuspiciousPatterns
	summary := "Oracle unavailable; neutral score assigned"
	if kind == OutcomeMalformed {
		summary = "Oracle response unusable; neutral score assigned"
	}
	if len(rec.SuspiciousPatterns) > 0 {
		score = 75
		summary = "Oracle unavailable; local suspicious patterns raised the score"
	}
	return CommitAssessment{
		Kind:  kind,
		Score: score,
		Verdict: model.Verdict{
			Summary:    summary,
			Threats:    threats,
			Confidence: fallbackConfidence,
			Fallback:   true,
		},
	}
}

func fallbackDependency(dep model.DependencyRecord, kind OutcomeKind) DependencyAssessment {
	tier := model.TierMedium
	summary := "Oracle unavailable; neutral tier assigned"
	if kind == OutcomeMalformed {
		summary = "Oracle response unusable; neutral tier assigned"
	}
	var threats []string
	if dep.Typosquat.Suspected {
		tier = model.TierHigh
		summary = "Oracle unavailable; typosquat suspicion raised the tier"
		threats = []string{"possible typosquat of " + strings.Join(dep.Typosquat.SimilarTo, ", ")}
	}
	return DependencyAssessment{
		Kind: kind,
		Tier: tier,
		Verdict: model.Verdict{
			Summary:    summary,
			Threats:    threats,
			Confidence: fallbackConfidence,
			Fallback:   true,
		},
	}
}

// cleanJSONResponse strips markdown code fences and any prose around
// the outermost JSON object. Providers wrap JSON despite instructions.
func cleanJSONResponse(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
