package model

import "time"

// RiskTier is the five-level ordinal classification of dependency risk.
type RiskTier string

const (
	TierSafe     RiskTier = "safe"
	TierLow      RiskTier = "low"
	TierMedium   RiskTier = "medium"
	TierHigh     RiskTier = "high"
	TierCritical RiskTier = "critical"
)

// TierOrdinal maps a risk tier onto the 0-100 scale used by scoring.
func TierOrdinal(t RiskTier) (int, bool) {
	switch t {
	case TierSafe:
		return 0, true
	case TierLow:
		return 25, true
	case TierMedium:
		return 50, true
	case TierHigh:
		return 75, true
	case TierCritical:
		return 100, true
	}
	return 0, false
}

// Verdict is the structured output of the threat oracle for one commit or
// dependency. A verdict is attached at most once per record.
type Verdict struct {
	Summary    string   `json:"summary"`
	Threats    []string `json:"threats,omitempty"`
	Confidence float64  `json:"confidence"` // in [0,1]
	Fallback   bool     `json:"fallback,omitempty"`
}

// CommitRecord is one extracted commit with diff statistics and its
// classification result. RiskScore and Verdict are write-once.
type CommitRecord struct {
	Hash       string    `json:"hash"`
	Author     string    `json:"author"`
	AuthorTime time.Time `json:"author_time"`
	Message    string    `json:"message"`

	Files   []string `json:"files,omitempty"`
	Added   int      `json:"added"`
	Removed int      `json:"removed"`
	Diff    string   `json:"diff,omitempty"` // truncated unified diff

	SuspiciousPatterns []string `json:"suspicious_patterns,omitempty"`

	RiskScore int      `json:"risk_score"` // 0 until classified
	Verdict   *Verdict `json:"verdict,omitempty"`
}

func (c CommitRecord) clone() CommitRecord {
	c.Files = append([]string(nil), c.Files...)
	c.SuspiciousPatterns = append([]string(nil), c.SuspiciousPatterns...)
	if c.Verdict != nil {
		v := *c.Verdict
		v.Threats = append([]string(nil), c.Verdict.Threats...)
		c.Verdict = &v
	}
	return c
}

// Typosquat is the lexical-similarity assessment for one dependency.
type Typosquat struct {
	Suspected  bool     `json:"suspected"`
	SimilarTo  []string `json:"similar_to,omitempty"`
	Confidence float64  `json:"confidence"` // in [0,1]
}

// DependencyRecord is one declared dependency with its classification
// result. RiskTier and Verdict are write-once.
type DependencyRecord struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Ecosystem string `json:"ecosystem"` // npm, pypi, gomod

	RiskTier        RiskTier  `json:"risk_tier"`
	Vulnerabilities []string  `json:"vulnerabilities,omitempty"`
	Typosquat       Typosquat `json:"typosquat"`
	Verdict         *Verdict  `json:"verdict,omitempty"`
}

func (d DependencyRecord) clone() DependencyRecord {
	d.Vulnerabilities = append([]string(nil), d.Vulnerabilities...)
	d.Typosquat.SimilarTo = append([]string(nil), d.Typosquat.SimilarTo...)
	if d.Verdict != nil {
		v := *d.Verdict
		v.Threats = append([]string(nil), d.Verdict.Threats...)
		d.Verdict = &v
	}
	return d
}
