// Package scoring aggregates per-signal risk into a single repository
// score. It is pure computation: no I/O, no clock, no logging except the
// panic guard.
package scoring

import (
	"math"

	"github.com/rs/zerolog/log"

	"repo-sentinel/internal/model"
)

// Category weights. When a category contributed no signal its weight is
// removed and the rest are renormalized, so a repository with only
// dependency findings is scored entirely on those.
const (
	weightCommits      = 0.40
	weightDependencies = 0.35
	weightAlerts       = 0.25
)

// Result is the aggregate risk of one analyzed repository.
type Result struct {
	Score    int             `json:"score"` // in [0,100]
	Level    model.RiskLevel `json:"level"`
	Degraded bool            `json:"degraded,omitempty"` // scoring itself failed; neutral defaults applied
}

// Score aggregates commit scores, dependency tiers and runtime alerts.
// An internal panic degrades to a neutral (50, medium) result instead of
// taking the job down.
func Score(commits []model.CommitRecord, deps []model.DependencyRecord, alerts []model.Alert) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("scoring failed, applying neutral defaults")
			result = Result{Score: 50, Level: model.RiskMedium, Degraded: true}
		}
	}()

	type category struct {
		weight float64
		value  float64
		ok     bool
	}
	cats := []category{
		{weight: weightCommits},
		{weight: weightDependencies},
		{weight: weightAlerts},
	}
	cats[0].value, cats[0].ok = commitComponent(commits)
	cats[1].value, cats[1].ok = dependencyComponent(deps)
	cats[2].value, cats[2].ok = alertComponent(alerts)

	var weighted, totalWeight float64
	for _, c := range cats {
		if !c.ok {
			continue
		}
		weighted += c.value * c.weight
		totalWeight += c.weight
	}
	if totalWeight == 0 {
		return Result{Score: 0, Level: model.RiskLow}
	}

	score := int(math.Round(weighted / totalWeight))
	return Result{Score: score, Level: LevelFor(score)}
}

// LevelFor maps a 0-100 score onto the four risk levels.
func LevelFor(score int) model.RiskLevel {
	switch {
	case score < 25:
		return model.RiskLow
	case score < 50:
		return model.RiskMedium
	case score < 75:
		return model.RiskHigh
	default:
		return model.RiskCritical
	}
}

// commitComponent is the mean risk score across extracted commits. A
// commit keeps its zero default score until classification runs, so
// unclassified commits count as zero rather than dropping out.
func commitComponent(commits []model.CommitRecord) (float64, bool) {
	if len(commits) == 0 {
		return 0, false
	}
	sum := 0
	for _, c := range commits {
		sum += c.RiskScore
	}
	return float64(sum) / float64(len(commits)), true
}

// dependencyComponent is the mean tier ordinal across classified
// dependencies.
func dependencyComponent(deps []model.DependencyRecord) (float64, bool) {
	sum, n := 0, 0
	for _, d := range deps {
		ord, ok := model.TierOrdinal(d.RiskTier)
		if !ok {
			continue
		}
		sum += ord
		n++
	}
	if n == 0 {
		return 0, false
	}
	return float64(sum) / float64(n), true
}

// alertComponent is the mean alert severity mapped onto the 0-100 scale.
func alertComponent(alerts []model.Alert) (float64, bool) {
	if len(alerts) == 0 {
		return 0, false
	}
	sum := 0
	for _, a := range alerts {
		sum += severityOrdinal(a.Severity)
	}
	return float64(sum) / float64(len(alerts)), true
}

func severityOrdinal(s model.Severity) int {
	switch s {
	case model.SeverityLow:
		return 25
	case model.SeverityMedium:
		return 50
	case model.SeverityHigh:
		return 75
	case model.SeverityCritical:
		return 100
	}
	return 0
}
