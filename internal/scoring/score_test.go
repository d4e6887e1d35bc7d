package scoring

import (
	"testing"

	"repo-sentinel/internal/model"
)

func classified(score int) model.CommitRecord {
	return model.CommitRecord{RiskScore: score, Verdict: &model.Verdict{Summary: "x", Confidence: 1}}
}

func TestScore_Empty(t *testing.T) {
	got := Score(nil, nil, nil)
	if got.Score != 0 || got.Level != model.RiskLow || got.Degraded {
		t.Errorf("Score(empty) = %+v, want {0 low false}", got)
	}
}

func TestScore_SingleCategoryRenormalizes(t *testing.T) {
	// Only dependency signal present: it carries full weight.
	deps := []model.DependencyRecord{{Name: "x", RiskTier: model.TierCritical}}
	got := Score(nil, deps, nil)
	if got.Score != 100 {
		t.Errorf("Score = %d, want 100", got.Score)
	}
	if got.Level != model.RiskCritical {
		t.Errorf("Level = %v, want critical", got.Level)
	}
}

func TestScore_TwoCategories(t *testing.T) {
	commits := []model.CommitRecord{classified(80)}
	alerts := []model.Alert{{Severity: model.SeverityCritical}}
	got := Score(commits, nil, alerts)
	// (80*0.40 + 100*0.25) / 0.65 = 87.7, rounded.
	if got.Score != 88 {
		t.Errorf("Score = %d, want 88", got.Score)
	}
	if got.Level != model.RiskCritical {
		t.Errorf("Level = %v, want critical", got.Level)
	}
}

func TestScore_CommitMean(t *testing.T) {
	commits := []model.CommitRecord{classified(0), classified(80)}
	got := Score(commits, nil, nil)
	if got.Score != 40 {
		t.Errorf("Score = %d, want 40 (mean of 0 and 80)", got.Score)
	}
	if got.Level != model.RiskMedium {
		t.Errorf("Level = %v, want medium", got.Level)
	}

	commits = []model.CommitRecord{classified(5), classified(90), classified(10)}
	if got := Score(commits, nil, nil); got.Score != 35 {
		t.Errorf("Score = %d, want 35 (mean of 5, 90, 10)", got.Score)
	}
}

func TestScore_UnclassifiedCommitsCountZero(t *testing.T) {
	// A commit's score stays 0 until classification runs, so an
	// unclassified commit weighs the mean down instead of dropping out.
	commits := []model.CommitRecord{{Hash: "aaaa1111"}, classified(80)}
	got := Score(commits, nil, nil)
	if got.Score != 40 || got.Level != model.RiskMedium {
		t.Errorf("Score = %+v, want {40 medium}", got)
	}
}

func TestScore_DependencyMean(t *testing.T) {
	deps := []model.DependencyRecord{
		{Name: "a", RiskTier: model.TierCritical},
		{Name: "b", RiskTier: model.TierSafe},
	}
	got := Score(nil, deps, nil)
	if got.Score != 50 {
		t.Errorf("Score = %d, want 50 (mean of 100 and 0)", got.Score)
	}
	if got.Level != model.RiskHigh {
		t.Errorf("Level = %v, want high", got.Level)
	}
}

func TestScore_AlertMean(t *testing.T) {
	alerts := []model.Alert{
		{Severity: model.SeverityMedium},
		{Severity: model.SeverityCritical},
	}
	got := Score(nil, nil, alerts)
	if got.Score != 75 {
		t.Errorf("Score = %d, want 75 (mean of 50 and 100)", got.Score)
	}
	if got.Level != model.RiskCritical {
		t.Errorf("Level = %v, want critical", got.Level)
	}
}

func TestScore_AllCategories(t *testing.T) {
	commits := []model.CommitRecord{classified(60)}
	deps := []model.DependencyRecord{{RiskTier: model.TierMedium}}
	alerts := []model.Alert{{Severity: model.SeverityLow}}
	got := Score(commits, deps, alerts)
	// 60*0.40 + 50*0.35 + 25*0.25 = 47.75, rounded to 48.
	if got.Score != 48 {
		t.Errorf("Score = %d, want 48", got.Score)
	}
	if got.Level != model.RiskMedium {
		t.Errorf("Level = %v, want medium", got.Level)
	}
}

func TestLevelFor_Thresholds(t *testing.T) {
	tests := []struct {
		score int
		want  model.RiskLevel
	}{
		{0, model.RiskLow},
		{24, model.RiskLow},
		{25, model.RiskMedium},
		{49, model.RiskMedium},
		{50, model.RiskHigh},
		{74, model.RiskHigh},
		{75, model.RiskCritical},
		{100, model.RiskCritical},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.score); got != tt.want {
			t.Errorf("LevelFor(%d) = %v, want %v", tt.score, got, tt.want)
		}
	}
}
