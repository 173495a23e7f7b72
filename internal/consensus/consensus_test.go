package consensus

import (
	"errors"
	"testing"

	"github.com/markm8/backend/internal/scoring"
)

func score(provider string, pct float64) *scoring.ScoreResult {
	return &scoring.ScoreResult{ProviderID: provider, Percentage: pct}
}

// ---------------------------------------------------------------------------
// Outlier exclusion
// ---------------------------------------------------------------------------

func TestReconcile_ExcludesSingleOutlier(t *testing.T) {
	// mean = 79, max deviation = 16 (> 10% of 79), so 95 is excluded.
	res, err := Reconcile([]*scoring.ScoreResult{
		score("a", 70), score("b", 72), score("c", 95),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Lower != 70 || res.Upper != 72 {
		t.Fatalf("expected range [70,72], got [%v,%v]", res.Lower, res.Upper)
	}
	want := []bool{true, true, false}
	for i, inc := range want {
		if res.Included[i] != inc {
			t.Fatalf("included[%d] = %v, want %v", i, res.Included[i], inc)
		}
	}
	if res.ReducedConfidence {
		t.Fatal("three scores should not be reduced confidence")
	}
}

func TestReconcile_KeepsAllWhenWithinThreshold(t *testing.T) {
	// mean = 72.33, max deviation = 2.67 (< 10% of mean): all included.
	res, err := Reconcile([]*scoring.ScoreResult{
		score("a", 70), score("b", 72), score("c", 75),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Lower != 70 || res.Upper != 75 {
		t.Fatalf("expected range [70,75], got [%v,%v]", res.Lower, res.Upper)
	}
	for i, inc := range res.Included {
		if !inc {
			t.Fatalf("included[%d] = false, want all included", i)
		}
	}
}

func TestReconcile_ExcludesAtMostOne(t *testing.T) {
	// Two scores far from the mean; only the single farthest goes.
	res, err := Reconcile([]*scoring.ScoreResult{
		score("a", 40), score("b", 80), score("c", 82), score("d", 84),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	excluded := 0
	for _, inc := range res.Included {
		if !inc {
			excluded++
		}
	}
	if excluded != 1 {
		t.Fatalf("expected exactly 1 exclusion, got %d", excluded)
	}
	if res.Included[0] {
		t.Fatal("expected the 40 to be the excluded score")
	}
}

func TestReconcile_NoExclusionBelowThreeScores(t *testing.T) {
	// 50 and 90 disagree wildly, but with two scores there is no exclusion.
	res, err := Reconcile([]*scoring.ScoreResult{
		score("a", 50), score("b", 90),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Lower != 50 || res.Upper != 90 {
		t.Fatalf("expected range [50,90], got [%v,%v]", res.Lower, res.Upper)
	}
	if !res.ReducedConfidence {
		t.Fatal("fewer than three scores must set ReducedConfidence")
	}
}

func TestReconcile_DegenerateRange(t *testing.T) {
	res, err := Reconcile([]*scoring.ScoreResult{
		score("a", 75), score("b", 75), score("c", 75),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Lower != 75 || res.Upper != 75 {
		t.Fatalf("expected degenerate range [75,75], got [%v,%v]", res.Lower, res.Upper)
	}
}

func TestReconcile_NoResults(t *testing.T) {
	if _, err := Reconcile(nil); !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
}

func TestReconcile_Deterministic(t *testing.T) {
	in := []*scoring.ScoreResult{score("a", 70), score("b", 72), score("c", 95)}
	first, err := Reconcile(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Reconcile(in)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again.Lower != first.Lower || again.Upper != first.Upper || again.PrimaryProvider != first.PrimaryProvider {
			t.Fatal("Reconcile is not deterministic for identical inputs")
		}
	}
}

// ---------------------------------------------------------------------------
// Feedback synthesis
// ---------------------------------------------------------------------------

func TestReconcile_PrimaryIsClosestToIncludedMean(t *testing.T) {
	// After excluding 95, included mean is 71; 72 is closer than 70... both
	// are 1 away, so the tie breaks to the earlier run (70).
	res, err := Reconcile([]*scoring.ScoreResult{
		score("a", 70), score("b", 72), score("c", 95),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PrimaryProvider != "a" {
		t.Fatalf("expected primary a (tie-break to earliest), got %s", res.PrimaryProvider)
	}
}

func TestReconcile_SynthesisMergesAndDedupes(t *testing.T) {
	a := score("a", 70)
	a.Feedback = scoring.Feedback{
		Strengths:    []scoring.Strength{{Title: "Strong Thesis"}},
		Improvements: []scoring.Improvement{{Title: "Quote Integration"}},
		LanguageTips: []string{"Vary sentence openers"},
	}
	b := score("b", 71)
	b.Feedback = scoring.Feedback{
		Strengths:    []scoring.Strength{{Title: "strong thesis"}, {Title: "Clear Structure"}},
		Improvements: []scoring.Improvement{{Title: "Conclusion Strength"}},
		LanguageTips: []string{"Vary sentence openers", "Prefer active voice"},
	}
	res, err := Reconcile([]*scoring.ScoreResult{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Feedback.Strengths) != 2 {
		t.Fatalf("expected 2 deduped strengths, got %d", len(res.Feedback.Strengths))
	}
	if len(res.Feedback.Improvements) != 2 {
		t.Fatalf("expected 2 improvements, got %d", len(res.Feedback.Improvements))
	}
	if len(res.Feedback.LanguageTips) != 2 {
		t.Fatalf("expected 2 deduped tips, got %d", len(res.Feedback.LanguageTips))
	}
	// Primary (closest to mean 70.5: tie between 70 and 71 -> earliest, a)
	// speaks first.
	if res.Feedback.Strengths[0].Title != "Strong Thesis" {
		t.Fatalf("expected primary's strength first, got %q", res.Feedback.Strengths[0].Title)
	}
}

func TestReconcile_ExcludedRunContributesNoFeedback(t *testing.T) {
	outlier := score("c", 95)
	outlier.Feedback = scoring.Feedback{Strengths: []scoring.Strength{{Title: "Outlier Praise"}}}
	res, err := Reconcile([]*scoring.ScoreResult{
		score("a", 70), score("b", 72), outlier,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, s := range res.Feedback.Strengths {
		if s.Title == "Outlier Praise" {
			t.Fatal("excluded run's feedback leaked into synthesis")
		}
	}
}
