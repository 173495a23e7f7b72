// Package consensus reconciles disagreeing provider scores into a single
// defensible percentage range plus synthesized feedback. The computation is
// deterministic: the same inputs always produce the same range and the same
// merged feedback.
package consensus

import (
	"errors"
	"math"
	"strings"

	"github.com/markm8/backend/internal/scoring"
)

// Caps on the synthesized feedback, mirroring what the product shows.
const (
	maxStrengths    = 4
	maxImprovements = 4
	maxLanguageTips = 3
)

// outlierThreshold: a score is excluded when its deviation from the mean
// exceeds this fraction of the mean, and at least minScoresForExclusion
// scores are present.
const (
	outlierThreshold      = 0.10
	minScoresForExclusion = 3
)

// ErrNoResults is returned when zero scores are supplied; callers must treat
// the job as failed before ever reaching this package.
var ErrNoResults = errors.New("no score results to reconcile")

// Result is the reconciled outcome.
type Result struct {
	Lower float64
	Upper float64
	// Included is parallel to the input slice; excluded outliers are false.
	Included []bool
	// PrimaryProvider supplied the base feedback (closest percentage to the
	// post-exclusion mean).
	PrimaryProvider string
	Feedback        scoring.Feedback
	// ReducedConfidence is set when fewer than three scores were available,
	// so no outlier exclusion could be performed.
	ReducedConfidence bool
}

// Reconcile applies the outlier rule and synthesizes feedback from the
// included runs.
//
// The rule excludes at most one score: the single score with the maximum
// absolute deviation from the mean, and only when that deviation exceeds 10%
// of the mean with three or more scores present. Two extreme scores pulling
// the mean toward one side can therefore exclude a middle score; that edge
// is intentional and pinned by tests.
func Reconcile(results []*scoring.ScoreResult) (*Result, error) {
	if len(results) == 0 {
		return nil, ErrNoResults
	}

	mean := 0.0
	for _, r := range results {
		mean += r.Percentage
	}
	mean /= float64(len(results))

	included := make([]bool, len(results))
	for i := range included {
		included[i] = true
	}

	if len(results) >= minScoresForExclusion {
		maxIdx, maxDev := 0, -1.0
		for i, r := range results {
			dev := math.Abs(r.Percentage - mean)
			if dev > maxDev {
				maxIdx, maxDev = i, dev
			}
		}
		if maxDev > outlierThreshold*mean {
			included[maxIdx] = false
		}
	}

	lower, upper := math.Inf(1), math.Inf(-1)
	includedMean, n := 0.0, 0
	for i, r := range results {
		if !included[i] {
			continue
		}
		lower = math.Min(lower, r.Percentage)
		upper = math.Max(upper, r.Percentage)
		includedMean += r.Percentage
		n++
	}
	includedMean /= float64(n)

	primary := pickPrimary(results, included, includedMean)

	return &Result{
		Lower:             lower,
		Upper:             upper,
		Included:          included,
		PrimaryProvider:   results[primary].ProviderID,
		Feedback:          synthesize(results, included, primary),
		ReducedConfidence: len(results) < minScoresForExclusion,
	}, nil
}

// pickPrimary selects the included run whose percentage is closest to the
// post-exclusion mean. Ties break to the earliest run, which keeps the
// choice deterministic for identical inputs.
func pickPrimary(results []*scoring.ScoreResult, included []bool, includedMean float64) int {
	best, bestDist := -1, math.Inf(1)
	for i, r := range results {
		if !included[i] {
			continue
		}
		dist := math.Abs(r.Percentage - includedMean)
		if dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best
}

// synthesize merges the included runs' feedback: the primary run speaks
// first, then the other included runs contribute items whose titles are not
// already covered, up to the display caps.
func synthesize(results []*scoring.ScoreResult, included []bool, primary int) scoring.Feedback {
	var out scoring.Feedback

	order := make([]int, 0, len(results))
	order = append(order, primary)
	for i := range results {
		if i != primary && included[i] {
			order = append(order, i)
		}
	}

	seenStrength := map[string]bool{}
	seenImprovement := map[string]bool{}
	seenTip := map[string]bool{}

	for _, i := range order {
		fb := results[i].Feedback
		for _, s := range fb.Strengths {
			key := strings.ToLower(strings.TrimSpace(s.Title))
			if len(out.Strengths) < maxStrengths && !seenStrength[key] {
				seenStrength[key] = true
				out.Strengths = append(out.Strengths, s)
			}
		}
		for _, imp := range fb.Improvements {
			key := strings.ToLower(strings.TrimSpace(imp.Title))
			if len(out.Improvements) < maxImprovements && !seenImprovement[key] {
				seenImprovement[key] = true
				out.Improvements = append(out.Improvements, imp)
			}
		}
		for _, tip := range fb.LanguageTips {
			key := strings.ToLower(strings.TrimSpace(tip))
			if len(out.LanguageTips) < maxLanguageTips && !seenTip[key] {
				seenTip[key] = true
				out.LanguageTips = append(out.LanguageTips, tip)
			}
		}
	}
	return out
}
