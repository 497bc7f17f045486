// Package fairness audits a completed distribution for inequality. Every
// function here is a pure computation; callers log assessments as events if
// they need to be auditable.
package fairness

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"bountyline/internal/domain"
)

// Score weighting. Inequality alone is capped at 0.3 so it can never zero a
// score by itself, and a red flag costs three times what a green flag earns.
const (
	giniWeight       = 0.3
	redFlagPenalty   = 0.15
	greenFlagBonus   = 0.05
	defaultThreshold = 0.70
)

// Category bands, contiguous and exhaustive over [0,1].
const (
	CategoryExcellent = "excellent"
	CategoryGood      = "good"
	CategoryFair      = "fair"
	CategoryPoor      = "poor"
	CategoryCritical  = "critical"
)

// Gini computes the standard Gini coefficient over payout amounts: 0 when
// every recipient received an equal share, approaching 1 as the bounty
// concentrates in one recipient. Defined as 0 for n <= 1.
func Gini(amounts []float64) float64 {
	n := len(amounts)
	if n <= 1 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, amounts)
	sort.Float64s(sorted)

	var sum, weighted float64
	for i, v := range sorted {
		sum += v
		weighted += float64(i+1) * v
	}
	if sum == 0 {
		return 0
	}
	g := (2*weighted)/(float64(n)*sum) - float64(n+1)/float64(n)
	return math.Max(0, math.Min(1, g))
}

// Score combines inequality and qualitative flags into one [0,1] compliance
// signal: clamp(1 - gini*0.3 - red*0.15 + green*0.05, 0, 1).
func Score(gini float64, redFlags, greenFlags int) float64 {
	s := 1.0 - gini*giniWeight - float64(redFlags)*redFlagPenalty + float64(greenFlags)*greenFlagBonus
	return math.Max(0, math.Min(1, s))
}

// Interpret maps a score to its qualitative band.
func Interpret(score float64) string {
	switch {
	case score >= 0.85:
		return CategoryExcellent
	case score >= 0.70:
		return CategoryGood
	case score >= 0.50:
		return CategoryFair
	case score >= 0.30:
		return CategoryPoor
	default:
		return CategoryCritical
	}
}

// PassesThreshold is the boolean gate for compliance workflows. A threshold
// of 0 means "use the default".
func PassesThreshold(score, threshold float64) bool {
	if threshold == 0 {
		threshold = defaultThreshold
	}
	return score >= threshold
}

// Assess evaluates one distribution's splits into a full assessment. Flag
// rules are deterministic and ordered, so recomputing from the same splits
// always yields the same assessment.
func Assess(challengeID string, splits []domain.PaymentSplit) domain.FairnessAssessment {
	amounts := make([]float64, 0, len(splits))
	total := decimal.Zero
	for _, s := range splits {
		amounts = append(amounts, s.Amount.InexactFloat64())
		total = total.Add(s.Amount)
	}
	gini := Gini(amounts)

	a := domain.FairnessAssessment{
		ChallengeID: challengeID,
		Gini:        gini,
		RedFlags:    []string{},
		YellowFlags: []string{},
		GreenFlags:  []string{},
	}

	if len(splits) > 1 {
		var top float64
		minShare := math.Inf(1)
		totalF := total.InexactFloat64()
		for _, v := range amounts {
			share := 0.0
			if totalF > 0 {
				share = v / totalF
			}
			if share > top {
				top = share
			}
			if share < minShare {
				minShare = share
			}
		}
		if top >= 0.90 {
			a.RedFlags = append(a.RedFlags, fmt.Sprintf("one contributor receives %.0f%% of the bounty", top*100))
		}
		if gini > 0.8 {
			a.RedFlags = append(a.RedFlags, fmt.Sprintf("extreme concentration: gini %.2f", gini))
		}
		if gini > 0.4 && gini <= 0.8 {
			a.YellowFlags = append(a.YellowFlags, fmt.Sprintf("uneven distribution: gini %.2f", gini))
		}
		if minShare < 0.05 {
			a.YellowFlags = append(a.YellowFlags, "a contributor receives under 5% of the bounty")
		}
		if gini < 0.15 {
			a.GreenFlags = append(a.GreenFlags, "near-equal distribution")
		}
		if minShare >= 0.10 {
			a.GreenFlags = append(a.GreenFlags, "every contributor receives at least 10%")
		}
	} else if len(splits) == 1 {
		a.GreenFlags = append(a.GreenFlags, "single contributor; nothing to compare")
	}

	a.Score = Score(gini, len(a.RedFlags), len(a.GreenFlags))
	a.Category = Interpret(a.Score)
	return a
}
