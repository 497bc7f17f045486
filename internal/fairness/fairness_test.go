package fairness_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"bountyline/internal/domain"
	"bountyline/internal/fairness"
)

func TestGiniBoundaries(t *testing.T) {
	if got := fairness.Gini(nil); got != 0 {
		t.Fatalf("empty: got %v, want 0", got)
	}
	if got := fairness.Gini([]float64{42}); got != 0 {
		t.Fatalf("single: got %v, want 0", got)
	}
	if got := fairness.Gini([]float64{0, 0, 0}); got != 0 {
		t.Fatalf("all zero: got %v, want 0", got)
	}
	if got := fairness.Gini([]float64{25, 25, 25, 25}); got != 0 {
		t.Fatalf("equal shares: got %v, want 0", got)
	}
}

func TestGiniConcentration(t *testing.T) {
	// One person holding everything among n yields (n-1)/n.
	for _, n := range []int{2, 4, 10} {
		amounts := make([]float64, n)
		amounts[n-1] = 100
		want := float64(n-1) / float64(n)
		if got := fairness.Gini(amounts); math.Abs(got-want) > 1e-9 {
			t.Fatalf("n=%d: got %v, want %v", n, got, want)
		}
	}
}

func TestGiniOrderIndependent(t *testing.T) {
	a := fairness.Gini([]float64{10, 50, 40})
	b := fairness.Gini([]float64{50, 40, 10})
	if a != b {
		t.Fatalf("gini depends on input order: %v vs %v", a, b)
	}
}

func TestScore(t *testing.T) {
	if got := fairness.Score(0, 0, 0); got != 1.0 {
		t.Fatalf("perfect equality: got %v, want 1.0", got)
	}
	// gini alone can cost at most 0.3
	if got := fairness.Score(1, 0, 0); math.Abs(got-0.7) > 1e-9 {
		t.Fatalf("max gini: got %v, want 0.7", got)
	}
	if got := fairness.Score(0.5, 1, 0); math.Abs(got-0.70) > 1e-9 {
		t.Fatalf("gini 0.5 + red: got %v, want 0.70", got)
	}
	if got := fairness.Score(0, 0, 2); got != 1.0 {
		t.Fatalf("score exceeds 1: got %v", got)
	}
	if got := fairness.Score(1, 7, 0); got != 0 {
		t.Fatalf("score goes negative: got %v", got)
	}
}

func TestInterpretBands(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{1.0, fairness.CategoryExcellent},
		{0.85, fairness.CategoryExcellent},
		{0.84, fairness.CategoryGood},
		{0.70, fairness.CategoryGood},
		{0.69, fairness.CategoryFair},
		{0.50, fairness.CategoryFair},
		{0.49, fairness.CategoryPoor},
		{0.30, fairness.CategoryPoor},
		{0.29, fairness.CategoryCritical},
		{0, fairness.CategoryCritical},
	}
	for _, tc := range cases {
		if got := fairness.Interpret(tc.score); got != tc.want {
			t.Fatalf("score %v: got %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestPassesThreshold(t *testing.T) {
	if !fairness.PassesThreshold(0.70, 0) {
		t.Fatal("0.70 should pass the default threshold")
	}
	if fairness.PassesThreshold(0.69, 0) {
		t.Fatal("0.69 should fail the default threshold")
	}
	if !fairness.PassesThreshold(0.51, 0.5) {
		t.Fatal("explicit threshold ignored")
	}
}

func splitsFor(amounts map[string]string) []domain.PaymentSplit {
	var out []domain.PaymentSplit
	for who, amount := range amounts {
		out = append(out, domain.PaymentSplit{
			ContributorID:  who,
			ContributionID: "c-" + who,
			Amount:         decimal.RequireFromString(amount),
		})
	}
	return out
}

func TestAssessEqualSplit(t *testing.T) {
	a := fairness.Assess("ch-1", splitsFor(map[string]string{
		"alice": "25.00", "bob": "25.00", "carol": "25.00", "dave": "25.00",
	}))
	if a.Gini != 0 {
		t.Fatalf("gini %v, want 0", a.Gini)
	}
	if len(a.RedFlags) != 0 || len(a.YellowFlags) != 0 {
		t.Fatalf("unexpected flags: red=%v yellow=%v", a.RedFlags, a.YellowFlags)
	}
	if len(a.GreenFlags) != 2 {
		t.Fatalf("green flags %v, want near-equal and minimum-share", a.GreenFlags)
	}
	if a.Category != fairness.CategoryExcellent {
		t.Fatalf("category %s, want excellent", a.Category)
	}
	if !fairness.PassesThreshold(a.Score, 0) {
		t.Fatal("equal split should pass")
	}
}

func TestAssessDominatedSplit(t *testing.T) {
	a := fairness.Assess("ch-1", splitsFor(map[string]string{
		"alice": "95.00", "bob": "3.00", "carol": "2.00",
	}))
	if len(a.RedFlags) == 0 {
		t.Fatalf("expected a red flag, got %+v", a)
	}
	if a.Score >= 0.70 {
		t.Fatalf("dominated split scored %v", a.Score)
	}
	if fairness.PassesThreshold(a.Score, 0) {
		t.Fatal("dominated split should fail the threshold")
	}
}

func TestAssessSingleRecipient(t *testing.T) {
	a := fairness.Assess("ch-1", splitsFor(map[string]string{"alice": "100.00"}))
	if a.Gini != 0 {
		t.Fatalf("gini %v, want 0 for single recipient", a.Gini)
	}
	if len(a.RedFlags) != 0 {
		t.Fatalf("single recipient flagged red: %v", a.RedFlags)
	}
	if len(a.GreenFlags) != 1 {
		t.Fatalf("green flags %v", a.GreenFlags)
	}
	if a.Category != fairness.CategoryExcellent {
		t.Fatalf("category %s", a.Category)
	}
}

func TestAssessDeterministic(t *testing.T) {
	splits := splitsFor(map[string]string{"alice": "60.00", "bob": "30.00", "carol": "10.00"})
	first := fairness.Assess("ch-1", splits)
	for i := 0; i < 5; i++ {
		again := fairness.Assess("ch-1", splits)
		if again.Score != first.Score || again.Gini != first.Gini || again.Category != first.Category {
			t.Fatalf("assessment varies: %+v vs %+v", first, again)
		}
	}
}
