// Package split computes the proportional division of a bounty across
// contributors. It is pure: the same inputs always produce the same splits,
// and nothing here touches storage.
package split

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"bountyline/internal/domain"
)

var (
	// ErrNoContributions means completion was requested before any work was
	// recorded; a caller-side sequencing bug, not a transient condition.
	ErrNoContributions = errors.New("no contributions to distribute")
	// ErrZeroWeight should be unreachable given the weight table but is
	// rejected rather than divided by.
	ErrZeroWeight = errors.New("total contribution weight is zero")
)

// Calculate produces one PaymentSplit per contributor such that the amounts
// sum exactly to bounty at the currency's minor unit. Multiple contributions
// by the same contributor are aggregated before splitting. minorExponent is
// the number of decimal places in the currency's minor unit (2 for USD).
//
// Remainder rule: each ideal share is truncated to the minor unit, then the
// leftover minor units are handed out one each in descending order of
// fractional remainder, ties broken by ascending contribution id.
func Calculate(contributions []domain.Contribution, bounty decimal.Decimal, minorExponent int32) ([]domain.PaymentSplit, error) {
	if len(contributions) == 0 {
		return nil, ErrNoContributions
	}
	if !bounty.IsPositive() {
		return nil, fmt.Errorf("bounty must be positive, got %s", bounty)
	}
	scaled := bounty.Shift(minorExponent)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("bounty %s is finer than the currency minor unit", bounty)
	}
	totalMinor := scaled.IntPart()

	groups, totalWeight, err := aggregate(contributions)
	if err != nil {
		return nil, err
	}
	if totalWeight == 0 {
		return nil, ErrZeroWeight
	}

	// Integer largest-remainder allocation. Splitting the quotient keeps the
	// intermediate products within int64 for any realistic bounty.
	base := totalMinor / totalWeight
	rem := totalMinor % totalWeight
	allocated := int64(0)
	for i := range groups {
		w := int64(groups[i].weight)
		groups[i].minor = w*base + (w*rem)/totalWeight
		groups[i].fracRem = (w * rem) % totalWeight
		allocated += groups[i].minor
	}
	leftover := totalMinor - allocated
	order := make([]int, len(groups))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ga, gb := groups[order[a]], groups[order[b]]
		if ga.fracRem != gb.fracRem {
			return ga.fracRem > gb.fracRem
		}
		return ga.contributionID < gb.contributionID
	})
	// leftover is strictly less than the number of groups: it is the sum of
	// the truncated fractional parts, each below one minor unit.
	for i := int64(0); i < leftover; i++ {
		groups[order[i]].minor++
	}

	splits := make([]domain.PaymentSplit, 0, len(groups))
	for _, g := range groups {
		pct := float64(g.weight) / float64(totalWeight) * 100
		splits = append(splits, domain.PaymentSplit{
			ContributorID:  g.contributorID,
			ContributionID: g.contributionID,
			Weight:         g.weight,
			Percentage:     math.Round(pct*100) / 100,
			Amount:         decimal.New(g.minor, -minorExponent),
		})
	}
	sort.SliceStable(splits, func(a, b int) bool {
		if splits[a].Weight != splits[b].Weight {
			return splits[a].Weight > splits[b].Weight
		}
		return splits[a].ContributionID < splits[b].ContributionID
	})
	return splits, nil
}

type group struct {
	contributorID  string
	contributionID string
	weight         int
	minor          int64
	fracRem        int64
}

func aggregate(contributions []domain.Contribution) ([]group, int64, error) {
	byContributor := map[string]int{}
	var groups []group
	var totalWeight int64
	for _, c := range contributions {
		if c.Weight <= 0 {
			return nil, 0, fmt.Errorf("contribution %s has non-positive weight %d", c.ID, c.Weight)
		}
		totalWeight += int64(c.Weight)
		idx, ok := byContributor[c.ContributorID]
		if !ok {
			byContributor[c.ContributorID] = len(groups)
			groups = append(groups, group{
				contributorID:  c.ContributorID,
				contributionID: c.ID,
				weight:         c.Weight,
			})
			continue
		}
		groups[idx].weight += c.Weight
		if c.ID < groups[idx].contributionID {
			groups[idx].contributionID = c.ID
		}
	}
	return groups, totalWeight, nil
}
