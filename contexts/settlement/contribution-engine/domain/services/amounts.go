package services

import (
	"rewards/contexts/settlement/contribution-engine/domain/entities"

	"github.com/shopspring/decimal"
)

// DefaultCurrencyScale is the number of decimals in the minimal currency unit.
const DefaultCurrencyScale int32 = 3

// AllocationsFromWinners converts vote counts into allocation amounts of
// (votes/totalVotes)*amount, rounded half-to-even at scale. The rounding
// residual lands on the last winner so the allocations sum to amount exactly.
func AllocationsFromWinners(
	contributionID string,
	winners []Winner,
	totalVotes int,
	amount decimal.Decimal,
	scale int32,
) []entities.ContributionAllocation {
	if len(winners) == 0 || totalVotes <= 0 {
		return nil
	}

	votes := decimal.NewFromInt(int64(totalVotes))
	items := make([]entities.ContributionAllocation, 0, len(winners))
	sum := decimal.Zero
	for _, winner := range winners {
		share := decimal.NewFromInt(int64(winner.Votes)).
			Mul(amount).
			Div(votes).
			RoundBank(scale)
		sum = sum.Add(share)
		items = append(items, entities.ContributionAllocation{
			ContributionID:    contributionID,
			PublisherKey:      winner.PublisherKey,
			TotalAmount:       share,
			ContributedAmount: decimal.Zero,
		})
	}

	last := len(items) - 1
	items[last].TotalAmount = items[last].TotalAmount.Add(amount.Sub(sum))
	return items
}

// SingleAllocation assigns the full amount to the sole publisher of a one-time tip.
func SingleAllocation(contributionID string, publisherKey string, amount decimal.Decimal) []entities.ContributionAllocation {
	return []entities.ContributionAllocation{{
		ContributionID:    contributionID,
		PublisherKey:      publisherKey,
		TotalAmount:       amount,
		ContributedAmount: decimal.Zero,
	}}
}
