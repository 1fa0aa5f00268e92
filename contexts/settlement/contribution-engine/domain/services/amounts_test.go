package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestAllocationsFromWinnersSplitsByVoteShare(t *testing.T) {
	items := AllocationsFromWinners("contribution-1", []Winner{
		{PublisherKey: "A", Votes: 3},
		{PublisherKey: "B", Votes: 2},
	}, 5, decimal.NewFromInt(100), DefaultCurrencyScale)

	require.Len(t, items, 2)
	require.Equal(t, "60", items[0].TotalAmount.String())
	require.Equal(t, "40", items[1].TotalAmount.String())
	require.True(t, items[0].ContributedAmount.IsZero())
	require.Equal(t, "contribution-1", items[1].ContributionID)
}

func TestAllocationsFromWinnersSumMatchesAmountAfterRounding(t *testing.T) {
	amount := decimal.NewFromInt(10)
	items := AllocationsFromWinners("contribution-2", []Winner{
		{PublisherKey: "A", Votes: 1},
		{PublisherKey: "B", Votes: 1},
		{PublisherKey: "C", Votes: 1},
	}, 3, amount, 2)

	require.Equal(t, "3.33", items[0].TotalAmount.String())
	require.Equal(t, "3.33", items[1].TotalAmount.String())
	require.Equal(t, "3.34", items[2].TotalAmount.String())

	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.TotalAmount)
	}
	require.True(t, sum.Equal(amount))
}

func TestAllocationsFromWinnersUsesBankersRounding(t *testing.T) {
	// 1/8 of 0.1 is 0.0125, which rounds half-to-even to 0.012.
	items := AllocationsFromWinners("contribution-3", []Winner{
		{PublisherKey: "A", Votes: 1},
		{PublisherKey: "B", Votes: 7},
	}, 8, decimal.RequireFromString("0.1"), 3)

	require.Equal(t, "0.012", items[0].TotalAmount.String())
	require.Equal(t, "0.088", items[1].TotalAmount.String())
}

func TestAllocationsFromWinnersEmpty(t *testing.T) {
	require.Nil(t, AllocationsFromWinners("contribution-4", nil, 5, decimal.NewFromInt(1), 3))
}
