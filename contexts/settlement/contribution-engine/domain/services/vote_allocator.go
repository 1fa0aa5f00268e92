package services

import (
	"crypto/rand"
	"encoding/binary"

	"rewards/contexts/settlement/contribution-engine/domain/entities"

	"github.com/shopspring/decimal"
)

const defaultMaxDrawsPerVote = 64

// Winner is one publisher's vote count after statistical voting.
type Winner struct {
	PublisherKey string
	Votes        int
}

// VoteAllocator turns publisher weights and a vote budget into discrete vote
// counts by independent weighted draws. Each vote is one token being spent, so
// no single token maps exactly onto a publisher's recorded share.
type VoteAllocator struct {
	// Uniform returns a value in [0, 1). Defaults to CryptoUniform.
	Uniform func() float64
	// MaxDrawsPerVote caps darts per vote; votes still unassigned after
	// totalVotes*MaxDrawsPerVote darts go to the last publisher.
	MaxDrawsPerVote int
}

func (a VoteAllocator) Allocate(
	totalVotes int,
	amount decimal.Decimal,
	publishers []entities.ContributionAllocation,
) []Winner {
	if totalVotes <= 0 || len(publishers) == 0 || !amount.IsPositive() {
		return nil
	}

	bounds := make([]float64, len(publishers))
	upper := 0.0
	for i, publisher := range publishers {
		weight, _ := publisher.TotalAmount.Div(amount).Float64()
		if weight > 0 {
			upper += weight
		}
		bounds[i] = upper
	}

	tally := newVoteTally(publishers)
	remaining := totalVotes
	maxDraws := totalVotes * a.maxDrawsPerVote()
	for draws := 0; remaining > 0 && draws < maxDraws; draws++ {
		dart := a.uniform()
		for i, bound := range bounds {
			if bound < dart {
				continue
			}
			tally.add(publishers[i].PublisherKey, 1)
			remaining--
			break
		}
	}
	if remaining > 0 {
		tally.add(publishers[len(publishers)-1].PublisherKey, remaining)
	}
	return tally.winners()
}

func (a VoteAllocator) uniform() float64 {
	if a.Uniform == nil {
		return CryptoUniform()
	}
	return a.Uniform()
}

func (a VoteAllocator) maxDrawsPerVote() int {
	if a.MaxDrawsPerVote <= 0 {
		return defaultMaxDrawsPerVote
	}
	return a.MaxDrawsPerVote
}

// CryptoUniform draws 53 random bits from crypto/rand and scales them into [0, 1).
func CryptoUniform() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53)
}

// voteTally accumulates votes keyed by publisher and iterates in the order
// publishers first appeared, so output is stable for equal inputs.
type voteTally struct {
	order []string
	votes map[string]int
}

func newVoteTally(publishers []entities.ContributionAllocation) *voteTally {
	tally := &voteTally{
		order: make([]string, 0, len(publishers)),
		votes: make(map[string]int, len(publishers)),
	}
	for _, publisher := range publishers {
		if _, seen := tally.votes[publisher.PublisherKey]; seen {
			continue
		}
		tally.order = append(tally.order, publisher.PublisherKey)
		tally.votes[publisher.PublisherKey] = 0
	}
	return tally
}

func (t *voteTally) add(publisherKey string, votes int) {
	t.votes[publisherKey] += votes
}

func (t *voteTally) winners() []Winner {
	items := make([]Winner, 0, len(t.order))
	for _, key := range t.order {
		if t.votes[key] == 0 {
			continue
		}
		items = append(items, Winner{PublisherKey: key, Votes: t.votes[key]})
	}
	return items
}
