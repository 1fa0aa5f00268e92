package entities

import (
	"strings"
	"time"

	domainerrors "rewards/contexts/settlement/contribution-engine/domain/errors"

	"github.com/shopspring/decimal"
)

type ContributionType string

const (
	ContributionTypeOneTime        ContributionType = "one_time"
	ContributionTypeAutoContribute ContributionType = "auto_contribute"
)

type Processor string

const (
	ProcessorTokenNative         Processor = "token_native"
	ProcessorExternalWallet      Processor = "external_wallet"
	ProcessorExternalWalletFunds Processor = "external_wallet_funds"
)

// WalletBacked reports whether redemption goes through the wallet-backed processor.
func (p Processor) WalletBacked() bool {
	return p == ProcessorExternalWallet || p == ProcessorExternalWalletFunds
}

func (p Processor) Valid() bool {
	return p == ProcessorTokenNative || p.WalletBacked()
}

// ContributionAllocation is one publisher's share of a contribution.
// Before allocations are prepared for an auto-contribution, TotalAmount holds
// the publisher's recorded share of the reference pool and acts as a weight.
type ContributionAllocation struct {
	ContributionID    string
	PublisherKey      string
	TotalAmount       decimal.Decimal
	ContributedAmount decimal.Decimal
}

func (a ContributionAllocation) Settled() bool {
	return a.ContributedAmount.Equal(a.TotalAmount)
}

type ContributionRecord struct {
	ContributionID string
	Amount         decimal.Decimal
	Type           ContributionType
	Processor      Processor
	Step           Step
	RetryCount     int
	NextAttemptAt  time.Time
	Publishers     []ContributionAllocation
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewContribution(
	contributionID string,
	amount decimal.Decimal,
	contributionType ContributionType,
	processor Processor,
	publishers []ContributionAllocation,
	createdAt time.Time,
) (ContributionRecord, error) {
	contributionID = strings.TrimSpace(contributionID)
	if contributionID == "" || !amount.IsPositive() || !processor.Valid() {
		return ContributionRecord{}, domainerrors.ErrInvalidInput
	}
	switch contributionType {
	case ContributionTypeOneTime:
		if len(publishers) != 1 {
			return ContributionRecord{}, domainerrors.ErrInvalidInput
		}
	case ContributionTypeAutoContribute:
		if len(publishers) == 0 {
			return ContributionRecord{}, domainerrors.ErrInvalidInput
		}
	default:
		return ContributionRecord{}, domainerrors.ErrInvalidInput
	}

	items := make([]ContributionAllocation, 0, len(publishers))
	seen := make(map[string]struct{}, len(publishers))
	for _, publisher := range publishers {
		key := strings.TrimSpace(publisher.PublisherKey)
		if key == "" || publisher.TotalAmount.IsNegative() {
			return ContributionRecord{}, domainerrors.ErrInvalidInput
		}
		if _, duplicate := seen[key]; duplicate {
			return ContributionRecord{}, domainerrors.ErrInvalidInput
		}
		seen[key] = struct{}{}
		items = append(items, ContributionAllocation{
			ContributionID:    contributionID,
			PublisherKey:      key,
			TotalAmount:       publisher.TotalAmount,
			ContributedAmount: decimal.Zero,
		})
	}

	return ContributionRecord{
		ContributionID: contributionID,
		Amount:         amount,
		Type:           contributionType,
		Processor:      processor,
		Step:           StepStart,
		Publishers:     items,
		NextAttemptAt:  createdAt.UTC(),
		CreatedAt:      createdAt.UTC(),
		UpdatedAt:      createdAt.UTC(),
	}, nil
}

// Retryable reports whether the settlement engine may resume this contribution.
// Only token-native contributions and wallet-backed auto-contributions qualify.
func (c ContributionRecord) Retryable() bool {
	if c.Processor == ProcessorTokenNative {
		return true
	}
	return c.Processor == ProcessorExternalWallet && c.Type == ContributionTypeAutoContribute
}

func (c ContributionRecord) ContributedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, publisher := range c.Publishers {
		total = total.Add(publisher.ContributedAmount)
	}
	return total
}

func (c ContributionRecord) Clone() ContributionRecord {
	clone := c
	clone.Publishers = append([]ContributionAllocation(nil), c.Publishers...)
	return clone
}
