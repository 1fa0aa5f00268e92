package ports

import (
	"context"
	"time"

	"rewards/contexts/settlement/contribution-engine/domain/entities"
	contractsv1 "rewards/contracts/gen/events/v1"

	"github.com/shopspring/decimal"
)

// TokenStore owns unblinded tokens. Reservation must be compare-and-set on the
// token's reserved-by field so two contributions can never hold the same token.
type TokenStore interface {
	// SelectSpendableTokens lists unreserved, unredeemed, unexpired tokens of the
	// given batch types in spending order.
	SelectSpendableTokens(ctx context.Context, batchTypes []entities.BatchType) ([]entities.UnblindedToken, error)
	// ReserveTokens is all-or-nothing and idempotent for tokens already
	// reserved by the same contribution. Returns ErrTokensUnavailable otherwise.
	ReserveTokens(ctx context.Context, tokenIDs []string, contributionID string) error
	// GetReservedTokens lists tokens reserved by the contribution and not yet redeemed.
	GetReservedTokens(ctx context.Context, contributionID string) ([]entities.UnblindedToken, error)
	// ReleaseReservedTokens returns unredeemed reserved tokens to the pool.
	ReleaseReservedTokens(ctx context.Context, contributionID string) (int, error)
}

// TokenIssuer adds unblinded tokens to the spendable pool. Ids already in the
// pool are skipped; the count of newly added tokens is returned.
type TokenIssuer interface {
	IssueTokens(ctx context.Context, tokens []entities.UnblindedToken) (int, error)
}

// ContributionStore persists contribution records and their allocations.
type ContributionStore interface {
	// GetContribution returns ErrContributionNotFound when the id is unknown.
	GetContribution(ctx context.Context, contributionID string) (entities.ContributionRecord, error)
	// SaveContribution upserts the record and replaces its allocations in one write.
	SaveContribution(ctx context.Context, record entities.ContributionRecord) error
	UpdateStep(ctx context.Context, contributionID string, step entities.Step) error
	// TransitionStep writes to only while the persisted step is one of from,
	// and reports whether it did.
	TransitionStep(ctx context.Context, contributionID string, from []entities.Step, to entities.Step) (bool, error)
	// UpdateContributedAmount settles one allocation and marks the redeemed
	// tokens spent in the same transaction.
	UpdateContributedAmount(
		ctx context.Context,
		contributionID string,
		publisherKey string,
		amount decimal.Decimal,
		redeemedTokenIDs []string,
	) error
}

// RetryQueue is the scheduler's view of the contribution store.
type RetryQueue interface {
	// ListDueContributions returns retryable contributions in the given steps
	// whose next attempt is at or before now, oldest first.
	ListDueContributions(ctx context.Context, steps []entities.Step, now time.Time, limit int) ([]entities.ContributionRecord, error)
	ScheduleRetry(ctx context.Context, contributionID string, retryCount int, nextAttemptAt time.Time) error
}

// RedemptionRequest is built per publisher per attempt and never persisted.
type RedemptionRequest struct {
	ContributionID   string
	PublisherKey     string
	ContributionType entities.ContributionType
	Processor        entities.Processor
	Tokens           []entities.UnblindedToken
	IdempotencyKey   string
}

// RedemptionProcessor finalizes a redemption. Implementations own timeouts.
type RedemptionProcessor interface {
	RedeemTokens(ctx context.Context, request RedemptionRequest) error
}

// Clock allows deterministic testing of scheduling rules.
type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// Metrics receives engine outcomes. A nil Metrics is allowed.
type Metrics interface {
	ObserveOutcome(operation string, outcome string)
	ObserveRedemption(processor string, success bool)
}

type EventEnvelope = contractsv1.Envelope

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, outboxID string, sentAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}
