package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rewards/contexts/settlement/contribution-engine/domain/entities"
	domainerrors "rewards/contexts/settlement/contribution-engine/domain/errors"
	"rewards/contexts/settlement/contribution-engine/domain/services"
	"rewards/contexts/settlement/contribution-engine/ports"
	contractsv1 "rewards/contracts/gen/events/v1"
)

const (
	allocationSettledEventType = "contribution.allocation_settled"
	completedEventType         = "contribution.completed"
	sourceService              = "contribution-engine"
)

// Engine settles contributions by spending reserved unblinded tokens. Every
// suspension point is a store or processor call, and the persisted step plus
// per-allocation contributed amounts are the only state needed to resume.
//
// Step progression driven here:
//
//	start   -> tokens selected and reserved            -> reserve
//	reserve -> allocations prepared and persisted      -> prepare
//	prepare -> one allocation redeemed per invocation  -> completed
type Engine struct {
	Tokens        ports.TokenStore
	Contributions ports.ContributionStore
	Dispatcher    Dispatcher
	Outbox        ports.OutboxWriter
	Clock         ports.Clock
	IDGen         ports.IDGenerator
	Metrics       ports.Metrics

	CurrencyScale   int32
	MaxDrawsPerVote int
	// Uniform overrides the dart source of the vote allocator.
	Uniform func() float64
	Logger  *slog.Logger
}

// Start reserves tokens covering the contribution amount, prepares allocations
// and settles the first unsettled allocation.
func (e Engine) Start(
	ctx context.Context,
	batchTypes []entities.BatchType,
	contributionID string,
) (domainerrors.Outcome, error) {
	contributionID = strings.TrimSpace(contributionID)
	err := e.start(ctx, batchTypes, contributionID)
	return e.finish("start", contributionID, err)
}

// Retry resumes a contribution from its persisted step. Only start, reserve
// and prepare are resumable; every other step belongs to another subsystem.
func (e Engine) Retry(
	ctx context.Context,
	batchTypes []entities.BatchType,
	record entities.ContributionRecord,
) (domainerrors.Outcome, error) {
	contributionID := strings.TrimSpace(record.ContributionID)
	err := e.retry(ctx, batchTypes, record)
	return e.finish("retry", contributionID, err)
}

func (e Engine) retry(ctx context.Context, batchTypes []entities.BatchType, record entities.ContributionRecord) error {
	if strings.TrimSpace(record.ContributionID) == "" {
		return fmt.Errorf("%w: contribution id is empty", domainerrors.ErrInvalidInput)
	}
	if !record.Retryable() {
		return fmt.Errorf("%w: processor %s with type %s", domainerrors.ErrNotApplicable, record.Processor, record.Type)
	}

	stored, err := e.loadContribution(ctx, record.ContributionID)
	if err != nil {
		return err
	}
	if stored.Step != record.Step {
		ResolveLogger(e.Logger).Warn("retry record step is stale, using persisted step",
			"event", "contribution_retry_stale_step",
			"module", logModule,
			"layer", "application",
			"contribution_id", stored.ContributionID,
			"requested_step", record.Step,
			"persisted_step", stored.Step,
		)
	}

	if !stored.Step.Resumable() {
		if stored.Step.Owner() == entities.StepOwnerUnknown {
			return fmt.Errorf("%w: unknown step %q", domainerrors.ErrInvalidState, stored.Step)
		}
		return fmt.Errorf("%w: step %s is not applicable for retry", domainerrors.ErrInvalidState, stored.Step)
	}

	switch stored.Step {
	case entities.StepStart:
		return e.start(ctx, batchTypes, stored.ContributionID)
	case entities.StepReserve:
		reserved, err := e.Tokens.GetReservedTokens(ctx, stored.ContributionID)
		if err != nil {
			return storeFailure(err)
		}
		if len(reserved) == 0 {
			return fmt.Errorf("%w: no reserved tokens for contribution in reserve step", domainerrors.ErrInvalidState)
		}
		return e.prepareAllocations(ctx, reserved, stored)
	case entities.StepPrepare:
		return e.processTokens(ctx, stored.ContributionID)
	}
	return fmt.Errorf("%w: step %s", domainerrors.ErrInvalidState, stored.Step)
}

func (e Engine) start(ctx context.Context, batchTypes []entities.BatchType, contributionID string) error {
	if contributionID == "" {
		return fmt.Errorf("%w: contribution id is empty", domainerrors.ErrInvalidInput)
	}

	record, err := e.loadContribution(ctx, contributionID)
	if err != nil {
		return err
	}
	if record.Step != entities.StepStart {
		return fmt.Errorf("%w: start requires step %s, got %s", domainerrors.ErrInvalidState, entities.StepStart, record.Step)
	}
	if !record.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", domainerrors.ErrInvalidInput)
	}

	// Tokens already held by this contribution come first so an interrupted
	// start never reserves a second set.
	reserved, err := e.Tokens.GetReservedTokens(ctx, contributionID)
	if err != nil {
		return storeFailure(err)
	}
	spendable, err := e.Tokens.SelectSpendableTokens(ctx, batchTypes)
	if err != nil {
		return storeFailure(err)
	}
	candidates := make([]entities.UnblindedToken, 0, len(reserved)+len(spendable))
	candidates = append(candidates, reserved...)
	candidates = append(candidates, spendable...)

	selected, err := services.SelectTokens(candidates, record.Amount)
	if err != nil {
		ResolveLogger(e.Logger).Warn("not enough funds for contribution",
			"event", "contribution_not_enough_funds",
			"module", logModule,
			"layer", "application",
			"contribution_id", contributionID,
			"amount", record.Amount.String(),
			"available", entities.SumTokenValues(candidates).String(),
		)
		return err
	}

	if err := e.Tokens.ReserveTokens(ctx, entities.TokenIDs(selected), contributionID); err != nil {
		if errors.Is(err, domainerrors.ErrTokensUnavailable) {
			return err
		}
		return storeFailure(err)
	}
	if err := e.Contributions.UpdateStep(ctx, contributionID, entities.StepReserve); err != nil {
		return storeFailure(err)
	}
	record.Step = entities.StepReserve

	ResolveLogger(e.Logger).Info("tokens reserved for contribution",
		"event", "contribution_tokens_reserved",
		"module", logModule,
		"layer", "application",
		"contribution_id", contributionID,
		"token_count", len(selected),
		"amount", record.Amount.String(),
	)
	return e.prepareAllocations(ctx, selected, record)
}

// prepareAllocations persists the allocation list together with the prepare
// step, then enters the redemption loop.
func (e Engine) prepareAllocations(
	ctx context.Context,
	tokens []entities.UnblindedToken,
	record entities.ContributionRecord,
) error {
	logger := ResolveLogger(e.Logger)

	switch record.Type {
	case entities.ContributionTypeAutoContribute:
		allocator := services.VoteAllocator{
			Uniform:         e.Uniform,
			MaxDrawsPerVote: e.MaxDrawsPerVote,
		}
		totalVotes := len(tokens)
		winners := allocator.Allocate(totalVotes, record.Amount, record.Publishers)
		if len(winners) == 0 {
			logger.Warn("auto-contribute allocation is empty",
				"event", "contribution_allocation_empty",
				"module", logModule,
				"layer", "application",
				"contribution_id", record.ContributionID,
				"candidate_count", len(record.Publishers),
				"total_votes", totalVotes,
			)
			return domainerrors.ErrEmptyAllocation
		}
		record.Publishers = services.AllocationsFromWinners(
			record.ContributionID,
			winners,
			totalVotes,
			record.Amount,
			e.currencyScale(),
		)
	default:
		switch len(record.Publishers) {
		case 0:
			return fmt.Errorf("%w: contribution has no publisher", domainerrors.ErrInvalidState)
		case 1:
			record.Publishers = services.SingleAllocation(
				record.ContributionID,
				record.Publishers[0].PublisherKey,
				record.Amount,
			)
		}
	}

	record.Step = entities.StepPrepare
	record.UpdatedAt = e.now()
	if err := e.Contributions.SaveContribution(ctx, record); err != nil {
		return storeFailure(err)
	}

	logger.Info("contribution allocations prepared",
		"event", "contribution_allocations_prepared",
		"module", logModule,
		"layer", "application",
		"contribution_id", record.ContributionID,
		"type", record.Type,
		"allocation_count", len(record.Publishers),
	)
	return e.processTokens(ctx, record.ContributionID)
}

// processTokens redeems exactly one unsettled allocation per call so that a
// single invocation blocks for one processor round trip at most.
func (e Engine) processTokens(ctx context.Context, contributionID string) error {
	logger := ResolveLogger(e.Logger)

	record, err := e.loadContribution(ctx, contributionID)
	if err != nil {
		return err
	}
	if len(record.Publishers) == 0 {
		return fmt.Errorf("%w: contribution has no allocations", domainerrors.ErrInvalidState)
	}
	reserved, err := e.Tokens.GetReservedTokens(ctx, contributionID)
	if err != nil {
		return storeFailure(err)
	}

	for i, publisher := range record.Publishers {
		if publisher.Settled() {
			continue
		}
		final := true
		for _, next := range record.Publishers[i+1:] {
			if !next.Settled() {
				final = false
				break
			}
		}

		tokens, err := services.SelectTokens(reserved, publisher.TotalAmount)
		if err != nil {
			logger.Error("reserved tokens do not cover allocation",
				"event", "contribution_allocation_uncovered",
				"module", logModule,
				"layer", "application",
				"contribution_id", contributionID,
				"publisher_key", publisher.PublisherKey,
				"allocation", publisher.TotalAmount.String(),
				"reserved", entities.SumTokenValues(reserved).String(),
			)
			return err
		}

		request := ports.RedemptionRequest{
			ContributionID:   record.ContributionID,
			PublisherKey:     publisher.PublisherKey,
			ContributionType: record.Type,
			Processor:        record.Processor,
			Tokens:           tokens,
			IdempotencyKey:   redemptionKey(record.ContributionID, publisher.PublisherKey),
		}
		if err := e.Dispatcher.Dispatch(ctx, request); err != nil {
			return err
		}

		if err := e.Contributions.UpdateContributedAmount(
			ctx,
			contributionID,
			publisher.PublisherKey,
			publisher.TotalAmount,
			entities.TokenIDs(tokens),
		); err != nil {
			return storeFailure(err)
		}
		e.appendEvent(ctx, allocationSettledEventType, contributionID, map[string]any{
			"contribution_id": contributionID,
			"publisher_key":   publisher.PublisherKey,
			"amount":          publisher.TotalAmount.String(),
			"token_count":     len(tokens),
			"processor":       string(record.Processor),
		})

		if !final {
			return domainerrors.ErrPartialProgress
		}
		return e.complete(ctx, record)
	}

	// Every allocation was settled by an earlier attempt.
	if record.Step == entities.StepCompleted {
		return nil
	}
	return e.complete(ctx, record)
}

func (e Engine) complete(ctx context.Context, record entities.ContributionRecord) error {
	if err := e.Contributions.UpdateStep(ctx, record.ContributionID, entities.StepCompleted); err != nil {
		return storeFailure(err)
	}
	e.appendEvent(ctx, completedEventType, record.ContributionID, map[string]any{
		"contribution_id":  record.ContributionID,
		"amount":           record.Amount.String(),
		"type":             string(record.Type),
		"processor":        string(record.Processor),
		"allocation_count": len(record.Publishers),
	})
	return nil
}

func (e Engine) loadContribution(ctx context.Context, contributionID string) (entities.ContributionRecord, error) {
	record, err := e.Contributions.GetContribution(ctx, contributionID)
	if err != nil {
		if errors.Is(err, domainerrors.ErrContributionNotFound) {
			return entities.ContributionRecord{}, fmt.Errorf("%w: %w", domainerrors.ErrInvalidState, err)
		}
		return entities.ContributionRecord{}, storeFailure(err)
	}
	return record, nil
}

// appendEvent writes an outbox envelope. Settlement is already persisted at
// this point, so a failed append is logged rather than turned into a retry.
func (e Engine) appendEvent(ctx context.Context, eventType string, contributionID string, data map[string]any) {
	if e.Outbox == nil || e.IDGen == nil {
		return
	}
	logger := ResolveLogger(e.Logger)

	eventID, err := e.IDGen.NewID(ctx)
	if err == nil {
		var envelope ports.EventEnvelope
		envelope, err = contractsv1.NewEnvelope(
			eventID,
			eventType,
			sourceService,
			"contribution_id",
			contributionID,
			e.now(),
			data,
		)
		if err == nil {
			err = e.Outbox.AppendOutbox(ctx, envelope)
		}
	}
	if err != nil {
		logger.Error("contribution event append failed",
			"event", "contribution_outbox_append_failed",
			"module", logModule,
			"layer", "application",
			"contribution_id", contributionID,
			"event_type", eventType,
			"error", err.Error(),
		)
	}
}

func (e Engine) finish(operation string, contributionID string, err error) (domainerrors.Outcome, error) {
	outcome := domainerrors.Classify(err)
	if e.Metrics != nil {
		e.Metrics.ObserveOutcome(operation, string(outcome))
	}

	logger := ResolveLogger(e.Logger)
	switch outcome {
	case domainerrors.OutcomeCompleted, domainerrors.OutcomeRetryLong:
		logger.Info("contribution step finished",
			"event", "contribution_"+operation+"_finished",
			"module", logModule,
			"layer", "application",
			"contribution_id", contributionID,
			"outcome", outcome,
		)
		return outcome, nil
	default:
		logger.Warn("contribution step did not complete",
			"event", "contribution_"+operation+"_incomplete",
			"module", logModule,
			"layer", "application",
			"contribution_id", contributionID,
			"outcome", outcome,
			"error", err.Error(),
		)
		return outcome, err
	}
}

func (e Engine) currencyScale() int32 {
	if e.CurrencyScale <= 0 {
		return services.DefaultCurrencyScale
	}
	return e.CurrencyScale
}

func (e Engine) now() time.Time {
	if e.Clock == nil {
		return time.Now().UTC()
	}
	return e.Clock.Now().UTC()
}

func storeFailure(err error) error {
	if errors.Is(err, domainerrors.ErrStoreFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", domainerrors.ErrStoreFailure, err)
}
