package application

import (
	"context"
	"log/slog"
	"time"

	"rewards/contexts/settlement/contribution-engine/domain/entities"
	domainerrors "rewards/contexts/settlement/contribution-engine/domain/errors"
	"rewards/contexts/settlement/contribution-engine/ports"

	"github.com/cenkalti/backoff/v4"
)

// OutcomePolicy turns an engine outcome into the next persisted step or
// attempt time. Terminal outcomes give unredeemed reserved tokens back to the
// pool.
//
//	completed        -> nothing, the engine already wrote completed
//	retry_long       -> next attempt after LongDelay, retry count reset
//	retry            -> exponential backoff, retry_count once MaxRetries is spent
//	not_enough_funds -> not_enough_funds
//	ac_table_empty   -> ac_table_empty
//	failed           -> failed
type OutcomePolicy struct {
	Queue         ports.RetryQueue
	Contributions ports.ContributionStore
	Tokens        ports.TokenStore
	Clock         ports.Clock

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	LongDelay  time.Duration
	Logger     *slog.Logger
}

func (p OutcomePolicy) Apply(ctx context.Context, record entities.ContributionRecord, outcome domainerrors.Outcome) error {
	now := p.now()
	switch outcome {
	case domainerrors.OutcomeCompleted:
		return nil
	case domainerrors.OutcomeRetryLong:
		return p.Queue.ScheduleRetry(ctx, record.ContributionID, 0, now.Add(p.longDelay()))
	case domainerrors.OutcomeRetry:
		attempt := record.RetryCount + 1
		if p.MaxRetries > 0 && attempt > p.MaxRetries {
			return p.terminate(ctx, record.ContributionID, entities.StepRetryCount)
		}
		return p.Queue.ScheduleRetry(ctx, record.ContributionID, attempt, now.Add(p.RetryDelay(attempt)))
	case domainerrors.OutcomeNotEnoughFunds:
		return p.terminate(ctx, record.ContributionID, entities.StepNotEnoughFunds)
	case domainerrors.OutcomeACTableEmpty:
		return p.terminate(ctx, record.ContributionID, entities.StepAcTableEmpty)
	default:
		return p.terminate(ctx, record.ContributionID, entities.StepFailed)
	}
}

// terminate moves the contribution to a terminal step only while the engine
// still owns it. A contribution finished by a concurrent run keeps its step
// and its tokens.
func (p OutcomePolicy) terminate(ctx context.Context, contributionID string, step entities.Step) error {
	logger := ResolveLogger(p.Logger)
	applied, err := p.Contributions.TransitionStep(ctx, contributionID, entities.ResumableSteps(), step)
	if err != nil {
		return err
	}
	if !applied {
		logger.Info("contribution already left the engine, terminal step skipped",
			"event", "contribution_terminate_skipped",
			"module", logModule,
			"layer", "application",
			"contribution_id", contributionID,
			"step", step,
		)
		return nil
	}
	released, err := p.Tokens.ReleaseReservedTokens(ctx, contributionID)
	if err != nil {
		return err
	}
	logger.Warn("contribution stopped",
		"event", "contribution_terminated",
		"module", logModule,
		"layer", "application",
		"contribution_id", contributionID,
		"step", step,
		"released_tokens", released,
	)
	return nil
}

// RetryDelay is the wait before the given attempt: BaseDelay doubled per
// earlier attempt and capped at MaxDelay.
func (p OutcomePolicy) RetryDelay(attempt int) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.baseDelay()
	policy.MaxInterval = p.maxDelay()
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	policy.Reset()

	delay := policy.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = policy.NextBackOff()
	}
	return delay
}

func (p OutcomePolicy) baseDelay() time.Duration {
	if p.BaseDelay <= 0 {
		return 15 * time.Second
	}
	return p.BaseDelay
}

func (p OutcomePolicy) maxDelay() time.Duration {
	if p.MaxDelay <= 0 {
		return time.Hour
	}
	return p.MaxDelay
}

func (p OutcomePolicy) longDelay() time.Duration {
	if p.LongDelay <= 0 {
		return 5 * time.Second
	}
	return p.LongDelay
}

func (p OutcomePolicy) now() time.Time {
	if p.Clock == nil {
		return time.Now().UTC()
	}
	return p.Clock.Now().UTC()
}
