package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	application "rewards/contexts/settlement/contribution-engine/application"
	"rewards/contexts/settlement/contribution-engine/domain/entities"
	domainerrors "rewards/contexts/settlement/contribution-engine/domain/errors"
	"rewards/contexts/settlement/contribution-engine/ports"

	"golang.org/x/time/rate"
)

const workerLogModule = "settlement/contribution-engine"

// Retrier is the engine entry point the scheduler drives.
type Retrier interface {
	Retry(ctx context.Context, batchTypes []entities.BatchType, record entities.ContributionRecord) (domainerrors.Outcome, error)
}

// RetryScheduler resumes due contributions and records each outcome through
// Policy.
type RetryScheduler struct {
	Queue  ports.RetryQueue
	Engine Retrier
	Policy application.OutcomePolicy
	Clock  ports.Clock
	// Limiter paces engine invocations, and with them processor calls.
	Limiter *rate.Limiter

	BatchTypes []entities.BatchType
	BatchSize  int
	Logger     *slog.Logger
}

func (s RetryScheduler) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(s.Logger)
	limit := s.BatchSize
	if limit <= 0 {
		limit = 50
	}

	now := time.Now().UTC()
	if s.Clock != nil {
		now = s.Clock.Now().UTC()
	}

	due, err := s.Queue.ListDueContributions(ctx, entities.ResumableSteps(), now, limit)
	if err != nil {
		logger.Error("retry queue list failed",
			"event", "contribution_retry_list_failed",
			"module", workerLogModule,
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	var errs []error
	processed := 0
	for _, record := range due {
		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		outcome, _ := s.Engine.Retry(ctx, s.BatchTypes, record)
		if err := s.Policy.Apply(ctx, record, outcome); err != nil {
			logger.Error("retry outcome apply failed",
				"event", "contribution_retry_apply_failed",
				"module", workerLogModule,
				"layer", "worker",
				"contribution_id", record.ContributionID,
				"outcome", outcome,
				"error", err.Error(),
			)
			errs = append(errs, err)
			continue
		}
		processed++
	}

	if processed > 0 {
		logger.Info("retry scheduler cycle completed",
			"event", "contribution_retry_cycle_completed",
			"module", workerLogModule,
			"layer", "worker",
			"processed_count", processed,
			"due_count", len(due),
		)
	}
	return errors.Join(errs...)
}
