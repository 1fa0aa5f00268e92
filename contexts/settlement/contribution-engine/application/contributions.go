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
	"rewards/contexts/settlement/contribution-engine/ports"

	"github.com/shopspring/decimal"
)

type PublisherShare struct {
	PublisherKey string
	Amount       decimal.Decimal
}

type CreateContributionCommand struct {
	ContributionID string
	Amount         decimal.Decimal
	Type           entities.ContributionType
	Processor      entities.Processor
	Publishers     []PublisherShare
}

// Contributions creates and reads contribution records. It never moves a
// record past the start step; that is the engine's job.
type Contributions struct {
	Store  ports.ContributionStore
	Clock  ports.Clock
	IDGen  ports.IDGenerator
	Logger *slog.Logger
}

func (c Contributions) Create(ctx context.Context, cmd CreateContributionCommand) (entities.ContributionRecord, error) {
	logger := ResolveLogger(c.Logger)

	contributionID := strings.TrimSpace(cmd.ContributionID)
	if contributionID == "" {
		id, err := c.IDGen.NewID(ctx)
		if err != nil {
			return entities.ContributionRecord{}, storeFailure(err)
		}
		contributionID = id
	} else {
		_, err := c.Store.GetContribution(ctx, contributionID)
		switch {
		case err == nil:
			return entities.ContributionRecord{}, fmt.Errorf("%w: contribution %s already exists", domainerrors.ErrInvalidInput, contributionID)
		case !errors.Is(err, domainerrors.ErrContributionNotFound):
			return entities.ContributionRecord{}, storeFailure(err)
		}
	}

	publishers := make([]entities.ContributionAllocation, 0, len(cmd.Publishers))
	for _, share := range cmd.Publishers {
		publishers = append(publishers, entities.ContributionAllocation{
			PublisherKey: share.PublisherKey,
			TotalAmount:  share.Amount,
		})
	}
	record, err := entities.NewContribution(contributionID, cmd.Amount, cmd.Type, cmd.Processor, publishers, c.now())
	if err != nil {
		return entities.ContributionRecord{}, err
	}
	if err := c.Store.SaveContribution(ctx, record); err != nil {
		logger.Error("contribution save failed",
			"event", "contribution_create_failed",
			"module", logModule,
			"layer", "application",
			"contribution_id", contributionID,
			"error", err.Error(),
		)
		return entities.ContributionRecord{}, storeFailure(err)
	}

	logger.Info("contribution created",
		"event", "contribution_created",
		"module", logModule,
		"layer", "application",
		"contribution_id", record.ContributionID,
		"type", record.Type,
		"processor", record.Processor,
		"amount", record.Amount.String(),
		"publisher_count", len(record.Publishers),
	)
	return record, nil
}

func (c Contributions) Get(ctx context.Context, contributionID string) (entities.ContributionRecord, error) {
	contributionID = strings.TrimSpace(contributionID)
	if contributionID == "" {
		return entities.ContributionRecord{}, domainerrors.ErrInvalidInput
	}
	record, err := c.Store.GetContribution(ctx, contributionID)
	if err != nil {
		if errors.Is(err, domainerrors.ErrContributionNotFound) {
			return entities.ContributionRecord{}, err
		}
		return entities.ContributionRecord{}, storeFailure(err)
	}
	return record, nil
}

func (c Contributions) now() time.Time {
	if c.Clock == nil {
		return time.Now().UTC()
	}
	return c.Clock.Now().UTC()
}
