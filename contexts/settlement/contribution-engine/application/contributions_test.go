package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"rewards/contexts/settlement/contribution-engine/adapters/memory"
	"rewards/contexts/settlement/contribution-engine/domain/entities"
	domainerrors "rewards/contexts/settlement/contribution-engine/domain/errors"

	"github.com/shopspring/decimal"
)

func TestCreateContributionStartsAtStartStep(t *testing.T) {
	store := memory.NewStore()
	now := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	service := Contributions{Store: store, Clock: fixedClock{now: now}, IDGen: store}

	record, err := service.Create(context.Background(), CreateContributionCommand{
		Amount:    decimal.NewFromInt(25),
		Type:      entities.ContributionTypeAutoContribute,
		Processor: entities.ProcessorTokenNative,
		Publishers: []PublisherShare{
			{PublisherKey: "pub-a", Amount: decimal.NewFromInt(15)},
			{PublisherKey: "pub-b", Amount: decimal.NewFromInt(10)},
		},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if record.ContributionID == "" {
		t.Fatalf("expected generated contribution id")
	}
	if record.Step != entities.StepStart || !record.NextAttemptAt.Equal(now) {
		t.Fatalf("unexpected initial state: step=%s next=%s", record.Step, record.NextAttemptAt)
	}

	loaded, err := service.Get(context.Background(), record.ContributionID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(loaded.Publishers) != 2 || !loaded.ContributedTotal().IsZero() {
		t.Fatalf("unexpected stored allocations %+v", loaded.Publishers)
	}
}

func TestCreateContributionRejectsDuplicateAndInvalidInput(t *testing.T) {
	store := memory.NewStore()
	service := Contributions{Store: store, IDGen: store}
	cmd := CreateContributionCommand{
		ContributionID: "contribution-1",
		Amount:         decimal.NewFromInt(5),
		Type:           entities.ContributionTypeOneTime,
		Processor:      entities.ProcessorExternalWallet,
		Publishers:     []PublisherShare{{PublisherKey: "pub-1", Amount: decimal.NewFromInt(5)}},
	}
	if _, err := service.Create(context.Background(), cmd); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := service.Create(context.Background(), cmd); !errors.Is(err, domainerrors.ErrInvalidInput) {
		t.Fatalf("expected duplicate id to be rejected, got %v", err)
	}

	cmd.ContributionID = "contribution-2"
	cmd.Publishers = append(cmd.Publishers, PublisherShare{PublisherKey: "pub-2", Amount: decimal.NewFromInt(1)})
	if _, err := service.Create(context.Background(), cmd); !errors.Is(err, domainerrors.ErrInvalidInput) {
		t.Fatalf("expected one-time tip with two publishers to be rejected, got %v", err)
	}

	cmd.Publishers = cmd.Publishers[:1]
	cmd.Amount = decimal.Zero
	if _, err := service.Create(context.Background(), cmd); !errors.Is(err, domainerrors.ErrInvalidInput) {
		t.Fatalf("expected zero amount to be rejected, got %v", err)
	}
}

func TestGetContributionErrors(t *testing.T) {
	store := memory.NewStore()
	service := Contributions{Store: store}

	if _, err := service.Get(context.Background(), " "); !errors.Is(err, domainerrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := service.Get(context.Background(), "missing"); !errors.Is(err, domainerrors.ErrContributionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
