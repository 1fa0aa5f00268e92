package application

import (
	"context"
	"testing"
	"time"

	"rewards/contexts/settlement/contribution-engine/adapters/memory"
	"rewards/contexts/settlement/contribution-engine/domain/entities"
	domainerrors "rewards/contexts/settlement/contribution-engine/domain/errors"
)

func TestRetryDelayDoublesUpToCap(t *testing.T) {
	policy := OutcomePolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}

	expected := map[int]time.Duration{
		1:  time.Second,
		2:  2 * time.Second,
		3:  4 * time.Second,
		4:  5 * time.Second,
		10: 5 * time.Second,
	}
	for attempt, want := range expected {
		if got := policy.RetryDelay(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}

func TestOutcomePolicyExhaustsRetriesAndReleasesTokens(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	seedTokens(store, 3, "10")
	saveContribution(t, store, "contribution-1", "30", entities.ContributionTypeOneTime, entities.ProcessorTokenNative, "pub-1", "30")
	if err := store.ReserveTokens(ctx, []string{"token-01", "token-02"}, "contribution-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	policy := OutcomePolicy{
		Queue:         store,
		Contributions: store,
		Tokens:        store,
		Clock:         fixedClock{now: now},
		MaxRetries:    1,
		BaseDelay:     time.Minute,
	}

	record := mustGetContribution(t, store, "contribution-1")
	if err := policy.Apply(ctx, record, domainerrors.OutcomeRetry); err != nil {
		t.Fatalf("apply retry failed: %v", err)
	}
	record = mustGetContribution(t, store, "contribution-1")
	if record.RetryCount != 1 || !record.NextAttemptAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected schedule: count=%d next=%s", record.RetryCount, record.NextAttemptAt)
	}

	if err := policy.Apply(ctx, record, domainerrors.OutcomeRetry); err != nil {
		t.Fatalf("apply exhausted retry failed: %v", err)
	}
	record = mustGetContribution(t, store, "contribution-1")
	if record.Step != entities.StepRetryCount {
		t.Fatalf("expected retry_count step, got %s", record.Step)
	}
	reserved, _ := store.GetReservedTokens(ctx, "contribution-1")
	if len(reserved) != 0 {
		t.Fatalf("expected reserved tokens to be released, got %d", len(reserved))
	}
}

func TestOutcomePolicyLeavesFinishedContributionAlone(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTokens(store, 1, "10")
	saveContribution(t, store, "contribution-1", "10", entities.ContributionTypeOneTime, entities.ProcessorTokenNative, "pub-1", "10")
	stale := mustGetContribution(t, store, "contribution-1")

	if err := store.ReserveTokens(ctx, []string{"token-01"}, "contribution-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := store.UpdateStep(ctx, "contribution-1", entities.StepCompleted); err != nil {
		t.Fatalf("update step failed: %v", err)
	}

	policy := OutcomePolicy{Queue: store, Contributions: store, Tokens: store}
	if err := policy.Apply(ctx, stale, domainerrors.OutcomeFailed); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if record := mustGetContribution(t, store, "contribution-1"); record.Step != entities.StepCompleted {
		t.Fatalf("expected completed step to survive, got %s", record.Step)
	}
	if reserved, _ := store.GetReservedTokens(ctx, "contribution-1"); len(reserved) != 1 {
		t.Fatalf("expected reservation to stay untouched, got %d tokens", len(reserved))
	}
}
