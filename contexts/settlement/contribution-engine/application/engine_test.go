package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"rewards/contexts/settlement/contribution-engine/adapters/memory"
	"rewards/contexts/settlement/contribution-engine/domain/entities"
	domainerrors "rewards/contexts/settlement/contribution-engine/domain/errors"
	"rewards/contexts/settlement/contribution-engine/ports"

	"github.com/shopspring/decimal"
)

var promotionOnly = []entities.BatchType{entities.BatchTypePromotion}

func TestStartOneTimeTipCompletes(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTokens(store, 4, "10")
	saveContribution(t, store, "contribution-1", "30", entities.ContributionTypeOneTime, entities.ProcessorTokenNative, "pub-1", "30")
	processor := &recordingProcessor{}
	metrics := &recordingMetrics{}
	engine := newTestEngine(store, store, processor, metrics)

	outcome, err := engine.Start(ctx, promotionOnly, "contribution-1")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if outcome != domainerrors.OutcomeCompleted {
		t.Fatalf("expected completed, got %s", outcome)
	}

	requests := processor.Requests()
	if len(requests) != 1 {
		t.Fatalf("expected one redemption, got %d", len(requests))
	}
	if got := tokenIDs(requests[0].Tokens); got != "token-01,token-02,token-03" {
		t.Fatalf("unexpected redeemed tokens: %s", got)
	}
	if requests[0].IdempotencyKey != "contribution-1:pub-1" {
		t.Fatalf("unexpected idempotency key %q", requests[0].IdempotencyKey)
	}

	record := mustGetContribution(t, store, "contribution-1")
	if record.Step != entities.StepCompleted {
		t.Fatalf("expected completed step, got %s", record.Step)
	}
	if !record.ContributedTotal().Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected contributed total 30, got %s", record.ContributedTotal())
	}
	spare, _ := store.TokenState("token-04")
	if spare.ReservedBy != "" || spare.Redeemed {
		t.Fatalf("expected token-04 to stay in the pool, got %+v", spare)
	}
	if len(metrics.outcomes) != 1 || metrics.outcomes[0] != "start:completed" {
		t.Fatalf("unexpected outcome metrics %v", metrics.outcomes)
	}
	if metrics.redemptions["token_native:true"] != 1 {
		t.Fatalf("expected one successful redemption metric, got %v", metrics.redemptions)
	}

	events := pendingEventTypes(t, store)
	if len(events) != 2 || events[0] != allocationSettledEventType || events[1] != completedEventType {
		t.Fatalf("unexpected outbox events %v", events)
	}
}

func TestStartAutoContributeSettlesOneAllocationPerInvocation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTokens(store, 5, "20")
	saveContribution(t, store, "contribution-ac", "100", entities.ContributionTypeAutoContribute, entities.ProcessorTokenNative,
		"pub-a", "60",
		"pub-b", "40",
	)
	processor := &recordingProcessor{}
	engine := newTestEngine(store, store, processor, nil)
	engine.Uniform = sequence(0.1, 0.7, 0.3, 0.95, 0.59)

	outcome, err := engine.Start(ctx, promotionOnly, "contribution-ac")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if outcome != domainerrors.OutcomeRetryLong {
		t.Fatalf("expected retry_long after first allocation, got %s", outcome)
	}

	record := mustGetContribution(t, store, "contribution-ac")
	if record.Step != entities.StepPrepare {
		t.Fatalf("expected prepare step, got %s", record.Step)
	}
	if len(record.Publishers) != 2 {
		t.Fatalf("expected two allocations, got %d", len(record.Publishers))
	}
	assertAllocation(t, record.Publishers[0], "pub-a", "60", "60")
	assertAllocation(t, record.Publishers[1], "pub-b", "40", "0")

	outcome, err = engine.Retry(ctx, promotionOnly, record)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if outcome != domainerrors.OutcomeCompleted {
		t.Fatalf("expected completed, got %s", outcome)
	}

	record = mustGetContribution(t, store, "contribution-ac")
	if record.Step != entities.StepCompleted {
		t.Fatalf("expected completed step, got %s", record.Step)
	}
	assertAllocation(t, record.Publishers[1], "pub-b", "40", "40")

	requests := processor.Requests()
	if len(requests) != 2 {
		t.Fatalf("expected two redemptions, got %d", len(requests))
	}
	if got := tokenIDs(requests[0].Tokens); got != "token-01,token-02,token-03" {
		t.Fatalf("unexpected tokens for pub-a: %s", got)
	}
	if got := tokenIDs(requests[1].Tokens); got != "token-04,token-05" {
		t.Fatalf("unexpected tokens for pub-b: %s", got)
	}
	for i := 1; i <= 5; i++ {
		state, _ := store.TokenState(fmt.Sprintf("token-%02d", i))
		if !state.Redeemed {
			t.Fatalf("expected token-%02d to be redeemed", i)
		}
	}
}

func TestStartInsufficientFundsReservesNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTokens(store, 2, "10")
	saveContribution(t, store, "contribution-1", "30", entities.ContributionTypeOneTime, entities.ProcessorTokenNative, "pub-1", "30")
	processor := &recordingProcessor{}
	engine := newTestEngine(store, store, processor, nil)

	outcome, err := engine.Start(ctx, promotionOnly, "contribution-1")
	if !errors.Is(err, domainerrors.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if outcome != domainerrors.OutcomeNotEnoughFunds {
		t.Fatalf("expected not_enough_funds, got %s", outcome)
	}
	for _, id := range []string{"token-01", "token-02"} {
		state, _ := store.TokenState(id)
		if state.ReservedBy != "" {
			t.Fatalf("expected %s to stay unreserved", id)
		}
	}
	if record := mustGetContribution(t, store, "contribution-1"); record.Step != entities.StepStart {
		t.Fatalf("expected step to remain start, got %s", record.Step)
	}
	if len(processor.Requests()) != 0 {
		t.Fatalf("expected no redemption")
	}
}

func TestStartIgnoresOtherBatchTypes(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.AddTokens(entities.UnblindedToken{
		ID:        "sku-token",
		Value:     decimal.NewFromInt(50),
		BatchType: entities.BatchTypeSKU,
	})
	saveContribution(t, store, "contribution-1", "30", entities.ContributionTypeOneTime, entities.ProcessorTokenNative, "pub-1", "30")
	engine := newTestEngine(store, store, &recordingProcessor{}, nil)

	outcome, _ := engine.Start(ctx, promotionOnly, "contribution-1")
	if outcome != domainerrors.OutcomeNotEnoughFunds {
		t.Fatalf("expected not_enough_funds, got %s", outcome)
	}

	outcome, err := engine.Start(ctx, []entities.BatchType{entities.BatchTypeSKU}, "contribution-1")
	if err != nil || outcome != domainerrors.OutcomeCompleted {
		t.Fatalf("expected completed with sku batch, got %s: %v", outcome, err)
	}
}

func TestStartRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine := newTestEngine(store, store, &recordingProcessor{}, nil)

	outcome, err := engine.Start(ctx, promotionOnly, "  ")
	if !errors.Is(err, domainerrors.ErrInvalidInput) || outcome != domainerrors.OutcomeFailed {
		t.Fatalf("expected failed invalid input for empty id, got %s: %v", outcome, err)
	}

	outcome, err = engine.Start(ctx, promotionOnly, "missing")
	if !errors.Is(err, domainerrors.ErrInvalidState) || outcome != domainerrors.OutcomeFailed {
		t.Fatalf("expected failed invalid state for unknown id, got %s: %v", outcome, err)
	}
}

func TestStartRequiresStartStep(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTokens(store, 4, "10")
	saveContribution(t, store, "contribution-1", "30", entities.ContributionTypeOneTime, entities.ProcessorTokenNative, "pub-1", "30")
	if err := store.UpdateStep(ctx, "contribution-1", entities.StepPrepare); err != nil {
		t.Fatalf("update step failed: %v", err)
	}
	engine := newTestEngine(store, store, &recordingProcessor{}, nil)

	outcome, err := engine.Start(ctx, promotionOnly, "contribution-1")
	if !errors.Is(err, domainerrors.ErrInvalidState) || outcome != domainerrors.OutcomeFailed {
		t.Fatalf("expected failed invalid state, got %s: %v", outcome, err)
	}
}

func TestRetryWalletOneTimeIsNotApplicable(t *testing.T) {
	engine := Engine{
		Tokens:        forbiddenStore{t: t},
		Contributions: forbiddenStore{t: t},
		Dispatcher:    Dispatcher{Wallet: &recordingProcessor{}},
	}
	record := entities.ContributionRecord{
		ContributionID: "contribution-wallet",
		Amount:         decimal.NewFromInt(5),
		Type:           entities.ContributionTypeOneTime,
		Processor:      entities.ProcessorExternalWallet,
		Step:           entities.StepPrepare,
	}

	outcome, err := engine.Retry(context.Background(), promotionOnly, record)
	if !errors.Is(err, domainerrors.ErrNotApplicable) {
		t.Fatalf("expected not applicable, got %v", err)
	}
	if outcome != domainerrors.OutcomeFailed {
		t.Fatalf("expected failed, got %s", outcome)
	}

	record.Processor = entities.ProcessorExternalWalletFunds
	record.Type = entities.ContributionTypeAutoContribute
	if _, err := engine.Retry(context.Background(), promotionOnly, record); !errors.Is(err, domainerrors.ErrNotApplicable) {
		t.Fatalf("expected not applicable for wallet funds, got %v", err)
	}
}

func TestRetryForeignOrUnknownStepIsInvalidState(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	saveContribution(t, store, "contribution-1", "30", entities.ContributionTypeOneTime, entities.ProcessorTokenNative, "pub-1", "30")
	processor := &recordingProcessor{}
	engine := newTestEngine(store, store, processor, nil)

	for _, step := range []entities.Step{entities.StepCreds, entities.StepExternalTransaction, entities.StepCompleted, "bogus"} {
		if err := store.UpdateStep(ctx, "contribution-1", step); err != nil {
			t.Fatalf("update step failed: %v", err)
		}
		record := mustGetContribution(t, store, "contribution-1")

		outcome, err := engine.Retry(ctx, promotionOnly, record)
		if !errors.Is(err, domainerrors.ErrInvalidState) {
			t.Fatalf("step %s: expected invalid state, got %v", step, err)
		}
		if outcome != domainerrors.OutcomeFailed {
			t.Fatalf("step %s: expected failed, got %s", step, outcome)
		}
	}
	if len(processor.Requests()) != 0 {
		t.Fatalf("expected no redemption for foreign steps")
	}
}

func TestRetryUsesPersistedStepOverStaleRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTokens(store, 4, "10")
	saveContribution(t, store, "contribution-1", "30", entities.ContributionTypeOneTime, entities.ProcessorTokenNative, "pub-1", "30")
	stale := mustGetContribution(t, store, "contribution-1")
	if err := store.UpdateStep(ctx, "contribution-1", entities.StepCompleted); err != nil {
		t.Fatalf("update step failed: %v", err)
	}
	processor := &recordingProcessor{}
	engine := newTestEngine(store, store, processor, nil)

	outcome, err := engine.Retry(ctx, promotionOnly, stale)
	if !errors.Is(err, domainerrors.ErrInvalidState) || outcome != domainerrors.OutcomeFailed {
		t.Fatalf("expected persisted completed step to win, got %s: %v", outcome, err)
	}
	if len(processor.Requests()) != 0 {
		t.Fatalf("expected no redemption")
	}
}

func TestProcessorFailureNeverDoubleSpends(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTokens(store, 4, "10")
	saveContribution(t, store, "contribution-1", "30", entities.ContributionTypeOneTime, entities.ProcessorTokenNative, "pub-1", "30")
	processor := &recordingProcessor{failures: 2}
	metrics := &recordingMetrics{}
	engine := newTestEngine(store, store, processor, metrics)

	outcome, err := engine.Start(ctx, promotionOnly, "contribution-1")
	if !errors.Is(err, domainerrors.ErrProcessorFailure) || outcome != domainerrors.OutcomeRetry {
		t.Fatalf("expected retry on processor failure, got %s: %v", outcome, err)
	}
	record := mustGetContribution(t, store, "contribution-1")
	if record.Step != entities.StepPrepare {
		t.Fatalf("expected prepare step, got %s", record.Step)
	}
	if !record.ContributedTotal().IsZero() {
		t.Fatalf("expected nothing contributed, got %s", record.ContributedTotal())
	}

	outcome, _ = engine.Retry(ctx, promotionOnly, record)
	if outcome != domainerrors.OutcomeRetry {
		t.Fatalf("expected second retry outcome, got %s", outcome)
	}
	outcome, err = engine.Retry(ctx, promotionOnly, mustGetContribution(t, store, "contribution-1"))
	if err != nil || outcome != domainerrors.OutcomeCompleted {
		t.Fatalf("expected completion on third attempt, got %s: %v", outcome, err)
	}

	requests := processor.Requests()
	if len(requests) != 3 {
		t.Fatalf("expected three redemption attempts, got %d", len(requests))
	}
	for _, request := range requests {
		if request.IdempotencyKey != "contribution-1:pub-1" {
			t.Fatalf("idempotency key changed between attempts: %q", request.IdempotencyKey)
		}
		if got := tokenIDs(request.Tokens); got != "token-01,token-02,token-03" {
			t.Fatalf("token set changed between attempts: %s", got)
		}
	}
	record = mustGetContribution(t, store, "contribution-1")
	if !record.ContributedTotal().Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected contributed total 30, got %s", record.ContributedTotal())
	}
	if metrics.redemptions["token_native:false"] != 2 || metrics.redemptions["token_native:true"] != 1 {
		t.Fatalf("unexpected redemption metrics %v", metrics.redemptions)
	}
}

func TestRetryResumesFromReserveStep(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTokens(store, 5, "20")
	saveContribution(t, store, "contribution-ac", "100", entities.ContributionTypeAutoContribute, entities.ProcessorTokenNative,
		"pub-a", "60",
		"pub-b", "40",
	)
	faulty := &faultyContributions{ContributionStore: store, failSaves: 1}
	processor := &recordingProcessor{}
	engine := newTestEngine(store, faulty, processor, nil)
	engine.Uniform = sequence(0.1, 0.7, 0.3, 0.95, 0.59)

	outcome, err := engine.Start(ctx, promotionOnly, "contribution-ac")
	if !errors.Is(err, domainerrors.ErrStoreFailure) || outcome != domainerrors.OutcomeRetry {
		t.Fatalf("expected store failure retry, got %s: %v", outcome, err)
	}
	record := mustGetContribution(t, store, "contribution-ac")
	if record.Step != entities.StepReserve {
		t.Fatalf("expected reserve step, got %s", record.Step)
	}
	reserved, _ := store.GetReservedTokens(ctx, "contribution-ac")
	if len(reserved) != 5 {
		t.Fatalf("expected five reserved tokens, got %d", len(reserved))
	}

	if outcome, err := engine.Retry(ctx, promotionOnly, record); err != nil || outcome != domainerrors.OutcomeRetryLong {
		t.Fatalf("expected retry_long after resume, got %s: %v", outcome, err)
	}
	if outcome, err := engine.Retry(ctx, promotionOnly, mustGetContribution(t, store, "contribution-ac")); err != nil || outcome != domainerrors.OutcomeCompleted {
		t.Fatalf("expected completed after resume, got %s: %v", outcome, err)
	}

	record = mustGetContribution(t, store, "contribution-ac")
	assertAllocation(t, record.Publishers[0], "pub-a", "60", "60")
	assertAllocation(t, record.Publishers[1], "pub-b", "40", "40")
	if len(processor.Requests()) != 2 {
		t.Fatalf("expected two redemptions, got %d", len(processor.Requests()))
	}
}

func TestStartResumesInterruptedReservation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTokens(store, 6, "10")
	saveContribution(t, store, "contribution-1", "30", entities.ContributionTypeOneTime, entities.ProcessorTokenNative, "pub-1", "30")
	faulty := &faultyContributions{
		ContributionStore: store,
		failSteps:         map[entities.Step]int{entities.StepReserve: 1},
	}
	processor := &recordingProcessor{}
	engine := newTestEngine(store, faulty, processor, nil)

	outcome, _ := engine.Start(ctx, promotionOnly, "contribution-1")
	if outcome != domainerrors.OutcomeRetry {
		t.Fatalf("expected retry after failed step write, got %s", outcome)
	}
	if record := mustGetContribution(t, store, "contribution-1"); record.Step != entities.StepStart {
		t.Fatalf("expected start step, got %s", record.Step)
	}

	outcome, err := engine.Start(ctx, promotionOnly, "contribution-1")
	if err != nil || outcome != domainerrors.OutcomeCompleted {
		t.Fatalf("expected completed, got %s: %v", outcome, err)
	}
	for _, id := range []string{"token-04", "token-05", "token-06"} {
		state, _ := store.TokenState(id)
		if state.ReservedBy != "" || state.Redeemed {
			t.Fatalf("expected %s untouched after resumed start, got %+v", id, state)
		}
	}
	if got := tokenIDs(processor.Requests()[0].Tokens); got != "token-01,token-02,token-03" {
		t.Fatalf("expected originally reserved tokens, got %s", got)
	}
}

func TestRetryCompletesWhenSettlementOutlivedStepWrite(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTokens(store, 3, "10")
	saveContribution(t, store, "contribution-1", "30", entities.ContributionTypeOneTime, entities.ProcessorTokenNative, "pub-1", "30")
	faulty := &faultyContributions{
		ContributionStore: store,
		failSteps:         map[entities.Step]int{entities.StepCompleted: 1},
	}
	processor := &recordingProcessor{}
	engine := newTestEngine(store, faulty, processor, nil)

	outcome, _ := engine.Start(ctx, promotionOnly, "contribution-1")
	if outcome != domainerrors.OutcomeRetry {
		t.Fatalf("expected retry after failed completion write, got %s", outcome)
	}
	record := mustGetContribution(t, store, "contribution-1")
	if record.Step != entities.StepPrepare || !record.ContributedTotal().Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected settled allocation in prepare step, got %s / %s", record.Step, record.ContributedTotal())
	}

	outcome, err := engine.Retry(ctx, promotionOnly, record)
	if err != nil || outcome != domainerrors.OutcomeCompleted {
		t.Fatalf("expected completed, got %s: %v", outcome, err)
	}
	if len(processor.Requests()) != 1 {
		t.Fatalf("expected a single redemption, got %d", len(processor.Requests()))
	}
}

func TestAutoContributeWithoutCandidatesIsEmptyTable(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTokens(store, 2, "10")
	record := entities.ContributionRecord{
		ContributionID: "contribution-empty",
		Amount:         decimal.NewFromInt(20),
		Type:           entities.ContributionTypeAutoContribute,
		Processor:      entities.ProcessorTokenNative,
		Step:           entities.StepStart,
	}
	if err := store.SaveContribution(ctx, record); err != nil {
		t.Fatalf("save contribution failed: %v", err)
	}
	engine := newTestEngine(store, store, &recordingProcessor{}, nil)

	outcome, err := engine.Start(ctx, promotionOnly, "contribution-empty")
	if !errors.Is(err, domainerrors.ErrEmptyAllocation) {
		t.Fatalf("expected empty allocation, got %v", err)
	}
	if outcome != domainerrors.OutcomeACTableEmpty {
		t.Fatalf("expected ac_table_empty, got %s", outcome)
	}
}

func TestWalletAutoContributeRoutesToWalletProcessor(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTokens(store, 2, "10")
	saveContribution(t, store, "contribution-wallet", "20", entities.ContributionTypeAutoContribute, entities.ProcessorExternalWallet,
		"pub-a", "20",
	)
	native := &recordingProcessor{}
	wallet := &recordingProcessor{}
	engine := newTestEngine(store, store, native, nil)
	engine.Dispatcher.Wallet = wallet

	outcome, err := engine.Start(ctx, promotionOnly, "contribution-wallet")
	if err != nil || outcome != domainerrors.OutcomeCompleted {
		t.Fatalf("expected completed, got %s: %v", outcome, err)
	}
	if len(native.Requests()) != 0 || len(wallet.Requests()) != 1 {
		t.Fatalf("expected wallet routing, native=%d wallet=%d", len(native.Requests()), len(wallet.Requests()))
	}
}

func newTestEngine(
	tokens ports.TokenStore,
	contributions ports.ContributionStore,
	processor ports.RedemptionProcessor,
	metrics ports.Metrics,
) Engine {
	store, _ := tokens.(*memory.Store)
	engine := Engine{
		Tokens:        tokens,
		Contributions: contributions,
		Dispatcher: Dispatcher{
			TokenNative: processor,
			Wallet:      processor,
			Metrics:     metrics,
		},
		Clock:   fixedClock{now: time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)},
		Metrics: metrics,
	}
	if store != nil {
		engine.Outbox = store
		engine.IDGen = store
	}
	return engine
}

func seedTokens(store *memory.Store, count int, value string) {
	for i := 1; i <= count; i++ {
		store.AddTokens(entities.UnblindedToken{
			ID:         fmt.Sprintf("token-%02d", i),
			TokenValue: fmt.Sprintf("value-%02d", i),
			PublicKey:  "public-key",
			Value:      decimal.RequireFromString(value),
			CredsID:    "creds-1",
			BatchType:  entities.BatchTypePromotion,
		})
	}
}

func saveContribution(
	t *testing.T,
	store ports.ContributionStore,
	contributionID string,
	amount string,
	contributionType entities.ContributionType,
	processor entities.Processor,
	publisherPairs ...string,
) {
	t.Helper()
	publishers := make([]entities.ContributionAllocation, 0, len(publisherPairs)/2)
	for i := 0; i+1 < len(publisherPairs); i += 2 {
		publishers = append(publishers, entities.ContributionAllocation{
			PublisherKey: publisherPairs[i],
			TotalAmount:  decimal.RequireFromString(publisherPairs[i+1]),
		})
	}
	record, err := entities.NewContribution(
		contributionID,
		decimal.RequireFromString(amount),
		contributionType,
		processor,
		publishers,
		time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("build contribution failed: %v", err)
	}
	if err := store.SaveContribution(context.Background(), record); err != nil {
		t.Fatalf("save contribution failed: %v", err)
	}
}

func mustGetContribution(t *testing.T, store ports.ContributionStore, contributionID string) entities.ContributionRecord {
	t.Helper()
	record, err := store.GetContribution(context.Background(), contributionID)
	if err != nil {
		t.Fatalf("get contribution failed: %v", err)
	}
	return record
}

func assertAllocation(t *testing.T, allocation entities.ContributionAllocation, publisherKey string, total string, contributed string) {
	t.Helper()
	if allocation.PublisherKey != publisherKey {
		t.Fatalf("expected publisher %s, got %s", publisherKey, allocation.PublisherKey)
	}
	if !allocation.TotalAmount.Equal(decimal.RequireFromString(total)) {
		t.Fatalf("%s: expected total %s, got %s", publisherKey, total, allocation.TotalAmount)
	}
	if !allocation.ContributedAmount.Equal(decimal.RequireFromString(contributed)) {
		t.Fatalf("%s: expected contributed %s, got %s", publisherKey, contributed, allocation.ContributedAmount)
	}
}

func pendingEventTypes(t *testing.T, store *memory.Store) []string {
	t.Helper()
	messages, err := store.ListPendingOutbox(context.Background(), 50)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	items := make([]string, 0, len(messages))
	for _, message := range messages {
		items = append(items, message.EventType)
	}
	return items
}

func tokenIDs(tokens []entities.UnblindedToken) string {
	joined := ""
	for i, token := range tokens {
		if i > 0 {
			joined += ","
		}
		joined += token.ID
	}
	return joined
}

func sequence(values ...float64) func() float64 {
	i := 0
	return func() float64 {
		value := values[i%len(values)]
		i++
		return value
	}
}

type fixedClock struct {
	now time.Time
}

func (f fixedClock) Now() time.Time { return f.now }

type recordingProcessor struct {
	mu       sync.Mutex
	failures int
	requests []ports.RedemptionRequest
}

func (p *recordingProcessor) RedeemTokens(_ context.Context, request ports.RedemptionRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, request)
	if p.failures > 0 {
		p.failures--
		return errors.New("processor unavailable")
	}
	return nil
}

func (p *recordingProcessor) Requests() []ports.RedemptionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ports.RedemptionRequest(nil), p.requests...)
}

type recordingMetrics struct {
	outcomes    []string
	redemptions map[string]int
}

func (m *recordingMetrics) ObserveOutcome(operation string, outcome string) {
	m.outcomes = append(m.outcomes, operation+":"+outcome)
}

func (m *recordingMetrics) ObserveRedemption(processor string, success bool) {
	if m.redemptions == nil {
		m.redemptions = map[string]int{}
	}
	m.redemptions[fmt.Sprintf("%s:%t", processor, success)]++
}

// faultyContributions fails selected writes a fixed number of times to
// simulate a crash between two persisted steps.
type faultyContributions struct {
	ports.ContributionStore
	failSaves int
	failSteps map[entities.Step]int
}

func (f *faultyContributions) SaveContribution(ctx context.Context, record entities.ContributionRecord) error {
	if f.failSaves > 0 {
		f.failSaves--
		return errors.New("connection reset")
	}
	return f.ContributionStore.SaveContribution(ctx, record)
}

func (f *faultyContributions) UpdateStep(ctx context.Context, contributionID string, step entities.Step) error {
	if f.failSteps[step] > 0 {
		f.failSteps[step]--
		return errors.New("connection reset")
	}
	return f.ContributionStore.UpdateStep(ctx, contributionID, step)
}

type forbiddenStore struct {
	t *testing.T
}

func (s forbiddenStore) fail(method string) {
	s.t.Helper()
	s.t.Fatalf("unexpected store call %s", method)
}

func (s forbiddenStore) SelectSpendableTokens(context.Context, []entities.BatchType) ([]entities.UnblindedToken, error) {
	s.fail("SelectSpendableTokens")
	return nil, nil
}

func (s forbiddenStore) ReserveTokens(context.Context, []string, string) error {
	s.fail("ReserveTokens")
	return nil
}

func (s forbiddenStore) GetReservedTokens(context.Context, string) ([]entities.UnblindedToken, error) {
	s.fail("GetReservedTokens")
	return nil, nil
}

func (s forbiddenStore) ReleaseReservedTokens(context.Context, string) (int, error) {
	s.fail("ReleaseReservedTokens")
	return 0, nil
}

func (s forbiddenStore) GetContribution(context.Context, string) (entities.ContributionRecord, error) {
	s.fail("GetContribution")
	return entities.ContributionRecord{}, nil
}

func (s forbiddenStore) SaveContribution(context.Context, entities.ContributionRecord) error {
	s.fail("SaveContribution")
	return nil
}

func (s forbiddenStore) UpdateStep(context.Context, string, entities.Step) error {
	s.fail("UpdateStep")
	return nil
}

func (s forbiddenStore) TransitionStep(context.Context, string, []entities.Step, entities.Step) (bool, error) {
	s.fail("TransitionStep")
	return false, nil
}

func (s forbiddenStore) UpdateContributedAmount(context.Context, string, string, decimal.Decimal, []string) error {
	s.fail("UpdateContributedAmount")
	return nil
}
