package memory

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"rewards/contexts/settlement/contribution-engine/domain/entities"
	domainerrors "rewards/contexts/settlement/contribution-engine/domain/errors"
	"rewards/contexts/settlement/contribution-engine/ports"
	"rewards/internal/shared/outbox"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is an in-memory adapter implementing the settlement ports for local
// runtime and tests. A single mutex makes every method one transaction.
type Store struct {
	mu sync.RWMutex

	tokens        map[string]*tokenRow
	tokenSequence uint64
	contributions map[string]entities.ContributionRecord
	outbox        map[string]outboxRecord
	outboxOrder   []string
}

type tokenRow struct {
	token      entities.UnblindedToken
	sequence   uint64
	reservedBy string
	reservedAt time.Time
	redeemedAt time.Time
}

func (r *tokenRow) spendable(now time.Time) bool {
	return r.reservedBy == "" && r.redeemedAt.IsZero() && !r.token.Expired(now)
}

type outboxRecord struct {
	Message ports.OutboxMessage
	Status  string
	SentAt  *time.Time
}

// TokenState is a read-only view of a token row for inspection.
type TokenState struct {
	Token      entities.UnblindedToken
	ReservedBy string
	Redeemed   bool
}

func NewStore() *Store {
	return &Store{
		tokens:        make(map[string]*tokenRow),
		contributions: make(map[string]entities.ContributionRecord),
		outbox:        make(map[string]outboxRecord),
	}
}

// AddTokens seeds the pool in the given order, skipping blank and known ids.
func (s *Store) AddTokens(tokens ...entities.UnblindedToken) {
	_, _ = s.IssueTokens(context.Background(), tokens)
}

func (s *Store) IssueTokens(_ context.Context, tokens []entities.UnblindedToken) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, token := range tokens {
		id := strings.TrimSpace(token.ID)
		if id == "" {
			continue
		}
		if _, exists := s.tokens[id]; exists {
			continue
		}
		s.tokenSequence++
		s.tokens[id] = &tokenRow{token: token, sequence: s.tokenSequence}
		added++
	}
	return added, nil
}

func (s *Store) TokenState(tokenID string) (TokenState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.tokens[tokenID]
	if !ok {
		return TokenState{}, false
	}
	return TokenState{
		Token:      row.token,
		ReservedBy: row.reservedBy,
		Redeemed:   !row.redeemedAt.IsZero(),
	}, true
}

func (s *Store) SelectSpendableTokens(_ context.Context, batchTypes []entities.BatchType) ([]entities.UnblindedToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := make(map[entities.BatchType]struct{}, len(batchTypes))
	for _, batchType := range batchTypes {
		allowed[batchType] = struct{}{}
	}

	now := time.Now().UTC()
	rows := make([]*tokenRow, 0, len(s.tokens))
	for _, row := range s.tokens {
		if !row.spendable(now) {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[row.token.BatchType]; !ok {
				continue
			}
		}
		rows = append(rows, row)
	}
	return sortedTokens(rows), nil
}

func (s *Store) ReserveTokens(_ context.Context, tokenIDs []string, contributionID string) error {
	contributionID = strings.TrimSpace(contributionID)
	if contributionID == "" || len(tokenIDs) == 0 {
		return domainerrors.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	rows := make([]*tokenRow, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		row, ok := s.tokens[id]
		if !ok {
			return domainerrors.ErrTokensUnavailable
		}
		if row.reservedBy == contributionID && row.redeemedAt.IsZero() {
			continue
		}
		if !row.spendable(now) {
			return domainerrors.ErrTokensUnavailable
		}
		rows = append(rows, row)
	}
	for _, row := range rows {
		row.reservedBy = contributionID
		row.reservedAt = now
	}
	return nil
}

func (s *Store) GetReservedTokens(_ context.Context, contributionID string) ([]entities.UnblindedToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]*tokenRow, 0)
	for _, row := range s.tokens {
		if row.reservedBy == contributionID && row.redeemedAt.IsZero() {
			rows = append(rows, row)
		}
	}
	return sortedTokens(rows), nil
}

func (s *Store) ReleaseReservedTokens(_ context.Context, contributionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	for _, row := range s.tokens {
		if row.reservedBy == contributionID && row.redeemedAt.IsZero() {
			row.reservedBy = ""
			row.reservedAt = time.Time{}
			released++
		}
	}
	return released, nil
}

func (s *Store) GetContribution(_ context.Context, contributionID string) (entities.ContributionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.contributions[strings.TrimSpace(contributionID)]
	if !ok {
		return entities.ContributionRecord{}, domainerrors.ErrContributionNotFound
	}
	return record.Clone(), nil
}

func (s *Store) SaveContribution(_ context.Context, record entities.ContributionRecord) error {
	id := strings.TrimSpace(record.ContributionID)
	if id == "" {
		return domainerrors.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.contributions[id]; ok && !existing.Amount.Equal(record.Amount) {
		return domainerrors.ErrInvalidInput
	}
	s.contributions[id] = record.Clone()
	return nil
}

func (s *Store) UpdateStep(_ context.Context, contributionID string, step entities.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.contributions[contributionID]
	if !ok {
		return domainerrors.ErrContributionNotFound
	}
	record.Step = step
	record.UpdatedAt = time.Now().UTC()
	s.contributions[contributionID] = record
	return nil
}

func (s *Store) TransitionStep(_ context.Context, contributionID string, from []entities.Step, to entities.Step) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.contributions[contributionID]
	if !ok {
		return false, domainerrors.ErrContributionNotFound
	}
	if !slices.Contains(from, record.Step) {
		return false, nil
	}
	record.Step = to
	record.UpdatedAt = time.Now().UTC()
	s.contributions[contributionID] = record
	return true, nil
}

func (s *Store) UpdateContributedAmount(
	_ context.Context,
	contributionID string,
	publisherKey string,
	amount decimal.Decimal,
	redeemedTokenIDs []string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.contributions[contributionID]
	if !ok {
		return domainerrors.ErrContributionNotFound
	}
	index := -1
	for i, publisher := range record.Publishers {
		if publisher.PublisherKey == publisherKey {
			index = i
			break
		}
	}
	if index < 0 {
		return domainerrors.ErrAllocationNotFound
	}
	if amount.IsNegative() || amount.GreaterThan(record.Publishers[index].TotalAmount) {
		return domainerrors.ErrInvalidInput
	}

	rows := make([]*tokenRow, 0, len(redeemedTokenIDs))
	for _, id := range redeemedTokenIDs {
		row, ok := s.tokens[id]
		if !ok || row.reservedBy != contributionID || !row.redeemedAt.IsZero() {
			return domainerrors.ErrTokensUnavailable
		}
		rows = append(rows, row)
	}

	now := time.Now().UTC()
	for _, row := range rows {
		row.redeemedAt = now
	}
	record = record.Clone()
	record.Publishers[index].ContributedAmount = amount
	record.UpdatedAt = now
	s.contributions[contributionID] = record
	return nil
}

func (s *Store) ListDueContributions(
	_ context.Context,
	steps []entities.Step,
	now time.Time,
	limit int,
) ([]entities.ContributionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	wanted := make(map[entities.Step]struct{}, len(steps))
	for _, step := range steps {
		wanted[step] = struct{}{}
	}

	items := make([]entities.ContributionRecord, 0)
	for _, record := range s.contributions {
		if _, ok := wanted[record.Step]; !ok || !record.Retryable() {
			continue
		}
		if record.NextAttemptAt.After(now.UTC()) {
			continue
		}
		items = append(items, record.Clone())
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].NextAttemptAt.Equal(items[j].NextAttemptAt) {
			return items[i].ContributionID < items[j].ContributionID
		}
		return items[i].NextAttemptAt.Before(items[j].NextAttemptAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) ScheduleRetry(_ context.Context, contributionID string, retryCount int, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.contributions[contributionID]
	if !ok {
		return domainerrors.ErrContributionNotFound
	}
	record.RetryCount = retryCount
	record.NextAttemptAt = nextAttemptAt.UTC()
	s.contributions[contributionID] = record
	return nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := strings.TrimSpace(envelope.EventID)
	if id == "" {
		return domainerrors.ErrInvalidInput
	}
	if _, exists := s.outbox[id]; exists {
		return nil
	}
	s.outbox[id] = outboxRecord{
		Message: ports.OutboxMessage{
			OutboxID:     id,
			EventType:    envelope.EventType,
			PartitionKey: envelope.PartitionKey,
			Payload:      payload,
			CreatedAt:    envelope.OccurredAt.UTC(),
		},
		Status: outbox.StatusPending,
	}
	s.outboxOrder = append(s.outboxOrder, id)
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]ports.OutboxMessage, 0, limit)
	for _, id := range s.outboxOrder {
		record := s.outbox[id]
		if record.Status != outbox.StatusPending {
			continue
		}
		message := record.Message
		message.Payload = append([]byte(nil), message.Payload...)
		items = append(items, message)
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

func (s *Store) MarkOutboxSent(_ context.Context, outboxID string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.outbox[outboxID]
	if !ok {
		return domainerrors.ErrInvalidInput
	}
	at := sentAt.UTC()
	record.Status = outbox.StatusSent
	record.SentAt = &at
	s.outbox[outboxID] = record
	return nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func sortedTokens(rows []*tokenRow) []entities.UnblindedToken {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].sequence < rows[j].sequence
	})
	items := make([]entities.UnblindedToken, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.token)
	}
	return items
}
