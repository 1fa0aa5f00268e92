package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"rewards/contexts/settlement/contribution-engine/domain/entities"
	domainerrors "rewards/contexts/settlement/contribution-engine/domain/errors"
	"rewards/contexts/settlement/contribution-engine/ports"
	"rewards/internal/shared/outbox"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Migrate creates or updates the settlement tables.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(
		&tokenModel{},
		&contributionModel{},
		&allocationModel{},
		&outboxModel{},
	)
}

// IssueTokens inserts tokens into the spendable pool. Existing ids are left
// as-is. Creation times are spaced so spending order follows input order.
func (r *Repository) IssueTokens(ctx context.Context, tokens []entities.UnblindedToken) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([]tokenModel, 0, len(tokens))
	for i, token := range tokens {
		rows = append(rows, tokenModelFromEntity(token, now.Add(time.Duration(i)*time.Microsecond)))
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token_id"}},
			DoNothing: true,
		}).
		Create(&rows)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (r *Repository) SelectSpendableTokens(ctx context.Context, batchTypes []entities.BatchType) ([]entities.UnblindedToken, error) {
	tx := r.db.WithContext(ctx).
		Model(&tokenModel{}).
		Where("reserved_by IS NULL AND redeemed_at IS NULL").
		Where("(expires_at IS NULL OR expires_at > ?)", time.Now().UTC())
	if len(batchTypes) > 0 {
		values := make([]string, 0, len(batchTypes))
		for _, batchType := range batchTypes {
			values = append(values, string(batchType))
		}
		tx = tx.Where("batch_type IN ?", values)
	}

	var rows []tokenModel
	if err := tx.Order("created_at ASC").Order("token_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return tokensFromRows(rows), nil
}

func (r *Repository) ReserveTokens(ctx context.Context, tokenIDs []string, contributionID string) error {
	ids := uniqueIDs(tokenIDs)
	if contributionID == "" || len(ids) == 0 {
		return domainerrors.ErrInvalidInput
	}
	now := time.Now().UTC()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&tokenModel{}).
			Scopes(reservableTokens(ids, contributionID, now)).
			Updates(map[string]any{
				"reserved_by": contributionID,
				"reserved_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if int(result.RowsAffected) != len(ids) {
			r.logger.Warn("token reservation lost a race",
				"event", "contribution_token_reservation_conflict",
				"module", "settlement/contribution-engine",
				"layer", "adapter",
				"contribution_id", contributionID,
				"requested", len(ids),
				"reserved", result.RowsAffected,
			)
			return domainerrors.ErrTokensUnavailable
		}
		return nil
	})
}

func (r *Repository) GetReservedTokens(ctx context.Context, contributionID string) ([]entities.UnblindedToken, error) {
	var rows []tokenModel
	if err := r.db.WithContext(ctx).
		Where("reserved_by = ? AND redeemed_at IS NULL", contributionID).
		Order("created_at ASC").
		Order("token_id ASC").
		Find(&rows).
		Error; err != nil {
		return nil, err
	}
	return tokensFromRows(rows), nil
}

func (r *Repository) ReleaseReservedTokens(ctx context.Context, contributionID string) (int, error) {
	result := r.db.WithContext(ctx).
		Model(&tokenModel{}).
		Where("reserved_by = ? AND redeemed_at IS NULL", contributionID).
		Updates(map[string]any{
			"reserved_by": nil,
			"reserved_at": nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (r *Repository) GetContribution(ctx context.Context, contributionID string) (entities.ContributionRecord, error) {
	var row contributionModel
	err := r.db.WithContext(ctx).
		Where("contribution_id = ?", contributionID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.ContributionRecord{}, domainerrors.ErrContributionNotFound
		}
		return entities.ContributionRecord{}, err
	}

	allocations, err := r.loadAllocations(r.db.WithContext(ctx), []string{contributionID})
	if err != nil {
		return entities.ContributionRecord{}, err
	}
	return row.toEntity(allocations[contributionID]), nil
}

func (r *Repository) SaveContribution(ctx context.Context, record entities.ContributionRecord) error {
	if record.ContributionID == "" {
		return domainerrors.ErrInvalidInput
	}
	row := contributionModelFromEntity(record)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing contributionModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("contribution_id = ?", record.ContributionID).
			First(&existing).
			Error
		switch {
		case err == nil:
			if !existing.Amount.Equal(record.Amount) {
				return domainerrors.ErrInvalidInput
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "contribution_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"type",
				"processor",
				"step",
				"retry_count",
				"next_attempt_at",
				"updated_at",
			}),
		}).Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrInvalidInput
			}
			return err
		}

		if err := tx.Where("contribution_id = ?", record.ContributionID).
			Delete(&allocationModel{}).
			Error; err != nil {
			return err
		}
		if len(record.Publishers) == 0 {
			return nil
		}
		allocations := make([]allocationModel, 0, len(record.Publishers))
		for i, publisher := range record.Publishers {
			allocations = append(allocations, allocationModel{
				ContributionID:    record.ContributionID,
				PublisherKey:      publisher.PublisherKey,
				Position:          i,
				TotalAmount:       publisher.TotalAmount,
				ContributedAmount: publisher.ContributedAmount,
			})
		}
		if err := tx.Create(&allocations).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrInvalidInput
			}
			return err
		}
		return nil
	})
}

func (r *Repository) UpdateStep(ctx context.Context, contributionID string, step entities.Step) error {
	result := r.db.WithContext(ctx).
		Model(&contributionModel{}).
		Where("contribution_id = ?", contributionID).
		Updates(map[string]any{
			"step":       string(step),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrContributionNotFound
	}
	return nil
}

func (r *Repository) TransitionStep(ctx context.Context, contributionID string, from []entities.Step, to entities.Step) (bool, error) {
	db := r.db.WithContext(ctx)
	result := db.
		Model(&contributionModel{}).
		Scopes(contributionInSteps(contributionID, from)).
		Updates(map[string]any{
			"step":       string(to),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := db.Model(&contributionModel{}).Where("contribution_id = ?", contributionID).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, domainerrors.ErrContributionNotFound
	}
	return false, nil
}

func (r *Repository) UpdateContributedAmount(
	ctx context.Context,
	contributionID string,
	publisherKey string,
	amount decimal.Decimal,
	redeemedTokenIDs []string,
) error {
	now := time.Now().UTC()
	ids := uniqueIDs(redeemedTokenIDs)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var allocation allocationModel
		err := tx.Scopes(allocationForUpdate(contributionID, publisherKey)).
			First(&allocation).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				var count int64
				if err := tx.Model(&contributionModel{}).
					Where("contribution_id = ?", contributionID).
					Count(&count).
					Error; err != nil {
					return err
				}
				if count == 0 {
					return domainerrors.ErrContributionNotFound
				}
				return domainerrors.ErrAllocationNotFound
			}
			return err
		}
		if amount.IsNegative() || amount.GreaterThan(allocation.TotalAmount) {
			return domainerrors.ErrInvalidInput
		}

		if len(ids) > 0 {
			result := tx.Model(&tokenModel{}).
				Scopes(redeemableTokens(ids, contributionID)).
				Update("redeemed_at", now)
			if result.Error != nil {
				return result.Error
			}
			if int(result.RowsAffected) != len(ids) {
				return domainerrors.ErrTokensUnavailable
			}
		}

		if err := tx.Model(&allocationModel{}).
			Where("contribution_id = ? AND publisher_key = ?", contributionID, publisherKey).
			Update("contributed_amount", amount).
			Error; err != nil {
			return err
		}
		return tx.Model(&contributionModel{}).
			Where("contribution_id = ?", contributionID).
			Update("updated_at", now).
			Error
	})
}

func (r *Repository) ListDueContributions(
	ctx context.Context,
	steps []entities.Step,
	now time.Time,
	limit int,
) ([]entities.ContributionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	values := stepValues(steps)
	if len(values) == 0 {
		return nil, nil
	}

	db := r.db.WithContext(ctx)
	var rows []contributionModel
	if err := db.
		Scopes(dueForRetry(values, now)).
		Order("next_attempt_at ASC").
		Order("contribution_id ASC").
		Limit(limit).
		Find(&rows).
		Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ContributionID)
	}
	allocations, err := r.loadAllocations(db, ids)
	if err != nil {
		return nil, err
	}

	items := make([]entities.ContributionRecord, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity(allocations[row.ContributionID]))
	}
	return items, nil
}

func (r *Repository) ScheduleRetry(ctx context.Context, contributionID string, retryCount int, nextAttemptAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&contributionModel{}).
		Where("contribution_id = ?", contributionID).
		Updates(map[string]any{
			"retry_count":     retryCount,
			"next_attempt_at": nextAttemptAt.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrContributionNotFound
	}
	return nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	row := outboxModel{
		OutboxID:     envelope.EventID,
		EventType:    envelope.EventType,
		PartitionKey: envelope.PartitionKey,
		Payload:      payload,
		Status:       outbox.StatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "outbox_id"}},
			DoNothing: true,
		}).
		Create(&row).
		Error
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outbox.StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).
		Error; err != nil {
		return nil, err
	}

	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toPort())
	}
	return items, nil
}

func (r *Repository) MarkOutboxSent(ctx context.Context, outboxID string, sentAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", outboxID).
		Updates(map[string]any{
			"status":  outbox.StatusSent,
			"sent_at": sentAt.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrInvalidInput
	}
	return nil
}

func (r *Repository) loadAllocations(db *gorm.DB, contributionIDs []string) (map[string][]entities.ContributionAllocation, error) {
	var rows []allocationModel
	if err := db.
		Where("contribution_id IN ?", contributionIDs).
		Order("contribution_id ASC").
		Order("position ASC").
		Find(&rows).
		Error; err != nil {
		return nil, err
	}
	items := make(map[string][]entities.ContributionAllocation, len(contributionIDs))
	for _, row := range rows {
		items[row.ContributionID] = append(items[row.ContributionID], row.toEntity())
	}
	return items, nil
}

type tokenModel struct {
	TokenID    string          `gorm:"column:token_id;primaryKey"`
	TokenValue string          `gorm:"column:token_value"`
	PublicKey  string          `gorm:"column:public_key"`
	Value      decimal.Decimal `gorm:"column:value;type:numeric(38,9)"`
	CredsID    string          `gorm:"column:creds_id"`
	BatchType  string          `gorm:"column:batch_type;index"`
	ExpiresAt  *time.Time      `gorm:"column:expires_at"`
	ReservedBy *string         `gorm:"column:reserved_by;index"`
	ReservedAt *time.Time      `gorm:"column:reserved_at"`
	RedeemedAt *time.Time      `gorm:"column:redeemed_at"`
	CreatedAt  time.Time       `gorm:"column:created_at"`
}

func (tokenModel) TableName() string {
	return "unblinded_tokens"
}

func tokenModelFromEntity(token entities.UnblindedToken, createdAt time.Time) tokenModel {
	row := tokenModel{
		TokenID:    token.ID,
		TokenValue: token.TokenValue,
		PublicKey:  token.PublicKey,
		Value:      token.Value,
		CredsID:    token.CredsID,
		BatchType:  string(token.BatchType),
		CreatedAt:  createdAt.UTC(),
	}
	if !token.ExpiresAt.IsZero() {
		expiresAt := token.ExpiresAt.UTC()
		row.ExpiresAt = &expiresAt
	}
	return row
}

func (m tokenModel) toEntity() entities.UnblindedToken {
	token := entities.UnblindedToken{
		ID:         m.TokenID,
		TokenValue: m.TokenValue,
		PublicKey:  m.PublicKey,
		Value:      m.Value,
		CredsID:    m.CredsID,
		BatchType:  entities.BatchType(m.BatchType),
	}
	if m.ExpiresAt != nil {
		token.ExpiresAt = m.ExpiresAt.UTC()
	}
	return token
}

type contributionModel struct {
	ContributionID string          `gorm:"column:contribution_id;primaryKey"`
	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(38,9)"`
	Type           string          `gorm:"column:type"`
	Processor      string          `gorm:"column:processor"`
	Step           string          `gorm:"column:step;index:contributions_due,priority:1"`
	RetryCount     int             `gorm:"column:retry_count"`
	NextAttemptAt  time.Time       `gorm:"column:next_attempt_at;index:contributions_due,priority:2"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

func (contributionModel) TableName() string {
	return "contributions"
}

func contributionModelFromEntity(record entities.ContributionRecord) contributionModel {
	return contributionModel{
		ContributionID: record.ContributionID,
		Amount:         record.Amount,
		Type:           string(record.Type),
		Processor:      string(record.Processor),
		Step:           string(record.Step),
		RetryCount:     record.RetryCount,
		NextAttemptAt:  record.NextAttemptAt.UTC(),
		CreatedAt:      record.CreatedAt.UTC(),
		UpdatedAt:      record.UpdatedAt.UTC(),
	}
}

func (m contributionModel) toEntity(allocations []entities.ContributionAllocation) entities.ContributionRecord {
	return entities.ContributionRecord{
		ContributionID: m.ContributionID,
		Amount:         m.Amount,
		Type:           entities.ContributionType(m.Type),
		Processor:      entities.Processor(m.Processor),
		Step:           entities.Step(m.Step),
		RetryCount:     m.RetryCount,
		NextAttemptAt:  m.NextAttemptAt.UTC(),
		Publishers:     allocations,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

type allocationModel struct {
	ContributionID    string          `gorm:"column:contribution_id;primaryKey"`
	PublisherKey      string          `gorm:"column:publisher_key;primaryKey"`
	Position          int             `gorm:"column:position"`
	TotalAmount       decimal.Decimal `gorm:"column:total_amount;type:numeric(38,9)"`
	ContributedAmount decimal.Decimal `gorm:"column:contributed_amount;type:numeric(38,9)"`
}

func (allocationModel) TableName() string {
	return "contribution_publishers"
}

func (m allocationModel) toEntity() entities.ContributionAllocation {
	return entities.ContributionAllocation{
		ContributionID:    m.ContributionID,
		PublisherKey:      m.PublisherKey,
		TotalAmount:       m.TotalAmount,
		ContributedAmount: m.ContributedAmount,
	}
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status;index"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	SentAt       *time.Time `gorm:"column:sent_at"`
}

func (outboxModel) TableName() string {
	return "contribution_outbox"
}

func (m outboxModel) toPort() ports.OutboxMessage {
	return ports.OutboxMessage{
		OutboxID:     m.OutboxID,
		EventType:    m.EventType,
		PartitionKey: m.PartitionKey,
		Payload:      append([]byte(nil), m.Payload...),
		CreatedAt:    m.CreatedAt.UTC(),
	}
}

func tokensFromRows(rows []tokenModel) []entities.UnblindedToken {
	items := make([]entities.UnblindedToken, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items
}

// reservableTokens matches unredeemed tokens that are either already held by
// contributionID or unreserved and unexpired.
func reservableTokens(ids []string, contributionID string, now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.
			Where("token_id IN ? AND redeemed_at IS NULL", ids).
			Where("(reserved_by = ? OR (reserved_by IS NULL AND (expires_at IS NULL OR expires_at > ?)))", contributionID, now)
	}
}

func redeemableTokens(ids []string, contributionID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("token_id IN ? AND reserved_by = ? AND redeemed_at IS NULL", ids, contributionID)
	}
}

func contributionInSteps(contributionID string, steps []entities.Step) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("contribution_id = ? AND step IN ?", contributionID, stepValues(steps))
	}
}

// allocationForUpdate row-locks one allocation until the transaction ends, so
// concurrent settlements of the same publisher serialize.
func allocationForUpdate(contributionID string, publisherKey string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("contribution_id = ? AND publisher_key = ?", contributionID, publisherKey)
	}
}

// dueForRetry matches contributions whose next attempt is due and whose
// processor and type combination can be retried at all.
func dueForRetry(steps []string, now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.
			Where("step IN ? AND next_attempt_at <= ?", steps, now.UTC()).
			Where("(processor = ? OR (processor = ? AND type = ?))",
				string(entities.ProcessorTokenNative),
				string(entities.ProcessorExternalWallet),
				string(entities.ContributionTypeAutoContribute),
			)
	}
}

func stepValues(steps []entities.Step) []string {
	values := make([]string, 0, len(steps))
	for _, step := range steps {
		values = append(values, string(step))
	}
	return values
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	items := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		items = append(items, id)
	}
	return items
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
