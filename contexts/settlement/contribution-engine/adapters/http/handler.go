package httpadapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rewards/contexts/settlement/contribution-engine/application"
	"rewards/contexts/settlement/contribution-engine/domain/entities"
	domainerrors "rewards/contexts/settlement/contribution-engine/domain/errors"
	httptransport "rewards/contexts/settlement/contribution-engine/transport/http"

	"github.com/shopspring/decimal"
)

type Handler struct {
	Contributions application.Contributions
	Tokens        application.TokenIssuance
	Engine        application.Engine
	Policy        application.OutcomePolicy
	BatchTypes    []entities.BatchType
	Logger        *slog.Logger
}

func (h Handler) CreateContributionHandler(
	ctx context.Context,
	req httptransport.CreateContributionRequest,
) (httptransport.ContributionResponse, error) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return httptransport.ContributionResponse{}, err
	}
	shares := make([]application.PublisherShare, 0, len(req.Publishers))
	for _, publisher := range req.Publishers {
		share := decimal.Zero
		if strings.TrimSpace(publisher.Amount) != "" {
			share, err = parseAmount(publisher.Amount)
			if err != nil {
				return httptransport.ContributionResponse{}, err
			}
		}
		shares = append(shares, application.PublisherShare{
			PublisherKey: publisher.PublisherKey,
			Amount:       share,
		})
	}

	record, err := h.Contributions.Create(ctx, application.CreateContributionCommand{
		ContributionID: req.ContributionID,
		Amount:         amount,
		Type:           entities.ContributionType(strings.TrimSpace(req.Type)),
		Processor:      entities.Processor(strings.TrimSpace(req.Processor)),
		Publishers:     shares,
	})
	if err != nil {
		return httptransport.ContributionResponse{}, err
	}
	return httptransport.ContributionResponse{
		Status: "success",
		Data:   toDTO(record),
	}, nil
}

// IssueTokensHandler admits a batch of unblinded tokens. Ids already in the
// pool are skipped, so a replayed batch reports fewer issued tokens.
func (h Handler) IssueTokensHandler(
	ctx context.Context,
	req httptransport.IssueTokensRequest,
) (httptransport.IssueTokensResponse, error) {
	tokens := make([]entities.UnblindedToken, 0, len(req.Tokens))
	for _, item := range req.Tokens {
		value, err := parseAmount(item.Value)
		if err != nil {
			return httptransport.IssueTokensResponse{}, err
		}
		var expiresAt time.Time
		if raw := strings.TrimSpace(item.ExpiresAt); raw != "" {
			expiresAt, err = time.Parse(time.RFC3339, raw)
			if err != nil {
				return httptransport.IssueTokensResponse{}, fmt.Errorf("%w: expires_at %q is not RFC3339", domainerrors.ErrInvalidInput, raw)
			}
		}
		tokens = append(tokens, entities.UnblindedToken{
			ID:         item.TokenID,
			TokenValue: item.TokenValue,
			PublicKey:  item.PublicKey,
			Value:      value,
			CredsID:    item.CredsID,
			BatchType:  entities.BatchType(strings.ToLower(strings.TrimSpace(item.BatchType))),
			ExpiresAt:  expiresAt.UTC(),
		})
	}

	issued, err := h.Tokens.Issue(ctx, tokens)
	if err != nil {
		return httptransport.IssueTokensResponse{}, err
	}
	return httptransport.IssueTokensResponse{
		Status: "success",
		Data: httptransport.IssueTokensResultDTO{
			Requested: len(tokens),
			Issued:    issued,
		},
	}, nil
}

func (h Handler) GetContributionHandler(ctx context.Context, contributionID string) (httptransport.ContributionResponse, error) {
	record, err := h.Contributions.Get(ctx, contributionID)
	if err != nil {
		return httptransport.ContributionResponse{}, err
	}
	return httptransport.ContributionResponse{
		Status: "success",
		Data:   toDTO(record),
	}, nil
}

// StartContributionHandler runs one engine invocation from the start step.
// Unfinished outcomes are scheduled exactly as the retry worker would.
func (h Handler) StartContributionHandler(
	ctx context.Context,
	contributionID string,
	req httptransport.SettleRequest,
) (httptransport.SettleResponse, error) {
	batchTypes, err := h.batchTypes(req.BatchTypes)
	if err != nil {
		return httptransport.SettleResponse{}, err
	}
	record, err := h.Contributions.Get(ctx, contributionID)
	if err != nil {
		return httptransport.SettleResponse{}, err
	}

	outcome, runErr := h.Engine.Start(ctx, batchTypes, record.ContributionID)
	return h.settled(ctx, record, outcome, runErr)
}

// RetryContributionHandler resumes a contribution from its persisted step.
func (h Handler) RetryContributionHandler(
	ctx context.Context,
	contributionID string,
	req httptransport.SettleRequest,
) (httptransport.SettleResponse, error) {
	batchTypes, err := h.batchTypes(req.BatchTypes)
	if err != nil {
		return httptransport.SettleResponse{}, err
	}
	record, err := h.Contributions.Get(ctx, contributionID)
	if err != nil {
		return httptransport.SettleResponse{}, err
	}

	outcome, runErr := h.Engine.Retry(ctx, batchTypes, record)
	return h.settled(ctx, record, outcome, runErr)
}

// settled returns the classified outcome. Failed runs surface their error so
// the transport can map it to a status code; no step is written for them
// because a rejected request must not change the contribution.
func (h Handler) settled(
	ctx context.Context,
	record entities.ContributionRecord,
	outcome domainerrors.Outcome,
	runErr error,
) (httptransport.SettleResponse, error) {
	if outcome == domainerrors.OutcomeFailed {
		return httptransport.SettleResponse{}, runErr
	}
	if err := h.Policy.Apply(ctx, record, outcome); err != nil {
		application.ResolveLogger(h.Logger).Error("settlement outcome apply failed",
			"event", "contribution_outcome_apply_failed",
			"module", "settlement/contribution-engine",
			"layer", "adapter",
			"contribution_id", record.ContributionID,
			"outcome", outcome,
			"error", err.Error(),
		)
		return httptransport.SettleResponse{}, fmt.Errorf("%w: %w", domainerrors.ErrStoreFailure, err)
	}

	step := record.Step
	if current, err := h.Contributions.Get(ctx, record.ContributionID); err == nil {
		step = current.Step
	}
	resp := httptransport.SettleResponse{
		Status: "success",
		Data: httptransport.SettleResultDTO{
			ContributionID: record.ContributionID,
			Outcome:        string(outcome),
			Step:           string(step),
		},
	}
	if runErr != nil {
		resp.Data.Detail = runErr.Error()
	}
	return resp, nil
}

func (h Handler) batchTypes(values []string) ([]entities.BatchType, error) {
	if len(values) == 0 {
		if len(h.BatchTypes) == 0 {
			return []entities.BatchType{entities.BatchTypePromotion, entities.BatchTypeSKU}, nil
		}
		return h.BatchTypes, nil
	}
	items := make([]entities.BatchType, 0, len(values))
	for _, value := range values {
		batchType := entities.BatchType(strings.ToLower(strings.TrimSpace(value)))
		if !batchType.Valid() {
			return nil, fmt.Errorf("%w: unknown batch type %q", domainerrors.ErrInvalidInput, value)
		}
		items = append(items, batchType)
	}
	return items, nil
}

func parseAmount(value string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: amount %q is not a decimal", domainerrors.ErrInvalidInput, value)
	}
	return amount, nil
}

func toDTO(record entities.ContributionRecord) httptransport.ContributionDTO {
	dto := httptransport.ContributionDTO{
		ContributionID: record.ContributionID,
		Amount:         record.Amount.String(),
		Contributed:    record.ContributedTotal().String(),
		Type:           string(record.Type),
		Processor:      string(record.Processor),
		Step:           string(record.Step),
		RetryCount:     record.RetryCount,
		NextAttemptAt:  record.NextAttemptAt.UTC().Format(time.RFC3339),
		Publishers:     make([]httptransport.AllocationDTO, 0, len(record.Publishers)),
		CreatedAt:      record.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      record.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, publisher := range record.Publishers {
		dto.Publishers = append(dto.Publishers, httptransport.AllocationDTO{
			PublisherKey:      publisher.PublisherKey,
			TotalAmount:       publisher.TotalAmount.String(),
			ContributedAmount: publisher.ContributedAmount.String(),
		})
	}
	return dto
}
