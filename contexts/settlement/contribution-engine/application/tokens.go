package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"rewards/contexts/settlement/contribution-engine/domain/entities"
	domainerrors "rewards/contexts/settlement/contribution-engine/domain/errors"
	"rewards/contexts/settlement/contribution-engine/ports"
)

// TokenIssuance admits unblinded tokens obtained from the credential service
// into the spendable pool.
type TokenIssuance struct {
	Issuer ports.TokenIssuer
	Logger *slog.Logger
}

// Issue validates the whole batch before writing any of it.
func (t TokenIssuance) Issue(ctx context.Context, tokens []entities.UnblindedToken) (int, error) {
	if len(tokens) == 0 {
		return 0, fmt.Errorf("%w: no tokens to issue", domainerrors.ErrInvalidInput)
	}
	batch := make([]entities.UnblindedToken, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		token.ID = strings.TrimSpace(token.ID)
		switch {
		case token.ID == "":
			return 0, fmt.Errorf("%w: token id is empty", domainerrors.ErrInvalidInput)
		case !token.Value.IsPositive():
			return 0, fmt.Errorf("%w: token %s value must be positive", domainerrors.ErrInvalidInput, token.ID)
		case !token.BatchType.Valid():
			return 0, fmt.Errorf("%w: token %s has unknown batch type %q", domainerrors.ErrInvalidInput, token.ID, token.BatchType)
		}
		if _, duplicate := seen[token.ID]; duplicate {
			return 0, fmt.Errorf("%w: token %s listed twice", domainerrors.ErrInvalidInput, token.ID)
		}
		seen[token.ID] = struct{}{}
		batch = append(batch, token)
	}

	issued, err := t.Issuer.IssueTokens(ctx, batch)
	if err != nil {
		return 0, storeFailure(err)
	}
	ResolveLogger(t.Logger).Info("tokens issued",
		"event", "contribution_tokens_issued",
		"module", logModule,
		"layer", "application",
		"requested_count", len(batch),
		"issued_count", issued,
		"total_value", entities.SumTokenValues(batch).String(),
	)
	return issued, nil
}
