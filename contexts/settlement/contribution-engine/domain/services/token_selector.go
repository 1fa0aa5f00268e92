package services

import (
	"rewards/contexts/settlement/contribution-engine/domain/entities"
	domainerrors "rewards/contexts/settlement/contribution-engine/domain/errors"

	"github.com/shopspring/decimal"
)

// SelectTokens returns the shortest prefix of tokens whose cumulative value
// covers target. Token order is the store's spending policy (oldest or soonest
// to expire first), so no token is skipped to find a tighter fit.
func SelectTokens(tokens []entities.UnblindedToken, target decimal.Decimal) ([]entities.UnblindedToken, error) {
	current := decimal.Zero
	selected := make([]entities.UnblindedToken, 0, len(tokens))
	for _, token := range tokens {
		if current.GreaterThanOrEqual(target) {
			break
		}
		current = current.Add(token.Value)
		selected = append(selected, token)
	}
	if current.LessThan(target) {
		return nil, domainerrors.ErrInsufficientFunds
	}
	return selected, nil
}
