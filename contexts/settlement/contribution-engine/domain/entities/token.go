package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type BatchType string

const (
	BatchTypePromotion BatchType = "promotion"
	BatchTypeSKU       BatchType = "sku"
)

func (b BatchType) Valid() bool {
	return b == BatchTypePromotion || b == BatchTypeSKU
}

// UnblindedToken is one spendable unit of value. The store owns it until it is
// reserved for a contribution; reservation is a state transition on the row.
type UnblindedToken struct {
	ID         string
	TokenValue string
	PublicKey  string
	Value      decimal.Decimal
	CredsID    string
	BatchType  BatchType
	ExpiresAt  time.Time
}

func (t UnblindedToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.UTC().Before(t.ExpiresAt.UTC())
}

func TokenIDs(tokens []UnblindedToken) []string {
	ids := make([]string, 0, len(tokens))
	for _, token := range tokens {
		ids = append(ids, token.ID)
	}
	return ids
}

func SumTokenValues(tokens []UnblindedToken) decimal.Decimal {
	total := decimal.Zero
	for _, token := range tokens {
		total = total.Add(token.Value)
	}
	return total
}
