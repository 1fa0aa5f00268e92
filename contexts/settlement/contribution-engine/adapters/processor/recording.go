package processor

import (
	"context"
	"sync"

	"rewards/contexts/settlement/contribution-engine/ports"
)

// Recording accepts every redemption and keeps the first request seen per
// idempotency key. It backs the in-memory runtime.
type Recording struct {
	mu       sync.Mutex
	order    []string
	accepted map[string]ports.RedemptionRequest
}

func NewRecording() *Recording {
	return &Recording{accepted: make(map[string]ports.RedemptionRequest)}
}

func (r *Recording) RedeemTokens(_ context.Context, request ports.RedemptionRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seen := r.accepted[request.IdempotencyKey]; seen {
		return nil
	}
	r.accepted[request.IdempotencyKey] = request
	r.order = append(r.order, request.IdempotencyKey)
	return nil
}

// Redemptions lists accepted redemptions in arrival order.
func (r *Recording) Redemptions() []ports.RedemptionRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]ports.RedemptionRequest, 0, len(r.order))
	for _, key := range r.order {
		items = append(items, r.accepted[key])
	}
	return items
}
