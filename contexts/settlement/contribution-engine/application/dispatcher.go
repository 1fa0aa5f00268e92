package application

import (
	"context"
	"fmt"
	"log/slog"

	domainerrors "rewards/contexts/settlement/contribution-engine/domain/errors"
	"rewards/contexts/settlement/contribution-engine/ports"
)

// Dispatcher routes a redemption to the token-native or the wallet-backed
// processor. It never retries; failures surface as ErrProcessorFailure.
type Dispatcher struct {
	TokenNative ports.RedemptionProcessor
	Wallet      ports.RedemptionProcessor
	Metrics     ports.Metrics
	Logger      *slog.Logger
}

func (d Dispatcher) Dispatch(ctx context.Context, request ports.RedemptionRequest) error {
	logger := ResolveLogger(d.Logger)

	processor := d.TokenNative
	if request.Processor.WalletBacked() {
		processor = d.Wallet
	}
	if processor == nil {
		return fmt.Errorf("%w: no processor configured for %s", domainerrors.ErrProcessorFailure, request.Processor)
	}

	err := processor.RedeemTokens(ctx, request)
	if d.Metrics != nil {
		d.Metrics.ObserveRedemption(string(request.Processor), err == nil)
	}
	if err != nil {
		logger.Warn("token redemption failed",
			"event", "contribution_redemption_failed",
			"module", logModule,
			"layer", "application",
			"contribution_id", request.ContributionID,
			"publisher_key", request.PublisherKey,
			"processor", request.Processor,
			"token_count", len(request.Tokens),
			"error", err.Error(),
		)
		return fmt.Errorf("%w: %w", domainerrors.ErrProcessorFailure, err)
	}

	logger.Info("tokens redeemed",
		"event", "contribution_tokens_redeemed",
		"module", logModule,
		"layer", "application",
		"contribution_id", request.ContributionID,
		"publisher_key", request.PublisherKey,
		"processor", request.Processor,
		"token_count", len(request.Tokens),
	)
	return nil
}

func redemptionKey(contributionID string, publisherKey string) string {
	return contributionID + ":" + publisherKey
}
