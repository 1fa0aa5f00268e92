package contributionengine

import (
	"log/slog"
	"time"

	httpadapter "rewards/contexts/settlement/contribution-engine/adapters/http"
	"rewards/contexts/settlement/contribution-engine/application"
	"rewards/contexts/settlement/contribution-engine/domain/entities"
	"rewards/contexts/settlement/contribution-engine/ports"
)

type Module struct {
	Handler   httpadapter.Handler
	Engine    application.Engine
	Policy    application.OutcomePolicy
}

type Dependencies struct {
	Issuer        ports.TokenIssuer
	Tokens        ports.TokenStore
	Contributions ports.ContributionStore
	Queue         ports.RetryQueue
	Outbox        ports.OutboxWriter
	Clock         ports.Clock
	IDGenerator   ports.IDGenerator
	Metrics       ports.Metrics

	TokenNativeProcessor ports.RedemptionProcessor
	WalletProcessor      ports.RedemptionProcessor

	BatchTypes      []entities.BatchType
	CurrencyScale   int32
	MaxDrawsPerVote int
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	RetryLongDelay  time.Duration
	Logger          *slog.Logger
}

func NewModule(deps Dependencies) Module {
	engine := application.Engine{
		Tokens:        deps.Tokens,
		Contributions: deps.Contributions,
		Dispatcher: application.Dispatcher{
			TokenNative: deps.TokenNativeProcessor,
			Wallet:      deps.WalletProcessor,
			Metrics:     deps.Metrics,
			Logger:      deps.Logger,
		},
		Outbox:          deps.Outbox,
		Clock:           deps.Clock,
		IDGen:           deps.IDGenerator,
		Metrics:         deps.Metrics,
		CurrencyScale:   deps.CurrencyScale,
		MaxDrawsPerVote: deps.MaxDrawsPerVote,
		Logger:          deps.Logger,
	}
	policy := application.OutcomePolicy{
		Queue:         deps.Queue,
		Contributions: deps.Contributions,
		Tokens:        deps.Tokens,
		Clock:         deps.Clock,
		MaxRetries:    deps.MaxRetries,
		BaseDelay:     deps.RetryBaseDelay,
		MaxDelay:      deps.RetryMaxDelay,
		LongDelay:     deps.RetryLongDelay,
		Logger:        deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Contributions: application.Contributions{
				Store:  deps.Contributions,
				Clock:  deps.Clock,
				IDGen:  deps.IDGenerator,
				Logger: deps.Logger,
			},
			Tokens: application.TokenIssuance{
				Issuer: deps.Issuer,
				Logger: deps.Logger,
			},
			Engine:     engine,
			Policy:     policy,
			BatchTypes: deps.BatchTypes,
			Logger:     deps.Logger,
		},
		Engine: engine,
		Policy: policy,
	}
}
