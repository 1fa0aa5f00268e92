package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rewards/contexts/settlement/contribution-engine/ports"
)

// HTTPProcessor forwards redemptions to a remote processor endpoint. The
// request carries the redemption idempotency key so a replayed attempt is
// recognised by the processor instead of paying twice.
type HTTPProcessor struct {
	endpoint   string
	httpClient *http.Client
	userAgent  string
}

// Option configures an HTTPProcessor.
type Option func(*HTTPProcessor)

func WithHTTPClient(client *http.Client) Option {
	return func(p *HTTPProcessor) {
		p.httpClient = client
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(p *HTTPProcessor) {
		if timeout > 0 {
			p.httpClient.Timeout = timeout
		}
	}
}

func WithUserAgent(userAgent string) Option {
	return func(p *HTTPProcessor) {
		p.userAgent = userAgent
	}
}

func NewHTTPProcessor(endpoint string, opts ...Option) (*HTTPProcessor, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("processor endpoint is required")
	}
	p := &HTTPProcessor{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userAgent:  "contribution-engine/1.0",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type redeemTokenPayload struct {
	TokenID    string `json:"token_id"`
	TokenValue string `json:"token_value"`
	PublicKey  string `json:"public_key"`
	Value      string `json:"value"`
	CredsID    string `json:"creds_id"`
}

type redeemPayload struct {
	ContributionID   string               `json:"contribution_id"`
	PublisherKey     string               `json:"publisher_key"`
	ContributionType string               `json:"contribution_type"`
	Processor        string               `json:"processor"`
	Tokens           []redeemTokenPayload `json:"tokens"`
}

func (p *HTTPProcessor) RedeemTokens(ctx context.Context, request ports.RedemptionRequest) error {
	payload := redeemPayload{
		ContributionID:   request.ContributionID,
		PublisherKey:     request.PublisherKey,
		ContributionType: string(request.ContributionType),
		Processor:        string(request.Processor),
		Tokens:           make([]redeemTokenPayload, 0, len(request.Tokens)),
	}
	for _, token := range request.Tokens {
		payload.Tokens = append(payload.Tokens, redeemTokenPayload{
			TokenID:    token.ID,
			TokenValue: token.TokenValue,
			PublicKey:  token.PublicKey,
			Value:      token.Value.String(),
			CredsID:    token.CredsID,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode redemption: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Idempotency-Key", request.IdempotencyKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to redeem tokens: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
