package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PublisherShareDTO struct {
	PublisherKey string `json:"publisher_key"`
	Amount       string `json:"amount"`
}

// CreateContributionRequest amounts are decimal strings. For auto-contribute,
// publisher amounts are the recorded shares used as vote weights.
type CreateContributionRequest struct {
	ContributionID string              `json:"contribution_id,omitempty"`
	Amount         string              `json:"amount"`
	Type           string              `json:"type"`
	Processor      string              `json:"processor"`
	Publishers     []PublisherShareDTO `json:"publishers"`
}

type AllocationDTO struct {
	PublisherKey      string `json:"publisher_key"`
	TotalAmount       string `json:"total_amount"`
	ContributedAmount string `json:"contributed_amount"`
}

type ContributionDTO struct {
	ContributionID string          `json:"contribution_id"`
	Amount         string          `json:"amount"`
	Contributed    string          `json:"contributed"`
	Type           string          `json:"type"`
	Processor      string          `json:"processor"`
	Step           string          `json:"step"`
	RetryCount     int             `json:"retry_count"`
	NextAttemptAt  string          `json:"next_attempt_at"`
	Publishers     []AllocationDTO `json:"publishers"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

type ContributionResponse struct {
	Status string          `json:"status"`
	Data   ContributionDTO `json:"data"`
}

// SettleRequest selects the token batch types a start or retry may spend.
// An empty list uses the service default.
type SettleRequest struct {
	BatchTypes []string `json:"batch_types,omitempty"`
}

// TokenDTO is one unblinded token from the credential service. Value is a
// decimal string; ExpiresAt is RFC3339 and may be empty for tokens that never
// expire.
type TokenDTO struct {
	TokenID    string `json:"token_id"`
	TokenValue string `json:"token_value"`
	PublicKey  string `json:"public_key"`
	Value      string `json:"value"`
	CredsID    string `json:"creds_id"`
	BatchType  string `json:"batch_type"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

type IssueTokensRequest struct {
	Tokens []TokenDTO `json:"tokens"`
}

type IssueTokensResultDTO struct {
	Requested int `json:"requested"`
	Issued    int `json:"issued"`
}

type IssueTokensResponse struct {
	Status string               `json:"status"`
	Data   IssueTokensResultDTO `json:"data"`
}

type SettleResultDTO struct {
	ContributionID string `json:"contribution_id"`
	Outcome        string `json:"outcome"`
	Step           string `json:"step"`
	Detail         string `json:"detail,omitempty"`
}

type SettleResponse struct {
	Status string          `json:"status"`
	Data   SettleResultDTO `json:"data"`
}
