package outbox

// Outbox rows are written in the same transaction as the state change they
// announce and relayed to the event bus by a worker.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
)
