package errors

import "errors"

var (
	ErrInvalidInput         = errors.New("contribution input is invalid")
	ErrInsufficientFunds    = errors.New("not enough funds to cover amount")
	ErrEmptyAllocation      = errors.New("vote allocation is empty")
	ErrStoreFailure         = errors.New("contribution store failure")
	ErrProcessorFailure     = errors.New("redemption processor failure")
	ErrPartialProgress      = errors.New("allocation settled, more remain")
	ErrInvalidState         = errors.New("contribution is in an invalid state")
	ErrNotApplicable        = errors.New("retry is not applicable to this contribution")
	ErrContributionNotFound = errors.New("contribution not found")
	ErrTokensUnavailable    = errors.New("tokens are reserved by another contribution")
	ErrAllocationNotFound   = errors.New("allocation not found")
)

// Outcome is the single classified result of an engine invocation.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeNotEnoughFunds Outcome = "not_enough_funds"
	OutcomeACTableEmpty   Outcome = "ac_table_empty"
	OutcomeRetry          Outcome = "retry"
	OutcomeRetryLong      Outcome = "retry_long"
	OutcomeFailed         Outcome = "failed"
)

// Classify maps an engine error onto exactly one outcome. Order matters: a
// store error wrapping ErrContributionNotFound is still a missing contribution.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, ErrPartialProgress):
		return OutcomeRetryLong
	case errors.Is(err, ErrInsufficientFunds):
		return OutcomeNotEnoughFunds
	case errors.Is(err, ErrEmptyAllocation):
		return OutcomeACTableEmpty
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrNotApplicable),
		errors.Is(err, ErrContributionNotFound):
		return OutcomeFailed
	case errors.Is(err, ErrStoreFailure),
		errors.Is(err, ErrProcessorFailure),
		errors.Is(err, ErrTokensUnavailable):
		return OutcomeRetry
	default:
		return OutcomeRetry
	}
}
