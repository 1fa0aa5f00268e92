package entities

// Step is the persisted workflow position of a contribution.
type Step string

const (
	StepStart               Step = "start"
	StepPrepare             Step = "prepare"
	StepReserve             Step = "reserve"
	StepRetryCount          Step = "retry_count"
	StepRewardsOff          Step = "rewards_off"
	StepAcOff               Step = "ac_off"
	StepAcTableEmpty        Step = "ac_table_empty"
	StepCreds               Step = "creds"
	StepExternalTransaction Step = "external_transaction"
	StepNotEnoughFunds      Step = "not_enough_funds"
	StepFailed              Step = "failed"
	StepCompleted           Step = "completed"
	StepNone                Step = "none"
)

// StepOwner tells who may drive a contribution out of a step.
type StepOwner int

const (
	// StepOwnerUnknown marks a value that is not a known step at all.
	StepOwnerUnknown StepOwner = iota
	// StepOwnerEngine steps are resumable entry points of the settlement engine.
	StepOwnerEngine
	// StepOwnerForeign steps belong to adjacent subsystems or are terminal.
	StepOwnerForeign
)

func (s Step) Owner() StepOwner {
	switch s {
	case StepStart, StepPrepare, StepReserve:
		return StepOwnerEngine
	case StepRetryCount,
		StepRewardsOff,
		StepAcOff,
		StepAcTableEmpty,
		StepCreds,
		StepExternalTransaction,
		StepNotEnoughFunds,
		StepFailed,
		StepCompleted,
		StepNone:
		return StepOwnerForeign
	}
	return StepOwnerUnknown
}

func (s Step) Resumable() bool {
	return s.Owner() == StepOwnerEngine
}

func ResumableSteps() []Step {
	return []Step{StepStart, StepReserve, StepPrepare}
}
