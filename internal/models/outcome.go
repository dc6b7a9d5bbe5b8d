package models

// Outcome is the result of reconciling one pending change.
type Outcome string

const (
	OutcomeIncreased         Outcome = "increased"
	OutcomeDecreased         Outcome = "decreased"
	OutcomeForcedSet         Outcome = "forced_set"
	OutcomeUnchanged         Outcome = "unchanged"
	OutcomeInsufficientFunds Outcome = "insufficient_funds"
	OutcomeOverflow          Outcome = "overflow"
)

func (o Outcome) String() string {
	return string(o)
}

// IsBusinessFailure reports whether the ledger refused the mutation for a
// business reason. The change is still consumed.
func (o Outcome) IsBusinessFailure() bool {
	return o == OutcomeInsufficientFunds || o == OutcomeOverflow
}
