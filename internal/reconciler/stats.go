package reconciler

import "github.com/sheikh-saqib/pending-balance-reconciler/internal/models"

// DrainStats summarises one iteration.
type DrainStats struct {
	// Pending is the count the iteration observed.
	Pending int64

	// EmptyRead is set when the count query yielded no row.
	EmptyRead bool

	Processed int

	// BusinessFailures counts rows the ledger refused but that were still consumed.
	BusinessFailures int

	Outcomes map[models.Outcome]int
}

func (s *DrainStats) record(outcome models.Outcome) {
	if s.Outcomes == nil {
		s.Outcomes = make(map[models.Outcome]int)
	}
	s.Outcomes[outcome]++
	s.Processed++
	if outcome.IsBusinessFailure() {
		s.BusinessFailures++
	}
}

// Idle reports whether the iteration found nothing to do.
func (s DrainStats) Idle() bool {
	return s.EmptyRead || s.Pending == 0
}
