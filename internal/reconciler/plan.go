package reconciler

import (
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/pending-balance-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/models"
)

// Plan is the ledger mutation needed to move current to target.
type Plan struct {
	Direction interfaces.Direction
	Amount    decimal.Decimal
	// Outcome is what a successful mutation yields.
	Outcome models.Outcome
}

// NeedsMutation is false when the balances already match.
func (p Plan) NeedsMutation() bool {
	return p.Outcome != models.OutcomeUnchanged
}

// PlanChange computes the mutation for a target balance. A negative target
// is always a set, never a debit, since a debit cannot drive an account
// below zero.
func PlanChange(target, current decimal.Decimal) Plan {
	delta := target.Sub(current)
	switch {
	case delta.Sign() > 0:
		return Plan{Direction: interfaces.DirectionCredit, Amount: delta, Outcome: models.OutcomeIncreased}
	case delta.Sign() < 0 && target.Sign() < 0:
		return Plan{Direction: interfaces.DirectionSet, Amount: target, Outcome: models.OutcomeForcedSet}
	case delta.Sign() < 0:
		return Plan{Direction: interfaces.DirectionDebit, Amount: current.Sub(target), Outcome: models.OutcomeDecreased}
	default:
		return Plan{Amount: decimal.Zero, Outcome: models.OutcomeUnchanged}
	}
}

// resolveOutcome maps the ledger's status onto the reconciliation outcome.
func resolveOutcome(plan Plan, status interfaces.StatusCode, called bool) models.Outcome {
	if !called {
		return models.OutcomeUnchanged
	}
	switch status {
	case interfaces.StatusSuccess:
		return plan.Outcome
	case interfaces.StatusInsufficientFunds:
		return models.OutcomeInsufficientFunds
	case interfaces.StatusOverflow:
		return models.OutcomeOverflow
	default:
		return models.OutcomeUnchanged
	}
}
