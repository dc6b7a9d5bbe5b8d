package events

import (
	"time"

	"github.com/shopspring/decimal"
)

type BalanceReconciled struct {
	ChangeID        int64           `json:"change_id"`
	AccountID       string          `json:"account_id"`
	DisplayName     string          `json:"display_name"`
	Outcome         string          `json:"outcome"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	TargetBalance   decimal.Decimal `json:"target_balance"`
	Amount          decimal.Decimal `json:"amount"`
	Origin          string          `json:"origin"`
	OccurredAt      time.Time       `json:"occurred_at"`
}
