package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalStatus tracks a withdrawal across the external transfer call.
type WithdrawalStatus string

const (
	WithdrawalPending WithdrawalStatus = "pending"
	WithdrawalDone    WithdrawalStatus = "done"
	WithdrawalFailed  WithdrawalStatus = "failed"
)

// IntentKind tells which way funds were moving when an intent was journaled.
// Intents written without a kind are withdrawals.
type IntentKind string

const (
	IntentWithdraw IntentKind = "withdraw"
	IntentDeposit  IntentKind = "deposit"
)

// WithdrawalIntent is journaled together with the debit so that a crash
// between debit and transfer outcome is visible on restart. A deposit whose
// credit could not be persisted and whose funds could not be returned is
// journaled the same way with Kind set to IntentDeposit.
type WithdrawalIntent struct {
	ID      string           `json:"id"`
	Kind    IntentKind       `json:"kind,omitempty"`
	Status  WithdrawalStatus `json:"status"`
	User    Identity         `json:"user"`
	Asset   Asset            `json:"asset"`
	Amount  decimal.Decimal  `json:"amount"`
	Created time.Time        `json:"created"`
	Error   string           `json:"error,omitempty"`
}
