package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind names the type of an emitted vault event.
type EventKind string

const (
	EventDeposit    EventKind = "deposit"
	EventWithdraw   EventKind = "withdraw"
	EventSettlement EventKind = "settlement"
)

// Event is a notification emitted after a committed state change.
type Event interface {
	Kind() EventKind
	OccurredAt() time.Time
}

// DepositEvent is emitted after a successful deposit.
type DepositEvent struct {
	Time   time.Time       `json:"ts"`
	User   Identity        `json:"user"`
	Asset  Asset           `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

func (DepositEvent) Kind() EventKind          { return EventDeposit }
func (e DepositEvent) OccurredAt() time.Time { return e.Time }

// WithdrawEvent is emitted after a successful withdrawal.
type WithdrawEvent struct {
	Time   time.Time       `json:"ts"`
	User   Identity        `json:"user"`
	Asset  Asset           `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

func (WithdrawEvent) Kind() EventKind          { return EventWithdraw }
func (e WithdrawEvent) OccurredAt() time.Time { return e.Time }

// SettlementEvent is emitted after a trade settles.
type SettlementEvent struct {
	Time              time.Time        `json:"ts"`
	TradeID           TradeID          `json:"trade_id"`
	Buyer             Identity         `json:"buy_user"`
	Seller            Identity         `json:"sell_user"`
	BaseAsset         Asset            `json:"base_asset"`
	QuoteAsset        Asset            `json:"quote_asset"`
	BaseAmount        decimal.Decimal  `json:"base_amount"`
	QuoteAmount       decimal.Decimal  `json:"quote_amount"`
	ExecutionPrice    *decimal.Decimal `json:"execution_price,omitempty"`
	ExecutionQuantity *decimal.Decimal `json:"execution_quantity,omitempty"`
	Timestamp         uint64           `json:"timestamp"`
}

func (SettlementEvent) Kind() EventKind          { return EventSettlement }
func (e SettlementEvent) OccurredAt() time.Time { return e.Time }

// NewSettlementEvent builds the notification for a persisted record.
func NewSettlementEvent(r SettlementRecord, now time.Time) SettlementEvent {
	return SettlementEvent{
		Time:              now,
		TradeID:           r.TradeID,
		Buyer:             r.Buyer,
		Seller:            r.Seller,
		BaseAsset:         r.BaseAsset,
		QuoteAsset:        r.QuoteAsset,
		BaseAmount:        r.BaseAmount,
		QuoteAmount:       r.QuoteAmount,
		ExecutionPrice:    r.ExecutionPrice,
		ExecutionQuantity: r.ExecutionQuantity,
		Timestamp:         r.Timestamp,
	}
}
