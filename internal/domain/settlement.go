package domain

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// SettlementInstruction describes one matched trade to settle.
// Price and quantity correctness belong to the matching engine; the vault only
// checks the assets and the balances.
type SettlementInstruction struct {
	TradeID     TradeID         `json:"trade_id"`
	Buyer       Identity        `json:"buy_user"`
	Seller      Identity        `json:"sell_user"`
	BaseAsset   Asset           `json:"base_asset"`
	QuoteAsset  Asset           `json:"quote_asset"`
	BaseAmount  decimal.Decimal `json:"base_amount"`
	QuoteAmount decimal.Decimal `json:"quote_amount"`
	FeeBase     decimal.Decimal `json:"fee_base"`
	FeeQuote    decimal.Decimal `json:"fee_quote"`
	Timestamp   uint64          `json:"timestamp"`
}

// RequiredQuote is what the buyer pays: principal plus quote fee.
func (in SettlementInstruction) RequiredQuote() decimal.Decimal {
	return in.QuoteAmount.Add(in.FeeQuote)
}

// RequiredBase is what the seller delivers: principal plus base fee.
func (in SettlementInstruction) RequiredBase() decimal.Decimal {
	return in.BaseAmount.Add(in.FeeBase)
}

// CheckAmounts validates that every amount is a non-negative 128-bit integer
// and that the required totals stay in range.
func (in SettlementInstruction) CheckAmounts() error {
	fields := []struct {
		name  string
		value decimal.Decimal
	}{
		{"base_amount", in.BaseAmount},
		{"quote_amount", in.QuoteAmount},
		{"fee_base", in.FeeBase},
		{"fee_quote", in.FeeQuote},
	}
	for _, f := range fields {
		if f.value.IsNegative() {
			return errors.Wrapf(ErrInvalidAmount, "%s must not be negative, got %s", f.name, f.value.String())
		}
		if err := CheckAmount(f.value); err != nil {
			return errors.Wrap(err, f.name)
		}
	}
	if err := CheckAmount(in.RequiredBase()); err != nil {
		return errors.Wrap(err, "base amount plus fee")
	}
	if err := CheckAmount(in.RequiredQuote()); err != nil {
		return errors.Wrap(err, "quote amount plus fee")
	}
	return nil
}

// SettlementRecord is the immutable audit entry of one executed trade.
// ExecutionPrice and ExecutionQuantity stay nil until matching proofs are
// verified by the vault; nil means "not computed", never zero.
type SettlementRecord struct {
	TradeID           TradeID          `json:"trade_id"`
	Buyer             Identity         `json:"buy_user"`
	Seller            Identity         `json:"sell_user"`
	BaseAsset         Asset            `json:"base_asset"`
	QuoteAsset        Asset            `json:"quote_asset"`
	BaseAmount        decimal.Decimal  `json:"base_amount"`
	QuoteAmount       decimal.Decimal  `json:"quote_amount"`
	FeeBase           decimal.Decimal  `json:"fee_base"`
	FeeQuote          decimal.Decimal  `json:"fee_quote"`
	ExecutionPrice    *decimal.Decimal `json:"execution_price,omitempty"`
	ExecutionQuantity *decimal.Decimal `json:"execution_quantity,omitempty"`
	Timestamp         uint64           `json:"timestamp"`
}

// NewSettlementRecord builds the record persisted for a settled instruction.
func NewSettlementRecord(in SettlementInstruction) SettlementRecord {
	return SettlementRecord{
		TradeID:     in.TradeID,
		Buyer:       in.Buyer,
		Seller:      in.Seller,
		BaseAsset:   in.BaseAsset,
		QuoteAsset:  in.QuoteAsset,
		BaseAmount:  in.BaseAmount,
		QuoteAmount: in.QuoteAmount,
		FeeBase:     in.FeeBase,
		FeeQuote:    in.FeeQuote,
		Timestamp:   in.Timestamp,
	}
}

// Matches reports whether the record was produced by an instruction equal to in.
func (r SettlementRecord) Matches(in SettlementInstruction) bool {
	return r.TradeID == in.TradeID &&
		r.Buyer == in.Buyer &&
		r.Seller == in.Seller &&
		r.BaseAsset == in.BaseAsset &&
		r.QuoteAsset == in.QuoteAsset &&
		r.BaseAmount.Equal(in.BaseAmount) &&
		r.QuoteAmount.Equal(in.QuoteAmount) &&
		r.FeeBase.Equal(in.FeeBase) &&
		r.FeeQuote.Equal(in.FeeQuote) &&
		r.Timestamp == in.Timestamp
}

// SettlementResult is the terminal outcome of a settlement call.
type SettlementResult int

// The zero value is ResultUnknown so an aborted call never reads as success.
const (
	ResultUnknown SettlementResult = iota
	ResultSuccess
	// ResultInvalidSignature is reserved for signature verification.
	ResultInvalidSignature
	ResultInvalidMatchingProof
	ResultInsufficientBalance
	// ResultTransferFailed is reserved for settlements that move funds externally.
	ResultTransferFailed
	// ResultDuplicateTrade rejects a trade id already settled with different terms.
	ResultDuplicateTrade
)

var resultNames = map[SettlementResult]string{
	ResultUnknown:              "Unknown",
	ResultSuccess:              "Success",
	ResultInvalidSignature:     "InvalidSignature",
	ResultInvalidMatchingProof: "InvalidMatchingProof",
	ResultInsufficientBalance:  "InsufficientBalance",
	ResultTransferFailed:       "TransferFailed",
	ResultDuplicateTrade:       "DuplicateTrade",
}

// String returns the string representation of the result.
func (r SettlementResult) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return "Unknown"
}

// MarshalJSON encodes the result by name.
func (r SettlementResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a result name.
func (r *SettlementResult) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for res, n := range resultNames {
		if n == name {
			*r = res
			return nil
		}
	}
	return errors.Errorf("unknown settlement result %q", name)
}
