package ledger

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vault/internal/domain"
)

// Tx stages writes with read-your-writes semantics. Nothing reaches the
// backend until Commit, so an abandoned Tx leaves no trace.
type Tx struct {
	l      *Ledger
	staged map[string][]byte
	order  []string
}

func (tx *Tx) get(key string) ([]byte, bool, error) {
	if v, ok := tx.staged[key]; ok {
		return v, true, nil
	}
	return tx.l.kv.Get(key)
}

func (tx *Tx) put(key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	if _, ok := tx.staged[key]; !ok {
		tx.order = append(tx.order, key)
	}
	tx.staged[key] = payload
	return nil
}

// Balance returns the balance including staged changes.
func (tx *Tx) Balance(user domain.Identity, asset domain.Asset) (decimal.Decimal, error) {
	return readBalance(tx.get, user, asset)
}

// Credit adds amount to the balance. Results above the 128-bit range are refused.
func (tx *Tx) Credit(user domain.Identity, asset domain.Asset, amount decimal.Decimal) error {
	current, err := tx.Balance(user, asset)
	if err != nil {
		return err
	}
	next := current.Add(amount)
	if next.GreaterThan(domain.MaxAmount) {
		return errors.Wrapf(domain.ErrAmountOverflow, "credit %s to %s balance of %s", amount, asset, user)
	}
	return tx.put(balanceKey(user, asset), next)
}

// Debit subtracts amount from the balance. Nothing is staged if the balance would go negative.
func (tx *Tx) Debit(user domain.Identity, asset domain.Asset, amount decimal.Decimal) error {
	current, err := tx.Balance(user, asset)
	if err != nil {
		return err
	}
	if current.LessThan(amount) {
		return errors.Wrapf(domain.ErrInsufficientBalance, "%s balance of %s: have %s need %s",
			asset, user, current.String(), amount.String())
	}
	return tx.put(balanceKey(user, asset), current.Sub(amount))
}

// Settlement returns the record for id including staged writes.
func (tx *Tx) Settlement(id domain.TradeID) (domain.SettlementRecord, bool, error) {
	var rec domain.SettlementRecord
	ok, err := readJSON(tx.get, settlementKey(id), &rec)
	if err != nil {
		return domain.SettlementRecord{}, false, errors.Wrapf(err, "read settlement %s", id)
	}
	return rec, ok, nil
}

// PutSettlement stores rec under its trade id.
func (tx *Tx) PutSettlement(rec domain.SettlementRecord) error {
	return tx.put(settlementKey(rec.TradeID), rec)
}

// AppendHistory appends id to the user's trade history.
func (tx *Tx) AppendHistory(user domain.Identity, id domain.TradeID) error {
	ids, err := readTradeIDs(tx.get, user)
	if err != nil {
		return err
	}
	return tx.put(historyKey(user), append(ids, id))
}

// PutWithdrawal journals the intent and keeps the pending index in sync with its status.
func (tx *Tx) PutWithdrawal(intent domain.WithdrawalIntent) error {
	pending, err := readPendingIDs(tx.get)
	if err != nil {
		return err
	}
	next := make([]string, 0, len(pending)+1)
	for _, id := range pending {
		if id != intent.ID {
			next = append(next, id)
		}
	}
	if intent.Status == domain.WithdrawalPending {
		next = append(next, intent.ID)
	}
	if err := tx.put(pendingWithdrawals, next); err != nil {
		return err
	}
	return tx.put(withdrawalKey(intent.ID), intent)
}

// SetMatchingEngine persists the authorized settlement caller.
func (tx *Tx) SetMatchingEngine(id domain.Identity) error {
	return tx.put(matchingEngineKey, id)
}

// Batch returns the staged writes in first-write order.
func (tx *Tx) Batch() Batch {
	batch := Batch{Puts: make([]Put, 0, len(tx.order))}
	for _, key := range tx.order {
		batch.Puts = append(batch.Puts, Put{Key: key, Value: tx.staged[key]})
	}
	return batch
}

// Commit applies every staged write atomically. An empty Tx commits nothing.
func (tx *Tx) Commit() error {
	batch := tx.Batch()
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.l.kv.Apply(batch); err != nil {
		return errors.Wrap(err, "commit ledger batch")
	}
	return nil
}
