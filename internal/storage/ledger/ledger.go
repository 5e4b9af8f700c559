package ledger

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vault/internal/domain"
)

// Ledger provides typed access to vault state on top of a KV backend.
// Reads go straight to the backend; writes are staged in a Tx and committed as one batch.
type Ledger struct {
	kv KV
}

// New wraps a KV backend.
func New(kv KV) *Ledger {
	return &Ledger{kv: kv}
}

// Close closes the underlying backend.
func (l *Ledger) Close() error {
	return l.kv.Close()
}

// Balance returns the balance of user in asset; absent entries are zero.
func (l *Ledger) Balance(user domain.Identity, asset domain.Asset) (decimal.Decimal, error) {
	return readBalance(l.kv.Get, user, asset)
}

// Settlement returns the record stored for id.
func (l *Ledger) Settlement(id domain.TradeID) (domain.SettlementRecord, bool, error) {
	var rec domain.SettlementRecord
	ok, err := readJSON(l.kv.Get, settlementKey(id), &rec)
	if err != nil {
		return domain.SettlementRecord{}, false, errors.Wrapf(err, "read settlement %s", id)
	}
	return rec, ok, nil
}

// TradeIDs returns the user's trade ids in the order they were appended.
func (l *Ledger) TradeIDs(user domain.Identity) ([]domain.TradeID, error) {
	return readTradeIDs(l.kv.Get, user)
}

// Withdrawal returns a journaled withdrawal intent.
func (l *Ledger) Withdrawal(id string) (domain.WithdrawalIntent, bool, error) {
	var intent domain.WithdrawalIntent
	ok, err := readJSON(l.kv.Get, withdrawalKey(id), &intent)
	if err != nil {
		return domain.WithdrawalIntent{}, false, errors.Wrapf(err, "read withdrawal %s", id)
	}
	return intent, ok, nil
}

// PendingWithdrawals returns intents whose transfer outcome was never recorded.
func (l *Ledger) PendingWithdrawals() ([]domain.WithdrawalIntent, error) {
	ids, err := readPendingIDs(l.kv.Get)
	if err != nil {
		return nil, err
	}
	intents := make([]domain.WithdrawalIntent, 0, len(ids))
	for _, id := range ids {
		intent, ok, err := l.Withdrawal(id)
		if err != nil {
			return nil, err
		}
		if ok {
			intents = append(intents, intent)
		}
	}
	return intents, nil
}

// MatchingEngine returns the persisted matching engine identity, if any.
func (l *Ledger) MatchingEngine() (domain.Identity, bool, error) {
	var id domain.Identity
	ok, err := readJSON(l.kv.Get, matchingEngineKey, &id)
	if err != nil {
		return "", false, errors.Wrap(err, "read matching engine")
	}
	return id, ok, nil
}

// Begin starts a staged transaction.
func (l *Ledger) Begin() *Tx {
	return &Tx{
		l:      l,
		staged: make(map[string][]byte),
	}
}

type getter func(key string) ([]byte, bool, error)

func readJSON(get getter, key string, dst any) (bool, error) {
	raw, ok, err := get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, errors.Wrapf(err, "decode %s", key)
	}
	return true, nil
}

func readBalance(get getter, user domain.Identity, asset domain.Asset) (decimal.Decimal, error) {
	var balance decimal.Decimal
	ok, err := readJSON(get, balanceKey(user, asset), &balance)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "read %s balance of %s", asset, user)
	}
	if !ok {
		return decimal.Zero, nil
	}
	return balance, nil
}

func readTradeIDs(get getter, user domain.Identity) ([]domain.TradeID, error) {
	var ids []domain.TradeID
	if _, err := readJSON(get, historyKey(user), &ids); err != nil {
		return nil, errors.Wrapf(err, "read trade history of %s", user)
	}
	return ids, nil
}

func readPendingIDs(get getter) ([]string, error) {
	var ids []string
	if _, err := readJSON(get, pendingWithdrawals, &ids); err != nil {
		return nil, errors.Wrap(err, "read pending withdrawals")
	}
	return ids, nil
}
