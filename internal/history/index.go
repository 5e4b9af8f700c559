// Package history maintains the per-user audit trail of settled trades.
package history

import (
	"github.com/pkg/errors"
	"github.com/vadiminshakov/vault/internal/domain"
	"github.com/vadiminshakov/vault/internal/storage/ledger"
)

const (
	DefaultLimit = 20
	MaxLimit     = 1000
)

// Index reads and appends settlement history on top of the ledger.
type Index struct {
	ledger *ledger.Ledger
}

// NewIndex creates an index over l.
func NewIndex(l *ledger.Ledger) *Index {
	return &Index{ledger: l}
}

// Record stages the settlement record and appends its trade id to the
// histories of both counterparties. A self-trade is appended once.
func (i *Index) Record(tx *ledger.Tx, rec domain.SettlementRecord) error {
	if err := tx.PutSettlement(rec); err != nil {
		return errors.Wrap(err, "stage settlement record")
	}
	if err := tx.AppendHistory(rec.Buyer, rec.TradeID); err != nil {
		return errors.Wrap(err, "append buyer history")
	}
	if rec.Seller == rec.Buyer {
		return nil
	}
	if err := tx.AppendHistory(rec.Seller, rec.TradeID); err != nil {
		return errors.Wrap(err, "append seller history")
	}
	return nil
}

// Get returns the record for id.
func (i *Index) Get(id domain.TradeID) (domain.SettlementRecord, bool, error) {
	return i.ledger.Settlement(id)
}

// Recent returns up to limit of the user's most recent settlements in
// chronological order. Ids whose record cannot be found are skipped, so the
// result may be shorter than limit.
func (i *Index) Recent(user domain.Identity, limit int) ([]domain.SettlementRecord, error) {
	ids, err := i.ledger.TradeIDs(user)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []domain.SettlementRecord{}, nil
	}
	if len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}

	records := make([]domain.SettlementRecord, 0, len(ids))
	for _, id := range ids {
		rec, ok, err := i.ledger.Settlement(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
