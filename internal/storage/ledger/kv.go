// Package ledger is the vault's persistent state: balances, settlement
// records, per-user trade history, withdrawal intents and the matching engine
// identity, stored as JSON values in a key/value backend.
package ledger

import (
	"net/url"

	"github.com/vadiminshakov/vault/internal/domain"
)

// KV is the storage backend contract. Apply must make every put of the batch
// visible and durable together, or none of them.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Apply(batch Batch) error
	Close() error
}

// Put is a single key write.
type Put struct {
	Key   string `json:"k"`
	Value []byte `json:"v"`
}

// Batch is the set of writes one vault operation commits.
type Batch struct {
	Puts []Put `json:"puts"`
}

// Len returns the number of writes in the batch.
func (b Batch) Len() int {
	return len(b.Puts)
}

const (
	balancePrefix      = "balance/"
	settlementPrefix   = "settlement/"
	historyPrefix      = "history/"
	withdrawalPrefix   = "withdrawal/"
	pendingWithdrawals = "withdrawals/pending"
	matchingEngineKey  = "config/matching_engine"
)

func segment(s string) string {
	return url.PathEscape(s)
}

func balanceKey(user domain.Identity, asset domain.Asset) string {
	return balancePrefix + segment(user.String()) + "/" + segment(asset.String())
}

func settlementKey(id domain.TradeID) string {
	return settlementPrefix + id.String()
}

func historyKey(user domain.Identity) string {
	return historyPrefix + segment(user.String())
}

func withdrawalKey(id string) string {
	return withdrawalPrefix + segment(id)
}
