package walstore

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/vault/internal/storage/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestStore_ApplyAndReplay(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(t, err)

	l := ledger.New(store)
	tx := l.Begin()
	require.NoError(t, tx.Credit("alice", "XLM", decimal.NewFromInt(100)))
	require.NoError(t, tx.Credit("bob", "USDC", decimal.NewFromInt(50)))
	require.NoError(t, tx.Commit())

	tx = l.Begin()
	require.NoError(t, tx.Debit("alice", "XLM", decimal.NewFromInt(40)))
	require.NoError(t, tx.Commit())
	require.NoError(t, l.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	l = ledger.New(reopened)
	alice, err := l.Balance("alice", "XLM")
	require.NoError(t, err)
	assert.True(t, alice.Equal(decimal.NewFromInt(60)), "got %s", alice)

	bob, err := l.Balance("bob", "USDC")
	require.NoError(t, err)
	assert.True(t, bob.Equal(decimal.NewFromInt(50)), "got %s", bob)
}

func TestStore_ReplayAcrossSnapshots(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir, WithSegments(10, 10), WithSnapshotEvery(3))
	require.NoError(t, err)

	l := ledger.New(store)
	for i := 0; i < 10; i++ {
		tx := l.Begin()
		require.NoError(t, tx.Credit("alice", "XLM", decimal.NewFromInt(1)))
		require.NoError(t, tx.Commit())
	}
	require.NoError(t, store.Close())

	reopened, err := Open(dir, WithSegments(10, 10), WithSnapshotEvery(3))
	require.NoError(t, err)
	defer reopened.Close()

	balance, err := ledger.New(reopened).Balance("alice", "XLM")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(10)), "got %s", balance)
}

func TestOpen_RejectsSnapshotIntervalBeyondRetention(t *testing.T) {
	_, err := Open(t.TempDir(), WithSegments(10, 2), WithSnapshotEvery(6))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")

	_, err = Open(t.TempDir(), WithSnapshotEvery(0))
	require.Error(t, err)
}

func TestOpen_RejectsSingleSegment(t *testing.T) {
	for _, segments := range []int{-1, 0, 1} {
		_, err := Open(t.TempDir(), WithSegments(1000, segments), WithSnapshotEvery(1))
		require.Error(t, err, "segments %d", segments)
		assert.Contains(t, err.Error(), "at least 2 segments")
	}

	_, err := Open(t.TempDir(), WithSegments(0, 10))
	require.Error(t, err)
}

func TestStore_SnapshotFailureLoggedAndRetried(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store, err := Open(t.TempDir(), WithSegments(10, 10), WithSnapshotEvery(2), WithLogger(zap.New(core)))
	require.NoError(t, err)
	defer store.Close()

	snapshots := 0
	store.snapshot = func() error {
		snapshots++
		if snapshots == 1 {
			return errors.New("no space left on device")
		}
		return store.writeSnapshot()
	}

	l := ledger.New(store)
	for i := 0; i < 3; i++ {
		tx := l.Begin()
		require.NoError(t, tx.Credit("alice", "XLM", decimal.NewFromInt(1)))
		require.NoError(t, tx.Commit())
	}

	failures := logs.FilterMessageSnippet("ledger snapshot failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, zap.WarnLevel, failures[0].Level)
	assert.Equal(t, 2, snapshots)
	assert.Equal(t, 0, store.sinceSnapshot)
}

func TestStore_Closed(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, _, err = store.Get("k")
	assert.Error(t, err)
	assert.Error(t, store.Apply(ledger.Batch{Puts: []ledger.Put{{Key: "k", Value: []byte(`1`)}}}))
	assert.Error(t, store.Close())
}
