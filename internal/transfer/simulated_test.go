package transfer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulated_TransferInOut(t *testing.T) {
	sim, err := NewSimulated(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sim.Fund("alice", "XLM", decimal.NewFromInt(100)))
	require.NoError(t, sim.TransferIn(ctx, "alice", "XLM", decimal.NewFromInt(60)))

	assert.True(t, sim.Holdings("alice", "XLM").Equal(decimal.NewFromInt(40)))
	assert.True(t, sim.Custody("XLM").Equal(decimal.NewFromInt(60)))

	require.NoError(t, sim.TransferOut(ctx, "bob", "XLM", decimal.NewFromInt(10)))
	assert.True(t, sim.Holdings("bob", "XLM").Equal(decimal.NewFromInt(10)))
	assert.True(t, sim.Custody("XLM").Equal(decimal.NewFromInt(50)))
}

func TestSimulated_InsufficientHoldings(t *testing.T) {
	sim, err := NewSimulated(nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	err = sim.TransferIn(ctx, "alice", "XLM", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrInsufficientHoldings)

	err = sim.TransferOut(ctx, "alice", "XLM", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrInsufficientHoldings)
	assert.True(t, sim.Holdings("alice", "XLM").IsZero())
}

func TestSimulated_CanceledContext(t *testing.T) {
	sim, err := NewSimulated(nil, nil)
	require.NoError(t, err)
	require.NoError(t, sim.Fund("alice", "XLM", decimal.NewFromInt(5)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sim.TransferIn(ctx, "alice", "XLM", decimal.NewFromInt(1)), context.Canceled)
	assert.True(t, sim.Holdings("alice", "XLM").Equal(decimal.NewFromInt(5)))
}

func TestSimulated_FundRejectsNonPositive(t *testing.T) {
	sim, err := NewSimulated(nil, nil)
	require.NoError(t, err)
	assert.Error(t, sim.Fund("alice", "XLM", decimal.Zero))
	assert.Error(t, sim.Fund("alice", "XLM", decimal.NewFromInt(-3)))
}

func TestSimulated_PersistsHoldings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "holdings.json")

	store, err := NewStateStore(path)
	require.NoError(t, err)
	sim, err := NewSimulated(store, nil)
	require.NoError(t, err)
	require.NoError(t, sim.Fund("alice", "USDC", decimal.NewFromInt(200)))
	require.NoError(t, sim.TransferIn(context.Background(), "alice", "USDC", decimal.NewFromInt(150)))

	store, err = NewStateStore(path)
	require.NoError(t, err)
	restored, err := NewSimulated(store, nil)
	require.NoError(t, err)

	assert.True(t, restored.Holdings("alice", "USDC").Equal(decimal.NewFromInt(50)))
	assert.True(t, restored.Custody("USDC").Equal(decimal.NewFromInt(150)))
}

func TestStateStore_LoadMissing(t *testing.T) {
	store, err := NewStateStore(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	state, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, state)
}
