package vault

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/vault/internal/domain"
	"github.com/vadiminshakov/vault/internal/storage/badgerstore"
	"github.com/vadiminshakov/vault/internal/storage/ledger"
)

const (
	admin  domain.Identity = "admin"
	engine domain.Identity = "engine"
	buyer  domain.Identity = "buyer"
	seller domain.Identity = "seller"

	base  domain.Asset = "XLM"
	quote domain.Asset = "USDC"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

type mockTransferer struct {
	mock.Mock
}

func (m *mockTransferer) TransferIn(ctx context.Context, from domain.Identity, asset domain.Asset, amount decimal.Decimal) error {
	return m.Called(ctx, from, asset, amount).Error(0)
}

func (m *mockTransferer) TransferOut(ctx context.Context, to domain.Identity, asset domain.Asset, amount decimal.Decimal) error {
	return m.Called(ctx, to, asset, amount).Error(0)
}

// recordingNotifier collects delivered events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingNotifier) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

type fixture struct {
	vault    *Vault
	ledger   *ledger.Ledger
	transfer *mockTransferer
	notifier *recordingNotifier
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	store, err := badgerstore.Open("")
	require.NoError(t, err)
	l := ledger.New(store)
	t.Cleanup(func() { _ = l.Close() })

	tr := new(mockTransferer)
	tr.On("TransferIn", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	tr.On("TransferOut", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	n := &recordingNotifier{}
	v, err := New(cfg, l, tr, n, nil, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	return &fixture{vault: v, ledger: l, transfer: tr, notifier: n}
}

func defaultConfig() Config {
	return Config{Admin: admin, AssetA: base, AssetB: quote, MatchingEngine: engine}
}

func units(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func (f *fixture) deposit(t *testing.T, user domain.Identity, asset domain.Asset, amount decimal.Decimal) {
	t.Helper()
	require.NoError(t, f.vault.Deposit(context.Background(), user, user, asset, amount))
}

func (f *fixture) balance(t *testing.T, user domain.Identity, asset domain.Asset) decimal.Decimal {
	t.Helper()
	b, err := f.vault.GetBalance(user, asset)
	require.NoError(t, err)
	return b
}

func assertBalance(t *testing.T, f *fixture, user domain.Identity, asset domain.Asset, want decimal.Decimal) {
	t.Helper()
	got := f.balance(t, user, asset)
	assert.True(t, want.Equal(got), "%s %s: want %s got %s", user, asset, want, got)
}

func TestNew_ValidatesConfig(t *testing.T) {
	store, err := badgerstore.Open("")
	require.NoError(t, err)
	l := ledger.New(store)
	defer l.Close()

	cases := map[string]Config{
		"missing admin": {AssetA: base, AssetB: quote},
		"missing asset": {Admin: admin, AssetA: base},
		"same assets":   {Admin: admin, AssetA: base, AssetB: base},
		"empty assets":  {Admin: admin},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(cfg, l, new(mockTransferer), nil, nil)
			assert.Error(t, err)
		})
	}

	_, err = New(defaultConfig(), l, nil, nil, nil)
	assert.Error(t, err)
}

func TestVault_Accessors(t *testing.T) {
	f := newFixture(t, defaultConfig())
	assert.Equal(t, base, f.vault.AssetA())
	assert.Equal(t, quote, f.vault.AssetB())
	assert.Equal(t, admin, f.vault.Admin())
	assert.Equal(t, engine, f.vault.MatchingEngine())
}

func TestVault_MatchingEnginePersisted(t *testing.T) {
	store, err := badgerstore.Open("")
	require.NoError(t, err)
	l := ledger.New(store)
	defer l.Close()

	cfg := defaultConfig()
	cfg.MatchingEngine = ""
	v, err := New(cfg, l, new(mockTransferer), nil, nil)
	require.NoError(t, err)
	assert.True(t, v.MatchingEngine().IsZero())

	require.NoError(t, v.SetMatchingEngine(context.Background(), admin, "engine-2"))
	require.NoError(t, v.Close())

	// the persisted value wins over the configured one
	cfg.MatchingEngine = engine
	reopened, err := New(cfg, l, new(mockTransferer), nil, nil)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, domain.Identity("engine-2"), reopened.MatchingEngine())
}

func TestVault_SetMatchingEngineAdminOnly(t *testing.T) {
	f := newFixture(t, defaultConfig())

	err := f.vault.SetMatchingEngine(context.Background(), buyer, buyer)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, engine, f.vault.MatchingEngine())

	err = f.vault.SetMatchingEngine(context.Background(), admin, "")
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)
}

func TestVault_Deposit(t *testing.T) {
	f := newFixture(t, defaultConfig())

	f.deposit(t, buyer, quote, units(200))
	f.deposit(t, buyer, quote, units(50))

	assertBalance(t, f, buyer, quote, units(250))
	assertBalance(t, f, buyer, base, decimal.Zero)
	f.transfer.AssertCalled(t, "TransferIn", mock.Anything, buyer, quote, units(200))

	require.NoError(t, f.vault.Close())
	events := f.notifier.Events()
	require.Len(t, events, 2)
	dep, ok := events[0].(domain.DepositEvent)
	require.True(t, ok)
	assert.Equal(t, buyer, dep.User)
	assert.True(t, dep.Amount.Equal(units(200)))
	assert.Equal(t, fixedNow, dep.Time)
}

func TestVault_DepositValidation(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	assert.ErrorIs(t, f.vault.Deposit(ctx, buyer, buyer, quote, decimal.Zero), domain.ErrInvalidAmount)
	assert.ErrorIs(t, f.vault.Deposit(ctx, buyer, buyer, quote, units(-5)), domain.ErrInvalidAmount)
	assert.ErrorIs(t, f.vault.Deposit(ctx, buyer, buyer, quote, decimal.RequireFromString("1.5")), domain.ErrInvalidAmount)
	assert.ErrorIs(t, f.vault.Deposit(ctx, buyer, buyer, "BTC", units(1)), domain.ErrUnsupportedAsset)
	assert.ErrorIs(t, f.vault.Deposit(ctx, seller, buyer, quote, units(1)), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.vault.Deposit(ctx, "", "", quote, units(1)), domain.ErrInvalidIdentity)

	f.transfer.AssertNotCalled(t, "TransferIn", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assertBalance(t, f, buyer, quote, decimal.Zero)
}

func TestVault_DepositOverflowRefusedBeforeTransfer(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.deposit(t, buyer, quote, domain.MaxAmount)

	err := f.vault.Deposit(context.Background(), buyer, buyer, quote, units(1))
	assert.ErrorIs(t, err, domain.ErrAmountOverflow)
	f.transfer.AssertNumberOfCalls(t, "TransferIn", 1)
	assertBalance(t, f, buyer, quote, domain.MaxAmount)
}

func TestVault_DepositTransferFailure(t *testing.T) {
	store, err := badgerstore.Open("")
	require.NoError(t, err)
	l := ledger.New(store)
	defer l.Close()

	tr := new(mockTransferer)
	tr.On("TransferIn", mock.Anything, buyer, quote, units(10)).Return(errors.New("custodian down")).Once()
	n := &recordingNotifier{}
	v, err := New(defaultConfig(), l, tr, n, nil)
	require.NoError(t, err)

	err = v.Deposit(context.Background(), buyer, buyer, quote, units(10))
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.Contains(t, err.Error(), "custodian down")

	b, err := v.GetBalance(buyer, quote)
	require.NoError(t, err)
	assert.True(t, b.IsZero())

	require.NoError(t, v.Close())
	assert.Empty(t, n.Events())
	tr.AssertExpectations(t)
}

func TestVault_Withdraw(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.deposit(t, seller, base, units(200))

	require.NoError(t, f.vault.Withdraw(context.Background(), seller, seller, base, units(80)))
	assertBalance(t, f, seller, base, units(120))
	f.transfer.AssertCalled(t, "TransferOut", mock.Anything, seller, base, units(80))

	pending, err := f.vault.PendingWithdrawals()
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, f.vault.Close())
	events := f.notifier.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventWithdraw, events[1].Kind())
}

func TestVault_WithdrawValidation(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.deposit(t, seller, base, units(10))
	ctx := context.Background()

	assert.ErrorIs(t, f.vault.Withdraw(ctx, seller, seller, base, units(11)), domain.ErrInsufficientBalance)
	assert.ErrorIs(t, f.vault.Withdraw(ctx, buyer, seller, base, units(1)), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.vault.Withdraw(ctx, seller, seller, base, decimal.Zero), domain.ErrInvalidAmount)
	assert.ErrorIs(t, f.vault.Withdraw(ctx, seller, seller, "BTC", units(1)), domain.ErrUnsupportedAsset)

	f.transfer.AssertNotCalled(t, "TransferOut", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assertBalance(t, f, seller, base, units(10))
}

func TestVault_WithdrawTransferFailureRefunds(t *testing.T) {
	store, err := badgerstore.Open("")
	require.NoError(t, err)
	l := ledger.New(store)
	defer l.Close()

	tr := new(mockTransferer)
	tr.On("TransferIn", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	tr.On("TransferOut", mock.Anything, seller, base, units(30)).Return(errors.New("chain congested")).Once()
	n := &recordingNotifier{}
	v, err := New(defaultConfig(), l, tr, n, nil)
	require.NoError(t, err)

	require.NoError(t, v.Deposit(context.Background(), seller, seller, base, units(50)))

	err = v.Withdraw(context.Background(), seller, seller, base, units(30))
	assert.ErrorIs(t, err, domain.ErrTransferFailed)

	b, err := v.GetBalance(seller, base)
	require.NoError(t, err)
	assert.True(t, b.Equal(units(50)), "balance refunded, got %s", b)

	pending, err := v.PendingWithdrawals()
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, v.Close())
	events := n.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventDeposit, events[0].Kind())
}

// failingKV fails every Apply once armed, or only the next failNext applies.
type failingKV struct {
	ledger.KV
	fail     bool
	failNext int
}

func (f *failingKV) Apply(b ledger.Batch) error {
	if f.fail {
		return errors.New("disk full")
	}
	if f.failNext > 0 {
		f.failNext--
		return errors.New("disk full")
	}
	return f.KV.Apply(b)
}

func TestVault_WithdrawRefundNotPersistedLeavesPending(t *testing.T) {
	store, err := badgerstore.Open("")
	require.NoError(t, err)
	kv := &failingKV{KV: store}
	l := ledger.New(kv)
	defer l.Close()

	tr := new(mockTransferer)
	tr.On("TransferIn", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	tr.On("TransferOut", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { kv.fail = true }).
		Return(errors.New("timeout"))

	v, err := New(defaultConfig(), l, tr, nil, nil)
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, v.Deposit(context.Background(), seller, seller, base, units(50)))
	err = v.Withdraw(context.Background(), seller, seller, base, units(20))
	assert.ErrorIs(t, err, domain.ErrTransferFailed)

	kv.fail = false
	pending, err := v.PendingWithdrawals()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, seller, pending[0].User)
	assert.True(t, pending[0].Amount.Equal(units(20)))
	assert.Equal(t, domain.WithdrawalPending, pending[0].Status)
}

func TestVault_DepositCommitFailureReturnsFunds(t *testing.T) {
	store, err := badgerstore.Open("")
	require.NoError(t, err)
	kv := &failingKV{KV: store}
	l := ledger.New(kv)
	defer l.Close()

	tr := new(mockTransferer)
	tr.On("TransferIn", mock.Anything, buyer, quote, units(10)).
		Run(func(mock.Arguments) { kv.fail = true }).
		Return(nil).Once()
	tr.On("TransferOut", mock.Anything, buyer, quote, units(10)).Return(nil).Once()
	n := &recordingNotifier{}

	v, err := New(defaultConfig(), l, tr, n, nil)
	require.NoError(t, err)

	err = v.Deposit(context.Background(), buyer, buyer, quote, units(10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	kv.fail = false
	b, err := v.GetBalance(buyer, quote)
	require.NoError(t, err)
	assert.True(t, b.IsZero())

	pending, err := v.PendingWithdrawals()
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, v.Close())
	assert.Empty(t, n.Events())
	tr.AssertExpectations(t)
	tr.AssertNumberOfCalls(t, "TransferOut", 1)
}

func TestVault_DepositCommitAndReturnFailureJournalsIntent(t *testing.T) {
	store, err := badgerstore.Open("")
	require.NoError(t, err)
	kv := &failingKV{KV: store}
	l := ledger.New(kv)
	defer l.Close()

	tr := new(mockTransferer)
	tr.On("TransferIn", mock.Anything, buyer, quote, units(10)).
		Run(func(mock.Arguments) { kv.failNext = 1 }).
		Return(nil).Once()
	tr.On("TransferOut", mock.Anything, buyer, quote, units(10)).Return(errors.New("custodian down")).Once()

	v, err := New(defaultConfig(), l, tr, nil, nil, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	defer v.Close()

	err = v.Deposit(context.Background(), buyer, buyer, quote, units(10))
	assert.ErrorIs(t, err, domain.ErrTransferFailed)

	b, err := v.GetBalance(buyer, quote)
	require.NoError(t, err)
	assert.True(t, b.IsZero())

	pending, err := v.PendingWithdrawals()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.IntentDeposit, pending[0].Kind)
	assert.Equal(t, domain.WithdrawalPending, pending[0].Status)
	assert.Equal(t, buyer, pending[0].User)
	assert.Equal(t, quote, pending[0].Asset)
	assert.True(t, pending[0].Amount.Equal(units(10)))
	assert.Equal(t, "custodian down", pending[0].Error)
	assert.True(t, fixedNow.Equal(pending[0].Created))
	tr.AssertExpectations(t)
}

func TestVault_NotifierErrorsDoNotFailOperations(t *testing.T) {
	store, err := badgerstore.Open("")
	require.NoError(t, err)
	l := ledger.New(store)
	defer l.Close()

	tr := new(mockTransferer)
	tr.On("TransferIn", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	n := &recordingNotifier{err: errors.New("kafka down")}
	v, err := New(defaultConfig(), l, tr, n, nil)
	require.NoError(t, err)

	require.NoError(t, v.Deposit(context.Background(), buyer, buyer, quote, units(5)))
	require.NoError(t, v.Close())
	assert.Len(t, n.Events(), 1)

	b, err := v.GetBalance(buyer, quote)
	require.NoError(t, err)
	assert.True(t, b.Equal(units(5)))
}

func TestVault_CloseIsIdempotent(t *testing.T) {
	f := newFixture(t, defaultConfig())
	require.NoError(t, f.vault.Close())
	require.NoError(t, f.vault.Close())

	// operations still commit after close, only notifications stop
	f.deposit(t, buyer, quote, units(1))
	assertBalance(t, f, buyer, quote, units(1))
	assert.Empty(t, f.notifier.Events())
}
