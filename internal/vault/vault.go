// Package vault holds custodial balances for two whitelisted assets and
// settles matched trades between them.
//
// Every mutating call runs under a single writer lock and commits its
// writes as one ledger batch, so a call either applies completely or leaves
// no trace.
package vault

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vault/internal/domain"
	"github.com/vadiminshakov/vault/internal/history"
	"github.com/vadiminshakov/vault/internal/metrics"
	"github.com/vadiminshakov/vault/internal/notify"
	"github.com/vadiminshakov/vault/internal/storage/ledger"
	"github.com/vadiminshakov/vault/internal/transfer"
	"go.uber.org/zap"
)

// Config fixes the vault roles and its asset whitelist.
type Config struct {
	Admin  domain.Identity
	AssetA domain.Asset
	AssetB domain.Asset
	// MatchingEngine is used when no matching engine has been persisted yet.
	MatchingEngine domain.Identity
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Admin.IsZero() {
		return errors.Wrap(domain.ErrInvalidIdentity, "admin is required")
	}
	if c.AssetA == "" || c.AssetB == "" {
		return errors.Wrap(domain.ErrUnsupportedAsset, "both assets are required")
	}
	if c.AssetA == c.AssetB {
		return errors.Wrapf(domain.ErrUnsupportedAsset, "assets must differ, both are %s", c.AssetA)
	}
	return nil
}

// Option configures a Vault.
type Option func(*Vault)

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) {
		v.now = now
	}
}

// WithQueueSize sets how many notifications may wait for delivery.
func WithQueueSize(n int) Option {
	return func(v *Vault) {
		if n > 0 {
			v.queueSize = n
		}
	}
}

// Vault is the custodial ledger and settlement engine.
type Vault struct {
	mu             sync.RWMutex
	cfg            Config
	matchingEngine domain.Identity
	ledger         *ledger.Ledger
	history        *history.Index
	transferer     transfer.Transferer
	logger         *zap.Logger
	now            func() time.Time

	dispatcher *dispatcher
	queueSize  int
	closed     bool
}

// New initializes the vault over store.
func New(cfg Config, store *ledger.Ledger, transferer transfer.Transferer, notifier notify.Notifier, logger *zap.Logger, opts ...Option) (*Vault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid vault config")
	}
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	if transferer == nil {
		return nil, errors.New("transferer is required")
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	v := &Vault{
		cfg:        cfg,
		ledger:     store,
		history:    history.NewIndex(store),
		transferer: transferer,
		logger:     logger,
		now:        time.Now,
		queueSize:  defaultQueueSize,
	}
	for _, opt := range opts {
		opt(v)
	}

	engine, ok, err := store.MatchingEngine()
	if err != nil {
		return nil, err
	}
	switch {
	case ok:
		v.matchingEngine = engine
	case !cfg.MatchingEngine.IsZero():
		tx := store.Begin()
		if err := tx.SetMatchingEngine(cfg.MatchingEngine); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, errors.Wrap(err, "persist configured matching engine")
		}
		v.matchingEngine = cfg.MatchingEngine
	}

	if err := v.reportPendingWithdrawals(); err != nil {
		return nil, err
	}

	v.dispatcher = newDispatcher(notifier, v.queueSize, logger)

	logger.Info("vault initialized",
		zap.String("admin", cfg.Admin.String()),
		zap.String("asset_a", cfg.AssetA.String()),
		zap.String("asset_b", cfg.AssetB.String()),
		zap.String("matching_engine", v.matchingEngine.String()))

	return v, nil
}

func (v *Vault) reportPendingWithdrawals() error {
	pending, err := v.ledger.PendingWithdrawals()
	if err != nil {
		return errors.Wrap(err, "load pending withdrawals")
	}
	metrics.SetPendingWithdrawals(len(pending))
	for _, intent := range pending {
		v.logger.Warn("transfer outcome unknown, reconcile with custodian",
			zap.String("id", intent.ID),
			zap.String("kind", string(intent.Kind)),
			zap.String("user", intent.User.String()),
			zap.String("asset", intent.Asset.String()),
			zap.String("amount", intent.Amount.String()),
			zap.Time("created", intent.Created))
	}
	return nil
}

// Close stops accepting notifications and waits for queued ones to be delivered.
func (v *Vault) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()

	v.dispatcher.stop()
	return nil
}

// AssetA returns the first whitelisted asset.
func (v *Vault) AssetA() domain.Asset { return v.cfg.AssetA }

// AssetB returns the second whitelisted asset.
func (v *Vault) AssetB() domain.Asset { return v.cfg.AssetB }

// Admin returns the admin identity, which also receives settlement fees.
func (v *Vault) Admin() domain.Identity { return v.cfg.Admin }

// MatchingEngine returns the identity allowed to settle trades; zero when unset.
func (v *Vault) MatchingEngine() domain.Identity {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.matchingEngine
}

// SetMatchingEngine replaces the matching engine identity. Admin only.
func (v *Vault) SetMatchingEngine(_ context.Context, caller, engine domain.Identity) (err error) {
	defer observe("set_matching_engine", time.Now(), &err)

	if engine.IsZero() {
		return errors.Wrap(domain.ErrInvalidIdentity, "matching engine")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.cfg.Admin {
		return errors.Wrapf(domain.ErrUnauthorized, "%s is not the admin", caller)
	}

	tx := v.ledger.Begin()
	if err := tx.SetMatchingEngine(engine); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	v.logger.Info("matching engine updated",
		zap.String("previous", v.matchingEngine.String()),
		zap.String("current", engine.String()))
	v.matchingEngine = engine
	return nil
}

// GetBalance returns the balance of user in asset, zero when absent.
func (v *Vault) GetBalance(user domain.Identity, asset domain.Asset) (decimal.Decimal, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ledger.Balance(user, asset)
}

// GetSettlement returns the record of a settled trade.
func (v *Vault) GetSettlement(id domain.TradeID) (domain.SettlementRecord, bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.history.Get(id)
}

// GetTradeHistory returns up to limit of the user's latest settlements, oldest first.
func (v *Vault) GetTradeHistory(user domain.Identity, limit int) ([]domain.SettlementRecord, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.history.Recent(user, limit)
}

// PendingWithdrawals returns withdrawals whose transfer outcome was never recorded.
func (v *Vault) PendingWithdrawals() ([]domain.WithdrawalIntent, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ledger.PendingWithdrawals()
}

func (v *Vault) supported(asset domain.Asset) bool {
	return asset == v.cfg.AssetA || asset == v.cfg.AssetB
}

func observe(operation string, started time.Time, err *error) {
	metrics.ObserveOperation(operation, *err, started)
}
