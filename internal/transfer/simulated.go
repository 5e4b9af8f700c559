package transfer

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vault/internal/domain"
	"go.uber.org/zap"
)

// custodyHolder is the holder key under which the vault's own holdings are tracked.
const custodyHolder = "@custody"

// Simulated is an in-process custodian. External holdings live in memory and
// are persisted after every change, so restarts keep them.
type Simulated struct {
	mu       sync.Mutex
	logger   *zap.Logger
	holdings map[string]map[domain.Asset]decimal.Decimal
	store    *StateStore
}

// NewSimulated creates a simulated custodian persisting to store (may be nil).
func NewSimulated(store *StateStore, logger *zap.Logger) (*Simulated, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Simulated{
		logger:   logger,
		holdings: make(map[string]map[domain.Asset]decimal.Decimal),
		store:    store,
	}
	if err := s.restore(); err != nil {
		return nil, errors.Wrap(err, "restore simulated holdings")
	}
	logger.Info("simulated custodian init", zap.Int("holders", len(s.holdings)))
	return s, nil
}

// Fund credits external holdings of holder, e.g. to seed a test account.
func (s *Simulated) Fund(holder domain.Identity, asset domain.Asset, amount decimal.Decimal) error {
	if err := domain.CheckPositiveAmount(amount); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.holdingOf(string(holder), asset)
	s.set(string(holder), asset, prev.Add(amount))
	if err := s.persist(); err != nil {
		s.set(string(holder), asset, prev)
		return err
	}
	return nil
}

// Holdings returns the external holdings of holder in asset.
func (s *Simulated) Holdings(holder domain.Identity, asset domain.Asset) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdingOf(string(holder), asset)
}

// Custody returns the amount of asset held by the vault.
func (s *Simulated) Custody(asset domain.Asset) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdingOf(custodyHolder, asset)
}

// TransferIn moves amount from the holder into custody.
func (s *Simulated) TransferIn(ctx context.Context, from domain.Identity, asset domain.Asset, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.move(string(from), custodyHolder, asset, amount)
}

// TransferOut moves amount from custody to the holder.
func (s *Simulated) TransferOut(ctx context.Context, to domain.Identity, asset domain.Asset, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.move(custodyHolder, string(to), asset, amount)
}

func (s *Simulated) move(from, to string, asset domain.Asset, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.holdingOf(from, asset)
	if src.LessThan(amount) {
		return errors.Wrapf(ErrInsufficientHoldings, "%s holds %s %s, need %s", from, src.String(), asset, amount.String())
	}
	dst := s.holdingOf(to, asset)

	s.set(from, asset, src.Sub(amount))
	s.set(to, asset, dst.Add(amount))
	if err := s.persist(); err != nil {
		s.set(from, asset, src)
		s.set(to, asset, dst)
		return err
	}

	s.logger.Debug("simulated transfer",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("asset", asset.String()),
		zap.String("amount", amount.String()))
	return nil
}

func (s *Simulated) holdingOf(holder string, asset domain.Asset) decimal.Decimal {
	if assets, ok := s.holdings[holder]; ok {
		return assets[asset]
	}
	return decimal.Zero
}

func (s *Simulated) set(holder string, asset domain.Asset, amount decimal.Decimal) {
	assets, ok := s.holdings[holder]
	if !ok {
		assets = make(map[domain.Asset]decimal.Decimal)
		s.holdings[holder] = assets
	}
	assets[asset] = amount
}

func (s *Simulated) restore() error {
	state, err := s.store.Load()
	if err != nil || state == nil {
		return err
	}

	for holder, assets := range state.Holdings {
		for asset, amountStr := range assets {
			if amountStr == "" {
				continue
			}
			parsed, err := decimal.NewFromString(amountStr)
			if err != nil {
				return errors.Wrapf(err, "decode %s holdings of %s", asset, holder)
			}
			s.set(holder, domain.Asset(asset), parsed)
		}
	}
	return nil
}

func (s *Simulated) persist() error {
	state := State{Holdings: make(map[string]map[string]string, len(s.holdings))}
	for holder, assets := range s.holdings {
		out := make(map[string]string, len(assets))
		for asset, amount := range assets {
			out[string(asset)] = amount.String()
		}
		state.Holdings[holder] = out
	}
	return errors.Wrap(s.store.Save(state), "persist simulated holdings")
}
