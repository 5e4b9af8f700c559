package vault

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/vault/internal/domain"
	"github.com/vadiminshakov/vault/internal/metrics"
	"github.com/vadiminshakov/vault/internal/storage/ledger"
	"go.uber.org/zap"
)

// SettleTrade applies both legs of a matched trade and routes its fees to the admin.
//
// State failures are reported through the result with no mutation. A non-nil
// error means the call was aborted before anything was written: the caller is
// not the matching engine, none is configured, or storage failed.
func (v *Vault) SettleTrade(_ context.Context, caller domain.Identity, in domain.SettlementInstruction) (res domain.SettlementResult, err error) {
	started := time.Now()
	defer func() {
		metrics.ObserveOperation("settle_trade", err, started)
		if err == nil {
			metrics.ObserveSettlement(res.String())
		}
	}()

	v.mu.Lock()
	defer v.mu.Unlock()

	log := v.logger.With(zap.String("trade_id", in.TradeID.String()))

	if !v.supported(in.BaseAsset) || !v.supported(in.QuoteAsset) {
		log.Warn("settlement rejected: asset not whitelisted",
			zap.String("base_asset", in.BaseAsset.String()),
			zap.String("quote_asset", in.QuoteAsset.String()))
		return domain.ResultInvalidMatchingProof, nil
	}

	if v.matchingEngine.IsZero() {
		return domain.ResultUnknown, domain.ErrMatchingEngineNotSet
	}
	if caller != v.matchingEngine {
		return domain.ResultUnknown, errors.Wrapf(domain.ErrUnauthorized, "%s is not the matching engine", caller)
	}

	if in.Buyer.IsZero() || in.Seller.IsZero() {
		log.Warn("settlement rejected: missing counterparty")
		return domain.ResultInvalidMatchingProof, nil
	}
	if err := in.CheckAmounts(); err != nil {
		log.Warn("settlement rejected: invalid amounts", zap.Error(err))
		return domain.ResultInvalidMatchingProof, nil
	}

	existing, ok, err := v.history.Get(in.TradeID)
	if err != nil {
		return domain.ResultUnknown, err
	}
	if ok {
		if existing.Matches(in) {
			log.Info("settlement replayed, already applied")
			return domain.ResultSuccess, nil
		}
		log.Warn("settlement rejected: trade id already settled with different terms")
		return domain.ResultDuplicateTrade, nil
	}

	tx := v.ledger.Begin()

	// both legs are checked before either is applied
	buyerQuote, err := tx.Balance(in.Buyer, in.QuoteAsset)
	if err != nil {
		return domain.ResultUnknown, err
	}
	if buyerQuote.LessThan(in.RequiredQuote()) {
		log.Info("settlement rejected: buyer balance",
			zap.String("have", buyerQuote.String()),
			zap.String("need", in.RequiredQuote().String()))
		return domain.ResultInsufficientBalance, nil
	}
	sellerBase, err := tx.Balance(in.Seller, in.BaseAsset)
	if err != nil {
		return domain.ResultUnknown, err
	}
	if sellerBase.LessThan(in.RequiredBase()) {
		log.Info("settlement rejected: seller balance",
			zap.String("have", sellerBase.String()),
			zap.String("need", in.RequiredBase().String()))
		return domain.ResultInsufficientBalance, nil
	}

	if err := v.applyLegs(tx, in); err != nil {
		// a self-trade can alias the two checked balances; the staged tx is discarded
		if errors.Is(err, domain.ErrInsufficientBalance) {
			log.Info("settlement rejected", zap.Error(err))
			return domain.ResultInsufficientBalance, nil
		}
		return domain.ResultUnknown, err
	}

	rec := domain.NewSettlementRecord(in)
	if err := v.history.Record(tx, rec); err != nil {
		return domain.ResultUnknown, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ResultUnknown, err
	}

	log.Info("trade settled",
		zap.String("buyer", in.Buyer.String()),
		zap.String("seller", in.Seller.String()),
		zap.String("base_amount", in.BaseAmount.String()),
		zap.String("quote_amount", in.QuoteAmount.String()),
		zap.String("fee_base", in.FeeBase.String()),
		zap.String("fee_quote", in.FeeQuote.String()))

	v.emit(domain.NewSettlementEvent(rec, v.now()))
	return domain.ResultSuccess, nil
}

func (v *Vault) applyLegs(tx *ledger.Tx, in domain.SettlementInstruction) error {
	if err := tx.Debit(in.Buyer, in.QuoteAsset, in.RequiredQuote()); err != nil {
		return err
	}
	if err := tx.Credit(in.Buyer, in.BaseAsset, in.BaseAmount); err != nil {
		return err
	}
	if err := tx.Debit(in.Seller, in.BaseAsset, in.RequiredBase()); err != nil {
		return err
	}
	if err := tx.Credit(in.Seller, in.QuoteAsset, in.QuoteAmount); err != nil {
		return err
	}

	if in.FeeBase.IsPositive() {
		if err := tx.Credit(v.cfg.Admin, in.BaseAsset, in.FeeBase); err != nil {
			return err
		}
	}
	if in.FeeQuote.IsPositive() {
		if err := tx.Credit(v.cfg.Admin, in.QuoteAsset, in.FeeQuote); err != nil {
			return err
		}
	}
	return nil
}
