package vault

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vault/internal/domain"
	"github.com/vadiminshakov/vault/internal/metrics"
	"go.uber.org/zap"
)

func (v *Vault) checkTransfer(caller, user domain.Identity, asset domain.Asset, amount decimal.Decimal) error {
	if user.IsZero() {
		return errors.Wrap(domain.ErrInvalidIdentity, "user is required")
	}
	if err := domain.CheckPositiveAmount(amount); err != nil {
		return err
	}
	if !v.supported(asset) {
		return errors.Wrapf(domain.ErrUnsupportedAsset, "%s is not %s or %s", asset, v.cfg.AssetA, v.cfg.AssetB)
	}
	if caller != user {
		return errors.Wrapf(domain.ErrUnauthorized, "%s cannot move funds of %s", caller, user)
	}
	return nil
}

// Deposit moves amount of asset from the user's external holdings into
// custody and credits it. Nothing is credited unless the transfer succeeds,
// and funds taken in are sent back when the credit cannot be persisted.
func (v *Vault) Deposit(ctx context.Context, caller, user domain.Identity, asset domain.Asset, amount decimal.Decimal) (err error) {
	defer observe("deposit", time.Now(), &err)

	if err := v.checkTransfer(caller, user, asset, amount); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	// stage first so an overflowing credit is refused before funds move
	tx := v.ledger.Begin()
	if err := tx.Credit(user, asset, amount); err != nil {
		return err
	}

	if err := v.transferer.TransferIn(ctx, user, asset, amount); err != nil {
		v.logger.Warn("deposit transfer failed",
			zap.String("user", user.String()),
			zap.String("asset", asset.String()),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return errors.Wrapf(domain.ErrTransferFailed, "transfer in: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return v.returnDeposit(ctx, user, asset, amount, err)
	}

	v.logger.Info("deposit",
		zap.String("user", user.String()),
		zap.String("asset", asset.String()),
		zap.String("amount", amount.String()))

	v.emit(domain.DepositEvent{Time: v.now(), User: user, Asset: asset, Amount: amount})
	return nil
}

// Withdraw debits amount and then moves it out of custody to the user.
// The debit is journaled together with a pending intent before the transfer
// runs; a failed transfer is refunded and the intent marked failed.
func (v *Vault) Withdraw(ctx context.Context, caller, user domain.Identity, asset domain.Asset, amount decimal.Decimal) (err error) {
	defer observe("withdraw", time.Now(), &err)

	if err := v.checkTransfer(caller, user, asset, amount); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	intent := domain.WithdrawalIntent{
		ID:      uuid.NewString(),
		Kind:    domain.IntentWithdraw,
		Status:  domain.WithdrawalPending,
		User:    user,
		Asset:   asset,
		Amount:  amount,
		Created: v.now(),
	}

	tx := v.ledger.Begin()
	if err := tx.Debit(user, asset, amount); err != nil {
		return err
	}
	if err := tx.PutWithdrawal(intent); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logFields := []zap.Field{
		zap.String("id", intent.ID),
		zap.String("user", user.String()),
		zap.String("asset", asset.String()),
		zap.String("amount", amount.String()),
	}

	if transferErr := v.transferer.TransferOut(ctx, user, asset, amount); transferErr != nil {
		intent.Status = domain.WithdrawalFailed
		intent.Error = transferErr.Error()

		refund := v.ledger.Begin()
		if err := refund.Credit(user, asset, amount); err != nil {
			return v.leavePending(intent, err, logFields)
		}
		if err := refund.PutWithdrawal(intent); err != nil {
			return v.leavePending(intent, err, logFields)
		}
		if err := refund.Commit(); err != nil {
			return v.leavePending(intent, err, logFields)
		}

		v.logger.Warn("withdraw transfer failed, balance refunded", append(logFields, zap.Error(transferErr))...)
		return errors.Wrapf(domain.ErrTransferFailed, "transfer out: %v", transferErr)
	}

	intent.Status = domain.WithdrawalDone
	done := v.ledger.Begin()
	markErr := done.PutWithdrawal(intent)
	if markErr == nil {
		markErr = done.Commit()
	}
	if markErr != nil {
		v.logger.Error("withdrawal completed but not marked done", append(logFields, zap.Error(markErr))...)
	}
	v.syncPendingGauge()

	v.logger.Info("withdraw", logFields...)
	v.emit(domain.WithdrawEvent{Time: v.now(), User: user, Asset: asset, Amount: amount})
	return nil
}

// returnDeposit sends back funds received by a deposit whose credit failed to
// commit. When the return fails too, a pending deposit intent is journaled so
// the custodian can be reconciled.
func (v *Vault) returnDeposit(ctx context.Context, user domain.Identity, asset domain.Asset, amount decimal.Decimal, commitErr error) error {
	logFields := []zap.Field{
		zap.String("user", user.String()),
		zap.String("asset", asset.String()),
		zap.String("amount", amount.String()),
	}

	transferErr := v.transferer.TransferOut(ctx, user, asset, amount)
	if transferErr == nil {
		v.logger.Warn("deposit credit not persisted, funds returned", append(logFields, zap.Error(commitErr))...)
		return errors.Wrap(commitErr, "deposit returned")
	}

	intent := domain.WithdrawalIntent{
		ID:      uuid.NewString(),
		Kind:    domain.IntentDeposit,
		Status:  domain.WithdrawalPending,
		User:    user,
		Asset:   asset,
		Amount:  amount,
		Created: v.now(),
		Error:   transferErr.Error(),
	}
	logFields = append(logFields,
		zap.String("id", intent.ID),
		zap.String("transfer_error", intent.Error),
		zap.NamedError("commit_error", commitErr))

	journal := v.ledger.Begin()
	journalErr := journal.PutWithdrawal(intent)
	if journalErr == nil {
		journalErr = journal.Commit()
	}
	if journalErr != nil {
		v.logger.Error("deposit received, credit not persisted and return failed", append(logFields, zap.Error(journalErr))...)
	} else {
		v.logger.Error("deposit received, credit not persisted and return failed, intent journaled", logFields...)
	}
	v.syncPendingGauge()
	return errors.Wrapf(domain.ErrTransferFailed, "deposit %s not credited and not returned: %v", intent.ID, commitErr)
}

// leavePending reports a failed refund. The intent stays pending so the
// debit can be reconciled by an operator.
func (v *Vault) leavePending(intent domain.WithdrawalIntent, err error, fields []zap.Field) error {
	v.logger.Error("withdraw transfer failed and refund not persisted",
		append(fields, zap.String("transfer_error", intent.Error), zap.Error(err))...)
	v.syncPendingGauge()
	return errors.Wrapf(domain.ErrTransferFailed, "refund of withdrawal %s not persisted: %v", intent.ID, err)
}

func (v *Vault) syncPendingGauge() {
	pending, err := v.ledger.PendingWithdrawals()
	if err != nil {
		v.logger.Warn("count pending withdrawals", zap.Error(err))
		return
	}
	metrics.SetPendingWithdrawals(len(pending))
}
