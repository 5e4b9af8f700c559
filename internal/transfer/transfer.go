// Package transfer moves assets between external holders and vault custody.
package transfer

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vault/internal/domain"
)

// ErrInsufficientHoldings is returned when the source holder cannot cover a transfer.
var ErrInsufficientHoldings = errors.New("insufficient external holdings")

// Transferer moves assets in and out of custody. A nil error means the
// transfer completed; any error means no funds moved.
type Transferer interface {
	// TransferIn moves amount of asset from the external holder into custody.
	TransferIn(ctx context.Context, from domain.Identity, asset domain.Asset, amount decimal.Decimal) error
	// TransferOut moves amount of asset from custody to the external holder.
	TransferOut(ctx context.Context, to domain.Identity, asset domain.Asset, amount decimal.Decimal) error
}
