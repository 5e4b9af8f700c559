package domain

import "github.com/pkg/errors"

var (
	// ErrInvalidAmount is returned for non-positive or malformed amounts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrAmountOverflow is returned when an amount or resulting balance leaves the 128-bit range.
	ErrAmountOverflow = errors.New("amount out of range")
	// ErrUnsupportedAsset is returned for assets outside the vault whitelist.
	ErrUnsupportedAsset = errors.New("unsupported asset")
	// ErrInsufficientBalance is returned when a debit would make a balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrUnauthorized is returned when the caller is not the identity an operation requires.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrMatchingEngineNotSet is returned by settlement while no matching engine is configured.
	ErrMatchingEngineNotSet = errors.New("matching engine not set")
	// ErrTransferFailed wraps failures of the external asset-transfer mechanism.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrInvalidTradeID is returned for trade ids that cannot be parsed.
	ErrInvalidTradeID = errors.New("invalid trade id")
	// ErrInvalidIdentity is returned for empty identities.
	ErrInvalidIdentity = errors.New("invalid identity")
)
