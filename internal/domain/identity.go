// Package domain defines the vault's core data structures: identities, assets,
// amounts, settlement instructions and records, results and emitted events.
package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is an opaque account identifier (user, admin or matching engine).
type Identity string

// NewIdentity trims s and, when it is a 20-byte hex address, normalizes it to
// its EIP-55 checksum form so that configured and authenticated identities compare equal.
func NewIdentity(s string) Identity {
	s = strings.TrimSpace(s)
	if common.IsHexAddress(s) {
		return Identity(common.HexToAddress(s).Hex())
	}
	return Identity(s)
}

// String returns the string representation.
func (i Identity) String() string {
	return string(i)
}

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool {
	return i == ""
}

// Asset identifies a fungible token type held by the vault.
type Asset string

// String returns the string representation.
func (a Asset) String() string {
	return string(a)
}
