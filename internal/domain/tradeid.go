package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// TradeIDLength is the size of a trade identifier in bytes.
const TradeIDLength = 32

// TradeID is the 32-byte identifier of a settled trade.
type TradeID [TradeIDLength]byte

// NewTradeID derives a trade id from a fresh random UUID.
func NewTradeID() TradeID {
	return tradeIDFromUUID(uuid.New())
}

// ParseTradeID accepts a 32-byte hex string (with or without 0x), a UUID
// (right-padded with zeros to 32 bytes, the matching engine's encoding) or
// any other non-empty string, which is hashed with Keccak-256.
func ParseTradeID(s string) (TradeID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TradeID{}, errors.Wrap(ErrInvalidTradeID, "empty trade id")
	}

	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) == TradeIDLength*2 {
		if b, err := hexutil.Decode("0x" + raw); err == nil {
			var id TradeID
			copy(id[:], b)
			return id, nil
		}
	}

	if u, err := uuid.Parse(s); err == nil {
		return tradeIDFromUUID(u), nil
	}

	return TradeID(crypto.Keccak256Hash([]byte(s))), nil
}

func tradeIDFromUUID(u uuid.UUID) TradeID {
	var id TradeID
	copy(id[:], u[:])
	return id
}

// String returns the 0x-prefixed hex form.
func (id TradeID) String() string {
	return hexutil.Encode(id[:])
}

// IsZero reports whether every byte of the id is zero.
func (id TradeID) IsZero() bool {
	return id == TradeID{}
}

// MarshalText implements encoding.TextMarshaler.
func (id TradeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Only the strict hex form is accepted.
func (id *TradeID) UnmarshalText(text []byte) error {
	b, err := hexutil.Decode(string(text))
	if err != nil {
		return errors.Wrapf(ErrInvalidTradeID, "decode %q: %v", string(text), err)
	}
	if len(b) != TradeIDLength {
		return errors.Wrapf(ErrInvalidTradeID, "want %d bytes, got %d", TradeIDLength, len(b))
	}
	copy(id[:], b)
	return nil
}
