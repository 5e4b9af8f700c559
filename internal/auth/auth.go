// Package auth recovers the caller identity of a signed request.
//
// A request is signed with an Ethereum key over the personal-message hash of
//
//	METHOD\nREQUEST_URI\nUNIX_TIMESTAMP\nBODY
//
// and carries the claimed address, the timestamp and the 65-byte signature in
// headers. A verified signature is remembered until its timestamp leaves the
// skew window, and presenting it again is rejected.
package auth

import (
	"bytes"
	"crypto/ecdsa"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/vault/internal/domain"
)

const (
	HeaderAddress   = "X-Vault-Address"
	HeaderTimestamp = "X-Vault-Timestamp"
	HeaderSignature = "X-Vault-Signature"

	DefaultMaxSkew = 30 * time.Second
)

// Request is the signed part of a call.
type Request struct {
	Method     string
	RequestURI string
	Body       []byte
}

// Credentials are the values carried in the auth headers.
type Credentials struct {
	Address   string
	Timestamp string
	Signature string
}

// Authenticator verifies request signatures.
type Authenticator struct {
	maxSkew time.Duration
	now     func() time.Time

	mu      sync.Mutex
	seen    map[string]time.Time // signer and digest -> end of skew window
	sweepAt time.Time
}

// New creates an authenticator accepting timestamps within maxSkew of now.
func New(maxSkew time.Duration) *Authenticator {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &Authenticator{maxSkew: maxSkew, now: time.Now, seen: make(map[string]time.Time)}
}

// Payload builds the bytes that are hashed and signed.
func Payload(req Request, timestamp string) []byte {
	var buf bytes.Buffer
	buf.WriteString(strings.ToUpper(req.Method))
	buf.WriteByte('\n')
	buf.WriteString(req.RequestURI)
	buf.WriteByte('\n')
	buf.WriteString(timestamp)
	buf.WriteByte('\n')
	buf.Write(req.Body)
	return buf.Bytes()
}

// Verify checks creds against req and returns the authenticated identity.
// Every failure wraps domain.ErrUnauthorized.
func (a *Authenticator) Verify(req Request, creds Credentials) (domain.Identity, error) {
	if creds.Address == "" || creds.Timestamp == "" || creds.Signature == "" {
		return "", errors.Wrap(domain.ErrUnauthorized, "missing auth headers")
	}
	if !common.IsHexAddress(creds.Address) {
		return "", errors.Wrapf(domain.ErrUnauthorized, "malformed address %q", creds.Address)
	}

	unix, err := strconv.ParseInt(creds.Timestamp, 10, 64)
	if err != nil {
		return "", errors.Wrapf(domain.ErrUnauthorized, "malformed timestamp %q", creds.Timestamp)
	}
	now := a.now()
	signedAt := time.Unix(unix, 0)
	skew := now.Sub(signedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > a.maxSkew {
		return "", errors.Wrapf(domain.ErrUnauthorized, "timestamp off by %s", skew.Round(time.Second))
	}

	sig, err := hexutil.Decode(creds.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return "", errors.Wrap(domain.ErrUnauthorized, "malformed signature")
	}
	// wallets produce V as 27/28
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	digest := accounts.TextHash(Payload(req, creds.Timestamp))
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", errors.Wrapf(domain.ErrUnauthorized, "recover signer: %v", err)
	}

	recovered := crypto.PubkeyToAddress(*pub)
	if recovered != common.HexToAddress(creds.Address) {
		return "", errors.Wrapf(domain.ErrUnauthorized, "signature is from %s, not %s", recovered.Hex(), creds.Address)
	}
	if !a.remember(recovered.Hex()+hexutil.Encode(digest), signedAt.Add(a.maxSkew), now) {
		return "", errors.Wrap(domain.ErrUnauthorized, "request already seen")
	}
	return domain.Identity(recovered.Hex()), nil
}

// remember records key until expires and reports whether it was new.
// The key is built from the signed digest, so re-encoding the same signature
// does not produce a fresh entry.
func (a *Authenticator) remember(key string, expires, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if now.After(a.sweepAt) {
		for k, exp := range a.seen {
			if now.After(exp) {
				delete(a.seen, k)
			}
		}
		a.sweepAt = now.Add(a.maxSkew)
	}

	if exp, ok := a.seen[key]; ok && !now.After(exp) {
		return false
	}
	a.seen[key] = expires
	return true
}

// Sign produces credentials for req signed by key at ts.
func Sign(key *ecdsa.PrivateKey, req Request, ts time.Time) (Credentials, error) {
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	sig, err := crypto.Sign(accounts.TextHash(Payload(req, timestamp)), key)
	if err != nil {
		return Credentials{}, errors.Wrap(err, "sign request")
	}
	sig[crypto.RecoveryIDOffset] += 27
	return Credentials{
		Address:   crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Timestamp: timestamp,
		Signature: hexutil.Encode(sig),
	}, nil
}

// SignHTTP signs r with key and sets the auth headers. The body is read and
// restored so r can still be sent.
func SignHTTP(r *http.Request, key *ecdsa.PrivateKey, ts time.Time) error {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return errors.Wrap(err, "read request body")
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	creds, err := Sign(key, Request{Method: r.Method, RequestURI: r.URL.RequestURI(), Body: body}, ts)
	if err != nil {
		return err
	}
	r.Header.Set(HeaderAddress, creds.Address)
	r.Header.Set(HeaderTimestamp, creds.Timestamp)
	r.Header.Set(HeaderSignature, creds.Signature)
	return nil
}
