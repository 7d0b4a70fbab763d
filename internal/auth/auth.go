// Package auth verifies HMAC-signed requests.
//
// A signed request carries X-Timestamp (unix seconds) and X-Signature, the
// hex HMAC-SHA256 of the timestamp digits followed by the raw body. An
// optional X-Nonce makes each request unique. Signatures and nonces are
// remembered for twice the allowed skew so a captured request cannot be
// replayed while its timestamp is still acceptable.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
)

const (
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
	HeaderNonce     = "X-Nonce"

	DefaultSkew      = 300 * time.Second
	DefaultCacheSize = 10000
)

var (
	ErrMissingHeaders = errors.New("missing signature headers")
	ErrBadTimestamp   = errors.New("malformed timestamp")
	ErrClockSkew      = errors.New("timestamp outside allowed skew")
	ErrBadSignature   = errors.New("invalid signature")
	ErrMissingNonce   = errors.New("missing nonce")
	ErrReplay         = errors.New("replayed request")
)

// Config parameterizes a Verifier.
type Config struct {
	Skew         time.Duration
	CacheSize    int
	RequireNonce bool
}

// Verifier checks request signatures and tracks seen requests.
type Verifier struct {
	secret       []byte
	skew         time.Duration
	requireNonce bool
	clock        clockwork.Clock

	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// NewVerifier returns a Verifier for secret. The replay cache holds at most
// cfg.CacheSize entries, each for twice the skew.
func NewVerifier(secret string, cfg Config, clock clockwork.Clock) *Verifier {
	if cfg.Skew <= 0 {
		cfg.Skew = DefaultSkew
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Verifier{
		secret:       []byte(secret),
		skew:         cfg.Skew,
		requireNonce: cfg.RequireNonce,
		clock:        clock,
		seen:         expirable.NewLRU[string, struct{}](cfg.CacheSize, nil, 2*cfg.Skew),
	}
}

// Sign returns the hex signature of body at unix time ts.
func Sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks one request. A request that passes is remembered, so
// verifying the same signature or nonce again fails with ErrReplay.
func (v *Verifier) Verify(timestamp, signature, nonce string, body []byte) error {
	timestamp = strings.TrimSpace(timestamp)
	signature = strings.TrimSpace(signature)
	nonce = strings.TrimSpace(nonce)

	if timestamp == "" || signature == "" {
		return ErrMissingHeaders
	}
	if v.requireNonce && nonce == "" {
		return ErrMissingNonce
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadTimestamp
	}
	drift := v.clock.Now().Sub(time.Unix(ts, 0))
	if drift > v.skew || drift < -v.skew {
		return ErrClockSkew
	}

	want := Sign(string(v.secret), ts, body)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(signature))) {
		return ErrBadSignature
	}

	sigKey := "sig:" + want
	nonceKey := "nonce:" + nonce

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.seen.Contains(sigKey) || (nonce != "" && v.seen.Contains(nonceKey)) {
		return ErrReplay
	}
	v.seen.Add(sigKey, struct{}{})
	if nonce != "" {
		v.seen.Add(nonceKey, struct{}{})
	}
	return nil
}

// Tracked returns the number of remembered signatures and nonces.
func (v *Verifier) Tracked() int {
	return v.seen.Len()
}
