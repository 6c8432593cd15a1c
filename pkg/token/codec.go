// Package token issues and verifies HMAC-SHA256 signed execution tokens.
// A token is an internal, single-purpose capability bound to one proposal
// and one argument hash; it is never persisted whole — only its id and
// nonce may reach storage.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/arbiterhq/arbiter/pkg/canonicalize"
)

// MinSecretLen is the minimum master secret length in bytes.
const MinSecretLen = 32

// DefaultTTL is the token lifetime when the caller does not override it.
const DefaultTTL = 120 * time.Second

// Verification reasons. The codec owns the token-level subset of the
// commit failure surface.
const (
	ReasonOK               = "ok"
	ReasonBadSignature     = "bad_signature"
	ReasonExpired          = "expired"
	ReasonToolMismatch     = "tool_mismatch"
	ReasonArgsHashMismatch = "args_hash_mismatch"
)

// ErrSecretTooShort rejects master secrets under MinSecretLen bytes.
var ErrSecretTooShort = errors.New("token: signing secret must be at least 32 bytes")

// Payload is the canonical token body. Field names and ordering-insensitive
// canonical serialization are part of the wire contract.
type Payload struct {
	TokenID        string  `json:"token_id"`
	ProposalID     string  `json:"proposal_id"`
	ToolName       string  `json:"tool_name"`
	ToolArgsHash   string  `json:"tool_args_hash"`
	IssuedAt       int64   `json:"issued_at"`
	ExpiresAt      int64   `json:"expires_at"`
	Nonce          string  `json:"nonce"`
	CompositeScore float64 `json:"composite_score"`
}

// Expiry returns the expiry instant.
func (p Payload) Expiry() time.Time { return time.Unix(p.ExpiresAt, 0).UTC() }

// Issued is the result of issuing a token.
type Issued struct {
	Blob    string
	Payload Payload
}

// VerifyResult reports the outcome of verification. Payload is populated
// whenever the signature checks out, even for expired or mismatched
// tokens, so the verifier can record the token id on rejection.
type VerifyResult struct {
	OK      bool
	Reason  string
	Payload *Payload
}

// Codec signs and verifies execution tokens. The signing key is derived
// from the master secret with HKDF-SHA256 so the raw secret never touches
// the MAC; the secret itself must not be persisted anywhere.
type Codec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithTTL overrides the default token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) { c.ttl = ttl }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec derives the signing key from secret and returns a codec.
func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrSecretTooShort
	}

	kdf := hkdf.New(sha256.New, secret, nil, []byte("arbiter/execution-token/v1"))
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("token: derive signing key: %w", err)
	}

	c := &Codec{key: key, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue builds, signs and encodes a token bound to the given proposal,
// tool and args hash. ttl <= 0 uses the codec default.
func (c *Codec) Issue(proposalID, toolName, argsHash string, compositeScore float64, ttl time.Duration) (Issued, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	issuedAt := c.now().UTC()

	payload := Payload{
		TokenID:        uuid.NewString(),
		ProposalID:     proposalID,
		ToolName:       toolName,
		ToolArgsHash:   argsHash,
		IssuedAt:       issuedAt.Unix(),
		ExpiresAt:      issuedAt.Add(ttl).Unix(),
		Nonce:          uuid.NewString(),
		CompositeScore: compositeScore,
	}

	raw, err := canonicalize.Canonical(payload)
	if err != nil {
		return Issued{}, fmt.Errorf("token: canonicalize payload: %w", err)
	}

	mac := hmac.New(sha256.New, c.key)
	mac.Write(raw)
	sig := mac.Sum(nil)

	blob := base64.RawURLEncoding.EncodeToString(raw) + "." + base64.RawURLEncoding.EncodeToString(sig)
	return Issued{Blob: blob, Payload: payload}, nil
}

// Verify parses and checks a token blob against the expected tool and args
// hash. Checks run in a fixed order with distinct reasons: structure and
// signature, then expiry, then tool binding, then args binding. The
// signature comparison is constant time. Verify never consumes the nonce;
// that is the commit verifier's atomic responsibility.
func (c *Codec) Verify(blob, expectedTool, expectedArgsHash string) VerifyResult {
	parts := strings.Split(blob, ".")
	if len(parts) != 2 {
		return VerifyResult{Reason: ReasonBadSignature}
	}
	// Strict decoding rejects non-canonical trailing bits, so no two
	// distinct blobs decode to the same payload and signature.
	raw, err := base64.RawURLEncoding.Strict().DecodeString(parts[0])
	if err != nil {
		return VerifyResult{Reason: ReasonBadSignature}
	}
	sig, err := base64.RawURLEncoding.Strict().DecodeString(parts[1])
	if err != nil {
		return VerifyResult{Reason: ReasonBadSignature}
	}

	mac := hmac.New(sha256.New, c.key)
	mac.Write(raw)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return VerifyResult{Reason: ReasonBadSignature}
	}

	var payload Payload
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return VerifyResult{Reason: ReasonBadSignature}
	}
	if payload.TokenID == "" || payload.Nonce == "" || payload.ProposalID == "" {
		return VerifyResult{Reason: ReasonBadSignature}
	}

	if !c.now().UTC().Before(payload.Expiry()) {
		return VerifyResult{Reason: ReasonExpired, Payload: &payload}
	}
	if payload.ToolName != expectedTool {
		return VerifyResult{Reason: ReasonToolMismatch, Payload: &payload}
	}
	if payload.ToolArgsHash != expectedArgsHash {
		return VerifyResult{Reason: ReasonArgsHashMismatch, Payload: &payload}
	}

	return VerifyResult{OK: true, Reason: ReasonOK, Payload: &payload}
}
