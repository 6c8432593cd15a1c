// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// compliant serialization and SHA-256 hashing for tool arguments and
// prompts. Hashes produced here bind proposals, tokens and commit
// verification together, so they must be identical across processes and
// platforms and invariant to map key ordering.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// Canonical returns the RFC 8785 canonical JSON representation of v.
//
// v is first marshaled with encoding/json (so struct tags are respected),
// then transformed by JCS: keys sorted lexicographically by UTF-8 bytes,
// no insignificant whitespace, no HTML escaping.
func Canonical(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal failed: %w", err)
	}
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs transform failed: %w", err)
	}
	return out, nil
}

// CanonicalString returns the canonical form as a string.
func CanonicalString(v any) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// HashBytes computes the SHA-256 digest of raw bytes, hex encoded.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ArgsHash computes the canonical hash for tool arguments. The result is
// invariant to key ordering in args, recursively.
func ArgsHash(args map[string]any) (string, error) {
	b, err := Canonical(args)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// PromptHash is the SHA-256 hex digest of the exact prompt text.
func PromptHash(prompt string) string {
	return HashBytes([]byte(prompt))
}

var (
	uuidRe = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	// ISO-8601 date or datetime, with optional fractional seconds and zone.
	timestampRe = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}(?:[Tt ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:[Zz]|[+-]\d{2}:?\d{2})?)?\b`)
	numberRe    = regexp.MustCompile(`[-+]?\d*\.?\d+`)
	wsRe        = regexp.MustCompile(`\s+`)
)

// NormalizePrompt rewrites a prompt into its drift-comparison form:
// UUIDs, ISO-8601 timestamps and numeric literals are replaced with
// placeholders, whitespace runs collapse to single spaces, and the text is
// NFKC-folded and lowercased. Substitution order matters: timestamps and
// UUIDs contain digits and must be replaced before bare numbers.
func NormalizePrompt(prompt string) string {
	s := norm.NFKC.String(prompt)
	s = uuidRe.ReplaceAllString(s, "<uuid>")
	s = timestampRe.ReplaceAllString(s, "<timestamp>")
	s = numberRe.ReplaceAllString(s, "<number>")
	s = wsRe.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizedPromptHash hashes the normalized form of the prompt. Two
// prompts differing only in identifiers, timestamps, numbers, case or
// whitespace hash identically.
func NormalizedPromptHash(prompt string) string {
	return HashBytes([]byte(NormalizePrompt(prompt)))
}
