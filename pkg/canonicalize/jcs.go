// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization for deterministic hashing of gate artifacts: intent
// contexts, scopes, and policy-set descriptors.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// HashPrefix is prepended to every hex digest produced by this package.
const HashPrefix = "sha256:"

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// v is first marshalled with encoding/json so struct tags are honoured,
// then transformed: object keys sorted by UTF-16 code units, no
// insignificant whitespace, no HTML escaping, ES6 number formatting.
func JCS(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return out, nil
}

// CanonicalHash returns "sha256:<hex>" over the canonical JSON of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes SHA-256 of raw bytes and returns the prefixed hex digest.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// NormalizeString trims surrounding whitespace and applies Unicode NFC so
// visually identical inputs hash identically regardless of how the client
// composed them.
func NormalizeString(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// NormalizeIdentifier is NormalizeString followed by ASCII-insensitive
// lower-casing. Used for enumerated identifiers such as action names and
// device types, never for addresses.
func NormalizeIdentifier(s string) string {
	return strings.ToLower(NormalizeString(s))
}
