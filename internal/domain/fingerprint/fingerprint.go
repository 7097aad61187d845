// Package fingerprint derives the deduplication key of a search request.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/target/mmk-export-api/internal/domain/model"
)

// Size is the length of a fingerprint in hex characters.
const Size = sha256.Size * 2

// Compute returns the fingerprint of payload submitted by owner.
//
// The payload is decoded and re-encoded so key order and whitespace do not matter, while number
// literals are kept verbatim. Two requests share a fingerprint only if both the canonical payload and
// the owner match.
func Compute(payload []byte, owner string) (string, error) {
	if err := model.ValidateOwner(owner); err != nil {
		return "", err
	}

	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte{0})
	h.Write([]byte(owner))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Canonicalize returns the normalized encoding of a query payload.
func Canonicalize(payload []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: query payload is empty", model.ErrInvalidQuery)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidQuery, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after query object", model.ErrInvalidQuery)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("%w: query payload is empty", model.ErrInvalidQuery)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidQuery, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Valid reports whether s looks like a fingerprint produced by Compute.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && (r < 'a' || r > 'f')
	}) < 0
}
