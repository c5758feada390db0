// Package addressing computes the gateway's content-addressed IDs.
//
// Every Ensemble-LLM, Ensemble, prompt, tool set, and vector-response body
// is identified by the same recipe: XXH3-128 (seed 0) over the canonical
// JSON encoding of a normalized value, base62-encoded and zero-padded to
// 22 characters. See internal/normalize for the normalization laws that
// must run before Compute is called.
package addressing

import (
	"encoding/binary"
	"encoding/json"
	"strings"

	"github.com/jxskiss/base62"
	"github.com/zeebo/xxh3"
)

// IDLength is the fixed width of every content-addressed ID this gateway
// mints.
const IDLength = 22

// Compute hashes canonical bytes into a 22-character base62 ID.
func Compute(canonical []byte) string {
	h := xxh3.Hash128(canonical)
	var buf [16]byte
	// spec §6: "little-endian bytes" — Lo occupies the low (first) 8 bytes,
	// Hi the high 8 bytes, each word itself little-endian.
	binary.LittleEndian.PutUint64(buf[:8], h.Lo)
	binary.LittleEndian.PutUint64(buf[8:], h.Hi)
	encoded := base62.EncodeToString(buf[:])
	if len(encoded) < IDLength {
		encoded = strings.Repeat("0", IDLength-len(encoded)) + encoded
	}
	return encoded
}

// ComputeJSON canonicalizes v via encoding/json (which already emits struct
// fields in declaration order, matching the IndexMap insertion-order
// semantics normalize.go relies on) and hashes the result.
func ComputeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return Compute(b), nil
}

// Valid reports whether s has the shape of a content-addressed ID. It does
// not verify that s was actually produced by Compute — only its length,
// since that is the cheap check RetryController needs before treating a
// caller-supplied string as a model ID (spec §4.6).
func Valid(s string) bool {
	return len(s) == IDLength
}
