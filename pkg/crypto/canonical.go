// Package crypto provides the gateway's signing primitives: canonical JSON
// encoding, Ed25519 identity verification for social chains, and opaque
// token generation.
//
// Canonical form is a wire contract: keys sorted ASCII-lexicographically,
// no insignificant whitespace, UTF-8, integers as plain decimals. It cannot
// change without a schema version bump.
package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Canonicalize renders v as canonical JSON. v must be built from
// map[string]any, []any, string, json.Number, bool and nil, the shape
// produced by decoding JSON with UseNumber.
func Canonicalize(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return writeCanonicalString(buf, val)
	case json.Number:
		buf.WriteString(val.String())
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case int:
		buf.WriteString(strconv.Itoa(val))
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonicalize: unsupported type %T", v)
	}
	return nil
}

// writeCanonicalString writes a JSON string without HTML escaping.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode appends a trailing newline.
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}

// DecodeJSON parses raw JSON into the canonicalizable shape, preserving
// number literals as json.Number.
func DecodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// CanonicalSocialBody renders the signed body of a social event:
// {kind, payload, prev_hash, ts_ms, user_id} in canonical form. An absent
// prev_hash is the empty string.
func CanonicalSocialBody(kind string, payload json.RawMessage, prevHash string, tsMs int64, userID string) ([]byte, error) {
	var p any
	if len(payload) > 0 {
		decoded, err := DecodeJSON(payload)
		if err != nil {
			return nil, fmt.Errorf("payload: %w", err)
		}
		p = decoded
	}
	return Canonicalize(map[string]any{
		"kind":      kind,
		"payload":   p,
		"prev_hash": prevHash,
		"ts_ms":     tsMs,
		"user_id":   userID,
	})
}

// EventHash returns the hex SHA-256 digest of a canonical body.
func EventHash(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
