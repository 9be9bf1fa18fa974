package envelope

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Canonical re-encodes a JSON document with sorted object keys and no
// insignificant whitespace. Numbers are normalized so that 1, 1.0 and 1e0
// encode the same; integer literals keep their full precision.
func Canonical(payload []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("canonicalize payload: trailing data")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalizeNumbers(v)); err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, x := range t {
			t[k] = normalizeNumbers(x)
		}
	case []any:
		for i, x := range t {
			t[i] = normalizeNumbers(x)
		}
	case json.Number:
		return canonicalNumber(t)
	}
	return v
}

// maxExactInt is the largest magnitude below which every integer is exact in
// a float64.
const maxExactInt = 1 << 53

func canonicalNumber(n json.Number) json.Number {
	text := n.String()
	if !strings.ContainsAny(text, ".eE") {
		if text == "-0" {
			return "0"
		}
		return n
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return n
	}
	if f == math.Trunc(f) && math.Abs(f) < maxExactInt {
		return json.Number(strconv.FormatInt(int64(f), 10))
	}
	return json.Number(strconv.FormatFloat(f, 'g', -1, 64))
}

// ETag returns the content token for a payload: the first 16 bytes of the
// SHA-256 of its canonical form, hex encoded. Deep-equal payloads yield the
// same token regardless of key order or whitespace.
func ETag(payload []byte) (string, error) {
	c, err := Canonical(payload)
	if err != nil {
		return "", err
	}
	return etagOf(c), nil
}

func etagOf(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:16])
}

// Quote formats a token for the HTTP ETag header.
func Quote(tag string) string {
	return `"` + tag + `"`
}

// MatchToken reports whether a conditional token matches etag. The token may
// be a bare value (the ifNoneMatch query parameter) or an If-None-Match header
// value: "*", quoted, weak, or a comma separated list.
func MatchToken(token, etag string) bool {
	token = strings.TrimSpace(token)
	if token == "" || etag == "" {
		return false
	}
	if token == "*" {
		return true
	}
	for _, candidate := range strings.Split(token, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		candidate = strings.Trim(candidate, `"`)
		if candidate == etag {
			return true
		}
	}
	return false
}
