// Package confighash produces the deterministic 16-hex-char fingerprints
// used to deduplicate backtests and label executions.
package confighash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// HexLen is the length of every identifier produced by this package.
const HexLen = 16

// Hash canonicalizes the given configuration sections and returns the
// lowercase hex prefix of their SHA-256 digest. Absent optional sections must
// be omitted from the map, never set to nil, so that a config with no filter
// section hashes differently from one with an empty filter list.
func Hash(sections map[string]any) (string, error) {
	canonical, err := canonicalize(sections)
	if err != nil {
		return "", fmt.Errorf("canonicalize config: %w", err)
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:HexLen], nil
}

// canonicalize reduces an arbitrary value to maps, slices, and scalars via a
// JSON round-trip. encoding/json sorts map keys at every level, which gives a
// stable byte encoding regardless of struct field order or map iteration, and
// float64 values re-encode with full round-trip precision.
func canonicalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExecutionID derives the deterministic journal execution id. It is a pure
// function of its inputs: identical arguments always produce the same id.
func ExecutionID(ticker, strategy, tradeID string, ts time.Time, side, action string, shares, price float64) string {
	payload := ticker + "|" + strategy + "|" + tradeID + "|" +
		strconv.FormatInt(ts.UTC().UnixMilli(), 10) + "|" + side + "|" + action + "|" +
		strconv.FormatFloat(shares, 'g', -1, 64) + "|" +
		strconv.FormatFloat(price, 'g', -1, 64)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:HexLen]
}
