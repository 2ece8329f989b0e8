// Package cache implements the usage-bounded, TTL'd OHLCV frame cache keyed
// by (configuration hash, ticker). The cache is advisory: every failure is
// logged and reported as a miss or refused store, never an error to callers.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfall/backcast/internal/market"
)

const (
	keyPrefix  = "ohlcv_cache:"
	sizePrefix = "ohlcv_cache:size:"
	usageKey   = "ohlcv_cache:usage:total_bytes"

	// DefaultTTL is applied when no TTL is configured.
	DefaultTTL = time.Hour
	// DefaultMaxBytes is the default hard byte budget.
	DefaultMaxBytes = 1 << 30
)

// OhlcvCache stores compressed frames with a hard byte budget. Admission is
// refused once the budget is hit; entries are only evicted per hash, so a
// whole backtest invalidates atomically.
type OhlcvCache struct {
	kv       KV
	ttl      time.Duration
	maxBytes int64
}

// NewOhlcvCache builds a cache over the given KV. Zero ttl or maxBytes select
// the defaults.
func NewOhlcvCache(kv KV, ttl time.Duration, maxBytes int64) *OhlcvCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &OhlcvCache{kv: kv, ttl: ttl, maxBytes: maxBytes}
}

func frameKey(hashID, ticker string) string { return keyPrefix + hashID + ":" + ticker }
func sizeKey(hashID, ticker string) string  { return sizePrefix + hashID + ":" + ticker }

// Store serializes and admits a frame. Returns false when the store was
// refused or failed; the caller proceeds without caching either way.
func (c *OhlcvCache) Store(ctx context.Context, hashID, ticker string, frame *market.Frame) bool {
	data, err := EncodeFrame(frame)
	if err != nil {
		log.Warn().Err(err).Str("ticker", ticker).Msg("OHLCV cache: encode failed")
		return false
	}
	size := int64(len(data))

	usage := c.Usage(ctx)
	if usage+size > c.maxBytes {
		log.Warn().
			Str("hash_id", hashID).
			Str("ticker", ticker).
			Int64("usage_bytes", usage).
			Int64("entry_bytes", size).
			Int64("max_bytes", c.maxBytes).
			Msg("OHLCV cache: store refused, byte budget exceeded")
		return false
	}

	if err := c.kv.Set(ctx, frameKey(hashID, ticker), data, c.ttl); err != nil {
		log.Warn().Err(err).Str("ticker", ticker).Msg("OHLCV cache: store failed")
		return false
	}
	if err := c.kv.Set(ctx, sizeKey(hashID, ticker), []byte(strconv.FormatInt(size, 10)), c.ttl); err != nil {
		log.Warn().Err(err).Str("ticker", ticker).Msg("OHLCV cache: size sidecar write failed")
	}
	if _, err := c.kv.IncrBy(ctx, usageKey, size); err != nil {
		log.Warn().Err(err).Msg("OHLCV cache: usage increment failed")
	}
	if err := c.kv.Expire(ctx, usageKey, c.ttl); err != nil {
		log.Warn().Err(err).Msg("OHLCV cache: usage TTL refresh failed")
	}
	return true
}

// Load returns the cached frame for (hashID, ticker), or nil on a miss or any
// failure.
func (c *OhlcvCache) Load(ctx context.Context, hashID, ticker string) *market.Frame {
	data, found, err := c.kv.Get(ctx, frameKey(hashID, ticker))
	if err != nil {
		log.Warn().Err(err).Str("ticker", ticker).Msg("OHLCV cache: load failed")
		return nil
	}
	if !found {
		return nil
	}
	frame, err := DecodeFrame(data)
	if err != nil {
		log.Warn().Err(err).Str("ticker", ticker).Msg("OHLCV cache: decode failed")
		return nil
	}
	return frame
}

// ClearForHash removes every entry stored under hashID and subtracts the
// exact freed bytes from the usage counter.
func (c *OhlcvCache) ClearForHash(ctx context.Context, hashID string) {
	sizeKeys, err := c.kv.Keys(ctx, sizePrefix+hashID+":*")
	if err != nil {
		log.Warn().Err(err).Str("hash_id", hashID).Msg("OHLCV cache: clear key scan failed")
		return
	}
	var freed int64
	doomed := make([]string, 0, len(sizeKeys)*2)
	for _, sk := range sizeKeys {
		if data, found, err := c.kv.Get(ctx, sk); err == nil && found {
			if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
				freed += n
			}
		}
		ticker := sk[len(sizePrefix+hashID+":"):]
		doomed = append(doomed, sk, frameKey(hashID, ticker))
	}
	if len(doomed) > 0 {
		if err := c.kv.Del(ctx, doomed...); err != nil {
			log.Warn().Err(err).Str("hash_id", hashID).Msg("OHLCV cache: clear delete failed")
			return
		}
	}
	if freed > 0 {
		if remaining, err := c.kv.IncrBy(ctx, usageKey, -freed); err == nil && remaining < 0 {
			// Drift from TTL expiry can over-count freed bytes; pin at zero.
			_, _ = c.kv.IncrBy(ctx, usageKey, -remaining)
		}
	}
	log.Debug().
		Str("hash_id", hashID).
		Int("entries", len(sizeKeys)).
		Int64("freed_bytes", freed).
		Msg("OHLCV cache: cleared hash")
}

// Usage returns the tracked total byte usage.
func (c *OhlcvCache) Usage(ctx context.Context) int64 {
	data, found, err := c.kv.Get(ctx, usageKey)
	if err != nil || !found {
		return 0
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
