package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

const defaultTickSize = 0.01

// marketMeta is the per-asset market metadata needed to sign an order.
type marketMeta struct {
	TickSize float64
	NegRisk  bool
}

// metadataCache keeps tick size and neg-risk flags for a bounded time.
type metadataCache struct {
	c   *ristretto.Cache
	ttl time.Duration
}

func newMetadataCache(ttl time.Duration) (*metadataCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 12,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("execution.newMetadataCache: %w", err)
	}
	return &metadataCache{c: c, ttl: ttl}, nil
}

func (m *metadataCache) get(assetID string) (marketMeta, bool) {
	v, ok := m.c.Get(assetID)
	if !ok {
		return marketMeta{}, false
	}
	meta, ok := v.(marketMeta)
	return meta, ok
}

func (m *metadataCache) set(assetID string, meta marketMeta) {
	m.c.SetWithTTL(assetID, meta, 1, m.ttl)
	m.c.Wait()
}

// metadata resolves tick size and neg-risk for an asset, from cache or the
// exchange. Lookup failures fall back to defaults and are not cached.
func (e *Executor) metadata(ctx context.Context, assetID string) marketMeta {
	if meta, ok := e.cache.get(assetID); ok {
		return meta
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.MetadataTimeout)
	defer cancel()

	meta := marketMeta{TickSize: defaultTickSize}
	complete := true

	tick, err := e.exchange.TickSize(ctx, assetID)
	if err != nil || tick <= 0 {
		slog.Warn("exec: tick size lookup failed, using default",
			"asset", domain.TruncateStr(assetID, 12), "err", err, "default", defaultTickSize)
		complete = false
	} else {
		meta.TickSize = tick
	}

	negRisk, err := e.exchange.NegRisk(ctx, assetID)
	if err != nil {
		slog.Warn("exec: neg-risk lookup failed, assuming false",
			"asset", domain.TruncateStr(assetID, 12), "err", err)
		complete = false
	} else {
		meta.NegRisk = negRisk
	}

	if complete {
		e.cache.set(assetID, meta)
	}
	return meta
}
