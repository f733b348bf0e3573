package service

import (
	"context"
	"math"
	"sync"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain"

	"github.com/rs/zerolog/log"
)

// Pipeline glues the feed to the store and the broadcaster: resolve the raw
// symbol, fold the price into the hourly bucket, then fan the normalized tick
// out. It also owns the per-pair last-observation records consulted by the
// staleness monitor.
type Pipeline struct {
	registry *domain.Registry
	store    port.AggregateStore
	hub      port.Broadcaster
	cache    port.LatestCache // optional

	mu   sync.Mutex
	last map[domain.PairKey]domain.Observation
}

func NewPipeline(registry *domain.Registry, store port.AggregateStore, hub port.Broadcaster, cache port.LatestCache) *Pipeline {
	return &Pipeline{
		registry: registry,
		store:    store,
		hub:      hub,
		cache:    cache,
		last:     make(map[domain.PairKey]domain.Observation),
	}
}

// IngestRaw handles one trade item as received from the feed. Unresolvable
// symbols and non-finite prices are dropped silently; a store failure drops
// the tick from both aggregation and broadcast but never propagates.
func (p *Pipeline) IngestRaw(ctx context.Context, symbol string, price float64, tsMs int64) {
	pair, ok := p.registry.Resolve(symbol)
	if !ok {
		log.Debug().Str("symbol", symbol).Msg("unmapped symbol dropped")
		return
	}
	p.Ingest(ctx, pair, price, tsMs)
}

// Ingest runs the upsert+broadcast step for an already-resolved pair. Both
// the primary feed and the staleness monitor route through here so synthetic
// ticks count toward hourly averages and refresh the observation record.
func (p *Pipeline) Ingest(ctx context.Context, pair domain.PairKey, price float64, tsMs int64) {
	if !validTick(price, tsMs) {
		log.Debug().Str("pair", string(pair)).Float64("price", price).Int64("ts", tsMs).Msg("malformed tick dropped")
		return
	}

	sum, count, err := p.store.Upsert(ctx, pair, tsMs, price)
	if err != nil {
		log.Warn().Err(err).Str("pair", string(pair)).Msg("store upsert failed, tick dropped")
		return
	}
	if count < 1 {
		count = 1
	}

	tick := domain.NormalizedTick{
		Pair:      pair,
		Price:     price,
		Ts:        tsMs,
		HourlyAvg: sum / float64(count),
	}

	p.hub.Broadcast(tick)
	p.setObservation(pair, price, tsMs)

	if p.cache != nil {
		if err := p.cache.SetLatest(ctx, tick); err != nil {
			log.Debug().Err(err).Str("pair", string(pair)).Msg("latest cache write failed")
		}
	}
}

// Observation returns the most recent tick record for the pair, if any.
func (p *Pipeline) Observation(pair domain.PairKey) (domain.Observation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	obs, ok := p.last[pair]
	return obs, ok
}

func (p *Pipeline) setObservation(pair domain.PairKey, price float64, tsMs int64) {
	p.mu.Lock()
	p.last[pair] = domain.Observation{LastTickAt: tsMs, LastPrice: price}
	p.mu.Unlock()
}

func validTick(price float64, tsMs int64) bool {
	return tsMs > 0 && price > 0 && !math.IsInf(price, 0) && !math.IsNaN(price)
}
