package service

import (
	"context"
	"time"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain"

	"github.com/rs/zerolog/log"
)

// parityRule synthesizes a tick for Target from Source's last price when
// Target has gone quiet but Source is still live. This encodes the narrow
// economic assumption that ETH/USDC trades at parity with ETH/USDT; it is a
// named policy, not a general mechanism.
type parityRule struct {
	Target domain.PairKey
	Source domain.PairKey
}

var usdcParity = parityRule{Target: domain.PairETHUSDC, Source: domain.PairETHUSDT}

// Monitor keeps every pair visibly live: on a fixed period it checks each
// pair's last observation and, when stale, backfills from the provider's
// candle endpoint or, failing that, from the parity rule. Backfilled ticks go
// through the same upsert+broadcast path as feed ticks.
type Monitor struct {
	pipeline  *Pipeline
	snapshots port.SnapshotSource
	registry  *domain.Registry
	period    time.Duration
	threshold time.Duration
	now       func() time.Time
}

func NewMonitor(pipeline *Pipeline, snapshots port.SnapshotSource, registry *domain.Registry, period, threshold time.Duration) *Monitor {
	return &Monitor{
		pipeline:  pipeline,
		snapshots: snapshots,
		registry:  registry,
		period:    period,
		threshold: threshold,
		now:       time.Now,
	}
}

// Run sweeps until ctx is cancelled. The monitor's timer is independent of
// the feed connection's reconnect timers.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep checks every tracked pair once. Failures are isolated per pair per
// cycle; the sweep itself never fails.
func (m *Monitor) sweep(ctx context.Context) {
	nowMs := m.now().UnixMilli()
	for _, pair := range domain.Pairs {
		if m.fresh(pair, nowMs, m.threshold) {
			continue
		}
		if m.backfill(ctx, pair) {
			continue
		}
		m.synthesize(ctx, pair, nowMs)
	}
}

func (m *Monitor) fresh(pair domain.PairKey, nowMs int64, within time.Duration) bool {
	obs, ok := m.pipeline.Observation(pair)
	return ok && nowMs-obs.LastTickAt < within.Milliseconds()
}

// backfill pulls the most recent close from the snapshot source and injects
// it. Returns false when no usable data point was obtained.
func (m *Monitor) backfill(ctx context.Context, pair domain.PairKey) bool {
	symbol, ok := m.registry.PrimaryAlias(pair)
	if !ok {
		return false
	}

	price, tsMs, err := m.snapshots.RecentClose(ctx, symbol)
	if err != nil {
		log.Warn().Err(err).Str("pair", string(pair)).Msg("snapshot backfill failed")
		return false
	}
	if !validTick(price, tsMs) {
		log.Debug().Str("pair", string(pair)).Float64("price", price).Msg("snapshot yielded no usable point")
		return false
	}

	log.Info().Str("pair", string(pair)).Float64("price", price).Msg("stale pair backfilled from snapshot")
	m.pipeline.Ingest(ctx, pair, price, tsMs)
	return true
}

// synthesize applies the parity rule when the direct snapshot path came up
// empty: the target pair inherits the source pair's last price at the current
// time, provided the source was observed within twice the staleness window.
func (m *Monitor) synthesize(ctx context.Context, pair domain.PairKey, nowMs int64) {
	if pair != usdcParity.Target {
		return
	}
	obs, ok := m.pipeline.Observation(usdcParity.Source)
	if !ok || obs.LastPrice <= 0 {
		return
	}
	if nowMs-obs.LastTickAt >= 2*m.threshold.Milliseconds() {
		return
	}

	log.Info().
		Str("pair", string(usdcParity.Target)).
		Str("source", string(usdcParity.Source)).
		Float64("price", obs.LastPrice).
		Msg("stale pair synthesized from parity pair")
	m.pipeline.Ingest(ctx, usdcParity.Target, obs.LastPrice, nowMs)
}
