package port

import "context"

// SnapshotSource answers point-in-time price queries against the provider's
// REST surface, used by the staleness monitor to backfill quiet pairs.
type SnapshotSource interface {
	// RecentClose returns the most recent close price and its timestamp for
	// the given provider symbol, looking back over a short recent window.
	RecentClose(ctx context.Context, symbol string) (price float64, tsMs int64, err error)
}
