package port

import (
	"context"

	"pricepulse/internal/domain"
)

// AggregateStore is the durable hourly accumulator. Upsert must be a single
// atomic insert-or-increment at the storage layer, never read-then-write in
// application code.
type AggregateStore interface {
	// Upsert folds one observation into the (pair, hour) bucket and returns
	// the post-update sum and count.
	Upsert(ctx context.Context, pair domain.PairKey, tsMs int64, price float64) (sum float64, count int64, err error)

	// History returns committed buckets for the pair with
	// hourStart >= fromHourStart, ascending by hour.
	History(ctx context.Context, pair domain.PairKey, fromHourStart int64) ([]domain.HourlyBucket, error)

	// Ping reports store reachability for the health surface.
	Ping(ctx context.Context) error

	Close() error
}
