package port

import (
	"context"

	"pricepulse/internal/domain"
)

// LatestCache keeps the most recent normalized tick per pair for the REST
// surface. Writes are best effort; a failing cache must not stall ingestion.
type LatestCache interface {
	SetLatest(ctx context.Context, tick domain.NormalizedTick) error
	Latest(ctx context.Context) ([]domain.NormalizedTick, error)
}
