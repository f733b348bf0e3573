package port

import "pricepulse/internal/domain"

// Broadcaster fans a normalized tick out to all connected subscribers.
// Delivery is best effort: sink failures are isolated inside the
// implementation and never surface to the caller.
type Broadcaster interface {
	Broadcast(tick domain.NormalizedTick)
}
