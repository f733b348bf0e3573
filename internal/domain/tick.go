package domain

const hourMs = 3_600_000

// HourBucket floors a millisecond timestamp to the start of its clock hour.
func HourBucket(tsMs int64) int64 {
	if tsMs < 0 {
		return 0
	}
	return tsMs / hourMs * hourMs
}

// NormalizedTick is the unit broadcast to subscribers. It is constructed only
// after the hourly bucket update committed, so HourlyAvg always reflects the
// tick it accompanies.
type NormalizedTick struct {
	Pair      PairKey `json:"pair"`
	Price     float64 `json:"price"`
	Ts        int64   `json:"ts"`
	HourlyAvg float64 `json:"hourlyAvg"`
}

// HourlyBucket is one durable (pair, hour) aggregate row.
type HourlyBucket struct {
	Pair      PairKey `json:"pair"`
	HourStart int64   `json:"hourStart"`
	Avg       float64 `json:"avg"`
	Count     int64   `json:"count"`
}

// Observation records the most recent tick seen for a pair, from either the
// primary feed or the staleness monitor. Never persisted.
type Observation struct {
	LastTickAt int64 // unix ms
	LastPrice  float64
}
