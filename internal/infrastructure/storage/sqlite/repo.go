package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain"
)

// Repo is the sqlite-backed hourly aggregate store, for single-box
// deployments that don't want to run postgres.
type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS hourly_averages (
  pair TEXT NOT NULL,
  hour_start INTEGER NOT NULL,
  sum REAL NOT NULL DEFAULT 0,
  count INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (pair, hour_start)
);
`)
	return err
}

func (r *Repo) Upsert(ctx context.Context, pair domain.PairKey, tsMs int64, price float64) (float64, int64, error) {
	hour := domain.HourBucket(tsMs)

	var sum float64
	var count int64
	err := r.db.QueryRowContext(ctx, `
INSERT INTO hourly_averages (pair, hour_start, sum, count)
VALUES (?, ?, ?, 1)
ON CONFLICT (pair, hour_start)
DO UPDATE SET sum = sum + excluded.sum,
              count = count + 1
RETURNING sum, count`, string(pair), hour, price).Scan(&sum, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("upsert hourly bucket: %w", err)
	}
	return sum, count, nil
}

func (r *Repo) History(ctx context.Context, pair domain.PairKey, fromHourStart int64) ([]domain.HourlyBucket, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT hour_start, sum, count
FROM hourly_averages
WHERE pair = ? AND hour_start >= ?
ORDER BY hour_start ASC`, string(pair), fromHourStart)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []domain.HourlyBucket
	for rows.Next() {
		var hourStart, count int64
		var sum float64
		if err := rows.Scan(&hourStart, &sum, &count); err != nil {
			return nil, err
		}
		denom := count
		if denom < 1 {
			denom = 1
		}
		out = append(out, domain.HourlyBucket{
			Pair:      pair,
			HourStart: hourStart,
			Avg:       sum / float64(denom),
			Count:     count,
		})
	}
	return out, rows.Err()
}

func (r *Repo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

var _ port.AggregateStore = (*Repo)(nil)
