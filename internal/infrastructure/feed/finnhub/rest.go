package finnhub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// snapshotWindow is how far back the candle query looks for a recent close.
const snapshotWindow = 10 * time.Minute

// SnapshotClient queries the provider's candle endpoint for recent closes.
// It backs the staleness monitor's backfill path.
type SnapshotClient struct {
	baseURL string
	token   string
	http    *http.Client
	now     func() time.Time
}

func NewSnapshotClient(baseURL, token string) *SnapshotClient {
	return &SnapshotClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 8 * time.Second},
		now:     time.Now,
	}
}

// RecentClose returns the latest one-minute close for the symbol within the
// snapshot window. The response carries parallel arrays of epoch-second
// timestamps ("t") and close prices ("c"); only the last element of each is
// used.
func (s *SnapshotClient) RecentClose(ctx context.Context, symbol string) (float64, int64, error) {
	to := s.now().Unix()
	from := to - int64(snapshotWindow.Seconds())

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("resolution", "1")
	q.Set("from", strconv.FormatInt(from, 10))
	q.Set("to", strconv.FormatInt(to, 10))
	q.Set("token", s.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/crypto/candle?"+q.Encode(), nil)
	if err != nil {
		return 0, 0, err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("candle query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("candle query: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, 0, err
	}

	parsed := gjson.ParseBytes(body)
	if st := parsed.Get("s").String(); st != "ok" {
		return 0, 0, fmt.Errorf("candle query: no data for %s (status %q)", symbol, st)
	}

	closes := parsed.Get("c").Array()
	times := parsed.Get("t").Array()
	if len(closes) == 0 || len(times) != len(closes) {
		return 0, 0, fmt.Errorf("candle query: empty or mismatched series for %s", symbol)
	}

	last := len(closes) - 1
	return closes[last].Float(), times[last].Int() * 1000, nil
}
