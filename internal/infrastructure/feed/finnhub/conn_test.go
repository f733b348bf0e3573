package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordedTick struct {
	symbol string
	price  float64
	ts     int64
}

type mockIngestor struct {
	mu    sync.Mutex
	ticks []recordedTick
}

func (m *mockIngestor) IngestRaw(ctx context.Context, symbol string, price float64, tsMs int64) {
	m.mu.Lock()
	m.ticks = append(m.ticks, recordedTick{symbol, price, tsMs})
	m.mu.Unlock()
}

func (m *mockIngestor) snapshot() []recordedTick {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedTick(nil), m.ticks...)
}

// fakeTransport serves scripted messages then blocks until closed.
type fakeTransport struct {
	mu       sync.Mutex
	messages [][]byte
	writes   []any
	closed   chan struct{}
	once     sync.Once
}

func newFakeTransport(messages ...[]byte) *fakeTransport {
	return &fakeTransport{messages: messages, closed: make(chan struct{})}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	t.mu.Lock()
	if len(t.messages) > 0 {
		b := t.messages[0]
		t.messages = t.messages[1:]
		t.mu.Unlock()
		return b, nil
	}
	t.mu.Unlock()
	<-t.closed
	return nil, io.EOF
}

func (t *fakeTransport) WriteJSON(v any) error {
	t.mu.Lock()
	t.writes = append(t.writes, v)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) subscribed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, w := range t.writes {
		if req, ok := w.(subscribeReq); ok && req.Type == "subscribe" {
			out = append(out, req.Symbol)
		}
	}
	return out
}

var testAliases = []string{"BINANCE:ETHUSDC", "BINANCE:ETHUSDT", "BINANCE:ETHBTC"}

func testConfig() Config {
	return Config{
		Token:          "test-token",
		WsURL:          "wss://example.test",
		BackoffFloor:   time.Second,
		BackoffCeiling: 15 * time.Second,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStartWithoutTokenStaysIdle(t *testing.T) {
	for _, token := range []string{"", "   ", placeholderToken} {
		dialed := false
		c := New(Config{Token: token, WsURL: "wss://example.test"}, testAliases, &mockIngestor{})
		c.dial = func(ctx context.Context, url string) (Transport, int, error) {
			dialed = true
			return nil, 0, errors.New("should not dial")
		}

		err := c.Start(context.Background())
		if !errors.Is(err, ErrMissingToken) {
			t.Fatalf("token %q: expected ErrMissingToken, got %v", token, err)
		}
		if dialed {
			t.Errorf("token %q: connection attempt was made", token)
		}
		if got := c.State(); got != StateIdle {
			t.Errorf("token %q: state = %v, want idle", token, got)
		}
	}
}

func TestOpenSubscribesAllAliasesAndResetsBackoff(t *testing.T) {
	tr := newFakeTransport()
	defer tr.Close()

	c := New(testConfig(), testAliases, &mockIngestor{})
	c.backoff = 8 * time.Second // pretend earlier failures inflated it
	c.dial = func(ctx context.Context, url string) (Transport, int, error) {
		return tr, 0, nil
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return c.State() == StateOpen })

	waitFor(t, func() bool { return len(tr.subscribed()) == len(testAliases) })
	subs := tr.subscribed()
	for i, alias := range testAliases {
		if subs[i] != alias {
			t.Errorf("subscribe %d = %q, want %q", i, subs[i], alias)
		}
	}

	c.mu.Lock()
	backoff := c.backoff
	c.mu.Unlock()
	if backoff != time.Second {
		t.Errorf("backoff after open = %v, want reset to floor", backoff)
	}

	c.Shutdown()
}

func TestUnplannedCloseDoublesBackoffUpToCeiling(t *testing.T) {
	c := New(testConfig(), testAliases, &mockIngestor{})
	c.ctx = context.Background()

	// Simulate: open succeeded, then a sequence of unplanned closes with no
	// successful open in between. Each close waits the pre-increment delay
	// and doubles the stored backoff, capped at the ceiling.
	wantBackoffs := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		15 * time.Second,
		15 * time.Second,
	}

	c.mu.Lock()
	c.state = StateOpen
	c.gen = 1
	c.mu.Unlock()

	for i, want := range wantBackoffs {
		c.mu.Lock()
		gen := c.gen
		c.mu.Unlock()

		c.onClose(gen, 0, errors.New("connection reset"))

		c.mu.Lock()
		if c.state != StateClosing {
			t.Fatalf("close %d: state = %v, want closing", i, c.state)
		}
		if c.timer == nil {
			t.Fatalf("close %d: no reconnect timer scheduled", i)
		}
		c.timer.Stop() // keep the test synchronous
		if c.backoff != want {
			t.Errorf("close %d: backoff = %v, want %v", i, c.backoff, want)
		}
		// pretend the timer fired and the next dial also ended in a close
		c.gen++
		c.state = StateOpen
		c.mu.Unlock()
	}
}

func TestStaleGenerationCloseIgnored(t *testing.T) {
	c := New(testConfig(), testAliases, &mockIngestor{})
	c.ctx = context.Background()

	c.mu.Lock()
	c.state = StateOpen
	c.gen = 2
	c.mu.Unlock()

	c.onClose(1, 0, errors.New("late close from replaced transport"))

	if got := c.State(); got != StateOpen {
		t.Errorf("state = %v, want open (stale event ignored)", got)
	}
}

func TestAuthRejectionIsTerminal(t *testing.T) {
	var dials atomic.Int32
	c := New(Config{
		Token:          "bad-token",
		WsURL:          "wss://example.test",
		BackoffFloor:   time.Millisecond,
		BackoffCeiling: 5 * time.Millisecond,
	}, testAliases, &mockIngestor{})
	c.dial = func(ctx context.Context, url string) (Transport, int, error) {
		dials.Add(1)
		return nil, http.StatusUnauthorized, errors.New("websocket: bad handshake")
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return c.State() == StateTerminated })

	// wait well past several backoff periods: no reconnect may fire
	time.Sleep(50 * time.Millisecond)
	if got := dials.Load(); got != 1 {
		t.Errorf("dials = %d, want exactly 1 (fatal errors are not retried)", got)
	}
}

func TestShutdownDuringPendingReconnect(t *testing.T) {
	dials := 0
	var mu sync.Mutex
	c := New(Config{
		Token:          "test-token",
		WsURL:          "wss://example.test",
		BackoffFloor:   20 * time.Millisecond,
		BackoffCeiling: 100 * time.Millisecond,
	}, testAliases, &mockIngestor{})
	c.dial = func(ctx context.Context, url string) (Transport, int, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return nil, 0, errors.New("connection refused")
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return c.State() == StateClosing })

	c.Shutdown()
	if got := c.State(); got != StateTerminated {
		t.Fatalf("state after shutdown = %v, want terminated", got)
	}

	// let any dial already in flight at shutdown time land first
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	before := dials
	mu.Unlock()
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	after := dials
	mu.Unlock()
	if after != before {
		t.Error("reconnect timer fired after shutdown")
	}
}

func TestTradeMessageIngested(t *testing.T) {
	trade := []byte(`{"type":"trade","data":[
		{"s":"BINANCE:ETHUSDC","p":1000.5,"t":1757600123456,"v":0.2},
		{"s":"","p":1,"t":1},
		{"s":"BINANCE:ETHUSDT","p":1001.5,"t":1757600123999,"v":0.1}
	]}`)

	ing := &mockIngestor{}
	c := New(testConfig(), testAliases, ing)
	c.ctx = context.Background()

	tr := newFakeTransport()
	c.onMessage(tr, trade)

	ticks := ing.snapshot()
	if len(ticks) != 2 {
		t.Fatalf("expected 2 ingested items (empty symbol skipped), got %d", len(ticks))
	}
	if ticks[0] != (recordedTick{"BINANCE:ETHUSDC", 1000.5, 1757600123456}) {
		t.Errorf("unexpected first tick: %+v", ticks[0])
	}
	if ticks[1] != (recordedTick{"BINANCE:ETHUSDT", 1001.5, 1757600123999}) {
		t.Errorf("unexpected second tick: %+v", ticks[1])
	}
}

func TestPingTriggersResubscribe(t *testing.T) {
	ing := &mockIngestor{}
	c := New(testConfig(), testAliases, ing)
	c.ctx = context.Background()

	tr := newFakeTransport()
	c.onMessage(tr, []byte(`{"type":"ping"}`))

	if got := tr.subscribed(); len(got) != len(testAliases) {
		t.Errorf("expected re-subscribe to all %d aliases, got %v", len(testAliases), got)
	}
}

func TestMalformedMessagesIgnored(t *testing.T) {
	ing := &mockIngestor{}
	c := New(testConfig(), testAliases, ing)
	c.ctx = context.Background()
	tr := newFakeTransport()

	for _, b := range [][]byte{
		[]byte(`not json at all`),
		[]byte(`{"type":"trade","data":{"s":"X"}}`), // non-array payload
		[]byte(`{"type":"weird"}`),
		[]byte(`{}`),
	} {
		c.onMessage(tr, b)
	}

	if ticks := ing.snapshot(); len(ticks) != 0 {
		t.Errorf("malformed messages produced ticks: %+v", ticks)
	}
}

func TestSubscribeRequestWireFormat(t *testing.T) {
	b, err := json.Marshal(subscribeReq{Type: "subscribe", Symbol: "BINANCE:ETHUSDT"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"subscribe","symbol":"BINANCE:ETHUSDT"}`
	if string(b) != want {
		t.Errorf("subscribe wire format = %s, want %s", b, want)
	}
}
