package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// placeholderToken is the sample value shipped in env templates; treated the
// same as a missing credential.
const placeholderToken = "your_finnhub_api_key_here"

// ErrMissingToken means no usable credential is configured. The connection
// stays Idle permanently; there is nothing to retry until an operator fixes
// the configuration.
var ErrMissingToken = errors.New("finnhub token missing or placeholder")

// State is the connection lifecycle phase. Exactly one Conn exists per
// process and it owns its State exclusively.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Transport is the minimal surface of one live websocket. Narrowed from
// *websocket.Conn so the state machine is testable without a network.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// DialFunc opens a transport. status carries the handshake HTTP status when
// the dial failed with a server response, 0 otherwise.
type DialFunc func(ctx context.Context, url string) (tr Transport, status int, err error)

// Ingestor receives each trade item pulled off the feed.
type Ingestor interface {
	IngestRaw(ctx context.Context, symbol string, price float64, tsMs int64)
}

type Config struct {
	Token          string
	WsURL          string // e.g. wss://ws.finnhub.io
	BackoffFloor   time.Duration
	BackoffCeiling time.Duration
}

// Conn is the feed connection state machine. Transitions are driven by
// discrete events (start, open, message, close, shutdown) serialized under
// mu; the read loop for each dialed transport runs in its own goroutine and
// reports back with its generation so a stale loop can never clobber the
// state of a newer connection.
type Conn struct {
	cfg     config
	aliases []string
	ingest  Ingestor
	dial    DialFunc

	mu           sync.Mutex
	state        State
	backoff      time.Duration
	gen          int
	tr           Transport
	timer        *time.Timer
	shuttingDown bool
	ctx          context.Context
}

// config is Config with defaults applied.
type config struct {
	token          string
	wsURL          string
	backoffFloor   time.Duration
	backoffCeiling time.Duration
}

func New(cfg Config, aliases []string, ingest Ingestor) *Conn {
	c := config{
		token:          strings.TrimSpace(cfg.Token),
		wsURL:          strings.TrimSpace(cfg.WsURL),
		backoffFloor:   cfg.BackoffFloor,
		backoffCeiling: cfg.BackoffCeiling,
	}
	if c.backoffFloor <= 0 {
		c.backoffFloor = time.Second
	}
	if c.backoffCeiling < c.backoffFloor {
		c.backoffCeiling = 15 * time.Second
	}
	return &Conn{
		cfg:     c,
		aliases: aliases,
		ingest:  ingest,
		dial:    gorillaDial,
		state:   StateIdle,
		backoff: c.backoffFloor,
	}
}

// Start validates the credential and begins connecting. With a missing or
// placeholder token the connection stays Idle permanently and ErrMissingToken
// is returned for the operator channel; no retry will ever fire.
func (c *Conn) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return errors.New("feed connection already started")
	}
	if c.cfg.token == "" || c.cfg.token == placeholderToken {
		log.Error().Msg("finnhub token is not set or is the sample placeholder; feed disabled until configured")
		return ErrMissingToken
	}

	c.ctx = ctx
	c.toConnecting()
	return nil
}

// Shutdown moves the connection to Terminated from any state: the pending
// reconnect timer (if any) is cancelled, the transport is closed, and the
// shutting-down flag keeps an in-flight close event from re-arming a timer.
func (c *Conn) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.shuttingDown = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.tr != nil {
		_ = c.tr.Close()
		c.tr = nil
	}
	c.state = StateTerminated
}

// State reports the current lifecycle phase.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// toConnecting starts a new dial generation. mu must be held.
func (c *Conn) toConnecting() {
	c.state = StateConnecting
	c.gen++
	go c.dialAndServe(c.gen)
}

func (c *Conn) dialAndServe(gen int) {
	url := c.cfg.wsURL + "?token=" + c.cfg.token

	log.Info().Msg("connecting to finnhub ws")
	tr, status, err := c.dial(c.ctx, url)
	if err != nil {
		c.onClose(gen, status, err)
		return
	}

	c.mu.Lock()
	if c.shuttingDown || gen != c.gen {
		c.mu.Unlock()
		_ = tr.Close()
		return
	}
	c.tr = tr
	c.state = StateOpen
	c.backoff = c.cfg.backoffFloor
	c.mu.Unlock()

	log.Info().Int("aliases", len(c.aliases)).Msg("finnhub ws connected")
	c.subscribeAll(tr)

	for {
		b, err := tr.ReadMessage()
		if err != nil {
			c.onClose(gen, 0, err)
			return
		}
		c.onMessage(tr, b)
	}
}

// onClose handles transport close and dial failure for generation gen.
// Transient errors schedule a reconnect after the current backoff delay, then
// double it (capped); fatal authentication errors terminate permanently.
func (c *Conn) onClose(gen, status int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}
	if c.tr != nil {
		_ = c.tr.Close()
		c.tr = nil
	}
	if c.shuttingDown || c.ctx.Err() != nil {
		c.state = StateTerminated
		return
	}
	if isAuthError(status, err) {
		log.Error().Err(err).Msg("finnhub authentication rejected; check the configured token (not retrying)")
		c.state = StateTerminated
		return
	}

	delay := c.backoff
	c.backoff = minDur(c.backoff*2, c.cfg.backoffCeiling)
	c.state = StateClosing

	log.Warn().Err(err).Dur("retry_in", delay).Msg("finnhub ws closed, reconnecting")
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.shuttingDown || c.state != StateClosing {
			return
		}
		c.timer = nil
		c.toConnecting()
	})
}

// onMessage classifies one inbound message. Trade items are processed
// individually so one malformed item never sinks the batch; pings trigger a
// defensive re-subscribe; anything unrecognized is logged and ignored.
func (c *Conn) onMessage(tr Transport, b []byte) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		log.Warn().Err(err).Msg("unparseable finnhub message dropped")
		return
	}

	switch env.Type {
	case "trade":
		var items []tradeItem
		if err := json.Unmarshal(env.Data, &items); err != nil {
			log.Warn().Err(err).Msg("trade payload is not an array, dropped")
			return
		}
		for _, t := range items {
			if t.Symbol == "" {
				continue
			}
			c.ingest.IngestRaw(c.ctx, t.Symbol, t.Price, t.Ts)
		}
	case "ping":
		// Guards against silent server-side subscription loss.
		c.subscribeAll(tr)
	case "error":
		log.Warn().Str("msg", env.Msg).Msg("finnhub error message")
	default:
		log.Debug().Str("type", env.Type).Msg("unrecognized finnhub message ignored")
	}
}

func (c *Conn) subscribeAll(tr Transport) {
	for _, alias := range c.aliases {
		if err := tr.WriteJSON(subscribeReq{Type: "subscribe", Symbol: alias}); err != nil {
			// The read loop will observe the broken transport and reconnect.
			log.Warn().Err(err).Str("symbol", alias).Msg("subscribe write failed")
			return
		}
	}
}

func isAuthError(status int, err error) bool {
	if status == http.StatusUnauthorized {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "401")
}

func gorillaDial(ctx context.Context, url string) (Transport, int, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(cctx, url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, status, err
	}
	return wsTransport{conn}, 0, nil
}

// wsTransport adapts *websocket.Conn to Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func (t wsTransport) ReadMessage() ([]byte, error) {
	_, b, err := t.conn.ReadMessage()
	return b, err
}

func (t wsTransport) WriteJSON(v any) error { return t.conn.WriteJSON(v) }
func (t wsTransport) Close() error          { return t.conn.Close() }

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
