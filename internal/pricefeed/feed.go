// Package pricefeed maintains a streaming quote cache over a websocket
// price stream. The live engine prefers a fresh cached quote over a REST
// pricing round-trip and falls back to REST when the cache is stale.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultMaxAge is how long a cached quote counts as fresh.
const DefaultMaxAge = 15 * time.Second

// Config configures stream behavior.
type Config struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns default stream configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Quote is one cached price update. ReceivedAt is the local receipt time
// and drives staleness checks; Time is the provider's timestamp.
type Quote struct {
	Instrument string
	Bid        float64
	Ask        float64
	Time       time.Time
	ReceivedAt time.Time
}

// Mid returns the bid/ask midpoint.
func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// Feed is a websocket price stream client with a locked quote cache. It
// reconnects with exponential backoff and resubscribes after reconnect.
type Feed struct {
	endpoint    string
	instruments []string
	config      Config
	logger      *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	quotes   map[string]Quote
	quotesMu sync.RWMutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// New connects to the stream endpoint, subscribes to the instruments, and
// starts the read and ping loops.
func New(ctx context.Context, endpoint string, instruments []string, config *Config) (*Feed, error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	f := &Feed{
		endpoint:    endpoint,
		instruments: instruments,
		config:      cfg,
		logger:      logger,
		quotes:      make(map[string]Quote),
		done:        make(chan struct{}),
	}

	if err := f.connect(ctx); err != nil {
		return nil, err
	}

	f.wg.Add(1)
	go f.readLoop()

	f.wg.Add(1)
	go f.pingLoop()

	return f, nil
}

// connect establishes the websocket connection and sends the subscribe
// request.
func (f *Feed) connect(ctx context.Context) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	if err := conn.WriteJSON(subscribeRequest{Type: "SUBSCRIBE", Instruments: f.instruments}); err != nil {
		conn.Close()
		return fmt.Errorf("write subscribe: %w", err)
	}

	f.conn = conn
	return nil
}

// Latest returns the most recent cached quote for an instrument.
func (f *Feed) Latest(instrument string) (Quote, bool) {
	f.quotesMu.RLock()
	defer f.quotesMu.RUnlock()

	q, ok := f.quotes[instrument]
	return q, ok
}

// Fresh returns the cached quote only if it was received within maxAge.
func (f *Feed) Fresh(instrument string, maxAge time.Duration) (Quote, bool) {
	q, ok := f.Latest(instrument)
	if !ok || time.Since(q.ReceivedAt) > maxAge {
		return Quote{}, false
	}
	return q, true
}

// Close closes the stream connection and waits for the loops to exit.
func (f *Feed) Close() error {
	if f.closed.Swap(true) {
		return nil
	}

	close(f.done)

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		f.conn.Close()
	}
	f.connMu.Unlock()

	f.wg.Wait()
	return nil
}

// readLoop reads stream messages and updates the cache. On read errors it
// triggers a reconnect with exponential backoff.
func (f *Feed) readLoop() {
	defer f.wg.Done()

	reconnectDelay := f.config.ReconnectDelay

	for !f.closed.Load() {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		if conn == nil {
			select {
			case <-f.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.closed.Load() {
				return
			}

			if !f.reconnecting.Swap(true) {
				go f.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > f.config.MaxReconnectDelay {
				reconnectDelay = f.config.MaxReconnectDelay
			}

			select {
			case <-f.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = f.config.ReconnectDelay

		f.handleMessage(message)
	}
}

// reconnect redials and resubscribes after a dropped connection.
func (f *Feed) reconnect(delay time.Duration) {
	defer f.reconnecting.Store(false)

	if f.closed.Load() {
		return
	}

	select {
	case <-f.done:
		return
	case <-time.After(delay):
	}

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := f.connect(ctx); err != nil {
		f.logger.Warn("price stream reconnect failed", "error", err)
		return
	}

	f.logger.Info("price stream reconnected", "endpoint", f.endpoint)
}

// handleMessage parses one stream message and updates the quote cache.
// Heartbeats and unknown message types are ignored.
func (f *Feed) handleMessage(message []byte) {
	var msg streamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		f.logger.Debug("price stream: dropping malformed message", "error", err)
		return
	}

	if msg.Type != "PRICE" || len(msg.Bids) == 0 || len(msg.Asks) == 0 {
		return
	}

	bid, err := strconv.ParseFloat(msg.Bids[0].Price, 64)
	if err != nil {
		f.logger.Debug("price stream: dropping quote with bad bid", "bid", msg.Bids[0].Price)
		return
	}
	ask, err := strconv.ParseFloat(msg.Asks[0].Price, 64)
	if err != nil {
		f.logger.Debug("price stream: dropping quote with bad ask", "ask", msg.Asks[0].Price)
		return
	}

	ts, err := time.Parse(time.RFC3339, msg.Time)
	if err != nil {
		ts = time.Now()
	}

	f.quotesMu.Lock()
	f.quotes[msg.Instrument] = Quote{
		Instrument: msg.Instrument,
		Bid:        bid,
		Ask:        ask,
		Time:       ts.UTC(),
		ReceivedAt: time.Now(),
	}
	f.quotesMu.Unlock()
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (f *Feed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != nil {
				f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
				if err := f.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			f.connMu.Unlock()
		}
	}
}

// Stream message types

type subscribeRequest struct {
	Type        string   `json:"type"`
	Instruments []string `json:"instruments"`
}

type streamMessage struct {
	Type       string        `json:"type"`
	Instrument string        `json:"instrument"`
	Time       string        `json:"time"`
	Bids       []priceBucket `json:"bids"`
	Asks       []priceBucket `json:"asks"`
}

type priceBucket struct {
	Price string `json:"price"`
}
