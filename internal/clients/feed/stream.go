// Package feed streams real-time quotes over a WebSocket and serves the
// latest tick per ticker from a thread-safe cache. The stream reconnects
// itself with exponential backoff; consumers only ever see the cache.
package feed

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10

	// A cache older than this no longer represents the market.
	defaultStaleThreshold = 5 * time.Minute
)

var (
	errNoQuote    = errors.New("ticker not in quote cache")
	errStaleQuote = errors.New("quote cache is stale")
)

// Stream maintains a live quote cache fed by a WebSocket subscription.
type Stream struct {
	// Connection
	url        string
	sid        string // Optional session ID
	tickers    []string
	httpClient *http.Client
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	// Dependencies
	bus *events.Bus
	log zerolog.Logger

	// State
	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool

	// Cache (thread-safe)
	quotes     map[string]domain.Quote
	lastUpdate time.Time
	cacheMu    sync.RWMutex

	staleAfter time.Duration
}

// createHTTP1Client creates an HTTP client that forces HTTP/1.1.
// Required because Cloudflare negotiates HTTP/2 via TLS ALPN,
// but WebSocket requires HTTP/1.1 for the upgrade handshake.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// NewStream creates a quote stream for the given tickers. Nothing connects
// until Start.
func NewStream(url, sid string, tickers []string, bus *events.Bus, log zerolog.Logger) *Stream {
	return &Stream{
		url:        url,
		sid:        sid,
		tickers:    append([]string(nil), tickers...),
		httpClient: createHTTP1Client(),
		bus:        bus,
		log:        log.With().Str("component", "quote_stream").Logger(),
		quotes:     make(map[string]domain.Quote),
		stopChan:   make(chan struct{}),
		staleAfter: defaultStaleThreshold,
	}
}

// Start opens the connection and begins the read loop. A failed initial
// dial is not fatal; the reconnect loop keeps trying in the background.
func (s *Stream) Start() error {
	s.log.Info().Strs("tickers", s.tickers).Msg("Starting quote stream")

	if err := s.Connect(); err != nil {
		s.log.Warn().Err(err).Msg("Initial connection failed, will retry in background")
		go s.reconnectLoop()
		return err
	}

	s.mu.RLock()
	ctx := s.connCtx
	s.mu.RUnlock()
	go s.readMessages(ctx)

	s.log.Info().Msg("Quote stream started")
	return nil
}

// Stop shuts the stream down. Safe to call more than once.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.log.Info().Msg("Stopping quote stream")
	close(s.stopChan)
	return s.Disconnect()
}

// Connect dials the feed and subscribes to the configured tickers.
func (s *Stream) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wsURL := s.url
	if s.sid != "" {
		wsURL += "?SID=" + s.sid
	}

	s.log.Info().Str("url", wsURL).Msg("Connecting to quote feed")

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPClient: s.httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to dial quote feed: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	s.conn = conn
	s.connCtx = connCtx
	s.cancelFunc = connCancel
	s.connected = true

	if err := s.subscribe(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		s.conn = nil
		s.connCtx = nil
		s.cancelFunc = nil
		s.connected = false
		return fmt.Errorf("failed to subscribe to quotes: %w", err)
	}

	s.log.Info().Msg("Connected to quote feed")
	return nil
}

// Disconnect closes the connection, unblocking any pending read.
func (s *Stream) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	s.log.Info().Msg("Disconnecting from quote feed")

	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}

	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.conn = nil
	s.connCtx = nil
	s.connected = false

	if err != nil {
		return fmt.Errorf("error closing quote feed: %w", err)
	}
	return nil
}

// subscribe sends the quotes subscription for the configured tickers.
// Feed protocol: ["quotes", ["AAPL", "MSFT"]].
func (s *Stream) subscribe(ctx context.Context) error {
	msg := []interface{}{"quotes", s.tickers}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription message: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	if err := s.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send subscription message: %w", err)
	}

	s.log.Info().Int("tickers", len(s.tickers)).Msg("Subscribed to quotes channel")
	return nil
}

// readMessages consumes the connection until it drops, then hands off to
// the reconnect loop unless the stream was stopped.
func (s *Stream) readMessages(ctx context.Context) {
	defer func() {
		s.log.Info().Msg("Read loop stopped")
		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if !stopped {
			go s.reconnectLoop()
		}
	}()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			s.log.Debug().Msg("Read loop context cancelled")
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()

		if conn == nil {
			s.log.Warn().Msg("Connection is nil, stopping read loop")
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				s.log.Info().Int("status", int(closeStatus)).Msg("Feed closed normally")
			} else if ctx.Err() != nil {
				s.log.Debug().Msg("Read cancelled by context")
			} else {
				s.log.Error().Err(err).Msg("Unexpected feed read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			s.log.Debug().Int("type", int(msgType)).Msg("Ignoring non-text message")
			continue
		}

		if err := s.handleMessage(message); err != nil {
			s.log.Error().Err(err).Str("message", string(message)).Msg("Failed to handle feed message")
			// Continue reading despite parse errors
		}
	}
}

// wireQuote is one tick as it arrives on the feed. Field names follow the
// provider's quote schema: c is the ticker, ltp the last trade price, bbp
// and bap the best bid and ask.
type wireQuote struct {
	Ticker string  `json:"c"`
	Price  float64 `json:"ltp"`
	Bid    float64 `json:"bbp"`
	Ask    float64 `json:"bap"`
	Millis int64   `json:"t"`
}

// handleMessage parses a feed frame. Protocol: ["q", {quote}].
func (s *Stream) handleMessage(message []byte) error {
	var rawMessage []json.RawMessage
	if err := json.Unmarshal(message, &rawMessage); err != nil {
		return fmt.Errorf("failed to parse message array: %w", err)
	}

	if len(rawMessage) < 2 {
		return fmt.Errorf("message array too short: expected 2 elements, got %d", len(rawMessage))
	}

	var channel string
	if err := json.Unmarshal(rawMessage[0], &channel); err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}

	if channel != "q" {
		s.log.Debug().Str("channel", channel).Msg("Ignoring non-quote message")
		return nil
	}

	var wq wireQuote
	if err := json.Unmarshal(rawMessage[1], &wq); err != nil {
		return fmt.Errorf("failed to parse quote data: %w", err)
	}

	return s.handleQuote(wq)
}

// handleQuote validates a tick and updates the cache.
func (s *Stream) handleQuote(wq wireQuote) error {
	if wq.Ticker == "" {
		return fmt.Errorf("quote without ticker")
	}
	if wq.Price <= 0 {
		s.log.Warn().Str("ticker", wq.Ticker).Float64("ltp", wq.Price).Msg("Ignoring quote with non-positive price")
		return nil
	}

	ts := time.Now()
	if wq.Millis > 0 {
		ts = time.UnixMilli(wq.Millis)
	}

	quote := domain.Quote{
		Timestamp: ts,
		Ticker:    wq.Ticker,
		Price:     wq.Price,
		Bid:       wq.Bid,
		Ask:       wq.Ask,
	}

	s.cacheMu.Lock()
	s.quotes[quote.Ticker] = quote
	s.lastUpdate = time.Now()
	s.cacheMu.Unlock()

	s.log.Debug().
		Str("ticker", quote.Ticker).
		Float64("price", quote.Price).
		Msg("Quote cache updated")

	if s.bus != nil {
		s.bus.EmitTyped("quote_stream", &events.QuoteUpdatedData{
			Ticker: quote.Ticker,
			Price:  quote.Price,
			Bid:    quote.Bid,
			Ask:    quote.Ask,
		})
	}
	return nil
}

// reconnectLoop redials with exponential backoff until stopped.
func (s *Stream) reconnectLoop() {
	s.mu.Lock()
	if s.reconnecting || s.stopped {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-s.stopChan:
			s.log.Info().Msg("Reconnection loop stopped by user")
			return
		default:
		}

		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := s.calculateBackoff(attempt)

		if attempt <= maxReconnectAttempts {
			s.log.Info().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Attempting to reconnect to quote feed")
		} else {
			s.log.Warn().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Reconnection attempt (exceeded max attempts, will keep retrying)")
		}

		select {
		case <-time.After(delay):
		case <-s.stopChan:
			return
		}

		if err := s.Connect(); err != nil {
			s.log.Error().Err(err).
				Int("attempt", attempt).
				Msg("Reconnection failed")
			continue
		}

		s.log.Info().Int("attempt", attempt).Msg("Reconnected to quote feed")
		attempt = 0

		s.mu.RLock()
		ctx := s.connCtx
		s.mu.RUnlock()
		go s.readMessages(ctx)
		return
	}
}

// calculateBackoff returns baseDelay * 2^(attempt-1), capped.
func (s *Stream) calculateBackoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

// Quote returns the latest cached tick for a ticker. An unknown ticker or
// a stale cache is a per-ticker data gap, not a stream failure.
func (s *Stream) Quote(_ context.Context, ticker string) (domain.Quote, error) {
	s.cacheMu.RLock()
	quote, exists := s.quotes[ticker]
	age := time.Since(s.lastUpdate)
	hasUpdate := !s.lastUpdate.IsZero()
	s.cacheMu.RUnlock()

	if !exists {
		return domain.Quote{}, domain.NewMarketDataError(ticker, time.Now(), errNoQuote)
	}
	if !hasUpdate || age > s.staleAfter {
		return domain.Quote{}, domain.NewMarketDataError(ticker, time.Now(), errStaleQuote)
	}
	return quote, nil
}

// Snapshot returns a copy of the whole quote cache.
func (s *Stream) Snapshot() map[string]domain.Quote {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	out := make(map[string]domain.Quote, len(s.quotes))
	for k, v := range s.quotes {
		out[k] = v
	}
	return out
}

// IsStale reports whether the cache has gone too long without a tick.
func (s *Stream) IsStale() bool {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	if s.lastUpdate.IsZero() {
		return true
	}
	return time.Since(s.lastUpdate) > s.staleAfter
}

// IsConnected returns current connection status.
func (s *Stream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}
