package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"FinSight/internal/domain/models"
	drepo "FinSight/internal/domain/repository"

	"github.com/gorilla/websocket"
)

// Stream implements a MarketStream backed by the Finnhub WebSocket
// trade feed. It is used to keep the price cache warm between REST
// refreshes, not as a fetch source of record.
type Stream struct {
	apiKey       string
	websocketURL string
	pingInterval time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	symbols   []string
}

// NewStream creates a new Finnhub market stream.
func NewStream(apiKey, websocketURL string, pingInterval time.Duration) drepo.MarketStream {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Stream{
		apiKey:       apiKey,
		websocketURL: websocketURL,
		pingInterval: pingInterval,
	}
}

// Connect establishes the WebSocket connection.
func (s *Stream) Connect(ctx context.Context) error {
	u := fmt.Sprintf("%s?token=%s", s.websocketURL, s.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	return nil
}

// Subscribe subscribes to live trades for the given symbols and
// remembers them for reconnects.
func (s *Stream) Subscribe(ctx context.Context, symbols []string) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.connected
	s.symbols = append([]string(nil), symbols...)
	s.mu.Unlock()

	if conn == nil || !connected {
		return fmt.Errorf("finnhub not connected")
	}
	for _, sym := range symbols {
		msg := map[string]string{"type": "subscribe", "symbol": sym}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}
	return nil
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
}

// Read streams quotes and errors until the context ends or the
// connection drops.
func (s *Stream) Read(ctx context.Context) (<-chan *models.Quote, <-chan error) {
	quotes := make(chan *models.Quote, 1024)
	errs := make(chan error, 1)
	done := make(chan struct{})

	// ping loop, scoped to this Read: it dies with the read loop, not
	// with the context, so reconnect cycles never accumulate pingers.
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				s.mu.Lock()
				conn := s.conn
				s.mu.Unlock()
				if conn != nil {
					_ = conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(quotes)
		defer close(errs)
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				s.mu.Lock()
				conn := s.conn
				s.mu.Unlock()
				if conn == nil {
					errs <- fmt.Errorf("finnhub conn nil")
					return
				}
				_, b, err := conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("finnhub read: %w", err)
					return
				}
				var m fhMessage
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore non-trade frames
					continue
				}
				if m.Type != "trade" {
					continue
				}
				for _, d := range m.Data {
					quote := &models.Quote{
						Symbol:    d.S,
						Price:     d.P,
						Volume:    d.V,
						Timestamp: time.UnixMilli(d.T).UTC(),
						Source:    "finnhub_ws",
					}
					select {
					case quotes <- quote:
					default:
						// drop on backpressure
					}
				}
			}
		}
	}()

	return quotes, errs
}

// Reconnect closes and reconnects, resubscribing the last symbol set.
// Backoff between attempts is the caller's responsibility.
func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	if err := s.Connect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	symbols := append([]string(nil), s.symbols...)
	s.mu.Unlock()
	return s.Subscribe(ctx, symbols)
}

// Close closes the WS connection.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// IsConnected indicates status.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
