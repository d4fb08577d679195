// Package stream follows the exchange market channel and feeds asset prices
// into the dispatcher as quotes of the exchange source.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultURL is the public market channel.
const DefaultURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

// PriceSink receives asset prices. The dispatcher implements it.
type PriceSink interface {
	ApplyAssetPrice(ctx context.Context, source, assetID string, price float64, at time.Time) ([]string, error)
}

// Config controls the connection.
type Config struct {
	URL          string
	Source       string // source id attached to every quote
	PingInterval time.Duration
	ReadTimeout  time.Duration
	MaxBackoff   time.Duration
}

// MarketStream is a reconnecting market-channel client.
type MarketStream struct {
	cfg  Config
	sink PriceSink
	now  func() time.Time

	mu      sync.Mutex
	assets  map[string]struct{}
	conn    *websocket.Conn
	writeMu sync.Mutex
	ready   chan struct{} // closed once there is something to subscribe to
}

// New creates a MarketStream.
func New(cfg Config, sink PriceSink) *MarketStream {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Source == "" {
		cfg.Source = "polymarket"
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &MarketStream{
		cfg:    cfg,
		sink:   sink,
		now:    time.Now,
		assets: make(map[string]struct{}),
		ready:  make(chan struct{}),
	}
}

// Subscribe adds asset ids. On a live connection only the new ids are sent.
func (s *MarketStream) Subscribe(assetIDs []string) {
	s.mu.Lock()
	var added []string
	for _, id := range assetIDs {
		if id == "" {
			continue
		}
		if _, ok := s.assets[id]; ok {
			continue
		}
		s.assets[id] = struct{}{}
		added = append(added, id)
	}
	if len(s.assets) > 0 {
		select {
		case <-s.ready:
		default:
			close(s.ready)
		}
	}
	conn := s.conn
	s.mu.Unlock()

	if conn == nil || len(added) == 0 {
		return
	}
	if err := s.write(conn, subscribeMessage{AssetIDs: added, Operation: "subscribe"}); err != nil {
		slog.Warn("stream: subscribe failed, will resubscribe on reconnect", "err", err)
	}
}

// Run connects and reconnects with exponential backoff until ctx is done.
func (s *MarketStream) Run(ctx context.Context) error {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil
	}

	backoff := time.Second
	for {
		start := s.now()
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if s.now().Sub(start) > time.Minute {
			backoff = time.Second
		}
		slog.Warn("stream: disconnected, retrying", "err", err, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff = time.Duration(math.Min(float64(s.cfg.MaxBackoff), float64(backoff)*2))
	}
}

func (s *MarketStream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("stream.consume: dial: %w", err)
	}
	defer conn.Close()

	s.mu.Lock()
	ids := make([]string, 0, len(s.assets))
	for id := range s.assets {
		ids = append(ids, id)
	}
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	sort.Strings(ids)
	if err := s.write(conn, subscribeMessage{AssetIDs: ids, Type: "market"}); err != nil {
		return fmt.Errorf("stream.consume: subscribe: %w", err)
	}
	slog.Info("stream: connected", "assets", len(ids))

	conn.SetReadLimit(4 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.ping(pingCtx, conn)

	go func() {
		<-pingCtx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stream.consume: read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		updates, err := parseMessages(data, s.now())
		if err != nil {
			if !isPong(data) {
				slog.Debug("stream: undecodable frame", "err", err)
			}
			continue
		}
		for _, u := range updates {
			if _, err := s.sink.ApplyAssetPrice(ctx, s.cfg.Source, u.AssetID, u.Price, u.At); err != nil {
				slog.Warn("stream: apply price failed", "asset", u.AssetID, "err", err)
			}
		}
	}
}

func (s *MarketStream) ping(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				slog.Warn("stream: ping failed", "err", err)
				return
			}
		}
	}
}

func (s *MarketStream) write(conn *websocket.Conn, msg subscribeMessage) error {
	if len(msg.AssetIDs) == 0 {
		return errors.New("no assets")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(msg)
}

func isPong(data []byte) bool {
	return string(data) == "PONG"
}
