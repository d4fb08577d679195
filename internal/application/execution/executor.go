// Package execution turns trade decisions into confirmed fills on the
// exchange: it resolves market metadata, reads the book, enforces safety
// bounds, signs once and races the submission.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/goaltrader/internal/domain"
	"github.com/alejandrodnm/goaltrader/internal/metrics"
	"github.com/alejandrodnm/goaltrader/internal/ports"
)

const (
	defaultRaceWidth       = 3
	defaultSubmitTimeout   = 5 * time.Second
	defaultMetadataTimeout = 3 * time.Second
	defaultMetadataTTL     = 10 * time.Minute
)

// PositionCounter reports how many positions are currently open.
type PositionCounter interface {
	OpenPositionCount() int
}

// Config holds the safety bounds of the execution core.
type Config struct {
	Armed            bool    // false = every order is a simulated fill
	MinNotional      float64 // BUY lower bound, dollars
	MaxNotional      float64 // BUY upper bound, dollars
	MaxOpenPositions int
	MinOrderValue    float64 // exchange minimum for marketable orders
	RaceWidth        int
	SubmitTimeout    time.Duration
	MetadataTimeout  time.Duration
	MetadataTTL      time.Duration
}

// DefaultConfig returns conservative defaults (disarmed).
func DefaultConfig() Config {
	return Config{
		Armed:            false,
		MinNotional:      1,
		MaxNotional:      50,
		MaxOpenPositions: 5,
		MinOrderValue:    1,
		RaceWidth:        defaultRaceWidth,
		SubmitTimeout:    defaultSubmitTimeout,
		MetadataTimeout:  defaultMetadataTimeout,
		MetadataTTL:      defaultMetadataTTL,
	}
}

// Executor is the order submission core.
type Executor struct {
	exchange ports.Exchange
	cfg      Config
	cache    *metadataCache
	armed    atomic.Bool
	counter  PositionCounter
	now      func() time.Time
}

// New creates an Executor. exchange may be nil, in which case every live
// request fails with ErrNotInitialized.
func New(exchange ports.Exchange, cfg Config) (*Executor, error) {
	if cfg.RaceWidth <= 0 {
		cfg.RaceWidth = defaultRaceWidth
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = defaultMetadataTimeout
	}
	if cfg.MetadataTTL <= 0 {
		cfg.MetadataTTL = defaultMetadataTTL
	}

	cache, err := newMetadataCache(cfg.MetadataTTL)
	if err != nil {
		return nil, err
	}

	e := &Executor{
		exchange: exchange,
		cfg:      cfg,
		cache:    cache,
		now:      time.Now,
	}
	e.armed.Store(cfg.Armed)
	return e, nil
}

// SetPositionCounter wires the source of the open-position cap check.
func (e *Executor) SetPositionCounter(c PositionCounter) {
	e.counter = c
}

// SetArmed toggles live submissions.
func (e *Executor) SetArmed(armed bool) {
	e.armed.Store(armed)
	slog.Warn("exec: armed state changed", "armed", armed)
}

// Armed reports whether live submissions are enabled.
func (e *Executor) Armed() bool {
	return e.armed.Load()
}

// Buy spends notional dollars on assetID. price 0 means take the best ask.
func (e *Executor) Buy(ctx context.Context, assetID string, notional, price float64) domain.TradeResult {
	req := domain.TradeRequest{
		ID:          uuid.NewString(),
		AssetID:     assetID,
		Side:        domain.Buy,
		Notional:    notional,
		Price:       price,
		RequestedAt: e.now(),
	}

	switch {
	case notional < e.cfg.MinNotional:
		return e.fail(req, fmt.Errorf("%w: $%.2f < $%.2f", ErrAmountTooSmall, notional, e.cfg.MinNotional))
	case e.cfg.MaxNotional > 0 && notional > e.cfg.MaxNotional:
		return e.fail(req, fmt.Errorf("%w: $%.2f > $%.2f", ErrAmountTooLarge, notional, e.cfg.MaxNotional))
	case e.counter != nil && e.cfg.MaxOpenPositions > 0 && e.counter.OpenPositionCount() >= e.cfg.MaxOpenPositions:
		return e.fail(req, fmt.Errorf("%w: %d open", ErrPositionLimit, e.counter.OpenPositionCount()))
	}

	if !e.Armed() {
		return e.simulate(req)
	}
	if e.exchange == nil {
		return e.fail(req, ErrNotInitialized)
	}

	meta := e.metadata(ctx, assetID)

	if price <= 0 {
		book, err := e.book(ctx, assetID)
		if err != nil {
			return e.fail(req, fmt.Errorf("%w: %v", ErrEmptyBook, err))
		}
		if book.BestAsk() <= 0 {
			return e.fail(req, ErrEmptyBook)
		}
		price = book.BestAsk()
	}
	price = roundToTick(price, meta.TickSize, roundUp)
	if !validPrice(price, meta.TickSize) {
		return e.fail(req, fmt.Errorf("%w: %.4f (tick %.4f)", ErrInvalidPrice, price, meta.TickSize))
	}

	shares := sharesFor(notional, price, e.cfg.MinOrderValue)
	if shares <= 0 {
		return e.fail(req, fmt.Errorf("%w: %.2f shares", ErrOrderTooSmall, shares))
	}

	return e.execute(ctx, req, domain.OrderArgs{
		AssetID:  assetID,
		Side:     domain.Buy,
		Price:    price,
		Shares:   shares,
		TickSize: meta.TickSize,
		NegRisk:  meta.NegRisk,
	})
}

// Sell sells shares of assetID. price 0 means hit the best bid.
func (e *Executor) Sell(ctx context.Context, assetID string, shares, price float64) domain.TradeResult {
	req := domain.TradeRequest{
		ID:          uuid.NewString(),
		AssetID:     assetID,
		Side:        domain.Sell,
		Shares:      shares,
		Price:       price,
		RequestedAt: e.now(),
	}

	shares = floorShares(shares)
	if shares <= 0 {
		return e.fail(req, fmt.Errorf("%w: %.4f shares", ErrOrderTooSmall, req.Shares))
	}

	if !e.Armed() {
		return e.simulate(req)
	}
	if e.exchange == nil {
		return e.fail(req, ErrNotInitialized)
	}

	meta := e.metadata(ctx, assetID)

	if price <= 0 {
		book, err := e.book(ctx, assetID)
		if err != nil {
			return e.fail(req, fmt.Errorf("%w: %v", ErrEmptyBook, err))
		}
		if book.BestBid() <= 0 {
			return e.fail(req, ErrEmptyBook)
		}
		price = book.BestBid()
	}
	price = roundToTick(price, meta.TickSize, roundDown)
	if !validPrice(price, meta.TickSize) {
		return e.fail(req, fmt.Errorf("%w: %.4f (tick %.4f)", ErrInvalidPrice, price, meta.TickSize))
	}

	return e.execute(ctx, req, domain.OrderArgs{
		AssetID:  assetID,
		Side:     domain.Sell,
		Price:    price,
		Shares:   shares,
		TickSize: meta.TickSize,
		NegRisk:  meta.NegRisk,
	})
}

// execute signs the order once and races its submission.
func (e *Executor) execute(ctx context.Context, req domain.TradeRequest, args domain.OrderArgs) domain.TradeResult {
	signed, err := e.exchange.SignOrder(ctx, args)
	if err != nil {
		return e.fail(req, fmt.Errorf("%w: %v", ErrSignature, err))
	}

	ack, err := e.race(ctx, signed)
	if err != nil {
		return e.fail(req, err)
	}

	shares := args.Shares
	notional := notionalOf(args.Price, args.Shares)
	if args.Side == domain.Buy && ack.TakingAmount > 0 {
		shares = ack.TakingAmount
		if ack.MakingAmount > 0 {
			notional = ack.MakingAmount
		}
	}
	if args.Side == domain.Sell && ack.TakingAmount > 0 {
		notional = ack.TakingAmount
	}

	res := domain.TradeResult{
		Request:     req,
		Success:     true,
		OrderID:     ack.OrderID,
		Price:       args.Price,
		Shares:      shares,
		Notional:    notional,
		CompletedAt: e.now(),
	}
	res.Latency = res.CompletedAt.Sub(req.RequestedAt)

	metrics.OrdersTotal.WithLabelValues(string(req.Side), "ok").Inc()
	metrics.OrderLatency.WithLabelValues(string(req.Side)).Observe(res.Latency.Seconds())
	slog.Info("exec: order filled",
		"side", req.Side,
		"asset", domain.TruncateStr(req.AssetID, 12),
		"price", fmt.Sprintf("%.3f", res.Price),
		"shares", fmt.Sprintf("%.2f", res.Shares),
		"notional", fmt.Sprintf("$%.2f", res.Notional),
		"order_id", ack.OrderID,
		"latency", res.Latency,
	)
	return res
}

func (e *Executor) book(ctx context.Context, assetID string) (domain.OrderBook, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.MetadataTimeout)
	defer cancel()
	return e.exchange.OrderBook(ctx, assetID)
}

// simulate accepts the request without any network call.
func (e *Executor) simulate(req domain.TradeRequest) domain.TradeResult {
	res := domain.TradeResult{
		Request:     req,
		Success:     true,
		Simulated:   true,
		OrderID:     "sim-" + uuid.NewString(),
		Price:       req.Price,
		CompletedAt: e.now(),
	}
	switch req.Side {
	case domain.Buy:
		res.Notional = req.Notional
		if req.Price > 0 {
			res.Shares = floorShares(req.Notional / req.Price)
		}
	case domain.Sell:
		res.Shares = floorShares(req.Shares)
		res.Notional = notionalOf(req.Price, res.Shares)
	}
	metrics.OrdersTotal.WithLabelValues(string(req.Side), "simulated").Inc()
	slog.Info("exec: simulated fill (disarmed)",
		"side", req.Side,
		"asset", domain.TruncateStr(req.AssetID, 12),
		"price", fmt.Sprintf("%.3f", req.Price),
		"notional", fmt.Sprintf("$%.2f", res.Notional),
	)
	return res
}

func (e *Executor) fail(req domain.TradeRequest, err error) domain.TradeResult {
	res := domain.TradeResult{
		Request:     req,
		ErrorKind:   KindOf(err),
		Error:       err.Error(),
		CompletedAt: e.now(),
	}
	res.Latency = res.CompletedAt.Sub(req.RequestedAt)
	metrics.OrdersTotal.WithLabelValues(string(req.Side), string(res.ErrorKind)).Inc()
	slog.Warn("exec: order rejected",
		"side", req.Side,
		"asset", domain.TruncateStr(req.AssetID, 12),
		"kind", res.ErrorKind,
		"err", err,
	)
	return res
}
