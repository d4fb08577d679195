// Package settlement turns resolved holdings back into collateral through an
// ordered chain of redemption paths, falling back to a market sell.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/goaltrader/internal/domain"
	"github.com/alejandrodnm/goaltrader/internal/metrics"
	"github.com/alejandrodnm/goaltrader/internal/ports"
)

// Seller is the market-sell fallback, normally the execution core.
type Seller interface {
	Sell(ctx context.Context, assetID string, shares, price float64) domain.TradeResult
}

// Config controls the settlement loop.
type Config struct {
	Interval        time.Duration
	DustPrice       float64 // quotes at or below this are worthless
	MaxSellFailures int     // consecutive failures before an asset is suppressed
	SellDiscount    float64 // below the current price, for the fallback sell
	MinSellPrice    float64
	RedeemTimeout   time.Duration
	SellTimeout     time.Duration
	ListTimeout     time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:        60 * time.Second,
		DustPrice:       0.01,
		MaxSellFailures: 3,
		SellDiscount:    0.02,
		MinSellPrice:    0.01,
		RedeemTimeout:   3 * time.Minute,
		SellTimeout:     15 * time.Second,
		ListTimeout:     15 * time.Second,
	}
}

// Service runs the settlement chain.
type Service struct {
	holdings  ports.PositionSource
	redeemers []ports.Redeemer
	seller    Seller
	journal   ports.Journal
	cfg       Config
	now       func() time.Time

	runMu sync.Mutex // one pass at a time
	kick  chan struct{}

	mu           sync.Mutex
	sellFailures map[string]int
	lastRun      time.Time
	last         []domain.RedeemOutcome
}

// New creates a Service. redeemers are tried in order (relay before proxy);
// seller may be nil to disable the market-sell fallback.
func New(holdings ports.PositionSource, seller Seller, cfg Config, redeemers ...ports.Redeemer) *Service {
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.DustPrice <= 0 {
		cfg.DustPrice = d.DustPrice
	}
	if cfg.MaxSellFailures <= 0 {
		cfg.MaxSellFailures = d.MaxSellFailures
	}
	if cfg.MinSellPrice <= 0 {
		cfg.MinSellPrice = d.MinSellPrice
	}
	if cfg.RedeemTimeout <= 0 {
		cfg.RedeemTimeout = d.RedeemTimeout
	}
	if cfg.SellTimeout <= 0 {
		cfg.SellTimeout = d.SellTimeout
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = d.ListTimeout
	}

	chain := make([]ports.Redeemer, 0, len(redeemers))
	for _, r := range redeemers {
		if r != nil {
			chain = append(chain, r)
		}
	}
	return &Service{
		holdings:     holdings,
		redeemers:    chain,
		seller:       seller,
		cfg:          cfg,
		now:          time.Now,
		kick:         make(chan struct{}, 1),
		sellFailures: make(map[string]int),
	}
}

// SetJournal wires the audit sink for redemption outcomes.
func (s *Service) SetJournal(j ports.Journal) { s.journal = j }

// ScheduleCheck requests an extra pass after delay.
func (s *Service) ScheduleCheck(delay time.Duration) {
	time.AfterFunc(delay, func() {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	})
}

// Run polls every Interval and on every scheduled check until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	slog.Info("settle: loop started", "interval", s.cfg.Interval, "paths", len(s.redeemers))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}
		if _, err := s.RedeemResolved(ctx); err != nil {
			slog.Warn("settle: pass failed", "err", err)
		}
	}
}

// RedeemResolved settles every redeemable holding.
func (s *Service) RedeemResolved(ctx context.Context) ([]domain.RedeemOutcome, error) {
	return s.pass(ctx, false)
}

// ForceRedeemAll drives the chain over every held position, redeemable or
// not, and reports one outcome per condition.
func (s *Service) ForceRedeemAll(ctx context.Context) ([]domain.RedeemOutcome, error) {
	return s.pass(ctx, true)
}

// LastRun returns the time and outcomes of the most recent pass.
func (s *Service) LastRun() (time.Time, []domain.RedeemOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RedeemOutcome, len(s.last))
	copy(out, s.last)
	return s.lastRun, out
}

// SellFailures returns the consecutive market-sell failures of an asset.
func (s *Service) SellFailures(assetID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sellFailures[assetID]
}

func (s *Service) pass(ctx context.Context, force bool) ([]domain.RedeemOutcome, error) {
	if s.holdings == nil {
		return nil, errors.New("settlement: no holdings source")
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()

	listCtx, cancel := context.WithTimeout(ctx, s.cfg.ListTimeout)
	holdings, err := s.holdings.Holdings(listCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("settlement.pass: list holdings: %w", err)
	}

	groups := group(holdings, force)
	outcomes := make([]domain.RedeemOutcome, 0, len(groups))
	for _, g := range groups {
		if ctx.Err() != nil {
			break
		}
		o := s.settle(ctx, g)
		outcomes = append(outcomes, o)
		metrics.RedemptionsTotal.WithLabelValues(string(o.Path), metrics.Result(o.Success)).Inc()
		if s.journal != nil && o.Path != domain.PathSkipped {
			if err := s.journal.RecordRedemption(ctx, o); err != nil {
				slog.Warn("settle: journal write failed", "err", err)
			}
		}
	}

	s.mu.Lock()
	s.lastRun = s.now()
	s.last = outcomes
	s.mu.Unlock()

	if len(outcomes) > 0 {
		ok := 0
		for _, o := range outcomes {
			if o.Success {
				ok++
			}
		}
		slog.Info("settle: pass complete", "holdings", len(outcomes), "settled", ok, "force", force)
	}
	return outcomes, nil
}

// group buckets holdings by condition id, keeping asset id for holdings
// without one. Only redeemable holdings are kept unless force is set.
func group(holdings []domain.Holding, force bool) [][]domain.Holding {
	byKey := make(map[string][]domain.Holding)
	var keys []string
	for _, h := range holdings {
		if h.Size <= 0 || (!force && !h.Redeemable) {
			continue
		}
		key := h.ConditionID
		if key == "" {
			key = "asset:" + h.AssetID
		}
		if _, ok := byKey[key]; !ok {
			keys = append(keys, key)
		}
		byKey[key] = append(byKey[key], h)
	}
	sort.Strings(keys)
	out := make([][]domain.Holding, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}
	return out
}

// settle runs the fallback chain for one condition.
func (s *Service) settle(ctx context.Context, hs []domain.Holding) domain.RedeemOutcome {
	head := hs[0]
	o := domain.RedeemOutcome{
		AssetID:     head.AssetID,
		ConditionID: head.ConditionID,
		Title:       head.Title,
		Path:        domain.PathNone,
		ExecutedAt:  s.now(),
	}

	if allTotalLoss(hs, s.cfg.DustPrice) {
		o.Path = domain.PathSkipped
		o.Error = "total loss"
		slog.Debug("settle: total loss, skipping", "title", domain.TruncateStr(head.Title, 40))
		return o
	}

	var errs []error
	if head.ConditionID != "" {
		call := redeemCall(hs)
		for _, r := range s.redeemers {
			rctx, cancel := context.WithTimeout(ctx, s.cfg.RedeemTimeout)
			tx, err := r.Redeem(rctx, call)
			cancel()
			if err == nil {
				o.Path, o.Success, o.TxHash = r.Name(), true, tx
				s.resetFailures(hs)
				slog.Info("settle: redeemed",
					"path", r.Name(),
					"title", domain.TruncateStr(head.Title, 40),
					"tx", tx,
				)
				return o
			}
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
			slog.Warn("settle: redeem path failed", "path", r.Name(), "condition", domain.TruncateStr(head.ConditionID, 12), "err", err)
		}
	}

	if sold, err := s.marketSell(ctx, hs); sold {
		o.Path, o.Success = domain.PathMarketSell, true
		return o
	} else if err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		o.Error = err.Error()
	}
	return o
}

// marketSell sells every live holding of the group. It reports true when at
// least one sell filled.
func (s *Service) marketSell(ctx context.Context, hs []domain.Holding) (bool, error) {
	if s.seller == nil {
		return false, nil
	}
	var (
		sold bool
		errs []error
	)
	for _, h := range hs {
		if h.CurPrice <= s.cfg.DustPrice {
			continue
		}
		if n := s.SellFailures(h.AssetID); n >= s.cfg.MaxSellFailures {
			errs = append(errs, fmt.Errorf("market_sell %s: suppressed after %d failures", domain.TruncateStr(h.AssetID, 12), n))
			continue
		}

		price := math.Max(math.Floor((h.CurPrice-s.cfg.SellDiscount)*100+1e-9)/100, s.cfg.MinSellPrice)
		sctx, cancel := context.WithTimeout(ctx, s.cfg.SellTimeout)
		res := s.seller.Sell(sctx, h.AssetID, h.Size, price)
		cancel()

		s.mu.Lock()
		if res.Success {
			delete(s.sellFailures, h.AssetID)
		} else {
			s.sellFailures[h.AssetID]++
		}
		s.mu.Unlock()

		if res.Success {
			sold = true
			slog.Info("settle: sold holding",
				"title", domain.TruncateStr(h.Title, 40),
				"price", fmt.Sprintf("%.2f", price),
				"shares", fmt.Sprintf("%.2f", h.Size),
			)
			continue
		}
		errs = append(errs, fmt.Errorf("market_sell %s: %s", domain.TruncateStr(h.AssetID, 12), res.Error))
	}
	return sold, errors.Join(errs...)
}

func (s *Service) resetFailures(hs []domain.Holding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hs {
		delete(s.sellFailures, h.AssetID)
	}
}

func allTotalLoss(hs []domain.Holding, dust float64) bool {
	for _, h := range hs {
		if !h.IsTotalLoss(dust) {
			return false
		}
	}
	return true
}

// redeemCall builds the redemption for one condition. Neg-risk markets need
// the held size per outcome index.
func redeemCall(hs []domain.Holding) domain.RedeemCall {
	call := domain.RedeemCall{ConditionID: hs[0].ConditionID}
	for _, h := range hs {
		if !h.NegRisk || h.OutcomeIndex < 0 {
			continue
		}
		call.NegRisk = true
		for len(call.Amounts) <= h.OutcomeIndex {
			call.Amounts = append(call.Amounts, 0)
		}
		call.Amounts[h.OutcomeIndex] += h.Size
	}
	return call
}
