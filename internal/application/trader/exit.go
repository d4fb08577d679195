package trader

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/alejandrodnm/goaltrader/internal/domain"
	"github.com/alejandrodnm/goaltrader/internal/metrics"
)

// eventIdleTTL is how long an event may go without any update before its
// dedup keys and cached state are dropped. Keys never expire while the
// event is live or holds a position.
const eventIdleTTL = 12 * time.Hour

// exitJob is a position claimed for selling.
type exitJob struct {
	id     string
	reason domain.ExitReason
	pos    domain.ManagedPosition
}

// onQuote records a price change and fires take-profit or stop-loss exits.
func (t *Trader) onQuote(ctx context.Context, ev domain.EventUpdate, key string) {
	q, ok := ev.Quote(t.cfg.ExchangeSource, key)
	if !ok {
		return
	}

	t.mu.Lock()
	now := t.now()
	var jobs []exitJob
	for _, p := range t.ledger.open {
		if p.EventID != ev.EventID || p.MarketKey != key {
			continue
		}
		p.Observe(q, now)
		if t.exiting[p.ID] || now.Before(p.NextAttemptAt) {
			continue
		}
		var reason domain.ExitReason
		switch {
		case p.HitTakeProfit(q):
			reason = domain.ExitTakeProfit
		case p.HitStopLoss(q):
			reason = domain.ExitStopLoss
		default:
			continue
		}
		t.exiting[p.ID] = true
		jobs = append(jobs, exitJob{id: p.ID, reason: reason, pos: *p})
	}
	t.mu.Unlock()

	for _, j := range jobs {
		t.exit(ctx, j)
	}
}

// forgetEventLocked drops an idle event's dedup and cached state unless it
// still has a position or an entry in flight. Caller holds t.mu.
func (t *Trader) forgetEventLocked(id string) {
	if _, open := t.ledger.forEvent(id); open || t.entering[id] {
		return
	}
	prefix := id + "|"
	for key := range t.processed {
		if strings.HasPrefix(key, prefix) {
			delete(t.processed, key)
		}
	}
	for key, p := range t.pending {
		if strings.HasPrefix(key, prefix) {
			p.stop()
			delete(t.pending, key)
		}
	}
	delete(t.seen, id)
	delete(t.latest, id)
	delete(t.lastChange, id)
}

// CheckExits runs one tick of the time-based exit rules.
func (t *Trader) CheckExits(ctx context.Context) {
	t.mu.Lock()
	now := t.now()
	for id, at := range t.seen {
		if now.Sub(at) > eventIdleTTL {
			t.forgetEventLocked(id)
		}
	}

	var jobs []exitJob
	for _, p := range t.ledger.openSorted() {
		if t.exiting[p.ID] || now.Before(p.NextAttemptAt) {
			continue
		}
		var reason domain.ExitReason
		switch {
		case !now.Before(p.HardDeadline):
			reason = domain.ExitDeadline
		case p.PendingExit != "":
			reason = p.PendingExit
		case t.stabilized(p, now):
			reason = domain.ExitStabilized
		default:
			continue
		}
		t.exiting[p.ID] = true
		jobs = append(jobs, exitJob{id: p.ID, reason: reason, pos: *p})
	}
	t.mu.Unlock()

	for _, j := range jobs {
		t.exit(ctx, j)
	}
}

// stabilized reports a position whose market went quiet after the minimum hold.
func (t *Trader) stabilized(p *domain.ManagedPosition, now time.Time) bool {
	if t.cfg.QuietThreshold <= 0 || now.Sub(p.EntryTime) < t.cfg.MinHold {
		return false
	}
	last := p.LastPriceAt
	if last.IsZero() {
		last = p.EntryTime
	}
	return now.Sub(last) >= t.cfg.QuietThreshold
}

// exit reconciles the share count and walks the sell ladder. On failure the
// position stays open and is retried after SellRetryDelay.
func (t *Trader) exit(ctx context.Context, j exitJob) {
	shares := t.reconcile(ctx, j.pos)

	base := j.pos.EntryTokenPrice
	if j.pos.LastPrice > 0 {
		base = j.pos.TokenPrice(j.pos.LastPrice)
	}

	var (
		res   domain.TradeResult
		price float64
	)
	for _, price = range t.ladder(base) {
		orderCtx, cancel := context.WithTimeout(ctx, t.cfg.OrderTimeout)
		res = t.exec.Sell(orderCtx, j.pos.AssetID, shares, price)
		cancel()
		if res.Success {
			break
		}
		slog.Warn("trader: sell rung failed",
			"position", j.pos.Label,
			"price", fmt.Sprintf("%.3f", price),
			"kind", res.ErrorKind,
			"err", res.Error,
		)
	}

	t.mu.Lock()
	delete(t.exiting, j.id)
	p, ok := t.ledger.open[j.id]
	if !ok {
		t.mu.Unlock()
		return
	}
	now := t.now()

	if !res.Success {
		p.ExitAttempts++
		p.PendingExit = j.reason
		next := now.Add(t.cfg.SellRetryDelay)
		p.NextAttemptAt = next
		if p.HardDeadline.Before(next) {
			p.HardDeadline = next
		}
		attempts := p.ExitAttempts
		t.mu.Unlock()
		slog.Warn("trader: exit failed, will retry",
			"position", j.pos.Label,
			"reason", j.reason,
			"attempts", attempts,
			"retry_at", next.Format("15:04:05"),
		)
		return
	}

	exitPrice := res.Price
	if exitPrice <= 0 {
		exitPrice = price
	}
	if res.Shares > 0 {
		p.Shares = res.Shares
	} else {
		p.Shares = shares
	}
	p.Settled = true
	p.PendingExit = ""
	p.ExitReason = j.reason
	p.ExitPrice = exitPrice
	p.ExitTime = now
	p.PnL = p.RealizedPnL(exitPrice)
	t.ledger.close(p)
	closed := *p
	metrics.ExitsTotal.WithLabelValues(string(j.reason)).Inc()
	metrics.OpenPositions.Set(float64(len(t.ledger.open)))
	t.enqueue(journalItem{closed: &closed})
	t.mu.Unlock()

	slog.Info("trader: position closed",
		"position", closed.Label,
		"reason", j.reason,
		"entry", fmt.Sprintf("%.3f", closed.EntryTokenPrice),
		"exit", fmt.Sprintf("%.3f", exitPrice),
		"shares", fmt.Sprintf("%.2f", closed.Shares),
		"pnl", fmt.Sprintf("$%.2f", closed.PnL),
		"simulated", res.Simulated,
	)

	if t.scheduler != nil && t.cfg.SettlementDelay > 0 {
		t.scheduler.ScheduleCheck(t.cfg.SettlementDelay)
	}
}

// reconcile returns the share count to sell, preferring the wallet's
// ground truth when it reports a positive size.
func (t *Trader) reconcile(ctx context.Context, p domain.ManagedPosition) float64 {
	if t.positions == nil {
		return p.Shares
	}
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ReconcileTimeout)
	defer cancel()

	size, err := t.positions.PositionSize(ctx, p.AssetID)
	switch {
	case err != nil:
		slog.Warn("trader: position lookup failed, using tracked shares",
			"position", p.Label, "err", err)
		return p.Shares
	case size <= 0:
		return p.Shares
	case math.Abs(size-p.Shares) > 1e-6:
		slog.Info("trader: reconciled share count",
			"position", p.Label,
			"tracked", fmt.Sprintf("%.4f", p.Shares),
			"wallet", fmt.Sprintf("%.4f", size),
		)
	}
	return size
}

// ladder returns the sell prices to try, ending at the dump price.
func (t *Trader) ladder(base float64) []float64 {
	out := make([]float64, 0, len(t.cfg.LadderOffsets)+1)
	add := func(p float64) {
		p = math.Round(p*10000) / 10000
		if p < t.cfg.DumpPrice {
			p = t.cfg.DumpPrice
		}
		if len(out) > 0 && out[len(out)-1] == p {
			return
		}
		out = append(out, p)
	}
	for _, off := range t.cfg.LadderOffsets {
		add(base + off)
	}
	add(t.cfg.DumpPrice)
	return out
}
