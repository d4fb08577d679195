package trader

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/alejandrodnm/goaltrader/internal/domain"
	"github.com/alejandrodnm/goaltrader/internal/metrics"
)

// entryPlan is a validated entry waiting for its fill.
type entryPlan struct {
	key        string
	side       domain.Side
	asset      string
	quote      float64 // affirmative probability at decision time
	tokenPrice float64
	goal       domain.GoalKind
	move       float64
	size       float64
}

func transitionKey(eventID string, s domain.Score) string {
	return eventID + "|" + s.String()
}

func (t *Trader) onScore(ctx context.Context, ev domain.EventUpdate, source string) {
	if !ev.HasScore {
		return
	}
	key := transitionKey(ev.EventID, ev.Score)

	t.mu.Lock()
	if ev.PreviousScore != nil {
		t.tracker.observe(key, source)
	}
	run := t.admitLocked(ev, source, key)
	t.mu.Unlock()

	if run {
		t.enter(ctx, ev, source)
	}
}

// admitLocked runs the admission filters and arbitration. It returns true
// when the transition should be traded now. Caller holds t.mu.
func (t *Trader) admitLocked(ev domain.EventUpdate, source, key string) bool {
	if !t.enabled {
		t.note(ev, source, "", domain.DecisionSkip, "disabled")
		return false
	}
	_, policy, ok := t.cfg.category(ev.Sport)
	if !ok {
		t.note(ev, source, "", domain.DecisionSkip, "unsupported sport "+ev.Sport)
		return false
	}
	if len(ev.Assets) == 0 {
		t.note(ev, source, "", domain.DecisionSkip, "no market mapping")
		return false
	}
	if ev.PreviousScore == nil {
		t.note(ev, source, "", domain.DecisionSkip, "no prior score")
		return false
	}
	prev := *ev.PreviousScore
	if scoreDecreased(prev, ev.Score) {
		t.note(ev, source, "", domain.DecisionSkip, "score decreased")
		return false
	}

	now := t.now()
	last, seen := t.lastChange[ev.EventID]
	if seen && last.score != ev.Score && now.Sub(last.at) < t.cfg.Debounce {
		t.note(ev, source, "", domain.DecisionSkip, "debounced")
		return false
	}
	if !seen || last.score != ev.Score {
		t.lastChange[ev.EventID] = scoreChange{score: ev.Score, at: now}
	}

	if !passesCategory(policy, prev, ev.Score) {
		t.note(ev, source, "", domain.DecisionSkip, fmt.Sprintf("below %s threshold", ev.Sport))
		return false
	}

	if _, done := t.processed[key]; done {
		t.note(ev, source, "", domain.DecisionSkip, "duplicate")
		return false
	}

	fastest := t.fastestLocked()
	if p, ok := t.pending[key]; ok {
		if source != fastest || source == p.source {
			t.note(ev, source, "", domain.DecisionSkip, "duplicate")
			return false
		}
		p.stop()
		delete(t.pending, key)
		t.note(p.event, p.source, "", domain.DecisionCancelled, "superseded by "+source)
		t.processed[key] = now
		return true
	}

	if t.cfg.Arbitration && t.cfg.ArbitrationWindow > 0 && fastest != "" && source != fastest {
		t.pending[key] = &pendingGoal{
			key:      key,
			event:    ev,
			source:   source,
			queuedAt: now,
			stop:     t.timer(t.cfg.ArbitrationWindow, func() { t.firePending(key) }),
		}
		t.note(ev, source, "", domain.DecisionPending, "waiting for "+fastest)
		return false
	}

	t.processed[key] = now
	return true
}

// firePending trades a held transition once its window expires.
func (t *Trader) firePending(key string) {
	t.mu.Lock()
	p, ok := t.pending[key]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.pending, key)
	if _, done := t.processed[key]; done {
		t.mu.Unlock()
		return
	}
	if !t.enabled {
		t.note(p.event, p.source, "", domain.DecisionCancelled, "disabled")
		t.mu.Unlock()
		return
	}
	t.processed[key] = t.now()

	ev := p.event
	if latest, ok := t.latest[ev.EventID]; ok && latest.Score == ev.Score {
		ev.Quotes = latest.Quotes
		ev.Assets = latest.Assets
	}
	ctx := t.baseCtx
	t.mu.Unlock()

	t.enter(ctx, ev, p.source)
}

// enter classifies, sizes and buys. The lock is released around the order.
func (t *Trader) enter(ctx context.Context, ev domain.EventUpdate, source string) {
	t.mu.Lock()
	plan, ok := t.planLocked(ev, source)
	if !ok {
		t.mu.Unlock()
		return
	}
	t.entering[ev.EventID] = true
	t.mu.Unlock()

	orderCtx, cancel := context.WithTimeout(ctx, t.cfg.OrderTimeout)
	res := t.exec.Buy(orderCtx, plan.asset, plan.size, 0)
	cancel()

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entering, ev.EventID)

	if !res.Success {
		t.note(ev, source, plan.goal, domain.DecisionFailed, fmt.Sprintf("%s: %s", res.ErrorKind, res.Error))
		return
	}

	tokenPrice := res.Price
	if tokenPrice <= 0 {
		tokenPrice = plan.tokenPrice
	}
	shares := res.Shares
	if shares <= 0 {
		shares = math.Floor(plan.size/tokenPrice*100) / 100
	}
	committed := res.Notional
	if committed <= 0 {
		committed = plan.size
	}

	now := t.now()
	p := &domain.ManagedPosition{
		ID:              uuid.NewString(),
		AssetID:         plan.asset,
		EventID:         ev.EventID,
		MarketKey:       plan.key,
		Label:           ev.Label() + " " + plan.key + " " + string(plan.side),
		Side:            plan.side,
		EntryTokenPrice: tokenPrice,
		Shares:          shares,
		Committed:       committed,
		EntryTime:       now,
		Goal:            plan.goal,
		ScoreAtEntry:    ev.Score,
		ExpectedMove:    plan.move,
		HardDeadline:    now.Add(t.cfg.HoldTime),
	}
	p.EntryPrice = p.QuoteFromToken(tokenPrice)
	p.TakeProfit, p.StopLoss = targets(t.cfg, plan.side, p.EntryPrice, plan.move)
	t.ledger.add(p)
	metrics.OpenPositions.Set(float64(len(t.ledger.open)))

	t.note(ev, source, plan.goal, domain.DecisionBuy, fmt.Sprintf("%s %s @ %.3f", plan.key, plan.side, tokenPrice))
	slog.Info("trader: position opened",
		"event", ev.Label(),
		"market", plan.key,
		"side", plan.side,
		"goal", plan.goal,
		"entry", fmt.Sprintf("%.3f", p.EntryPrice),
		"tp", fmt.Sprintf("%.3f", p.TakeProfit),
		"sl", fmt.Sprintf("%.3f", p.StopLoss),
		"shares", fmt.Sprintf("%.2f", shares),
		"committed", fmt.Sprintf("$%.2f", committed),
		"simulated", res.Simulated,
	)
}

// planLocked classifies the transition and picks market, side and size.
// Caller holds t.mu.
func (t *Trader) planLocked(ev domain.EventUpdate, source string) (entryPlan, bool) {
	if ev.PreviousScore == nil {
		return entryPlan{}, false
	}
	goal := classifyGoal(*ev.PreviousScore, ev.Score)
	if (goal == domain.GoalExtending || goal == domain.GoalNarrowing) && !t.cfg.TradeExtending {
		t.note(ev, source, goal, domain.DecisionSkip, "low information transition")
		return entryPlan{}, false
	}

	if _, open := t.ledger.forEvent(ev.EventID); open || t.entering[ev.EventID] {
		t.note(ev, source, goal, domain.DecisionSkip, "position already open on event")
		return entryPlan{}, false
	}

	var (
		plan  entryPlan
		found bool
	)
	for _, c := range candidates(ev.Score) {
		asset := ev.Assets[c.key].AssetFor(c.side)
		if asset == "" {
			continue
		}
		q, ok := t.quoteFor(ev, c.key)
		if !ok {
			continue
		}
		plan = entryPlan{key: c.key, side: c.side, asset: asset, quote: q}
		found = true
		break
	}
	if !found {
		t.note(ev, source, goal, domain.DecisionSkip, "no tradeable market or quote")
		return entryPlan{}, false
	}

	plan.tokenPrice = plan.quote
	if plan.side == domain.SideNo {
		plan.tokenPrice = 1 - plan.quote
	}
	if plan.tokenPrice < t.cfg.MinPrice || plan.tokenPrice > t.cfg.MaxPrice {
		t.note(ev, source, goal, domain.DecisionSkip, fmt.Sprintf("price %.3f outside band", plan.tokenPrice))
		return entryPlan{}, false
	}

	cat, policy, _ := t.cfg.category(ev.Sport)
	plan.goal = goal
	plan.move = t.cfg.ExpectedMoves[goal] * policy.MoveScale
	plan.size = t.cfg.Sizes[goal]
	if plan.size <= 0 {
		t.note(ev, source, goal, domain.DecisionSkip, "no size for "+string(goal))
		return entryPlan{}, false
	}
	slog.Debug("trader: plan", "event", ev.Label(), "category", cat, "goal", goal, "move", plan.move)
	return plan, true
}

// quoteFor prefers the exchange's own quote, then any other source.
func (t *Trader) quoteFor(ev domain.EventUpdate, key string) (float64, bool) {
	if q, ok := ev.Quote(t.cfg.ExchangeSource, key); ok {
		return q, true
	}
	sources := make([]string, 0, len(ev.Quotes))
	for src := range ev.Quotes {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	for _, src := range sources {
		if q, ok := ev.Quote(src, key); ok {
			return q, true
		}
	}
	return 0, false
}
