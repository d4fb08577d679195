// Package trader turns score transitions into short-lived directional
// positions and manages them until they are sold.
package trader

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alejandrodnm/goaltrader/internal/domain"
	"github.com/alejandrodnm/goaltrader/internal/metrics"
	"github.com/alejandrodnm/goaltrader/internal/ports"
)

// OrderExecutor is the execution surface the trader needs.
type OrderExecutor interface {
	Buy(ctx context.Context, assetID string, notional, price float64) domain.TradeResult
	Sell(ctx context.Context, assetID string, shares, price float64) domain.TradeResult
}

const journalBuffer = 256

// journalItem is one record waiting to be written to the journal.
type journalItem struct {
	activity *domain.GoalActivity
	closed   *domain.ManagedPosition
}

// Trader is the goal-signal trading engine.
type Trader struct {
	exec      OrderExecutor
	positions ports.PositionSource
	scheduler ports.SettlementScheduler
	journal   ports.Journal
	cfg       Config

	now   func() time.Time
	timer timerFunc

	mu         sync.Mutex
	enabled    bool
	ledger     *ledger
	tracker    *sourceTracker
	pending    map[string]*pendingGoal // transition key →
	processed  map[string]time.Time    // transition key → decided at, kept for the event's lifetime
	seen       map[string]time.Time    // event id → last update
	lastChange map[string]scoreChange  // event id →
	latest     map[string]domain.EventUpdate
	entering   map[string]bool // event id → buy in flight
	exiting    map[string]bool // position id → sell in flight

	journalCh chan journalItem
	baseCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type scoreChange struct {
	score domain.Score
	at    time.Time
}

// New creates a Trader. positions, scheduler and journal are optional and
// may be wired later with the Set* methods.
func New(exec OrderExecutor, cfg Config) *Trader {
	cfg = cfg.withDefaults()
	return &Trader{
		exec:       exec,
		cfg:        cfg,
		now:        time.Now,
		timer:      realTimer,
		enabled:    cfg.Enabled,
		ledger:     newLedger(cfg.HistoryLimit, cfg.ActivityLimit),
		tracker:    newSourceTracker(),
		pending:    make(map[string]*pendingGoal),
		processed:  make(map[string]time.Time),
		seen:       make(map[string]time.Time),
		lastChange: make(map[string]scoreChange),
		latest:     make(map[string]domain.EventUpdate),
		entering:   make(map[string]bool),
		exiting:    make(map[string]bool),
		journalCh:  make(chan journalItem, journalBuffer),
		baseCtx:    context.Background(),
	}
}

// SetPositionSource wires the ground-truth share count used before selling.
func (t *Trader) SetPositionSource(p ports.PositionSource) { t.positions = p }

// SetScheduler wires the settlement check requested after each sell.
func (t *Trader) SetScheduler(s ports.SettlementScheduler) { t.scheduler = s }

// SetJournal wires the audit sink. Records are written by the Start loop.
func (t *Trader) SetJournal(j ports.Journal) { t.journal = j }

// Config returns the active policy.
func (t *Trader) Config() Config { return t.cfg }

// Enable starts taking new entries.
func (t *Trader) Enable() {
	t.mu.Lock()
	t.enabled = true
	t.mu.Unlock()
	slog.Info("trader: enabled")
}

// Disable stops new entries. Open positions keep being managed.
func (t *Trader) Disable() {
	t.mu.Lock()
	t.enabled = false
	for key, p := range t.pending {
		p.stop()
		delete(t.pending, key)
		t.note(p.event, p.source, "", domain.DecisionCancelled, "disabled")
	}
	t.mu.Unlock()
	slog.Info("trader: disabled")
}

// Enabled reports whether new entries are allowed.
func (t *Trader) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// OpenPositionCount returns the number of open positions.
func (t *Trader) OpenPositionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ledger.open)
}

// HandleUpdate is the dispatcher's entry point. A score change from a
// sports feed goes through the entry pipeline; quote changes from the
// exchange source are checked against open positions.
func (t *Trader) HandleUpdate(ctx context.Context, ev domain.EventUpdate, changed []string, source string) {
	t.mu.Lock()
	t.latest[ev.EventID] = ev
	t.seen[ev.EventID] = t.now()
	t.mu.Unlock()

	if source == t.cfg.ExchangeSource {
		for _, key := range changed {
			if key == domain.ScoreKey {
				continue
			}
			t.onQuote(ctx, ev, key)
		}
		return
	}
	if slices.Contains(changed, domain.ScoreKey) {
		t.onScore(ctx, ev, source)
	}
}

// Start runs the exit loop and the journal writer until Stop is called.
func (t *Trader) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.baseCtx = ctx
	t.cancel = cancel
	t.mu.Unlock()

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		t.runExitLoop(ctx)
	}()
	go func() {
		defer t.wg.Done()
		t.runJournal(ctx)
	}()
	slog.Info("trader: started", "tick", t.cfg.TickInterval, "enabled", t.Enabled())
}

// Stop halts the loops and cancels pending arbitration timers.
func (t *Trader) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	for key, p := range t.pending {
		p.stop()
		delete(t.pending, key)
	}
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
	slog.Info("trader: stopped")
}

func (t *Trader) runExitLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.CheckExits(ctx)
		}
	}
}

func (t *Trader) runJournal(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			t.drainJournal()
			return
		case item := <-t.journalCh:
			t.writeJournal(ctx, item)
		}
	}
}

func (t *Trader) drainJournal() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case item := <-t.journalCh:
			t.writeJournal(ctx, item)
		default:
			return
		}
	}
}

func (t *Trader) writeJournal(ctx context.Context, item journalItem) {
	if t.journal == nil {
		return
	}
	var err error
	switch {
	case item.activity != nil:
		err = t.journal.RecordActivity(ctx, *item.activity)
	case item.closed != nil:
		err = t.journal.RecordClosedTrade(ctx, *item.closed)
	}
	if err != nil {
		slog.Warn("trader: journal write failed", "err", err)
	}
}

func (t *Trader) enqueue(item journalItem) {
	if t.journal == nil {
		return
	}
	select {
	case t.journalCh <- item:
	default:
		slog.Warn("trader: journal buffer full, dropping record")
	}
}

// note records a decision. Caller holds t.mu.
func (t *Trader) note(ev domain.EventUpdate, source string, goal domain.GoalKind, d domain.Decision, reason string) {
	a := domain.GoalActivity{
		At:       t.now(),
		EventID:  ev.EventID,
		Label:    ev.Label(),
		Source:   source,
		Score:    ev.Score.String(),
		Goal:     goal,
		Decision: d,
		Reason:   reason,
	}
	t.ledger.record(a)
	metrics.DecisionsTotal.WithLabelValues(string(d)).Inc()
	if d != domain.DecisionSkip {
		slog.Info("trader: decision",
			"event", ev.Label(),
			"score", a.Score,
			"source", source,
			"goal", goal,
			"decision", d,
			"reason", reason,
		)
	} else {
		slog.Debug("trader: skip", "event", ev.Label(), "score", a.Score, "source", source, "reason", reason)
	}
	t.enqueue(journalItem{activity: &a})
}

// State returns a snapshot of the trader.
func (t *Trader) State() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Enabled:       t.enabled,
		RealizedPnL:   t.ledger.realized,
		Wins:          t.ledger.wins,
		Losses:        t.ledger.losses,
		FastestSource: t.fastestLocked(),
		Sources:       t.tracker.stats(),
		Open:          []PositionView{},
		Closed:        make([]PositionView, 0, len(t.ledger.closed)),
		Pending:       make([]PendingView, 0, len(t.pending)),
		Activity:      make([]ActivityView, 0, len(t.ledger.activity)),
	}
	for _, p := range t.ledger.openSorted() {
		v := viewOf(p)
		s.UnrealizedPnL += v.Unrealized
		s.Open = append(s.Open, v)
	}
	for i := len(t.ledger.closed) - 1; i >= 0; i-- {
		s.Closed = append(s.Closed, viewOf(&t.ledger.closed[i]))
	}
	for _, p := range t.pending {
		s.Pending = append(s.Pending, PendingView{
			EventID:  p.event.EventID,
			Score:    p.event.Score.String(),
			Source:   p.source,
			QueuedAt: p.queuedAt,
		})
	}
	slices.SortFunc(s.Pending, func(a, b PendingView) int { return a.QueuedAt.Compare(b.QueuedAt) })
	for i := len(t.ledger.activity) - 1; i >= 0; i-- {
		s.Activity = append(s.Activity, activityView(t.ledger.activity[i]))
	}
	return s
}

// ClosedPositions returns closed positions, newest first.
func (t *Trader) ClosedPositions() []domain.ManagedPosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.ManagedPosition, 0, len(t.ledger.closed))
	for i := len(t.ledger.closed) - 1; i >= 0; i-- {
		out = append(out, t.ledger.closed[i])
	}
	return out
}

func (t *Trader) fastestLocked() string {
	if t.cfg.FastestSource != "" {
		return t.cfg.FastestSource
	}
	return t.tracker.fastest(t.cfg.FastestMinSamples)
}
