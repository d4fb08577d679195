package trader

import (
	"sort"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

// ledger is the in-memory book of open and closed positions plus the
// decision log. It is not safe for concurrent use; Trader.mu guards it.
type ledger struct {
	open     map[string]*domain.ManagedPosition // position id →
	byEvent  map[string]string                  // event id → position id
	closed   []domain.ManagedPosition
	activity []domain.GoalActivity

	historyLimit  int
	activityLimit int

	realized float64
	wins     int
	losses   int
}

func newLedger(historyLimit, activityLimit int) *ledger {
	return &ledger{
		open:          make(map[string]*domain.ManagedPosition),
		byEvent:       make(map[string]string),
		historyLimit:  historyLimit,
		activityLimit: activityLimit,
	}
}

func (l *ledger) add(p *domain.ManagedPosition) {
	l.open[p.ID] = p
	l.byEvent[p.EventID] = p.ID
}

func (l *ledger) forEvent(eventID string) (*domain.ManagedPosition, bool) {
	id, ok := l.byEvent[eventID]
	if !ok {
		return nil, false
	}
	p, ok := l.open[id]
	return p, ok
}

// close moves a settled position into history and books its P&L.
func (l *ledger) close(p *domain.ManagedPosition) {
	delete(l.open, p.ID)
	if l.byEvent[p.EventID] == p.ID {
		delete(l.byEvent, p.EventID)
	}
	l.closed = append(l.closed, *p)
	if len(l.closed) > l.historyLimit {
		l.closed = l.closed[len(l.closed)-l.historyLimit:]
	}
	l.realized += p.PnL
	if p.PnL > 0 {
		l.wins++
	} else {
		l.losses++
	}
}

func (l *ledger) record(a domain.GoalActivity) {
	l.activity = append(l.activity, a)
	if len(l.activity) > l.activityLimit {
		l.activity = l.activity[len(l.activity)-l.activityLimit:]
	}
}

// openSorted returns open positions ordered by entry time.
func (l *ledger) openSorted() []*domain.ManagedPosition {
	out := make([]*domain.ManagedPosition, 0, len(l.open))
	for _, p := range l.open {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}
