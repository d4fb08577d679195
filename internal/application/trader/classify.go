package trader

import "github.com/alejandrodnm/goaltrader/internal/domain"

// classifyGoal names the transition prev → next.
func classifyGoal(prev, next domain.Score) domain.GoalKind {
	if prev.Total() == 0 {
		return domain.GoalOpening
	}
	newLead, prevLead := next.Lead(), prev.Lead()
	switch {
	case newLead == 0:
		return domain.GoalEqualizer
	case newLead != prevLead:
		return domain.GoalGoAhead
	case margin(next) > margin(prev):
		return domain.GoalExtending
	default:
		return domain.GoalNarrowing
	}
}

func margin(s domain.Score) int {
	d := s.Home - s.Away
	if d < 0 {
		return -d
	}
	return d
}

// scoreDecreased reports whether either side's score went down, which is a
// correction or a stale report, never a goal.
func scoreDecreased(prev, next domain.Score) bool {
	return next.Home < prev.Home || next.Away < prev.Away
}

// passesCategory applies the sport category's minimum-change filter.
func passesCategory(policy CategoryPolicy, prev, next domain.Score) bool {
	if next.Delta(prev) < policy.MinDelta {
		return false
	}
	if policy.RequireLeadChange && next.Lead() == prev.Lead() {
		return false
	}
	return true
}

// candidate is one (market, side) pair that expresses a directional view.
type candidate struct {
	key  string
	side domain.Side
}

// candidates returns the markets to try, in preference order, for the team
// now leading. A tie only trades the draw market.
func candidates(s domain.Score) []candidate {
	switch s.Lead() {
	case 1:
		return []candidate{{domain.MarketHome, domain.SideYes}, {domain.MarketAway, domain.SideNo}}
	case -1:
		return []candidate{{domain.MarketAway, domain.SideYes}, {domain.MarketHome, domain.SideNo}}
	default:
		return []candidate{{domain.MarketDraw, domain.SideYes}}
	}
}

// targets returns take-profit and stop-loss in quote space. A disabled
// trigger gets a price that can never be reached.
func targets(cfg Config, side domain.Side, entry, move float64) (tp, sl float64) {
	dir := 1.0
	if side == domain.SideNo {
		dir = -1
	}
	tp, sl = 2*dir, -2*dir
	if cfg.TakeProfitFraction > 0 {
		tp = entry + dir*cfg.TakeProfitFraction*move
	}
	if cfg.StopLossFraction > 0 {
		sl = entry - dir*cfg.StopLossFraction*move
	}
	return tp, sl
}
