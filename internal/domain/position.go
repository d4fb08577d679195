package domain

import "time"

// Side is the outcome a position is exposed to.
type Side string

const (
	SideYes Side = "YES" // affirmative outcome
	SideNo  Side = "NO"  // negative outcome
)

// GoalKind classifies a score transition.
type GoalKind string

const (
	GoalOpening   GoalKind = "opening"
	GoalEqualizer GoalKind = "equalizer"
	GoalGoAhead   GoalKind = "go_ahead"
	GoalExtending GoalKind = "extending"
	GoalNarrowing GoalKind = "narrowing"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitDeadline   ExitReason = "hard_deadline"
	ExitStabilized ExitReason = "stabilized"
)

// ManagedPosition is one unit of open exposure opened on a goal signal.
// Prices (entry, targets, observed) are affirmative implied probabilities of
// the market; token prices are derived per side.
type ManagedPosition struct {
	ID        string
	AssetID   string
	EventID   string
	MarketKey string
	Label     string
	Side      Side

	EntryPrice      float64 // quote space
	EntryTokenPrice float64 // price paid per share
	Shares          float64
	Committed       float64 // dollars
	EntryTime       time.Time

	Goal          GoalKind
	ScoreAtEntry  Score
	ExpectedMove  float64
	TakeProfit    float64
	StopLoss      float64
	HardDeadline  time.Time
	NextAttemptAt time.Time // earliest time another exit may be attempted
	ExitAttempts  int
	PendingExit   ExitReason // set after a failed sell, retried on a later tick

	LastPrice   float64
	LastPriceAt time.Time
	PriceTicks  int
	PeakPrice   float64 // most favorable quote seen

	Settled    bool
	ExitReason ExitReason
	ExitPrice  float64 // token price received
	ExitTime   time.Time
	PnL        float64
}

// TokenPrice converts an affirmative quote into this position's token price.
func (p *ManagedPosition) TokenPrice(quote float64) float64 {
	if p.Side == SideNo {
		return 1 - quote
	}
	return quote
}

// QuoteFromToken converts a token price back into quote space.
func (p *ManagedPosition) QuoteFromToken(price float64) float64 {
	if p.Side == SideNo {
		return 1 - price
	}
	return price
}

// HitTakeProfit reports whether quote has reached the take-profit target.
func (p *ManagedPosition) HitTakeProfit(quote float64) bool {
	if p.Side == SideNo {
		return quote <= p.TakeProfit
	}
	return quote >= p.TakeProfit
}

// HitStopLoss reports whether quote has crossed the stop-loss threshold.
func (p *ManagedPosition) HitStopLoss(quote float64) bool {
	if p.Side == SideNo {
		return quote >= p.StopLoss
	}
	return quote <= p.StopLoss
}

// Observe records a new quote and tracks the most favorable price seen.
func (p *ManagedPosition) Observe(quote float64, at time.Time) {
	p.LastPrice = quote
	p.LastPriceAt = at
	p.PriceTicks++
	if p.PeakPrice == 0 {
		p.PeakPrice = quote
		return
	}
	if (p.Side == SideNo && quote < p.PeakPrice) || (p.Side != SideNo && quote > p.PeakPrice) {
		p.PeakPrice = quote
	}
}

// RealizedPnL returns the P&L of selling every share at tokenPrice.
func (p *ManagedPosition) RealizedPnL(tokenPrice float64) float64 {
	return (tokenPrice - p.EntryTokenPrice) * p.Shares
}
