package trader

import (
	"time"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

// PositionView is the serializable view of a managed position.
type PositionView struct {
	ID           string            `json:"id"`
	EventID      string            `json:"event_id"`
	Label        string            `json:"label"`
	MarketKey    string            `json:"market"`
	Side         domain.Side       `json:"side"`
	AssetID      string            `json:"asset_id"`
	Goal         domain.GoalKind   `json:"goal"`
	ScoreAtEntry string            `json:"score_at_entry"`
	EntryPrice   float64           `json:"entry_price"`
	EntryToken   float64           `json:"entry_token_price"`
	Shares       float64           `json:"shares"`
	Committed    float64           `json:"committed"`
	TakeProfit   float64           `json:"take_profit"`
	StopLoss     float64           `json:"stop_loss"`
	LastPrice    float64           `json:"last_price"`
	PeakPrice    float64           `json:"peak_price"`
	EntryTime    time.Time         `json:"entry_time"`
	HardDeadline time.Time         `json:"hard_deadline"`
	ExitAttempts int               `json:"exit_attempts"`
	Unrealized   float64           `json:"unrealized_pnl,omitempty"`
	ExitReason   domain.ExitReason `json:"exit_reason,omitempty"`
	ExitPrice    float64           `json:"exit_price,omitempty"`
	ExitTime     time.Time         `json:"exit_time,omitzero"`
	PnL          float64           `json:"pnl,omitempty"`
}

// SourceStat is how often a source reported a transition first.
type SourceStat struct {
	Source       string `json:"source"`
	FirstReports int    `json:"first_reports"`
}

// PendingView is a transition waiting on arbitration.
type PendingView struct {
	EventID  string    `json:"event_id"`
	Score    string    `json:"score"`
	Source   string    `json:"source"`
	QueuedAt time.Time `json:"queued_at"`
}

// ActivityView is the serializable view of one decision.
type ActivityView struct {
	At       time.Time       `json:"at"`
	EventID  string          `json:"event_id"`
	Label    string          `json:"label"`
	Source   string          `json:"source"`
	Score    string          `json:"score"`
	Goal     domain.GoalKind `json:"goal,omitempty"`
	Decision domain.Decision `json:"decision"`
	Reason   string          `json:"reason,omitempty"`
}

// Snapshot is a point-in-time copy of the trader's state.
type Snapshot struct {
	Enabled       bool           `json:"enabled"`
	Open          []PositionView `json:"open"`
	Closed        []PositionView `json:"closed"`
	Pending       []PendingView  `json:"pending"`
	Activity      []ActivityView `json:"activity"`
	RealizedPnL   float64        `json:"realized_pnl"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	Wins          int            `json:"wins"`
	Losses        int            `json:"losses"`
	FastestSource string         `json:"fastest_source"`
	Sources       []SourceStat   `json:"sources"`
}

func viewOf(p *domain.ManagedPosition) PositionView {
	v := PositionView{
		ID:           p.ID,
		EventID:      p.EventID,
		Label:        p.Label,
		MarketKey:    p.MarketKey,
		Side:         p.Side,
		AssetID:      p.AssetID,
		Goal:         p.Goal,
		ScoreAtEntry: p.ScoreAtEntry.String(),
		EntryPrice:   p.EntryPrice,
		EntryToken:   p.EntryTokenPrice,
		Shares:       p.Shares,
		Committed:    p.Committed,
		TakeProfit:   p.TakeProfit,
		StopLoss:     p.StopLoss,
		LastPrice:    p.LastPrice,
		PeakPrice:    p.PeakPrice,
		EntryTime:    p.EntryTime,
		HardDeadline: p.HardDeadline,
		ExitAttempts: p.ExitAttempts,
		ExitReason:   p.ExitReason,
		ExitPrice:    p.ExitPrice,
		ExitTime:     p.ExitTime,
		PnL:          p.PnL,
	}
	if !p.Settled && p.LastPrice > 0 {
		v.Unrealized = p.RealizedPnL(p.TokenPrice(p.LastPrice))
	}
	return v
}

func activityView(a domain.GoalActivity) ActivityView {
	return ActivityView(a)
}
