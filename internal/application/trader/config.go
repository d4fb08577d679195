package trader

import (
	"strings"
	"time"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

// SportCategory groups sports by how much a single score change matters.
type SportCategory string

const (
	CategoryLowScoring  SportCategory = "low_scoring"
	CategoryHighScoring SportCategory = "high_scoring"
	CategorySetBased    SportCategory = "set_based"
	CategoryRoundBased  SportCategory = "round_based"
)

// CategoryPolicy is the entry filter and move scaling of one sport category.
type CategoryPolicy struct {
	MinDelta          int     `json:"min_delta"`
	RequireLeadChange bool    `json:"require_lead_change"`
	MoveScale         float64 `json:"move_scale"`
}

// Config is the trader's policy. Every threshold is plain data.
type Config struct {
	Enabled bool `json:"enabled"`

	// ExchangeSource is the source id of the exchange's own price stream.
	// Its quote changes drive exits; its score changes are ignored.
	ExchangeSource string `json:"exchange_source"`

	Debounce time.Duration `json:"debounce"`

	Arbitration       bool          `json:"arbitration"`
	ArbitrationWindow time.Duration `json:"arbitration_window"`
	// FastestSource pins the preferred source. Empty = learned from history.
	FastestSource     string `json:"fastest_source"`
	FastestMinSamples int    `json:"fastest_min_samples"`

	Sports     map[string]SportCategory         `json:"sports"`
	Categories map[SportCategory]CategoryPolicy `json:"categories"`

	// TradeExtending allows extending/narrowing transitions through.
	TradeExtending bool `json:"trade_extending"`

	MinPrice float64 `json:"min_price"`
	MaxPrice float64 `json:"max_price"`

	Sizes         map[domain.GoalKind]float64 `json:"sizes"`
	ExpectedMoves map[domain.GoalKind]float64 `json:"expected_moves"`

	// Fractions of the expected move. <= 0 disables the trigger.
	TakeProfitFraction float64 `json:"take_profit_fraction"`
	StopLossFraction   float64 `json:"stop_loss_fraction"`

	HoldTime time.Duration `json:"hold_time"`
	// QuietThreshold <= 0 disables the stabilization exit.
	QuietThreshold time.Duration `json:"quiet_threshold"`
	MinHold        time.Duration `json:"min_hold"`

	SellRetryDelay time.Duration `json:"sell_retry_delay"`
	// LadderOffsets are applied to the current token price, in order.
	LadderOffsets []float64 `json:"ladder_offsets"`
	DumpPrice     float64   `json:"dump_price"`

	ReconcileTimeout time.Duration `json:"reconcile_timeout"`
	OrderTimeout     time.Duration `json:"order_timeout"`
	// SettlementDelay schedules a settlement check after a sell. 0 = never.
	SettlementDelay time.Duration `json:"settlement_delay"`

	TickInterval  time.Duration `json:"tick_interval"`
	HistoryLimit  int           `json:"history_limit"`
	ActivityLimit int           `json:"activity_limit"`
}

// DefaultConfig returns the default trading policy (disabled).
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		ExchangeSource:    "polymarket",
		Debounce:          2 * time.Second,
		Arbitration:       true,
		ArbitrationWindow: 500 * time.Millisecond,
		FastestMinSamples: 3,
		Sports: map[string]SportCategory{
			"soccer":            CategoryLowScoring,
			"football":          CategoryLowScoring,
			"hockey":            CategoryLowScoring,
			"baseball":          CategoryLowScoring,
			"basketball":        CategoryHighScoring,
			"american_football": CategoryHighScoring,
			"nfl":               CategoryHighScoring,
			"tennis":            CategorySetBased,
			"volleyball":        CategorySetBased,
			"esports":           CategoryRoundBased,
			"cs2":               CategoryRoundBased,
			"lol":               CategoryRoundBased,
			"dota2":             CategoryRoundBased,
			"valorant":          CategoryRoundBased,
		},
		Categories: map[SportCategory]CategoryPolicy{
			CategoryLowScoring:  {MinDelta: 1, MoveScale: 1.0},
			CategoryHighScoring: {MinDelta: 3, RequireLeadChange: true, MoveScale: 0.5},
			CategorySetBased:    {MinDelta: 1, MoveScale: 0.6},
			CategoryRoundBased:  {MinDelta: 0, MoveScale: 0.4},
		},
		MinPrice: 0.10,
		MaxPrice: 0.90,
		Sizes: map[domain.GoalKind]float64{
			domain.GoalGoAhead:   15,
			domain.GoalOpening:   10,
			domain.GoalEqualizer: 5,
		},
		ExpectedMoves: map[domain.GoalKind]float64{
			domain.GoalOpening:   0.15,
			domain.GoalGoAhead:   0.18,
			domain.GoalEqualizer: 0.12,
			domain.GoalExtending: 0.08,
			domain.GoalNarrowing: 0.06,
		},
		TakeProfitFraction: 0.8,
		StopLossFraction:   0.5,
		HoldTime:           5 * time.Minute,
		QuietThreshold:     90 * time.Second,
		MinHold:            60 * time.Second,
		SellRetryDelay:     5 * time.Second,
		LadderOffsets:      []float64{0, -0.02, -0.05},
		DumpPrice:          0.01,
		ReconcileTimeout:   3 * time.Second,
		OrderTimeout:       10 * time.Second,
		SettlementDelay:    2 * time.Minute,
		TickInterval:       time.Second,
		HistoryLimit:       200,
		ActivityLimit:      500,
	}
}

// category returns the policy category of sport, or false if unsupported.
func (c Config) category(sport string) (SportCategory, CategoryPolicy, bool) {
	cat, ok := c.Sports[strings.ToLower(strings.TrimSpace(sport))]
	if !ok {
		return "", CategoryPolicy{}, false
	}
	policy, ok := c.Categories[cat]
	return cat, policy, ok
}

// withDefaults fills zero values that would make the engine misbehave.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ExchangeSource == "" {
		c.ExchangeSource = d.ExchangeSource
	}
	if c.Sports == nil {
		c.Sports = d.Sports
	}
	if c.Categories == nil {
		c.Categories = d.Categories
	}
	if c.Sizes == nil {
		c.Sizes = d.Sizes
	}
	if c.ExpectedMoves == nil {
		c.ExpectedMoves = d.ExpectedMoves
	}
	if c.MaxPrice <= 0 {
		c.MaxPrice = d.MaxPrice
	}
	if c.HoldTime <= 0 {
		c.HoldTime = d.HoldTime
	}
	if c.SellRetryDelay <= 0 {
		c.SellRetryDelay = d.SellRetryDelay
	}
	if len(c.LadderOffsets) == 0 {
		c.LadderOffsets = d.LadderOffsets
	}
	if c.DumpPrice <= 0 {
		c.DumpPrice = d.DumpPrice
	}
	if c.ReconcileTimeout <= 0 {
		c.ReconcileTimeout = d.ReconcileTimeout
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = d.OrderTimeout
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.ActivityLimit <= 0 {
		c.ActivityLimit = d.ActivityLimit
	}
	if c.FastestMinSamples <= 0 {
		c.FastestMinSamples = d.FastestMinSamples
	}
	return c
}
