package domain

import "time"

// Holding is a conditional-token position held by the funding wallet.
type Holding struct {
	AssetID      string
	ConditionID  string
	Title        string
	Outcome      string
	OutcomeIndex int
	Size         float64
	CurPrice     float64
	Redeemable   bool
	NegRisk      bool
}

// IsTotalLoss reports a worthless holding that cannot be redeemed.
func (h Holding) IsTotalLoss(dust float64) bool {
	return h.CurPrice <= dust && h.ConditionID == ""
}

// RedeemCall describes one redemption on the settlement layer.
type RedeemCall struct {
	ConditionID string
	NegRisk     bool
	// Amounts per outcome index, in shares. Only used by neg-risk redemptions.
	Amounts []float64
}

// SettlementPath names the route that settled a holding.
type SettlementPath string

const (
	PathRelay      SettlementPath = "relay"
	PathProxy      SettlementPath = "proxy"
	PathMarketSell SettlementPath = "market_sell"
	PathSkipped    SettlementPath = "skipped"
	PathNone       SettlementPath = "none"
)

// RedeemOutcome reports what happened to one holding.
type RedeemOutcome struct {
	AssetID     string
	ConditionID string
	Title       string
	Path        SettlementPath
	Success     bool
	TxHash      string
	Error       string
	ExecutedAt  time.Time
}
