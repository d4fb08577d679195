package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

// Redeemer is one on-chain route for turning resolved tokens into collateral.
type Redeemer interface {
	Name() domain.SettlementPath
	Redeem(ctx context.Context, call domain.RedeemCall) (txHash string, err error)
}

// SettlementScheduler asks the settlement loop for an out-of-band check.
type SettlementScheduler interface {
	ScheduleCheck(delay time.Duration)
}
