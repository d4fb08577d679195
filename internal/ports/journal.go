package ports

import (
	"context"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

// Journal receives audit records. Implementations must not block the caller
// for long; failures are logged by the caller and never affect trading.
type Journal interface {
	RecordActivity(ctx context.Context, a domain.GoalActivity) error
	RecordClosedTrade(ctx context.Context, p domain.ManagedPosition) error
	RecordRedemption(ctx context.Context, o domain.RedeemOutcome) error
}
