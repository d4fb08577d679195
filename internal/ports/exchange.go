package ports

import (
	"context"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

// Exchange is the narrow order-submission surface the execution core needs.
// A test double or another venue can implement it without touching the engine.
type Exchange interface {
	// OrderBook returns the live book for an asset.
	OrderBook(ctx context.Context, assetID string) (domain.OrderBook, error)

	// TickSize returns the minimum price increment of the asset's market.
	TickSize(ctx context.Context, assetID string) (float64, error)

	// NegRisk returns the risk-pooling flag of the asset's market.
	NegRisk(ctx context.Context, assetID string) (bool, error)

	// SignOrder builds and signs a fill-or-kill order once.
	SignOrder(ctx context.Context, args domain.OrderArgs) (domain.SignedOrder, error)

	// SubmitOrder posts a pre-signed order. It must not retry internally.
	SubmitOrder(ctx context.Context, order domain.SignedOrder) (domain.OrderAck, error)
}
