package ports

import (
	"context"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

// PositionSource reads the funding wallet's holdings from outside the engine.
type PositionSource interface {
	// PositionSize returns the shares currently held of assetID (ground truth).
	PositionSize(ctx context.Context, assetID string) (float64, error)

	// Holdings returns every conditional-token position of the wallet.
	Holdings(ctx context.Context) ([]domain.Holding, error)
}
