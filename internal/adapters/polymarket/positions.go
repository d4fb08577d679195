package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

const (
	positionsPath  = "/positions"
	positionsLimit = 500
)

// DataClient lee las posiciones reales de una wallet desde la Data API.
// Implementa ports.PositionSource.
type DataClient struct {
	client *Client
	user   string
}

// NewDataClient crea un DataClient para la wallet user (la funder/proxy si existe).
func NewDataClient(client *Client, user string) *DataClient {
	return &DataClient{client: client, user: strings.ToLower(user)}
}

// Holdings devuelve todas las posiciones con size > 0.
func (d *DataClient) Holdings(ctx context.Context) ([]domain.Holding, error) {
	positions, err := d.fetch(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("data-api.Holdings: %w", err)
	}
	out := make([]domain.Holding, 0, len(positions))
	for _, p := range positions {
		h := mapHolding(p)
		if h.Size <= 0 {
			continue
		}
		out = append(out, h)
	}
	slog.Debug("polymarket: holdings fetched", "count", len(out))
	return out, nil
}

// PositionSize devuelve el size real del token. 0 si no hay posición.
func (d *DataClient) PositionSize(ctx context.Context, assetID string) (float64, error) {
	positions, err := d.fetch(ctx, assetID)
	if err != nil {
		return 0, fmt.Errorf("data-api.PositionSize: %w", err)
	}
	for _, p := range positions {
		if p.Asset == assetID {
			return mapHolding(p).Size, nil
		}
	}
	return 0, nil
}

func (d *DataClient) fetch(ctx context.Context, assetID string) ([]dataPosition, error) {
	if d.user == "" {
		return nil, fmt.Errorf("no wallet configured")
	}
	q := url.Values{}
	q.Set("user", d.user)
	q.Set("sizeThreshold", "0")
	q.Set("limit", fmt.Sprint(positionsLimit))
	if assetID != "" {
		q.Set("asset", assetID)
	}
	u := d.client.dataBase + positionsPath + "?" + q.Encode()

	var resp []dataPosition
	if err := d.client.get(ctx, d.client.dataLimiter, u, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
