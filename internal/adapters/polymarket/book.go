package polymarket

import (
	"context"
	"fmt"
	"net/url"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

const (
	bookPath     = "/book"
	tickSizePath = "/tick-size"
	negRiskPath  = "/neg-risk"
)

// OrderBook obtiene el libro de un token vía GET /book.
func (c *Client) OrderBook(ctx context.Context, assetID string) (domain.OrderBook, error) {
	u := fmt.Sprintf("%s%s?token_id=%s", c.clobBase, bookPath, url.QueryEscape(assetID))

	var resp orderBookResponse
	if err := c.get(ctx, c.bookLimiter, u, &resp); err != nil {
		return domain.OrderBook{}, fmt.Errorf("clob.OrderBook: %w", err)
	}
	book := mapOrderBook(resp)
	if book.AssetID == "" {
		book.AssetID = assetID
	}
	return book, nil
}

// TickSize devuelve el tick mínimo de precio del mercado del token.
func (c *Client) TickSize(ctx context.Context, assetID string) (float64, error) {
	u := fmt.Sprintf("%s%s?token_id=%s", c.clobBase, tickSizePath, url.QueryEscape(assetID))

	var resp tickSizeResponse
	if err := c.get(ctx, c.clobLimiter, u, &resp); err != nil {
		return 0, fmt.Errorf("clob.TickSize: %w", err)
	}
	tick, err := resp.MinimumTickSize.Float64()
	if err != nil || tick <= 0 {
		return 0, fmt.Errorf("clob.TickSize: invalid tick %q", resp.MinimumTickSize)
	}
	return tick, nil
}

// NegRisk indica si el token usa el NegRisk adapter.
func (c *Client) NegRisk(ctx context.Context, assetID string) (bool, error) {
	u := fmt.Sprintf("%s%s?token_id=%s", c.clobBase, negRiskPath, url.QueryEscape(assetID))

	var resp negRiskResponse
	if err := c.get(ctx, c.clobLimiter, u, &resp); err != nil {
		return false, fmt.Errorf("clob.NegRisk: %w", err)
	}
	return resp.NegRisk, nil
}
