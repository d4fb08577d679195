package polymarket

// orders.go: order signing and submission.
//
// Orders are fill-or-kill. Amounts are built with decimal arithmetic: the
// CLOB rejects orders whose maker/taker amounts exceed its precision rules
// (2 decimals on the side being spent in USDC, 4 on the side received).

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	gomodel "github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

const (
	orderPath     = "/order"
	orderTypeFOK  = "FOK"
	usdcDecimals  = 6
	sizeDecimals  = 2
	amountDecimal = 4
)

// SignOrder builds and signs an order once. The returned payload is the
// exact POST /order body and may be posted any number of times.
func (ac *AuthClient) SignOrder(ctx context.Context, args domain.OrderArgs) (domain.SignedOrder, error) {
	creds, err := ac.ensureCreds(ctx)
	if err != nil {
		return domain.SignedOrder{}, fmt.Errorf("polymarket.SignOrder: creds: %w", err)
	}

	makerAmt, takerAmt, err := orderAmounts(args)
	if err != nil {
		return domain.SignedOrder{}, fmt.Errorf("polymarket.SignOrder: %w", err)
	}

	side, sideStr := gomodel.BUY, "BUY"
	if args.Side == domain.Sell {
		side, sideStr = gomodel.SELL, "SELL"
	}

	verifyingContract := gomodel.CTFExchange
	if args.NegRisk {
		verifyingContract = gomodel.NegRiskCTFExchange
	}

	orderData := &gomodel.OrderData{
		Maker:         ac.maker.Hex(),
		Taker:         zeroAddress,
		TokenId:       args.AssetID,
		MakerAmount:   makerAmt,
		TakerAmount:   takerAmt,
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        ac.address.Hex(),
		Expiration:    "0",
		Side:          side,
		SignatureType: gomodel.SignatureType(ac.sigType),
	}

	signed, err := ac.orderBuilder.BuildSignedOrder(ac.privateKey, orderData, verifyingContract)
	if err != nil {
		return domain.SignedOrder{}, fmt.Errorf("polymarket.SignOrder: build: %w", err)
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       args.AssetID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          sideStr,
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     creds.APIKey,
		OrderType: orderTypeFOK,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.SignedOrder{}, fmt.Errorf("polymarket.SignOrder: marshal: %w", err)
	}

	return domain.SignedOrder{
		AssetID: args.AssetID,
		Side:    args.Side,
		Price:   args.Price,
		Shares:  args.Shares,
		Payload: payload,
	}, nil
}

// SubmitOrder posts a pre-signed order exactly once. No retries: a retry
// is just another race path and is the caller's decision.
func (ac *AuthClient) SubmitOrder(ctx context.Context, order domain.SignedOrder) (domain.OrderAck, error) {
	creds, err := ac.ensureCreds(ctx)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("polymarket.SubmitOrder: creds: %w", err)
	}
	headers, err := ac.l2Headers(creds, http.MethodPost, orderPath, string(order.Payload))
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("polymarket.SubmitOrder: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ac.clobBase+orderPath, bytes.NewReader(order.Payload))
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("polymarket.SubmitOrder: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := ac.http.Do(req)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("polymarket.SubmitOrder: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	var raw clobOrderResponse
	decodeErr := json.Unmarshal(respBody, &raw)

	if resp.StatusCode >= 400 {
		msg := string(respBody)
		if decodeErr == nil && raw.ErrorMsg != "" {
			msg = raw.ErrorMsg
		}
		return domain.OrderAck{}, fmt.Errorf("polymarket.SubmitOrder: status %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return domain.OrderAck{}, fmt.Errorf("polymarket.SubmitOrder: decode: %w", decodeErr)
	}
	return mapAck(raw), nil
}

// orderAmounts returns maker and taker amounts in 6-decimal base units.
//
// BUY:  maker = USDC spent (2dp), taker = shares received (4dp).
// SELL: maker = shares sold (2dp), taker = USDC received (4dp).
func orderAmounts(args domain.OrderArgs) (maker, taker string, err error) {
	tickDecimals := int32(2)
	if args.TickSize > 0 {
		if e := -decimal.NewFromFloat(args.TickSize).Exponent(); e > tickDecimals {
			tickDecimals = e
		}
	}
	price := decimal.NewFromFloat(args.Price).Round(tickDecimals)
	if !price.IsPositive() || price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return "", "", fmt.Errorf("invalid price %.4f", args.Price)
	}
	shares := decimal.NewFromFloat(args.Shares).Truncate(sizeDecimals)

	var m, t decimal.Decimal
	switch args.Side {
	case domain.Sell:
		m = shares
		t = shares.Mul(price).Truncate(amountDecimal)
	default:
		m = shares.Mul(price).Truncate(sizeDecimals)
		t = m.Div(price).Truncate(amountDecimal)
	}
	if !m.IsPositive() || !t.IsPositive() {
		return "", "", fmt.Errorf("invalid amounts: maker=%s taker=%s (price=%s shares=%s)", m, t, price, shares)
	}
	return m.Shift(usdcDecimals).String(), t.Shift(usdcDecimals).String(), nil
}
