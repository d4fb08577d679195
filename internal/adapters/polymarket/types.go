package polymarket

import "encoding/json"

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- CLOB API ---

// orderBookResponse es la respuesta de GET /book.
type orderBookResponse struct {
	Market  string         `json:"market"`
	AssetID string         `json:"asset_id"`
	Bids    []bookEntryRaw `json:"bids"`
	Asks    []bookEntryRaw `json:"asks"`
}

// bookEntryRaw es un nivel de precio raw de la API (strings para mayor precisión).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// tickSizeResponse es la respuesta de GET /tick-size.
type tickSizeResponse struct {
	MinimumTickSize json.Number `json:"minimum_tick_size"`
}

// negRiskResponse es la respuesta de GET /neg-risk.
type negRiskResponse struct {
	NegRisk bool `json:"neg_risk"`
}

// clobOrderRequest es el body de POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

// clobOrderResponse es la respuesta de POST /order.
// makingAmount y takingAmount vienen en unidades humanas (USDC / shares).
type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

// --- Data API ---

// dataPosition es un item de GET /positions.
type dataPosition struct {
	ProxyWallet  string      `json:"proxyWallet"`
	Asset        string      `json:"asset"`
	ConditionID  string      `json:"conditionId"`
	Size         json.Number `json:"size"`
	AvgPrice     json.Number `json:"avgPrice"`
	CurPrice     json.Number `json:"curPrice"`
	Redeemable   bool        `json:"redeemable"`
	Title        string      `json:"title"`
	Outcome      string      `json:"outcome"`
	OutcomeIndex int         `json:"outcomeIndex"`
	NegativeRisk bool        `json:"negativeRisk"`
}
