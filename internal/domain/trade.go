package domain

import "time"

// OrderSide is the direction of an exchange order.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// ErrorKind classifies why an order did not fill.
type ErrorKind string

const (
	ErrKindNone           ErrorKind = ""
	ErrKindNotInitialized ErrorKind = "not_initialized"
	ErrKindAmountTooSmall ErrorKind = "amount_too_small"
	ErrKindAmountTooLarge ErrorKind = "amount_too_large"
	ErrKindPositionLimit  ErrorKind = "position_limit"
	ErrKindEmptyBook      ErrorKind = "empty_book"
	ErrKindInvalidPrice   ErrorKind = "invalid_price"
	ErrKindOrderTooSmall  ErrorKind = "order_too_small"
	ErrKindSignature      ErrorKind = "signature"
	ErrKindSubmission     ErrorKind = "submission"
)

// TradeRequest is one attempted order.
type TradeRequest struct {
	ID          string
	AssetID     string
	Side        OrderSide
	Notional    float64 // BUY: dollars to spend
	Shares      float64 // SELL: shares to sell
	Price       float64 // 0 = pick from the book
	Label       string
	RequestedAt time.Time
}

// TradeResult is the immutable outcome of a TradeRequest.
type TradeResult struct {
	Request     TradeRequest
	Success     bool
	Simulated   bool
	OrderID     string
	Price       float64
	Shares      float64
	Notional    float64
	ErrorKind   ErrorKind
	Error       string
	Latency     time.Duration
	CompletedAt time.Time
}

// OrderArgs are the inputs needed to build and sign an exchange order.
type OrderArgs struct {
	AssetID  string
	Side     OrderSide
	Price    float64
	Shares   float64
	TickSize float64
	NegRisk  bool
}

// SignedOrder is a signed, serialized order ready to be posted as-is.
// Posting the same payload more than once is safe: the exchange rejects duplicates.
type SignedOrder struct {
	AssetID string
	Side    OrderSide
	Price   float64
	Shares  float64
	Payload []byte
}

// OrderAck is the exchange's response to a submission.
type OrderAck struct {
	OrderID      string
	Status       string
	Success      bool
	ErrorMsg     string
	MakingAmount float64
	TakingAmount float64
}
