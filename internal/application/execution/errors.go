package execution

import (
	"errors"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

// Sentinel errors backing each failure kind of a TradeResult.
var (
	ErrNotInitialized = errors.New("execution: exchange client not initialized")
	ErrAmountTooSmall = errors.New("execution: amount below minimum")
	ErrAmountTooLarge = errors.New("execution: amount above maximum")
	ErrPositionLimit  = errors.New("execution: open position limit reached")
	ErrEmptyBook      = errors.New("execution: empty order book")
	ErrInvalidPrice   = errors.New("execution: invalid price")
	ErrOrderTooSmall  = errors.New("execution: order too small")
	ErrSignature      = errors.New("execution: order signing failed")
	ErrSubmission     = errors.New("execution: order submission failed")
)

var errorKinds = map[error]domain.ErrorKind{
	ErrNotInitialized: domain.ErrKindNotInitialized,
	ErrAmountTooSmall: domain.ErrKindAmountTooSmall,
	ErrAmountTooLarge: domain.ErrKindAmountTooLarge,
	ErrPositionLimit:  domain.ErrKindPositionLimit,
	ErrEmptyBook:      domain.ErrKindEmptyBook,
	ErrInvalidPrice:   domain.ErrKindInvalidPrice,
	ErrOrderTooSmall:  domain.ErrKindOrderTooSmall,
	ErrSignature:      domain.ErrKindSignature,
	ErrSubmission:     domain.ErrKindSubmission,
}

// KindOf returns the failure kind of err, defaulting to submission.
func KindOf(err error) domain.ErrorKind {
	if err == nil {
		return domain.ErrKindNone
	}
	for sentinel, kind := range errorKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return domain.ErrKindSubmission
}
