package execution

import (
	"github.com/shopspring/decimal"
)

type roundMode int

const (
	roundNearest roundMode = iota
	roundUp
	roundDown
)

const shareDecimals = 2

// roundToTick snaps price onto the market's tick grid.
func roundToTick(price, tick float64, mode roundMode) float64 {
	if tick <= 0 {
		tick = defaultTickSize
	}
	t := decimal.NewFromFloat(tick)
	q := decimal.NewFromFloat(price).Div(t)
	switch mode {
	case roundUp:
		q = q.Ceil()
	case roundDown:
		q = q.Floor()
	default:
		q = q.Round(0)
	}
	f, _ := q.Mul(t).Float64()
	return f
}

// validPrice reports whether price sits strictly inside the tradeable range.
func validPrice(price, tick float64) bool {
	return price >= tick && price <= 1-tick+1e-9
}

// sharesFor converts a dollar notional into whole-cent shares at price,
// rounding up when needed to clear the exchange minimum order value.
func sharesFor(notional, price, minOrderValue float64) float64 {
	if price <= 0 {
		return 0
	}
	p := decimal.NewFromFloat(price)
	shares := decimal.NewFromFloat(notional).Div(p).Truncate(shareDecimals)
	if minOrderValue > 0 && shares.Mul(p).LessThan(decimal.NewFromFloat(minOrderValue)) {
		shares = decimal.NewFromFloat(minOrderValue).Div(p).RoundCeil(shareDecimals)
	}
	f, _ := shares.Float64()
	return f
}

// floorShares truncates a share count to the exchange's size precision.
func floorShares(shares float64) float64 {
	f, _ := decimal.NewFromFloat(shares).Truncate(shareDecimals).Float64()
	return f
}

// notionalOf returns price × shares rounded to cents.
func notionalOf(price, shares float64) float64 {
	f, _ := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(shares)).Round(2).Float64()
	return f
}
