package domain

import "strconv"

// OrderBook is the order book of one asset.
type OrderBook struct {
	AssetID string
	Bids    []BookEntry // best (highest) first
	Asks    []BookEntry // best (lowest) first
}

// BookEntry is one price level.
type BookEntry struct {
	Price float64
	Size  float64
}

// BestBid returns the highest bid, or 0 on an empty side.
func (ob OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk returns the lowest ask, or 0 on an empty side.
func (ob OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// Midpoint returns the mid between best bid and best ask.
func (ob OrderBook) Midpoint() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Spread returns ask - bid.
func (ob OrderBook) Spread() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return ask - bid
}

// AskDepth returns the shares offered at or below maxPrice.
func (ob OrderBook) AskDepth(maxPrice float64) float64 {
	var total float64
	for _, a := range ob.Asks {
		if a.Price > maxPrice {
			break
		}
		total += a.Size
	}
	return total
}

// BidDepth returns the shares bid at or above minPrice.
func (ob OrderBook) BidDepth(minPrice float64) float64 {
	var total float64
	for _, b := range ob.Bids {
		if b.Price < minPrice {
			break
		}
		total += b.Size
	}
	return total
}

// ParsePrice converts an API price string to float64.
func ParsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
