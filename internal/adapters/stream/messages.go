package stream

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// maxSpread is the widest book whose midpoint is still taken as the price.
const maxSpread = 0.10

type wsLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wsPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

type wsMessage struct {
	EventType    string          `json:"event_type"`
	AssetID      string          `json:"asset_id"`
	Bids         []wsLevel       `json:"bids"`
	Asks         []wsLevel       `json:"asks"`
	Price        string          `json:"price"`
	PriceChanges []wsPriceChange `json:"price_changes"`
	Timestamp    string          `json:"timestamp"`
}

type subscribeMessage struct {
	AssetIDs  []string `json:"assets_ids"`
	Type      string   `json:"type,omitempty"`
	Operation string   `json:"operation,omitempty"`
}

// priceUpdate is one asset price extracted from the market channel.
type priceUpdate struct {
	AssetID string
	Price   float64
	At      time.Time
}

// parseMessages decodes a frame (a single object or an array of them).
func parseMessages(data []byte, now time.Time) ([]priceUpdate, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	var msgs []wsMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, err
		}
	} else {
		var m wsMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		msgs = []wsMessage{m}
	}

	var out []priceUpdate
	for _, m := range msgs {
		at := parseTimestamp(m.Timestamp, now)
		switch m.EventType {
		case "book":
			if p, ok := midpoint(bestBid(m.Bids), bestAsk(m.Asks)); ok {
				out = append(out, priceUpdate{AssetID: m.AssetID, Price: p, At: at})
			}
		case "price_change":
			for _, c := range m.PriceChanges {
				if p, ok := midpoint(parsePrice(c.BestBid), parsePrice(c.BestAsk)); ok {
					out = append(out, priceUpdate{AssetID: c.AssetID, Price: p, At: at})
				}
			}
		case "last_trade_price":
			if p := parsePrice(m.Price); p > 0 {
				out = append(out, priceUpdate{AssetID: m.AssetID, Price: p, At: at})
			}
		}
	}
	return out, nil
}

func midpoint(bid, ask float64) (float64, bool) {
	if bid <= 0 || ask <= 0 || ask < bid || ask-bid > maxSpread+1e-9 {
		return 0, false
	}
	mid := decimal.NewFromFloat(bid).Add(decimal.NewFromFloat(ask)).Div(decimal.NewFromInt(2)).Round(4)
	f, _ := mid.Float64()
	return f, true
}

func bestBid(levels []wsLevel) float64 {
	best := 0.0
	for _, l := range levels {
		if p := parsePrice(l.Price); p > best && parsePrice(l.Size) > 0 {
			best = p
		}
	}
	return best
}

func bestAsk(levels []wsLevel) float64 {
	best := 0.0
	for _, l := range levels {
		p := parsePrice(l.Price)
		if p <= 0 || parsePrice(l.Size) <= 0 {
			continue
		}
		if best == 0 || p < best {
			best = p
		}
	}
	return best
}

func parsePrice(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

func parseTimestamp(s string, fallback time.Time) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.UnixMilli(ms)
}
