package polymarket

import (
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

// mapOrderBook convierte la respuesta de /book a domain.OrderBook.
func mapOrderBook(r orderBookResponse) domain.OrderBook {
	return domain.OrderBook{
		AssetID: r.AssetID,
		Bids:    mapBookEntries(r.Bids, false),
		Asks:    mapBookEntries(r.Asks, true),
	}
}

// mapBookEntries convierte entries raw a domain.BookEntry y los ordena.
// ascending=true → menor a mayor (asks), ascending=false → mayor a menor (bids).
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price, _ := strconv.ParseFloat(r.Price, 64)
		size, _ := strconv.ParseFloat(r.Size, 64)
		if price <= 0 || size <= 0 {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price < entries[j].Price
		}
		return entries[i].Price > entries[j].Price
	})

	return entries
}

// mapHolding convierte una posición de la Data API a domain.Holding.
func mapHolding(p dataPosition) domain.Holding {
	size, _ := p.Size.Float64()
	cur, _ := p.CurPrice.Float64()
	return domain.Holding{
		AssetID:      p.Asset,
		ConditionID:  p.ConditionID,
		Title:        p.Title,
		Outcome:      p.Outcome,
		OutcomeIndex: p.OutcomeIndex,
		Size:         size,
		CurPrice:     cur,
		Redeemable:   p.Redeemable,
		NegRisk:      p.NegativeRisk,
	}
}

// mapAck convierte la respuesta de POST /order a domain.OrderAck.
func mapAck(r clobOrderResponse) domain.OrderAck {
	return domain.OrderAck{
		OrderID:      r.OrderID,
		Status:       r.Status,
		Success:      r.Success,
		ErrorMsg:     r.ErrorMsg,
		MakingAmount: parseAmount(r.MakingAmount),
		TakingAmount: parseAmount(r.TakingAmount),
	}
}

// parseAmount parsea un monto decimal de la API; vacío o inválido → 0.
func parseAmount(s string) float64 {
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
