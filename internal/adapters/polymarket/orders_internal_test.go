package polymarket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

func TestOrderAmounts(t *testing.T) {
	tests := []struct {
		name         string
		args         domain.OrderArgs
		maker, taker string
	}{
		{
			name:  "buy spends whole cents",
			args:  domain.OrderArgs{Side: domain.Buy, Price: 0.55, Shares: 18.18, TickSize: 0.01},
			maker: "9990000", taker: "18163600",
		},
		{
			name:  "sell gives shares",
			args:  domain.OrderArgs{Side: domain.Sell, Price: 0.63, Shares: 12.34, TickSize: 0.01},
			maker: "12340000", taker: "7774200",
		},
		{
			name:  "sub-cent tick",
			args:  domain.OrderArgs{Side: domain.Sell, Price: 0.555, Shares: 10, TickSize: 0.001},
			maker: "10000000", taker: "5550000",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maker, taker, err := orderAmounts(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.maker, maker)
			assert.Equal(t, tt.taker, taker)
		})
	}
}

func TestOrderAmounts_Invalid(t *testing.T) {
	_, _, err := orderAmounts(domain.OrderArgs{Side: domain.Buy, Price: 1, Shares: 5, TickSize: 0.01})
	assert.Error(t, err)

	_, _, err = orderAmounts(domain.OrderArgs{Side: domain.Buy, Price: 0.5, Shares: 0.001, TickSize: 0.01})
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	assert.InDelta(t, 18.18, parseAmount("18.18"), 1e-9)
	assert.Zero(t, parseAmount(""))
	assert.Zero(t, parseAmount("n/a"))
}
