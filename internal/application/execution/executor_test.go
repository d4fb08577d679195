package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

type fakeExchange struct {
	mu        sync.Mutex
	book      domain.OrderBook
	bookErr   error
	tick      float64
	negRisk   bool
	signErr   error
	signed    []domain.OrderArgs
	payloads  [][]byte
	submit    func(call int) (domain.OrderAck, error)
	submits   int
	tickCalls int
	bookCalls int
}

func (f *fakeExchange) OrderBook(_ context.Context, _ string) (domain.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookCalls++
	return f.book, f.bookErr
}

func (f *fakeExchange) TickSize(_ context.Context, _ string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickCalls++
	if f.tick == 0 {
		return 0.01, nil
	}
	return f.tick, nil
}

func (f *fakeExchange) NegRisk(_ context.Context, _ string) (bool, error) {
	return f.negRisk, nil
}

func (f *fakeExchange) SignOrder(_ context.Context, args domain.OrderArgs) (domain.SignedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signErr != nil {
		return domain.SignedOrder{}, f.signErr
	}
	f.signed = append(f.signed, args)
	return domain.SignedOrder{AssetID: args.AssetID, Side: args.Side, Price: args.Price, Shares: args.Shares, Payload: []byte("signed-1")}, nil
}

func (f *fakeExchange) SubmitOrder(_ context.Context, order domain.SignedOrder) (domain.OrderAck, error) {
	f.mu.Lock()
	call := f.submits
	f.submits++
	f.payloads = append(f.payloads, order.Payload)
	fn := f.submit
	f.mu.Unlock()
	if fn == nil {
		return domain.OrderAck{OrderID: "0xorder", Success: true, Status: "matched"}, nil
	}
	return fn(call)
}

func (f *fakeExchange) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

type fixedCounter int

func (c fixedCounter) OpenPositionCount() int { return int(c) }

func armedConfig() Config {
	cfg := DefaultConfig()
	cfg.Armed = true
	cfg.SubmitTimeout = time.Second
	return cfg
}

func newTestExecutor(t *testing.T, ex *fakeExchange, cfg Config) *Executor {
	t.Helper()
	e, err := New(ex, cfg)
	require.NoError(t, err)
	return e
}

func bookWith(bid, ask float64) domain.OrderBook {
	return domain.OrderBook{
		Bids: []domain.BookEntry{{Price: bid, Size: 500}},
		Asks: []domain.BookEntry{{Price: ask, Size: 500}},
	}
}

func TestBuy_SignsOnceAndRacesIdenticalOrder(t *testing.T) {
	ex := &fakeExchange{
		book: bookWith(0.54, 0.55),
		submit: func(call int) (domain.OrderAck, error) {
			if call == 0 {
				return domain.OrderAck{OrderID: "0xwin", Success: true, TakingAmount: 18.18, MakingAmount: 10}, nil
			}
			return domain.OrderAck{}, errors.New("duplicate order")
		},
	}
	e := newTestExecutor(t, ex, armedConfig())

	res := e.Buy(context.Background(), "asset-1", 10, 0)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "0xwin", res.OrderID)
	assert.InDelta(t, 0.55, res.Price, 1e-9)
	assert.InDelta(t, 18.18, res.Shares, 1e-9)
	assert.False(t, res.Simulated)

	require.Len(t, ex.signed, 1)
	assert.Equal(t, domain.Buy, ex.signed[0].Side)
	assert.InDelta(t, 18.18, ex.signed[0].Shares, 1e-9)

	require.Eventually(t, func() bool { return ex.submitCount() == 3 }, time.Second, 5*time.Millisecond)
	ex.mu.Lock()
	for _, p := range ex.payloads {
		assert.Equal(t, []byte("signed-1"), p)
	}
	ex.mu.Unlock()
}

func TestBuy_AllSubmissionsFail(t *testing.T) {
	ex := &fakeExchange{
		book: bookWith(0.54, 0.55),
		submit: func(int) (domain.OrderAck, error) {
			return domain.OrderAck{Success: false, ErrorMsg: "not enough liquidity"}, nil
		},
	}
	e := newTestExecutor(t, ex, armedConfig())

	res := e.Buy(context.Background(), "asset-1", 10, 0)

	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrKindSubmission, res.ErrorKind)
	assert.Contains(t, res.Error, "not enough liquidity")
	assert.Equal(t, 3, ex.submitCount())
}

func TestRace_DoesNotWaitForStragglers(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	ex := &fakeExchange{
		book: bookWith(0.40, 0.41),
		submit: func(call int) (domain.OrderAck, error) {
			if call == 0 {
				return domain.OrderAck{OrderID: "0xfast", Success: true}, nil
			}
			<-release
			return domain.OrderAck{}, errors.New("duplicate")
		},
	}
	cfg := armedConfig()
	cfg.SubmitTimeout = 5 * time.Second
	e := newTestExecutor(t, ex, cfg)

	done := make(chan domain.TradeResult, 1)
	go func() { done <- e.Buy(context.Background(), "asset-1", 5, 0) }()

	select {
	case res := <-done:
		assert.True(t, res.Success)
		assert.Equal(t, "0xfast", res.OrderID)
	case <-time.After(time.Second):
		t.Fatal("buy blocked on straggling submissions")
	}
}

func TestBuy_BoundsRejectBeforeNetwork(t *testing.T) {
	tests := []struct {
		name     string
		notional float64
		open     int
		kind     domain.ErrorKind
	}{
		{"below minimum", 0.5, 0, domain.ErrKindAmountTooSmall},
		{"above maximum", 500, 0, domain.ErrKindAmountTooLarge},
		{"position limit", 10, 5, domain.ErrKindPositionLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &fakeExchange{book: bookWith(0.5, 0.51)}
			e := newTestExecutor(t, ex, armedConfig())
			e.SetPositionCounter(fixedCounter(tt.open))

			res := e.Buy(context.Background(), "asset", tt.notional, 0)

			assert.False(t, res.Success)
			assert.Equal(t, tt.kind, res.ErrorKind)
			assert.Zero(t, ex.submitCount())
			assert.Zero(t, ex.bookCalls)
		})
	}
}

func TestBuy_DisarmedSimulatesWithoutNetwork(t *testing.T) {
	ex := &fakeExchange{book: bookWith(0.5, 0.51)}
	cfg := armedConfig()
	cfg.Armed = false
	e := newTestExecutor(t, ex, cfg)

	res := e.Buy(context.Background(), "asset", 10, 0.5)

	assert.True(t, res.Success)
	assert.True(t, res.Simulated)
	assert.InDelta(t, 20, res.Shares, 1e-9)
	assert.Zero(t, ex.submitCount())
	assert.Zero(t, ex.bookCalls)
	assert.Zero(t, ex.tickCalls)
}

func TestBuy_NotInitialized(t *testing.T) {
	e, err := New(nil, armedConfig())
	require.NoError(t, err)

	res := e.Buy(context.Background(), "asset", 10, 0)
	assert.Equal(t, domain.ErrKindNotInitialized, res.ErrorKind)
}

func TestBuy_EmptyBook(t *testing.T) {
	ex := &fakeExchange{book: domain.OrderBook{Bids: []domain.BookEntry{{Price: 0.4, Size: 1}}}}
	e := newTestExecutor(t, ex, armedConfig())

	res := e.Buy(context.Background(), "asset", 10, 0)
	assert.Equal(t, domain.ErrKindEmptyBook, res.ErrorKind)
	assert.Zero(t, ex.submitCount())
}

func TestBuy_InvalidExplicitPrice(t *testing.T) {
	ex := &fakeExchange{}
	e := newTestExecutor(t, ex, armedConfig())

	res := e.Buy(context.Background(), "asset", 10, 1.2)
	assert.Equal(t, domain.ErrKindInvalidPrice, res.ErrorKind)
}

func TestBuy_SignatureFailure(t *testing.T) {
	ex := &fakeExchange{book: bookWith(0.5, 0.51), signErr: errors.New("bad key")}
	e := newTestExecutor(t, ex, armedConfig())

	res := e.Buy(context.Background(), "asset", 10, 0)
	assert.Equal(t, domain.ErrKindSignature, res.ErrorKind)
	assert.Zero(t, ex.submitCount())
}

func TestSell_HitsBestBidRoundedDown(t *testing.T) {
	ex := &fakeExchange{book: bookWith(0.634, 0.66)}
	e := newTestExecutor(t, ex, armedConfig())

	res := e.Sell(context.Background(), "asset", 12.345, 0)

	require.True(t, res.Success, res.Error)
	require.Len(t, ex.signed, 1)
	assert.Equal(t, domain.Sell, ex.signed[0].Side)
	assert.InDelta(t, 0.63, ex.signed[0].Price, 1e-9)
	assert.InDelta(t, 12.34, ex.signed[0].Shares, 1e-9)
}

func TestSell_ZeroShares(t *testing.T) {
	e := newTestExecutor(t, &fakeExchange{}, armedConfig())
	res := e.Sell(context.Background(), "asset", 0.001, 0.5)
	assert.Equal(t, domain.ErrKindOrderTooSmall, res.ErrorKind)
}

func TestMetadata_IsCached(t *testing.T) {
	ex := &fakeExchange{book: bookWith(0.5, 0.51), tick: 0.001}
	e := newTestExecutor(t, ex, armedConfig())

	e.Buy(context.Background(), "asset", 5, 0)
	e.Buy(context.Background(), "asset", 5, 0)

	assert.Equal(t, 1, ex.tickCalls)
	require.Len(t, ex.signed, 2)
	assert.InDelta(t, 0.001, ex.signed[1].TickSize, 1e-12)
}

func TestSetArmed(t *testing.T) {
	e := newTestExecutor(t, &fakeExchange{}, DefaultConfig())
	assert.False(t, e.Armed())
	e.SetArmed(true)
	assert.True(t, e.Armed())
}

func TestRoundToTick(t *testing.T) {
	assert.InDelta(t, 0.56, roundToTick(0.551, 0.01, roundUp), 1e-9)
	assert.InDelta(t, 0.55, roundToTick(0.559, 0.01, roundDown), 1e-9)
	assert.InDelta(t, 0.555, roundToTick(0.5551, 0.001, roundNearest), 1e-9)
	assert.InDelta(t, 0.55, roundToTick(0.55, 0.01, roundUp), 1e-9)
}

func TestSharesFor_RoundsUpToMinimumOrderValue(t *testing.T) {
	// $1 at 0.95 → 1.05 shares = $0.9975, below the $1 minimum → 1.06.
	assert.InDelta(t, 1.06, sharesFor(1, 0.95, 1), 1e-9)
	assert.InDelta(t, 20, sharesFor(10, 0.5, 1), 1e-9)
	assert.Zero(t, sharesFor(10, 0, 1))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, domain.ErrKindEmptyBook, KindOf(ErrEmptyBook))
	assert.Equal(t, domain.ErrKindSubmission, KindOf(errors.New("boom")))
	assert.Equal(t, domain.ErrKindNone, KindOf(nil))
}
