package settlement

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

const condA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

type fakeHoldings struct {
	mu    sync.Mutex
	list  []domain.Holding
	err   error
	calls int
}

func (f *fakeHoldings) PositionSize(context.Context, string) (float64, error) { return 0, nil }

func (f *fakeHoldings) Holdings(context.Context) ([]domain.Holding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.list, f.err
}

func (f *fakeHoldings) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRedeemer struct {
	name  domain.SettlementPath
	err   error
	calls []domain.RedeemCall
}

func (f *fakeRedeemer) Name() domain.SettlementPath { return f.name }

func (f *fakeRedeemer) Redeem(_ context.Context, call domain.RedeemCall) (string, error) {
	f.calls = append(f.calls, call)
	if f.err != nil {
		return "", f.err
	}
	return "0xtx-" + string(f.name), nil
}

type sellCall struct {
	asset         string
	shares, price float64
}

type fakeSeller struct {
	ok    bool
	calls []sellCall
}

func (f *fakeSeller) Sell(_ context.Context, assetID string, shares, price float64) domain.TradeResult {
	f.calls = append(f.calls, sellCall{assetID, shares, price})
	if !f.ok {
		return domain.TradeResult{ErrorKind: domain.ErrKindEmptyBook, Error: "empty book"}
	}
	return domain.TradeResult{Success: true, Price: price, Shares: shares}
}

type memJournal struct {
	outcomes []domain.RedeemOutcome
}

func (m *memJournal) RecordActivity(context.Context, domain.GoalActivity) error       { return nil }
func (m *memJournal) RecordClosedTrade(context.Context, domain.ManagedPosition) error { return nil }
func (m *memJournal) RecordRedemption(_ context.Context, o domain.RedeemOutcome) error {
	m.outcomes = append(m.outcomes, o)
	return nil
}

func resolved(asset string, price float64) domain.Holding {
	return domain.Holding{
		AssetID:     asset,
		ConditionID: condA,
		Title:       "Arsenal vs Chelsea",
		Size:        10,
		CurPrice:    price,
		Redeemable:  true,
	}
}

func TestRelayFirst(t *testing.T) {
	h := &fakeHoldings{list: []domain.Holding{resolved("tok1", 1)}}
	relay := &fakeRedeemer{name: domain.PathRelay}
	proxy := &fakeRedeemer{name: domain.PathProxy}
	seller := &fakeSeller{ok: true}

	out, err := New(h, seller, DefaultConfig(), relay, proxy).RedeemResolved(context.Background())

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.PathRelay, out[0].Path)
	assert.True(t, out[0].Success)
	assert.Equal(t, "0xtx-relay", out[0].TxHash)
	assert.Len(t, relay.calls, 1)
	assert.Empty(t, proxy.calls)
	assert.Empty(t, seller.calls)
}

func TestProxyAfterRelayFails(t *testing.T) {
	h := &fakeHoldings{list: []domain.Holding{resolved("tok1", 1)}}
	relay := &fakeRedeemer{name: domain.PathRelay, err: errors.New("relayer 503")}
	proxy := &fakeRedeemer{name: domain.PathProxy}

	out, err := New(h, &fakeSeller{ok: true}, DefaultConfig(), relay, proxy).RedeemResolved(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.PathProxy, out[0].Path)
	assert.True(t, out[0].Success)
}

func TestMarketSellWhenChainFails(t *testing.T) {
	h := &fakeHoldings{list: []domain.Holding{resolved("tok1", 0.75)}}
	relay := &fakeRedeemer{name: domain.PathRelay, err: errors.New("relayer down")}
	proxy := &fakeRedeemer{name: domain.PathProxy, err: errors.New("no gas")}
	seller := &fakeSeller{ok: true}

	out, err := New(h, seller, DefaultConfig(), relay, proxy).RedeemResolved(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.PathMarketSell, out[0].Path)
	assert.True(t, out[0].Success)
	require.Len(t, seller.calls, 1)
	assert.Equal(t, sellCall{"tok1", 10, 0.73}, seller.calls[0])
}

func TestMarketSellWithoutRedeemers(t *testing.T) {
	h := &fakeHoldings{list: []domain.Holding{resolved("tok1", 0.02)}}
	seller := &fakeSeller{ok: true}

	out, err := New(h, seller, DefaultConfig()).RedeemResolved(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.PathMarketSell, out[0].Path)
	assert.Equal(t, 0.01, seller.calls[0].price, "bounded below by the minimum price")
}

func TestDustHoldingNotSold(t *testing.T) {
	h := &fakeHoldings{list: []domain.Holding{resolved("tok1", 0.005)}}
	relay := &fakeRedeemer{name: domain.PathRelay, err: errors.New("relayer down")}
	proxy := &fakeRedeemer{name: domain.PathProxy, err: errors.New("reverted")}
	seller := &fakeSeller{ok: true}

	out, err := New(h, seller, DefaultConfig(), relay, proxy).RedeemResolved(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.PathNone, out[0].Path)
	assert.False(t, out[0].Success)
	assert.Contains(t, out[0].Error, "relayer down")
	assert.Contains(t, out[0].Error, "reverted")
	assert.Empty(t, seller.calls)
}

func TestTotalLossSkippedWithoutNetwork(t *testing.T) {
	h := &fakeHoldings{list: []domain.Holding{{AssetID: "tok9", Size: 4, CurPrice: 0, Redeemable: true}}}
	relay := &fakeRedeemer{name: domain.PathRelay}
	seller := &fakeSeller{ok: true}
	j := &memJournal{}
	svc := New(h, seller, DefaultConfig(), relay)
	svc.SetJournal(j)

	out, err := svc.RedeemResolved(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.PathSkipped, out[0].Path)
	assert.Empty(t, relay.calls)
	assert.Empty(t, seller.calls)
	assert.Empty(t, j.outcomes)
}

func TestSellSuppressedAfterThreeFailures(t *testing.T) {
	h := &fakeHoldings{list: []domain.Holding{resolved("tok1", 0.60)}}
	relay := &fakeRedeemer{name: domain.PathRelay, err: errors.New("not resolved")}
	seller := &fakeSeller{}
	svc := New(h, seller, DefaultConfig(), relay)

	for range 3 {
		_, err := svc.RedeemResolved(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, seller.calls, 3)
	assert.Equal(t, 3, svc.SellFailures("tok1"))

	out, err := svc.RedeemResolved(context.Background())
	require.NoError(t, err)
	assert.Len(t, seller.calls, 3, "suppressed")
	assert.Contains(t, out[0].Error, "suppressed")
	assert.Len(t, relay.calls, 4, "on-chain paths keep trying")

	relay.err = nil
	out, err = svc.RedeemResolved(context.Background())
	require.NoError(t, err)
	assert.True(t, out[0].Success)
	assert.Equal(t, 0, svc.SellFailures("tok1"))
}

func TestSellSuccessResetsFailures(t *testing.T) {
	h := &fakeHoldings{list: []domain.Holding{resolved("tok1", 0.60)}}
	seller := &fakeSeller{}
	svc := New(h, seller, DefaultConfig())

	_, _ = svc.RedeemResolved(context.Background())
	_, _ = svc.RedeemResolved(context.Background())
	assert.Equal(t, 2, svc.SellFailures("tok1"))

	seller.ok = true
	_, _ = svc.RedeemResolved(context.Background())
	assert.Equal(t, 0, svc.SellFailures("tok1"))
}

func TestForceRedeemAllIgnoresRedeemableAndDedupes(t *testing.T) {
	yes := resolved("tok-yes", 0.4)
	yes.Redeemable = false
	no := resolved("tok-no", 0.6)
	no.Redeemable = false
	other := domain.Holding{AssetID: "tok-x", ConditionID: "0x" + "bb" + condA[4:], Size: 2, CurPrice: 0.5}
	h := &fakeHoldings{list: []domain.Holding{yes, no, other}}
	relay := &fakeRedeemer{name: domain.PathRelay}
	svc := New(h, nil, DefaultConfig(), relay)

	out, err := svc.RedeemResolved(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = svc.ForceRedeemAll(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Len(t, relay.calls, 2)
	for _, o := range out {
		assert.True(t, o.Success)
	}

	_, last := svc.LastRun()
	assert.Len(t, last, 2)
}

func TestHoldingsErrorIsWrapped(t *testing.T) {
	h := &fakeHoldings{err: errors.New("data api 500")}
	_, err := New(h, nil, DefaultConfig()).RedeemResolved(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settlement.pass: list holdings")
}

func TestRedeemCallNegRiskAmounts(t *testing.T) {
	call := redeemCall([]domain.Holding{
		{ConditionID: condA, NegRisk: true, OutcomeIndex: 1, Size: 3},
		{ConditionID: condA, NegRisk: true, OutcomeIndex: 0, Size: 5},
	})
	assert.True(t, call.NegRisk)
	assert.Equal(t, []float64{5, 3}, call.Amounts)

	plain := redeemCall([]domain.Holding{{ConditionID: condA, Size: 3}})
	assert.False(t, plain.NegRisk)
	assert.Empty(t, plain.Amounts)
}

func TestJournalRecordsOutcomes(t *testing.T) {
	h := &fakeHoldings{list: []domain.Holding{resolved("tok1", 1)}}
	j := &memJournal{}
	svc := New(h, nil, DefaultConfig(), &fakeRedeemer{name: domain.PathProxy})
	svc.SetJournal(j)

	_, err := svc.RedeemResolved(context.Background())
	require.NoError(t, err)
	require.Len(t, j.outcomes, 1)
	assert.Equal(t, domain.PathProxy, j.outcomes[0].Path)
}

func TestScheduleCheckTriggersPass(t *testing.T) {
	h := &fakeHoldings{}
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	svc := New(h, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	svc.ScheduleCheck(10 * time.Millisecond)
	assert.Eventually(t, func() bool { return h.callCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
