package dispatch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/goaltrader/internal/application/dispatch"
	"github.com/alejandrodnm/goaltrader/internal/domain"
)

type call struct {
	ev      domain.EventUpdate
	changed []string
	source  string
}

func recorder(r *dispatch.Router) *[]call {
	var calls []call
	r.Subscribe(func(_ context.Context, ev domain.EventUpdate, changed []string, source string) {
		calls = append(calls, call{ev, changed, source})
	})
	return &calls
}

func score(h, a int) *domain.Score { return &domain.Score{Home: h, Away: a} }

func TestApplyRejectsMissingIDs(t *testing.T) {
	r := dispatch.NewRouter()
	_, err := r.Apply(context.Background(), domain.SourceUpdate{Source: "feedA"})
	assert.ErrorIs(t, err, dispatch.ErrInvalidUpdate)
}

func TestFirstScoreHasNoPrevious(t *testing.T) {
	r := dispatch.NewRouter()
	calls := recorder(r)

	changed, err := r.Apply(context.Background(), domain.SourceUpdate{
		EventID: "ev1", Source: "feedA", Sport: "soccer", HomeTeam: "Arsenal", AwayTeam: "Chelsea",
		Score: score(0, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{domain.ScoreKey}, changed)
	require.Len(t, *calls, 1)
	ev := (*calls)[0].ev
	assert.True(t, ev.HasScore)
	assert.Nil(t, ev.PreviousScore)
	assert.Equal(t, "Arsenal vs Chelsea", ev.Label())
}

func TestScoreTransitionSetsPrevious(t *testing.T) {
	r := dispatch.NewRouter()
	calls := recorder(r)
	ctx := context.Background()

	_, _ = r.Apply(ctx, domain.SourceUpdate{EventID: "ev1", Source: "feedA", Score: score(0, 0)})
	_, _ = r.Apply(ctx, domain.SourceUpdate{EventID: "ev1", Source: "feedA", Score: score(0, 0)})
	assert.Len(t, *calls, 1, "unchanged score is not a change")

	_, _ = r.Apply(ctx, domain.SourceUpdate{EventID: "ev1", Source: "feedA", Score: score(1, 0)})
	require.Len(t, *calls, 2)
	ev := (*calls)[1].ev
	assert.Equal(t, domain.Score{Home: 1}, ev.Score)
	require.NotNil(t, ev.PreviousScore)
	assert.Equal(t, domain.Score{}, *ev.PreviousScore)
}

func TestSecondSourceConfirmationIsReported(t *testing.T) {
	r := dispatch.NewRouter()
	calls := recorder(r)
	ctx := context.Background()

	_, _ = r.Apply(ctx, domain.SourceUpdate{EventID: "ev1", Source: "feedA", Score: score(0, 0)})
	_, _ = r.Apply(ctx, domain.SourceUpdate{EventID: "ev1", Source: "feedB", Score: score(0, 0)})
	assert.Len(t, *calls, 1, "feedB agrees with the canonical score")

	_, _ = r.Apply(ctx, domain.SourceUpdate{EventID: "ev1", Source: "feedB", Score: score(1, 0)})
	changed, _ := r.Apply(ctx, domain.SourceUpdate{EventID: "ev1", Source: "feedA", Score: score(1, 0)})
	assert.Equal(t, []string{domain.ScoreKey}, changed)

	require.Len(t, *calls, 3)
	last := (*calls)[2]
	assert.Equal(t, "feedA", last.source)
	assert.Equal(t, domain.Score{Home: 1}, last.ev.Score)
	assert.Equal(t, domain.Score{}, *last.ev.PreviousScore)
}

func TestQuotesAndChangedKeys(t *testing.T) {
	r := dispatch.NewRouter()
	calls := recorder(r)
	ctx := context.Background()

	changed, err := r.Apply(ctx, domain.SourceUpdate{
		EventID: "ev1", Source: "polymarket",
		Quotes: map[string]float64{"home": 0.55, "away": 0.25, "bogus": 1.5},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"away", "home"}, changed)

	changed, _ = r.Apply(ctx, domain.SourceUpdate{
		EventID: "ev1", Source: "polymarket",
		Quotes: map[string]float64{"home": 0.55, "away": 0.30},
	})
	assert.Equal(t, []string{"away"}, changed)

	ev, ok := r.Event("ev1")
	require.True(t, ok)
	q, ok := ev.Quote("polymarket", "away")
	assert.True(t, ok)
	assert.Equal(t, 0.30, q)
	assert.Len(t, *calls, 2)
}

func TestAssetReverseMapAndNoPrice(t *testing.T) {
	r := dispatch.NewRouter()
	calls := recorder(r)
	var announced []string
	r.OnNewAssets(func(ids []string) { announced = append(announced, ids...) })
	ctx := context.Background()

	_, err := r.Apply(ctx, domain.SourceUpdate{
		EventID: "ev1", Source: "mapper",
		Assets: map[string]domain.MarketAssets{"home": {Yes: "tok-y", No: "tok-n", ConditionID: "0xc"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-n", "tok-y"}, announced)
	assert.Empty(t, *calls, "asset mapping alone is not a change")

	ref, ok := r.LookupAsset("tok-n")
	require.True(t, ok)
	assert.Equal(t, dispatch.AssetRef{EventID: "ev1", MarketKey: "home", Side: domain.SideNo}, ref)
	assert.Equal(t, []string{"tok-n", "tok-y"}, r.AssetIDs())

	at := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	changed, err := r.ApplyAssetPrice(ctx, "polymarket", "tok-n", 0.40, at)
	require.NoError(t, err)
	assert.Equal(t, []string{"home"}, changed)
	ev := (*calls)[0].ev
	q, _ := ev.Quote("polymarket", "home")
	assert.InDelta(t, 0.60, q, 1e-9)
	assert.Equal(t, at, ev.UpdatedAt)

	changed, err = r.ApplyAssetPrice(ctx, "polymarket", "unknown", 0.40, at)
	require.NoError(t, err)
	assert.Nil(t, changed)
}

func TestHandlerGetsIsolatedCopy(t *testing.T) {
	r := dispatch.NewRouter()
	var got domain.EventUpdate
	r.Subscribe(func(_ context.Context, ev domain.EventUpdate, _ []string, _ string) {
		ev.Quotes["polymarket"]["home"] = 0.99
		got = ev
	})
	_, _ = r.Apply(context.Background(), domain.SourceUpdate{
		EventID: "ev1", Source: "polymarket", Quotes: map[string]float64{"home": 0.5},
	})

	ev, _ := r.Event("ev1")
	q, _ := ev.Quote("polymarket", "home")
	assert.Equal(t, 0.5, q)
	assert.Equal(t, 0.99, got.Quotes["polymarket"]["home"])
	assert.Len(t, r.Events(), 1)
}

func TestLaggingSourceCannotMoveScoreBack(t *testing.T) {
	r := dispatch.NewRouter()
	calls := recorder(r)
	ctx := context.Background()

	_, _ = r.Apply(ctx, domain.SourceUpdate{EventID: "ev1", Source: "feedA", Score: score(0, 0)})
	_, _ = r.Apply(ctx, domain.SourceUpdate{EventID: "ev1", Source: "feedA", Score: score(1, 0)})
	require.Len(t, *calls, 2)

	changed, err := r.Apply(ctx, domain.SourceUpdate{EventID: "ev1", Source: "feedB", Score: score(0, 0)})
	require.NoError(t, err)
	assert.Empty(t, changed)

	changed, _ = r.Apply(ctx, domain.SourceUpdate{EventID: "ev1", Source: "feedB", Score: score(0, 1)})
	assert.Empty(t, changed, "same total from another source is not a goal")
	assert.Len(t, *calls, 2)

	ev, _ := r.Event("ev1")
	assert.Equal(t, domain.Score{Home: 1}, ev.Score)
	assert.Equal(t, domain.Score{}, *ev.PreviousScore)

	// the source that set the score may correct it
	changed, _ = r.Apply(ctx, domain.SourceUpdate{EventID: "ev1", Source: "feedA", Score: score(0, 0)})
	assert.Equal(t, []string{domain.ScoreKey}, changed)
	ev, _ = r.Event("ev1")
	assert.Equal(t, domain.Score{}, ev.Score)
	assert.Equal(t, domain.Score{Home: 1}, *ev.PreviousScore)
}

func TestFirstReportConfirmsRecentChange(t *testing.T) {
	r := dispatch.NewRouter()
	calls := recorder(r)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)

	_, _ = r.Apply(ctx, domain.SourceUpdate{EventID: "ev1", Source: "feedB", Score: score(0, 0), ReceivedAt: at})
	_, _ = r.Apply(ctx, domain.SourceUpdate{EventID: "ev1", Source: "feedB", Score: score(1, 0), ReceivedAt: at.Add(time.Second)})

	changed, _ := r.Apply(ctx, domain.SourceUpdate{
		EventID: "ev1", Source: "feedA", Score: score(1, 0), ReceivedAt: at.Add(1500 * time.Millisecond),
	})
	assert.Equal(t, []string{domain.ScoreKey}, changed)
	require.Len(t, *calls, 3)
	last := (*calls)[2]
	assert.Equal(t, "feedA", last.source)
	assert.Equal(t, domain.Score{}, *last.ev.PreviousScore)

	changed, _ = r.Apply(ctx, domain.SourceUpdate{
		EventID: "ev1", Source: "feedC", Score: score(1, 0), ReceivedAt: at.Add(10 * time.Second),
	})
	assert.Empty(t, changed, "a late joiner is not a confirmation")

	r.SetConfirmWindow(time.Minute)
	changed, _ = r.Apply(ctx, domain.SourceUpdate{
		EventID: "ev1", Source: "feedD", Score: score(1, 0), ReceivedAt: at.Add(20 * time.Second),
	})
	assert.Equal(t, []string{domain.ScoreKey}, changed)
}
