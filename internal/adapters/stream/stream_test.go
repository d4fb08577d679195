package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBook(t *testing.T) {
	now := time.Unix(1000, 0)
	frame := `[{"event_type":"book","asset_id":"tok1","timestamp":"1757908892351",
		"bids":[{"price":"0.48","size":"100"},{"price":"0.52","size":"10"}],
		"asks":[{"price":"0.58","size":"5"},{"price":"0.54","size":"20"}]}]`

	got, err := parseMessages([]byte(frame), now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "tok1", got[0].AssetID)
	assert.InDelta(t, 0.53, got[0].Price, 1e-9)
	assert.Equal(t, time.UnixMilli(1757908892351), got[0].At)
}

func TestParsePriceChangeAndTrade(t *testing.T) {
	now := time.Unix(1000, 0)
	frame := `{"event_type":"price_change","price_changes":[
		{"asset_id":"tok1","price":"0.6","best_bid":"0.60","best_ask":"0.62"},
		{"asset_id":"tok2","price":"0.4","best_bid":"0.20","best_ask":"0.45"}]}`

	got, err := parseMessages([]byte(frame), now)
	require.NoError(t, err)
	require.Len(t, got, 1, "a wide book carries no price")
	assert.InDelta(t, 0.61, got[0].Price, 1e-9)
	assert.Equal(t, now, got[0].At)

	got, err = parseMessages([]byte(`{"event_type":"last_trade_price","asset_id":"tok2","price":"0.41"}`), now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.41, got[0].Price, 1e-9)
}

func TestParseIgnoresNoise(t *testing.T) {
	got, err := parseMessages([]byte(`{"event_type":"tick_size_change","asset_id":"tok1"}`), time.Now())
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = parseMessages([]byte("PONG"), time.Now())
	assert.Error(t, err)
	assert.True(t, isPong([]byte("PONG")))
}

type sinkCall struct {
	source, asset string
	price         float64
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (f *fakeSink) ApplyAssetPrice(_ context.Context, source, assetID string, price float64, _ time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sinkCall{source, assetID, price})
	return nil, nil
}

func (f *fakeSink) snapshot() []sinkCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sinkCall(nil), f.calls...)
}

func TestStreamSubscribesAndForwardsPrices(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subs := make(chan subscribeMessage, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		for {
			var msg subscribeMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			subs <- msg
			for _, id := range msg.AssetIDs {
				frame := `{"event_type":"last_trade_price","asset_id":"` + id + `","price":"0.42"}`
				if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					return
				}
			}
		}
	}))
	defer srv.Close()

	sink := &fakeSink{}
	s := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Source: "polymarket"}, sink)
	s.Subscribe([]string{"tok1"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	first := <-subs
	assert.Equal(t, []string{"tok1"}, first.AssetIDs)
	assert.Equal(t, "market", first.Type)

	assert.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.conn != nil
	}, 2*time.Second, 10*time.Millisecond)
	s.Subscribe([]string{"tok1", "tok2"})
	second := <-subs
	assert.Equal(t, []string{"tok2"}, second.AssetIDs)
	assert.Equal(t, "subscribe", second.Operation)

	assert.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, sinkCall{"polymarket", "tok2", 0.42}, sink.snapshot()[1])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestRunWaitsForAssets(t *testing.T) {
	s := New(Config{URL: "ws://127.0.0.1:1"}, &fakeSink{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, s.Run(ctx))
}
