package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublisher_ClosedTrade(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{w: w}

	err := p.RecordClosedTrade(context.Background(), domain.ManagedPosition{
		ID: "pos-1", EventID: "evt-1", Side: domain.SideNo, PnL: 1.75, ExitReason: domain.ExitStopLoss,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, []byte("evt-1"), msg.Key)
	assert.Equal(t, "kind", msg.Headers[0].Key)
	assert.Equal(t, []byte(KindClosedTrade), msg.Headers[0].Value)

	var rec closedTradeRecord
	require.NoError(t, json.Unmarshal(msg.Value, &rec))
	assert.Equal(t, "NO", rec.Side)
	assert.Equal(t, "stop_loss", rec.ExitReason)
	assert.InDelta(t, 1.75, rec.PnL, 1e-9)
}

func TestPublisher_WrapsWriteError(t *testing.T) {
	p := &Publisher{w: &fakeWriter{err: errors.New("broker down")}}
	err := p.RecordActivity(context.Background(), domain.GoalActivity{EventID: "e"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

type fakeReader struct {
	msgs []kafka.Message
	i    int
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if f.i < len(f.msgs) {
		m := f.msgs[f.i]
		f.i++
		return m, nil
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) Close() error { return nil }

func TestConsumer_DeliversValidUpdates(t *testing.T) {
	good, _ := json.Marshal(domain.SourceUpdate{
		EventID: "evt-1", Source: "feedA", Score: &domain.Score{Home: 1},
	})
	reader := &fakeReader{msgs: []kafka.Message{
		{Value: []byte("not json")},
		{Value: []byte(`{"source":"feedA"}`)},
		{Value: good},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	var got []domain.SourceUpdate
	c := &Consumer{
		reader: reader,
		now:    func() time.Time { return time.Unix(100, 0) },
		handle: func(_ context.Context, u domain.SourceUpdate) error {
			got = append(got, u)
			cancel()
			return nil
		},
	}

	require.NoError(t, c.Run(ctx))
	require.Len(t, got, 1)
	assert.Equal(t, "evt-1", got[0].EventID)
	assert.Equal(t, 1, got[0].Score.Home)
	assert.Equal(t, time.Unix(100, 0), got[0].ReceivedAt)
}
