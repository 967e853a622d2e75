package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"icstore/internal/constellation/metrics"
	"icstore/pkg/platform/circuit"
	"icstore/pkg/requestcontext"
)

type stubProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	err     error
}

func (p *stubProducer) TryProduce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	p.mu.Lock()
	p.records = append(p.records, r)
	err := p.err
	p.mu.Unlock()
	promise(r, err)
}

func TestNotifyPublishesKeyedRecord(t *testing.T) {
	producer := &stubProducer{}
	idx, err := NewIndexer(producer, "ic.versions")
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), at)
	ctx = requestcontext.WithActor(ctx, requestcontext.ActorInfo{ID: "alice"})
	ctx = requestcontext.WithRequestID(ctx, "req-1")

	require.NoError(t, idx.Notify(ctx, 42, 7))
	require.Len(t, producer.records, 1)

	rec := producer.records[0]
	assert.Equal(t, "ic.versions", rec.Topic)
	assert.Equal(t, "42", string(rec.Key))
	require.Len(t, rec.Headers, 1)
	assert.Equal(t, "message_id", rec.Headers[0].Key)
	assert.NotEmpty(t, rec.Headers[0].Value)

	var n Notification
	require.NoError(t, json.Unmarshal(rec.Value, &n))
	assert.Equal(t, Notification{ICID: 42, Version: 7, Actor: "alice", RequestID: "req-1", EmittedAt: at}, n)
}

func TestBreakerOpensAfterDeliveryFailures(t *testing.T) {
	producer := &stubProducer{err: errors.New("broker down")}
	breaker := circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))
	idx, err := NewIndexer(producer, "ic.versions", WithBreaker(breaker), WithTrialEvery(3))
	require.NoError(t, err)
	ctx := context.Background()

	// Notify never reports delivery failures itself.
	require.NoError(t, idx.Notify(ctx, 1, 1))
	require.NoError(t, idx.Notify(ctx, 1, 2))
	assert.True(t, breaker.IsOpen())

	assert.ErrorIs(t, idx.Notify(ctx, 1, 3), ErrBreakerOpen)
	assert.ErrorIs(t, idx.Notify(ctx, 1, 4), ErrBreakerOpen)
	assert.Len(t, producer.records, 2)

	// the third attempt while open goes through
	producer.err = nil
	require.NoError(t, idx.Notify(ctx, 1, 5))
	assert.Len(t, producer.records, 3)
	assert.False(t, breaker.IsOpen())
}

func TestFullBufferFailsFastAndOpensBreaker(t *testing.T) {
	producer := &stubProducer{err: kgo.ErrMaxBuffered}
	breaker := circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))
	m := metrics.NewWith(prometheus.NewRegistry())
	idx, err := NewIndexer(producer, "ic.versions", WithBreaker(breaker), WithMetrics(m))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = idx.Notify(context.Background(), 1, 1)
		_ = idx.Notify(context.Background(), 1, 2)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full producer buffer")
	}

	assert.True(t, breaker.IsOpen())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexerNotifications.WithLabelValues("undelivered")))
	assert.ErrorIs(t, idx.Notify(context.Background(), 1, 3), ErrBreakerOpen)
}

func TestNewIndexerValidates(t *testing.T) {
	_, err := NewIndexer(nil, "t")
	require.Error(t, err)
	_, err = NewIndexer(&stubProducer{}, "")
	require.Error(t, err)
}
