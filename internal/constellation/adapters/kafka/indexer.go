// Package kafka publishes committed-version notifications for the search
// indexer to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"icstore/internal/constellation/metrics"
	"icstore/pkg/platform/circuit"
	"icstore/pkg/requestcontext"
)

// Producer is the subset of *kgo.Client used by the indexer. TryProduce
// never blocks: a full buffer fails the promise with kgo.ErrMaxBuffered.
type Producer interface {
	TryProduce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// Notification is the record value published for every committed version.
type Notification struct {
	ICID      int64     `json:"ic_id"`
	Version   int64     `json:"version"`
	Actor     string    `json:"actor,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	EmittedAt time.Time `json:"emitted_at"`
}

// Indexer implements ports.Indexer. Notify enqueues the record and returns
// without waiting for the broker or for buffer space; delivery failures
// feed the breaker.
type Indexer struct {
	producer Producer
	topic    string
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *metrics.Metrics

	trialEvery int64
	attempts   atomic.Int64
}

// Option configures the Indexer.
type Option func(*Indexer)

func WithLogger(logger *slog.Logger) Option {
	return func(i *Indexer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Indexer) { i.metrics = m }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(i *Indexer) {
		if b != nil {
			i.breaker = b
		}
	}
}

// WithTrialEvery lets one in n notifications through while the breaker is open.
func WithTrialEvery(n int) Option {
	return func(i *Indexer) {
		if n > 0 {
			i.trialEvery = int64(n)
		}
	}
}

// NewIndexer creates an indexer publishing to topic.
func NewIndexer(producer Producer, topic string, opts ...Option) (*Indexer, error) {
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	i := &Indexer{
		producer: producer,
		topic:    topic,
		breaker:  circuit.New("kafka_indexer"),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),

		trialEvery: 10,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// ErrBreakerOpen is returned while the broker is considered unhealthy.
var ErrBreakerOpen = errors.New("indexer circuit open")

// Notify publishes the (ic_id, version) pair keyed by ic_id so a
// constellation's notifications stay ordered within one partition.
func (i *Indexer) Notify(ctx context.Context, icID, version int64) error {
	if i.breaker.IsOpen() && i.attempts.Add(1)%i.trialEvery != 0 {
		return ErrBreakerOpen
	}

	value, err := json.Marshal(Notification{
		ICID:      icID,
		Version:   version,
		Actor:     requestcontext.Actor(ctx).ID,
		RequestID: requestcontext.RequestID(ctx),
		EmittedAt: requestcontext.Now(ctx).UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	record := &kgo.Record{
		Topic: i.topic,
		Key:   []byte(strconv.FormatInt(icID, 10)),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "message_id", Value: []byte(uuid.NewString())},
		},
	}
	i.producer.TryProduce(context.WithoutCancel(ctx), record, func(_ *kgo.Record, err error) {
		i.settle(icID, version, err)
	})
	return nil
}

func (i *Indexer) settle(icID, version int64, err error) {
	if err != nil {
		i.metrics.IncrementIndexerNotification("undelivered")
		_, change := i.breaker.RecordFailure()
		i.logger.Warn("indexer notification not delivered",
			"ic_id", icID,
			"version", version,
			"topic", i.topic,
			"error", err,
		)
		if change.Opened {
			i.logger.Error("indexer circuit opened", "breaker", i.breaker.Name())
		}
		return
	}
	i.metrics.IncrementIndexerNotification("delivered")
	_, change := i.breaker.RecordSuccess()
	if change.Closed {
		i.logger.Info("indexer circuit closed", "breaker", i.breaker.Name())
	}
}
