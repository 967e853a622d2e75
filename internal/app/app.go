// Package app assembles the store, services and adapters from configuration.
// Both the HTTP server and the admin CLI start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	"icstore/internal/constellation/adapters/kafka"
	"icstore/internal/constellation/adapters/vocabulary"
	"icstore/internal/constellation/metrics"
	"icstore/internal/constellation/ports"
	constellation "icstore/internal/constellation/service"
	"icstore/internal/constellation/store/memory"
	"icstore/internal/constellation/store/sqlstore"
	mergeservice "icstore/internal/merge/service"
	"icstore/internal/platform/config"
	"icstore/internal/platform/database"
	kafkaclient "icstore/internal/platform/kafka"
	redisclient "icstore/internal/platform/redis"
	"icstore/pkg/platform/circuit"
)

const flushTimeout = 5 * time.Second

// Store is the combined constellation and maybe-same store.
type Store interface {
	mergeservice.Store
}

// App holds the wired services and the resources that must be closed.
type App struct {
	Config         config.Config
	Logger         *slog.Logger
	Store          Store
	Constellations *constellation.Service
	Merges         *mergeservice.Service
	Metrics        *metrics.Metrics
	Redis          *redisclient.Client
	Kafka          *kgo.Client

	closers []func() error
}

// New opens every configured backend and wires the services. Metrics are
// registered on reg.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewWith(reg),
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = store

	vocab, err := a.openVocabulary(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	indexer, err := a.openIndexer(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	opts := []constellation.Option{
		constellation.WithLogger(logger),
		constellation.WithMetrics(a.Metrics),
	}
	if vocab != nil {
		opts = append(opts, constellation.WithVocabulary(vocab))
	}
	if indexer != nil {
		opts = append(opts, constellation.WithIndexer(indexer))
	}
	a.Constellations, err = constellation.New(store, opts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Merges, err = mergeservice.New(store, a.Constellations,
		mergeservice.WithLogger(logger),
		mergeservice.WithMetrics(a.Metrics),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) (Store, error) {
	cfg := a.Config.Database
	if cfg.Driver == "memory" {
		a.Logger.WarnContext(ctx, "using in-memory constellation store; data is lost on exit")
		return memory.New(memory.WithTxTimeout(cfg.TxTimeout)), nil
	}

	db, dialect, err := database.Open(ctx, database.Config{
		Driver:          cfg.Driver,
		URL:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)

	store, err := sqlstore.New(db, dialect, sqlstore.WithTxTimeout(cfg.TxTimeout))
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("migrate %s store: %w", dialect, err)
	}
	a.Logger.InfoContext(ctx, "constellation store ready", "dialect", dialect)
	return store, nil
}

// openVocabulary loads the term list, cached in Redis when configured.
func (a *App) openVocabulary(ctx context.Context) (ports.VocabularyLookup, error) {
	if a.Config.VocabularyFile == "" {
		return nil, nil
	}
	f, err := os.Open(a.Config.VocabularyFile)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary: %w", err)
	}
	defer f.Close()
	static, err := vocabulary.LoadStatic(f)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary %s: %w", a.Config.VocabularyFile, err)
	}

	client, err := redisclient.New(ctx, a.Config.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return static, nil
	}
	a.Redis = client
	a.closers = append(a.closers, client.Close)
	return vocabulary.NewCached(static, client.Client,
		vocabulary.WithTTL(a.Config.Redis.VocabularyTTL),
		vocabulary.WithLogger(a.Logger),
	)
}

func (a *App) openIndexer(ctx context.Context) (ports.Indexer, error) {
	client, err := kafkaclient.New(ctx, a.Config.Kafka)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, nil
	}
	a.Kafka = client
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		err := client.Flush(ctx)
		client.Close()
		return err
	})
	if err := kafkaclient.EnsureTopic(ctx, client, a.Config.Kafka.Topic, a.Config.Kafka.Partitions, a.Config.Kafka.ReplicationFactor); err != nil {
		return nil, err
	}
	return kafka.NewIndexer(client, a.Config.Kafka.Topic,
		kafka.WithLogger(a.Logger),
		kafka.WithMetrics(a.Metrics),
		kafka.WithBreaker(circuit.New("indexer")),
	)
}

// Close releases every opened backend, most recent first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
