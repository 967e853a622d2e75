package vocabulary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"icstore/internal/constellation/ports"
)

const keyPrefix = "icstore:term:"

// Cached is a read-through Redis cache in front of another lookup. Redis
// errors are logged and the lookup falls through to next; misses on next
// are not cached.
type Cached struct {
	next   ports.VocabularyLookup
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// CacheOption configures Cached.
type CacheOption func(*Cached)

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cached) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cached) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCached wraps next with a cache on client.
func NewCached(next ports.VocabularyLookup, client redis.Cmdable, opts ...CacheOption) (*Cached, error) {
	if next == nil {
		return nil, errors.New("vocabulary lookup is required")
	}
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	c := &Cached{
		next:   next,
		client: client,
		ttl:    time.Hour,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Cached) ResolveTerm(ctx context.Context, id string) (*ports.Term, error) {
	key := keyPrefix + id
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var t ports.Term
		if err := json.Unmarshal(raw, &t); err == nil {
			return &t, nil
		}
		c.logger.WarnContext(ctx, "discarding corrupt cached term", "term_id", id)
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "vocabulary cache read failed", "term_id", id, "error", err)
	}

	t, err := c.next.ResolveTerm(ctx, id)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode term %q: %w", id, err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "vocabulary cache write failed", "term_id", id, "error", err)
	}
	return t, nil
}
