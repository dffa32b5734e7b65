package domain

import (
	"context"
	"math/big"
	"time"
)

// QuoteCache keeps the latest live venue quotes and feed rounds for the
// operator API. Nothing in the guarded core reads from it.
type QuoteCache interface {
	SetQuote(ctx context.Context, key string, amountOut *big.Int, ts time.Time) error
	GetQuote(ctx context.Context, key string) (*big.Int, time.Time, error)
	SetRound(ctx context.Context, feed string, round PriceRound) error
	GetRound(ctx context.Context, feed string) (PriceRound, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
