package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// quoteTTL bounds how long a cached quote survives without a refresh.
const quoteTTL = 10 * time.Minute

// QuoteCache implements domain.QuoteCache using Redis hashes. Amounts are
// stored as decimal strings so no precision is lost.
//
//	quote:{key}  -> amount_out, ts
//	round:{feed} -> round_id, answer, updated_at, answered_in_round, decimals
type QuoteCache struct {
	c *Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{c: c}
}

// SetQuote stores the latest quoted output for key.
func (qc *QuoteCache) SetQuote(ctx context.Context, key string, amountOut *big.Int, ts time.Time) error {
	k := qc.c.Key("quote", key)
	pipe := qc.c.rdb.TxPipeline()
	pipe.HSet(ctx, k, map[string]interface{}{
		"amount_out": amountOut.String(),
		"ts":         strconv.FormatInt(ts.UnixNano(), 10),
	})
	pipe.Expire(ctx, k, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", key, err)
	}
	return nil
}

// GetQuote returns domain.ErrNotFound when no quote is cached for key.
func (qc *QuoteCache) GetQuote(ctx context.Context, key string) (*big.Int, time.Time, error) {
	vals, err := qc.c.rdb.HGetAll(ctx, qc.c.Key("quote", key)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get quote %s: %w", key, err)
	}
	amount, ok := parseBig(vals["amount_out"])
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", key, err)
	}
	return amount, time.Unix(0, tsNano), nil
}

// SetRound stores the latest round of a price feed.
func (qc *QuoteCache) SetRound(ctx context.Context, feed string, round domain.PriceRound) error {
	fields := map[string]interface{}{
		"round_id":          bigString(round.RoundID),
		"answer":            bigString(round.Answer),
		"updated_at":        strconv.FormatUint(round.UpdatedAt, 10),
		"answered_in_round": bigString(round.AnsweredInRound),
		"decimals":          strconv.Itoa(int(round.Decimals)),
	}
	if err := qc.c.rdb.HSet(ctx, qc.c.Key("round", feed), fields).Err(); err != nil {
		return fmt.Errorf("redis: set round %s: %w", feed, err)
	}
	return nil
}

// GetRound returns domain.ErrNotFound when no round is cached for feed.
func (qc *QuoteCache) GetRound(ctx context.Context, feed string) (domain.PriceRound, error) {
	vals, err := qc.c.rdb.HGetAll(ctx, qc.c.Key("round", feed)).Result()
	if err != nil && err != redis.Nil {
		return domain.PriceRound{}, fmt.Errorf("redis: get round %s: %w", feed, err)
	}
	if len(vals) == 0 {
		return domain.PriceRound{}, domain.ErrNotFound
	}
	var round domain.PriceRound
	var ok bool
	if round.RoundID, ok = parseBig(vals["round_id"]); !ok {
		return domain.PriceRound{}, fmt.Errorf("redis: round %s: bad round_id", feed)
	}
	if round.Answer, ok = parseBig(vals["answer"]); !ok {
		return domain.PriceRound{}, fmt.Errorf("redis: round %s: bad answer", feed)
	}
	if round.AnsweredInRound, ok = parseBig(vals["answered_in_round"]); !ok {
		return domain.PriceRound{}, fmt.Errorf("redis: round %s: bad answered_in_round", feed)
	}
	if round.UpdatedAt, err = strconv.ParseUint(vals["updated_at"], 10, 64); err != nil {
		return domain.PriceRound{}, fmt.Errorf("redis: round %s: %w", feed, err)
	}
	dec, err := strconv.ParseUint(vals["decimals"], 10, 8)
	if err != nil {
		return domain.PriceRound{}, fmt.Errorf("redis: round %s: %w", feed, err)
	}
	round.Decimals = uint8(dec)
	return round, nil
}

func parseBig(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	return new(big.Int).SetString(s, 10)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
