// Package rediskv binds internal/store.KVStore to Redis via go-redis,
// grounded on the teacher's registry/service.go and
// features/stream/pulse/clients/pulse, both of which construct a
// *redis.Client and issue EVAL/SETNX/ZADD against it.
package rediskv

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowforge/intentexec/internal/store"
)

// Store adapts a *redis.Client to store.KVStore.
type Store struct {
	rdb *redis.Client
}

// New wraps an already-configured *redis.Client. Connection lifecycle is
// owned by the composition root (cmd/orchestrator), not this package.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	return s.rdb.Set(ctx, key, value, ttl(ttlSeconds)).Err()
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttlSeconds int) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl(ttlSeconds)).Result()
}

func (s *Store) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func (s *Store) Expire(ctx context.Context, key string, ttlSeconds int) error {
	return s.rdb.Expire(ctx, key, time.Duration(ttlSeconds)*time.Second).Err()
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.rdb.Incr(ctx, key).Result()
}

func (s *Store) Scan(ctx context.Context, match string, count int) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, match, int64(count)).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]store.ZMember, error) {
	results, err := s.rdb.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]store.ZMember, 0, len(results))
	for _, z := range results {
		member, _ := z.Member.(string)
		out = append(out, store.ZMember{Member: member, Score: z.Score})
	}
	return out, nil
}

func (s *Store) ZRem(ctx context.Context, key string, member string) error {
	return s.rdb.ZRem(ctx, key, member).Err()
}

func (s *Store) Eval(ctx context.Context, script string, keys []string, args []any) (any, error) {
	return s.rdb.Eval(ctx, script, keys, args...).Result()
}

func ttl(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func formatScore(f float64) string {
	if f == negInf {
		return "-inf"
	}
	if f == posInf {
		return "+inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

const (
	negInf = -1 << 62
	posInf = 1 << 62
)
