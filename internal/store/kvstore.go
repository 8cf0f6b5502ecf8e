// Package store defines the KVStore contract the orchestrator persists
// through (spec §6): a minimal, string-keyed byte-blob store with the
// primitives OCC, locking, idempotency, and the task queue are built on top
// of. rediskv binds it to Redis; memkv is an in-process fake for tests.
package store

import "context"

// ZMember is a single sorted-set entry as returned by ZRange.
type ZMember struct {
	Member string
	Score  float64
}

// KVStore is the external persistence collaborator (spec §6). Eval is
// required for the OCC compare-and-swap script; a backing store without
// server-side scripting must provide an equivalent atomic primitive.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	SetNX(ctx context.Context, key string, value []byte, ttlSeconds int) (bool, error)
	Del(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttlSeconds int) error
	Incr(ctx context.Context, key string) (int64, error)
	Scan(ctx context.Context, match string, count int) ([]string, error)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]ZMember, error)
	ZRem(ctx context.Context, key string, member string) error
	Eval(ctx context.Context, script string, keys []string, args []any) (any, error)
}
