// Package idempotency implements the set-if-absent-with-TTL dedup record
// spec §3 and §4.7.3 describe: a collision tells the orchestrator a side
// effect already ran, so it reuses the cached output instead of re-invoking
// the tool.
package idempotency

import (
	"context"

	"github.com/flowforge/intentexec/internal/ids"
	"github.com/flowforge/intentexec/internal/orcherr"
	"github.com/flowforge/intentexec/internal/store"
)

// TTLSeconds is the idempotency record lifetime (spec §3): 24 hours.
const TTLSeconds = 24 * 60 * 60

// Outcome reports whether Check recorded a fresh key or found a duplicate.
type Outcome struct {
	Duplicate    bool
	CachedOutput []byte
}

// Checker guards tool side effects behind an idempotency key.
type Checker struct {
	kv store.KVStore
}

// NewChecker builds a Checker over kv.
func NewChecker(kv store.KVStore) *Checker {
	return &Checker{kv: kv}
}

// Check computes the dedup key for (userID, toolName, normalizedParams) and
// attempts an atomic set-if-absent. If the key already exists, Outcome.Duplicate
// is true and CachedOutput holds whatever payload the first writer stored (or
// is empty if the first writer hasn't recorded output yet).
func (c *Checker) Check(ctx context.Context, userID, toolName string, normalizedParams []byte) (string, Outcome, error) {
	key := "idem:" + ids.IdempotencyKey(userID, toolName, normalizedParams)

	ok, err := c.kv.SetNX(ctx, key, []byte("processed"), TTLSeconds)
	if err != nil {
		return key, Outcome{}, orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "idempotency SETNX", err)
	}
	if ok {
		return key, Outcome{Duplicate: false}, nil
	}

	cached, _, err := c.kv.Get(ctx, key)
	if err != nil {
		return key, Outcome{}, orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "idempotency GET on duplicate", err)
	}
	return key, Outcome{Duplicate: true, CachedOutput: cached}, nil
}

// RecordOutput overwrites the idempotency record's value with the step's
// actual output, so a later duplicate can reuse it (spec §4.4 step 4: "mark
// the step completed reusing the cached output if available").
func (c *Checker) RecordOutput(ctx context.Context, key string, output []byte) error {
	return c.kv.Set(ctx, key, output, TTLSeconds)
}
