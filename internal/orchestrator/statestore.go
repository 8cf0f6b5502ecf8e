package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/flowforge/intentexec/internal/concurrency/occ"
	"github.com/flowforge/intentexec/internal/orcherr"
	"github.com/flowforge/intentexec/internal/store"
)

func stateKey(executionID string) string { return "execution:" + executionID }

// ttlSeconds is how long a terminal ExecutionState record survives in the
// store before GC (spec §3: "destroyed by TTL after terminal state").
const ttlSeconds = 30 * 24 * 60 * 60

// kvStateStore implements StateStore directly over a store.KVStore, using
// internal/concurrency/occ for compare-and-swap writes (spec §4.7.1).
type kvStateStore struct {
	kv store.KVStore
}

// NewKVStateStore builds a StateStore bound to kv.
func NewKVStateStore(kv store.KVStore) StateStore {
	return &kvStateStore{kv: kv}
}

func (k *kvStateStore) Load(ctx context.Context, executionID string) (*ExecutionState, error) {
	raw, found, err := k.kv.Get(ctx, stateKey(executionID))
	if err != nil {
		return nil, orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "load execution state", err)
	}
	if !found {
		return nil, orcherr.New(orcherr.CodeNotFound, "execution state not found")
	}
	var s ExecutionState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "decode execution state", err)
	}
	return &s, nil
}

func (k *kvStateStore) Create(ctx context.Context, state *ExecutionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "encode new execution state", err)
	}
	if err := k.kv.Set(ctx, stateKey(state.ExecutionID), raw, ttlSeconds); err != nil {
		return orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "store new execution state", err)
	}
	return nil
}

// Save loads, applies update, and CAS-writes the result via occ.Save. The
// ExecutionState.Version field doubles as occ.Record's version: occ.Save
// bumps it itself, so update must not touch Version.
func (k *kvStateStore) Save(ctx context.Context, executionID string, update func(*ExecutionState)) (*ExecutionState, error) {
	var result ExecutionState
	_, err := occ.Save(ctx, k.kv, stateKey(executionID), func(current []byte) ([]byte, error) {
		var s ExecutionState
		if err := json.Unmarshal(current, &s); err != nil {
			return nil, err
		}
		update(&s)
		raw, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		result = s
		return raw, nil
	}, occ.Options{MaxRetries: 3, BaseDelayMs: 100, TTLSeconds: ttlSeconds})
	if err != nil {
		return nil, err
	}
	result.Version++ // mirror occ.Save's bump so callers observe the post-write version
	return &result, nil
}
