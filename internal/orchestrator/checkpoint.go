package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flowforge/intentexec/internal/orcherr"
	"github.com/flowforge/intentexec/internal/store"
)

func checkpointKey(executionID string) string { return "checkpoint:" + executionID }

// kvCheckpointStore implements CheckpointStore over a store.KVStore with
// CheckpointTTL (spec §3, §5: "per-checkpoint (TTL 7 d)").
type kvCheckpointStore struct {
	kv store.KVStore
}

// NewKVCheckpointStore builds a CheckpointStore bound to kv.
func NewKVCheckpointStore(kv store.KVStore) CheckpointStore {
	return &kvCheckpointStore{kv: kv}
}

func (c *kvCheckpointStore) Store(ctx context.Context, cp Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return orcherr.Wrap(orcherr.CodeCheckpointStoreFailed, "encode checkpoint", err)
	}
	ttlSeconds := int(CheckpointTTL.Seconds())
	if err := c.kv.Set(ctx, checkpointKey(cp.ExecutionID), raw, ttlSeconds); err != nil {
		return orcherr.Wrap(orcherr.CodeCheckpointStoreFailed, "store checkpoint", err)
	}
	return nil
}

func (c *kvCheckpointStore) Load(ctx context.Context, executionID string) (Checkpoint, bool, error) {
	raw, found, err := c.kv.Get(ctx, checkpointKey(executionID))
	if err != nil {
		return Checkpoint{}, false, orcherr.Wrap(orcherr.CodeCheckpointStoreFailed, "load checkpoint", err)
	}
	if !found {
		return Checkpoint{}, false, nil
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, false, orcherr.Wrap(orcherr.CodeCheckpointStoreFailed, "decode checkpoint", err)
	}
	return cp, true, nil
}

// CheckpointFrom snapshots state into a durable Checkpoint stamped with the
// orchestrator's identity (spec §4.4: "store a checkpoint with git_sha and
// logic_version from environment identity").
func (o *Orchestrator) CheckpointFrom(state *ExecutionState, nextStepIndex int, reason string, now time.Time) Checkpoint {
	return Checkpoint{
		ExecutionID:   state.ExecutionID,
		CheckpointAt:  now,
		GitSHA:        o.identity.GitSHA,
		LogicVersion:  o.identity.LogicVersion,
		ToolVersions:  o.identity.ToolVersions,
		StateSnapshot: *state,
		NextStepIndex: nextStepIndex,
		Reason:        reason,
		Version:       state.Version,
	}
}
