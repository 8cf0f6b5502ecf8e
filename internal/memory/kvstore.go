package memory

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/flowforge/intentexec/internal/orcherr"
	"github.com/flowforge/intentexec/internal/store"
)

func historyIndexKey(intentID string) string { return "memory:history:" + intentID }
func eventPayloadKey(intentID, member string) string { return "memory:event:" + intentID + ":" + member }

// KVStore is the durable Store binding: a per-intent sorted set indexed by
// event timestamp, with payloads stored alongside it, mirroring
// taskqueue.Queue's index+payload split over the same KVStore.
type KVStore struct {
	kv  store.KVStore
	now func() time.Time
}

// NewKVStore builds a Store bound to kv.
func NewKVStore(kv store.KVStore) *KVStore {
	return &KVStore{kv: kv, now: func() time.Time { return time.Now().UTC() }}
}

func (s *KVStore) Append(ctx context.Context, intentID string, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "encode history event", err)
	}
	member := event.Timestamp.Format(time.RFC3339Nano)
	if err := s.kv.Set(ctx, eventPayloadKey(intentID, member), raw, 0); err != nil {
		return orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "store history event", err)
	}
	if err := s.kv.ZAdd(ctx, historyIndexKey(intentID), float64(event.Timestamp.UnixNano()), member); err != nil {
		return orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "index history event", err)
	}
	return nil
}

func (s *KVStore) History(ctx context.Context, intentID string) ([]Event, error) {
	members, err := s.kv.ZRangeByScore(ctx, historyIndexKey(intentID), 0, math.Inf(1))
	if err != nil {
		return nil, orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "scan history index", err)
	}
	events := make([]Event, 0, len(members))
	for _, m := range members {
		raw, found, err := s.kv.Get(ctx, eventPayloadKey(intentID, m.Member))
		if err != nil {
			return nil, orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "load history event", err)
		}
		if !found {
			continue
		}
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "decode history event", err)
		}
		events = append(events, e)
	}
	return events, nil
}
