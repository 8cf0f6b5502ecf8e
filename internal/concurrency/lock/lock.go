// Package lock implements the distributed quorum lock spec §4.7.2
// describes: acquire/release/extend across N independent KVStores with
// majority agreement and a drift-adjusted validity window.
package lock

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/flowforge/intentexec/internal/ids"
	"github.com/flowforge/intentexec/internal/orcherr"
	"github.com/flowforge/intentexec/internal/store"
)

// DriftFactor is the fraction of acquisition elapsed time added to the
// computed clock-drift allowance (spec §4.7.2).
const DriftFactor = 0.01

// Handle is a held (or attempted) lock: its id, the resource key, the
// computed validity window, and the stores it is held in.
type Handle struct {
	LockID     string
	Key        string
	AcquiredAt time.Time
	ValidityMs int64
	DriftMs    int64
	stores     []store.KVStore
}

// ExpiresAt is the point beyond which the caller can no longer trust it
// owns the lock (spec §8: now() < acquiredAt + validityMs - drift).
func (h Handle) ExpiresAt() time.Time {
	return h.AcquiredAt.Add(time.Duration(h.ValidityMs-h.DriftMs) * time.Millisecond)
}

// Valid reports whether the lock is still within its drift-adjusted window.
func (h Handle) Valid(now time.Time) bool {
	return now.Before(h.ExpiresAt())
}

// Manager acquires/releases/extends quorum locks over a fixed set of
// independent stores.
type Manager struct {
	stores []store.KVStore
	quorum int
}

// NewManager builds a Manager over stores; quorum is floor(N/2)+1.
func NewManager(stores ...store.KVStore) *Manager {
	return &Manager{stores: stores, quorum: len(stores)/2 + 1}
}

// NewVirtualManager simulates N=3 stores over a single underlying store by
// keying into 3 virtual namespaces, per spec §4.7.2's single-store
// deployment note.
func NewVirtualManager(single store.KVStore) *Manager {
	return NewManager(
		virtualStore{single, "ns0:"},
		virtualStore{single, "ns1:"},
		virtualStore{single, "ns2:"},
	)
}

// Acquire attempts to set-if-absent a fresh lockId across all stores with
// TTL=validityMs, returning a Handle iff at least quorum stores succeeded
// and the drift-adjusted window is still positive. On an unsuccessful
// attempt, partial holdings are released. Retries use exponential backoff
// with jitter via cenkalti/backoff.
func (m *Manager) Acquire(ctx context.Context, key string, validityMs int64, maxRetries int) (Handle, error) {
	var handle Handle
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxRetries))

	err := backoff.Retry(func() error {
		h, err := m.tryAcquireOnce(ctx, key, validityMs)
		if err != nil {
			return err
		}
		handle = h
		return nil
	}, backoff.WithContext(policy, ctx))

	if err != nil {
		return Handle{}, orcherr.Wrap(orcherr.CodeLockAcquireFailed, "acquire quorum lock for "+key, err)
	}
	return handle, nil
}

func (m *Manager) tryAcquireOnce(ctx context.Context, key string, validityMs int64) (Handle, error) {
	lockID := ids.New()
	start := time.Now()
	ttlSeconds := int((validityMs + 999) / 1000)

	var mu sync.Mutex
	var wg sync.WaitGroup
	succeeded := make([]store.KVStore, 0, len(m.stores))

	for _, s := range m.stores {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.SetNX(ctx, key, []byte(lockID), ttlSeconds)
			if err == nil && ok {
				mu.Lock()
				succeeded = append(succeeded, s)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)
	drift := int64(math.Ceil(float64(elapsed.Milliseconds())*DriftFactor)) + 2

	if len(succeeded) < m.quorum || validityMs-drift <= 0 {
		m.releaseFrom(ctx, succeeded, key, lockID)
		return Handle{}, orcherr.Newf(orcherr.CodeLockAcquireFailed,
			"only %d/%d stores acquired lock %s, quorum %d", len(succeeded), len(m.stores), key, m.quorum)
	}

	return Handle{
		LockID:     lockID,
		Key:        key,
		AcquiredAt: start,
		ValidityMs: validityMs,
		DriftMs:    drift,
		stores:     m.stores,
	}, nil
}

// Release CAS-deletes h's lockId from every store.
func (m *Manager) Release(ctx context.Context, h Handle) error {
	m.releaseFrom(ctx, h.stores, h.Key, h.LockID)
	return nil
}

func (m *Manager) releaseFrom(ctx context.Context, stores []store.KVStore, key, lockID string) {
	var wg sync.WaitGroup
	for _, s := range stores {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Eval(ctx, store.CASDeleteScript, []string{key}, []any{lockID})
		}()
	}
	wg.Wait()
}

// Extend CAS-extends h's TTL on every store, succeeding only if at least
// quorum stores still hold h's lockId.
func (m *Manager) Extend(ctx context.Context, h Handle, validityMs int64) error {
	ttlSeconds := int((validityMs + 999) / 1000)
	var mu sync.Mutex
	var wg sync.WaitGroup
	successCount := 0

	for _, s := range h.stores {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.Eval(ctx, store.CASExtendScript, []string{h.Key}, []any{h.LockID, ttlSeconds})
			if err == nil {
				if status, _ := result.(string); status == "OK" {
					mu.Lock()
					successCount++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if successCount < m.quorum {
		return orcherr.New(orcherr.CodeLockAcquireFailed, "extend did not reach quorum for "+h.Key)
	}
	return nil
}

// virtualStore namespaces keys for NewVirtualManager's single-store quorum
// simulation.
type virtualStore struct {
	store.KVStore
	prefix string
}

func (v virtualStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return v.KVStore.Get(ctx, v.prefix+key)
}
func (v virtualStore) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	return v.KVStore.Set(ctx, v.prefix+key, value, ttlSeconds)
}
func (v virtualStore) SetNX(ctx context.Context, key string, value []byte, ttlSeconds int) (bool, error) {
	return v.KVStore.SetNX(ctx, v.prefix+key, value, ttlSeconds)
}
func (v virtualStore) Del(ctx context.Context, key string) error {
	return v.KVStore.Del(ctx, v.prefix+key)
}
func (v virtualStore) Expire(ctx context.Context, key string, ttlSeconds int) error {
	return v.KVStore.Expire(ctx, v.prefix+key, ttlSeconds)
}
func (v virtualStore) Eval(ctx context.Context, script string, keys []string, args []any) (any, error) {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = v.prefix + k
	}
	return v.KVStore.Eval(ctx, script, prefixed, args)
}
