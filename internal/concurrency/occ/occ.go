// Package occ implements the optimistic-concurrency state save spec §4.7.1
// describes: read, merge, CAS write via the store's atomic script, and a
// bounded rebase-and-retry loop on conflict.
package occ

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/flowforge/intentexec/internal/orcherr"
	"github.com/flowforge/intentexec/internal/store"
)

// Record is the minimal shape saveStateWithOCC needs to read/bump a
// version out of an opaque JSON blob; callers' real state (ExecutionState)
// embeds a "version" field satisfying this shape.
type Record struct {
	Version int `json:"version"`
}

// UpdateFunc merges an update onto the current raw JSON record and returns
// the new raw JSON record with its version left unchanged; Save bumps
// the version itself before writing.
type UpdateFunc func(current []byte) ([]byte, error)

// Options configures saveStateWithOCC's retry behavior (spec §4.7.1).
type Options struct {
	MaxRetries  int
	BaseDelayMs int
	TTLSeconds  int
}

// DefaultOptions matches spec §4.7.1's stated defaults.
func DefaultOptions() Options {
	return Options{MaxRetries: 3, BaseDelayMs: 100, TTLSeconds: 0}
}

// Save implements saveStateWithOCC: load, merge, CAS write, rebase-retry on
// CONFLICT up to opts.MaxRetries, abort on NOT_FOUND.
func Save(ctx context.Context, kv store.KVStore, key string, update UpdateFunc, opts Options) ([]byte, error) {
	if opts.MaxRetries <= 0 {
		opts = DefaultOptions()
	}

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		raw, found, err := kv.Get(ctx, key)
		if err != nil {
			return nil, orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "read state before CAS", err)
		}
		if !found {
			return nil, orcherr.New(orcherr.CodeNotFound, "execution state not found")
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "decode state record", err)
		}

		merged, err := update(raw)
		if err != nil {
			return nil, orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "apply update to state", err)
		}
		bumped, err := bumpVersion(merged, rec.Version+1)
		if err != nil {
			return nil, orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "bump version on merged state", err)
		}

		result, err := kv.Eval(ctx, store.CASSaveScript, []string{key},
			[]any{strconv.Itoa(rec.Version), bumped, opts.TTLSeconds})
		if err != nil {
			return nil, orcherr.Wrap(orcherr.CodeMemoryOperationFailed, "execute CAS script", err)
		}

		status, _ := result.(string)
		switch {
		case status == "OK":
			return bumped, nil
		case status == "NOT_FOUND":
			return nil, orcherr.New(orcherr.CodeNotFound, "execution state not found during CAS")
		case strings.HasPrefix(status, "CONFLICT"):
			if attempt == opts.MaxRetries {
				return nil, orcherr.New(orcherr.CodeConflict, "CAS conflict, retries exhausted").WithDetails(map[string]any{"status": status})
			}
			backoff(opts.BaseDelayMs, attempt)
			continue
		default:
			return nil, orcherr.Newf(orcherr.CodeMemoryOperationFailed, "unexpected CAS result %q", status)
		}
	}
	return nil, orcherr.New(orcherr.CodeConflict, "CAS conflict, retries exhausted")
}

// bumpVersion sets "version" on a JSON object to the given value.
func bumpVersion(raw []byte, version int) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m["version"] = version
	return json.Marshal(m)
}

// backoff sleeps min(1000ms, base*2^attempt + jitter), per spec §4.7.1 step 4.
func backoff(baseDelayMs, attempt int) {
	delay := float64(baseDelayMs) * math.Pow(2, float64(attempt))
	jitter := rand.Float64() * float64(baseDelayMs)
	ms := math.Min(1000, delay+jitter)
	time.Sleep(time.Duration(ms) * time.Millisecond)
}
