// Package memkv is an in-process KVStore fake used by package tests that
// exercise OCC, locking, idempotency, and the task queue without a live
// Redis instance. It interprets the same Lua script constants
// internal/store defines by pattern-matching on script text, so tests
// observe the same atomicity contract rediskv provides in production.
package memkv

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flowforge/intentexec/internal/store"
)

type entry struct {
	value    []byte
	expireAt time.Time
	hasTTL   bool
}

type zentry struct {
	score  float64
	member string
}

// Store is a thread-safe, in-memory KVStore.
type Store struct {
	mu   sync.Mutex
	data map[string]entry
	sets map[string][]zentry
	now  func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		data: make(map[string]entry),
		sets: make(map[string][]zentry),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the store's clock; used by tests that exercise TTL
// expiry deterministically.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) expired(e entry) bool {
	return e.hasTTL && s.now().After(e.expireAt)
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || s.expired(e) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttlSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = s.makeEntry(value, ttlSeconds)
	return nil
}

func (s *Store) SetNX(_ context.Context, key string, value []byte, ttlSeconds int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data[key]; ok && !s.expired(e) {
		return false, nil
	}
	s.data[key] = s.makeEntry(value, ttlSeconds)
	return true, nil
}

func (s *Store) makeEntry(value []byte, ttlSeconds int) entry {
	if ttlSeconds <= 0 {
		return entry{value: value}
	}
	return entry{value: value, hasTTL: true, expireAt: s.now().Add(time.Duration(ttlSeconds) * time.Second)}
}

func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *Store) Expire(_ context.Context, key string, ttlSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	e.hasTTL = true
	e.expireAt = s.now().Add(time.Duration(ttlSeconds) * time.Second)
	s.data[key] = e
	return nil
}

func (s *Store) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	var n int64
	if ok && !s.expired(e) {
		n, _ = strconv.ParseInt(string(e.value), 10, 64)
	}
	n++
	s.data[key] = entry{value: []byte(strconv.FormatInt(n, 10))}
	return n, nil
}

func (s *Store) Scan(_ context.Context, match string, count int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for k, e := range s.data {
		if s.expired(e) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if count > 0 && len(keys) > count {
		keys = keys[:count]
	}
	return keys, nil
}

func (s *Store) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.sets[key]
	for i, m := range members {
		if m.member == member {
			members[i].score = score
			s.sets[key] = members
			return nil
		}
	}
	s.sets[key] = append(members, zentry{score: score, member: member})
	return nil
}

func (s *Store) ZRangeByScore(_ context.Context, key string, min, max float64) ([]store.ZMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := append([]zentry(nil), s.sets[key]...)
	sort.Slice(members, func(i, j int) bool { return members[i].score < members[j].score })
	var out []store.ZMember
	for _, m := range members {
		if m.score >= min && m.score <= max {
			out = append(out, store.ZMember{Member: m.member, Score: m.score})
		}
	}
	return out, nil
}

func (s *Store) ZRem(_ context.Context, key string, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.sets[key]
	for i, m := range members {
		if m.member == member {
			s.sets[key] = append(members[:i], members[i+1:]...)
			return nil
		}
	}
	return nil
}

// Eval interprets the well-known script constants from internal/store by
// text match; any other script is rejected since memkv is a test fake, not
// a general Lua runtime.
func (s *Store) Eval(ctx context.Context, script string, keys []string, args []any) (any, error) {
	switch script {
	case store.CASSaveScript:
		return s.evalCASSave(keys, args)
	case store.CASDeleteScript:
		return s.evalCASMatch(keys, args, func(key string) { delete(s.data, key) })
	case store.CASExtendScript:
		ttl, _ := strconv.Atoi(fmt.Sprint(args[1]))
		return s.evalCASMatch(keys, args, func(key string) {
			e := s.data[key]
			e.hasTTL = true
			e.expireAt = s.now().Add(time.Duration(ttl) * time.Second)
			s.data[key] = e
		})
	default:
		return nil, fmt.Errorf("memkv: unrecognized script")
	}
}

func (s *Store) evalCASSave(keys []string, args []any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := keys[0]
	expectedVersion := fmt.Sprint(args[0])
	newValue, _ := args[1].([]byte)
	if newValue == nil {
		newValue = []byte(fmt.Sprint(args[1]))
	}
	ttl, _ := strconv.Atoi(fmt.Sprint(args[2]))

	e, ok := s.data[key]
	if !ok || s.expired(e) {
		return "NOT_FOUND", nil
	}
	var decoded struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(e.value, &decoded); err != nil {
		return "NOT_FOUND", nil
	}
	if strconv.Itoa(decoded.Version) != expectedVersion {
		return fmt.Sprintf("CONFLICT:%d", decoded.Version), nil
	}
	s.data[key] = s.makeEntry(newValue, ttl)
	return "OK", nil
}

func (s *Store) evalCASMatch(keys []string, args []any, onMatch func(key string)) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := keys[0]
	expected := fmt.Sprint(args[0])
	e, ok := s.data[key]
	if !ok || s.expired(e) || string(e.value) != expected {
		return "NOT_HELD", nil
	}
	onMatch(key)
	return "OK", nil
}
