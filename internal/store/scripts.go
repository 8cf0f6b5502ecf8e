package store

// The following Lua scripts are the atomic primitives the concurrency
// substrate (internal/concurrency/occ, internal/concurrency/lock) depends on
// via KVStore.Eval. They are shared verbatim between the Redis binding
// (executed server-side) and the in-memory fake (pattern-matched by value
// so tests get the same atomicity semantics without a Lua runtime).

// CASSaveScript implements the OCC compare-and-swap write (spec §4.7.1
// step 3): KEYS[1] is the record key, ARGV[1] the expected version (as a
// decimal string), ARGV[2] the new JSON-encoded value (which must itself
// carry the bumped version), ARGV[3] the TTL in seconds. A missing key
// returns "NOT_FOUND"; a version mismatch returns "CONFLICT:<currentVersion>".
const CASSaveScript = `
local current = redis.call('GET', KEYS[1])
if not current then
  return 'NOT_FOUND'
end
local decoded = cjson.decode(current)
if tostring(decoded.version) ~= ARGV[1] then
  return 'CONFLICT:' .. tostring(decoded.version)
end
redis.call('SET', KEYS[1], ARGV[2], 'EX', ARGV[3])
return 'OK'
`

// CASDeleteScript implements a quorum lock's release (spec §4.7.2): delete
// KEYS[1] only if its current value equals ARGV[1] (the holder's lockId).
const CASDeleteScript = `
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 'OK'
end
return 'NOT_HELD'
`

// CASExtendScript implements a quorum lock's extend (spec §4.7.2): refresh
// KEYS[1]'s TTL to ARGV[2] seconds only if its current value equals ARGV[1].
const CASExtendScript = `
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
  return 'OK'
end
return 'NOT_HELD'
`
