// Package ids centralizes identifier generation for the orchestrator so that
// every entity (intents, plans, steps, executions, checkpoints) uses the same
// UUID scheme and idempotency-key derivation.
package ids

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// New returns a fresh random UUID string. Centralized so call sites never
// reach for uuid.New() directly and the scheme can change in one place.
func New() string {
	return uuid.NewString()
}

// IdempotencyKey derives the deduplication key described in spec §3:
// sha256(user_id ‖ tool_name ‖ normalized_parameters), truncated to 16 hex
// characters. normalizedParams must already be a canonical byte encoding
// (e.g., JSON with sorted keys) so identical logical calls hash identically.
func IdempotencyKey(userID, toolName string, normalizedParams []byte) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write(normalizedParams)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:16]
}
