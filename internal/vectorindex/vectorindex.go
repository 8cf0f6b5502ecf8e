// Package vectorindex defines the VectorIndex contract (spec §6): a
// consumed collaborator providing semantic retrieval over embedded
// documents. Its reference in-process consumer is
// internal/intent.RecallVerifier, not the orchestrator's durable execution
// core, which never performs semantic search.
package vectorindex

import "context"

// Document is a single embedded record in the index.
type Document struct {
	ID     string
	UserID string
	Vector []float32
	Text   string
	Meta   map[string]any
}

// Match is a search hit: the stored document plus its similarity score.
type Match struct {
	Document Document
	Score    float64
}

// Filter narrows a search to a subset of the index.
type Filter struct {
	UserID string
	Meta   map[string]any
}

// Stats summarizes index health.
type Stats struct {
	DocumentCount int64
}

// VectorIndex is the consumed collaborator (spec §6): add, search, delete,
// deleteByUser, stats.
type VectorIndex interface {
	Add(ctx context.Context, doc Document) error
	Search(ctx context.Context, queryVec []float32, filter Filter, topK int, minScore float64) ([]Match, error)
	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) error
	Stats(ctx context.Context) (Stats, error)
}
