package mongo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/flowforge/intentexec/internal/vectorindex"
)

type fakeCollection struct {
	upserted    []any
	deletedOne  []any
	deletedMany []any
	aggResults  []matchDocument
	count       int64
}

func (f *fakeCollection) UpdateOne(_ context.Context, filter, _ any, _ ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	f.upserted = append(f.upserted, filter)
	return &mongodriver.UpdateResult{}, nil
}

func (f *fakeCollection) DeleteOne(_ context.Context, filter any) (*mongodriver.DeleteResult, error) {
	f.deletedOne = append(f.deletedOne, filter)
	return &mongodriver.DeleteResult{}, nil
}

func (f *fakeCollection) DeleteMany(_ context.Context, filter any) (*mongodriver.DeleteResult, error) {
	f.deletedMany = append(f.deletedMany, filter)
	return &mongodriver.DeleteResult{}, nil
}

func (f *fakeCollection) CountDocuments(context.Context, any) (int64, error) {
	return f.count, nil
}

func (f *fakeCollection) Aggregate(context.Context, any) (cursor, error) {
	return &fakeCursor{docs: f.aggResults}, nil
}

type fakeCursor struct{ docs []matchDocument }

func (c *fakeCursor) All(_ context.Context, results any) error {
	out := results.(*[]matchDocument)
	*out = c.docs
	return nil
}

func newTestStore(fc *fakeCollection) *Store {
	return &Store{coll: fc, indexName: defaultIndexName, timeout: 0}
}

func TestAdd_RequiresID(t *testing.T) {
	s := newTestStore(&fakeCollection{})
	err := s.Add(context.Background(), vectorindex.Document{})
	assert.Error(t, err)
}

func TestAdd_UpsertsByID(t *testing.T) {
	fc := &fakeCollection{}
	s := newTestStore(fc)
	err := s.Add(context.Background(), vectorindex.Document{ID: "doc-1", UserID: "user-1", Vector: []float32{0.1, 0.2}})
	require.NoError(t, err)
	assert.Len(t, fc.upserted, 1)
}

func TestSearch_FiltersBelowMinScore(t *testing.T) {
	fc := &fakeCollection{aggResults: []matchDocument{
		{ID: "a", Score: 0.95},
		{ID: "b", Score: 0.4},
	}}
	s := newTestStore(fc)
	matches, err := s.Search(context.Background(), []float32{0.1}, vectorindex.Filter{}, 5, 0.8)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Document.ID)
}

func TestDeleteByUser_IssuesDeleteMany(t *testing.T) {
	fc := &fakeCollection{}
	s := newTestStore(fc)
	require.NoError(t, s.DeleteByUser(context.Background(), "user-1"))
	assert.Len(t, fc.deletedMany, 1)
}

func TestStats_ReportsDocumentCount(t *testing.T) {
	fc := &fakeCollection{count: 42}
	s := newTestStore(fc)
	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 42, stats.DocumentCount)
}
