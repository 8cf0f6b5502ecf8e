// Package mongo implements vectorindex.VectorIndex on top of a MongoDB
// Atlas collection with a $vectorSearch index, grounded on the teacher's
// features/memory/mongo/clients/mongo client: a thin collection interface
// so tests substitute a fake, and context-scoped timeouts. New creates no
// index; Search queries the existing index named by Options.IndexName.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/flowforge/intentexec/internal/vectorindex"
)

const (
	defaultCollection = "intent_embeddings"
	defaultIndexName  = "intent_vector_index"
	defaultTimeout    = 5 * time.Second
)

// Options configures the Store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	IndexName  string
	Timeout    time.Duration
}

// Store implements vectorindex.VectorIndex backed by MongoDB Atlas Vector
// Search.
type Store struct {
	coll      collection
	indexName string
	timeout   time.Duration
}

// New builds a Store using the provided MongoDB client.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	indexName := opts.IndexName
	if indexName == "" {
		indexName = defaultIndexName
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	mcoll := opts.Client.Database(opts.Database).Collection(collName)
	return &Store{coll: mongoCollection{coll: mcoll}, indexName: indexName, timeout: timeout}, nil
}

// Add upserts a document by ID.
func (s *Store) Add(ctx context.Context, doc vectorindex.Document) error {
	if doc.ID == "" {
		return errors.New("document id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"_id": doc.ID}
	update := bson.M{
		"$set": bson.M{
			"user_id": doc.UserID,
			"vector":  doc.Vector,
			"text":    doc.Text,
			"meta":    doc.Meta,
		},
	}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// Search runs a $vectorSearch aggregation scoped by an optional user/meta
// filter, returning up to topK matches at or above minScore.
func (s *Store) Search(ctx context.Context, queryVec []float32, filter vectorindex.Filter, topK int, minScore float64) ([]vectorindex.Match, error) {
	if topK <= 0 {
		topK = 10
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	vectorSearch := bson.M{
		"index":         s.indexName,
		"path":          "vector",
		"queryVector":   queryVec,
		"numCandidates": topK * 10,
		"limit":         topK,
	}
	if f := mongoFilter(filter); f != nil {
		vectorSearch["filter"] = f
	}
	pipeline := bson.A{
		bson.M{"$vectorSearch": vectorSearch},
		bson.M{"$project": bson.M{
			"_id":     1,
			"user_id": 1,
			"vector":  1,
			"text":    1,
			"meta":    1,
			"score":   bson.M{"$meta": "vectorSearchScore"},
		}},
	}

	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var docs []matchDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	matches := make([]vectorindex.Match, 0, len(docs))
	for _, d := range docs {
		if d.Score < minScore {
			continue
		}
		matches = append(matches, vectorindex.Match{
			Document: vectorindex.Document{
				ID:     d.ID,
				UserID: d.UserID,
				Vector: d.Vector,
				Text:   d.Text,
				Meta:   d.Meta,
			},
			Score: d.Score,
		})
	}
	return matches, nil
}

// Delete removes a single document by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// DeleteByUser removes every document belonging to userID.
func (s *Store) DeleteByUser(ctx context.Context, userID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.DeleteMany(ctx, bson.M{"user_id": userID})
	return err
}

// Stats reports the collection's document count.
func (s *Store) Stats(ctx context.Context) (vectorindex.Stats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	count, err := s.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return vectorindex.Stats{}, err
	}
	return vectorindex.Stats{DocumentCount: count}, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func mongoFilter(f vectorindex.Filter) bson.M {
	if f.UserID == "" && len(f.Meta) == 0 {
		return nil
	}
	out := bson.M{}
	if f.UserID != "" {
		out["user_id"] = bson.M{"$eq": f.UserID}
	}
	for k, v := range f.Meta {
		out["meta."+k] = bson.M{"$eq": v}
	}
	return out
}

type matchDocument struct {
	ID     string         `bson:"_id"`
	UserID string         `bson:"user_id"`
	Vector []float32      `bson:"vector"`
	Text   string         `bson:"text"`
	Meta   map[string]any `bson:"meta,omitempty"`
	Score  float64        `bson:"score"`
}

type collection interface {
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	DeleteOne(ctx context.Context, filter any) (*mongodriver.DeleteResult, error)
	DeleteMany(ctx context.Context, filter any) (*mongodriver.DeleteResult, error)
	CountDocuments(ctx context.Context, filter any) (int64, error)
	Aggregate(ctx context.Context, pipeline any) (cursor, error)
}

type cursor interface {
	All(ctx context.Context, results any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteOne(ctx, filter)
}

func (c mongoCollection) DeleteMany(ctx context.Context, filter any) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteMany(ctx, filter)
}

func (c mongoCollection) CountDocuments(ctx context.Context, filter any) (int64, error) {
	return c.coll.CountDocuments(ctx, filter)
}

func (c mongoCollection) Aggregate(ctx context.Context, pipeline any) (cursor, error) {
	return c.coll.Aggregate(ctx, pipeline)
}
