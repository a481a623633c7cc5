// Package mongo persists catalog records as MongoDB documents.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Connect dials uri and verifies the primary is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, fmt.Errorf("database.mongo_uri is required")
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(dialCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("create mongo client: %w", err)
	}
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		discCtx, discCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer discCancel()
		_ = client.Disconnect(discCtx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// Collection inserts batches of R as documents. R must be BSON-encodable.
type Collection[R any] struct {
	coll *mongo.Collection
	// IgnoreDuplicates treats duplicate-key write errors as success, for
	// collections with a unique index on the record's identity.
	IgnoreDuplicates bool
	logger           *zap.Logger
}

// NewCollection wraps coll.
func NewCollection[R any](coll *mongo.Collection, logger *zap.Logger) *Collection[R] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collection[R]{coll: coll, logger: logger.With(zap.String("collection", coll.Name()))}
}

// InsertBatch writes records with one unordered InsertMany.
func (c *Collection[R]) InsertBatch(ctx context.Context, records []R) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]any, len(records))
	for i := range records {
		docs[i] = records[i]
	}
	res, err := c.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		if c.IgnoreDuplicates && onlyDuplicates(err) {
			c.logger.Debug("duplicate documents skipped", zap.Error(err))
			return nil
		}
		return fmt.Errorf("insert into %s: %w", c.coll.Name(), err)
	}
	c.logger.Debug("inserted documents", zap.Int("count", len(res.InsertedIDs)))
	return nil
}

func onlyDuplicates(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return mongo.IsDuplicateKeyError(err)
	}
	if bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return true
}

// SourceStore reads the sources collection.
type SourceStore struct {
	coll *mongo.Collection
}

// NewSourceStore wraps the sources collection of db.
func NewSourceStore(db *mongo.Database) *SourceStore {
	return &SourceStore{coll: db.Collection("sources")}
}

type sourceDoc struct {
	ID   any    `bson:"_id"`
	Name string `bson:"name"`
}

// SelectSources returns every source document.
func (s *SourceStore) SelectSources(ctx context.Context) ([]crawler.Source, error) {
	cursor, err := s.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find sources: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var out []crawler.Source
	for cursor.Next(ctx) {
		var doc sourceDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode source: %w", err)
		}
		out = append(out, crawler.Source{ID: idString(doc.ID), Name: doc.Name})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

func idString(id any) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
