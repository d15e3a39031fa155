package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	connectTimeout = 10 * time.Second
	maxPoolSize    = 100
)

// MongoIndex implements Writer against a MongoDB collection.
type MongoIndex struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
}

// NewMongoIndex connects to MongoDB and verifies connectivity.
func NewMongoIndex(ctx context.Context, uri, database, collection string, logger *slog.Logger) (*MongoIndex, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(connectTimeout).
		SetMaxPoolSize(maxPoolSize)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb ping failed: %w", err)
	}

	logger.Info("document index connected", "database", database, "collection", collection)

	return &MongoIndex{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     logger,
	}, nil
}

// Put stores a document and returns its index id.
func (m *MongoIndex) Put(ctx context.Context, doc *Document) (string, error) {
	res, err := m.collection.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("inserting document: %w", err)
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return fmt.Sprintf("%v", res.InsertedID), nil
	}
	return oid.Hex(), nil
}

// Search returns documents whose platform, domain, or content hash match
// the query.
func (m *MongoIndex) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"platform": bson.M{"$regex": query, "$options": "i"}},
		bson.M{"domain": bson.M{"$regex": query, "$options": "i"}},
		bson.M{"content_hash": query},
	}}

	opts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "occurred_at", Value: -1}})

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding search results: %w", err)
	}
	return docs, nil
}

// BulkDelete removes documents by index id. Unparseable ids are skipped.
func (m *MongoIndex) BulkDelete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			m.logger.Warn("skipping malformed index id", "id", id)
			continue
		}
		oids = append(oids, oid)
	}
	if len(oids) == 0 {
		return nil
	}

	_, err := m.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return fmt.Errorf("bulk deleting documents: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (m *MongoIndex) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
