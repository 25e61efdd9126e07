package stores

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const mongoDisconnectTimeout = 5 * time.Second

// MongoStore is the document store handle.
type MongoStore struct {
	client *mongo.Client
}

// OpenMongo creates a client for uri. The driver connects in the background; Ping blocks
// until a server is selected.
func OpenMongo(ctx context.Context, uri string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	return &MongoStore{client: client}, nil
}

// Kind implements Handle.
func (m *MongoStore) Kind() Kind { return KindMongo }

// Ping implements Handle.
func (m *MongoStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Close implements Handle.
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// InsertMany inserts docs and returns their ids in insertion order.
func (m *MongoStore) InsertMany(ctx context.Context, database, collection string, docs []Document) ([]string, error) {
	payload := make([]interface{}, 0, len(docs))
	for _, doc := range docs {
		payload = append(payload, toBSON(doc))
	}
	res, err := m.client.Database(database).Collection(collection).InsertMany(ctx, payload)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.InsertedIDs))
	for _, id := range res.InsertedIDs {
		ids = append(ids, formatObjectID(id))
	}
	return ids, nil
}

func toBSON(doc Document) bson.D {
	out := make(bson.D, 0, len(doc))
	for _, f := range doc {
		out = append(out, bson.E{Key: f.Key, Value: f.Value})
	}
	return out
}

func formatObjectID(id interface{}) string {
	if oid, ok := id.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprint(id)
}
