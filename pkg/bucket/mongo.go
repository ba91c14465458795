package bucket

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	errs "github.com/matzehuels/neonfeed/pkg/errors"
)

const (
	// DefaultMongoDatabase is used when no database name is configured.
	DefaultMongoDatabase = "neonfeed"

	mongoCollection = "entries"
)

// MongoStore keeps all buckets in one collection of {bucket, key} documents.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type mongoEntry struct {
	Bucket string `bson:"bucket"`
	Key    string `bson:"key"`
	Entry  Entry  `bson:"entry"`
}

// NewMongoStore creates a store in database on client and ensures the
// unique (bucket, key) index. The store owns the client and disconnects it
// in Close.
func NewMongoStore(ctx context.Context, client *mongo.Client, database string) (*MongoStore, error) {
	if database == "" {
		database = DefaultMongoDatabase
	}
	coll := client.Database(database).Collection(mongoCollection)

	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "bucket", Value: 1}, {Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("create entries index: %w", err)
	}
	return &MongoStore{client: client, collection: coll}, nil
}

func entryFilter(bucket, key string) bson.D {
	return bson.D{{Key: "bucket", Value: bucket}, {Key: "key", Value: key}}
}

func (s *MongoStore) Names(ctx context.Context) ([]string, error) {
	values, err := s.collection.Distinct(ctx, "bucket", bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	names := make([]string, 0, len(values))
	for _, v := range values {
		if name, ok := v.(string); ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

func (s *MongoStore) Match(ctx context.Context, bucket, key string) (Entry, bool, error) {
	var doc mongoEntry
	err := s.collection.FindOne(ctx, entryFilter(bucket, key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("find entry %s: %w", key, err)
	}
	return doc.Entry, true, nil
}

func (s *MongoStore) Put(ctx context.Context, bucket, key string, entry Entry) error {
	if err := errs.ValidateBucketName(bucket); err != nil {
		return err
	}
	_, err := s.collection.ReplaceOne(ctx, entryFilter(bucket, key),
		mongoEntry{Bucket: bucket, Key: key, Entry: entry},
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put entry %s: %w", key, err)
	}
	return nil
}

// PutAll upserts the entries with one ordered bulk write. Without a
// replica-set transaction a failed write can leave earlier entries stored.
func (s *MongoStore) PutAll(ctx context.Context, bucket string, entries map[string]Entry) error {
	if err := errs.ValidateBucketName(bucket); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(entries))
	for _, k := range sortedKeys(entries) {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(entryFilter(bucket, k)).
			SetReplacement(mongoEntry{Bucket: bucket, Key: k, Entry: entries[k]}).
			SetUpsert(true))
	}
	if _, err := s.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		return fmt.Errorf("put entries in %s: %w", bucket, err)
	}
	return nil
}

func (s *MongoStore) Keys(ctx context.Context, bucket string) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.D{{Key: "key", Value: 1}}).
		SetSort(bson.D{{Key: "key", Value: 1}})
	cur, err := s.collection.Find(ctx, bson.D{{Key: "bucket", Value: bucket}}, opts)
	if err != nil {
		return nil, fmt.Errorf("list keys in %s: %w", bucket, err)
	}
	defer cur.Close(ctx)

	var keys []string
	for cur.Next(ctx) {
		var doc struct {
			Key string `bson:"key"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode key: %w", err)
		}
		keys = append(keys, doc.Key)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list keys in %s: %w", bucket, err)
	}
	return keys, nil
}

func (s *MongoStore) DeleteBucket(ctx context.Context, bucket string) (bool, error) {
	res, err := s.collection.DeleteMany(ctx, bson.D{{Key: "bucket", Value: bucket}})
	if err != nil {
		return false, fmt.Errorf("delete bucket %s: %w", bucket, err)
	}
	return res.DeletedCount > 0, nil
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

var _ Store = (*MongoStore)(nil)
