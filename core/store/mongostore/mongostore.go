/*
Package mongostore implements the document store on MongoDB

Filters are forwarded to the server unchanged, bulk writes are issued as
unordered bulk operations. Values read from the server are normalized into
plain maps, slices and JSON friendly scalars.
*/
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relabs-tech/restifier/core/logger"
	"github.com/relabs-tech/restifier/core/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// SequencesCollection is the collection holding the auto-increment counters
const SequencesCollection = "_sequences_"

// Store is a store.Store backed by a MongoDB database
type Store struct {
	client   *mongo.Client
	database *mongo.Database
}

// Open connects to uri and selects database
func Open(ctx context.Context, uri, database string) (*Store, error) {
	logger.FromContext(ctx).Infoln("connecting to mongo database:", database)
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("cannot ping mongo: %w", err)
	}
	return &Store{client: client, database: client.Database(database)}, nil
}

// EnsureCollection implements store.Store. It creates an index on the revision
// which history lookups sort by.
func (s *Store) EnsureCollection(ctx context.Context, name string) error {
	_, err := s.database.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: store.RevisionKey, Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("cannot create index on %s: %w", name, err)
	}
	return nil
}

// Collection implements store.Store
func (s *Store) Collection(name string) store.Collection {
	return &Collection{collection: s.database.Collection(name)}
}

// NextSequence implements store.Store. The counter document holds the number of
// steps taken times the increment, which lets a single upsert serve the first and
// all following values.
func (s *Store) NextSequence(ctx context.Context, name string, startAt, incrementBy int64) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	err := s.database.Collection(SequencesCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": incrementBy}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("cannot increment sequence %s: %w", name, err)
	}
	return startAt - incrementBy + counter.Value, nil
}

// Close implements store.Store
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Collection is a store.Collection backed by a mongo collection
type Collection struct {
	collection *mongo.Collection
}

// Name implements store.Collection
func (c *Collection) Name() string {
	return c.collection.Name()
}

// Find implements store.Collection
func (c *Collection) Find(ctx context.Context, filter store.Filter, o store.FindOptions) ([]store.Document, error) {
	findOptions := options.Find()
	if len(o.Sort) > 0 {
		sort := bson.D{}
		for _, s := range o.Sort {
			direction := 1
			if s.Desc {
				direction = -1
			}
			sort = append(sort, bson.E{Key: s.Field, Value: direction})
		}
		findOptions.SetSort(sort)
	}
	if o.Limit > 0 {
		findOptions.SetLimit(o.Limit)
	}
	if o.Skip > 0 {
		findOptions.SetSkip(o.Skip)
	}
	if o.BatchSize > 0 {
		findOptions.SetBatchSize(o.BatchSize)
	}

	cursor, err := c.collection.Find(ctx, asBSON(filter), findOptions)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", c.Name(), err)
	}
	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("read from %s: %w", c.Name(), err)
	}
	docs := make([]store.Document, 0, len(raw))
	for _, r := range raw {
		docs = append(docs, normalizeDocument(r))
	}
	return docs, nil
}

// Count implements store.Collection
func (c *Collection) Count(ctx context.Context, filter store.Filter) (int64, error) {
	count, err := c.collection.CountDocuments(ctx, asBSON(filter))
	if err != nil {
		return 0, fmt.Errorf("count in %s: %w", c.Name(), err)
	}
	return count, nil
}

// InsertMany implements store.Collection
func (c *Collection) InsertMany(ctx context.Context, documents []store.Document) error {
	if len(documents) == 0 {
		return nil
	}
	docs := make([]interface{}, len(documents))
	for i, d := range documents {
		if _, ok := d[store.IDKey]; !ok {
			return fmt.Errorf("insert into %s: document has no %s", c.Name(), store.IDKey)
		}
		docs[i] = bson.M(d)
	}
	_, err := c.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert into %s: %w", c.Name(), errors.Join(store.ErrDuplicate, err))
		}
		return fmt.Errorf("insert into %s: %w", c.Name(), err)
	}
	return nil
}

// BulkUpdate implements store.Collection
func (c *Collection) BulkUpdate(ctx context.Context, updates []store.Update) (store.BulkResult, error) {
	var result store.BulkResult
	models := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		update := bson.M{}
		if len(u.Set) > 0 {
			set := bson.M{}
			for k, v := range u.Set {
				if k != store.IDKey {
					set[k] = v
				}
			}
			update["$set"] = set
		}
		if len(u.Inc) > 0 {
			inc := bson.M{}
			for k, v := range u.Inc {
				inc[k] = v
			}
			update["$inc"] = inc
		}
		if len(update) == 0 {
			continue
		}
		models = append(models, mongo.NewUpdateOneModel().SetFilter(asBSON(u.Filter)).SetUpdate(update))
	}
	if len(models) == 0 {
		return result, nil
	}
	res, err := c.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if res != nil {
		result.Matched = res.MatchedCount
		result.Modified = res.ModifiedCount
	}
	if err != nil {
		return result, fmt.Errorf("bulk update in %s: %w", c.Name(), err)
	}
	return result, nil
}

// Remove implements store.Collection
func (c *Collection) Remove(ctx context.Context, filter store.Filter) (int64, error) {
	res, err := c.collection.DeleteMany(ctx, asBSON(filter))
	if err != nil {
		return 0, fmt.Errorf("remove from %s: %w", c.Name(), err)
	}
	return res.DeletedCount, nil
}

func asBSON(filter store.Filter) bson.M {
	if filter == nil {
		return bson.M{}
	}
	return bson.M(filter)
}

func normalizeDocument(m bson.M) store.Document {
	doc := make(store.Document, len(m))
	for k, v := range m {
		doc[k] = normalize(v)
	}
	return doc
}

// normalize converts driver specific types into the plain types documents use
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		return normalizeDocument(t)
	case map[string]interface{}:
		return normalizeDocument(bson.M(t))
	case bson.D:
		doc := make(store.Document, len(t))
		for _, e := range t {
			doc[e.Key] = normalize(e.Value)
		}
		return doc
	case bson.A:
		a := make([]interface{}, len(t))
		for i, e := range t {
			a[i] = normalize(e)
		}
		return a
	case []interface{}:
		return normalize(bson.A(t))
	case int32:
		return int64(t)
	case bson.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano)
	case bson.ObjectID:
		return t.Hex()
	case bson.Decimal128:
		return t.String()
	}
	return v
}
