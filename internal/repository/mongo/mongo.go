// Package mongo persists the catalog in a MongoDB collection, one document
// per dataset keyed by dataset_id.
package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/heliocloud-data/registry/internal/catalog"
	"github.com/heliocloud-data/registry/internal/repository"
)

const (
	defaultDatabase   = "catalog"
	defaultCollection = "datasets"
)

type Repository struct {
	client     *mongo.Client
	database   string
	collection string
	logger     *zap.Logger
}

type Option func(*Repository)

func WithDatabase(name string) Option {
	return func(r *Repository) {
		r.database = name
	}
}

func WithCollection(name string) Option {
	return func(r *Repository) {
		r.collection = name
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

func New(ctx context.Context, uri string, opts ...Option) (*Repository, error) {
	r := &Repository{
		database:   defaultDatabase,
		collection: defaultCollection,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &repository.RegistryError{Op: "connect", Err: err}
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, &repository.RegistryError{Op: "ping", Err: err}
	}
	r.client = client
	return r, nil
}

func (r *Repository) coll() *mongo.Collection {
	return r.client.Database(r.database).Collection(r.collection)
}

// Save upserts each dataset by dataset_id. ReplaceOne with upsert gives the
// per-id write serialization the catalog relies on.
func (r *Repository) Save(ctx context.Context, datasets []*catalog.Dataset) (int, error) {
	written := 0
	for _, d := range datasets {
		doc := bson.M{}
		for k, v := range d.ToDoc() {
			doc[k] = v
		}

		res, err := r.coll().ReplaceOne(ctx,
			bson.M{"dataset_id": d.ID},
			doc,
			options.Replace().SetUpsert(true),
		)
		if err != nil {
			return written, &repository.RegistryError{Op: "save " + d.ID, Err: err}
		}
		written += int(res.MatchedCount + res.UpsertedCount)

		r.logger.Debug("dataset saved",
			zap.String("dataset_id", d.ID),
			zap.Int64("matched", res.MatchedCount),
			zap.Int64("upserted", res.UpsertedCount),
		)
	}
	return written, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*catalog.Dataset, error) {
	var doc map[string]any
	err := r.coll().FindOne(ctx, bson.M{"dataset_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, &repository.RegistryError{Op: "get " + id, Err: err}
	}
	return catalog.FromDoc(normalize(doc))
}

// normalize rewrites bson's named container types into the plain forms the
// dataset codec accepts, and drops the mongo document id.
func normalize(doc map[string]any) map[string]any {
	delete(doc, "_id")
	for k, v := range doc {
		if arr, ok := v.(primitive.A); ok {
			doc[k] = []any(arr)
		}
	}
	return doc
}

func (r *Repository) GetAll(ctx context.Context) ([]*catalog.Dataset, error) {
	cur, err := r.coll().Find(ctx, bson.M{})
	if err != nil {
		return nil, &repository.RegistryError{Op: "scan", Err: err}
	}
	defer cur.Close(ctx)

	var out []*catalog.Dataset
	for cur.Next(ctx) {
		var doc map[string]any
		if err := cur.Decode(&doc); err != nil {
			return nil, &repository.RegistryError{Op: "scan", Err: err}
		}
		d, err := catalog.FromDoc(normalize(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := cur.Err(); err != nil {
		return nil, &repository.RegistryError{Op: "scan", Err: err}
	}
	return out, nil
}

func (r *Repository) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.coll().DeleteOne(ctx, bson.M{"dataset_id": id}); err != nil {
		return &repository.RegistryError{Op: "delete " + id, Err: err}
	}
	return nil
}

func (r *Repository) DeleteAll(ctx context.Context) (int, error) {
	res, err := r.coll().DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, &repository.RegistryError{Op: "delete all", Err: err}
	}
	return int(res.DeletedCount), nil
}

func (r *Repository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
