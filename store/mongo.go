package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cppla/pagestats/config"
	"github.com/cppla/pagestats/models"
)

// MongoStore keeps one document per page with _id set to the page id.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// OpenMongo connects to the configured deployment and pings it.
func OpenMongo(ctx context.Context, cfg config.StoreConfig) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection),
	}, nil
}

func (m *MongoStore) Init(context.Context) error { return nil }

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoStore) Put(ctx context.Context, rec models.PageStatistics) error {
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": rec.PageID}, rec, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo put page %d: %w", rec.PageID, err)
	}
	return nil
}

// UpdateFields matches nothing when the page is absent; no upsert.
func (m *MongoStore) UpdateFields(ctx context.Context, pageID int64, meta models.PageMeta) error {
	update := bson.M{"$set": bson.M{"name": meta.Name, "description": meta.Description}}
	if _, err := m.collection.UpdateOne(ctx, bson.M{"_id": pageID}, update); err != nil {
		return fmt.Errorf("mongo update page %d: %w", pageID, err)
	}
	return nil
}

func (m *MongoStore) AdjustCounter(ctx context.Context, pageID int64, counter models.Counter, delta int64) error {
	if !counter.Valid() {
		return fmt.Errorf("unknown counter %q", counter)
	}
	update := bson.M{"$inc": bson.M{"counters." + string(counter): delta}}
	if _, err := m.collection.UpdateOne(ctx, bson.M{"_id": pageID}, update); err != nil {
		return fmt.Errorf("mongo adjust %s on page %d: %w", counter, pageID, err)
	}
	return nil
}

func (m *MongoStore) Delete(ctx context.Context, pageID int64) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": pageID}); err != nil {
		return fmt.Errorf("mongo delete page %d: %w", pageID, err)
	}
	return nil
}

func (m *MongoStore) Get(ctx context.Context, pageID int64) (*models.PageStatistics, error) {
	var rec models.PageStatistics
	err := m.collection.FindOne(ctx, bson.M{"_id": pageID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo get page %d: %w", pageID, err)
	}
	return &rec, nil
}

func (m *MongoStore) QueryByOwner(ctx context.Context, ownerID int64) ([]models.PageStatistics, error) {
	cur, err := m.collection.Find(ctx, bson.M{"owner_id": ownerID}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo query owner %d: %w", ownerID, err)
	}
	out := []models.PageStatistics{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongo decode owner %d: %w", ownerID, err)
	}
	return out, nil
}

func (m *MongoStore) QueryByOwnerAndPage(ctx context.Context, ownerID, pageID int64) (*models.PageStatistics, error) {
	rec, err := m.Get(ctx, pageID)
	return ownedBy(rec, err, ownerID)
}
