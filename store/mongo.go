package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// MongoConfig Mongo 连接配置。
type MongoConfig struct {
	URI      string        `yaml:"uri" json:"uri"`
	Database string        `yaml:"database" json:"database"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultMongoConfig 默认配置。
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:      "mongodb://localhost:27017",
		Database: "plankton",
		Timeout:  10 * time.Second,
	}
}

// MongoStore 基于 MongoDB 的 Store 实现。
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// NewMongoStore 连接 MongoDB 并验证可达。
func NewMongoStore(cfg MongoConfig, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	logger = logger.With(zap.String("component", "store.mongo"))
	logger.Info("mongodb connected", zap.String("database", cfg.Database))

	return &MongoStore{
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger,
	}, nil
}

func toBSON(m map[string]any) bson.M {
	out := bson.M{}
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *MongoStore) Insert(ctx context.Context, collection string, doc Document) error {
	if _, err := s.db.Collection(collection).InsertOne(ctx, toBSON(doc)); err != nil {
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	return nil
}

func (s *MongoStore) Find(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	cursor, err := s.db.Collection(collection).Find(ctx, toBSON(filter))
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var docs []Document
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode document from %s: %w", collection, err)
		}
		docs = append(docs, Document(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return docs, nil
}

func (s *MongoStore) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	var doc bson.M
	err := s.db.Collection(collection).FindOne(ctx, toBSON(filter)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find one in %s: %w", collection, err)
	}
	return Document(doc), nil
}

func (s *MongoStore) Update(ctx context.Context, collection string, filter Filter, update Document) error {
	_, err := s.db.Collection(collection).UpdateOne(ctx, toBSON(filter), bson.M{"$set": toBSON(update)})
	if err != nil {
		return fmt.Errorf("update in %s: %w", collection, err)
	}
	return nil
}

func (s *MongoStore) DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error) {
	res, err := s.db.Collection(collection).DeleteMany(ctx, toBSON(filter))
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
