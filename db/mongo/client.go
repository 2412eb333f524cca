package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/world-in-progress/canopy/config"
	"github.com/world-in-progress/canopy/core/logger"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoClient struct {
	Client   *mongo.Client
	Database *mongo.Database
	Config   config.MongoConfig
}

// Connect dials MongoDB, retrying with exponential backoff until the server
// answers a ping or the retry window closes.
func Connect(ctx context.Context, cfg config.MongoConfig) (*MongoClient, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.TimeoutDuration()).
		SetMaxPoolSize(100)

	var client *mongo.Client
	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(func() error {
		var err error
		if client == nil {
			client, err = mongo.Connect(ctx, clientOptions)
			if err != nil {
				// malformed URI or options, retrying cannot help
				return backoff.Permanent(err)
			}
		}
		if err = client.Ping(ctx, nil); err != nil {
			logger.Warn("MongoDB ping failed, retrying: %v", err)
		}
		return err
	}, backoff.WithContext(retry, ctx))
	if err != nil {
		if client != nil {
			_ = client.Disconnect(context.Background())
		}
		return nil, fmt.Errorf("failed to connect MongoDB: %w", err)
	}

	logger.Info("MongoDB connection successful: %s", cfg.Database)
	return &MongoClient{
		Client:   client,
		Database: client.Database(cfg.Database),
		Config:   cfg,
	}, nil
}

func (m *MongoClient) Close() {
	if m.Client != nil {
		if err := m.Client.Disconnect(context.Background()); err != nil {
			logger.Error("Failed to close MongoDB connection: %v", err)
		}
	}
}
