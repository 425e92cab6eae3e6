package mongodb

import (
	"context"
	"fmt"

	"wallet-ledger/config"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// NewClient connects to MongoDB and verifies connectivity.
func NewClient(ctx context.Context, cfg config.MongoConfig, log zerolog.Logger) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	log.Info().
		Str("database", cfg.Database).
		Msg("MongoDB connection established")

	return client, nil
}

// HealthCheck implements ports.HealthChecker for MongoDB.
type HealthCheck struct {
	client *mongo.Client
}

// NewHealthCheck creates a MongoDB health checker.
func NewHealthCheck(client *mongo.Client) *HealthCheck {
	return &HealthCheck{client: client}
}

// Name returns the dependency name.
func (h *HealthCheck) Name() string {
	return "mongodb"
}

// Check verifies MongoDB connectivity.
func (h *HealthCheck) Check(ctx context.Context) error {
	return h.client.Ping(ctx, readpref.Primary())
}
