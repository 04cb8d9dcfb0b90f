package database

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/marianar97/maggie-web-api-endpoint/internal/config"
)

// Open connects the DocumentStore selected by cfg.StoreBackend.
// A redis client already created for other purposes may be passed to share its pool.
func Open(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (DocumentStore, error) {
	switch cfg.StoreBackend {
	case config.StoreMongoDB:
		mongo, err := NewMongoDB(cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		if err := mongo.Initialize(ctx); err != nil {
			log.Printf("⚠️  Warning: Failed to initialize MongoDB indexes: %v", err)
		}
		return mongo, nil

	case config.StoreFirestore:
		return NewFirestore(ctx, cfg.FirestoreProjectID, cfg.FirestoreCredentials)

	case config.StoreRedis:
		if redisClient == nil {
			client, err := NewRedisClient(cfg.RedisURL)
			if err != nil {
				return nil, err
			}
			redisClient = client
		}
		return NewRedisStore(redisClient), nil

	case config.StoreSQL:
		return NewSQLStore(cfg.DatabaseURL)

	case config.StoreMemory:
		log.Println("⚠️  Using in-memory document store, data is lost on restart")
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
