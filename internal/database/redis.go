package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log"
	"maps"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisDocPrefix        = "doc:"
	redisCollectionPrefix = "col:"
	redisUpdateAttempts   = 5
)

// RedisStore is a DocumentStore keeping each document as a JSON string.
// Collection membership is tracked in a set per collection path.
type RedisStore struct {
	client *redis.Client
}

// NewRedisClient parses a redis:// URL and returns a connected client
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Println("✅ Redis connection established")
	return client, nil
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) GetDocument(ctx context.Context, docPath string) (map[string]any, bool, error) {
	if _, _, err := splitDocPath(docPath); err != nil {
		return nil, false, err
	}

	raw, err := r.client.Get(ctx, redisDocPrefix+docPath).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get document %s: %w", docPath, err)
	}

	data := make(map[string]any)
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, fmt.Errorf("corrupt document %s: %w", docPath, err)
	}
	return data, true, nil
}

func (r *RedisStore) SetDocument(ctx context.Context, docPath string, data map[string]any) error {
	parent, id, err := splitDocPath(docPath)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", docPath, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisDocPrefix+docPath, raw, 0)
		pipe.SAdd(ctx, redisCollectionPrefix+parent, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set document %s: %w", docPath, err)
	}
	return nil
}

// UpdateDocument merges fields under WATCH so a concurrent writer forces a retry
func (r *RedisStore) UpdateDocument(ctx context.Context, docPath string, data map[string]any) error {
	if _, _, err := splitDocPath(docPath); err != nil {
		return err
	}
	key := redisDocPrefix + docPath

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrDocumentNotFound
		}
		if err != nil {
			return err
		}

		doc := make(map[string]any)
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("corrupt document %s: %w", docPath, err)
		}
		maps.Copy(doc, data)

		merged, err := json.Marshal(doc)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, merged, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisUpdateAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrDocumentNotFound) {
			return err
		}
		if err != nil {
			return fmt.Errorf("failed to update document %s: %w", docPath, err)
		}
		return nil
	}
	return fmt.Errorf("failed to update document %s: too much contention", docPath)
}

// ListDocuments scans the collection set; order is unspecified
func (r *RedisStore) ListDocuments(ctx context.Context, collectionPath string) iter.Seq2[DocumentRef, error] {
	if err := validateCollectionPath(collectionPath); err != nil {
		return errSeq(err)
	}

	return func(yield func(DocumentRef, error) bool) {
		it := r.client.SScan(ctx, redisCollectionPrefix+collectionPath, 0, "", 100).Iterator()
		for it.Next(ctx) {
			id := it.Val()
			if !yield(DocumentRef{ID: id, Path: collectionPath + "/" + id}, nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(DocumentRef{}, fmt.Errorf("failed to list %s: %w", collectionPath, err))
		}
	}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close(ctx context.Context) error {
	log.Println("🔌 Closing Redis connection...")
	return r.client.Close()
}
