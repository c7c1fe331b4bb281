// Package redisstore keeps identity metadata in Redis, one hash per
// identity with JSON-encoded field values.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// DefaultPrefix is prepended to the subject id to form the hash key.
const DefaultPrefix = "provisioner:metadata:"

// Store implements metadata.Store on Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New creates a Store using client.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client, prefix: DefaultPrefix}
}

// Dial connects to the Redis server at addr and checks it answers.
func Dial(ctx context.Context, addr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return New(client), nil
}

func (s *Store) key(subjectID string) string {
	return s.prefix + subjectID
}

func (s *Store) Get(ctx context.Context, subjectID string) (map[string]any, error) {
	fields, err := s.client.HGetAll(ctx, s.key(subjectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}

	md := make(map[string]any, len(fields))
	for field, raw := range fields {
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("failed to decode metadata field %s: %w", field, err)
		}
		md[field] = value
	}
	return md, nil
}

func (s *Store) Update(ctx context.Context, subjectID string, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}

	values := make(map[string]interface{}, len(patch))
	for field, value := range patch {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode metadata field %s: %w", field, err)
		}
		values[field] = string(encoded)
	}

	if err := s.client.HSet(ctx, s.key(subjectID), values).Err(); err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
