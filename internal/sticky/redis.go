package sticky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces sticky bucket keys in a shared Redis.
const DefaultRedisPrefix = "gbStickyBuckets__"

// RedisService stores each document as a JSON string under
// prefix + "attributeName||attributeValue".
type RedisService struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisService.
type RedisOption func(*RedisService)

// WithPrefix overrides DefaultRedisPrefix.
func WithPrefix(prefix string) RedisOption {
	return func(r *RedisService) { r.prefix = prefix }
}

// WithTTL expires documents after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *RedisService) { r.ttl = ttl }
}

// NewRedisService wraps an existing client. The service owns the client and
// closes it on Close.
func NewRedisService(client redis.UniversalClient, opts ...RedisOption) *RedisService {
	r := &RedisService{client: client, prefix: DefaultRedisPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisService) key(attributeName, attributeValue string) string {
	return r.prefix + DocKey(attributeName, attributeValue)
}

// GetAssignments returns nil when the key does not exist.
func (r *RedisService) GetAssignments(ctx context.Context, attributeName, attributeValue string) (*Document, error) {
	raw, err := r.client.Get(ctx, r.key(attributeName, attributeValue)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode sticky bucket document: %w", err)
	}
	return &doc, nil
}

func (r *RedisService) SaveAssignments(ctx context.Context, doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(doc.AttributeName, doc.AttributeValue), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// GetAllAssignments loads every requested document with one MGET.
func (r *RedisService) GetAllAssignments(ctx context.Context, attributes map[string]string) (Docs, error) {
	result := make(Docs, len(attributes))
	if len(attributes) == 0 {
		return result, nil
	}

	keys := make([]string, 0, len(attributes))
	for name, val := range attributes {
		keys = append(keys, r.key(name, val))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var doc Document
		if err := json.Unmarshal([]byte(s), &doc); err != nil {
			return nil, fmt.Errorf("decode sticky bucket document: %w", err)
		}
		result[doc.Key()] = doc
	}
	return result, nil
}

func (r *RedisService) Close() error {
	return r.client.Close()
}
