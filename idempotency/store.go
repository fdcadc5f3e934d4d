// Package idempotency stores responses to replay when a client retries a
// POST with the same Idempotency-Key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyNamespace      = "swimledger"
	idempotencyPrefix = "idempotency"
)

// ErrMiss is returned by Get when nothing is stored under the key.
var ErrMiss = errors.New("idempotency: no stored response")

// Store exposes the operations the replay middleware needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Key(scope, id string) string
}

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
}

// RedisStore keeps records in Redis.
type RedisStore struct {
	store cmdable
	raw   *redis.Client
}

// NewRedis connects to the Redis at url and verifies connectivity.
func NewRedis(ctx context.Context, url string, dialTimeout time.Duration) (*RedisStore, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if dialTimeout > 0 {
		opts.DialTimeout = dialTimeout
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{store: raw, raw: raw}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	if s.store == nil {
		return "", errors.New("redis client not initialized")
	}
	v, err := s.store.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

// SetNX sets a value only if the key does not exist yet.
func (s *RedisStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if s.store == nil {
		return false, errors.New("redis client not initialized")
	}
	return s.store.SetNX(ctx, key, value, ttl).Result()
}

// Key returns a namespaced key for a client-supplied idempotency id.
func (s *RedisStore) Key(scope, id string) string {
	return strings.Join([]string{keyNamespace, idempotencyPrefix, scope, id}, ":")
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if s.store == nil {
		return errors.New("redis client not initialized")
	}
	return s.store.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	if s.raw == nil {
		return nil
	}
	return s.raw.Close()
}

// =============================================================================
// RECORDS
// =============================================================================

// Record is a captured response.
type Record struct {
	Status      int               `json:"status"`
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
}

// NewRecord captures a response; body is stored base64 encoded.
func NewRecord(status int, body []byte, contentType, requestHash string) Record {
	r := Record{
		Status:      status,
		Body:        base64.StdEncoding.EncodeToString(body),
		RequestHash: requestHash,
	}
	if contentType != "" {
		r.Headers = map[string]string{"Content-Type": contentType}
	}
	return r
}

func (r Record) Encode() (string, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func DecodeRecord(payload string) (Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// DecodedBody returns the original response body.
func (r Record) DecodedBody() ([]byte, error) {
	return base64.StdEncoding.DecodeString(r.Body)
}

// HashBody fingerprints a request body so a key cannot be reused for a
// different request.
func HashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}
