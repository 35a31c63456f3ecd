package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions holds configuration for connecting to a Redis server.
type RedisOptions struct {
	// Address is the host:port of the Redis server.
	Address string `yaml:"address"`
	// URL is a redis:// URI. When set it takes precedence over Address,
	// Password and DB.
	URL string `yaml:"url"`
	// Password is the password used to authenticate.
	Password string `yaml:"password"`
	// DB is the database index to select.
	DB int `yaml:"db"`
	// KeyPrefix is prepended to every key, so several stores can share a
	// database.
	KeyPrefix string `yaml:"key_prefix"`
	// DialTimeout bounds the initial connectivity check.
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config `yaml:"-"`
}

// DefaultRedisOptions returns localhost defaults (no password, DB 0).
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Address:     "localhost:6379",
		DB:          0,
		DialTimeout: 5 * time.Second,
	}
}

// RedisStore is a Store backed by a Redis server.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	isOwner bool
}

// OpenRedisStore connects to Redis and verifies the connection with PING.
func OpenRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	var ropts *redis.Options
	if opts.URL != "" {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		ropts = parsed
	} else {
		ropts = &redis.Options{
			Addr:      opts.Address,
			Password:  opts.Password,
			DB:        opts.DB,
			TLSConfig: opts.TLSConfig,
		}
	}

	slog.Info("Opening Redis connection", "address", ropts.Addr, "db", ropts.DB, "prefix", opts.KeyPrefix)
	client := redis.NewClient(ropts)

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: redis ping failed: %w", ErrStoreIO, err)
	}

	return &RedisStore{client: client, prefix: opts.KeyPrefix, isOwner: true}, nil
}

// NewRedisStore wraps an existing client. Close does not close a client it
// does not own.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

// Read implements Store.
func (s *RedisStore) Read(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: redis get %q: %w", ErrStoreIO, key, err)
	}
	return value, true, nil
}

// Write implements Store.
func (s *RedisStore) Write(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("%w: redis set %q: %w", ErrStoreIO, key, err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: redis del %q: %w", ErrStoreIO, key, err)
	}
	return nil
}

// Apply implements Batcher using MULTI/EXEC.
func (s *RedisStore) Apply(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range b.SortedWrites() {
			pipe.Set(ctx, s.key(k), b.Writes[k], 0)
		}
		if len(b.Deletes) > 0 {
			keys := make([]string, len(b.Deletes))
			for i, k := range b.Deletes {
				keys[i] = s.key(k)
			}
			pipe.Del(ctx, keys...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: redis transaction failed: %w", ErrStoreIO, err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if !s.isOwner || s.client == nil {
		return nil
	}
	slog.Info("Closing Redis connection")
	return s.client.Close()
}
