package storage

import (
	"context"
	"fmt"
)

// Backend names a Store implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendFile   Backend = "file"
	BackendAOF    Backend = "aof"
	BackendRedis  Backend = "redis"
)

// Valid reports whether b names a known backend.
func (b Backend) Valid() bool {
	switch b {
	case BackendMemory, BackendFile, BackendAOF, BackendRedis:
		return true
	}
	return false
}

// Config selects and configures a backend.
type Config struct {
	Backend Backend      `yaml:"backend"`
	Path    string       `yaml:"path"` // file and aof backends
	Redis   RedisOptions `yaml:"redis"`
}

// Open builds the Store described by cfg, wrapped with metrics.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)

	switch cfg.Backend {
	case BackendMemory, "":
		s = NewMemoryStore()
	case BackendFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file backend requires a path")
		}
		s, err = OpenFileStore(cfg.Path)
	case BackendAOF:
		if cfg.Path == "" {
			return nil, fmt.Errorf("aof backend requires a path")
		}
		s, err = OpenAOFStore(cfg.Path)
	case BackendRedis:
		s, err = OpenRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	name := string(cfg.Backend)
	if name == "" {
		name = string(BackendMemory)
	}
	return Instrument(s, name), nil
}
