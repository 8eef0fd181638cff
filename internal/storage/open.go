package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Backend names accepted by Open
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config selects and configures a backend
type Config struct {
	Backend string      `yaml:"backend" env:"BACKEND"`
	Dir     string      `yaml:"dir" env:"DIR"`
	Redis   RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	Address  string        `yaml:"address" env:"ADDRESS"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	Prefix   string        `yaml:"prefix" env:"PREFIX"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

// Open builds the configured backend
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(cfg.Dir)
	case BackendRedis:
		if cfg.Redis.Address == "" {
			return nil, fmt.Errorf("storage.redis.address is required for the redis backend")
		}
		var opts []RedisOption
		if cfg.Redis.Prefix != "" {
			opts = append(opts, WithRedisPrefix(cfg.Redis.Prefix))
		}
		if cfg.Redis.TTL > 0 {
			opts = append(opts, WithRedisTTL(cfg.Redis.TTL))
		}
		return NewRedisStore(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, opts...), nil
	case BackendSQLite:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("storage.dir is required for the sqlite backend")
		}
		return NewSQLiteStore(filepath.Join(cfg.Dir, "statebot.db"))
	case BackendBadger:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("storage.dir is required for the badger backend")
		}
		return NewBadgerStore(filepath.Join(cfg.Dir, "badger"))
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
