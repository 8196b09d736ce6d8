package domain

import (
	"context"
	"errors"
	"time"
)

// ErrLockNotHeld is returned by Unlock when the token no longer owns the lock.
var ErrLockNotHeld = errors.New("lock not held")

// Cache defines the interface for caching and short-lived locks.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// Lock tries once to take an exclusive lock on key for ttl.
	// On success it returns the token that must be passed to Unlock.
	// ok is false when someone else holds the lock.
	Lock(ctx context.Context, tenantID string, key string, ttl time.Duration) (token string, ok bool, err error)

	// Unlock releases a lock taken with token.
	Unlock(ctx context.Context, tenantID string, key string, token string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `mapstructure:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int `mapstructure:"local_max_size"`
	LocalTTL     int `mapstructure:"local_ttl"`      // seconds

	// Redis settings (Pro tier)
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `mapstructure:"enable_two_phase"` // If true, check local first, then Redis

	// SnapshotTTL bounds how long a customer snapshot is served from cache (seconds).
	SnapshotTTL int `mapstructure:"snapshot_ttl"`
}
