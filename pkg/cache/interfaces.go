package cache

import "time"

// Store defines the interface for cache operations.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	SetWithTTL(key string, value any, ttl time.Duration)
	Delete(key string)
}

var _ Store = (*Cache)(nil)
