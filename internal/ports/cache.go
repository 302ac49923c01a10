package ports

import (
	"context"
	"time"
)

// Cache is the key-value, counter and set surface over Redis. Pub/sub and
// locking are separate contracts below so tests can fake them independently.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Incr(ctx context.Context, key string) (int64, error)
	SetAdd(ctx context.Context, key string, member string) error
	SetRemove(ctx context.Context, key string, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	Ping() error
	Close() error
}

// PubSub carries command-router traffic. Subscribe delivers raw payloads until
// the returned cancel func runs or the context ends.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
	// NumSubscribers reports current subscriber count for a channel, used to
	// detect publishes to disconnected stations.
	NumSubscribers(ctx context.Context, channel string) (int64, error)
}

// Locker is a distributed lock for single-leader scheduling. Tokens fence
// release/renew against a lock stolen after expiry.
type Locker interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}
