// Package state is the TTL-backed key/value abstraction the ownership
// locker and status bus are built on: a namespaced Store interface with
// redis/etcd/memory adapters, per-key TTL, and an atomic SetNX that the
// lock component depends on.
package state

import (
	"context"
	"time"
)

// Store is a namespaced, TTL-aware key/value store. Every adapter must
// give keys a hard expiry: the lock component relies on the store itself
// evicting an unrefreshed owner's key so a successor's SetNX can succeed
// without any adapter-side polling.
type Store interface {
	// Get returns the value stored at key, or (nil, nil) if absent or
	// expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetNX sets key to value with the given ttl only if key is currently
	// absent (or previously expired). Reports whether the set happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Set unconditionally writes key, refreshing its ttl. Used to refresh
	// a lock this process already owns.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key regardless of ttl. Used for cooperative release;
	// the "aggressive" lock-break policy overwrites a non-expired owner's
	// record with Set instead.
	Delete(ctx context.Context, key string) error

	Close() error
}
