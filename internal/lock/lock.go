// Package lock is the cross-process Ownership Locker: it guarantees at
// most one supervisor instance owns a given node's MQTT session at a
// time, using a lease-acquire-or-steal loop over a shared key/value
// store (LOCK_TIMEOUT=600s, LOCK_REFRESH_INTERVAL=240s by default).
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wmo-raf/wis2watch/internal/errors"
	"github.com/wmo-raf/wis2watch/internal/metrics"
	"github.com/wmo-raf/wis2watch/internal/state"
)

// BreakPolicy governs whether Acquire may steal a lock currently held by a
// different owner: a configurable policy in place of an
// always-aggressive behaviour, defaulting to the safer middle ground.
type BreakPolicy string

const (
	// BreakNever never steals a foreign lock; Acquire fails while another
	// owner's record is present, expired or not.
	BreakNever BreakPolicy = "never"
	// BreakOnTTLExpiredOnly is the default: a readable foreign lock can
	// only be acquired once the backing state.Store has expired and
	// evicted it. A record that cannot be decoded is treated as a zombie
	// and overwritten.
	BreakOnTTLExpiredOnly BreakPolicy = "on_ttl_expired_only"
	// BreakAggressive treats any foreign lock, live or not, as a crashed
	// predecessor's zombie and immediately overwrites it.
	BreakAggressive BreakPolicy = "aggressive"
)

// ErrLockLost is returned by Refresh and Release when the caller is no
// longer (or never was) the recorded owner.
var ErrLockLost = errors.New("lock: ownership lost")

// record is the JSON value stored at node/{id}/lock.
type record struct {
	Owner      string    `json:"owner_instance_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Locker acquires, refreshes, and releases per-node ownership locks
// against a shared state.Store.
type Locker struct {
	store    state.Store
	ownerID  string
	ttl      time.Duration
	policy   BreakPolicy
}

// New builds a Locker. ownerID must be unique per supervisor instance
// ("owner_instance_id" in the stored record); ttl is the lock lease
// duration (default 10 minutes).
func New(store state.Store, ownerID string, ttl time.Duration, policy BreakPolicy) *Locker {
	if policy == "" {
		policy = BreakOnTTLExpiredOnly
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Locker{store: store, ownerID: ownerID, ttl: ttl, policy: policy}
}

func lockKey(nodeID string) string { return fmt.Sprintf("node/%s/lock", nodeID) }

// Acquire obtains the lock: absent key wins outright; a key already
// owned by this instance succeeds reentrantly; a key owned by a
// different instance is handled per l.policy. Returns whether ownership
// was obtained.
func (l *Locker) Acquire(ctx context.Context, nodeID string) (bool, error) {
	key := lockKey(nodeID)
	raw, err := l.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("lock: acquire %s: %w", nodeID, err)
	}
	if raw == nil {
		return l.write(ctx, key, time.Now(), true)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		// Unreadable record: treat like a zombie under on_ttl_expired_only
		// or aggressive, refuse under never.
		if l.policy == BreakNever {
			return false, nil
		}
		return l.write(ctx, key, time.Now(), false)
	}
	if rec.Owner == l.ownerID {
		return l.write(ctx, key, rec.AcquiredAt, false)
	}

	switch l.policy {
	case BreakAggressive:
		return l.write(ctx, key, time.Now(), false)
	case BreakOnTTLExpiredOnly, BreakNever:
		// The record is present, so the store has not expired it yet —
		// under both policies we leave a live, readable foreign lock
		// alone. Once the store evicts the key, Get above returns nil and
		// either policy acquires it via the absent-key branch. The two
		// policies differ only on an unreadable record, handled above.
		return false, nil
	default:
		return false, nil
	}
}

func (l *Locker) write(ctx context.Context, key string, acquiredAt time.Time, fresh bool) (bool, error) {
	rec := record{Owner: l.ownerID, AcquiredAt: acquiredAt, RefreshedAt: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("lock: encode record: %w", err)
	}
	if fresh {
		ok, err := l.store.SetNX(ctx, key, data, l.ttl)
		if err != nil {
			return false, fmt.Errorf("lock: setnx %s: %w", key, err)
		}
		if ok {
			metrics.LockAcquireTotal.WithLabelValues(nodeIDFromKey(key)).Inc()
		}
		return ok, nil
	}
	if err := l.store.Set(ctx, key, data, l.ttl); err != nil {
		return false, fmt.Errorf("lock: set %s: %w", key, err)
	}
	return true, nil
}

// nodeIDFromKey recovers the node id a lock key was built from, for
// metric labelling only.
func nodeIDFromKey(key string) string {
	const prefix, suffix = "node/", "/lock"
	if len(key) > len(prefix)+len(suffix) {
		return key[len(prefix) : len(key)-len(suffix)]
	}
	return key
}

// Refresh renews the TTL while preserving acquired_at, provided this
// instance is still the recorded owner. Returns ErrLockLost if ownership
// was lost (stolen, expired and reacquired by another instance, or
// explicitly released).
func (l *Locker) Refresh(ctx context.Context, nodeID string) error {
	key := lockKey(nodeID)
	raw, err := l.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("lock: refresh %s: %w", nodeID, err)
	}
	if raw == nil {
		return ErrLockLost
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil || rec.Owner != l.ownerID {
		return ErrLockLost
	}
	rec.RefreshedAt = time.Now()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("lock: encode record: %w", err)
	}
	if err := l.store.Set(ctx, key, data, l.ttl); err != nil {
		metrics.LockRefreshErrors.WithLabelValues(nodeID).Inc()
		return fmt.Errorf("lock: set %s: %w", key, err)
	}
	return nil
}

// Release deletes the lock record only if this instance is the recorded
// owner, so a stop never clobbers a successor that has since taken over.
// Release on a lock this instance does not own is a silent no-op
// (idempotent, as stop() must be).
func (l *Locker) Release(ctx context.Context, nodeID string) error {
	key := lockKey(nodeID)
	raw, err := l.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("lock: release %s: %w", nodeID, err)
	}
	if raw == nil {
		return nil
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil
	}
	if rec.Owner != l.ownerID {
		return nil
	}
	if err := l.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("lock: delete %s: %w", key, err)
	}
	return nil
}

// HasLock reports whether any instance currently holds nodeID's lock,
// regardless of owner. Used by monitor_all_active to skip nodes another
// instance already owns without attempting (and losing) an Acquire race.
func (l *Locker) HasLock(ctx context.Context, nodeID string) (bool, error) {
	raw, err := l.store.Get(ctx, lockKey(nodeID))
	if err != nil {
		return false, fmt.Errorf("lock: has_lock %s: %w", nodeID, err)
	}
	return raw != nil, nil
}

// Owns reports whether this instance currently holds nodeID's lock,
// without side effects. Used by cleanup_stale before stopping a client it
// no longer owns.
func (l *Locker) Owns(ctx context.Context, nodeID string) (bool, error) {
	raw, err := l.store.Get(ctx, lockKey(nodeID))
	if err != nil {
		return false, fmt.Errorf("lock: owns %s: %w", nodeID, err)
	}
	if raw == nil {
		return false, nil
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return false, nil
	}
	return rec.Owner == l.ownerID, nil
}
