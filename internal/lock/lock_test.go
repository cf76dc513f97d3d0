package lock

import (
	"context"
	"testing"
	"time"

	"github.com/wmo-raf/wis2watch/internal/state"
)

func TestLocker_AcquireReentrantRelease(t *testing.T) {
	store := state.NewMemoryStore()
	ctx := context.Background()

	a := New(store, "instance-a", time.Minute, BreakOnTTLExpiredOnly)
	ok, err := a.Acquire(ctx, "node-1")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	ok, err = a.Acquire(ctx, "node-1")
	if err != nil || !ok {
		t.Fatalf("reentrant acquire: ok=%v err=%v", ok, err)
	}

	b := New(store, "instance-b", time.Minute, BreakOnTTLExpiredOnly)
	ok, err = b.Acquire(ctx, "node-1")
	if err != nil {
		t.Fatalf("competing acquire: %v", err)
	}
	if ok {
		t.Fatal("competing instance acquired a live lock it should not own")
	}

	if err := a.Release(ctx, "node-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = b.Acquire(ctx, "node-1")
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestLocker_OnTTLExpiredOnlyDoesNotStealLiveLock(t *testing.T) {
	store := state.NewMemoryStore()
	ctx := context.Background()

	a := New(store, "instance-a", time.Hour, BreakOnTTLExpiredOnly)
	if ok, err := a.Acquire(ctx, "node-1"); err != nil || !ok {
		t.Fatalf("setup acquire: ok=%v err=%v", ok, err)
	}

	b := New(store, "instance-b", time.Hour, BreakOnTTLExpiredOnly)
	if ok, _ := b.Acquire(ctx, "node-1"); ok {
		t.Fatal("on_ttl_expired_only stole a lock whose TTL has not elapsed")
	}
}

func TestLocker_AggressiveStealsLiveLock(t *testing.T) {
	store := state.NewMemoryStore()
	ctx := context.Background()

	a := New(store, "instance-a", time.Hour, BreakOnTTLExpiredOnly)
	if ok, err := a.Acquire(ctx, "node-1"); err != nil || !ok {
		t.Fatalf("setup acquire: ok=%v err=%v", ok, err)
	}

	b := New(store, "instance-b", time.Hour, BreakAggressive)
	ok, err := b.Acquire(ctx, "node-1")
	if err != nil || !ok {
		t.Fatalf("aggressive steal: ok=%v err=%v", ok, err)
	}
	owns, err := a.Owns(ctx, "node-1")
	if err != nil {
		t.Fatalf("owns: %v", err)
	}
	if owns {
		t.Fatal("original owner still considered itself the owner after being stolen from")
	}
}

func TestLocker_NeverWaitsForNaturalExpiry(t *testing.T) {
	store := state.NewMemoryStore()
	ctx := context.Background()

	a := New(store, "instance-a", 10*time.Millisecond, BreakNever)
	if ok, err := a.Acquire(ctx, "node-1"); err != nil || !ok {
		t.Fatalf("setup acquire: ok=%v err=%v", ok, err)
	}

	b := New(store, "instance-b", time.Hour, BreakNever)
	if ok, _ := b.Acquire(ctx, "node-1"); ok {
		t.Fatal("never policy acquired a lock still present before expiry")
	}

	time.Sleep(20 * time.Millisecond)
	ok, err := b.Acquire(ctx, "node-1")
	if err != nil || !ok {
		t.Fatalf("acquire after natural expiry should succeed even under never: ok=%v err=%v", ok, err)
	}
}

func TestLocker_RefreshLostOwnership(t *testing.T) {
	store := state.NewMemoryStore()
	ctx := context.Background()

	a := New(store, "instance-a", time.Hour, BreakAggressive)
	if _, err := a.Acquire(ctx, "node-1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	b := New(store, "instance-b", time.Hour, BreakAggressive)
	if _, err := b.Acquire(ctx, "node-1"); err != nil {
		t.Fatalf("steal: %v", err)
	}

	if err := a.Refresh(ctx, "node-1"); err != ErrLockLost {
		t.Fatalf("refresh after being stolen from: want ErrLockLost, got %v", err)
	}
}
