// pkg/store/memory_test.go
// Copyright(c) 2024-2026 vatevents contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package store

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestMemoryPutGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "1-BAW1-EGLL"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get of missing key: got %v, want ErrNotFound", err)
	}

	if err := m.Put(ctx, "1-BAW1-EGLL", []byte("plan")); err != nil {
		t.Fatal(err)
	}
	if v, err := m.Get(ctx, "1-BAW1-EGLL"); err != nil || string(v) != "plan" {
		t.Errorf("get: got %q, %v", v, err)
	}

	if err := m.Delete(ctx, "1-BAW1-EGLL"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "1-BAW1-EGLL"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: got %v, want ErrNotFound", err)
	}
}

func TestMemoryScan(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for _, k := range []string{"1-BAW1-EGLL", "1-BAW1-EGKK", "1-BAW11-EGLL", "2-DLH9-EDDF"} {
		if err := m.Put(ctx, k, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := m.Scan(ctx, "1-BAW1-")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(keys, []string{"1-BAW1-EGKK", "1-BAW1-EGLL"}) {
		t.Errorf("scan returned %+v", keys)
	}
}

func TestMemoryArmMissingSentinel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if ok, err := m.Arm(ctx, "ttl:1-BAW1-EGLL", time.Minute); err != nil || ok {
		t.Errorf("arm of missing sentinel: got %v, %v, want false", ok, err)
	}

	if err := m.Put(ctx, "ttl:1-BAW1-EGLL", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if ok, err := m.Arm(ctx, "ttl:1-BAW1-EGLL", time.Minute); err != nil || !ok {
		t.Errorf("arm of present sentinel: got %v, %v, want true", ok, err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	expiries, err := m.SubscribeExpiries(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Put(ctx, "ttl:1-BAW1-EGLL", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Arm(ctx, "ttl:1-BAW1-EGLL", 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	select {
	case key := <-expiries:
		if key != "ttl:1-BAW1-EGLL" {
			t.Errorf("expiry delivered wrong key %q", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no expiry delivered")
	}

	// The sentinel is gone once it has fired.
	if _, err := m.Get(ctx, "ttl:1-BAW1-EGLL"); !errors.Is(err, ErrNotFound) {
		t.Errorf("sentinel still present after expiry: %v", err)
	}
}

func TestMemoryRearmReplacesSentinelTimer(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	expiries, err := m.SubscribeExpiries(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Put(ctx, "ttl:k", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Arm(ctx, "ttl:k", 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	// Re-arm with a longer TTL before the first fires.
	if _, err := m.Arm(ctx, "ttl:k", time.Hour); err != nil {
		t.Fatal(err)
	}

	select {
	case key := <-expiries:
		t.Errorf("superseded sentinel fired: %q", key)
	case <-time.After(200 * time.Millisecond):
	}
}
