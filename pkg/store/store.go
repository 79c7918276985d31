// pkg/store/store.go
// Copyright(c) 2024-2026 vatevents contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package store provides the expiring key-value store the flight plan
// tracker keeps its records in.
//
// Expiry uses a two-key protocol: the data key K is stored with no
// intrinsic expiry and a sentinel key "ttl:"+K is armed with the TTL. When
// the sentinel fires, the expiry subscription delivers "ttl:"+K and the
// record under K can still be read back before it is deleted. Stores that
// delete the value atomically with the expiry would otherwise foreclose
// that readback.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for keys that are not present.
var ErrNotFound = errors.New("store: key not found")

// SentinelPrefix prefixes the expiring sentinel key paired with each data
// key.
const SentinelPrefix = "ttl:"

type Store interface {
	// Put stores value under key with no intrinsic expiry.
	Put(ctx context.Context, key string, value []byte) error

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Scan returns all keys beginning with prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// Arm re-associates the expiry sentinel stored under key with the
	// given TTL. It reports whether the sentinel existed; if it did not
	// (it already fired or was evicted), the caller re-creates it with
	// Put followed by another Arm.
	Arm(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// SubscribeExpiries returns a channel delivering the key of each
	// sentinel as it fires, at least once per firing. The channel is
	// closed when ctx is done or the subscription is lost.
	SubscribeExpiries(ctx context.Context) (<-chan string, error)
}
