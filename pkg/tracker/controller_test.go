// pkg/tracker/controller_test.go
// Copyright(c) 2024-2026 vatevents contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/mmp/vatevents/pkg/events"
	"github.com/mmp/vatevents/pkg/vatsim"
)

// manualClock is a Clock the tests advance by hand.
type manualClock struct {
	t time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time          { return c.t }
func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testController(cid int, callsign string) vatsim.Controller {
	return vatsim.Controller{
		CID:      cid,
		Callsign: callsign,
		Name:     "Test Controller",
		Facility: 6,
		Rating:   7,
	}
}

func TestControllerWarmup(t *testing.T) {
	ctx := context.Background()
	pub := &events.Capture{}
	clock := newManualClock()
	tr := NewControllerTracker(pub, clock, nil)

	x := testController(100, "LON_CTR")

	// First batch primes the cache without emitting.
	if err := tr.Observe(ctx, x, "batch-a"); err != nil {
		t.Fatal(err)
	}
	if len(pub.Events) != 0 {
		t.Errorf("events emitted during warm-up: %+v", pub.Events)
	}

	// An empty second batch delivers no messages at all; nothing
	// happens. The next batch with traffic is the second distinct batch
	// observed, which ends warm-up and announces the primed controller.
	clock.Advance(15 * time.Second)
	if err := tr.Observe(ctx, x, "batch-c"); err != nil {
		t.Fatal(err)
	}
	if len(pub.Events) != 1 {
		t.Fatalf("expected one connect after warm-up, got %+v", pub.Events)
	}
	if pub.Events[0].Route != events.RouteControllerConnect {
		t.Errorf("connect published to %s", pub.Events[0].Route)
	}
	ev := pub.Events[0].Event.(events.ControllerEvent)
	if ev.Event != "connect" || ev.Data.Callsign != "LON_CTR" {
		t.Errorf("unexpected connect event %+v", ev)
	}

	// Re-observing the same controller must not announce again.
	clock.Advance(15 * time.Second)
	if err := tr.Observe(ctx, x, "batch-d"); err != nil {
		t.Fatal(err)
	}
	if len(pub.Events) != 1 {
		t.Errorf("duplicate connect emitted: %+v", pub.Events)
	}
}

func TestControllerConnectAfterWarmup(t *testing.T) {
	ctx := context.Background()
	pub := &events.Capture{}
	clock := newManualClock()
	tr := NewControllerTracker(pub, clock, nil)

	if err := tr.Observe(ctx, testController(100, "LON_CTR"), "batch-1"); err != nil {
		t.Fatal(err)
	}
	if err := tr.Observe(ctx, testController(100, "LON_CTR"), "batch-2"); err != nil {
		t.Fatal(err)
	}
	pub.Reset()

	// A controller first seen after warm-up connects immediately.
	if err := tr.Observe(ctx, testController(200, "EGLL_TWR"), "batch-3"); err != nil {
		t.Fatal(err)
	}
	if len(pub.Events) != 1 || pub.Events[0].Route != events.RouteControllerConnect {
		t.Fatalf("expected immediate connect, got %+v", pub.Events)
	}
	if ev := pub.Events[0].Event.(events.ControllerEvent); ev.Data.CID != 200 {
		t.Errorf("connect for wrong controller: %+v", ev)
	}
}

func TestControllerSweep(t *testing.T) {
	ctx := context.Background()
	pub := &events.Capture{}
	clock := newManualClock()
	tr := NewControllerTracker(pub, clock, nil)

	if err := tr.Observe(ctx, testController(100, "LON_CTR"), "batch-1"); err != nil {
		t.Fatal(err)
	}
	if err := tr.Observe(ctx, testController(100, "LON_CTR"), "batch-2"); err != nil {
		t.Fatal(err)
	}
	pub.Reset()

	// Still fresh: the sweep leaves the record alone.
	clock.Advance(30 * time.Second)
	tr.Sweep(ctx)
	if len(pub.Events) != 0 {
		t.Errorf("sweep of fresh record emitted %+v", pub.Events)
	}

	// Past the inactivity timeout: exactly one disconnect.
	clock.Advance(31 * time.Second)
	tr.Sweep(ctx)
	if len(pub.Events) != 1 || pub.Events[0].Route != events.RouteControllerDisconnect {
		t.Fatalf("expected one disconnect, got %+v", pub.Events)
	}
	ev := pub.Events[0].Event.(events.ControllerEvent)
	if ev.Event != "disconnect" || ev.Data.Callsign != "LON_CTR" {
		t.Errorf("unexpected disconnect event %+v", ev)
	}

	// The record is gone; a second sweep finds nothing.
	tr.Sweep(ctx)
	if len(pub.Events) != 1 {
		t.Errorf("repeated sweep re-emitted: %+v", pub.Events)
	}

	// The controller coming back is a fresh connect.
	if err := tr.Observe(ctx, testController(100, "LON_CTR"), "batch-3"); err != nil {
		t.Fatal(err)
	}
	if len(pub.Events) != 2 || pub.Events[1].Route != events.RouteControllerConnect {
		t.Errorf("expected reconnect, got %+v", pub.Events)
	}
}

func TestControllerSweepSkippedDuringWarmup(t *testing.T) {
	ctx := context.Background()
	pub := &events.Capture{}
	clock := newManualClock()
	tr := NewControllerTracker(pub, clock, nil)

	if err := tr.Observe(ctx, testController(100, "LON_CTR"), "batch-1"); err != nil {
		t.Fatal(err)
	}

	// Only one batch observed: even a long-stale record must not be
	// swept, since the cache is not yet known to be complete.
	clock.Advance(10 * time.Minute)
	tr.Sweep(ctx)
	if len(pub.Events) != 0 {
		t.Errorf("warm-up sweep emitted %+v", pub.Events)
	}
}
