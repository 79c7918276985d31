// pkg/tracker/controller.go
// Copyright(c) 2024-2026 vatevents contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mmp/vatevents/pkg/events"
	"github.com/mmp/vatevents/pkg/log"
	"github.com/mmp/vatevents/pkg/util"
	"github.com/mmp/vatevents/pkg/vatsim"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// A controller missing from snapshots for this long is treated as
	// disconnected.
	inactiveControllerTimeout = 60 * time.Second

	// Cadence of the disconnect sweep.
	sweepInterval = 30 * time.Second

	// Number of distinct snapshot batches that must be observed before
	// connect/disconnect events are emitted. Until then the cache is
	// only being primed; emitting earlier would announce every
	// controller already online at startup.
	warmupBatches = 2
)

type controllerRecord struct {
	// The snapshot from the controller's first sighting; this is what
	// connect and disconnect events carry.
	controller vatsim.Controller
	firstSeen  time.Time
	lastSeen   time.Time

	// Set once a connect event for this record has been published.
	announced bool
}

// ControllerTracker maintains the set of controllers currently online and
// emits connect on first sight and disconnect on inactivity. It is owned
// by a single pipeline; Observe and Sweep run on the same logical loop.
type ControllerTracker struct {
	pub   events.Publisher
	clock Clock
	lg    *log.Logger

	controllers     map[string]*controllerRecord // keyed by "cid-callsign"
	batchesObserved int
	lastBatchID     string
}

func NewControllerTracker(pub events.Publisher, clock Clock, lg *log.Logger) *ControllerTracker {
	return &ControllerTracker{
		pub:         pub,
		clock:       clock,
		lg:          lg,
		controllers: make(map[string]*controllerRecord),
	}
}

// Observe upserts a controller snapshot. The first observation of an
// identity emits a connect event once warm-up is over; repeated
// observations just refresh the inactivity deadline. A controller that was
// primed into the cache during warm-up is announced on its first
// observation after warm-up ends.
func (t *ControllerTracker) Observe(ctx context.Context, c vatsim.Controller, batchID string) error {
	if batchID != t.lastBatchID {
		t.batchesObserved++
		t.lastBatchID = batchID
	}

	key := fmt.Sprintf("%d-%s", c.CID, c.Callsign)
	now := t.clock.Now()

	rec, ok := t.controllers[key]
	if !ok {
		rec = &controllerRecord{controller: c, firstSeen: now}
		t.controllers[key] = rec
		t.lg.Debugf("%s: first sighting", c.Callsign)
	}
	rec.lastSeen = now

	if rec.announced || t.batchesObserved < warmupBatches {
		return nil
	}

	// Mark the record announced only after the publish goes through; a
	// failed publish leaves the connect to be re-attempted when the
	// message is redelivered.
	err := t.pub.Publish(ctx, events.RouteControllerConnect, events.ControllerEvent{
		Event:     "connect",
		Data:      rec.controller,
		Timestamp: now.UnixMilli(),
	})
	if err != nil {
		return err
	}
	rec.announced = true
	return nil
}

// Sweep removes controllers not seen within the inactivity timeout and
// emits a disconnect for each. It does nothing until warm-up is over, so a
// slow first batch cannot disconnect the entire network. Publish failures
// are logged; the next sweep will not retry since the record is already
// gone, but the snapshot feed remains authoritative either way.
func (t *ControllerTracker) Sweep(ctx context.Context) {
	if t.batchesObserved < warmupBatches {
		return
	}

	now := t.clock.Now()
	stale := util.FilterSlice(util.SortedMapKeys(t.controllers), func(key string) bool {
		return now.Sub(t.controllers[key].lastSeen) > inactiveControllerTimeout
	})

	for _, key := range stale {
		rec := t.controllers[key]
		delete(t.controllers, key)
		t.lg.Infof("%s: inactive for %s, disconnecting", rec.controller.Callsign, now.Sub(rec.lastSeen))

		if !rec.announced {
			continue
		}
		err := t.pub.Publish(ctx, events.RouteControllerDisconnect, events.ControllerEvent{
			Event:     "disconnect",
			Data:      rec.controller,
			Timestamp: now.UnixMilli(),
		})
		if err != nil {
			t.lg.Errorf("%s: disconnect publish failed: %v", rec.controller.Callsign, err)
		}
	}
}

// Run consumes the raw controller stream, processing deliveries one at a
// time and running the disconnect sweep on its tick, until ctx is done or
// the delivery channel closes.
func (t *ControllerTracker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("controllers: %w", errDeliveriesClosed)
			}
			t.handle(ctx, d)
		case <-ticker.C:
			t.Sweep(ctx)
		}
	}
}

func (t *ControllerTracker) handle(ctx context.Context, d amqp.Delivery) {
	var msg vatsim.RawMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		t.lg.Warnf("%s: malformed message: %v", d.RoutingKey, err)
		_ = d.Ack(false)
		return
	}

	c, err := vatsim.DecodeController(msg.Data)
	if err != nil {
		t.lg.Debugf("%s: dropping snapshot: %v", d.RoutingKey, err)
		_ = d.Ack(false)
		return
	}

	if err := t.Observe(ctx, c, msg.BatchID); err != nil {
		t.lg.Errorf("%s: %v", c.Callsign, err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}
