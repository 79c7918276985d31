// pkg/tracker/flightplan.go
// Copyright(c) 2024-2026 vatevents contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmp/vatevents/pkg/events"
	"github.com/mmp/vatevents/pkg/log"
	"github.com/mmp/vatevents/pkg/store"
	"github.com/mmp/vatevents/pkg/vatsim"

	"github.com/hashicorp/golang-lru/v2/expirable"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// Records not refreshed by any snapshot within the TTL are expired.
	flightPlanTTL = 600 * time.Second

	expiredReason = "flight_plan_expired"
)

var errDeliveriesClosed = errors.New("delivery channel closed")

// Record is a tracked flight plan as stored in the TTL store, keyed by
// "cid-callsign-departure".
type Record struct {
	Pilot            events.PilotID    `msgpack:"pilot"`
	FlightPlan       vatsim.FlightPlan `msgpack:"flight_plan"`
	State            State             `msgpack:"state"`
	LastStateChange  int64             `msgpack:"last_state_change"`
	PreviousAltitude *int              `msgpack:"previous_altitude,omitempty"`
	Timestamp        int64             `msgpack:"timestamp"`
}

// FlightPlanTracker maintains at most one active flight plan per
// (cid, callsign) identity, emitting file/update/expire and airborne
// state_change events as snapshots and TTL expiries come in. All of its
// methods run on a single pipeline loop, which is what serializes access
// to any one identity's record.
type FlightPlanTracker struct {
	store store.Store
	pub   events.Publisher
	clock Clock
	lg    *log.Logger

	// Identities whose VFR plans we have already logged about, so the
	// 15-second snapshot cadence doesn't turn the filter into log spam.
	filteredVFR *expirable.LRU[string, struct{}]
}

func NewFlightPlanTracker(st store.Store, pub events.Publisher, clock Clock, lg *log.Logger) *FlightPlanTracker {
	return &FlightPlanTracker{
		store:       st,
		pub:         pub,
		clock:       clock,
		lg:          lg,
		filteredVFR: expirable.NewLRU[string, struct{}](4096, nil, time.Hour),
	}
}

// Ingest processes one pilot or prefile snapshot. pos is nil for prefiles.
//
// If a record already exists for the pilot's (cid, callsign, departure),
// it is updated in place: a plan diff first, then a state machine step,
// then a TTL refresh; all three may fire on the same ingest. Otherwise any
// records the identity holds for other departures are expired and a fresh
// record is filed.
func (t *FlightPlanTracker) Ingest(ctx context.Context, pilot vatsim.Pilot, pos *vatsim.Position) error {
	fp := pilot.FlightPlan
	if fp == nil {
		return nil
	}
	baseKey := fmt.Sprintf("%d-%s", pilot.CID, pilot.Callsign)
	if !fp.IsIFR() {
		if _, seen := t.filteredVFR.Get(baseKey); !seen {
			t.filteredVFR.Add(baseKey, struct{}{})
			t.lg.Debugf("%s: filtering VFR flight plan", baseKey)
		}
		return nil
	}

	keys, err := t.store.Scan(ctx, baseKey+"-")
	if err != nil {
		return fmt.Errorf("%s: %w", baseKey, err)
	}

	var matchKey string
	var match *Record
	others := make(map[string]*Record)
	for _, key := range keys {
		rec, err := t.getRecord(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		} else if err != nil {
			return err
		}
		if rec.FlightPlan.Departure == fp.Departure {
			matchKey, match = key, rec
		} else {
			others[key] = rec
		}
	}

	if match == nil {
		// A new departure supersedes everything the identity holds.
		for _, key := range keys {
			rec, ok := others[key]
			if !ok {
				continue
			}
			if err := t.expireRecord(ctx, key, rec); err != nil {
				return err
			}
		}
		return t.file(ctx, baseKey, pilot, pos)
	}

	return t.refresh(ctx, matchKey, match, fp, pos)
}

// file creates a freshly-filed record and emits the file event.
func (t *FlightPlanTracker) file(ctx context.Context, baseKey string, pilot vatsim.Pilot, pos *vatsim.Position) error {
	now := t.clock.Now().UnixMilli()
	rec := &Record{
		Pilot:           events.PilotID{CID: pilot.CID, Callsign: pilot.Callsign},
		FlightPlan:      *pilot.FlightPlan,
		State:           StateFiled,
		LastStateChange: now,
		Timestamp:       now,
	}
	if pos != nil {
		alt := pos.Altitude
		rec.PreviousAltitude = &alt
	}

	key := baseKey + "-" + pilot.FlightPlan.Departure.String()
	if err := t.putRecord(ctx, key, rec); err != nil {
		return err
	}
	if err := t.armSentinel(ctx, key); err != nil {
		return err
	}

	t.lg.Infof("%s: filed %s -> %s", key, rec.FlightPlan.Departure, rec.FlightPlan.Arrival)
	return t.emit(ctx, "file", rec, nil, nil)
}

// refresh applies a snapshot to an existing record: plan update, state
// machine step, TTL refresh, in that order.
func (t *FlightPlanTracker) refresh(ctx context.Context, key string, rec *Record, fp *vatsim.FlightPlan, pos *vatsim.Position) error {
	if rec.FlightPlan != *fp {
		rec.FlightPlan = *fp
		if err := t.emit(ctx, "update", rec, nil, nil); err != nil {
			return err
		}
	}

	if pos != nil {
		if tr := NextState(rec.State, pos.Groundspeed, pos.Altitude, rec.PreviousAltitude); tr != nil && TransitionAllowed(rec.State, tr.To) {
			change := &events.StateChange{
				Previous: string(rec.State),
				Current:  string(tr.To),
				Reason:   tr.Reason,
			}
			rec.State = tr.To
			rec.LastStateChange = t.clock.Now().UnixMilli()
			t.lg.Infof("%s: %s -> %s (%s)", key, change.Previous, change.Current, change.Reason)
			if err := t.emit(ctx, "state_change", rec, change, pos); err != nil {
				return err
			}
		} else {
			if tr != nil {
				t.lg.Warnf("%s: dropping %s -> %s, not an allowed transition", key, rec.State, tr.To)
			}
			alt := pos.Altitude
			rec.PreviousAltitude = &alt
		}
	}

	rec.Timestamp = t.clock.Now().UnixMilli()
	if err := t.putRecord(ctx, key, rec); err != nil {
		return err
	}
	return t.armSentinel(ctx, key)
}

// OnExpire handles a fired TTL sentinel: the record transitions to
// cancelled, the expire event follows, and the data key is removed. Keys
// without the sentinel prefix and sentinels whose data is already gone are
// ignored.
func (t *FlightPlanTracker) OnExpire(ctx context.Context, sentinelKey string) error {
	key, ok := strings.CutPrefix(sentinelKey, store.SentinelPrefix)
	if !ok {
		return nil
	}

	rec, err := t.getRecord(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		// Normal after supersession: the data key went away but the old
		// sentinel was left to fire.
		t.lg.Debugf("%s: expiry for absent record", key)
		return nil
	} else if err != nil {
		return err
	}

	change := &events.StateChange{
		Previous: string(rec.State),
		Current:  string(StateCancelled),
		Reason:   expiredReason,
	}
	rec.State = StateCancelled
	t.lg.Infof("%s: expired in state %s", key, change.Previous)

	if err := t.emit(ctx, "state_change", rec, change, nil); err != nil {
		return err
	}
	if err := t.emit(ctx, "expire", rec, nil, nil); err != nil {
		return err
	}
	return t.store.Delete(ctx, key)
}

// expireRecord emits expire for a superseded record and removes it.
func (t *FlightPlanTracker) expireRecord(ctx context.Context, key string, rec *Record) error {
	t.lg.Infof("%s: superseded", key)
	if err := t.emit(ctx, "expire", rec, nil, nil); err != nil {
		return err
	}
	return t.store.Delete(ctx, key)
}

func (t *FlightPlanTracker) getRecord(ctx context.Context, key string) (*Record, error) {
	b, err := t.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := msgpack.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &rec, nil
}

func (t *FlightPlanTracker) putRecord(ctx context.Context, key string, rec *Record) error {
	b, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return t.store.Put(ctx, key, b)
}

// armSentinel refreshes the record's TTL sentinel, re-creating it if it
// already fired or was evicted.
func (t *FlightPlanTracker) armSentinel(ctx context.Context, key string) error {
	sentinel := store.SentinelPrefix + key
	ok, err := t.store.Arm(ctx, sentinel, flightPlanTTL)
	if err != nil {
		return err
	}
	if !ok {
		if err := t.store.Put(ctx, sentinel, []byte("1")); err != nil {
			return err
		}
		if _, err := t.store.Arm(ctx, sentinel, flightPlanTTL); err != nil {
			return err
		}
	}
	return nil
}

func (t *FlightPlanTracker) emit(ctx context.Context, event string, rec *Record, change *events.StateChange, pos *vatsim.Position) error {
	return t.pub.Publish(ctx, events.FlightPlanRoute(event), events.FlightPlanEvent{
		Event:      event,
		Pilot:      rec.Pilot,
		FlightPlan: rec.FlightPlan,
		Timestamp:  t.clock.Now().UnixMilli(),
		State:      change,
		Position:   pos,
	})
}

// Run consumes the raw pilot/prefile stream and the store's expiry
// subscription on a single loop, which is what guarantees per-identity
// event ordering.
func (t *FlightPlanTracker) Run(ctx context.Context, deliveries <-chan amqp.Delivery, expiries <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("flight plans: %w", errDeliveriesClosed)
			}
			t.handle(ctx, d)
		case key, ok := <-expiries:
			if !ok {
				return fmt.Errorf("flight plans: expiry subscription closed")
			}
			if err := t.OnExpire(ctx, key); err != nil {
				t.lg.Errorf("%s: %v", key, err)
			}
		}
	}
}

func (t *FlightPlanTracker) handle(ctx context.Context, d amqp.Delivery) {
	var msg vatsim.RawMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		t.lg.Warnf("%s: malformed message: %v", d.RoutingKey, err)
		_ = d.Ack(false)
		return
	}

	pilot, err := vatsim.DecodePilot(msg.Data)
	if err != nil {
		t.lg.Debugf("%s: dropping snapshot: %v", d.RoutingKey, err)
		_ = d.Ack(false)
		return
	}

	// Prefiles carry no position; which kind this is follows from the
	// route it arrived on.
	var pos *vatsim.Position
	if d.RoutingKey != events.RouteRawPrefiles {
		pos = pilot.Pos()
	}

	if err := t.Ingest(ctx, pilot, pos); err != nil {
		t.lg.Errorf("%d-%s: %v", pilot.CID, pilot.Callsign, err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}
