// pkg/events/events.go
// Copyright(c) 2024-2026 vatevents contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package events defines the outbound event envelopes and the routing keys
// they are published to, together with the Publisher interface the trackers
// emit through.
package events

import (
	"context"
	"sync"

	"github.com/mmp/vatevents/pkg/vatsim"
)

// Inbound routing keys for the raw snapshot stream.
const (
	RouteRawControllers = "raw.controllers"
	RouteRawFlightPlans = "raw.flight_plans"
	RouteRawPrefiles    = "raw.prefiles"
)

// Outbound routing keys for derived lifecycle events.
const (
	RouteControllerConnect    = "events.controller.connect"
	RouteControllerDisconnect = "events.controller.disconnect"
	RouteFlightPlanFile       = "events.flight_plan.file"
	RouteFlightPlanUpdate     = "events.flight_plan.update"
	RouteFlightPlanExpire     = "events.flight_plan.expire"
	RouteFlightPlanState      = "events.flight_plan.state_change"
)

// FlightPlanRoute returns the routing key for a flight plan event name
// ("file", "update", "expire", "state_change").
func FlightPlanRoute(event string) string {
	return "events.flight_plan." + event
}

// Publisher publishes an event envelope to a topic route on the outbound
// bus. Implementations must not report success until the broker has
// acknowledged the publish.
type Publisher interface {
	Publish(ctx context.Context, route string, event any) error
}

// ControllerEvent is emitted when a controller connects to or disconnects
// from the network. Data is the verbatim snapshot from the controller's
// first sighting.
type ControllerEvent struct {
	Event     string            `json:"event"`
	Data      vatsim.Controller `json:"data"`
	Timestamp int64             `json:"timestamp"`
}

// PilotID identifies the pilot a flight plan event belongs to.
type PilotID struct {
	CID      int    `json:"cid" msgpack:"cid"`
	Callsign string `json:"callsign" msgpack:"callsign"`
}

// StateChange carries the transition of a state_change event.
type StateChange struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
	Reason   string `json:"reason"`
}

// FlightPlanEvent is emitted on flight plan file/update/expire and on
// airborne state changes. State is only present on state_change events;
// Position only on state changes driven by a position report.
type FlightPlanEvent struct {
	Event      string            `json:"event"`
	Pilot      PilotID           `json:"pilot"`
	FlightPlan vatsim.FlightPlan `json:"flight_plan"`
	Timestamp  int64             `json:"timestamp"`
	State      *StateChange      `json:"state,omitempty"`
	Position   *vatsim.Position  `json:"position,omitempty"`
}

// Published pairs a route with the envelope published to it.
type Published struct {
	Route string
	Event any
}

// Capture is a Publisher that records everything published through it, in
// order. It is used by the tracker tests to assert emitted event sequences.
type Capture struct {
	mu     sync.Mutex
	Events []Published
}

func (c *Capture) Publish(ctx context.Context, route string, event any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Events = append(c.Events, Published{Route: route, Event: event})
	return nil
}

// Reset discards all captured events.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Events = nil
}
