// pkg/tracker/airborne.go
// Copyright(c) 2024-2026 vatevents contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package tracker

import "slices"

// State is the airborne lifecycle state of a tracked flight plan.
type State string

const (
	StateFiled       State = "filed"
	StateDeparting   State = "departing"
	StateEnroute     State = "enroute"
	StateApproaching State = "approaching"
	StateArrived     State = "arrived"
	StateCancelled   State = "cancelled"
)

// Telemetry thresholds, in knots and feet.
const (
	TaxiSpeed    = 30
	TakeoffSpeed = 60
	LandingSpeed = 60

	// The altitude thresholds are part of the tuning surface but the
	// transition conditions below are driven by ground speed alone.
	GroundAltitude    = 100
	ClimbDescendDelta = 1000
)

// Transition is a proposed state change together with the reason tag that
// is carried on the emitted state_change event.
type Transition struct {
	To     State
	Reason string
}

// NextState evaluates the transition conditions for the current state
// against the latest position report and returns the first one that
// matches, or nil. An empty current state is treated as filed.
func NextState(current State, groundspeed, altitude int, previousAltitude *int) *Transition {
	if current == "" {
		current = StateFiled
	}

	switch current {
	case StateFiled:
		if groundspeed > TakeoffSpeed {
			return &Transition{To: StateEnroute, Reason: "already_airborne"}
		}
		if groundspeed < TaxiSpeed {
			return &Transition{To: StateDeparting, Reason: "pilot_connected_at_gate"}
		}
	case StateDeparting:
		if groundspeed > TakeoffSpeed {
			return &Transition{To: StateEnroute, Reason: "ground_speed_above_takeoff_threshold"}
		}
	case StateEnroute:
		if groundspeed < TaxiSpeed {
			return &Transition{To: StateArrived, Reason: "already_landed"}
		}
		if groundspeed < LandingSpeed {
			return &Transition{To: StateApproaching, Reason: "slowing_for_approach"}
		}
	case StateApproaching:
		if groundspeed < TaxiSpeed {
			return &Transition{To: StateArrived, Reason: "landed_and_taxiing"}
		}
	}
	// arrived and cancelled are terminal
	return nil
}

var allowedTransitions = map[State][]State{
	StateFiled:       {StateDeparting, StateEnroute, StateCancelled},
	StateDeparting:   {StateEnroute, StateCancelled},
	StateEnroute:     {StateApproaching, StateArrived, StateCancelled},
	StateApproaching: {StateArrived, StateCancelled},
	StateArrived:     {},
	StateCancelled:   {},
}

// TransitionAllowed reports whether from -> to is in the allowed set. The
// trackers drop proposals that are not.
func TransitionAllowed(from, to State) bool {
	return slices.Contains(allowedTransitions[from], to)
}
