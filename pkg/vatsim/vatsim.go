// pkg/vatsim/vatsim.go
// Copyright(c) 2024-2026 vatevents contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package vatsim defines the data model of the VATSIM datafeed snapshots
// that arrive over the message bus: online controllers, connected pilots,
// and prefiled flight plans. Payloads from the feed are only loosely typed,
// so the admission fields (cid, callsign, flight_plan) are validated here
// and everything else is carried through opaquely.
package vatsim

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingIdentity   = errors.New("vatsim: missing cid or callsign")
	ErrMissingFlightPlan = errors.New("vatsim: no flight plan")
)

// RawMessage is the envelope for all inbound snapshot messages: a single
// controller, pilot, or prefile, tagged with the id of the upstream poll
// batch it came from.
type RawMessage struct {
	Data    json.RawMessage `json:"data"`
	BatchID string          `json:"batchId"`
}

// Controller describes a controller session as reported by the datafeed.
type Controller struct {
	CID         int       `json:"cid"`
	Name        string    `json:"name"`
	Callsign    string    `json:"callsign"`
	Frequency   string    `json:"frequency"`
	Facility    int       `json:"facility"`
	Rating      int       `json:"rating"`
	Server      string    `json:"server"`
	VisualRange int       `json:"visual_range"`
	TextATIS    []string  `json:"text_atis"`
	LastUpdated time.Time `json:"last_updated"`
	LogonTime   time.Time `json:"logon_time"`
}

// Position is a pilot's most recent position report. Prefiles carry no
// position at all, which is why it travels separately from Pilot fields in
// most of the tracker interfaces.
type Position struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Altitude    int     `json:"altitude"`
	Groundspeed int     `json:"groundspeed"`
	Heading     int     `json:"heading"`
}

// Pilot is a connected pilot or a prefile; the two arrive on different
// routes but share a shape, with prefiles simply missing the position and
// telemetry fields.
type Pilot struct {
	CID         int         `json:"cid"`
	Name        string      `json:"name"`
	Callsign    string      `json:"callsign"`
	Server      string      `json:"server"`
	Latitude    float64     `json:"latitude"`
	Longitude   float64     `json:"longitude"`
	Altitude    int         `json:"altitude"`
	Groundspeed int         `json:"groundspeed"`
	Heading     int         `json:"heading"`
	FlightPlan  *FlightPlan `json:"flight_plan"`
}

// Pos returns the pilot's position report. It must not be called for
// prefiles; the pipeline decides based on the route a message arrived on.
func (p *Pilot) Pos() *Position {
	return &Position{
		Latitude:    p.Latitude,
		Longitude:   p.Longitude,
		Altitude:    p.Altitude,
		Groundspeed: p.Groundspeed,
		Heading:     p.Heading,
	}
}

// Opaque is a flight plan field that the feed sometimes delivers as a JSON
// string and sometimes as a number (altitude being the usual offender:
// "FL350" one cycle, 35000 the next). It always compares and re-marshals
// in its stringified form so that field diffing is stable across cycles.
type Opaque string

func (o *Opaque) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*o = Opaque(s)
		return nil
	}
	if string(b) == "null" {
		*o = ""
		return nil
	}
	// Numbers and booleans keep their literal text.
	*o = Opaque(b)
	return nil
}

func (o Opaque) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(o))
}

func (o Opaque) String() string { return string(o) }

// FlightPlan is the 16-field plan body filed with VATSIM. All fields are
// Opaque so that the struct is comparable and two plans are equal exactly
// when their stringified fields are.
type FlightPlan struct {
	FlightRules         Opaque `json:"flight_rules"`
	Aircraft            Opaque `json:"aircraft"`
	AircraftFAA         Opaque `json:"aircraft_faa"`
	AircraftShort       Opaque `json:"aircraft_short"`
	Departure           Opaque `json:"departure"`
	Arrival             Opaque `json:"arrival"`
	Alternate           Opaque `json:"alternate"`
	CruiseTAS           Opaque `json:"cruise_tas"`
	Altitude            Opaque `json:"altitude"`
	DepartureTime       Opaque `json:"deptime"`
	EnrouteTime         Opaque `json:"enroute_time"`
	FuelTime            Opaque `json:"fuel_time"`
	Remarks             Opaque `json:"remarks"`
	Route               Opaque `json:"route"`
	RevisionID          Opaque `json:"revision_id"`
	AssignedTransponder Opaque `json:"assigned_transponder"`
}

// IsIFR reports whether the plan was filed under instrument flight rules.
func (fp *FlightPlan) IsIFR() bool { return fp.FlightRules == "I" }

// DecodeController unmarshals a controller snapshot and validates its
// identity fields.
func DecodeController(data json.RawMessage) (Controller, error) {
	var c Controller
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("controller: %w", err)
	}
	if c.CID == 0 || c.Callsign == "" {
		return c, ErrMissingIdentity
	}
	return c, nil
}

// DecodePilot unmarshals a pilot or prefile snapshot and validates the
// fields the flight plan tracker requires for admission. Pilots without a
// filed plan are not an error upstream, but they carry nothing for us to
// track.
func DecodePilot(data json.RawMessage) (Pilot, error) {
	var p Pilot
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("pilot: %w", err)
	}
	if p.CID == 0 || p.Callsign == "" {
		return p, ErrMissingIdentity
	}
	if p.FlightPlan == nil {
		return p, ErrMissingFlightPlan
	}
	return p, nil
}
