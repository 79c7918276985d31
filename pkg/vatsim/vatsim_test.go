// pkg/vatsim/vatsim_test.go
// Copyright(c) 2024-2026 vatevents contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package vatsim

import (
	"encoding/json"
	"testing"
)

func TestOpaqueUnmarshal(t *testing.T) {
	for _, c := range []struct {
		json string
		want Opaque
	}{
		{`"FL350"`, "FL350"},
		{`35000`, "35000"},
		{`"35000"`, "35000"},
		{`628`, "628"},
		{`null`, ""},
		{`""`, ""},
	} {
		var o Opaque
		if err := json.Unmarshal([]byte(c.json), &o); err != nil {
			t.Errorf("%s: unexpected error %v", c.json, err)
		} else if o != c.want {
			t.Errorf("%s: got %q, want %q", c.json, o, c.want)
		}
	}
}

func TestFlightPlanStringifiedDiff(t *testing.T) {
	// The same plan delivered with the altitude as a number one time and a
	// string the next must not register as a change.
	var a, b FlightPlan
	if err := json.Unmarshal([]byte(`{"flight_rules":"I","departure":"EGLL","arrival":"KJFK","altitude":35000,"revision_id":2}`), &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"flight_rules":"I","departure":"EGLL","arrival":"KJFK","altitude":"35000","revision_id":"2"}`), &b); err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("stringified plans compare unequal: %+v vs %+v", a, b)
	}

	b.Route = "DET L6 DVR"
	if a == b {
		t.Errorf("plans with different routes compare equal")
	}
}

func TestDecodeController(t *testing.T) {
	c, err := DecodeController([]byte(`{"cid":1234,"callsign":"LON_CTR","frequency":"127.825","facility":6,"rating":7}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.CID != 1234 || c.Callsign != "LON_CTR" || c.Frequency != "127.825" {
		t.Errorf("controller decoded incorrectly: %+v", c)
	}

	if _, err := DecodeController([]byte(`{"callsign":"LON_CTR"}`)); err != ErrMissingIdentity {
		t.Errorf("missing cid: got %v, want ErrMissingIdentity", err)
	}
	if _, err := DecodeController([]byte(`{"cid":1234}`)); err != ErrMissingIdentity {
		t.Errorf("missing callsign: got %v, want ErrMissingIdentity", err)
	}
}

func TestDecodePilot(t *testing.T) {
	p, err := DecodePilot([]byte(`{"cid":1,"callsign":"BAW1","latitude":51.5,"longitude":-0.1,
		"altitude":50,"groundspeed":5,"heading":270,
		"flight_plan":{"flight_rules":"I","departure":"EGLL","arrival":"KJFK"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.FlightPlan.Departure != "EGLL" || !p.FlightPlan.IsIFR() {
		t.Errorf("flight plan decoded incorrectly: %+v", p.FlightPlan)
	}
	if pos := p.Pos(); pos.Altitude != 50 || pos.Groundspeed != 5 || pos.Heading != 270 {
		t.Errorf("position decoded incorrectly: %+v", pos)
	}

	if _, err := DecodePilot([]byte(`{"cid":1,"callsign":"BAW1"}`)); err != ErrMissingFlightPlan {
		t.Errorf("missing plan: got %v, want ErrMissingFlightPlan", err)
	}
	if _, err := DecodePilot([]byte(`{"callsign":"BAW1","flight_plan":{"flight_rules":"I"}}`)); err != ErrMissingIdentity {
		t.Errorf("missing cid: got %v, want ErrMissingIdentity", err)
	}
}
