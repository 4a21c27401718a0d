package drift

import (
	"math"
	"testing"

	"retrosim/internal/worldstate"
)

func state(overlays map[string]float64) *worldstate.Snapshot {
	s := worldstate.New()
	for name, value := range overlays {
		s.Overlays[name] = value
	}
	return s
}

func TestDetectDeltaMapAndRounding(t *testing.T) {
	prev := state(map[string]float64{"hope": 0.5, "fear": 0.2})
	cur := state(map[string]float64{"hope": 0.6234, "fear": 0.2})

	deltas, _ := Detect(prev, cur, 10, 10)
	if deltas["hope"] != 0.123 {
		t.Fatalf("expected rounded 0.123, got %v", deltas["hope"])
	}
	if deltas["fear"] != 0 {
		t.Fatalf("expected 0, got %v", deltas["fear"])
	}
}

func TestDetectMissingKeysDefaultToZero(t *testing.T) {
	prev := state(map[string]float64{"hope": 0.4})
	cur := state(map[string]float64{"fear": 0.3})

	deltas, _ := Detect(prev, cur, 10, 10)
	if deltas["hope"] != -0.4 {
		t.Fatalf("removed key should delta against zero, got %v", deltas["hope"])
	}
	if deltas["fear"] != 0.3 {
		t.Fatalf("new key should delta from zero, got %v", deltas["fear"])
	}
}

func TestDetectSymmetry(t *testing.T) {
	a := state(map[string]float64{"hope": 0.8, "fear": 0.1, "trust": 0.5})
	b := state(map[string]float64{"hope": 0.2, "despair": 0.9})

	forward, _ := Detect(a, b, 10, 10)
	backward, _ := Detect(b, a, 10, 10)
	if len(forward) != len(backward) {
		t.Fatalf("key sets differ: %v vs %v", forward, backward)
	}
	for name, delta := range forward {
		if backward[name] != -delta {
			t.Fatalf("%s: %v is not the negation of %v", name, backward[name], delta)
		}
	}
}

func TestDetectOverlayShiftEvents(t *testing.T) {
	prev := state(map[string]float64{"hope": 0.2})
	cur := state(map[string]float64{"hope": 0.7})

	_, events := Detect(prev, cur, 10, 0.3)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %+v", events)
	}
	e := events[0]
	if e.Kind != EventOverlayShift || e.Overlay != "hope" || e.Delta != 0.5 {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.Flag() != "overlay_shift:hope" {
		t.Fatalf("unexpected flag: %s", e.Flag())
	}
}

func TestDetectTensionSpike(t *testing.T) {
	prev := state(map[string]float64{"hope": 0.5, "fear": 0.5})
	cur := state(map[string]float64{"hope": 0.9, "fear": 0.1})

	_, events := Detect(prev, cur, 0.5, 10)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %+v", events)
	}
	if events[0].Kind != EventTensionSpike {
		t.Fatalf("unexpected event: %+v", events[0])
	}
	// tension moved from 0 to 0.8
	if math.Abs(events[0].Delta-0.8) > 1e-9 {
		t.Fatalf("unexpected tension delta: %v", events[0].Delta)
	}
}

func TestDetectNonNumericCoercedToZeroDelta(t *testing.T) {
	prev := state(map[string]float64{"hope": math.NaN()})
	cur := state(map[string]float64{"hope": 0.4})

	deltas, _ := Detect(prev, cur, 10, 10)
	if deltas["hope"] != 0.4 {
		t.Fatalf("NaN should coerce to 0, got %v", deltas["hope"])
	}
}

func TestDetectNilStates(t *testing.T) {
	deltas, events := Detect(nil, nil, 0.1, 0.1)
	if len(deltas) != 0 || len(events) != 0 {
		t.Fatalf("nil states should be quiet, got %v %v", deltas, events)
	}
}
