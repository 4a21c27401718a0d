package drift

import (
	"fmt"
	"math"

	"retrosim/internal/worldstate"
)

// Event kinds.
const (
	EventOverlayShift = "overlay_shift"
	EventTensionSpike = "tension_spike"
)

// Event flags one instability observation between two states.
type Event struct {
	Kind    string  `json:"kind"`
	Overlay string  `json:"overlay,omitempty"`
	Delta   float64 `json:"delta"`
}

// Flag renders the event as a stable short token for forecast records.
func (e Event) Flag() string {
	if e.Overlay != "" {
		return fmt.Sprintf("%s:%s", e.Kind, e.Overlay)
	}
	return e.Kind
}

// Detect compares overlay values between two consecutive states. Every
// overlay key present in either state contributes a delta rounded to three
// decimals; missing keys read as zero, so the delta map is an exact negation
// under argument swap. Deltas past deltaThreshold emit overlay_shift events;
// a tension change past tensionThreshold emits a tension_spike. The delta map
// is returned regardless of thresholds.
func Detect(previous, current *worldstate.Snapshot, tensionThreshold, deltaThreshold float64) (map[string]float64, []Event) {
	deltas := map[string]float64{}
	var events []Event

	keys := map[string]struct{}{}
	if previous != nil {
		for name := range previous.Overlays {
			keys[name] = struct{}{}
		}
	}
	if current != nil {
		for name := range current.Overlays {
			keys[name] = struct{}{}
		}
	}

	for name := range keys {
		delta := round3(overlayValue(current, name) - overlayValue(previous, name))
		deltas[name] = delta
		if math.Abs(delta) > deltaThreshold {
			events = append(events, Event{Kind: EventOverlayShift, Overlay: name, Delta: delta})
		}
	}

	tensionDelta := round3(tension(current) - tension(previous))
	if math.Abs(tensionDelta) > tensionThreshold {
		events = append(events, Event{Kind: EventTensionSpike, Delta: tensionDelta})
	}

	return deltas, events
}

func overlayValue(s *worldstate.Snapshot, name string) float64 {
	if s == nil {
		return 0
	}
	v, ok := s.Overlays[name]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func tension(s *worldstate.Snapshot) float64 {
	if s == nil {
		return 0
	}
	return s.Tension()
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
