package worldstate

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Target kinds addressable by rule conditions and effects. Targets are
// written "overlay.hope", "variable.inflation", "capital.nvda".
const (
	KindOverlay  = "overlay"
	KindVariable = "variable"
	KindCapital  = "capital"
)

const (
	// OverlayNeutral is the baseline every overlay relaxes toward during decay.
	OverlayNeutral = 0.5
)

// Event is one append-only world event log entry.
type Event struct {
	Turn      int      `json:"turn"`
	Kind      string   `json:"kind"`
	RuleID    string   `json:"rule_id,omitempty"`
	Targets   []string `json:"targets,omitempty"`
	Magnitude float64  `json:"magnitude,omitempty"`
	Detail    string   `json:"detail,omitempty"`
}

// Snapshot is a point-in-time simulation state. Snapshots are immutable by
// convention: the turn engine clones before mutating and returns the clone.
// Overlay values are always clamped to [0,1]; capital exposures are
// unbounded; the turn counter never decreases.
type Snapshot struct {
	Turn      int                `json:"turn"`
	Variables map[string]float64 `json:"variables"`
	Overlays  map[string]float64 `json:"overlays"`
	Capital   map[string]float64 `json:"capital"`
	Events    []Event            `json:"events,omitempty"`
}

// New returns an empty snapshot at turn 0.
func New() *Snapshot {
	return &Snapshot{
		Variables: map[string]float64{},
		Overlays:  map[string]float64{},
		Capital:   map[string]float64{},
	}
}

// Clone deep-copies the snapshot, event log included.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Turn:      s.Turn,
		Variables: make(map[string]float64, len(s.Variables)),
		Overlays:  make(map[string]float64, len(s.Overlays)),
		Capital:   make(map[string]float64, len(s.Capital)),
	}
	for k, v := range s.Variables {
		out.Variables[k] = v
	}
	for k, v := range s.Overlays {
		out.Overlays[k] = v
	}
	for k, v := range s.Capital {
		out.Capital[k] = v
	}
	if len(s.Events) > 0 {
		out.Events = make([]Event, len(s.Events))
		copy(out.Events, s.Events)
	}
	return out
}

// Get resolves a dotted target against the snapshot. Missing entries read as
// zero so predicates never fault on absent keys.
func (s *Snapshot) Get(target string) (float64, error) {
	kind, name, err := SplitTarget(target)
	if err != nil {
		return 0, err
	}
	switch kind {
	case KindOverlay:
		return s.Overlays[name], nil
	case KindVariable:
		return s.Variables[name], nil
	case KindCapital:
		return s.Capital[name], nil
	}
	return 0, fmt.Errorf("unknown target kind: %s", kind)
}

// Add applies a delta to a dotted target, clamping overlays to [0,1].
func (s *Snapshot) Add(target string, delta float64) error {
	kind, name, err := SplitTarget(target)
	if err != nil {
		return err
	}
	switch kind {
	case KindOverlay:
		s.Overlays[name] = Clamp01(s.Overlays[name] + delta)
	case KindVariable:
		s.Variables[name] += delta
	case KindCapital:
		s.Capital[name] += delta
	default:
		return fmt.Errorf("unknown target kind: %s", kind)
	}
	return nil
}

// AppendEvent records a world event stamped with the snapshot's turn.
func (s *Snapshot) AppendEvent(e Event) {
	e.Turn = s.Turn
	s.Events = append(s.Events, e)
}

// Tension is a scalar instability measure: the sum of pairwise absolute
// divergence between all overlays. An all-neutral state scores zero.
func (s *Snapshot) Tension() float64 {
	names := make([]string, 0, len(s.Overlays))
	for name := range s.Overlays {
		names = append(names, name)
	}
	sort.Strings(names)

	total := 0.0
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			total += math.Abs(s.Overlays[names[i]] - s.Overlays[names[j]])
		}
	}
	return total
}

// SplitTarget splits "overlay.hope" into ("overlay", "hope").
func SplitTarget(target string) (kind, name string, err error) {
	idx := strings.IndexByte(target, '.')
	if idx <= 0 || idx == len(target)-1 {
		return "", "", fmt.Errorf("malformed target: %q", target)
	}
	return target[:idx], target[idx+1:], nil
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
