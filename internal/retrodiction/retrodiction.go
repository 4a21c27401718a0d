package retrodiction

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"retrosim/internal/drift"
	"retrosim/internal/engine"
	"retrosim/internal/model"
	"retrosim/internal/rules"
	"retrosim/internal/worldstate"
)

// InjectionMode governs how ground truth feeds a replay.
type InjectionMode string

const (
	// SeedThenFree seeds only the initial state; later turns run
	// unconstrained, testing pure forward prediction.
	SeedThenFree InjectionMode = "seed_then_free"
	// StrictInjection overwrites state from ground truth every turn,
	// testing per-step effect accuracy without compounding drift.
	StrictInjection InjectionMode = "strict_injection"
)

// GroundTruthLoader supplies historical snapshots. A false second return
// means no data exists for that turn; replays tolerate gaps by free-running.
type GroundTruthLoader interface {
	SnapshotAt(turn int) (*worldstate.Snapshot, bool, error)
}

// MemoryLoader serves ground truth from an in-memory turn index.
type MemoryLoader map[int]*worldstate.Snapshot

func (m MemoryLoader) SnapshotAt(turn int) (*worldstate.Snapshot, bool, error) {
	s, ok := m[turn]
	if !ok {
		return nil, false, nil
	}
	return s.Clone(), true, nil
}

// ConfidenceEstimator supplies a per-step confidence for forecast records.
type ConfidenceEstimator interface {
	Estimate(previous, next *worldstate.Snapshot) float64
}

// NeutralConfidence is the baseline estimator used when no model-backed
// uncertainty source is wired in.
type NeutralConfidence struct {
	Value float64
}

func (n NeutralConfidence) Estimate(_, _ *worldstate.Snapshot) float64 {
	return n.Value
}

// DefaultNeutralConfidence matches the unknown/neutral trust default.
const DefaultNeutralConfidence = 0.5

const defaultMaxRecords = 1024

// Config wires a replay engine.
type Config struct {
	Mode             InjectionMode
	Loader           GroundTruthLoader
	Confidence       ConfidenceEstimator
	TensionThreshold float64
	DeltaThreshold   float64
	MaxRecords       int
}

// Engine replays the turn engine against historical trajectories, or
// free-runs it when no loader is configured, emitting one forecast record
// per turn into a bounded in-memory store.
type Engine struct {
	turns *engine.Engine
	cfg   Config

	records recordRing
}

// New validates the configuration. The loader may be nil for pure free-run
// forecasting; the mode must then be SeedThenFree.
func New(turnEngine *engine.Engine, cfg Config) (*Engine, error) {
	if turnEngine == nil {
		return nil, errors.New("turn engine is required")
	}
	switch cfg.Mode {
	case "", SeedThenFree:
		cfg.Mode = SeedThenFree
	case StrictInjection:
		if cfg.Loader == nil {
			return nil, errors.New("strict injection requires a ground truth loader")
		}
	default:
		return nil, fmt.Errorf("unknown injection mode: %s", cfg.Mode)
	}
	if cfg.Confidence == nil {
		cfg.Confidence = NeutralConfidence{Value: DefaultNeutralConfidence}
	}
	if cfg.TensionThreshold <= 0 {
		cfg.TensionThreshold = 0.5
	}
	if cfg.DeltaThreshold <= 0 {
		cfg.DeltaThreshold = 0.3
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = defaultMaxRecords
	}
	return &Engine{turns: turnEngine, cfg: cfg, records: recordRing{limit: cfg.MaxRecords}}, nil
}

// Run replays from the initial state for the given number of turns and
// returns one forecast record per turn, all sharing a fresh trace id.
// Missing ground truth at any turn is a soft gap: that turn free-runs.
func (e *Engine) Run(ctx context.Context, initial *worldstate.Snapshot, turns int) ([]model.ForecastRecord, error) {
	if initial == nil {
		return nil, errors.New("initial state is required")
	}
	if turns <= 0 {
		return nil, fmt.Errorf("turns must be > 0, got %d", turns)
	}

	traceID := uuid.NewString()
	current := initial.Clone()

	if e.cfg.Loader != nil {
		seeded, ok, err := e.cfg.Loader.SnapshotAt(current.Turn)
		if err != nil {
			return nil, fmt.Errorf("seed ground truth at turn %d: %w", current.Turn, err)
		}
		if ok {
			injectTruth(current, seeded)
		}
	}

	out := make([]model.ForecastRecord, 0, turns)
	for step := 0; step < turns; step++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		previous := current
		result, err := e.turns.Advance(previous, nil)
		if err != nil {
			return out, fmt.Errorf("advance turn %d: %w", previous.Turn, err)
		}
		current = result.State

		if e.cfg.Mode == StrictInjection {
			truth, ok, err := e.cfg.Loader.SnapshotAt(current.Turn)
			if err != nil {
				return out, fmt.Errorf("load ground truth at turn %d: %w", current.Turn, err)
			}
			if ok {
				injectTruth(current, truth)
			}
		}

		record := e.buildRecord(traceID, previous, current, result.Transitions)
		e.records.append(record)
		out = append(out, record)
	}
	return out, nil
}

func (e *Engine) buildRecord(traceID string, previous, current *worldstate.Snapshot, transitions []model.TransitionRecord) model.ForecastRecord {
	_, events := drift.Detect(previous, current, e.cfg.TensionThreshold, e.cfg.DeltaThreshold)
	flags := make([]string, 0, len(events))
	for _, event := range events {
		flags = append(flags, event.Flag())
	}

	fired := make([]string, 0, len(transitions))
	for _, tr := range transitions {
		fired = append(fired, tr.RuleID)
	}

	overlays := make(map[string]float64, len(current.Overlays))
	for name, value := range current.Overlays {
		overlays[name] = value
	}
	capital := make(map[string]float64, len(current.Capital))
	for name, value := range current.Capital {
		capital[name] = value
	}

	return model.ForecastRecord{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: rules.SupportedSchemaVersion,
			CodecVersion:  rules.SupportedCodecVersion,
		},
		TraceID:           traceID,
		StartTurn:         previous.Turn,
		EndTurn:           current.Turn,
		OverlayTrajectory: overlays,
		CapitalTrajectory: capital,
		Confidence:        e.cfg.Confidence.Estimate(previous, current),
		DriftFlags:        flags,
		FiredRuleIDs:      fired,
	}
}

// Records returns a copy of the bounded record store, oldest first.
func (e *Engine) Records() []model.ForecastRecord {
	return e.records.snapshot()
}

// injectTruth overwrites simulated values with recorded actuals. The event
// log and turn counter of the simulated state are preserved.
func injectTruth(state, truth *worldstate.Snapshot) {
	state.Variables = make(map[string]float64, len(truth.Variables))
	for name, value := range truth.Variables {
		state.Variables[name] = value
	}
	state.Overlays = make(map[string]float64, len(truth.Overlays))
	for name, value := range truth.Overlays {
		state.Overlays[name] = worldstate.Clamp01(value)
	}
	state.Capital = make(map[string]float64, len(truth.Capital))
	for name, value := range truth.Capital {
		state.Capital[name] = value
	}
}
