package engine

import (
	"errors"
	"fmt"
	"math"

	"retrosim/internal/model"
	"retrosim/internal/rules"
	"retrosim/internal/worldstate"
)

var ErrEmptyRuleStore = errors.New("rule store has no rules")

// EventRuleFired and EventRuleFault are the event log kinds the engine emits.
const (
	EventRuleFired = "rule_fired"
	EventRuleFault = "rule_fault"
)

// Fault records a rule whose condition or effect failed during one turn. The
// rule is skipped; the turn continues.
type Fault struct {
	RuleID string `json:"rule_id"`
	Turn   int    `json:"turn"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// Result is the output of one turn advancement.
type Result struct {
	State       *worldstate.Snapshot
	Transitions []model.TransitionRecord
	Faults      []Fault
}

// Config tunes overlay decay. A zero DecayRate disables decay; a nil
// Baseline selects the neutral overlay value, so a zero baseline can still
// be configured explicitly.
type Config struct {
	DecayRate float64
	Baseline  *float64
}

// Engine advances a world snapshot one turn at a time against a rule store.
type Engine struct {
	store    *rules.Store
	cfg      Config
	baseline float64
}

// New validates the configuration and returns an engine bound to a store.
func New(store *rules.Store, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, errors.New("rule store is required")
	}
	if cfg.DecayRate < 0 || cfg.DecayRate > 1 {
		return nil, fmt.Errorf("decay rate must be in [0,1], got %v", cfg.DecayRate)
	}
	baseline := worldstate.OverlayNeutral
	if cfg.Baseline != nil {
		baseline = *cfg.Baseline
	}
	if baseline < 0 || baseline > 1 {
		return nil, fmt.Errorf("baseline must be in [0,1], got %v", baseline)
	}
	return &Engine{store: store, cfg: cfg, baseline: baseline}, nil
}

// Advance produces the next snapshot. Candidate rules are the enabled rules
// whose condition holds on the current state, evaluated in rule-id order.
// Effects are all evaluated against the pre-turn state and summed per target,
// so the outcome is independent of rule order. Overlay decay runs after rule
// effects; overlays stay clamped to [0,1]. A faulting rule is skipped and
// recorded, never aborting the turn.
//
// overrides optionally replaces parameter values per rule id for this turn
// only; the store is never written.
func (e *Engine) Advance(state *worldstate.Snapshot, overrides map[string]map[string]float64) (Result, error) {
	if state == nil {
		return Result{}, errors.New("state is required")
	}
	all := e.store.All()
	if len(all) == 0 {
		return Result{}, ErrEmptyRuleStore
	}

	next := state.Clone()
	next.Turn = state.Turn + 1

	totals := map[string]float64{}
	var transitions []model.TransitionRecord
	var faults []Fault

	for _, rule := range all {
		if !rule.Enabled {
			continue
		}
		params := mergeParams(rule.Parameters, overrides[rule.ID])

		matched, err := evalConditionSafe(rule.Condition, state, params)
		if err != nil {
			faults = append(faults, recordFault(next, rule.ID, "condition", err))
			continue
		}
		if !matched {
			continue
		}

		deltas, err := evalEffectsSafe(rule.Effects, state, params)
		if err != nil {
			faults = append(faults, recordFault(next, rule.ID, "effect", err))
			continue
		}

		touched := rules.SortedTargets(deltas)
		magnitude := 0.0
		for _, target := range touched {
			totals[target] += deltas[target]
			magnitude += math.Abs(deltas[target])
		}
		next.AppendEvent(worldstate.Event{
			Kind:      EventRuleFired,
			RuleID:    rule.ID,
			Targets:   touched,
			Magnitude: magnitude,
		})
		transitions = append(transitions, model.TransitionRecord{
			RuleID:  rule.ID,
			Turn:    next.Turn,
			Touched: touched,
			Deltas:  deltas,
		})
	}

	for _, target := range rules.SortedTargets(totals) {
		if err := next.Add(target, totals[target]); err != nil {
			return Result{}, fmt.Errorf("apply delta to %s: %w", target, err)
		}
	}

	e.decayOverlays(next)

	return Result{State: next, Transitions: transitions, Faults: faults}, nil
}

func (e *Engine) decayOverlays(s *worldstate.Snapshot) {
	if e.cfg.DecayRate == 0 {
		return
	}
	for name, value := range s.Overlays {
		s.Overlays[name] = worldstate.Clamp01(value + (e.baseline-value)*e.cfg.DecayRate)
	}
}

func recordFault(s *worldstate.Snapshot, ruleID, stage string, err error) Fault {
	s.AppendEvent(worldstate.Event{
		Kind:   EventRuleFault,
		RuleID: ruleID,
		Detail: fmt.Sprintf("%s: %v", stage, err),
	})
	return Fault{RuleID: ruleID, Turn: s.Turn, Stage: stage, Reason: err.Error()}
}

func evalConditionSafe(p model.Predicate, s *worldstate.Snapshot, params map[string]model.Parameter) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = fmt.Errorf("condition panicked: %v", r)
		}
	}()
	return rules.EvalPredicate(p, s, params)
}

func evalEffectsSafe(effects []model.Effect, s *worldstate.Snapshot, params map[string]model.Parameter) (deltas map[string]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			deltas = nil
			err = fmt.Errorf("effect panicked: %v", r)
		}
	}()
	return rules.EvalEffects(effects, s, params)
}

func mergeParams(declared map[string]model.Parameter, overrides map[string]float64) map[string]model.Parameter {
	if len(overrides) == 0 {
		return declared
	}
	merged := make(map[string]model.Parameter, len(declared))
	for name, param := range declared {
		merged[name] = param
	}
	for name, value := range overrides {
		param, ok := merged[name]
		if !ok {
			continue
		}
		param.Value = value
		merged[name] = param
	}
	return merged
}
