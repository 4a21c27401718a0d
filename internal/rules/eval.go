package rules

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"retrosim/internal/model"
	"retrosim/internal/worldstate"
)

var (
	ErrUnknownPredicateKind = errors.New("unknown predicate kind")
	ErrUnknownEffectKind    = errors.New("unknown effect kind")
	ErrFuncNotFound         = errors.New("named function not registered")
	ErrFuncExists           = errors.New("named function already registered")
)

// ConditionFunc is a registered custom predicate. It must be pure.
type ConditionFunc func(s *worldstate.Snapshot, params map[string]model.Parameter) (bool, error)

// EffectFunc is a registered custom effect returning per-target deltas.
type EffectFunc func(s *worldstate.Snapshot, params map[string]model.Parameter) (map[string]float64, error)

var funcRegistry = struct {
	mu         sync.RWMutex
	conditions map[string]ConditionFunc
	effects    map[string]EffectFunc
}{
	conditions: make(map[string]ConditionFunc),
	effects:    make(map[string]EffectFunc),
}

// RegisterCondition registers a named custom condition for the "custom"
// predicate variant.
func RegisterCondition(name string, fn ConditionFunc) error {
	if name == "" {
		return errors.New("condition name is required")
	}
	if fn == nil {
		return errors.New("condition function is required")
	}

	funcRegistry.mu.Lock()
	defer funcRegistry.mu.Unlock()

	if _, exists := funcRegistry.conditions[name]; exists {
		return fmt.Errorf("%w: %s", ErrFuncExists, name)
	}
	funcRegistry.conditions[name] = fn
	return nil
}

// RegisterEffect registers a named custom effect for the "custom" effect
// variant.
func RegisterEffect(name string, fn EffectFunc) error {
	if name == "" {
		return errors.New("effect name is required")
	}
	if fn == nil {
		return errors.New("effect function is required")
	}

	funcRegistry.mu.Lock()
	defer funcRegistry.mu.Unlock()

	if _, exists := funcRegistry.effects[name]; exists {
		return fmt.Errorf("%w: %s", ErrFuncExists, name)
	}
	funcRegistry.effects[name] = fn
	return nil
}

func resolveCondition(name string) (ConditionFunc, error) {
	funcRegistry.mu.RLock()
	fn, ok := funcRegistry.conditions[name]
	funcRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: condition %s", ErrFuncNotFound, name)
	}
	return fn, nil
}

func resolveEffect(name string) (EffectFunc, error) {
	funcRegistry.mu.RLock()
	fn, ok := funcRegistry.effects[name]
	funcRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: effect %s", ErrFuncNotFound, name)
	}
	return fn, nil
}

func resetFuncRegistryForTests() {
	funcRegistry.mu.Lock()
	defer funcRegistry.mu.Unlock()
	funcRegistry.conditions = make(map[string]ConditionFunc)
	funcRegistry.effects = make(map[string]EffectFunc)
}

// Predicate kinds.
const (
	PredicateThreshold = "threshold"
	PredicateAll       = "all"
	PredicateAny       = "any"
	PredicateCustom    = "custom"
)

// Effect kinds.
const (
	EffectAdditive = "additive"
	EffectCustom   = "custom"
)

// EvalPredicate interprets a predicate against a snapshot. Threshold values
// may be indirected through a named rule parameter so tuning can move
// trigger points.
func EvalPredicate(p model.Predicate, s *worldstate.Snapshot, params map[string]model.Parameter) (bool, error) {
	switch p.Kind {
	case PredicateThreshold:
		current, err := s.Get(p.Target)
		if err != nil {
			return false, err
		}
		threshold, err := resolveValue(p.Value, p.Param, params)
		if err != nil {
			return false, err
		}
		return compare(p.Op, current, threshold)
	case PredicateAll:
		for _, child := range p.Children {
			ok, err := EvalPredicate(child, s, params)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case PredicateAny:
		for _, child := range p.Children {
			ok, err := EvalPredicate(child, s, params)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case PredicateCustom:
		fn, err := resolveCondition(p.Func)
		if err != nil {
			return false, err
		}
		return fn(s, params)
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownPredicateKind, p.Kind)
	}
}

// EvalEffect interprets a single effect into per-target deltas without
// touching the snapshot. Delta values may be indirected through a named rule
// parameter.
func EvalEffect(e model.Effect, s *worldstate.Snapshot, params map[string]model.Parameter) (map[string]float64, error) {
	switch e.Kind {
	case EffectAdditive:
		if _, _, err := worldstate.SplitTarget(e.Target); err != nil {
			return nil, err
		}
		delta, err := resolveValue(e.Delta, e.Param, params)
		if err != nil {
			return nil, err
		}
		return map[string]float64{e.Target: delta}, nil
	case EffectCustom:
		fn, err := resolveEffect(e.Func)
		if err != nil {
			return nil, err
		}
		deltas, err := fn(s, params)
		if err != nil {
			return nil, err
		}
		for target := range deltas {
			if _, _, err := worldstate.SplitTarget(target); err != nil {
				return nil, err
			}
		}
		return deltas, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEffectKind, e.Kind)
	}
}

// EvalEffects merges all of a rule's effects, summing deltas that land on the
// same target.
func EvalEffects(effects []model.Effect, s *worldstate.Snapshot, params map[string]model.Parameter) (map[string]float64, error) {
	merged := map[string]float64{}
	for _, effect := range effects {
		deltas, err := EvalEffect(effect, s, params)
		if err != nil {
			return nil, err
		}
		for target, delta := range deltas {
			merged[target] += delta
		}
	}
	return merged, nil
}

func resolveValue(literal float64, param string, params map[string]model.Parameter) (float64, error) {
	if param == "" {
		return literal, nil
	}
	p, ok := params[param]
	if !ok {
		return 0, fmt.Errorf("parameter not declared: %s", param)
	}
	return p.Value, nil
}

func compare(op string, current, threshold float64) (bool, error) {
	switch op {
	case "gt":
		return current > threshold, nil
	case "gte":
		return current >= threshold, nil
	case "lt":
		return current < threshold, nil
	case "lte":
		return current <= threshold, nil
	case "eq":
		return current == threshold, nil
	default:
		return false, fmt.Errorf("unknown comparison op: %s", op)
	}
}

// SortedTargets returns delta-map targets in stable order.
func SortedTargets(deltas map[string]float64) []string {
	targets := make([]string, 0, len(deltas))
	for target := range deltas {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets
}
