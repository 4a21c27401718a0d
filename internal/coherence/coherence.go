package coherence

import (
	"fmt"
	"math"
	"reflect"

	"retrosim/internal/model"
	"retrosim/internal/rules"
)

// Issue kinds.
const (
	IssueContradiction = "contradiction"
	IssueDuplicate     = "duplicate"
)

// Issue flags a pair of rules in one domain that contradict or duplicate
// each other. The checker is advisory and never mutates the store.
type Issue struct {
	Kind   string `json:"kind"`
	Domain string `json:"domain"`
	RuleA  string `json:"rule_a"`
	RuleB  string `json:"rule_b"`
	Target string `json:"target,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Scan examines every same-domain rule pair. A contradiction is a pair whose
// conditions can hold simultaneously (conservatively: threshold ranges on a
// shared target intersect, and no shared target rules them out) and whose
// effects move one target in opposite directions. A duplicate is a pair with
// structurally identical condition and effects under different ids.
func Scan(store *rules.Store) []Issue {
	var issues []Issue
	for _, domain := range store.Domains() {
		population := store.ByDomain(domain)
		for i := 0; i < len(population); i++ {
			for j := i + 1; j < len(population); j++ {
				issues = append(issues, checkPair(domain, population[i], population[j])...)
			}
		}
	}
	return issues
}

func checkPair(domain string, a, b model.RuleRecord) []Issue {
	var issues []Issue

	if reflect.DeepEqual(a.Condition, b.Condition) && reflect.DeepEqual(a.Effects, b.Effects) {
		issues = append(issues, Issue{
			Kind:   IssueDuplicate,
			Domain: domain,
			RuleA:  a.ID,
			RuleB:  b.ID,
			Detail: "structurally identical condition and effects",
		})
		return issues
	}

	if !conditionsCanOverlap(a, b) {
		return issues
	}

	deltasA := effectDirections(a)
	deltasB := effectDirections(b)
	for target, da := range deltasA {
		db, shared := deltasB[target]
		if !shared {
			continue
		}
		if da*db < 0 {
			issues = append(issues, Issue{
				Kind:   IssueContradiction,
				Domain: domain,
				RuleA:  a.ID,
				RuleB:  b.ID,
				Target: target,
				Detail: fmt.Sprintf("opposing deltas %+g and %+g", da, db),
			})
		}
	}
	return issues
}

// interval is the closed satisfying range of one threshold atom.
type interval struct {
	lo, hi float64
}

func conditionsCanOverlap(a, b model.RuleRecord) bool {
	atomsA := thresholdAtoms(a.Condition, a.Parameters)
	atomsB := thresholdAtoms(b.Condition, b.Parameters)

	if reflect.DeepEqual(a.Condition, b.Condition) {
		return true
	}
	if len(atomsA) == 0 || len(atomsB) == 0 {
		// Custom or disjunctive conditions cannot be bounded statically;
		// only structural equality (handled above) counts as overlap.
		return false
	}

	sharedOverlap := false
	for target, ia := range atomsA {
		ib, shared := atomsB[target]
		if !shared {
			continue
		}
		if ia.lo > ib.hi || ib.lo > ia.hi {
			// A shared target with disjoint ranges means both conditions
			// can never hold at once.
			return false
		}
		sharedOverlap = true
	}
	return sharedOverlap
}

// thresholdAtoms extracts per-target satisfying intervals from threshold
// predicates, descending through conjunctions. Disjunctions and custom
// predicates yield nothing: their truth set is not statically bounded.
func thresholdAtoms(p model.Predicate, params map[string]model.Parameter) map[string]interval {
	atoms := map[string]interval{}
	collectAtoms(p, params, atoms)
	return atoms
}

func collectAtoms(p model.Predicate, params map[string]model.Parameter, atoms map[string]interval) {
	switch p.Kind {
	case rules.PredicateThreshold:
		value := p.Value
		if p.Param != "" {
			param, ok := params[p.Param]
			if !ok {
				return
			}
			value = param.Value
		}
		var iv interval
		switch p.Op {
		case "gt", "gte":
			iv = interval{lo: value, hi: math.Inf(1)}
		case "lt", "lte":
			iv = interval{lo: math.Inf(-1), hi: value}
		case "eq":
			iv = interval{lo: value, hi: value}
		default:
			return
		}
		if existing, ok := atoms[p.Target]; ok {
			iv = interval{lo: math.Max(existing.lo, iv.lo), hi: math.Min(existing.hi, iv.hi)}
		}
		atoms[p.Target] = iv
	case rules.PredicateAll:
		for _, child := range p.Children {
			collectAtoms(child, params, atoms)
		}
	}
}

// effectDirections resolves the static per-target delta of each additive
// effect, reading parameter-indirected deltas at their current values.
// Custom effects are skipped: their direction is not statically known.
func effectDirections(rule model.RuleRecord) map[string]float64 {
	deltas := map[string]float64{}
	for _, effect := range rule.Effects {
		if effect.Kind != rules.EffectAdditive {
			continue
		}
		delta := effect.Delta
		if effect.Param != "" {
			param, ok := rule.Parameters[effect.Param]
			if !ok {
				continue
			}
			delta = param.Value
		}
		deltas[effect.Target] += delta
	}
	return deltas
}
