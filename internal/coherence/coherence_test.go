package coherence

import (
	"testing"

	"retrosim/internal/model"
	"retrosim/internal/rules"
)

func rule(id, domain string, condTarget, op string, condValue float64, effTarget string, delta float64) model.RuleRecord {
	return model.RuleRecord{
		ID:      id,
		Domain:  domain,
		Enabled: true,
		Condition: model.Predicate{
			Kind:   rules.PredicateThreshold,
			Target: condTarget,
			Op:     op,
			Value:  condValue,
		},
		Effects: []model.Effect{
			{Kind: rules.EffectAdditive, Target: effTarget, Delta: delta},
		},
	}
}

func load(t *testing.T, records ...model.RuleRecord) *rules.Store {
	t.Helper()
	store := rules.NewStore()
	if err := store.Load(rules.StaticSource(records)); err != nil {
		t.Fatalf("load: %v", err)
	}
	return store
}

func TestScanFlagsOpposingEffectsOnSharedTrigger(t *testing.T) {
	store := load(t,
		rule("R1", "A", "overlay.hope", "gt", 0.6, "capital.nvda", 10),
		rule("R2", "A", "overlay.hope", "gt", 0.6, "capital.nvda", -10),
	)
	issues := Scan(store)
	if len(issues) != 1 {
		t.Fatalf("expected exactly 1 issue, got %d: %+v", len(issues), issues)
	}
	got := issues[0]
	if got.Kind != IssueContradiction || got.Domain != "A" || got.Target != "capital.nvda" {
		t.Fatalf("unexpected issue: %+v", got)
	}
}

func TestScanIgnoresDisjointTriggerRanges(t *testing.T) {
	store := load(t,
		rule("R1", "A", "overlay.hope", "gt", 0.8, "capital.nvda", 10),
		rule("R2", "A", "overlay.hope", "lt", 0.2, "capital.nvda", -10),
	)
	if issues := Scan(store); len(issues) != 0 {
		t.Fatalf("disjoint conditions cannot contradict, got %+v", issues)
	}
}

func TestScanIgnoresCrossDomainPairs(t *testing.T) {
	store := load(t,
		rule("R1", "A", "overlay.hope", "gt", 0.6, "capital.nvda", 10),
		rule("R2", "B", "overlay.hope", "gt", 0.6, "capital.nvda", -10),
	)
	if issues := Scan(store); len(issues) != 0 {
		t.Fatalf("cross-domain pairs are out of scope, got %+v", issues)
	}
}

func TestScanIgnoresSameDirectionEffects(t *testing.T) {
	store := load(t,
		rule("R1", "A", "overlay.hope", "gt", 0.6, "capital.nvda", 10),
		rule("R2", "A", "overlay.hope", "gt", 0.5, "capital.nvda", 4),
	)
	if issues := Scan(store); len(issues) != 0 {
		t.Fatalf("same-direction effects are coherent, got %+v", issues)
	}
}

func TestScanFlagsDuplicates(t *testing.T) {
	store := load(t,
		rule("R1", "A", "overlay.hope", "gt", 0.6, "capital.nvda", 10),
		rule("R2", "A", "overlay.hope", "gt", 0.6, "capital.nvda", 10),
	)
	issues := Scan(store)
	if len(issues) != 1 || issues[0].Kind != IssueDuplicate {
		t.Fatalf("expected one duplicate issue, got %+v", issues)
	}
}

func TestScanResolvesParameterIndirectedThresholds(t *testing.T) {
	r1 := rule("R1", "A", "overlay.hope", "gt", 0, "capital.nvda", 10)
	r1.Condition.Param = "trigger"
	r1.Parameters = map[string]model.Parameter{
		"trigger": {Value: 0.6, Min: 0, Max: 1},
	}
	r2 := rule("R2", "A", "overlay.hope", "gt", 0.5, "capital.nvda", -10)

	store := load(t, r1, r2)
	issues := Scan(store)
	if len(issues) != 1 || issues[0].Kind != IssueContradiction {
		t.Fatalf("expected contradiction via parameter threshold, got %+v", issues)
	}
}

func TestScanConjunctionNarrowsRange(t *testing.T) {
	r1 := model.RuleRecord{
		ID:      "R1",
		Domain:  "A",
		Enabled: true,
		Condition: model.Predicate{
			Kind: rules.PredicateAll,
			Children: []model.Predicate{
				{Kind: rules.PredicateThreshold, Target: "overlay.hope", Op: "gt", Value: 0.2},
				{Kind: rules.PredicateThreshold, Target: "overlay.hope", Op: "lt", Value: 0.4},
			},
		},
		Effects: []model.Effect{{Kind: rules.EffectAdditive, Target: "capital.nvda", Delta: 10}},
	}
	r2 := rule("R2", "A", "overlay.hope", "gt", 0.6, "capital.nvda", -10)

	store := load(t, r1, r2)
	if issues := Scan(store); len(issues) != 0 {
		t.Fatalf("(0.2,0.4) and (0.6,inf) are disjoint, got %+v", issues)
	}
}
