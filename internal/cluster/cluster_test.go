package cluster

import (
	"testing"

	"retrosim/internal/evolution"
	"retrosim/internal/model"
	"retrosim/internal/rules"
)

func rule(id, domain string) model.RuleRecord {
	return model.RuleRecord{
		ID:      id,
		Domain:  domain,
		Enabled: true,
		Condition: model.Predicate{
			Kind:   rules.PredicateThreshold,
			Target: "overlay.hope",
			Op:     "gt",
			Value:  0.5,
		},
		Effects: []model.Effect{
			{Kind: rules.EffectAdditive, Target: "capital.nvda", Delta: 1},
		},
	}
}

func mutateEntry(ruleID string, accepted bool) model.AuditEntry {
	return model.AuditEntry{Action: evolution.ActionMutate, RuleID: ruleID, Accepted: accepted}
}

func TestSummarizeGroupsByDomain(t *testing.T) {
	store := rules.NewStore()
	err := store.Load(rules.StaticSource{
		rule("a1", "alpha"), rule("a2", "alpha"), rule("b1", "beta"),
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	summaries := Summarize(store, nil, 10)
	if len(summaries) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(summaries))
	}
	alpha := summaries[0]
	if alpha.Domain != "alpha" || alpha.Size != 2 || alpha.RuleIDs[0] != "a1" {
		t.Fatalf("unexpected alpha cluster: %+v", alpha)
	}
	if alpha.AverageVolatility != 0 {
		t.Fatalf("no mutations means zero volatility, got %v", alpha.AverageVolatility)
	}
}

func TestSummarizeVolatilityFromAuditTrail(t *testing.T) {
	store := rules.NewStore()
	err := store.Load(rules.StaticSource{rule("a1", "alpha"), rule("a2", "alpha")})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	trail := []model.AuditEntry{
		mutateEntry("a1", true),
		mutateEntry("a1", true),
		mutateEntry("a1", false), // rejected: does not count
		mutateEntry("a2", true),
		{Action: evolution.ActionDeprecate, RuleID: "a1", Accepted: true},
	}
	summaries := Summarize(store, trail, 10)
	// a1: 2/10 = 0.2; a2: 1/10 = 0.1; average 0.15.
	if got := summaries[0].AverageVolatility; got != 0.15 {
		t.Fatalf("average volatility %v, want 0.15", got)
	}
}

func TestSummarizeEmptyStore(t *testing.T) {
	if got := Summarize(rules.NewStore(), nil, 10); len(got) != 0 {
		t.Fatalf("expected no clusters, got %+v", got)
	}
}
