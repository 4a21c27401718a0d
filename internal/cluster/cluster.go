package cluster

import (
	"sort"

	"retrosim/internal/evolution"
	"retrosim/internal/model"
	"retrosim/internal/rules"
	"retrosim/internal/trust"
)

// Summarize groups the rule population by domain and reports per-domain
// mutation volatility for operator review. Volatility per rule is its
// accepted-mutation count normalized over the given window, matching the
// trust scorer's normalization so values compare across components. Pure
// read/aggregate: neither input is mutated.
func Summarize(store *rules.Store, trail []model.AuditEntry, window int) []model.ClusterSummary {
	if window <= 0 {
		window = 20
	}

	mutations := map[string]int{}
	for _, entry := range trail {
		if entry.Action == evolution.ActionMutate && entry.Accepted {
			mutations[entry.RuleID]++
		}
	}

	var summaries []model.ClusterSummary
	for _, domain := range store.Domains() {
		population := store.ByDomain(domain)
		ids := make([]string, 0, len(population))
		total := 0.0
		for _, rule := range population {
			ids = append(ids, rule.ID)
			total += trust.Volatility(mutations[rule.ID], window)
		}
		sort.Strings(ids)

		average := 0.0
		if len(ids) > 0 {
			average = total / float64(len(ids))
		}
		summaries = append(summaries, model.ClusterSummary{
			Domain:            domain,
			RuleIDs:           ids,
			Size:              len(ids),
			AverageVolatility: average,
		})
	}
	return summaries
}
