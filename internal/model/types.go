package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Parameter is a tunable rule value constrained to a declared range.
type Parameter struct {
	Value float64 `json:"value"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Predicate is a tagged-variant condition over a world snapshot. Threshold
// predicates compare one target against a literal value or a named rule
// parameter; "all"/"any" combine children; "custom" resolves a registered
// named function at evaluation time.
type Predicate struct {
	Kind     string      `json:"kind"`
	Target   string      `json:"target,omitempty"`
	Op       string      `json:"op,omitempty"`
	Value    float64     `json:"value,omitempty"`
	Param    string      `json:"param,omitempty"`
	Children []Predicate `json:"children,omitempty"`
	Func     string      `json:"func,omitempty"`
}

// Effect is a tagged-variant state change. Additive effects contribute a
// delta (literal or read from a named parameter) to one target; "custom"
// resolves a registered named function returning per-target deltas.
type Effect struct {
	Kind   string  `json:"kind"`
	Target string  `json:"target,omitempty"`
	Delta  float64 `json:"delta,omitempty"`
	Param  string  `json:"param,omitempty"`
	Func   string  `json:"func,omitempty"`
}

// RuleRecord is one entry in the rule population. The rule store is the only
// writer of Enabled, Parameters and TrustScore after load; rules are never
// deleted, only disabled.
type RuleRecord struct {
	VersionedRecord
	ID         string               `json:"rule_id"`
	Domain     string               `json:"domain"`
	Enabled    bool                 `json:"enabled"`
	Condition  Predicate            `json:"condition"`
	Effects    []Effect             `json:"effects"`
	Parameters map[string]Parameter `json:"parameters,omitempty"`
	TrustScore float64              `json:"trust_score"`
}

// TransitionRecord captures one rule firing within one turn.
type TransitionRecord struct {
	RuleID  string             `json:"rule_id"`
	Turn    int                `json:"turn"`
	Touched []string           `json:"variables_touched"`
	Deltas  map[string]float64 `json:"delta_summary"`
}

// ForecastRecord is the output of one turn step, free-run or retrodicted.
// Trajectories hold the end-of-step values for every overlay and capital
// exposure present in the resulting state.
type ForecastRecord struct {
	VersionedRecord
	TraceID           string             `json:"trace_id"`
	StartTurn         int                `json:"start_turn"`
	EndTurn           int                `json:"end_turn"`
	OverlayTrajectory map[string]float64 `json:"overlay_trajectory"`
	CapitalTrajectory map[string]float64 `json:"capital_trajectory"`
	Confidence        float64            `json:"confidence"`
	DriftFlags        []string           `json:"drift_flags,omitempty"`
	FiredRuleIDs      []string           `json:"fired_rule_ids,omitempty"`
}

// TrustEntry is one append-only trust history item for a rule or trace id.
type TrustEntry struct {
	ID        string             `json:"id"`
	Score     float64            `json:"score"`
	Timestamp time.Time          `json:"timestamp"`
	Signals   map[string]float64 `json:"signals,omitempty"`
}

// MutationProposal records one proposed parameter perturbation, applied or
// not. Proposals land in the mutation audit trail regardless of acceptance.
type MutationProposal struct {
	RuleID     string               `json:"rule_id"`
	Proposed   map[string]Parameter `json:"proposed_parameters"`
	Rationale  string               `json:"rationale"`
	DryRun     bool                 `json:"dry_run"`
	Accepted   bool                 `json:"accepted"`
	ProposedAt time.Time            `json:"proposed_at"`
}

// AuditEntry is one line of the mutation audit trail.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	RuleID    string    `json:"rule_id"`
	DryRun    bool      `json:"dry_run"`
	Rationale string    `json:"rationale,omitempty"`
	Accepted  bool      `json:"accepted"`
}

// ClusterSummary aggregates one rule domain for operator review.
type ClusterSummary struct {
	Domain            string   `json:"domain"`
	RuleIDs           []string `json:"rule_ids"`
	Size              int      `json:"size"`
	AverageVolatility float64  `json:"average_volatility"`
}
