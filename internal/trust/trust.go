package trust

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"retrosim/internal/audit"
	"retrosim/internal/coherence"
	"retrosim/internal/model"
	"retrosim/internal/worldstate"
)

var ErrMalformedForecastRecord = errors.New("malformed forecast record")

// NeutralScore is the trust assigned to ids with no history.
const NeutralScore = 0.5

// Signals are the inputs a scoring strategy combines.
type Signals struct {
	Confidence       float64
	DriftPenalty     float64
	FragilityPenalty float64
}

// ScoringStrategy turns signals into a bounded trust score. Implementations
// must be monotone in confidence for fixed penalties.
type ScoringStrategy interface {
	Name() string
	Score(sig Signals) float64
}

// NaiveStrategy is the baseline: confidence minus penalties, clamped to
// [0,1]. A statistically rigorous strategy can replace it without touching
// the scorer's control flow.
type NaiveStrategy struct{}

func (NaiveStrategy) Name() string { return "naive" }

func (NaiveStrategy) Score(sig Signals) float64 {
	return worldstate.Clamp01(sig.Confidence - sig.DriftPenalty - sig.FragilityPenalty)
}

// AlertFunc receives threshold-breach notifications. Callbacks are
// best-effort: a panicking callback is recovered, recorded, and never
// propagated to the scoring path.
type AlertFunc func(alertType string, context map[string]any)

// AlertTrustDegradation is emitted when a score falls beyond the configured
// fraction below its recorded baseline.
const AlertTrustDegradation = "trust_degradation"

// Config tunes the scorer. Zero values select the documented defaults.
type Config struct {
	Strategy                 ScoringStrategy
	DriftPenaltyPerFlag      float64
	FragilityPenaltyPerIssue float64
	VolatilityWindow         int
	VolatilityDeltaThreshold float64
	DegradeFraction          float64
	Trail                    *audit.Trail
}

// Scorer consumes forecast records and transition history, maintaining an
// append-only trust history per rule or trace id.
type Scorer struct {
	cfg Config

	mu          sync.Mutex
	history     map[string][]model.TrustEntry
	baselines   map[string]float64
	transitions map[string][]model.TransitionRecord
	alert       AlertFunc
	alertFaults []string
	now         func() time.Time
}

// NewScorer validates and applies defaults.
func NewScorer(cfg Config) *Scorer {
	if cfg.Strategy == nil {
		cfg.Strategy = NaiveStrategy{}
	}
	if cfg.DriftPenaltyPerFlag <= 0 {
		cfg.DriftPenaltyPerFlag = 0.1
	}
	if cfg.FragilityPenaltyPerIssue <= 0 {
		cfg.FragilityPenaltyPerIssue = 0.15
	}
	if cfg.VolatilityWindow <= 0 {
		cfg.VolatilityWindow = 20
	}
	if cfg.VolatilityDeltaThreshold <= 0 {
		cfg.VolatilityDeltaThreshold = 0.25
	}
	if cfg.DegradeFraction <= 0 {
		cfg.DegradeFraction = 0.3
	}
	return &Scorer{
		cfg:         cfg,
		history:     make(map[string][]model.TrustEntry),
		baselines:   make(map[string]float64),
		transitions: make(map[string][]model.TransitionRecord),
		now:         time.Now,
	}
}

// RegisterAlert installs the alert callback. Passing nil disables alerting.
func (s *Scorer) RegisterAlert(fn AlertFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alert = fn
}

// ValidateRecord checks the fields scoring depends on.
func ValidateRecord(record model.ForecastRecord) error {
	if record.TraceID == "" {
		return fmt.Errorf("%w: missing trace_id", ErrMalformedForecastRecord)
	}
	if record.OverlayTrajectory == nil {
		return fmt.Errorf("%w: missing overlay_trajectory", ErrMalformedForecastRecord)
	}
	if record.EndTurn < record.StartTurn {
		return fmt.Errorf("%w: end_turn %d before start_turn %d",
			ErrMalformedForecastRecord, record.EndTurn, record.StartTurn)
	}
	if record.Confidence < 0 || record.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformedForecastRecord, record.Confidence)
	}
	return nil
}

// ScoreForecast scores one forecast record. Coherence issues touching the
// rules that fired during the window contribute the fragility penalty.
func (s *Scorer) ScoreForecast(record model.ForecastRecord, issues []coherence.Issue) (model.TrustEntry, error) {
	if err := ValidateRecord(record); err != nil {
		return model.TrustEntry{}, err
	}

	fired := map[string]struct{}{}
	for _, id := range record.FiredRuleIDs {
		fired[id] = struct{}{}
	}
	fragile := 0
	for _, issue := range issues {
		if _, ok := fired[issue.RuleA]; ok {
			fragile++
			continue
		}
		if _, ok := fired[issue.RuleB]; ok {
			fragile++
		}
	}

	sig := Signals{
		Confidence:       record.Confidence,
		DriftPenalty:     float64(len(record.DriftFlags)) * s.cfg.DriftPenaltyPerFlag,
		FragilityPenalty: float64(fragile) * s.cfg.FragilityPenaltyPerIssue,
	}
	entry := model.TrustEntry{
		ID:        record.TraceID,
		Score:     worldstate.Clamp01(s.cfg.Strategy.Score(sig)),
		Timestamp: s.now(),
		Signals: map[string]float64{
			"confidence":        sig.Confidence,
			"drift_penalty":     sig.DriftPenalty,
			"fragility_penalty": sig.FragilityPenalty,
		},
	}
	return entry, s.record(entry)
}

// ObserveTransitions feeds rule firing history for volatility scoring. Only
// the most recent window per rule is retained.
func (s *Scorer) ObserveTransitions(records []model.TransitionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		recent := append(s.transitions[record.RuleID], record)
		if overflow := len(recent) - s.cfg.VolatilityWindow; overflow > 0 {
			recent = append(recent[:0:0], recent[overflow:]...)
		}
		s.transitions[record.RuleID] = recent
	}
}

// SeedHistory preloads trust entries persisted by an earlier process. Seeded
// entries establish baselines but are never re-appended to the trail.
func (s *Scorer) SeedHistory(entries []model.TrustEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		s.history[entry.ID] = append(s.history[entry.ID], entry)
		if _, seen := s.baselines[entry.ID]; !seen {
			s.baselines[entry.ID] = entry.Score
		}
	}
}

// ObserveForecasts derives transition observations from forecast records:
// each step's trajectory movement is charged to every rule that fired on it.
// Records are diffed in end-turn order within a trace; the first record of a
// trace has no prior step and contributes nothing.
func (s *Scorer) ObserveForecasts(records []model.ForecastRecord) {
	byTrace := map[string][]model.ForecastRecord{}
	for _, record := range records {
		byTrace[record.TraceID] = append(byTrace[record.TraceID], record)
	}

	var observed []model.TransitionRecord
	for _, trace := range byTrace {
		sort.Slice(trace, func(i, j int) bool { return trace[i].EndTurn < trace[j].EndTurn })
		for i := 1; i < len(trace); i++ {
			deltas := trajectoryDeltas(trace[i-1], trace[i])
			touched := make([]string, 0, len(deltas))
			for target := range deltas {
				touched = append(touched, target)
			}
			sort.Strings(touched)
			for _, ruleID := range trace[i].FiredRuleIDs {
				observed = append(observed, model.TransitionRecord{
					RuleID:  ruleID,
					Turn:    trace[i].EndTurn,
					Touched: touched,
					Deltas:  deltas,
				})
			}
		}
	}
	if len(observed) > 0 {
		s.ObserveTransitions(observed)
	}
}

func trajectoryDeltas(prev, cur model.ForecastRecord) map[string]float64 {
	deltas := map[string]float64{}
	diffInto(deltas, "overlay.", prev.OverlayTrajectory, cur.OverlayTrajectory)
	diffInto(deltas, "capital.", prev.CapitalTrajectory, cur.CapitalTrajectory)
	return deltas
}

func diffInto(deltas map[string]float64, prefix string, prev, cur map[string]float64) {
	for name, value := range cur {
		if delta := value - prev[name]; delta != 0 {
			deltas[prefix+name] = delta
		}
	}
}

// ScoreRule scores a rule from its recent transition history: the fraction
// of observed firings whose total magnitude crossed the volatility threshold,
// inverted into trust. A rule with no history scores neutral.
func (s *Scorer) ScoreRule(ruleID string) (model.TrustEntry, error) {
	s.mu.Lock()
	recent := s.transitions[ruleID]
	s.mu.Unlock()

	score := NeutralScore
	volatility := 0.0
	if len(recent) > 0 {
		volatile := 0
		for _, record := range recent {
			magnitude := 0.0
			for _, delta := range record.Deltas {
				if delta < 0 {
					magnitude -= delta
				} else {
					magnitude += delta
				}
			}
			if magnitude > s.cfg.VolatilityDeltaThreshold {
				volatile++
			}
		}
		volatility = Volatility(volatile, len(recent))
		score = worldstate.Clamp01(1 - volatility)
	}

	entry := model.TrustEntry{
		ID:        ruleID,
		Score:     score,
		Timestamp: s.now(),
		Signals: map[string]float64{
			"volatility":  volatility,
			"sample_size": float64(len(recent)),
		},
	}
	return entry, s.record(entry)
}

// Latest returns the most recent trust entry for an id.
func (s *Scorer) Latest(id string) (model.TrustEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.history[id]
	if len(entries) == 0 {
		return model.TrustEntry{}, false
	}
	return entries[len(entries)-1], true
}

// History returns the full trust history for an id, oldest first.
func (s *Scorer) History(id string) []model.TrustEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.history[id]
	out := make([]model.TrustEntry, len(entries))
	copy(out, entries)
	return out
}

// AlertFaults reports callback failures recovered so far.
func (s *Scorer) AlertFaults() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.alertFaults))
	copy(out, s.alertFaults)
	return out
}

func (s *Scorer) record(entry model.TrustEntry) error {
	s.mu.Lock()
	s.history[entry.ID] = append(s.history[entry.ID], entry)
	baseline, seen := s.baselines[entry.ID]
	if !seen {
		s.baselines[entry.ID] = entry.Score
	}
	alert := s.alert
	s.mu.Unlock()

	if seen && alert != nil && baseline > 0 && entry.Score < baseline*(1-s.cfg.DegradeFraction) {
		s.invokeAlert(alert, AlertTrustDegradation, map[string]any{
			"id":       entry.ID,
			"score":    entry.Score,
			"baseline": baseline,
		})
	}

	if s.cfg.Trail != nil {
		if err := s.cfg.Trail.Append(entry); err != nil {
			return fmt.Errorf("append trust trail: %w", err)
		}
	}
	return nil
}

func (s *Scorer) invokeAlert(fn AlertFunc, alertType string, context map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.alertFaults = append(s.alertFaults, fmt.Sprintf("%s: %v", alertType, r))
			s.mu.Unlock()
		}
	}()
	fn(alertType, context)
}

// Volatility normalizes an event count over an observation window to [0,1].
// Shared with the cluster summarizer so volatility values are comparable
// across components.
func Volatility(events, window int) float64 {
	if window <= 0 {
		return 0
	}
	return worldstate.Clamp01(float64(events) / float64(window))
}
