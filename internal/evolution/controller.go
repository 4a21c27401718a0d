package evolution

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"retrosim/internal/audit"
	"retrosim/internal/model"
	"retrosim/internal/rules"
)

// Phase is a rule's position in the autoevolution state machine.
type Phase string

const (
	// PhaseActive rules run in the population with acceptable trust.
	PhaseActive Phase = "active"
	// PhaseCandidateForMutation rules are enabled but have sustained low
	// trust; the controller targets them for perturbation or deprecation.
	PhaseCandidateForMutation Phase = "candidate_for_mutation"
	// PhasePromotable rules are disabled but have sustained high trust and
	// qualify for promotion into the active population.
	PhasePromotable Phase = "promotable"
	// PhaseDormant rules are disabled without promotion evidence: freshly
	// deprecated or still unvetted.
	PhaseDormant Phase = "dormant"
)

// Audit trail actions.
const (
	ActionMutate    = "mutate"
	ActionDeprecate = "deprecate"
	ActionPromote   = "promote"
)

// TrustHistory is the read side of the trust scorer the controller consults.
type TrustHistory interface {
	Latest(id string) (model.TrustEntry, bool)
	History(id string) []model.TrustEntry
}

// Config tunes the feedback loop thresholds.
type Config struct {
	LowTrustThreshold float64
	SustainWindow     int
	PromoteThreshold  float64
	PromoteWindow     int
	PerturbFraction   float64
	Seed              int64
}

// Controller is the meta-learning loop: it reads trust signals and writes
// parameter mutations, deprecations and promotions back into the rule store,
// leaving an audit entry for every action, applied or not. It never creates
// rules; authoring happens elsewhere.
type Controller struct {
	store   *rules.Store
	history TrustHistory
	trail   *audit.Trail
	cfg     Config

	mu    sync.Mutex
	rng   *rand.Rand
	locks map[string]*sync.Mutex
	now   func() time.Time
}

// New validates the wiring. The audit trail is mandatory: an unauditable
// controller must not run.
func New(store *rules.Store, history TrustHistory, trail *audit.Trail, cfg Config) (*Controller, error) {
	if store == nil {
		return nil, errors.New("rule store is required")
	}
	if history == nil {
		return nil, errors.New("trust history is required")
	}
	if trail == nil {
		return nil, errors.New("audit trail is required")
	}
	if cfg.LowTrustThreshold <= 0 {
		cfg.LowTrustThreshold = 0.35
	}
	if cfg.SustainWindow <= 0 {
		cfg.SustainWindow = 3
	}
	if cfg.PromoteThreshold <= 0 {
		cfg.PromoteThreshold = 0.75
	}
	if cfg.PromoteWindow <= 0 {
		cfg.PromoteWindow = 3
	}
	if cfg.PerturbFraction <= 0 || cfg.PerturbFraction > 1 {
		cfg.PerturbFraction = 0.2
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Controller{
		store:   store,
		history: history,
		trail:   trail,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}, nil
}

// Phase classifies a rule from its enabled flag and recent trust history.
func (c *Controller) Phase(ruleID string) (Phase, error) {
	rule, ok := c.store.Get(ruleID)
	if !ok {
		return "", fmt.Errorf("%w: %s", rules.ErrRuleNotFound, ruleID)
	}
	if rule.Enabled {
		if c.sustained(ruleID, c.cfg.SustainWindow, func(score float64) bool {
			return score < c.cfg.LowTrustThreshold
		}) {
			return PhaseCandidateForMutation, nil
		}
		return PhaseActive, nil
	}
	if c.sustained(ruleID, c.cfg.PromoteWindow, func(score float64) bool {
		return score >= c.cfg.PromoteThreshold
	}) {
		return PhasePromotable, nil
	}
	return PhaseDormant, nil
}

// ProposeMutation perturbs one tunable parameter of the rule within its
// declared bounds. When dryRun is false the change is applied through the
// store; the proposal is audited either way. A rule with no parameters
// yields a rejected proposal rather than an error.
func (c *Controller) ProposeMutation(ruleID string, dryRun bool) (*model.MutationProposal, error) {
	unlock := c.lockRule(ruleID)
	defer unlock()

	rule, ok := c.store.Get(ruleID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", rules.ErrRuleNotFound, ruleID)
	}

	proposal := &model.MutationProposal{
		RuleID:     ruleID,
		DryRun:     dryRun,
		ProposedAt: c.now(),
	}

	names := tunableNames(rule.Parameters)
	if len(names) == 0 {
		proposal.Rationale = "no tunable parameters"
		if err := c.append(ActionMutate, ruleID, dryRun, proposal.Rationale, false); err != nil {
			return nil, err
		}
		return proposal, nil
	}

	c.mu.Lock()
	name := names[c.rng.Intn(len(names))]
	direction := 1.0
	if c.rng.Intn(2) == 0 {
		direction = -1.0
	}
	c.mu.Unlock()

	param := rule.Parameters[name]
	step := direction * c.cfg.PerturbFraction * (param.Max - param.Min)
	next := param.Value + step
	if next > param.Max {
		next = param.Max
	}
	if next < param.Min {
		next = param.Min
	}

	proposal.Proposed = map[string]model.Parameter{
		name: {Value: next, Min: param.Min, Max: param.Max},
	}
	score := rules.DefaultTrustScore
	if latest, ok := c.history.Latest(ruleID); ok {
		score = latest.Score
	}
	proposal.Rationale = fmt.Sprintf("perturb %s from %g to %g (trust %.2f)", name, param.Value, next, score)

	if !dryRun {
		if err := c.store.UpdateParameters(ruleID, map[string]float64{name: next}); err != nil {
			if errors.Is(err, rules.ErrParameterOutOfBounds) {
				proposal.Rationale = fmt.Sprintf("%s; rejected: %v", proposal.Rationale, err)
				if auditErr := c.append(ActionMutate, ruleID, dryRun, proposal.Rationale, false); auditErr != nil {
					return nil, auditErr
				}
				return proposal, nil
			}
			return nil, err
		}
		proposal.Accepted = true
	}

	if err := c.append(ActionMutate, ruleID, dryRun, proposal.Rationale, proposal.Accepted); err != nil {
		return nil, err
	}
	return proposal, nil
}

// Deprecate disables a rule unless dryRun. An unknown rule is an error;
// deprecating an already-disabled rule is a no-op, not one.
func (c *Controller) Deprecate(ruleID string, dryRun bool) (bool, error) {
	unlock := c.lockRule(ruleID)
	defer unlock()

	if _, ok := c.store.Get(ruleID); !ok {
		return false, fmt.Errorf("%w: %s", rules.ErrRuleNotFound, ruleID)
	}

	applied := false
	if !dryRun {
		applied = c.store.SetEnabled(ruleID, false)
	}

	if err := c.append(ActionDeprecate, ruleID, dryRun, "sustained low trust", applied); err != nil {
		return true, err
	}
	return true, nil
}

// PromoteCandidate enables a disabled rule once its trust has held at or
// above the promotion threshold for the observation window. Promoting an
// already-enabled rule is idempotent.
func (c *Controller) PromoteCandidate(ruleID string) (bool, error) {
	unlock := c.lockRule(ruleID)
	defer unlock()

	rule, ok := c.store.Get(ruleID)
	if !ok {
		return false, fmt.Errorf("%w: %s", rules.ErrRuleNotFound, ruleID)
	}
	if rule.Enabled {
		if err := c.append(ActionPromote, ruleID, false, "already active", true); err != nil {
			return false, err
		}
		return true, nil
	}

	if !c.sustained(ruleID, c.cfg.PromoteWindow, func(score float64) bool {
		return score >= c.cfg.PromoteThreshold
	}) {
		rationale := fmt.Sprintf("trust below %.2f over window %d", c.cfg.PromoteThreshold, c.cfg.PromoteWindow)
		if err := c.append(ActionPromote, ruleID, false, rationale, false); err != nil {
			return false, err
		}
		return false, nil
	}

	c.store.SetEnabled(ruleID, true)
	if err := c.append(ActionPromote, ruleID, false, "sustained high trust", true); err != nil {
		return true, err
	}
	return true, nil
}

// PromoteCandidates sweeps every disabled rule and promotes the qualified
// ones, returning the promoted ids in stable order.
func (c *Controller) PromoteCandidates() ([]string, error) {
	var promoted []string
	for _, rule := range c.store.All() {
		if rule.Enabled {
			continue
		}
		ok, err := c.PromoteCandidate(rule.ID)
		if err != nil {
			return promoted, err
		}
		if ok {
			promoted = append(promoted, rule.ID)
		}
	}
	sort.Strings(promoted)
	return promoted, nil
}

// AuditSummary returns the last n mutation audit entries, oldest first.
func (c *Controller) AuditSummary(n int) ([]model.AuditEntry, error) {
	if n <= 0 {
		n = 10
	}
	return audit.ReadAuditEntries(c.trail.Path(), n)
}

func (c *Controller) sustained(ruleID string, window int, cond func(score float64) bool) bool {
	history := c.history.History(ruleID)
	if len(history) < window {
		return false
	}
	for _, entry := range history[len(history)-window:] {
		if !cond(entry.Score) {
			return false
		}
	}
	return true
}

func (c *Controller) append(action, ruleID string, dryRun bool, rationale string, accepted bool) error {
	entry := model.AuditEntry{
		Timestamp: c.now(),
		Action:    action,
		RuleID:    ruleID,
		DryRun:    dryRun,
		Rationale: rationale,
		Accepted:  accepted,
	}
	if err := c.trail.Append(entry); err != nil {
		return fmt.Errorf("append mutation trail: %w", err)
	}
	return nil
}

// lockRule serializes read-modify-write sequences per rule id.
func (c *Controller) lockRule(ruleID string) func() {
	c.mu.Lock()
	lock, ok := c.locks[ruleID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[ruleID] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func tunableNames(params map[string]model.Parameter) []string {
	names := make([]string, 0, len(params))
	for name, param := range params {
		if param.Max > param.Min {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
