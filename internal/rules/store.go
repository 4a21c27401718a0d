package rules

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"retrosim/internal/model"
)

var (
	ErrRuleNotFound         = errors.New("rule not found")
	ErrParameterOutOfBounds = errors.New("parameter out of bounds")
	ErrRegistryLoad         = errors.New("rule registry load failed")
)

// Source supplies the rule population at load time. Format and storage
// location are the source's concern.
type Source interface {
	LoadAll() ([]model.RuleRecord, error)
}

// Store owns the rule population. Reads return value copies; every write is
// an atomic whole-record replace so concurrent readers never observe a
// partially updated rule. Rules are never deleted, only disabled.
type Store struct {
	mu    sync.RWMutex
	rules map[string]model.RuleRecord
}

// NewStore returns an empty, unloaded store.
func NewStore() *Store {
	return &Store{rules: make(map[string]model.RuleRecord)}
}

// Load replaces the population from the source. A source yielding zero rules
// fails closed: the store cannot advance turns with an empty population.
func (s *Store) Load(source Source) error {
	if source == nil {
		return fmt.Errorf("%w: source is required", ErrRegistryLoad)
	}
	records, err := source.LoadAll()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryLoad, err)
	}
	if len(records) == 0 {
		return fmt.Errorf("%w: source yielded no rules", ErrRegistryLoad)
	}

	loaded := make(map[string]model.RuleRecord, len(records))
	for _, record := range records {
		if record.ID == "" {
			return fmt.Errorf("%w: rule with empty id", ErrRegistryLoad)
		}
		if _, exists := loaded[record.ID]; exists {
			return fmt.Errorf("%w: duplicate rule id %s", ErrRegistryLoad, record.ID)
		}
		loaded[record.ID] = cloneRule(record)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = loaded
	return nil
}

// Get returns a copy of one rule.
func (s *Store) Get(id string) (model.RuleRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	if !ok {
		return model.RuleRecord{}, false
	}
	return cloneRule(rule), true
}

// All returns copies of every rule sorted by id.
func (s *Store) All() []model.RuleRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RuleRecord, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, cloneRule(rule))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByDomain returns copies of every rule in one domain sorted by id.
func (s *Store) ByDomain(domain string) []model.RuleRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RuleRecord, 0)
	for _, rule := range s.rules {
		if rule.Domain == domain {
			out = append(out, cloneRule(rule))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Domains returns the distinct domain labels in sorted order.
func (s *Store) Domains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]struct{}{}
	for _, rule := range s.rules {
		seen[rule.Domain] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for domain := range seen {
		out = append(out, domain)
	}
	sort.Strings(out)
	return out
}

// Len reports the population size.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// SetEnabled flips one rule's enabled flag; reports whether the rule exists.
func (s *Store) SetEnabled(id string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok {
		return false
	}
	rule.Enabled = enabled
	s.rules[id] = rule
	return true
}

// UpdateParameters applies a batch of parameter value updates atomically.
// Every value is validated against its declared bounds first; one
// out-of-range value rejects the whole call and leaves the rule untouched.
func (s *Store) UpdateParameters(id string, values map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	for name, value := range values {
		param, declared := rule.Parameters[name]
		if !declared {
			return fmt.Errorf("%w: rule %s has no parameter %s", ErrParameterOutOfBounds, id, name)
		}
		if value < param.Min || value > param.Max {
			return fmt.Errorf("%w: rule %s parameter %s value %v outside [%v, %v]",
				ErrParameterOutOfBounds, id, name, value, param.Min, param.Max)
		}
	}

	updated := cloneRule(rule)
	for name, value := range values {
		param := updated.Parameters[name]
		param.Value = value
		updated.Parameters[name] = param
	}
	s.rules[id] = updated
	return nil
}

// UpdateTrust replaces one rule's trust score, clamped to [0,1].
func (s *Store) UpdateTrust(id string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	rule.TrustScore = score
	s.rules[id] = rule
	return nil
}

func cloneRule(rule model.RuleRecord) model.RuleRecord {
	out := rule
	if rule.Parameters != nil {
		out.Parameters = make(map[string]model.Parameter, len(rule.Parameters))
		for name, param := range rule.Parameters {
			out.Parameters[name] = param
		}
	}
	if rule.Effects != nil {
		out.Effects = make([]model.Effect, len(rule.Effects))
		copy(out.Effects, rule.Effects)
	}
	out.Condition = clonePredicate(rule.Condition)
	return out
}

func clonePredicate(p model.Predicate) model.Predicate {
	out := p
	if len(p.Children) > 0 {
		out.Children = make([]model.Predicate, len(p.Children))
		for i, child := range p.Children {
			out.Children[i] = clonePredicate(child)
		}
	}
	return out
}
