package storage

import (
	"context"
	"sort"
	"sync"

	"retrosim/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	rules       map[string]model.RuleRecord
	forecasts   map[string][]model.ForecastRecord
	trust       map[string][]model.TrustEntry
	audit       []model.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.rules = make(map[string]model.RuleRecord)
	s.forecasts = make(map[string][]model.ForecastRecord)
	s.trust = make(map[string][]model.TrustEntry)
	s.audit = nil
	return nil
}

func (s *MemoryStore) SaveRule(_ context.Context, rule model.RuleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules[rule.ID] = rule
	return nil
}

func (s *MemoryStore) GetRule(_ context.Context, id string) (model.RuleRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	return rule, ok, nil
}

func (s *MemoryStore) ListRules(_ context.Context) ([]model.RuleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]model.RuleRecord, 0, len(s.rules))
	for _, rule := range s.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

func (s *MemoryStore) SaveForecast(_ context.Context, record model.ForecastRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.forecasts[record.TraceID]
	for i, existing := range records {
		if existing.EndTurn == record.EndTurn {
			records[i] = record
			return nil
		}
	}
	s.forecasts[record.TraceID] = append(records, record)
	return nil
}

func (s *MemoryStore) GetForecasts(_ context.Context, traceID string) ([]model.ForecastRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.forecasts[traceID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.ForecastRecord, len(records))
	copy(copied, records)
	sort.Slice(copied, func(i, j int) bool { return copied[i].EndTurn < copied[j].EndTurn })
	return copied, true, nil
}

func (s *MemoryStore) SaveTrustHistory(_ context.Context, id string, history []model.TrustEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.TrustEntry, len(history))
	copy(copied, history)
	s.trust[id] = copied
	return nil
}

func (s *MemoryStore) GetTrustHistory(_ context.Context, id string) ([]model.TrustEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.trust[id]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.TrustEntry, len(history))
	copy(copied, history)
	return copied, true, nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, entry model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, entry)
	return nil
}

func (s *MemoryStore) ListAudit(_ context.Context, limit int) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.audit
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	copied := make([]model.AuditEntry, len(entries))
	copy(copied, entries)
	return copied, nil
}
