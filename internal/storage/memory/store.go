package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/proxtag/proxtag/internal/domain"
)

// Store is an in-memory implementation of the storage interface for testing.
type Store struct {
	mu sync.RWMutex

	rules      map[string]*domain.Rule
	executions []*domain.ExecutionRecord
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		rules: make(map[string]*domain.Rule),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateRule(ctx context.Context, rule *domain.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[rule.ID]; ok {
		return domain.ErrAlreadyExists
	}
	for _, existing := range s.rules {
		if existing.Name == rule.Name {
			return domain.ErrAlreadyExists
		}
	}
	s.rules[rule.ID] = copyRule(rule)
	return nil
}

func (s *Store) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyRule(rule), nil
}

func (s *Store) GetRuleByName(ctx context.Context, name string) (*domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rule := range s.rules {
		if rule.Name == name {
			return copyRule(rule), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]*domain.Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		rules = append(rules, copyRule(rule))
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules, nil
}

func (s *Store) UpdateRule(ctx context.Context, rule *domain.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[rule.ID]; !ok {
		return domain.ErrNotFound
	}
	for _, existing := range s.rules {
		if existing.Name == rule.Name && existing.ID != rule.ID {
			return domain.ErrAlreadyExists
		}
	}
	rule.UpdatedAt = time.Now().UTC()
	s.rules[rule.ID] = copyRule(rule)
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *Store) UpdateRuleStats(ctx context.Context, ruleID string, result *domain.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[ruleID]
	if !ok {
		return domain.ErrNotFound
	}
	ts := result.Timestamp
	rule.LastRun = &ts
	rule.Stats.TotalMatches += len(result.MatchedVMs)
	rule.Stats.TagsAdded += result.TotalTagsAdded()
	rule.Stats.TagsRemoved += result.TotalTagsRemoved()
	rule.Stats.LastExecutionSeconds = result.ExecutionSeconds
	return nil
}

func (s *Store) AppendExecution(ctx context.Context, record *domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.executions = append(s.executions, record)
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, ruleID string, limit int) ([]*domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*domain.ExecutionRecord
	for _, rec := range s.executions {
		if ruleID == "" || rec.RuleID == ruleID {
			records = append(records, rec)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// copyRule makes a shallow-safe copy so callers cannot mutate stored state.
// The condition tree is immutable once attached to a saved rule, so sharing
// it is fine.
func copyRule(r *domain.Rule) *domain.Rule {
	cp := *r
	if r.LastRun != nil {
		ts := *r.LastRun
		cp.LastRun = &ts
	}
	cp.Actions.AddTags = append([]string(nil), r.Actions.AddTags...)
	cp.Actions.RemoveTags = append([]string(nil), r.Actions.RemoveTags...)
	cp.Actions.ElseAddTags = append([]string(nil), r.Actions.ElseAddTags...)
	cp.Actions.ElseRemoveTags = append([]string(nil), r.Actions.ElseRemoveTags...)
	return &cp
}
