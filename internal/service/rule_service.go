// Package service wires the rule store, the scheduler and the engine
// behind one orchestration surface for the API layer.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/proxtag/proxtag/internal/domain"
	"github.com/proxtag/proxtag/internal/scheduler"
	"github.com/proxtag/proxtag/internal/storage"
	"github.com/proxtag/proxtag/internal/validation"
)

const exportVersion = "1.0"

// RuleService owns rule lifecycle operations. Every write invalidates the
// scheduler's cached view.
type RuleService struct {
	store storage.Storage
	sched *scheduler.Scheduler
}

// New creates a RuleService.
func New(store storage.Storage, sched *scheduler.Scheduler) *RuleService {
	return &RuleService{store: store, sched: sched}
}

// Create validates and persists a new rule.
func (s *RuleService) Create(ctx context.Context, req *domain.CreateRuleRequest) (*domain.Rule, error) {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now().UTC()
	rule := &domain.Rule{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Enabled:     enabled,
		Conditions:  req.Conditions,
		Actions:     req.Actions,
		Schedule:    req.Schedule,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if errs := validation.ValidateRule(rule); errs.HasErrors() {
		return nil, errs
	}
	if err := s.store.CreateRule(ctx, rule); err != nil {
		return nil, err
	}

	s.reloadScheduler(ctx)
	log.Printf("service: created rule %q (%s)", rule.Name, rule.ID)
	return s.withNextRun(rule), nil
}

// Update applies a partial update; conditions, actions and schedule are
// full replacements when present. Stats and last_run are preserved.
func (s *RuleService) Update(ctx context.Context, id string, req *domain.UpdateRuleRequest) (*domain.Rule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.Conditions != nil {
		rule.Conditions = req.Conditions
	}
	if req.Actions != nil {
		rule.Actions = *req.Actions
	}
	if req.Schedule != nil {
		rule.Schedule = *req.Schedule
	}

	if errs := validation.ValidateRule(rule); errs.HasErrors() {
		return nil, errs
	}
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return nil, err
	}

	s.reloadScheduler(ctx)
	log.Printf("service: updated rule %q (%s)", rule.Name, rule.ID)
	return s.withNextRun(rule), nil
}

// Delete removes a rule and cancels its future scheduling. History records
// for the rule are intentionally kept.
func (s *RuleService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.reloadScheduler(ctx)
	log.Printf("service: deleted rule %s", id)
	return nil
}

// Get returns one rule with its computed next-run time.
func (s *RuleService) Get(ctx context.Context, id string) (*domain.Rule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.withNextRun(rule), nil
}

// List returns all rules with computed next-run times.
func (s *RuleService) List(ctx context.Context) ([]*domain.Rule, error) {
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	for i, rule := range rules {
		rules[i] = s.withNextRun(rule)
	}
	return rules, nil
}

// Run executes a rule immediately, live or as a dry run, through the
// scheduler's per-rule exclusivity guard.
func (s *RuleService) Run(ctx context.Context, id string, dryRun bool) (*domain.ExecutionResult, error) {
	return s.sched.RunNow(ctx, id, dryRun)
}

// History returns execution records, newest first, optionally filtered by
// rule id.
func (s *RuleService) History(ctx context.Context, ruleID string, limit int) ([]*domain.ExecutionRecord, error) {
	return s.store.ListExecutions(ctx, ruleID, limit)
}

// Export serializes all rules (including disabled ones) to the portable
// document format. Execution stats and run timestamps are not exported.
func (s *RuleService) Export(ctx context.Context) (*domain.ExportDocument, error) {
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, err
	}

	doc := &domain.ExportDocument{
		ExportInfo: domain.ExportInfo{
			Timestamp: time.Now().UTC(),
			Version:   exportVersion,
			RuleCount: len(rules),
		},
		Rules: make([]*domain.ExportedRule, 0, len(rules)),
	}
	for _, rule := range rules {
		doc.Rules = append(doc.Rules, &domain.ExportedRule{
			Name:        rule.Name,
			Description: rule.Description,
			Enabled:     rule.Enabled,
			Conditions:  rule.Conditions,
			Actions:     rule.Actions,
			Schedule:    rule.Schedule,
		})
	}
	return doc, nil
}

// Import inserts the rules of an exported document. Each rule is validated
// on its own; rules whose names already exist are skipped and failures are
// reported per rule without aborting the batch. Imported rules get fresh
// ids.
func (s *RuleService) Import(ctx context.Context, data []byte) (*domain.ImportResult, error) {
	var doc domain.ExportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid rule document: %v", domain.ErrInvalidInput, err)
	}
	if doc.Rules == nil {
		return nil, fmt.Errorf("%w: document has no rules", domain.ErrInvalidInput)
	}

	result := &domain.ImportResult{Failures: []string{}}
	now := time.Now().UTC()

	for _, imported := range doc.Rules {
		if _, err := s.store.GetRuleByName(ctx, imported.Name); err == nil {
			result.Skipped++
			result.Failures = append(result.Failures, fmt.Sprintf("rule %q already exists (skipped)", imported.Name))
			continue
		}

		rule := &domain.Rule{
			ID:          uuid.New().String(),
			Name:        imported.Name,
			Description: imported.Description,
			Enabled:     imported.Enabled,
			Conditions:  imported.Conditions,
			Actions:     imported.Actions,
			Schedule:    imported.Schedule,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if errs := validation.ValidateRule(rule); errs.HasErrors() {
			result.Failed++
			result.Failures = append(result.Failures, fmt.Sprintf("rule %q: %v", imported.Name, errs))
			continue
		}
		if err := s.store.CreateRule(ctx, rule); err != nil {
			result.Failed++
			result.Failures = append(result.Failures, fmt.Sprintf("rule %q: %v", imported.Name, err))
			continue
		}
		result.Imported++
	}

	if result.Imported > 0 {
		s.reloadScheduler(ctx)
	}
	log.Printf("service: import finished: %d imported, %d skipped, %d failed",
		result.Imported, result.Skipped, result.Failed)
	return result, nil
}

// withNextRun decorates the rule with the scheduler's computed next fire
// time, when one is scheduled.
func (s *RuleService) withNextRun(rule *domain.Rule) *domain.Rule {
	if s.sched == nil {
		return rule
	}
	if next, ok := s.sched.NextRun(rule.ID); ok {
		rule.NextRun = &next
	}
	return rule
}

func (s *RuleService) reloadScheduler(ctx context.Context) {
	if s.sched == nil {
		return
	}
	if err := s.sched.Reload(ctx); err != nil {
		log.Printf("service: scheduler reload failed: %v", err)
	}
}
