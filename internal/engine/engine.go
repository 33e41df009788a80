// Package engine evaluates conditional tagging rules against live
// inventory: condition matching, tag-delta resolution and the run
// orchestration around them.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/proxtag/proxtag/internal/catalog"
	"github.com/proxtag/proxtag/internal/domain"
	"github.com/proxtag/proxtag/internal/metrics"
	"github.com/proxtag/proxtag/internal/proxmox"
	"github.com/proxtag/proxtag/internal/storage"
	"github.com/proxtag/proxtag/internal/validation"
)

// Engine runs rules: it fetches an inventory snapshot, evaluates the
// condition tree per object, resolves tag deltas and (for live runs)
// applies them through the inventory collaborator.
type Engine struct {
	store     storage.Storage
	inventory proxmox.InventoryClient
	evaluator *Evaluator
}

// New creates an Engine.
func New(store storage.Storage, inventory proxmox.InventoryClient) *Engine {
	return &Engine{
		store:     store,
		inventory: inventory,
		evaluator: NewEvaluator(),
	}
}

// Run executes one rule. Dry runs evaluate and report without touching
// external tags or rule statistics; both modes append exactly one history
// record. Per-object mutation failures are collected in the result and do
// not abort processing of the remaining objects.
func (e *Engine) Run(ctx context.Context, rule *domain.Rule, dryRun bool) (*domain.ExecutionResult, error) {
	if errs := validation.ValidateRule(rule); errs.HasErrors() {
		return nil, errs
	}

	start := time.Now()
	result := domain.NewExecutionResult(rule.ID, rule.Name, dryRun)

	objects, err := e.inventory.ListManagedObjects(ctx, catalog.EnrichmentPrefixes(rule.Conditions))
	if err != nil {
		// The run completes with zero matches; the failure is part of the
		// report, and retrying is the operator's call.
		result.Success = false
		result.Errors = append(result.Errors, fmt.Sprintf("inventory unavailable: %v", err))
		objects = nil
	}

	for _, obj := range objects {
		matched := e.evaluator.Evaluate(rule.Conditions, obj)
		if matched {
			result.MatchedVMs = append(result.MatchedVMs, obj.VMID)
		} else if !rule.Actions.HasElse() {
			continue
		}

		current := obj.CurrentTags()
		delta := Resolve(rule.Actions, matched, current)

		if len(delta.AlreadyPresent) > 0 {
			result.TagsAlreadyPresent[obj.VMID] = delta.AlreadyPresent
		}
		if delta.Empty() {
			continue
		}

		if !dryRun {
			if err := e.inventory.SetTags(ctx, obj.Node, obj.VMID, obj.Type, delta.Apply(current)); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("failed to update VM %d: %v", obj.VMID, err))
				continue
			}
		}
		if len(delta.Add) > 0 {
			result.TagsAdded[obj.VMID] = delta.Add
		}
		if len(delta.Remove) > 0 {
			result.TagsRemoved[obj.VMID] = delta.Remove
		}
	}

	if len(result.Errors) > 0 {
		result.Success = false
	}
	result.ExecutionSeconds = time.Since(start).Seconds()

	record := &domain.ExecutionRecord{
		ID:        uuid.New().String(),
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Timestamp: result.Timestamp,
		DryRun:    dryRun,
		Result:    result,
	}
	if err := e.store.AppendExecution(ctx, record); err != nil {
		log.Printf("engine: failed to append execution record for rule %s: %v", rule.ID, err)
		result.Errors = append(result.Errors, fmt.Sprintf("failed to record execution: %v", err))
	}

	if !dryRun {
		if err := e.store.UpdateRuleStats(ctx, rule.ID, result); err != nil {
			log.Printf("engine: failed to update stats for rule %s: %v", rule.ID, err)
		}
	}

	e.observe(rule, result, dryRun)
	log.Printf("engine: rule %q evaluated: %d matched, %d tags added, %d removed (dry_run=%v)",
		rule.Name, len(result.MatchedVMs), result.TotalTagsAdded(), result.TotalTagsRemoved(), dryRun)

	return result, nil
}

func (e *Engine) observe(rule *domain.Rule, result *domain.ExecutionResult, dryRun bool) {
	mode := "live"
	if dryRun {
		mode = "dry_run"
	}
	status := "success"
	if len(result.Errors) > 0 {
		status = "error"
	}
	metrics.RuleRuns.WithLabelValues(mode, status).Inc()
	metrics.ObjectsMatched.WithLabelValues(rule.ID).Add(float64(len(result.MatchedVMs)))
	metrics.RunDuration.Observe(result.ExecutionSeconds)
	if !dryRun {
		metrics.TagsApplied.WithLabelValues("added").Add(float64(result.TotalTagsAdded()))
		metrics.TagsApplied.WithLabelValues("removed").Add(float64(result.TotalTagsRemoved()))
	}
}
