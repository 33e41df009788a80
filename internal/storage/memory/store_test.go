package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/proxtag/proxtag/internal/domain"
)

func testRule(id, name string) *domain.Rule {
	now := time.Now().UTC()
	return &domain.Rule{
		ID:      id,
		Name:    name,
		Enabled: true,
		Conditions: &domain.ConditionNode{
			Field: "type", Operator: domain.OpEquals, Value: "lxc",
		},
		Actions:   domain.ActionSet{AddTags: []string{"web"}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRuleCRUD(t *testing.T) {
	store := New()
	ctx := context.Background()

	rule := testRule("r1", "first rule")
	if err := store.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	got, err := store.GetRule(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRule failed: %v", err)
	}
	if got.Name != "first rule" {
		t.Errorf("Name = %q", got.Name)
	}

	byName, err := store.GetRuleByName(ctx, "first rule")
	if err != nil || byName.ID != "r1" {
		t.Errorf("GetRuleByName = %v, %v", byName, err)
	}

	got.Name = "renamed"
	if err := store.UpdateRule(ctx, got); err != nil {
		t.Fatalf("UpdateRule failed: %v", err)
	}
	got, _ = store.GetRule(ctx, "r1")
	if got.Name != "renamed" {
		t.Errorf("Name after update = %q", got.Name)
	}

	if err := store.DeleteRule(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRule failed: %v", err)
	}
	if _, err := store.GetRule(ctx, "r1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestRuleNameUniqueness(t *testing.T) {
	store := New()
	ctx := context.Background()

	_ = store.CreateRule(ctx, testRule("r1", "dup"))
	if err := store.CreateRule(ctx, testRule("r2", "dup")); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}

	_ = store.CreateRule(ctx, testRule("r3", "other"))
	clash := testRule("r3", "dup")
	if err := store.UpdateRule(ctx, clash); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists on rename clash, got %v", err)
	}
}

func TestListRulesSorted(t *testing.T) {
	store := New()
	ctx := context.Background()
	_ = store.CreateRule(ctx, testRule("r1", "zebra"))
	_ = store.CreateRule(ctx, testRule("r2", "alpha"))

	rules, err := store.ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules failed: %v", err)
	}
	if len(rules) != 2 || rules[0].Name != "alpha" || rules[1].Name != "zebra" {
		t.Errorf("ListRules order = %v", []string{rules[0].Name, rules[1].Name})
	}
}

func TestCopyOnRead(t *testing.T) {
	store := New()
	ctx := context.Background()
	_ = store.CreateRule(ctx, testRule("r1", "rule"))

	got, _ := store.GetRule(ctx, "r1")
	got.Name = "mutated"
	got.Actions.AddTags[0] = "mutated"

	fresh, _ := store.GetRule(ctx, "r1")
	if fresh.Name != "rule" || fresh.Actions.AddTags[0] != "web" {
		t.Errorf("Stored rule was mutated through a read copy: %+v", fresh)
	}
}

func TestUpdateRuleStats(t *testing.T) {
	store := New()
	ctx := context.Background()
	_ = store.CreateRule(ctx, testRule("r1", "rule"))

	result := domain.NewExecutionResult("r1", "rule", false)
	result.MatchedVMs = []int{101, 102}
	result.TagsAdded = map[int][]string{101: {"web"}, 102: {"web", "prod"}}
	result.TagsRemoved = map[int][]string{101: {"old"}}
	result.ExecutionSeconds = 0.5

	if err := store.UpdateRuleStats(ctx, "r1", result); err != nil {
		t.Fatalf("UpdateRuleStats failed: %v", err)
	}
	if err := store.UpdateRuleStats(ctx, "r1", result); err != nil {
		t.Fatalf("second UpdateRuleStats failed: %v", err)
	}

	rule, _ := store.GetRule(ctx, "r1")
	if rule.Stats.TotalMatches != 4 {
		t.Errorf("TotalMatches = %d, want 4", rule.Stats.TotalMatches)
	}
	if rule.Stats.TagsAdded != 6 {
		t.Errorf("TagsAdded = %d, want 6", rule.Stats.TagsAdded)
	}
	if rule.Stats.TagsRemoved != 2 {
		t.Errorf("TagsRemoved = %d, want 2", rule.Stats.TagsRemoved)
	}
	if rule.Stats.LastExecutionSeconds != 0.5 {
		t.Errorf("LastExecutionSeconds = %v, want 0.5", rule.Stats.LastExecutionSeconds)
	}
	if rule.LastRun == nil || !rule.LastRun.Equal(result.Timestamp) {
		t.Errorf("LastRun = %v, want %v", rule.LastRun, result.Timestamp)
	}

	if err := store.UpdateRuleStats(ctx, "missing", result); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestExecutions(t *testing.T) {
	store := New()
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		ruleID := "r1"
		if i == 1 {
			ruleID = "r2"
		}
		_ = store.AppendExecution(ctx, &domain.ExecutionRecord{
			ID:        string(rune('a' + i)),
			RuleID:    ruleID,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	// All records, most recent first.
	all, err := store.ListExecutions(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Errorf("Unexpected order: %v", []string{all[0].ID, all[1].ID, all[2].ID})
	}

	// Filtered by rule.
	r1, _ := store.ListExecutions(ctx, "r1", 0)
	if len(r1) != 2 {
		t.Errorf("Expected 2 records for r1, got %d", len(r1))
	}

	// Limited.
	limited, _ := store.ListExecutions(ctx, "", 2)
	if len(limited) != 2 || limited[0].ID != "c" {
		t.Errorf("Limit not applied from the most recent end: %v", limited)
	}

	// History survives rule deletion (nothing to delete here, but the
	// store must not couple records to rule rows).
	_ = store.CreateRule(ctx, testRule("r1", "rule"))
	_ = store.DeleteRule(ctx, "r1")
	after, _ := store.ListExecutions(ctx, "r1", 0)
	if len(after) != 2 {
		t.Errorf("Execution records lost on rule delete: %d", len(after))
	}
}
