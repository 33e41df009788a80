package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/proxtag/proxtag/internal/domain"
	"github.com/proxtag/proxtag/internal/engine"
	"github.com/proxtag/proxtag/internal/proxmox"
	"github.com/proxtag/proxtag/internal/scheduler"
	"github.com/proxtag/proxtag/internal/service"
	"github.com/proxtag/proxtag/internal/storage/memory"
	"github.com/proxtag/proxtag/internal/validation"
)

func newTestService(t *testing.T) (*service.RuleService, *memory.Store) {
	t.Helper()
	store := memory.New()
	shim := proxmox.NewFileShim(t.TempDir() + "/inventory.json")
	sched := scheduler.New(store, engine.New(store, shim), time.Minute)
	return service.New(store, sched), store
}

func createReq(name string) *domain.CreateRuleRequest {
	return &domain.CreateRuleRequest{
		Name: name,
		Conditions: &domain.ConditionNode{
			Field: "type", Operator: domain.OpEquals, Value: "lxc",
		},
		Actions:  domain.ActionSet{AddTags: []string{"web"}},
		Schedule: domain.Schedule{Enabled: true, Cron: "0 * * * *"},
	}
}

func TestCreate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rule, err := svc.Create(ctx, createReq("my rule"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if rule.ID == "" {
		t.Error("Expected a generated id")
	}
	if !rule.Enabled {
		t.Error("Rules should default to enabled")
	}
	if rule.CreatedAt.IsZero() || rule.UpdatedAt.IsZero() {
		t.Error("Expected timestamps to be set")
	}
	if rule.NextRun == nil {
		t.Error("Expected NextRun for a scheduled rule")
	}

	// Duplicate name.
	if _, err := svc.Create(ctx, createReq("my rule")); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}

	// Invalid rule.
	bad := createReq("bad rule")
	bad.Conditions = nil
	_, err = svc.Create(ctx, bad)
	var errs validation.ValidationErrors
	if !errors.As(err, &errs) {
		t.Errorf("Expected validation errors, got %v", err)
	}
}

func TestUpdatePreservesStats(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	rule, err := svc.Create(ctx, createReq("my rule"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Simulate a past live run.
	result := domain.NewExecutionResult(rule.ID, rule.Name, false)
	result.MatchedVMs = []int{101}
	if err := store.UpdateRuleStats(ctx, rule.ID, result); err != nil {
		t.Fatalf("UpdateRuleStats failed: %v", err)
	}

	newName := "renamed"
	updated, err := svc.Update(ctx, rule.ID, &domain.UpdateRuleRequest{Name: &newName})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if updated.Name != "renamed" {
		t.Errorf("Name = %q", updated.Name)
	}
	if updated.Stats.TotalMatches != 1 {
		t.Errorf("Stats lost on update: %+v", updated.Stats)
	}
	if updated.LastRun == nil {
		t.Error("LastRun lost on update")
	}

	// Unknown rule.
	if _, err := svc.Update(ctx, "missing", &domain.UpdateRuleRequest{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeleteKeepsHistory(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	rule, _ := svc.Create(ctx, createReq("my rule"))
	_ = store.AppendExecution(ctx, &domain.ExecutionRecord{
		ID: "e1", RuleID: rule.ID, Timestamp: time.Now().UTC(),
	})

	if err := svc.Delete(ctx, rule.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := svc.Get(ctx, rule.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	records, err := svc.History(ctx, rule.ID, 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("History lost on delete: %d records", len(records))
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, _ := svc.Create(ctx, createReq("first"))
	second := createReq("second")
	second.Schedule = domain.Schedule{}
	disabled := false
	second.Enabled = &disabled
	if _, err := svc.Create(ctx, second); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	doc, err := svc.Export(ctx)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if doc.ExportInfo.RuleCount != 2 || len(doc.Rules) != 2 {
		t.Fatalf("Exported %d rules, want 2", len(doc.Rules))
	}
	// Stats and ids never leave through export.
	data, _ := json.Marshal(doc)
	if string(data) == "" {
		t.Fatal("Marshal produced no output")
	}
	var raw map[string]any
	_ = json.Unmarshal(data, &raw)
	firstExported := raw["rules"].([]any)[0].(map[string]any)
	if _, ok := firstExported["id"]; ok {
		t.Error("Export leaked rule ids")
	}
	if _, ok := firstExported["stats"]; ok {
		t.Error("Export leaked rule stats")
	}

	// Import into a fresh service.
	target, _ := newTestService(t)
	result, err := target.Import(ctx, data)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Imported != 2 || result.Skipped != 0 || result.Failed != 0 {
		t.Fatalf("Import result = %+v", result)
	}

	imported, err := target.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(imported) != 2 {
		t.Fatalf("Expected 2 imported rules, got %d", len(imported))
	}
	for _, rule := range imported {
		if rule.ID == first.ID {
			t.Error("Import reused an exported id")
		}
		if rule.Stats.TotalMatches != 0 {
			t.Error("Imported rule carried stats")
		}
	}

	// Importing again skips every duplicate name.
	again, err := target.Import(ctx, data)
	if err != nil {
		t.Fatalf("second Import failed: %v", err)
	}
	if again.Imported != 0 || again.Skipped != 2 {
		t.Errorf("Second import result = %+v, want all skipped", again)
	}
}

func TestImportPartialFailure(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	doc := domain.ExportDocument{
		ExportInfo: domain.ExportInfo{Version: "1.0", RuleCount: 2},
		Rules: []*domain.ExportedRule{
			{
				Name: "good",
				Conditions: &domain.ConditionNode{
					Field: "type", Operator: domain.OpEquals, Value: "lxc",
				},
				Actions: domain.ActionSet{AddTags: []string{"web"}},
			},
			{
				Name:    "no conditions",
				Actions: domain.ActionSet{AddTags: []string{"web"}},
			},
		},
	}
	data, _ := json.Marshal(doc)

	result, err := svc.Import(ctx, data)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Imported != 1 || result.Failed != 1 {
		t.Errorf("Import result = %+v, want 1 imported, 1 failed", result)
	}
	if len(result.Failures) != 1 {
		t.Errorf("Failures = %v", result.Failures)
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Import(ctx, []byte("not json")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Import(ctx, []byte(`{"export_info":{}}`)); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for missing rules, got %v", err)
	}
}
