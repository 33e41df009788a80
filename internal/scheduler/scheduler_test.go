package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/proxtag/proxtag/internal/domain"
	"github.com/proxtag/proxtag/internal/engine"
	"github.com/proxtag/proxtag/internal/storage/memory"
)

func scheduledRule(id, name, cronExpr string, enabled bool) *domain.Rule {
	return &domain.Rule{
		ID:      id,
		Name:    name,
		Enabled: enabled,
		Conditions: &domain.ConditionNode{
			Field: "type", Operator: domain.OpEquals, Value: "lxc",
		},
		Actions:  domain.ActionSet{AddTags: []string{"scheduled"}},
		Schedule: domain.Schedule{Enabled: true, Cron: cronExpr},
	}
}

type staticInventory struct {
	objects  []*domain.ManagedObject
	setCalls int
}

func (f *staticInventory) ListManagedObjects(ctx context.Context, enrich []string) ([]*domain.ManagedObject, error) {
	return f.objects, nil
}

func (f *staticInventory) SetTags(ctx context.Context, node string, vmid int, vmType string, tags map[string]bool) error {
	f.setCalls++
	for _, obj := range f.objects {
		if obj.VMID == vmid {
			obj.Tags = domain.FormatTags(tags)
		}
	}
	return nil
}

func newTestScheduler(t *testing.T, store *memory.Store, inv *staticInventory, now time.Time) *Scheduler {
	t.Helper()
	s := New(store, engine.New(store, inv), time.Minute)
	s.now = func() time.Time { return now }
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	return s
}

func TestReloadSchedulesEnabledRulesOnly(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	_ = store.CreateRule(ctx, scheduledRule("r1", "hourly", "0 * * * *", true))
	_ = store.CreateRule(ctx, scheduledRule("r2", "disabled rule", "0 * * * *", false))

	noSchedule := scheduledRule("r3", "manual only", "", true)
	noSchedule.Schedule = domain.Schedule{}
	_ = store.CreateRule(ctx, noSchedule)

	now := time.Date(2026, 3, 10, 11, 30, 0, 0, time.UTC)
	s := newTestScheduler(t, store, &staticInventory{}, now)

	if _, ok := s.NextRun("r1"); !ok {
		t.Error("Expected r1 to be scheduled")
	}
	if _, ok := s.NextRun("r2"); ok {
		t.Error("Disabled rule r2 should not be scheduled")
	}
	if _, ok := s.NextRun("r3"); ok {
		t.Error("Unscheduled rule r3 should not be scheduled")
	}

	next, _ := s.NextRun("r1")
	want := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextRun = %v, want %v", next, want)
	}
}

func TestTickRunsDueRules(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	_ = store.CreateRule(ctx, scheduledRule("r1", "hourly", "0 * * * *", true))

	inv := &staticInventory{objects: []*domain.ManagedObject{
		{VMID: 101, Node: "pve1", Type: "lxc", Status: "running"},
	}}
	now := time.Date(2026, 3, 10, 11, 30, 0, 0, time.UTC)
	s := newTestScheduler(t, store, inv, now)

	// Not due yet.
	s.tick(now)
	if inv.setCalls != 0 {
		t.Fatalf("Rule ran before its schedule: %d calls", inv.setCalls)
	}

	// Advance the clock past the next run.
	now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.tick(now)

	if inv.setCalls != 1 {
		t.Fatalf("Expected 1 run, got %d", inv.setCalls)
	}

	// The next run was pushed strictly past now.
	next, ok := s.NextRun("r1")
	if !ok {
		t.Fatal("Rule lost its schedule after running")
	}
	want := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextRun = %v, want %v", next, want)
	}

	// The same tick time must not fire twice.
	s.tick(now)
	if inv.setCalls != 1 {
		t.Errorf("Rule re-fired in the same minute: %d calls", inv.setCalls)
	}

	// The run is recorded in history and stats.
	records, _ := store.ListExecutions(ctx, "r1", 0)
	if len(records) != 1 {
		t.Errorf("Expected 1 execution record, got %d", len(records))
	}
}

func TestTickSkipsRuleDisabledSinceReload(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	rule := scheduledRule("r1", "hourly", "0 * * * *", true)
	_ = store.CreateRule(ctx, rule)

	inv := &staticInventory{objects: []*domain.ManagedObject{
		{VMID: 101, Node: "pve1", Type: "lxc"},
	}}
	now := time.Date(2026, 3, 10, 11, 59, 0, 0, time.UTC)
	s := newTestScheduler(t, store, inv, now)

	// Disable the rule behind the scheduler's back.
	rule.Enabled = false
	_ = store.UpdateRule(ctx, rule)

	now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.tick(now)

	if inv.setCalls != 0 {
		t.Errorf("Disabled rule ran: %d calls", inv.setCalls)
	}
	if _, ok := s.NextRun("r1"); ok {
		t.Error("Disabled rule kept its schedule entry")
	}
}

func TestTickSkipsWhileRunInFlight(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	_ = store.CreateRule(ctx, scheduledRule("r1", "hourly", "0 * * * *", true))

	inv := &staticInventory{}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, store, inv, now)

	// Simulate a manual run holding the guard.
	if !s.acquire("r1") {
		t.Fatal("acquire failed")
	}
	s.tick(now)
	if inv.setCalls != 0 {
		t.Errorf("Tick ran while rule was in flight: %d calls", inv.setCalls)
	}

	// The skipped tick was rescheduled, not dropped.
	next, ok := s.NextRun("r1")
	if !ok {
		t.Fatal("Rule lost its schedule entry after skip")
	}
	if !next.After(now) {
		t.Errorf("NextRun = %v, want after %v", next, now)
	}
	s.release("r1")
}

func TestRunNow(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	rule := scheduledRule("r1", "manual", "0 * * * *", true)
	_ = store.CreateRule(ctx, rule)

	inv := &staticInventory{objects: []*domain.ManagedObject{
		{VMID: 101, Node: "pve1", Type: "lxc"},
	}}
	s := newTestScheduler(t, store, inv, time.Date(2026, 3, 10, 11, 30, 0, 0, time.UTC))

	result, err := s.RunNow(ctx, "r1", false)
	if err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	if len(result.MatchedVMs) != 1 {
		t.Errorf("MatchedVMs = %v, want [101]", result.MatchedVMs)
	}

	// Unknown rule.
	if _, err := s.RunNow(ctx, "missing", false); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	// Conflicting run.
	s.acquire("r1")
	if _, err := s.RunNow(ctx, "r1", false); !errors.Is(err, domain.ErrRunInProgress) {
		t.Errorf("Expected ErrRunInProgress, got %v", err)
	}
	s.release("r1")
}

func TestRunNowDryRun(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	_ = store.CreateRule(ctx, scheduledRule("r1", "manual", "0 * * * *", true))

	inv := &staticInventory{objects: []*domain.ManagedObject{
		{VMID: 101, Node: "pve1", Type: "lxc"},
	}}
	s := newTestScheduler(t, store, inv, time.Date(2026, 3, 10, 11, 30, 0, 0, time.UTC))

	result, err := s.RunNow(ctx, "r1", true)
	if err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	if !result.DryRun {
		t.Error("Result not marked as dry run")
	}
	if inv.setCalls != 0 {
		t.Errorf("Dry run touched inventory: %d calls", inv.setCalls)
	}
}
