// Package scheduler triggers enabled rules on their cron schedules and
// funnels manual runs through the same per-rule exclusivity guard. A single
// scheduler instance per process is assumed; there is no leader election.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/proxtag/proxtag/internal/cron"
	"github.com/proxtag/proxtag/internal/domain"
	"github.com/proxtag/proxtag/internal/engine"
	"github.com/proxtag/proxtag/internal/metrics"
	"github.com/proxtag/proxtag/internal/storage"
)

// DefaultTickInterval is how often the tick loop polls for due rules.
const DefaultTickInterval = time.Minute

// entry is the scheduler's cached view of one enabled, scheduled rule.
type entry struct {
	ruleID   string
	ruleName string
	schedule *cron.Schedule
	nextRun  time.Time
}

// Scheduler owns the background tick loop and the per-rule in-flight guard.
type Scheduler struct {
	store        storage.Storage
	engine       *engine.Engine
	tickInterval time.Duration
	now          func() time.Time

	mu       sync.Mutex
	entries  map[string]*entry
	inFlight map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. It does not start the tick loop.
func New(store storage.Storage, eng *engine.Engine, tickInterval time.Duration) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:        store,
		engine:       eng,
		tickInterval: tickInterval,
		now:          time.Now,
		entries:      make(map[string]*entry),
		inFlight:     make(map[string]bool),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start loads schedules from the store and starts the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.run()
	log.Printf("scheduler: started (tick interval %s)", s.tickInterval)
	return nil
}

// Stop stops the tick loop and waits for in-progress runs.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	log.Println("scheduler: stopped")
}

// Reload rebuilds the cached schedule view from the store. The service
// calls it after every rule write; next-run times are recomputed from the
// cron expressions relative to now.
func (s *Scheduler) Reload(ctx context.Context) error {
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	entries := make(map[string]*entry)
	for _, rule := range rules {
		if !rule.Enabled || !rule.Schedule.Enabled || rule.Schedule.Cron == "" {
			continue
		}
		schedule, err := cron.Parse(rule.Schedule.Cron)
		if err != nil {
			// Saved rules are validated; only a hand-edited store gets here.
			log.Printf("scheduler: skipping rule %q: invalid cron %q: %v", rule.Name, rule.Schedule.Cron, err)
			continue
		}
		entries[rule.ID] = &entry{
			ruleID:   rule.ID,
			ruleName: rule.Name,
			schedule: schedule,
			nextRun:  schedule.Next(now),
		}
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	log.Printf("scheduler: %d rule(s) scheduled", len(entries))
	return nil
}

// NextRun returns the computed next fire time for a rule, if scheduled.
func (s *Scheduler) NextRun(ruleID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[ruleID]
	if !ok {
		return time.Time{}, false
	}
	return e.nextRun, true
}

// RunNow executes a rule outside its schedule (operator "Run Now"/"Test").
// It holds the same per-rule guard as scheduled ticks, so a manual run and
// a scheduled run of one rule can never overlap.
func (s *Scheduler) RunNow(ctx context.Context, ruleID string, dryRun bool) (*domain.ExecutionResult, error) {
	rule, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if !s.acquire(ruleID) {
		return nil, domain.ErrRunInProgress
	}
	defer s.release(ruleID)

	return s.engine.Run(ctx, rule, dryRun)
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick(s.now())
		}
	}
}

// tick fires every entry whose next run is due. Exported behavior is tested
// through this method directly with a synthetic clock.
func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if !e.nextRun.IsZero() && !now.Before(e.nextRun) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	// Due rules run sequentially on the tick goroutine. One slow rule can
	// delay another's start, but runs are bounded and a single in-order
	// loop is far easier to reason about than a pool.
	for _, e := range due {
		if !s.acquire(e.ruleID) {
			// A manual run is still going; skip this tick rather than queue.
			metrics.TicksSkipped.Inc()
			log.Printf("scheduler: rule %q still running, tick skipped", e.ruleName)
			s.reschedule(e)
			continue
		}
		s.execute(e)
		s.release(e.ruleID)
	}
}

func (s *Scheduler) execute(e *entry) {
	// Re-read the rule: it may have been edited or disabled since the
	// schedule view was built.
	rule, err := s.store.GetRule(s.ctx, e.ruleID)
	if err != nil {
		log.Printf("scheduler: rule %s vanished: %v", e.ruleID, err)
		s.drop(e.ruleID)
		return
	}
	if !rule.Enabled || !rule.Schedule.Enabled {
		s.drop(e.ruleID)
		return
	}

	if _, err := s.engine.Run(s.ctx, rule, false); err != nil {
		log.Printf("scheduler: rule %q run failed: %v", rule.Name, err)
	}
	s.reschedule(e)
}

// reschedule computes the next fire time strictly after now, so a run that
// outlasts its schedule granularity never re-fires immediately.
func (s *Scheduler) reschedule(e *entry) {
	next := e.schedule.Next(s.now())

	s.mu.Lock()
	if cur, ok := s.entries[e.ruleID]; ok && cur.schedule == e.schedule {
		cur.nextRun = next
	}
	s.mu.Unlock()
}

func (s *Scheduler) drop(ruleID string) {
	s.mu.Lock()
	delete(s.entries, ruleID)
	s.mu.Unlock()
}

func (s *Scheduler) acquire(ruleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight[ruleID] {
		return false
	}
	s.inFlight[ruleID] = true
	return true
}

func (s *Scheduler) release(ruleID string) {
	s.mu.Lock()
	delete(s.inFlight, ruleID)
	s.mu.Unlock()
}
