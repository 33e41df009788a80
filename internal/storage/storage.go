package storage

import (
	"context"

	"github.com/proxtag/proxtag/internal/domain"
)

// Storage defines the interface for the persistence layer.
// Implementations must be safe for concurrent use; all writes are
// serialized by the implementation.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// Rules
	CreateRule(ctx context.Context, rule *domain.Rule) error
	GetRule(ctx context.Context, id string) (*domain.Rule, error)
	GetRuleByName(ctx context.Context, name string) (*domain.Rule, error)
	ListRules(ctx context.Context) ([]*domain.Rule, error)
	UpdateRule(ctx context.Context, rule *domain.Rule) error
	DeleteRule(ctx context.Context, id string) error

	// UpdateRuleStats folds one live execution into the rule's aggregate
	// counters and last-run timestamp. Dry runs never call it.
	UpdateRuleStats(ctx context.Context, ruleID string, result *domain.ExecutionResult) error

	// Execution history ledger. Records are append-only; ListExecutions
	// returns most-recent-first, optionally filtered by rule id, and
	// deleting a rule does not purge its records.
	AppendExecution(ctx context.Context, record *domain.ExecutionRecord) error
	ListExecutions(ctx context.Context, ruleID string, limit int) ([]*domain.ExecutionRecord, error)
}
