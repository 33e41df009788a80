package sql

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/proxtag/proxtag/internal/domain"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL
	if strings.Contains(errStr, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}

// wrapUniqueError converts UNIQUE violations to domain.ErrAlreadyExists.
func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
}

// New creates a new SQL store and runs pending migrations.
func New(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(driver); err != nil {
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ruleRow is the flat persisted form of a rule. The condition tree, the
// action set and the schedule are stored as JSON text.
type ruleRow struct {
	ID                   string     `db:"id"`
	Name                 string     `db:"name"`
	Description          string     `db:"description"`
	Enabled              bool       `db:"enabled"`
	ConditionsJSON       string     `db:"conditions_json"`
	ActionsJSON          string     `db:"actions_json"`
	ScheduleJSON         string     `db:"schedule_json"`
	CreatedAt            time.Time  `db:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"`
	LastRun              *time.Time `db:"last_run"`
	TotalMatches         int        `db:"total_matches"`
	TagsAdded            int        `db:"tags_added"`
	TagsRemoved          int        `db:"tags_removed"`
	LastExecutionSeconds float64    `db:"last_execution_seconds"`
}

const ruleColumns = `id, name, description, enabled, conditions_json, actions_json, schedule_json,
	 created_at, updated_at, last_run, total_matches, tags_added, tags_removed, last_execution_seconds`

func toRuleRow(rule *domain.Rule) (*ruleRow, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return nil, fmt.Errorf("encoding conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return nil, fmt.Errorf("encoding actions: %w", err)
	}
	schedule, err := json.Marshal(rule.Schedule)
	if err != nil {
		return nil, fmt.Errorf("encoding schedule: %w", err)
	}
	return &ruleRow{
		ID:                   rule.ID,
		Name:                 rule.Name,
		Description:          rule.Description,
		Enabled:              rule.Enabled,
		ConditionsJSON:       string(conditions),
		ActionsJSON:          string(actions),
		ScheduleJSON:         string(schedule),
		CreatedAt:            rule.CreatedAt,
		UpdatedAt:            rule.UpdatedAt,
		LastRun:              rule.LastRun,
		TotalMatches:         rule.Stats.TotalMatches,
		TagsAdded:            rule.Stats.TagsAdded,
		TagsRemoved:          rule.Stats.TagsRemoved,
		LastExecutionSeconds: rule.Stats.LastExecutionSeconds,
	}, nil
}

func (r *ruleRow) toRule() (*domain.Rule, error) {
	rule := &domain.Rule{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Enabled:     r.Enabled,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		LastRun:     r.LastRun,
		Stats: domain.RuleStats{
			TotalMatches:         r.TotalMatches,
			TagsAdded:            r.TagsAdded,
			TagsRemoved:          r.TagsRemoved,
			LastExecutionSeconds: r.LastExecutionSeconds,
		},
	}
	if err := json.Unmarshal([]byte(r.ConditionsJSON), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("decoding conditions for rule %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.ActionsJSON), &rule.Actions); err != nil {
		return nil, fmt.Errorf("decoding actions for rule %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.ScheduleJSON), &rule.Schedule); err != nil {
		return nil, fmt.Errorf("decoding schedule for rule %s: %w", r.ID, err)
	}
	return rule, nil
}

// CreateRule inserts a new rule. Names are unique.
func (s *Store) CreateRule(ctx context.Context, rule *domain.Rule) error {
	row, err := toRuleRow(rule)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rules (`+ruleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		row.ID, row.Name, row.Description, row.Enabled,
		row.ConditionsJSON, row.ActionsJSON, row.ScheduleJSON,
		row.CreatedAt, row.UpdatedAt, row.LastRun,
		row.TotalMatches, row.TagsAdded, row.TagsRemoved, row.LastExecutionSeconds)
	return wrapUniqueError(err)
}

// GetRule returns a rule by id.
func (s *Store) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	var row ruleRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toRule()
}

// GetRuleByName returns a rule by its unique name.
func (s *Store) GetRuleByName(ctx context.Context, name string) (*domain.Rule, error) {
	var row ruleRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+ruleColumns+` FROM rules WHERE name = $1`, name)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toRule()
}

// ListRules returns all rules ordered by name.
func (s *Store) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	var rows []*ruleRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+ruleColumns+` FROM rules ORDER BY name`)
	if err != nil {
		return nil, err
	}
	rules := make([]*domain.Rule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.toRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// UpdateRule replaces the mutable fields of a rule. Stats and last_run are
// owned by UpdateRuleStats and are not touched here.
func (s *Store) UpdateRule(ctx context.Context, rule *domain.Rule) error {
	row, err := toRuleRow(rule)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE rules SET name = $1, description = $2, enabled = $3,
		 conditions_json = $4, actions_json = $5, schedule_json = $6, updated_at = $7
		 WHERE id = $8`,
		row.Name, row.Description, row.Enabled,
		row.ConditionsJSON, row.ActionsJSON, row.ScheduleJSON, row.UpdatedAt, row.ID)
	if err != nil {
		return wrapUniqueError(err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteRule removes a rule. Execution records are kept.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateRuleStats folds one execution's counters into the rule's cumulative
// stats and records the run time.
func (s *Store) UpdateRuleStats(ctx context.Context, ruleID string, result *domain.ExecutionResult) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET total_matches = total_matches + $1,
		 tags_added = tags_added + $2, tags_removed = tags_removed + $3,
		 last_execution_seconds = $4, last_run = $5
		 WHERE id = $6`,
		int64(len(result.MatchedVMs)), int64(result.TotalTagsAdded()), int64(result.TotalTagsRemoved()),
		result.ExecutionSeconds, result.Timestamp, ruleID)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AppendExecution stores one execution record. Records are never updated
// or deleted.
func (s *Store) AppendExecution(ctx context.Context, record *domain.ExecutionRecord) error {
	resultJSON, err := json.Marshal(record.Result)
	if err != nil {
		return fmt.Errorf("encoding execution result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, rule_id, rule_name, executed_at, dry_run, result_json)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID, record.RuleID, record.RuleName, record.Timestamp, record.DryRun, string(resultJSON))
	return err
}

type executionRow struct {
	ID         string    `db:"id"`
	RuleID     string    `db:"rule_id"`
	RuleName   string    `db:"rule_name"`
	ExecutedAt time.Time `db:"executed_at"`
	DryRun     bool      `db:"dry_run"`
	ResultJSON string    `db:"result_json"`
}

// ListExecutions returns execution records, most recent first. An empty
// ruleID returns records for all rules; limit <= 0 returns everything.
func (s *Store) ListExecutions(ctx context.Context, ruleID string, limit int) ([]*domain.ExecutionRecord, error) {
	query := `SELECT id, rule_id, rule_name, executed_at, dry_run, result_json FROM executions`
	args := []any{}
	if ruleID != "" {
		query += ` WHERE rule_id = $1`
		args = append(args, ruleID)
	}
	query += ` ORDER BY executed_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	var rows []*executionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	records := make([]*domain.ExecutionRecord, 0, len(rows))
	for _, row := range rows {
		record := &domain.ExecutionRecord{
			ID:        row.ID,
			RuleID:    row.RuleID,
			RuleName:  row.RuleName,
			Timestamp: row.ExecutedAt,
			DryRun:    row.DryRun,
		}
		if err := json.Unmarshal([]byte(row.ResultJSON), &record.Result); err != nil {
			return nil, fmt.Errorf("decoding execution %s: %w", row.ID, err)
		}
		records = append(records, record)
	}
	return records, nil
}
