package domain

import "time"

// ExportInfo describes an exported rule document.
type ExportInfo struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	RuleCount int       `json:"rule_count"`
}

// ExportDocument is the portable rule set format. Execution statistics and
// run timestamps are ephemeral and excluded from exported rules.
type ExportDocument struct {
	ExportInfo ExportInfo      `json:"export_info"`
	Rules      []*ExportedRule `json:"rules"`
}

// ExportedRule is a rule stripped to its portable definition.
type ExportedRule struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Enabled     bool           `json:"enabled"`
	Conditions  *ConditionNode `json:"conditions"`
	Actions     ActionSet      `json:"actions"`
	Schedule    Schedule       `json:"schedule"`
}

// ImportResult reports the per-rule outcome of an import. A failing rule
// never aborts the batch.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Failures []string `json:"failures"`
}
