package domain

import "time"

// ExecutionResult is the outcome of one rule engine invocation. It is the
// synchronous return value of a run and, unchanged, the payload of the
// persisted ExecutionRecord.
type ExecutionResult struct {
	RuleID    string    `json:"rule_id"`
	RuleName  string    `json:"rule_name"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	DryRun    bool      `json:"dry_run"`

	MatchedVMs []int `json:"matched_vms"`

	// Per-object tag deltas, keyed by VMID.
	TagsAdded          map[int][]string `json:"tags_added"`
	TagsRemoved        map[int][]string `json:"tags_removed"`
	TagsAlreadyPresent map[int][]string `json:"tags_already_present"`

	Errors           []string `json:"errors"`
	ExecutionSeconds float64  `json:"execution_time"`
}

// NewExecutionResult returns an initialized result for a run.
func NewExecutionResult(ruleID, ruleName string, dryRun bool) *ExecutionResult {
	return &ExecutionResult{
		RuleID:             ruleID,
		RuleName:           ruleName,
		Success:            true,
		Timestamp:          time.Now().UTC(),
		DryRun:             dryRun,
		MatchedVMs:         []int{},
		TagsAdded:          map[int][]string{},
		TagsRemoved:        map[int][]string{},
		TagsAlreadyPresent: map[int][]string{},
		Errors:             []string{},
	}
}

// TotalTagsAdded returns the number of tags added across all objects.
func (r *ExecutionResult) TotalTagsAdded() int {
	n := 0
	for _, tags := range r.TagsAdded {
		n += len(tags)
	}
	return n
}

// TotalTagsRemoved returns the number of tags removed across all objects.
func (r *ExecutionResult) TotalTagsRemoved() int {
	n := 0
	for _, tags := range r.TagsRemoved {
		n += len(tags)
	}
	return n
}

// ExecutionRecord is one immutable history ledger entry. Records are
// appended once per engine invocation and never mutated or pruned by the
// engine.
type ExecutionRecord struct {
	ID        string           `json:"id"`
	RuleID    string           `json:"rule_id"`
	RuleName  string           `json:"rule_name"`
	Timestamp time.Time        `json:"timestamp"`
	DryRun    bool             `json:"dry_run"`
	Result    *ExecutionResult `json:"result"`
}
