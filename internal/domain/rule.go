package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operator is a leaf comparison operator.
type Operator string

const (
	OpEquals        Operator = "equals"
	OpNotEquals     Operator = "not_equals"
	OpContains      Operator = "contains"
	OpNotContains   Operator = "not_contains"
	OpGreaterThan   Operator = "greater_than"
	OpLessThan      Operator = "less_than"
	OpGreaterEquals Operator = "greater_equals"
	OpLessEquals    Operator = "less_equals"
	OpRegex         Operator = "regex"
	OpIn            Operator = "in"
	OpNotIn         Operator = "not_in"
)

// Logic combines the children of a condition group.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// ConditionNode is either a leaf comparison {field, operator, value} or a
// group {logic, children}. The JSON form discriminates on the presence of
// the "logic" key. Mixed AND/OR rules are expressed by nesting groups; there
// is no single global operator.
type ConditionNode struct {
	// Leaf fields.
	Field    string   `json:"field,omitempty"`
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value,omitempty"`

	// Group fields.
	Logic    Logic            `json:"logic,omitempty"`
	Children []*ConditionNode `json:"children,omitempty"`
}

// IsGroup reports whether the node is a composite AND/OR group.
func (n *ConditionNode) IsGroup() bool {
	return n != nil && n.Logic != ""
}

// Leaves returns every leaf condition in the tree in evaluation order.
func (n *ConditionNode) Leaves() []*ConditionNode {
	if n == nil {
		return nil
	}
	if !n.IsGroup() {
		return []*ConditionNode{n}
	}
	var leaves []*ConditionNode
	for _, c := range n.Children {
		leaves = append(leaves, c.Leaves()...)
	}
	return leaves
}

// conditionNodeJSON mirrors ConditionNode for (un)marshaling without
// recursing into the custom methods.
type conditionNodeJSON struct {
	Field    string            `json:"field,omitempty"`
	Operator Operator          `json:"operator,omitempty"`
	Value    any               `json:"value,omitempty"`
	Logic    Logic             `json:"logic,omitempty"`
	Children []json.RawMessage `json:"children,omitempty"`
}

// UnmarshalJSON decodes either node shape and rejects documents that mix
// leaf and group keys in one object.
func (n *ConditionNode) UnmarshalJSON(data []byte) error {
	var raw conditionNodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Logic != "" {
		if raw.Field != "" || raw.Operator != "" {
			return fmt.Errorf("condition group must not carry leaf fields")
		}
		n.Logic = raw.Logic
		n.Children = make([]*ConditionNode, 0, len(raw.Children))
		for _, c := range raw.Children {
			child := &ConditionNode{}
			if err := child.UnmarshalJSON(c); err != nil {
				return err
			}
			n.Children = append(n.Children, child)
		}
		return nil
	}
	n.Field = raw.Field
	n.Operator = raw.Operator
	n.Value = raw.Value
	return nil
}

// ActionSet holds the THEN/ELSE tag lists. Field names follow the portable
// rule document format.
type ActionSet struct {
	AddTags        []string `json:"add_tags"`
	RemoveTags     []string `json:"remove_tags"`
	ElseAddTags    []string `json:"else_add_tags"`
	ElseRemoveTags []string `json:"else_remove_tags"`
}

// Empty reports whether no branch has any tags configured.
func (a ActionSet) Empty() bool {
	return len(a.AddTags) == 0 && len(a.RemoveTags) == 0 &&
		len(a.ElseAddTags) == 0 && len(a.ElseRemoveTags) == 0
}

// HasElse reports whether the ELSE branch has any tags configured.
func (a ActionSet) HasElse() bool {
	return len(a.ElseAddTags) > 0 || len(a.ElseRemoveTags) > 0
}

// Schedule is the cron trigger configuration for a rule. A disabled
// schedule keeps its cron text but is never evaluated.
type Schedule struct {
	Enabled bool   `json:"enabled"`
	Cron    string `json:"cron"`
}

// RuleStats is the mutable aggregate counters block on a rule. Only live
// runs update it; dry runs never do.
type RuleStats struct {
	TotalMatches         int     `json:"total_matches"`
	TagsAdded            int     `json:"tags_added"`
	TagsRemoved          int     `json:"tags_removed"`
	LastExecutionSeconds float64 `json:"last_execution_time"`
}

// Rule is a persisted conditional tagging rule.
type Rule struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Enabled     bool           `json:"enabled"`
	Conditions  *ConditionNode `json:"conditions"`
	Actions     ActionSet      `json:"actions"`
	Schedule    Schedule       `json:"schedule"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	LastRun     *time.Time     `json:"last_run,omitempty"`
	Stats       RuleStats      `json:"stats"`

	// NextRun is derived by the scheduler and populated on reads; it is
	// never persisted.
	NextRun *time.Time `json:"next_run,omitempty"`
}

// CreateRuleRequest is the payload for creating a rule.
type CreateRuleRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Enabled     *bool          `json:"enabled"`
	Conditions  *ConditionNode `json:"conditions"`
	Actions     ActionSet      `json:"actions"`
	Schedule    Schedule       `json:"schedule"`
}

// UpdateRuleRequest is the payload for updating a rule. Conditions, actions
// and schedule are full replacements when present.
type UpdateRuleRequest struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	Enabled     *bool          `json:"enabled"`
	Conditions  *ConditionNode `json:"conditions"`
	Actions     *ActionSet     `json:"actions"`
	Schedule    *Schedule      `json:"schedule"`
}
