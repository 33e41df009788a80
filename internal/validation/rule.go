// Package validation checks rule definitions before they are saved or run.
// Validation is the only place field types and operators are checked against
// the property catalog; the evaluator assumes a pre-validated tree.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/proxtag/proxtag/internal/catalog"
	"github.com/proxtag/proxtag/internal/cron"
	"github.com/proxtag/proxtag/internal/domain"
)

// tagPattern is the Proxmox tag charset. Tags are lowercased before the
// check, so upper-case letters are accepted on input.
var tagPattern = regexp.MustCompile(`^[a-z0-9_][a-z0-9_.-]*$`)

// ValidateRule validates a complete rule definition. All problems are
// collected; the caller gets the full list in one pass.
func ValidateRule(r *domain.Rule) ValidationErrors {
	var errs ValidationErrors

	if r.Name == "" {
		errs.Add("name", "", "rule name is required")
	}

	if r.Conditions == nil {
		errs.Add("conditions", "", "at least one condition is required")
	} else {
		validateConditionNode(r.Conditions, "conditions", &errs)
	}

	validateActions(r.Actions, &errs)

	if r.Schedule.Enabled {
		if r.Schedule.Cron == "" {
			errs.Add("schedule.cron", "", "cron expression is required when schedule is enabled")
		} else if _, err := cron.Parse(r.Schedule.Cron); err != nil {
			errs.Add("schedule.cron", r.Schedule.Cron, fmt.Sprintf("invalid cron expression: %v", err))
		}
	}

	return errs
}

func validateConditionNode(n *domain.ConditionNode, path string, errs *ValidationErrors) {
	if n.IsGroup() {
		if n.Logic != domain.LogicAnd && n.Logic != domain.LogicOr {
			errs.Add(path+".logic", string(n.Logic), "logic must be AND or OR")
		}
		if len(n.Children) == 0 {
			errs.Add(path+".children", "", "condition group must have at least one child")
		}
		for i, c := range n.Children {
			validateConditionNode(c, fmt.Sprintf("%s.children[%d]", path, i), errs)
		}
		return
	}

	if n.Field == "" {
		errs.Add(path+".field", "", "condition field is required")
		return
	}

	prop, ok := catalog.Lookup(n.Field)
	if !ok {
		errs.Add(path+".field", n.Field, "unknown property")
		return
	}

	if !catalog.OperatorValid(prop.Type, n.Operator) {
		errs.Add(path+".operator", string(n.Operator),
			fmt.Sprintf("operator not valid for %s field %q", prop.Type, n.Field))
	}

	if n.Operator == domain.OpRegex {
		pattern, ok := n.Value.(string)
		if !ok {
			errs.Add(path+".value", fmt.Sprintf("%v", n.Value), "regex value must be a string")
		} else if _, err := regexp.Compile(pattern); err != nil {
			errs.Add(path+".value", pattern, fmt.Sprintf("invalid regex: %v", err))
		}
	}
}

func validateActions(a domain.ActionSet, errs *ValidationErrors) {
	if a.Empty() {
		errs.Add("actions", "", "at least one action (THEN or ELSE add/remove tags) is required")
		return
	}

	checkTags := func(field string, tags []string) {
		for _, tag := range tags {
			if err := ValidateTagName(tag); err != nil {
				errs.Add(field, tag, err.Error())
			}
		}
	}
	checkTags("actions.add_tags", a.AddTags)
	checkTags("actions.remove_tags", a.RemoveTags)
	checkTags("actions.else_add_tags", a.ElseAddTags)
	checkTags("actions.else_remove_tags", a.ElseRemoveTags)

	checkOverlap := func(field string, add, remove []string) {
		removeSet := make(map[string]bool, len(remove))
		for _, t := range remove {
			removeSet[normalizeTag(t)] = true
		}
		for _, t := range add {
			if removeSet[normalizeTag(t)] {
				errs.Add(field, t, "tag appears in both add and remove lists")
			}
		}
	}
	checkOverlap("actions.add_tags", a.AddTags, a.RemoveTags)
	checkOverlap("actions.else_add_tags", a.ElseAddTags, a.ElseRemoveTags)
}

// ValidateTagName validates a single tag against the Proxmox tag charset.
func ValidateTagName(tag string) error {
	normalized := normalizeTag(tag)
	if normalized == "" {
		return fmt.Errorf("tag must not be empty")
	}
	if !tagPattern.MatchString(normalized) {
		return fmt.Errorf("tag may only contain letters, digits, '_', '.' or '-'")
	}
	return nil
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
