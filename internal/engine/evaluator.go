package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/proxtag/proxtag/internal/domain"
)

// Evaluator matches condition trees against managed-object snapshots. It is
// pure and synchronous; snapshots are fully materialized before evaluation,
// so no I/O happens here.
type Evaluator struct {
	// onLeaf is called for every leaf actually evaluated. Tests use it to
	// verify short-circuiting.
	onLeaf func(*domain.ConditionNode)
}

// NewEvaluator creates an Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate returns whether the object satisfies the condition tree. The
// tree is assumed pre-validated; malformed input evaluates to false rather
// than panicking.
func (e *Evaluator) Evaluate(node *domain.ConditionNode, obj *domain.ManagedObject) bool {
	if node == nil {
		return false
	}
	if node.IsGroup() {
		if len(node.Children) == 0 {
			return false
		}
		switch node.Logic {
		case domain.LogicAnd:
			for _, c := range node.Children {
				if !e.Evaluate(c, obj) {
					return false
				}
			}
			return true
		case domain.LogicOr:
			for _, c := range node.Children {
				if e.Evaluate(c, obj) {
					return true
				}
			}
			return false
		default:
			return false
		}
	}
	if e.onLeaf != nil {
		e.onLeaf(node)
	}
	return evalLeaf(node, obj)
}

func evalLeaf(node *domain.ConditionNode, obj *domain.ManagedObject) bool {
	value, present := obj.Field(node.Field)
	if !present {
		// Absence satisfies only the negated operators. Existing rules
		// depend on this asymmetry.
		switch node.Operator {
		case domain.OpNotEquals, domain.OpNotContains, domain.OpNotIn:
			return true
		default:
			return false
		}
	}

	switch node.Operator {
	case domain.OpEquals:
		return stringValue(value) == stringValue(node.Value)
	case domain.OpNotEquals:
		return stringValue(value) != stringValue(node.Value)
	case domain.OpContains:
		return strings.Contains(stringValue(value), stringValue(node.Value))
	case domain.OpNotContains:
		return !strings.Contains(stringValue(value), stringValue(node.Value))
	case domain.OpGreaterThan, domain.OpLessThan, domain.OpGreaterEquals, domain.OpLessEquals:
		return numericCompare(node.Operator, value, node.Value)
	case domain.OpRegex:
		pattern, ok := node.Value.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			// Saved rules are pre-validated; an invalid pattern can only
			// reach here through a hand-edited store.
			return false
		}
		return re.MatchString(fmt.Sprintf("%v", value))
	case domain.OpIn:
		return inList(value, node.Value)
	case domain.OpNotIn:
		return !inList(value, node.Value)
	default:
		return false
	}
}

// stringValue renders a value for case-insensitive string comparison.
// Numbers compare by their canonical rendering so 2 and 2.0 are equal.
func stringValue(v any) string {
	if f, ok := toFloat64(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strings.ToLower(fmt.Sprintf("%v", v))
}

func numericCompare(op domain.Operator, fieldValue, ruleValue any) bool {
	fv, ok := toFloat64(fieldValue)
	if !ok {
		return false
	}
	rv, ok := toFloat64(ruleValue)
	if !ok {
		return false
	}
	switch op {
	case domain.OpGreaterThan:
		return fv > rv
	case domain.OpLessThan:
		return fv < rv
	case domain.OpGreaterEquals:
		return fv >= rv
	case domain.OpLessEquals:
		return fv <= rv
	}
	return false
}

func inList(fieldValue, ruleValue any) bool {
	field := stringValue(fieldValue)
	list, ok := ruleValue.([]any)
	if !ok {
		return field == stringValue(ruleValue)
	}
	for _, v := range list {
		if field == stringValue(v) {
			return true
		}
	}
	return false
}

// toFloat64 coerces numeric types (and numeric strings) to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
