// Package catalog exposes the set of evaluable managed-object properties
// together with their value types. The rule builder and rule validation both
// consume it; the evaluator itself never does (snapshots are already typed
// by the time a saved rule runs).
package catalog

import (
	"sort"
	"strings"

	"github.com/proxtag/proxtag/internal/domain"
)

// FieldType classifies a property value for operator compatibility checks.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
)

// Property describes one evaluable field.
type Property struct {
	Type        FieldType `json:"type"`
	Description string    `json:"description"`
	Example     any       `json:"example,omitempty"`
	Values      []any     `json:"values,omitempty"`
}

// properties is the full catalog, keyed by dotted field path.
var properties = map[string]Property{
	"vmid":     {Type: TypeNumber, Description: "VM/Container ID", Example: 100},
	"name":     {Type: TypeString, Description: "VM/Container name", Example: "webserver-01"},
	"node":     {Type: TypeString, Description: "Cluster node", Example: "pve1"},
	"type":     {Type: TypeString, Description: "Resource type", Values: []any{"qemu", "lxc"}},
	"status":   {Type: TypeString, Description: "Current status", Values: []any{"running", "stopped", "paused"}},
	"tags":     {Type: TypeString, Description: "Current tags (semicolon-separated)", Example: "production;web;linux"},
	"template": {Type: TypeNumber, Description: "Whether the resource is a template", Values: []any{0, 1}},

	"cpu":     {Type: TypeNumber, Description: "Current CPU usage (ratio)", Example: 0.25},
	"maxcpu":  {Type: TypeNumber, Description: "Maximum CPU cores", Example: 4},
	"mem":     {Type: TypeNumber, Description: "Current memory usage (bytes)", Example: 1073741824},
	"maxmem":  {Type: TypeNumber, Description: "Maximum memory (bytes)", Example: 4294967296},
	"disk":    {Type: TypeNumber, Description: "Current disk usage (bytes)", Example: 10737418240},
	"maxdisk": {Type: TypeNumber, Description: "Maximum disk size (bytes)", Example: 32212254720},

	"config.ostype":     {Type: TypeString, Description: "Operating system type", Example: "l26"},
	"config.cores":      {Type: TypeNumber, Description: "Number of CPU cores", Example: 2},
	"config.memory":     {Type: TypeNumber, Description: "Memory size (MB)", Example: 2048},
	"config.arch":       {Type: TypeString, Description: "Architecture", Values: []any{"amd64", "i386", "arm64"}},
	"config.onboot":     {Type: TypeNumber, Description: "Start on boot", Values: []any{0, 1}},
	"config.protection": {Type: TypeNumber, Description: "Protected from deletion", Values: []any{0, 1}},
	"config.agent":      {Type: TypeNumber, Description: "QEMU agent enabled", Values: []any{0, 1}},

	"ha.enabled": {Type: TypeBoolean, Description: "Whether the guest is HA-managed", Example: true},
	"ha.state":   {Type: TypeString, Description: "HA state", Example: "started"},
	"ha.group":   {Type: TypeString, Description: "HA group", Example: "ha-group-1"},

	"replication.enabled": {Type: TypeBoolean, Description: "Whether replication is configured", Example: true},

	"snapshots.count": {Type: TypeNumber, Description: "Number of snapshots", Example: 3},

	"backup.has_backup": {Type: TypeBoolean, Description: "Whether a backup exists", Example: true},
}

// operatorsByType enumerates the operators valid for each field type.
var operatorsByType = map[FieldType]map[domain.Operator]bool{
	TypeString: {
		domain.OpEquals: true, domain.OpNotEquals: true,
		domain.OpContains: true, domain.OpNotContains: true,
		domain.OpRegex: true, domain.OpIn: true, domain.OpNotIn: true,
	},
	TypeNumber: {
		domain.OpEquals: true, domain.OpNotEquals: true,
		domain.OpGreaterThan: true, domain.OpLessThan: true,
		domain.OpGreaterEquals: true, domain.OpLessEquals: true,
	},
	TypeBoolean: {
		domain.OpEquals: true, domain.OpNotEquals: true,
	},
}

// Lookup returns the property metadata for a field path.
func Lookup(field string) (Property, bool) {
	p, ok := properties[field]
	return p, ok
}

// OperatorValid reports whether the operator is usable on the field type.
func OperatorValid(t FieldType, op domain.Operator) bool {
	return operatorsByType[t][op]
}

// Properties returns the whole catalog for the rule-builder endpoint.
func Properties() map[string]Property {
	out := make(map[string]Property, len(properties))
	for k, v := range properties {
		out[k] = v
	}
	return out
}

// Operators returns the operators valid for each field type, sorted.
func Operators() map[FieldType][]string {
	out := make(map[FieldType][]string, len(operatorsByType))
	for t, ops := range operatorsByType {
		names := make([]string, 0, len(ops))
		for op := range ops {
			names = append(names, string(op))
		}
		sort.Strings(names)
		out[t] = names
	}
	return out
}

// EnrichmentPrefixes returns the enrichment sections (e.g. "config", "ha")
// a condition tree reads, so the inventory client only fetches what the
// evaluation will use.
func EnrichmentPrefixes(tree *domain.ConditionNode) []string {
	seen := make(map[string]bool)
	for _, leaf := range tree.Leaves() {
		head, _, nested := strings.Cut(leaf.Field, ".")
		if !nested {
			continue
		}
		switch head {
		case "config", "ha", "replication", "snapshots", "backup":
			seen[head] = true
		}
	}
	prefixes := make([]string, 0, len(seen))
	for p := range seen {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	return prefixes
}
