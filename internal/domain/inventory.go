package domain

import (
	"sort"
	"strings"
)

// ManagedObject is a point-in-time inventory snapshot of one VM or
// container. The engine treats it as a consistent, read-only view and never
// re-fetches mid-evaluation.
type ManagedObject struct {
	VMID     int     `json:"vmid"`
	Name     string  `json:"name"`
	Node     string  `json:"node"`
	Type     string  `json:"type"` // "qemu" or "lxc"
	Status   string  `json:"status"`
	Tags     string  `json:"tags"` // raw semicolon-separated tag string
	Template int     `json:"template"`
	CPU      float64 `json:"cpu"`
	MaxCPU   float64 `json:"maxcpu"`
	Mem      int64   `json:"mem"`
	MaxMem   int64   `json:"maxmem"`
	Disk     int64   `json:"disk"`
	MaxDisk  int64   `json:"maxdisk"`

	// Enrichment sections, populated on demand (nil when not fetched).
	Config      map[string]any `json:"config,omitempty"`
	HA          map[string]any `json:"ha,omitempty"`
	Replication map[string]any `json:"replication,omitempty"`
	Snapshots   map[string]any `json:"snapshots,omitempty"`
	Backup      map[string]any `json:"backup,omitempty"`
}

// Field resolves a dotted property path (e.g. "config.ostype") against the
// snapshot. The boolean is false when the field is absent.
func (o *ManagedObject) Field(path string) (any, bool) {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		switch head {
		case "vmid":
			return o.VMID, true
		case "name":
			return o.Name, true
		case "node":
			return o.Node, true
		case "type":
			return o.Type, true
		case "status":
			return o.Status, true
		case "tags":
			return o.Tags, true
		case "template":
			return o.Template, true
		case "cpu":
			return o.CPU, true
		case "maxcpu":
			return o.MaxCPU, true
		case "mem":
			return o.Mem, true
		case "maxmem":
			return o.MaxMem, true
		case "disk":
			return o.Disk, true
		case "maxdisk":
			return o.MaxDisk, true
		}
		return nil, false
	}

	var section map[string]any
	switch head {
	case "config":
		section = o.Config
	case "ha":
		section = o.HA
	case "replication":
		section = o.Replication
	case "snapshots":
		section = o.Snapshots
	case "backup":
		section = o.Backup
	default:
		return nil, false
	}
	return lookupPath(section, rest)
}

func lookupPath(m map[string]any, path string) (any, bool) {
	head, rest, nested := strings.Cut(path, ".")
	v, ok := m[head]
	if !ok {
		return nil, false
	}
	if !nested {
		return v, true
	}
	sub, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return lookupPath(sub, rest)
}

// CurrentTags returns the object's tag set parsed from the raw tag string.
func (o *ManagedObject) CurrentTags() map[string]bool {
	return ParseTags(o.Tags)
}

// ParseTags splits a Proxmox tag string into a lowercase set. Proxmox
// separates tags with semicolons; commas are tolerated for hand-edited
// values.
func ParseTags(raw string) map[string]bool {
	tags := make(map[string]bool)
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == ';' || r == ','
	}) {
		tag := strings.ToLower(strings.TrimSpace(part))
		if tag != "" {
			tags[tag] = true
		}
	}
	return tags
}

// FormatTags renders a tag set as the semicolon-separated string Proxmox
// expects, sorted for deterministic output.
func FormatTags(tags map[string]bool) string {
	list := make([]string, 0, len(tags))
	for tag := range tags {
		list = append(list, tag)
	}
	sort.Strings(list)
	return strings.Join(list, ";")
}
