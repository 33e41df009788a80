package engine

import (
	"reflect"
	"testing"

	"github.com/proxtag/proxtag/internal/domain"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		actions     domain.ActionSet
		matched     bool
		current     map[string]bool
		wantAdd     []string
		wantRemove  []string
		wantPresent []string
	}{
		{
			name:    "add new tags",
			actions: domain.ActionSet{AddTags: []string{"web", "prod"}},
			matched: true,
			current: map[string]bool{},
			wantAdd: []string{"prod", "web"},
		},
		{
			name:        "existing tags reported as already present",
			actions:     domain.ActionSet{AddTags: []string{"web", "prod"}},
			matched:     true,
			current:     map[string]bool{"web": true},
			wantAdd:     []string{"prod"},
			wantPresent: []string{"web"},
		},
		{
			name:       "remove only present tags",
			actions:    domain.ActionSet{RemoveTags: []string{"staging", "old"}},
			matched:    true,
			current:    map[string]bool{"staging": true, "web": true},
			wantRemove: []string{"staging"},
		},
		{
			name:    "add wins over remove",
			actions: domain.ActionSet{AddTags: []string{"keep"}, RemoveTags: []string{"keep"}},
			matched: true,
			current: map[string]bool{"keep": true},
			// keep is already present, so nothing changes either way
			wantPresent: []string{"keep"},
		},
		{
			name:    "else branch applies when not matched",
			actions: domain.ActionSet{AddTags: []string{"match"}, ElseAddTags: []string{"nomatch"}},
			matched: false,
			current: map[string]bool{},
			wantAdd: []string{"nomatch"},
		},
		{
			name:    "no else branch means no delta when not matched",
			actions: domain.ActionSet{AddTags: []string{"match"}},
			matched: false,
			current: map[string]bool{},
		},
		{
			name:    "tags are lowercased",
			actions: domain.ActionSet{AddTags: []string{"Web", "PROD"}},
			matched: true,
			current: map[string]bool{},
			wantAdd: []string{"prod", "web"},
		},
		{
			name:    "duplicate adds collapse",
			actions: domain.ActionSet{AddTags: []string{"web", "Web"}},
			matched: true,
			current: map[string]bool{},
			wantAdd: []string{"web"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta := Resolve(tt.actions, tt.matched, tt.current)
			if !equalStrings(delta.Add, tt.wantAdd) {
				t.Errorf("Add = %v, want %v", delta.Add, tt.wantAdd)
			}
			if !equalStrings(delta.Remove, tt.wantRemove) {
				t.Errorf("Remove = %v, want %v", delta.Remove, tt.wantRemove)
			}
			if !equalStrings(delta.AlreadyPresent, tt.wantPresent) {
				t.Errorf("AlreadyPresent = %v, want %v", delta.AlreadyPresent, tt.wantPresent)
			}
		})
	}
}

// Resolving the same actions against the post-apply state must yield an
// empty delta: re-running a rule is a no-op.
func TestResolveIdempotent(t *testing.T) {
	actions := domain.ActionSet{AddTags: []string{"web", "prod"}, RemoveTags: []string{"staging"}}
	current := map[string]bool{"staging": true, "linux": true}

	first := Resolve(actions, true, current)
	after := first.Apply(current)
	second := Resolve(actions, true, after)

	if !second.Empty() {
		t.Errorf("second delta not empty: add=%v remove=%v", second.Add, second.Remove)
	}
	if !equalStrings(second.AlreadyPresent, []string{"prod", "web"}) {
		t.Errorf("AlreadyPresent = %v, want [prod web]", second.AlreadyPresent)
	}
}

func TestApply(t *testing.T) {
	delta := TagDelta{Add: []string{"web"}, Remove: []string{"staging"}}
	got := delta.Apply(map[string]bool{"staging": true, "linux": true})

	want := map[string]bool{"linux": true, "web": true}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Apply = %v, want %v", got, want)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
