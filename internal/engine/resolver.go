package engine

import (
	"sort"
	"strings"

	"github.com/proxtag/proxtag/internal/domain"
)

// TagDelta is the minimal tag mutation for one object plus the tags the
// rule wanted to add that were already there.
type TagDelta struct {
	Add            []string
	Remove         []string
	AlreadyPresent []string
}

// Empty reports whether applying the delta would change nothing.
func (d TagDelta) Empty() bool {
	return len(d.Add) == 0 && len(d.Remove) == 0
}

// Resolve computes the tag delta for one object. The THEN lists apply when
// matched, the ELSE lists otherwise. Adds are filtered against tags already
// present (re-running a rule is a no-op, reported as "already present") and
// removes are restricted to present tags; the branch's add list wins over
// its remove list, so the returned sets never overlap.
func Resolve(actions domain.ActionSet, matched bool, currentTags map[string]bool) TagDelta {
	addList, removeList := actions.AddTags, actions.RemoveTags
	if !matched {
		addList, removeList = actions.ElseAddTags, actions.ElseRemoveTags
	}

	var delta TagDelta
	adding := make(map[string]bool, len(addList))
	for _, tag := range addList {
		tag = strings.ToLower(tag)
		if adding[tag] {
			continue
		}
		adding[tag] = true
		if currentTags[tag] {
			delta.AlreadyPresent = append(delta.AlreadyPresent, tag)
		} else {
			delta.Add = append(delta.Add, tag)
		}
	}
	for _, tag := range removeList {
		tag = strings.ToLower(tag)
		if currentTags[tag] && !adding[tag] {
			delta.Remove = append(delta.Remove, tag)
		}
	}

	sort.Strings(delta.Add)
	sort.Strings(delta.Remove)
	sort.Strings(delta.AlreadyPresent)
	return delta
}

// Apply returns the object's new tag set after the delta.
func (d TagDelta) Apply(currentTags map[string]bool) map[string]bool {
	next := make(map[string]bool, len(currentTags)+len(d.Add))
	for tag := range currentTags {
		next[tag] = true
	}
	for _, tag := range d.Add {
		next[tag] = true
	}
	for _, tag := range d.Remove {
		delete(next, tag)
	}
	return next
}
