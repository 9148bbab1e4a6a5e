// Package diff computes structural differences between two template content
// trees.
//
// Mappings are compared key by key and sequences position by position, so
// moving an item inside a list is reported as modifications at the affected
// indices rather than as a move. Output is ordered by a pre-order walk with
// mapping keys sorted, which makes Compute a pure function of its inputs.
package diff

import (
	"sort"
	"strconv"
	"strings"

	"fundroom/api/internal/content"
)

type Kind string

const (
	Added    Kind = "added"
	Removed  Kind = "removed"
	Modified Kind = "modified"
)

// RootPath addresses the whole document when the two roots differ in kind.
const RootPath = "$"

type Change struct {
	Path     string  `json:"path"`
	Type     Kind    `json:"type"`
	OldValue *string `json:"old_value,omitempty"`
	NewValue *string `json:"new_value,omitempty"`

	DisplayPath string `json:"display_path,omitempty"`
	TextDiff    string `json:"text_diff,omitempty"`
}

type Summary struct {
	Added    int `json:"added"`
	Removed  int `json:"removed"`
	Modified int `json:"modified"`
}

func (s Summary) Total() int {
	return s.Added + s.Removed + s.Modified
}

type Result struct {
	Changes []Change `json:"changes"`
	Summary Summary  `json:"summary"`
}

func Compute(from, to content.Value) Result {
	w := walker{changes: []Change{}}
	if from.Kind() != to.Kind() {
		w.modified(RootPath, from, to)
	} else {
		w.walk("", from, to)
	}
	return Result{Changes: w.changes, Summary: w.summary}
}

type walker struct {
	changes []Change
	summary Summary
}

func (w *walker) walk(path string, from, to content.Value) {
	if from.Kind() != to.Kind() {
		w.modified(path, from, to)
		return
	}

	switch from.Kind() {
	case content.KindMapping:
		for _, key := range unionKeys(from, to) {
			childPath := keyPath(path, key)
			oldChild, inFrom := from.Field(key)
			newChild, inTo := to.Field(key)
			switch {
			case !inTo:
				w.removed(childPath, oldChild)
			case !inFrom:
				w.added(childPath, newChild)
			default:
				w.walk(childPath, oldChild, newChild)
			}
		}
	case content.KindSequence:
		length := from.Len()
		if to.Len() > length {
			length = to.Len()
		}
		for i := 0; i < length; i++ {
			childPath := indexPath(path, i)
			oldChild, inFrom := from.Index(i)
			newChild, inTo := to.Index(i)
			switch {
			case !inTo:
				w.removed(childPath, oldChild)
			case !inFrom:
				w.added(childPath, newChild)
			default:
				w.walk(childPath, oldChild, newChild)
			}
		}
	default:
		if !from.Equal(to) {
			w.modified(path, from, to)
		}
	}
}

func (w *walker) added(path string, value content.Value) {
	w.changes = append(w.changes, Change{Path: path, Type: Added, NewValue: scalar(value)})
	w.summary.Added++
}

func (w *walker) removed(path string, value content.Value) {
	w.changes = append(w.changes, Change{Path: path, Type: Removed, OldValue: scalar(value)})
	w.summary.Removed++
}

func (w *walker) modified(path string, from, to content.Value) {
	if path == "" {
		path = RootPath
	}
	w.changes = append(w.changes, Change{Path: path, Type: Modified, OldValue: scalar(from), NewValue: scalar(to)})
	w.summary.Modified++
}

func scalar(value content.Value) *string {
	s := value.Scalar()
	return &s
}

func unionKeys(a, b content.Value) []string {
	seen := make(map[string]struct{}, a.Len()+b.Len())
	keys := make([]string, 0, a.Len()+b.Len())
	for _, key := range append(a.Keys(), b.Keys()...) {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func keyPath(prefix, key string) string {
	if needsQuoting(key) {
		return prefix + "[" + strconv.Quote(key) + "]"
	}
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func indexPath(prefix string, index int) string {
	return prefix + "[" + strconv.Itoa(index) + "]"
}

func needsQuoting(key string) bool {
	return key == "" || key == RootPath || strings.ContainsAny(key, `.[]"`)
}
