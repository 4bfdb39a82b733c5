// Package dataset builds labeled training sequences from a video corpus and
// persists them as a compressed artifact.
package dataset

import (
	"fmt"
	"sort"
)

// Category is one class directory of the corpus.
type Category struct {
	Dir   string
	Index int
	Name  string
}

// Categories lists the corpus classes in processing order.
var Categories = []Category{
	{Dir: "yes", Index: 0, Name: "YES"},
	{Dir: "no", Index: 1, Name: "NO"},
	{Dir: "neutral", Index: 2, Name: "NEUTRAL"},
}

// Labels maps class index to display name.
type Labels map[int]string

// DefaultLabels returns the index to name map of Categories.
func DefaultLabels() Labels {
	labels := make(Labels, len(Categories))
	for _, c := range Categories {
		labels[c.Index] = c.Name
	}
	return labels
}

// Name returns the display name for index, or a placeholder for unknown indices.
func (l Labels) Name(index int) string {
	if name, ok := l[index]; ok {
		return name
	}
	return fmt.Sprintf("CLASS_%d", index)
}

// Index returns the index of a display name.
func (l Labels) Index(name string) (int, bool) {
	for i, n := range l {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// Indices returns the class indices in ascending order.
func (l Labels) Indices() []int {
	out := make([]int, 0, len(l))
	for i := range l {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Validate checks that indices are exactly 0..n-1 with unique names.
func (l Labels) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("label map is empty")
	}
	seen := make(map[string]bool, len(l))
	for i, idx := range l.Indices() {
		if idx != i {
			return fmt.Errorf("label indices must be contiguous from 0, found %d", idx)
		}
		name := l[idx]
		if name == "" || seen[name] {
			return fmt.Errorf("label %d has an empty or duplicate name %q", idx, name)
		}
		seen[name] = true
	}
	return nil
}

// Equal reports whether two label maps are identical.
func (l Labels) Equal(other Labels) bool {
	if len(l) != len(other) {
		return false
	}
	for i, n := range l {
		if other[i] != n {
			return false
		}
	}
	return true
}
