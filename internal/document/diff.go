package document

import (
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"carta/api/internal/blocks"
)

type DifferenceKind string

const (
	DiffAdded   DifferenceKind = "added"
	DiffRemoved DifferenceKind = "removed"
	DiffMoved   DifferenceKind = "moved"
	DiffRetyped DifferenceKind = "retyped"
	DiffProps   DifferenceKind = "props"
	DiffCustom  DifferenceKind = "custom"
)

type Difference struct {
	Kind DifferenceKind `json:"kind"`
	ID   NodeID         `json:"id"`
	Keys []string       `json:"keys,omitempty"`
}

// Diff compares two trees node by node. Props are compared value by value
// after defaults are applied, so a prop spelled out with its default value
// is not a change. A nil from is treated as an empty document.
func Diff(from, to *Store) []Difference {
	var before, after map[NodeID]Node
	if from != nil {
		before = from.Nodes()
	}
	if to != nil {
		after = to.Nodes()
	}

	var out []Difference
	for id, a := range after {
		b, ok := before[id]
		if !ok {
			out = append(out, Difference{Kind: DiffAdded, ID: id})
			continue
		}
		if a.Type != b.Type {
			out = append(out, Difference{Kind: DiffRetyped, ID: id})
			continue
		}
		if a.Parent != b.Parent {
			out = append(out, Difference{Kind: DiffMoved, ID: id})
		}
		if keys := changedKeys(effective(from, b), effective(to, a)); len(keys) > 0 {
			out = append(out, Difference{Kind: DiffProps, ID: id, Keys: keys})
		}
		if keys := changedKeys(b.Custom, a.Custom); len(keys) > 0 {
			out = append(out, Difference{Kind: DiffCustom, ID: id, Keys: keys})
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			out = append(out, Difference{Kind: DiffRemoved, ID: id})
		}
	}
	out = append(out, reordered(before, after)...)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// reordered reports siblings whose relative order changed under a parent
// that exists on both sides. Nodes that changed parent are already moved.
func reordered(before, after map[NodeID]Node) []Difference {
	var out []Difference
	for id, a := range after {
		b, ok := before[id]
		if !ok {
			continue
		}
		stable := func(list []NodeID, other map[NodeID]Node, self map[NodeID]Node) []NodeID {
			kept := make([]NodeID, 0, len(list))
			for _, childID := range list {
				o, ok := other[childID]
				if ok && o.Parent == self[childID].Parent {
					kept = append(kept, childID)
				}
			}
			return kept
		}
		prev := stable(b.Children, after, before)
		next := stable(a.Children, before, after)
		for i := range next {
			if i < len(prev) && prev[i] != next[i] {
				out = append(out, Difference{Kind: DiffMoved, ID: next[i]})
			}
		}
	}
	return out
}

func effective(s *Store, n Node) blocks.Props {
	if s == nil {
		return n.Props
	}
	return s.registry.WithDefaults(n.Type, n.Props)
}

func changedKeys(before, after blocks.Props) []string {
	var keys []string
	for key, value := range after {
		old, ok := before[key]
		if !ok || !cmp.Equal(old, value, cmpopts.EquateEmpty()) {
			keys = append(keys, key)
		}
	}
	for key := range before {
		if _, ok := after[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
