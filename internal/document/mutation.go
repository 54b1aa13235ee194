package document

import (
	"fmt"
	"sort"

	"github.com/google/go-cmp/cmp"

	"carta/api/internal/blocks"
)

type ChangeKind string

const (
	ChangeInserted ChangeKind = "inserted"
	ChangeMoved    ChangeKind = "moved"
	ChangeRemoved  ChangeKind = "removed"
	ChangeProps    ChangeKind = "props"
	ChangeCustom   ChangeKind = "custom"
)

// Change describes what an applied mutation did.
type Change struct {
	Kind ChangeKind
	ID   NodeID
	// Created lists every inserted id, the subtree root first.
	Created []NodeID
	// Removed lists every deleted id, the subtree root first.
	Removed []NodeID
	// Keys lists the prop or custom keys whose value changed.
	Keys []string
}

// Mutation is one of Insert, Move, Remove, SetProp or SetCustom.
type Mutation interface {
	apply(s *Store) (Change, error)
}

type Insert struct {
	Parent NodeID
	Index  int
	Spec   NodeSpec
}

type Move struct {
	ID     NodeID
	Parent NodeID
	Index  int
}

type Remove struct {
	ID NodeID
}

// SetProp hands Update a copy of the node props. Keys Update changes are
// merged into the node; keys it sets to nil or deletes go back to the type
// default.
type SetProp struct {
	ID     NodeID
	Update func(blocks.Props)
}

// SetCustom sets one editor metadata key. A nil Value deletes the key.
type SetCustom struct {
	ID    NodeID
	Key   string
	Value any
}

// Apply runs m against the store. A failed mutation leaves the store
// unchanged.
func (s *Store) Apply(m Mutation) (Change, error) {
	if m == nil {
		return Change{}, fmt.Errorf("apply: nil mutation")
	}
	return m.apply(s)
}

func (s *Store) Insert(parent NodeID, index int, spec NodeSpec) (NodeID, error) {
	change, err := s.Apply(Insert{Parent: parent, Index: index, Spec: spec})
	if err != nil {
		return "", err
	}
	return change.ID, nil
}

func (s *Store) Move(id, parent NodeID, index int) error {
	_, err := s.Apply(Move{ID: id, Parent: parent, Index: index})
	return err
}

func (s *Store) Remove(id NodeID) ([]NodeID, error) {
	change, err := s.Apply(Remove{ID: id})
	if err != nil {
		return nil, err
	}
	return change.Removed, nil
}

func (s *Store) SetProp(id NodeID, update func(blocks.Props)) (Change, error) {
	return s.Apply(SetProp{ID: id, Update: update})
}

func (s *Store) SetCustom(id NodeID, key string, value any) (Change, error) {
	return s.Apply(SetCustom{ID: id, Key: key, Value: value})
}

func (m Insert) apply(s *Store) (Change, error) {
	parent, ok := s.nodes[m.Parent]
	if !ok {
		return Change{}, mutationErr("insert", m.Parent, fmt.Errorf("%w: %w", ErrInvalidParent, ErrNodeNotFound))
	}
	// A parent that refuses the child type is reported as such whatever
	// the index.
	if s.registry.Has(m.Spec.Type) && !s.registry.Rules(parent.Type).CanAccept(m.Spec.Type) {
		return Change{}, mutationErr("insert", m.Parent, fmt.Errorf("%w: %s into %s", ErrInvalidParent, m.Spec.Type, parent.Type))
	}
	if m.Index < 0 || m.Index > len(parent.Children) {
		return Change{}, mutationErr("insert", m.Parent, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, m.Index, len(parent.Children)))
	}

	// Build the whole subtree off to the side so a refused descendant
	// leaves nothing behind.
	var created []*Node
	fresh := make(map[NodeID]bool)
	var build func(parentID NodeID, parentType blocks.Type, spec NodeSpec) (NodeID, error)
	build = func(parentID NodeID, parentType blocks.Type, spec NodeSpec) (NodeID, error) {
		if !s.registry.Has(spec.Type) {
			return "", fmt.Errorf("%w: %q", blocks.ErrUnknownBlockType, spec.Type)
		}
		if !s.registry.Rules(parentType).CanAccept(spec.Type) {
			return "", fmt.Errorf("%w: %s into %s", ErrInvalidParent, spec.Type, parentType)
		}
		props, err := blocks.Canonicalize(s.registry.WithDefaults(spec.Type, spec.Props))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidProps, err)
		}
		custom, err := blocks.Canonicalize(spec.Custom)
		if err != nil {
			return "", fmt.Errorf("%w: custom: %v", ErrInvalidProps, err)
		}
		id := s.newID()
		if _, exists := s.nodes[id]; exists || fresh[id] || id == "" {
			return "", fmt.Errorf("insert: generated id %q is not unique", id)
		}
		fresh[id] = true
		n := &Node{ID: id, Type: spec.Type, Props: props, Parent: parentID, Custom: custom}
		created = append(created, n)
		for _, childSpec := range spec.Children {
			childID, err := build(id, spec.Type, childSpec)
			if err != nil {
				return "", err
			}
			n.Children = append(n.Children, childID)
		}
		return id, nil
	}
	id, err := build(m.Parent, parent.Type, m.Spec)
	if err != nil {
		return Change{}, mutationErr("insert", m.Parent, err)
	}

	change := Change{Kind: ChangeInserted, ID: id}
	for _, n := range created {
		s.nodes[n.ID] = n
		change.Created = append(change.Created, n.ID)
	}
	parent.Children = insertAt(parent.Children, m.Index, id)
	return change, nil
}

func (m Move) apply(s *Store) (Change, error) {
	n, ok := s.nodes[m.ID]
	if !ok {
		return Change{}, mutationErr("move", m.ID, ErrNodeNotFound)
	}
	dest, ok := s.nodes[m.Parent]
	if !ok {
		return Change{}, mutationErr("move", m.Parent, ErrNodeNotFound)
	}
	if m.ID == RootID || !s.registry.Rules(n.Type).Draggable {
		return Change{}, mutationErr("move", m.ID, ErrNotDraggable)
	}
	if s.IsAncestor(m.ID, m.Parent) {
		return Change{}, mutationErr("move", m.ID, ErrCycleDetected)
	}
	if !s.registry.Rules(dest.Type).CanAccept(n.Type) {
		return Change{}, mutationErr("move", m.ID, fmt.Errorf("%w: %s into %s", ErrInvalidParent, n.Type, dest.Type))
	}
	size := len(dest.Children)
	if n.Parent == m.Parent {
		size--
	}
	if m.Index < 0 || m.Index > size {
		return Change{}, mutationErr("move", m.ID, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, m.Index, size))
	}

	src := s.nodes[n.Parent]
	src.Children = removeID(src.Children, m.ID)
	dest.Children = insertAt(dest.Children, m.Index, m.ID)
	n.Parent = m.Parent
	return Change{Kind: ChangeMoved, ID: m.ID}, nil
}

func (m Remove) apply(s *Store) (Change, error) {
	n, ok := s.nodes[m.ID]
	if !ok {
		return Change{}, mutationErr("remove", m.ID, ErrNodeNotFound)
	}
	if m.ID == RootID || !s.registry.Rules(n.Type).Deletable {
		return Change{}, mutationErr("remove", m.ID, ErrNotDeletable)
	}

	var removed []NodeID
	var collect func(id NodeID)
	collect = func(id NodeID) {
		removed = append(removed, id)
		for _, childID := range s.nodes[id].Children {
			collect(childID)
		}
	}
	collect(m.ID)

	parent := s.nodes[n.Parent]
	parent.Children = removeID(parent.Children, m.ID)
	for _, id := range removed {
		delete(s.nodes, id)
	}
	return Change{Kind: ChangeRemoved, ID: m.ID, Removed: removed}, nil
}

func (m SetProp) apply(s *Store) (Change, error) {
	n, ok := s.nodes[m.ID]
	if !ok {
		return Change{}, mutationErr("set prop", m.ID, ErrNodeNotFound)
	}
	if m.Update == nil {
		return Change{Kind: ChangeProps, ID: m.ID}, nil
	}
	draft := n.Props.Clone()
	m.Update(draft)

	defaults := s.registry.Defaults(n.Type)
	next := n.Props.Clone()
	var keys []string
	for key := range n.Props {
		if _, kept := draft[key]; !kept {
			draft[key] = nil
		}
	}
	for key, value := range draft {
		if value == nil {
			if def, ok := defaults[key]; ok {
				value = def
			} else {
				if _, had := next[key]; had {
					delete(next, key)
					keys = append(keys, key)
				}
				continue
			}
		}
		canonical, err := blocks.CanonicalValue(value)
		if err != nil {
			return Change{}, mutationErr("set prop", m.ID, fmt.Errorf("%w: %s: %v", ErrInvalidProps, key, err))
		}
		if current, had := next[key]; had && cmp.Equal(current, canonical) {
			continue
		}
		next[key] = canonical
		keys = append(keys, key)
	}
	sort.Strings(keys)
	n.Props = next
	return Change{Kind: ChangeProps, ID: m.ID, Keys: keys}, nil
}

func (m SetCustom) apply(s *Store) (Change, error) {
	n, ok := s.nodes[m.ID]
	if !ok {
		return Change{}, mutationErr("set custom", m.ID, ErrNodeNotFound)
	}
	if m.Key == "" {
		return Change{}, mutationErr("set custom", m.ID, fmt.Errorf("%w: empty key", ErrInvalidProps))
	}
	if m.Value == nil {
		if _, had := n.Custom[m.Key]; !had {
			return Change{Kind: ChangeCustom, ID: m.ID}, nil
		}
		custom := n.Custom.Clone()
		delete(custom, m.Key)
		n.Custom = custom
		return Change{Kind: ChangeCustom, ID: m.ID, Keys: []string{m.Key}}, nil
	}
	canonical, err := blocks.CanonicalValue(m.Value)
	if err != nil {
		return Change{}, mutationErr("set custom", m.ID, fmt.Errorf("%w: %s: %v", ErrInvalidProps, m.Key, err))
	}
	custom := n.Custom.Clone()
	custom[m.Key] = canonical
	n.Custom = custom
	return Change{Kind: ChangeCustom, ID: m.ID, Keys: []string{m.Key}}, nil
}

func insertAt(ids []NodeID, index int, id NodeID) []NodeID {
	out := make([]NodeID, 0, len(ids)+1)
	out = append(out, ids[:index]...)
	out = append(out, id)
	return append(out, ids[index:]...)
}

func removeID(ids []NodeID, id NodeID) []NodeID {
	out := make([]NodeID, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
