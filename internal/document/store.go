// Package document holds the in-memory node tree of a menu page and the
// mutations that are the only way to change it.
package document

import (
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"carta/api/internal/blocks"
)

type NodeID string

// RootID is the fixed id of the page root.
const RootID NodeID = "ROOT"

type Node struct {
	ID       NodeID
	Type     blocks.Type
	Props    blocks.Props
	Children []NodeID
	Parent   NodeID
	// Custom is editor-only metadata. It never reaches the rendered page.
	Custom blocks.Props
}

func (n Node) clone() Node {
	out := n
	out.Props = n.Props.Clone()
	out.Custom = n.Custom.Clone()
	out.Children = append([]NodeID(nil), n.Children...)
	return out
}

// DisplayName is the layer name shown in the editor.
func (n Node) DisplayName() string {
	if name := n.Custom.String("displayName"); name != "" {
		return name
	}
	return string(n.Type)
}

// NodeSpec describes a subtree to insert.
type NodeSpec struct {
	Type     blocks.Type  `json:"type"`
	Props    blocks.Props `json:"props,omitempty"`
	Custom   blocks.Props `json:"custom,omitempty"`
	Children []NodeSpec   `json:"children,omitempty"`
}

type Option func(*Store)

// WithIDGenerator replaces the id source for inserted nodes.
func WithIDGenerator(fn func() NodeID) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// Store is the node arena of one document. It is not safe for concurrent
// use; the editor session serializes access.
type Store struct {
	registry *blocks.Registry
	nodes    map[NodeID]*Node
	newID    func() NodeID
}

// New returns a store holding only the root.
func New(registry *blocks.Registry, opts ...Option) *Store {
	s := newStore(registry, opts)
	s.nodes[RootID] = &Node{
		ID:     RootID,
		Type:   blocks.Container,
		Props:  registry.Defaults(blocks.Container),
		Custom: blocks.Props{},
	}
	return s
}

func newStore(registry *blocks.Registry, opts []Option) *Store {
	s := &Store{
		registry: registry,
		nodes:    make(map[NodeID]*Node),
		newID:    NewNodeID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore builds a store from already decoded nodes. The nodes must form a
// valid tree; Restore does not repair anything.
func Restore(registry *blocks.Registry, nodes []Node, opts ...Option) (*Store, error) {
	s := newStore(registry, opts)
	for _, n := range nodes {
		if _, exists := s.nodes[n.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate node %s", ErrMalformedTree, n.ID)
		}
		copied := n.clone()
		s.nodes[n.ID] = &copied
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the tree invariants: a Container root with the fixed id,
// registered types, consistent parent links, no cycles and no orphans.
func (s *Store) Validate() error {
	root, ok := s.nodes[RootID]
	if !ok {
		return fmt.Errorf("%w: missing root", ErrMalformedTree)
	}
	if root.Type != blocks.Container || root.Parent != "" {
		return fmt.Errorf("%w: root must be a top-level %s", ErrMalformedTree, blocks.Container)
	}
	seen := make(map[NodeID]bool, len(s.nodes))
	var visit func(id NodeID) error
	visit = func(id NodeID) error {
		if seen[id] {
			return fmt.Errorf("%w: node %s reached twice", ErrMalformedTree, id)
		}
		seen[id] = true
		n := s.nodes[id]
		if !s.registry.Has(n.Type) {
			return fmt.Errorf("%w: node %s: %w %q", ErrMalformedTree, id, blocks.ErrUnknownBlockType, n.Type)
		}
		for _, childID := range n.Children {
			child, ok := s.nodes[childID]
			if !ok {
				return fmt.Errorf("%w: node %s lists missing child %s", ErrMalformedTree, id, childID)
			}
			if child.Parent != id {
				return fmt.Errorf("%w: node %s has parent %q, listed under %s", ErrMalformedTree, childID, child.Parent, id)
			}
			if err := visit(childID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(RootID); err != nil {
		return err
	}
	if len(seen) != len(s.nodes) {
		return fmt.Errorf("%w: %d unreachable nodes", ErrMalformedTree, len(s.nodes)-len(seen))
	}
	return nil
}

func (s *Store) Registry() *blocks.Registry {
	return s.registry
}

// Get returns a copy of the node.
func (s *Store) Get(id NodeID) (Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n.clone(), nil
}

func (s *Store) Has(id NodeID) bool {
	_, ok := s.nodes[id]
	return ok
}

func (s *Store) Children(id NodeID) ([]NodeID, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return append([]NodeID(nil), n.Children...), nil
}

func (s *Store) Root() Node {
	return s.nodes[RootID].clone()
}

func (s *Store) Len() int {
	return len(s.nodes)
}

// Walk visits every node depth-first in render order. Returning an error
// stops the walk.
func (s *Store) Walk(fn func(n Node, depth int) error) error {
	var visit func(id NodeID, depth int) error
	visit = func(id NodeID, depth int) error {
		n := s.nodes[id]
		if err := fn(n.clone(), depth); err != nil {
			return err
		}
		for _, childID := range n.Children {
			if err := visit(childID, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(RootID, 0)
}

// Nodes returns a copy of every node keyed by id.
func (s *Store) Nodes() map[NodeID]Node {
	out := make(map[NodeID]Node, len(s.nodes))
	for id, n := range s.nodes {
		out[id] = n.clone()
	}
	return out
}

func (s *Store) Clone() *Store {
	out := &Store{
		registry: s.registry,
		nodes:    make(map[NodeID]*Node, len(s.nodes)),
		newID:    s.newID,
	}
	for id, n := range s.nodes {
		copied := n.clone()
		out.nodes[id] = &copied
	}
	return out
}

// Equal reports whether both stores hold the same nodes. Nil and empty
// maps and lists compare equal.
func (s *Store) Equal(other *Store) bool {
	if other == nil {
		return false
	}
	return cmp.Equal(s.Nodes(), other.Nodes(), cmpopts.EquateEmpty())
}

// IsAncestor reports whether ancestor is id or lies on the path from id to
// the root.
func (s *Store) IsAncestor(ancestor, id NodeID) bool {
	for cur := id; cur != ""; {
		if cur == ancestor {
			return true
		}
		n, ok := s.nodes[cur]
		if !ok {
			return false
		}
		cur = n.Parent
	}
	return false
}
