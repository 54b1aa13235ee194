// Package render turns a node tree into HTML through the block registry.
// The public storefront and the editor preview share this code; only the
// mode differs.
package render

import (
	"errors"
	"fmt"
	"html/template"
	"strings"

	"carta/api/internal/blocks"
	"carta/api/internal/document"
)

// Tree is the read side of a document store.
type Tree interface {
	Root() document.Node
	Get(id document.NodeID) (document.Node, error)
	Walk(fn func(n document.Node, depth int) error) error
	Registry() *blocks.Registry
}

type Mode int

const (
	// Public output carries no editor markup.
	Public Mode = iota
	// Preview marks every node with its id and makes text editable.
	Preview
)

// ErrRender is returned when a block renderer fails. The caller must show
// the failure page instead of a partial tree.
var ErrRender = errors.New("render failed")

// Body renders the tree below and including the root.
func Body(tree Tree, mode Mode) (template.HTML, error) {
	outline, err := Outline(tree)
	if err != nil {
		return "", err
	}
	r := &renderer{tree: tree, registry: tree.Registry(), editable: mode == Preview, outline: outline}
	return r.node(tree.Root())
}

// Outline lists the navigation targets in document order.
func Outline(tree Tree) ([]blocks.Anchor, error) {
	registry := tree.Registry()
	var out []blocks.Anchor
	err := tree.Walk(func(n document.Node, _ int) error {
		if anchor, ok := registry.Landmark(n.Type, string(n.ID), n.Props); ok {
			out = append(out, anchor)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk tree: %w", err)
	}
	return out, nil
}

type renderer struct {
	tree     Tree
	registry *blocks.Registry
	editable bool
	outline  []blocks.Anchor
}

func (r *renderer) node(n document.Node) (template.HTML, error) {
	entry, err := r.registry.Resolve(n.Type)
	if err != nil {
		return "", fmt.Errorf("%w: node %s: %w", ErrRender, n.ID, err)
	}
	var children strings.Builder
	for _, childID := range n.Children {
		child, err := r.tree.Get(childID)
		if err != nil {
			return "", fmt.Errorf("%w: node %s: %w", ErrRender, n.ID, err)
		}
		html, err := r.node(child)
		if err != nil {
			return "", err
		}
		children.WriteString(string(html))
	}
	out, err := entry.Render(blocks.RenderContext{
		ID:       string(n.ID),
		Type:     n.Type,
		Props:    r.registry.WithDefaults(n.Type, n.Props),
		Children: template.HTML(children.String()),
		Editable: r.editable,
		Outline:  r.outline,
	})
	if err != nil {
		return "", fmt.Errorf("%w: node %s: %w", ErrRender, n.ID, err)
	}
	return out, nil
}
