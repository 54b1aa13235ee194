// Package blocks is the catalog of block types a menu page can be built from.
//
// Every block type is one Entry: default props, a renderer, an optional
// settings panel, the structural rules the mutation engine enforces, and the
// prop upgrades that bring props written by older documents to the current
// shape. Nothing outside this package switches on a block type.
package blocks

import (
	"errors"
	"fmt"
	"html/template"
)

// Type identifies a block variant.
type Type string

var ErrUnknownBlockType = errors.New("unknown block type")

// Rules are the structural capabilities of a block type.
type Rules struct {
	Draggable bool
	Deletable bool
	// Accepts reports whether a child of the given type may be dropped into
	// the block. A nil Accepts means the block takes no children.
	Accepts func(child Type) bool
}

func (r Rules) CanAccept(child Type) bool {
	return r.Accepts != nil && r.Accepts(child)
}

// IsCanvas reports whether the block can hold children at all.
func (r Rules) IsCanvas() bool {
	return r.Accepts != nil
}

// AcceptTypes builds an Accepts predicate for a fixed set of child types.
func AcceptTypes(types ...Type) func(Type) bool {
	allowed := make(map[Type]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return func(child Type) bool {
		_, ok := allowed[child]
		return ok
	}
}

// Anchor is an in-page navigation target.
type Anchor struct {
	ID    string
	Label string
}

// RenderContext is everything a block renderer may look at. Props already
// carry the type defaults for anything the node does not set.
type RenderContext struct {
	ID       string
	Type     Type
	Props    Props
	Children template.HTML
	Editable bool
	Outline  []Anchor
}

type RenderFunc func(RenderContext) (template.HTML, error)

// Upgrade rewrites props written by an older document version. It must be
// idempotent: applying it to already-upgraded props is a no-op.
type Upgrade func(Props) Props

type Entry struct {
	Type        Type
	DisplayName string
	Defaults    Props
	Rules       Rules
	Render      RenderFunc
	// Settings is nil for blocks without a settings panel.
	Settings *Panel
	// Upgrades maps the document version props were written in to the
	// function that lifts them to the next version.
	Upgrades map[int]Upgrade
	// Landmark marks blocks that in-page navigation links to. It returns
	// the link label.
	Landmark func(Props) (string, bool)
}

// Registry is an immutable set of entries.
type Registry struct {
	entries map[Type]Entry
	order   []Type
}

func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{entries: make(map[Type]Entry, len(entries))}
	for _, entry := range entries {
		if entry.Type == "" {
			return nil, errors.New("registry entry without type")
		}
		if entry.Render == nil {
			return nil, fmt.Errorf("registry entry %s: render is required", entry.Type)
		}
		if _, exists := r.entries[entry.Type]; exists {
			return nil, fmt.Errorf("registry entry %s: duplicate type", entry.Type)
		}
		if entry.DisplayName == "" {
			entry.DisplayName = string(entry.Type)
		}
		entry.Defaults = entry.Defaults.Clone()
		r.entries[entry.Type] = entry
		r.order = append(r.order, entry.Type)
	}
	return r, nil
}

func MustNewRegistry(entries ...Entry) *Registry {
	r, err := NewRegistry(entries...)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve returns the entry for t. The returned Defaults are a copy.
func (r *Registry) Resolve(t Type) (Entry, error) {
	entry, ok := r.entries[t]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownBlockType, t)
	}
	entry.Defaults = entry.Defaults.Clone()
	return entry, nil
}

func (r *Registry) Has(t Type) bool {
	_, ok := r.entries[t]
	return ok
}

// Types lists the registered types in registration order.
func (r *Registry) Types() []Type {
	return append([]Type(nil), r.order...)
}

// Rules returns the rules for t. Unknown types get the zero Rules, which
// forbid everything.
func (r *Registry) Rules(t Type) Rules {
	return r.entries[t].Rules
}

// Defaults returns a copy of the default props of t.
func (r *Registry) Defaults(t Type) Props {
	return r.entries[t].Defaults.Clone()
}

// WithDefaults returns props with every default of t that props does not set.
func (r *Registry) WithDefaults(t Type, props Props) Props {
	out := r.Defaults(t)
	for k, v := range props {
		out[k] = cloneValue(v)
	}
	return out
}

// Upgrade runs the upgrade chain of t from version from up to version to.
func (r *Registry) Upgrade(t Type, from, to int, props Props) Props {
	entry, ok := r.entries[t]
	if !ok {
		return props
	}
	out := props.Clone()
	for v := from; v < to; v++ {
		if fn, ok := entry.Upgrades[v]; ok && fn != nil {
			out = fn(out)
		}
	}
	return out
}

// Landmark reports whether a node of type t is a navigation target.
func (r *Registry) Landmark(t Type, id string, props Props) (Anchor, bool) {
	entry, ok := r.entries[t]
	if !ok || entry.Landmark == nil {
		return Anchor{}, false
	}
	label, ok := entry.Landmark(r.WithDefaults(t, props))
	if !ok {
		return Anchor{}, false
	}
	return Anchor{ID: id, Label: label}, true
}

// Palette lists the types a parent block accepts, for the editor toolbox.
func (r *Registry) Palette(parent Type) []Type {
	rules := r.Rules(parent)
	out := make([]Type, 0)
	for _, t := range r.order {
		if rules.CanAccept(t) {
			out = append(out, t)
		}
	}
	return out
}
