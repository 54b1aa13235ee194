package editor

import "carta/api/internal/document"

type EventKind string

const (
	EventSelectionChanged EventKind = "selection_changed"
	EventNodeChanged      EventKind = "node_changed"
	EventTreeChanged      EventKind = "tree_changed"
	EventEnabledChanged   EventKind = "enabled_changed"
	EventSaved            EventKind = "saved"
)

// Event is delivered to subscribers after the session lock is released, in
// the order the changes happened.
type Event struct {
	Kind      EventKind         `json:"kind"`
	ID        document.NodeID   `json:"id,omitempty"`
	Removed   []document.NodeID `json:"removed,omitempty"`
	Keys      []string          `json:"keys,omitempty"`
	Selection Selection         `json:"selection"`
	Revision  uint64            `json:"revision"`
}

type Listener func(Event)
