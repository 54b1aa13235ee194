package editor

import (
	"carta/api/internal/blocks"
	"carta/api/internal/document"
)

// PlaceholderMessage is shown in the settings area when the selected block
// has no settings panel, or nothing is selected.
const PlaceholderMessage = "Choose a component to edit its settings"

type SelectionState string

const (
	Idle     SelectionState = "idle"
	Selected SelectionState = "selected"
)

type Selection struct {
	State SelectionState  `json:"state"`
	ID    document.NodeID `json:"id,omitempty"`
}

func (s *Session) selection() Selection {
	if s.selected == "" {
		return Selection{State: Idle}
	}
	return Selection{State: Selected, ID: s.selected}
}

func (s *Session) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection()
}

// Select makes id the selected node. Selecting the selected node again is
// allowed and re-announces it.
func (s *Session) Select(id document.NodeID) error {
	return s.do(func() error {
		if err := s.usable(); err != nil {
			return err
		}
		if !s.store.Has(id) {
			_, err := s.store.Get(id)
			return err
		}
		s.touch()
		s.selected = id
		s.emit(Event{Kind: EventSelectionChanged, ID: id})
		return nil
	})
}

// Deselect is the click-away transition.
func (s *Session) Deselect() error {
	return s.do(func() error {
		if s.closed {
			return ErrSessionClosed
		}
		s.touch()
		if s.selected == "" {
			return nil
		}
		s.selected = ""
		s.emit(Event{Kind: EventSelectionChanged})
		return nil
	})
}

// PanelView is what the settings area shows for the current selection.
type PanelView struct {
	Selection   Selection     `json:"selection"`
	Type        blocks.Type   `json:"type,omitempty"`
	DisplayName string        `json:"displayName,omitempty"`
	Deletable   bool          `json:"deletable"`
	Panel       *blocks.Panel `json:"panel,omitempty"`
	Props       blocks.Props  `json:"props,omitempty"`
	Placeholder string        `json:"placeholder,omitempty"`
}

// Panel resolves the settings panel of the selected node. A block without
// a panel gets the placeholder, not an error.
func (s *Session) Panel() (PanelView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return PanelView{}, ErrSessionClosed
	}
	view := PanelView{Selection: s.selection()}
	if s.selected == "" {
		view.Placeholder = PlaceholderMessage
		return view, nil
	}
	n, err := s.store.Get(s.selected)
	if err != nil {
		return PanelView{}, err
	}
	registry := s.store.Registry()
	entry, err := registry.Resolve(n.Type)
	if err != nil {
		return PanelView{}, err
	}
	view.Type = n.Type
	view.DisplayName = n.DisplayName()
	view.Deletable = n.ID != document.RootID && entry.Rules.Deletable
	view.Props = registry.WithDefaults(n.Type, n.Props)
	if entry.Settings == nil {
		view.Placeholder = PlaceholderMessage
		return view, nil
	}
	view.Panel = entry.Settings
	if s.pending != nil && s.pending.key.id == n.ID {
		view.Props[s.pending.key.prop] = s.pending.value
	}
	return view, nil
}
