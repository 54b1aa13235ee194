package editor

import "carta/api/internal/document"

const defaultHistoryLimit = 40

// history keeps whole-tree snapshots. Menus are a few hundred nodes at most,
// so a clone per step is cheaper than inverting every mutation kind.
type history struct {
	limit int
	undo  []*document.Store
	redo  []*document.Store
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &history{limit: limit}
}

// record stores the tree as it was before a mutation and forgets anything
// that could have been redone.
func (h *history) record(before *document.Store) {
	h.undo = append(h.undo, before)
	if len(h.undo) > h.limit {
		h.undo = h.undo[len(h.undo)-h.limit:]
	}
	h.redo = nil
}

func (h *history) stepBack(current *document.Store) (*document.Store, bool) {
	if len(h.undo) == 0 {
		return nil, false
	}
	prev := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, current)
	return prev, true
}

func (h *history) stepForward(current *document.Store) (*document.Store, bool) {
	if len(h.redo) == 0 {
		return nil, false
	}
	next := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, current)
	return next, true
}

func (h *history) canUndo() bool { return len(h.undo) > 0 }

func (h *history) canRedo() bool { return len(h.redo) > 0 }
