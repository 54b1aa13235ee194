// Package editor drives one editing session of a menu page: the selection,
// the settings panel bound to it, debounced text commits, undo history and
// change notifications. Every UI event is one method call, applied in call
// order under the session lock.
package editor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"carta/api/internal/blocks"
	"carta/api/internal/document"
)

var (
	ErrEditorDisabled = errors.New("editor is disabled")
	ErrSessionClosed  = errors.New("editor session is closed")
)

const defaultTextDebounce = 500 * time.Millisecond

type Option func(*Session)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTextDebounce sets how long text input must pause before it commits.
func WithTextDebounce(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.debounce = d
		}
	}
}

func WithHistoryLimit(n int) Option {
	return func(s *Session) {
		s.history = newHistory(n)
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithObserver is told the outcome of every mutation, text commits
// included. It runs under the session lock and must not call back into the
// session.
func WithObserver(fn func(op string, err error)) Option {
	return func(s *Session) {
		s.observe = fn
	}
}

type Session struct {
	id     string
	menuID string

	mu        sync.Mutex
	store     *document.Store
	history   *history
	selected  document.NodeID
	enabled   bool
	closed    bool
	revision  uint64
	saved     uint64
	pending   *pendingText
	textSeq   uint64
	debounce  time.Duration
	lastUsed  time.Time
	outbox    []Event
	listeners map[int]Listener
	nextSub   int

	now     func() time.Time
	observe func(op string, err error)
	logger  *zap.Logger
}

// NewSession takes ownership of store. The session starts enabled with
// nothing selected.
func NewSession(id, menuID string, store *document.Store, opts ...Option) *Session {
	s := &Session{
		id:        id,
		menuID:    menuID,
		store:     store,
		history:   newHistory(defaultHistoryLimit),
		enabled:   true,
		debounce:  defaultTextDebounce,
		listeners: make(map[int]Listener),
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session_id", id), zap.String("menu_id", menuID))
	s.lastUsed = s.now()
	return s
}

func (s *Session) ID() string     { return s.id }
func (s *Session) MenuID() string { return s.menuID }

// Subscribe registers fn for every future event. The returned func removes
// it.
func (s *Session) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// do runs fn under the lock and then delivers the events fn queued.
func (s *Session) do(fn func() error) error {
	s.mu.Lock()
	err := fn()
	events := s.outbox
	s.outbox = nil
	listeners := make([]Listener, 0, len(s.listeners))
	for i := 0; i < s.nextSub; i++ {
		if l, ok := s.listeners[i]; ok {
			listeners = append(listeners, l)
		}
	}
	s.mu.Unlock()

	for _, e := range events {
		for _, l := range listeners {
			l(e)
		}
	}
	return err
}

func (s *Session) emit(e Event) {
	e.Selection = s.selection()
	e.Revision = s.revision
	s.outbox = append(s.outbox, e)
}

func (s *Session) touch() {
	s.lastUsed = s.now()
}

func (s *Session) usable() error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.enabled {
		return ErrEditorDisabled
	}
	return nil
}

// mutate is the single write path: pending text goes first, then m is
// applied, recorded for undo and announced.
func (s *Session) mutate(op string, m document.Mutation) (document.Change, error) {
	if err := s.usable(); err != nil {
		return document.Change{}, err
	}
	s.touch()
	s.flushLocked()
	return s.applyLocked(op, m)
}

func (s *Session) applyLocked(op string, m document.Mutation) (document.Change, error) {
	before := s.store.Clone()
	change, err := s.store.Apply(m)
	if s.observe != nil {
		s.observe(op, err)
	}
	if err != nil {
		return change, err
	}
	s.history.record(before)
	s.revision++
	s.announce(change)
	return change, nil
}

func (s *Session) announce(change document.Change) {
	switch change.Kind {
	case document.ChangeProps, document.ChangeCustom:
		s.emit(Event{Kind: EventNodeChanged, ID: change.ID, Keys: change.Keys})
	case document.ChangeRemoved:
		if s.selected != "" && contains(change.Removed, s.selected) {
			s.selected = ""
			s.emit(Event{Kind: EventSelectionChanged})
		}
		s.emit(Event{Kind: EventTreeChanged, ID: change.ID, Removed: change.Removed})
	default:
		s.emit(Event{Kind: EventTreeChanged, ID: change.ID})
	}
}

func (s *Session) Insert(parent document.NodeID, index int, spec document.NodeSpec) (document.NodeID, error) {
	var id document.NodeID
	err := s.do(func() error {
		change, err := s.mutate("insert", document.Insert{Parent: parent, Index: index, Spec: spec})
		id = change.ID
		return err
	})
	return id, err
}

// Append inserts spec as the last child of parent.
func (s *Session) Append(parent document.NodeID, spec document.NodeSpec) (document.NodeID, error) {
	var id document.NodeID
	err := s.do(func() error {
		if err := s.usable(); err != nil {
			return err
		}
		s.flushLocked()
		children, err := s.store.Children(parent)
		if err != nil {
			return err
		}
		change, err := s.mutate("insert", document.Insert{Parent: parent, Index: len(children), Spec: spec})
		id = change.ID
		return err
	})
	return id, err
}

func (s *Session) Move(id, parent document.NodeID, index int) error {
	return s.do(func() error {
		_, err := s.mutate("move", document.Move{ID: id, Parent: parent, Index: index})
		return err
	})
}

// Remove deletes the subtree under id and returns every removed id.
func (s *Session) Remove(id document.NodeID) ([]document.NodeID, error) {
	var removed []document.NodeID
	err := s.do(func() error {
		change, err := s.mutate("remove", document.Remove{ID: id})
		removed = change.Removed
		return err
	})
	return removed, err
}

// SetProp commits a prop edit immediately.
func (s *Session) SetProp(id document.NodeID, update func(blocks.Props)) error {
	return s.do(func() error {
		_, err := s.mutate("set_prop", document.SetProp{ID: id, Update: update})
		return err
	})
}

// SetProps is SetProp for a plain key/value patch.
func (s *Session) SetProps(id document.NodeID, values map[string]any) error {
	return s.SetProp(id, func(p blocks.Props) {
		for k, v := range values {
			p[k] = v
		}
	})
}

// Rename sets the layer name. An empty name restores the type name.
func (s *Session) Rename(id document.NodeID, name string) error {
	var value any
	if name != "" {
		value = name
	}
	return s.do(func() error {
		_, err := s.mutate("rename", document.SetCustom{ID: id, Key: "displayName", Value: value})
		return err
	})
}

func (s *Session) Undo() (bool, error) {
	return s.travel("undo", s.history.stepBack)
}

func (s *Session) Redo() (bool, error) {
	return s.travel("redo", s.history.stepForward)
}

func (s *Session) travel(op string, step func(*document.Store) (*document.Store, bool)) (bool, error) {
	var moved bool
	err := s.do(func() error {
		if err := s.usable(); err != nil {
			return err
		}
		s.touch()
		s.flushLocked()
		target, ok := step(s.store)
		if !ok {
			return nil
		}
		s.store = target
		s.revision++
		moved = true
		if s.observe != nil {
			s.observe(op, nil)
		}
		if s.selected != "" && !s.store.Has(s.selected) {
			s.selected = ""
			s.emit(Event{Kind: EventSelectionChanged})
		}
		s.emit(Event{Kind: EventTreeChanged})
		return nil
	})
	return moved, err
}

// History reports whether undo and redo have anything to do.
func (s *Session) History() (canUndo, canRedo bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.canUndo(), s.history.canRedo()
}

// SetEnabled toggles edit mode. Disabling commits pending text and drops
// the selection.
func (s *Session) SetEnabled(enabled bool) error {
	return s.do(func() error {
		if s.closed {
			return ErrSessionClosed
		}
		s.touch()
		if s.enabled == enabled {
			return nil
		}
		if !enabled {
			s.flushLocked()
			if s.selected != "" {
				s.selected = ""
				s.emit(Event{Kind: EventSelectionChanged})
			}
		}
		s.enabled = enabled
		s.emit(Event{Kind: EventEnabledChanged})
		return nil
	})
}

func (s *Session) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Snapshot commits pending text and returns a copy of the tree together
// with the revision it reflects.
func (s *Session) Snapshot() (*document.Store, uint64, error) {
	var (
		tree *document.Store
		rev  uint64
	)
	err := s.do(func() error {
		if s.closed {
			return ErrSessionClosed
		}
		s.touch()
		s.flushLocked()
		tree = s.store.Clone()
		rev = s.revision
		return nil
	})
	return tree, rev, err
}

// View returns a copy of the committed tree. Text still inside the debounce
// window is not part of it.
func (s *Session) View() *document.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Clone()
}

// MarkSaved records that the tree at revision rev has been persisted.
func (s *Session) MarkSaved(rev uint64) {
	_ = s.do(func() error {
		if rev > s.saved {
			s.saved = rev
			s.emit(Event{Kind: EventSaved})
		}
		return nil
	})
}

// Dirty reports whether there are changes that were not saved. Pending
// text counts.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision != s.saved || s.pending != nil
}

func (s *Session) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Close commits pending text and refuses every later call. It is safe to
// call more than once.
func (s *Session) Close() error {
	return s.do(func() error {
		if s.closed {
			return nil
		}
		s.flushLocked()
		s.closed = true
		s.selected = ""
		return nil
	})
}

// CloseIfSaved commits pending text and closes the session only when
// everything up to the current revision has been saved. It reports false,
// leaving the session open, when an edit landed after the last save.
func (s *Session) CloseIfSaved() (bool, error) {
	closed := false
	err := s.do(func() error {
		if s.closed {
			closed = true
			return nil
		}
		s.flushLocked()
		if s.revision != s.saved {
			return nil
		}
		s.closed = true
		s.selected = ""
		closed = true
		return nil
	})
	return closed, err
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) String() string {
	return fmt.Sprintf("editor session %s (menu %s)", s.id, s.menuID)
}

func contains(ids []document.NodeID, id document.NodeID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
