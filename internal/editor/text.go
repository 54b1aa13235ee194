package editor

import (
	"time"

	"go.uber.org/zap"

	"carta/api/internal/blocks"
	"carta/api/internal/document"
)

type textKey struct {
	id   document.NodeID
	prop string
}

// pendingText is the newest value typed into one (node, prop) pair that
// has not been committed yet. At most one is pending: typing into another
// field commits the previous one first.
type pendingText struct {
	key   textKey
	value string
	seq   uint64
	timer *time.Timer
}

// EditText records a keystroke-level edit. The value commits as a single
// prop change once input pauses for the debounce window, or earlier when
// anything else needs the tree.
func (s *Session) EditText(id document.NodeID, prop, value string) error {
	return s.do(func() error {
		if err := s.usable(); err != nil {
			return err
		}
		if _, err := s.store.Get(id); err != nil {
			return err
		}
		s.touch()
		key := textKey{id: id, prop: prop}
		if s.pending != nil && s.pending.key != key {
			s.flushLocked()
		}
		if s.pending == nil {
			s.pending = &pendingText{key: key}
		} else {
			s.pending.timer.Stop()
		}
		s.textSeq++
		seq := s.textSeq
		s.pending.value = value
		s.pending.seq = seq
		s.pending.timer = time.AfterFunc(s.debounce, func() {
			s.commitDue(seq)
		})
		return nil
	})
}

// Flush commits pending text now.
func (s *Session) Flush() error {
	return s.do(func() error {
		if s.closed {
			return ErrSessionClosed
		}
		s.flushLocked()
		return nil
	})
}

// Pending reports the uncommitted text edit, if any.
func (s *Session) Pending() (id document.NodeID, prop, value string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return "", "", "", false
	}
	return s.pending.key.id, s.pending.key.prop, s.pending.value, true
}

func (s *Session) commitDue(seq uint64) {
	_ = s.do(func() error {
		// A newer keystroke or an earlier flush already took care of it.
		if s.pending == nil || s.pending.seq != seq {
			return nil
		}
		s.flushLocked()
		return nil
	})
}

func (s *Session) flushLocked() {
	p := s.pending
	if p == nil {
		return
	}
	s.pending = nil
	p.timer.Stop()

	value := p.value
	_, err := s.applyLocked("text", document.SetProp{ID: p.key.id, Update: func(props blocks.Props) {
		props[p.key.prop] = value
	}})
	if err != nil {
		s.logger.Warn("dropped text edit",
			zap.String("node_id", string(p.key.id)),
			zap.String("prop", p.key.prop),
			zap.Error(err),
		)
	}
}
