// Package publish keeps the live menu in step with its draft.
//
// A menu has at most one draft document and one published document. The
// coordinator compares them structurally, asks for confirmation before
// overwriting what diners see, writes the draft as the new published
// document and then runs the publish hooks.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"carta/api/internal/document"
)

type State string

const (
	NoDraftChanges State = "NO_DRAFT_CHANGES"
	DraftAhead     State = "DRAFT_AHEAD"
	Publishing     State = "PUBLISHING"
	Published      State = "PUBLISHED"
)

var (
	ErrConfirmationRequired = errors.New("publish needs confirmation")
	ErrPublishWriteFailed   = errors.New("publish write failed")
)

// ConfirmationError carries the changes the user is asked to confirm.
type ConfirmationError struct {
	Changes []document.Difference
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("%v: %d changes", ErrConfirmationRequired, len(e.Changes))
}

func (e *ConfirmationError) Unwrap() error {
	return ErrConfirmationRequired
}

// PublishWriteError wraps the persistence failure. The draft is untouched
// and the publish can be retried.
type PublishWriteError struct {
	MenuID string
	Err    error
}

func (e *PublishWriteError) Error() string {
	return fmt.Sprintf("%v: menu %s: %v", ErrPublishWriteFailed, e.MenuID, e.Err)
}

func (e *PublishWriteError) Unwrap() []error {
	return []error{ErrPublishWriteFailed, e.Err}
}

func (e *PublishWriteError) Retryable() bool { return true }

// Documents are the stored texts of one menu. Nil means absent.
type Documents struct {
	Draft       *string
	Published   *string
	PublishedAt *time.Time
}

type Persistence interface {
	LoadMenuDocument(ctx context.Context, menuID string) (Documents, error)
	Publish(ctx context.Context, menuID, doc string, publishedAt time.Time) error
}

type Decoder interface {
	Decode(payload string) (*document.Store, error)
}

// Preferences remembers the "don't ask again" answer per scope, usually an
// editor session.
type Preferences interface {
	SkipPublishConfirm(ctx context.Context, scope string) (bool, error)
	RememberSkipPublishConfirm(ctx context.Context, scope string) error
}

// Event is what publish hooks receive.
type Event struct {
	MenuID      string
	Document    string
	Tree        *document.Store
	PublishedAt time.Time
	Actor       string
}

type Hook struct {
	Name string
	Run  func(ctx context.Context, e Event) error
}

type Option func(*Coordinator)

func WithPreferences(p Preferences) Option {
	return func(c *Coordinator) { c.prefs = p }
}

func WithHooks(hooks ...Hook) Option {
	return func(c *Coordinator) { c.hooks = append(c.hooks, hooks...) }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHookTimeout bounds each hook run.
func WithHookTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.hookTimeout = d }
}

type Coordinator struct {
	persistence Persistence
	decoder     Decoder
	prefs       Preferences
	hooks       []Hook
	now         func() time.Time
	logger      *zap.Logger
	hookTimeout time.Duration

	mu     sync.Mutex
	states map[string]State
	locks  map[string]*sync.Mutex

	hookRuns sync.WaitGroup
}

func NewCoordinator(persistence Persistence, decoder Decoder, opts ...Option) *Coordinator {
	c := &Coordinator{
		persistence: persistence,
		decoder:     decoder,
		now:         time.Now,
		logger:      zap.NewNop(),
		hookTimeout: 2 * time.Minute,
		states:      make(map[string]State),
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status is the result of comparing draft and published documents.
type Status struct {
	MenuID      string                `json:"menuId"`
	State       State                 `json:"state"`
	HasDraft    bool                  `json:"hasDraft"`
	PublishedAt *time.Time            `json:"publishedAt,omitempty"`
	Changes     []document.Difference `json:"changes"`

	draft     string
	draftTree *document.Store
}

// State is the last known state of a menu, without touching storage.
func (c *Coordinator) State(menuID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.states[menuID]; ok {
		return s
	}
	return NoDraftChanges
}

func (c *Coordinator) setState(menuID string, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[menuID] = s
}

func (c *Coordinator) menuLock(menuID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[menuID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[menuID] = lock
	}
	return lock
}

// Forget drops what the coordinator remembers about a deleted menu. It
// waits for a refresh or sync of that menu to finish first.
func (c *Coordinator) Forget(menuID string) {
	lock := c.menuLock(menuID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, menuID)
	delete(c.locks, menuID)
}

// Refresh loads both documents and diffs them. A draft that fails to decode
// is an error; a published document that fails to decode counts as drift so
// that publishing repairs it.
func (c *Coordinator) Refresh(ctx context.Context, menuID string) (Status, error) {
	lock := c.menuLock(menuID)
	lock.Lock()
	defer lock.Unlock()
	return c.refresh(ctx, menuID)
}

func (c *Coordinator) refresh(ctx context.Context, menuID string) (Status, error) {
	docs, err := c.persistence.LoadMenuDocument(ctx, menuID)
	if err != nil {
		return Status{}, fmt.Errorf("load menu documents: %w", err)
	}
	status := Status{MenuID: menuID, PublishedAt: docs.PublishedAt, Changes: []document.Difference{}}
	if docs.Draft == nil {
		status.State = NoDraftChanges
		c.setState(menuID, status.State)
		return status, nil
	}
	status.HasDraft = true
	draft, err := c.decoder.Decode(*docs.Draft)
	if err != nil {
		return Status{}, fmt.Errorf("decode draft: %w", err)
	}
	status.draft = *docs.Draft
	status.draftTree = draft

	var published *document.Store
	if docs.Published != nil {
		published, err = c.decoder.Decode(*docs.Published)
		if err != nil {
			c.logger.Warn("published document does not decode, treating as drift",
				zap.String("menu_id", menuID), zap.Error(err))
			published = nil
		}
	}
	if diff := document.Diff(published, draft); len(diff) > 0 {
		status.Changes = diff
		status.State = DraftAhead
	} else {
		status.State = NoDraftChanges
	}
	c.setState(menuID, status.State)
	return status, nil
}

type SyncOptions struct {
	// Confirmed is set when the user accepted the change summary.
	Confirmed bool
	// DontAskAgain remembers the confirmation for Scope.
	DontAskAgain bool
	Scope        string
	Actor        string
}

// Sync publishes the draft when it differs from the live document. Without
// drift nothing is written and the published-at stamp stays as it was.
func (c *Coordinator) Sync(ctx context.Context, menuID string, opts SyncOptions) (Status, error) {
	lock := c.menuLock(menuID)
	lock.Lock()
	defer lock.Unlock()

	status, err := c.refresh(ctx, menuID)
	if err != nil {
		return Status{}, err
	}
	if status.State == NoDraftChanges {
		return status, nil
	}

	if !opts.Confirmed && !c.skipConfirm(ctx, opts.Scope) {
		return status, &ConfirmationError{Changes: status.Changes}
	}
	if opts.Confirmed && opts.DontAskAgain && c.prefs != nil && opts.Scope != "" {
		if err := c.prefs.RememberSkipPublishConfirm(ctx, opts.Scope); err != nil {
			c.logger.Warn("remember publish confirmation", zap.String("scope", opts.Scope), zap.Error(err))
		}
	}

	c.setState(menuID, Publishing)
	publishedAt := c.now().UTC()
	if err := c.persistence.Publish(ctx, menuID, status.draft, publishedAt); err != nil {
		c.setState(menuID, DraftAhead)
		c.logger.Error("publish write failed", zap.String("menu_id", menuID), zap.Error(err))
		return status, &PublishWriteError{MenuID: menuID, Err: err}
	}

	c.setState(menuID, Published)
	status.State = Published
	status.PublishedAt = &publishedAt
	c.logger.Info("menu published",
		zap.String("menu_id", menuID),
		zap.String("actor", opts.Actor),
		zap.Int("changes", len(status.Changes)),
	)
	c.runHooks(ctx, Event{
		MenuID:      menuID,
		Document:    status.draft,
		Tree:        status.draftTree,
		PublishedAt: publishedAt,
		Actor:       opts.Actor,
	})
	return status, nil
}

func (c *Coordinator) skipConfirm(ctx context.Context, scope string) bool {
	if c.prefs == nil || scope == "" {
		return false
	}
	skip, err := c.prefs.SkipPublishConfirm(ctx, scope)
	if err != nil {
		c.logger.Warn("read publish confirmation preference", zap.String("scope", scope), zap.Error(err))
		return false
	}
	return skip
}

// runHooks starts every hook in the background. A failing hook is logged
// and never affects the publish or the other hooks.
func (c *Coordinator) runHooks(ctx context.Context, e Event) {
	if len(c.hooks) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)
	c.hookRuns.Add(1)
	go func() {
		defer c.hookRuns.Done()
		var g errgroup.Group
		g.SetLimit(4)
		for _, hook := range c.hooks {
			g.Go(func() error {
				hookCtx, cancel := context.WithTimeout(base, c.hookTimeout)
				defer cancel()
				if err := hook.Run(hookCtx, e); err != nil {
					c.logger.Warn("publish hook failed",
						zap.String("hook", hook.Name),
						zap.String("menu_id", e.MenuID),
						zap.Error(err),
					)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// WaitHooks blocks until every started hook run has finished.
func (c *Coordinator) WaitHooks() {
	c.hookRuns.Wait()
}
