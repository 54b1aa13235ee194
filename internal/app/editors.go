package app

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"carta/api/internal/blocks"
	"carta/api/internal/document"
	"carta/api/internal/editor"
	"carta/api/internal/gitrepo"
	"carta/api/internal/publish"
	"carta/api/internal/rbac"
	"carta/api/internal/render"
	"carta/api/internal/util"
)

// editorEntry is one open editing session and who owns it.
type editorEntry struct {
	session   *editor.Session
	menuID    string
	menuName  string
	menuSlug  string
	accountID string
	userID    string
	actor     string

	// saveMu keeps two saves of the same session from interleaving their
	// writes. It also guards menuName.
	saveMu sync.Mutex
}

func (e *editorEntry) rename(name string) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	e.menuName = name
}

func (e *editorEntry) name() string {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	return e.menuName
}

type editorRegistry struct {
	mu       sync.Mutex
	sessions map[string]*editorEntry
}

func newEditorRegistry() *editorRegistry {
	return &editorRegistry{sessions: make(map[string]*editorEntry)}
}

func (r *editorRegistry) add(e *editorEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[e.session.ID()] = e
}

func (r *editorRegistry) get(id string) (*editorEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	return e, ok
}

func (r *editorRegistry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

func (r *editorRegistry) idleSince(cutoff time.Time) []*editorEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*editorEntry
	for _, e := range r.sessions {
		if e.session.LastUsed().Before(cutoff) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].session.ID() < out[j].session.ID() })
	return out
}

func (r *editorRegistry) forMenu(menuID string) []*editorEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*editorEntry
	for _, e := range r.sessions {
		if e.menuID == menuID {
			out = append(out, e)
		}
	}
	return out
}

func (r *editorRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// OpenEditor starts an editing session on the draft of a menu. A menu
// without a draft starts from its published document, or from the starter
// layout when it has neither.
func (s *Service) OpenEditor(ctx context.Context, p Principal, menuID string) (map[string]any, error) {
	m, err := s.menuForAccount(ctx, p, menuID)
	if err != nil {
		return nil, err
	}
	var tree *document.Store
	switch {
	case m.DraftDocument != nil:
		tree, err = s.decoder.Decode(*m.DraftDocument)
	case m.PublishedDocument != nil:
		tree, err = s.decoder.Decode(*m.PublishedDocument)
	default:
		tree, err = starterMenu(s.registry, m.Name)
	}
	if err != nil {
		return nil, err
	}

	id := util.NewID("ed")
	entry := &editorEntry{
		session: editor.NewSession(id, m.ID, tree,
			editor.WithLogger(s.logger.Named("editor")),
			editor.WithTextDebounce(s.cfg.TextDebounce),
			editor.WithHistoryLimit(s.cfg.HistoryLimit),
			editor.WithObserver(s.metrics.recordMutation),
		),
		menuID:    m.ID,
		menuName:  m.Name,
		menuSlug:  m.Slug,
		accountID: m.AccountID,
		userID:    p.UserID,
		actor:     p.UserName,
	}
	s.editors.add(entry)
	s.metrics.EditorSessions.Inc()
	s.logger.Info("editor session opened",
		zap.String("session_id", id),
		zap.String("menu_id", m.ID),
		zap.String("user_id", p.UserID),
	)
	return s.editorPayload(entry, true), nil
}

// editorFor resolves a session owned by the caller. Sessions of other
// users are reported as missing.
func (s *Service) editorFor(p Principal, sessionID string) (*editorEntry, error) {
	e, ok := s.editors.get(sessionID)
	if !ok || e.userID != p.UserID || e.accountID != p.AccountID {
		return nil, errSessionNotFound
	}
	return e, nil
}

func (s *Service) editorPayload(e *editorEntry, withTree bool) map[string]any {
	canUndo, canRedo := e.session.History()
	payload := map[string]any{
		"sessionId": e.session.ID(),
		"menuId":    e.menuID,
		"revision":  e.session.Revision(),
		"dirty":     e.session.Dirty(),
		"enabled":   e.session.Enabled(),
		"selection": e.session.Selection(),
		"canUndo":   canUndo,
		"canRedo":   canRedo,
	}
	if withTree {
		payload["nodes"] = treePayload(e.session.View())
	}
	return payload
}

// treePayload lists the nodes in render order.
func treePayload(tree *document.Store) []map[string]any {
	registry := tree.Registry()
	nodes := make([]map[string]any, 0, tree.Len())
	_ = tree.Walk(func(n document.Node, depth int) error {
		rules := registry.Rules(n.Type)
		item := map[string]any{
			"id":          n.ID,
			"type":        n.Type,
			"displayName": n.DisplayName(),
			"parent":      n.Parent,
			"children":    n.Children,
			"depth":       depth,
			"props":       registry.WithDefaults(n.Type, n.Props),
			"draggable":   n.ID != document.RootID && rules.Draggable,
			"deletable":   n.ID != document.RootID && rules.Deletable,
			"palette":     registry.Palette(n.Type),
		}
		if len(n.Custom) > 0 {
			item["custom"] = n.Custom
		}
		nodes = append(nodes, item)
		return nil
	})
	return nodes
}

func (s *Service) EditorState(p Principal, sessionID string) (map[string]any, error) {
	e, err := s.editorFor(p, sessionID)
	if err != nil {
		return nil, err
	}
	return s.editorPayload(e, true), nil
}

type InsertNodeInput struct {
	Parent string            `json:"parent" validate:"required"`
	Index  *int              `json:"index" validate:"omitempty,min=0"`
	Node   document.NodeSpec `json:"node"`
}

func (s *Service) InsertNode(p Principal, sessionID string, input InsertNodeInput) (map[string]any, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if input.Node.Type == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "node.type is required", nil)
	}
	e, err := s.editorFor(p, sessionID)
	if err != nil {
		return nil, err
	}
	parent := document.NodeID(input.Parent)
	var id document.NodeID
	if input.Index == nil {
		id, err = e.session.Append(parent, input.Node)
	} else {
		id, err = e.session.Insert(parent, *input.Index, input.Node)
	}
	if err != nil {
		return nil, err
	}
	payload := s.editorPayload(e, true)
	payload["id"] = id
	return payload, nil
}

type MoveNodeInput struct {
	Parent string `json:"parent" validate:"required"`
	Index  int    `json:"index" validate:"min=0"`
}

func (s *Service) MoveNode(p Principal, sessionID, nodeID string, input MoveNodeInput) (map[string]any, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	e, err := s.editorFor(p, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.session.Move(document.NodeID(nodeID), document.NodeID(input.Parent), input.Index); err != nil {
		return nil, err
	}
	return s.editorPayload(e, true), nil
}

func (s *Service) RemoveNode(p Principal, sessionID, nodeID string) (map[string]any, error) {
	e, err := s.editorFor(p, sessionID)
	if err != nil {
		return nil, err
	}
	removed, err := e.session.Remove(document.NodeID(nodeID))
	if err != nil {
		return nil, err
	}
	payload := s.editorPayload(e, true)
	payload["removed"] = removed
	return payload, nil
}

type SetPropsInput struct {
	Props map[string]any `json:"props" validate:"required,min=1"`
}

// SetProps commits a settings change immediately. A nil value resets the
// prop to its default.
func (s *Service) SetProps(p Principal, sessionID, nodeID string, input SetPropsInput) (map[string]any, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	e, err := s.editorFor(p, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.session.SetProps(document.NodeID(nodeID), input.Props); err != nil {
		return nil, err
	}
	return s.editorPayload(e, false), nil
}

type EditTextInput struct {
	Prop  string `json:"prop" validate:"required"`
	Value string `json:"value"`
}

// EditText feeds the debouncer. The response reflects the committed tree,
// which does not contain the value until input pauses.
func (s *Service) EditText(p Principal, sessionID, nodeID string, input EditTextInput) (map[string]any, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	e, err := s.editorFor(p, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.session.EditText(document.NodeID(nodeID), input.Prop, input.Value); err != nil {
		return nil, err
	}
	payload := s.editorPayload(e, false)
	payload["pending"] = true
	return payload, nil
}

type RenameNodeInput struct {
	Name string `json:"name" validate:"max=80"`
}

func (s *Service) RenameNode(p Principal, sessionID, nodeID string, input RenameNodeInput) (map[string]any, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	e, err := s.editorFor(p, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.session.Rename(document.NodeID(nodeID), input.Name); err != nil {
		return nil, err
	}
	return s.editorPayload(e, false), nil
}

type SelectInput struct {
	ID string `json:"id" validate:"required"`
}

func (s *Service) Select(p Principal, sessionID string, input SelectInput) (map[string]any, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	e, err := s.editorFor(p, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.session.Select(document.NodeID(input.ID)); err != nil {
		return nil, err
	}
	return s.panelPayload(e)
}

func (s *Service) Deselect(p Principal, sessionID string) (map[string]any, error) {
	e, err := s.editorFor(p, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.session.Deselect(); err != nil {
		return nil, err
	}
	return s.panelPayload(e)
}

func (s *Service) Panel(p Principal, sessionID string) (map[string]any, error) {
	e, err := s.editorFor(p, sessionID)
	if err != nil {
		return nil, err
	}
	return s.panelPayload(e)
}

func (s *Service) panelPayload(e *editorEntry) (map[string]any, error) {
	view, err := e.session.Panel()
	if err != nil {
		return nil, err
	}
	return map[string]any{"panel": view, "selection": view.Selection}, nil
}

func (s *Service) Undo(p Principal, sessionID string) (map[string]any, error) {
	return s.travel(p, sessionID, (*editor.Session).Undo)
}

func (s *Service) Redo(p Principal, sessionID string) (map[string]any, error) {
	return s.travel(p, sessionID, (*editor.Session).Redo)
}

func (s *Service) travel(p Principal, sessionID string, step func(*editor.Session) (bool, error)) (map[string]any, error) {
	e, err := s.editorFor(p, sessionID)
	if err != nil {
		return nil, err
	}
	moved, err := step(e.session)
	if err != nil {
		return nil, err
	}
	payload := s.editorPayload(e, true)
	payload["changed"] = moved
	return payload, nil
}

// Flush commits pending text without waiting for the debounce window.
func (s *Service) Flush(p Principal, sessionID string) (map[string]any, error) {
	e, err := s.editorFor(p, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.session.Flush(); err != nil {
		return nil, err
	}
	return s.editorPayload(e, false), nil
}

type SetEnabledInput struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (s *Service) SetEnabled(p Principal, sessionID string, input SetEnabledInput) (map[string]any, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	e, err := s.editorFor(p, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.session.SetEnabled(*input.Enabled); err != nil {
		return nil, err
	}
	return s.editorPayload(e, false), nil
}

// Preview renders the session tree in editable mode.
func (s *Service) Preview(p Principal, sessionID string) ([]byte, error) {
	e, err := s.editorFor(p, sessionID)
	if err != nil {
		return nil, err
	}
	body, err := render.Body(e.session.View(), render.Preview)
	if err != nil {
		return nil, err
	}
	return render.Page(render.PageData{Title: e.name(), Body: body, Preview: true})
}

func (s *Service) SaveEditor(ctx context.Context, p Principal, sessionID string) (map[string]any, error) {
	e, err := s.editorFor(p, sessionID)
	if err != nil {
		return nil, err
	}
	saved, err := s.save(ctx, e)
	if err != nil {
		return nil, err
	}
	payload := s.editorPayload(e, false)
	payload["saved"] = saved
	return payload, nil
}

// save writes the session tree as the menu draft. It reports false when
// there was nothing to write. The history commit is best effort.
func (s *Service) save(ctx context.Context, e *editorEntry) (bool, error) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	if !e.session.Dirty() {
		return false, nil
	}
	tree, rev, err := e.session.Snapshot()
	if err != nil {
		return false, err
	}
	doc, err := s.codec.Encode(tree)
	if err != nil {
		return false, err
	}
	if err := s.store.SaveDraft(ctx, e.menuID, doc, e.actor); err != nil {
		return false, err
	}
	e.session.MarkSaved(rev)

	if s.git != nil {
		snap := gitrepo.Snapshot{Name: e.menuName, Slug: e.menuSlug, Document: doc}
		if _, err := s.git.CommitDraft(e.menuID, snap, e.actor, "Save draft"); err != nil {
			s.logger.Warn("commit draft history", zap.String("menu_id", e.menuID), zap.Error(err))
		}
	}
	return true, nil
}

type PublishInput struct {
	Confirmed    bool `json:"confirmed"`
	DontAskAgain bool `json:"dontAskAgain"`
}

// PublishEditor saves the session and publishes the draft. The
// confirmation answer is remembered per editing session.
func (s *Service) PublishEditor(ctx context.Context, p Principal, sessionID string, input PublishInput) (map[string]any, error) {
	if !s.Can(p, rbac.ActionPublish) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	e, err := s.editorFor(p, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.save(ctx, e); err != nil {
		s.metrics.recordPublish("save_failed")
		return nil, err
	}
	status, err := s.publisher.Sync(ctx, e.menuID, publish.SyncOptions{
		Confirmed:    input.Confirmed,
		DontAskAgain: input.DontAskAgain,
		Scope:        sessionID,
		Actor:        p.UserName,
	})
	s.metrics.recordPublish(publishResult(status, err))
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": status}, nil
}

func publishResult(status publish.Status, err error) string {
	switch {
	case err == nil && status.State == publish.Published:
		return "published"
	case err == nil:
		return "unchanged"
	case errors.Is(err, publish.ErrConfirmationRequired):
		return "confirmation_required"
	case errors.Is(err, publish.ErrPublishWriteFailed):
		return "write_failed"
	}
	return "error"
}

// CloseEditor saves pending work and ends the session. A failed save keeps
// the session open so the caller can retry.
func (s *Service) CloseEditor(ctx context.Context, p Principal, sessionID string) (map[string]any, error) {
	e, err := s.editorFor(p, sessionID)
	if err != nil {
		return nil, err
	}
	saved, err := s.closeEntry(ctx, e)
	if err != nil {
		return nil, err
	}
	return map[string]any{"closed": true, "saved": saved}, nil
}

// closeAttempts bounds how often closeEntry saves again because an edit
// landed between its save and the close.
const closeAttempts = 3

func (s *Service) closeEntry(ctx context.Context, e *editorEntry) (bool, error) {
	if err := e.session.Flush(); err != nil && !errors.Is(err, editor.ErrSessionClosed) {
		return false, err
	}
	saved := false
	for attempt := 0; attempt < closeAttempts; attempt++ {
		wrote, err := s.save(ctx, e)
		if err != nil && !errors.Is(err, editor.ErrSessionClosed) {
			return saved, err
		}
		saved = saved || wrote
		closed, err := e.session.CloseIfSaved()
		if err != nil {
			return saved, err
		}
		if closed {
			if s.editors.remove(e.session.ID()) {
				s.metrics.EditorSessions.Dec()
			}
			return saved, nil
		}
	}
	return saved, errSessionBusy
}

// SweepEditors closes every session idle for longer than ttl. Sessions
// whose save fails stay open for the next sweep.
func (s *Service) SweepEditors(ctx context.Context, ttl time.Duration) int {
	closed := 0
	for _, e := range s.editors.idleSince(s.now().Add(-ttl)) {
		if _, err := s.closeEntry(ctx, e); err != nil {
			s.logger.Warn("close idle editor session",
				zap.String("session_id", e.session.ID()),
				zap.String("menu_id", e.menuID),
				zap.Error(err),
			)
			continue
		}
		closed++
	}
	if closed > 0 {
		s.logger.Info("idle editor sessions closed", zap.Int("count", closed))
	}
	return closed
}

// CloseAllEditors saves and closes every session, used on shutdown.
func (s *Service) CloseAllEditors(ctx context.Context) {
	s.SweepEditors(ctx, -time.Hour)
}

// starterMenu is the layout a new menu begins with.
func starterMenu(registry *blocks.Registry, name string) (*document.Store, error) {
	tree := document.New(registry)
	layout := []document.NodeSpec{
		{Type: blocks.Header, Props: blocks.Props{"title": name}},
		{Type: blocks.Navigator},
		{Type: blocks.Category, Props: blocks.Props{"name": "Entrantes"}, Children: []document.NodeSpec{
			{Type: blocks.Heading, Props: blocks.Props{"text": "Croquetas caseras"}},
			{Type: blocks.Text, Props: blocks.Props{"text": "Describe el plato y su precio."}},
		}},
		{Type: blocks.Category, Props: blocks.Props{"name": "Principales"}},
		{Type: blocks.Category, Props: blocks.Props{"name": "Postres"}},
	}
	for i, spec := range layout {
		if _, err := tree.Insert(document.RootID, i, spec); err != nil {
			return nil, err
		}
	}
	return tree, nil
}
