package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carta/api/internal/artifacts"
	"carta/api/internal/blocks"
	"carta/api/internal/codec"
	"carta/api/internal/config"
	"carta/api/internal/document"
	"carta/api/internal/editor"
	"carta/api/internal/gitrepo"
	"carta/api/internal/publish"
	"carta/api/internal/rbac"
	"carta/api/internal/search"
	"carta/api/internal/store"
)

const testSecret = "test-secret"

type fakeStore struct {
	mu         sync.Mutex
	menus      map[string]store.Menu
	publishErr error
	pingErr    error
	saves      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{menus: make(map[string]store.Menu)}
}

func (f *fakeStore) ListMenus(_ context.Context, accountID string) ([]store.Menu, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Menu, 0)
	for _, m := range f.menus {
		if m.AccountID == accountID {
			items = append(items, m)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) GetMenu(_ context.Context, menuID string) (store.Menu, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.menus[menuID]
	if !ok {
		return store.Menu{}, sql.ErrNoRows
	}
	return m, nil
}

func (f *fakeStore) GetMenuBySlug(_ context.Context, slug string) (store.Menu, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.menus {
		if m.Slug == slug {
			return m, nil
		}
	}
	return store.Menu{}, sql.ErrNoRows
}

func (f *fakeStore) InsertMenu(_ context.Context, m store.Menu) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.menus {
		if existing.Slug == m.Slug {
			return store.ErrSlugTaken
		}
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	f.menus[m.ID] = m
	return nil
}

func (f *fakeStore) RenameMenu(_ context.Context, menuID, name, updatedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.menus[menuID]
	if !ok {
		return sql.ErrNoRows
	}
	m.Name, m.UpdatedBy = name, updatedBy
	f.menus[menuID] = m
	return nil
}

func (f *fakeStore) DeleteMenu(_ context.Context, menuID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.menus[menuID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.menus, menuID)
	return nil
}

func (f *fakeStore) SaveDraft(_ context.Context, menuID, doc, updatedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.menus[menuID]
	if !ok {
		return sql.ErrNoRows
	}
	now := time.Now().UTC()
	m.DraftDocument = &doc
	m.DraftUpdatedAt = &now
	m.UpdatedBy = updatedBy
	f.menus[menuID] = m
	f.saves++
	return nil
}

func (f *fakeStore) Publish(_ context.Context, menuID, doc string, publishedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	m, ok := f.menus[menuID]
	if !ok {
		return sql.ErrNoRows
	}
	m.PublishedDocument = &doc
	m.PublishedAt = &publishedAt
	f.menus[menuID] = m
	return nil
}

func (f *fakeStore) ListPublishedMenus(_ context.Context) ([]store.Menu, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.Menu
	for _, m := range f.menus {
		if m.PublishedDocument != nil {
			items = append(items, m)
		}
	}
	return items, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) menu(id string) store.Menu {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.menus[id]
}

func (f *fakeStore) put(m store.Menu) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menus[m.ID] = m
}

type fakeHistory struct {
	mu        sync.Mutex
	drafts    []string
	publishes []gitrepo.Snapshot
	snapshots map[string]gitrepo.Snapshot
}

func (f *fakeHistory) EnsureMenuRepo(string, gitrepo.Snapshot, string) error { return nil }

func (f *fakeHistory) CommitDraft(_ string, _ gitrepo.Snapshot, _, message string) (gitrepo.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, message)
	return gitrepo.CommitInfo{Hash: "d000001", Message: message}, nil
}

func (f *fakeHistory) CommitPublish(_ string, snap gitrepo.Snapshot, _ string) (gitrepo.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishes = append(f.publishes, snap)
	return gitrepo.CommitInfo{Hash: "p000001", PublishedAt: snap.PublishedAt}, nil
}

func (f *fakeHistory) History(string, int) ([]gitrepo.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]gitrepo.CommitInfo, 0, len(f.publishes))
	for i := len(f.publishes) - 1; i >= 0; i-- {
		items = append(items, gitrepo.CommitInfo{Hash: "p000001", PublishedAt: f.publishes[i].PublishedAt})
	}
	return items, nil
}

func (f *fakeHistory) GetSnapshotByHash(_, hash string) (gitrepo.Snapshot, gitrepo.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snapshots[hash]
	if !ok {
		return gitrepo.Snapshot{}, gitrepo.CommitInfo{}, errors.New("object not found")
	}
	return snap, gitrepo.CommitInfo{Hash: hash}, nil
}

type fakeSearch struct {
	mu      sync.Mutex
	records []search.MenuRecord
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := []search.Result{}
	for _, rec := range f.records {
		if rec.AccountID == q.AccountID && strings.Contains(strings.ToLower(rec.Body), strings.ToLower(q.Text)) {
			results = append(results, search.Result{MenuID: rec.ID, Name: rec.Name, Slug: rec.Slug})
		}
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}
}

func (f *fakeSearch) IndexMenu(_ context.Context, rec search.MenuRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeSearch) DeleteMenu(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.records[:0]
	for _, rec := range f.records {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}
	f.records = kept
}

type fakePrinter struct{}

func (fakePrinter) PrintPDF(_ context.Context, html []byte) ([]byte, error) {
	return append([]byte("%PDF-1.4\n"), html[:16]...), nil
}

type harness struct {
	svc       *Service
	store     *fakeStore
	history   *fakeHistory
	search    *fakeSearch
	artifacts *artifacts.Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     newFakeStore(),
		history:   &fakeHistory{snapshots: make(map[string]gitrepo.Snapshot)},
		search:    &fakeSearch{},
		artifacts: artifacts.NewMemory("https://files.test"),
	}
	h.svc = New(config.Config{
		JWTSecret:     testSecret,
		PublicBaseURL: "https://carta.test",
		TextDebounce:  time.Hour,
		HistoryLimit:  20,
	}, Deps{
		Store:     h.store,
		History:   h.history,
		Search:    h.search,
		Artifacts: h.artifacts,
		Printer:   fakePrinter{},
	})
	return h
}

func owner(account string) Principal {
	return Principal{UserID: "u-" + account, UserName: "Ana", Role: rbac.RoleOwner, AccountID: account}
}

func encodeTree(t *testing.T, build func(s *document.Store)) string {
	t.Helper()
	tree := document.New(blocks.Default())
	if build != nil {
		build(tree)
	}
	doc, err := codec.New(blocks.Default()).Encode(tree)
	require.NoError(t, err)
	return doc
}

func nodeOfType(t *testing.T, payload map[string]any, typ blocks.Type) document.NodeID {
	t.Helper()
	for _, n := range payload["nodes"].([]map[string]any) {
		if n["type"] == typ {
			return n["id"].(document.NodeID)
		}
	}
	t.Fatalf("no %s node in payload", typ)
	return ""
}

func TestCreateMenuStartsWithStarterDraft(t *testing.T) {
	h := newHarness(t)
	payload, err := h.svc.CreateMenu(context.Background(), owner("acc1"), CreateMenuInput{Name: "  Casa Pepé "})
	require.NoError(t, err)

	menu := payload["menu"].(map[string]any)
	assert.Equal(t, "Casa Pepé", menu["name"])
	assert.Equal(t, "casa-pepe", menu["slug"])
	assert.Equal(t, true, menu["hasDraft"])
	assert.Equal(t, false, menu["isPublished"])
	assert.Equal(t, "https://carta.test/m/casa-pepe", menu["publicUrl"])

	stored := h.store.menu(menu["id"].(string))
	require.NotNil(t, stored.DraftDocument)
	tree, err := codec.New(blocks.Default()).Decode(*stored.DraftDocument)
	require.NoError(t, err)
	header, err := tree.Get(tree.Root().Children[0])
	require.NoError(t, err)
	assert.Equal(t, blocks.Header, header.Type)
	assert.Equal(t, "Casa Pepé", header.Props.String("title"))
}

func TestCreateMenuValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateMenu(ctx, owner("acc1"), CreateMenuInput{Name: "   "})
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, "VALIDATION_ERROR", domainErr.Code)
	assert.Equal(t, "name is required", domainErr.Message)

	_, err = h.svc.CreateMenu(ctx, owner("acc1"), CreateMenuInput{Name: "Bar", Slug: "Not A Slug"})
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, "VALIDATION_ERROR", domainErr.Code)

	_, err = h.svc.CreateMenu(ctx, owner("acc1"), CreateMenuInput{Name: "Bar", Slug: "bar"})
	require.NoError(t, err)
	_, err = h.svc.CreateMenu(ctx, owner("acc2"), CreateMenuInput{Name: "Bar"})
	assert.ErrorIs(t, err, store.ErrSlugTaken)
}

func TestMenusOfOtherAccountsAreHidden(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payload, err := h.svc.CreateMenu(ctx, owner("acc1"), CreateMenuInput{Name: "Bar"})
	require.NoError(t, err)
	id := payload["menu"].(map[string]any)["id"].(string)

	_, err = h.svc.GetMenu(ctx, owner("acc2"), id)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = h.svc.OpenEditor(ctx, owner("acc2"), id)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	items, err := h.svc.ListMenus(ctx, owner("acc2"))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestEditSaveAndPublish(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := owner("acc1")
	created, err := h.svc.CreateMenu(ctx, p, CreateMenuInput{Name: "La Tasca"})
	require.NoError(t, err)
	menuID := created["menu"].(map[string]any)["id"].(string)

	opened, err := h.svc.OpenEditor(ctx, p, menuID)
	require.NoError(t, err)
	sid := opened["sessionId"].(string)
	category := nodeOfType(t, opened, blocks.Category)

	inserted, err := h.svc.InsertNode(p, sid, InsertNodeInput{
		Parent: string(category),
		Node:   document.NodeSpec{Type: blocks.Text, Props: blocks.Props{"text": "Tortilla de patatas"}},
	})
	require.NoError(t, err)
	assert.Equal(t, true, inserted["dirty"])

	saved, err := h.svc.SaveEditor(ctx, p, sid)
	require.NoError(t, err)
	assert.Equal(t, true, saved["saved"])
	assert.Equal(t, false, saved["dirty"])
	assert.Equal(t, []string{"Save draft"}, h.history.drafts)

	again, err := h.svc.SaveEditor(ctx, p, sid)
	require.NoError(t, err)
	assert.Equal(t, false, again["saved"], "nothing new to save")

	_, err = h.svc.PublishEditor(ctx, p, sid, PublishInput{})
	require.Error(t, err)
	status, code, _, details := mapError(err)
	assert.Equal(t, 409, status)
	assert.Equal(t, "CONFIRMATION_REQUIRED", code)
	assert.NotEmpty(t, details.(map[string]any)["changes"])

	published, err := h.svc.PublishEditor(ctx, p, sid, PublishInput{Confirmed: true})
	require.NoError(t, err)
	assert.Contains(t, jsonString(t, published), `"state":"PUBLISHED"`)
	h.svc.WaitBackground()

	menu := h.store.menu(menuID)
	require.NotNil(t, menu.PublishedDocument)
	assert.Equal(t, *menu.DraftDocument, *menu.PublishedDocument)

	page, err := h.svc.RenderPublic(ctx, "la-tasca")
	require.NoError(t, err)
	assert.False(t, page.Failed)
	assert.Contains(t, string(page.Body), "Tortilla de patatas")
	assert.NotContains(t, string(page.Body), "data-node-id")
	assert.NotEmpty(t, page.ETag)

	stored, contentType, err := h.artifacts.Get(artifacts.PublishedPageKey("la-tasca"))
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", contentType)
	assert.Contains(t, string(stored), "Tortilla de patatas")

	require.Len(t, h.search.records, 1)
	assert.Contains(t, h.search.records[0].Body, "Tortilla de patatas")
	require.Len(t, h.history.publishes, 1)
	assert.Equal(t, *menu.PublishedDocument, h.history.publishes[0].Document)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.svc.metrics.Publishes.WithLabelValues("published")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.svc.metrics.Publishes.WithLabelValues("confirmation_required")))
}

func TestPublishWithoutChangesIsANoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := owner("acc1")
	doc := encodeTree(t, nil)
	earlier := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	h.store.put(store.Menu{ID: "m1", AccountID: "acc1", Name: "Bar", Slug: "bar", DraftDocument: &doc, PublishedDocument: &doc, PublishedAt: &earlier})

	opened, err := h.svc.OpenEditor(ctx, p, "m1")
	require.NoError(t, err)
	out, err := h.svc.PublishEditor(ctx, p, opened["sessionId"].(string), PublishInput{})
	require.NoError(t, err)
	assert.Contains(t, jsonString(t, out), `"state":"NO_DRAFT_CHANGES"`)
	assert.Equal(t, earlier, *h.store.menu("m1").PublishedAt)
}

func TestEditorsCannotPublish(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := encodeTree(t, nil)
	h.store.put(store.Menu{ID: "m1", AccountID: "acc1", Name: "Bar", Slug: "bar", DraftDocument: &doc})
	p := owner("acc1")
	p.Role = rbac.RoleEditor

	opened, err := h.svc.OpenEditor(ctx, p, "m1")
	require.NoError(t, err)
	_, err = h.svc.PublishEditor(ctx, p, opened["sessionId"].(string), PublishInput{Confirmed: true})
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, "FORBIDDEN", domainErr.Code)
}

func TestPublishWriteFailureIsRetryable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := owner("acc1")
	doc := encodeTree(t, func(s *document.Store) {
		_, _ = s.Insert(document.RootID, 0, document.NodeSpec{Type: blocks.Heading})
	})
	h.store.put(store.Menu{ID: "m1", AccountID: "acc1", Name: "Bar", Slug: "bar", DraftDocument: &doc})
	h.store.publishErr = errors.New("connection reset")

	opened, err := h.svc.OpenEditor(ctx, p, "m1")
	require.NoError(t, err)
	_, err = h.svc.PublishEditor(ctx, p, opened["sessionId"].(string), PublishInput{Confirmed: true})
	require.Error(t, err)
	status, code, _, details := mapError(err)
	assert.Equal(t, 503, status)
	assert.Equal(t, "PUBLISH_FAILED", code)
	assert.Equal(t, true, details.(map[string]any)["retryable"])
	assert.Nil(t, h.store.menu("m1").PublishedDocument)
}

func TestCorruptDraftFailsToLoadAndIsCounted(t *testing.T) {
	h := newHarness(t)
	garbage := "v2.not-base64!"
	h.store.put(store.Menu{ID: "m1", AccountID: "acc1", Name: "Bar", Slug: "bar", DraftDocument: &garbage})

	_, err := h.svc.OpenEditor(context.Background(), owner("acc1"), "m1")
	require.Error(t, err)
	status, code, _, _ := mapError(err)
	assert.Equal(t, 422, status)
	assert.Equal(t, "DOCUMENT_FAILED_TO_LOAD", code)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.svc.metrics.DecodeFailures.WithLabelValues("corrupt")))
	assert.Equal(t, 0, h.svc.editors.count())
}

func TestPublicPageFailsAsAWhole(t *testing.T) {
	h := newHarness(t)
	garbage := "not a document"
	h.store.put(store.Menu{ID: "m1", AccountID: "acc1", Name: "Bar", Slug: "bar", PublishedDocument: &garbage})

	page, err := h.svc.RenderPublic(context.Background(), "bar")
	require.NoError(t, err)
	assert.True(t, page.Failed)
	assert.Contains(t, string(page.Body), "This menu failed to load")
	assert.Empty(t, page.ETag)

	h.store.put(store.Menu{ID: "m2", AccountID: "acc1", Name: "Draft only", Slug: "draft-only", DraftDocument: &garbage})
	_, err = h.svc.RenderPublic(context.Background(), "draft-only")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSessionsArePrivateToTheirUser(t *testing.T) {
	h := newHarness(t)
	doc := encodeTree(t, nil)
	h.store.put(store.Menu{ID: "m1", AccountID: "acc1", Name: "Bar", Slug: "bar", DraftDocument: &doc})
	opened, err := h.svc.OpenEditor(context.Background(), owner("acc1"), "m1")
	require.NoError(t, err)

	colleague := owner("acc1")
	colleague.UserID = "u-other"
	_, err = h.svc.EditorState(colleague, opened["sessionId"].(string))
	assert.Equal(t, errSessionNotFound, err)
}

func TestSweepSavesAndClosesIdleSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := owner("acc1")
	doc := encodeTree(t, nil)
	h.store.put(store.Menu{ID: "m1", AccountID: "acc1", Name: "Bar", Slug: "bar", DraftDocument: &doc})

	opened, err := h.svc.OpenEditor(ctx, p, "m1")
	require.NoError(t, err)
	sid := opened["sessionId"].(string)
	_, err = h.svc.InsertNode(p, sid, InsertNodeInput{Parent: "ROOT", Node: document.NodeSpec{Type: blocks.Heading}})
	require.NoError(t, err)

	assert.Equal(t, 0, h.svc.SweepEditors(ctx, time.Hour), "recently used sessions stay open")

	h.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, 1, h.svc.SweepEditors(ctx, time.Hour))
	assert.Equal(t, 0, h.svc.editors.count())
	assert.NotEqual(t, doc, *h.store.menu("m1").DraftDocument)
	assert.Equal(t, float64(0), testutil.ToFloat64(h.svc.metrics.EditorSessions))

	_, err = h.svc.EditorState(p, sid)
	assert.Equal(t, errSessionNotFound, err)
}

func TestCloseEditorSavesEditsMadeWhileSaving(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := owner("acc1")
	doc := encodeTree(t, nil)
	h.store.put(store.Menu{ID: "m1", AccountID: "acc1", Name: "Bar", Slug: "bar", DraftDocument: &doc})

	opened, err := h.svc.OpenEditor(ctx, p, "m1")
	require.NoError(t, err)
	sid := opened["sessionId"].(string)
	_, err = h.svc.InsertNode(p, sid, InsertNodeInput{Parent: "ROOT", Node: document.NodeSpec{Type: blocks.Heading}})
	require.NoError(t, err)

	e, ok := h.svc.editors.get(sid)
	require.True(t, ok)
	late := false
	e.session.Subscribe(func(ev editor.Event) {
		if ev.Kind != editor.EventSaved || late {
			return
		}
		late = true
		_, err := e.session.Insert(document.RootID, 0, document.NodeSpec{Type: blocks.Text})
		assert.NoError(t, err)
	})

	payload, err := h.svc.CloseEditor(ctx, p, sid)
	require.NoError(t, err)
	assert.Equal(t, true, payload["closed"])
	assert.True(t, late)
	assert.True(t, e.session.Closed())
	assert.Equal(t, 0, h.svc.editors.count())

	saved, err := h.svc.codec.Decode(*h.store.menu("m1").DraftDocument)
	require.NoError(t, err)
	types := map[blocks.Type]int{}
	for _, n := range saved.Nodes() {
		types[n.Type]++
	}
	assert.Equal(t, 1, types[blocks.Heading])
	assert.Equal(t, 1, types[blocks.Text], "the edit made during the save is persisted")
}

func TestRestoreLoadsPublishedVersionIntoDraft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var headingID document.NodeID
	old := encodeTree(t, func(s *document.Store) {
		headingID, _ = s.Insert(document.RootID, 0, document.NodeSpec{Type: blocks.Heading, Props: blocks.Props{"text": "Carta de invierno"}})
	})
	current := encodeTree(t, nil)
	h.store.put(store.Menu{ID: "m1", AccountID: "acc1", Name: "Bar", Slug: "bar", DraftDocument: &current})
	h.history.snapshots["abc1234"] = gitrepo.Snapshot{Name: "Bar", Slug: "bar", Document: old}

	_, err := h.svc.Restore(ctx, owner("acc1"), "m1", RestoreInput{Hash: "abc1234"})
	require.NoError(t, err)

	draft := h.store.menu("m1").DraftDocument
	tree, err := codec.New(blocks.Default()).Decode(*draft)
	require.NoError(t, err)
	n, err := tree.Get(headingID)
	require.NoError(t, err, "node ids survive a restore")
	assert.Equal(t, "Carta de invierno", n.Props.String("text"))
	assert.Equal(t, []string{"Restore abc1234"}, h.history.drafts)

	_, err = h.svc.Restore(ctx, owner("acc1"), "m1", RestoreInput{Hash: "ffff"})
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, "VERSION_NOT_FOUND", domainErr.Code)
}

func TestExportPublishedPDFIsStored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := encodeTree(t, nil)
	at := time.Date(2024, 3, 9, 20, 30, 0, 0, time.UTC)
	h.store.put(store.Menu{ID: "m1", AccountID: "acc1", Name: "Bar", Slug: "bar", PublishedDocument: &doc, PublishedAt: &at})

	result, err := h.svc.Export(ctx, owner("acc1"), "m1", "pdf", "")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.MimeType)
	_, _, err = h.artifacts.Get(artifacts.ExportKey("m1", at, result.Filename))
	assert.NoError(t, err)

	_, err = h.svc.Export(ctx, owner("acc1"), "m1", "html", "draft")
	require.Error(t, err)
	_, code, _, _ := mapError(err)
	assert.Equal(t, "NOTHING_TO_EXPORT", code)
}

func TestSearchIsScopedToAccount(t *testing.T) {
	h := newHarness(t)
	h.search.records = []search.MenuRecord{
		{ID: "m1", AccountID: "acc1", Name: "Bar", Slug: "bar", Body: "croquetas"},
		{ID: "m2", AccountID: "acc2", Name: "Otro", Slug: "otro", Body: "croquetas"},
	}
	resp, err := h.svc.Search(context.Background(), owner("acc1"), " croquetas ", 0, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "m1", resp.Results[0].MenuID)
}

func TestSearchRecordsSkipBrokenMenus(t *testing.T) {
	h := newHarness(t)
	doc := encodeTree(t, func(s *document.Store) {
		_, _ = s.Insert(document.RootID, 0, document.NodeSpec{Type: blocks.Category, Props: blocks.Props{"name": "Postres"}})
	})
	broken := "garbage"
	at := time.Unix(1700000000, 0).UTC()
	h.store.put(store.Menu{ID: "m1", AccountID: "acc1", Name: "Bar", Slug: "bar", PublishedDocument: &doc, PublishedAt: &at})
	h.store.put(store.Menu{ID: "m2", AccountID: "acc1", Name: "Rota", Slug: "rota", PublishedDocument: &broken})

	records, err := h.svc.SearchRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "m1", records[0].ID)
	assert.Equal(t, int64(1700000000), records[0].PublishedAt)
}

func TestMutationErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&document.MutationError{Op: "remove", ID: "ROOT", Err: document.ErrNotDeletable}, 409, "NOT_DELETABLE"},
		{&document.MutationError{Op: "move", ID: "a", Err: document.ErrCycleDetected}, 409, "CYCLE_DETECTED"},
		{&document.MutationError{Op: "insert", ID: "a", Err: document.ErrInvalidParent}, 409, "INVALID_PARENT"},
		{&document.MutationError{Op: "move", ID: "a", Err: document.ErrNotDraggable}, 409, "NOT_DRAGGABLE"},
		{&document.MutationError{Op: "remove", ID: "a", Err: document.ErrNodeNotFound}, 404, "NODE_NOT_FOUND"},
		{&document.MutationError{Op: "insert", ID: "a", Err: fmt.Errorf("%w: %w", document.ErrInvalidParent, document.ErrNodeNotFound)}, 404, "NODE_NOT_FOUND"},
		{&document.MutationError{Op: "insert", ID: "a", Err: document.ErrIndexOutOfRange}, 422, "INDEX_OUT_OF_RANGE"},
		{&document.MutationError{Op: "insert", ID: "a", Err: blocks.ErrUnknownBlockType}, 422, "UNKNOWN_BLOCK_TYPE"},
		{sql.ErrNoRows, 404, "NOT_FOUND"},
		{errors.New("boom"), 500, "SERVER_ERROR"},
	}
	for _, tc := range cases {
		status, code, _, _ := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.code)
		assert.Equal(t, tc.code, code)
	}
}

func TestRenameMenuKeepsSlugAndUpdatesSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := owner("acc1")
	doc := encodeTree(t, nil)
	h.store.put(store.Menu{ID: "m1", AccountID: "acc1", Name: "Bar", Slug: "bar", DraftDocument: &doc})
	opened, err := h.svc.OpenEditor(ctx, p, "m1")
	require.NoError(t, err)

	out, err := h.svc.RenameMenu(ctx, p, "m1", RenameMenuInput{Name: " Bar Pepe "})
	require.NoError(t, err)
	menu := out["menu"].(map[string]any)
	assert.Equal(t, "Bar Pepe", menu["name"])
	assert.Equal(t, "bar", menu["slug"])

	page, err := h.svc.Preview(p, opened["sessionId"].(string))
	require.NoError(t, err)
	assert.Contains(t, string(page), "Bar Pepe")
}

func TestDeleteMenuDiscardsSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := encodeTree(t, nil)
	h.store.put(store.Menu{ID: "m1", AccountID: "acc1", Name: "Bar", Slug: "bar", DraftDocument: &doc})
	h.search.records = []search.MenuRecord{{ID: "m1", AccountID: "acc1", Body: "bar"}}
	opened, err := h.svc.OpenEditor(ctx, owner("acc1"), "m1")
	require.NoError(t, err)
	_, err = h.svc.PublishState(ctx, owner("acc1"), "m1")
	require.NoError(t, err)
	require.Equal(t, publish.DraftAhead, h.svc.publisher.State("m1"))

	editorRole := owner("acc1")
	editorRole.Role = rbac.RoleEditor
	err = h.svc.DeleteMenu(ctx, editorRole, "m1")
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, "FORBIDDEN", domainErr.Code)

	require.NoError(t, h.svc.DeleteMenu(ctx, owner("acc1"), "m1"))
	_, err = h.svc.GetMenu(ctx, owner("acc1"), "m1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = h.svc.EditorState(owner("acc1"), opened["sessionId"].(string))
	assert.Equal(t, errSessionNotFound, err)
	assert.Empty(t, h.search.records)
	assert.Equal(t, float64(0), testutil.ToFloat64(h.svc.metrics.EditorSessions))
	assert.Equal(t, publish.NoDraftChanges, h.svc.publisher.State("m1"), "publish state of a deleted menu is dropped")
}
