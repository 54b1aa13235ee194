package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"carta/api/internal/artifacts"
	"carta/api/internal/auth"
	"carta/api/internal/blocks"
	"carta/api/internal/codec"
	"carta/api/internal/config"
	"carta/api/internal/document"
	"carta/api/internal/export"
	"carta/api/internal/gitrepo"
	"carta/api/internal/publish"
	"carta/api/internal/rbac"
	"carta/api/internal/render"
	"carta/api/internal/search"
	"carta/api/internal/session"
	"carta/api/internal/store"
	"carta/api/internal/util"
)

// Principal is the caller identified by a verified bearer token.
type Principal struct {
	Token     string
	UserID    string
	UserName  string
	Role      rbac.Role
	AccountID string
	JTI       string
	ExpiresAt time.Time
}

type dataStore interface {
	ListMenus(ctx context.Context, accountID string) ([]store.Menu, error)
	GetMenu(ctx context.Context, menuID string) (store.Menu, error)
	GetMenuBySlug(ctx context.Context, slug string) (store.Menu, error)
	InsertMenu(ctx context.Context, m store.Menu) error
	RenameMenu(ctx context.Context, menuID, name, updatedBy string) error
	DeleteMenu(ctx context.Context, menuID string) error
	SaveDraft(ctx context.Context, menuID, doc, updatedBy string) error
	Publish(ctx context.Context, menuID, doc string, publishedAt time.Time) error
	ListPublishedMenus(ctx context.Context) ([]store.Menu, error)
	Ping(ctx context.Context) error
}

type historyService interface {
	EnsureMenuRepo(menuID string, initial gitrepo.Snapshot, author string) error
	CommitDraft(menuID string, snap gitrepo.Snapshot, author, message string) (gitrepo.CommitInfo, error)
	CommitPublish(menuID string, snap gitrepo.Snapshot, author string) (gitrepo.CommitInfo, error)
	History(menuID string, limit int) ([]gitrepo.CommitInfo, error)
	GetSnapshotByHash(menuID, hash string) (gitrepo.Snapshot, gitrepo.CommitInfo, error)
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexMenu(ctx context.Context, rec search.MenuRecord) error
	DeleteMenu(id string)
}

// sessionStore keeps publish preferences and revoked tokens. Redis in
// production, memory otherwise.
type sessionStore interface {
	publish.Preferences
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Deps are the collaborators of a Service. Store is required; History and
// Search may be nil and the features built on them are skipped.
type Deps struct {
	Store     dataStore
	History   historyService
	Search    searchIndex
	Artifacts artifacts.Store
	Sessions  sessionStore
	Exporter  exporter
	Printer   export.Printer
	Metrics   *Metrics
	Logger    *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	git       historyService
	search    searchIndex
	artifacts artifacts.Store
	sessions  sessionStore
	exporter  exporter
	registry  *blocks.Registry
	codec     *codec.Codec
	decoder   *meteredDecoder
	publisher *publish.Coordinator
	editors   *editorRegistry
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	registry := blocks.Default()
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		git:       deps.History,
		search:    deps.Search,
		artifacts: deps.Artifacts,
		sessions:  deps.Sessions,
		exporter:  deps.Exporter,
		registry:  registry,
		codec:     codec.New(registry),
		editors:   newEditorRegistry(),
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       time.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.sessions == nil {
		s.sessions = session.NewMemoryStore()
	}
	if s.artifacts == nil {
		s.artifacts = artifacts.NewMemory(cfg.PublicBaseURL)
	}
	s.decoder = &meteredDecoder{codec: s.codec, metrics: s.metrics, logger: s.logger}
	if s.exporter == nil {
		s.exporter = export.NewService(exportSource{store: s.store}, s.decoder, deps.Printer)
	}
	s.publisher = publish.NewCoordinator(
		publishPersistence{store: s.store},
		s.decoder,
		publish.WithPreferences(s.sessions),
		publish.WithLogger(s.logger.Named("publish")),
		publish.WithHooks(s.publishHooks()...),
	)
	return s
}

func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// meteredDecoder counts every stored document that fails to decode.
type meteredDecoder struct {
	codec   *codec.Codec
	metrics *Metrics
	logger  *zap.Logger
}

func (d *meteredDecoder) Decode(payload string) (*document.Store, error) {
	tree, err := d.codec.Decode(payload)
	if err != nil {
		reason := codec.FailureReason(err)
		d.metrics.recordDecodeFailure(reason)
		d.logger.Warn("document failed to decode", zap.String("reason", reason), zap.Error(err))
		return nil, err
	}
	return tree, nil
}

// publishPersistence is the menus table as the coordinator sees it.
type publishPersistence struct {
	store dataStore
}

func (p publishPersistence) LoadMenuDocument(ctx context.Context, menuID string) (publish.Documents, error) {
	m, err := p.store.GetMenu(ctx, menuID)
	if err != nil {
		return publish.Documents{}, err
	}
	return publish.Documents{Draft: m.DraftDocument, Published: m.PublishedDocument, PublishedAt: m.PublishedAt}, nil
}

func (p publishPersistence) Publish(ctx context.Context, menuID, doc string, publishedAt time.Time) error {
	return p.store.Publish(ctx, menuID, doc, publishedAt)
}

type exportSource struct {
	store dataStore
}

func (e exportSource) GetMenuForExport(ctx context.Context, menuID string) (export.MenuInfo, error) {
	m, err := e.store.GetMenu(ctx, menuID)
	if err != nil {
		return export.MenuInfo{}, err
	}
	return export.MenuInfo{
		ID:          m.ID,
		Name:        m.Name,
		Slug:        m.Slug,
		Draft:       m.DraftDocument,
		Published:   m.PublishedDocument,
		PublishedAt: m.PublishedAt,
	}, nil
}

func (s *Service) PrincipalFromToken(ctx context.Context, token string) (Principal, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Principal{}, err
	}
	if claims.ID != "" {
		revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
		if err != nil {
			return Principal{}, err
		}
		if revoked {
			return Principal{}, auth.ErrInvalidToken
		}
	}
	return Principal{
		Token:     token,
		UserID:    claims.Subject,
		UserName:  claims.Name,
		Role:      rbac.Normalize(claims.Role),
		AccountID: claims.AccountID,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes the access token until it would have expired anyway.
func (s *Service) Logout(ctx context.Context, p Principal) error {
	if p.JTI == "" {
		return nil
	}
	return s.sessions.RevokeAccessToken(ctx, p.JTI, p.ExpiresAt)
}

func (s *Service) Can(p Principal, action rbac.Action) bool {
	return rbac.Can(p.Role, action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

func (s *Service) publicURL(slug string) string {
	return s.cfg.PublicBaseURL + "/m/" + slug
}

func (s *Service) menuPayload(m store.Menu) map[string]any {
	return map[string]any{
		"id":                 m.ID,
		"name":               m.Name,
		"slug":               m.Slug,
		"hasDraft":           m.DraftDocument != nil,
		"isPublished":        m.PublishedDocument != nil,
		"unpublishedChanges": m.HasUnpublishedDraft(),
		"draftUpdatedAt":     m.DraftUpdatedAt,
		"publishedAt":        m.PublishedAt,
		"updatedBy":          m.UpdatedBy,
		"createdAt":          m.CreatedAt,
		"updatedAt":          m.UpdatedAt,
		"publicUrl":          s.publicURL(m.Slug),
	}
}

// menuForAccount hides menus of other accounts behind the same not-found
// a missing menu produces.
func (s *Service) menuForAccount(ctx context.Context, p Principal, menuID string) (store.Menu, error) {
	m, err := s.store.GetMenu(ctx, menuID)
	if err != nil {
		return store.Menu{}, err
	}
	if m.AccountID != p.AccountID {
		return store.Menu{}, sql.ErrNoRows
	}
	return m, nil
}

func (s *Service) ListMenus(ctx context.Context, p Principal) ([]map[string]any, error) {
	menus, err := s.store.ListMenus(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(menus))
	for _, m := range menus {
		items = append(items, s.menuPayload(m))
	}
	return items, nil
}

func (s *Service) GetMenu(ctx context.Context, p Principal, menuID string) (map[string]any, error) {
	m, err := s.menuForAccount(ctx, p, menuID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"menu": s.menuPayload(m)}, nil
}

type CreateMenuInput struct {
	Name string `json:"name" validate:"required,max=120"`
	Slug string `json:"slug" validate:"omitempty,max=60,slug"`
}

// CreateMenu stores a new menu whose draft is the starter layout.
func (s *Service) CreateMenu(ctx context.Context, p Principal, input CreateMenuInput) (map[string]any, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	slug := input.Slug
	if slug == "" {
		slug = util.Slugify(input.Name)
	}
	if slug == "" {
		slug = "menu"
	}

	tree, err := starterMenu(s.registry, input.Name)
	if err != nil {
		return nil, fmt.Errorf("build starter menu: %w", err)
	}
	doc, err := s.codec.Encode(tree)
	if err != nil {
		return nil, fmt.Errorf("encode starter menu: %w", err)
	}

	m := store.Menu{
		ID:            util.NewID("menu"),
		AccountID:     p.AccountID,
		Name:          input.Name,
		Slug:          slug,
		DraftDocument: &doc,
		UpdatedBy:     p.UserName,
	}
	if err := s.store.InsertMenu(ctx, m); err != nil {
		return nil, err
	}
	if s.git != nil {
		if err := s.git.EnsureMenuRepo(m.ID, gitrepo.Snapshot{Name: m.Name, Slug: m.Slug, Document: doc}, p.UserName); err != nil {
			s.logger.Warn("init menu history", zap.String("menu_id", m.ID), zap.Error(err))
		}
	}

	created, err := s.store.GetMenu(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"menu": s.menuPayload(created)}, nil
}

type RenameMenuInput struct {
	Name string `json:"name" validate:"required,max=120"`
}

// RenameMenu changes the display name. The slug, and with it the public
// address, stays.
func (s *Service) RenameMenu(ctx context.Context, p Principal, menuID string, input RenameMenuInput) (map[string]any, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if _, err := s.menuForAccount(ctx, p, menuID); err != nil {
		return nil, err
	}
	if err := s.store.RenameMenu(ctx, menuID, input.Name, p.UserName); err != nil {
		return nil, err
	}
	for _, e := range s.editors.forMenu(menuID) {
		e.rename(input.Name)
	}
	updated, err := s.store.GetMenu(ctx, menuID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"menu": s.menuPayload(updated)}, nil
}

// DeleteMenu removes a menu for good. Open editing sessions on it are
// discarded without saving.
func (s *Service) DeleteMenu(ctx context.Context, p Principal, menuID string) error {
	if !s.Can(p, rbac.ActionAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if _, err := s.menuForAccount(ctx, p, menuID); err != nil {
		return err
	}
	for _, e := range s.editors.forMenu(menuID) {
		_ = e.session.Close()
		if s.editors.remove(e.session.ID()) {
			s.metrics.EditorSessions.Dec()
		}
	}
	if err := s.store.DeleteMenu(ctx, menuID); err != nil {
		return err
	}
	s.publisher.Forget(menuID)
	if s.search != nil {
		s.search.DeleteMenu(menuID)
	}
	s.logger.Info("menu deleted", zap.String("menu_id", menuID), zap.String("user_id", p.UserID))
	return nil
}

// PublishState compares the stored draft with the live menu.
func (s *Service) PublishState(ctx context.Context, p Principal, menuID string) (map[string]any, error) {
	if _, err := s.menuForAccount(ctx, p, menuID); err != nil {
		return nil, err
	}
	status, err := s.publisher.Refresh(ctx, menuID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": status}, nil
}

func (s *Service) History(ctx context.Context, p Principal, menuID string, limit int) (map[string]any, error) {
	if _, err := s.menuForAccount(ctx, p, menuID); err != nil {
		return nil, err
	}
	if s.git == nil {
		return map[string]any{"history": []gitrepo.CommitInfo{}}, nil
	}
	items, err := s.git.History(menuID, clamp(limit, 1, 200, 50))
	if err != nil {
		return nil, err
	}
	return map[string]any{"history": items}, nil
}

type RestoreInput struct {
	Hash string `json:"hash" validate:"required,hexadecimal,min=4,max=40"`
}

// Restore loads a published version into the draft. Node ids are those of
// the stored version, so anchors keep working after the next publish.
func (s *Service) Restore(ctx context.Context, p Principal, menuID string, input RestoreInput) (map[string]any, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	m, err := s.menuForAccount(ctx, p, menuID)
	if err != nil {
		return nil, err
	}
	if s.git == nil {
		return nil, gitrepo.ErrNoHistory
	}
	snap, commit, err := s.git.GetSnapshotByHash(menuID, input.Hash)
	if err != nil {
		if errors.Is(err, gitrepo.ErrNoHistory) {
			return nil, err
		}
		return nil, domainError(http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found", map[string]any{"hash": input.Hash})
	}
	tree, err := s.decoder.Decode(snap.Document)
	if err != nil {
		return nil, err
	}
	doc, err := s.codec.Encode(tree)
	if err != nil {
		return nil, fmt.Errorf("encode restored menu: %w", err)
	}
	if err := s.store.SaveDraft(ctx, menuID, doc, p.UserName); err != nil {
		return nil, err
	}
	message := "Restore " + commit.Hash
	if _, err := s.git.CommitDraft(menuID, gitrepo.Snapshot{Name: m.Name, Slug: m.Slug, Document: doc}, p.UserName, message); err != nil {
		s.logger.Warn("commit restored draft", zap.String("menu_id", menuID), zap.Error(err))
	}

	updated, err := s.store.GetMenu(ctx, menuID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"menu": s.menuPayload(updated), "restoredFrom": commit}, nil
}

// Export renders the menu as a file. Published PDFs are also kept in
// object storage.
func (s *Service) Export(ctx context.Context, p Principal, menuID string, format export.Format, source export.Source) (*export.Result, error) {
	m, err := s.menuForAccount(ctx, p, menuID)
	if err != nil {
		return nil, err
	}
	if source == "" {
		source = export.SourcePublished
	}
	if source != export.SourcePublished && source != export.SourceDraft {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "source must be published or draft", nil)
	}
	result, err := s.exporter.Export(ctx, export.Request{MenuID: menuID, Format: format, Source: source})
	if err != nil {
		return nil, err
	}
	if format == export.FormatPDF && source == export.SourcePublished && m.PublishedAt != nil {
		key := artifacts.ExportKey(menuID, *m.PublishedAt, result.Filename)
		if err := s.artifacts.Put(ctx, key, result.MimeType, result.Data); err != nil {
			s.logger.Warn("store exported pdf", zap.String("menu_id", menuID), zap.Error(err))
		}
	}
	return result, nil
}

func (s *Service) Search(ctx context.Context, p Principal, text string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	if offset < 0 {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must not be negative", nil)
	}
	return s.search.Search(ctx, search.Query{
		Text:      strings.TrimSpace(text),
		AccountID: p.AccountID,
		Limit:     clamp(limit, 1, 50, 20),
		Offset:    offset,
	}), nil
}

// SearchRecords builds the index record of every published menu. Menus
// whose published document no longer decodes are skipped.
func (s *Service) SearchRecords(ctx context.Context) ([]search.MenuRecord, error) {
	menus, err := s.store.ListPublishedMenus(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]search.MenuRecord, 0, len(menus))
	for _, m := range menus {
		tree, err := s.decoder.Decode(*m.PublishedDocument)
		if err != nil {
			continue
		}
		var publishedAt int64
		if m.PublishedAt != nil {
			publishedAt = m.PublishedAt.Unix()
		}
		records = append(records, search.BuildRecord(m.ID, m.AccountID, m.Name, m.Slug, publishedAt, tree))
	}
	return records, nil
}

// PublicPage is the storefront response for a slug.
type PublicPage struct {
	Body   []byte
	ETag   string
	Failed bool
}

// RenderPublic renders the published document of a menu. A document that
// does not decode or render yields the failure page, never part of a menu.
func (s *Service) RenderPublic(ctx context.Context, slug string) (PublicPage, error) {
	m, err := s.store.GetMenuBySlug(ctx, slug)
	if err != nil {
		return PublicPage{}, err
	}
	if m.PublishedDocument == nil {
		return PublicPage{}, sql.ErrNoRows
	}
	page, err := s.renderMenuPage(m.Name, *m.PublishedDocument, m.PublishedAt)
	if err != nil {
		s.logger.Warn("public menu failed to render", zap.String("slug", slug), zap.Error(err))
		return PublicPage{Body: render.FailurePage(m.Name), Failed: true}, nil
	}
	return PublicPage{Body: page, ETag: `"` + render.Digest(page) + `"`}, nil
}

func (s *Service) renderMenuPage(name, payload string, publishedAt *time.Time) ([]byte, error) {
	tree, err := s.decoder.Decode(payload)
	if err != nil {
		return nil, err
	}
	body, err := render.Body(tree, render.Public)
	if err != nil {
		return nil, err
	}
	return render.Page(render.PageData{Title: name, Body: body, PublishedAt: publishedAt})
}

func (s *Service) publishHooks() []publish.Hook {
	hooks := []publish.Hook{
		{Name: "storefront", Run: s.uploadStorefront},
	}
	if s.search != nil {
		hooks = append(hooks, publish.Hook{Name: "search", Run: s.indexPublished})
	}
	if s.git != nil {
		hooks = append(hooks, publish.Hook{Name: "history", Run: s.commitPublished})
	}
	return hooks
}

func (s *Service) indexPublished(ctx context.Context, e publish.Event) error {
	m, err := s.store.GetMenu(ctx, e.MenuID)
	if err != nil {
		return fmt.Errorf("load menu: %w", err)
	}
	return s.search.IndexMenu(ctx, search.BuildRecord(m.ID, m.AccountID, m.Name, m.Slug, e.PublishedAt.Unix(), e.Tree))
}

func (s *Service) commitPublished(ctx context.Context, e publish.Event) error {
	m, err := s.store.GetMenu(ctx, e.MenuID)
	if err != nil {
		return fmt.Errorf("load menu: %w", err)
	}
	publishedAt := e.PublishedAt
	_, err = s.git.CommitPublish(e.MenuID, gitrepo.Snapshot{
		Name:        m.Name,
		Slug:        m.Slug,
		Document:    e.Document,
		PublishedAt: &publishedAt,
	}, actorOrSystem(e.Actor))
	return err
}

// uploadStorefront keeps a static copy of the live page in object storage.
func (s *Service) uploadStorefront(ctx context.Context, e publish.Event) error {
	m, err := s.store.GetMenu(ctx, e.MenuID)
	if err != nil {
		return fmt.Errorf("load menu: %w", err)
	}
	body, err := render.Body(e.Tree, render.Public)
	if err != nil {
		return err
	}
	publishedAt := e.PublishedAt
	page, err := render.Page(render.PageData{Title: m.Name, Body: body, PublishedAt: &publishedAt})
	if err != nil {
		return err
	}
	return s.artifacts.Put(ctx, artifacts.PublishedPageKey(m.Slug), "text/html; charset=utf-8", page)
}

// WaitBackground blocks until running publish hooks are done.
func (s *Service) WaitBackground() {
	s.publisher.WaitHooks()
}

func actorOrSystem(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return "carta"
	}
	return actor
}

func clamp(value, lo, hi, fallback int) int {
	if value <= 0 {
		return fallback
	}
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
