package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrSlugTaken = errors.New("slug already in use")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const menuColumns = `id, account_id, name, slug, draft_document, draft_updated_at,
	published_document, published_at, updated_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMenu(row rowScanner) (Menu, error) {
	var m Menu
	err := row.Scan(&m.ID, &m.AccountID, &m.Name, &m.Slug, &m.DraftDocument, &m.DraftUpdatedAt,
		&m.PublishedDocument, &m.PublishedAt, &m.UpdatedBy, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (s *PostgresStore) ListMenus(ctx context.Context, accountID string) ([]Menu, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+menuColumns+`
		FROM menus
		WHERE account_id=$1
		ORDER BY updated_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list menus: %w", err)
	}
	defer rows.Close()

	items := make([]Menu, 0)
	for rows.Next() {
		item, err := scanMenu(rows)
		if err != nil {
			return nil, fmt.Errorf("scan menu: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate menus: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetMenu(ctx context.Context, menuID string) (Menu, error) {
	return scanMenu(s.db.QueryRowContext(ctx, `SELECT `+menuColumns+` FROM menus WHERE id=$1`, menuID))
}

func (s *PostgresStore) GetMenuBySlug(ctx context.Context, slug string) (Menu, error) {
	return scanMenu(s.db.QueryRowContext(ctx, `SELECT `+menuColumns+` FROM menus WHERE slug=$1`, slug))
}

func (s *PostgresStore) InsertMenu(ctx context.Context, m Menu) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO menus (id, account_id, name, slug, draft_document, draft_updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, CASE WHEN $5::text IS NULL THEN NULL ELSE NOW() END, $6)
	`, m.ID, m.AccountID, m.Name, m.Slug, m.DraftDocument, m.UpdatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert menu: %w", ErrSlugTaken)
		}
		return fmt.Errorf("insert menu: %w", err)
	}
	return nil
}

func (s *PostgresStore) RenameMenu(ctx context.Context, menuID, name, updatedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE menus SET name=$2, updated_by=$3, updated_at=NOW() WHERE id=$1
	`, menuID, name, updatedBy)
	if err != nil {
		return fmt.Errorf("rename menu: %w", err)
	}
	return expectOneRow(res, "rename menu")
}

// SaveDraft overwrites the draft. The last save wins.
func (s *PostgresStore) SaveDraft(ctx context.Context, menuID, doc, updatedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE menus
		SET draft_document=$2, draft_updated_at=NOW(), updated_by=$3, updated_at=NOW()
		WHERE id=$1
	`, menuID, doc, updatedBy)
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return expectOneRow(res, "save draft")
}

// Publish replaces the published document and its timestamp in one
// statement, so readers never see one without the other.
func (s *PostgresStore) Publish(ctx context.Context, menuID, doc string, publishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE menus
		SET published_document=$2, published_at=$3, updated_at=NOW()
		WHERE id=$1
	`, menuID, doc, publishedAt)
	if err != nil {
		return fmt.Errorf("publish menu: %w", err)
	}
	return expectOneRow(res, "publish menu")
}

func (s *PostgresStore) DeleteMenu(ctx context.Context, menuID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM menus WHERE id=$1`, menuID)
	if err != nil {
		return fmt.Errorf("delete menu: %w", err)
	}
	return expectOneRow(res, "delete menu")
}

// ListMenuDocuments returns the stored text of every menu.
func (s *PostgresStore) ListMenuDocuments(ctx context.Context) ([]MenuDocuments, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, draft_document, published_document
		FROM menus
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list menu documents: %w", err)
	}
	defer rows.Close()

	items := make([]MenuDocuments, 0)
	for rows.Next() {
		var item MenuDocuments
		if err := rows.Scan(&item.MenuID, &item.Slug, &item.Draft, &item.Published); err != nil {
			return nil, fmt.Errorf("scan menu documents: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate menu documents: %w", err)
	}
	return items, nil
}

// ReplaceDocuments rewrites both documents of a menu only if they still
// hold the expected text. It reports whether the row was updated.
func (s *PostgresStore) ReplaceDocuments(ctx context.Context, expected, next MenuDocuments) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE menus
		SET draft_document=$2, published_document=$3
		WHERE id=$1
			AND draft_document IS NOT DISTINCT FROM $4
			AND published_document IS NOT DISTINCT FROM $5
	`, expected.MenuID, next.Draft, next.Published, expected.Draft, expected.Published)
	if err != nil {
		return false, fmt.Errorf("replace documents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("replace documents: %w", err)
	}
	return n == 1, nil
}

// ListPublishedMenus returns every menu with a published document.
func (s *PostgresStore) ListPublishedMenus(ctx context.Context) ([]Menu, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+menuColumns+`
		FROM menus
		WHERE published_document IS NOT NULL
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list published menus: %w", err)
	}
	defer rows.Close()

	items := make([]Menu, 0)
	for rows.Next() {
		item, err := scanMenu(rows)
		if err != nil {
			return nil, fmt.Errorf("scan menu: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate published menus: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
