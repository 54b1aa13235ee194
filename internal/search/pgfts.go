package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher on the published_search column of menus. The
// 'simple' configuration is used because menus are written in many
// languages.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	where := "m.published_fts @@ plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	if q.AccountID != "" {
		where += " AND m.account_id = $2"
		args = append(args, q.AccountID)
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM menus m WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT m.id, m.name, m.slug,
			ts_headline('simple', coalesce(m.published_search, ''), plainto_tsquery('simple', $1),
				'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet
		FROM menus m
		WHERE %s
		ORDER BY ts_rank(m.published_fts, plainto_tsquery('simple', $1)) DESC, m.name
		LIMIT %d OFFSET %d`, where, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.MenuID, &r.Name, &r.Slug, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// Index stores the searchable text of a published menu.
func (p *PgFTS) Index(ctx context.Context, rec MenuRecord) error {
	text := strings.TrimSpace(rec.Name + "\n" + strings.Join(rec.Sections, "\n") + "\n" + rec.Body)
	if _, err := p.db.ExecContext(ctx, `UPDATE menus SET published_search=$2 WHERE id=$1`, rec.ID, text); err != nil {
		return fmt.Errorf("pgfts index %s: %w", rec.ID, err)
	}
	return nil
}
