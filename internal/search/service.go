package search

import (
	"context"

	"go.uber.org/zap"
)

// TextIndex is the Postgres side of the index.
type TextIndex interface {
	Searcher
	Index(ctx context.Context, rec MenuRecord) error
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili  *Meili
	pgfts  TextIndex
	logger *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts TextIndex, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, pgfts: pgfts, logger: logger.Named("search")}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts error", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexMenu updates both indexes. The Postgres write is the one that
// counts; Meilisearch failures are logged.
func (s *Service) IndexMenu(ctx context.Context, rec MenuRecord) error {
	if err := s.pgfts.Index(ctx, rec); err != nil {
		return err
	}
	if s.meili != nil && s.meili.Healthy() {
		if err := s.meili.IndexMenus([]MenuRecord{rec}); err != nil {
			s.logger.Warn("index menu", zap.String("menu_id", rec.ID), zap.Error(err))
		}
	}
	return nil
}

// DeleteMenu removes a menu from Meilisearch (fire-and-forget).
func (s *Service) DeleteMenu(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteMenu(id); err != nil {
			s.logger.Warn("delete menu", zap.String("menu_id", id), zap.Error(err))
		}
	}()
}

// ReindexAll pushes every record to Meilisearch. Called at startup when
// Meilisearch is healthy.
func (s *Service) ReindexAll(records []MenuRecord) {
	if s.meili == nil || !s.meili.Healthy() || len(records) == 0 {
		return
	}
	if err := s.meili.IndexMenus(records); err != nil {
		s.logger.Warn("reindex menus", zap.Int("count", len(records)), zap.Error(err))
	}
}

// Enabled reports whether Meilisearch is configured and reachable.
func (s *Service) Enabled() bool {
	return s.meili != nil && s.meili.Healthy()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
