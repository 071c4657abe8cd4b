package search

import (
	"context"

	"go.uber.org/zap"
)

// Service tries the index first and falls back to Postgres full-text search.
type Service struct {
	index    Index
	fallback Searcher
	logger   *zap.Logger
}

// NewService creates a search service. index may be nil when Meilisearch is
// not configured.
func NewService(index Index, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{index: index, fallback: fallback, logger: logger.Named("search")}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// Search tries the index if healthy, otherwise falls back to Postgres.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("index search failed, falling back to postgres", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("postgres search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexSeed indexes a seed in the background.
func (s *Service) IndexSeed(seed SeedRecord) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.IndexSeeds([]SeedRecord{seed}); err != nil {
			s.logger.Warn("index seed", zap.String("seedID", seed.ID), zap.Error(err))
		}
	}()
}

// IndexFork indexes a fork in the background.
func (s *Service) IndexFork(fork ForkRecord) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.IndexForks([]ForkRecord{fork}); err != nil {
			s.logger.Warn("index fork", zap.String("forkID", fork.ID), zap.Error(err))
		}
	}()
}

func (s *Service) RemoveSeed(id string) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.DeleteSeed(id); err != nil {
			s.logger.Warn("remove seed", zap.String("seedID", id), zap.Error(err))
		}
	}()
}

func (s *Service) RemoveFork(id string) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.DeleteFork(id); err != nil {
			s.logger.Warn("remove fork", zap.String("forkID", id), zap.Error(err))
		}
	}()
}

// RecordLoader returns every live node for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]SeedRecord, []ForkRecord, error)
}

// Reindex pushes every live seed and fork into the index. It runs
// synchronously and is meant for startup.
func (s *Service) Reindex(ctx context.Context, loader RecordLoader) error {
	if !s.indexReady() || loader == nil {
		return nil
	}
	seeds, forks, err := loader.LoadAllRecords(ctx)
	if err != nil {
		return err
	}
	if len(seeds) > 0 {
		if err := s.index.IndexSeeds(seeds); err != nil {
			return err
		}
	}
	if len(forks) > 0 {
		if err := s.index.IndexForks(forks); err != nil {
			return err
		}
	}
	s.logger.Info("search index rebuilt", zap.Int("seeds", len(seeds)), zap.Int("forks", len(forks)))
	return nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
