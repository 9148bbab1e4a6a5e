package search

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// PrimaryIndex is a search backend that also accepts writes.
type PrimaryIndex interface {
	Searcher
	Indexer
}

// Service is the facade that tries the primary index first and falls back to
// PG FTS.
type Service struct {
	primary  PrimaryIndex
	fallback Searcher
	logger   *zap.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. primary may be nil if Meilisearch is
// not configured.
func NewService(primary PrimaryIndex, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{primary: primary, fallback: fallback, logger: logger}
}

// Search tries the primary index if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("search: primary index failed, falling back to pgfts", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("search: pgfts failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexVersion indexes a version in the background.
func (s *Service) IndexVersion(record VersionRecord) {
	s.async("index", record.ID, func(index PrimaryIndex) error {
		return index.IndexVersion(record)
	})
}

// DeleteVersion removes a version from the index in the background.
func (s *Service) DeleteVersion(id string) {
	s.async("delete", id, func(index PrimaryIndex) error {
		return index.DeleteVersion(id)
	})
}

// ReindexAll pushes every record to the primary index.
func (s *Service) ReindexAll(records []VersionRecord) {
	if s.primary == nil || !s.primary.Healthy() || len(records) == 0 {
		return
	}
	if err := s.primary.IndexVersions(records); err != nil {
		s.logger.Error("search: reindex failed", zap.Int("records", len(records)), zap.Error(err))
	}
}

// ReindexFromPG loads all versions through loader and reindexes them.
func (s *Service) ReindexFromPG(ctx context.Context, loader interface {
	LoadAllRecords(ctx context.Context) ([]VersionRecord, error)
}) {
	if s.primary == nil || !s.primary.Healthy() || loader == nil {
		return
	}
	records, err := loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("search: reindex load failed", zap.Error(err))
		return
	}
	s.ReindexAll(records)
}

// Wait blocks until background index writes have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

func (s *Service) async(op, id string, fn func(PrimaryIndex) error) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := fn(s.primary); err != nil {
			s.logger.Warn("search: index write failed", zap.String("op", op), zap.String("id", id), zap.Error(err))
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
