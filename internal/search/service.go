package search

import (
	"go.uber.org/zap"

	"mutesky/api/internal/catalog"
)

// Service is the facade that tries Meilisearch first and falls back to the
// local scan.
type Service struct {
	meili  *Meili
	local  *Local
	logger *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, local: NewLocal(), logger: logger.Named("search")}
}

func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to local scan", zap.Error(err))
	}

	results, total, err := s.local.Search(q)
	if err != nil {
		s.logger.Warn("local search error", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Backend: "local"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "local"}
}

// Reindex replaces the searchable records with those of c. The local copy
// is updated synchronously, Meilisearch in the background.
func (s *Service) Reindex(c *catalog.Catalog) {
	records := Records(c)
	s.local.Replace(records)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.Replace(records); err != nil {
			s.logger.Warn("reindex keywords", zap.Int("records", len(records)), zap.Error(err))
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
