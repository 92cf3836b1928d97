package search

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"groupbot/internal/store"
)

// Lister is the store view used for fallback queries and reindexing.
type Lister interface {
	List(ctx context.Context) ([]store.Group, error)
}

// Service tries Meilisearch first and falls back to scanning the store.
type Service struct {
	meili  *Meili
	groups Lister
	logger *slog.Logger

	// mu orders index writes between concurrent webhook handlers.
	mu sync.Mutex
}

// NewService creates the directory. meili may be nil when Meilisearch is not
// configured.
func NewService(meili *Meili, groups Lister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{meili: meili, groups: groups, logger: logger}
}

func (s *Service) indexed() bool {
	return s.meili != nil && s.meili.Healthy()
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q = normalizePage(q)
	if s.indexed() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceMeili}
		}
		s.logger.Warn("meilisearch error, falling back to store", "error", err)
	}

	results, total, err := s.scan(ctx, q)
	if err != nil {
		s.logger.Error("store search failed", "error", err)
		return Response{Results: []Result{}, Query: q.Text, Source: SourceStore}
	}
	return Response{Results: results, Total: total, Query: q.Text, Source: SourceStore}
}

func (s *Service) scan(ctx context.Context, q Query) ([]Result, int, error) {
	groups, err := s.groups.List(ctx)
	if err != nil {
		return nil, 0, err
	}
	matched := make([]Result, 0, len(groups))
	for _, g := range groups {
		if rec := NewGroupRecord(g); rec.matches(q.Text) {
			matched = append(matched, rec.result())
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name != matched[j].Name {
			return matched[i].Name < matched[j].Name
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	if q.Offset >= total {
		return []Result{}, total, nil
	}
	end := min(q.Offset+q.Limit, total)
	return matched[q.Offset:end], total, nil
}

// IndexGroup enqueues g on Meilisearch. Enqueueing only waits for a task id,
// and Meilisearch applies tasks in the order they were enqueued, so writes
// for the same group land in call order.
func (s *Service) IndexGroup(_ context.Context, g store.Group) {
	if !s.indexed() {
		return
	}
	rec := NewGroupRecord(g)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.meili.IndexGroups([]GroupRecord{rec}); err != nil {
		s.logger.Warn("index group failed", "group", rec.ID, "error", err)
	}
}

// RemoveGroup enqueues the deletion of a group from Meilisearch.
func (s *Service) RemoveGroup(_ context.Context, groupID string) {
	if !s.indexed() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.meili.DeleteGroup(groupID); err != nil {
		s.logger.Warn("remove group from index failed", "group", groupID, "error", err)
	}
}

// ReindexAll pushes every stored group to Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) error {
	if !s.indexed() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	groups, err := s.groups.List(ctx)
	if err != nil {
		return err
	}
	records := make([]GroupRecord, len(groups))
	for i, g := range groups {
		records[i] = NewGroupRecord(g)
	}
	if err := s.meili.IndexGroups(records); err != nil {
		return err
	}
	s.logger.Info("search index rebuilt", "groups", len(records))
	return nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
