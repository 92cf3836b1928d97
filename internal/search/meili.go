package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxGroups = "groupbot_groups"

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili is the Meilisearch-backed group index.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	logger  *slog.Logger
	every   time.Duration
}

// NewMeili connects to Meilisearch and configures the group index. An
// unreachable server is not an error: the health loop keeps probing and the
// caller falls back to the store meanwhile.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	return newMeili(url, apiKey, logger, 10*time.Second)
}

func newMeili(url, apiKey string, logger *slog.Logger, every time.Duration) *Meili {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		logger: logger.With("component", "search"),
		every:  every,
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxGroups, PrimaryKey: "key"}); err != nil {
		m.logger.Debug("create index (may already exist)", "index", idxGroups, "error", err)
	}

	index := m.client.Index(idxGroups)
	filterable := []interface{}{"ownerPhone", "admins", "members"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", "index", idxGroups, "error", err)
	}
	searchable := []string{"name", "id", "members"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", "index", idxGroups, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(m.every)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errUnhealthy
	}
	q = normalizePage(q)

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID: idxGroups,
			Query:    q.Text,
			Limit:    int64(q.Limit),
			Offset:   int64(q.Offset),
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var (
		results []Result
		total   int
	)
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToRecord(hit).result())
		}
	}
	return results, total, nil
}

func hitToRecord(hit meili.Hit) GroupRecord {
	var r GroupRecord
	decode(hit, "id", &r.ID)
	decode(hit, "name", &r.Name)
	decode(hit, "ownerPhone", &r.OwnerPhone)
	decode(hit, "adminCount", &r.AdminCount)
	decode(hit, "memberCount", &r.MemberCount)
	decode(hit, "updatedAt", &r.UpdatedAt)
	return r
}

func decode(hit meili.Hit, key string, dst any) {
	if raw, ok := hit[key]; ok {
		_ = json.Unmarshal(raw, dst)
	}
}

func (m *Meili) IndexGroups(records []GroupRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxGroups).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteGroup(id string) error {
	_, err := m.client.Index(idxGroups).DeleteDocument(documentKey(id), nil)
	return err
}
