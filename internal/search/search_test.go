package search

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"groupbot/internal/identity"
	"groupbot/internal/logging"
	"groupbot/internal/store"
)

type fakeLister struct {
	groups []store.Group
	err    error
}

func (f fakeLister) List(context.Context) ([]store.Group, error) {
	return f.groups, f.err
}

func testGroups() []store.Group {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []store.Group{
		{ID: "120363000000000002@g.us", Name: "Pengajian Ahad", Admins: identity.NewSet("628111"), Members: identity.NewSet("628111", "628222"), UpdatedAt: now},
		{ID: "120363000000000001@g.us", Name: "Arisan RT 05", OwnerPhone: "628100", Admins: identity.NewSet("628100"), Members: identity.NewSet("628100", "628333"), UpdatedAt: now},
		{ID: "120363000000000003@g.us", Name: "Futsal Kamis", Members: identity.NewSet("628222"), UpdatedAt: now},
	}
}

func TestStoreFallback(t *testing.T) {
	svc := NewService(nil, fakeLister{groups: testGroups()}, logging.Discard())

	cases := []struct {
		query string
		want  []string
	}{
		{query: "", want: []string{"Arisan RT 05", "Futsal Kamis", "Pengajian Ahad"}},
		{query: "arisan", want: []string{"Arisan RT 05"}},
		{query: "628222", want: []string{"Futsal Kamis", "Pengajian Ahad"}},
		{query: "0003@g.us", want: []string{"Futsal Kamis"}},
		{query: "nothing", want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			resp := svc.Search(context.Background(), Query{Text: tc.query})
			if resp.Source != SourceStore {
				t.Fatalf("source = %s", resp.Source)
			}
			if resp.Total != len(tc.want) || len(resp.Results) != len(tc.want) {
				t.Fatalf("got %d results (total %d), want %d", len(resp.Results), resp.Total, len(tc.want))
			}
			for i, name := range tc.want {
				if resp.Results[i].Name != name {
					t.Fatalf("result %d = %q, want %q", i, resp.Results[i].Name, name)
				}
			}
		})
	}
}

func TestStoreFallbackPaging(t *testing.T) {
	svc := NewService(nil, fakeLister{groups: testGroups()}, logging.Discard())

	resp := svc.Search(context.Background(), Query{Limit: 2, Offset: 1})
	if resp.Total != 3 || len(resp.Results) != 2 || resp.Results[0].Name != "Futsal Kamis" {
		t.Fatalf("unexpected page %+v", resp)
	}
	resp = svc.Search(context.Background(), Query{Offset: 10})
	if resp.Total != 3 || resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("unexpected empty page %+v", resp)
	}
}

func TestStoreFallbackErrorReturnsEmpty(t *testing.T) {
	svc := NewService(nil, fakeLister{err: errors.New("db down")}, logging.Discard())
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Total != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestNewGroupRecord(t *testing.T) {
	g := testGroups()[1]
	rec := NewGroupRecord(g)
	if rec.Key != "120363000000000001_g_us" {
		t.Fatalf("key = %q", rec.Key)
	}
	if rec.AdminCount != 1 || rec.MemberCount != 2 || rec.OwnerPhone != "628100" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if got := rec.result().UpdatedAt; !got.Equal(g.UpdatedAt) {
		t.Fatalf("updatedAt = %v", got)
	}
}

// fakeMeili serves the handful of Meilisearch endpoints the client touches.
type fakeMeili struct {
	mu        sync.Mutex
	healthy   bool
	requests  []string
	documents []map[string]any
	hits      []map[string]any
}

func (f *fakeMeili) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/health":
		if !f.healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"message":"down","code":"unavailable","type":"system","link":""}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"available"}`)
	case r.URL.Path == "/multi-search":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{
				"indexUid":           idxGroups,
				"hits":               f.hits,
				"query":              "",
				"limit":              20,
				"offset":             0,
				"estimatedTotalHits": len(f.hits),
				"processingTimeMs":   1,
			}},
		})
	default:
		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/documents") {
			var docs []map[string]any
			_ = json.NewDecoder(r.Body).Decode(&docs)
			f.documents = append(f.documents, docs...)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"taskUid":1,"indexUid":"`+idxGroups+`","status":"enqueued","type":"documentAdditionOrUpdate","enqueuedAt":"2026-03-01T12:00:00Z"}`)
	}
}

func TestMeiliSearchAndIndex(t *testing.T) {
	fake := &fakeMeili{
		healthy: true,
		hits: []map[string]any{{
			"key": "120363000000000001_g_us", "id": "120363000000000001@g.us", "name": "Arisan RT 05",
			"ownerPhone": "628100", "adminCount": 1, "memberCount": 2, "updatedAt": 1772366400000,
		}},
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	m := newMeili(srv.URL, "key", logging.Discard(), time.Hour)
	defer m.Close()
	svc := NewService(m, fakeLister{groups: testGroups()}, logging.Discard())

	resp := svc.Search(context.Background(), Query{Text: "arisan"})
	if resp.Source != SourceMeili || resp.Total != 1 || len(resp.Results) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if r := resp.Results[0]; r.ID != "120363000000000001@g.us" || r.MemberCount != 2 {
		t.Fatalf("unexpected result %+v", r)
	}

	svc.IndexGroup(context.Background(), testGroups()[0])

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.documents) != 1 || fake.documents[0]["id"] != "120363000000000002@g.us" {
		t.Fatalf("indexed documents = %v", fake.documents)
	}
}

func TestIndexThenRemoveKeepsOrder(t *testing.T) {
	fake := &fakeMeili{healthy: true}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	m := newMeili(srv.URL, "key", logging.Discard(), time.Hour)
	defer m.Close()
	svc := NewService(m, fakeLister{}, logging.Discard())

	g := testGroups()[1]
	svc.IndexGroup(context.Background(), g)
	svc.RemoveGroup(context.Background(), g.ID)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	var writes []string
	for _, req := range fake.requests {
		if strings.HasPrefix(req, http.MethodPost) || strings.HasPrefix(req, http.MethodDelete) {
			writes = append(writes, req)
		}
	}
	want := []string{
		"POST /indexes/" + idxGroups + "/documents",
		"DELETE /indexes/" + idxGroups + "/documents/120363000000000001_g_us",
	}
	if len(writes) < 2 || writes[len(writes)-2] != want[0] || writes[len(writes)-1] != want[1] {
		t.Fatalf("writes = %v, want suffix %v", writes, want)
	}
}

func TestMeiliUnhealthyFallsBackToStore(t *testing.T) {
	fake := &fakeMeili{healthy: false}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	m := newMeili(srv.URL, "key", logging.Discard(), time.Hour)
	defer m.Close()
	if m.Healthy() {
		t.Fatal("expected unhealthy meili")
	}
	svc := NewService(m, fakeLister{groups: testGroups()}, logging.Discard())

	resp := svc.Search(context.Background(), Query{Text: "futsal"})
	if resp.Source != SourceStore || len(resp.Results) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}

	svc.IndexGroup(context.Background(), testGroups()[0])
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.documents) != 0 {
		t.Fatal("indexed while unhealthy")
	}
}
