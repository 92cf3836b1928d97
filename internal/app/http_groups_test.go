package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func opsRequest(path, token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestGroupsRequireOpsToken(t *testing.T) {
	h := newBotHarness(t, "")
	for _, token := range []string{"", "wrong"} {
		rr, payload := serve(t, h.server, opsRequest("/api/groups", token))
		if rr.Code != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
			t.Fatalf("token %q: %d %v", token, rr.Code, payload)
		}
	}
}

func TestGroupsSearchAndGet(t *testing.T) {
	h := newBotHarness(t, "")
	h.post(t, joinEvent)

	rr, payload := serve(t, h.server, opsRequest("/api/groups?q=warga", "ops-secret"))
	if rr.Code != http.StatusOK {
		t.Fatalf("search: %d %v", rr.Code, payload)
	}
	results, _ := payload["results"].([]any)
	if len(results) != 1 || payload["source"] != "store" {
		t.Fatalf("unexpected search payload %v", payload)
	}
	first, _ := results[0].(map[string]any)
	if first["id"] != testGroupID || first["memberCount"] != float64(3) {
		t.Fatalf("unexpected result %v", first)
	}

	rr, payload = serve(t, h.server, opsRequest("/api/groups/"+testGroupID, "ops-secret"))
	if rr.Code != http.StatusOK {
		t.Fatalf("get: %d %v", rr.Code, payload)
	}
	admins, _ := payload["admins"].([]any)
	if payload["name"] != "Warga RT 05" || len(admins) != 1 || admins[0] != "628111" {
		t.Fatalf("unexpected group payload %v", payload)
	}
	settings, _ := payload["settings"].(map[string]any)
	if settings["tagAllScope"] != "admin" {
		t.Fatalf("unexpected settings %v", settings)
	}
}

func TestGroupsGetMissing(t *testing.T) {
	h := newBotHarness(t, "")
	rr, payload := serve(t, h.server, opsRequest("/api/groups/nope@g.us", "ops-secret"))
	if rr.Code != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("unexpected response %d %v", rr.Code, payload)
	}
}
