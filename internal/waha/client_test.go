package waha

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"groupbot/internal/identity"
	"groupbot/internal/logging"
)

type recordedWaits struct {
	delays []time.Duration
}

func (r *recordedWaits) wait(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *recordedWaits) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Config{
		BaseURL:     srv.URL,
		APIKey:      "secret",
		Session:     "default",
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		Logger:      logging.Discard(),
	})
	waits := &recordedWaits{}
	c.wait = waits.wait
	c.jitter = func(d time.Duration) time.Duration { return d }
	return c, waits
}

func TestParticipantsRetriesOn429ThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	c, waits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `[{"id":"628111@c.us","role":"admin"}]`)
	})

	got, err := c.Participants(context.Background(), "1203@g.us")
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(got) != 1 || got[0]["role"] != "admin" {
		t.Fatalf("unexpected participants: %#v", got)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(waits.delays) != len(want) {
		t.Fatalf("expected waits %v, got %v", want, waits.delays)
	}
	for i := range want {
		if waits.delays[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i, waits.delays[i], want[i])
		}
	}
}

func TestDoExhaustsOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, waits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Participants(context.Background(), "1203@g.us")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if KindOf(err) != KindExhausted {
		t.Fatalf("expected exhausted, got %q", KindOf(err))
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if len(waits.delays) != 2 {
		t.Fatalf("no wait after the final attempt: %v", waits.delays)
	}
	var total time.Duration
	for _, d := range waits.delays {
		total += d
	}
	if total > c.MaxWait() {
		t.Fatalf("total wait %v exceeds bound %v", total, c.MaxWait())
	}
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c, waits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"group not found"}`)
	})

	_, err := c.Participants(context.Background(), "missing@g.us")
	var transportErr *Error
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if transportErr.Kind != KindStatus || transportErr.Status != http.StatusNotFound {
		t.Fatalf("unexpected error: %+v", transportErr)
	}
	if calls.Load() != 1 || len(waits.delays) != 0 {
		t.Fatalf("4xx must not retry: calls=%d waits=%v", calls.Load(), waits.delays)
	}
}

func TestParticipantsEmptyListIsNotAnError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})

	got, err := c.Participants(context.Background(), "1203@g.us")
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", got)
	}
}

func TestParticipantsDecodeError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `"not a list"`)
	})

	_, err := c.Participants(context.Background(), "1203@g.us")
	if KindOf(err) != KindDecode {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestNetworkErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url, Session: "default", Logger: logging.Discard()})
	waits := &recordedWaits{}
	c.wait = waits.wait

	_, err := c.Participants(context.Background(), "1203@g.us")
	if KindOf(err) != KindNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
	if len(waits.delays) != 0 {
		t.Fatalf("network errors are not retried: %v", waits.delays)
	}
}

func TestWaitHonoursCancellation(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c.wait = sleepContext
	c.baseDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Participants(ctx, "1203@g.us")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("wait ignored cancellation")
	}
}

func TestRequestHeadersAndPath(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "secret" {
			t.Errorf("X-Api-Key = %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q", got)
		}
		if r.URL.Path != "/api/default/groups/1203@g.us/participants" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = io.WriteString(w, `[]`)
	})

	if _, err := c.Participants(context.Background(), "1203@g.us"); err != nil {
		t.Fatalf("Participants: %v", err)
	}
}

func TestEqualJitterStaysInRange(t *testing.T) {
	d := 800 * time.Millisecond
	for i := 0; i < 200; i++ {
		got := equalJitter(d)
		if got < d/2 || got > d {
			t.Fatalf("jitter %v outside [%v, %v]", got, d/2, d)
		}
	}
}

func TestGroupParsesMetadata(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{
			"id": {"_serialized": "1203@g.us"},
			"subject": "Warga RT 5",
			"owner": "628999@c.us",
			"participants": [{"id": "628111@c.us", "admin": "superadmin"}, {"id": "628222@c.us"}]
		}`)
	})

	info, err := c.Group(context.Background(), "1203@g.us")
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if info.ID != "1203@g.us" || info.Subject != "Warga RT 5" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Owner != identity.ID("628999") {
		t.Fatalf("owner = %q", info.Owner)
	}
	if len(info.Participants) != 2 {
		t.Fatalf("participants = %d", len(info.Participants))
	}
}

func TestSendTextAndParticipantChanges(t *testing.T) {
	type captured struct {
		method string
		path   string
		body   map[string]any
	}
	var got []captured
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		got = append(got, captured{r.Method, r.URL.Path, body})
		w.WriteHeader(http.StatusCreated)
	})

	ctx := context.Background()
	if err := c.SendText(ctx, TextMessage{ChatID: "1203@g.us", Text: "halo", Mentions: []identity.ID{"628111"}}); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if err := c.RemoveParticipants(ctx, "1203@g.us", []identity.ID{"628222"}); err != nil {
		t.Fatalf("RemoveParticipants: %v", err)
	}
	if err := c.SetMessagesAdminOnly(ctx, "1203@g.us", true); err != nil {
		t.Fatalf("SetMessagesAdminOnly: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(got))
	}
	if got[0].path != "/api/sendText" || got[0].body["session"] != "default" || got[0].body["chatId"] != "1203@g.us" {
		t.Errorf("sendText request: %+v", got[0])
	}
	mentions, _ := got[0].body["mentions"].([]any)
	if len(mentions) != 1 || mentions[0] != "628111@c.us" {
		t.Errorf("mentions = %v", got[0].body["mentions"])
	}
	if got[1].method != http.MethodPost || got[1].path != "/api/default/groups/1203@g.us/participants/remove" {
		t.Errorf("remove request: %+v", got[1])
	}
	if got[2].method != http.MethodPut || got[2].body["adminsOnly"] != true {
		t.Errorf("admin-only request: %+v", got[2])
	}
}
