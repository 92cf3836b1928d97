package authority

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"groupbot/internal/groupsync"
	"groupbot/internal/identity"
	"groupbot/internal/logging"
	"groupbot/internal/roster"
	"groupbot/internal/store"
	"groupbot/internal/waha"
)

const groupID = "1203@g.us"

type fakePlatform struct {
	participants []roster.Participant
	err          error
}

func (f fakePlatform) Participants(ctx context.Context, id string) ([]roster.Participant, error) {
	return f.participants, f.err
}

type fakeCache struct {
	group store.Group
	err   error
	calls int
}

func (f *fakeCache) Get(ctx context.Context, id string) (store.Group, error) {
	f.calls++
	return f.group, f.err
}

type fakeHealer struct {
	mu    sync.Mutex
	calls []identity.ID
	ctxOK bool
}

func (f *fakeHealer) Heal(ctx context.Context, id string, user identity.ID, snapshot []roster.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, user)
	f.ctxOK = ctx.Err() == nil
	return nil
}

var transportDown = &waha.Error{Kind: waha.KindExhausted, Status: 503, Attempts: 3}

func cachedGroup(admins ...string) store.Group {
	return store.Group{ID: groupID, Admins: identity.NewSet(admins...), Members: identity.NewSet(admins...)}
}

func TestResolve(t *testing.T) {
	live := []roster.Participant{
		{"id": "628111@c.us", "admin": "superadmin"},
		{"id": "628222@c.us", "admin": nil},
	}

	cases := []struct {
		name     string
		platform fakePlatform
		cache    *fakeCache
		user     string
		admin    bool
		source   Source
		reason   Reason
		hasErr   bool
	}{
		{
			name:     "live admin",
			platform: fakePlatform{participants: live},
			cache:    &fakeCache{err: store.ErrNotFound},
			user:     "628111@s.whatsapp.net",
			admin:    true, source: SourceLive, reason: ReasonLiveAdmin,
		},
		{
			name:     "live member is not admin even if cache says so",
			platform: fakePlatform{participants: live},
			cache:    &fakeCache{group: cachedGroup("628222")},
			user:     "628222",
			admin:    false, source: SourceLive, reason: ReasonLiveNotAdmin,
		},
		{
			name:     "transport down falls back to cache",
			platform: fakePlatform{err: transportDown},
			cache:    &fakeCache{group: cachedGroup("628111")},
			user:     "628111@c.us",
			admin:    true, source: SourceCache, reason: ReasonCacheAdmin, hasErr: true,
		},
		{
			name:     "user absent from live roster uses cache",
			platform: fakePlatform{participants: live},
			cache:    &fakeCache{group: cachedGroup("628333")},
			user:     "628333",
			admin:    true, source: SourceCache, reason: ReasonCacheAdmin,
		},
		{
			name:     "cache says no",
			platform: fakePlatform{err: transportDown},
			cache:    &fakeCache{group: cachedGroup("628111")},
			user:     "628999",
			admin:    false, source: SourceCache, reason: ReasonCacheNotAdmin, hasErr: true,
		},
		{
			name:     "no record fails closed",
			platform: fakePlatform{err: transportDown},
			cache:    &fakeCache{err: store.ErrNotFound},
			user:     "628111",
			admin:    false, source: SourceDefault, reason: ReasonNoRecord, hasErr: true,
		},
		{
			name:     "store error fails closed",
			platform: fakePlatform{err: transportDown},
			cache:    &fakeCache{err: errors.New("connection refused")},
			user:     "628111",
			admin:    false, source: SourceDefault, reason: ReasonStoreError, hasErr: true,
		},
		{
			name:     "empty user",
			platform: fakePlatform{participants: live},
			cache:    &fakeCache{},
			user:     "  ",
			admin:    false, source: SourceDefault, reason: ReasonInvalidInput,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewResolver(tc.platform, tc.cache, nil, logging.Discard(), time.Second)
			d := r.Resolve(context.Background(), groupID, tc.user)
			if d.Admin != tc.admin || d.Source != tc.source || d.Reason != tc.reason {
				t.Fatalf("Resolve() = %+v, want admin=%v source=%s reason=%s", d, tc.admin, tc.source, tc.reason)
			}
			if (d.Err != nil) != tc.hasErr {
				t.Fatalf("Err = %v, want error=%v", d.Err, tc.hasErr)
			}
			if got := r.IsAdmin(context.Background(), groupID, tc.user); got != tc.admin {
				t.Fatalf("IsAdmin() = %v", got)
			}
		})
	}
}

func TestLiveMemberSkipsCache(t *testing.T) {
	cache := &fakeCache{group: cachedGroup("628222")}
	r := NewResolver(fakePlatform{participants: []roster.Participant{{"id": "628222@c.us"}}}, cache, nil, logging.Discard(), time.Second)

	r.Resolve(context.Background(), groupID, "628222")
	if cache.calls != 0 {
		t.Fatalf("cache consulted %d times for a live answer", cache.calls)
	}
}

func TestLiveAdminHealsDetachedFromRequest(t *testing.T) {
	healer := &fakeHealer{}
	r := NewResolver(
		fakePlatform{participants: []roster.Participant{{"id": "628111@c.us", "isAdmin": true}}},
		&fakeCache{err: store.ErrNotFound},
		healer,
		logging.Discard(),
		time.Second,
	)

	ctx, cancel := context.WithCancel(context.Background())
	if !r.IsAdmin(ctx, groupID, "628111") {
		t.Fatal("expected admin")
	}
	cancel()
	r.Wait()

	healer.mu.Lock()
	defer healer.mu.Unlock()
	if len(healer.calls) != 1 || healer.calls[0] != "628111" {
		t.Fatalf("heal calls = %v", healer.calls)
	}
	if !healer.ctxOK {
		t.Fatal("heal ran with a cancelled context")
	}
}

func TestNonAdminDoesNotHeal(t *testing.T) {
	healer := &fakeHealer{}
	r := NewResolver(
		fakePlatform{participants: []roster.Participant{{"id": "628222@c.us"}}},
		&fakeCache{err: store.ErrNotFound},
		healer,
		logging.Discard(),
		time.Second,
	)
	r.IsAdmin(context.Background(), groupID, "628222")
	r.Wait()
	if len(healer.calls) != 0 {
		t.Fatalf("unexpected heal: %v", healer.calls)
	}
}

// The cache learns a live positive, so a later outage still answers yes.
func TestSelfHealVisibleAfterWait(t *testing.T) {
	mr := miniredis.RunT(t)
	st, err := store.NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer st.Close()

	snapshot := []roster.Participant{
		{"id": "628111@c.us", "role": "admin"},
		{"id": "628222@c.us", "role": "member"},
	}
	syncer := groupsync.New(st, nil, nil, logging.Discard())

	online := NewResolver(fakePlatform{participants: snapshot}, st, syncer, logging.Discard(), time.Second)
	if !online.IsAdmin(context.Background(), groupID, "628111") {
		t.Fatal("expected live admin")
	}
	online.Wait()

	g, err := st.Get(context.Background(), groupID)
	if err != nil {
		t.Fatalf("Get after heal: %v", err)
	}
	if !g.IsAdmin("628111") || !g.IsMember("628222") {
		t.Fatalf("heal did not seed the roster: admins=%v members=%v", g.Admins.Strings(), g.Members.Strings())
	}

	offline := NewResolver(fakePlatform{err: transportDown}, st, syncer, logging.Discard(), time.Second)
	d := offline.Resolve(context.Background(), groupID, "628111@s.whatsapp.net")
	if !d.Admin || d.Source != SourceCache {
		t.Fatalf("offline decision = %+v", d)
	}
	if offline.IsAdmin(context.Background(), groupID, "628222") {
		t.Fatal("member must not become admin")
	}
}
