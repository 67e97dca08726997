package authstate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agorad-dev/agorad/internal/access"
)

// fakeProvider is a controllable Provider for store tests
type fakeProvider struct {
	mu        sync.Mutex
	session   *Session
	listeners []func(Event)
}

func (p *fakeProvider) CurrentSession(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, nil
}

func (p *fakeProvider) Subscribe(fn func(Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
	return func() {}
}

func (p *fakeProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()
	p.emit(Event{Kind: EventSignedOut, Session: nil})
	return nil
}

func (p *fakeProvider) setSession(sess *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = sess
}

func (p *fakeProvider) emit(ev Event) {
	p.mu.Lock()
	listeners := make([]func(Event), len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// fakeSource is a controllable ProfileSource. Per-user delays simulate slow
// lookups; hangForever simulates a source that ignores cancellation.
type fakeSource struct {
	mu          sync.Mutex
	profiles    map[string]*access.Profile
	delays      map[string]time.Duration
	hangForever bool
	calls       int32
}

func newFakeSource(userIDs ...string) *fakeSource {
	src := &fakeSource{
		profiles: map[string]*access.Profile{},
		delays:   map[string]time.Duration{},
	}
	for _, id := range userIDs {
		src.profiles[id] = profileFor(id)
	}
	return src
}

func (f *fakeSource) FetchProfile(ctx context.Context, userID string) (*access.Profile, error) {
	atomic.AddInt32(&f.calls, 1)

	if f.hangForever {
		// Deliberately ignores ctx: the store must bound this itself
		select {}
	}

	f.mu.Lock()
	delay := f.delays[userID]
	profile, ok := f.profiles[userID]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !ok {
		return nil, ErrProfileNotFound
	}
	return profile, nil
}

func (f *fakeSource) fetchCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

// waitForState blocks until the store's state satisfies the predicate
func waitForState(t *testing.T, s *Store, cond func(State) bool) State {
	t.Helper()

	updates := make(chan State, 64)
	unsub := s.Subscribe(updates)
	defer unsub()

	deadline := time.After(3 * time.Second)
	for {
		state := s.State()
		if cond(state) {
			return state
		}
		select {
		case <-updates:
		case <-deadline:
			t.Fatalf("state never satisfied condition; last state: %+v", s.State())
		}
	}
}

func settled(st State) bool { return !st.Loading }

func TestStoreResolvesExistingSession(t *testing.T) {
	provider := &fakeProvider{session: &Session{UserID: "a", Email: "a@example.org"}}
	source := newFakeSource("a")
	store := NewStore(provider, source)
	defer store.Stop()

	store.Start(context.Background())

	state := waitForState(t, store, settled)
	require.NotNil(t, state.Session)
	assert.Equal(t, "a", state.Session.UserID)
	require.NotNil(t, state.Profile)
	assert.Equal(t, access.ResolutionFound, state.Resolution)
	assert.Equal(t, 1, source.fetchCount())
}

func TestStoreResolvesNoSession(t *testing.T) {
	provider := &fakeProvider{}
	source := newFakeSource()
	store := NewStore(provider, source)
	defer store.Stop()

	store.Start(context.Background())

	state := waitForState(t, store, settled)
	assert.Nil(t, state.Session)
	assert.Nil(t, state.Profile)
	assert.Equal(t, access.ResolutionPending, state.Resolution)
	assert.Equal(t, 0, source.fetchCount())
}

func TestStoreProfileNotFound(t *testing.T) {
	provider := &fakeProvider{session: &Session{UserID: "ghost"}}
	source := newFakeSource() // no profiles at all
	store := NewStore(provider, source)
	defer store.Stop()

	store.Start(context.Background())

	state := waitForState(t, store, settled)
	assert.Nil(t, state.Profile)
	assert.Equal(t, access.ResolutionNotFound, state.Resolution)
}

func TestStoreDoubleInvokedSetup(t *testing.T) {
	// Hosts that run setup twice designate the second invocation as the
	// one that ends the loading state
	provider := &fakeProvider{session: &Session{UserID: "a"}}
	source := newFakeSource("a")
	store := NewStore(provider, source, WithDefinitiveRun(2))
	defer store.Stop()

	store.Start(context.Background())

	// The first run resolves the profile but may not end loading
	waitForState(t, store, func(st State) bool {
		return st.Resolution == access.ResolutionFound
	})

	store.Start(context.Background())

	state := waitForState(t, store, settled)
	require.NotNil(t, state.Profile)
	assert.Equal(t, access.ResolutionFound, state.Resolution)
	assert.False(t, state.Loading)
}

func TestStoreSignOutClearsState(t *testing.T) {
	provider := &fakeProvider{session: &Session{UserID: "a"}}
	source := newFakeSource("a")
	store := NewStore(provider, source)
	defer store.Stop()

	store.Start(context.Background())
	waitForState(t, store, settled)

	require.NoError(t, store.SignOut(context.Background()))

	state := waitForState(t, store, func(st State) bool {
		return st.Session == nil && !st.Loading
	})
	assert.Nil(t, state.Profile)
	assert.Equal(t, access.ResolutionPending, state.Resolution)
	// Sign-out never triggers a profile fetch
	assert.Equal(t, 1, source.fetchCount())
}

func TestStoreTokenRefreshDoesNotRefetch(t *testing.T) {
	sess := &Session{UserID: "a"}
	provider := &fakeProvider{session: sess}
	source := newFakeSource("a")
	store := NewStore(provider, source)
	defer store.Stop()

	store.Start(context.Background())
	waitForState(t, store, settled)
	require.Equal(t, 1, source.fetchCount())

	provider.emit(Event{Kind: EventTokenRefreshed, Session: sess})

	// Give the event time to process, then confirm no fetch happened
	time.Sleep(100 * time.Millisecond)
	state := store.State()
	require.NotNil(t, state.Profile)
	assert.Equal(t, 1, source.fetchCount())
}

func TestStoreTokenRefreshDuringInitialFetchStillSettles(t *testing.T) {
	// A refresh notification for the unchanged user arriving while the
	// initial profile fetch is in flight must not strand the resolution
	sess := &Session{UserID: "a"}
	provider := &fakeProvider{session: sess}
	source := newFakeSource("a")
	source.mu.Lock()
	source.delays["a"] = 150 * time.Millisecond
	source.mu.Unlock()

	store := NewStore(provider, source)
	defer store.Stop()

	store.Start(context.Background())

	// Wait for the session commit so the fetch is known to be in flight
	waitForState(t, store, func(st State) bool {
		return st.Session != nil
	})
	provider.emit(Event{Kind: EventTokenRefreshed, Session: sess})

	state := waitForState(t, store, settled)
	require.NotNil(t, state.Profile)
	assert.Equal(t, access.ResolutionFound, state.Resolution)
	assert.False(t, state.Loading)
	assert.Equal(t, 1, source.fetchCount())
}

func TestStoreUserUpdatedRefetches(t *testing.T) {
	sess := &Session{UserID: "a"}
	provider := &fakeProvider{session: sess}
	source := newFakeSource("a")
	store := NewStore(provider, source)
	defer store.Stop()

	store.Start(context.Background())
	waitForState(t, store, settled)

	source.mu.Lock()
	source.profiles["a"] = &access.Profile{
		UserID:   "a",
		Username: "renamed",
		Status:   access.StatusApproved,
		Role:     access.RoleModerator,
	}
	source.mu.Unlock()

	provider.emit(Event{Kind: EventUserUpdated, Session: sess})

	state := waitForState(t, store, func(st State) bool {
		return st.Profile != nil && st.Profile.Username == "renamed"
	})
	assert.Equal(t, access.RoleModerator, state.Profile.Role)
	assert.Equal(t, 2, source.fetchCount())
}

func TestStoreNeverPairsNewSessionWithOldProfile(t *testing.T) {
	provider := &fakeProvider{session: &Session{UserID: "a"}}
	source := newFakeSource("a", "b")
	source.mu.Lock()
	source.delays["b"] = 50 * time.Millisecond
	source.mu.Unlock()

	store := NewStore(provider, source)
	defer store.Stop()

	updates := make(chan State, 256)
	unsub := store.Subscribe(updates)

	store.Start(context.Background())
	waitForState(t, store, settled)

	provider.setSession(&Session{UserID: "b"})
	provider.emit(Event{Kind: EventSignedIn, Session: &Session{UserID: "b"}})

	waitForState(t, store, func(st State) bool {
		return st.Session != nil && st.Session.UserID == "b" && st.Resolution == access.ResolutionFound
	})

	// No observed snapshot may carry user b's session with user a's profile
	unsub()
	for len(updates) > 0 {
		st := <-updates
		if st.Session != nil && st.Profile != nil {
			assert.Equal(t, st.Session.UserID, st.Profile.UserID,
				"snapshot pairs session %s with profile %s", st.Session.UserID, st.Profile.UserID)
		}
	}
}

func TestStoreBoundsHangingProfileSource(t *testing.T) {
	provider := &fakeProvider{session: &Session{UserID: "a"}}
	source := newFakeSource("a")
	source.hangForever = true

	store := NewStore(provider, source, WithFetchTimeout(50*time.Millisecond))
	defer store.Stop()

	start := time.Now()
	store.Start(context.Background())

	state := waitForState(t, store, settled)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Nil(t, state.Profile)
	assert.Equal(t, access.ResolutionFailed, state.Resolution)
}

func TestStoreStopPreventsFurtherCommits(t *testing.T) {
	provider := &fakeProvider{session: &Session{UserID: "a"}}
	source := newFakeSource("a")
	store := NewStore(provider, source)

	store.Start(context.Background())
	waitForState(t, store, settled)
	store.Stop()

	before := store.State()
	provider.emit(Event{Kind: EventSignedOut, Session: nil})
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, before, store.State())
}
