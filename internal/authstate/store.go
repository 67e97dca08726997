package authstate

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agorad-dev/agorad/internal/access"
)

// DefaultFetchTimeout bounds the profile fetch. A lookup that neither
// returns nor errors within the bound resolves to a failure, never a
// loading state that hangs forever.
const DefaultFetchTimeout = 10 * time.Second

// Store resolves and caches the current visitor's session and profile.
// It is safe for concurrent use; all mutation goes through the provider
// subscription and the Start lifecycle.
type Store struct {
	provider Provider
	profiles ProfileSource
	timeout  time.Duration
	logger   zerolog.Logger

	mu    sync.Mutex
	state State
	subs  []chan<- State

	// Initialization bookkeeping. Start may be invoked more than once for
	// the same logical session; only the latest invocation commits, and
	// Loading flips false only when the definitive invocation settles.
	latestRun     int
	definitiveRun int

	// fetchGen invalidates in-flight fetches whenever a newer session
	// transition commits.
	fetchGen int

	processing bool
	pending    *Event

	runCtx  context.Context
	cancel  context.CancelFunc
	unsub   func()
	stopped bool
}

// Option configures a Store.
type Option func(*Store)

// WithFetchTimeout overrides the profile fetch bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// WithDefinitiveRun designates which Start invocation is allowed to flip
// the store out of its loading state. Host environments that double-invoke
// setup should pass 2.
func WithDefinitiveRun(n int) Option {
	return func(s *Store) { s.definitiveRun = n }
}

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore builds a store over the given provider and profile source. The
// store starts in the loading state; call Start to begin resolution.
func NewStore(provider Provider, profiles ProfileSource, opts ...Option) *Store {
	s := &Store{
		provider:      provider,
		profiles:      profiles,
		timeout:       DefaultFetchTimeout,
		logger:        zerolog.Nop(),
		definitiveRun: 1,
		state:         State{Loading: true},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "authstate").Logger()
	return s
}

// Start launches a resolution run: fetch the current session, then the
// profile for its user id, and subscribe to provider notifications. Calling
// Start again supersedes any run still in flight.
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.runCtx == nil {
		s.runCtx, s.cancel = context.WithCancel(ctx)
	}
	s.latestRun++
	run := s.latestRun
	gen := s.fetchGen
	s.state.Loading = true
	if s.unsub == nil {
		s.unsub = s.provider.Subscribe(s.onAuthEvent)
	}
	s.mu.Unlock()

	s.logger.Debug().Int("run", run).Int("definitive_run", s.definitiveRun).Msg("Starting auth resolution")
	s.notify()
	go s.setup(run, gen)
}

// Stop tears the store down. The provider subscription is cancelled
// synchronously and no further state commits occur.
func (s *Store) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	unsub := s.unsub
	s.unsub = nil
	cancel := s.cancel
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	s.logger.Debug().Msg("Auth resolution store stopped")
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers a channel that receives a snapshot after every
// commit. Sends are non-blocking; use a buffered channel. The returned
// function removes the subscription.
func (s *Store) Subscribe(ch chan<- State) func() {
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// SignOut asks the provider to end the session. State is cleared by the
// provider's subsequent notification, keeping a single authoritative
// transition path.
func (s *Store) SignOut(ctx context.Context) error {
	return s.provider.SignOut(ctx)
}

func (s *Store) setup(run, gen int) {
	ctx := s.runCtx

	sess, err := s.provider.CurrentSession(ctx)
	if err != nil {
		// Fail closed: a provider error resolves to "no session".
		s.logger.Warn().Err(err).Int("run", run).Msg("Failed to get current session")
		sess = nil
	}

	s.mu.Lock()
	if s.stopped || run != s.latestRun || gen != s.fetchGen {
		s.mu.Unlock()
		s.logger.Debug().Int("run", run).Msg("Stale setup run, dropping session result")
		return
	}
	s.state.Session = sess
	if sess == nil {
		s.state.Profile = nil
		s.state.Resolution = access.ResolutionPending
		s.finishRunLocked(run)
		s.mu.Unlock()
		s.notify()
		return
	}
	s.state.Profile = nil
	s.state.Resolution = access.ResolutionPending
	s.fetchGen++
	fetchGen := s.fetchGen
	userID := sess.UserID
	s.mu.Unlock()
	s.notify()

	profile, ferr := s.fetchProfile(ctx, userID)

	s.mu.Lock()
	if s.stopped || run != s.latestRun || fetchGen != s.fetchGen {
		s.mu.Unlock()
		s.logger.Debug().Int("run", run).Str("user_id", userID).Msg("Stale setup run, dropping profile result")
		return
	}
	s.state = applyProfileResult(s.state, userID, profile, ferr)
	s.finishRunLocked(run)
	s.mu.Unlock()
	s.notify()
}

// finishRunLocked ends an initialization run. Only the definitive run (or a
// later one) may flip Loading false, so an earlier overlapping run can
// never prematurely end the loading state.
func (s *Store) finishRunLocked(run int) {
	if run >= s.definitiveRun {
		s.state.Loading = false
	}
	s.logger.Debug().
		Int("run", run).
		Bool("loading", s.state.Loading).
		Str("resolution", s.state.Resolution.String()).
		Msg("Auth resolution run finished")
}

// onAuthEvent serializes provider notifications. If one is already being
// processed, the newest notification supersedes any queued one; the store
// converges on the latest known session.
func (s *Store) onAuthEvent(ev Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.processing {
		s.pending = &ev
		s.mu.Unlock()
		return
	}
	s.processing = true
	s.mu.Unlock()
	go s.processEvents(ev)
}

func (s *Store) processEvents(ev Event) {
	for {
		s.handleEvent(ev)
		s.mu.Lock()
		if s.pending == nil || s.stopped {
			s.processing = false
			s.mu.Unlock()
			return
		}
		ev = *s.pending
		s.pending = nil
		s.mu.Unlock()
	}
}

func (s *Store) handleEvent(ev Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	next, fetch := applySessionChange(s.state, ev)
	s.state = next
	// The generation moves only when the transition invalidates the cached
	// or in-flight resolution: a sign-out, or an identity that needs a
	// fresh fetch. A token refresh for the unchanged user leaves any setup
	// fetch still in flight free to commit.
	if fetch || ev.Session == nil {
		s.fetchGen++
	}
	gen := s.fetchGen
	s.mu.Unlock()

	s.logger.Debug().
		Str("event", string(ev.Kind)).
		Bool("fetch", fetch).
		Msg("Processed auth change notification")
	s.notify()

	if !fetch || ev.Session == nil {
		return
	}
	userID := ev.Session.UserID

	profile, err := s.fetchProfile(s.runCtx, userID)

	s.mu.Lock()
	if s.stopped || gen != s.fetchGen {
		s.mu.Unlock()
		s.logger.Debug().Str("user_id", userID).Msg("Superseded profile fetch, dropping result")
		return
	}
	s.state = applyProfileResult(s.state, userID, profile, err)
	s.mu.Unlock()
	s.notify()
}

// fetchProfile runs the bounded profile lookup. The select also covers a
// source that ignores context cancellation.
func (s *Store) fetchProfile(ctx context.Context, userID string) (*access.Profile, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	fctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		profile *access.Profile
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := s.profiles.FetchProfile(fctx, userID)
		ch <- result{p, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			s.logger.Warn().Err(r.err).Str("user_id", userID).Msg("Profile fetch failed")
		}
		return r.profile, r.err
	case <-fctx.Done():
		s.logger.Warn().Str("user_id", userID).Dur("timeout", s.timeout).Msg("Profile fetch timed out")
		return nil, fctx.Err()
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	snapshot := s.state
	subs := make([]chan<- State, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}
