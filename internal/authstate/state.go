// Package authstate maintains the single source of truth for "who is the
// current visitor and what is their standing". It resolves the provider
// session and the application profile into one snapshot, keeps it current
// across provider notifications, and notifies dependents on change.
package authstate

import (
	"context"
	"errors"

	"github.com/agorad-dev/agorad/internal/access"
)

// Session is the provider-issued proof of authentication. The store treats
// it as opaque apart from the subject identifier.
type Session struct {
	UserID string
	Email  string
}

// EventKind identifies an authentication-change notification.
type EventKind string

const (
	EventSignedIn       EventKind = "signed_in"
	EventSignedOut      EventKind = "signed_out"
	EventTokenRefreshed EventKind = "token_refreshed"
	EventUserUpdated    EventKind = "user_updated"
)

// Event is delivered by the provider on every authentication-state
// transition. Session is nil on sign-out.
type Event struct {
	Kind    EventKind
	Session *Session
}

// Provider is the external authentication collaborator.
type Provider interface {
	// CurrentSession returns the session at this moment, or nil.
	CurrentSession(ctx context.Context) (*Session, error)
	// Subscribe registers a listener for authentication changes and
	// returns a function that cancels the subscription synchronously.
	Subscribe(fn func(Event)) (unsubscribe func())
	// SignOut asks the provider to end the session. The store never
	// clears its own state here; it waits for the resulting notification.
	SignOut(ctx context.Context) error
}

// ErrProfileNotFound is returned by a ProfileSource when the lookup
// completed but no record exists for the user id.
var ErrProfileNotFound = errors.New("profile not found")

// ProfileSource is the keyed profile lookup backing the store.
type ProfileSource interface {
	FetchProfile(ctx context.Context, userID string) (*access.Profile, error)
}

// State is the store's snapshot: session, profile, and whether the first
// resolution is still in flight.
type State struct {
	Session    *Session
	Profile    *access.Profile
	Resolution access.Resolution
	Loading    bool
}

// Access converts the snapshot into the shape the guards evaluate.
func (st State) Access() access.State {
	a := access.State{
		Loading:    st.Loading,
		Profile:    st.Profile,
		Resolution: st.Resolution,
	}
	if st.Session != nil {
		a.HasSession = true
		a.UserID = st.Session.UserID
	}
	return a
}

// applySessionChange is the pure reducer for a provider notification. It
// returns the next state and whether a profile fetch is needed. On an
// identity change the previous profile is cleared in the same transition,
// so no reader can ever observe the new session with the old profile.
func applySessionChange(old State, ev Event) (State, bool) {
	next := old
	next.Session = ev.Session

	if ev.Session == nil {
		next.Profile = nil
		next.Resolution = access.ResolutionPending
		next.Loading = false
		return next, false
	}

	userChanged := old.Session == nil || old.Session.UserID != ev.Session.UserID
	if userChanged {
		next.Profile = nil
		next.Resolution = access.ResolutionPending
	}

	// A token refresh for the same identity keeps the cached profile.
	fetch := userChanged || ev.Kind == EventUserUpdated
	if fetch {
		next.Loading = true
	}
	return next, fetch
}

// applyProfileResult is the pure reducer for a completed profile fetch.
// Results for a user id other than the current session's are discarded.
func applyProfileResult(old State, userID string, profile *access.Profile, err error) State {
	if old.Session == nil || old.Session.UserID != userID {
		return old
	}

	next := old
	next.Loading = false
	switch {
	case err == nil && profile != nil:
		next.Profile = profile
		next.Resolution = access.ResolutionFound
	case errors.Is(err, ErrProfileNotFound):
		next.Profile = nil
		next.Resolution = access.ResolutionNotFound
	default:
		next.Profile = nil
		next.Resolution = access.ResolutionFailed
	}
	return next
}
