package authstate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agorad-dev/agorad/internal/access"
)

func profileFor(userID string) *access.Profile {
	return &access.Profile{
		UserID:   userID,
		Username: "user-" + userID,
		Status:   access.StatusApproved,
		Role:     access.RoleUser,
	}
}

func TestApplySessionChangeSignOut(t *testing.T) {
	old := State{
		Session:    &Session{UserID: "a"},
		Profile:    profileFor("a"),
		Resolution: access.ResolutionFound,
		Loading:    false,
	}

	next, fetch := applySessionChange(old, Event{Kind: EventSignedOut, Session: nil})

	assert.False(t, fetch)
	assert.Nil(t, next.Session)
	assert.Nil(t, next.Profile)
	assert.Equal(t, access.ResolutionPending, next.Resolution)
	assert.False(t, next.Loading)
}

func TestApplySessionChangeNewUserClearsProfile(t *testing.T) {
	old := State{
		Session:    &Session{UserID: "a"},
		Profile:    profileFor("a"),
		Resolution: access.ResolutionFound,
	}

	next, fetch := applySessionChange(old, Event{
		Kind:    EventSignedIn,
		Session: &Session{UserID: "b"},
	})

	// The old profile must vanish in the same transition that adopts the
	// new session; no intermediate state pairs session b with profile a
	assert.True(t, fetch)
	require.NotNil(t, next.Session)
	assert.Equal(t, "b", next.Session.UserID)
	assert.Nil(t, next.Profile)
	assert.Equal(t, access.ResolutionPending, next.Resolution)
	assert.True(t, next.Loading)
}

func TestApplySessionChangeTokenRefreshKeepsProfile(t *testing.T) {
	old := State{
		Session:    &Session{UserID: "a"},
		Profile:    profileFor("a"),
		Resolution: access.ResolutionFound,
	}

	next, fetch := applySessionChange(old, Event{
		Kind:    EventTokenRefreshed,
		Session: &Session{UserID: "a"},
	})

	assert.False(t, fetch)
	assert.Equal(t, old.Profile, next.Profile)
	assert.Equal(t, access.ResolutionFound, next.Resolution)
}

func TestApplySessionChangeUserUpdatedRefetches(t *testing.T) {
	old := State{
		Session:    &Session{UserID: "a"},
		Profile:    profileFor("a"),
		Resolution: access.ResolutionFound,
	}

	next, fetch := applySessionChange(old, Event{
		Kind:    EventUserUpdated,
		Session: &Session{UserID: "a"},
	})

	// Same identity, so the cached profile stays visible while the
	// refreshed one is fetched
	assert.True(t, fetch)
	assert.Equal(t, old.Profile, next.Profile)
	assert.True(t, next.Loading)
}

func TestApplySessionChangeUserChangeDuringSetup(t *testing.T) {
	// A user-id change always refetches, even when the previous state was
	// still resolving
	old := State{
		Session: &Session{UserID: "a"},
		Loading: true,
	}

	_, fetch := applySessionChange(old, Event{
		Kind:    EventSignedIn,
		Session: &Session{UserID: "b"},
	})
	assert.True(t, fetch)
}

func TestApplyProfileResultOutcomes(t *testing.T) {
	base := State{Session: &Session{UserID: "a"}, Loading: true}

	found := applyProfileResult(base, "a", profileFor("a"), nil)
	assert.Equal(t, access.ResolutionFound, found.Resolution)
	assert.NotNil(t, found.Profile)
	assert.False(t, found.Loading)

	notFound := applyProfileResult(base, "a", nil, ErrProfileNotFound)
	assert.Equal(t, access.ResolutionNotFound, notFound.Resolution)
	assert.Nil(t, notFound.Profile)
	assert.False(t, notFound.Loading)

	failed := applyProfileResult(base, "a", nil, errors.New("connection reset"))
	assert.Equal(t, access.ResolutionFailed, failed.Resolution)
	assert.Nil(t, failed.Profile)
	assert.False(t, failed.Loading)
}

func TestApplyProfileResultDiscardsMismatchedUser(t *testing.T) {
	old := State{Session: &Session{UserID: "b"}, Loading: true}

	next := applyProfileResult(old, "a", profileFor("a"), nil)

	// A late result for a superseded identity changes nothing
	assert.Equal(t, old, next)
}

func TestStateAccessConversion(t *testing.T) {
	st := State{
		Session:    &Session{UserID: "a", Email: "a@example.org"},
		Profile:    profileFor("a"),
		Resolution: access.ResolutionFound,
	}

	converted := st.Access()
	assert.True(t, converted.HasSession)
	assert.Equal(t, "a", converted.UserID)
	assert.Equal(t, st.Profile, converted.Profile)

	empty := State{Loading: true}.Access()
	assert.False(t, empty.HasSession)
	assert.True(t, empty.Loading)
}
