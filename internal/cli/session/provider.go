// Package session adapts the keyring-stored token and the server API into
// the provider and profile-source contracts the auth resolution store
// expects, so the CLI resolves its standing the same way every other
// surface does.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/agorad-dev/agorad/internal/access"
	"github.com/agorad-dev/agorad/internal/authstate"
	"github.com/agorad-dev/agorad/internal/cli/auth"
	"github.com/agorad-dev/agorad/internal/cli/client"
)

// Provider implements authstate.Provider and authstate.ProfileSource over
// the OS keyring and the server API.
type Provider struct {
	serverURL string
	api       *client.Client

	mu        sync.Mutex
	listeners map[int]func(authstate.Event)
	nextID    int
}

// NewProvider builds a provider for the given server
func NewProvider(serverURL string, api *client.Client) *Provider {
	return &Provider{
		serverURL: serverURL,
		api:       api,
		listeners: map[int]func(authstate.Event){},
	}
}

// CurrentSession reports the stored token's identity, or nil when no token
// is stored. The claims are read unverified; the server re-validates the
// token on every request, the CLI only needs the subject to key resolution.
func (p *Provider) CurrentSession(ctx context.Context) (*authstate.Session, error) {
	token, err := auth.LoadToken(p.serverURL)
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			return nil, nil
		}
		return nil, err
	}

	return sessionFromToken(token)
}

// Subscribe registers a listener for authentication changes
func (p *Provider) Subscribe(fn func(authstate.Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// SignOut deletes the stored token and notifies listeners. The store clears
// its own state from the notification, not from here.
func (p *Provider) SignOut(ctx context.Context) error {
	if err := auth.DeleteToken(p.serverURL); err != nil {
		return err
	}
	p.emit(authstate.Event{Kind: authstate.EventSignedOut, Session: nil})
	return nil
}

// NotifySignedIn is called by the login command after saving a fresh token
func (p *Provider) NotifySignedIn(token string) error {
	sess, err := sessionFromToken(token)
	if err != nil {
		return err
	}
	p.emit(authstate.Event{Kind: authstate.EventSignedIn, Session: sess})
	return nil
}

func (p *Provider) emit(ev authstate.Event) {
	p.mu.Lock()
	listeners := make([]func(authstate.Event), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// FetchProfile resolves the profile through the API. The server performs
// its own bounded lookup; this call maps its outcome to the store's
// contract.
func (p *Provider) FetchProfile(ctx context.Context, userID string) (*access.Profile, error) {
	me, err := p.api.Me(p.serverURL)
	if err != nil {
		if errors.Is(err, client.ErrProfileMissing) {
			return nil, authstate.ErrProfileNotFound
		}
		return nil, err
	}
	if me.UserID != userID {
		// Token changed underneath the resolution; treat as missing so the
		// store records a terminal outcome for the requested identity
		return nil, authstate.ErrProfileNotFound
	}
	return me.Profile, nil
}

// tokenClaims is the subset of JWT claims the CLI reads
type tokenClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// sessionFromToken extracts the identity from a JWT without verifying the
// signature (the CLI holds no signing secret)
func sessionFromToken(token string) (*authstate.Session, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("stored token is malformed")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode token claims: %w", err)
	}

	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse token claims: %w", err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("stored token has no subject")
	}

	return &authstate.Session{UserID: claims.UserID, Email: claims.Email}, nil
}
