package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/agorad-dev/agorad/internal/access"
	"github.com/agorad-dev/agorad/internal/authstate"
	"github.com/agorad-dev/agorad/internal/cli/client"
	"github.com/agorad-dev/agorad/internal/cli/config"
	"github.com/agorad-dev/agorad/internal/cli/session"
)

// resolveTimeout bounds how long a command waits for auth resolution. The
// store bounds the profile fetch itself; this covers the full run.
const resolveTimeout = 15 * time.Second

// cliContext wires the config, API client, and auth resolution store a
// command needs. Each invocation builds a fresh one.
type cliContext struct {
	cfg      *config.Config
	api      *client.Client
	provider *session.Provider
	store    *authstate.Store
}

func newCLIContext() (*cliContext, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	api := client.New(cfg.ServerURL)
	provider := session.NewProvider(cfg.ServerURL, api)
	store := authstate.NewStore(provider, provider)

	return &cliContext{
		cfg:      cfg,
		api:      api,
		provider: provider,
		store:    store,
	}, nil
}

// resolve starts the store and blocks until the first resolution settles
func (c *cliContext) resolve(ctx context.Context) (authstate.State, error) {
	updates := make(chan authstate.State, 16)
	unsub := c.store.Subscribe(updates)
	defer unsub()

	c.store.Start(ctx)

	deadline := time.After(resolveTimeout)
	for {
		state := c.store.State()
		if !state.Loading {
			return state, nil
		}
		select {
		case <-updates:
		case <-deadline:
			return state, fmt.Errorf("auth resolution did not settle within %s", resolveTimeout)
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
}

// requireAccess resolves the caller's standing and evaluates it against the
// requirement. The server re-checks on every request; this keeps a denied
// command from even reaching it.
func (c *cliContext) requireAccess(ctx context.Context, req access.Requirement) (authstate.State, error) {
	state, err := c.resolve(ctx)
	if err != nil {
		return state, err
	}

	decision := access.Evaluate(state.Access(), req)
	if decision.Kind != access.DecisionAllow {
		return state, fmt.Errorf("%s", decision.Message)
	}
	return state, nil
}
