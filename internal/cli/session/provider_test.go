package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agorad-dev/agorad/internal/authstate"
)

func makeToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return fmt.Sprintf("%s.%s.signature", header, base64.RawURLEncoding.EncodeToString(payload))
}

func TestSessionFromToken(t *testing.T) {
	token := makeToken(t, map[string]interface{}{
		"user_id": "01ABCDEF",
		"email":   "marie@example.org",
	})

	sess, err := sessionFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "01ABCDEF", sess.UserID)
	assert.Equal(t, "marie@example.org", sess.Email)
}

func TestSessionFromTokenRejectsMalformed(t *testing.T) {
	_, err := sessionFromToken("not-a-jwt")
	assert.Error(t, err)

	_, err = sessionFromToken("a.!!!.c")
	assert.Error(t, err)

	// Missing subject
	token := makeToken(t, map[string]interface{}{"email": "marie@example.org"})
	_, err = sessionFromToken(token)
	assert.Error(t, err)
}

func TestProviderSubscribeEvents(t *testing.T) {
	provider := NewProvider("http://localhost:8080", nil)

	var received []authstate.Event
	unsub := provider.Subscribe(func(ev authstate.Event) {
		received = append(received, ev)
	})

	token := makeToken(t, map[string]interface{}{"user_id": "u1", "email": "u1@example.org"})
	require.NoError(t, provider.NotifySignedIn(token))
	require.Len(t, received, 1)
	assert.Equal(t, authstate.EventSignedIn, received[0].Kind)
	require.NotNil(t, received[0].Session)
	assert.Equal(t, "u1", received[0].Session.UserID)

	unsub()
	require.NoError(t, provider.NotifySignedIn(token))
	assert.Len(t, received, 1)
}
