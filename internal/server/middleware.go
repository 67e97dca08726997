package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/agorad-dev/agorad/internal/access"
	"github.com/agorad-dev/agorad/internal/auth"
	"github.com/agorad-dev/agorad/internal/authstate"
	"github.com/agorad-dev/agorad/internal/models"
	"github.com/agorad-dev/agorad/internal/profiles"
)

// Context keys for values attached by the auth middleware
const (
	sessionContextKey     = "session"
	accessStateContextKey = "access_state"
)

// extractBearerToken extracts the JWT token from the Authorization header
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return parts[1]
}

// JWTAuthMiddleware authenticates the request and performs a full auth
// resolution: token -> identity -> profile. The resulting access.State is
// attached to the request context for RequireAccess to evaluate. A failed
// or timed-out profile lookup still produces a terminal state, never a
// hanging request.
func JWTAuthMiddleware(db *gorm.DB, source *profiles.GormSource, fetchTimeout time.Duration, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":       "Vous devez être connecté pour accéder à cette page.",
				"redirect_to": access.LoginPath,
			})
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(token)
		if err != nil {
			logger.Debug().Err(err).Msg("Token validation failed")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":       "Session invalide ou expirée. Veuillez vous reconnecter.",
				"redirect_to": access.LoginPath,
			})
			c.Abort()
			return
		}

		// The identity row must still exist; a deleted account keeps a
		// valid token until expiry otherwise
		var user models.User
		if err := models.FindByID(db, claims.UserID, &user); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusUnauthorized, gin.H{
					"error":       "Compte introuvable. Veuillez vous reconnecter.",
					"redirect_to": access.LoginPath,
				})
			} else {
				logger.Error().Err(err).Msg("Failed to load identity for token")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
			c.Abort()
			return
		}

		state := resolveAccessState(c.Request.Context(), source, fetchTimeout, claims.UserID, logger)

		role := ""
		if state.Profile != nil {
			role = string(state.Profile.Role)
		}
		c.Set(sessionContextKey, &auth.SessionData{
			UserID:     claims.UserID,
			Email:      user.Email,
			Role:       role,
			AuthMethod: "web",
		})
		c.Set(accessStateContextKey, state)

		c.Next()
	}
}

// resolveAccessState runs the bounded profile fetch for an authenticated
// user and maps the outcome to a terminal access.State.
func resolveAccessState(ctx context.Context, source *profiles.GormSource, fetchTimeout time.Duration, userID string, logger zerolog.Logger) access.State {
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	state := access.State{
		HasSession: true,
		UserID:     userID,
	}

	profile, err := source.FetchProfile(fctx, userID)
	switch {
	case err == nil:
		state.Profile = profile
		state.Resolution = access.ResolutionFound
	case errors.Is(err, authstate.ErrProfileNotFound):
		state.Resolution = access.ResolutionNotFound
	default:
		logger.Error().Err(err).Str("user_id", userID).Msg("Profile resolution failed")
		state.Resolution = access.ResolutionFailed
	}

	return state
}

// RequireAccess guards a route group with an access requirement. The
// decision comes from the same evaluation the CLI guards use; redirect
// decisions are rendered as 401/403 JSON with the intended navigation
// target and reason.
func RequireAccess(req access.Requirement, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := GetAccessState(c)

		decision := access.Evaluate(state, req)
		switch decision.Kind {
		case access.DecisionAllow:
			c.Next()
		case access.DecisionLoading:
			// Per-request resolution is synchronous, so this only happens
			// on a misconfigured route missing the auth middleware
			logger.Warn().Str("path", c.Request.URL.Path).Msg("Guard evaluated an unresolved state")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "résolution de session en cours"})
			c.Abort()
		default:
			status := http.StatusForbidden
			if decision.Target == access.LoginPath {
				status = http.StatusUnauthorized
			}
			logger.Debug().
				Str("path", c.Request.URL.Path).
				Str("user_id", state.UserID).
				Str("redirect_to", decision.Target).
				Msg("Access denied")
			c.JSON(status, gin.H{
				"error":       decision.Message,
				"redirect_to": decision.Target,
				"from":        c.Request.URL.Path,
			})
			c.Abort()
		}
	}
}

// GetSessionData retrieves the authenticated session from the gin context.
// Returns nil when the auth middleware did not run.
func GetSessionData(c *gin.Context) *auth.SessionData {
	value, exists := c.Get(sessionContextKey)
	if !exists {
		return nil
	}
	session, ok := value.(*auth.SessionData)
	if !ok {
		return nil
	}
	return session
}

// GetAccessState retrieves the resolved access state. Without the auth
// middleware the zero value (no session, resolution pending, not loading)
// evaluates to a login redirect.
func GetAccessState(c *gin.Context) access.State {
	value, exists := c.Get(accessStateContextKey)
	if !exists {
		return access.State{}
	}
	state, ok := value.(access.State)
	if !ok {
		return access.State{}
	}
	return state
}
