package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/agorad-dev/agorad/internal/access"
	"github.com/agorad-dev/agorad/internal/assert"
	"github.com/agorad-dev/agorad/internal/auth"
	"github.com/agorad-dev/agorad/internal/models"
	"github.com/agorad-dev/agorad/internal/tasks"
)

// SetupRequest creates the first administrator account
type SetupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=12"`
	Username string `json:"username" binding:"required,handle,min=3,max=32"`
	FullName string `json:"full_name"`
	SiteName string `json:"site_name"`
}

// LoginRequest authenticates an existing account
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// SignupRequest registers a new account pending approval
type SignupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=12"`
	Username string `json:"username" binding:"omitempty,handle,min=3,max=32"`
	FullName string `json:"full_name"`
}

// UserDetail is the account shape returned to authenticated clients
type UserDetail struct {
	ID        string          `json:"id"`
	Email     string          `json:"email"`
	CreatedAt time.Time       `json:"created_at"`
	Profile   *access.Profile `json:"profile,omitempty"`
}

// LoginResponse carries the issued token and the account it belongs to
type LoginResponse struct {
	Token string     `json:"token"`
	User  UserDetail `json:"user"`
}

func userDetail(user *models.User) UserDetail {
	detail := UserDetail{
		ID:        user.ID,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	}
	if user.Profile != nil {
		detail.Profile = user.Profile.ToAccess()
	}
	return detail
}

// setupFirstAdmin performs first-run initialization: generates the JWT
// secret, writes the singleton config, and creates the super_admin account
// with an approved profile. Refused once any account exists.
func (s *Server) setupFirstAdmin(c *gin.Context) {
	var req SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var userCount int64
	if err := s.db.Model(&models.User{}).Count(&userCount).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to count users during setup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if userCount > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "setup already completed"})
		return
	}

	secret, err := generateJWTSecret()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate JWT secret")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to hash password during setup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	siteName := req.SiteName
	if siteName == "" {
		siteName = "Agora"
	}

	user := &models.User{
		Email:         req.Email,
		PasswordHash:  passwordHash,
		EmailVerified: true,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		conf := &models.Config{
			JWTSecret:  secret,
			SiteName:   siteName,
			SignupOpen: true,
		}
		if err := tx.Create(conf).Error; err != nil {
			return err
		}

		if err := tx.Create(user).Error; err != nil {
			return err
		}

		profile := &models.Profile{
			UserID:   user.ID,
			Username: req.Username,
			FullName: req.FullName,
			Status:   access.StatusApproved,
			Role:     access.RoleSuperAdmin,
		}
		if err := tx.Create(profile).Error; err != nil {
			return err
		}
		user.Profile = profile
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("First setup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "setup failed"})
		return
	}

	auth.InitializeJWT(secret)

	token, err := auth.GenerateToken(user.ID, user.Email, string(access.RoleSuperAdmin))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate token after setup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("First setup completed")

	c.JSON(http.StatusCreated, LoginResponse{Token: token, User: userDetail(user)})
}

// login verifies credentials and issues a token. Unapproved accounts can
// log in; the guards keep them out of the forum content until approval.
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	err := s.db.Preload("Profile").Where("email = ?", req.Email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Email ou mot de passe incorrect."})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to load user for login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if err := auth.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Email ou mot de passe incorrect."})
		return
	}

	role := ""
	if user.Profile != nil {
		role = string(user.Profile.Role)
	}
	token, err := auth.GenerateToken(user.ID, user.Email, role)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	s.logger.Info().Str("user_id", user.ID).Msg("User logged in")

	c.JSON(http.StatusOK, LoginResponse{Token: token, User: userDetail(&user)})
}

// signup registers a new identity. Profile provisioning runs in the
// background; until a moderator approves the account it resolves to
// pending_approval and every guard redirects it away.
func (s *Server) signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var conf models.Config
	if err := s.db.First(&conf).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "setup not completed"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to load config for signup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !conf.SignupOpen {
		c.JSON(http.StatusForbidden, gin.H{"error": "Les inscriptions sont fermées."})
		return
	}

	var existing int64
	if err := s.db.Model(&models.User{}).Where("email = ?", req.Email).Count(&existing).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to check existing email")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if existing > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Un compte existe déjà avec cet email."})
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to hash password during signup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: passwordHash,
	}
	if err := s.db.Create(user).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to create identity")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	task, err := tasks.NewProvisionProfileTask(user.ID, req.Username, req.FullName)
	if err == nil {
		_, err = s.enqueuer.Enqueue(task)
	}
	if err != nil {
		// Provision inline rather than leave an identity without a profile
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Enqueue failed, provisioning profile inline")
		profile := &models.Profile{
			UserID:   user.ID,
			Username: req.Username,
			FullName: req.FullName,
			Status:   access.StatusPendingApproval,
			Role:     access.RoleUser,
		}
		if profile.Username == "" {
			profile.Username = user.ID
		}
		if err := s.db.Create(profile).Error; err != nil {
			s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Inline provisioning failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
			return
		}
	}

	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("Signup accepted, pending approval")

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Compte créé. Votre compte est en attente d'approbation.",
		"user_id": user.ID,
	})
}

// MeResponse is the full resolved standing of the calling account
type MeResponse struct {
	UserID       string              `json:"user_id"`
	Email        string              `json:"email"`
	Profile      *access.Profile     `json:"profile"`
	Resolution   string              `json:"resolution"`
	Capabilities access.Capabilities `json:"capabilities"`
}

// getCurrentUser reports the caller's resolved state: profile, resolution
// outcome, and derived capabilities. Available to unapproved accounts so a
// pending visitor can see their own standing.
func (s *Server) getCurrentUser(c *gin.Context) {
	session := GetSessionData(c)
	state := GetAccessState(c)

	resp := MeResponse{
		UserID:     session.UserID,
		Email:      session.Email,
		Profile:    state.Profile,
		Resolution: state.Resolution.String(),
	}
	if state.Profile != nil {
		resp.Capabilities = access.CapabilitiesFor(state.Profile.Role)
	}

	c.JSON(http.StatusOK, resp)
}

// logout acknowledges sign-out. Tokens are stateless; the client discards
// its copy and the session is gone.
func (s *Server) logout(c *gin.Context) {
	session := GetSessionData(c)
	s.logger.Info().Str("user_id", session.UserID).Msg("User logged out")
	c.Status(http.StatusNoContent)
}

// generateJWTSecret produces a 64-hex-char secret for token signing
func generateJWTSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(raw)
	assert.Length(secret, 64)
	return secret, nil
}
