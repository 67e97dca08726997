package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agorad-dev/agorad/internal/access"
	"github.com/agorad-dev/agorad/internal/directory"
	"github.com/agorad-dev/agorad/internal/models"
	"github.com/agorad-dev/agorad/internal/tasks"
)

const tempPasswordLength = 20

// listUsers returns all accounts with their profiles, newest first.
// Optional ?status= filters by approval status.
func (s *Server) listUsers(c *gin.Context) {
	query := s.db.Preload("Profile").Order("created_at DESC")

	if raw := c.Query("status"); raw != "" {
		status := access.Status(raw)
		switch status {
		case access.StatusPendingApproval, access.StatusApproved, access.StatusRejected:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status filter"})
			return
		}
		query = query.Joins("JOIN profiles ON profiles.user_id = users.id").
			Where("profiles.status = ?", status)
	}

	var users []models.User
	if err := query.Find(&users).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to list users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	details := make([]UserDetail, 0, len(users))
	for i := range users {
		details = append(details, userDetail(&users[i]))
	}

	c.JSON(http.StatusOK, gin.H{"users": details, "count": len(details)})
}

// listPendingUsers returns the approval queue, oldest first
func (s *Server) listPendingUsers(c *gin.Context) {
	pending, err := s.directorySvc.PendingProfiles(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list pending profiles")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	profiles := make([]*access.Profile, 0, len(pending))
	for i := range pending {
		profiles = append(profiles, pending[i].ToAccess())
	}

	c.JSON(http.StatusOK, gin.H{"profiles": profiles, "count": len(profiles)})
}

// CreateUserRequest provisions an account from the admin panel. Password is
// optional; a temporary one is generated and returned when omitted.
type CreateUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"omitempty,min=12"`
	Username string `json:"username" binding:"required,handle,min=3,max=32"`
	FullName string `json:"full_name"`
	Role     string `json:"role" binding:"omitempty,rolename"`
}

func (s *Server) createUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := GetSessionData(c)

	role := access.RoleUser
	if req.Role != "" {
		role, _ = access.ParseRole(req.Role)
	}

	password := req.Password
	tempPassword := ""
	if password == "" {
		generated, err := s.directorySvc.GenerateTempPassword(tempPasswordLength)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to generate temporary password")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		password = generated
		tempPassword = generated
	}

	user, err := s.directorySvc.CreateUser(c.Request.Context(), directory.CreateUserParams{
		Email:    req.Email,
		Password: password,
		FullName: req.FullName,
		Username: req.Username,
		Role:     role,
		ActorID:  session.UserID,
	})
	if err != nil {
		if errors.Is(err, directory.ErrInvalidRole) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	resp := gin.H{"user": userDetail(user)}
	if tempPassword != "" {
		resp["temp_password"] = tempPassword
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) deleteUser(c *gin.Context) {
	session := GetSessionData(c)
	userID := c.Param("id")

	err := s.directorySvc.DeleteUser(c.Request.Context(), userID, session.UserID)
	if err != nil {
		switch {
		case errors.Is(err, directory.ErrSelfDeletion):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Vous ne pouvez pas supprimer votre propre compte."})
		case errors.Is(err, directory.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete user"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) approveUser(c *gin.Context) {
	s.decideApproval(c, access.StatusApproved, "approved")
}

func (s *Server) rejectUser(c *gin.Context) {
	s.decideApproval(c, access.StatusRejected, "rejected")
}

// decideApproval applies an approval decision and enqueues the
// notification task. A failed enqueue does not fail the decision.
func (s *Server) decideApproval(c *gin.Context, status access.Status, decision string) {
	session := GetSessionData(c)
	userID := c.Param("id")

	profile, err := s.directorySvc.SetStatus(c.Request.Context(), userID, status, session.UserID)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update status"})
		return
	}

	if task, err := tasks.NewApprovalNoticeTask(userID, decision); err == nil {
		if _, err := s.enqueuer.Enqueue(task); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to enqueue approval notice")
		}
	}

	c.JSON(http.StatusOK, gin.H{"profile": profile.ToAccess()})
}

// SetRoleRequest changes an account's role
type SetRoleRequest struct {
	Role string `json:"role" binding:"required,rolename"`
}

func (s *Server) setUserRole(c *gin.Context) {
	var req SetRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := GetSessionData(c)
	userID := c.Param("id")

	profile, err := s.directorySvc.SetRole(c.Request.Context(), userID, access.Role(req.Role), session.UserID)
	if err != nil {
		switch {
		case errors.Is(err, directory.ErrInvalidRole):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		case errors.Is(err, directory.ErrSelfDemotion):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Vous ne pouvez pas retirer vos propres droits d'administration."})
		case errors.Is(err, directory.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update role"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"profile": profile.ToAccess()})
}

// UpdateUserProfileRequest edits a profile's display fields. Omitted
// fields are left untouched.
type UpdateUserProfileRequest struct {
	Username  *string `json:"username" binding:"omitempty,handle,min=3,max=32"`
	FullName  *string `json:"full_name"`
	AvatarURL *string `json:"avatar_url" binding:"omitempty,url"`
}

func (s *Server) updateUserProfile(c *gin.Context) {
	var req UpdateUserProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := GetSessionData(c)
	userID := c.Param("id")

	profile, err := s.directorySvc.UpdateProfile(c.Request.Context(), userID, directory.UpdateProfileParams{
		Username:  req.Username,
		FullName:  req.FullName,
		AvatarURL: req.AvatarURL,
	}, session.UserID)
	if err != nil {
		switch {
		case errors.Is(err, directory.ErrHandleTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		case errors.Is(err, directory.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"profile": profile.ToAccess()})
}

// DashboardStats summarizes moderation workload
type DashboardStats struct {
	TotalUsers      int64 `json:"total_users"`
	PendingAccounts int64 `json:"pending_accounts"`
	ApprovedUsers   int64 `json:"approved_users"`
	RejectedUsers   int64 `json:"rejected_users"`
	Sections        int64 `json:"sections"`
	OpenReports     int64 `json:"open_reports"`
}

func (s *Server) getStats(c *gin.Context) {
	var stats DashboardStats

	counts := []func() error{
		func() error {
			return s.db.Model(&models.User{}).Count(&stats.TotalUsers).Error
		},
		func() error {
			return s.db.Model(&models.Profile{}).Where("status = ?", access.StatusPendingApproval).Count(&stats.PendingAccounts).Error
		},
		func() error {
			return s.db.Model(&models.Profile{}).Where("status = ?", access.StatusApproved).Count(&stats.ApprovedUsers).Error
		},
		func() error {
			return s.db.Model(&models.Profile{}).Where("status = ?", access.StatusRejected).Count(&stats.RejectedUsers).Error
		},
		func() error {
			return s.db.Model(&models.Section{}).Count(&stats.Sections).Error
		},
		func() error {
			return s.db.Model(&models.Report{}).Where("status = ?", models.ReportStatusOpen).Count(&stats.OpenReports).Error
		},
	}

	for _, count := range counts {
		if err := count(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to compute dashboard stats")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
	}

	c.JSON(http.StatusOK, stats)
}
