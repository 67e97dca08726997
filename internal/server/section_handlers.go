package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/agorad-dev/agorad/internal/models"
)

// listSections returns every forum section in display order
func (s *Server) listSections(c *gin.Context) {
	var sections []models.Section
	if err := s.db.Order("position ASC, title ASC").Find(&sections).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to list sections")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sections": sections, "count": len(sections)})
}

// getSection returns one section by slug
func (s *Server) getSection(c *gin.Context) {
	slug := c.Param("slug")

	var section models.Section
	if err := s.db.Where("slug = ?", slug).First(&section).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "section not found"})
			return
		}
		s.logger.Error().Err(err).Str("slug", slug).Msg("Failed to load section")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, section)
}

// CreateSectionRequest creates a forum section
type CreateSectionRequest struct {
	Title       string `json:"title" binding:"required,min=1,max=120"`
	Slug        string `json:"slug" binding:"required,handle,min=1,max=64"`
	Description string `json:"description"`
	Position    int    `json:"position"`
}

func (s *Server) createSection(c *gin.Context) {
	var req CreateSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var existing int64
	if err := s.db.Model(&models.Section{}).Where("slug = ?", req.Slug).Count(&existing).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to check slug uniqueness")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if existing > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "a section with this slug already exists"})
		return
	}

	session := GetSessionData(c)
	section := &models.Section{
		Title:       req.Title,
		Slug:        req.Slug,
		Description: req.Description,
		Position:    req.Position,
		CreatedByID: session.UserID,
	}
	if err := s.db.Create(section).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to create section")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create section"})
		return
	}

	s.logger.Info().Str("slug", section.Slug).Str("created_by", session.UserID).Msg("Section created")

	c.JSON(http.StatusCreated, section)
}

// UpdateSectionRequest applies a partial update; nil fields are untouched
type UpdateSectionRequest struct {
	Title       *string `json:"title" binding:"omitempty,min=1,max=120"`
	Slug        *string `json:"slug" binding:"omitempty,handle,min=1,max=64"`
	Description *string `json:"description"`
	Position    *int    `json:"position"`
}

func (s *Server) updateSection(c *gin.Context) {
	slug := c.Param("slug")

	var req UpdateSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var section models.Section
	if err := s.db.Where("slug = ?", slug).First(&section).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "section not found"})
			return
		}
		s.logger.Error().Err(err).Str("slug", slug).Msg("Failed to load section")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Slug != nil && *req.Slug != section.Slug {
		var clash int64
		if err := s.db.Model(&models.Section{}).Where("slug = ?", *req.Slug).Count(&clash).Error; err == nil && clash > 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "a section with this slug already exists"})
			return
		}
		updates["slug"] = *req.Slug
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Position != nil {
		updates["position"] = *req.Position
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, section)
		return
	}

	if err := s.db.Model(&section).Updates(updates).Error; err != nil {
		s.logger.Error().Err(err).Str("slug", slug).Msg("Failed to update section")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update section"})
		return
	}

	c.JSON(http.StatusOK, section)
}

func (s *Server) deleteSection(c *gin.Context) {
	slug := c.Param("slug")

	result := s.db.Where("slug = ?", slug).Delete(&models.Section{})
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Str("slug", slug).Msg("Failed to delete section")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete section"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "section not found"})
		return
	}

	session := GetSessionData(c)
	s.logger.Info().Str("slug", slug).Str("deleted_by", session.UserID).Msg("Section deleted")

	c.Status(http.StatusNoContent)
}
