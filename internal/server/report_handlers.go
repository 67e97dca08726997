package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/agorad-dev/agorad/internal/models"
)

// CreateReportRequest raises a moderation report
type CreateReportRequest struct {
	SectionID string `json:"section_id"`
	Subject   string `json:"subject" binding:"required,min=1,max=200"`
	Body      string `json:"body" binding:"max=10000"`
}

func (s *Server) createReport(c *gin.Context) {
	var req CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.SectionID != "" {
		var section models.Section
		if err := models.FindByID(s.db, req.SectionID, &section); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown section"})
				return
			}
			s.logger.Error().Err(err).Msg("Failed to check report section")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
	}

	session := GetSessionData(c)
	report := &models.Report{
		SectionID:  req.SectionID,
		ReporterID: session.UserID,
		Subject:    req.Subject,
		Body:       req.Body,
		Status:     models.ReportStatusOpen,
	}
	if err := s.db.Create(report).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to create report")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create report"})
		return
	}

	s.logger.Info().Str("report_id", report.ID).Str("reporter_id", session.UserID).Msg("Report created")

	c.JSON(http.StatusCreated, report)
}

// listReports returns reports for the moderation panel, newest first.
// Optional ?status=open|resolved filters.
func (s *Server) listReports(c *gin.Context) {
	query := s.db.Preload("Section").Order("created_at DESC")

	if status := c.Query("status"); status != "" {
		if status != models.ReportStatusOpen && status != models.ReportStatusResolved {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status filter"})
			return
		}
		query = query.Where("status = ?", status)
	}

	var reports []models.Report
	if err := query.Find(&reports).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to list reports")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

func (s *Server) resolveReport(c *gin.Context) {
	reportID := c.Param("id")

	var report models.Report
	if err := models.FindByIDWithPreload(s.db, reportID, &report, "Section"); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
			return
		}
		s.logger.Error().Err(err).Str("report_id", reportID).Msg("Failed to load report")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if report.Status == models.ReportStatusResolved {
		c.JSON(http.StatusOK, report)
		return
	}

	session := GetSessionData(c)
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":         models.ReportStatusResolved,
		"resolved_by_id": session.UserID,
		"resolved_at":    &now,
	}
	if err := s.db.Model(&report).Updates(updates).Error; err != nil {
		s.logger.Error().Err(err).Str("report_id", reportID).Msg("Failed to resolve report")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve report"})
		return
	}

	s.logger.Info().Str("report_id", reportID).Str("resolved_by", session.UserID).Msg("Report resolved")

	c.JSON(http.StatusOK, report)
}
