// Package profiles provides the database-backed profile lookup used by
// auth resolution.
package profiles

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/agorad-dev/agorad/internal/access"
	"github.com/agorad-dev/agorad/internal/authstate"
	"github.com/agorad-dev/agorad/internal/models"
)

// GormSource fetches profiles from the application database.
type GormSource struct {
	db *gorm.DB
}

// NewGormSource creates a profile source over the given database.
func NewGormSource(db *gorm.DB) *GormSource {
	return &GormSource{db: db}
}

// FetchProfile looks up the profile for a user id. A missing row maps to
// authstate.ErrProfileNotFound; a row with an unpopulated status or role is
// treated the same way, since an incomplete record must not gate access
// open.
func (s *GormSource) FetchProfile(ctx context.Context, userID string) (*access.Profile, error) {
	var profile models.Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authstate.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	if profile.Status == "" || profile.Role == "" {
		return nil, authstate.ErrProfileNotFound
	}

	return profile.ToAccess(), nil
}
