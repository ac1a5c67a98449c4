package store

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/voicepresence/internal/core"
	"github.com/dkeye/voicepresence/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) PutProfile(ctx context.Context, id domain.Identity) error {
	p := UserProfile{
		UserID:      string(id.ID),
		DisplayName: id.DisplayName,
		PhotoURL:    id.PhotoURL,
		UpdatedAt:   time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "photo_url", "updated_at"}),
	}).Create(&p).Error
}

func (s *Store) Profile(ctx context.Context, user domain.UserID) (domain.Identity, error) {
	var p UserProfile
	err := s.db.WithContext(ctx).First(&p, "user_id = ?", string(user)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Identity{}, core.ErrProfileNotFound
	}
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{ID: domain.UserID(p.UserID), DisplayName: p.DisplayName, PhotoURL: p.PhotoURL}, nil
}
