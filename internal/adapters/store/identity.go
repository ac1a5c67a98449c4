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

func (s *Store) PutMapping(ctx context.Context, user domain.UserID, uid domain.SessionUID) error {
	m := IdentityMapping{UserID: string(user), SessionUID: uint32(uid), UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"session_uid", "updated_at"}),
	}).Create(&m).Error
}

func (s *Store) MappingOf(ctx context.Context, user domain.UserID) (domain.SessionUID, error) {
	var m IdentityMapping
	err := s.db.WithContext(ctx).First(&m, "user_id = ?", string(user)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, core.ErrIdentityNotFound
	}
	if err != nil {
		return 0, err
	}
	return domain.SessionUID(m.SessionUID), nil
}

// ResolveUID finds the user who most recently recorded uid.
func (s *Store) ResolveUID(ctx context.Context, uid domain.SessionUID) (domain.UserID, error) {
	var m IdentityMapping
	err := s.db.WithContext(ctx).
		Where("session_uid = ?", uint32(uid)).
		Order("updated_at desc").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", core.ErrIdentityNotFound
	}
	if err != nil {
		return "", err
	}
	return domain.UserID(m.UserID), nil
}
