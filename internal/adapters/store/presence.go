package store

import (
	"context"
	"time"

	"github.com/dkeye/voicepresence/internal/domain"
	"gorm.io/gorm/clause"
)

func (s *Store) JoinPresence(ctx context.Context, channel domain.ChannelID, user domain.UserID, uid domain.SessionUID) error {
	entry := PresenceEntry{
		ChannelID:  string(channel),
		UserID:     string(user),
		SessionUID: uint32(uid),
		UpdatedAt:  time.Now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"session_uid", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return err
	}
	s.notify(channel)
	return nil
}

func (s *Store) LeavePresence(ctx context.Context, channel domain.ChannelID, user domain.UserID) error {
	res := s.db.WithContext(ctx).
		Where("channel_id = ? AND user_id = ?", string(channel), string(user)).
		Delete(&PresenceEntry{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.notify(channel)
	}
	return nil
}

func (s *Store) Presence(ctx context.Context, channel domain.ChannelID) (domain.PresenceRecord, error) {
	var entries []PresenceEntry
	if err := s.db.WithContext(ctx).Where("channel_id = ?", string(channel)).Find(&entries).Error; err != nil {
		return domain.PresenceRecord{}, err
	}
	rec := domain.PresenceRecord{
		ChannelID:    channel,
		Participants: make(map[domain.UserID]domain.SessionUID, len(entries)),
	}
	for _, e := range entries {
		rec.Participants[domain.UserID(e.UserID)] = domain.SessionUID(e.SessionUID)
	}
	return rec, nil
}

// WatchPresence emits the channel's record now and again whenever it changes.
// Writes through this Store wake watchers immediately; writes by other
// processes are picked up on the next poll.
func (s *Store) WatchPresence(ctx context.Context, channel domain.ChannelID) (<-chan domain.PresenceRecord, error) {
	last, err := s.Presence(ctx, channel)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.PresenceRecord, 1)
	out <- last
	wake := s.addWatcher(channel)

	go func() {
		defer close(out)
		defer s.removeWatcher(channel, wake)

		ticker := time.NewTicker(s.watchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-wake:
			}

			rec, err := s.Presence(ctx, channel)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.Warn().Err(err).Str("channel", string(channel)).Msg("presence poll failed")
				continue
			}
			if rec.Equal(last) {
				continue
			}
			last = rec
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Store) addWatcher(channel domain.ChannelID) chan struct{} {
	wake := make(chan struct{}, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchers[channel] == nil {
		s.watchers[channel] = make(map[chan struct{}]struct{})
	}
	s.watchers[channel][wake] = struct{}{}
	return wake
}

func (s *Store) removeWatcher(channel domain.ChannelID, wake chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers[channel], wake)
	if len(s.watchers[channel]) == 0 {
		delete(s.watchers, channel)
	}
}

func (s *Store) notify(channel domain.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for wake := range s.watchers[channel] {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}
