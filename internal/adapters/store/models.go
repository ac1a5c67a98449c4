package store

import "time"

// PresenceEntry is one key of a channel's presence record.
type PresenceEntry struct {
	ChannelID  string    `gorm:"type:varchar(128);primaryKey"`
	UserID     string    `gorm:"type:varchar(128);primaryKey"`
	SessionUID uint32    `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"index"`
}

// IdentityMapping holds the latest session uid of an application user.
type IdentityMapping struct {
	UserID     string    `gorm:"type:varchar(128);primaryKey"`
	SessionUID uint32    `gorm:"index;not null"`
	UpdatedAt  time.Time `gorm:"index"`
}

type UserProfile struct {
	UserID      string `gorm:"type:varchar(128);primaryKey"`
	DisplayName string `gorm:"type:varchar(64)"`
	PhotoURL    string
	UpdatedAt   time.Time
}
