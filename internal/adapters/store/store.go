// Package store keeps presence records, identity mappings and user profiles
// in a SQL database through gorm. Several clients pointing at the same
// database see each other's writes.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/voicepresence/internal/core"
	"github.com/dkeye/voicepresence/internal/domain"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const DefaultWatchInterval = time.Second

var (
	_ core.PresenceStore = (*Store)(nil)
	_ core.IdentityStore = (*Store)(nil)
	_ core.ProfileStore  = (*Store)(nil)
)

type Options struct {
	// WatchInterval is how often watchers poll for writes made by other processes.
	WatchInterval time.Duration
	Logger        zerolog.Logger
}

type Store struct {
	db            *gorm.DB
	log           zerolog.Logger
	watchInterval time.Duration

	mu       sync.Mutex
	watchers map[domain.ChannelID]map[chan struct{}]struct{}
}

// Open connects to the SQLite database at dsn and migrates the schema.
func Open(dsn string, opts Options) (*Store, error) {
	log := opts.Logger.With().Str("module", "store").Logger()
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(&log, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers anyway; one connection also keeps in-memory databases alive.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&PresenceEntry{}, &IdentityMapping{}, &UserProfile{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	interval := opts.WatchInterval
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &Store{
		db:            db,
		log:           log,
		watchInterval: interval,
		watchers:      make(map[domain.ChannelID]map[chan struct{}]struct{}),
	}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
