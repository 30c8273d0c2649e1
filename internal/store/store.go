// Package store persists the session lifecycle state: in-flight
// authorization requests, durable oauth sessions, browser sessions, and the
// notification outbox. All reads apply lazy expiry, so a row past its
// expires_at is reported as absent even before the sweep physically removes
// it.
package store

import (
	"errors"
	"log/slog"
	"time"

	"github.com/byarielm/atlast/internal/tokencrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("store: not found")

type Store struct {
	db     *gorm.DB
	cipher *tokencrypt.Cipher
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the sqlite database at path and runs
// migrations. The cipher is applied to oauth session token payloads only.
func Open(path string, cipher *tokencrypt.Cipher, log *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	return New(db, cipher, log)
}

// New wraps an existing gorm connection. Used by tests that want an
// in-memory database.
func New(db *gorm.DB, cipher *tokencrypt.Cipher, log *slog.Logger) (*Store, error) {
	if err := db.AutoMigrate(
		&AuthRequest{},
		&OauthSession{},
		&UserSession{},
		&OutboxItem{},
		&CleanupJob{},
	); err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}

	return &Store{
		db:     db,
		cipher: cipher,
		logger: log,
		now:    time.Now,
	}, nil
}

// SetClock replaces the store's clock. Tests use this to simulate expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
