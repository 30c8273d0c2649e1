package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/byarielm/atlast/internal/fingerprint"
	"github.com/byarielm/atlast/internal/helpers"
	"gorm.io/gorm"
)

// sessionTokenBytes is 32 bytes of entropy (256 bits). The session id is the
// externally-facing credential, so the generator has to be collision
// resistant; no upsert is needed because ids are never reused.
const sessionTokenBytes = 32

// CreateUserSession issues a new browser session for a DID.
func (s *Store) CreateUserSession(ctx context.Context, did string, fp fingerprint.Fingerprint) (*UserSession, error) {
	id, err := helpers.GenerateSessionToken(sessionTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("could not generate session id: %w", err)
	}

	now := s.now()
	sess := &UserSession{
		ID:        id,
		Did:       did,
		UserAgent: fp.UserAgent,
		ClientIP:  fp.ClientIP,
		CreatedAt: now,
		ExpiresAt: now.Add(UserSessionTTL),
	}

	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, fmt.Errorf("could not store user session: %w", err)
	}

	return sess, nil
}

// GetUserSession returns the session for an id, lazy expiry applied.
func (s *Store) GetUserSession(ctx context.Context, id string) (*UserSession, error) {
	var sess UserSession
	err := s.db.WithContext(ctx).
		Where("id = ? AND expires_at > ?", id, s.now()).
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not read user session: %w", err)
	}

	return &sess, nil
}

// DeleteUserSession removes one browser session. Other sessions pointing at
// the same DID, and the DID's oauth session, are untouched. Idempotent.
func (s *Store) DeleteUserSession(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&UserSession{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("could not delete user session: %w", err)
	}
	return nil
}
