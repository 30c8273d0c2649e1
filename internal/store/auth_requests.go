package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PutAuthRequest upserts the handshake state for a state nonce. A retried
// login with the same state overwrites rather than errors.
func (s *Store) PutAuthRequest(ctx context.Context, ar *AuthRequest) error {
	now := s.now()
	ar.CreatedAt = now
	ar.ExpiresAt = now.Add(AuthRequestTTL)

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "state"}},
		UpdateAll: true,
	}).Create(ar).Error; err != nil {
		return fmt.Errorf("could not store auth request: %w", err)
	}

	return nil
}

// TakeAuthRequest consumes the handshake state: read then delete. An expired
// row is reported as absent even while physically present. The read and the
// delete are not mutually exclusive, so two callbacks racing on the same
// state can both observe the row; the authority rejects the second code
// exchange, which is where replay is actually enforced.
func (s *Store) TakeAuthRequest(ctx context.Context, state string) (*AuthRequest, error) {
	var ar AuthRequest
	err := s.db.WithContext(ctx).
		Where("state = ? AND expires_at > ?", state, s.now()).
		First(&ar).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not read auth request: %w", err)
	}

	if err := s.db.WithContext(ctx).Delete(&AuthRequest{}, "state = ?", state).Error; err != nil {
		return nil, fmt.Errorf("could not consume auth request: %w", err)
	}

	return &ar, nil
}

// DeleteAuthRequest removes the row if present. Deleting an absent state is
// a no-op.
func (s *Store) DeleteAuthRequest(ctx context.Context, state string) error {
	if err := s.db.WithContext(ctx).Delete(&AuthRequest{}, "state = ?", state).Error; err != nil {
		return fmt.Errorf("could not delete auth request: %w", err)
	}
	return nil
}
