package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PutOauthSession upserts the credential record for a DID, sealing the token
// payload when a cipher key is configured. A concurrent put for the same DID
// resolves last-writer-wins on the single row.
func (s *Store) PutOauthSession(ctx context.Context, sess *OauthSession, tokens TokenSet) error {
	payload, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("could not marshal token payload: %w", err)
	}

	sealed, encrypted, err := s.cipher.Encrypt(payload)
	if err != nil {
		return fmt.Errorf("could not seal token payload: %w", err)
	}

	now := s.now()
	sess.TokenPayload = sealed
	sess.Encrypted = encrypted
	sess.CreatedAt = now
	sess.ExpiresAt = now.Add(OauthSessionTTL)

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "did"}},
		UpdateAll: true,
	}).Create(sess).Error; err != nil {
		return fmt.Errorf("could not store oauth session: %w", err)
	}

	return nil
}

// GetOauthSession returns the credential record and its opened token set.
// Expired rows are absent. A payload that no longer decrypts (rotated key,
// corruption) is also reported absent: forcing a fresh login is the fail-safe,
// a crash is not.
func (s *Store) GetOauthSession(ctx context.Context, did string) (*OauthSession, TokenSet, error) {
	var sess OauthSession
	err := s.db.WithContext(ctx).
		Where("did = ? AND expires_at > ?", did, s.now()).
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, TokenSet{}, ErrNotFound
	}
	if err != nil {
		return nil, TokenSet{}, fmt.Errorf("could not read oauth session: %w", err)
	}

	payload, err := s.cipher.Decrypt(sess.TokenPayload, sess.Encrypted)
	if err != nil {
		s.logger.Warn("oauth session payload did not decrypt, treating as absent", "did", did, "error", err)
		return nil, TokenSet{}, ErrNotFound
	}

	var tokens TokenSet
	if err := json.Unmarshal(payload, &tokens); err != nil {
		s.logger.Warn("oauth session payload did not parse, treating as absent", "did", did, "error", err)
		return nil, TokenSet{}, ErrNotFound
	}

	return &sess, tokens, nil
}

// UpdateTokens writes back rotated credential material after a refresh. This
// is the read-triggers-write half of resolve: two concurrent refreshes for
// the same DID both land here and the last writer wins.
func (s *Store) UpdateTokens(ctx context.Context, did string, tokens TokenSet, dpopAuthserverNonce string) error {
	payload, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("could not marshal token payload: %w", err)
	}

	sealed, encrypted, err := s.cipher.Encrypt(payload)
	if err != nil {
		return fmt.Errorf("could not seal token payload: %w", err)
	}

	err = s.db.WithContext(ctx).Model(&OauthSession{}).
		Where("did = ?", did).
		Updates(map[string]any{
			"token_payload":         sealed,
			"encrypted":             encrypted,
			"dpop_authserver_nonce": dpopAuthserverNonce,
		}).Error
	if err != nil {
		return fmt.Errorf("could not update tokens: %w", err)
	}

	return nil
}

// UpdatePdsNonce persists the latest DPoP nonce handed out by the PDS so the
// next authed request does not need an extra round trip.
func (s *Store) UpdatePdsNonce(ctx context.Context, did, nonce string) error {
	err := s.db.WithContext(ctx).Model(&OauthSession{}).
		Where("did = ?", did).
		Update("dpop_pds_nonce", nonce).Error
	if err != nil {
		return fmt.Errorf("could not update pds nonce: %w", err)
	}
	return nil
}

// DeleteOauthSession removes the credential record, used on revocation.
// Idempotent.
func (s *Store) DeleteOauthSession(ctx context.Context, did string) error {
	if err := s.db.WithContext(ctx).Delete(&OauthSession{}, "did = ?", did).Error; err != nil {
		return fmt.Errorf("could not delete oauth session: %w", err)
	}
	return nil
}
