package store

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// AppendOutboxItem records a notification for later delivery. Rows age out
// with the sweep rather than on delivery, so re-running a delivery pass is
// harmless.
func (s *Store) AppendOutboxItem(ctx context.Context, did, kind, payload string) (*OutboxItem, error) {
	now := s.now()
	item := &OutboxItem{
		ID:        ulid.Make().String(),
		Did:       did,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(OutboxTTL),
	}

	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, fmt.Errorf("could not append outbox item: %w", err)
	}

	return item, nil
}

// ListOutboxItems returns the live outbox rows for a DID, oldest first. ULID
// ids sort in creation order.
func (s *Store) ListOutboxItems(ctx context.Context, did string) ([]OutboxItem, error) {
	var items []OutboxItem
	err := s.db.WithContext(ctx).
		Where("did = ? AND expires_at > ?", did, s.now()).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("could not list outbox items: %w", err)
	}

	return items, nil
}
