package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnsureCleanupJob creates the schedule row for a named job if it does not
// already exist. The fixed name means re-scheduling on process restart never
// creates a duplicate recurring job.
func (s *Store) EnsureCleanupJob(ctx context.Context, name string, firstRun time.Time) error {
	job := &CleanupJob{
		Name:      name,
		NextRunAt: firstRun,
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(job).Error; err != nil {
		return fmt.Errorf("could not ensure cleanup job: %w", err)
	}

	return nil
}

// GetCleanupJob reads the schedule row for a named job.
func (s *Store) GetCleanupJob(ctx context.Context, name string) (*CleanupJob, error) {
	var job CleanupJob
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not read cleanup job: %w", err)
	}

	return &job, nil
}

// SaveCleanupJob writes back the schedule row after a run or a reschedule.
func (s *Store) SaveCleanupJob(ctx context.Context, job *CleanupJob) error {
	job.UpdatedAt = s.now()
	if err := s.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("could not save cleanup job: %w", err)
	}
	return nil
}

// SweepResult reports what one sweep removed.
type SweepResult struct {
	AuthRequests  int64
	OauthSessions int64
	UserSessions  int64
	OutboxItems   int64
	RanAt         time.Time
}

// Total returns the number of rows removed across all tables.
func (r SweepResult) Total() int64 {
	return r.AuthRequests + r.OauthSessions + r.UserSessions + r.OutboxItems
}

// SweepExpired deletes every row past its retention window across all four
// tables in a single transaction, so concurrent writers never observe a
// partial sweep. Sweeping an already-clean database is a success.
func (s *Store) SweepExpired(ctx context.Context) (SweepResult, error) {
	now := s.now()
	result := SweepResult{RanAt: now}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&AuthRequest{}, "expires_at <= ?", now)
		if res.Error != nil {
			return res.Error
		}
		result.AuthRequests = res.RowsAffected

		res = tx.Delete(&OauthSession{}, "expires_at <= ?", now)
		if res.Error != nil {
			return res.Error
		}
		result.OauthSessions = res.RowsAffected

		res = tx.Delete(&UserSession{}, "expires_at <= ?", now)
		if res.Error != nil {
			return res.Error
		}
		result.UserSessions = res.RowsAffected

		res = tx.Delete(&OutboxItem{}, "expires_at <= ?", now)
		if res.Error != nil {
			return res.Error
		}
		result.OutboxItems = res.RowsAffected

		return nil
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("sweep failed: %w", err)
	}

	return result, nil
}
