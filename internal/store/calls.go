package store

import (
	"context"

	"github.com/pkg/errors"

	"rtcore/internal/apperr"
	"rtcore/internal/models"
)

const DefaultCallHistory = 50

// RecordCall stores a finished call attempt.
func (s *Store) RecordCall(ctx context.Context, rec *models.CallRecord) error {
	if rec.CallerID == "" || rec.ReceiverID == "" {
		return apperr.ErrMissingUser
	}
	if rec.Kind == "" {
		rec.Kind = models.CallVideo
	}
	if !rec.Kind.Valid() {
		return apperr.ErrInvalidCallKind
	}
	if !rec.Status.Valid() {
		return apperr.InvalidArg("call status must be completed, missed or rejected")
	}
	if rec.Duration < 0 {
		rec.Duration = 0
	}
	now := s.now()
	if rec.EndedAt.IsZero() {
		rec.EndedAt = now
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.EndedAt
	}
	rec.CreatedAt = now

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return apperr.ErrPersistFailed(errors.Wrap(err, "callStore.RecordCall.Create"))
	}
	return nil
}

// ListCallsFor returns calls user placed or received, newest first.
func (s *Store) ListCallsFor(ctx context.Context, user string, limit int) ([]models.CallRecord, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultCallHistory
	}
	var calls []models.CallRecord
	err := s.db.WithContext(ctx).
		Where("caller_id = ? OR receiver_id = ?", user, user).
		Order("created_at desc").
		Order("id desc").
		Limit(limit).
		Find(&calls).Error
	if err != nil {
		return nil, apperr.ErrQueryFailed(errors.Wrap(err, "callStore.ListCallsFor.Find"))
	}
	return calls, nil
}
