package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studylock/internal/constants"
	"studylock/internal/models"
)

const sessionColumns = `id, user_id, subject_id, session_type, planned_duration, actual_duration,
	notes, started_at, completed_at, abandoned_at, is_completed`

type SessionRepository struct {
	db *DB
}

func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateOpen inserts an open session. The partial unique index on open
// sessions makes this the atomic "no active session" check: a second open
// session for the same user fails with ErrDuplicate.
func (r *SessionRepository) CreateOpen(ctx context.Context, s *models.StudySession) error {
	id, err := GenerateID("ses")
	if err != nil {
		return fmt.Errorf("generating session ID: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO study_sessions (id, user_id, subject_id, session_type, planned_duration, started_at, is_completed)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		id, s.UserID, s.SubjectID, s.SessionType, s.PlannedDuration, s.StartedAt.UTC(),
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("creating session: %w", err)
	}

	s.ID = id
	s.IsCompleted = false
	return nil
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.StudySession, error) {
	return r.findOne(ctx, `SELECT `+sessionColumns+` FROM study_sessions WHERE id = ?`, id)
}

func (r *SessionRepository) FindOpenByUser(ctx context.Context, userID string) (*models.StudySession, error) {
	return r.findOne(ctx,
		`SELECT `+sessionColumns+` FROM study_sessions WHERE user_id = ? AND is_completed = 0 AND abandoned_at IS NULL`,
		userID,
	)
}

func (r *SessionRepository) FindByUser(ctx context.Context, userID string, limit int) ([]*models.StudySession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM study_sessions WHERE user_id = ? ORDER BY started_at DESC LIMIT ?`,
		userID, clampLimit(limit, constants.DefaultListLimit, constants.MaxListLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.StudySession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// Complete closes an open session and credits the owner's counters in one
// transaction. Counters are bumped with SQL increments, never rewritten.
// Returns ErrNotFound when the session is not open or not owned by userID.
func (r *SessionRepository) Complete(ctx context.Context, id, userID string, completedAt time.Time, minutes int, notes *string) error {
	return r.db.WithTx(ctx, func(tx DBTX) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE study_sessions
			    SET is_completed = 1, completed_at = ?, actual_duration = ?, notes = ?
			  WHERE id = ?
			    AND user_id = ?
			    AND is_completed = 0
			    AND abandoned_at IS NULL`,
			completedAt.UTC(), minutes, notes, id, userID,
		)
		if err != nil {
			return fmt.Errorf("completing session: %w", err)
		}
		if err := checkRowsAffected(result); err != nil {
			return err
		}

		result, err = tx.ExecContext(ctx,
			`UPDATE users
			    SET session_count = session_count + 1,
			        total_study_minutes = total_study_minutes + ?,
			        updated_at = ?
			  WHERE id = ?`,
			minutes, completedAt.UTC(), userID,
		)
		if err != nil {
			return fmt.Errorf("incrementing session counters: %w", err)
		}
		return checkRowsAffected(result)
	})
}

// Abandon closes an open session without crediting it.
func (r *SessionRepository) Abandon(ctx context.Context, id, userID string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE study_sessions
		    SET abandoned_at = ?
		  WHERE id = ?
		    AND user_id = ?
		    AND is_completed = 0
		    AND abandoned_at IS NULL`,
		at.UTC(), id, userID,
	)
	if err != nil {
		return fmt.Errorf("abandoning session: %w", err)
	}
	return checkRowsAffected(result)
}

// AbandonStale closes every open session started before cutoff.
func (r *SessionRepository) AbandonStale(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE study_sessions
		    SET abandoned_at = ?
		  WHERE is_completed = 0
		    AND abandoned_at IS NULL
		    AND started_at < ?`,
		now, cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("abandoning stale sessions: %w", err)
	}

	return result.RowsAffected()
}

func (r *SessionRepository) findOne(ctx context.Context, query string, args ...any) (*models.StudySession, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return s, nil
}

func scanSession(row rowScanner) (*models.StudySession, error) {
	var (
		s              models.StudySession
		actualDuration sql.NullInt64
		notes          sql.NullString
		completedAt    sql.NullTime
		abandonedAt    sql.NullTime
	)

	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.SubjectID,
		&s.SessionType,
		&s.PlannedDuration,
		&actualDuration,
		&notes,
		&s.StartedAt,
		&completedAt,
		&abandonedAt,
		&s.IsCompleted,
	)
	if err != nil {
		return nil, err
	}

	s.ActualDuration = nullIntToPtr(actualDuration)
	s.Notes = nullStringToPtr(notes)
	s.StartedAt = s.StartedAt.UTC()
	s.CompletedAt = nullTimeToPtr(completedAt)
	s.AbandonedAt = nullTimeToPtr(abandonedAt)

	return &s, nil
}
