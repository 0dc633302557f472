package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studylock/internal/models"
)

const userColumns = `id, email, name, password_hash, role,
	lock_state, primary_subject_id, locked_at, lock_expires_at, onboarding_complete,
	unlock_requested, unlock_requested_at,
	session_count, aar_count, total_study_minutes, lock_version,
	created_at, updated_at`

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new, unassigned user. ID and CreatedAt are filled in when empty.
func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	return insertUser(ctx, r.db, u)
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (r *UserRepository) FindAll(ctx context.Context) ([]*models.User, error) {
	return r.findMany(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
}

// FindByLockState lists users in a lock state, oldest unlock request first.
func (r *UserRepository) FindByLockState(ctx context.Context, state models.LockState) ([]*models.User, error) {
	return r.findMany(ctx,
		`SELECT `+userColumns+` FROM users WHERE lock_state = ? ORDER BY unlock_requested_at, created_at`,
		string(state),
	)
}

func (r *UserRepository) AdminEmails(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT email FROM users WHERE role = ? ORDER BY email`, string(models.RoleAdmin))
	if err != nil {
		return nil, fmt.Errorf("querying admin emails: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scanning admin email: %w", err)
		}
		emails = append(emails, email)
	}

	return emails, rows.Err()
}

func (r *UserRepository) HasAdmin(ctx context.Context) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role = ?`, string(models.RoleAdmin)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("counting admins: %w", err)
	}
	return count > 0, nil
}

// SwapLock writes the whole lock-field group in one statement, guarded by the
// version the caller read. It reports false when another writer got there first.
// resetProgress zeroes the session and AAR counters in the same write.
func (r *UserRepository) SwapLock(ctx context.Context, id string, expectedVersion int64, next models.LockFields, resetProgress bool) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		    SET lock_state = ?,
		        primary_subject_id = ?,
		        locked_at = ?,
		        lock_expires_at = ?,
		        onboarding_complete = ?,
		        unlock_requested = ?,
		        unlock_requested_at = ?,
		        session_count = CASE WHEN ? THEN 0 ELSE session_count END,
		        aar_count = CASE WHEN ? THEN 0 ELSE aar_count END,
		        lock_version = lock_version + 1,
		        updated_at = ?
		  WHERE id = ?
		    AND lock_version = ?`,
		string(next.State),
		next.PrimarySubjectID,
		timePtrUTC(next.LockedAt),
		timePtrUTC(next.LockExpiresAt),
		next.OnboardingComplete,
		next.UnlockRequested,
		timePtrUTC(next.UnlockRequestedAt),
		resetProgress,
		resetProgress,
		time.Now().UTC(),
		id,
		expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("swapping lock fields: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}

	return rows > 0, nil
}

// Delete removes a user and everything that cascades from it. The access code
// the user registered with is returned to the unused pool in the same transaction.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithTx(ctx, func(tx DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE access_codes SET used = 0, used_by = NULL, used_at = NULL WHERE used_by = ?`,
			id,
		); err != nil {
			return fmt.Errorf("releasing access code: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting user: %w", err)
		}
		return checkRowsAffected(result)
	})
}

func (r *UserRepository) findOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) findMany(ctx context.Context, query string, args ...any) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                 models.User
		role, state       string
		subjectID         sql.NullString
		lockedAt          sql.NullTime
		lockExpiresAt     sql.NullTime
		unlockRequestedAt sql.NullTime
		updatedAt         sql.NullTime
	)

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&role,
		&state,
		&subjectID,
		&lockedAt,
		&lockExpiresAt,
		&u.OnboardingComplete,
		&u.UnlockRequested,
		&unlockRequestedAt,
		&u.SessionCount,
		&u.AarCount,
		&u.TotalStudyMinutes,
		&u.LockVersion,
		&u.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Role = models.Role(role)
	u.State = models.LockState(state)
	u.PrimarySubjectID = nullStringToPtr(subjectID)
	u.LockedAt = nullTimeToPtr(lockedAt)
	u.LockExpiresAt = nullTimeToPtr(lockExpiresAt)
	u.UnlockRequestedAt = nullTimeToPtr(unlockRequestedAt)
	u.UpdatedAt = nullTimeToPtr(updatedAt)
	u.CreatedAt = u.CreatedAt.UTC()

	return &u, nil
}

func insertUser(ctx context.Context, q DBTX, u *models.User) error {
	if u.ID == "" {
		id, err := GenerateID("usr")
		if err != nil {
			return fmt.Errorf("generating user ID: %w", err)
		}
		u.ID = id
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Role == "" {
		u.Role = models.RoleStudent
	}
	u.LockFields = models.LockFields{State: models.LockStateUnassigned}

	_, err := q.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, role, lock_state, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role), string(models.LockStateUnassigned), u.CreatedAt.UTC(),
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("creating user: %w", err)
	}

	return nil
}
