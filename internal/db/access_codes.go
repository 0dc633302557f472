package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studylock/internal/models"
)

const accessCodeColumns = `id, code_hash, hint, note, created_by, used, used_by, used_at, created_at`

type AccessCodeRepository struct {
	db *DB
}

func NewAccessCodeRepository(db *DB) *AccessCodeRepository {
	return &AccessCodeRepository{db: db}
}

// NewAccessCode is one code to store. Only the hash and hint are persisted.
type NewAccessCode struct {
	CodeHash string
	Hint     string
}

func (r *AccessCodeRepository) Create(ctx context.Context, codeHash, hint, note string, createdBy *string) (*models.AccessCode, error) {
	return insertAccessCode(ctx, r.db, NewAccessCode{CodeHash: codeHash, Hint: hint}, note, createdBy)
}

// CreateBatch stores every code or none of them.
func (r *AccessCodeRepository) CreateBatch(ctx context.Context, batch []NewAccessCode, note string, createdBy *string) ([]*models.AccessCode, error) {
	codes := make([]*models.AccessCode, 0, len(batch))
	err := r.db.WithTx(ctx, func(tx DBTX) error {
		for _, nc := range batch {
			c, err := insertAccessCode(ctx, tx, nc, note, createdBy)
			if err != nil {
				return err
			}
			codes = append(codes, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

func insertAccessCode(ctx context.Context, q DBTX, nc NewAccessCode, note string, createdBy *string) (*models.AccessCode, error) {
	id, err := GenerateID("acc")
	if err != nil {
		return nil, fmt.Errorf("generating access code ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = q.ExecContext(ctx,
		`INSERT INTO access_codes (id, code_hash, hint, note, created_by, used, created_at) VALUES (?, ?, ?, ?, ?, 0, ?)`,
		id, nc.CodeHash, nc.Hint, note, createdBy, now,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("creating access code: %w", err)
	}

	return &models.AccessCode{
		ID:        id,
		CodeHash:  nc.CodeHash,
		Hint:      nc.Hint,
		Note:      note,
		CreatedBy: createdBy,
		CreatedAt: now,
	}, nil
}

// Redeem consumes an unused access code and creates the user in one
// transaction: the code is marked used if and only if the user row exists.
// Returns ErrNotFound for an unknown or used code, ErrDuplicate for a taken email.
func (r *AccessCodeRepository) Redeem(ctx context.Context, codeHash string, u *models.User) error {
	return r.db.WithTx(ctx, func(tx DBTX) error {
		var codeID string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM access_codes WHERE code_hash = ? AND used = 0`,
			codeHash,
		).Scan(&codeID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("querying access code: %w", err)
		}

		if err := insertUser(ctx, tx, u); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE access_codes SET used = 1, used_by = ?, used_at = ? WHERE id = ? AND used = 0`,
			u.ID, time.Now().UTC(), codeID,
		)
		if err != nil {
			return fmt.Errorf("consuming access code: %w", err)
		}
		return checkRowsAffected(result)
	})
}

func (r *AccessCodeRepository) FindAll(ctx context.Context) ([]*models.AccessCode, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accessCodeColumns+` FROM access_codes ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying access codes: %w", err)
	}
	defer rows.Close()

	var codes []*models.AccessCode
	for rows.Next() {
		c, err := scanAccessCode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning access code: %w", err)
		}
		codes = append(codes, c)
	}

	return codes, rows.Err()
}

func (r *AccessCodeRepository) FindByID(ctx context.Context, id string) (*models.AccessCode, error) {
	c, err := scanAccessCode(r.db.QueryRowContext(ctx, `SELECT `+accessCodeColumns+` FROM access_codes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying access code: %w", err)
	}
	return c, nil
}

// DeleteUnused removes a code that has not been redeemed. Used codes are kept
// as the record of who registered with them.
func (r *AccessCodeRepository) DeleteUnused(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM access_codes WHERE id = ? AND used = 0`, id)
	if err != nil {
		return fmt.Errorf("deleting access code: %w", err)
	}
	return checkRowsAffected(result)
}

func scanAccessCode(row rowScanner) (*models.AccessCode, error) {
	var (
		c         models.AccessCode
		createdBy sql.NullString
		usedBy    sql.NullString
		usedAt    sql.NullTime
	)

	if err := row.Scan(&c.ID, &c.CodeHash, &c.Hint, &c.Note, &createdBy, &c.Used, &usedBy, &usedAt, &c.CreatedAt); err != nil {
		return nil, err
	}

	c.CreatedBy = nullStringToPtr(createdBy)
	c.UsedBy = nullStringToPtr(usedBy)
	c.UsedAt = nullTimeToPtr(usedAt)
	c.CreatedAt = c.CreatedAt.UTC()

	return &c, nil
}
