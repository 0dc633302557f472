package db

import (
	"context"
	"fmt"

	"studylock/internal/constants"
	"studylock/internal/models"
)

type AarRepository struct {
	db *DB
}

func NewAarRepository(db *DB) *AarRepository {
	return &AarRepository{db: db}
}

// Create stores an AAR and bumps the author's aar_count in one transaction.
func (r *AarRepository) Create(ctx context.Context, e *models.AarEntry) error {
	id, err := GenerateID("aar")
	if err != nil {
		return fmt.Errorf("generating aar ID: %w", err)
	}

	err = r.db.WithTx(ctx, func(tx DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO aar_entries (id, user_id, subject_id, what_worked, what_blocked, tomorrow_plan, word_count, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, e.UserID, e.SubjectID, e.WhatWorked, e.WhatBlocked, e.TomorrowPlan, e.WordCount, e.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("creating aar: %w", err)
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE users SET aar_count = aar_count + 1, updated_at = ? WHERE id = ?`,
			e.CreatedAt.UTC(), e.UserID,
		)
		if err != nil {
			return fmt.Errorf("incrementing aar counter: %w", err)
		}
		return checkRowsAffected(result)
	})
	if err != nil {
		return err
	}

	e.ID = id
	return nil
}

func (r *AarRepository) FindByUser(ctx context.Context, userID string, limit int) ([]*models.AarEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, subject_id, what_worked, what_blocked, tomorrow_plan, word_count, created_at
		   FROM aar_entries
		  WHERE user_id = ?
		  ORDER BY created_at DESC
		  LIMIT ?`,
		userID, clampLimit(limit, constants.DefaultListLimit, constants.MaxListLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying aars: %w", err)
	}
	defer rows.Close()

	var entries []*models.AarEntry
	for rows.Next() {
		var e models.AarEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.SubjectID, &e.WhatWorked, &e.WhatBlocked, &e.TomorrowPlan, &e.WordCount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning aar: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}
