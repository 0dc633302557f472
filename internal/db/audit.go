package db

import (
	"context"
	"fmt"
	"time"

	"studylock/internal/constants"
	"studylock/internal/models"
)

type AuditRepository struct {
	db *DB
}

func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Record(ctx context.Context, e *models.AuditEntry) error {
	id, err := GenerateID("aud")
	if err != nil {
		return fmt.Errorf("generating audit ID: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO admin_audit_logs (id, admin_id, action, resource, resource_id, description, ip_address, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.AdminID, e.Action, e.Resource, e.ResourceID, e.Description, e.IPAddress, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}

	e.ID = id
	return nil
}

func (r *AuditRepository) FindRecent(ctx context.Context, limit int) ([]*models.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, admin_id, action, resource, resource_id, description, ip_address, created_at
		   FROM admin_audit_logs
		  ORDER BY created_at DESC
		  LIMIT ?`,
		clampLimit(limit, constants.DefaultListLimit, constants.MaxListLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.AdminID, &e.Action, &e.Resource, &e.ResourceID, &e.Description, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}
