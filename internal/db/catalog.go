package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studylock/internal/models"
)

const subjectColumns = `id, department_id, code, name, description, active, created_at`

type CatalogRepository struct {
	db *DB
}

func NewCatalogRepository(db *DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) CreateDepartment(ctx context.Context, code, name string) (*models.Department, error) {
	id, err := GenerateID("dep")
	if err != nil {
		return nil, fmt.Errorf("generating department ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO departments (id, code, name, active, created_at) VALUES (?, ?, ?, 1, ?)`,
		id, code, name, now,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("creating department: %w", err)
	}

	return &models.Department{ID: id, Code: code, Name: name, Active: true, CreatedAt: now}, nil
}

// UpdateDepartment applies the non-nil fields.
func (r *CatalogRepository) UpdateDepartment(ctx context.Context, id string, name *string, active *bool) (*models.Department, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE departments SET name = COALESCE(?, name), active = COALESCE(?, active) WHERE id = ?`,
		name, active, id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating department: %w", err)
	}
	if err := checkRowsAffected(result); err != nil {
		return nil, err
	}

	return r.FindDepartment(ctx, id)
}

func (r *CatalogRepository) FindDepartment(ctx context.Context, id string) (*models.Department, error) {
	var d models.Department
	err := r.db.QueryRowContext(ctx,
		`SELECT id, code, name, active, created_at FROM departments WHERE id = ?`, id,
	).Scan(&d.ID, &d.Code, &d.Name, &d.Active, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying department: %w", err)
	}
	return &d, nil
}

// FindDepartments returns departments with their subjects attached. With
// activeOnly, inactive departments and subjects are left out.
func (r *CatalogRepository) FindDepartments(ctx context.Context, activeOnly bool) ([]*models.Department, error) {
	query := `SELECT id, code, name, active, created_at FROM departments`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying departments: %w", err)
	}
	defer rows.Close()

	var departments []*models.Department
	byID := make(map[string]*models.Department)
	for rows.Next() {
		var d models.Department
		if err := rows.Scan(&d.ID, &d.Code, &d.Name, &d.Active, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning department: %w", err)
		}
		departments = append(departments, &d)
		byID[d.ID] = &d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	subjects, err := r.findSubjects(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	for _, s := range subjects {
		if d, ok := byID[s.DepartmentID]; ok {
			d.Subjects = append(d.Subjects, s)
		}
	}

	return departments, nil
}

func (r *CatalogRepository) CreateSubject(ctx context.Context, departmentID, code, name, description string) (*models.Subject, error) {
	id, err := GenerateID("sub")
	if err != nil {
		return nil, fmt.Errorf("generating subject ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO subjects (id, department_id, code, name, description, active, created_at) VALUES (?, ?, ?, ?, ?, 1, ?)`,
		id, departmentID, code, name, description, now,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return nil, ErrDuplicate
		}
		if IsForeignKeyError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("creating subject: %w", err)
	}

	return &models.Subject{
		ID:           id,
		DepartmentID: departmentID,
		Code:         code,
		Name:         name,
		Description:  description,
		Active:       true,
		CreatedAt:    now,
	}, nil
}

// UpdateSubject applies the non-nil fields. Deactivating a subject does not
// touch users already locked to it.
func (r *CatalogRepository) UpdateSubject(ctx context.Context, id string, name, description *string, active *bool) (*models.Subject, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE subjects
		    SET name = COALESCE(?, name),
		        description = COALESCE(?, description),
		        active = COALESCE(?, active)
		  WHERE id = ?`,
		name, description, active, id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating subject: %w", err)
	}
	if err := checkRowsAffected(result); err != nil {
		return nil, err
	}

	return r.FindSubject(ctx, id)
}

func (r *CatalogRepository) FindSubject(ctx context.Context, id string) (*models.Subject, error) {
	s, err := scanSubject(r.db.QueryRowContext(ctx, `SELECT `+subjectColumns+` FROM subjects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying subject: %w", err)
	}
	return s, nil
}

// IsActiveSubject reports whether the subject exists, is active, and sits in
// an active department.
func (r *CatalogRepository) IsActiveSubject(ctx context.Context, id string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		   FROM subjects s
		   JOIN departments d ON d.id = s.department_id
		  WHERE s.id = ? AND s.active = 1 AND d.active = 1`,
		id,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking subject: %w", err)
	}
	return count > 0, nil
}

func (r *CatalogRepository) AddResource(ctx context.Context, subjectID, title, url, kind string) (*models.Resource, error) {
	id, err := GenerateID("res")
	if err != nil {
		return nil, fmt.Errorf("generating resource ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO resources (id, subject_id, title, url, kind, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, subjectID, title, url, kind, now,
	)
	if err != nil {
		if IsForeignKeyError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	return &models.Resource{ID: id, SubjectID: subjectID, Title: title, URL: url, Kind: kind, CreatedAt: now}, nil
}

func (r *CatalogRepository) DeleteResource(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting resource: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *CatalogRepository) FindResources(ctx context.Context, subjectID string) ([]*models.Resource, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, subject_id, title, url, kind, created_at FROM resources WHERE subject_id = ? ORDER BY created_at`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying resources: %w", err)
	}
	defer rows.Close()

	var resources []*models.Resource
	for rows.Next() {
		var res models.Resource
		if err := rows.Scan(&res.ID, &res.SubjectID, &res.Title, &res.URL, &res.Kind, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning resource: %w", err)
		}
		resources = append(resources, &res)
	}

	return resources, rows.Err()
}

func (r *CatalogRepository) findSubjects(ctx context.Context, activeOnly bool) ([]*models.Subject, error) {
	query := `SELECT ` + subjectColumns + ` FROM subjects`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying subjects: %w", err)
	}
	defer rows.Close()

	var subjects []*models.Subject
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subject: %w", err)
		}
		subjects = append(subjects, s)
	}

	return subjects, rows.Err()
}

func scanSubject(row rowScanner) (*models.Subject, error) {
	var s models.Subject
	if err := row.Scan(&s.ID, &s.DepartmentID, &s.Code, &s.Name, &s.Description, &s.Active, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
