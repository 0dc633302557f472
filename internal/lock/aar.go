package lock

import (
	"context"

	"studylock/internal/constants"
	"studylock/internal/models"
)

type Aars interface {
	Create(ctx context.Context, e *models.AarEntry) error
	FindByUser(ctx context.Context, userID string, limit int) ([]*models.AarEntry, error)
}

// AarRecorder stores after-action reviews. Each accepted review bumps the
// AAR counter used for unlock eligibility.
type AarRecorder struct {
	engine *Engine
	aars   Aars
}

func NewAarRecorder(engine *Engine, aars Aars) *AarRecorder {
	return &AarRecorder{engine: engine, aars: aars}
}

// Submit requires all three fields and a combined word count of at least the
// minimum. Words are counted on the text as submitted; only the stored copy
// has markup stripped, and a field left empty by that is rejected.
func (r *AarRecorder) Submit(ctx context.Context, p Principal, whatWorked, whatBlocked, tomorrowPlan string) (*models.AarEntry, error) {
	words := wordCount(whatWorked, whatBlocked, tomorrowPlan)
	if words < constants.MinAarWords {
		return nil, ErrAarTooShort
	}

	whatWorked = sanitizeText(whatWorked)
	whatBlocked = sanitizeText(whatBlocked)
	tomorrowPlan = sanitizeText(tomorrowPlan)
	if whatWorked == "" || whatBlocked == "" || tomorrowPlan == "" {
		return nil, ErrAarTooShort
	}

	u, err := r.engine.loadUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if u.PrimarySubjectID == nil {
		return nil, ErrNoSubjectDeclared
	}

	e := &models.AarEntry{
		UserID:       u.ID,
		SubjectID:    *u.PrimarySubjectID,
		WhatWorked:   whatWorked,
		WhatBlocked:  whatBlocked,
		TomorrowPlan: tomorrowPlan,
		WordCount:    words,
		CreatedAt:    r.engine.clock(),
	}
	if err := r.aars.Create(ctx, e); err != nil {
		return nil, err
	}

	return e, nil
}

func (r *AarRecorder) List(ctx context.Context, p Principal, limit int) ([]*models.AarEntry, error) {
	return r.aars.FindByUser(ctx, p.UserID, limit)
}
