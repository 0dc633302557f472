package lock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"studylock/internal/constants"
	"studylock/internal/db"
	"studylock/internal/models"
)

var sessionTypes = map[string]bool{
	"focus":    true,
	"review":   true,
	"practice": true,
	"reading":  true,
}

type Sessions interface {
	CreateOpen(ctx context.Context, s *models.StudySession) error
	FindByID(ctx context.Context, id string) (*models.StudySession, error)
	FindOpenByUser(ctx context.Context, userID string) (*models.StudySession, error)
	FindByUser(ctx context.Context, userID string, limit int) ([]*models.StudySession, error)
	Complete(ctx context.Context, id, userID string, completedAt time.Time, minutes int, notes *string) error
	Abandon(ctx context.Context, id, userID string, at time.Time) error
}

// SessionRecorder starts and completes timed study sessions. Completed
// sessions feed the session counter used for unlock eligibility.
type SessionRecorder struct {
	engine   *Engine
	sessions Sessions
}

func NewSessionRecorder(engine *Engine, sessions Sessions) *SessionRecorder {
	return &SessionRecorder{engine: engine, sessions: sessions}
}

// CompleteResult carries the completed session. RequiresAAR is a workflow
// hint for the client and gates nothing.
type CompleteResult struct {
	Session     *models.StudySession `json:"session"`
	RequiresAAR bool                 `json:"requiresAAR"`
}

// Start opens a session on the caller's primary subject. When a session is
// already open it is returned together with ErrSessionAlreadyActive so the
// caller can resume it.
func (r *SessionRecorder) Start(ctx context.Context, p Principal, plannedMinutes int, sessionType string) (*models.StudySession, error) {
	if sessionType == "" {
		sessionType = constants.DefaultSessionType
	}
	if plannedMinutes < 1 || plannedMinutes > constants.MaxPlannedMinutes || !sessionTypes[sessionType] {
		return nil, ErrInvalidSessionPlan
	}

	u, err := r.engine.loadUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if u.PrimarySubjectID == nil {
		return nil, ErrNoSubjectDeclared
	}

	s := &models.StudySession{
		UserID:          u.ID,
		SubjectID:       *u.PrimarySubjectID,
		SessionType:     sessionType,
		PlannedDuration: plannedMinutes,
		StartedAt:       r.engine.clock(),
	}
	if err := r.sessions.CreateOpen(ctx, s); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			existing, findErr := r.sessions.FindOpenByUser(ctx, u.ID)
			if findErr != nil && !errors.Is(findErr, db.ErrNotFound) {
				return nil, fmt.Errorf("loading active session: %w", findErr)
			}
			return existing, ErrSessionAlreadyActive
		}
		return nil, err
	}

	return s, nil
}

// Complete closes an open session owned by the caller. Sessions shorter than
// the minimum stay open.
func (r *SessionRecorder) Complete(ctx context.Context, p Principal, sessionID string, notes *string) (CompleteResult, error) {
	s, err := r.owned(ctx, p, sessionID)
	if err != nil {
		return CompleteResult{}, err
	}
	if !s.IsOpen() {
		return CompleteResult{}, ErrSessionNotActive
	}

	now := r.engine.clock()
	minutes := int(math.Round(now.Sub(s.StartedAt).Minutes()))
	if minutes < constants.MinSessionMinutes {
		return CompleteResult{}, ErrSessionTooShort
	}

	if notes != nil {
		clean := sanitizeText(*notes)
		notes = &clean
		if clean == "" {
			notes = nil
		}
	}

	if err := r.sessions.Complete(ctx, s.ID, p.UserID, now, minutes, notes); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return CompleteResult{}, ErrSessionNotActive
		}
		return CompleteResult{}, err
	}

	s.IsCompleted = true
	s.CompletedAt = &now
	s.ActualDuration = &minutes
	s.Notes = notes

	return CompleteResult{Session: s, RequiresAAR: true}, nil
}

// Abandon closes an open session without counting it.
func (r *SessionRecorder) Abandon(ctx context.Context, p Principal, sessionID string) (*models.StudySession, error) {
	s, err := r.owned(ctx, p, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.IsOpen() {
		return nil, ErrSessionNotActive
	}

	now := r.engine.clock()
	if err := r.sessions.Abandon(ctx, s.ID, p.UserID, now); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrSessionNotActive
		}
		return nil, err
	}

	s.AbandonedAt = &now
	return s, nil
}

// Active returns the caller's open session, or nil when there is none.
func (r *SessionRecorder) Active(ctx context.Context, p Principal) (*models.StudySession, error) {
	s, err := r.sessions.FindOpenByUser(ctx, p.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	return s, err
}

func (r *SessionRecorder) List(ctx context.Context, p Principal, limit int) ([]*models.StudySession, error) {
	return r.sessions.FindByUser(ctx, p.UserID, limit)
}

func (r *SessionRecorder) owned(ctx context.Context, p Principal, sessionID string) (*models.StudySession, error) {
	s, err := r.sessions.FindByID(ctx, sessionID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if s.UserID != p.UserID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}
