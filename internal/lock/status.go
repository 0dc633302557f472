package lock

import (
	"math"
	"time"

	"studylock/internal/constants"
	"studylock/internal/models"
)

const day = 24 * time.Hour

// Status is the read-only view of a user's lock and unlock progress.
type Status struct {
	State             models.LockState `json:"state"`
	PrimarySubjectID  *string          `json:"primarySubjectId"`
	LockedAt          *time.Time       `json:"lockedAt"`
	LockExpiresAt     *time.Time       `json:"lockExpiresAt"`
	UnlockRequested   bool             `json:"unlockRequested"`
	UnlockRequestedAt *time.Time       `json:"unlockRequestedAt"`
	IsLocked          bool             `json:"isLocked"`
	CanUnlock         bool             `json:"canUnlock"`
	DaysElapsed       int              `json:"daysElapsed"`
	DaysRemaining     int              `json:"daysRemaining"`
	SessionCount      int              `json:"sessionCount"`
	AarCount          int              `json:"aarCount"`
	TotalStudyMinutes int              `json:"totalStudyMinutes"`
	SessionsNeeded    int              `json:"sessionsNeeded"`
	AarsNeeded        int              `json:"aarsNeeded"`
}

// Evaluate derives the lock status from the stored fields and now. It is the
// only place eligibility is computed.
func Evaluate(u *models.User, now time.Time) Status {
	s := Status{
		State:             u.State,
		PrimarySubjectID:  u.PrimarySubjectID,
		LockedAt:          u.LockedAt,
		LockExpiresAt:     u.LockExpiresAt,
		UnlockRequested:   u.UnlockRequested,
		UnlockRequestedAt: u.UnlockRequestedAt,
		SessionCount:      u.SessionCount,
		AarCount:          u.AarCount,
		TotalStudyMinutes: u.TotalStudyMinutes,
		SessionsNeeded:    max(0, constants.MinUnlockSessions-u.SessionCount),
		AarsNeeded:        max(0, constants.MinUnlockAars-u.AarCount),
	}

	if u.State == models.LockStateUnassigned || u.LockedAt == nil || u.LockExpiresAt == nil {
		return s
	}

	if elapsed := now.Sub(*u.LockedAt); elapsed > 0 {
		s.DaysElapsed = int(elapsed / day)
	}
	if remaining := u.LockExpiresAt.Sub(now); remaining > 0 {
		s.DaysRemaining = int(math.Ceil(float64(remaining) / float64(day)))
	}

	expired := !now.Before(*u.LockExpiresAt)
	s.CanUnlock = expired && s.SessionsNeeded == 0 && s.AarsNeeded == 0
	s.IsLocked = !s.CanUnlock

	return s
}
