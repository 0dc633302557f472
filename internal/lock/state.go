package lock

import (
	"fmt"
	"time"

	"studylock/internal/constants"
	"studylock/internal/models"
)

// change is the outcome of a lock transition. A zero change (noop) means the
// stored fields already match and nothing is written.
type change struct {
	next          models.LockFields
	resetProgress bool
	noop          bool
}

func unassigned() models.LockFields {
	return models.LockFields{State: models.LockStateUnassigned}
}

func declare(cur models.LockFields, subjectID string, now time.Time) (change, error) {
	if cur.State != models.LockStateUnassigned {
		return change{}, ErrAlreadyLocked
	}

	lockedAt := now
	expiresAt := now.Add(constants.LockCooldown)
	return change{next: models.LockFields{
		State:              models.LockStateLocked,
		PrimarySubjectID:   &subjectID,
		LockedAt:           &lockedAt,
		LockExpiresAt:      &expiresAt,
		OnboardingComplete: true,
	}}, nil
}

// requestUnlock clears an eligible lock without touching counters, otherwise
// files (or refreshes) the pending request.
func requestUnlock(u *models.User, now time.Time) (change, bool, error) {
	if u.State == models.LockStateUnassigned {
		return change{}, false, ErrNoActiveLock
	}

	if Evaluate(u, now).CanUnlock {
		return change{next: unassigned()}, true, nil
	}

	requestedAt := now
	next := u.LockFields
	next.State = models.LockStateUnlockPending
	next.UnlockRequested = true
	next.UnlockRequestedAt = &requestedAt
	return change{next: next}, false, nil
}

func approve(cur models.LockFields) (change, error) {
	switch cur.State {
	case models.LockStateUnassigned:
		return change{}, ErrNoActiveLock
	case models.LockStateLocked:
		return change{}, ErrNoPendingRequest
	}
	return change{next: unassigned(), resetProgress: true}, nil
}

// deny keeps unlockRequestedAt as the record of the last request.
func deny(cur models.LockFields) (change, error) {
	switch cur.State {
	case models.LockStateUnassigned:
		return change{}, ErrNoActiveLock
	case models.LockStateLocked:
		return change{noop: true}, nil
	}

	next := cur
	next.State = models.LockStateLocked
	next.UnlockRequested = false
	return change{next: next}, nil
}

func force(cur models.LockFields) (change, error) {
	if cur.State == models.LockStateUnassigned {
		return change{}, ErrNoActiveLock
	}
	return change{next: unassigned(), resetProgress: true}, nil
}

// validate rejects field combinations that break the lock invariants.
func validate(f models.LockFields) error {
	hasSubject := f.PrimarySubjectID != nil
	if hasSubject != (f.LockedAt != nil) || hasSubject != (f.LockExpiresAt != nil) {
		return fmt.Errorf("lock fields: subject and timestamps must be set together")
	}
	if f.UnlockRequested && !hasSubject {
		return fmt.Errorf("lock fields: unlock requested without a subject")
	}

	switch f.State {
	case models.LockStateUnassigned:
		if hasSubject {
			return fmt.Errorf("lock fields: unassigned state with a subject")
		}
	case models.LockStateLocked:
		if !hasSubject || f.UnlockRequested {
			return fmt.Errorf("lock fields: locked state must have a subject and no request")
		}
	case models.LockStateUnlockPending:
		if !hasSubject || !f.UnlockRequested {
			return fmt.Errorf("lock fields: pending state must have a subject and a request")
		}
	default:
		return fmt.Errorf("lock fields: unknown state %q", f.State)
	}

	return nil
}
