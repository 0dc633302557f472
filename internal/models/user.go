package models

import "time"

type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// LockState is the explicit subject-lock state stored on every user.
type LockState string

const (
	LockStateUnassigned    LockState = "unassigned"
	LockStateLocked        LockState = "locked"
	LockStateUnlockPending LockState = "unlock_pending"
)

// LockFields is the group of columns that only ever change together.
type LockFields struct {
	State              LockState  `json:"lockState"`
	PrimarySubjectID   *string    `json:"primarySubjectId"`
	LockedAt           *time.Time `json:"lockedAt"`
	LockExpiresAt      *time.Time `json:"lockExpiresAt"`
	OnboardingComplete bool       `json:"onboardingComplete"`
	UnlockRequested    bool       `json:"unlockRequested"`
	UnlockRequestedAt  *time.Time `json:"unlockRequestedAt"`
}

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`

	LockFields

	SessionCount      int   `json:"sessionCount"`
	AarCount          int   `json:"aarCount"`
	TotalStudyMinutes int   `json:"totalStudyMinutes"`
	LockVersion       int64 `json:"-"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *User) GetPrimarySubjectID() string {
	if u.PrimarySubjectID != nil {
		return *u.PrimarySubjectID
	}
	return ""
}

type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt *time.Time
}
