package lock

import "errors"

var (
	ErrForbidden            = errors.New("administrator privileges required")
	ErrUserNotFound         = errors.New("user not found")
	ErrAlreadyLocked        = errors.New("a primary subject is already declared")
	ErrSubjectNotFound      = errors.New("subject not found or inactive")
	ErrNoActiveLock         = errors.New("no active subject lock")
	ErrNoPendingRequest     = errors.New("no pending unlock request")
	ErrNoSubjectDeclared    = errors.New("no primary subject declared")
	ErrSessionAlreadyActive = errors.New("a study session is already active")
	ErrSessionNotFound      = errors.New("study session not found")
	ErrSessionNotActive     = errors.New("study session is not active")
	ErrSessionTooShort      = errors.New("study session is too short")
	ErrAarTooShort          = errors.New("after-action review is too short")
	ErrInvalidSessionPlan   = errors.New("invalid planned duration or session type")
	ErrConcurrentUpdate     = errors.New("lock state changed concurrently, retry")
)
