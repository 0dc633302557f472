package constants

const (
	// Shared transport errors
	ErrCodeAuthFailed      = "AUTH_FAILED"
	ErrCodeAuthExpired     = "AUTH_EXPIRED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeInternal        = "INTERNAL_ERROR"

	// Subject lock domain errors
	ErrCodeAlreadyLocked        = "ALREADY_LOCKED"
	ErrCodeSubjectNotFound      = "SUBJECT_NOT_FOUND"
	ErrCodeNoActiveLock         = "NO_ACTIVE_LOCK"
	ErrCodeNoPendingRequest     = "NO_PENDING_REQUEST"
	ErrCodeNoSubjectDeclared    = "NO_SUBJECT_DECLARED"
	ErrCodeSessionAlreadyActive = "SESSION_ALREADY_ACTIVE"
	ErrCodeSessionTooShort      = "SESSION_TOO_SHORT"
	ErrCodeSessionNotActive     = "SESSION_NOT_ACTIVE"
	ErrCodeAarTooShort          = "AAR_TOO_SHORT"
	ErrCodeAccessCodeInvalid    = "ACCESS_CODE_INVALID"
	ErrCodeConcurrentUpdate     = "CONCURRENT_UPDATE"
)
