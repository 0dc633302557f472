package api

import (
	"errors"
	"log/slog"
	"net/http"

	"studylock/internal/constants"
	"studylock/internal/lock"
	"studylock/internal/models"
)

type lockErrorMapping struct {
	err     error
	status  int
	code    string
	message string
}

var lockErrors = []lockErrorMapping{
	{lock.ErrForbidden, http.StatusForbidden, constants.ErrCodeForbidden, "Administrator access required"},
	{lock.ErrUserNotFound, http.StatusNotFound, constants.ErrCodeNotFound, "User not found"},
	{lock.ErrSessionNotFound, http.StatusNotFound, constants.ErrCodeNotFound, "Session not found"},
	{lock.ErrSubjectNotFound, http.StatusNotFound, constants.ErrCodeSubjectNotFound, "Subject not found or inactive"},
	{lock.ErrAlreadyLocked, http.StatusBadRequest, constants.ErrCodeAlreadyLocked, "A primary subject is already declared"},
	{lock.ErrNoActiveLock, http.StatusBadRequest, constants.ErrCodeNoActiveLock, "No active subject lock"},
	{lock.ErrNoPendingRequest, http.StatusBadRequest, constants.ErrCodeNoPendingRequest, "No pending unlock request"},
	{lock.ErrNoSubjectDeclared, http.StatusBadRequest, constants.ErrCodeNoSubjectDeclared, "Declare a primary subject first"},
	{lock.ErrSessionAlreadyActive, http.StatusBadRequest, constants.ErrCodeSessionAlreadyActive, "A study session is already active"},
	{lock.ErrSessionNotActive, http.StatusBadRequest, constants.ErrCodeSessionNotActive, "Session is not active"},
	{lock.ErrSessionTooShort, http.StatusBadRequest, constants.ErrCodeSessionTooShort, "Sessions must last at least 5 minutes"},
	{lock.ErrAarTooShort, http.StatusBadRequest, constants.ErrCodeAarTooShort, "AAR must fill every field and contain at least 20 words"},
	{lock.ErrInvalidSessionPlan, http.StatusBadRequest, constants.ErrCodeInvalidRequest, "plannedDuration must be 1-480 minutes and sessionType one of focus, review, practice, reading"},
	{lock.ErrConcurrentUpdate, http.StatusConflict, constants.ErrCodeConcurrentUpdate, "The account changed concurrently, please retry"},
}

// writeLockError maps lock errors onto HTTP responses. Anything unknown is
// logged and reported as an internal error.
func writeLockError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range lockErrors {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, m.message)
			return
		}
	}

	slog.Error("request failed", "error", err, "path", r.URL.Path, "request_id", requestIDFromContext(r.Context()))
	internalError(w)
}

type activeSessionError struct {
	Error   ErrorDetail          `json:"error"`
	Session *models.StudySession `json:"session"`
}

func writeSessionAlreadyActive(w http.ResponseWriter, s *models.StudySession) {
	writeJSON(w, http.StatusBadRequest, activeSessionError{
		Error: ErrorDetail{
			Code:    constants.ErrCodeSessionAlreadyActive,
			Message: "A study session is already active",
		},
		Session: s,
	})
}
