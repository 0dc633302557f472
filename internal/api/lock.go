package api

import (
	"net/http"

	"studylock/internal/lock"
)

type LockHandler struct {
	engine *lock.Engine
}

func NewLockHandler(engine *lock.Engine) *LockHandler {
	return &LockHandler{engine: engine}
}

type DeclareSubjectRequest struct {
	SubjectID string `json:"subjectId" validate:"required,max=64"`
}

type LockResponse struct {
	Message string   `json:"message"`
	User    UserView `json:"user"`
}

// POST /api/v1/declare-subject
func (h *LockHandler) DeclareSubject(w http.ResponseWriter, r *http.Request) {
	var req DeclareSubjectRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	user, err := h.engine.DeclareSubject(r.Context(), principal(r), req.SubjectID)
	if err != nil {
		writeLockError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, LockResponse{
		Message: "Primary subject declared",
		User:    newUserView(h.engine, user),
	})
}

type UnlockResponse struct {
	Message  string      `json:"message"`
	Unlocked bool        `json:"unlocked"`
	Status   lock.Status `json:"status"`
}

// POST /api/v1/unlock-request
func (h *LockHandler) RequestUnlock(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.RequestUnlock(r.Context(), principal(r))
	if err != nil {
		writeLockError(w, r, err)
		return
	}

	message := "Unlock request submitted for admin review"
	if result.Unlocked {
		message = "Subject unlocked"
	}

	writeJSON(w, http.StatusOK, UnlockResponse{
		Message:  message,
		Unlocked: result.Unlocked,
		Status:   result.Status,
	})
}
