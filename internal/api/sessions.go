package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"studylock/internal/lock"
	"studylock/internal/models"
)

type SessionHandler struct {
	recorder *lock.SessionRecorder
}

func NewSessionHandler(recorder *lock.SessionRecorder) *SessionHandler {
	return &SessionHandler{recorder: recorder}
}

type StartSessionRequest struct {
	PlannedDuration int    `json:"plannedDuration"`
	SessionType     string `json:"sessionType" validate:"max=32"`
}

type SessionResponse struct {
	Message     string               `json:"message"`
	Session     *models.StudySession `json:"session"`
	RequiresAAR bool                 `json:"requiresAAR,omitempty"`
}

// POST /api/v1/sessions/start
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	session, err := h.recorder.Start(r.Context(), principal(r), req.PlannedDuration, req.SessionType)
	if errors.Is(err, lock.ErrSessionAlreadyActive) && session != nil {
		writeSessionAlreadyActive(w, session)
		return
	}
	if err != nil {
		writeLockError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, SessionResponse{Message: "Session started", Session: session})
}

type CompleteSessionRequest struct {
	Notes *string `json:"notes" validate:"omitempty,max=5000"`
}

// POST /api/v1/sessions/{id}/complete
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req CompleteSessionRequest
	if err := decodeOptional(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	result, err := h.recorder.Complete(r.Context(), principal(r), chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		writeLockError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		Message:     "Session completed",
		Session:     result.Session,
		RequiresAAR: result.RequiresAAR,
	})
}

// POST /api/v1/sessions/{id}/abandon
func (h *SessionHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	session, err := h.recorder.Abandon(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeLockError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{Message: "Session abandoned", Session: session})
}

// GET /api/v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		badRequest(w, "limit must be a non-negative integer")
		return
	}

	sessions, err := h.recorder.List(r.Context(), principal(r), limit)
	if err != nil {
		writeLockError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": emptyIfNil(sessions)})
}

// GET /api/v1/sessions/active
func (h *SessionHandler) Active(w http.ResponseWriter, r *http.Request) {
	session, err := h.recorder.Active(r.Context(), principal(r))
	if err != nil {
		writeLockError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}
