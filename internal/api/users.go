package api

import (
	"errors"
	"log/slog"
	"net/http"

	"studylock/internal/db"
	"studylock/internal/lock"
)

type UserHandler struct {
	users  *db.UserRepository
	engine *lock.Engine
}

func NewUserHandler(users *db.UserRepository, engine *lock.Engine) *UserHandler {
	return &UserHandler{users: users, engine: engine}
}

// GET /api/v1/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "User not found in context")
		return
	}

	user, err := h.users.FindByID(r.Context(), userID)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "User not found")
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, newUserView(h.engine, user))
}

type ProgressResponse struct {
	Message string      `json:"message"`
	Status  lock.Status `json:"status"`
}

// GET /api/v1/progress
func (h *UserHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.Context(), GetUserID(r))
	if err != nil {
		writeLockError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ProgressResponse{Message: "Progress retrieved", Status: status})
}
