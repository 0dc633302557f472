package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"studylock/internal/auth"
	"studylock/internal/constants"
	"studylock/internal/db"
	"studylock/internal/lock"
	"studylock/internal/models"
)

type AdminHandler struct {
	users       *db.UserRepository
	accessCodes *db.AccessCodeRepository
	auditRepo   *db.AuditRepository
	engine      *lock.Engine
	audit       *auditLog
}

func NewAdminHandler(
	users *db.UserRepository,
	accessCodes *db.AccessCodeRepository,
	auditRepo *db.AuditRepository,
	engine *lock.Engine,
	ips *ClientIPResolver,
) *AdminHandler {
	return &AdminHandler{
		users:       users,
		accessCodes: accessCodes,
		auditRepo:   auditRepo,
		engine:      engine,
		audit:       &auditLog{repo: auditRepo, ips: ips},
	}
}

// GET /api/v1/admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.FindAll(r.Context())
	if err != nil {
		slog.Error("error listing users", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"users": newUserViews(h.engine, users)})
}

// DELETE /api/v1/admin/users/{id}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == GetUserID(r) {
		badRequest(w, "Administrators cannot delete their own account")
		return
	}

	err := h.users.Delete(r.Context(), userID)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "User not found")
		return
	}
	if err != nil {
		slog.Error("error deleting user", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	h.audit.record(r, "delete", "user", userID, "")
	writeMessage(w, http.StatusOK, "User deleted")
}

// GET /api/v1/admin/unlock-requests
func (h *AdminHandler) ListUnlockRequests(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.FindByLockState(r.Context(), models.LockStateUnlockPending)
	if err != nil {
		slog.Error("error listing unlock requests", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"requests": newUserViews(h.engine, users)})
}

// POST /api/v1/admin/users/{id}/approve-unlock
func (h *AdminHandler) ApproveUnlock(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	user, err := h.engine.ApproveUnlock(r.Context(), principal(r), userID)
	if err != nil {
		writeLockError(w, r, err)
		return
	}

	h.audit.record(r, "approve_unlock", "user", userID, "")
	writeJSON(w, http.StatusOK, LockResponse{Message: "Unlock approved", User: newUserView(h.engine, user)})
}

type DenyUnlockRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// POST /api/v1/admin/users/{id}/deny-unlock
func (h *AdminHandler) DenyUnlock(w http.ResponseWriter, r *http.Request) {
	var req DenyUnlockRequest
	if err := decodeOptional(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	userID := chi.URLParam(r, "id")
	reason := lock.SanitizeText(req.Reason)
	user, err := h.engine.DenyUnlock(r.Context(), principal(r), userID, reason)
	if err != nil {
		writeLockError(w, r, err)
		return
	}

	h.audit.record(r, "deny_unlock", "user", userID, reason)
	writeJSON(w, http.StatusOK, LockResponse{Message: "Unlock request denied", User: newUserView(h.engine, user)})
}

// POST /api/v1/admin/users/{id}/force-unlock
func (h *AdminHandler) ForceUnlock(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	user, err := h.engine.ForceUnlock(r.Context(), principal(r), userID)
	if err != nil {
		writeLockError(w, r, err)
		return
	}

	h.audit.record(r, "force_unlock", "user", userID, "")
	writeJSON(w, http.StatusOK, LockResponse{Message: "Subject unlocked", User: newUserView(h.engine, user)})
}

type CreateAccessCodesRequest struct {
	Count int    `json:"count" validate:"required,min=1"`
	Note  string `json:"note" validate:"max=200"`
}

type IssuedAccessCode struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Hint string `json:"hint"`
}

// POST /api/v1/admin/access-codes
//
// The plaintext codes appear only in this response.
func (h *AdminHandler) CreateAccessCodes(w http.ResponseWriter, r *http.Request) {
	var req CreateAccessCodesRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Count > constants.MaxAccessCodesPerRequest {
		badRequest(w, fmt.Sprintf("count must be at most %d", constants.MaxAccessCodesPerRequest))
		return
	}

	adminID := GetUserID(r)
	note := lock.SanitizeText(req.Note)
	generated := make([]*auth.GeneratedCode, 0, req.Count)
	batch := make([]db.NewAccessCode, 0, req.Count)
	for range req.Count {
		g, err := auth.GenerateAccessCode()
		if err != nil {
			slog.Error("error generating access code", "error", err)
			internalError(w)
			return
		}
		generated = append(generated, g)
		batch = append(batch, db.NewAccessCode{CodeHash: g.Hash, Hint: g.Hint})
	}

	codes, err := h.accessCodes.CreateBatch(r.Context(), batch, note, &adminID)
	if err != nil {
		slog.Error("error storing access codes", "error", err)
		internalError(w)
		return
	}

	issued := make([]IssuedAccessCode, 0, len(codes))
	for i, code := range codes {
		issued = append(issued, IssuedAccessCode{ID: code.ID, Code: generated[i].Code, Hint: code.Hint})
	}

	h.audit.record(r, "create", "access_code", "", fmt.Sprintf("issued %d codes", len(issued)))
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Access codes created",
		"codes":   issued,
	})
}

// GET /api/v1/admin/access-codes
func (h *AdminHandler) ListAccessCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.accessCodes.FindAll(r.Context())
	if err != nil {
		slog.Error("error listing access codes", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"codes": emptyIfNil(codes)})
}

// DELETE /api/v1/admin/access-codes/{id}
func (h *AdminHandler) DeleteAccessCode(w http.ResponseWriter, r *http.Request) {
	codeID := chi.URLParam(r, "id")
	err := h.accessCodes.DeleteUnused(r.Context(), codeID)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Access code not found or already used")
		return
	}
	if err != nil {
		slog.Error("error deleting access code", "error", err, "code_id", codeID)
		internalError(w)
		return
	}

	h.audit.record(r, "delete", "access_code", codeID, "")
	writeMessage(w, http.StatusOK, "Access code deleted")
}

// GET /api/v1/admin/audit-log
func (h *AdminHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		badRequest(w, "limit must be a non-negative integer")
		return
	}

	entries, err := h.auditRepo.FindRecent(r.Context(), limit)
	if err != nil {
		slog.Error("error listing audit log", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": emptyIfNil(entries)})
}
