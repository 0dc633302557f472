package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"studylock/internal/auth"
	"studylock/internal/constants"
	"studylock/internal/db"
	"studylock/internal/lock"
	"studylock/internal/models"
)

type AuthHandler struct {
	users         *db.UserRepository
	accessCodes   *db.AccessCodeRepository
	refreshTokens *db.RefreshTokenRepository
	jwtService    *auth.JWTService
}

func NewAuthHandler(
	users *db.UserRepository,
	accessCodes *db.AccessCodeRepository,
	refreshTokens *db.RefreshTokenRepository,
	jwtService *auth.JWTService,
) *AuthHandler {
	return &AuthHandler{
		users:         users,
		accessCodes:   accessCodes,
		refreshTokens: refreshTokens,
		jwtService:    jwtService,
	}
}

type AuthResponse struct {
	Message      string       `json:"message"`
	User         *models.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresAt    string       `json:"expiresAt"`
}

type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    string `json:"expiresAt"`
}

// POST /api/v1/auth/register
type RegisterRequest struct {
	AccessCode string `json:"accessCode" validate:"required,max=64"`
	Email      string `json:"email" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,min=8,max=72"`
	Name       string `json:"name" validate:"required,max=100"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	email, ok := normalizeEmail(req.Email)
	if !ok {
		badRequest(w, "invalid email format")
		return
	}
	name := lock.SanitizeText(req.Name)
	if name == "" {
		badRequest(w, "name is required")
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		slog.Error("error hashing password", "error", err)
		internalError(w)
		return
	}

	user := &models.User{
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Role:         models.RoleStudent,
	}
	err = h.accessCodes.Redeem(r.Context(), auth.HashAccessCode(req.AccessCode), user)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusBadRequest, constants.ErrCodeAccessCodeInvalid, "Access code is invalid or already used")
		return
	}
	if errors.Is(err, db.ErrDuplicate) {
		conflict(w, "Account already registered")
		return
	}
	if err != nil {
		slog.Error("error registering user", "error", err)
		internalError(w)
		return
	}

	slog.Info("user registered", "user_id", user.ID)

	resp, err := h.generateAuthResponse(r.Context(), user, "Registration successful")
	if err != nil {
		slog.Error("error issuing auth tokens", "error", err, "user_id", user.ID)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// POST /api/v1/auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	email, ok := normalizeEmail(req.Email)
	if !ok {
		badRequest(w, "invalid email format")
		return
	}

	user, err := h.users.FindByEmail(r.Context(), email)
	if errors.Is(err, db.ErrNotFound) {
		unauthorized(w, "Invalid email or password")
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w)
		return
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		if !errors.Is(err, auth.ErrInvalidPassword) {
			slog.Error("error checking password", "error", err, "user_id", user.ID)
			internalError(w)
			return
		}
		unauthorized(w, "Invalid email or password")
		return
	}

	resp, err := h.generateAuthResponse(r.Context(), user, "Login successful")
	if err != nil {
		slog.Error("error issuing auth tokens", "error", err, "user_id", user.ID)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// POST /api/v1/auth/refresh
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	refreshToken, err := h.refreshTokens.FindByHash(r.Context(), auth.HashRefreshToken(req.RefreshToken))
	if errors.Is(err, db.ErrNotFound) {
		unauthorized(w, "Invalid refresh token")
		return
	}
	if err != nil {
		slog.Error("error finding refresh token", "error", err)
		internalError(w)
		return
	}

	if refreshToken.RevokedAt != nil {
		unauthorized(w, "Refresh token has been revoked")
		return
	}
	if time.Now().After(refreshToken.ExpiresAt) {
		writeError(w, http.StatusUnauthorized, constants.ErrCodeAuthExpired, "Refresh token has expired")
		return
	}

	user, err := h.users.FindByID(r.Context(), refreshToken.UserID)
	if errors.Is(err, db.ErrNotFound) {
		unauthorized(w, "User not found")
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w)
		return
	}

	tokenPair, newRefreshHash, err := h.jwtService.GenerateTokenPair(user)
	if err != nil {
		slog.Error("error generating refreshed token pair", "error", err)
		internalError(w)
		return
	}

	err = h.refreshTokens.Rotate(r.Context(), refreshToken.ID, user.ID, newRefreshHash, h.jwtService.RefreshTokenExpiry())
	if errors.Is(err, db.ErrNotFound) {
		unauthorized(w, "Refresh token has already been used")
		return
	}
	if err != nil {
		slog.Error("error rotating refresh token", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, RefreshResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		ExpiresAt:    tokenPair.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "User not found in context")
		return
	}

	if err := h.refreshTokens.RevokeAllForUser(r.Context(), userID); err != nil {
		slog.Error("error revoking refresh tokens", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	writeMessage(w, http.StatusOK, "Logged out successfully")
}

func (h *AuthHandler) generateAuthResponse(ctx context.Context, user *models.User, message string) (*AuthResponse, error) {
	tokenPair, refreshHash, err := h.jwtService.GenerateTokenPair(user)
	if err != nil {
		return nil, err
	}

	if _, err := h.refreshTokens.Create(ctx, user.ID, refreshHash, h.jwtService.RefreshTokenExpiry()); err != nil {
		return nil, err
	}

	return &AuthResponse{
		Message:      message,
		User:         user,
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		ExpiresAt:    tokenPair.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}

func normalizeEmail(raw string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", false
	}
	if err := requestValidator.Var(email, "email,max=254"); err != nil {
		return "", false
	}
	return email, true
}
