package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"studylock/internal/auth"
	"studylock/internal/config"
	"studylock/internal/db"
	"studylock/internal/models"
)

// bootstrapAdmin creates the configured administrator when none exists yet.
func bootstrapAdmin(ctx context.Context, cfg config.BootstrapAdminConfig, users *db.UserRepository) error {
	if cfg.Email == "" {
		return nil
	}

	hasAdmin, err := users.HasAdmin(ctx)
	if err != nil {
		return err
	}
	if hasAdmin {
		return nil
	}

	hash, err := auth.HashPassword(cfg.Password)
	if err != nil {
		return err
	}

	admin := &models.User{
		Email:        strings.ToLower(strings.TrimSpace(cfg.Email)),
		Name:         cfg.Name,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	}
	if err := users.Create(ctx, admin); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return fmt.Errorf("bootstrap admin email %s belongs to an existing non-admin account", admin.Email)
		}
		return fmt.Errorf("creating bootstrap admin: %w", err)
	}

	slog.Info("bootstrap admin created", "user_id", admin.ID, "email", admin.Email)
	return nil
}
