package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"studylock/internal/api"
	"studylock/internal/auth"
	"studylock/internal/config"
	"studylock/internal/db"
	"studylock/internal/email"
	"studylock/internal/jobs"
	"studylock/internal/lock"
	"studylock/internal/notify"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before config overrides")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to load env file", "path", *envPath, "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("starting server", "addr", cfg.Addr(), "log_level", cfg.Log.Level)

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.Info("database opened", "path", cfg.Database.Path)

	users := db.NewUserRepository(database)
	refreshTokens := db.NewRefreshTokenRepository(database)
	sessions := db.NewSessionRepository(database)
	catalog := db.NewCatalogRepository(database)

	if err := bootstrapAdmin(context.Background(), cfg.Auth.BootstrapAdmin, users); err != nil {
		slog.Error("failed to bootstrap admin", "error", err)
		os.Exit(1)
	}

	var senders []notify.Sender
	if cfg.Email.SMTP.Enabled() {
		senders = append(senders, email.NewSMTPService(
			cfg.Email.SMTP.Host,
			cfg.Email.SMTP.Port,
			cfg.Email.SMTP.Username,
			cfg.Email.SMTP.Password,
			cfg.Email.SMTP.From,
		))
		slog.Info("email configured", "host", cfg.Email.SMTP.Host, "port", cfg.Email.SMTP.Port)
	} else {
		senders = append(senders, notify.LogSender{})
		slog.Warn("email not configured, notifications are only logged")
	}

	var redisPublisher *notify.RedisPublisher
	if cfg.Notify.RedisURL != "" {
		redisPublisher, err = notify.NewRedisPublisher(context.Background(), cfg.Notify.RedisURL, cfg.Notify.RedisChannel)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		senders = append(senders, redisPublisher)
		slog.Info("redis notifications enabled", "channel", cfg.Notify.RedisChannel)
	}

	dispatcher := notify.NewDispatcher(cfg.Notify.QueueSize, cfg.Notify.SendTimeout, senders...)
	dispatcher.Start()

	engine := lock.NewEngine(users, catalog, dispatcher, lock.WithLogger(logger))

	jobManager := jobs.NewManager(refreshTokens, sessions, jobs.Schedule{
		TokenCleanup:      cfg.Jobs.TokenCleanupSchedule,
		StaleSessions:     cfg.Jobs.StaleSessionSchedule,
		StaleSessionAfter: cfg.Jobs.StaleSessionAfter,
	})
	if err := jobManager.Start(); err != nil {
		slog.Error("failed to start scheduled jobs", "error", err)
		os.Exit(1)
	}

	server, err := api.NewServer(api.Deps{
		Config:        cfg,
		Database:      database,
		Users:         users,
		RefreshTokens: refreshTokens,
		AccessCodes:   db.NewAccessCodeRepository(database),
		Audit:         db.NewAuditRepository(database),
		Catalog:       catalog,
		Engine:        engine,
		Sessions:      lock.NewSessionRecorder(engine, sessions),
		Aars:          lock.NewAarRecorder(engine, db.NewAarRepository(database)),
		JWT:           auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL),
	})
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	addr := cfg.Addr()
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server,
	}

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	jobManager.Stop()

	if err := dispatcher.Shutdown(ctx); err != nil {
		slog.Error("notification dispatcher shutdown error", "error", err)
	}
	if redisPublisher != nil {
		if err := redisPublisher.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}

	slog.Info("server stopped")
}
