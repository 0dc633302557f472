package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"studylock/internal/auth"
	"studylock/internal/config"
	"studylock/internal/constants"
	"studylock/internal/db"
	"studylock/internal/lock"
)

const maxBodyBytes = 1 << 20 // 1 MB

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Config        *config.Config
	Database      *db.DB
	Users         *db.UserRepository
	RefreshTokens *db.RefreshTokenRepository
	AccessCodes   *db.AccessCodeRepository
	Audit         *db.AuditRepository
	Catalog       *db.CatalogRepository
	Engine        *lock.Engine
	Sessions      *lock.SessionRecorder
	Aars          *lock.AarRecorder
	JWT           *auth.JWTService
}

type Server struct {
	router *chi.Mux
}

func NewServer(deps Deps) (*Server, error) {
	cfg := deps.Config

	ips, err := NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("configuring trusted proxies: %w", err)
	}

	authHandler := NewAuthHandler(deps.Users, deps.AccessCodes, deps.RefreshTokens, deps.JWT)
	userHandler := NewUserHandler(deps.Users, deps.Engine)
	lockHandler := NewLockHandler(deps.Engine)
	sessionHandler := NewSessionHandler(deps.Sessions)
	aarHandler := NewAarHandler(deps.Aars)
	catalogHandler := NewCatalogHandler(deps.Catalog, deps.Audit, ips)
	adminHandler := NewAdminHandler(deps.Users, deps.AccessCodes, deps.Audit, deps.Engine, ips)
	healthHandler := NewHealthHandler(deps.Database)

	authMiddleware := NewAuthMiddleware(deps.JWT)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(slogRequestLogger(ips))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(cfg.Server.CORSAllowedOrigins))
	r.Use(securityHeadersMiddleware)

	r.Get("/health", healthHandler.Check)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(maxBodySizeMiddleware(maxBodyBytes))

		r.Route("/auth", func(r chi.Router) {
			r.With(rateLimit(ips, 5, time.Minute)).Post("/register", authHandler.Register)
			r.With(rateLimit(ips, 10, time.Minute)).Post("/login", authHandler.Login)
			r.With(rateLimit(ips, 30, time.Minute)).Post("/refresh", authHandler.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.RequireAuth)
				r.Post("/logout", authHandler.Logout)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)

			r.Get("/users/me", userHandler.GetMe)
			r.Get("/progress", userHandler.GetProgress)

			r.Post("/declare-subject", lockHandler.DeclareSubject)
			r.Post("/unlock-request", lockHandler.RequestUnlock)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionHandler.List)
				r.Get("/active", sessionHandler.Active)
				r.Post("/start", sessionHandler.Start)
				r.Post("/{id}/complete", sessionHandler.Complete)
				r.Post("/{id}/abandon", sessionHandler.Abandon)
			})

			r.Route("/aar", func(r chi.Router) {
				r.Get("/", aarHandler.List)
				r.Post("/submit", aarHandler.Submit)
			})

			r.Route("/catalog", func(r chi.Router) {
				r.Get("/departments", catalogHandler.ListDepartments)
				r.Get("/subjects/{id}", catalogHandler.GetSubject)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin)

				r.Get("/users", adminHandler.ListUsers)
				r.Delete("/users/{id}", adminHandler.DeleteUser)
				r.Post("/users/{id}/approve-unlock", adminHandler.ApproveUnlock)
				r.Post("/users/{id}/deny-unlock", adminHandler.DenyUnlock)
				r.Post("/users/{id}/force-unlock", adminHandler.ForceUnlock)
				r.Get("/unlock-requests", adminHandler.ListUnlockRequests)

				r.Get("/access-codes", adminHandler.ListAccessCodes)
				r.Post("/access-codes", adminHandler.CreateAccessCodes)
				r.Delete("/access-codes/{id}", adminHandler.DeleteAccessCode)

				r.Get("/audit-log", adminHandler.AuditLog)

				r.Get("/departments", catalogHandler.ListAllDepartments)
				r.Post("/departments", catalogHandler.CreateDepartment)
				r.Patch("/departments/{id}", catalogHandler.UpdateDepartment)
				r.Post("/subjects", catalogHandler.CreateSubject)
				r.Patch("/subjects/{id}", catalogHandler.UpdateSubject)
				r.Post("/subjects/{id}/resources", catalogHandler.AddResource)
				r.Delete("/resources/{id}", catalogHandler.DeleteResource)
			})
		})
	})

	return &Server{router: r}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// corsMiddleware allows the configured origins plus any loopback origin used
// during local development. Requests without an Origin header pass through.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimRight(strings.TrimSpace(origin), "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !allowed[origin] && !isLoopbackOrigin(origin) {
				writeError(w, http.StatusForbidden, constants.ErrCodeInvalidRequest, "Origin not allowed")
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	addr, err := netip.ParseAddr(host)
	return err == nil && addr.IsLoopback()
}

func maxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func slogRequestLogger(ips *ClientIPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"remote", ips.Resolve(r),
				"request_id", requestIDFromContext(r.Context()),
			)
		})
	}
}
