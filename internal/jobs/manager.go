package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const jobTimeout = 5 * time.Minute

type TokenStore interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

type SessionStore interface {
	AbandonStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type Schedule struct {
	TokenCleanup      string
	StaleSessions     string
	StaleSessionAfter time.Duration
}

// Manager runs periodic maintenance on a cron schedule with seconds precision.
type Manager struct {
	cron     *cron.Cron
	tokens   TokenStore
	sessions SessionStore
	schedule Schedule
	now      func() time.Time
}

func NewManager(tokens TokenStore, sessions SessionStore, schedule Schedule) *Manager {
	return &Manager{
		cron:     cron.New(cron.WithSeconds()),
		tokens:   tokens,
		sessions: sessions,
		schedule: schedule,
		now:      time.Now,
	}
}

func (m *Manager) Start() error {
	if err := m.register(); err != nil {
		return err
	}
	m.cron.Start()
	slog.Info("scheduled jobs started", "component", "jobs", "count", len(m.cron.Entries()))
	return nil
}

// Stop waits for running jobs to finish.
func (m *Manager) Stop() {
	<-m.cron.Stop().Done()
	slog.Info("scheduled jobs stopped", "component", "jobs")
}

func (m *Manager) register() error {
	if _, err := m.cron.AddFunc(m.schedule.TokenCleanup, m.wrap("token_cleanup", m.CleanupTokens)); err != nil {
		return fmt.Errorf("scheduling token cleanup: %w", err)
	}
	if _, err := m.cron.AddFunc(m.schedule.StaleSessions, m.wrap("stale_sessions", m.AbandonStaleSessions)); err != nil {
		return fmt.Errorf("scheduling stale session sweep: %w", err)
	}
	return nil
}

func (m *Manager) wrap(name string, job func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		if err := job(ctx); err != nil {
			slog.Error("scheduled job failed", "component", "jobs", "job", name, "error", err)
			return
		}
		slog.Debug("scheduled job finished", "component", "jobs", "job", name, "duration", time.Since(start).String())
	}
}

func (m *Manager) CleanupTokens(ctx context.Context) error {
	deleted, err := m.tokens.DeleteExpired(ctx)
	if err != nil {
		return err
	}
	if deleted > 0 {
		slog.Info("deleted expired refresh tokens", "component", "jobs", "count", deleted)
	}
	return nil
}

// AbandonStaleSessions closes sessions left open longer than the configured
// age so they stop blocking new sessions.
func (m *Manager) AbandonStaleSessions(ctx context.Context) error {
	cutoff := m.now().Add(-m.schedule.StaleSessionAfter)
	abandoned, err := m.sessions.AbandonStale(ctx, cutoff)
	if err != nil {
		return err
	}
	if abandoned > 0 {
		slog.Info("abandoned stale study sessions", "component", "jobs", "count", abandoned, "cutoff", cutoff)
	}
	return nil
}
