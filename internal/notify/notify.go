package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"studylock/internal/constants"
)

type Kind string

const (
	KindUnlockRequested Kind = "unlock_requested"
	KindUnlockApproved  Kind = "unlock_approved"
	KindUnlockDenied    Kind = "unlock_denied"
	KindUnlockForced    Kind = "unlock_forced"
	KindAutoUnlocked    Kind = "auto_unlocked"
)

// Notification describes one lock event for a user. Recipients are email
// addresses; for KindUnlockRequested they are the administrators.
type Notification struct {
	Kind         Kind      `json:"kind"`
	Recipients   []string  `json:"recipients"`
	UserID       string    `json:"userId"`
	UserEmail    string    `json:"userEmail"`
	UserName     string    `json:"userName,omitempty"`
	SubjectID    string    `json:"subjectId,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	DaysElapsed  int       `json:"daysElapsed"`
	SessionCount int       `json:"sessionCount"`
	AarCount     int       `json:"aarCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Sender delivers a notification over one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Dispatcher queues notifications and fans them out to every sender from a
// single worker. Delivery is best effort: failures are logged and a full
// queue drops the notification.
type Dispatcher struct {
	senders     []Sender
	queue       chan Notification
	sendTimeout time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	mu          sync.RWMutex
	closed      bool
}

func NewDispatcher(queueSize int, sendTimeout time.Duration, senders ...Sender) *Dispatcher {
	if queueSize <= 0 {
		queueSize = constants.NotifyQueueSize
	}
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}

	return &Dispatcher{
		senders:     senders,
		queue:       make(chan Notification, queueSize),
		sendTimeout: sendTimeout,
		done:        make(chan struct{}),
	}
}

// Start runs the delivery worker until Shutdown drains the queue.
func (d *Dispatcher) Start() {
	go d.run()
	slog.Info("notification dispatcher started", "component", "notify", "senders", len(d.senders))
}

// Notify enqueues n without blocking.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		slog.Warn("notification dropped after shutdown", "component", "notify", "kind", n.Kind, "user_id", n.UserID)
		return
	}

	select {
	case d.queue <- n:
	case <-ctx.Done():
		slog.Warn("notification dropped, request cancelled", "component", "notify", "kind", n.Kind, "user_id", n.UserID)
	default:
		slog.Warn("notification queue full, dropping", "component", "notify", "kind", n.Kind, "user_id", n.UserID)
	}
}

// Shutdown stops accepting notifications and waits for queued ones to be
// delivered or ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for n := range d.queue {
		d.deliver(n)
	}
	slog.Info("notification dispatcher stopped", "component", "notify")
}

func (d *Dispatcher) deliver(n Notification) {
	for _, s := range d.senders {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		err := s.Send(ctx, n)
		cancel()
		if err != nil {
			slog.Warn("notification delivery failed",
				"component", "notify",
				"sender", s.Name(),
				"kind", n.Kind,
				"user_id", n.UserID,
				"error", err,
			)
		}
	}
}

// LogSender writes notifications to the log. It stands in for email when no
// SMTP server is configured.
type LogSender struct{}

func (LogSender) Name() string { return "log" }

func (LogSender) Send(_ context.Context, n Notification) error {
	slog.Info("notification",
		"component", "notify",
		"kind", n.Kind,
		"recipients", n.Recipients,
		"user_id", n.UserID,
		"reason", n.Reason,
	)
	return nil
}
