// Package expire deletes disappearing messages whose countdown has elapsed
// and erases view-once payloads past their maximum lifespan.
package expire

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gfreire/msgdb/internal/store"
)

const (
	reapInterval     = time.Second
	viewOnceInterval = time.Minute
)

// Manager runs the expiration loops against the store.
type Manager struct {
	store  *store.Store
	logger *zap.Logger
	now    func() time.Time
	wake   chan struct{}
	cancel context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an expiration manager.
func NewManager(s *store.Store, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  s,
		logger: logger,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartExpiration begins the countdown for the given messages, earliest
// start winning, and wakes the reaper so short timers fire promptly.
func (m *Manager) StartExpiration(ids []store.MessageID, startedAt int64) error {
	if err := m.store.MarkExpireStarted(ids, startedAt); err != nil {
		return err
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

// Start begins the background reaper loops.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.reapLoop(ctx)
	go m.viewOnceLoop(ctx)
}

// Stop stops the loops.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Manager) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reap()
		case <-m.wake:
			m.reap()
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) reap() {
	now := m.now().UnixMilli()

	deadline, ok, err := m.store.NextExpiration()
	if err != nil {
		m.logger.Error("expiration scan failed", zap.Error(err))
		return
	}
	if !ok || deadline > now {
		return
	}

	n, err := m.store.DeleteExpired(now)
	if err != nil {
		m.logger.Error("failed to delete expired messages", zap.Error(err))
		return
	}
	if n > 0 {
		m.logger.Info("deleted expired messages", zap.Int("count", n))
	}
}

func (m *Manager) viewOnceLoop(ctx context.Context) {
	ticker := time.NewTicker(viewOnceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepViewOnce()
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) sweepViewOnce() {
	now := m.now().UnixMilli()

	c, err := m.store.NearestExpiringViewOnce()
	if err != nil {
		m.logger.Error("view-once scan failed", zap.Error(err))
		return
	}
	if c == nil || c.DateReceived+store.MaxViewOnceLifespanMillis > now {
		return
	}

	n, err := m.store.EraseExpiredViewOnce(now)
	if err != nil {
		m.logger.Error("failed to erase view-once payloads", zap.Error(err))
		return
	}
	if n > 0 {
		m.logger.Info("erased expired view-once payloads", zap.Int("count", n))
	}
}
