// Package trim applies message retention policy in the background. It
// subscribes to insert events and trims the affected threads so the hot
// path never pays for deletions.
package trim

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gfreire/msgdb/internal/bus"
	"github.com/gfreire/msgdb/internal/config"
	"github.com/gfreire/msgdb/internal/store"
)

const sweepInterval = time.Hour

// Scheduler watches for inserts and enforces the retention policy.
type Scheduler struct {
	store  *store.Store
	bus    *bus.Bus
	policy config.TrimConfig
	logger *zap.Logger
	now    func() time.Time
	cancel context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a trim scheduler with the given policy.
func NewScheduler(st *store.Store, b *bus.Bus, policy config.TrimConfig, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  st,
		bus:    b,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether the policy trims anything at all.
func (s *Scheduler) Enabled() bool {
	return s.policy.MaxMessagesPerThread > 0 || s.policy.MaxAgeDays > 0
}

// Start subscribes to insert events and begins the periodic sweep.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.Enabled() {
		s.logger.Info("trim disabled by policy")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	events, unsub := s.bus.Subscribe(bus.KindMessageInserted, 256)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-events:
				change, ok := evt.Payload.(bus.MessageChange)
				if !ok {
					continue
				}
				s.trimOne(change.ThreadID)
			case <-ctx.Done():
				return
			}
		}
	}()

	go s.sweepLoop(ctx)
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) keepAfter() int64 {
	if s.policy.MaxAgeDays <= 0 {
		return 0
	}
	return s.now().AddDate(0, 0, -s.policy.MaxAgeDays).UnixMilli()
}

func (s *Scheduler) trimOne(threadID int64) {
	n, err := s.store.TrimThread(threadID, s.policy.MaxMessagesPerThread, s.keepAfter())
	if err != nil {
		s.logger.Error("trim failed", zap.Int64("thread", threadID), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("trimmed thread", zap.Int64("thread", threadID), zap.Int("deleted", n))
	}
}

// sweepLoop periodically trims every thread and clears abandoned rows,
// catching age-based expiry in threads that receive no new messages.
func (s *Scheduler) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepAll()
		case <-ctx.Done():
			return
		}
	}
}

// SweepAll trims every thread against the policy and deletes abandoned
// dependent rows.
func (s *Scheduler) SweepAll() {
	threads, err := s.store.ListThreads(true, 0)
	if err != nil {
		s.logger.Error("sweep: list threads failed", zap.Error(err))
		return
	}
	for _, t := range threads {
		s.trimOne(t.ID)
	}
	if err := s.store.DeleteAbandoned(); err != nil {
		s.logger.Error("sweep: delete abandoned failed", zap.Error(err))
	}
}
