// Package scheduler runs periodic storage maintenance: it closes sessions
// orphaned by a previous run and prunes old sessions and room history.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/mattjoyce/channelgw/internal/config"
	"github.com/mattjoyce/channelgw/internal/events"
)

// OrphanReason is stamped on sessions found open at startup.
const OrphanReason = "gateway restart"

// Event types published on the hub.
const (
	EventRecovered   = "maintenance.recovered"
	EventMaintenance = "maintenance.run"
)

// Scheduler runs maintenance on a jittered interval.
type Scheduler struct {
	cfg      config.MaintenanceConfig
	interval time.Duration
	sessions SessionStore
	rooms    RoomStore
	events   events.Publisher
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Scheduler. rooms may be nil when no room history is kept.
func New(cfg config.MaintenanceConfig, sessions SessionStore, rooms RoomStore, pub events.Publisher, logger *slog.Logger) (*Scheduler, error) {
	every := cfg.Every
	if every == "" {
		every = "hourly"
	}
	interval, err := parseScheduleEvery(every)
	if err != nil {
		return nil, err
	}
	if pub == nil {
		pub = events.NewHub(16)
	}
	return &Scheduler{
		cfg:      cfg,
		interval: interval,
		sessions: sessions,
		rooms:    rooms,
		events:   pub,
		logger:   logger.With("component", "scheduler"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start runs crash recovery, then starts the maintenance loop. Recovery
// must finish before new sessions are recorded, so callers start the
// scheduler before accepting connections.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recoverOrphanedSessions(ctx); err != nil {
		return fmt.Errorf("scheduler crash recovery failed: %w", err)
	}

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop ends the loop and waits for an in-flight run.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(calculateJitteredInterval(s.interval, s.cfg.Jitter))
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(calculateJitteredInterval(s.interval, s.cfg.Jitter))
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick performs one maintenance pass. Failures are logged and retried on
// the next pass.
func (s *Scheduler) tick(ctx context.Context) {
	s.logger.Debug("maintenance tick")
	result := map[string]any{"at": time.Now().UTC()}

	if s.cfg.SessionRetention > 0 {
		n, err := s.sessions.PruneClosed(ctx, s.cfg.SessionRetention)
		if err != nil {
			s.logger.Error("failed to prune sessions", "retention", s.cfg.SessionRetention, "error", err)
		} else {
			result["sessions_pruned"] = n
		}
	}

	if s.rooms != nil && s.cfg.RoomHistoryMax > 0 {
		n, err := s.rooms.Trim(ctx, s.cfg.RoomHistoryMax)
		if err != nil {
			s.logger.Error("failed to trim room history", "keep", s.cfg.RoomHistoryMax, "error", err)
		} else {
			result["messages_trimmed"] = n
		}
	}

	s.events.Publish(EventMaintenance, result)
}

// recoverOrphanedSessions closes sessions that a crashed or killed
// previous run left open.
func (s *Scheduler) recoverOrphanedSessions(ctx context.Context) error {
	n, err := s.sessions.CloseOrphans(ctx, OrphanReason)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Warn("closed orphaned sessions from previous run", "count", n)
		s.events.Publish(EventRecovered, map[string]any{"sessions": n})
	}
	return nil
}

// calculateJitteredInterval adds a random jitter in [0, jitter) to the base
// interval.
func calculateJitteredInterval(baseInterval time.Duration, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return baseInterval
	}
	return baseInterval + time.Duration(rand.Int63n(jitter.Nanoseconds()))
}

func parseScheduleEvery(every string) (time.Duration, error) {
	return config.ParseInterval(every)
}
