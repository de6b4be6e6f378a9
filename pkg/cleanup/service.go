// Package cleanup provides data retention sweeping.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/parlorgames/parlor/pkg/config"
	"github.com/parlorgames/parlor/pkg/store"
)

// Service periodically enforces retention policies:
//   - Purges ended rooms past their retention window, cascading to
//     their stories, chapters, messages, and memories
//   - Flips idle players offline
//
// All operations are idempotent.
type Service struct {
	config *config.RetentionConfig
	store  *store.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the cleanup service.
func NewService(cfg *config.RetentionConfig, st *store.Store) *Service {
	return &Service{config: cfg, store: st}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"ended_room_retention", s.config.EndedRoomRetention.Std(),
		"player_idle_threshold", s.config.PlayerIdleThreshold.Std(),
		"interval", s.config.SweepInterval.Std())
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.SweepInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	s.purgeEndedRooms(ctx)
	s.markIdlePlayers(ctx)
}

func (s *Service) purgeEndedRooms(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.config.EndedRoomRetention.Std())
	count, err := s.store.PurgeEndedRoomsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: ended room purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged ended rooms", "count", count)
	}
}

func (s *Service) markIdlePlayers(ctx context.Context) {
	idleBefore := time.Now().UTC().Add(-s.config.PlayerIdleThreshold.Std())
	count, err := s.store.MarkIdlePlayersOffline(ctx, idleBefore)
	if err != nil {
		slog.Error("Retention: idle player sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: marked idle players offline", "count", count)
	}
}
