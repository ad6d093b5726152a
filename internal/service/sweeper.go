package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"planning-poker/internal/repository"
	"planning-poker/pkg/logger"
)

// sweeper prunes every live room on a ticker so abandoned rooms are removed
// even when nobody polls them.
type sweeper struct {
	rooms    RoomService
	codes    repository.RoomStore
	interval time.Duration
	logger   *logger.Logger

	mu        sync.Mutex
	isRunning bool
	stop      chan struct{}
	done      chan struct{}
}

// NewSweeper creates a sweeper that walks store's codes every interval
func NewSweeper(rooms RoomService, store repository.RoomStore, interval time.Duration, log *logger.Logger) Sweeper {
	if log == nil {
		log = logger.NewNop()
	}
	return &sweeper{
		rooms:    rooms,
		codes:    store,
		interval: interval,
		logger:   log.Named("sweeper"),
	}
}

// Start launches the sweep loop. Calling Start twice is a no-op.
func (s *sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}
	if s.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", s.interval)
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(ctx, s.stop, s.done)

	s.isRunning = true
	s.logger.WithField("interval", s.interval.String()).Info("Room sweeper started")
	return nil
}

// Stop signals the loop and waits for it to exit or ctx to end
func (s *sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}
	close(s.stop)
	s.isRunning = false

	select {
	case <-s.done:
		s.logger.Info("Room sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *sweeper) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.WithError(err).Warn("Room sweep failed")
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce prunes each listed room. One failing room does not stop the sweep.
func (s *sweeper) SweepOnce(ctx context.Context) (int, error) {
	codes, err := s.codes.Codes(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list rooms: %w", err)
	}

	removed, failed := 0, 0
	for _, code := range codes {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		gone, err := s.rooms.PruneRoom(ctx, code)
		if err != nil {
			failed++
			s.logger.WithError(err).WithField("room_code", code).Warn("Failed to prune room")
			continue
		}
		if gone {
			removed++
		}
	}

	if removed > 0 || failed > 0 {
		s.logger.WithFields(map[string]interface{}{
			"rooms":   len(codes),
			"removed": removed,
			"failed":  failed,
		}).Info("Room sweep finished")
	}
	return removed, nil
}
