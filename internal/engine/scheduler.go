package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs Synchronize on a fixed interval in the background.
type Scheduler struct {
	engine   *Engine
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler starts a background loop that synchronizes e every interval,
// the first pass running immediately. The loop runs until Stop is called or
// ctx is done.
func NewScheduler(ctx context.Context, e *Engine, interval time.Duration) *Scheduler {
	schedulerCtx, cancel := context.WithCancel(ctx)

	s := &Scheduler{
		engine:   e,
		interval: interval,
		ctx:      schedulerCtx,
		cancel:   cancel,
	}

	s.wg.Add(1)
	go s.loop()

	return s
}

// Stop cancels a running pass and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	logger := zerolog.Ctx(s.ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.synchronize()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info().Msg("Synchronization scheduler stopped")
			return

		case <-ticker.C:
			s.synchronize()
		}
	}
}

func (s *Scheduler) synchronize() {
	logger := zerolog.Ctx(s.ctx)

	snapshot, err := s.engine.Synchronize(s.ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Scheduled synchronization failed")
		return
	}

	logger.Info().Int("organizations", len(snapshot.Organizations)).Msg("Scheduled synchronization completed")
}
