package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/merchforge/lattice/internal/config"
)

// Scheduler owns the engine's two background cadences: the full rebuild
// cycle and the cheaper catalog active-set refresh. It is the only
// component that triggers rebuilds in production; the engine itself
// collapses any concurrent triggers.
type Scheduler struct {
	engine *Engine
	cfg    config.RebuildConfig
	logger *logrus.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func NewScheduler(engine *Engine, cfg config.RebuildConfig, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start launches the background workers and kicks off the initial
// rebuild so the engine starts serving as soon as the first generation
// is ready.
func (s *Scheduler) Start() {
	s.wg.Add(2)
	go s.rebuildWorker()
	go s.catalogWorker()
}

// Stop terminates the workers and waits for them to drain.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *Scheduler) rebuildWorker() {
	defer s.wg.Done()

	s.runRebuild()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runRebuild()
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) runRebuild() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval)
	defer cancel()

	err := s.engine.Rebuild(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrRebuildInProgress):
		s.logger.Debug("Rebuild tick skipped, previous rebuild still running")
	default:
		// Rebuild failures are retried on the next cycle; the previous
		// generation keeps serving. Persistent failure is surfaced as a
		// health signal, never as query errors.
		if failures := s.engine.ConsecutiveFailures(); failures >= s.cfg.FailureAlert {
			s.logger.WithField("consecutive_failures", failures).
				Warn("Rebuild failing persistently, serving from last good generation")
		}
	}
}

func (s *Scheduler) catalogWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CatalogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.engine.RefreshCatalog(ctx); err != nil {
				s.logger.WithError(err).Warn("Catalog refresh failed")
			}
			cancel()

			if gen := s.engine.Current(); gen != nil {
				s.engine.metrics.GenerationAge.Set(time.Since(gen.BuiltAt).Seconds())
			}
		case <-s.stopChan:
			return
		}
	}
}
