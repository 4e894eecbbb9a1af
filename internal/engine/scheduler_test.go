package engine

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchforge/lattice/internal/config"
)

func TestScheduler_InitialRebuild(t *testing.T) {
	f := newTestFixture(t)

	cfg := config.RebuildConfig{
		Interval:        time.Hour,
		CatalogInterval: time.Hour,
		FailureAlert:    3,
	}
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	s := NewScheduler(f.engine, cfg, logger)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return f.engine.Current() != nil
	}, 2*time.Second, 10*time.Millisecond, "the scheduler rebuilds immediately on start")

	assert.Equal(t, uint64(1), f.engine.Current().Seq)
}

func TestScheduler_PeriodicRebuild(t *testing.T) {
	f := newTestFixture(t)

	cfg := config.RebuildConfig{
		Interval:        20 * time.Millisecond,
		CatalogInterval: time.Hour,
		FailureAlert:    3,
	}
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	s := NewScheduler(f.engine, cfg, logger)
	s.Start()

	require.Eventually(t, func() bool {
		gen := f.engine.Current()
		return gen != nil && gen.Seq >= 3
	}, 2*time.Second, 10*time.Millisecond, "rebuilds keep firing on the interval")

	s.Stop()

	// After Stop no further generations appear.
	seq := f.engine.Current().Seq
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, seq, f.engine.Current().Seq)
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	f := newTestFixture(t)

	cfg := config.RebuildConfig{
		Interval:        time.Hour,
		CatalogInterval: time.Hour,
		FailureAlert:    3,
	}
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	s := NewScheduler(f.engine, cfg, logger)
	s.Start()
	s.Stop()
	s.Stop()
}
