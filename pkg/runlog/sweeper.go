package runlog

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSweepSchedule runs the sweep nightly at 03:00.
const DefaultSweepSchedule = "0 3 * * *"

// SweeperConfig holds retention sweeper configuration.
type SweeperConfig struct {
	// Schedule is a standard 5-field cron expression.
	Schedule string
	// Retention is how long events are kept. Non-positive means 7 days.
	Retention time.Duration
	Logger    zerolog.Logger
}

// Sweeper prunes the run log on a cron schedule.
type Sweeper struct {
	store     *Store
	c         *cron.Cron
	retention time.Duration
	logger    zerolog.Logger
}

// NewSweeper creates a sweeper for the store. The schedule is
// validated up front.
func NewSweeper(store *Store, cfg SweeperConfig) (*Sweeper, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	s := &Sweeper{
		store:     store,
		c:         cron.New(),
		retention: retention,
		logger:    cfg.Logger,
	}

	if _, err := s.c.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return s, nil
}

// Start begins scheduled sweeping.
func (s *Sweeper) Start() {
	s.c.Start()
	s.logger.Info().Dur("retention", s.retention).Msg("Run log sweeper started")
}

// Stop halts scheduled sweeping and waits for a running sweep.
func (s *Sweeper) Stop() {
	ctx := s.c.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Run log sweeper stopped")
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.store.Prune(ctx, s.retention); err != nil {
		s.logger.Error().Err(err).Msg("Run log sweep failed")
	}
}
