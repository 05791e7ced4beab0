package trigger

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"zerodha-copier/internal/config"
)

// schedulePoll is how often the scheduled strategy looks at the clock.
const schedulePoll = 200 * time.Millisecond

// Scheduled fires once at start and then at the top of every minute.
type Scheduled struct {
	opts   options
	logger zerolog.Logger

	lastMinute time.Time
}

// NewScheduled creates the scheduled strategy.
func NewScheduled(logger zerolog.Logger, opts ...Option) *Scheduled {
	return &Scheduled{
		opts:   buildOptions(opts),
		logger: logger.With().Str("trigger", config.ModeAuto).Logger(),
	}
}

// Name returns the strategy name.
func (s *Scheduled) Name() string {
	return config.ModeAuto
}

// Run fires immediately, then once per minute boundary until ctx is
// cancelled.
func (s *Scheduled) Run(ctx context.Context, job Job) error {
	s.logger.Info().Msg("Scheduled sync every minute")
	s.fire(ctx, s.opts.clock.Now(), job)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler stopped")
			return nil
		case <-s.opts.clock.After(schedulePoll):
		}

		now := s.opts.clock.Now()
		if now.Second() == 0 && !now.Truncate(time.Minute).Equal(s.lastMinute) {
			s.fire(ctx, now, job)
		}
	}
}

func (s *Scheduled) fire(ctx context.Context, now time.Time, job Job) {
	s.lastMinute = now.Truncate(time.Minute)
	if s.opts.metrics != nil {
		s.opts.metrics.ObserveTrigger(config.ModeAuto)
	}
	log := s.logger.With().Time("minute", s.lastMinute).Logger()
	log.Info().Msg("Scheduled sync")
	runJob(ctx, log, job)
}
