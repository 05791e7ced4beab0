package trigger

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"zerodha-copier/internal/config"
)

// Edge fires when an external flag is set, clearing it first.
type Edge struct {
	source      FlagSource
	poll        time.Duration
	unreachable time.Duration
	cooldown    time.Duration
	opts        options
	logger      zerolog.Logger

	lastLocation string
	lastFired    time.Time
}

// NewEdge creates an edge-triggered strategy over source.
func NewEdge(source FlagSource, cfg config.TriggerConfig, logger zerolog.Logger, opts ...Option) *Edge {
	e := &Edge{
		source:      source,
		poll:        cfg.PollInterval,
		unreachable: cfg.UnreachableInterval,
		cooldown:    cfg.Cooldown,
		opts:        buildOptions(opts),
		logger:      logger.With().Str("trigger", config.ModeEdge).Logger(),
	}
	if e.poll <= 0 {
		e.poll = time.Second
	}
	if e.unreachable <= 0 {
		e.unreachable = 10 * time.Second
	}
	return e
}

// Name returns the strategy name.
func (e *Edge) Name() string {
	return config.ModeEdge
}

// Run polls the flag source until ctx is cancelled.
func (e *Edge) Run(ctx context.Context, job Job) error {
	e.logger.Info().
		Str("source", e.source.String()).
		Dur("poll", e.poll).
		Dur("cooldown", e.cooldown).
		Msg("Listening for sync triggers")

	reachable := true
	for {
		if ctx.Err() != nil {
			e.logger.Info().Msg("Listener stopped")
			return nil
		}
		interval := e.poll
		flag, found, err := e.source.Find(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			if reachable {
				e.logger.Warn().Err(err).Dur("retry_in", e.unreachable).Msg("Trigger flag unreachable")
			}
			reachable = false
			interval = e.unreachable
			if e.opts.metrics != nil {
				e.opts.metrics.ObservePollError()
			}
		default:
			if !reachable {
				e.logger.Info().Msg("Trigger flag reachable again")
			}
			reachable = true
			if found && e.shouldFire(flag) {
				e.fire(ctx, flag, job)
			}
		}
		if e.opts.health != nil {
			e.opts.health.SetPoll(reachable)
		}

		select {
		case <-ctx.Done():
		case <-e.opts.clock.After(interval):
		}
	}
}

// shouldFire suppresses a flag still set at the location that last fired
// until the cooldown has elapsed.
func (e *Edge) shouldFire(flag Flag) bool {
	if flag.Location != e.lastLocation || e.lastFired.IsZero() {
		return true
	}
	return e.opts.clock.Now().Sub(e.lastFired) >= e.cooldown
}

func (e *Edge) fire(ctx context.Context, flag Flag, job Job) {
	log := e.logger.With().Str("location", flag.Location).Str("value", flag.Value).Logger()
	log.Info().Msg("Sync trigger detected")

	if err := e.source.Clear(ctx, flag); err != nil {
		log.Warn().Err(err).Msg("Failed to clear trigger flag")
	}
	e.lastLocation = flag.Location
	e.lastFired = e.opts.clock.Now()
	if e.opts.metrics != nil {
		e.opts.metrics.ObserveTrigger(config.ModeEdge)
	}

	runJob(ctx, log, job)
	log.Info().Msg("Resuming listener")
}
