// Package trigger decides when the listener starts a sync cycle.
package trigger

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"zerodha-copier/internal/config"
	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/metrics"
)

// Job is one sync cycle.
type Job func(ctx context.Context) error

// Strategy runs jobs until ctx is cancelled. A running job always
// completes; cancellation is only observed between jobs.
type Strategy interface {
	Name() string
	Run(ctx context.Context, job Job) error
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// options shared by both strategies.
type options struct {
	clock   Clock
	metrics *metrics.Metrics
	health  *metrics.HealthStatus
}

// Option configures a strategy.
type Option func(*options)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithMetrics counts triggers and poll errors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithHealth reports flag reachability.
func WithHealth(h *metrics.HealthStatus) Option {
	return func(o *options) { o.health = h }
}

func buildOptions(opts []Option) options {
	o := options{clock: realClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New picks the strategy for cfg.Mode. The edge strategy needs a flag
// source; the scheduled one ignores it.
func New(cfg config.TriggerConfig, source FlagSource, logger zerolog.Logger, opts ...Option) (Strategy, error) {
	switch strings.ToLower(cfg.Mode) {
	case config.ModeEdge:
		if source == nil {
			return nil, errors.NewValidationError("trigger.flag", cfg.Flag, "edge mode needs a flag source")
		}
		return NewEdge(source, cfg, logger, opts...), nil
	case config.ModeAuto:
		return NewScheduled(logger, opts...), nil
	default:
		return nil, errors.NewValidationError("trigger.mode", cfg.Mode, "must be edge or auto")
	}
}

// ParseMode interprets the copy mode cell of the registry. Unknown values
// report false.
func ParseMode(value string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "AUTO", "SCHEDULED", "AUTOMATIC":
		return config.ModeAuto, true
	case "EDGE", "MANUAL", "TRIGGER":
		return config.ModeEdge, true
	default:
		return "", false
	}
}

// runJob runs job detached from cancellation so a shutdown signal never
// interrupts a cycle half way.
func runJob(ctx context.Context, log zerolog.Logger, job Job) {
	if err := job(context.WithoutCancel(ctx)); err != nil {
		log.Error().Err(err).Msg("Sync cycle failed")
	}
}
