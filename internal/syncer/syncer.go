// Package syncer runs one sync cycle: resolve the base account, then close
// strays and mirror base positions in every copy-enabled target.
package syncer

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"zerodha-copier/internal/broker"
	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/logging"
	"zerodha-copier/internal/metrics"
	"zerodha-copier/internal/mirror"
	"zerodha-copier/internal/models"
	"zerodha-copier/internal/notify"
	"zerodha-copier/internal/registry"
	"zerodha-copier/internal/security"
	"zerodha-copier/internal/store"
	"zerodha-copier/pkg/utils"
)

// Config holds per-cycle settings.
type Config struct {
	Exchanges       []models.Exchange
	Parallelism     int
	TagPrefixClose  string
	TagPrefixMirror string
	// Snapshot fetches every account's positions after the pass.
	Snapshot bool
	// DryRun is recorded on the report; the read-only guard on the
	// connector is what keeps orders from going out.
	DryRun bool
}

// Orchestrator sequences a sync cycle.
type Orchestrator struct {
	connector broker.Connector
	engine    *mirror.Engine
	executor  *mirror.Executor
	cfg       Config

	journal  store.Journal
	metrics  *metrics.Metrics
	health   *metrics.HealthStatus
	notifier notify.Notifier

	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithJournal records every report in j.
func WithJournal(j store.Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithMetrics counts every report in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithHealth updates h after every cycle.
func WithHealth(h *metrics.HealthStatus) Option {
	return func(o *Orchestrator) { o.health = h }
}

// WithNotifier sends every report through n.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// New creates an orchestrator.
func New(connector broker.Connector, engine *mirror.Engine, executor *mirror.Executor, cfg Config, logger zerolog.Logger, opts ...Option) *Orchestrator {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.TagPrefixClose == "" {
		cfg.TagPrefixClose = "close"
	}
	if cfg.TagPrefixMirror == "" {
		cfg.TagPrefixMirror = "mimic"
	}
	if len(cfg.Exchanges) == 0 {
		cfg.Exchanges = engine.Policy().Exchanges()
	}
	o := &Orchestrator{
		connector: connector,
		engine:    engine,
		executor:  executor,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// baseState is what every target pass reads from the base account.
type baseState struct {
	positions []models.Position
	margin    models.Margin
	marginOK  bool
}

// Run executes one cycle. The returned error is non-nil only when the base
// account could not be resolved; per-target failures live in the report.
func (o *Orchestrator) Run(ctx context.Context, accounts *registry.Accounts) (*models.SyncReport, error) {
	runID := o.newID()
	ctx = security.WithRunID(ctx, runID)
	log := logging.WithRunID(o.logger, runID)

	base := accounts.Base()
	report := &models.SyncReport{
		RunID:     runID,
		StartedAt: o.now(),
		DryRun:    o.cfg.DryRun,
		BaseID:    base.ID,
		BaseName:  base.Label(),
	}
	log.Info().
		Str("base", base.ID).
		Int("targets", len(accounts.Targets())).
		Bool("dry_run", o.cfg.DryRun).
		Msg("Sync cycle started")

	sessions := newSessionCache(o.connector)

	state, err := o.resolveBase(ctx, log, sessions, base)
	if err != nil {
		report.Fatal = err.Error()
		log.Error().Err(err).Msg("Base account unresolvable, cycle aborted")
		o.finish(ctx, log, report)
		return report, err
	}
	report.BasePositions = state.positions
	if state.marginOK {
		report.BaseMargin = state.margin.Total()
	}

	targets := accounts.Targets()
	report.Targets = make([]models.TargetReport, len(targets))
	if o.cfg.Parallelism > 1 && len(targets) > 1 {
		p := pool.New().WithMaxGoroutines(o.cfg.Parallelism)
		for i, acct := range targets {
			i, acct := i, acct
			p.Go(func() {
				report.Targets[i] = o.syncTarget(ctx, log, sessions, acct, state)
			})
		}
		p.Wait()
	} else {
		for i, acct := range targets {
			report.Targets[i] = o.syncTarget(ctx, log, sessions, acct, state)
		}
	}

	if o.cfg.Snapshot {
		report.Snapshots = o.snapshot(ctx, log, sessions, accounts)
	}

	o.finish(ctx, log, report)
	return report, nil
}

func (o *Orchestrator) resolveBase(ctx context.Context, log zerolog.Logger, sessions *sessionCache, base models.Account) (baseState, error) {
	var state baseState
	if base.ConfigErr != "" {
		return state, errors.NewAccountError(base.ID, "resolve base",
			fmt.Errorf("%w: %s", errors.ErrBaseUnresolvable, base.ConfigErr))
	}

	gw, err := sessions.get(ctx, base)
	if err != nil {
		return state, fmt.Errorf("%w: %w", errors.ErrBaseUnresolvable, err)
	}

	start := time.Now()
	book, err := gw.Positions(ctx)
	logging.LogAPICall(log, "base.positions", time.Since(start), err)
	if err != nil {
		return state, errors.NewAccountError(base.ID, "positions", fmt.Errorf("%w: %w", errors.ErrBaseUnresolvable, err))
	}
	state.positions = book.Open(o.cfg.Exchanges...)

	margin, err := gw.Margins(ctx)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("Base margin unavailable, only stray positions will be closed")
	case !margin.Usable():
		log.Warn().Str("total", margin.Total().String()).Msg("Base margin is not positive, only stray positions will be closed")
	default:
		state.margin = margin
		state.marginOK = true
	}

	log.Info().
		Str("account", base.ID).
		Int("positions", len(state.positions)).
		Str("margin", utils.FormatCrores(margin.Total().InexactFloat64())).
		Msg("Base account resolved")
	return state, nil
}

// syncTarget runs close-before-mirror for one target. It never panics.
func (o *Orchestrator) syncTarget(ctx context.Context, runLog zerolog.Logger, sessions *sessionCache, acct models.Account, base baseState) (tr models.TargetReport) {
	tr = models.TargetReport{AccountID: acct.ID, DisplayName: acct.DisplayName}
	log := logging.WithAccount(runLog, acct.ID)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Target pass panicked")
			tr.Status = models.TargetFailed
			tr.Errors = append(tr.Errors, fmt.Sprintf("panic: %v", r))
		}
	}()

	switch {
	case !acct.CopyEnabled:
		return skip(log, tr, "copy disabled")
	case acct.ConfigErr != "":
		return skip(log, tr, "config error: "+acct.ConfigErr)
	}

	gw, err := sessions.get(ctx, acct)
	if err != nil {
		log.Error().Err(err).Msg("Session unavailable, target skipped")
		tr.Status = models.TargetFailed
		tr.SkipReason = "session unavailable"
		tr.Errors = append(tr.Errors, err.Error())
		return tr
	}

	margin, err := gw.Margins(ctx)
	if err == nil && !margin.Usable() {
		err = errors.Wrapf(errors.ErrMarginUnavailable, "total margin %s", margin.Total().String())
	}
	if err != nil {
		log.Error().Err(err).Msg("Target margin unavailable, target skipped")
		tr.Status = models.TargetFailed
		tr.SkipReason = "target margin unavailable"
		tr.Errors = append(tr.Errors, errors.NewAccountError(acct.ID, "margins", err).Error())
		return tr
	}
	tr.Margin = margin.Total()
	if base.marginOK {
		tr.Ratio, _ = mirror.Ratio(base.margin, margin)
	}

	book, err := gw.Positions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch target positions")
		tr.Status = models.TargetFailed
		tr.Errors = append(tr.Errors, errors.NewAccountError(acct.ID, "positions", err).Error())
		return tr
	}

	// Close pass.
	placed := false
	for _, p := range mirror.StrayPositions(base.positions, book.Open(o.cfg.Exchanges...)) {
		res := o.executor.Execute(ctx, gw, acct.ID, models.TradeClose, o.cfg.TagPrefixClose, o.engine.ClosePlan(p))
		tr.Trades = append(tr.Trades, res)
		placed = placed || len(res.OrderIDs) > 0
	}

	// Mirror pass.
	if !base.marginOK {
		tr.SkipReason = "base margin unavailable, mirroring skipped"
	} else {
		if placed {
			if book, err = gw.Positions(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to refresh positions after closing strays")
				tr.Errors = append(tr.Errors, errors.NewAccountError(acct.ID, "positions", err).Error())
				tr.Status = targetStatus(tr, true)
				return tr
			}
		}
		log.Info().Str("ratio", utils.FormatRatio(tr.Ratio.InexactFloat64())).Msg("Mirroring base positions")
		for _, bp := range base.positions {
			current := book.NetQuantity(bp.Key())
			plan, err := o.engine.Plan(bp, current, base.margin, margin)
			if err != nil {
				tr.Trades = append(tr.Trades, planFailure(bp, current, err))
				log.Error().Err(err).Str("symbol", bp.Symbol).Msg("Failed to plan trade")
				continue
			}
			tr.Trades = append(tr.Trades, o.executor.Execute(ctx, gw, acct.ID, models.TradeMirror, o.cfg.TagPrefixMirror, plan))
		}
	}

	if tr.SkipReason != "" {
		log.Warn().Str("reason", tr.SkipReason).Msg("Mirroring skipped")
	}
	tr.Status = targetStatus(tr, len(tr.Errors) > 0)
	log.Info().Str("status", string(tr.Status)).Int("trades", len(tr.Trades)).Int("failures", tr.Failures()).Msg("Target pass finished")
	return tr
}

func skip(log zerolog.Logger, tr models.TargetReport, reason string) models.TargetReport {
	log.Info().Str("reason", reason).Msg("Target skipped")
	tr.Status = models.TargetSkipped
	tr.SkipReason = reason
	return tr
}

func planFailure(bp models.Position, current int, err error) models.TradeResult {
	return models.TradeResult{
		Kind:      models.TradeMirror,
		Symbol:    bp.Symbol,
		Exchange:  bp.Exchange,
		Current:   current,
		Status:    models.TradeFailed,
		Reason:    err.Error(),
		ErrorKind: errors.Kind(err),
		Err:       err,
	}
}

// targetStatus derives the outcome of a finished target pass. A pass with
// errors is partial when at least one trade went through and failed
// otherwise.
func targetStatus(tr models.TargetReport, hadErrors bool) models.TargetStatus {
	failures := tr.Failures()
	if failures == 0 && !hadErrors {
		if tr.SkipReason != "" && len(tr.Trades) == 0 {
			return models.TargetSkipped
		}
		return models.TargetSynced
	}
	if len(tr.Trades) > failures {
		return models.TargetPartial
	}
	return models.TargetFailed
}

func (o *Orchestrator) snapshot(ctx context.Context, log zerolog.Logger, sessions *sessionCache, accounts *registry.Accounts) map[string][]models.Position {
	out := make(map[string][]models.Position)
	for _, acct := range accounts.All() {
		if acct.ConfigErr != "" {
			continue
		}
		gw, err := sessions.get(ctx, acct)
		if err != nil {
			continue
		}
		book, err := gw.Positions(ctx)
		if err != nil {
			log.Warn().Err(err).Str("account", acct.ID).Msg("Snapshot positions unavailable")
			continue
		}
		out[acct.ID] = book.Open(o.cfg.Exchanges...)
	}
	return out
}

// finish stamps the report and hands it to the optional sinks. Sink errors
// are logged and never change the cycle outcome.
func (o *Orchestrator) finish(ctx context.Context, log zerolog.Logger, report *models.SyncReport) {
	report.FinishedAt = o.now()

	if o.journal != nil {
		if err := o.journal.SaveReport(ctx, report); err != nil {
			log.Warn().Err(err).Msg("Failed to journal sync report")
		}
	}
	if o.metrics != nil {
		o.metrics.Observe(report)
	}
	if o.health != nil {
		o.health.SetRun(report)
	}
	if o.notifier != nil {
		if err := o.notifier.SendSyncSummary(ctx, report); err != nil {
			log.Warn().Err(err).Msg("Failed to send sync notification")
		}
	}

	log.Info().
		Str("status", report.Status()).
		Int("orders", report.OrdersPlaced()).
		Dur("duration", report.Duration()).
		Msg("Sync cycle finished")
}

// sessionCache opens each account's gateway at most once per cycle. A
// failed connect is remembered so it is not retried within the cycle.
type sessionCache struct {
	connector broker.Connector
	mu        sync.Mutex
	gateways  map[string]broker.Gateway
	errs      map[string]error
}

func newSessionCache(c broker.Connector) *sessionCache {
	return &sessionCache{
		connector: c,
		gateways:  make(map[string]broker.Gateway),
		errs:      make(map[string]error),
	}
}

func (s *sessionCache) get(ctx context.Context, acct models.Account) (broker.Gateway, error) {
	s.mu.Lock()
	if gw, ok := s.gateways[acct.ID]; ok {
		s.mu.Unlock()
		return gw, nil
	}
	if err, ok := s.errs[acct.ID]; ok {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	gw, err := s.connector.Connect(ctx, acct)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errs[acct.ID] = err
		return nil, err
	}
	s.gateways[acct.ID] = gw
	return gw, nil
}
