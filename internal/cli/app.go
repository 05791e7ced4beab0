package cli

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"zerodha-copier/internal/broker"
	"zerodha-copier/internal/config"
	"zerodha-copier/internal/logging"
	"zerodha-copier/internal/mirror"
	"zerodha-copier/internal/models"
	"zerodha-copier/internal/notify"
	"zerodha-copier/internal/registry"
	"zerodha-copier/internal/security"
	"zerodha-copier/internal/sheets"
	"zerodha-copier/internal/store"
	"zerodha-copier/internal/syncer"
)

// App holds the application dependencies. Everything past Config and
// Logger is built on first use so that cheap commands stay cheap.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	// connector replaces the Kite connector when set.
	connector broker.Connector
	notifier  notify.Notifier

	sheet   *sheets.Client
	journal *store.SQLiteJournal
	audit   *security.AuditLogger
}

// load reads the config directory and rebuilds the logger from it.
func (a *App) load(dir string) error {
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	a.Config = cfg
	a.Logger = logging.NewLoggerWithConfig(logging.LogConfig{
		Level:      cfg.Logging.Level,
		Console:    true,
		File:       cfg.Logging.File != "",
		FilePath:   cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	})
	return nil
}

func (a *App) notifications() notify.Notifier {
	if a.notifier == nil {
		a.notifier = notify.NewMultiNotifier(a.Config.Notifications)
	}
	return a.notifier
}

// Close releases the journal and the audit trail.
func (a *App) Close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close journal")
		}
		a.journal = nil
	}
	if a.audit != nil {
		_ = a.audit.Close()
		a.audit = nil
	}
}

func (a *App) layout() registry.Layout {
	return registry.Layout{
		HeaderRow:    a.Config.Registry.HeaderRow,
		DataStartRow: a.Config.Registry.DataStartRow,
	}
}

func (a *App) sheetClient(ctx context.Context) (*sheets.Client, error) {
	if a.sheet != nil {
		return a.sheet, nil
	}
	c, err := sheets.New(ctx, sheets.Config{
		SpreadsheetID:   a.Config.Registry.SpreadsheetID,
		GID:             a.Config.Registry.GID,
		SheetName:       a.Config.Registry.SheetName,
		CredentialsFile: a.Config.Registry.CredentialsFile,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	a.sheet = c
	return c, nil
}

func (a *App) registrySource(ctx context.Context) (registry.Source, error) {
	switch a.Config.Registry.Source {
	case config.SourceSheets:
		c, err := a.sheetClient(ctx)
		if err != nil {
			return nil, err
		}
		return registry.NewGridSource(c, a.layout(), a.Logger), nil
	case config.SourceCSV:
		return registry.NewCSVSource(a.Config.Registry.CSVPath, a.layout(), a.Logger), nil
	default:
		return registry.NewFileSource(a.Config.Registry.AccountsFile), nil
	}
}

// loadAccounts reads the registry and resolves the base account.
func (a *App) loadAccounts(ctx context.Context) (*registry.Accounts, error) {
	src, err := a.registrySource(ctx)
	if err != nil {
		return nil, err
	}
	return registry.Load(ctx, src, a.Logger)
}

func (a *App) zerodha() *broker.ZerodhaConnector {
	creds := make([]broker.AutoLoginCredentials, 0, len(a.Config.Credentials.AutoLogin))
	for _, c := range a.Config.Credentials.AutoLogin {
		creds = append(creds, broker.AutoLoginCredentials{
			AccountID:  c.AccountID,
			Password:   c.Password,
			TOTPSecret: c.TOTPSecret,
		})
	}
	return broker.NewZerodhaConnector(
		broker.NewTokenStore(a.Config.Session.TokenDir),
		broker.NewAutoLogin(a.Config.Session.KiteWebURL),
		creds, a.Logger)
}

func (a *App) auditLogger() (*security.AuditLogger, error) {
	if !a.Config.Audit.Enabled {
		return nil, nil
	}
	if a.audit != nil {
		return a.audit, nil
	}
	cfg := security.DefaultAuditConfig()
	cfg.LogDir = a.Config.Audit.Dir
	al, err := security.NewAuditLogger(cfg)
	if err != nil {
		return nil, err
	}
	a.audit = al
	return al, nil
}

// guardedConnector wraps the broker connector with the read-only guard and
// the audit trail. The config's read_only setting always wins.
func (a *App) guardedConnector(readOnly bool) (broker.Connector, error) {
	next := a.connector
	if next == nil {
		next = a.zerodha()
	}
	audit, err := a.auditLogger()
	if err != nil {
		return nil, err
	}
	access := security.NewAccessController(readOnly || a.Config.Sync.ReadOnly, audit)
	return broker.NewGuardedConnector(next, access, audit, a.Logger), nil
}

// openJournal returns nil when the journal is disabled.
func (a *App) openJournal() (*store.SQLiteJournal, error) {
	if !a.Config.Journal.Enabled {
		return nil, nil
	}
	if a.journal != nil {
		return a.journal, nil
	}
	j, err := store.NewSQLiteJournal(a.Config.Journal.Path)
	if err != nil {
		return nil, err
	}
	a.journal = j
	return j, nil
}

func (a *App) newOrchestrator(conn broker.Connector, dryRun bool, opts ...syncer.Option) (*syncer.Orchestrator, error) {
	p, warnings, err := a.Config.BuildPolicy()
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		a.Logger.Warn().Msg(w)
	}

	executor := mirror.NewExecutor(p, mirror.ExecutorConfig{
		Product:  models.ProductType(strings.ToUpper(a.Config.Sync.Product)),
		Validity: a.Config.Sync.Validity,
	}, a.Logger)

	journal, err := a.openJournal()
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Journal unavailable, runs will not be recorded")
	}
	base := []syncer.Option{syncer.WithNotifier(a.notifications())}
	if journal != nil {
		base = append(base, syncer.WithJournal(journal))
	}

	return syncer.New(conn, mirror.NewEngine(p), executor, syncer.Config{
		Exchanges:       a.Config.Exchanges(),
		Parallelism:     a.Config.Sync.Parallelism,
		TagPrefixClose:  a.Config.Sync.TagPrefixClose,
		TagPrefixMirror: a.Config.Sync.TagPrefixMirror,
		Snapshot:        a.Config.Sync.Snapshot,
		DryRun:          dryRun,
	}, a.Logger, append(base, opts...)...), nil
}
