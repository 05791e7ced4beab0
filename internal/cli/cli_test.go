package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"zerodha-copier/internal/broker"
	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/models"
	"zerodha-copier/internal/notify"
	"zerodha-copier/internal/registry"
	"zerodha-copier/internal/store"
)

const testConfig = `
[registry]
source = "file"
accounts_file = "accounts_config.json"

[trigger]
mode = "auto"
flag = "file"

[logging]
level = "error"
file = ""
`

var nifty = models.NewPositionKey(models.NFO, "NIFTY24DECFUT")

func writeConfig(t *testing.T, accounts ...models.Account) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(testConfig), 0644); err != nil {
		t.Fatal(err)
	}
	if err := registry.SaveFile(filepath.Join(dir, "accounts_config.json"), accounts); err != nil {
		t.Fatal(err)
	}
	return dir
}

func account(id string, base, copyEnabled bool) models.Account {
	return models.Account{
		ID:          id,
		DisplayName: "Holder " + id,
		APIKey:      "apikey-" + id + "-0123456789",
		APISecret:   "secret-" + id,
		IsBase:      base,
		CopyEnabled: copyEnabled,
	}
}

// paper: base short 10 lots NIFTY on ₹10L, target short 2 lots on ₹5L.
func paper() (*broker.PaperConnector, *broker.PaperGateway) {
	base := broker.NewPaperGateway(broker.NewPaperMargin(800_000, 200_000),
		models.Position{Symbol: nifty.Symbol, Exchange: nifty.Exchange, Quantity: -650, AveragePrice: 24100, LastPrice: 24000})
	target := broker.NewPaperGateway(broker.NewPaperMargin(400_000, 100_000),
		models.Position{Symbol: nifty.Symbol, Exchange: nifty.Exchange, Quantity: -130, AveragePrice: 24100, LastPrice: 24000})
	target.SetIDPrefix("CD")

	c := broker.NewPaperConnector()
	c.Add("AB1234", base)
	c.Add("CD5678", target)
	return c, target
}

func execute(t *testing.T, conn broker.Connector, dir string, args ...string) (string, error) {
	t.Helper()
	app := &App{Logger: zerolog.Nop(), connector: conn}
	cmd := newRootCmd(app)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(append(args, "--config", dir))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeReport(t *testing.T, out string) models.SyncReport {
	t.Helper()
	var report models.SyncReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	return report
}

func TestVersionSkipsConfig(t *testing.T) {
	out, err := execute(t, nil, filepath.Join(t.TempDir(), "missing"), "version", "--json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatal(err)
	}
	if v["version"] != Version {
		t.Errorf("version = %q, want %q", v["version"], Version)
	}
}

func TestMissingConfigIsFatal(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, nil, dir, "accounts")
	if err == nil {
		t.Fatal("expected error for missing config")
	}
	if code := ExitCode(err); code != ExitFatal {
		t.Errorf("exit code = %d, want %d", code, ExitFatal)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Errorf("template not written: %v", err)
	}
}

func TestSyncCommand(t *testing.T) {
	dir := writeConfig(t, account("AB1234", true, false), account("CD5678", false, true))
	conn, target := paper()

	out, err := execute(t, conn, dir, "sync", "--json")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	report := decodeReport(t, out)
	if report.BaseID != "AB1234" || len(report.Targets) != 1 {
		t.Fatalf("report = %+v", report)
	}
	if got := report.Targets[0].Status; got != models.TargetSynced {
		t.Errorf("target status = %s, want synced", got)
	}
	if got := target.NetQuantity(nifty); got != -325 {
		t.Errorf("target NIFTY = %d, want -325", got)
	}

	out, err = execute(t, conn, dir, "runs", "--json")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	var runs []store.RunSummary
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].RunID != report.RunID || runs[0].Status != "ok" || runs[0].Orders != 1 {
		t.Errorf("runs = %+v", runs)
	}

	// Second pass is a no-op.
	out, err = execute(t, conn, dir, "sync", "--json")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	second := decodeReport(t, out)
	if n := second.OrdersPlaced(); n != 0 {
		t.Errorf("second pass placed %d orders", n)
	}
}

func TestSyncDryRunPlacesNothing(t *testing.T) {
	dir := writeConfig(t, account("AB1234", true, false), account("CD5678", false, true))
	conn, target := paper()

	out, err := execute(t, conn, dir, "sync", "--dry-run", "--json")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	report := decodeReport(t, out)
	if !report.DryRun {
		t.Error("report not marked dry run")
	}
	trades := report.Targets[0].Trades
	if len(trades) != 1 || trades[0].Status != models.TradeSimulated || trades[0].Quantity != 195 {
		t.Errorf("trades = %+v", trades)
	}
	if n := len(target.Orders()); n != 0 {
		t.Errorf("dry run placed %d orders", n)
	}
}

func TestSyncExitCodes(t *testing.T) {
	t.Run("target failure", func(t *testing.T) {
		dir := writeConfig(t, account("AB1234", true, false), account("CD5678", false, true), account("GH3456", false, true))
		conn, _ := paper()
		conn.Fail("GH3456", errors.ErrAuthentication)

		_, err := execute(t, conn, dir, "sync", "--json")
		if code := ExitCode(err); code != ExitFailures {
			t.Errorf("exit code = %d (%v), want %d", code, err, ExitFailures)
		}
	})

	t.Run("base unresolvable", func(t *testing.T) {
		dir := writeConfig(t, account("AB1234", true, false), account("CD5678", false, true))
		conn, _ := paper()
		conn.Fail("AB1234", errors.ErrAuthentication)

		out, err := execute(t, conn, dir, "sync")
		if code := ExitCode(err); code != ExitFatal {
			t.Errorf("exit code = %d (%v), want %d", code, err, ExitFatal)
		}
		if !strings.Contains(out, "FATAL") {
			t.Errorf("output does not report the fatal run:\n%s", out)
		}
	})

	t.Run("two bases", func(t *testing.T) {
		dir := writeConfig(t, account("AB1234", true, false), account("CD5678", true, false))
		conn, _ := paper()

		_, err := execute(t, conn, dir, "sync")
		if code := ExitCode(err); code != ExitFatal {
			t.Errorf("exit code = %d (%v), want %d", code, err, ExitFatal)
		}
	})
}

func TestOrderStatus(t *testing.T) {
	dir := writeConfig(t, account("AB1234", true, false), account("CD5678", false, true))
	conn, _ := paper()

	out, err := execute(t, conn, dir, "sync", "--json")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	ids := decodeReport(t, out).Targets[0].Trades[0].OrderIDs
	if len(ids) != 1 {
		t.Fatalf("order ids = %v", ids)
	}

	out, err = execute(t, conn, dir, "order-status", ids[0], "--json")
	if err != nil {
		t.Fatalf("order-status: %v", err)
	}
	var got orderLookup
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if got.AccountID != "CD5678" || got.Interpretation != "Order executed successfully" {
		t.Errorf("lookup = %+v", got)
	}
	if got.Trade == nil || got.Trade.Kind != models.TradeMirror {
		t.Errorf("journal trade = %+v", got.Trade)
	}

	_, err = execute(t, conn, dir, "order-status", "NOPE")
	if !errors.Is(err, errors.ErrOrderNotFound) {
		t.Errorf("unknown order error = %v", err)
	}
}

func TestAccountsMasksSecrets(t *testing.T) {
	dir := writeConfig(t, account("AB1234", true, false), account("CD5678", false, true), account("EF9012", false, false))

	out, err := execute(t, nil, dir, "accounts", "--csv")
	if err != nil {
		t.Fatalf("accounts --csv: %v", err)
	}
	if !strings.Contains(out, "CD5678") || strings.Contains(out, "apikey-CD5678-0123456789") {
		t.Errorf("csv not masked:\n%s", out)
	}

	out, err = execute(t, nil, dir, "accounts")
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if !strings.Contains(out, "3 account(s), 1 copying") {
		t.Errorf("summary missing:\n%s", out)
	}

	saved := filepath.Join(t.TempDir(), "snapshot.json")
	if _, err := execute(t, nil, dir, "accounts", "--save", saved); err != nil {
		t.Fatalf("accounts --save: %v", err)
	}
	list, err := registry.NewFileSource(saved).Load(context.Background())
	if err != nil || len(list) != 3 || !list[0].IsBase {
		t.Errorf("saved snapshot = %+v, %v", list, err)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{fmt.Errorf("boom"), ExitFatal},
		{&ExitError{Code: ExitFailures}, ExitFailures},
		{fmt.Errorf("wrapped: %w", &ExitError{Code: ExitFailures, Err: fmt.Errorf("x")}), ExitFailures},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestPadding(t *testing.T) {
	if got := PadLeft("₹1,000.00", 10); got != " ₹1,000.00" {
		t.Errorf("PadLeft = %q", got)
	}
	if got := PadRight("BASE", 6); got != "BASE  " {
		t.Errorf("PadRight = %q", got)
	}
	if got := TruncateString("BANKNIFTY24DECFUT", 10); got != "BANKNIF..." {
		t.Errorf("TruncateString = %q", got)
	}
}

func TestPositionsCommand(t *testing.T) {
	dir := writeConfig(t, account("AB1234", true, false), account("CD5678", false, true))
	conn, target := paper()

	out, err := execute(t, conn, dir, "positions", "--json")
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	var rows []accountPositions
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}
	for _, r := range rows {
		if r.Error != "" || len(r.Positions) != 1 {
			t.Errorf("%s: %+v", r.AccountID, r)
		}
	}
	if rows[1].AccountID != "CD5678" || rows[1].Margin != 500_000 || rows[1].Positions[0].Quantity != -130 {
		t.Errorf("target row = %+v", rows[1])
	}
	if n := len(target.Orders()); n != 0 {
		t.Errorf("positions placed %d orders", n)
	}
}

type recordingNotifier struct {
	summaries []*models.SyncReport
	errs      []string
}

func (r *recordingNotifier) Send(ctx context.Context, n notify.Notification) error { return nil }

func (r *recordingNotifier) SendSyncSummary(ctx context.Context, report *models.SyncReport) error {
	r.summaries = append(r.summaries, report)
	return nil
}

func (r *recordingNotifier) SendError(ctx context.Context, err error, errContext string) error {
	r.errs = append(r.errs, errContext+": "+err.Error())
	return nil
}

func TestSyncJobNotifiesRegistryFailure(t *testing.T) {
	dir := writeConfig(t, account("AB1234", true, false), account("CD5678", false, true))
	conn, target := paper()
	rec := &recordingNotifier{}
	app := &App{Logger: zerolog.Nop(), connector: conn, notifier: rec}
	if err := app.load(dir); err != nil {
		t.Fatal(err)
	}
	app.Logger = zerolog.Nop()
	defer app.Close()

	orch, err := app.newOrchestrator(conn, false)
	if err != nil {
		t.Fatal(err)
	}
	job := app.syncJob(orch, &Output{writer: &bytes.Buffer{}})

	if err := job(context.Background()); err != nil {
		t.Fatalf("job: %v", err)
	}
	if len(rec.summaries) != 1 || len(rec.errs) != 0 {
		t.Errorf("summaries = %d, errors = %v", len(rec.summaries), rec.errs)
	}
	if got := target.NetQuantity(nifty); got != -325 {
		t.Errorf("target NIFTY = %d, want -325", got)
	}

	if err := os.Remove(filepath.Join(dir, "accounts_config.json")); err != nil {
		t.Fatal(err)
	}
	if err := job(context.Background()); err == nil {
		t.Fatal("expected registry load error")
	}
	if len(rec.errs) != 1 || !strings.HasPrefix(rec.errs[0], "registry load: ") {
		t.Errorf("errors = %v", rec.errs)
	}
	if len(rec.summaries) != 1 {
		t.Errorf("no summary expected for a cycle without a registry, got %d", len(rec.summaries))
	}
}
