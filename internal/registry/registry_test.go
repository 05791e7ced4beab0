package registry

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/models"
)

type staticRows [][]string

func (s staticRows) Rows(ctx context.Context) ([][]string, error) { return s, nil }

func sheetRows(data ...[]string) [][]string {
	rows := make([][]string, 6)
	rows[0] = []string{"Copy trading desk"}
	rows = append(rows, []string{"Account Holder Name", "Account KITE-ID", "API_Key", "API_Secret", "Request URL by Zerodha", "Copy Trades", "Sync Trigger"})
	return append(rows, data...)
}

func TestParseGrid(t *testing.T) {
	rows := sheetRows(
		[]string{"Asha", "AB1234", "key1", "secret1", "", "BASE"},
		[]string{"", "", "", "", "", ""},
		[]string{"Ravi", "CD5678", "key2", "secret2", "https://x/?request_token=abc", "yes"},
		[]string{"Meera", "EF9012", "key3", "", "", "YES"},
		[]string{"Kiran", "GH3456", "key4", "secret4"},
	)
	accounts, err := ParseGrid(rows, DefaultLayout(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 4 {
		t.Fatalf("expected 4 accounts, got %d", len(accounts))
	}

	if !accounts[0].IsBase || accounts[0].CopyEnabled || accounts[0].Row != 8 {
		t.Errorf("first account must be base at row 8: %+v", accounts[0])
	}
	if !accounts[1].CopyEnabled || accounts[1].RequestURL == "" || accounts[1].Row != 10 {
		t.Errorf("second account must copy: %+v", accounts[1])
	}
	if accounts[2].ConfigErr != "missing api secret" {
		t.Errorf("missing secret must be flagged, got %q", accounts[2].ConfigErr)
	}
	if accounts[3].CopyEnabled || accounts[3].IsBase {
		t.Errorf("short row defaults to no copy: %+v", accounts[3])
	}
}

func TestParseGridMissingColumns(t *testing.T) {
	rows := make([][]string, 6)
	rows = append(rows, []string{"Account Holder Name", "Account KITE-ID", "API_Key"})
	_, err := ParseGrid(rows, DefaultLayout(), zerolog.Nop())
	if !errors.Is(err, errors.ErrConfiguration) || !strings.Contains(err.Error(), "api_secret") {
		t.Errorf("expected missing column error, got %v", err)
	}

	if _, err := ParseGrid([][]string{{"x"}}, DefaultLayout(), zerolog.Nop()); !errors.Is(err, errors.ErrConfiguration) {
		t.Errorf("short sheet must be a configuration error, got %v", err)
	}
}

func TestColumnIndexSkipsEmptyHeaders(t *testing.T) {
	headers := []string{"", " ", "Sync Trigger", "Kite ID"}
	if got := ColumnIndex(headers, "kite id"); got != 3 {
		t.Errorf("ColumnIndex = %d", got)
	}
	if got := ColumnIndex(headers, "sync trigger"); got != 2 {
		t.Errorf("ColumnIndex = %d", got)
	}
	if got := ColumnIndex(headers, "missing"); got != -1 {
		t.Errorf("ColumnIndex = %d", got)
	}
}

func TestResolveBaseRules(t *testing.T) {
	log := zerolog.Nop()

	two := []models.Account{{ID: "A", IsBase: true}, {ID: "B", IsBase: true}}
	if _, err := Resolve(two, log); !errors.Is(err, errors.ErrConfiguration) {
		t.Errorf("two bases must be rejected, got %v", err)
	}

	none := []models.Account{{ID: "A", CopyEnabled: true}, {ID: "B", CopyEnabled: true}}
	accts, err := Resolve(none, log)
	if err != nil {
		t.Fatal(err)
	}
	if accts.Base().ID != "A" || !accts.Base().IsBase || accts.Base().CopyEnabled {
		t.Errorf("first account must be promoted: %+v", accts.Base())
	}
	if none[0].IsBase {
		t.Error("Resolve must not mutate its input")
	}

	mid := []models.Account{{ID: "A"}, {ID: "B", IsBase: true}, {ID: "C"}}
	accts, err = Resolve(mid, log)
	if err != nil {
		t.Fatal(err)
	}
	targets := accts.Targets()
	if accts.Base().ID != "B" || len(targets) != 2 || targets[0].ID != "A" || targets[1].ID != "C" {
		t.Errorf("unexpected split: base %s targets %v", accts.Base().ID, targets)
	}
	if _, ok := accts.Find("c"); !ok {
		t.Error("Find must be case-insensitive")
	}

	if _, err := Resolve(nil, log); !errors.Is(err, errors.ErrConfiguration) {
		t.Errorf("empty registry must be rejected, got %v", err)
	}
}

func TestCSVSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.csv")
	var b strings.Builder
	for i := 0; i < 6; i++ {
		b.WriteString(",,,,,\n")
	}
	b.WriteString("Account Holder Name,Account KITE-ID,API_Key,API_Secret,Request URL by Zerodha,Copy Trades\n")
	b.WriteString("Asha,AB1234,key1,secret1,,BASE\n")
	b.WriteString("Ravi,CD5678,key2,secret2,,YES\n")
	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		t.Fatal(err)
	}

	accts, err := Load(context.Background(), NewCSVSource(path, DefaultLayout(), zerolog.Nop()), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if accts.Base().ID != "AB1234" || len(accts.Targets()) != 1 || !accts.Targets()[0].CopyEnabled {
		t.Errorf("unexpected accounts: %+v", accts.All())
	}

	if _, err := NewCSVSource(filepath.Join(t.TempDir(), "none.csv"), DefaultLayout(), zerolog.Nop()).Load(context.Background()); !errors.Is(err, errors.ErrConfiguration) {
		t.Errorf("missing file must be a configuration error, got %v", err)
	}
}

func TestFileSourceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts_config.json")
	in := []models.Account{
		{ID: "AB1234", DisplayName: "Asha", APIKey: "k1", APISecret: "s1", IsBase: true},
		{ID: "CD5678", DisplayName: "Ravi", APIKey: "k2", APISecret: "s2", CopyEnabled: true},
		{ID: "EF9012", DisplayName: "Meera", APIKey: "k3"},
	}
	if err := SaveFile(path, in); err != nil {
		t.Fatal(err)
	}

	out, err := NewFileSource(path).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 || !out[0].IsBase || !out[1].CopyEnabled || out[2].CopyEnabled {
		t.Errorf("unexpected accounts: %+v", out)
	}
	if out[2].ConfigErr == "" {
		t.Error("account without secret must be flagged")
	}
}

func TestGridSource(t *testing.T) {
	src := NewGridSource(staticRows(sheetRows([]string{"Asha", "AB1234", "k", "s", "", "YES"})), Layout{}, zerolog.Nop())
	accts, err := Load(context.Background(), src, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	// The only account is promoted to base even though it says YES.
	if accts.Len() != 1 || !accts.Base().IsBase {
		t.Errorf("unexpected accounts: %+v", accts.All())
	}
}

func TestExportCSVMasksSecrets(t *testing.T) {
	var buf bytes.Buffer
	err := ExportCSV(&buf, []models.Account{{ID: "AB1234", APIKey: "abcdefghijkl", APISecret: "supersecretvalue", IsBase: true}})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "supersecretvalue") || strings.Contains(out, "abcdefghijkl") {
		t.Errorf("export leaked a credential: %s", out)
	}
	if !strings.Contains(out, "BASE") {
		t.Errorf("export must carry copy mode: %s", out)
	}
}

func TestProperty_ExactlyOneBase(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("resolved registries have exactly one base or fail", prop.ForAll(
		func(flags []bool) bool {
			accounts := make([]models.Account, len(flags))
			marked := 0
			for i, f := range flags {
				accounts[i] = models.Account{ID: string(rune('A' + i)), IsBase: f}
				if f {
					marked++
				}
			}
			accts, err := Resolve(accounts, zerolog.Nop())
			if marked > 1 {
				return errors.Is(err, errors.ErrConfiguration)
			}
			if err != nil {
				return false
			}
			bases := 0
			for _, a := range accts.All() {
				if a.IsBase {
					bases++
				}
			}
			return bases == 1 && len(accts.Targets()) == len(flags)-1
		},
		gen.IntRange(1, 12).FlatMap(func(n interface{}) gopter.Gen {
			return gen.SliceOfN(n.(int), gen.Bool())
		}, reflect.TypeOf([]bool{})),
	))

	properties.TestingRun(t)
}
