package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/models"
	"zerodha-copier/internal/security"
	"zerodha-copier/pkg/utils"
)

func TestTokenStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewTokenStore(dir)
	store.now = func() time.Time { return time.Date(2024, 12, 2, 10, 0, 0, 0, utils.IndiaLocation) }

	if _, err := store.Load("AB1234"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	if err := store.Save("AB1234", "tok123"); err != nil {
		t.Fatal(err)
	}
	if got := store.Path("AB1234"); got != filepath.Join(dir, "AB1234_2024-12-02.json") {
		t.Errorf("Path = %s", got)
	}
	token, err := store.Load("AB1234")
	if err != nil || token != "tok123" {
		t.Errorf("Load = %q, %v", token, err)
	}

	// Tokens do not carry over to the next trading day.
	store.now = func() time.Time { return time.Date(2024, 12, 3, 10, 0, 0, 0, utils.IndiaLocation) }
	if _, err := store.Load("AB1234"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("expected yesterday's token to be ignored, got %v", err)
	}
}

func TestTokenStoreLegacyBareToken(t *testing.T) {
	dir := t.TempDir()
	store := NewTokenStore(dir)
	if err := os.WriteFile(store.Path("CD5678"), []byte("raw-token\n"), 0600); err != nil {
		t.Fatal(err)
	}
	token, err := store.Load("CD5678")
	if err != nil || token != "raw-token" {
		t.Errorf("Load = %q, %v", token, err)
	}
	ids, err := store.Accounts()
	if err != nil || len(ids) != 1 || ids[0] != "CD5678" {
		t.Errorf("Accounts = %v, %v", ids, err)
	}
}

func TestRequestTokenFromURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://127.0.0.1/?action=login&type=login&status=success&request_token=Qx7abc", "Qx7abc", true},
		{"Qx7abc", "Qx7abc", true},
		{"", "", false},
		{"None", "", false},
		{"https://example.com/callback?status=error", "", false},
	}
	for _, tt := range tests {
		got, ok := RequestTokenFromURL(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("RequestTokenFromURL(%q) = %q, %v", tt.in, got, ok)
		}
	}
}

func TestAutoLoginRequestToken(t *testing.T) {
	const secret = "JBSWY3DPEHPK3PXP"
	now := time.Date(2024, 12, 2, 9, 0, 0, 0, time.UTC)
	twofaDone := false

	mux := http.NewServeMux()
	mux.HandleFunc("/connect/login", func(w http.ResponseWriter, r *http.Request) {
		if twofaDone {
			http.Redirect(w, r, "/callback?status=success&request_token=rt-42", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("user_id") != "AB1234" || r.FormValue("password") != "pw" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"status":"error","message":"Invalid credentials"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"request_id":"req-1","user_id":"AB1234"}}`))
	})
	mux.HandleFunc("/api/twofa", func(w http.ResponseWriter, r *http.Request) {
		want, _ := totp.GenerateCode(secret, now)
		if r.FormValue("request_id") != "req-1" || r.FormValue("twofa_value") != want {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"status":"error","message":"Invalid TOTP"}`))
			return
		}
		twofaDone = true
		_, _ = w.Write([]byte(`{"status":"success","data":{}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	al := NewAutoLogin(srv.URL)
	al.now = func() time.Time { return now }

	token, err := al.RequestToken(context.Background(), "key", AutoLoginCredentials{
		AccountID: "AB1234", Password: "pw", TOTPSecret: secret,
	})
	if err != nil || token != "rt-42" {
		t.Fatalf("RequestToken = %q, %v", token, err)
	}

	twofaDone = false
	_, err = al.RequestToken(context.Background(), "key", AutoLoginCredentials{
		AccountID: "AB1234", Password: "wrong", TOTPSecret: secret,
	})
	if !errors.Is(err, errors.ErrAuthentication) {
		t.Errorf("expected ErrAuthentication for bad password, got %v", err)
	}

	_, err = al.RequestToken(context.Background(), "key", AutoLoginCredentials{AccountID: "AB1234"})
	if !errors.Is(err, errors.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for missing credentials, got %v", err)
	}
}

func TestPaperGatewayFillsAndHistory(t *testing.T) {
	ctx := context.Background()
	key := models.NewPositionKey(models.NFO, "BANKNIFTY24DECFUT")
	gw := NewPaperGateway(NewPaperMargin(500_000, 100_000))
	gw.SetQuote(key.String(), 51000)

	id, err := gw.PlaceOrder(ctx, models.OrderRequest{Exchange: models.NFO, Symbol: "BANKNIFTY24DECFUT", Side: models.OrderSideSell, Quantity: 30})
	if err != nil {
		t.Fatal(err)
	}
	book, _ := gw.Positions(ctx)
	if book.NetQuantity(key) != -30 || book.Net[0].LastPrice != 51000 {
		t.Errorf("unexpected book: %+v", book)
	}

	history, err := gw.OrderHistory(ctx, id)
	if err != nil || history[len(history)-1].Status != models.OrderStatusComplete {
		t.Errorf("unexpected history: %+v, %v", history, err)
	}
	if _, err := gw.OrderHistory(ctx, "missing"); !errors.Is(err, errors.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}

	gw.FailOnChunk(key, 2)
	if _, err := gw.PlaceOrder(ctx, models.OrderRequest{Exchange: models.NFO, Symbol: "BANKNIFTY24DECFUT", Side: models.OrderSideBuy, Quantity: 30}); !errors.Is(err, errors.ErrOrderSubmission) {
		t.Errorf("second order must be rejected, got %v", err)
	}
	if gw.NetQuantity(key) != -30 {
		t.Error("rejected order must not change the book")
	}
}

func TestGuardedGatewayReadOnly(t *testing.T) {
	ctx := context.Background()
	paper := NewPaperGateway(NewPaperMargin(100, 0))
	access := security.NewAccessController(true, nil)
	gw := Guard(paper, "AB1234", access, nil, zerolog.Nop())

	_, err := gw.PlaceOrder(ctx, models.OrderRequest{Exchange: models.NFO, Symbol: "X", Side: models.OrderSideBuy, Quantity: 65})
	if !errors.Is(err, errors.ErrReadOnlyMode) {
		t.Fatalf("expected ErrReadOnlyMode, got %v", err)
	}
	if len(paper.Orders()) != 0 {
		t.Error("read-only guard leaked an order")
	}
	if m, err := gw.Margins(ctx); err != nil || !m.Usable() {
		t.Errorf("reads must pass through: %v", err)
	}

	access.SetReadOnly(false)
	if _, err := gw.PlaceOrder(ctx, models.OrderRequest{Exchange: models.NFO, Symbol: "X", Side: models.OrderSideBuy, Quantity: 65}); err != nil {
		t.Errorf("write must pass when not read-only: %v", err)
	}
}

func TestPaperConnector(t *testing.T) {
	c := NewPaperConnector()
	c.Add("AB1234", NewPaperGateway(NewPaperMargin(1, 0)))
	c.Fail("CD5678", errors.ErrAuthentication)

	if _, err := c.Connect(context.Background(), models.Account{ID: "AB1234"}); err != nil {
		t.Errorf("Connect: %v", err)
	}
	if _, err := c.Connect(context.Background(), models.Account{ID: "CD5678"}); !errors.Is(err, errors.ErrAuthentication) {
		t.Errorf("expected ErrAuthentication, got %v", err)
	}
	if _, err := c.Connect(context.Background(), models.Account{ID: "EF9012"}); err == nil {
		t.Error("unknown account must fail")
	}
}

func TestEquityMargin(t *testing.T) {
	m, err := equityMargin(kiteconnect.Margins{
		Enabled: true,
		Net:     400_000,
		Used:    kiteconnect.UsedMargins{Debits: 100_000},
	})
	if err != nil {
		t.Fatalf("equityMargin: %v", err)
	}
	if got := m.Total().IntPart(); got != 500_000 {
		t.Errorf("total = %d, want 500000", got)
	}

	if _, err := equityMargin(kiteconnect.Margins{}); !errors.Is(err, errors.ErrMarginUnavailable) {
		t.Errorf("missing equity segment: got %v, want ErrMarginUnavailable", err)
	}
}
