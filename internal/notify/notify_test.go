package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"zerodha-copier/internal/config"
	"zerodha-copier/internal/models"
)

type captured struct {
	path string
	body map[string]interface{}
}

func captureServer(t *testing.T, status int) (*httptest.Server, *[]captured) {
	t.Helper()
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		got = append(got, captured{path: r.URL.Path, body: body})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func partialReport() *models.SyncReport {
	start := time.Now()
	return &models.SyncReport{
		RunID:      "01JEXAMPLE",
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
		BaseName:   "Asha",
		BaseMargin: decimal.NewFromInt(25_000_000),
		Targets: []models.TargetReport{
			{AccountID: "CD5678", Status: models.TargetPartial, Trades: []models.TradeResult{
				{Status: models.TradePlaced, OrderIDs: []string{"1"}},
				{Status: models.TradeFailed},
			}},
			{AccountID: "EF9012", Status: models.TargetSkipped, SkipReason: "copy disabled"},
		},
	}
}

func TestWebhookSyncSummary(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK)
	mn := NewMultiNotifier(config.NotificationConfig{
		Enabled: true,
		Webhook: config.WebhookConfig{Enabled: true, URL: srv.URL + "/hook"},
	})

	if err := mn.SendSyncSummary(context.Background(), partialReport()); err != nil {
		t.Fatal(err)
	}
	if len(*got) != 1 {
		t.Fatalf("expected one webhook call, got %d", len(*got))
	}
	body := (*got)[0].body
	if body["type"] != string(NotificationFailure) {
		t.Errorf("partial run must be a failure notification: %v", body["type"])
	}
	msg, _ := body["message"].(string)
	if !strings.Contains(msg, "CD5678: partial, 1 failed") || !strings.Contains(msg, "EF9012: skipped (copy disabled)") {
		t.Errorf("unexpected message: %s", msg)
	}
	if !strings.Contains(msg, "₹2.5000 Cr") {
		t.Errorf("base margin not in crores: %s", msg)
	}
}

func TestFailuresOnlyLevel(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK)
	mn := NewMultiNotifier(config.NotificationConfig{
		Enabled: true,
		Level:   string(LevelFailuresOnly),
		Webhook: config.WebhookConfig{Enabled: true, URL: srv.URL},
	})

	ok := &models.SyncReport{RunID: "r", Targets: []models.TargetReport{{AccountID: "A", Status: models.TargetSynced}}}
	if err := mn.SendSyncSummary(context.Background(), ok); err != nil {
		t.Fatal(err)
	}
	if len(*got) != 0 {
		t.Error("clean runs must not notify at failures_only")
	}
	if err := mn.SendSyncSummary(context.Background(), partialReport()); err != nil {
		t.Fatal(err)
	}
	if len(*got) != 1 {
		t.Error("partial runs must notify at failures_only")
	}
}

func TestTelegramNotifier(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK)
	tn := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "123:abc", ChatID: "42"})
	tn.apiBase = srv.URL

	mn := NewMultiNotifier(config.NotificationConfig{})
	mn.AddChannel(tn)
	if err := mn.SendError(context.Background(), context.DeadlineExceeded, "listen <edge>"); err != nil {
		t.Fatal(err)
	}
	if len(*got) != 1 || (*got)[0].path != "/bot123:abc/sendMessage" {
		t.Fatalf("unexpected calls: %+v", *got)
	}
	text, _ := (*got)[0].body["text"].(string)
	if !strings.Contains(text, "listen &lt;edge&gt;") || (*got)[0].body["chat_id"] != "42" {
		t.Errorf("unexpected payload: %v", (*got)[0].body)
	}
}

func TestChannelErrorsAreReported(t *testing.T) {
	srv, _ := captureServer(t, http.StatusInternalServerError)
	mn := NewMultiNotifier(config.NotificationConfig{
		Enabled: true,
		Webhook: config.WebhookConfig{Enabled: true, URL: srv.URL},
	})
	err := mn.SendSyncSummary(context.Background(), partialReport())
	if err == nil || !strings.Contains(err.Error(), "webhook returned status 500") {
		t.Errorf("expected webhook error, got %v", err)
	}
}

func TestDisabledNotifierHasNoChannels(t *testing.T) {
	mn := NewMultiNotifier(config.NotificationConfig{Webhook: config.WebhookConfig{Enabled: true, URL: "http://unused"}})
	if err := mn.SendSyncSummary(context.Background(), partialReport()); err != nil {
		t.Errorf("disabled notifications must be silent: %v", err)
	}
}
