package security

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

const (
	AuditSessionOpened     AuditEventType = "SESSION_OPENED"
	AuditAuthFailed        AuditEventType = "AUTH_FAILED"
	AuditOrderPlaced       AuditEventType = "ORDER_PLACED"
	AuditOrderRejected     AuditEventType = "ORDER_REJECTED"
	AuditReadOnlyViolation AuditEventType = "READ_ONLY_VIOLATION"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType AuditEventType         `json:"event_type"`
	AccountID string                 `json:"account_id,omitempty"`
	RunID     string                 `json:"run_id,omitempty"`
	Symbol    string                 `json:"symbol,omitempty"`
	OrderID   string                 `json:"order_id,omitempty"`
	Action    string                 `json:"action,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Success   bool                   `json:"success"`
	ErrorMsg  string                 `json:"error,omitempty"`
}

// AuditLogger appends one JSON line per broker write to a rotating file.
type AuditLogger struct {
	writer *lumberjack.Logger
	mu     sync.Mutex
	now    func() time.Time
}

// AuditConfig holds audit logger configuration.
type AuditConfig struct {
	LogDir     string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultAuditConfig returns the default audit configuration.
func DefaultAuditConfig() AuditConfig {
	home, _ := os.UserHomeDir()
	return AuditConfig{
		LogDir:     filepath.Join(home, ".config", "zerodha-copier", "audit"),
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365,
		Compress:   true,
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(cfg AuditConfig) (*AuditLogger, error) {
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	return &AuditLogger{
		writer: &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, "audit.log"),
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		},
		now: time.Now,
	}, nil
}

type runIDKey struct{}

// WithRunID attaches a sync run id to ctx for audit events.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the sync run id attached to ctx, if any.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Log logs an audit event.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	event.Timestamp = al.now().UTC()
	if event.RunID == "" {
		event.RunID = RunIDFromContext(ctx)
	}
	event.ErrorMsg = MaskSensitive(event.ErrorMsg)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}
	if _, err := al.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

// LogOrder records an order submission outcome.
func (al *AuditLogger) LogOrder(ctx context.Context, accountID, orderID, exchange, symbol, side string, qty int, tag string, err error) error {
	event := AuditEvent{
		EventType: AuditOrderPlaced,
		AccountID: accountID,
		OrderID:   orderID,
		Symbol:    exchange + ":" + symbol,
		Action:    side,
		Success:   err == nil,
		Details: map[string]interface{}{
			"quantity": qty,
			"tag":      tag,
		},
	}
	if err != nil {
		event.EventType = AuditOrderRejected
		event.ErrorMsg = err.Error()
	}
	return al.Log(ctx, event)
}

// LogSession records a session attempt for an account.
func (al *AuditLogger) LogSession(ctx context.Context, accountID string, err error) error {
	event := AuditEvent{
		EventType: AuditSessionOpened,
		AccountID: accountID,
		Success:   err == nil,
	}
	if err != nil {
		event.EventType = AuditAuthFailed
		event.ErrorMsg = err.Error()
	}
	return al.Log(ctx, event)
}

// LogReadOnlyViolation logs an attempt to perform a write operation in read-only mode.
func (al *AuditLogger) LogReadOnlyViolation(ctx context.Context, operation string) error {
	return al.Log(ctx, AuditEvent{
		EventType: AuditReadOnlyViolation,
		Action:    operation,
		Success:   false,
		ErrorMsg:  "operation blocked: read-only mode enabled",
	})
}

// Close closes the audit logger.
func (al *AuditLogger) Close() error {
	return al.writer.Close()
}
