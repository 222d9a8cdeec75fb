package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"levra.org/internal/auth"
	"levra.org/internal/lifecycle"
	"levra.org/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Out
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return &buf
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithUser(ctx, "user-42", []string{"admin"})

	if err := LogEvent(ctx, "audit.test", map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "audit.test" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["user_id"] != "user-42" {
		t.Fatalf("unexpected user id: %v", entry["user_id"])
	}
	if roles, ok := entry["roles"].([]any); !ok || len(roles) != 1 || roles[0] != "admin" {
		t.Fatalf("unexpected roles: %v", entry["roles"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["foo"] != "bar" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}

	if err := LogEvent(ctx, "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

func TestHooksPaymentResolved(t *testing.T) {
	buf := captureLog(t)

	Hooks{}.PaymentResolved(context.Background(), lifecycle.Payment{
		ID:            "pay-1",
		ProjectID:     "p-1",
		UserID:        "client-1",
		Status:        lifecycle.PaymentPaid,
		Amount:        decimal.NewFromInt(1500),
		Currency:      lifecycle.Currency,
		PaymentMethod: lifecycle.MethodUPI,
		TransactionID: "TXN1",
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["event"] != EventPaymentResolved {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	fields := entry["fields"].(map[string]any)
	if fields["amount"] != "1500.00" || fields["method"] != "upi" || fields["status"] != "paid" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}
