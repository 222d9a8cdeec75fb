package audit

import (
	"context"
	"errors"
	"maps"
	"strings"

	"github.com/sirupsen/logrus"

	"levra.org/internal/auth"
	"levra.org/internal/lifecycle"
	"levra.org/internal/obs"
)

// Audit event names.
const (
	EventTokenIssued      = "auth.token.issued"
	EventRequestIssued    = EventRequestIssued
	EventPaymentResolved  = EventPaymentResolved
	EventPaymentConfirmed = EventPaymentConfirmed
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := logrus.Fields{
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		entry["user_id"] = id.UserID
		if len(id.Roles) > 0 {
			entry["roles"] = id.Roles
		}
	}
	entry["fields"] = maps.Clone(fields)

	obs.Logger().WithFields(entry).Info("audit")
	return nil
}

// Hooks records the lifecycle events that must leave an audit trail:
// proposals sent to clients and money moving.
type Hooks struct{}

var _ lifecycle.Hooks = Hooks{}

func (Hooks) RequestIssued(ctx context.Context, r lifecycle.ProjectRequest) {
	_ = LogEvent(ctx, EventRequestIssued, map[string]any{
		"request_id":   r.ID,
		"client_id":    r.UserID,
		"admin_id":     r.AdminID,
		"project_type": r.ProjectType,
	})
}

func (Hooks) PaymentResolved(ctx context.Context, p lifecycle.Payment) {
	_ = LogEvent(ctx, EventPaymentResolved, map[string]any{
		"payment_id":     p.ID,
		"project_id":     p.ProjectID,
		"client_id":      p.UserID,
		"status":         string(p.Status),
		"amount":         p.Amount.StringFixed(2),
		"currency":       p.Currency,
		"method":         string(p.PaymentMethod),
		"transaction_id": p.TransactionID,
	})
}

func (Hooks) PaymentConfirmed(ctx context.Context, p lifecycle.Payment) {
	_ = LogEvent(ctx, EventPaymentConfirmed, map[string]any{
		"payment_id": p.ID,
		"project_id": p.ProjectID,
		"reference":  p.ReferenceNumber,
	})
}
