package lifecycle

import (
	"time"

	"github.com/shopspring/decimal"
)

// Collection names shared by the store, the change stream and the views.
const (
	CollectionRequests = "project_requests"
	CollectionProjects = "projects"
	CollectionPayments = "project_payments"
)

// Collections lists every lifecycle collection in dependency order.
var Collections = []string{CollectionRequests, CollectionProjects, CollectionPayments}

// Currency is the only settlement currency the portal bills in.
const Currency = "INR"

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestDeclined RequestStatus = "declined"
)

type ProjectStatus string

const (
	ProjectPending    ProjectStatus = "pending"
	ProjectInProgress ProjectStatus = "in_progress"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectCancelled  ProjectStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Method is the tag recorded against a settled payment.
type Method string

const (
	MethodCard Method = "card"
	MethodUPI  Method = "upi"
)

func (m Method) Valid() bool { return m == MethodCard || m == MethodUPI }

// Decision is a client's answer to a project request.
type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
)

// ProjectRequest is an administrator proposal awaiting the client's answer.
type ProjectRequest struct {
	ID              string              `json:"id"`
	AdminID         string              `json:"admin_id"`
	UserID          string              `json:"user_id"`
	Title           string              `json:"title"`
	Description     string              `json:"description"`
	ProjectType     string              `json:"project_type"`
	EstimatedHours  *int                `json:"estimated_hours"`
	EstimatedCost   decimal.NullDecimal `json:"estimated_cost"`
	AdminNotes      string              `json:"admin_notes,omitempty"`
	Status          RequestStatus       `json:"status"`
	RespondedAt     *time.Time          `json:"responded_at,omitempty"`
	ResponseMessage string              `json:"user_response_message,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Project is a tracked engagement owned by a client.
type Project struct {
	ID                   string              `json:"id"`
	UserID               string              `json:"user_id"`
	AdminID              string              `json:"admin_id,omitempty"`
	RequestID            string              `json:"request_id,omitempty"`
	Title                string              `json:"title"`
	Description          string              `json:"description"`
	ProjectType          string              `json:"project_type"`
	Status               ProjectStatus       `json:"status"`
	HoursWorked          int                 `json:"hours_worked"`
	EstimatedHours       *int                `json:"estimated_hours"`
	EstimatedCost        decimal.NullDecimal `json:"estimated_cost"`
	CompletionPercentage int                 `json:"completion_percentage"`
	Notes                string              `json:"notes"`
	Version              int64               `json:"version"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

// Payment is a charge requested against a project.
type Payment struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	ProjectID       string          `json:"project_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Description     string          `json:"description"`
	DueDate         *time.Time      `json:"due_date,omitempty"`
	Status          PaymentStatus   `json:"status"`
	ReferenceNumber string          `json:"reference_number"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	PaymentMethod   Method          `json:"payment_method,omitempty"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	AdminConfirmed  bool            `json:"admin_confirmed"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Overdue reports whether a pending payment is past its due date.
func (p Payment) Overdue(now time.Time) bool {
	return p.Status == PaymentPending && p.DueDate != nil && p.DueDate.Before(now)
}

// RedactForClient hides administrator-only fields.
func RedactForClient(r ProjectRequest) ProjectRequest {
	r.AdminNotes = ""
	return r
}
