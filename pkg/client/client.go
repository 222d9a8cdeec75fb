// Package client is a typed client for the portal HTTP API. It satisfies
// view.Reader and stream.Source, so a view can run against a remote portal
// exactly as it runs in-process.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"levra.org/internal/lifecycle"
	"levra.org/internal/stream"
	"levra.org/internal/view"
)

var (
	_ view.Reader   = (*Client)(nil)
	_ stream.Source = (*Client)(nil)
)

// IssueRequestInput is the payload for proposing a project to a client.
type IssueRequestInput struct {
	ClientID       string              `json:"client_id"`
	Title          string              `json:"title"`
	Description    string              `json:"description,omitempty"`
	ProjectType    string              `json:"project_type,omitempty"`
	EstimatedHours *int                `json:"estimated_hours,omitempty"`
	EstimatedCost  decimal.NullDecimal `json:"estimated_cost"`
	AdminNotes     string              `json:"admin_notes,omitempty"`
}

// CreateProjectInput is the payload for opening a project directly.
type CreateProjectInput struct {
	ClientID       string              `json:"client_id"`
	Title          string              `json:"title"`
	Description    string              `json:"description,omitempty"`
	ProjectType    string              `json:"project_type,omitempty"`
	EstimatedHours *int                `json:"estimated_hours,omitempty"`
	EstimatedCost  decimal.NullDecimal `json:"estimated_cost"`
	Notes          string              `json:"notes,omitempty"`
}

// ProgressInput is a partial project update; nil fields are untouched.
type ProgressInput struct {
	HoursWorked          *int    `json:"hours_worked,omitempty"`
	CompletionPercentage *int    `json:"completion_percentage,omitempty"`
	Notes                *string `json:"notes,omitempty"`
	Status               *string `json:"status,omitempty"`
	ExpectedVersion      int64   `json:"expected_version,omitempty"`
}

// PaymentInput requests a charge. DueDate is YYYY-MM-DD or RFC 3339.
type PaymentInput struct {
	ProjectID   string          `json:"project_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	DueDate     string          `json:"due_date,omitempty"`
}

// Me is the caller as the server resolved it.
type Me struct {
	UserID string `json:"user_id"`
	Admin  bool   `json:"admin"`
}

// Token is a signed development token.
type Token struct {
	Token     string    `json:"token"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
}

type list[T any] struct {
	Items []T `json:"items"`
}

// Client is the portal API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	// streamClient has no overall timeout; streams live until cancelled.
	streamClient *http.Client
	streamBuffer int
}

// New creates a new API client.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		streamClient: &http.Client{},
		streamBuffer: 64,
	}
}

// WithToken returns a copy of c authenticating as token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// IssueToken asks a development server to sign a token for user.
func (c *Client) IssueToken(ctx context.Context, user string) (*Token, error) {
	var tok Token
	if err := c.post(ctx, "/v1/auth/token", map[string]string{"user": user}, &tok); err != nil {
		return nil, fmt.Errorf("client.IssueToken: %w", err)
	}
	return &tok, nil
}

// Me returns the authenticated caller.
func (c *Client) Me(ctx context.Context) (*Me, error) {
	var me Me
	if err := c.get(ctx, "/v1/me", &me); err != nil {
		return nil, fmt.Errorf("client.Me: %w", err)
	}
	return &me, nil
}

// --- requests ---

// ListRequests returns every request visible to the caller.
func (c *Client) ListRequests(ctx context.Context) ([]lifecycle.ProjectRequest, error) {
	return c.RequestsByStatus(ctx, "")
}

// RequestsByStatus returns visible requests, optionally filtered by status.
func (c *Client) RequestsByStatus(ctx context.Context, status lifecycle.RequestStatus) ([]lifecycle.ProjectRequest, error) {
	var out list[lifecycle.ProjectRequest]
	if err := c.get(ctx, "/v1/requests"+query("status", string(status)), &out); err != nil {
		return nil, fmt.Errorf("client.ListRequests: %w", err)
	}
	return out.Items, nil
}

func (c *Client) GetRequest(ctx context.Context, id string) (*lifecycle.ProjectRequest, error) {
	var r lifecycle.ProjectRequest
	if err := c.get(ctx, "/v1/requests/"+url.PathEscape(id), &r); err != nil {
		return nil, fmt.Errorf("client.GetRequest: %w", err)
	}
	return &r, nil
}

func (c *Client) IssueRequest(ctx context.Context, in IssueRequestInput) (*lifecycle.ProjectRequest, error) {
	var r lifecycle.ProjectRequest
	if err := c.post(ctx, "/v1/requests", in, &r); err != nil {
		return nil, fmt.Errorf("client.IssueRequest: %w", err)
	}
	return &r, nil
}

// Respond accepts or declines a request. Accepting returns the spawned
// project.
func (c *Client) Respond(ctx context.Context, id string, decision lifecycle.Decision, message string) (*lifecycle.ProjectRequest, *lifecycle.Project, error) {
	var out struct {
		Request lifecycle.ProjectRequest `json:"request"`
		Project *lifecycle.Project       `json:"project"`
	}
	body := map[string]string{"decision": string(decision), "message": message}
	if err := c.post(ctx, "/v1/requests/"+url.PathEscape(id)+"/respond", body, &out); err != nil {
		return nil, nil, fmt.Errorf("client.Respond: %w", err)
	}
	return &out.Request, out.Project, nil
}

func (c *Client) AnnotateRequest(ctx context.Context, id, notes string) (*lifecycle.ProjectRequest, error) {
	var r lifecycle.ProjectRequest
	if err := c.doRequest(ctx, http.MethodPut, "/v1/requests/"+url.PathEscape(id)+"/notes", map[string]string{"notes": notes}, &r); err != nil {
		return nil, fmt.Errorf("client.AnnotateRequest: %w", err)
	}
	return &r, nil
}

func (c *Client) RemoveRequest(ctx context.Context, id string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/v1/requests/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("client.RemoveRequest: %w", err)
	}
	return nil
}

// --- projects ---

// ListProjects returns every project visible to the caller.
func (c *Client) ListProjects(ctx context.Context) ([]lifecycle.Project, error) {
	var out list[lifecycle.Project]
	if err := c.get(ctx, "/v1/projects", &out); err != nil {
		return nil, fmt.Errorf("client.ListProjects: %w", err)
	}
	return out.Items, nil
}

func (c *Client) GetProject(ctx context.Context, id string) (*lifecycle.Project, error) {
	var p lifecycle.Project
	if err := c.get(ctx, "/v1/projects/"+url.PathEscape(id), &p); err != nil {
		return nil, fmt.Errorf("client.GetProject: %w", err)
	}
	return &p, nil
}

func (c *Client) CreateProject(ctx context.Context, in CreateProjectInput) (*lifecycle.Project, error) {
	var p lifecycle.Project
	if err := c.post(ctx, "/v1/projects", in, &p); err != nil {
		return nil, fmt.Errorf("client.CreateProject: %w", err)
	}
	return &p, nil
}

func (c *Client) UpdateProgress(ctx context.Context, id string, in ProgressInput) (*lifecycle.Project, error) {
	var p lifecycle.Project
	if err := c.doRequest(ctx, http.MethodPatch, "/v1/projects/"+url.PathEscape(id), in, &p); err != nil {
		return nil, fmt.Errorf("client.UpdateProgress: %w", err)
	}
	return &p, nil
}

// --- payments ---

// ListPayments returns every payment visible to the caller.
func (c *Client) ListPayments(ctx context.Context) ([]lifecycle.Payment, error) {
	var out list[lifecycle.Payment]
	if err := c.get(ctx, "/v1/payments", &out); err != nil {
		return nil, fmt.Errorf("client.ListPayments: %w", err)
	}
	return out.Items, nil
}

func (c *Client) RequestPayment(ctx context.Context, in PaymentInput) (*lifecycle.Payment, error) {
	var p lifecycle.Payment
	if err := c.post(ctx, "/v1/payments", in, &p); err != nil {
		return nil, fmt.Errorf("client.RequestPayment: %w", err)
	}
	return &p, nil
}

func (c *Client) Pay(ctx context.Context, id string, method lifecycle.Method) (*lifecycle.Payment, error) {
	var p lifecycle.Payment
	if err := c.post(ctx, "/v1/payments/"+url.PathEscape(id)+"/pay", map[string]string{"method": string(method)}, &p); err != nil {
		return nil, fmt.Errorf("client.Pay: %w", err)
	}
	return &p, nil
}

func (c *Client) ConfirmPayment(ctx context.Context, id string) (*lifecycle.Payment, error) {
	var p lifecycle.Payment
	if err := c.post(ctx, "/v1/payments/"+url.PathEscape(id)+"/confirm", nil, &p); err != nil {
		return nil, fmt.Errorf("client.ConfirmPayment: %w", err)
	}
	return &p, nil
}

func (c *Client) Totals(ctx context.Context) (*lifecycle.Totals, error) {
	var t lifecycle.Totals
	if err := c.get(ctx, "/v1/payments/totals", &t); err != nil {
		return nil, fmt.Errorf("client.Totals: %w", err)
	}
	return &t, nil
}

// --- maintenance ---

func (c *Client) Reconcile(ctx context.Context) (*lifecycle.ReconcileReport, error) {
	var r lifecycle.ReconcileReport
	if err := c.post(ctx, "/v1/admin/reconcile", nil, &r); err != nil {
		return nil, fmt.Errorf("client.Reconcile: %w", err)
	}
	return &r, nil
}

func (c *Client) RetireClient(ctx context.Context, clientID string) (*lifecycle.RetireReport, error) {
	var r lifecycle.RetireReport
	if err := c.post(ctx, "/v1/admin/clients/"+url.PathEscape(clientID)+"/retire", nil, &r); err != nil {
		return nil, fmt.Errorf("client.RetireClient: %w", err)
	}
	return &r, nil
}

// --- transport ---

func query(key, value string) string {
	if value == "" {
		return ""
	}
	return "?" + url.Values{key: []string{value}}.Encode()
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	return c.doRequest(ctx, http.MethodPost, path, body, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Unreachable server: retryable for readers.
		return lifecycle.StoreUnavailable(method+" "+path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode >= 400 {
		return readError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func readError(resp *http.Response) error {
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max error body
	if readErr != nil {
		return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
	}
	var apiErr struct {
		Error     string `json:"error"`
		RequestID string `json:"request_id"`
	}
	if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
		return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Error, RequestID: apiErr.RequestID}
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
}
