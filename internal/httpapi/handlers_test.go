package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"levra.org/internal/auth"
	"levra.org/internal/lifecycle"
	"levra.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	hub     *stream.Hub
	roles   *auth.StaticResolver
	t       *testing.T
}

func newTestAPI(t *testing.T, opts ...Option) *apiClient {
	t.Helper()

	t.Setenv("PORTAL_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	hub := stream.New()
	t.Cleanup(hub.Close)
	roles := auth.NewStaticResolver("admin-1")
	engine := lifecycle.New(lifecycle.NewMemoryStore(hub), roles)

	opts = append([]Option{WithDevTokens(0), WithRateLimit(1000, 1000)}, opts...)
	api := New(ReadyProbe{}, "test", engine, hub, roles, opts...)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		hub:     hub,
		roles:   roles,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, token)
}

func (c *apiClient) get(path string, params url.Values, token string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, token)
}

func (c *apiClient) obtainToken(user string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{"user": user}, "")
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	payload := decode[tokenResponse](c.t, resp)
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		_ = resp.Body.Close()
		t.Fatalf("expected %d, got %d (%v)", want, resp.StatusCode, body)
	}
}

func TestAPIEngagementFlow(t *testing.T) {
	api := newTestAPI(t)
	admin := api.obtainToken("admin-1")
	client := api.obtainToken("client-c")

	resp := api.post("/v1/requests", map[string]any{
		"client_id":    "client-c",
		"title":        "Landing Page",
		"project_type": "web-development",
		"admin_notes":  "rush",
	}, admin)
	expectStatus(t, resp, http.StatusCreated)
	req := decode[lifecycle.ProjectRequest](t, resp)
	if req.Status != lifecycle.RequestPending {
		t.Fatalf("unexpected status: %s", req.Status)
	}
	if req.EstimatedHours == nil || !req.EstimatedCost.Valid {
		t.Fatalf("expected catalog estimates, got %+v", req)
	}

	// The client never sees administrator notes.
	resp = api.get("/v1/requests", nil, client)
	expectStatus(t, resp, http.StatusOK)
	listed := decode[listResponse[lifecycle.ProjectRequest]](t, resp)
	if len(listed.Items) != 1 || listed.Items[0].AdminNotes != "" {
		t.Fatalf("unexpected client listing: %+v", listed.Items)
	}

	resp = api.post("/v1/requests/"+req.ID+"/respond", map[string]any{"decision": "accept", "message": "ok"}, client)
	expectStatus(t, resp, http.StatusOK)
	answer := decode[respondResponse](t, resp)
	if answer.Request.Status != lifecycle.RequestAccepted || answer.Project == nil {
		t.Fatalf("unexpected accept answer: %+v", answer)
	}
	project := *answer.Project
	if project.Status != lifecycle.ProjectInProgress || project.RequestID != req.ID {
		t.Fatalf("unexpected project: %+v", project)
	}

	resp = api.do(http.MethodPatch, "/v1/projects/"+project.ID, map[string]any{
		"completion_percentage": 150,
		"hours_worked":          12,
	}, admin)
	expectStatus(t, resp, http.StatusOK)
	project = decode[lifecycle.Project](t, resp)
	if project.CompletionPercentage != 100 || project.HoursWorked != 12 {
		t.Fatalf("unexpected progress: %+v", project)
	}

	resp = api.post("/v1/payments", map[string]any{
		"project_id": project.ID,
		"amount":     "2500.50",
		"due_date":   "2030-01-31",
	}, admin)
	expectStatus(t, resp, http.StatusCreated)
	payment := decode[lifecycle.Payment](t, resp)
	if payment.Currency != "INR" || payment.UserID != "client-c" || payment.DueDate == nil {
		t.Fatalf("unexpected payment: %+v", payment)
	}

	// Confirming before settlement is a state conflict.
	resp = api.post("/v1/payments/"+payment.ID+"/confirm", nil, admin)
	expectStatus(t, resp, http.StatusConflict)
	_ = resp.Body.Close()

	resp = api.post("/v1/payments/"+payment.ID+"/pay", map[string]any{"method": "upi"}, client)
	expectStatus(t, resp, http.StatusOK)
	payment = decode[lifecycle.Payment](t, resp)
	if payment.Status != lifecycle.PaymentPaid || payment.TransactionID == "" {
		t.Fatalf("unexpected paid payment: %+v", payment)
	}

	resp = api.post("/v1/payments/"+payment.ID+"/confirm", nil, admin)
	expectStatus(t, resp, http.StatusOK)
	payment = decode[lifecycle.Payment](t, resp)
	if !payment.AdminConfirmed {
		t.Fatalf("expected confirmed payment")
	}

	resp = api.get("/v1/payments/totals", nil, client)
	expectStatus(t, resp, http.StatusOK)
	totals := decode[lifecycle.Totals](t, resp)
	if totals.Paid.String() != "2500.5" {
		t.Fatalf("unexpected paid total: %s", totals.Paid)
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/projects", nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" || errBody["request_id"] == "" {
		t.Fatalf("expected error message and request id: %v", errBody)
	}

	resp = api.get("/v1/projects", nil, "not-a-jwt")
	expectStatus(t, resp, http.StatusUnauthorized)
	_ = resp.Body.Close()
}

func TestAPIAdminOperationsRejectClients(t *testing.T) {
	api := newTestAPI(t)
	client := api.obtainToken("client-c")

	resp := api.post("/v1/requests", map[string]any{"client_id": "client-d", "title": "Nope"}, client)
	expectStatus(t, resp, http.StatusForbidden)
	_ = resp.Body.Close()

	resp = api.post("/v1/admin/reconcile", nil, client)
	expectStatus(t, resp, http.StatusForbidden)
	_ = resp.Body.Close()
}

func TestAPIRevokedAdministratorLosesCapability(t *testing.T) {
	api := newTestAPI(t)
	admin := api.obtainToken("admin-1")

	api.roles.Revoke("admin-1")

	resp := api.post("/v1/projects", map[string]any{"client_id": "client-c", "title": "Audit"}, admin)
	expectStatus(t, resp, http.StatusForbidden)
	_ = resp.Body.Close()
}

func TestAPIValidation(t *testing.T) {
	api := newTestAPI(t)
	admin := api.obtainToken("admin-1")
	client := api.obtainToken("client-c")

	cases := []struct {
		name  string
		path  string
		body  any
		token string
	}{
		{"missing title", "/v1/requests", map[string]any{"client_id": "client-c"}, admin},
		{"negative hours", "/v1/projects", map[string]any{"client_id": "client-c", "title": "x", "estimated_hours": -1}, admin},
		{"unknown field", "/v1/projects", map[string]any{"client_id": "client-c", "title": "x", "budget": 1}, admin},
		{"zero amount", "/v1/payments", map[string]any{"project_id": "p1", "amount": "0"}, admin},
		{"bad due date", "/v1/payments", map[string]any{"project_id": "p1", "amount": "10", "due_date": "tomorrow"}, admin},
		{"bad decision", "/v1/requests/r1/respond", map[string]any{"decision": "maybe"}, client},
		{"bad method", "/v1/payments/x1/pay", map[string]any{"method": "cash"}, client},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := api.post(tc.path, tc.body, tc.token)
			expectStatus(t, resp, http.StatusBadRequest)
			_ = resp.Body.Close()
		})
	}
}

func TestAPIForeignReadsAreNotFound(t *testing.T) {
	api := newTestAPI(t)
	admin := api.obtainToken("admin-1")
	other := api.obtainToken("client-d")

	resp := api.post("/v1/projects", map[string]any{"client_id": "client-c", "title": "Private"}, admin)
	expectStatus(t, resp, http.StatusCreated)
	project := decode[lifecycle.Project](t, resp)

	resp = api.get("/v1/projects/"+project.ID, nil, other)
	expectStatus(t, resp, http.StatusNotFound)
	_ = resp.Body.Close()

	resp = api.get("/v1/projects", nil, other)
	expectStatus(t, resp, http.StatusOK)
	listed := decode[listResponse[lifecycle.Project]](t, resp)
	if len(listed.Items) != 0 {
		t.Fatalf("expected empty listing, got %d", len(listed.Items))
	}
}

func TestAPIDeclineAndRemove(t *testing.T) {
	api := newTestAPI(t)
	admin := api.obtainToken("admin-1")
	client := api.obtainToken("client-c")

	resp := api.post("/v1/requests", map[string]any{"client_id": "client-c", "title": "Logo"}, admin)
	expectStatus(t, resp, http.StatusCreated)
	req := decode[lifecycle.ProjectRequest](t, resp)

	resp = api.post("/v1/requests/"+req.ID+"/respond", map[string]any{"decision": "decline"}, client)
	expectStatus(t, resp, http.StatusOK)
	answer := decode[respondResponse](t, resp)
	if answer.Request.Status != lifecycle.RequestDeclined || answer.Project != nil {
		t.Fatalf("unexpected decline answer: %+v", answer)
	}

	resp = api.post("/v1/requests/"+req.ID+"/respond", map[string]any{"decision": "accept"}, client)
	expectStatus(t, resp, http.StatusConflict)
	_ = resp.Body.Close()

	resp = api.do(http.MethodDelete, "/v1/requests/"+req.ID, nil, admin)
	expectStatus(t, resp, http.StatusNoContent)
	_ = resp.Body.Close()

	resp = api.get("/v1/requests/"+req.ID, nil, admin)
	expectStatus(t, resp, http.StatusNotFound)
	_ = resp.Body.Close()
}

func TestAPIMe(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/me", nil, api.obtainToken("admin-1"))
	expectStatus(t, resp, http.StatusOK)
	me := decode[meResponse](t, resp)
	if me.UserID != "admin-1" || !me.Admin {
		t.Fatalf("unexpected me: %+v", me)
	}
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{"user": ""}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestTokenEndpointDisabledByDefault(t *testing.T) {
	hub := stream.New()
	defer hub.Close()
	roles := auth.NewStaticResolver()
	api := New(nil, "test", lifecycle.New(lifecycle.NewMemoryStore(hub), roles), hub, roles)

	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/auth/token", bytes.NewReader([]byte(`{"user":"x"}`))))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := api.get(path, nil, "")
		expectStatus(t, resp, http.StatusOK)
		body := decode[map[string]any](t, resp)
		if len(body) == 0 {
			t.Fatalf("empty body for %s", path)
		}
	}
}
