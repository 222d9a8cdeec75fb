package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"levra.org/internal/lifecycle"
)

type issueRequestBody struct {
	ClientID       string              `json:"client_id" validate:"required,max=128"`
	Title          string              `json:"title" validate:"required,max=200"`
	Description    string              `json:"description"`
	ProjectType    string              `json:"project_type" validate:"max=64"`
	EstimatedHours *int                `json:"estimated_hours" validate:"omitempty,gte=0"`
	EstimatedCost  decimal.NullDecimal `json:"estimated_cost"`
	AdminNotes     string              `json:"admin_notes"`
}

type respondBody struct {
	Decision string `json:"decision" validate:"required,oneof=accept decline"`
	Message  string `json:"message"`
}

type respondResponse struct {
	Request lifecycle.ProjectRequest `json:"request"`
	Project *lifecycle.Project       `json:"project,omitempty"`
}

type notesBody struct {
	Notes string `json:"notes"`
}

type createProjectBody struct {
	ClientID       string              `json:"client_id" validate:"required,max=128"`
	Title          string              `json:"title" validate:"required,max=200"`
	Description    string              `json:"description"`
	ProjectType    string              `json:"project_type" validate:"max=64"`
	EstimatedHours *int                `json:"estimated_hours" validate:"omitempty,gte=0"`
	EstimatedCost  decimal.NullDecimal `json:"estimated_cost"`
	Notes          string              `json:"notes"`
}

type progressBody struct {
	HoursWorked          *int    `json:"hours_worked" validate:"omitempty,gte=0"`
	CompletionPercentage *int    `json:"completion_percentage"`
	Notes                *string `json:"notes"`
	Status               *string `json:"status" validate:"omitempty,oneof=pending in_progress completed cancelled"`
	ExpectedVersion      int64   `json:"expected_version" validate:"gte=0"`
}

type paymentBody struct {
	ProjectID   string          `json:"project_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	// DueDate accepts a calendar date (2006-01-02) or an RFC 3339 timestamp.
	DueDate string `json:"due_date"`
}

type payBody struct {
	Method string `json:"method" validate:"required,oneof=card upi"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func list[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items}
}

// --- requests ---

func (a *API) listRequests(w http.ResponseWriter, r *http.Request) {
	items, err := a.engine.ListRequests(r.Context(), actorFrom(r.Context()), lifecycle.RequestQuery{
		Status: lifecycle.RequestStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(items))
}

func (a *API) issueRequest(w http.ResponseWriter, r *http.Request) {
	var body issueRequestBody
	if !a.bind(w, r, &body) {
		return
	}
	req, err := a.engine.IssueRequest(r.Context(), actorFrom(r.Context()), lifecycle.RequestInput{
		ClientID:       body.ClientID,
		Title:          body.Title,
		Description:    body.Description,
		ProjectType:    body.ProjectType,
		EstimatedHours: body.EstimatedHours,
		EstimatedCost:  body.EstimatedCost,
		AdminNotes:     body.AdminNotes,
	})
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (a *API) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := a.engine.GetRequest(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) removeRequest(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.RemoveRequest(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) respondToRequest(w http.ResponseWriter, r *http.Request) {
	var body respondBody
	if !a.bind(w, r, &body) {
		return
	}
	req, project, err := a.engine.RespondToRequest(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "id"), lifecycle.Decision(body.Decision), body.Message)
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, respondResponse{Request: req, Project: project})
}

func (a *API) annotateRequest(w http.ResponseWriter, r *http.Request) {
	var body notesBody
	if !a.bind(w, r, &body) {
		return
	}
	req, err := a.engine.AnnotateRequest(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), body.Notes)
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// --- projects ---

func (a *API) listProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mine, _ := strconv.ParseBool(q.Get("mine"))
	items, err := a.engine.ListProjects(r.Context(), actorFrom(r.Context()), lifecycle.ProjectQuery{
		Mine:   mine,
		Status: lifecycle.ProjectStatus(q.Get("status")),
	})
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(items))
}

func (a *API) createProject(w http.ResponseWriter, r *http.Request) {
	var body createProjectBody
	if !a.bind(w, r, &body) {
		return
	}
	p, err := a.engine.CreateProject(r.Context(), actorFrom(r.Context()), lifecycle.ProjectInput{
		ClientID:       body.ClientID,
		Title:          body.Title,
		Description:    body.Description,
		ProjectType:    body.ProjectType,
		EstimatedHours: body.EstimatedHours,
		EstimatedCost:  body.EstimatedCost,
		Notes:          body.Notes,
	})
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := a.engine.GetProject(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) updateProgress(w http.ResponseWriter, r *http.Request) {
	var body progressBody
	if !a.bind(w, r, &body) {
		return
	}
	u := lifecycle.ProgressUpdate{
		HoursWorked:          body.HoursWorked,
		CompletionPercentage: body.CompletionPercentage,
		Notes:                body.Notes,
		ExpectedVersion:      body.ExpectedVersion,
	}
	if body.Status != nil {
		status := lifecycle.ProjectStatus(*body.Status)
		u.Status = &status
	}
	p, err := a.engine.UpdateProgress(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), u)
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- payments ---

func (a *API) listPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := a.engine.ListPayments(r.Context(), actorFrom(r.Context()), lifecycle.PaymentQuery{
		ProjectID: q.Get("project_id"),
		Status:    lifecycle.PaymentStatus(q.Get("status")),
	})
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(items))
}

func (a *API) requestPayment(w http.ResponseWriter, r *http.Request) {
	var body paymentBody
	if !a.bind(w, r, &body) {
		return
	}
	due, err := parseDueDate(body.DueDate)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "due_date must be YYYY-MM-DD or RFC 3339")
		return
	}
	p, err := a.engine.RequestPayment(r.Context(), actorFrom(r.Context()), lifecycle.PaymentInput{
		ProjectID:   body.ProjectID,
		Amount:      body.Amount,
		Description: body.Description,
		DueDate:     due,
	})
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) getPayment(w http.ResponseWriter, r *http.Request) {
	p, err := a.engine.GetPayment(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) pay(w http.ResponseWriter, r *http.Request) {
	var body payBody
	if !a.bind(w, r, &body) {
		return
	}
	p, err := a.engine.Pay(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), lifecycle.Method(body.Method))
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) confirmPayment(w http.ResponseWriter, r *http.Request) {
	p, err := a.engine.ConfirmPayment(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) totals(w http.ResponseWriter, r *http.Request) {
	t, err := a.engine.Totals(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// --- maintenance ---

func (a *API) reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := a.engine.Reconcile(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) retireClient(w http.ResponseWriter, r *http.Request) {
	report, err := a.engine.RetireClient(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func parseDueDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
