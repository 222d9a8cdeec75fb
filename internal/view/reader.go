package view

import (
	"context"

	"levra.org/internal/lifecycle"
)

// Reader is the bulk-read side a view re-reads through. Implementations
// scope and redact rows for the caller.
type Reader interface {
	ListRequests(ctx context.Context) ([]lifecycle.ProjectRequest, error)
	ListProjects(ctx context.Context) ([]lifecycle.Project, error)
	ListPayments(ctx context.Context) ([]lifecycle.Payment, error)
}

// EngineReader reads through the engine as a fixed Actor.
type EngineReader struct {
	Engine *lifecycle.Engine
	Actor  lifecycle.Actor
}

func (r EngineReader) ListRequests(ctx context.Context) ([]lifecycle.ProjectRequest, error) {
	return r.Engine.ListRequests(ctx, r.Actor, lifecycle.RequestQuery{})
}

func (r EngineReader) ListProjects(ctx context.Context) ([]lifecycle.Project, error) {
	return r.Engine.ListProjects(ctx, r.Actor, lifecycle.ProjectQuery{})
}

func (r EngineReader) ListPayments(ctx context.Context) ([]lifecycle.Payment, error) {
	return r.Engine.ListPayments(ctx, r.Actor, lifecycle.PaymentQuery{})
}
