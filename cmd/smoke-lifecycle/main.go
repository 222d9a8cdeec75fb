package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"levra.org/internal/ids"
	"levra.org/internal/lifecycle"
	"levra.org/internal/view"
	"levra.org/pkg/client"
)

func main() {
	baseURL := os.Getenv("PORTAL_SMOKE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	adminID := os.Getenv("PORTAL_SMOKE_ADMIN")
	if adminID == "" {
		adminID = "admin"
	}
	clientID := "smoke-" + ids.New()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	base := client.New(baseURL, "")
	admin := login(ctx, base, adminID)
	customer := login(ctx, base, clientID)

	me, err := admin.Me(ctx)
	if err != nil {
		log.Fatalf("me: %v", err)
	}
	if !me.Admin {
		log.Fatalf("%s is not an administrator; grant it first", adminID)
	}

	// The client's view must pick up everything below without polling.
	viewCtx, stopView := context.WithCancel(ctx)
	defer stopView()
	dashboard := view.NewClient(clientID, customer, customer, view.WithMode(view.Incremental))
	go func() {
		if err := dashboard.Run(viewCtx); err != nil {
			log.Printf("view stopped: %v", err)
		}
	}()

	hours := 40
	req, err := admin.IssueRequest(ctx, client.IssueRequestInput{
		ClientID:       clientID,
		Title:          "Smoke engagement",
		ProjectType:    "web-development",
		EstimatedHours: &hours,
		EstimatedCost:  decimal.NewNullDecimal(decimal.NewFromInt(25000)),
		AdminNotes:     "internal",
	})
	if err != nil {
		log.Fatalf("issue request: %v", err)
	}
	visible, err := customer.GetRequest(ctx, req.ID)
	if err != nil {
		log.Fatalf("client read request: %v", err)
	}
	if visible.AdminNotes != "" {
		log.Fatal("admin notes leaked to the client")
	}

	_, project, err := customer.Respond(ctx, req.ID, lifecycle.DecisionAccept, "let's go")
	if err != nil {
		log.Fatalf("accept: %v", err)
	}
	if project == nil || project.RequestID != req.ID {
		log.Fatalf("accept did not open a project for %s", req.ID)
	}

	pct := 50
	project, err = admin.UpdateProgress(ctx, project.ID, client.ProgressInput{CompletionPercentage: &pct, ExpectedVersion: project.Version})
	if err != nil {
		log.Fatalf("progress: %v", err)
	}
	if _, err := admin.UpdateProgress(ctx, project.ID, client.ProgressInput{CompletionPercentage: &pct, ExpectedVersion: project.Version - 1}); !errors.Is(err, lifecycle.ErrInvalidState) {
		log.Fatalf("stale progress update: want conflict, got %v", err)
	}

	amount := decimal.NewFromInt(12500)
	payment, err := admin.RequestPayment(ctx, client.PaymentInput{ProjectID: project.ID, Amount: amount, Description: "Milestone 1"})
	if err != nil {
		log.Fatalf("request payment: %v", err)
	}
	if _, err := customer.Pay(ctx, payment.ID, lifecycle.MethodUPI); err != nil {
		log.Fatalf("pay: %v", err)
	}
	if _, err := admin.ConfirmPayment(ctx, payment.ID); err != nil {
		log.Fatalf("confirm: %v", err)
	}

	totals, err := customer.Totals(ctx)
	if err != nil {
		log.Fatalf("totals: %v", err)
	}
	if !totals.Paid.Equal(amount) || !totals.Pending.IsZero() {
		log.Fatalf("unexpected totals: paid=%s pending=%s", totals.Paid, totals.Pending)
	}

	if err := converge(ctx, dashboard, project.ID, payment.ID); err != nil {
		log.Fatalf("view: %v", err)
	}

	report, err := admin.RetireClient(ctx, clientID)
	if err != nil {
		log.Fatalf("retire: %v", err)
	}

	fmt.Printf("✅ lifecycle smoke test passed: request=%s project=%s payment=%s cancelled=%d\n",
		req.ID, project.ID, payment.ID, len(report.ProjectsCancelled))
}

func login(ctx context.Context, base *client.Client, user string) *client.Client {
	tok, err := base.IssueToken(ctx, user)
	if err != nil {
		log.Fatalf("token for %s: %v", user, err)
	}
	return base.WithToken(tok.Token)
}

func converge(ctx context.Context, v *view.View, projectID, paymentID string) error {
	for {
		s := v.Snapshot()
		if p, ok := s.Project(projectID); ok && p.CompletionPercentage == 50 {
			for _, row := range s.PaymentRows() {
				if row.ID == paymentID && row.AdminConfirmed && !row.Dangling {
					return nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("snapshot did not converge: %w", ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}
