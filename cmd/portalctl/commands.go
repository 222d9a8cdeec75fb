package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"levra.org/internal/lifecycle"
	"levra.org/pkg/client"
)

func requestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "request", Short: "Manage project requests"}
	cmd.AddCommand(requestListCmd())
	cmd.AddCommand(requestIssueCmd())
	cmd.AddCommand(requestRespondCmd())
	cmd.AddCommand(requestNotesCmd())
	cmd.AddCommand(requestRemoveCmd())
	return cmd
}

func requestListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newClient()
			var (
				items []lifecycle.ProjectRequest
				err   error
			)
			if status != "" {
				items, err = c.RequestsByStatus(cmd.Context(), lifecycle.RequestStatus(status))
			} else {
				items, err = c.ListRequests(cmd.Context())
			}
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			renderRequests(os.Stdout, items)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, accepted, declined)")
	return cmd
}

func requestIssueCmd() *cobra.Command {
	var (
		in    client.IssueRequestInput
		hours int
		cost  string
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Propose a project to a client",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("hours") {
				in.EstimatedHours = &hours
			}
			if cost != "" {
				d, err := decimal.NewFromString(cost)
				if err != nil {
					return fmt.Errorf("--cost: %w", err)
				}
				in.EstimatedCost = decimal.NewNullDecimal(d)
			}
			r, err := newClient().IssueRequest(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printRequest(r)
		},
	}
	cmd.Flags().StringVar(&in.ClientID, "client", "", "client id")
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.ProjectType, "type", "", "project type from the catalog")
	cmd.Flags().IntVar(&hours, "hours", 0, "estimated hours")
	cmd.Flags().StringVar(&cost, "cost", "", "estimated cost")
	cmd.Flags().StringVar(&in.AdminNotes, "notes", "", "internal notes, hidden from the client")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func requestRespondCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "respond <id> accept|decline",
		Short: "Answer a pending request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision := lifecycle.Decision(strings.ToLower(args[1]))
			if decision != lifecycle.DecisionAccept && decision != lifecycle.DecisionDecline {
				return errors.New("decision must be accept or decline")
			}
			r, p, err := newClient().Respond(cmd.Context(), args[0], decision, message)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"request": r, "project": p})
			}
			fmt.Printf("request %s %s\n", r.ID, r.Status)
			if p != nil {
				fmt.Printf("project %s opened\n", p.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "message for the administrator")
	return cmd
}

func requestNotesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notes <id> <text>",
		Short: "Replace a request's internal notes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newClient().AnnotateRequest(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printRequest(r)
		},
	}
}

func requestRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().RemoveRequest(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("request %s removed\n", args[0])
			return nil
		},
	}
}

func printRequest(r *lifecycle.ProjectRequest) error {
	if viper.GetBool("json") {
		return printJSON(r)
	}
	renderRequests(os.Stdout, []lifecycle.ProjectRequest{*r})
	return nil
}

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Manage projects"}
	cmd.AddCommand(projectListCmd())
	cmd.AddCommand(projectCreateCmd())
	cmd.AddCommand(projectProgressCmd())
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := newClient().ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			renderProjects(os.Stdout, items)
			return nil
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var (
		in    client.CreateProjectInput
		hours int
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a project without a request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("hours") {
				in.EstimatedHours = &hours
			}
			p, err := newClient().CreateProject(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printProject(p)
		},
	}
	cmd.Flags().StringVar(&in.ClientID, "client", "", "client id")
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.ProjectType, "type", "", "project type from the catalog")
	cmd.Flags().IntVar(&hours, "hours", 0, "estimated hours")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func projectProgressCmd() *cobra.Command {
	var (
		in                client.ProgressInput
		hours, completion int
		notes, status     string
	)
	cmd := &cobra.Command{
		Use:   "progress <id>",
		Short: "Record hours, completion or status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("hours") {
				in.HoursWorked = &hours
			}
			if flags.Changed("completion") {
				in.CompletionPercentage = &completion
			}
			if flags.Changed("notes") {
				in.Notes = &notes
			}
			if flags.Changed("status") {
				in.Status = &status
			}
			p, err := newClient().UpdateProgress(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			return printProject(p)
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 0, "hours worked so far")
	cmd.Flags().IntVar(&completion, "completion", 0, "completion percentage")
	cmd.Flags().StringVar(&notes, "notes", "", "progress notes")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().Int64Var(&in.ExpectedVersion, "if-version", 0, "fail unless the project is at this version")
	return cmd
}

func printProject(p *lifecycle.Project) error {
	if viper.GetBool("json") {
		return printJSON(p)
	}
	renderProjects(os.Stdout, []lifecycle.Project{*p})
	return nil
}

func paymentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "payment", Short: "Manage payments"}
	cmd.AddCommand(paymentListCmd())
	cmd.AddCommand(paymentRequestCmd())
	cmd.AddCommand(paymentPayCmd())
	cmd.AddCommand(paymentConfirmCmd())
	cmd.AddCommand(paymentTotalsCmd())
	return cmd
}

func paymentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List payments with their projects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newClient()
			payments, err := c.ListPayments(cmd.Context())
			if err != nil {
				return err
			}
			projects, err := c.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			rows := paymentRows(payments, projects)
			if viper.GetBool("json") {
				return printJSON(rows)
			}
			renderPayments(os.Stdout, rows)
			return nil
		},
	}
}

func paymentRequestCmd() *cobra.Command {
	var (
		in     client.PaymentInput
		amount string
	)
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Charge a client for a project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("--amount: %w", err)
			}
			in.Amount = d
			p, err := newClient().RequestPayment(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printPayment(p)
		},
	}
	cmd.Flags().StringVar(&in.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&amount, "amount", "", "amount")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.DueDate, "due", "", "due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func paymentPayCmd() *cobra.Command {
	var method string
	cmd := &cobra.Command{
		Use:   "pay <id>",
		Short: "Settle a pending payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newClient().Pay(cmd.Context(), args[0], lifecycle.Method(method))
			if err != nil {
				return err
			}
			return printPayment(p)
		},
	}
	cmd.Flags().StringVar(&method, "method", string(lifecycle.MethodCard), "payment method (card, upi)")
	return cmd
}

func paymentConfirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <id>",
		Short: "Confirm a settled payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newClient().ConfirmPayment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printPayment(p)
		},
	}
}

func paymentTotalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "totals",
		Short: "Show paid, pending and overdue sums",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := newClient().Totals(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(t)
			}
			renderTotals(os.Stdout, *t)
			return nil
		},
	}
}

func printPayment(p *lifecycle.Payment) error {
	if viper.GetBool("json") {
		return printJSON(p)
	}
	renderPayments(os.Stdout, paymentRows([]lifecycle.Payment{*p}, nil))
	return nil
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "admin", Short: "Maintenance operations"}
	cmd.AddCommand(&cobra.Command{
		Use:   "reconcile",
		Short: "Repair interrupted request acceptances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := newClient().Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(report)
			}
			fmt.Printf("repaired %d request(s)\n", len(report.Repaired))
			for _, id := range report.Repaired {
				fmt.Println(" ", id)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "retire <client>",
		Short: "Close out everything in flight for a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := newClient().RetireClient(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(report)
			}
			fmt.Printf("requests removed: %d, projects cancelled: %d, payments failed: %d\n",
				len(report.RequestsRemoved), len(report.ProjectsCancelled), len(report.PaymentsFailed))
			return nil
		},
	})
	return cmd
}
