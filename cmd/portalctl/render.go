package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"

	"levra.org/internal/lifecycle"
	"levra.org/internal/view"
)

func newTable(w io.Writer, title string, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	if title != "" {
		tw.SetTitle(title)
	}
	tw.AppendHeader(header)
	return tw
}

func renderRequests(w io.Writer, items []lifecycle.ProjectRequest) {
	tw := newTable(w, "Requests", table.Row{"ID", "Client", "Title", "Type", "Cost", "Status", "Created"})
	for _, r := range items {
		tw.AppendRow(table.Row{r.ID, r.UserID, r.Title, r.ProjectType, nullMoney(r.EstimatedCost), r.Status, day(&r.CreatedAt)})
	}
	tw.Render()
}

func renderProjects(w io.Writer, items []lifecycle.Project) {
	tw := newTable(w, "Projects", table.Row{"ID", "Client", "Title", "Status", "Hours", "Done", "Version"})
	for _, p := range items {
		hours := fmtInt(p.HoursWorked)
		if p.EstimatedHours != nil {
			hours += "/" + fmtInt(*p.EstimatedHours)
		}
		tw.AppendRow(table.Row{p.ID, p.UserID, p.Title, p.Status, hours, fmtInt(p.CompletionPercentage) + "%", p.Version})
	}
	tw.Render()
}

func renderPayments(w io.Writer, rows []view.PaymentRow) {
	tw := newTable(w, "Payments", table.Row{"ID", "Project", "Reference", "Amount", "Due", "Status", "Confirmed"})
	for _, p := range rows {
		project := p.ProjectTitle
		if p.Dangling {
			project = p.ProjectID + " (unknown)"
		}
		tw.AppendRow(table.Row{p.ID, project, p.ReferenceNumber, money(p.Amount, p.Currency), day(p.DueDate), p.Status, p.AdminConfirmed})
	}
	tw.Render()
}

func renderTotals(w io.Writer, t lifecycle.Totals) {
	tw := newTable(w, "", table.Row{"Paid", "Pending", "Overdue"})
	tw.AppendRow(table.Row{money(t.Paid, t.Currency), money(t.Pending, t.Currency), money(t.Overdue, t.Currency)})
	tw.Render()
}

// renderSnapshot prints every collection of a view snapshot.
func renderSnapshot(w io.Writer, s view.Snapshot) {
	renderRequests(w, s.Requests)
	renderProjects(w, s.Projects)
	renderPayments(w, s.PaymentRows())
	renderTotals(w, s.Totals)
	if len(s.Stale) > 0 {
		fmt.Fprintf(w, "stale: %s\n", strings.Join(s.Stale, ", "))
	}
}

// paymentRows joins payments against projects the caller can see.
func paymentRows(payments []lifecycle.Payment, projects []lifecycle.Project) []view.PaymentRow {
	return view.Snapshot{Payments: payments, Projects: projects}.PaymentRows()
}

func money(d decimal.Decimal, currency string) string {
	return d.StringFixed(2) + " " + currency
}

func nullMoney(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return money(d.Decimal, lifecycle.Currency)
}

func day(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format(time.DateOnly)
}

func fmtInt(n int) string { return strconv.Itoa(n) }
