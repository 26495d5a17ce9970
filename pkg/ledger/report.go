package ledger

import (
	"context"
	"time"

	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/shopspring/decimal"
)

// PortfolioSummary aggregates the loans started within a date range.
// ActivePending is what active loans still owe on their scheduled total,
// net of every payment recorded against them. Overdue covers both the
// overdue and defaulted statuses.
type PortfolioSummary struct {
	ActiveCount      int             `json:"active_loans_count"`
	ActivePending    decimal.Decimal `json:"active_loans_pending_amount"`
	PaidCount        int             `json:"paid_loans_count"`
	PaidPrincipal    decimal.Decimal `json:"paid_loans_principal"`
	OverdueCount     int             `json:"overdue_loans_count"`
	OverduePrincipal decimal.Decimal `json:"overdue_loans_principal"`
	TotalPrincipal   decimal.Decimal `json:"total_principal"`
	TotalInterest    decimal.Decimal `json:"total_interest"`
}

// Summary reports on the loans whose start date falls in [from, to]. Either
// bound may be nil.
func (l *Ledger) Summary(ctx context.Context, from, to *time.Time) (sum *PortfolioSummary, err error) {
	ctx, span := l.tracer.Start(ctx, "ledger.Summary")
	defer func() { l.finish(span, opSummary, err) }()

	if from != nil && to != nil && from.After(*to) {
		return nil, invalid("from", "start of range is after its end")
	}

	totals, err := l.storage.LoanTotalsByStatus(ctx, from, to)
	if err != nil {
		return nil, &PersistenceError{Op: "aggregate loans", Err: err}
	}

	sum = &PortfolioSummary{
		ActivePending:    decimal.Zero,
		PaidPrincipal:    decimal.Zero,
		OverduePrincipal: decimal.Zero,
		TotalPrincipal:   decimal.Zero,
		TotalInterest:    decimal.Zero,
	}
	for _, t := range totals {
		switch t.Status {
		case models.LoanStatusActive:
			sum.ActiveCount += t.Count
			sum.ActivePending = sum.ActivePending.Add(t.TotalAmountDue.Sub(t.Paid))
		case models.LoanStatusPaid:
			sum.PaidCount += t.Count
			sum.PaidPrincipal = sum.PaidPrincipal.Add(t.Principal)
		case models.LoanStatusOverdue, models.LoanStatusDefaulted:
			sum.OverdueCount += t.Count
			sum.OverduePrincipal = sum.OverduePrincipal.Add(t.Principal)
		}
		sum.TotalPrincipal = sum.TotalPrincipal.Add(t.Principal)
		sum.TotalInterest = sum.TotalInterest.Add(t.TotalInterest)
	}
	return sum, nil
}
