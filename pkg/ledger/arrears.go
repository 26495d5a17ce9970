package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/metrics"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/mcclellann/loanbook/pkg/store"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	ReasonPaid             = "installment is already paid"
	ReasonNotDue           = "installment is not yet due"
	ReasonPrincipalCovered = "principal is already covered"
)

// ArrearsResult is the penalty interest computed for an installment. Reason is
// set when nothing was written.
type ArrearsResult struct {
	Amount      decimal.Decimal `json:"arrears_amount"`
	DaysOverdue int             `json:"days_overdue"`
	Reason      string          `json:"reason,omitempty"`
}

// CalculateArrears recomputes the penalty interest of an overdue installment as
// unpaid base amount * dailyRate * whole days overdue, and replaces the stored
// value with it. The day of the due date itself never counts.
func (l *Ledger) CalculateArrears(ctx context.Context, installmentID uuid.UUID, dailyRate decimal.Decimal) (res *ArrearsResult, err error) {
	ctx, span := l.tracer.Start(ctx, "ledger.CalculateArrears",
		trace.WithAttributes(attribute.String("installment_id", installmentID.String())))
	defer func() { l.finish(span, opCalculateArrears, err) }()

	if installmentID == uuid.Nil {
		return nil, invalid("installment_id", "installment is required")
	}
	if dailyRate.IsNegative() {
		return nil, invalid("rate", "daily arrears rate must not be negative")
	}

	now := l.clock.Now()
	res = &ArrearsResult{Amount: decimal.Zero}
	outcome := "applied"

	err = l.inTx(ctx, opCalculateArrears, func(tx store.Tx) error {
		inst, err := tx.GetInstallment(ctx, installmentID)
		if err != nil {
			return fromStore("read installment", "installment", installmentID, err)
		}

		if inst.Status == models.InstallmentStatusPaid {
			res.Reason, outcome = ReasonPaid, "paid"
			return nil
		}

		days := daysOverdue(inst.DueDate, now)
		if days <= 0 {
			res.Reason, outcome = ReasonNotDue, "not_due"
			return nil
		}
		res.DaysOverdue = days

		principalOwed := inst.AmountDue.Sub(inst.AmountPaid)
		if !principalOwed.IsPositive() {
			res.Reason, outcome = ReasonPrincipalCovered, "principal_covered"
			return nil
		}

		res.Amount = principalOwed.Mul(dailyRate).Mul(decimal.NewFromInt(int64(days))).Round(2)
		if err := tx.UpdateInstallmentArrears(ctx, inst.ID, res.Amount, now); err != nil {
			return fromStore("update arrears", "installment", inst.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ArrearsCalculations.WithLabelValues(outcome).Inc()
	if res.Reason == "" {
		l.logger.Info("arrears applied",
			zap.String("installment_id", installmentID.String()),
			zap.String("amount", res.Amount.StringFixed(2)),
			zap.Int("days_overdue", res.DaysOverdue),
		)
	}
	return res, nil
}

// daysOverdue is the number of whole days between the end of the due day and
// the start of today, in UTC. It is zero until a full day has started after the
// due day ended.
func daysOverdue(due, now time.Time) int {
	endOfDueDay := dateOnly(due).AddDate(0, 0, 1)
	if now.Before(endOfDueDay) {
		return 0
	}
	return int(dateOnly(now).Sub(endOfDueDay).Hours() / 24)
}
