package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/metrics"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/mcclellann/loanbook/pkg/receipt"
	"github.com/mcclellann/loanbook/pkg/store"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// paymentTolerance absorbs one cent of rounding when comparing against what is owed.
var paymentTolerance = decimal.New(1, -2)

// PaymentInput describes money received against one installment.
type PaymentInput struct {
	InstallmentID uuid.UUID
	Amount        decimal.Decimal
	PaidAt        time.Time
	Method        string
	Notes         string
}

// PaymentResult is the outcome of RecordPayment. ReceiptPath is empty when no
// receipt could be produced; the payment is recorded regardless.
type PaymentResult struct {
	PaymentID         uuid.UUID                `json:"payment_id"`
	ReceiptPath       string                   `json:"receipt_path,omitempty"`
	InstallmentStatus models.InstallmentStatus `json:"installment_status"`
	LoanStatus        models.LoanStatus        `json:"loan_status"`
	Remaining         decimal.Decimal          `json:"remaining"`
}

// PaymentFilter narrows GetAllPayments; see store.PaymentFilter.
type PaymentFilter = store.PaymentFilter

func (in *PaymentInput) validate() error {
	if in.InstallmentID == uuid.Nil {
		return invalid("installment_id", "installment is required")
	}
	if !in.Amount.Round(2).IsPositive() {
		return invalid("amount", "amount must be greater than zero")
	}
	if in.PaidAt.IsZero() {
		return invalid("paid_at", "payment date is required")
	}
	return nil
}

// RecordPayment applies a payment to an installment. Inserting the payment,
// updating the installment and, when it was the last unpaid one, marking the
// loan paid happen in one transaction. The receipt is generated after commit.
func (l *Ledger) RecordPayment(ctx context.Context, in PaymentInput, actorID string) (res *PaymentResult, err error) {
	ctx, span := l.tracer.Start(ctx, "ledger.RecordPayment",
		trace.WithAttributes(attribute.String("installment_id", in.InstallmentID.String())))
	defer func() { l.finish(span, opRecordPayment, err) }()

	if err := in.validate(); err != nil {
		return nil, err
	}
	amount := in.Amount.Round(2)
	now := l.clock.Now().UTC()

	var (
		payment *models.Payment
		inst    *models.Installment
		loan    *models.Loan
	)
	err = l.inTx(ctx, opRecordPayment, func(tx store.Tx) error {
		var err error
		inst, err = tx.GetInstallment(ctx, in.InstallmentID)
		if err != nil {
			return fromStore("read installment", "installment", in.InstallmentID, err)
		}
		loan, err = tx.GetLoan(ctx, inst.LoanID)
		if err != nil {
			return fromStore("read loan", "loan", inst.LoanID, err)
		}

		if inst.Status == models.InstallmentStatusPaid {
			return fmt.Errorf("installment %d of loan %s: %w", inst.Number, loan.ID, ErrAlreadyPaid)
		}
		remaining := inst.Remaining()
		if amount.GreaterThan(remaining.Add(paymentTolerance)) {
			return fmt.Errorf("%w: amount %s, remaining %s", ErrOverpayment, amount.StringFixed(2), remaining.StringFixed(2))
		}

		payment = &models.Payment{
			ID:            uuid.Must(uuid.NewV7()),
			InstallmentID: inst.ID,
			LoanID:        loan.ID,
			ClientID:      loan.ClientID,
			Amount:        amount,
			PaidAt:        in.PaidAt.UTC(),
			Method:        in.Method,
			Notes:         in.Notes,
			CreatedBy:     actorID,
			CreatedAt:     now,
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return &PersistenceError{Op: "insert payment", Err: err}
		}

		previousPaid := inst.AmountPaid
		inst.AmountPaid = previousPaid.Add(amount).Round(2)
		if inst.AmountPaid.GreaterThanOrEqual(inst.TotalOwed().Sub(paymentTolerance)) {
			inst.Status = models.InstallmentStatusPaid
		} else if inst.AmountPaid.IsPositive() {
			inst.Status = models.InstallmentStatusPartiallyPaid
		}
		paidAt := payment.PaidAt
		inst.PaymentDate = &paidAt
		inst.UpdatedAt = now
		if err := tx.UpdateInstallmentPayment(ctx, inst, previousPaid); err != nil {
			return fromStore("update installment", "installment", inst.ID, err)
		}

		if inst.Status != models.InstallmentStatusPaid || loan.Status == models.LoanStatusPaid {
			return nil
		}
		unpaid, err := tx.CountUnpaidInstallments(ctx, loan.ID)
		if err != nil {
			return &PersistenceError{Op: "count unpaid installments", Err: err}
		}
		if unpaid == 0 {
			if err := tx.UpdateLoanStatus(ctx, loan.ID, models.LoanStatusPaid, now); err != nil {
				return fromStore("update loan status", "loan", loan.ID, err)
			}
			loan.Status = models.LoanStatusPaid
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PaymentsRecorded.WithLabelValues(string(inst.Status)).Inc()
	l.logger.Info("payment recorded",
		zap.String("payment_id", payment.ID.String()),
		zap.String("installment_id", inst.ID.String()),
		zap.String("amount", payment.Amount.StringFixed(2)),
		zap.String("installment_status", string(inst.Status)),
		zap.String("actor", actorID),
	)
	if loan.Status == models.LoanStatusPaid {
		l.logger.Info("loan fully paid", zap.String("loan_id", loan.ID.String()))
	}

	return &PaymentResult{
		PaymentID:         payment.ID,
		ReceiptPath:       l.issueReceipt(ctx, payment, inst, loan),
		InstallmentStatus: inst.Status,
		LoanStatus:        loan.Status,
		Remaining:         inst.Remaining(),
	}, nil
}

// issueReceipt generates and records the receipt of a committed payment.
// Failures are logged and yield an empty path.
func (l *Ledger) issueReceipt(ctx context.Context, payment *models.Payment, inst *models.Installment, loan *models.Loan) string {
	if l.receipts == nil {
		return ""
	}
	log := l.logger.With(zap.String("payment_id", payment.ID.String()))

	client, err := l.storage.GetClient(ctx, loan.ClientID)
	if err != nil {
		log.Warn("receipt skipped: client lookup failed", zap.Error(err))
		return ""
	}

	path, err := l.receipts.Generate(ctx, receipt.Data{
		Payment:     payment,
		Installment: inst,
		Loan:        loan,
		Client:      client,
	})
	if err != nil {
		log.Warn("receipt generation failed", zap.Error(err))
		return ""
	}

	if err := l.storage.SetPaymentReceipt(ctx, payment.ID, path); err != nil {
		log.Warn("receipt generated but not linked to payment", zap.String("path", path), zap.Error(err))
		return ""
	}
	payment.ReceiptPath = path
	return path
}

// GetAllPayments lists payments matching every set field of f, most recent first.
func (l *Ledger) GetAllPayments(ctx context.Context, f PaymentFilter) (payments []*models.Payment, err error) {
	ctx, span := l.tracer.Start(ctx, "ledger.GetAllPayments")
	defer func() { l.finish(span, opListPayments, err) }()

	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, invalid("from", "start of range is after its end")
	}
	payments, err = l.storage.ListPayments(ctx, f)
	if err != nil {
		return nil, &PersistenceError{Op: "list payments", Err: err}
	}
	return payments, nil
}
