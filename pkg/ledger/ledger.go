package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/amortization"
	"github.com/mcclellann/loanbook/pkg/metrics"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/mcclellann/loanbook/pkg/receipt"
	"github.com/mcclellann/loanbook/pkg/store"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	opRegisterLoan     = "register_loan"
	opGetLoan          = "get_loan"
	opListLoans        = "list_loans"
	opUpdateLoanStatus = "update_loan_status"
	opPreviewSchedule  = "preview_schedule"
	opRecordPayment    = "record_payment"
	opListPayments     = "list_payments"
	opCalculateArrears = "calculate_arrears"
	opRegisterClient   = "register_client"
	opGetClient        = "get_client"
	opListClients      = "list_clients"
	opUpdateClient     = "update_client"
	opSetClientActive  = "set_client_active"
	opSummary          = "portfolio_summary"
)

// ReceiptGenerator produces a durable receipt for a committed payment and
// returns where it was stored.
type ReceiptGenerator interface {
	Generate(ctx context.Context, data receipt.Data) (string, error)
}

// Ledger handles the business logic for clients, loans, payments and arrears.
type Ledger struct {
	storage  store.Storage
	clock    Clock
	logger   *zap.Logger
	receipts ReceiptGenerator
	tracer   trace.Tracer
}

type Option func(*Ledger)

func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithReceiptGenerator enables receipts for recorded payments. Without it
// payments are recorded with no receipt.
func WithReceiptGenerator(g ReceiptGenerator) Option {
	return func(l *Ledger) { l.receipts = g }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage: s,
		clock:   systemClock{},
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("github.com/mcclellann/loanbook/pkg/ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoanInput is the data needed to register a loan. InterestRate is the
// effective rate per period and is required, zero included.
type LoanInput struct {
	ClientID         uuid.UUID
	Type             models.LoanType
	Principal        decimal.Decimal
	InterestRate     decimal.NullDecimal
	Term             int
	StartDate        time.Time
	FixedInstallment decimal.NullDecimal // Daily loans only
	Guarantor        models.Guarantor
	Notes            string
}

// Registration is the outcome of RegisterLoan.
type Registration struct {
	LoanID   uuid.UUID              `json:"loan_id"`
	Schedule *amortization.Schedule `json:"schedule"`
}

// LoanFilter narrows GetAllLoans; see store.LoanFilter.
type LoanFilter = store.LoanFilter

func (in *LoanInput) validate(requireClient bool) error {
	if requireClient && in.ClientID == uuid.Nil {
		return invalid("client_id", "client is required")
	}
	if in.Type == "" {
		return invalid("loan_type", "loan type is required")
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLoanType, in.Type)
	}
	if in.Principal.IsNegative() {
		return invalid("principal", "principal must not be negative")
	}
	if in.Principal.IsZero() {
		return invalid("principal", "principal must be greater than zero")
	}
	if in.Term <= 0 {
		return invalid("term", "term must be greater than zero")
	}
	if in.Term > amortization.MaxInstallments {
		return invalid("term", "term must not exceed %d periods", amortization.MaxInstallments)
	}
	if !in.InterestRate.Valid {
		return invalid("interest_rate", "interest rate is required")
	}
	if in.InterestRate.Decimal.IsNegative() {
		return invalid("interest_rate", "interest rate must not be negative")
	}
	if in.StartDate.IsZero() {
		return invalid("start_date", "start date is required")
	}
	if in.Type == models.LoanTypeDaily && in.FixedInstallment.Valid && in.FixedInstallment.Decimal.IsNegative() {
		return invalid("fixed_installment", "fixed installment must not be negative")
	}
	return nil
}

func (in *LoanInput) schedule() (*amortization.Schedule, error) {
	p := amortization.Params{
		Principal:  in.Principal,
		PeriodRate: in.InterestRate.Decimal,
		Term:       in.Term,
		Type:       in.Type,
		StartDate:  in.StartDate,
	}
	if in.Type == models.LoanTypeDaily {
		p.FixedInstallment = in.FixedInstallment
	}
	s, err := amortization.ComputeSchedule(p)
	switch {
	case errors.Is(err, amortization.ErrRateOutOfRange):
		return nil, invalid("interest_rate", "interest rate is too large for a %d period term", in.Term)
	case errors.Is(err, amortization.ErrInvalidParams):
		return nil, invalid("fixed_installment", "%s", err.Error())
	}
	return s, err
}

// PreviewSchedule computes the schedule a loan would get without storing anything.
func (l *Ledger) PreviewSchedule(ctx context.Context, in LoanInput) (s *amortization.Schedule, err error) {
	_, span := l.tracer.Start(ctx, "ledger.PreviewSchedule")
	defer func() { l.finish(span, opPreviewSchedule, err) }()

	if err := in.validate(false); err != nil {
		return nil, err
	}
	return in.schedule()
}

// RegisterLoan validates in, computes its schedule and stores the loan and all
// its installments in one transaction.
func (l *Ledger) RegisterLoan(ctx context.Context, in LoanInput, actorID string) (reg *Registration, err error) {
	ctx, span := l.tracer.Start(ctx, "ledger.RegisterLoan",
		trace.WithAttributes(attribute.String("loan_type", string(in.Type))))
	defer func() { l.finish(span, opRegisterLoan, err) }()

	if err := in.validate(true); err != nil {
		return nil, err
	}
	schedule, err := in.schedule()
	if err != nil {
		return nil, err
	}

	now := l.clock.Now().UTC()
	loan := &models.Loan{
		ID:                uuid.Must(uuid.NewV7()),
		ClientID:          in.ClientID,
		Type:              in.Type,
		Principal:         in.Principal,
		InterestRate:      in.InterestRate.Decimal,
		Term:              in.Term,
		TotalInterest:     schedule.TotalInterest,
		TotalAmountDue:    schedule.TotalAmountDue,
		InstallmentAmount: schedule.BaseInstallmentAmount,
		InstallmentCount:  schedule.InstallmentCount,
		StartDate:         dateOnly(in.StartDate),
		Status:            models.LoanStatusActive,
		Guarantor:         in.Guarantor,
		Notes:             in.Notes,
		CreatedBy:         actorID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = l.inTx(ctx, opRegisterLoan, func(tx store.Tx) error {
		if _, err := tx.GetClient(ctx, in.ClientID); err != nil {
			return fromStore("read client", "client", in.ClientID, err)
		}
		if err := tx.CreateLoan(ctx, loan); err != nil {
			return &PersistenceError{Op: "insert loan", Err: err}
		}
		for _, entry := range schedule.Installments {
			inst := &models.Installment{
				ID:                uuid.Must(uuid.NewV7()),
				LoanID:            loan.ID,
				Number:            entry.Number,
				DueDate:           entry.DueDate,
				AmountDue:         entry.AmountDue,
				AmountPaid:        decimal.Zero,
				InterestOnArrears: decimal.Zero,
				Status:            models.InstallmentStatusPending,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			if err := tx.CreateInstallment(ctx, inst); err != nil {
				return &PersistenceError{Op: "insert installment", Err: err}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.LoansRegistered.WithLabelValues(string(loan.Type)).Inc()
	l.logger.Info("loan registered",
		zap.String("loan_id", loan.ID.String()),
		zap.String("client_id", loan.ClientID.String()),
		zap.String("loan_type", string(loan.Type)),
		zap.String("principal", loan.Principal.StringFixed(2)),
		zap.Int("installments", loan.InstallmentCount),
		zap.String("actor", actorID),
	)

	return &Registration{LoanID: loan.ID, Schedule: schedule}, nil
}

// GetLoanByID returns the loan with its client fields and installments ordered by number.
func (l *Ledger) GetLoanByID(ctx context.Context, id uuid.UUID) (loan *models.Loan, err error) {
	ctx, span := l.tracer.Start(ctx, "ledger.GetLoanByID")
	defer func() { l.finish(span, opGetLoan, err) }()

	// One transaction, so a concurrent payment cascade is seen either
	// entirely or not at all.
	err = l.inTx(ctx, opGetLoan, func(tx store.Tx) error {
		found, err := tx.GetLoan(ctx, id)
		if err != nil {
			return fromStore("read loan", "loan", id, err)
		}
		found.Installments, err = tx.ListInstallments(ctx, id)
		if err != nil {
			return &PersistenceError{Op: "read installments", Err: err}
		}
		loan = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// GetAllLoans returns the loans matching every set field of f, newest start date first.
func (l *Ledger) GetAllLoans(ctx context.Context, f LoanFilter) (loans []*models.Loan, err error) {
	ctx, span := l.tracer.Start(ctx, "ledger.GetAllLoans")
	defer func() { l.finish(span, opListLoans, err) }()

	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, f.Status)
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLoanType, f.Type)
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, invalid("from", "start of range is after its end")
	}

	loans, err = l.storage.ListLoans(ctx, f)
	if err != nil {
		return nil, &PersistenceError{Op: "list loans", Err: err}
	}
	return loans, nil
}

// UpdateLoanStatus sets an administrative status. Writing the current status again succeeds.
func (l *Ledger) UpdateLoanStatus(ctx context.Context, id uuid.UUID, status models.LoanStatus, actorID string) (err error) {
	ctx, span := l.tracer.Start(ctx, "ledger.UpdateLoanStatus",
		trace.WithAttributes(attribute.String("status", string(status))))
	defer func() { l.finish(span, opUpdateLoanStatus, err) }()

	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	err = l.inTx(ctx, opUpdateLoanStatus, func(tx store.Tx) error {
		if err := tx.UpdateLoanStatus(ctx, id, status, l.clock.Now()); err != nil {
			return fromStore("update loan status", "loan", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.logger.Info("loan status updated",
		zap.String("loan_id", id.String()),
		zap.String("status", string(status)),
		zap.String("actor", actorID),
	)
	return nil
}

// inTx runs fn in a store transaction. Errors that are not already part of the
// ledger taxonomy (begin and commit failures) become a PersistenceError.
func (l *Ledger) inTx(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	err := l.storage.InTx(ctx, fn)
	if err == nil || isDomainError(err) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

func (l *Ledger) finish(span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.OperationErrors.WithLabelValues(op, errorKind(err)).Inc()
		if errorKind(err) == "persistence" {
			l.logger.Error("ledger operation failed", zap.String("operation", op), zap.Error(err))
		}
	}
	span.End()
}

// fromStore translates a store error about the entity what/id into the ledger taxonomy.
func fromStore(op, what string, id uuid.UUID, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	case errors.Is(err, store.ErrStaleWrite):
		return fmt.Errorf("%s %s: %w", what, id, ErrConcurrentUpdate)
	case errors.Is(err, store.ErrDuplicate):
		return fmt.Errorf("%w: %v", ErrDuplicateClient, err)
	default:
		return &PersistenceError{Op: op, Err: err}
	}
}
