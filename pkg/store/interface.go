package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrStaleWrite is returned when a conditional update finds the row changed since it was read.
	ErrStaleWrite = errors.New("row changed since it was read")
)

// LoanFilter narrows ListLoans. Zero-valued fields do not filter.
type LoanFilter struct {
	Status   models.LoanStatus
	ClientID uuid.UUID
	Type     models.LoanType
	From     *time.Time // Inclusive start date lower bound
	To       *time.Time // Inclusive start date upper bound
}

// PaymentFilter narrows ListPayments. Zero-valued fields do not filter.
type PaymentFilter struct {
	ClientID uuid.UUID
	LoanID   uuid.UUID
	From     *time.Time
	To       *time.Time
}

// StatusTotals aggregates the loans sharing one status. Paid is the sum of
// the payments recorded against those loans.
type StatusTotals struct {
	Status         models.LoanStatus
	Count          int
	Principal      decimal.Decimal
	TotalInterest  decimal.Decimal
	TotalAmountDue decimal.Decimal
	Paid           decimal.Decimal
}

// Reader holds the read operations of the store.
type Reader interface {
	GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error)
	ListClients(ctx context.Context, activeOnly bool) ([]*models.Client, error)

	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	ListLoans(ctx context.Context, filter LoanFilter) ([]*models.Loan, error)
	// LoanTotalsByStatus groups the loans whose start date lies in the
	// inclusive range [from, to]; a nil bound is open.
	LoanTotalsByStatus(ctx context.Context, from, to *time.Time) ([]StatusTotals, error)

	GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error)
	ListInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error)
	CountUnpaidInstallments(ctx context.Context, loanID uuid.UUID) (int, error)

	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]*models.Payment, error)
}

// Writer holds the mutating operations of the store.
type Writer interface {
	CreateClient(ctx context.Context, client *models.Client) error
	// UpdateClient rewrites the contact fields of an existing client; is_active
	// and created_at are left alone.
	UpdateClient(ctx context.Context, client *models.Client) error
	SetClientActive(ctx context.Context, id uuid.UUID, active bool, updatedAt time.Time) error
	CreateLoan(ctx context.Context, loan *models.Loan) error
	CreateInstallment(ctx context.Context, inst *models.Installment) error
	UpdateLoanStatus(ctx context.Context, id uuid.UUID, status models.LoanStatus, updatedAt time.Time) error
	// UpdateInstallmentPayment writes amount_paid, status and payment_date, but only
	// if amount_paid still equals previousPaid. Otherwise it returns ErrStaleWrite.
	UpdateInstallmentPayment(ctx context.Context, inst *models.Installment, previousPaid decimal.Decimal) error
	UpdateInstallmentArrears(ctx context.Context, id uuid.UUID, arrears decimal.Decimal, updatedAt time.Time) error
	CreatePayment(ctx context.Context, payment *models.Payment) error
	SetPaymentReceipt(ctx context.Context, id uuid.UUID, path string) error
}

// Tx is the view of the store inside a transaction.
type Tx interface {
	Reader
	Writer
}

// Storage defines the interface for database operations on clients, loans,
// installments and payments.
type Storage interface {
	Tx
	// InTx runs fn inside a single transaction. It commits when fn returns nil
	// and rolls back otherwise; fn's error is returned unchanged.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
