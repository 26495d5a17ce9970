package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanType string

const (
	LoanTypeMonthly LoanType = "monthly"
	LoanTypeDaily   LoanType = "daily"
)

// Valid reports whether t is one of the supported amortization regimes.
func (t LoanType) Valid() bool {
	return t == LoanTypeMonthly || t == LoanTypeDaily
}

type LoanStatus string

const (
	LoanStatusActive    LoanStatus = "active"
	LoanStatusPaid      LoanStatus = "paid"
	LoanStatusOverdue   LoanStatus = "overdue"
	LoanStatusDefaulted LoanStatus = "defaulted"
	LoanStatusCancelled LoanStatus = "cancelled"
)

func (s LoanStatus) Valid() bool {
	switch s {
	case LoanStatusActive, LoanStatusPaid, LoanStatusOverdue, LoanStatusDefaulted, LoanStatusCancelled:
		return true
	}
	return false
}

type InstallmentStatus string

const (
	InstallmentStatusPending       InstallmentStatus = "pending"
	InstallmentStatusPartiallyPaid InstallmentStatus = "partially_paid"
	InstallmentStatusPaid          InstallmentStatus = "paid"
	InstallmentStatusOverdue       InstallmentStatus = "overdue"
	InstallmentStatusDefaulted     InstallmentStatus = "defaulted"
)

type Client struct {
	ID         uuid.UUID `json:"id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	DNI        string    `json:"dni"` // National identity document number, unique
	Phone      string    `json:"phone"`
	Address    string    `json:"address"`
	Occupation string    `json:"occupation,omitempty"`
	Email      string    `json:"email,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FullName is the display name used on loan listings and receipts.
func (c *Client) FullName() string {
	return c.FirstName + " " + c.LastName
}

// Guarantor is the optional co-signer recorded on a loan.
type Guarantor struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	DNI       string `json:"dni,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
}

type Loan struct {
	ID                uuid.UUID       `json:"id"`
	ClientID          uuid.UUID       `json:"client_id"`
	Type              LoanType        `json:"loan_type"`
	Principal         decimal.Decimal `json:"principal"`
	InterestRate      decimal.Decimal `json:"interest_rate"` // Effective rate per period (month or day)
	Term              int             `json:"term"`          // Months for monthly loans, days for daily loans
	TotalInterest     decimal.Decimal `json:"total_interest"`
	TotalAmountDue    decimal.Decimal `json:"total_amount_due"`
	InstallmentAmount decimal.Decimal `json:"installment_amount"` // Amount of every installment but the last
	InstallmentCount  int             `json:"installment_count"`
	StartDate         time.Time       `json:"start_date"`
	Status            LoanStatus      `json:"status"`
	Guarantor         Guarantor       `json:"guarantor"`
	Notes             string          `json:"notes,omitempty"`
	CreatedBy         string          `json:"created_by,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`

	// Denormalized on reads.
	ClientFirstName string         `json:"client_first_name,omitempty"`
	ClientLastName  string         `json:"client_last_name,omitempty"`
	ClientDNI       string         `json:"client_dni,omitempty"`
	Installments    []*Installment `json:"installments,omitempty"`
}

type Installment struct {
	ID                uuid.UUID         `json:"id"`
	LoanID            uuid.UUID         `json:"loan_id"`
	Number            int               `json:"number"`
	DueDate           time.Time         `json:"due_date"`
	AmountDue         decimal.Decimal   `json:"amount_due"`
	AmountPaid        decimal.Decimal   `json:"amount_paid"`
	InterestOnArrears decimal.Decimal   `json:"interest_on_arrears"`
	Status            InstallmentStatus `json:"status"`
	PaymentDate       *time.Time        `json:"payment_date,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// TotalOwed is the base amount plus any accrued penalty interest.
func (i *Installment) TotalOwed() decimal.Decimal {
	return i.AmountDue.Add(i.InterestOnArrears)
}

// Remaining is what is still owed on the installment, rounded to cents.
func (i *Installment) Remaining() decimal.Decimal {
	return i.TotalOwed().Sub(i.AmountPaid).Round(2)
}

// Payment is an append-only ledger entry. Only ReceiptPath is ever filled in after insert.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	InstallmentID uuid.UUID       `json:"installment_id"`
	LoanID        uuid.UUID       `json:"loan_id"`
	ClientID      uuid.UUID       `json:"client_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaidAt        time.Time       `json:"paid_at"`
	Method        string          `json:"method,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedBy     string          `json:"created_by,omitempty"`
	ReceiptPath   string          `json:"receipt_path,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`

	// Denormalized on reads.
	InstallmentNumber int    `json:"installment_number,omitempty"`
	ClientFirstName   string `json:"client_first_name,omitempty"`
	ClientLastName    string `json:"client_last_name,omitempty"`
	ClientDNI         string `json:"client_dni,omitempty"`
}
