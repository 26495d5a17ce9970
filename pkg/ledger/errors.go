package ledger

import (
	"errors"
	"fmt"

	"github.com/mcclellann/loanbook/pkg/amortization"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyPaid      = errors.New("installment is already paid")
	ErrOverpayment      = errors.New("payment exceeds the remaining balance")
	ErrInvalidLoanType  = amortization.ErrInvalidLoanType
	ErrInvalidStatus    = errors.New("invalid loan status")
	ErrPersistence      = errors.New("persistence failure")
	ErrConcurrentUpdate = errors.New("installment was modified concurrently")
	ErrDuplicateClient  = errors.New("a client with this DNI already exists")
)

// ValidationError reports a single rejected input field. It matches ErrValidation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a storage failure. It matches ErrPersistence and
// unwraps to the underlying store error.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence error: " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

var domainErrors = []error{
	ErrValidation, ErrNotFound, ErrAlreadyPaid, ErrOverpayment, ErrInvalidLoanType,
	ErrInvalidStatus, ErrPersistence, ErrConcurrentUpdate, ErrDuplicateClient,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// errorKind is the metrics label for err.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyPaid):
		return "already_paid"
	case errors.Is(err, ErrOverpayment):
		return "overpayment"
	case errors.Is(err, ErrInvalidLoanType):
		return "invalid_loan_type"
	case errors.Is(err, ErrInvalidStatus):
		return "invalid_status"
	case errors.Is(err, ErrConcurrentUpdate):
		return "concurrent_update"
	case errors.Is(err, ErrDuplicateClient):
		return "duplicate_client"
	default:
		return "persistence"
	}
}
