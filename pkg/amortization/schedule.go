// Package amortization builds installment schedules for monthly (French annuity)
// and daily (simple interest) loans. It performs no I/O.
package amortization

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/shopspring/decimal"
)

// MaxInstallments bounds the length of any schedule, whether it comes from
// the term or from a fixed daily installment.
const MaxInstallments = 10000

var (
	ErrInvalidLoanType = errors.New("invalid loan type")
	ErrInvalidParams   = errors.New("invalid schedule parameters")
	// ErrRateOutOfRange wraps ErrInvalidParams when the annuity cannot be
	// represented for the given rate and term.
	ErrRateOutOfRange = fmt.Errorf("%w: interest rate out of range", ErrInvalidParams)
)

var reconcileThreshold = decimal.New(1, -3)

// Params are the inputs of a schedule computation. PeriodRate is the effective
// rate for one period: a month for monthly loans, a day for daily loans.
type Params struct {
	Principal        decimal.Decimal
	PeriodRate       decimal.Decimal
	Term             int
	Type             models.LoanType
	StartDate        time.Time
	FixedInstallment decimal.NullDecimal // Daily loans only
}

// Entry is one scheduled installment.
type Entry struct {
	Number    int             `json:"number"`
	DueDate   time.Time       `json:"due_date"`
	AmountDue decimal.Decimal `json:"amount_due"`
}

// Schedule is the result of ComputeSchedule. BaseInstallmentAmount is the
// amount of every installment except possibly the last one: the annuity for
// monthly loans, the even split or the requested fixed amount for daily loans.
type Schedule struct {
	Installments          []Entry         `json:"installments"`
	TotalInterest         decimal.Decimal `json:"total_interest"`
	TotalAmountDue        decimal.Decimal `json:"total_amount_due"`
	BaseInstallmentAmount decimal.Decimal `json:"base_installment_amount"`
	InstallmentCount      int             `json:"installment_count"`
}

// Sum adds up the amounts of all installments.
func (s *Schedule) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, e := range s.Installments {
		sum = sum.Add(e.AmountDue)
	}
	return sum
}

// ComputeSchedule builds the installment schedule for p. The amounts always
// add up exactly to TotalAmountDue; rounding drift lands on the last installment.
func ComputeSchedule(p Params) (*Schedule, error) {
	if !p.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLoanType, p.Type)
	}
	if p.Principal.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: principal must be positive", ErrInvalidParams)
	}
	if p.Term <= 0 {
		return nil, fmt.Errorf("%w: term must be positive", ErrInvalidParams)
	}
	if p.Term > MaxInstallments {
		return nil, fmt.Errorf("%w: term must not exceed %d periods", ErrInvalidParams, MaxInstallments)
	}
	if p.PeriodRate.IsNegative() {
		return nil, fmt.Errorf("%w: rate must not be negative", ErrInvalidParams)
	}

	start := dateOnly(p.StartDate)

	var (
		s   *Schedule
		err error
	)
	switch p.Type {
	case models.LoanTypeMonthly:
		s, err = monthlySchedule(p.Principal, p.PeriodRate, p.Term, start)
	case models.LoanTypeDaily:
		s, err = dailySchedule(p.Principal, p.PeriodRate, p.Term, start, p.FixedInstallment)
	}
	if err != nil {
		return nil, err
	}

	reconcile(s)
	s.InstallmentCount = len(s.Installments)
	return s, nil
}

// monthlySchedule implements French amortization: a constant installment whose
// interest share shrinks as the balance is repaid.
func monthlySchedule(principal, rate decimal.Decimal, term int, start time.Time) (*Schedule, error) {
	n := decimal.NewFromInt(int64(term))

	var installment, totalInterest decimal.Decimal
	if rate.IsZero() {
		installment = principal.Div(n).Round(2)
		totalInterest = decimal.Zero
	} else {
		var err error
		if installment, err = annuityPayment(principal, rate, term); err != nil {
			return nil, err
		}
		// Rates small enough to vanish in the cent rounding must not price
		// the loan below its principal.
		totalInterest = decimal.Max(installment.Mul(n).Sub(principal).Round(2), decimal.Zero)
	}

	s := &Schedule{
		Installments:          make([]Entry, 0, term),
		TotalInterest:         totalInterest,
		TotalAmountDue:        principal.Add(totalInterest).Round(2),
		BaseInstallmentAmount: installment,
	}

	remaining := principal
	for i := 1; i <= term; i++ {
		amount := installment
		interest := decimal.Zero
		principalPart := installment
		if !rate.IsZero() {
			interest = remaining.Mul(rate).Round(2)
			principalPart = installment.Sub(interest)
		}

		// Last period: take whatever balance is left so it reaches exactly zero.
		if i == term {
			principalPart = remaining.Round(2)
			amount = principalPart.Add(interest)
		}

		s.Installments = append(s.Installments, Entry{
			Number:    i,
			DueDate:   addMonths(start, i),
			AmountDue: amount,
		})
		remaining = remaining.Sub(principalPart)
	}
	return s, nil
}

// annuityPayment computes P * r * (1+r)^n / ((1+r)^n - 1) rounded to cents,
// evaluated as P * r / (1 - (1+r)^-n) so that neither long terms nor tiny
// rates overflow or cancel. The math is float64; the result is decimal.
func annuityPayment(principal, rate decimal.Decimal, term int) (decimal.Decimal, error) {
	r := rate.InexactFloat64()
	denom := -math.Expm1(-float64(term) * math.Log1p(r))
	payment := principal.InexactFloat64() * r / denom
	if !(denom > 0) || math.IsInf(payment, 0) || math.IsNaN(payment) || payment <= 0 {
		return decimal.Zero, fmt.Errorf("%w: rate %s over %d periods", ErrRateOutOfRange, rate, term)
	}
	return decimal.NewFromFloat(payment).Round(2), nil
}

// dailySchedule applies simple interest over the whole term and splits the
// total either evenly across term days or into fixed-size installments.
func dailySchedule(principal, rate decimal.Decimal, term int, start time.Time, fixed decimal.NullDecimal) (*Schedule, error) {
	totalInterest := principal.Mul(rate).Mul(decimal.NewFromInt(int64(term))).Round(2)
	total := principal.Add(totalInterest).Round(2)

	var (
		base  decimal.Decimal
		count int
	)
	if fixed.Valid && fixed.Decimal.IsPositive() {
		base = fixed.Decimal.Round(2)
		if !base.IsPositive() {
			return nil, fmt.Errorf("%w: fixed installment rounds to zero", ErrInvalidParams)
		}
		c := total.Div(base).Ceil()
		if c.GreaterThan(decimal.NewFromInt(MaxInstallments)) {
			return nil, fmt.Errorf("%w: fixed installment %s yields more than %d installments", ErrInvalidParams, base.StringFixed(2), MaxInstallments)
		}
		count = int(c.IntPart())
	} else {
		base = total.Div(decimal.NewFromInt(int64(term))).Round(2)
		count = term
	}

	s := &Schedule{
		Installments:          make([]Entry, 0, count),
		TotalInterest:         totalInterest,
		TotalAmountDue:        total,
		BaseInstallmentAmount: base,
	}

	sum := decimal.Zero
	for i := 1; i <= count; i++ {
		amount := base
		if i == count {
			amount = total.Sub(sum).Round(2)
		}
		s.Installments = append(s.Installments, Entry{
			Number:    i,
			DueDate:   start.AddDate(0, 0, i),
			AmountDue: amount,
		})
		sum = sum.Add(amount)
	}
	return s, nil
}

// reconcile moves any residual between the total due and the sum of the
// installments onto the last installment.
func reconcile(s *Schedule) {
	if len(s.Installments) == 0 {
		return
	}
	diff := s.TotalAmountDue.Sub(s.Sum()).Round(2)
	if diff.Abs().GreaterThan(reconcileThreshold) {
		last := &s.Installments[len(s.Installments)-1]
		last.AmountDue = last.AmountDue.Add(diff).Round(2)
	}
}

// addMonths adds months calendar-wise, clamping to the last day of the target
// month (Jan 31 + 1 month is Feb 28/29, not Mar 2/3).
func addMonths(t time.Time, months int) time.Time {
	firstOfTarget := time.Date(t.Year(), t.Month()+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, 0, 0, 0, 0, t.Location())
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
