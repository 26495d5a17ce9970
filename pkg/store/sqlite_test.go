package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedClient(t *testing.T, s *SQLiteStore, dni string) *models.Client {
	t.Helper()
	now := time.Now().UTC()
	c := &models.Client{
		ID:        uuid.Must(uuid.NewV7()),
		FirstName: "Ana",
		LastName:  "Gomez",
		DNI:       dni,
		Phone:     "555-0100",
		Address:   "Calle 1",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateClient(context.Background(), c))
	return c
}

func seedLoan(t *testing.T, s *SQLiteStore, clientID uuid.UUID, start time.Time) *models.Loan {
	t.Helper()
	now := time.Now().UTC()
	l := &models.Loan{
		ID:                uuid.Must(uuid.NewV7()),
		ClientID:          clientID,
		Type:              models.LoanTypeMonthly,
		Principal:         decimal.NewFromInt(1000),
		InterestRate:      decimal.RequireFromString("0.10"),
		Term:              3,
		TotalInterest:     decimal.RequireFromString("206.33"),
		TotalAmountDue:    decimal.RequireFromString("1206.33"),
		InstallmentAmount: decimal.RequireFromString("402.11"),
		InstallmentCount:  3,
		StartDate:         start,
		Status:            models.LoanStatusActive,
		Guarantor:         models.Guarantor{FirstName: "Luis", DNI: "7654321"},
		CreatedBy:         "operator-1",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, s.CreateLoan(context.Background(), l))
	return l
}

func seedInstallment(t *testing.T, s *SQLiteStore, loanID uuid.UUID, number int, due time.Time, amount string) *models.Installment {
	t.Helper()
	now := time.Now().UTC()
	i := &models.Installment{
		ID:                uuid.Must(uuid.NewV7()),
		LoanID:            loanID,
		Number:            number,
		DueDate:           due,
		AmountDue:         decimal.RequireFromString(amount),
		AmountPaid:        decimal.Zero,
		InterestOnArrears: decimal.Zero,
		Status:            models.InstallmentStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, s.CreateInstallment(context.Background(), i))
	return i
}

func TestSQLiteStore_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestSQLiteStore_ClientRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := seedClient(t, s, "12345678")

	fetched, err := s.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, fetched.ID)
	assert.Equal(t, "Ana", fetched.FirstName)
	assert.Equal(t, "12345678", fetched.DNI)
	assert.True(t, fetched.Active)
	assert.Empty(t, fetched.Email)
	assert.True(t, c.CreatedAt.Equal(fetched.CreatedAt))

	_, err = s.GetClient(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_DuplicateDNI(t *testing.T) {
	s := newTestStore(t)
	seedClient(t, s, "12345678")

	now := time.Now().UTC()
	err := s.CreateClient(context.Background(), &models.Client{
		ID: uuid.Must(uuid.NewV7()), FirstName: "Otro", LastName: "Cliente", DNI: "12345678",
		Phone: "1", Address: "x", Active: true, CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestSQLiteStore_ListClientsActiveOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedClient(t, s, "11111111")

	now := time.Now().UTC()
	require.NoError(t, s.CreateClient(ctx, &models.Client{
		ID: uuid.Must(uuid.NewV7()), FirstName: "Baja", LastName: "Inactiva", DNI: "22222222",
		Phone: "1", Address: "x", Active: false, CreatedAt: now, UpdatedAt: now,
	}))

	all, err := s.ListClients(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := s.ListClients(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "11111111", active[0].DNI)
}

func TestSQLiteStore_UpdateClient(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedClient(t, s, "12345678")
	other := seedClient(t, s, "87654321")

	c.LastName = "Perez"
	c.DNI = "11223344"
	c.Email = "ana@example.com"
	c.UpdatedAt = c.UpdatedAt.Add(time.Hour)
	require.NoError(t, s.UpdateClient(ctx, c))

	fetched, err := s.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Perez", fetched.LastName)
	assert.Equal(t, "11223344", fetched.DNI)
	assert.Equal(t, "ana@example.com", fetched.Email)
	assert.True(t, fetched.Active)
	assert.True(t, c.UpdatedAt.Equal(fetched.UpdatedAt))

	c.DNI = other.DNI
	assert.ErrorIs(t, s.UpdateClient(ctx, c), ErrDuplicate)

	c.ID = uuid.New()
	c.DNI = "99999999"
	assert.ErrorIs(t, s.UpdateClient(ctx, c), ErrNotFound)
}

func TestSQLiteStore_SetClientActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedClient(t, s, "12345678")

	require.NoError(t, s.SetClientActive(ctx, c.ID, false, time.Now()))
	active, err := s.ListClients(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, s.SetClientActive(ctx, c.ID, true, time.Now()))
	active, err = s.ListClients(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	assert.ErrorIs(t, s.SetClientActive(ctx, uuid.New(), false, time.Now()), ErrNotFound)
}

func TestSQLiteStore_LoanRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedClient(t, s, "12345678")
	l := seedLoan(t, s, c.ID, time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC))

	fetched, err := s.GetLoan(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanTypeMonthly, fetched.Type)
	assert.True(t, fetched.Principal.Equal(l.Principal))
	assert.True(t, fetched.InstallmentAmount.Equal(decimal.RequireFromString("402.11")))
	assert.Equal(t, 3, fetched.Term)
	assert.Equal(t, l.StartDate, fetched.StartDate)
	assert.Equal(t, "Luis", fetched.Guarantor.FirstName)
	assert.Equal(t, "7654321", fetched.Guarantor.DNI)
	assert.Equal(t, "operator-1", fetched.CreatedBy)
	assert.Equal(t, "Ana", fetched.ClientFirstName)
	assert.Equal(t, "12345678", fetched.ClientDNI)

	_, err = s.GetLoan(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_LoanRequiresExistingClient(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	err := s.CreateLoan(context.Background(), &models.Loan{
		ID: uuid.Must(uuid.NewV7()), ClientID: uuid.New(), Type: models.LoanTypeDaily,
		Principal: decimal.NewFromInt(1), InterestRate: decimal.Zero, Term: 1,
		TotalInterest: decimal.Zero, TotalAmountDue: decimal.NewFromInt(1), InstallmentAmount: decimal.NewFromInt(1),
		InstallmentCount: 1, StartDate: now, Status: models.LoanStatusActive, CreatedAt: now, UpdatedAt: now,
	})
	assert.Error(t, err)
}

func TestSQLiteStore_ListLoansFiltersAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedClient(t, s, "11111111")
	b := seedClient(t, s, "22222222")

	older := seedLoan(t, s, a.ID, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	newer := seedLoan(t, s, a.ID, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	other := seedLoan(t, s, b.ID, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, s.UpdateLoanStatus(ctx, other.ID, models.LoanStatusPaid, time.Now()))

	all, err := s.ListLoans(ctx, LoanFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, newer.ID, all[0].ID)
	assert.Equal(t, other.ID, all[1].ID)
	assert.Equal(t, older.ID, all[2].ID)

	byClient, err := s.ListLoans(ctx, LoanFilter{ClientID: a.ID})
	require.NoError(t, err)
	assert.Len(t, byClient, 2)

	paid, err := s.ListLoans(ctx, LoanFilter{Status: models.LoanStatusPaid})
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, other.ID, paid[0].ID)

	from := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, time.February, 28, 0, 0, 0, 0, time.UTC)
	ranged, err := s.ListLoans(ctx, LoanFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, other.ID, ranged[0].ID)

	none, err := s.ListLoans(ctx, LoanFilter{Type: models.LoanTypeDaily})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_UpdateLoanStatusNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateLoanStatus(context.Background(), uuid.New(), models.LoanStatusPaid, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_InstallmentsOrderedAndCounted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedClient(t, s, "12345678")
	l := seedLoan(t, s, c.ID, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))

	third := seedInstallment(t, s, l.ID, 3, time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC), "402.11")
	first := seedInstallment(t, s, l.ID, 1, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), "402.11")
	seedInstallment(t, s, l.ID, 2, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), "402.11")

	list, err := s.ListInstallments(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, third.ID, list[2].ID)
	assert.Equal(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), list[0].DueDate)
	assert.Nil(t, list[0].PaymentDate)

	unpaid, err := s.CountUnpaidInstallments(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, unpaid)

	// installment_number is unique per loan
	dup := *first
	dup.ID = uuid.Must(uuid.NewV7())
	assert.Error(t, s.CreateInstallment(ctx, &dup))
}

func TestSQLiteStore_UpdateInstallmentPaymentCompareAndSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedClient(t, s, "12345678")
	l := seedLoan(t, s, c.ID, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	inst := seedInstallment(t, s, l.ID, 1, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), "100")

	read, err := s.GetInstallment(ctx, inst.ID)
	require.NoError(t, err)

	paidAt := time.Date(2024, time.January, 20, 10, 0, 0, 0, time.UTC)
	update := *read
	update.AmountPaid = decimal.RequireFromString("100")
	update.Status = models.InstallmentStatusPaid
	update.PaymentDate = &paidAt
	update.UpdatedAt = paidAt
	require.NoError(t, s.UpdateInstallmentPayment(ctx, &update, read.AmountPaid))

	// A second writer that read the old amount_paid loses.
	err = s.UpdateInstallmentPayment(ctx, &update, read.AmountPaid)
	assert.ErrorIs(t, err, ErrStaleWrite)

	fetched, err := s.GetInstallment(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstallmentStatusPaid, fetched.Status)
	assert.True(t, fetched.AmountPaid.Equal(decimal.NewFromInt(100)))
	require.NotNil(t, fetched.PaymentDate)
	assert.True(t, paidAt.Equal(*fetched.PaymentDate))

	unpaid, err := s.CountUnpaidInstallments(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, unpaid)
}

func TestSQLiteStore_UpdateInstallmentArrears(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedClient(t, s, "12345678")
	l := seedLoan(t, s, c.ID, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	inst := seedInstallment(t, s, l.ID, 1, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), "100")

	require.NoError(t, s.UpdateInstallmentArrears(ctx, inst.ID, decimal.RequireFromString("9.00"), time.Now()))

	fetched, err := s.GetInstallment(ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, fetched.InterestOnArrears.Equal(decimal.NewFromInt(9)))
	assert.True(t, fetched.TotalOwed().Equal(decimal.NewFromInt(109)))

	err = s.UpdateInstallmentArrears(ctx, uuid.New(), decimal.Zero, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_PaymentsListingAndReceipt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedClient(t, s, "12345678")
	l := seedLoan(t, s, c.ID, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	inst := seedInstallment(t, s, l.ID, 1, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), "100")

	mkPayment := func(amount string, paidAt time.Time) *models.Payment {
		p := &models.Payment{
			ID:            uuid.Must(uuid.NewV7()),
			InstallmentID: inst.ID,
			LoanID:        l.ID,
			ClientID:      c.ID,
			Amount:        decimal.RequireFromString(amount),
			PaidAt:        paidAt,
			Method:        "cash",
			CreatedAt:     time.Now().UTC(),
		}
		require.NoError(t, s.CreatePayment(ctx, p))
		return p
	}
	early := mkPayment("40", time.Date(2024, time.January, 10, 9, 0, 0, 0, time.UTC))
	late := mkPayment("60", time.Date(2024, time.January, 25, 9, 0, 0, 0, time.UTC))

	list, err := s.ListPayments(ctx, PaymentFilter{LoanID: l.ID})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, late.ID, list[0].ID)
	assert.Equal(t, early.ID, list[1].ID)
	assert.Equal(t, 1, list[0].InstallmentNumber)
	assert.Equal(t, "Gomez", list[0].ClientLastName)
	assert.Empty(t, list[0].ReceiptPath)

	from := time.Date(2024, time.January, 20, 0, 0, 0, 0, time.UTC)
	ranged, err := s.ListPayments(ctx, PaymentFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, late.ID, ranged[0].ID)

	to := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	ranged, err = s.ListPayments(ctx, PaymentFilter{To: &to})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, early.ID, ranged[0].ID)

	require.NoError(t, s.SetPaymentReceipt(ctx, early.ID, "receipts/r.txt"))
	fetched, err := s.GetPayment(ctx, early.ID)
	require.NoError(t, err)
	assert.Equal(t, "receipts/r.txt", fetched.ReceiptPath)
	assert.True(t, fetched.Amount.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, "cash", fetched.Method)

	assert.ErrorIs(t, s.SetPaymentReceipt(ctx, uuid.New(), "x"), ErrNotFound)
}

func TestSQLiteStore_InTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedClient(t, s, "12345678")
	boom := errors.New("boom")

	var loanID uuid.UUID
	err := s.InTx(ctx, func(tx Tx) error {
		now := time.Now().UTC()
		l := &models.Loan{
			ID: uuid.Must(uuid.NewV7()), ClientID: c.ID, Type: models.LoanTypeDaily,
			Principal: decimal.NewFromInt(100), InterestRate: decimal.Zero, Term: 1,
			TotalInterest: decimal.Zero, TotalAmountDue: decimal.NewFromInt(100), InstallmentAmount: decimal.NewFromInt(100),
			InstallmentCount: 1, StartDate: now, Status: models.LoanStatusActive, CreatedAt: now, UpdatedAt: now,
		}
		loanID = l.ID
		if err := tx.CreateLoan(ctx, l); err != nil {
			return err
		}
		// Visible inside the transaction.
		if _, err := tx.GetLoan(ctx, l.ID); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetLoan(ctx, loanID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_InTxCommits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedClient(t, s, "12345678")
	l := seedLoan(t, s, c.ID, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))

	err := s.InTx(ctx, func(tx Tx) error {
		return tx.UpdateLoanStatus(ctx, l.ID, models.LoanStatusCancelled, time.Now())
	})
	require.NoError(t, err)

	fetched, err := s.GetLoan(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusCancelled, fetched.Status)
}

func TestSQLiteStore_DateFiltersUseUTCDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedClient(t, s, "12345678")
	l := seedLoan(t, s, c.ID, time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC))
	inst := seedInstallment(t, s, l.ID, 1, time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC), "100")
	require.NoError(t, s.CreatePayment(ctx, &models.Payment{
		ID:            uuid.Must(uuid.NewV7()),
		InstallmentID: inst.ID,
		LoanID:        l.ID,
		ClientID:      c.ID,
		Amount:        decimal.NewFromInt(100),
		PaidAt:        time.Date(2024, time.January, 10, 23, 30, 0, 0, time.UTC),
		CreatedAt:     time.Now().UTC(),
	}))

	// 22:00 at UTC-3 is already January 11th in UTC.
	from := time.Date(2024, time.January, 10, 22, 0, 0, 0, time.FixedZone("UTC-3", -3*60*60))

	payments, err := s.ListPayments(ctx, PaymentFilter{From: &from})
	require.NoError(t, err)
	assert.Empty(t, payments)

	loans, err := s.ListLoans(ctx, LoanFilter{From: &from})
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestSQLiteStore_LoanTotalsByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedClient(t, s, "12345678")

	first := seedLoan(t, s, c.ID, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	seedLoan(t, s, c.ID, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC))
	paid := seedLoan(t, s, c.ID, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, s.UpdateLoanStatus(ctx, paid.ID, models.LoanStatusPaid, time.Now()))

	inst := seedInstallment(t, s, first.ID, 1, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), "402.11")
	for _, amount := range []string{"0.10", "0.20", "402.01"} {
		require.NoError(t, s.CreatePayment(ctx, &models.Payment{
			ID:            uuid.Must(uuid.NewV7()),
			InstallmentID: inst.ID,
			LoanID:        first.ID,
			ClientID:      c.ID,
			Amount:        decimal.RequireFromString(amount),
			PaidAt:        time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC),
			CreatedAt:     time.Now().UTC(),
		}))
	}

	totals, err := s.LoanTotalsByStatus(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, totals, 2)

	active := totals[0]
	assert.Equal(t, models.LoanStatusActive, active.Status)
	assert.Equal(t, 2, active.Count)
	assert.Equal(t, "2000.00", active.Principal.StringFixed(2))
	assert.Equal(t, "412.66", active.TotalInterest.StringFixed(2))
	assert.Equal(t, "2412.66", active.TotalAmountDue.StringFixed(2))
	assert.Equal(t, "402.31", active.Paid.StringFixed(2))

	assert.Equal(t, models.LoanStatusPaid, totals[1].Status)
	assert.Equal(t, 1, totals[1].Count)
	assert.True(t, totals[1].Paid.IsZero())

	from := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)
	totals, err = s.LoanTotalsByStatus(ctx, &from, &to)
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, 1, totals[0].Count)
	assert.True(t, totals[0].Paid.IsZero())
}
