package receipt

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanbook/pkg/config"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleData() Data {
	loanID := uuid.MustParse("0190a3f2-7b1c-7def-8000-000000000001")
	paymentID := uuid.MustParse("0190a3f2-7b1c-7def-8000-0000000000aa")
	return Data{
		Payment: &models.Payment{
			ID:     paymentID,
			Amount: decimal.RequireFromString("150"),
			PaidAt: time.Date(2024, time.February, 3, 14, 0, 0, 0, time.UTC),
			Method: "transfer",
			Notes:  "paid at branch",
		},
		Installment: &models.Installment{
			Number:     2,
			DueDate:    time.Date(2024, time.February, 5, 0, 0, 0, 0, time.UTC),
			AmountDue:  decimal.RequireFromString("402.11"),
			AmountPaid: decimal.RequireFromString("150"),
			Status:     models.InstallmentStatusPartiallyPaid,
		},
		Loan: &models.Loan{
			ID:               loanID,
			StartDate:        time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC),
			InstallmentCount: 3,
		},
		Client: &models.Client{FirstName: "Ana", LastName: "Gomez", DNI: "12345678"},
	}
}

func TestMethodLabel(t *testing.T) {
	assert.Equal(t, "Cash", MethodLabel("cash"))
	assert.Equal(t, "Credit card", MethodLabel("credit_card"))
	assert.Equal(t, "Other", MethodLabel(""))
	assert.Equal(t, "cheque", MethodLabel("cheque"))
}

func TestLoanNumber(t *testing.T) {
	data := sampleData()
	assert.Equal(t, "PR-2024-0190a3f2", LoanNumber(data.Loan))
}

func TestFileGenerator_Generate(t *testing.T) {
	dir := t.TempDir()
	g := NewFileGenerator(dir, config.Company{Name: "Prestamos SA", TaxID: "30-12345678-9"})
	data := sampleData()

	path, err := g.Generate(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "loan_"+data.Loan.ID.String(), "receipt_"+data.Payment.ID.String()+".txt"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, "Prestamos SA")
	assert.Contains(t, body, "Tax ID: 30-12345678-9")
	assert.Contains(t, body, "Ana Gomez")
	assert.Contains(t, body, "PR-2024-0190a3f2")
	assert.Contains(t, body, "2 of 3")
	assert.Contains(t, body, "Amount paid:  150.00")
	assert.Contains(t, body, "Bank transfer")
	assert.Contains(t, body, "Balance left: 252.11")
	assert.Contains(t, body, "partially_paid")
	assert.Contains(t, body, "03/02/2024")
	assert.Contains(t, body, "paid at branch")
}

func TestFileGenerator_IncompleteData(t *testing.T) {
	g := NewFileGenerator(t.TempDir(), config.Company{})
	data := sampleData()
	data.Client = nil

	_, err := g.Generate(context.Background(), data)
	assert.Error(t, err)
}

func TestFileGenerator_UnwritableDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	g := NewFileGenerator(blocker, config.Company{})
	_, err := g.Generate(context.Background(), sampleData())
	assert.Error(t, err)
}
