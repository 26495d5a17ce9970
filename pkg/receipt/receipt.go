// Package receipt renders payment receipts to disk.
package receipt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/mcclellann/loanbook/pkg/config"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/shopspring/decimal"
)

var methodLabels = map[string]string{
	"cash":        "Cash",
	"transfer":    "Bank transfer",
	"debit_card":  "Debit card",
	"credit_card": "Credit card",
	"other":       "Other",
}

// MethodLabel returns the display name of a payment method code.
func MethodLabel(method string) string {
	if label, ok := methodLabels[method]; ok {
		return label
	}
	if method == "" {
		return methodLabels["other"]
	}
	return method
}

// LoanNumber formats the human-facing loan reference, e.g. PR-2024-0190a3f2.
func LoanNumber(loan *models.Loan) string {
	hex := strings.ReplaceAll(loan.ID.String(), "-", "")
	return fmt.Sprintf("PR-%d-%s", loan.StartDate.Year(), hex[:8])
}

// Data is everything printed on a receipt. Installment reflects the state
// after the payment was applied.
type Data struct {
	Payment     *models.Payment
	Installment *models.Installment
	Loan        *models.Loan
	Client      *models.Client
}

// FileGenerator writes plain-text receipts under Dir, one directory per loan.
type FileGenerator struct {
	Dir     string
	Company config.Company
	tmpl    *template.Template
}

func NewFileGenerator(dir string, company config.Company) *FileGenerator {
	return &FileGenerator{
		Dir:     dir,
		Company: company,
		tmpl: template.Must(template.New("receipt").Funcs(template.FuncMap{
			"money":  func(v decimal.Decimal) string { return v.StringFixed(2) },
			"date":   func(t time.Time) string { return t.Format("02/01/2006") },
			"method": MethodLabel,
		}).Parse(receiptTemplate)),
	}
}

// Generate renders the receipt for data and returns the file path.
func (g *FileGenerator) Generate(ctx context.Context, data Data) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if data.Payment == nil || data.Installment == nil || data.Loan == nil || data.Client == nil {
		return "", fmt.Errorf("receipt: incomplete data")
	}

	dir := filepath.Join(g.Dir, "loan_"+data.Loan.ID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("receipt: create directory: %w", err)
	}
	path := filepath.Join(dir, "receipt_"+data.Payment.ID.String()+".txt")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("receipt: create file: %w", err)
	}
	defer f.Close()

	view := struct {
		Data
		Company    config.Company
		LoanNumber string
		Remaining  string
	}{
		Data:       data,
		Company:    g.Company,
		LoanNumber: LoanNumber(data.Loan),
		Remaining:  data.Installment.Remaining().StringFixed(2),
	}
	if err := g.tmpl.Execute(f, view); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("receipt: render: %w", err)
	}
	return path, nil
}

const receiptTemplate = `{{with .Company}}{{if .Name}}{{.Name}}
{{end}}{{if .TaxID}}Tax ID: {{.TaxID}}
{{end}}{{if .Address}}{{.Address}}
{{end}}{{if .Phone}}Tel: {{.Phone}}
{{end}}{{if .Email}}{{.Email}}
{{end}}{{end}}
PAYMENT RECEIPT
Receipt:      {{.Payment.ID}}
Date:         {{date .Payment.PaidAt}}

Client:       {{.Client.FirstName}} {{.Client.LastName}}
DNI:          {{.Client.DNI}}

Loan:         {{.LoanNumber}}
Installment:  {{.Installment.Number}} of {{.Loan.InstallmentCount}}
Due date:     {{date .Installment.DueDate}}

Amount paid:  {{money .Payment.Amount}}
Method:       {{method .Payment.Method}}
Balance left: {{.Remaining}}
Status:       {{.Installment.Status}}
{{if .Payment.Notes}}Notes:        {{.Payment.Notes}}
{{end}}`
