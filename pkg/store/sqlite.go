package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// DSN builds the go-sqlite3 connection string used for every connection in the
// pool. BEGIN takes the write lock immediately, so transactions are serialized.
func DSN(path string) string {
	return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// queries implements Tx on top of either the pool or an open transaction.
type queries struct {
	q queryer
}

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	*queries
	db *sql.DB
}

// NewSQLiteStore opens the database file at path, applies pending migrations
// and returns a ready store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := DSN(path)
	if err := RunMigrations(dsn); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	return &SQLiteStore{queries: &queries{q: db}, db: db}, nil
}

// InTx runs fn inside a single database transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- clients ---

const clientColumns = `id, first_name, last_name, dni, phone, address, occupation, email, notes, is_active, created_at, updated_at`

func (s *queries) CreateClient(ctx context.Context, c *models.Client) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.FirstName, c.LastName, c.DNI, c.Phone, c.Address,
		nullString(c.Occupation), nullString(c.Email), nullString(c.Notes), c.Active,
		formatTimestamp(c.CreatedAt), formatTimestamp(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: client with dni %s", ErrDuplicate, c.DNI)
		}
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

func (s *queries) UpdateClient(ctx context.Context, c *models.Client) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE clients SET first_name = ?, last_name = ?, dni = ?, phone = ?, address = ?,
			occupation = ?, email = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		c.FirstName, c.LastName, c.DNI, c.Phone, c.Address,
		nullString(c.Occupation), nullString(c.Email), nullString(c.Notes),
		formatTimestamp(c.UpdatedAt), c.ID.String(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: client with dni %s", ErrDuplicate, c.DNI)
		}
		return fmt.Errorf("failed to update client: %w", err)
	}
	return expectOneRow(result, fmt.Errorf("client %s: %w", c.ID, ErrNotFound))
}

func (s *queries) SetClientActive(ctx context.Context, id uuid.UUID, active bool, updatedAt time.Time) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE clients SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, formatTimestamp(updatedAt), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to set client active flag: %w", err)
	}
	return expectOneRow(result, fmt.Errorf("client %s: %w", id, ErrNotFound))
}

func (s *queries) GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id.String())
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("client %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return c, nil
}

func (s *queries) ListClients(ctx context.Context, activeOnly bool) ([]*models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY last_name, first_name`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client row: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return clients, nil
}

func scanClient(row rowScanner) (*models.Client, error) {
	var (
		c                        models.Client
		occupation, email, notes sql.NullString
		createdAt, updatedAt     string
	)
	if err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.DNI, &c.Phone, &c.Address,
		&occupation, &email, &notes, &c.Active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Occupation, c.Email, c.Notes = occupation.String, email.String, notes.String

	var err error
	if c.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// --- loans ---

const loanColumns = `l.id, l.client_id, l.loan_type, l.principal, l.interest_rate, l.term,
	l.total_interest, l.total_amount_due, l.installment_amount, l.installment_count, l.start_date, l.status,
	l.guarantor_first_name, l.guarantor_last_name, l.guarantor_dni, l.guarantor_phone, l.guarantor_address,
	l.notes, l.created_by, l.created_at, l.updated_at, c.first_name, c.last_name, c.dni`

func (s *queries) CreateLoan(ctx context.Context, l *models.Loan) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO loans (id, client_id, loan_type, principal, interest_rate, term,
			total_interest, total_amount_due, installment_amount, installment_count, start_date, status,
			guarantor_first_name, guarantor_last_name, guarantor_dni, guarantor_phone, guarantor_address,
			notes, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(), l.ClientID.String(), string(l.Type), l.Principal, l.InterestRate, l.Term,
		l.TotalInterest, l.TotalAmountDue, l.InstallmentAmount, l.InstallmentCount, formatDate(l.StartDate), string(l.Status),
		nullString(l.Guarantor.FirstName), nullString(l.Guarantor.LastName), nullString(l.Guarantor.DNI),
		nullString(l.Guarantor.Phone), nullString(l.Guarantor.Address),
		nullString(l.Notes), nullString(l.CreatedBy), formatTimestamp(l.CreatedAt), formatTimestamp(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

func (s *queries) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans l JOIN clients c ON l.client_id = c.id WHERE l.id = ?`, id.String())
	l, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return l, nil
}

func (s *queries) ListLoans(ctx context.Context, f LoanFilter) ([]*models.Loan, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "l.status = ?")
		args = append(args, string(f.Status))
	}
	if f.ClientID != uuid.Nil {
		where = append(where, "l.client_id = ?")
		args = append(args, f.ClientID.String())
	}
	if f.Type != "" {
		where = append(where, "l.loan_type = ?")
		args = append(args, string(f.Type))
	}
	if f.From != nil {
		where = append(where, "l.start_date >= ?")
		args = append(args, formatDate(*f.From))
	}
	if f.To != nil {
		where = append(where, "l.start_date <= ?")
		args = append(args, formatDate(*f.To))
	}

	query := `SELECT ` + loanColumns + ` FROM loans l JOIN clients c ON l.client_id = c.id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY l.start_date DESC, l.id DESC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

func (s *queries) UpdateLoanStatus(ctx context.Context, id uuid.UUID, status models.LoanStatus, updatedAt time.Time) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE loans SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTimestamp(updatedAt), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan status: %w", err)
	}
	return expectOneRow(result, fmt.Errorf("loan %s: %w", id, ErrNotFound))
}

// Money columns are TEXT; the sums are taken in integer cents so SQLite's
// REAL arithmetic never accumulates rounding error.
const loanTotalsQuery = `SELECT l.status, COUNT(*),
	COALESCE(SUM(CAST(ROUND(l.principal * 100) AS INTEGER)), 0),
	COALESCE(SUM(CAST(ROUND(l.total_interest * 100) AS INTEGER)), 0),
	COALESCE(SUM(CAST(ROUND(l.total_amount_due * 100) AS INTEGER)), 0),
	COALESCE(SUM(p.paid_cents), 0)
FROM loans l
LEFT JOIN (
	SELECT loan_id, SUM(CAST(ROUND(amount * 100) AS INTEGER)) AS paid_cents
	FROM payments GROUP BY loan_id
) p ON p.loan_id = l.id`

func (s *queries) LoanTotalsByStatus(ctx context.Context, from, to *time.Time) ([]StatusTotals, error) {
	var (
		where []string
		args  []any
	)
	if from != nil {
		where = append(where, "l.start_date >= ?")
		args = append(args, formatDate(*from))
	}
	if to != nil {
		where = append(where, "l.start_date <= ?")
		args = append(args, formatDate(*to))
	}

	query := loanTotalsQuery
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` GROUP BY l.status ORDER BY l.status`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate loans: %w", err)
	}
	defer rows.Close()

	var totals []StatusTotals
	for rows.Next() {
		var (
			t                                   StatusTotals
			status                              string
			principal, interest, due, paidCents int64
		)
		if err := rows.Scan(&status, &t.Count, &principal, &interest, &due, &paidCents); err != nil {
			return nil, fmt.Errorf("failed to scan loan totals row: %w", err)
		}
		t.Status = models.LoanStatus(status)
		t.Principal = decimal.New(principal, -2)
		t.TotalInterest = decimal.New(interest, -2)
		t.TotalAmountDue = decimal.New(due, -2)
		t.Paid = decimal.New(paidCents, -2)
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return totals, nil
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var (
		l                                     models.Loan
		loanType, status, startDate           string
		gFirst, gLast, gDNI, gPhone, gAddress sql.NullString
		notes, createdBy                      sql.NullString
		createdAt, updatedAt                  string
	)
	if err := row.Scan(&l.ID, &l.ClientID, &loanType, &l.Principal, &l.InterestRate, &l.Term,
		&l.TotalInterest, &l.TotalAmountDue, &l.InstallmentAmount, &l.InstallmentCount, &startDate, &status,
		&gFirst, &gLast, &gDNI, &gPhone, &gAddress, &notes, &createdBy, &createdAt, &updatedAt,
		&l.ClientFirstName, &l.ClientLastName, &l.ClientDNI); err != nil {
		return nil, err
	}
	l.Type = models.LoanType(loanType)
	l.Status = models.LoanStatus(status)
	l.Guarantor = models.Guarantor{
		FirstName: gFirst.String,
		LastName:  gLast.String,
		DNI:       gDNI.String,
		Phone:     gPhone.String,
		Address:   gAddress.String,
	}
	l.Notes, l.CreatedBy = notes.String, createdBy.String

	var err error
	if l.StartDate, err = parseDate(startDate); err != nil {
		return nil, err
	}
	if l.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if l.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// --- installments ---

const installmentColumns = `id, loan_id, installment_number, due_date, amount_due, amount_paid,
	interest_on_arrears, status, payment_date, created_at, updated_at`

func (s *queries) CreateInstallment(ctx context.Context, i *models.Installment) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO loan_installments (`+installmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID.String(), i.LoanID.String(), i.Number, formatDate(i.DueDate), i.AmountDue, i.AmountPaid,
		i.InterestOnArrears, string(i.Status), nullTimestamp(i.PaymentDate),
		formatTimestamp(i.CreatedAt), formatTimestamp(i.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create installment %d: %w", i.Number, err)
	}
	return nil
}

func (s *queries) GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+installmentColumns+` FROM loan_installments WHERE id = ?`, id.String())
	i, err := scanInstallment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("installment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get installment: %w", err)
	}
	return i, nil
}

func (s *queries) ListInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+installmentColumns+` FROM loan_installments WHERE loan_id = ? ORDER BY installment_number ASC`,
		loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list installments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var installments []*models.Installment
	for rows.Next() {
		i, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		installments = append(installments, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan installments: %w", err)
	}
	return installments, nil
}

func (s *queries) CountUnpaidInstallments(ctx context.Context, loanID uuid.UUID) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loan_installments WHERE loan_id = ? AND status != ?`,
		loanID.String(), string(models.InstallmentStatusPaid),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unpaid installments: %w", err)
	}
	return count, nil
}

func (s *queries) UpdateInstallmentPayment(ctx context.Context, i *models.Installment, previousPaid decimal.Decimal) error {
	// amount_paid is stored as decimal text, so the guard compares its canonical string form.
	result, err := s.q.ExecContext(ctx,
		`UPDATE loan_installments SET amount_paid = ?, status = ?, payment_date = ?, updated_at = ?
		WHERE id = ? AND amount_paid = ?`,
		i.AmountPaid, string(i.Status), nullTimestamp(i.PaymentDate), formatTimestamp(i.UpdatedAt),
		i.ID.String(), previousPaid.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update installment payment: %w", err)
	}
	return expectOneRow(result, fmt.Errorf("installment %s: %w", i.ID, ErrStaleWrite))
}

func (s *queries) UpdateInstallmentArrears(ctx context.Context, id uuid.UUID, arrears decimal.Decimal, updatedAt time.Time) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE loan_installments SET interest_on_arrears = ?, updated_at = ? WHERE id = ?`,
		arrears, formatTimestamp(updatedAt), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update installment arrears: %w", err)
	}
	return expectOneRow(result, fmt.Errorf("installment %s: %w", id, ErrNotFound))
}

func scanInstallment(row rowScanner) (*models.Installment, error) {
	var (
		i                    models.Installment
		dueDate, status      string
		paymentDate          sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&i.ID, &i.LoanID, &i.Number, &dueDate, &i.AmountDue, &i.AmountPaid,
		&i.InterestOnArrears, &status, &paymentDate, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	i.Status = models.InstallmentStatus(status)

	var err error
	if i.DueDate, err = parseDate(dueDate); err != nil {
		return nil, err
	}
	if paymentDate.Valid {
		t, err := parseTimestamp(paymentDate.String)
		if err != nil {
			return nil, err
		}
		i.PaymentDate = &t
	}
	if i.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if i.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &i, nil
}

// --- payments ---

const paymentColumns = `p.id, p.installment_id, p.loan_id, p.client_id, p.amount, p.paid_at, p.method, p.notes,
	p.created_by, p.receipt_path, p.created_at, li.installment_number, c.first_name, c.last_name, c.dni`

const paymentJoins = ` FROM payments p
	JOIN loan_installments li ON p.installment_id = li.id
	JOIN clients c ON p.client_id = c.id`

func (s *queries) CreatePayment(ctx context.Context, p *models.Payment) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO payments (id, installment_id, loan_id, client_id, amount, paid_at, method, notes, created_by, receipt_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.InstallmentID.String(), p.LoanID.String(), p.ClientID.String(), p.Amount,
		formatTimestamp(p.PaidAt), nullString(p.Method), nullString(p.Notes), nullString(p.CreatedBy),
		nullString(p.ReceiptPath), formatTimestamp(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (s *queries) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+paymentColumns+paymentJoins+` WHERE p.id = ?`, id.String())
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("payment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (s *queries) ListPayments(ctx context.Context, f PaymentFilter) ([]*models.Payment, error) {
	var (
		where []string
		args  []any
	)
	if f.ClientID != uuid.Nil {
		where = append(where, "p.client_id = ?")
		args = append(args, f.ClientID.String())
	}
	if f.LoanID != uuid.Nil {
		where = append(where, "p.loan_id = ?")
		args = append(args, f.LoanID.String())
	}
	if f.From != nil {
		where = append(where, "substr(p.paid_at, 1, 10) >= ?")
		args = append(args, formatDate(*f.From))
	}
	if f.To != nil {
		where = append(where, "substr(p.paid_at, 1, 10) <= ?")
		args = append(args, formatDate(*f.To))
	}

	query := `SELECT ` + paymentColumns + paymentJoins
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY p.paid_at DESC, p.id DESC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return payments, nil
}

func (s *queries) SetPaymentReceipt(ctx context.Context, id uuid.UUID, path string) error {
	result, err := s.q.ExecContext(ctx, `UPDATE payments SET receipt_path = ? WHERE id = ?`, path, id.String())
	if err != nil {
		return fmt.Errorf("failed to set payment receipt: %w", err)
	}
	return expectOneRow(result, fmt.Errorf("payment %s: %w", id, ErrNotFound))
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p                                 models.Payment
		paidAt, createdAt                 string
		method, notes, createdBy, receipt sql.NullString
	)
	if err := row.Scan(&p.ID, &p.InstallmentID, &p.LoanID, &p.ClientID, &p.Amount, &paidAt,
		&method, &notes, &createdBy, &receipt, &createdAt,
		&p.InstallmentNumber, &p.ClientFirstName, &p.ClientLastName, &p.ClientDNI); err != nil {
		return nil, err
	}
	p.Method, p.Notes, p.CreatedBy, p.ReceiptPath = method.String, notes.String, createdBy.String, receipt.String

	var err error
	if p.PaidAt, err = parseTimestamp(paidAt); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// --- helpers ---

func expectOneRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimestamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTimestamp(*t), Valid: true}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}

// formatDate renders the UTC calendar day of t, matching how dates and the
// date part of timestamps are stored.
func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}
