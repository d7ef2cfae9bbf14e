package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/finchley/loanledger/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the row helpers can be
// shared between standalone operations and CommitPayment's transaction.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// NewSQLiteStore opens the database and initializes the schema.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the tables if they don't already exist. Decimal
// fields are TEXT so no precision is lost. The unique index on
// (user_id, name, type) is what makes FindOrCreateCategory race-safe, and
// the one on (loan_id, payment_number) keeps payment numbering dense.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		loan_number TEXT NOT NULL,
		lender TEXT NOT NULL,
		principal_amount TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		start_date DATETIME NOT NULL,
		payment_frequency TEXT NOT NULL,
		current_balance TEXT NOT NULL,
		total_paid TEXT NOT NULL DEFAULT '0',
		total_principal_paid TEXT NOT NULL DEFAULT '0',
		total_interest_paid TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loan_payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		payment_number INTEGER NOT NULL,
		payment_date DATETIME NOT NULL,
		due_date DATETIME NOT NULL,
		principal_amount TEXT NOT NULL,
		interest_amount TEXT NOT NULL,
		total_payment TEXT NOT NULL,
		remaining_balance TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		status TEXT NOT NULL,
		proof_url TEXT,
		expense_id TEXT,
		notes TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id),
		UNIQUE(loan_id, payment_number)
	);
	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		UNIQUE(user_id, name, type)
	);
	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		category_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL,
		expense_date DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(category_id) REFERENCES categories(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const loanColumns = `id, user_id, loan_number, lender, principal_amount, interest_rate, term_months, start_date, payment_frequency, current_balance, total_paid, total_principal_paid, total_interest_paid, status, created_at, updated_at`

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(loan *models.Loan) error {
	_, err := s.db.Exec(
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.UserID.String(), loan.LoanNumber, loan.Lender,
		loan.PrincipalAmount, loan.InterestRate, loan.TermMonths, loan.StartDate,
		loan.PaymentFrequency, loan.CurrentBalance, loan.TotalPaid,
		loan.TotalPrincipalPaid, loan.TotalInterestPaid, loan.Status,
		loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

func scanLoan(row interface{ Scan(...any) error }) (*models.Loan, error) {
	var loan models.Loan
	var loanID, userID string
	var start, created, updated time.Time
	err := row.Scan(&loanID, &userID, &loan.LoanNumber, &loan.Lender,
		&loan.PrincipalAmount, &loan.InterestRate, &loan.TermMonths, &start,
		&loan.PaymentFrequency, &loan.CurrentBalance, &loan.TotalPaid,
		&loan.TotalPrincipalPaid, &loan.TotalInterestPaid, &loan.Status,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(loanID)
	loan.UserID = uuid.MustParse(userID)
	loan.StartDate = start
	loan.CreatedAt = created
	loan.UpdatedAt = updated
	return &loan, nil
}

// GetLoan retrieves a loan by its ID, scoped to the owning user.
func (s *SQLiteStore) GetLoan(id, userID uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ? AND user_id = ?`,
		id.String(), userID.String())
	loan, err := scanLoan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

func updateLoan(e dbtx, loan *models.Loan) error {
	result, err := e.Exec(
		`UPDATE loans SET current_balance = ?, total_paid = ?, total_principal_paid = ?, total_interest_paid = ?, status = ?, updated_at = ? WHERE id = ?`,
		loan.CurrentBalance, loan.TotalPaid, loan.TotalPrincipalPaid,
		loan.TotalInterestPaid, loan.Status, loan.UpdatedAt, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrLoanNotFound
	}
	return nil
}

// UpdateLoan writes the loan's mutable running state. Terms are immutable
// after origination and are deliberately not part of the statement.
func (s *SQLiteStore) UpdateLoan(loan *models.Loan) error {
	return updateLoan(s.db, loan)
}

// DeleteLoan removes a loan and its payments within a transaction.
func (s *SQLiteStore) DeleteLoan(id, userID uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM loan_payments WHERE loan_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete loan payments: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM loans WHERE id = ? AND user_id = ?`, id.String(), userID.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrLoanNotFound
	}

	return tx.Commit()
}

// GetLoansByUser retrieves all loans belonging to a user.
func (s *SQLiteStore) GetLoansByUser(userID uuid.UUID) ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT `+loanColumns+` FROM loans WHERE user_id = ? ORDER BY created_at ASC`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

func insertLoanPayment(e dbtx, p *models.LoanPayment) error {
	var expenseID any
	if p.ExpenseID != nil {
		expenseID = p.ExpenseID.String()
	}
	_, err := e.Exec(
		`INSERT INTO loan_payments (id, loan_id, user_id, payment_number, payment_date, due_date, principal_amount, interest_amount, total_payment, remaining_balance, payment_method, status, proof_url, expense_id, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.LoanID.String(), p.UserID.String(), p.PaymentNumber,
		p.PaymentDate, p.DueDate, p.PrincipalAmount, p.InterestAmount,
		p.TotalPayment, p.RemainingBalance, p.PaymentMethod, p.Status,
		p.ProofURL, expenseID, p.Notes, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan payment: %w", err)
	}
	return nil
}

// CreateLoanPayment inserts a new payment row.
func (s *SQLiteStore) CreateLoanPayment(payment *models.LoanPayment) error {
	return insertLoanPayment(s.db, payment)
}

// GetLoanPayments retrieves all payments for a loan ordered by payment
// number.
func (s *SQLiteStore) GetLoanPayments(loanID, userID uuid.UUID) ([]*models.LoanPayment, error) {
	rows, err := s.db.Query(
		`SELECT id, loan_id, user_id, payment_number, payment_date, due_date, principal_amount, interest_amount, total_payment, remaining_balance, payment_method, status, proof_url, expense_id, notes, created_at
		FROM loan_payments WHERE loan_id = ? AND user_id = ? ORDER BY payment_number ASC`,
		loanID.String(), userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var payments []*models.LoanPayment
	for rows.Next() {
		var p models.LoanPayment
		var pID, lID, uID string
		var proofURL, expenseID, notes sql.NullString
		var paymentDate, dueDate, created time.Time
		if err := rows.Scan(&pID, &lID, &uID, &p.PaymentNumber, &paymentDate,
			&dueDate, &p.PrincipalAmount, &p.InterestAmount, &p.TotalPayment,
			&p.RemainingBalance, &p.PaymentMethod, &p.Status, &proofURL,
			&expenseID, &notes, &created); err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		p.ID = uuid.MustParse(pID)
		p.LoanID = uuid.MustParse(lID)
		p.UserID = uuid.MustParse(uID)
		p.PaymentDate = paymentDate
		p.DueDate = dueDate
		p.CreatedAt = created
		if proofURL.Valid {
			p.ProofURL = &proofURL.String
		}
		if expenseID.Valid {
			id := uuid.MustParse(expenseID.String)
			p.ExpenseID = &id
		}
		if notes.Valid {
			p.Notes = &notes.String
		}
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan payments: %w", err)
	}
	return payments, nil
}

func linkPaymentExpense(e dbtx, paymentID, expenseID uuid.UUID) error {
	result, err := e.Exec(`UPDATE loan_payments SET expense_id = ? WHERE id = ?`,
		expenseID.String(), paymentID.String())
	if err != nil {
		return fmt.Errorf("failed to link payment to expense: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("payment %s not found", paymentID)
	}
	return nil
}

// LinkPaymentExpense back-links a payment row to its interest expense.
func (s *SQLiteStore) LinkPaymentExpense(paymentID, expenseID uuid.UUID) error {
	return linkPaymentExpense(s.db, paymentID, expenseID)
}

func findCategory(e dbtx, userID uuid.UUID, name, categoryType string) (*models.Category, error) {
	var c models.Category
	var cID, uID string
	var created time.Time
	row := e.QueryRow(`SELECT id, user_id, name, type, color, created_at FROM categories WHERE user_id = ? AND name = ? AND type = ?`,
		userID.String(), name, categoryType)
	if err := row.Scan(&cID, &uID, &c.Name, &c.Type, &c.Color, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("failed to find category: %w", err)
	}
	c.ID = uuid.MustParse(cID)
	c.UserID = uuid.MustParse(uID)
	c.CreatedAt = created
	return &c, nil
}

// FindCategory looks up a category by its (user, name, type) key.
func (s *SQLiteStore) FindCategory(userID uuid.UUID, name, categoryType string) (*models.Category, error) {
	return findCategory(s.db, userID, name, categoryType)
}

// findOrCreateCategory is a race-safe upsert: the insert is a no-op when
// the unique key already exists, and the follow-up select returns
// whichever row won.
func findOrCreateCategory(e dbtx, category *models.Category) (*models.Category, error) {
	_, err := e.Exec(
		`INSERT INTO categories (id, user_id, name, type, color, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, name, type) DO NOTHING`,
		category.ID.String(), category.UserID.String(), category.Name,
		category.Type, category.Color, category.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert category: %w", err)
	}
	return findCategory(e, category.UserID, category.Name, category.Type)
}

// FindOrCreateCategory atomically fetches or creates a category.
func (s *SQLiteStore) FindOrCreateCategory(category *models.Category) (*models.Category, error) {
	return findOrCreateCategory(s.db, category)
}

func insertExpense(e dbtx, expense *models.Expense) error {
	_, err := e.Exec(
		`INSERT INTO expenses (id, user_id, category_id, amount, description, expense_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		expense.ID.String(), expense.UserID.String(), expense.CategoryID.String(),
		expense.Amount, expense.Description, expense.ExpenseDate, expense.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create expense: %w", err)
	}
	return nil
}

// CreateExpense inserts a new expense row.
func (s *SQLiteStore) CreateExpense(expense *models.Expense) error {
	return insertExpense(s.db, expense)
}

// CommitPayment persists a recorded payment atomically. When expense is
// non-nil, category must be too: the category is upserted first, then the
// expense is inserted and back-linked from the payment. The loan write
// failing wraps ErrLoanUpdateFailed so callers can surface that stage
// distinctly.
func (s *SQLiteStore) CommitPayment(payment *models.LoanPayment, category *models.Category, expense *models.Expense, loan *models.Loan) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertLoanPayment(tx, payment); err != nil {
		return err
	}

	if expense != nil {
		resolved, err := findOrCreateCategory(tx, category)
		if err != nil {
			return err
		}
		expense.CategoryID = resolved.ID

		if err := insertExpense(tx, expense); err != nil {
			return err
		}
		if err := linkPaymentExpense(tx, payment.ID, expense.ID); err != nil {
			return err
		}
		payment.ExpenseID = &expense.ID
	}

	if err := updateLoan(tx, loan); err != nil {
		return fmt.Errorf("%w: %v", ErrLoanUpdateFailed, err)
	}

	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
