package store

import (
	"errors"

	"github.com/google/uuid"

	"github.com/finchley/loanledger/pkg/models"
)

var (
	ErrLoanNotFound     = errors.New("loan not found")
	ErrCategoryNotFound = errors.New("category not found")

	// ErrLoanUpdateFailed marks the most dangerous partial-failure case:
	// payment rows exist but the loan balance write did not land. Callers
	// surface it distinctly from other persistence failures.
	ErrLoanUpdateFailed = errors.New("loan update failed")
)

// Storage defines the persistence operations for loans, payments,
// categories and expenses. All reads are scoped by user.
type Storage interface {
	CreateLoan(loan *models.Loan) error
	GetLoan(id, userID uuid.UUID) (*models.Loan, error)
	UpdateLoan(loan *models.Loan) error
	DeleteLoan(id, userID uuid.UUID) error
	GetLoansByUser(userID uuid.UUID) ([]*models.Loan, error)

	CreateLoanPayment(payment *models.LoanPayment) error
	GetLoanPayments(loanID, userID uuid.UUID) ([]*models.LoanPayment, error)
	LinkPaymentExpense(paymentID, expenseID uuid.UUID) error

	FindCategory(userID uuid.UUID, name, categoryType string) (*models.Category, error)
	// FindOrCreateCategory is an atomic upsert keyed on
	// (user_id, name, type); concurrent callers always converge on a
	// single row.
	FindOrCreateCategory(category *models.Category) (*models.Category, error)
	CreateExpense(expense *models.Expense) error

	// CommitPayment persists one recorded payment in a single
	// transaction: the payment row, the optional interest expense with
	// its upserted category and back-link, and the loan's new balance
	// and aggregates. Either everything lands or nothing does. A failure
	// on the loan write wraps ErrLoanUpdateFailed.
	CommitPayment(payment *models.LoanPayment, category *models.Category, expense *models.Expense, loan *models.Loan) error

	Close() error
}
