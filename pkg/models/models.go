package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusActive    LoanStatus = "active"
	LoanStatusPaidOff   LoanStatus = "paid_off"
	LoanStatusDefaulted LoanStatus = "defaulted"
)

// Terminal reports whether the status accepts no further payments.
func (s LoanStatus) Terminal() bool {
	return s == LoanStatusPaidOff || s == LoanStatusDefaulted
}

type PaymentFrequency string

const (
	FrequencyMonthly   PaymentFrequency = "monthly"
	FrequencyBiweekly  PaymentFrequency = "biweekly"
	FrequencyWeekly    PaymentFrequency = "weekly"
	FrequencyQuarterly PaymentFrequency = "quarterly"
	FrequencyYearly    PaymentFrequency = "yearly"
)

type PaymentMethod string

const (
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCheck        PaymentMethod = "check"
	MethodCash         PaymentMethod = "cash"
	MethodDebitCard    PaymentMethod = "debit_card"
	MethodCreditCard   PaymentMethod = "credit_card"
	MethodACH          PaymentMethod = "ach"
	MethodWire         PaymentMethod = "wire"
	MethodOther        PaymentMethod = "other"
)

// Valid reports whether m is one of the accepted payment methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodBankTransfer, MethodCheck, MethodCash, MethodDebitCard,
		MethodCreditCard, MethodACH, MethodWire, MethodOther:
		return true
	}
	return false
}

type Loan struct {
	ID               uuid.UUID        `json:"id"`
	UserID           uuid.UUID        `json:"user_id"`
	LoanNumber       string           `json:"loan_number"`
	Lender           string           `json:"lender"`
	PrincipalAmount  decimal.Decimal  `json:"principal_amount"`
	InterestRate     decimal.Decimal  `json:"interest_rate"` // annual percentage, e.g. 6.5
	TermMonths       int              `json:"term_months"`
	StartDate        time.Time        `json:"start_date"`
	PaymentFrequency PaymentFrequency `json:"payment_frequency"`

	CurrentBalance     decimal.Decimal `json:"current_balance"`
	TotalPaid          decimal.Decimal `json:"total_paid"`
	TotalPrincipalPaid decimal.Decimal `json:"total_principal_paid"`
	TotalInterestPaid  decimal.Decimal `json:"total_interest_paid"`
	Status             LoanStatus      `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoanPayment is one recorded real-world transaction against a loan.
// Rows are append-only: created once, never edited or deleted.
type LoanPayment struct {
	ID               uuid.UUID       `json:"id"`
	LoanID           uuid.UUID       `json:"loan_id"`
	UserID           uuid.UUID       `json:"user_id"`
	PaymentNumber    int             `json:"payment_number"`
	PaymentDate      time.Time       `json:"payment_date"`
	DueDate          time.Time       `json:"due_date"`
	PrincipalAmount  decimal.Decimal `json:"principal_amount"`
	InterestAmount   decimal.Decimal `json:"interest_amount"`
	TotalPayment     decimal.Decimal `json:"total_payment"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	Status           string          `json:"status"`
	ProofURL         *string         `json:"proof_url,omitempty"`
	ExpenseID        *uuid.UUID      `json:"expense_id,omitempty"`
	Notes            *string         `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// AmortizationPayment is one row of a computed schedule. It is derived,
// never persisted; identical inputs always reproduce the identical row.
type AmortizationPayment struct {
	PaymentNumber    int             `json:"payment_number"`
	PaymentDate      time.Time       `json:"payment_date"`
	PrincipalPayment decimal.Decimal `json:"principal_payment"`
	InterestPayment  decimal.Decimal `json:"interest_payment"`
	TotalPayment     decimal.Decimal `json:"total_payment"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
}

type Category struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"` // "expense" or "income"
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

type Expense struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	CategoryID  uuid.UUID       `json:"category_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	ExpenseDate time.Time       `json:"expense_date"`
	CreatedAt   time.Time       `json:"created_at"`
}
