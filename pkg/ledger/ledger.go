// Package ledger holds the business logic for loans: origination,
// schedule previews, and recording real-world payments against the
// outstanding balance.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/finchley/loanledger/pkg/amortization"
	"github.com/finchley/loanledger/pkg/blob"
	"github.com/finchley/loanledger/pkg/cache"
	"github.com/finchley/loanledger/pkg/config"
	"github.com/finchley/loanledger/pkg/models"
	"github.com/finchley/loanledger/pkg/store"
)

const scheduleCacheTTL = 24 * time.Hour

// Ledger coordinates the storage, blob and cache collaborators behind
// the loan operations.
type Ledger struct {
	storage  store.Storage
	uploader blob.Uploader
	cache    cache.Cache
	log      *logrus.Logger
}

// New creates a Ledger over the given collaborators.
func New(s store.Storage, uploader blob.Uploader, c cache.Cache) *Ledger {
	return &Ledger{
		storage:  s,
		uploader: uploader,
		cache:    c,
		log:      config.Logger,
	}
}

// LoanInput carries the origination terms for a new loan. Terms are
// immutable once the loan exists.
type LoanInput struct {
	LoanNumber       string                  `json:"loan_number"`
	Lender           string                  `json:"lender"`
	PrincipalAmount  decimal.Decimal         `json:"principal_amount"`
	InterestRate     decimal.Decimal         `json:"interest_rate"`
	TermMonths       int                     `json:"term_months"`
	StartDate        time.Time               `json:"start_date"`
	PaymentFrequency models.PaymentFrequency `json:"payment_frequency"`
}

// CreateLoan originates a new loan: balance starts at the principal,
// aggregates at zero, status active.
func (l *Ledger) CreateLoan(userID uuid.UUID, in LoanInput) (*models.Loan, error) {
	var problems []string
	if in.PrincipalAmount.LessThanOrEqual(decimal.Zero) {
		problems = append(problems, "principal amount must be greater than zero")
	}
	if in.InterestRate.LessThan(decimal.Zero) {
		problems = append(problems, "interest rate must not be negative")
	}
	if in.TermMonths <= 0 {
		problems = append(problems, "term must be at least one month")
	}
	if strings.TrimSpace(in.Lender) == "" {
		problems = append(problems, "lender is required")
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	if in.PaymentFrequency == "" {
		in.PaymentFrequency = models.FrequencyMonthly
	}
	if in.StartDate.IsZero() {
		in.StartDate = time.Now()
	}

	now := time.Now()
	loan := &models.Loan{
		ID:                 uuid.New(),
		UserID:             userID,
		LoanNumber:         in.LoanNumber,
		Lender:             in.Lender,
		PrincipalAmount:    in.PrincipalAmount,
		InterestRate:       in.InterestRate,
		TermMonths:         in.TermMonths,
		StartDate:          in.StartDate,
		PaymentFrequency:   in.PaymentFrequency,
		CurrentBalance:     in.PrincipalAmount,
		TotalPaid:          decimal.Zero,
		TotalPrincipalPaid: decimal.Zero,
		TotalInterestPaid:  decimal.Zero,
		Status:             models.LoanStatusActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := l.storage.CreateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.log.WithFields(logrus.Fields{
		"loan_id":   loan.ID,
		"user_id":   userID,
		"principal": loan.PrincipalAmount,
		"term":      loan.TermMonths,
	}).Info("loan created")
	return loan, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(id, userID uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(id, userID)
}

// GetLoansByUser retrieves all loans for a user.
func (l *Ledger) GetLoansByUser(userID uuid.UUID) ([]*models.Loan, error) {
	return l.storage.GetLoansByUser(userID)
}

// DeleteLoan deletes a loan and its payment history.
func (l *Ledger) DeleteLoan(id, userID uuid.UUID) error {
	return l.storage.DeleteLoan(id, userID)
}

// Payments retrieves the recorded payments for a loan in payment-number
// order.
func (l *Ledger) Payments(loanID, userID uuid.UUID) ([]*models.LoanPayment, error) {
	return l.storage.GetLoanPayments(loanID, userID)
}

func scheduleCacheKey(loan *models.Loan) string {
	// Terms are immutable, so the key never needs invalidation.
	return fmt.Sprintf("schedule:%s:%s:%s:%d:%s",
		loan.ID, loan.PrincipalAmount, loan.InterestRate, loan.TermMonths, loan.PaymentFrequency)
}

// ScheduleFor returns the loan's amortization schedule, read through the
// cache. Cache failures only cost a recompute.
func (l *Ledger) ScheduleFor(ctx context.Context, loan *models.Loan) []models.AmortizationPayment {
	key := scheduleCacheKey(loan)
	if cached, ok := l.cache.Get(ctx, key); ok {
		var schedule []models.AmortizationPayment
		if err := json.Unmarshal([]byte(cached), &schedule); err == nil {
			return schedule
		}
		l.log.WithField("key", key).Warn("discarding undecodable cached schedule")
	}

	schedule := amortization.Schedule(loan.PrincipalAmount, loan.InterestRate,
		loan.TermMonths, loan.StartDate, loan.PaymentFrequency)

	if encoded, err := json.Marshal(schedule); err == nil {
		if err := l.cache.Set(ctx, key, string(encoded), scheduleCacheTTL); err != nil {
			l.log.WithError(err).Debug("schedule cache write failed")
		}
	}
	return schedule
}

// NextScheduled returns the first scheduled row the recorded payments
// have not covered yet. ok is false when the schedule is exhausted.
func (l *Ledger) NextScheduled(ctx context.Context, loan *models.Loan) (models.AmortizationPayment, bool, error) {
	payments, err := l.storage.GetLoanPayments(loan.ID, loan.UserID)
	if err != nil {
		return models.AmortizationPayment{}, false, err
	}
	next, ok := amortization.NextPayment(l.ScheduleFor(ctx, loan), len(payments))
	return next, ok, nil
}

// ProgressFor returns the percentage of principal repaid.
func (l *Ledger) ProgressFor(loan *models.Loan) decimal.Decimal {
	return amortization.Progress(loan.PrincipalAmount, loan.CurrentBalance)
}

// Quote is an early-payoff preview for a loan.
type Quote struct {
	PaymentsMade  int             `json:"payments_made"`
	Payoff        decimal.Decimal `json:"payoff"`
	InterestSaved decimal.Decimal `json:"interest_saved"`
}

// PayoffQuote computes what paying the loan off today would cost and the
// scheduled interest that would avoid.
func (l *Ledger) PayoffQuote(loan *models.Loan) (Quote, error) {
	payments, err := l.storage.GetLoanPayments(loan.ID, loan.UserID)
	if err != nil {
		return Quote{}, err
	}
	made := len(payments)
	return Quote{
		PaymentsMade:  made,
		Payoff:        amortization.EarlyPayoff(loan.PrincipalAmount, loan.InterestRate, loan.TermMonths, made),
		InterestSaved: amortization.InterestSaved(loan.PrincipalAmount, loan.InterestRate, loan.TermMonths, made),
	}, nil
}
