package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/finchley/loanledger/pkg/amortization"
	"github.com/finchley/loanledger/pkg/blob"
	"github.com/finchley/loanledger/pkg/models"
	"github.com/finchley/loanledger/pkg/store"
)

// The interest portion of every payment is filed as an expense under a
// single per-user category, shared across all of the user's loans.
const (
	InterestCategoryName  = "Loan Interest"
	InterestCategoryType  = "expense"
	InterestCategoryColor = "#8B5CF6"
)

// PaymentInput is the user-supplied form for recording one payment.
type PaymentInput struct {
	PaymentDate      time.Time
	PaymentMethod    models.PaymentMethod
	PrincipalAmount  decimal.Decimal
	InterestAmount   decimal.Decimal
	Proof            []byte
	ProofFilename    string
	ProofContentType string
	Notes            string
}

// ValidatePayment checks the form against the loan's current state and
// collects every violated rule rather than stopping at the first. A nil
// result means the input is valid.
func (l *Ledger) ValidatePayment(loan *models.Loan, in PaymentInput) *ValidationError {
	var problems []string

	if in.PaymentDate.IsZero() {
		problems = append(problems, "payment date is required")
	}
	if !in.PrincipalAmount.Add(in.InterestAmount).GreaterThan(decimal.Zero) {
		problems = append(problems, "total payment must be greater than zero")
	}
	if !in.PrincipalAmount.GreaterThan(decimal.Zero) {
		problems = append(problems, "principal amount must be greater than zero")
	}
	if in.PrincipalAmount.GreaterThan(loan.CurrentBalance) {
		problems = append(problems, fmt.Sprintf(
			"principal amount exceeds the outstanding balance of %s", loan.CurrentBalance.StringFixed(2)))
	}
	if !in.PaymentMethod.Valid() {
		problems = append(problems, fmt.Sprintf("unknown payment method %q", in.PaymentMethod))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// RecordPayment records one real-world payment against a loan:
//
//  1. the loan must be active and the input valid (nothing written
//     otherwise);
//  2. an attached proof file is uploaded first; an upload failure
//     aborts with no rows written;
//  3. the payment row, the interest expense with its category (only when
//     interest > 0), and the loan's new balance and aggregates are then
//     committed in a single store transaction.
//
// The loan's aggregates are recomputed by summing the recorded payment
// rows plus this one, so they track real money even when payments
// deviate from the schedule.
func (l *Ledger) RecordPayment(ctx context.Context, loanID, userID uuid.UUID, in PaymentInput) (*models.LoanPayment, error) {
	loan, err := l.storage.GetLoan(loanID, userID)
	if err != nil {
		return nil, err
	}
	if loan.Status.Terminal() {
		return nil, fmt.Errorf("%w (status %s)", ErrLoanNotActive, loan.Status)
	}
	if verr := l.ValidatePayment(loan, in); verr != nil {
		return nil, verr
	}

	payments, err := l.storage.GetLoanPayments(loanID, userID)
	if err != nil {
		return nil, err
	}
	paymentNumber := len(payments) + 1

	// Due date comes from the next scheduled row; when the schedule is
	// exhausted the payment date stands in.
	dueDate := in.PaymentDate
	if next, ok := amortization.NextPayment(l.ScheduleFor(ctx, loan), len(payments)); ok {
		dueDate = next.PaymentDate
	}

	var proofURL *string
	if len(in.Proof) > 0 {
		key := blob.ProofKey(userID, loanID, in.ProofFilename)
		url, uerr := l.uploader.Upload(ctx, key, in.Proof, in.ProofContentType)
		if uerr != nil {
			l.log.WithFields(logrus.Fields{
				"loan_id": loanID,
				"key":     key,
			}).WithError(uerr).Warn("proof upload failed, aborting payment")
			return nil, &UploadError{Err: uerr}
		}
		proofURL = &url
	}

	total := in.PrincipalAmount.Add(in.InterestAmount)
	newBalance := loan.CurrentBalance.Sub(in.PrincipalAmount)
	if newBalance.LessThan(decimal.Zero) {
		newBalance = decimal.Zero
	}

	now := time.Now()
	payment := &models.LoanPayment{
		ID:               uuid.New(),
		LoanID:           loanID,
		UserID:           userID,
		PaymentNumber:    paymentNumber,
		PaymentDate:      in.PaymentDate,
		DueDate:          dueDate,
		PrincipalAmount:  in.PrincipalAmount,
		InterestAmount:   in.InterestAmount,
		TotalPayment:     total,
		RemainingBalance: newBalance,
		PaymentMethod:    in.PaymentMethod,
		Status:           "paid",
		ProofURL:         proofURL,
		CreatedAt:        now,
	}
	if in.Notes != "" {
		payment.Notes = &in.Notes
	}

	var category *models.Category
	var expense *models.Expense
	if in.InterestAmount.GreaterThan(decimal.Zero) {
		category = &models.Category{
			ID:        uuid.New(),
			UserID:    userID,
			Name:      InterestCategoryName,
			Type:      InterestCategoryType,
			Color:     InterestCategoryColor,
			CreatedAt: now,
		}
		expense = &models.Expense{
			ID:     uuid.New(),
			UserID: userID,
			Amount: in.InterestAmount,
			Description: fmt.Sprintf("Interest on loan %s (%s), payment #%d",
				loan.LoanNumber, loan.Lender, paymentNumber),
			ExpenseDate: in.PaymentDate,
			CreatedAt:   now,
		}
	}

	updated := *loan
	updated.CurrentBalance = newBalance
	if newBalance.IsZero() {
		updated.Status = models.LoanStatusPaidOff
	}
	updated.TotalPaid = sumPayments(payments, payment, func(p *models.LoanPayment) decimal.Decimal { return p.TotalPayment })
	updated.TotalPrincipalPaid = sumPayments(payments, payment, func(p *models.LoanPayment) decimal.Decimal { return p.PrincipalAmount })
	updated.TotalInterestPaid = sumPayments(payments, payment, func(p *models.LoanPayment) decimal.Decimal { return p.InterestAmount })
	updated.UpdatedAt = now

	if err := l.storage.CommitPayment(payment, category, expense, &updated); err != nil {
		stage := StagePayment
		if errors.Is(err, store.ErrLoanUpdateFailed) {
			stage = StageLoanUpdate
		}
		perr := &PersistenceError{
			Stage:         stage,
			LoanID:        loanID,
			PaymentNumber: paymentNumber,
			Err:           err,
		}
		l.log.WithFields(logrus.Fields{
			"loan_id":        loanID,
			"payment_number": paymentNumber,
			"stage":          stage,
		}).WithError(err).Error("failed to record loan payment")
		return nil, perr
	}

	l.log.WithFields(logrus.Fields{
		"loan_id":        loanID,
		"payment_number": paymentNumber,
		"principal":      in.PrincipalAmount,
		"interest":       in.InterestAmount,
		"new_balance":    newBalance,
		"status":         updated.Status,
	}).Info("loan payment recorded")
	return payment, nil
}

func sumPayments(prior []*models.LoanPayment, current *models.LoanPayment, field func(*models.LoanPayment) decimal.Decimal) decimal.Decimal {
	sum := field(current)
	for _, p := range prior {
		sum = sum.Add(field(p))
	}
	return sum
}
