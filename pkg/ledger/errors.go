package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrLoanNotActive rejects payments against a paid-off or defaulted loan.
var ErrLoanNotActive = errors.New("loan is not active")

// ValidationError aggregates every business-rule violation in a payment
// form. Nothing has been written when one is returned.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

// UploadError means the proof-of-payment upload failed. The submission
// was aborted before any row was written; re-invoking submit retries.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("proof upload failed: %v", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Stage identifies which write of the payment transaction failed.
type Stage string

const (
	StagePayment    Stage = "payment"
	StageExpense    Stage = "expense"
	StageLoanUpdate Stage = "loan_update"
)

// PersistenceError carries enough context (loan, attempted payment
// number, stage) to support reconciliation if the store were ever left
// partially written. StageLoanUpdate is the case callers must surface
// distinctly: the payment row may exist without the balance update.
type PersistenceError struct {
	Stage         Stage
	LoanID        uuid.UUID
	PaymentNumber int
	Err           error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("recording payment %d for loan %s failed at %s stage: %v",
		e.PaymentNumber, e.LoanID, e.Stage, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
