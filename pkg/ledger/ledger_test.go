package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finchley/loanledger/pkg/blob"
	"github.com/finchley/loanledger/pkg/cache"
	"github.com/finchley/loanledger/pkg/models"
	"github.com/finchley/loanledger/pkg/store"
)

// MockStore is a simple in-memory implementation of the Storage
// interface for testing. CommitPayment applies all-or-nothing, matching
// the transactional contract.
type MockStore struct {
	loans      map[uuid.UUID]*models.Loan
	payments   []*models.LoanPayment
	categories map[string]*models.Category
	expenses   []*models.Expense

	categoriesCreated int
	failLoanUpdate    bool
}

func NewMockStore() *MockStore {
	return &MockStore{
		loans:      make(map[uuid.UUID]*models.Loan),
		categories: make(map[string]*models.Category),
	}
}

func categoryKey(userID uuid.UUID, name, categoryType string) string {
	return userID.String() + "|" + name + "|" + categoryType
}

func (m *MockStore) CreateLoan(loan *models.Loan) error {
	m.loans[loan.ID] = loan
	return nil
}

func (m *MockStore) GetLoan(id, userID uuid.UUID) (*models.Loan, error) {
	loan, ok := m.loans[id]
	if !ok || loan.UserID != userID {
		return nil, store.ErrLoanNotFound
	}
	return loan, nil
}

func (m *MockStore) UpdateLoan(loan *models.Loan) error {
	if _, ok := m.loans[loan.ID]; !ok {
		return store.ErrLoanNotFound
	}
	m.loans[loan.ID] = loan
	return nil
}

func (m *MockStore) DeleteLoan(id, userID uuid.UUID) error {
	if _, err := m.GetLoan(id, userID); err != nil {
		return err
	}
	delete(m.loans, id)
	return nil
}

func (m *MockStore) GetLoansByUser(userID uuid.UUID) ([]*models.Loan, error) {
	loans := []*models.Loan{}
	for _, l := range m.loans {
		if l.UserID == userID {
			loans = append(loans, l)
		}
	}
	return loans, nil
}

func (m *MockStore) CreateLoanPayment(payment *models.LoanPayment) error {
	m.payments = append(m.payments, payment)
	return nil
}

func (m *MockStore) GetLoanPayments(loanID, userID uuid.UUID) ([]*models.LoanPayment, error) {
	payments := []*models.LoanPayment{}
	for _, p := range m.payments {
		if p.LoanID == loanID && p.UserID == userID {
			payments = append(payments, p)
		}
	}
	return payments, nil
}

func (m *MockStore) LinkPaymentExpense(paymentID, expenseID uuid.UUID) error {
	for _, p := range m.payments {
		if p.ID == paymentID {
			id := expenseID
			p.ExpenseID = &id
			return nil
		}
	}
	return fmt.Errorf("payment %s not found", paymentID)
}

func (m *MockStore) FindCategory(userID uuid.UUID, name, categoryType string) (*models.Category, error) {
	c, ok := m.categories[categoryKey(userID, name, categoryType)]
	if !ok {
		return nil, store.ErrCategoryNotFound
	}
	return c, nil
}

func (m *MockStore) FindOrCreateCategory(category *models.Category) (*models.Category, error) {
	key := categoryKey(category.UserID, category.Name, category.Type)
	if existing, ok := m.categories[key]; ok {
		return existing, nil
	}
	m.categories[key] = category
	m.categoriesCreated++
	return category, nil
}

func (m *MockStore) CreateExpense(expense *models.Expense) error {
	m.expenses = append(m.expenses, expense)
	return nil
}

func (m *MockStore) CommitPayment(payment *models.LoanPayment, category *models.Category, expense *models.Expense, loan *models.Loan) error {
	if m.failLoanUpdate {
		return fmt.Errorf("%w: injected failure", store.ErrLoanUpdateFailed)
	}
	m.payments = append(m.payments, payment)
	if expense != nil {
		resolved, err := m.FindOrCreateCategory(category)
		if err != nil {
			return err
		}
		expense.CategoryID = resolved.ID
		m.expenses = append(m.expenses, expense)
		payment.ExpenseID = &expense.ID
	}
	m.loans[loan.ID] = loan
	return nil
}

func (m *MockStore) Close() error {
	return nil
}

func newTestLedger() (*Ledger, *MockStore) {
	mock := NewMockStore()
	return New(mock, blob.NewMemoryUploader(), cache.NewMemoryCache()), mock
}

func testLoanInput() LoanInput {
	return LoanInput{
		LoanNumber:       "LN-001",
		Lender:           "First Credit Union",
		PrincipalAmount:  decimal.NewFromInt(12000),
		InterestRate:     decimal.NewFromInt(6),
		TermMonths:       12,
		StartDate:        time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC),
		PaymentFrequency: models.FrequencyMonthly,
	}
}

func TestCreateLoan(t *testing.T) {
	l, _ := newTestLedger()
	userID := uuid.New()

	loan, err := l.CreateLoan(userID, testLoanInput())
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	if !loan.CurrentBalance.Equal(loan.PrincipalAmount) {
		t.Errorf("Expected balance to start at principal %s, got %s", loan.PrincipalAmount, loan.CurrentBalance)
	}
	if loan.Status != models.LoanStatusActive {
		t.Errorf("Expected status active, got %s", loan.Status)
	}
	if !loan.TotalPaid.IsZero() || !loan.TotalInterestPaid.IsZero() {
		t.Error("Expected zeroed aggregates at origination")
	}
}

func TestCreateLoan_InvalidTerms(t *testing.T) {
	l, _ := newTestLedger()

	in := testLoanInput()
	in.PrincipalAmount = decimal.Zero
	in.TermMonths = 0
	in.Lender = ""

	_, err := l.CreateLoan(uuid.New(), in)
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if len(verr.Problems) != 3 {
		t.Errorf("Expected 3 problems collected, got %d: %v", len(verr.Problems), verr.Problems)
	}
}

func TestScheduleFor_PureAndCached(t *testing.T) {
	l, _ := newTestLedger()
	loan, _ := l.CreateLoan(uuid.New(), testLoanInput())

	ctx := context.Background()
	first := l.ScheduleFor(ctx, loan)
	second := l.ScheduleFor(ctx, loan) // served from cache

	if len(first) != loan.TermMonths || len(second) != loan.TermMonths {
		t.Fatalf("Expected %d rows, got %d and %d", loan.TermMonths, len(first), len(second))
	}
	for i := range first {
		if !first[i].TotalPayment.Equal(second[i].TotalPayment) ||
			!first[i].RemainingBalance.Equal(second[i].RemainingBalance) ||
			!first[i].PaymentDate.Equal(second[i].PaymentDate) {
			t.Errorf("Row %d differs between cached and computed schedule", i+1)
		}
	}
}

func TestNextScheduled(t *testing.T) {
	l, _ := newTestLedger()
	userID := uuid.New()
	loan, _ := l.CreateLoan(userID, testLoanInput())
	ctx := context.Background()

	next, ok, err := l.NextScheduled(ctx, loan)
	if err != nil || !ok {
		t.Fatalf("Expected a next scheduled payment, ok=%v err=%v", ok, err)
	}
	if next.PaymentNumber != 1 {
		t.Errorf("Expected payment number 1, got %d", next.PaymentNumber)
	}

	_, err = l.RecordPayment(ctx, loan.ID, userID, PaymentInput{
		PaymentDate:     time.Now(),
		PaymentMethod:   models.MethodCash,
		PrincipalAmount: decimal.NewFromInt(1000),
		InterestAmount:  decimal.NewFromInt(60),
	})
	if err != nil {
		t.Fatalf("Failed to record payment: %v", err)
	}

	loan, _ = l.GetLoan(loan.ID, userID)
	next, ok, _ = l.NextScheduled(ctx, loan)
	if !ok || next.PaymentNumber != 2 {
		t.Errorf("Expected next payment number 2 after one recorded payment, ok=%v got %d", ok, next.PaymentNumber)
	}
}

func TestProgressFor(t *testing.T) {
	l, _ := newTestLedger()
	loan, _ := l.CreateLoan(uuid.New(), testLoanInput())

	if !l.ProgressFor(loan).IsZero() {
		t.Error("Expected 0% progress on a fresh loan")
	}

	loan.CurrentBalance = decimal.Zero
	if !l.ProgressFor(loan).Equal(decimal.NewFromInt(100)) {
		t.Error("Expected 100% progress at zero balance")
	}
}

func TestPayoffQuote(t *testing.T) {
	l, _ := newTestLedger()
	loan, _ := l.CreateLoan(uuid.New(), testLoanInput())

	quote, err := l.PayoffQuote(loan)
	if err != nil {
		t.Fatalf("Failed to quote payoff: %v", err)
	}
	if quote.PaymentsMade != 0 {
		t.Errorf("Expected 0 payments made, got %d", quote.PaymentsMade)
	}
	if !quote.Payoff.Equal(loan.PrincipalAmount) {
		t.Errorf("Expected payoff to equal principal before any payments, got %s", quote.Payoff)
	}
	if !quote.InterestSaved.GreaterThan(decimal.Zero) {
		t.Errorf("Expected positive interest saved on an interest-bearing loan, got %s", quote.InterestSaved)
	}
}
