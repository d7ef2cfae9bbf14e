package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finchley/loanledger/pkg/blob"
	"github.com/finchley/loanledger/pkg/cache"
	"github.com/finchley/loanledger/pkg/models"
	"github.com/finchley/loanledger/pkg/store"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewServer(s, blob.NewMemoryUploader(), cache.NewMemoryCache(), 30*time.Second)
}

func doJSON(t *testing.T, server *Server, method, path string, userID uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User-ID", userID.String())
	rr := httptest.NewRecorder()
	server.router().ServeHTTP(rr, req)
	return rr
}

func createTestLoan(t *testing.T, server *Server, userID uuid.UUID, principal float64) models.Loan {
	t.Helper()
	rr := doJSON(t, server, "POST", "/loans", userID, map[string]any{
		"loan_number":       "LN-900",
		"lender":            "Test Lender",
		"principal_amount":  principal,
		"interest_rate":     6.0,
		"term_months":       12,
		"start_date":        time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		"payment_frequency": "monthly",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 creating loan, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var loan models.Loan
	json.Unmarshal(rr.Body.Bytes(), &loan)
	return loan
}

func TestAPI_CreateAndGetLoan(t *testing.T) {
	server := setupTestServer(t)
	userID := uuid.New()

	created := createTestLoan(t, server, userID, 5000)
	if !created.CurrentBalance.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("Expected balance 5000, got %s", created.CurrentBalance)
	}

	rr := doJSON(t, server, "GET", "/loans/"+created.ID.String(), userID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var fetched models.Loan
	json.Unmarshal(rr.Body.Bytes(), &fetched)
	if fetched.ID != created.ID {
		t.Errorf("Expected ID %s, got %s", created.ID, fetched.ID)
	}

	// Another user cannot see the loan.
	rr = doJSON(t, server, "GET", "/loans/"+created.ID.String(), uuid.New(), nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for another user, got %d", rr.Code)
	}
}

func TestAPI_MissingUserHeader(t *testing.T) {
	server := setupTestServer(t)

	req := httptest.NewRequest("GET", "/loans", nil)
	rr := httptest.NewRecorder()
	server.router().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without X-User-ID, got %d", rr.Code)
	}
}

func TestAPI_RecordPayment(t *testing.T) {
	server := setupTestServer(t)
	userID := uuid.New()
	loan := createTestLoan(t, server, userID, 1000)

	rr := doJSON(t, server, "POST", "/loans/"+loan.ID.String()+"/payments", userID, map[string]any{
		"payment_date":     time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC),
		"payment_method":   "cash",
		"principal_amount": 200.0,
		"interest_amount":  5.0,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var payment models.LoanPayment
	json.Unmarshal(rr.Body.Bytes(), &payment)
	if payment.PaymentNumber != 1 {
		t.Errorf("Expected payment number 1, got %d", payment.PaymentNumber)
	}
	if !payment.RemainingBalance.Equal(decimal.NewFromInt(800)) {
		t.Errorf("Expected remaining balance 800, got %s", payment.RemainingBalance)
	}
}

func TestAPI_RecordPayment_OverpaymentRejected(t *testing.T) {
	server := setupTestServer(t)
	userID := uuid.New()
	loan := createTestLoan(t, server, userID, 500)

	rr := doJSON(t, server, "POST", "/loans/"+loan.ID.String()+"/payments", userID, map[string]any{
		"payment_date":     time.Now(),
		"payment_method":   "cash",
		"principal_amount": 600.0,
		"interest_amount":  0.0,
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "500.00") {
		t.Errorf("Expected the outstanding balance in the message, got %q", rr.Body.String())
	}

	// Nothing was written.
	rr = doJSON(t, server, "GET", "/loans/"+loan.ID.String()+"/payments", userID, nil)
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("Expected empty payment list, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestAPI_PaidOffLoanRejectsPayments(t *testing.T) {
	server := setupTestServer(t)
	userID := uuid.New()
	loan := createTestLoan(t, server, userID, 500)

	rr := doJSON(t, server, "POST", "/loans/"+loan.ID.String()+"/payments", userID, map[string]any{
		"payment_date":     time.Now(),
		"payment_method":   "bank_transfer",
		"principal_amount": 500.0,
		"interest_amount":  0.0,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, "GET", "/loans/"+loan.ID.String(), userID, nil)
	var paid models.Loan
	json.Unmarshal(rr.Body.Bytes(), &paid)
	if paid.Status != models.LoanStatusPaidOff {
		t.Errorf("Expected status paid_off, got %s", paid.Status)
	}

	rr = doJSON(t, server, "POST", "/loans/"+loan.ID.String()+"/payments", userID, map[string]any{
		"payment_date":     time.Now(),
		"payment_method":   "bank_transfer",
		"principal_amount": 100.0,
		"interest_amount":  0.0,
	})
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for a paid-off loan, got %d", rr.Code)
	}
}

func TestAPI_Schedule(t *testing.T) {
	server := setupTestServer(t)
	userID := uuid.New()
	loan := createTestLoan(t, server, userID, 12000)

	rr := doJSON(t, server, "GET", "/loans/"+loan.ID.String()+"/schedule", userID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var schedule []models.AmortizationPayment
	json.Unmarshal(rr.Body.Bytes(), &schedule)
	if len(schedule) != 12 {
		t.Errorf("Expected 12 schedule rows, got %d", len(schedule))
	}
}

func TestAPI_Payoff(t *testing.T) {
	server := setupTestServer(t)
	userID := uuid.New()
	loan := createTestLoan(t, server, userID, 12000)

	rr := doJSON(t, server, "GET", "/loans/"+loan.ID.String()+"/payoff", userID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var quote struct {
		PaymentsMade  int             `json:"payments_made"`
		Payoff        decimal.Decimal `json:"payoff"`
		InterestSaved decimal.Decimal `json:"interest_saved"`
	}
	json.Unmarshal(rr.Body.Bytes(), &quote)
	if quote.PaymentsMade != 0 {
		t.Errorf("Expected 0 payments made, got %d", quote.PaymentsMade)
	}
	if !quote.Payoff.Equal(decimal.NewFromInt(12000)) {
		t.Errorf("Expected payoff to equal principal, got %s", quote.Payoff)
	}
}
