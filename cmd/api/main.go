package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/finchley/loanledger/pkg/blob"
	"github.com/finchley/loanledger/pkg/cache"
	"github.com/finchley/loanledger/pkg/config"
	"github.com/finchley/loanledger/pkg/ledger"
	"github.com/finchley/loanledger/pkg/models"
	"github.com/finchley/loanledger/pkg/store"
)

var log = config.Logger

// Server holds the ledger instance and its collaborators.
type Server struct {
	ledger        *ledger.Ledger
	storage       store.Storage
	submitTimeout time.Duration
}

func NewServer(s store.Storage, uploader blob.Uploader, c cache.Cache, submitTimeout time.Duration) *Server {
	return &Server{
		ledger:        ledger.New(s, uploader, c),
		storage:       s,
		submitTimeout: submitTimeout,
	}
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	r.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	r.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	r.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	r.HandleFunc("/loans/{id}/schedule", s.scheduleHandler).Methods("GET")
	r.HandleFunc("/loans/{id}/payoff", s.payoffHandler).Methods("GET")
	r.HandleFunc("/loans/{id}/payments", s.listPaymentsHandler).Methods("GET")
	r.HandleFunc("/loans/{id}/payments", s.recordPaymentHandler).Methods("POST")
	return r
}

// userID comes from the X-User-ID header; authentication itself is the
// hosting layer's concern.
func requestUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		http.Error(w, "Missing or invalid X-User-ID header", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func requestLoanID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	var in ledger.LoanInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.CreateLoan(userID, in)
	if err != nil {
		var verr *ledger.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Error(), http.StatusUnprocessableEntity)
			return
		}
		log.WithError(err).Error("failed to create loan")
		http.Error(w, "Failed to create loan", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	loanID, ok := requestLoanID(w, r)
	if !ok {
		return
	}

	loan, err := s.ledger.GetLoan(loanID, userID)
	if err != nil {
		s.writeLoanError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}

	loans, err := s.ledger.GetLoansByUser(userID)
	if err != nil {
		log.WithError(err).Error("failed to list loans")
		http.Error(w, "Failed to list loans", http.StatusInternalServerError)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	loanID, ok := requestLoanID(w, r)
	if !ok {
		return
	}

	if err := s.ledger.DeleteLoan(loanID, userID); err != nil {
		s.writeLoanError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	loanID, ok := requestLoanID(w, r)
	if !ok {
		return
	}

	loan, err := s.ledger.GetLoan(loanID, userID)
	if err != nil {
		s.writeLoanError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ledger.ScheduleFor(r.Context(), loan))
}

func (s *Server) payoffHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	loanID, ok := requestLoanID(w, r)
	if !ok {
		return
	}

	loan, err := s.ledger.GetLoan(loanID, userID)
	if err != nil {
		s.writeLoanError(w, err)
		return
	}
	quote, err := s.ledger.PayoffQuote(loan)
	if err != nil {
		log.WithError(err).Error("failed to quote payoff")
		http.Error(w, "Failed to quote payoff", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	loanID, ok := requestLoanID(w, r)
	if !ok {
		return
	}

	payments, err := s.ledger.Payments(loanID, userID)
	if err != nil {
		log.WithError(err).Error("failed to list payments")
		http.Error(w, "Failed to list payments", http.StatusInternalServerError)
		return
	}
	if payments == nil {
		payments = []*models.LoanPayment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(w, r)
	if !ok {
		return
	}
	loanID, ok := requestLoanID(w, r)
	if !ok {
		return
	}

	var req struct {
		PaymentDate      time.Time       `json:"payment_date"`
		PaymentMethod    string          `json:"payment_method"`
		PrincipalAmount  decimal.Decimal `json:"principal_amount"`
		InterestAmount   decimal.Decimal `json:"interest_amount"`
		Notes            string          `json:"notes"`
		ProofBase64      string          `json:"proof_base64"`
		ProofFilename    string          `json:"proof_filename"`
		ProofContentType string          `json:"proof_content_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	in := ledger.PaymentInput{
		PaymentDate:      req.PaymentDate,
		PaymentMethod:    models.PaymentMethod(req.PaymentMethod),
		PrincipalAmount:  req.PrincipalAmount,
		InterestAmount:   req.InterestAmount,
		Notes:            req.Notes,
		ProofFilename:    req.ProofFilename,
		ProofContentType: req.ProofContentType,
	}
	if req.ProofBase64 != "" {
		proof, err := base64.StdEncoding.DecodeString(req.ProofBase64)
		if err != nil {
			http.Error(w, "Invalid proof_base64", http.StatusBadRequest)
			return
		}
		in.Proof = proof
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.submitTimeout)
	defer cancel()

	payment, err := s.ledger.RecordPayment(ctx, loanID, userID, in)
	if err != nil {
		s.writePaymentError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (s *Server) writeLoanError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrLoanNotFound) {
		http.Error(w, "Loan not found", http.StatusNotFound)
		return
	}
	log.WithError(err).Error("loan operation failed")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// writePaymentError maps the recording error taxonomy onto status codes.
// Every branch produces a visible signal; nothing fails silently.
func (s *Server) writePaymentError(w http.ResponseWriter, err error) {
	var verr *ledger.ValidationError
	var uerr *ledger.UploadError
	var perr *ledger.PersistenceError

	switch {
	case errors.As(err, &verr):
		http.Error(w, verr.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ledger.ErrLoanNotActive):
		http.Error(w, "Loan is not active and cannot accept payments", http.StatusConflict)
	case errors.Is(err, store.ErrLoanNotFound):
		http.Error(w, "Loan not found", http.StatusNotFound)
	case errors.As(err, &uerr):
		http.Error(w, "Proof upload failed; nothing was recorded, please retry", http.StatusBadGateway)
	case errors.As(err, &perr) && perr.Stage == ledger.StageLoanUpdate:
		http.Error(w, "Failed to update the loan balance while recording the payment", http.StatusInternalServerError)
	default:
		http.Error(w, "Failed to record payment", http.StatusInternalServerError)
	}
}

func main() {
	cfg := config.Load()

	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer sqliteStore.Close()

	var uploader blob.Uploader
	if cfg.S3Enabled {
		uploader, err = blob.NewS3Uploader(context.Background(), cfg.S3Bucket, cfg.S3Region, cfg.S3BaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize S3 uploader: %v", err)
		}
	} else {
		uploader, err = blob.NewLocalUploader(cfg.UploadDir)
		if err != nil {
			log.Fatalf("Failed to initialize local uploader: %v", err)
		}
	}

	var scheduleCache cache.Cache
	if cfg.RedisAddr != "" {
		scheduleCache = cache.NewRedisCache(cfg.RedisAddr)
	} else {
		scheduleCache = cache.NewMemoryCache()
	}

	server := NewServer(sqliteStore, uploader, scheduleCache, cfg.SubmitTimeout)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Server starting on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.WithError(err).Error("server failed to start")
		return
	case <-quit:
		log.Info("Shutting down server...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Error("error during server shutdown")
	}
	log.Info("Server exited")
}
