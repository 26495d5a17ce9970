package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanbook/pkg/ledger"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const actorHeader = "X-Actor-ID"

// Server exposes the ledger over HTTP.
type Server struct {
	ledger      *ledger.Ledger
	arrearsRate decimal.Decimal
	logger      *zap.Logger
}

func NewServer(l *ledger.Ledger, arrearsRate decimal.Decimal, logger *zap.Logger) *Server {
	return &Server{
		ledger:      l,
		arrearsRate: arrearsRate,
		logger:      logger,
	}
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	router.HandleFunc("/clients", s.listClientsHandler).Methods("GET")
	router.HandleFunc("/clients", s.createClientHandler).Methods("POST")
	router.HandleFunc("/clients/{id}", s.getClientHandler).Methods("GET")
	router.HandleFunc("/clients/{id}", s.updateClientHandler).Methods("PUT")
	router.HandleFunc("/clients/{id}/deactivate", s.setClientActiveHandler(false)).Methods("POST")
	router.HandleFunc("/clients/{id}/reactivate", s.setClientActiveHandler(true)).Methods("POST")

	router.HandleFunc("/schedules/preview", s.previewScheduleHandler).Methods("POST")

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/status", s.updateLoanStatusHandler).Methods("PUT")

	router.HandleFunc("/installments/{id}/payments", s.recordPaymentHandler).Methods("POST")
	router.HandleFunc("/installments/{id}/arrears", s.calculateArrearsHandler).Methods("POST")

	router.HandleFunc("/payments", s.listPaymentsHandler).Methods("GET")
	router.HandleFunc("/reports/summary", s.summaryHandler).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return router
}

// envelope is the body of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respond(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, envelope{Message: message})
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		message = "internal error, the operation was not applied"
	}
	writeJSON(w, status, envelope{Message: message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, ledger.ErrInvalidLoanType),
		errors.Is(err, ledger.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyPaid),
		errors.Is(err, ledger.ErrOverpayment),
		errors.Is(err, ledger.ErrConcurrentUpdate),
		errors.Is(err, ledger.ErrDuplicateClient):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseTime accepts RFC 3339 timestamps and plain 2006-01-02 dates.
func parseTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}

func parseOptionalDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := parseTime(value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- clients ---

type clientRequest struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	DNI        string `json:"dni"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	Occupation string `json:"occupation"`
	Email      string `json:"email"`
	Notes      string `json:"notes"`
}

func (s *Server) createClientHandler(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	client, err := s.ledger.RegisterClient(r.Context(), ledger.ClientInput(req), r.Header.Get(actorHeader))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, client)
}

func (s *Server) listClientsHandler(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	clients, err := s.ledger.ListClients(r.Context(), !all)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, clients)
}

func (s *Server) getClientHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, "invalid client ID")
		return
	}
	client, err := s.ledger.GetClient(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, client)
}

func (s *Server) updateClientHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, "invalid client ID")
		return
	}
	var req clientRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	client, err := s.ledger.UpdateClient(r.Context(), id, ledger.ClientInput(req), r.Header.Get(actorHeader))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, client)
}

func (s *Server) setClientActiveHandler(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			badRequest(w, "invalid client ID")
			return
		}

		set, message := s.ledger.DeactivateClient, "client deactivated"
		if active {
			set, message = s.ledger.ReactivateClient, "client reactivated"
		}
		if err := set(r.Context(), id, r.Header.Get(actorHeader)); err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, envelope{Success: true, Message: message})
	}
}

// --- loans ---

type loanRequest struct {
	ClientID         uuid.UUID           `json:"client_id"`
	LoanType         models.LoanType     `json:"loan_type"`
	Principal        decimal.Decimal     `json:"principal"`
	InterestRate     decimal.NullDecimal `json:"interest_rate"`
	Term             int                 `json:"term"`
	StartDate        string              `json:"start_date"`
	FixedInstallment decimal.NullDecimal `json:"fixed_installment"`
	Guarantor        models.Guarantor    `json:"guarantor"`
	Notes            string              `json:"notes"`
}

func (req *loanRequest) input() (ledger.LoanInput, error) {
	in := ledger.LoanInput{
		ClientID:         req.ClientID,
		Type:             req.LoanType,
		Principal:        req.Principal,
		InterestRate:     req.InterestRate,
		Term:             req.Term,
		FixedInstallment: req.FixedInstallment,
		Guarantor:        req.Guarantor,
		Notes:            req.Notes,
	}
	if req.StartDate != "" {
		start, err := parseTime(req.StartDate)
		if err != nil {
			return in, fmt.Errorf("invalid start_date %q", req.StartDate)
		}
		in.StartDate = start
	}
	return in, nil
}

func (s *Server) previewScheduleHandler(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	in, err := req.input()
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	schedule, err := s.ledger.PreviewSchedule(r.Context(), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, schedule)
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	in, err := req.input()
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	reg, err := s.ledger.RegisterLoan(r.Context(), in, r.Header.Get(actorHeader))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, reg)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, "invalid loan ID")
		return
	}

	loan, err := s.ledger.GetLoanByID(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.LoanFilter{
		Status: models.LoanStatus(q.Get("status")),
		Type:   models.LoanType(q.Get("loan_type")),
	}
	if v := q.Get("client_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			badRequest(w, "invalid client_id")
			return
		}
		filter.ClientID = id
	}
	var err error
	if filter.From, err = parseOptionalDate(q.Get("from")); err != nil {
		badRequest(w, "invalid from date")
		return
	}
	if filter.To, err = parseOptionalDate(q.Get("to")); err != nil {
		badRequest(w, "invalid to date")
		return
	}

	loans, err := s.ledger.GetAllLoans(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, loans)
}

func (s *Server) updateLoanStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, "invalid loan ID")
		return
	}
	var req struct {
		Status models.LoanStatus `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := s.ledger.UpdateLoanStatus(r.Context(), id, req.Status, r.Header.Get(actorHeader)); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "loan status updated"})
}

// --- payments and arrears ---

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, "invalid installment ID")
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		PaidAt string          `json:"paid_at"`
		Method string          `json:"method"`
		Notes  string          `json:"notes"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	in := ledger.PaymentInput{InstallmentID: id, Amount: req.Amount, Method: req.Method, Notes: req.Notes}
	if req.PaidAt != "" {
		if in.PaidAt, err = parseTime(req.PaidAt); err != nil {
			badRequest(w, fmt.Sprintf("invalid paid_at %q", req.PaidAt))
			return
		}
	}

	res, err := s.ledger.RecordPayment(r.Context(), in, r.Header.Get(actorHeader))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, res)
}

func (s *Server) calculateArrearsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, "invalid installment ID")
		return
	}
	var req struct {
		Rate decimal.NullDecimal `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	rate := s.arrearsRate
	if req.Rate.Valid {
		rate = req.Rate.Decimal
	}

	res, err := s.ledger.CalculateArrears(r.Context(), id, rate)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: res.Reason, Data: res})
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter ledger.PaymentFilter
	for key, dst := range map[string]*uuid.UUID{"client_id": &filter.ClientID, "loan_id": &filter.LoanID} {
		if v := q.Get(key); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				badRequest(w, "invalid "+key)
				return
			}
			*dst = id
		}
	}
	var err error
	if filter.From, err = parseOptionalDate(q.Get("from")); err != nil {
		badRequest(w, "invalid from date")
		return
	}
	if filter.To, err = parseOptionalDate(q.Get("to")); err != nil {
		badRequest(w, "invalid to date")
		return
	}

	payments, err := s.ledger.GetAllPayments(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, payments)
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseOptionalDate(q.Get("from"))
	if err != nil {
		badRequest(w, "invalid from date")
		return
	}
	to, err := parseOptionalDate(q.Get("to"))
	if err != nil {
		badRequest(w, "invalid to date")
		return
	}

	summary, err := s.ledger.Summary(r.Context(), from, to)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, summary)
}

// --- middleware ---

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("actor", r.Header.Get(actorHeader)),
		)
	})
}
