package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/opensource-finance/creditline/internal/lending"
	"github.com/shopspring/decimal"
	"github.com/xeipuuv/gojsonschema"
)

const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	lending *lending.Service
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler. repo, cache and bus are only used
// for health checks and async submission and may be nil.
func NewHandler(svc *lending.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		lending: svc,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		version: version,
	}
}

// flexString accepts a JSON string or number. Identifiers from older
// clients arrive as integers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// RegisterRequest is the request body for POST /register.
type RegisterRequest struct {
	FirstName     string          `json:"first_name"`
	LastName      string          `json:"last_name"`
	Age           int             `json:"age"`
	MonthlyIncome decimal.Decimal `json:"monthly_income"`
	PhoneNumber   flexString      `json:"phone_number"`
}

// RegisterResponse is the response for POST /register.
type RegisterResponse struct {
	CustomerID    string          `json:"customer_id"`
	Name          string          `json:"name"`
	Age           int             `json:"age"`
	MonthlyIncome decimal.Decimal `json:"monthly_income"`
	ApprovedLimit decimal.Decimal `json:"approved_limit"`
	PhoneNumber   string          `json:"phone_number"`
}

// LoanRequestBody is the request body for eligibility checks and loan creation.
type LoanRequestBody struct {
	CustomerID   flexString      `json:"customer_id"`
	LoanAmount   decimal.Decimal `json:"loan_amount"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	Tenure       int             `json:"tenure"`
}

func (b LoanRequestBody) toDomain() domain.LoanRequest {
	return domain.LoanRequest{
		CustomerID:   string(b.CustomerID),
		Principal:    b.LoanAmount,
		InterestRate: b.InterestRate,
		TenureMonths: b.Tenure,
	}
}

// EligibilityResponse is the response for POST /check-eligibility.
type EligibilityResponse struct {
	CustomerID            string          `json:"customer_id"`
	Approval              bool            `json:"approval"`
	InterestRate          decimal.Decimal `json:"interest_rate"`
	CorrectedInterestRate decimal.Decimal `json:"corrected_interest_rate"`
	Tenure                int             `json:"tenure"`
	MonthlyInstallment    decimal.Decimal `json:"monthly_installment"`
	CreditScore           decimal.Decimal `json:"credit_score"`
	Reason                string          `json:"reason,omitempty"`
	DecisionID            string          `json:"decision_id"`
}

// CreateLoanResponse is the response for POST /create-loan.
type CreateLoanResponse struct {
	LoanID             *string         `json:"loan_id"`
	CustomerID         string          `json:"customer_id"`
	LoanApproved       bool            `json:"loan_approved"`
	Message            string          `json:"message"`
	MonthlyInstallment decimal.Decimal `json:"monthly_installment"`
}

// CustomerSummary is the customer block of GET /view-loan.
type CustomerSummary struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
	Age         int    `json:"age"`
}

// LoanView is one loan as returned by the view and payment endpoints.
type LoanView struct {
	LoanID             string           `json:"loan_id"`
	Customer           *CustomerSummary `json:"customer,omitempty"`
	LoanAmount         decimal.Decimal  `json:"loan_amount"`
	IsLoanApproved     bool             `json:"is_loan_approved"`
	InterestRate       decimal.Decimal  `json:"interest_rate"`
	MonthlyInstallment decimal.Decimal  `json:"monthly_installment"`
	Tenure             int              `json:"tenure"`
	EMIsPaid           int              `json:"emis_paid"`
	RepaymentsLeft     int              `json:"repayments_left"`
	StartDate          string           `json:"start_date,omitempty"`
	EndDate            string           `json:"end_date,omitempty"`
}

// LoanRequestAccepted is the response for POST /loan-requests.
type LoanRequestAccepted struct {
	RequestID string `json:"request_id"`
	Topic     string `json:"topic"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Register handles POST /register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeBody(w, r, registerSchema, &req); err != nil {
		writeError(w, r, err)
		return
	}

	customer, err := h.lending.RegisterCustomer(r.Context(), GetTenantID(r.Context()), domain.RegistrationRequest{
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Age:           req.Age,
		MonthlyIncome: req.MonthlyIncome,
		PhoneNumber:   string(req.PhoneNumber),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{
		CustomerID:    customer.ID,
		Name:          customer.FullName(),
		Age:           customer.Age,
		MonthlyIncome: customer.MonthlyIncome,
		ApprovedLimit: customer.ApprovedLimit,
		PhoneNumber:   customer.PhoneNumber,
	})
}

// CheckEligibility handles POST /check-eligibility.
func (h *Handler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	var body LoanRequestBody
	if err := decodeBody(w, r, loanRequestSchema, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req := body.toDomain()

	decision, err := h.lending.CheckEligibility(r.Context(), GetTenantID(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res := decision.Result
	writeJSON(w, http.StatusOK, EligibilityResponse{
		CustomerID:            decision.CustomerID,
		Approval:              res.Approved,
		InterestRate:          req.InterestRate,
		CorrectedInterestRate: res.CorrectedRate,
		Tenure:                req.TenureMonths,
		MonthlyInstallment:    res.MonthlyInstallment,
		CreditScore:           res.CreditScore,
		Reason:                res.Reason,
		DecisionID:            decision.ID,
	})
}

// CreateLoan handles POST /create-loan. A rejection is a 200 with a null
// loan_id, not an error.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var body LoanRequestBody
	if err := decodeBody(w, r, loanRequestSchema, &body); err != nil {
		writeError(w, r, err)
		return
	}

	decision, loan, err := h.lending.CreateLoan(r.Context(), GetTenantID(r.Context()), body.toDomain())
	if err != nil {
		writeError(w, r, err)
		return
	}

	if loan == nil {
		writeJSON(w, http.StatusOK, CreateLoanResponse{
			CustomerID:         decision.CustomerID,
			LoanApproved:       false,
			Message:            decision.Result.Reason,
			MonthlyInstallment: decimal.Zero,
		})
		return
	}

	writeJSON(w, http.StatusCreated, CreateLoanResponse{
		LoanID:             &loan.ID,
		CustomerID:         loan.CustomerID,
		LoanApproved:       true,
		Message:            "Loan approved successfully",
		MonthlyInstallment: loan.MonthlyInstallment,
	})
}

// ViewLoan handles GET /view-loan/{loan_id}.
func (h *Handler) ViewLoan(w http.ResponseWriter, r *http.Request) {
	loan, customer, err := h.lending.GetLoan(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "loan_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	view := loanView(loan)
	view.Customer = &CustomerSummary{
		ID:          customer.ID,
		FirstName:   customer.FirstName,
		LastName:    customer.LastName,
		PhoneNumber: customer.PhoneNumber,
		Age:         customer.Age,
	}
	writeJSON(w, http.StatusOK, view)
}

// ViewLoans handles GET /view-loans/{customer_id}.
func (h *Handler) ViewLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.lending.ListLoans(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "customer_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	views := make([]LoanView, len(loans))
	for i, loan := range loans {
		views[i] = loanView(loan)
	}
	writeJSON(w, http.StatusOK, views)
}

// RecordPayment handles POST /record-payment/{loan_id}.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	loan, err := h.lending.RecordPayment(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "loan_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loanView(loan))
}

// SubmitLoanRequest handles POST /loan-requests. The request is queued on
// the event bus for the async worker; ?create=true asks for a loan instead
// of a quote.
func (h *Handler) SubmitLoanRequest(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "event bus not available"})
		return
	}

	var body LoanRequestBody
	if err := decodeBody(w, r, loanRequestSchema, &body); err != nil {
		writeError(w, r, err)
		return
	}

	create := false
	if v := r.URL.Query().Get("create"); v != "" {
		var err error
		if create, err = strconv.ParseBool(v); err != nil {
			writeError(w, r, domain.InvalidInput("create", "must be a boolean"))
			return
		}
	}

	tenantID := GetTenantID(r.Context())
	event := domain.LoanRequestedEvent{
		RequestID: uuid.NewString(),
		TenantID:  tenantID,
		Request:   body.toDomain(),
		Create:    create,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		writeError(w, r, fmt.Errorf("failed to encode loan request: %w", err))
		return
	}
	if err := h.bus.Publish(r.Context(), tenantID, domain.TopicLoanRequested, payload); err != nil {
		writeError(w, r, fmt.Errorf("failed to queue loan request: %w", err))
		return
	}

	writeJSON(w, http.StatusAccepted, LoanRequestAccepted{
		RequestID: event.RequestID,
		Topic:     domain.TopicLoanRequested,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if err := h.check(r); err != nil {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports 503 until every backing store answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.check(r); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) check(r *http.Request) error {
	ctx := r.Context()
	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			return fmt.Errorf("repository: %w", err)
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			return fmt.Errorf("event bus: %w", err)
		}
	}
	return nil
}

func loanView(loan *domain.Loan) LoanView {
	return LoanView{
		LoanID:             loan.ID,
		LoanAmount:         loan.Amount,
		IsLoanApproved:     loan.Status == domain.LoanApproved,
		InterestRate:       loan.InterestRate,
		MonthlyInstallment: loan.MonthlyInstallment,
		Tenure:             loan.TenureMonths,
		EMIsPaid:           loan.EMIsPaidOnTime,
		RepaymentsLeft:     loan.RepaymentsLeft(),
		StartDate:          formatDate(loan.StartDate),
		EndDate:            formatDate(loan.EndDate),
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

// decodeBody validates the body against schema, then decodes it into v.
func decodeBody(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.InvalidInput("body", fmt.Sprintf("exceeds %d bytes", tooLarge.Limit))
		}
		return fmt.Errorf("failed to read body: %w", err)
	}
	if err := validateBody(schema, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return domain.InvalidInput("body", err.Error())
	}
	return nil
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"path", r.URL.Path,
			"tenant_id", GetTenantID(r.Context()),
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
