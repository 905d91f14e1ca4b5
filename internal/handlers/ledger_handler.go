package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/susubank/ledger/internal/middleware"
	"github.com/susubank/ledger/internal/models"
	"github.com/susubank/ledger/internal/services"
)

// LedgerEngine is the forward side of the ledger.
type LedgerEngine interface {
	RecordStake(ctx context.Context, req services.StakeRequest) (*services.StakeResult, error)
	ApproveWithdrawal(ctx context.Context, req services.ReviewRequest) (*services.ApprovalResult, error)
	RejectWithdrawal(ctx context.Context, req services.ReviewRequest) (*models.Transaction, error)
	DeductCommission(ctx context.Context, req services.CommissionRequest) (*services.CommissionResult, error)
	TransferBetweenAccounts(ctx context.Context, req services.TransferRequest) (*services.TransferResult, error)
	ApproveLoan(ctx context.Context, req services.LoanApprovalRequest) (*services.LoanApprovalResult, error)
	AddBudget(ctx context.Context, req services.BudgetAdjustmentRequest) (*services.BudgetResult, error)
	SellCash(ctx context.Context, req services.BudgetAdjustmentRequest) (*services.BudgetResult, error)
	ToggleBudgetStatus(ctx context.Context, req services.BudgetStatusRequest) (*models.Budget, error)
	RecordExpense(ctx context.Context, req services.ExpenseRequest) (*services.ExpenseResult, error)
}

// ReversalEngine undoes approved withdrawals and transfers.
type ReversalEngine interface {
	ReverseWithdrawal(ctx context.Context, req services.ReversalRequest) (*services.WithdrawalReversalResult, error)
	ReverseTransfer(ctx context.Context, req services.ReversalRequest) (*services.TransferReversalResult, error)
}

type LedgerHandler struct {
	engine    LedgerEngine
	reversals ReversalEngine
	logger    *zap.Logger
}

func NewLedgerHandler(engine LedgerEngine, reversals ReversalEngine, logger *zap.Logger) *LedgerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerHandler{engine: engine, reversals: reversals, logger: logger}
}

// Routes registers the ledger endpoints. The router must already carry middleware.StaffAuth.
func (h *LedgerHandler) Routes(r chi.Router) {
	r.Post("/stakes", h.RecordStake)

	r.Post("/transactions/{id}/approve", h.ApproveWithdrawal)
	r.Post("/transactions/{id}/reject", h.RejectWithdrawal)
	r.Post("/transactions/{id}/reverse", h.ReverseWithdrawal)

	r.Post("/transfers", h.Transfer)
	r.Post("/transfers/{id}/reverse", h.ReverseTransfer)

	r.Post("/accounts/{accountId}/commission", h.DeductCommission)
	r.Post("/loans/{id}/approve", h.ApproveLoan)

	r.Post("/budgets", h.AddBudget)
	r.Post("/budgets/sell-cash", h.SellCash)
	r.Patch("/budgets/{id}/toggle-status", h.ToggleBudgetStatus)
	r.Post("/expenses", h.RecordExpense)
}

// RecordStake records a deposit or a withdrawal request
// @Summary Record stake
// @Description Record a deposit (applied immediately) or a pending withdrawal request
// @Tags Ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.StakeRequest true "Stake request"
// @Success 201 {object} services.StakeResult
// @Success 200 {object} services.StakeResult "Replayed idempotency code"
// @Failure 400 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /stakes [post]
func (h *LedgerHandler) RecordStake(w http.ResponseWriter, r *http.Request) {
	staff, ok := h.staff(w, r)
	if !ok {
		return
	}
	var req services.StakeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.CompanyID, req.StaffID = staff.CompanyID, staff.StaffID

	res, err := h.engine.RecordStake(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *LedgerHandler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	req, ok := h.reviewRequest(w, r)
	if !ok {
		return
	}
	res, err := h.engine.ApproveWithdrawal(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *LedgerHandler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	req, ok := h.reviewRequest(w, r)
	if !ok {
		return
	}
	res, err := h.engine.RejectWithdrawal(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": res})
}

func (h *LedgerHandler) reviewRequest(w http.ResponseWriter, r *http.Request) (services.ReviewRequest, bool) {
	staff, ok := h.staff(w, r)
	if !ok {
		return services.ReviewRequest{}, false
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return services.ReviewRequest{}, false
	}
	return services.ReviewRequest{TransactionID: id, CompanyID: staff.CompanyID, StaffID: staff.StaffID}, true
}

// ReverseWithdrawal refunds an approved withdrawal with its commissions and restores float
// @Summary Reverse withdrawal
// @Tags Reversals
// @Produce json
// @Security BearerAuth
// @Param id path int true "Withdrawal transaction ID"
// @Success 200 {object} services.WithdrawalReversalResult
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /transactions/{id}/reverse [post]
func (h *LedgerHandler) ReverseWithdrawal(w http.ResponseWriter, r *http.Request) {
	req, ok := h.reversalRequest(w, r)
	if !ok {
		return
	}
	res, err := h.reversals.ReverseWithdrawal(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *LedgerHandler) ReverseTransfer(w http.ResponseWriter, r *http.Request) {
	req, ok := h.reversalRequest(w, r)
	if !ok {
		return
	}
	res, err := h.reversals.ReverseTransfer(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// reversalRequest reads the optional {"reason": "..."} body.
func (h *LedgerHandler) reversalRequest(w http.ResponseWriter, r *http.Request) (services.ReversalRequest, bool) {
	staff, ok := h.staff(w, r)
	if !ok {
		return services.ReversalRequest{}, false
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return services.ReversalRequest{}, false
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &body) {
		return services.ReversalRequest{}, false
	}
	return services.ReversalRequest{TransactionID: id, CompanyID: staff.CompanyID, StaffID: staff.StaffID, Reason: body.Reason}, true
}

// Transfer moves funds between two accounts of the same company
// @Summary Transfer between accounts
// @Tags Ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.TransferRequest true "Transfer request"
// @Success 201 {object} services.TransferResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /transfers [post]
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	staff, ok := h.staff(w, r)
	if !ok {
		return
	}
	var req services.TransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.CompanyID, req.StaffID = staff.CompanyID, staff.StaffID

	res, err := h.engine.TransferBetweenAccounts(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *LedgerHandler) DeductCommission(w http.ResponseWriter, r *http.Request) {
	staff, ok := h.staff(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}
	var req services.CommissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.AccountID, req.CompanyID, req.StaffID = accountID, staff.CompanyID, staff.StaffID

	res, err := h.engine.DeductCommission(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *LedgerHandler) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	staff, ok := h.staff(w, r)
	if !ok {
		return
	}
	loanID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req services.LoanApprovalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.LoanID, req.CompanyID, req.StaffID = loanID, staff.CompanyID, staff.StaffID

	res, err := h.engine.ApproveLoan(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *LedgerHandler) AddBudget(w http.ResponseWriter, r *http.Request) {
	h.adjustBudget(w, r, h.engine.AddBudget)
}

func (h *LedgerHandler) SellCash(w http.ResponseWriter, r *http.Request) {
	h.adjustBudget(w, r, h.engine.SellCash)
}

func (h *LedgerHandler) adjustBudget(w http.ResponseWriter, r *http.Request, apply func(context.Context, services.BudgetAdjustmentRequest) (*services.BudgetResult, error)) {
	staff, ok := h.staff(w, r)
	if !ok {
		return
	}
	var req services.BudgetAdjustmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.CompanyID, req.StaffID = staff.CompanyID, staff.StaffID

	res, err := apply(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *LedgerHandler) ToggleBudgetStatus(w http.ResponseWriter, r *http.Request) {
	staff, ok := h.staff(w, r)
	if !ok {
		return
	}
	budgetID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	res, err := h.engine.ToggleBudgetStatus(r.Context(), services.BudgetStatusRequest{BudgetID: budgetID, CompanyID: staff.CompanyID, StaffID: staff.StaffID})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"budget": res})
}

func (h *LedgerHandler) RecordExpense(w http.ResponseWriter, r *http.Request) {
	staff, ok := h.staff(w, r)
	if !ok {
		return
	}
	var req services.ExpenseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.CompanyID, req.StaffID = staff.CompanyID, staff.StaffID

	res, err := h.engine.RecordExpense(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *LedgerHandler) staff(w http.ResponseWriter, r *http.Request) (middleware.Staff, bool) {
	staff, ok := middleware.StaffFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return middleware.Staff{}, false
	}
	return staff, true
}

// writeError maps engine error codes onto HTTP statuses. Storage failures are logged by the
// engine and reported without detail.
func (h *LedgerHandler) writeError(w http.ResponseWriter, err error) {
	code := services.CodeOf(err)
	status := statusFor(code)

	message := "internal server error"
	var de *services.DomainError
	if code != services.CodeStorageFailure && errors.As(err, &de) {
		message = de.Message
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		services.SendErrorResponse(w, message, status, &services.DomainError{Code: code})
		return
	}
	services.SendErrorResponse(w, message, status, err)
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.CodeValidation:
		return http.StatusBadRequest
	case services.CodeNotFound:
		return http.StatusNotFound
	case services.CodeInvalidState, services.CodeAlreadyApproved:
		return http.StatusConflict
	case services.CodeInsufficientBalance, services.CodeInsufficientFloat:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		services.SendErrorResponse(w, "Invalid "+name, http.StatusBadRequest, nil)
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
