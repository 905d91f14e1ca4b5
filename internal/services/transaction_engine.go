package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/susubank/ledger/internal/models"
	"github.com/susubank/ledger/internal/store"
)

// TransactionEngine runs every forward ledger operation. Each call is one storage transaction:
// either all of its writes land or none do.
type TransactionEngine struct {
	*engine
}

func NewTransactionEngine(runner store.Runner, opts ...Option) *TransactionEngine {
	return &TransactionEngine{engine: newEngine(runner, opts...)}
}

// StakeRequest is a deposit or a withdrawal request against one account.
type StakeRequest struct {
	AccountID       int64                  `json:"account_id" validate:"required,gt=0"`
	CompanyID       int64                  `json:"company_id" validate:"required,gt=0"`
	StaffID         int64                  `json:"staff_id" validate:"required,gt=0"`
	Type            models.TransactionType `json:"transaction_type" validate:"required,oneof=deposit withdrawal"`
	Amount          decimal.Decimal        `json:"amount"`
	Description     string                 `json:"description" validate:"max=500"`
	IdempotencyCode string                 `json:"unique_code" validate:"max=64"`
	TransactionDate *time.Time             `json:"transaction_date,omitempty"`
}

type StakeResult struct {
	Transaction *models.Transaction `json:"transaction"`
	Account     *models.Account     `json:"account"`
	// Replayed is set when the idempotency code matched an earlier stake.
	Replayed bool `json:"replayed"`
}

// stakeHandler applies one stake type to a locked account and returns the status of the
// resulting transaction.
type stakeHandler func(ctx context.Context, tx store.Tx, acct *models.Account, amount decimal.Decimal, at time.Time) (models.TransactionStatus, error)

var stakeHandlers = map[models.TransactionType]stakeHandler{
	models.TransactionDeposit:    applyDeposit,
	models.TransactionWithdrawal: requestWithdrawal,
}

var stakeOperations = map[models.TransactionType]Operation{
	models.TransactionDeposit:    OpDeposit,
	models.TransactionWithdrawal: OpWithdrawalRequest,
}

// applyDeposit credits the account; on loan products a deposit is a repayment and lowers the balance.
func applyDeposit(ctx context.Context, tx store.Tx, acct *models.Account, amount decimal.Decimal, at time.Time) (models.TransactionStatus, error) {
	if acct.AccountType.IsLoan() {
		acct.Balance = acct.Balance.Sub(amount)
	} else {
		acct.Balance = acct.Balance.Add(amount)
	}
	if err := tx.UpdateAccountBalance(ctx, acct.ID, acct.Balance, at); err != nil {
		return "", err
	}
	return models.StatusCompleted, nil
}

// requestWithdrawal only checks the balance; money moves on approval.
func requestWithdrawal(_ context.Context, _ store.Tx, acct *models.Account, amount decimal.Decimal, _ time.Time) (models.TransactionStatus, error) {
	if amount.GreaterThan(acct.Balance) {
		return "", newError(CodeInsufficientBalance, "insufficient balance: available %s, requested %s", acct.Balance.StringFixed(2), amount.StringFixed(2))
	}
	return models.StatusPending, nil
}

// RecordStake records a deposit (completed immediately) or a withdrawal request (pending).
// A repeated idempotency code returns the stored result without writing anything.
func (te *TransactionEngine) RecordStake(ctx context.Context, req StakeRequest) (*StakeResult, error) {
	if err := te.validator.validate(&req); err != nil {
		return nil, err
	}
	if err := requireAmount("amount", req.Amount); err != nil {
		return nil, err
	}
	handler := stakeHandlers[req.Type]
	op := stakeOperations[req.Type]

	var result StakeResult
	stake := func(tx store.Tx) error {
		if req.IdempotencyCode != "" {
			existing, err := tx.FindTransactionByCode(ctx, req.CompanyID, req.IdempotencyCode)
			switch {
			case err == nil:
				if existing.AccountID != req.AccountID || existing.Type != req.Type {
					return invalidStateError("unique code %q already used for a different transaction", req.IdempotencyCode)
				}
				acct, err := tx.LockAccount(ctx, req.CompanyID, existing.AccountID)
				if err != nil {
					return lookup(err, "account %d not found", existing.AccountID)
				}
				result = StakeResult{Transaction: existing, Account: acct, Replayed: true}
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		acct, err := tx.LockAccount(ctx, req.CompanyID, req.AccountID)
		if err != nil {
			return lookup(err, "account %d not found", req.AccountID)
		}

		now := te.now()
		status, err := handler(ctx, tx, acct, req.Amount, now)
		if err != nil {
			return err
		}

		if err := tx.InsertStake(ctx, &models.Stake{
			AccountID: acct.ID,
			CompanyID: req.CompanyID,
			Amount:    req.Amount,
			Type:      req.Type,
			StakedBy:  req.StaffID,
		}); err != nil {
			return err
		}

		date := te.today()
		if req.TransactionDate != nil {
			date = dateOf(*req.TransactionDate)
		}
		code := req.IdempotencyCode
		if code == "" {
			code = newUniqueCode()
		}
		record := &models.Transaction{
			CompanyID:       req.CompanyID,
			AccountID:       acct.ID,
			Type:            req.Type,
			Amount:          req.Amount,
			Status:          status,
			Description:     req.Description,
			UniqueCode:      code,
			CreatedBy:       req.StaffID,
			TransactionDate: date,
		}
		if err := tx.InsertTransaction(ctx, record); err != nil {
			return err
		}

		result = StakeResult{Transaction: record, Account: acct}
		return nil
	}

	err := te.run(ctx, op, stake)
	if errors.Is(err, store.ErrDuplicateCode) && req.IdempotencyCode != "" {
		// the code was committed by a concurrent stake after our lookup; the retry replays it
		err = te.run(ctx, op, stake)
	}
	if err != nil {
		te.audit.LogError(op, req.CompanyID, req.AccountID, err)
		return nil, err
	}

	if !result.Replayed {
		t := result.Transaction
		te.audit.LogOperation(op, t.CompanyID, t.ID, t.AccountID, t.Amount, string(t.Status))
		te.publish(Event{Operation: op, CompanyID: t.CompanyID, AccountID: t.AccountID, TransactionID: t.ID, Amount: t.Amount, Status: string(t.Status)})
	}
	return &result, nil
}

// ReviewRequest names a pending withdrawal and the staff member deciding on it.
type ReviewRequest struct {
	TransactionID int64 `json:"transaction_id" validate:"required,gt=0"`
	CompanyID     int64 `json:"company_id" validate:"required,gt=0"`
	StaffID       int64 `json:"staff_id" validate:"required,gt=0"`
}

type ApprovalResult struct {
	Transaction *models.Transaction `json:"transaction"`
	NewBalance  decimal.Decimal     `json:"new_balance"`
	Float       *FloatConsumption   `json:"float"`
}

// ApproveWithdrawal debits the account and draws the cash from the day's float.
// Overdrawing the float is allowed and recorded; overdrawing the account is not.
func (te *TransactionEngine) ApproveWithdrawal(ctx context.Context, req ReviewRequest) (*ApprovalResult, error) {
	if err := te.validator.validate(&req); err != nil {
		return nil, err
	}

	var result ApprovalResult
	err := te.run(ctx, OpApproveWithdrawal, func(tx store.Tx) error {
		t, err := te.lockPendingWithdrawal(ctx, tx, req)
		if err != nil {
			return err
		}

		acct, err := tx.LockAccount(ctx, req.CompanyID, t.AccountID)
		if err != nil {
			return lookup(err, "account %d not found", t.AccountID)
		}
		if t.Amount.GreaterThan(acct.Balance) {
			return newError(CodeInsufficientBalance, "insufficient balance: available %s, requested %s", acct.Balance.StringFixed(2), t.Amount.StringFixed(2))
		}

		now := te.now()
		acct.Balance = acct.Balance.Sub(t.Amount)
		if err := tx.UpdateAccountBalance(ctx, acct.ID, acct.Balance, now); err != nil {
			return err
		}
		if err := tx.ReviewTransaction(ctx, t.ID, models.StatusApproved, req.StaffID, now); err != nil {
			return err
		}
		t.Status = models.StatusApproved
		t.ReviewedBy = &req.StaffID
		t.ReviewedAt = &now

		consumption, err := te.floats.Consume(ctx, tx, req.CompanyID, dateOf(t.TransactionDate), t.Amount,
			FloatSource{Type: models.FloatSourceWithdrawal, ID: t.ID})
		if err != nil {
			return err
		}

		result = ApprovalResult{Transaction: t, NewBalance: acct.Balance, Float: consumption}
		return nil
	})
	if err != nil {
		te.audit.LogError(OpApproveWithdrawal, req.CompanyID, req.TransactionID, err)
		return nil, err
	}

	t := result.Transaction
	te.audit.LogOperation(OpApproveWithdrawal, t.CompanyID, t.ID, t.AccountID, t.Amount, string(t.Status))
	te.publish(Event{Operation: OpApproveWithdrawal, CompanyID: t.CompanyID, AccountID: t.AccountID, TransactionID: t.ID, Amount: t.Amount, Status: string(t.Status)})
	return &result, nil
}

// RejectWithdrawal closes a pending withdrawal without moving money.
func (te *TransactionEngine) RejectWithdrawal(ctx context.Context, req ReviewRequest) (*models.Transaction, error) {
	if err := te.validator.validate(&req); err != nil {
		return nil, err
	}

	var rejected *models.Transaction
	err := te.run(ctx, OpRejectWithdrawal, func(tx store.Tx) error {
		t, err := te.lockPendingWithdrawal(ctx, tx, req)
		if err != nil {
			return err
		}
		now := te.now()
		if err := tx.ReviewTransaction(ctx, t.ID, models.StatusRejected, req.StaffID, now); err != nil {
			return err
		}
		t.Status = models.StatusRejected
		t.ReviewedBy = &req.StaffID
		t.ReviewedAt = &now
		rejected = t
		return nil
	})
	if err != nil {
		te.audit.LogError(OpRejectWithdrawal, req.CompanyID, req.TransactionID, err)
		return nil, err
	}

	te.audit.LogOperation(OpRejectWithdrawal, rejected.CompanyID, rejected.ID, rejected.AccountID, rejected.Amount, string(rejected.Status))
	te.publish(Event{Operation: OpRejectWithdrawal, CompanyID: rejected.CompanyID, AccountID: rejected.AccountID, TransactionID: rejected.ID, Amount: rejected.Amount, Status: string(rejected.Status)})
	return rejected, nil
}

func (te *TransactionEngine) lockPendingWithdrawal(ctx context.Context, tx store.Tx, req ReviewRequest) (*models.Transaction, error) {
	t, err := tx.LockTransaction(ctx, req.CompanyID, req.TransactionID)
	if err != nil {
		return nil, lookup(err, "transaction %d not found", req.TransactionID)
	}
	if t.Type != models.TransactionWithdrawal {
		return nil, invalidStateError("transaction %d is a %s, not a withdrawal", t.ID, t.Type)
	}
	if t.Status != models.StatusPending {
		return nil, invalidStateError("only pending withdrawals can be reviewed, transaction %d is %s", t.ID, t.Status)
	}
	return t, nil
}

// CommissionRequest charges a fee to an account. SourceTransactionID links the fee to the
// approved withdrawal it was charged on, so reversing that withdrawal refunds the fee too.
type CommissionRequest struct {
	AccountID           int64           `json:"account_id" validate:"required,gt=0"`
	CompanyID           int64           `json:"company_id" validate:"required,gt=0"`
	StaffID             int64           `json:"staff_id" validate:"required,gt=0"`
	Amount              decimal.Decimal `json:"amount"`
	Description         string          `json:"description" validate:"max=500"`
	SourceTransactionID *int64          `json:"source_transaction_id,omitempty" validate:"omitempty,gt=0"`
}

type CommissionResult struct {
	Transaction *models.Transaction `json:"transaction"`
	Commission  *models.Commission  `json:"commission"`
	NewBalance  decimal.Decimal     `json:"new_balance"`
}

// DeductCommission debits a commission from the account and records it.
func (te *TransactionEngine) DeductCommission(ctx context.Context, req CommissionRequest) (*CommissionResult, error) {
	if err := te.validator.validate(&req); err != nil {
		return nil, err
	}
	if err := requireAmount("amount", req.Amount); err != nil {
		return nil, err
	}

	var result CommissionResult
	err := te.run(ctx, OpCommission, func(tx store.Tx) error {
		if req.SourceTransactionID != nil {
			src, err := tx.LockTransaction(ctx, req.CompanyID, *req.SourceTransactionID)
			if err != nil {
				return lookup(err, "source transaction %d not found", *req.SourceTransactionID)
			}
			if src.Type != models.TransactionWithdrawal || src.AccountID != req.AccountID {
				return invalidStateError("commission source must be a withdrawal on account %d", req.AccountID)
			}
			if src.Status != models.StatusApproved {
				return invalidStateError("commission source %d is %s, not approved", src.ID, src.Status)
			}
		}

		acct, err := tx.LockAccount(ctx, req.CompanyID, req.AccountID)
		if err != nil {
			return lookup(err, "account %d not found", req.AccountID)
		}
		if req.Amount.GreaterThan(acct.Balance) {
			return newError(CodeInsufficientBalance, "insufficient balance for commission: available %s, requested %s", acct.Balance.StringFixed(2), req.Amount.StringFixed(2))
		}

		now := te.now()
		acct.Balance = acct.Balance.Sub(req.Amount)
		if err := tx.UpdateAccountBalance(ctx, acct.ID, acct.Balance, now); err != nil {
			return err
		}

		description := req.Description
		if description == "" {
			description = "Commission deduction"
		}
		record := &models.Transaction{
			CompanyID:           req.CompanyID,
			AccountID:           acct.ID,
			Type:                models.TransactionCommission,
			Amount:              req.Amount,
			Status:              models.StatusCompleted,
			Description:         description,
			UniqueCode:          newUniqueCode(),
			SourceTransactionID: req.SourceTransactionID,
			CreatedBy:           req.StaffID,
			TransactionDate:     te.today(),
		}
		if err := tx.InsertTransaction(ctx, record); err != nil {
			return err
		}

		commission := &models.Commission{
			AccountID:               acct.ID,
			CustomerID:              acct.CustomerID,
			CompanyID:               req.CompanyID,
			Amount:                  req.Amount,
			Status:                  models.CommissionApproved,
			TransactionID:           req.SourceTransactionID,
			CommissionTransactionID: record.ID,
		}
		if err := tx.InsertCommission(ctx, commission); err != nil {
			return err
		}

		result = CommissionResult{Transaction: record, Commission: commission, NewBalance: acct.Balance}
		return nil
	})
	if err != nil {
		te.audit.LogError(OpCommission, req.CompanyID, req.AccountID, err)
		return nil, err
	}

	t := result.Transaction
	te.audit.LogOperation(OpCommission, t.CompanyID, t.ID, t.AccountID, t.Amount, string(t.Status))
	te.publish(Event{Operation: OpCommission, CompanyID: t.CompanyID, AccountID: t.AccountID, TransactionID: t.ID, Amount: t.Amount, Status: string(t.Status)})
	return &result, nil
}

// TransferRequest moves money between two accounts of the same company.
type TransferRequest struct {
	FromAccountID int64           `json:"from_account_id" validate:"required,gt=0"`
	ToAccountID   int64           `json:"to_account_id" validate:"required,gt=0,nefield=FromAccountID"`
	CompanyID     int64           `json:"company_id" validate:"required,gt=0"`
	StaffID       int64           `json:"staff_id" validate:"required,gt=0"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description" validate:"max=500"`
}

type TransferResult struct {
	Debit       *models.Transaction `json:"debit"`
	Credit      *models.Transaction `json:"credit"`
	FromBalance decimal.Decimal     `json:"from_balance"`
	ToBalance   decimal.Decimal     `json:"to_balance"`
}

// TransferBetweenAccounts writes a transfer_out/transfer_in pair. The credit leg points at the
// debit leg through SourceTransactionID. Both legs are approved so the pair can be reversed.
func (te *TransactionEngine) TransferBetweenAccounts(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if err := te.validator.validate(&req); err != nil {
		return nil, err
	}
	if err := requireAmount("amount", req.Amount); err != nil {
		return nil, err
	}

	var result TransferResult
	err := te.run(ctx, OpTransfer, func(tx store.Tx) error {
		from, to, err := lockPair(ctx, tx, req.CompanyID, req.FromAccountID, req.ToAccountID)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(from.Balance) {
			return newError(CodeInsufficientBalance, "insufficient balance: available %s, requested %s", from.Balance.StringFixed(2), req.Amount.StringFixed(2))
		}

		now := te.now()
		from.Balance = from.Balance.Sub(req.Amount)
		to.Balance = to.Balance.Add(req.Amount)
		if err := tx.UpdateAccountBalance(ctx, from.ID, from.Balance, now); err != nil {
			return err
		}
		if err := tx.UpdateAccountBalance(ctx, to.ID, to.Balance, now); err != nil {
			return err
		}

		date := te.today()
		debit := &models.Transaction{
			CompanyID:       req.CompanyID,
			AccountID:       from.ID,
			Type:            models.TransactionTransferOut,
			Amount:          req.Amount,
			Status:          models.StatusApproved,
			Description:     req.Description,
			UniqueCode:      newUniqueCode(),
			CreatedBy:       req.StaffID,
			TransactionDate: date,
		}
		if err := tx.InsertTransaction(ctx, debit); err != nil {
			return err
		}
		credit := &models.Transaction{
			CompanyID:           req.CompanyID,
			AccountID:           to.ID,
			Type:                models.TransactionTransferIn,
			Amount:              req.Amount,
			Status:              models.StatusApproved,
			Description:         req.Description,
			UniqueCode:          newUniqueCode(),
			SourceTransactionID: &debit.ID,
			CreatedBy:           req.StaffID,
			TransactionDate:     date,
		}
		if err := tx.InsertTransaction(ctx, credit); err != nil {
			return err
		}

		result = TransferResult{Debit: debit, Credit: credit, FromBalance: from.Balance, ToBalance: to.Balance}
		return nil
	})
	if err != nil {
		te.audit.LogError(OpTransfer, req.CompanyID, req.FromAccountID, err)
		return nil, err
	}

	te.audit.LogTransfer(OpTransfer, req.CompanyID, result.Debit.ID, req.FromAccountID, req.ToAccountID, req.Amount, string(result.Debit.Status))
	te.publish(Event{Operation: OpTransfer, CompanyID: req.CompanyID, AccountID: req.FromAccountID, TransactionID: result.Debit.ID, Amount: req.Amount, Status: string(result.Debit.Status)})
	return &result, nil
}

// lockPair locks two accounts in ascending id order and returns them as (a, b).
func lockPair(ctx context.Context, tx store.Tx, companyID, a, b int64) (*models.Account, *models.Account, error) {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	lockedFirst, err := tx.LockAccount(ctx, companyID, first)
	if err != nil {
		return nil, nil, lookup(err, "account %d not found", first)
	}
	lockedSecond, err := tx.LockAccount(ctx, companyID, second)
	if err != nil {
		return nil, nil, lookup(err, "account %d not found", second)
	}
	if lockedFirst.ID == a {
		return lockedFirst, lockedSecond, nil
	}
	return lockedSecond, lockedFirst, nil
}

// LoanApprovalRequest sets the final terms of a requested loan.
type LoanApprovalRequest struct {
	LoanID           int64           `json:"loan_id" validate:"required,gt=0"`
	CompanyID        int64           `json:"company_id" validate:"required,gt=0"`
	StaffID          int64           `json:"staff_id" validate:"required,gt=0"`
	DisbursedAmount  decimal.Decimal `json:"disbursed_amount"`
	InterestRate     decimal.Decimal `json:"interest_rate"`
	TermMonths       int             `json:"term_months" validate:"required,gt=0,lte=360"`
	InterestMethod   InterestMethod  `json:"interest_method" validate:"omitempty,oneof=fixed reducing flat"`
	DisbursementDate *time.Time      `json:"disbursement_date,omitempty"`
}

type LoanApprovalResult struct {
	Loan            *models.Loan            `json:"loan"`
	Account         *models.Account         `json:"account"`
	LoanTransaction *models.LoanTransaction `json:"loan_transaction"`
	Schedule        *LoanSchedule           `json:"schedule"`
}

// ApproveLoan activates a loan and credits the disbursement to the customer's Normal account.
// A loan is disbursed at most once.
func (te *TransactionEngine) ApproveLoan(ctx context.Context, req LoanApprovalRequest) (*LoanApprovalResult, error) {
	if err := te.validator.validate(&req); err != nil {
		return nil, err
	}
	if err := requireAmount("disbursed_amount", req.DisbursedAmount); err != nil {
		return nil, err
	}
	if err := requireRate("interest_rate", req.InterestRate); err != nil {
		return nil, err
	}

	method := req.InterestMethod
	if method == "" {
		method = InterestFlat
	}
	disbursedOn := te.today()
	if req.DisbursementDate != nil {
		disbursedOn = dateOf(*req.DisbursementDate)
	}
	schedule, err := te.interest(req.DisbursedAmount, req.InterestRate, req.TermMonths, disbursedOn, method)
	if err != nil {
		return nil, &DomainError{Code: CodeValidation, Message: "invalid loan terms", Err: err}
	}

	var result LoanApprovalResult
	err = te.run(ctx, OpApproveLoan, func(tx store.Tx) error {
		loan, err := tx.LockLoan(ctx, req.CompanyID, req.LoanID)
		if err != nil {
			return lookup(err, "loan %d not found", req.LoanID)
		}
		if loan.IsDisbursed() {
			return newError(CodeAlreadyApproved, "loan %d is already approved", loan.ID)
		}
		if loan.Status != models.LoanRequested {
			return invalidStateError("loan %d is %s and cannot be approved", loan.ID, loan.Status)
		}

		acct, err := tx.LockNormalAccount(ctx, req.CompanyID, loan.CustomerID)
		if err != nil {
			return lookup(err, "customer %d has no Normal account", loan.CustomerID)
		}

		now := te.now()
		loan.Status = models.LoanActive
		loan.DisbursedAmount = req.DisbursedAmount
		loan.InterestRate = req.InterestRate
		loan.TermMonths = req.TermMonths
		loan.InterestMethod = string(method)
		loan.DisbursementDate = &disbursedOn
		loan.TotalPayable = schedule.TotalRepayment
		loan.Balance = schedule.TotalRepayment
		loan.ApprovedBy = &req.StaffID
		loan.ApprovedAt = &now
		if err := tx.ActivateLoan(ctx, loan); err != nil {
			return err
		}

		acct.Balance = acct.Balance.Add(req.DisbursedAmount)
		if err := tx.UpdateAccountBalance(ctx, acct.ID, acct.Balance, now); err != nil {
			return err
		}

		lt := &models.LoanTransaction{
			LoanID:     loan.ID,
			AccountID:  acct.ID,
			CustomerID: loan.CustomerID,
			Amount:     req.DisbursedAmount,
			Type:       models.LoanTransactionDisbursement,
			CreatedBy:  req.StaffID,
		}
		if err := tx.InsertLoanTransaction(ctx, lt); err != nil {
			return err
		}

		result = LoanApprovalResult{Loan: loan, Account: acct, LoanTransaction: lt, Schedule: schedule}
		return nil
	})
	if err != nil {
		te.audit.LogError(OpApproveLoan, req.CompanyID, req.LoanID, err)
		return nil, err
	}

	te.logger.Info("loan disbursed",
		zap.Int64("loan_id", result.Loan.ID),
		zap.Int64("account_id", result.Account.ID),
		zap.String("amount", req.DisbursedAmount.StringFixed(2)),
		zap.String("total_payable", result.Loan.TotalPayable.StringFixed(2)))
	te.audit.LogOperation(OpApproveLoan, req.CompanyID, result.LoanTransaction.ID, result.Account.ID, req.DisbursedAmount, string(result.Loan.Status))
	te.publish(Event{Operation: OpApproveLoan, CompanyID: req.CompanyID, AccountID: result.Account.ID, TransactionID: result.LoanTransaction.ID, Amount: req.DisbursedAmount, Status: string(result.Loan.Status)})
	return &result, nil
}
