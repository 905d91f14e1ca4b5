package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/susubank/ledger/internal/models"
	"github.com/susubank/ledger/internal/store"
)

// BudgetAdjustmentRequest tops up or sells cash from today's float.
// Reference is the source of a top-up or the destination of a sale.
type BudgetAdjustmentRequest struct {
	CompanyID int64           `json:"company_id" validate:"required,gt=0"`
	StaffID   int64           `json:"staff_id" validate:"required,gt=0"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference" validate:"max=255"`
}

type BudgetResult struct {
	Budget    *models.Budget  `json:"budget"`
	Available decimal.Decimal `json:"available"`
}

// AddBudget raises today's allocation, opening the day's bucket if there is none yet.
func (te *TransactionEngine) AddBudget(ctx context.Context, req BudgetAdjustmentRequest) (*BudgetResult, error) {
	if err := te.validator.validate(&req); err != nil {
		return nil, err
	}
	if err := requireAmount("amount", req.Amount); err != nil {
		return nil, err
	}

	var result BudgetResult
	err := te.run(ctx, OpAddBudget, func(tx store.Tx) error {
		today := te.today()
		budgets, err := tx.LockBudgetsForDate(ctx, req.CompanyID, today)
		if err != nil {
			return err
		}

		var b *models.Budget
		if len(budgets) == 0 {
			b = &models.Budget{
				CompanyID: req.CompanyID,
				Date:      today,
				Allocated: req.Amount,
				Spent:     decimal.Zero,
				Status:    models.BudgetStatusActive,
			}
			if err := tx.InsertBudget(ctx, b); err != nil {
				return err
			}
		} else {
			b, err = firstActive(budgets)
			if err != nil {
				return err
			}
			b.Allocated = b.Allocated.Add(req.Amount)
			if err := tx.UpdateBudget(ctx, b); err != nil {
				return err
			}
		}

		reference := req.Reference
		if reference == "" {
			reference = "manual"
		}
		if err := tx.InsertBudgetAdjustment(ctx, &models.BudgetAdjustment{
			BudgetID:   b.ID,
			Kind:       models.AdjustmentTopUp,
			Amount:     req.Amount,
			Reference:  reference,
			RecordedBy: req.StaffID,
		}); err != nil {
			return err
		}

		result = BudgetResult{Budget: b, Available: b.Available()}
		return nil
	})
	if err != nil {
		te.audit.LogError(OpAddBudget, req.CompanyID, 0, err)
		return nil, err
	}

	te.audit.LogOperation(OpAddBudget, req.CompanyID, result.Budget.ID, 0, req.Amount, result.Budget.Status)
	return &result, nil
}

// SellCash takes cash out of today's allocation. Unlike withdrawals it cannot overdraw the bucket.
func (te *TransactionEngine) SellCash(ctx context.Context, req BudgetAdjustmentRequest) (*BudgetResult, error) {
	if err := te.validator.validate(&req); err != nil {
		return nil, err
	}
	if err := requireAmount("amount", req.Amount); err != nil {
		return nil, err
	}

	var result BudgetResult
	err := te.run(ctx, OpSellCash, func(tx store.Tx) error {
		budgets, err := tx.LockBudgetsForDate(ctx, req.CompanyID, te.today())
		if err != nil {
			return err
		}
		if len(budgets) == 0 {
			return notFoundError("no float budget for today")
		}
		b, err := firstActive(budgets)
		if err != nil {
			return err
		}
		if b.Available().LessThan(req.Amount) {
			return newError(CodeInsufficientFloat, "insufficient float: available %s, requested %s", b.Available().StringFixed(2), req.Amount.StringFixed(2))
		}

		b.Allocated = b.Allocated.Sub(req.Amount)
		if err := tx.UpdateBudget(ctx, b); err != nil {
			return err
		}
		if err := tx.InsertBudgetAdjustment(ctx, &models.BudgetAdjustment{
			BudgetID:   b.ID,
			Kind:       models.AdjustmentCashSale,
			Amount:     req.Amount,
			Reference:  req.Reference,
			RecordedBy: req.StaffID,
		}); err != nil {
			return err
		}

		result = BudgetResult{Budget: b, Available: b.Available()}
		return nil
	})
	if err != nil {
		te.audit.LogError(OpSellCash, req.CompanyID, 0, err)
		return nil, err
	}

	te.audit.LogOperation(OpSellCash, req.CompanyID, result.Budget.ID, 0, req.Amount, result.Budget.Status)
	return &result, nil
}

func firstActive(budgets []models.Budget) (*models.Budget, error) {
	for i := range budgets {
		if budgets[i].IsActive() {
			return &budgets[i], nil
		}
	}
	return nil, invalidStateError("today's float budget is closed")
}

// BudgetStatusRequest names a budget to open or close.
type BudgetStatusRequest struct {
	BudgetID  int64 `json:"budget_id" validate:"required,gt=0"`
	CompanyID int64 `json:"company_id" validate:"required,gt=0"`
	StaffID   int64 `json:"staff_id" validate:"required,gt=0"`
}

// ToggleBudgetStatus flips a budget between Active and Closed. Closed buckets still absorb
// withdrawal overspend; they only refuse manual top-ups and sales.
func (te *TransactionEngine) ToggleBudgetStatus(ctx context.Context, req BudgetStatusRequest) (*models.Budget, error) {
	if err := te.validator.validate(&req); err != nil {
		return nil, err
	}

	var toggled *models.Budget
	err := te.run(ctx, OpToggleBudgetStatus, func(tx store.Tx) error {
		b, err := tx.LockBudget(ctx, req.CompanyID, req.BudgetID)
		if err != nil {
			return lookup(err, "budget %d not found", req.BudgetID)
		}
		if b.IsActive() {
			b.Status = models.BudgetStatusClosed
		} else {
			b.Status = models.BudgetStatusActive
		}
		if err := tx.UpdateBudget(ctx, b); err != nil {
			return err
		}
		toggled = b
		return nil
	})
	if err != nil {
		te.audit.LogError(OpToggleBudgetStatus, req.CompanyID, req.BudgetID, err)
		return nil, err
	}

	te.audit.LogOperation(OpToggleBudgetStatus, req.CompanyID, toggled.ID, 0, decimal.Zero, toggled.Status)
	return toggled, nil
}

// ExpenseRequest records a company expense paid from today's float.
type ExpenseRequest struct {
	CompanyID   int64           `json:"company_id" validate:"required,gt=0"`
	StaffID     int64           `json:"staff_id" validate:"required,gt=0"`
	Description string          `json:"description" validate:"required,max=500"`
	Category    string          `json:"category" validate:"required,max=100"`
	Amount      decimal.Decimal `json:"amount"`
	ExpenseDate *time.Time      `json:"expense_date,omitempty"`
}

type ExpenseResult struct {
	Expense *models.Expense   `json:"expense"`
	Float   *FloatConsumption `json:"float"`
}

// RecordExpense stores the expense and consumes today's float for it the same way a
// withdrawal approval does.
func (te *TransactionEngine) RecordExpense(ctx context.Context, req ExpenseRequest) (*ExpenseResult, error) {
	if err := te.validator.validate(&req); err != nil {
		return nil, err
	}
	if err := requireAmount("amount", req.Amount); err != nil {
		return nil, err
	}

	var result ExpenseResult
	err := te.run(ctx, OpRecordExpense, func(tx store.Tx) error {
		today := te.today()
		expenseDate := today
		if req.ExpenseDate != nil {
			expenseDate = dateOf(*req.ExpenseDate)
		}
		expense := &models.Expense{
			CompanyID:   req.CompanyID,
			Description: req.Description,
			Amount:      req.Amount,
			Category:    req.Category,
			ExpenseDate: expenseDate,
			RecordedBy:  req.StaffID,
		}
		if err := tx.InsertExpense(ctx, expense); err != nil {
			return err
		}

		consumption, err := te.floats.Consume(ctx, tx, req.CompanyID, today, req.Amount,
			FloatSource{Type: models.FloatSourceExpense, ID: expense.ID})
		if err != nil {
			return err
		}

		result = ExpenseResult{Expense: expense, Float: consumption}
		return nil
	})
	if err != nil {
		te.audit.LogError(OpRecordExpense, req.CompanyID, 0, err)
		return nil, err
	}

	te.audit.LogOperation(OpRecordExpense, req.CompanyID, result.Expense.ID, 0, req.Amount, "recorded")
	return &result, nil
}
