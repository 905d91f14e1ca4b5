package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BudgetStatus values
const (
	BudgetStatusActive = "Active"
	BudgetStatusClosed = "Closed"
)

// Budget is one float bucket of a company for a business date.
// Spent may exceed Allocated; the negative availability is the recorded shortfall.
type Budget struct {
	ID        int64           `json:"id" db:"id"`
	CompanyID int64           `json:"company_id" db:"company_id"`
	Date      time.Time       `json:"date" db:"date"`
	Allocated decimal.Decimal `json:"allocated" db:"allocated"`
	Spent     decimal.Decimal `json:"spent" db:"spent"`
	Status    string          `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Available returns allocated minus spent, negative when the bucket is overdrawn.
func (b Budget) Available() decimal.Decimal {
	return b.Allocated.Sub(b.Spent)
}

// IsActive reports whether the bucket accepts top-ups and cash sales.
func (b Budget) IsActive() bool {
	return b.Status == BudgetStatusActive
}

// AdjustmentKind tells a top-up from a cash sale.
type AdjustmentKind string

const (
	AdjustmentTopUp    AdjustmentKind = "topup"
	AdjustmentCashSale AdjustmentKind = "cash_sale"
)

// BudgetAdjustment records a manual change to a bucket's allocation.
type BudgetAdjustment struct {
	ID         int64           `json:"id" db:"id"`
	BudgetID   int64           `json:"budget_id" db:"budget_id"`
	Kind       AdjustmentKind  `json:"kind" db:"kind"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	Reference  string          `json:"reference,omitempty" db:"reference"`
	RecordedBy int64           `json:"recorded_by" db:"recorded_by"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// FloatSourceType names what caused a float movement.
type FloatSourceType string

const (
	FloatSourceWithdrawal FloatSourceType = "withdrawal"
	FloatSourceExpense    FloatSourceType = "expense"
)

// FloatDirection is debit (consumes float) or credit (restores it).
type FloatDirection string

const (
	FloatDebit  FloatDirection = "debit"
	FloatCredit FloatDirection = "credit"
)

// FloatMovement is an append-only slice of float consumption or restoration against one bucket.
type FloatMovement struct {
	ID         int64           `json:"id" db:"id"`
	BudgetID   int64           `json:"budget_id" db:"budget_id"`
	CompanyID  int64           `json:"company_id" db:"company_id"`
	SourceType FloatSourceType `json:"source_type" db:"source_type"`
	SourceID   int64           `json:"source_id" db:"source_id"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	Direction  FloatDirection  `json:"direction" db:"direction"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// Expense is a company expense paid out of the day's float.
type Expense struct {
	ID          int64           `json:"id" db:"id"`
	CompanyID   int64           `json:"company_id" db:"company_id"`
	Description string          `json:"description" db:"description"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Category    string          `json:"category" db:"category"`
	ExpenseDate time.Time       `json:"expense_date" db:"expense_date"`
	RecordedBy  int64           `json:"recorded_by" db:"recorded_by"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
