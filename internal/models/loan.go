package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanStatus is the lifecycle state of a Loan.
type LoanStatus string

const (
	LoanRequested LoanStatus = "requested"
	LoanApproved  LoanStatus = "approved"
	LoanActive    LoanStatus = "active"
	LoanReversed  LoanStatus = "reversed"
)

// Loan is a customer loan. Disbursement happens once, on approval.
type Loan struct {
	ID               int64           `json:"id" db:"id"`
	CompanyID        int64           `json:"company_id" db:"company_id"`
	CustomerID       int64           `json:"customer_id" db:"customer_id"`
	Status           LoanStatus      `json:"status" db:"status"`
	RequestedAmount  decimal.Decimal `json:"requested_amount" db:"requested_amount"`
	DisbursedAmount  decimal.Decimal `json:"disbursed_amount" db:"disbursed_amount"`
	InterestRate     decimal.Decimal `json:"interest_rate" db:"interest_rate"`
	TermMonths       int             `json:"term_months" db:"term_months"`
	InterestMethod   string          `json:"interest_method" db:"interest_method"`
	DisbursementDate *time.Time      `json:"disbursement_date,omitempty" db:"disbursement_date"`
	TotalPayable     decimal.Decimal `json:"total_payable" db:"total_payable"`
	Balance          decimal.Decimal `json:"balance" db:"balance"`
	ApprovedBy       *int64          `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty" db:"approved_at"`
}

// IsDisbursed reports whether the loan has already been approved and paid out.
func (l Loan) IsDisbursed() bool {
	return l.Status == LoanApproved || l.Status == LoanActive
}

// LoanTransactionDisbursement is the only loan transaction type the engine writes.
const LoanTransactionDisbursement = "disbursement"

// LoanTransaction records money moving in or out of a loan.
type LoanTransaction struct {
	ID         int64           `json:"id" db:"id"`
	LoanID     int64           `json:"loan_id" db:"loan_id"`
	AccountID  int64           `json:"account_id" db:"account_id"`
	CustomerID int64           `json:"customer_id" db:"customer_id"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	Type       string          `json:"type" db:"type"`
	CreatedBy  int64           `json:"created_by" db:"created_by"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}
