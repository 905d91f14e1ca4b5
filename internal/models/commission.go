package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Commission status values
const (
	CommissionPending  = "pending"
	CommissionApproved = "approved"
	CommissionPaid     = "paid"
	CommissionReversed = "reversed"
)

// Commission is a fee charged to an account. TransactionID points at the withdrawal that
// generated it; CommissionTransactionID at the commission-type Transaction that debited the account.
type Commission struct {
	ID                      int64           `json:"id" db:"id"`
	AccountID               int64           `json:"account_id" db:"account_id"`
	CustomerID              int64           `json:"customer_id" db:"customer_id"`
	CompanyID               int64           `json:"company_id" db:"company_id"`
	Amount                  decimal.Decimal `json:"amount" db:"amount"`
	Status                  string          `json:"status" db:"status"`
	TransactionID           *int64          `json:"transaction_id,omitempty" db:"transaction_id"`
	CommissionTransactionID int64           `json:"commission_transaction_id" db:"commission_transaction_id"`
	ReversedAt              *time.Time      `json:"reversed_at,omitempty" db:"reversed_at"`
	CreatedAt               time.Time       `json:"created_at" db:"created_at"`
}
