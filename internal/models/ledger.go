package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType is the product an account belongs to.
type AccountType string

const (
	AccountTypeNormal  AccountType = "Normal"
	AccountTypeSavings AccountType = "Savings"
	AccountTypeSusu    AccountType = "Susu"
	AccountTypeLoan    AccountType = "Loan"
)

// IsLoan reports whether deposits into the account repay principal instead of adding cash.
// Operators name loan products freely ("Loan", "Group Loan", ...), so the match is by substring.
func (t AccountType) IsLoan() bool {
	return strings.Contains(strings.ToLower(string(t)), "loan")
}

// AccountStatus values
const (
	AccountStatusActive   = "Active"
	AccountStatusInactive = "Inactive"
)

// Account is a customer account inside one company. Balance is only written by the engine.
type Account struct {
	ID             int64           `json:"id" db:"id"`
	CompanyID      int64           `json:"company_id" db:"company_id"`
	CustomerID     int64           `json:"customer_id" db:"customer_id"`
	AccountNumber  string          `json:"account_number" db:"account_number"`
	AccountType    AccountType     `json:"account_type" db:"account_type"`
	Balance        decimal.Decimal `json:"balance" db:"balance"`
	Status         string          `json:"status" db:"status"`
	LastActivityAt *time.Time      `json:"last_activity_at,omitempty" db:"last_activity_at"`
	InactiveAt     *time.Time      `json:"inactive_at,omitempty" db:"inactive_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Stake is the audit record of a deposit or withdrawal attempt.
type Stake struct {
	ID        int64           `json:"id" db:"id"`
	AccountID int64           `json:"account_id" db:"account_id"`
	CompanyID int64           `json:"company_id" db:"company_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Type      TransactionType `json:"type" db:"type"`
	StakedBy  int64           `json:"staked_by" db:"staked_by"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
