package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType identifies the kind of money movement.
type TransactionType string

const (
	TransactionDeposit     TransactionType = "deposit"
	TransactionWithdrawal  TransactionType = "withdrawal"
	TransactionCommission  TransactionType = "commission"
	TransactionTransferOut TransactionType = "transfer_out"
	TransactionTransferIn  TransactionType = "transfer_in"
)

// TransactionStatus is the lifecycle state of a Transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusApproved  TransactionStatus = "approved"
	StatusRejected  TransactionStatus = "rejected"
	StatusReversed  TransactionStatus = "reversed"
)

// CanTransitionTo reports whether moving from s to next is a legal status change.
//
//	pending  -> approved | rejected
//	approved -> reversed
//
// rejected, reversed and completed are terminal.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusRejected
	case StatusApproved:
		return next == StatusReversed
	default:
		return false
	}
}

// Transaction is an immutable record of one money movement; only its status and review/reversal
// stamps change after creation.
type Transaction struct {
	ID                  int64             `json:"id" db:"id"`
	CompanyID           int64             `json:"company_id" db:"company_id"`
	AccountID           int64             `json:"account_id" db:"account_id"`
	Type                TransactionType   `json:"type" db:"type"`
	Amount              decimal.Decimal   `json:"amount" db:"amount"`
	Status              TransactionStatus `json:"status" db:"status"`
	Description         string            `json:"description,omitempty" db:"description"`
	UniqueCode          string            `json:"unique_code" db:"unique_code"`
	SourceTransactionID *int64            `json:"source_transaction_id,omitempty" db:"source_transaction_id"`
	CreatedBy           int64             `json:"created_by" db:"created_by"`
	ReviewedBy          *int64            `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt          *time.Time        `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ReversedBy          *int64            `json:"reversed_by,omitempty" db:"reversed_by"`
	ReversedAt          *time.Time        `json:"reversed_at,omitempty" db:"reversed_at"`
	ReversalReason      *string           `json:"reversal_reason,omitempty" db:"reversal_reason"`
	TransactionDate     time.Time         `json:"transaction_date" db:"transaction_date"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
}

// Reversal carries the stamps written onto a reversed row.
type Reversal struct {
	StaffID int64
	Reason  string
	At      time.Time
}
