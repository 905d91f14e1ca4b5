package services

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AuditEvent is one line of the ledger audit trail.
type AuditEvent struct {
	Timestamp     time.Time
	EventType     Operation
	CompanyID     int64
	TransactionID int64
	AccountID     int64
	Amount        decimal.Decimal
	Status        string
	Details       map[string]string
}

// AuditLogger writes committed and failed ledger operations to a dedicated "audit" logger.
type AuditLogger struct {
	logger *zap.Logger
}

func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLogger{logger: logger.Named("audit")}
}

func (a *AuditLogger) LogOperation(op Operation, companyID, transactionID, accountID int64, amount decimal.Decimal, status string) {
	a.log(AuditEvent{
		Timestamp:     time.Now(),
		EventType:     op,
		CompanyID:     companyID,
		TransactionID: transactionID,
		AccountID:     accountID,
		Amount:        amount,
		Status:        status,
	})
}

func (a *AuditLogger) LogTransfer(op Operation, companyID, debitID, fromAccount, toAccount int64, amount decimal.Decimal, status string) {
	a.log(AuditEvent{
		Timestamp:     time.Now(),
		EventType:     op,
		CompanyID:     companyID,
		TransactionID: debitID,
		AccountID:     fromAccount,
		Amount:        amount,
		Status:        status,
		Details:       map[string]string{"to_account": strconv.FormatInt(toAccount, 10)},
	})
}

func (a *AuditLogger) LogError(op Operation, companyID, reference int64, err error) {
	a.log(AuditEvent{
		Timestamp:     time.Now(),
		EventType:     op,
		CompanyID:     companyID,
		TransactionID: reference,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error(), "code": string(CodeOf(err))},
	})
}

func (a *AuditLogger) log(event AuditEvent) {
	fields := []zap.Field{
		zap.Time("timestamp", event.Timestamp),
		zap.String("event_type", string(event.EventType)),
		zap.Int64("company_id", event.CompanyID),
		zap.Int64("transaction_id", event.TransactionID),
		zap.String("status", event.Status),
	}
	if event.AccountID != 0 {
		fields = append(fields, zap.Int64("account_id", event.AccountID))
	}
	if !event.Amount.IsZero() {
		fields = append(fields, zap.String("amount", event.Amount.StringFixed(2)))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String(k, v))
	}
	a.logger.Info("AUDIT", fields...)
}
