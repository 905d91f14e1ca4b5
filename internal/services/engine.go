package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/susubank/ledger/internal/store"
)

// Operation names one kind of ledger operation. It tags logs, audit lines and events.
type Operation string

const (
	OpDeposit            Operation = "deposit"
	OpWithdrawalRequest  Operation = "withdrawal_request"
	OpApproveWithdrawal  Operation = "approve_withdrawal"
	OpRejectWithdrawal   Operation = "reject_withdrawal"
	OpCommission         Operation = "commission"
	OpTransfer           Operation = "transfer"
	OpApproveLoan        Operation = "approve_loan"
	OpAddBudget          Operation = "add_budget"
	OpSellCash           Operation = "sell_cash"
	OpToggleBudgetStatus Operation = "toggle_budget_status"
	OpRecordExpense      Operation = "record_expense"
	OpReverseWithdrawal  Operation = "reverse_withdrawal"
	OpReverseTransfer    Operation = "reverse_transfer"
)

// Option configures an engine.
type Option func(*engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *engine) { e.now = now }
}

// WithLocation sets the timezone business dates are taken in.
func WithLocation(loc *time.Location) Option {
	return func(e *engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// WithNotifier sets where committed events are sent.
func WithNotifier(n Notifier) Option {
	return func(e *engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithInterestSchedule replaces CalculateLoan for loan approval.
func WithInterestSchedule(fn InterestSchedule) Option {
	return func(e *engine) {
		if fn != nil {
			e.interest = fn
		}
	}
}

// engine holds what the transaction and reversal engines share.
type engine struct {
	store     store.Runner
	floats    *FloatAllocator
	validator *ValidationHelper
	audit     *AuditLogger
	notifier  Notifier
	interest  InterestSchedule
	logger    *zap.Logger
	now       func() time.Time
	location  *time.Location
}

func newEngine(runner store.Runner, opts ...Option) *engine {
	e := &engine{
		store:     runner,
		validator: NewValidationHelper(),
		notifier:  NopNotifier{},
		interest:  CalculateLoan,
		logger:    zap.NewNop(),
		now:       time.Now,
		location:  time.UTC,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.floats = NewFloatAllocator(e.logger)
	e.audit = NewAuditLogger(e.logger)
	return e
}

// run executes fn in one storage transaction. Domain errors pass through untouched; anything
// else is a storage failure and is wrapped as such.
func (e *engine) run(ctx context.Context, op Operation, fn func(tx store.Tx) error) error {
	err := e.store.RunInTx(ctx, fn)
	if err == nil {
		return nil
	}

	var de *DomainError
	if errors.As(err, &de) {
		e.logger.Info("ledger operation rejected",
			zap.String("operation", string(op)),
			zap.String("code", string(de.Code)),
			zap.String("reason", de.Message))
		return de
	}

	if errors.Is(err, store.ErrDuplicateCode) {
		e.logger.Warn("ledger operation conflicted",
			zap.String("operation", string(op)),
			zap.Error(err))
		return &DomainError{Code: CodeStorageFailure, Message: "internal storage failure", Err: err}
	}

	e.logger.Error("ledger operation failed",
		zap.String("operation", string(op)),
		zap.Error(err))
	return &DomainError{Code: CodeStorageFailure, Message: "internal storage failure", Err: err}
}

// publish hands the event to the notifier off the request path.
func (e *engine) publish(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.notifier.Notify(ctx, event); err != nil {
			e.logger.Warn("failed to publish ledger event",
				zap.String("operation", string(event.Operation)),
				zap.Int64("transaction_id", event.TransactionID),
				zap.Error(err))
		}
	}()
}

// today is the current business date in the ledger timezone.
func (e *engine) today() time.Time {
	return dateOf(e.now().In(e.location))
}

// dateOf drops the clock part, keeping the calendar date as a UTC midnight.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// lookup turns a store miss into a NOT_FOUND with the given message.
func lookup(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFoundError(format, args...)
	}
	return err
}

func newUniqueCode() string {
	return uuid.NewString()
}
