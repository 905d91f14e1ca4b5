// Package store is the Ledger Store: a transactional unit of work over Postgres with explicit
// row locks on the rows a ledger operation is about to decide on.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/susubank/ledger/internal/models"
)

// ErrNotFound is returned when a looked-up or locked row does not exist in the caller's company.
var ErrNotFound = errors.New("store: record not found")

// ErrDuplicateCode is returned when a transaction's unique code is already taken in its company,
// typically by a concurrent stake that committed after this one looked the code up.
var ErrDuplicateCode = errors.New("store: duplicate transaction code")

const uniqueCodeConstraint = "transactions_unique_code"

// Runner opens units of work.
type Runner interface {
	// RunInTx runs fn inside one database transaction. A nil return commits; an error or panic
	// rolls back every write made through the Tx.
	RunInTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of reads and writes available inside a unit of work.
// Lock* methods acquire an exclusive row lock held until commit or rollback.
type Tx interface {
	LockAccount(ctx context.Context, companyID, accountID int64) (*models.Account, error)
	LockNormalAccount(ctx context.Context, companyID, customerID int64) (*models.Account, error)
	UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal, at time.Time) error

	LockTransaction(ctx context.Context, companyID, transactionID int64) (*models.Transaction, error)
	GetTransaction(ctx context.Context, companyID, transactionID int64) (*models.Transaction, error)
	FindTransactionByCode(ctx context.Context, companyID int64, code string) (*models.Transaction, error)
	LockDerivedTransactions(ctx context.Context, sourceID int64, txType models.TransactionType) ([]models.Transaction, error)
	InsertTransaction(ctx context.Context, t *models.Transaction) error
	ReviewTransaction(ctx context.Context, transactionID int64, status models.TransactionStatus, staffID int64, at time.Time) error
	MarkTransactionReversed(ctx context.Context, transactionID int64, r models.Reversal) error

	InsertStake(ctx context.Context, s *models.Stake) error

	LockBudgetsForDate(ctx context.Context, companyID int64, date time.Time) ([]models.Budget, error)
	LockBudget(ctx context.Context, companyID, budgetID int64) (*models.Budget, error)
	InsertBudget(ctx context.Context, b *models.Budget) error
	UpdateBudget(ctx context.Context, b *models.Budget) error
	InsertBudgetAdjustment(ctx context.Context, a *models.BudgetAdjustment) error

	InsertFloatMovement(ctx context.Context, m *models.FloatMovement) error
	ListFloatMovements(ctx context.Context, sourceType models.FloatSourceType, sourceID int64) ([]models.FloatMovement, error)

	InsertCommission(ctx context.Context, c *models.Commission) error
	LockCommissionsForTransaction(ctx context.Context, transactionID int64) ([]models.Commission, error)
	MarkCommissionReversed(ctx context.Context, commissionID int64, at time.Time) error

	LockLoan(ctx context.Context, companyID, loanID int64) (*models.Loan, error)
	ActivateLoan(ctx context.Context, l *models.Loan) error
	InsertLoanTransaction(ctx context.Context, lt *models.LoanTransaction) error

	InsertExpense(ctx context.Context, e *models.Expense) error

	DeactivateStaleAccounts(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	DeactivateDormantCustomers(ctx context.Context, graceCutoff time.Time) (int64, error)
}

// Postgres implements Runner on a database/sql pool backed by lib/pq.
type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgres wraps db. A nil logger is replaced by a no-op logger.
func NewPostgres(db *sql.DB, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{db: db, logger: logger}
}

// RunInTx implements Runner. Once begun, the transaction is detached from ctx cancellation so
// it always ends in an explicit commit or rollback rather than a half-cancelled state.
func (p *Postgres) RunInTx(ctx context.Context, fn func(Tx) error) (err error) {
	ctx = context.WithoutCancel(ctx)

	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			panic(r)
		}
	}()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			p.logger.Error("rollback failed", zap.Error(rbErr), zap.NamedError("cause", err))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == constraint
}

// expectOne turns a zero-row update into ErrNotFound.
func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
