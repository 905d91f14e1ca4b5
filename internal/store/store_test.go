package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/susubank/ledger/internal/models"
)

var (
	accountCols     = []string{"id", "company_id", "customer_id", "account_number", "account_type", "balance", "status", "last_activity_at", "inactive_at", "updated_at"}
	transactionCols = []string{"id", "company_id", "account_id", "type", "amount", "status", "description", "unique_code", "source_transaction_id", "created_by", "reviewed_by", "reviewed_at", "reversed_by", "reversed_at", "reversal_reason", "transaction_date", "created_at"}
	budgetCols      = []string{"id", "company_id", "date", "allocated", "spent", "status", "created_at"}
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db, nil), mock
}

func TestPostgres_RunInTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits when fn succeeds", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE accounts SET balance = \\$1, last_activity_at = \\$2, updated_at = \\$2 WHERE id = \\$3").
			WithArgs(decimal.NewFromInt(350), sqlmock.AnyArg(), int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.RunInTx(ctx, func(tx Tx) error {
			return tx.UpdateAccountBalance(ctx, 7, decimal.NewFromInt(350), time.Now())
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back and returns fn error", func(t *testing.T) {
		s, mock := newMockStore(t)
		boom := errors.New("boom")
		mock.ExpectBegin()
		mock.ExpectRollback()

		err := s.RunInTx(ctx, func(tx Tx) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.Panics(t, func() {
			_ = s.RunInTx(ctx, func(tx Tx) error { panic("kaboom") })
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

		err := s.RunInTx(ctx, func(tx Tx) error { return nil })
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "begin transaction")
	})

	t.Run("commit failure", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err := s.RunInTx(ctx, func(tx Tx) error { return nil })
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "commit transaction")
	})

	t.Run("ignores caller cancellation once begun", func(t *testing.T) {
		s, mock := newMockStore(t)
		cctx, cancel := context.WithCancel(ctx)
		mock.ExpectBegin()
		mock.ExpectCommit()

		err := s.RunInTx(cctx, func(tx Tx) error {
			cancel()
			return nil
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgTx_LockAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("existing account", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FROM accounts WHERE id = \\$1 AND company_id = \\$2 AND is_deleted = false FOR UPDATE").
			WithArgs(int64(7), int64(3)).
			WillReturnRows(sqlmock.NewRows(accountCols).
				AddRow(7, 3, 11, "ACC-7", "Susu", "500.00", "Active", nil, nil, time.Now()))
		mock.ExpectCommit()

		var got *models.Account
		err := s.RunInTx(ctx, func(tx Tx) error {
			var err error
			got, err = tx.LockAccount(ctx, 3, 7)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.ID)
		assert.Equal(t, models.AccountTypeSusu, got.AccountType)
		assert.True(t, decimal.NewFromInt(500).Equal(got.Balance))
		assert.Nil(t, got.LastActivityAt)
	})

	t.Run("other company's account is not found", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FROM accounts WHERE id = \\$1 AND company_id = \\$2").
			WithArgs(int64(7), int64(4)).
			WillReturnRows(sqlmock.NewRows(accountCols))
		mock.ExpectRollback()

		err := s.RunInTx(ctx, func(tx Tx) error {
			_, err := tx.LockAccount(ctx, 4, 7)
			return err
		})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgTx_UpdateAccountBalance_MissingRow(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts SET balance").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.RunInTx(ctx, func(tx Tx) error {
		return tx.UpdateAccountBalance(ctx, 99, decimal.NewFromInt(1), time.Now())
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPgTx_Transactions(t *testing.T) {
	ctx := context.Background()
	date := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

	t.Run("insert returns id", func(t *testing.T) {
		s, mock := newMockStore(t)
		source := int64(40)
		tr := &models.Transaction{
			CompanyID: 3, AccountID: 7, Type: models.TransactionCommission, Amount: decimal.NewFromInt(5),
			Status: models.StatusCompleted, UniqueCode: "code-1", SourceTransactionID: &source,
			CreatedBy: 2, TransactionDate: date,
		}
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO transactions").
			WithArgs(int64(3), int64(7), "commission", decimal.NewFromInt(5), "completed", "", "code-1", int64(40), int64(2), date).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(41, time.Now()))
		mock.ExpectCommit()

		err := s.RunInTx(ctx, func(tx Tx) error { return tx.InsertTransaction(ctx, tr) })
		require.NoError(t, err)
		assert.Equal(t, int64(41), tr.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("taken unique code", func(t *testing.T) {
		s, mock := newMockStore(t)
		tr := &models.Transaction{
			CompanyID: 3, AccountID: 7, Type: models.TransactionDeposit, Amount: decimal.NewFromInt(5),
			Status: models.StatusCompleted, UniqueCode: "code-1", CreatedBy: 2, TransactionDate: date,
		}
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "transactions_unique_code"})
		mock.ExpectRollback()

		err := s.RunInTx(ctx, func(tx Tx) error { return tx.InsertTransaction(ctx, tr) })
		assert.ErrorIs(t, err, ErrDuplicateCode)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other constraint violations pass through", func(t *testing.T) {
		s, mock := newMockStore(t)
		tr := &models.Transaction{CompanyID: 3, AccountID: 7, Type: models.TransactionDeposit, Amount: decimal.NewFromInt(5), TransactionDate: date}
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnError(&pq.Error{Code: "23503", Constraint: "transactions_account_id_fkey"})
		mock.ExpectRollback()

		err := s.RunInTx(ctx, func(tx Tx) error { return tx.InsertTransaction(ctx, tr) })
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrDuplicateCode)
	})

	t.Run("lock derived transactions", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FROM transactions WHERE source_transaction_id = \\$1 AND type = \\$2 ORDER BY id ASC FOR UPDATE").
			WithArgs(int64(40), "commission").
			WillReturnRows(sqlmock.NewRows(transactionCols).
				AddRow(41, 3, 7, "commission", "5.00", "completed", "", "c1", 40, 2, nil, nil, nil, nil, nil, date, time.Now()).
				AddRow(42, 3, 7, "commission", "2.50", "completed", "", "c2", 40, 2, nil, nil, nil, nil, nil, date, time.Now()))
		mock.ExpectCommit()

		var got []models.Transaction
		err := s.RunInTx(ctx, func(tx Tx) error {
			var err error
			got, err = tx.LockDerivedTransactions(ctx, 40, models.TransactionCommission)
			return err
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.NotNil(t, got[1].SourceTransactionID)
		assert.Equal(t, int64(40), *got[1].SourceTransactionID)
		assert.True(t, decimal.RequireFromString("2.5").Equal(got[1].Amount))
	})

	t.Run("reversal without reason stores null", func(t *testing.T) {
		s, mock := newMockStore(t)
		at := time.Now()
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE transactions SET status = \\$1, reversed_by = \\$2, reversed_at = \\$3, reversal_reason = \\$4 WHERE id = \\$5").
			WithArgs("reversed", int64(2), at, nil, int64(40)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.RunInTx(ctx, func(tx Tx) error {
			return tx.MarkTransactionReversed(ctx, 40, models.Reversal{StaffID: 2, At: at})
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgTx_LockBudgetsForDate(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	date := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM budgets WHERE company_id = \\$1 AND date = \\$2 ORDER BY id ASC FOR UPDATE").
		WithArgs(int64(3), date).
		WillReturnRows(sqlmock.NewRows(budgetCols).
			AddRow(1, 3, date, "30.00", "0.00", "Active", time.Now()).
			AddRow(2, 3, date, "50.00", "0.00", "Closed", time.Now()))
	mock.ExpectCommit()

	var got []models.Budget
	err := s.RunInTx(ctx, func(tx Tx) error {
		var err error
		got, err = tx.LockBudgetsForDate(ctx, 3, date)
		return err
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.True(t, decimal.NewFromInt(30).Equal(got[0].Available()))
	assert.False(t, got[1].IsActive())
}

func TestPgTx_DeactivateStaleAccounts(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	cutoff := time.Now().AddDate(0, 0, -30)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts SET status = \\$1, inactive_at = NOW\\(\\)").
		WithArgs("Inactive", "Active", cutoff, 500).
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectCommit()

	var n int64
	err := s.RunInTx(ctx, func(tx Tx) error {
		var err error
		n, err = tx.DeactivateStaleAccounts(ctx, cutoff, 500)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}

func TestPgTx_LockLoan_NotFound(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM loans WHERE id = \\$1 AND company_id = \\$2 FOR UPDATE").
		WithArgs(int64(9), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := s.RunInTx(ctx, func(tx Tx) error {
		_, err := tx.LockLoan(ctx, 3, 9)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPgTx_LoanStatusRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	loanCols := []string{"id", "company_id", "customer_id", "status", "requested_amount", "disbursed_amount", "interest_rate",
		"term_months", "interest_method", "disbursement_date", "total_payable", "balance", "approved_by", "approved_at"}
	mock.ExpectBegin()
	mock.ExpectQuery("FROM loans WHERE id = \\$1 AND company_id = \\$2 FOR UPDATE").
		WithArgs(int64(9), int64(3)).
		WillReturnRows(sqlmock.NewRows(loanCols).AddRow(int64(9), int64(3), int64(50), "requested", "1200.00", "0.00", "0.0000",
			int64(0), "flat", nil, "0.00", "0.00", nil, nil))
	mock.ExpectExec("UPDATE loans SET status = \\$1").
		WithArgs("active", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.RunInTx(ctx, func(tx Tx) error {
		loan, err := tx.LockLoan(ctx, 3, 9)
		if err != nil {
			return err
		}
		assert.Equal(t, models.LoanRequested, loan.Status)
		loan.Status = models.LoanActive
		return tx.ActivateLoan(ctx, loan)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
