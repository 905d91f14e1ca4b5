package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/susubank/ledger/internal/models"
)

const transactionColumns = `id, company_id, account_id, type, amount, status, description, unique_code, source_transaction_id, created_by, reviewed_by, reviewed_at, reversed_by, reversed_at, reversal_reason, transaction_date, created_at`

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.CompanyID, &t.AccountID, &t.Type, &t.Amount, &t.Status,
		&t.Description, &t.UniqueCode, &t.SourceTransactionID, &t.CreatedBy,
		&t.ReviewedBy, &t.ReviewedAt, &t.ReversedBy, &t.ReversedAt, &t.ReversalReason,
		&t.TransactionDate, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func scanTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (t *pgTx) LockTransaction(ctx context.Context, companyID, transactionID int64) (*models.Transaction, error) {
	return scanTransaction(t.tx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1 AND company_id = $2
		FOR UPDATE`, transactionID, companyID))
}

func (t *pgTx) GetTransaction(ctx context.Context, companyID, transactionID int64) (*models.Transaction, error) {
	return scanTransaction(t.tx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1 AND company_id = $2`, transactionID, companyID))
}

func (t *pgTx) FindTransactionByCode(ctx context.Context, companyID int64, code string) (*models.Transaction, error) {
	return scanTransaction(t.tx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE company_id = $1 AND unique_code = $2`, companyID, code))
}

// LockDerivedTransactions locks every transaction of txType created from sourceID, oldest first.
func (t *pgTx) LockDerivedTransactions(ctx context.Context, sourceID int64, txType models.TransactionType) ([]models.Transaction, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE source_transaction_id = $1 AND type = $2
		ORDER BY id ASC
		FOR UPDATE`, sourceID, string(txType))
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *models.Transaction) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO transactions (
			company_id, account_id, type, amount, status, description, unique_code,
			source_transaction_id, created_by, transaction_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`,
		tr.CompanyID, tr.AccountID, string(tr.Type), tr.Amount, string(tr.Status), tr.Description,
		tr.UniqueCode, tr.SourceTransactionID, tr.CreatedBy, tr.TransactionDate,
	).Scan(&tr.ID, &tr.CreatedAt)
	if isUniqueViolation(err, uniqueCodeConstraint) {
		return ErrDuplicateCode
	}
	return err
}

// ReviewTransaction records an approve or reject decision on a pending transaction.
func (t *pgTx) ReviewTransaction(ctx context.Context, transactionID int64, status models.TransactionStatus, staffID int64, at time.Time) error {
	return expectOne(t.tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, reviewed_by = $2, reviewed_at = $3
		WHERE id = $4`, string(status), staffID, at, transactionID))
}

func (t *pgTx) MarkTransactionReversed(ctx context.Context, transactionID int64, r models.Reversal) error {
	var reason *string
	if r.Reason != "" {
		reason = &r.Reason
	}
	return expectOne(t.tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, reversed_by = $2, reversed_at = $3, reversal_reason = $4
		WHERE id = $5`, string(models.StatusReversed), r.StaffID, r.At, reason, transactionID))
}

func (t *pgTx) InsertStake(ctx context.Context, s *models.Stake) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO stakes (account_id, company_id, amount, type, staked_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		s.AccountID, s.CompanyID, s.Amount, string(s.Type), s.StakedBy,
	).Scan(&s.ID, &s.CreatedAt)
}
