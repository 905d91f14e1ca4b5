package store

import (
	"context"
	"time"

	"github.com/susubank/ledger/internal/models"
)

func (t *pgTx) InsertCommission(ctx context.Context, c *models.Commission) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO commissions (
			account_id, customer_id, company_id, amount, status, transaction_id, commission_transaction_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		c.AccountID, c.CustomerID, c.CompanyID, c.Amount, c.Status, c.TransactionID, c.CommissionTransactionID,
	).Scan(&c.ID, &c.CreatedAt)
}

// LockCommissionsForTransaction locks the commissions generated by a withdrawal.
func (t *pgTx) LockCommissionsForTransaction(ctx context.Context, transactionID int64) ([]models.Commission, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, account_id, customer_id, company_id, amount, status, transaction_id,
			commission_transaction_id, reversed_at, created_at
		FROM commissions
		WHERE transaction_id = $1
		ORDER BY id ASC
		FOR UPDATE`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Commission
	for rows.Next() {
		var c models.Commission
		if err := rows.Scan(&c.ID, &c.AccountID, &c.CustomerID, &c.CompanyID, &c.Amount, &c.Status,
			&c.TransactionID, &c.CommissionTransactionID, &c.ReversedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *pgTx) MarkCommissionReversed(ctx context.Context, commissionID int64, at time.Time) error {
	return expectOne(t.tx.ExecContext(ctx, `
		UPDATE commissions
		SET status = $1, reversed_at = $2
		WHERE id = $3`, models.CommissionReversed, at, commissionID))
}
