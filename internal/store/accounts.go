package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/susubank/ledger/internal/models"
)

const accountColumns = `id, company_id, customer_id, account_number, account_type, balance, status, last_activity_at, inactive_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.CompanyID, &a.CustomerID, &a.AccountNumber, &a.AccountType,
		&a.Balance, &a.Status, &a.LastActivityAt, &a.InactiveAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (t *pgTx) LockAccount(ctx context.Context, companyID, accountID int64) (*models.Account, error) {
	return scanAccount(t.tx.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1 AND company_id = $2 AND is_deleted = false
		FOR UPDATE`, accountID, companyID))
}

// LockNormalAccount locks the customer's oldest Normal account, the disbursement target for loans.
func (t *pgTx) LockNormalAccount(ctx context.Context, companyID, customerID int64) (*models.Account, error) {
	return scanAccount(t.tx.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE customer_id = $1 AND company_id = $2 AND account_type = $3 AND is_deleted = false
		ORDER BY id ASC
		LIMIT 1
		FOR UPDATE`, customerID, companyID, string(models.AccountTypeNormal)))
}

// UpdateAccountBalance writes the new balance and stamps activity. Callers must hold the row lock.
func (t *pgTx) UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal, at time.Time) error {
	return expectOne(t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, last_activity_at = $2, updated_at = $2
		WHERE id = $3`, balance, at, accountID))
}

// DeactivateStaleAccounts flips at most limit Active accounts idle since before cutoff.
// SKIP LOCKED keeps the sweep from queueing behind rows the engine is working on.
func (t *pgTx) DeactivateStaleAccounts(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET status = $1, inactive_at = NOW()
		WHERE id IN (
			SELECT id FROM accounts
			WHERE status = $2 AND last_activity_at IS NOT NULL AND last_activity_at < $3
			ORDER BY id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)`, models.AccountStatusInactive, models.AccountStatusActive, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeactivateDormantCustomers marks customers inactive once none of their accounts is Active and
// at least one went inactive before graceCutoff.
func (t *pgTx) DeactivateDormantCustomers(ctx context.Context, graceCutoff time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE customers c
		SET status = $1
		WHERE c.status = $2
		AND NOT EXISTS (
			SELECT 1 FROM accounts a WHERE a.customer_id = c.id AND a.status = $2
		)
		AND EXISTS (
			SELECT 1 FROM accounts a WHERE a.customer_id = c.id AND a.inactive_at <= $3
		)`, models.AccountStatusInactive, models.AccountStatusActive, graceCutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
