package store

import (
	"context"

	"github.com/susubank/ledger/internal/models"
)

func (t *pgTx) LockLoan(ctx context.Context, companyID, loanID int64) (*models.Loan, error) {
	var l models.Loan
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, company_id, customer_id, status, requested_amount, disbursed_amount, interest_rate,
			term_months, interest_method, disbursement_date, total_payable, balance, approved_by, approved_at
		FROM loans
		WHERE id = $1 AND company_id = $2
		FOR UPDATE`, loanID, companyID,
	).Scan(&l.ID, &l.CompanyID, &l.CustomerID, &l.Status, &l.RequestedAmount, &l.DisbursedAmount,
		&l.InterestRate, &l.TermMonths, &l.InterestMethod, &l.DisbursementDate, &l.TotalPayable,
		&l.Balance, &l.ApprovedBy, &l.ApprovedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

// ActivateLoan persists the disbursement terms set on l by the engine.
func (t *pgTx) ActivateLoan(ctx context.Context, l *models.Loan) error {
	return expectOne(t.tx.ExecContext(ctx, `
		UPDATE loans
		SET status = $1, disbursed_amount = $2, interest_rate = $3, term_months = $4,
			interest_method = $5, disbursement_date = $6, total_payable = $7, balance = $8,
			approved_by = $9, approved_at = $10, updated_at = $10
		WHERE id = $11`,
		string(l.Status), l.DisbursedAmount, l.InterestRate, l.TermMonths, l.InterestMethod,
		l.DisbursementDate, l.TotalPayable, l.Balance, l.ApprovedBy, l.ApprovedAt, l.ID))
}

func (t *pgTx) InsertLoanTransaction(ctx context.Context, lt *models.LoanTransaction) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO loan_transactions (loan_id, account_id, customer_id, amount, type, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		lt.LoanID, lt.AccountID, lt.CustomerID, lt.Amount, lt.Type, lt.CreatedBy,
	).Scan(&lt.ID, &lt.CreatedAt)
}
