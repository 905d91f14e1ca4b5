package store

import (
	"context"
	"time"

	"github.com/susubank/ledger/internal/models"
)

const budgetColumns = `id, company_id, date, allocated, spent, status, created_at`

func scanBudget(row rowScanner) (*models.Budget, error) {
	var b models.Budget
	if err := row.Scan(&b.ID, &b.CompanyID, &b.Date, &b.Allocated, &b.Spent, &b.Status, &b.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// LockBudgetsForDate locks every bucket of the company for date in ascending id order. The order
// is both the FIFO consumption order and the lock order shared by all writers.
func (t *pgTx) LockBudgetsForDate(ctx context.Context, companyID int64, date time.Time) ([]models.Budget, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+budgetColumns+`
		FROM budgets
		WHERE company_id = $1 AND date = $2
		ORDER BY id ASC
		FOR UPDATE`, companyID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (t *pgTx) LockBudget(ctx context.Context, companyID, budgetID int64) (*models.Budget, error) {
	return scanBudget(t.tx.QueryRowContext(ctx, `
		SELECT `+budgetColumns+`
		FROM budgets
		WHERE id = $1 AND company_id = $2
		FOR UPDATE`, budgetID, companyID))
}

func (t *pgTx) InsertBudget(ctx context.Context, b *models.Budget) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO budgets (company_id, date, allocated, spent, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		b.CompanyID, b.Date, b.Allocated, b.Spent, b.Status,
	).Scan(&b.ID, &b.CreatedAt)
}

func (t *pgTx) UpdateBudget(ctx context.Context, b *models.Budget) error {
	return expectOne(t.tx.ExecContext(ctx, `
		UPDATE budgets
		SET allocated = $1, spent = $2, status = $3
		WHERE id = $4`, b.Allocated, b.Spent, b.Status, b.ID))
}

func (t *pgTx) InsertBudgetAdjustment(ctx context.Context, a *models.BudgetAdjustment) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO budget_adjustments (budget_id, kind, amount, reference, recorded_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		a.BudgetID, string(a.Kind), a.Amount, a.Reference, a.RecordedBy,
	).Scan(&a.ID, &a.CreatedAt)
}

func (t *pgTx) InsertFloatMovement(ctx context.Context, m *models.FloatMovement) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO float_movements (budget_id, company_id, source_type, source_id, amount, direction)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		m.BudgetID, m.CompanyID, string(m.SourceType), m.SourceID, m.Amount, string(m.Direction),
	).Scan(&m.ID, &m.CreatedAt)
}

func (t *pgTx) ListFloatMovements(ctx context.Context, sourceType models.FloatSourceType, sourceID int64) ([]models.FloatMovement, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, budget_id, company_id, source_type, source_id, amount, direction, created_at
		FROM float_movements
		WHERE source_type = $1 AND source_id = $2
		ORDER BY id ASC`, string(sourceType), sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FloatMovement
	for rows.Next() {
		var m models.FloatMovement
		if err := rows.Scan(&m.ID, &m.BudgetID, &m.CompanyID, &m.SourceType, &m.SourceID,
			&m.Amount, &m.Direction, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertExpense(ctx context.Context, e *models.Expense) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO expenses (company_id, description, amount, category, expense_date, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		e.CompanyID, e.Description, e.Amount, e.Category, e.ExpenseDate, e.RecordedBy,
	).Scan(&e.ID, &e.CreatedAt)
}
