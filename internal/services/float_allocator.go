package services

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/susubank/ledger/internal/models"
	"github.com/susubank/ledger/internal/store"
)

// FloatSource identifies the transaction or expense a float movement belongs to.
type FloatSource struct {
	Type models.FloatSourceType
	ID   int64
}

// FloatConsumption is the footprint of one Consume call.
type FloatConsumption struct {
	Movements []models.FloatMovement `json:"movements"`
	Budgets   []models.Budget        `json:"budgets"`
	// Shortfall is the part of the amount pushed past allocation onto the first bucket.
	Shortfall decimal.Decimal `json:"shortfall"`
}

// FloatRestoration is the footprint of one Restore call.
type FloatRestoration struct {
	Movements []models.FloatMovement `json:"movements"`
	Restored  decimal.Decimal        `json:"restored"`
}

// FloatAllocator draws cash against a company's daily budget buckets and restores it on reversal.
// It never blocks a cash operation for lack of float; the deficit is recorded as overspend.
type FloatAllocator struct {
	logger *zap.Logger
}

// NewFloatAllocator creates a float allocator
func NewFloatAllocator(logger *zap.Logger) *FloatAllocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FloatAllocator{logger: logger}
}

// Consume takes amount from the buckets of (companyID, date) oldest first. Each bucket gives at
// most its positive availability; whatever is left lands on the first bucket. One debit movement
// is written per bucket touched. With no bucket for the date, a zero-allocation bucket is created
// carrying the whole amount as spend.
func (a *FloatAllocator) Consume(ctx context.Context, tx store.Tx, companyID int64, date time.Time, amount decimal.Decimal, src FloatSource) (*FloatConsumption, error) {
	budgets, err := tx.LockBudgetsForDate(ctx, companyID, date)
	if err != nil {
		return nil, err
	}

	if len(budgets) == 0 {
		b := models.Budget{
			CompanyID: companyID,
			Date:      date,
			Allocated: decimal.Zero,
			Spent:     amount,
			Status:    models.BudgetStatusActive,
		}
		if err := tx.InsertBudget(ctx, &b); err != nil {
			return nil, err
		}
		m, err := a.record(ctx, tx, b.ID, companyID, src, amount, models.FloatDebit)
		if err != nil {
			return nil, err
		}
		a.logger.Warn("float consumed with no budget for date",
			zap.Int64("company_id", companyID),
			zap.Time("date", date),
			zap.String("amount", amount.String()))
		return &FloatConsumption{Movements: []models.FloatMovement{*m}, Budgets: []models.Budget{b}, Shortfall: amount}, nil
	}

	takes := make([]decimal.Decimal, len(budgets))
	remaining := amount
	for i := range budgets {
		if !remaining.IsPositive() {
			break
		}
		available := budgets[i].Available()
		if !available.IsPositive() {
			continue
		}
		take := decimal.Min(remaining, available)
		takes[i] = take
		remaining = remaining.Sub(take)
	}

	shortfall := decimal.Zero
	if remaining.IsPositive() {
		shortfall = remaining
		takes[0] = takes[0].Add(remaining)
	}

	out := &FloatConsumption{Shortfall: shortfall}
	for i, take := range takes {
		if !take.IsPositive() {
			continue
		}
		budgets[i].Spent = budgets[i].Spent.Add(take)
		if err := tx.UpdateBudget(ctx, &budgets[i]); err != nil {
			return nil, err
		}
		m, err := a.record(ctx, tx, budgets[i].ID, companyID, src, take, models.FloatDebit)
		if err != nil {
			return nil, err
		}
		out.Movements = append(out.Movements, *m)
		out.Budgets = append(out.Budgets, budgets[i])
	}

	if shortfall.IsPositive() {
		a.logger.Warn("float overdrawn",
			zap.Int64("company_id", companyID),
			zap.Int64("budget_id", budgets[0].ID),
			zap.String("shortfall", shortfall.String()))
	}
	return out, nil
}

// Restore offsets every outstanding debit recorded for src with a credit and gives the amount
// back to the bucket's spend. History is only appended to; a debit already offset by earlier
// credits on the same bucket is skipped, so restoring twice is a no-op.
func (a *FloatAllocator) Restore(ctx context.Context, tx store.Tx, companyID int64, src FloatSource) (*FloatRestoration, error) {
	movements, err := tx.ListFloatMovements(ctx, src.Type, src.ID)
	if err != nil {
		return nil, err
	}

	outstanding := make(map[int64]decimal.Decimal)
	var debits []models.FloatMovement
	for _, m := range movements {
		switch m.Direction {
		case models.FloatDebit:
			outstanding[m.BudgetID] = outstanding[m.BudgetID].Add(m.Amount)
			debits = append(debits, m)
		case models.FloatCredit:
			outstanding[m.BudgetID] = outstanding[m.BudgetID].Sub(m.Amount)
		}
	}

	// Budgets are locked in ascending id order, the same order Consume uses.
	sort.SliceStable(debits, func(i, j int) bool {
		if debits[i].BudgetID != debits[j].BudgetID {
			return debits[i].BudgetID < debits[j].BudgetID
		}
		return debits[i].ID < debits[j].ID
	})

	out := &FloatRestoration{Restored: decimal.Zero}
	locked := make(map[int64]*models.Budget)
	for _, d := range debits {
		credit := decimal.Min(d.Amount, outstanding[d.BudgetID])
		if !credit.IsPositive() {
			continue
		}

		b, ok := locked[d.BudgetID]
		if !ok {
			b, err = tx.LockBudget(ctx, companyID, d.BudgetID)
			if err != nil {
				return nil, err
			}
			locked[d.BudgetID] = b
		}

		b.Spent = b.Spent.Sub(credit)
		if err := tx.UpdateBudget(ctx, b); err != nil {
			return nil, err
		}
		m, err := a.record(ctx, tx, b.ID, companyID, src, credit, models.FloatCredit)
		if err != nil {
			return nil, err
		}
		outstanding[d.BudgetID] = outstanding[d.BudgetID].Sub(credit)
		out.Movements = append(out.Movements, *m)
		out.Restored = out.Restored.Add(credit)
	}
	return out, nil
}

func (a *FloatAllocator) record(ctx context.Context, tx store.Tx, budgetID, companyID int64, src FloatSource, amount decimal.Decimal, dir models.FloatDirection) (*models.FloatMovement, error) {
	m := &models.FloatMovement{
		BudgetID:   budgetID,
		CompanyID:  companyID,
		SourceType: src.Type,
		SourceID:   src.ID,
		Amount:     amount,
		Direction:  dir,
	}
	if err := tx.InsertFloatMovement(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}
