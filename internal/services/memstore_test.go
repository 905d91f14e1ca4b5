package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/susubank/ledger/internal/models"
	"github.com/susubank/ledger/internal/store"
)

// memStore is an in-memory store.Runner. Transactions are serialised and a failed transaction
// restores the snapshot taken when it began.
type memStore struct {
	mu sync.Mutex

	nextID       int64
	accounts     map[int64]models.Account
	transactions map[int64]models.Transaction
	budgets      map[int64]models.Budget
	commissions  map[int64]models.Commission
	loans        map[int64]models.Loan
	customers    map[int64]memCustomer
	stakes       []models.Stake
	adjustments  []models.BudgetAdjustment
	movements    []models.FloatMovement
	loanTxs      []models.LoanTransaction
	expenses     []models.Expense

	// failOn makes the named operation return failErr, or errStorage when unset.
	failOn  string
	failErr error
	// staleLookups makes that many FindTransactionByCode calls miss, as if a concurrent
	// transaction committed the code after the read.
	staleLookups int

	// Lock acquisition order, across all transactions.
	lockedAccounts []int64
	lockedBudgets  []int64
}

type memCustomer struct {
	Status string
}

var errStorage = errors.New("connection reset by peer")

func newMemStore() *memStore {
	return &memStore{
		accounts:     make(map[int64]models.Account),
		transactions: make(map[int64]models.Transaction),
		budgets:      make(map[int64]models.Budget),
		commissions:  make(map[int64]models.Commission),
		loans:        make(map[int64]models.Loan),
		customers:    make(map[int64]memCustomer),
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) snapshot() *memStore {
	c := &memStore{
		nextID:       s.nextID,
		accounts:     make(map[int64]models.Account, len(s.accounts)),
		transactions: make(map[int64]models.Transaction, len(s.transactions)),
		budgets:      make(map[int64]models.Budget, len(s.budgets)),
		commissions:  make(map[int64]models.Commission, len(s.commissions)),
		loans:        make(map[int64]models.Loan, len(s.loans)),
		customers:    make(map[int64]memCustomer, len(s.customers)),
		stakes:       append([]models.Stake(nil), s.stakes...),
		adjustments:  append([]models.BudgetAdjustment(nil), s.adjustments...),
		movements:    append([]models.FloatMovement(nil), s.movements...),
		loanTxs:      append([]models.LoanTransaction(nil), s.loanTxs...),
		expenses:     append([]models.Expense(nil), s.expenses...),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.budgets {
		c.budgets[k] = v
	}
	for k, v := range s.commissions {
		c.commissions[k] = v
	}
	for k, v := range s.loans {
		c.loans[k] = v
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	return c
}

func (s *memStore) restore(c *memStore) {
	s.nextID = c.nextID
	s.accounts = c.accounts
	s.transactions = c.transactions
	s.budgets = c.budgets
	s.commissions = c.commissions
	s.loans = c.loans
	s.customers = c.customers
	s.stakes = c.stakes
	s.adjustments = c.adjustments
	s.movements = c.movements
	s.loanTxs = c.loanTxs
	s.expenses = c.expenses
}

func (s *memStore) RunInTx(_ context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(before)
		return err
	}
	return nil
}

// Seeding and inspection helpers. Callers must not hold a transaction.

func (s *memStore) addAccount(a models.Account) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.id()
	}
	if a.AccountType == "" {
		a.AccountType = models.AccountTypeNormal
	}
	if a.Status == "" {
		a.Status = models.AccountStatusActive
	}
	s.accounts[a.ID] = a
	return a.ID
}

func (s *memStore) addBudget(b models.Budget) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = s.id()
	if b.Status == "" {
		b.Status = models.BudgetStatusActive
	}
	s.budgets[b.ID] = b
	return b.ID
}

func (s *memStore) addLoan(l models.Loan) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = s.id()
	s.loans[l.ID] = l
	return l.ID
}

func (s *memStore) account(id int64) models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

func (s *memStore) budget(id int64) models.Budget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budgets[id]
}

func (s *memStore) transaction(id int64) models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transactions[id]
}

func (s *memStore) budgetsFor(companyID int64) []models.Budget {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Budget
	for _, b := range s.budgets {
		if b.CompanyID == companyID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) movementsFor(src FloatSource) []models.FloatMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FloatMovement
	for _, m := range s.movements {
		if m.SourceType == src.Type && m.SourceID == src.ID {
			out = append(out, m)
		}
	}
	return out
}

func (s *memStore) counts() (stakes, transactions, movements int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stakes), len(s.transactions), len(s.movements)
}

type memTx struct {
	s *memStore
}

func (t *memTx) fail(op string) error {
	if t.s.failOn == op {
		if t.s.failErr != nil {
			return t.s.failErr
		}
		return errStorage
	}
	return nil
}

func (t *memTx) LockAccount(_ context.Context, companyID, accountID int64) (*models.Account, error) {
	t.s.lockedAccounts = append(t.s.lockedAccounts, accountID)
	a, ok := t.s.accounts[accountID]
	if !ok || a.CompanyID != companyID {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (t *memTx) LockNormalAccount(_ context.Context, companyID, customerID int64) (*models.Account, error) {
	var found *models.Account
	for _, a := range t.s.accounts {
		if a.CompanyID == companyID && a.CustomerID == customerID && a.AccountType == models.AccountTypeNormal {
			if found == nil || a.ID < found.ID {
				a := a
				found = &a
			}
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (t *memTx) UpdateAccountBalance(_ context.Context, accountID int64, balance decimal.Decimal, at time.Time) error {
	if err := t.fail("UpdateAccountBalance"); err != nil {
		return err
	}
	a, ok := t.s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	a.Balance = balance
	a.LastActivityAt = &at
	a.UpdatedAt = at
	t.s.accounts[accountID] = a
	return nil
}

func (t *memTx) LockTransaction(ctx context.Context, companyID, transactionID int64) (*models.Transaction, error) {
	return t.GetTransaction(ctx, companyID, transactionID)
}

func (t *memTx) GetTransaction(_ context.Context, companyID, transactionID int64) (*models.Transaction, error) {
	tr, ok := t.s.transactions[transactionID]
	if !ok || tr.CompanyID != companyID {
		return nil, store.ErrNotFound
	}
	return &tr, nil
}

func (t *memTx) FindTransactionByCode(_ context.Context, companyID int64, code string) (*models.Transaction, error) {
	if t.s.staleLookups > 0 {
		t.s.staleLookups--
		return nil, store.ErrNotFound
	}
	for _, tr := range t.s.transactions {
		if tr.CompanyID == companyID && tr.UniqueCode == code {
			return &tr, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *memTx) LockDerivedTransactions(_ context.Context, sourceID int64, txType models.TransactionType) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, tr := range t.s.transactions {
		if tr.SourceTransactionID != nil && *tr.SourceTransactionID == sourceID && tr.Type == txType {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) InsertTransaction(_ context.Context, tr *models.Transaction) error {
	if err := t.fail("InsertTransaction"); err != nil {
		return err
	}
	for _, existing := range t.s.transactions {
		if existing.CompanyID == tr.CompanyID && existing.UniqueCode == tr.UniqueCode {
			return store.ErrDuplicateCode
		}
	}
	tr.ID = t.s.id()
	tr.CreatedAt = time.Now()
	t.s.transactions[tr.ID] = *tr
	return nil
}

func (t *memTx) ReviewTransaction(_ context.Context, transactionID int64, status models.TransactionStatus, staffID int64, at time.Time) error {
	tr, ok := t.s.transactions[transactionID]
	if !ok {
		return store.ErrNotFound
	}
	tr.Status = status
	tr.ReviewedBy = &staffID
	tr.ReviewedAt = &at
	t.s.transactions[transactionID] = tr
	return nil
}

func (t *memTx) MarkTransactionReversed(_ context.Context, transactionID int64, r models.Reversal) error {
	if err := t.fail("MarkTransactionReversed"); err != nil {
		return err
	}
	tr, ok := t.s.transactions[transactionID]
	if !ok {
		return store.ErrNotFound
	}
	tr.Status = models.StatusReversed
	tr.ReversedBy = &r.StaffID
	tr.ReversedAt = &r.At
	if r.Reason != "" {
		reason := r.Reason
		tr.ReversalReason = &reason
	}
	t.s.transactions[transactionID] = tr
	return nil
}

func (t *memTx) InsertStake(_ context.Context, st *models.Stake) error {
	st.ID = t.s.id()
	t.s.stakes = append(t.s.stakes, *st)
	return nil
}

func (t *memTx) LockBudgetsForDate(_ context.Context, companyID int64, date time.Time) ([]models.Budget, error) {
	var out []models.Budget
	for _, b := range t.s.budgets {
		if b.CompanyID == companyID && b.Date.Equal(date) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	for _, b := range out {
		t.s.lockedBudgets = append(t.s.lockedBudgets, b.ID)
	}
	return out, nil
}

func (t *memTx) LockBudget(_ context.Context, companyID, budgetID int64) (*models.Budget, error) {
	b, ok := t.s.budgets[budgetID]
	if !ok || b.CompanyID != companyID {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (t *memTx) InsertBudget(_ context.Context, b *models.Budget) error {
	b.ID = t.s.id()
	t.s.budgets[b.ID] = *b
	return nil
}

func (t *memTx) UpdateBudget(_ context.Context, b *models.Budget) error {
	if _, ok := t.s.budgets[b.ID]; !ok {
		return store.ErrNotFound
	}
	t.s.budgets[b.ID] = *b
	return nil
}

func (t *memTx) InsertBudgetAdjustment(_ context.Context, a *models.BudgetAdjustment) error {
	a.ID = t.s.id()
	t.s.adjustments = append(t.s.adjustments, *a)
	return nil
}

func (t *memTx) InsertFloatMovement(_ context.Context, m *models.FloatMovement) error {
	if err := t.fail("InsertFloatMovement"); err != nil {
		return err
	}
	m.ID = t.s.id()
	t.s.movements = append(t.s.movements, *m)
	return nil
}

func (t *memTx) ListFloatMovements(_ context.Context, sourceType models.FloatSourceType, sourceID int64) ([]models.FloatMovement, error) {
	var out []models.FloatMovement
	for _, m := range t.s.movements {
		if m.SourceType == sourceType && m.SourceID == sourceID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (t *memTx) InsertCommission(_ context.Context, c *models.Commission) error {
	c.ID = t.s.id()
	t.s.commissions[c.ID] = *c
	return nil
}

func (t *memTx) LockCommissionsForTransaction(_ context.Context, transactionID int64) ([]models.Commission, error) {
	var out []models.Commission
	for _, c := range t.s.commissions {
		if c.TransactionID != nil && *c.TransactionID == transactionID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) MarkCommissionReversed(_ context.Context, commissionID int64, at time.Time) error {
	c, ok := t.s.commissions[commissionID]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = models.CommissionReversed
	c.ReversedAt = &at
	t.s.commissions[commissionID] = c
	return nil
}

func (t *memTx) LockLoan(_ context.Context, companyID, loanID int64) (*models.Loan, error) {
	l, ok := t.s.loans[loanID]
	if !ok || l.CompanyID != companyID {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

func (t *memTx) ActivateLoan(_ context.Context, l *models.Loan) error {
	if _, ok := t.s.loans[l.ID]; !ok {
		return store.ErrNotFound
	}
	t.s.loans[l.ID] = *l
	return nil
}

func (t *memTx) InsertLoanTransaction(_ context.Context, lt *models.LoanTransaction) error {
	lt.ID = t.s.id()
	t.s.loanTxs = append(t.s.loanTxs, *lt)
	return nil
}

func (t *memTx) InsertExpense(_ context.Context, e *models.Expense) error {
	e.ID = t.s.id()
	t.s.expenses = append(t.s.expenses, *e)
	return nil
}

func (t *memTx) DeactivateStaleAccounts(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	ids := make([]int64, 0, len(t.s.accounts))
	for id := range t.s.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var n int64
	for _, id := range ids {
		if n >= int64(limit) {
			break
		}
		a := t.s.accounts[id]
		if a.Status != models.AccountStatusActive || a.LastActivityAt == nil || !a.LastActivityAt.Before(cutoff) {
			continue
		}
		now := time.Now()
		a.Status = models.AccountStatusInactive
		a.InactiveAt = &now
		t.s.accounts[id] = a
		n++
	}
	return n, nil
}

func (t *memTx) DeactivateDormantCustomers(_ context.Context, graceCutoff time.Time) (int64, error) {
	var n int64
	for id, c := range t.s.customers {
		if c.Status != models.AccountStatusActive {
			continue
		}
		active, graceOver := false, false
		for _, a := range t.s.accounts {
			if a.CustomerID != id {
				continue
			}
			if a.Status == models.AccountStatusActive {
				active = true
			}
			if a.InactiveAt != nil && a.InactiveAt.Before(graceCutoff) {
				graceOver = true
			}
		}
		if active || !graceOver {
			continue
		}
		c.Status = models.AccountStatusInactive
		t.s.customers[id] = c
		n++
	}
	return n, nil
}

var _ store.Runner = (*memStore)(nil)
var _ store.Tx = (*memTx)(nil)
