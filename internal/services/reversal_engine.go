package services

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/susubank/ledger/internal/models"
	"github.com/susubank/ledger/internal/store"
)

// ReversalEngine undoes approved withdrawals and transfers. A reversal either completes in full
// or leaves nothing behind.
type ReversalEngine struct {
	*engine
}

func NewReversalEngine(runner store.Runner, opts ...Option) *ReversalEngine {
	return &ReversalEngine{engine: newEngine(runner, opts...)}
}

// ReversalRequest names the transaction to reverse.
type ReversalRequest struct {
	TransactionID int64  `json:"transaction_id" validate:"required,gt=0"`
	CompanyID     int64  `json:"company_id" validate:"required,gt=0"`
	StaffID       int64  `json:"staff_id" validate:"required,gt=0"`
	Reason        string `json:"reason" validate:"max=500"`
}

type WithdrawalReversalResult struct {
	TransactionID  int64           `json:"transaction_id"`
	AccountID      int64           `json:"account_id"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	FloatRestored  bool            `json:"float_restored"`
	NewBalance     decimal.Decimal `json:"new_balance"`
	// ReversedCommissions holds the ids of commission transactions refunded with the withdrawal.
	ReversedCommissions []int64 `json:"reversed_commissions,omitempty"`
}

// ReverseWithdrawal refunds an approved withdrawal plus any commission charged on it, and gives
// the cash back to the float buckets it was drawn from.
func (re *ReversalEngine) ReverseWithdrawal(ctx context.Context, req ReversalRequest) (*WithdrawalReversalResult, error) {
	if err := re.validator.validate(&req); err != nil {
		return nil, err
	}

	var result WithdrawalReversalResult
	err := re.run(ctx, OpReverseWithdrawal, func(tx store.Tx) error {
		t, err := tx.LockTransaction(ctx, req.CompanyID, req.TransactionID)
		if err != nil {
			return lookup(err, "transaction %d not found", req.TransactionID)
		}
		if t.Type != models.TransactionWithdrawal {
			return invalidStateError("transaction %d is a %s, not a withdrawal", t.ID, t.Type)
		}
		if !t.Status.CanTransitionTo(models.StatusReversed) {
			return invalidStateError("only approved withdrawals can be reversed, transaction %d is %s", t.ID, t.Status)
		}

		acct, err := tx.LockAccount(ctx, req.CompanyID, t.AccountID)
		if err != nil {
			return lookup(err, "account %d not found", t.AccountID)
		}

		restoration, err := re.floats.Restore(ctx, tx, req.CompanyID,
			FloatSource{Type: models.FloatSourceWithdrawal, ID: t.ID})
		if err != nil {
			return err
		}

		now := re.now()
		reversal := models.Reversal{StaffID: req.StaffID, Reason: req.Reason, At: now}

		commissionTxs, err := tx.LockDerivedTransactions(ctx, t.ID, models.TransactionCommission)
		if err != nil {
			return err
		}
		commissionTotal := decimal.Zero
		var reversedCommissions []int64
		for _, ct := range commissionTxs {
			if ct.Status == models.StatusReversed {
				continue
			}
			if err := tx.MarkTransactionReversed(ctx, ct.ID, reversal); err != nil {
				return err
			}
			commissionTotal = commissionTotal.Add(ct.Amount)
			reversedCommissions = append(reversedCommissions, ct.ID)
		}

		commissions, err := tx.LockCommissionsForTransaction(ctx, t.ID)
		if err != nil {
			return err
		}
		for _, c := range commissions {
			if c.Status == models.CommissionReversed {
				continue
			}
			if err := tx.MarkCommissionReversed(ctx, c.ID, now); err != nil {
				return err
			}
		}

		refund := t.Amount.Add(commissionTotal).Round(2)
		acct.Balance = acct.Balance.Add(refund)
		if err := tx.UpdateAccountBalance(ctx, acct.ID, acct.Balance, now); err != nil {
			return err
		}
		if err := tx.MarkTransactionReversed(ctx, t.ID, reversal); err != nil {
			return err
		}

		result = WithdrawalReversalResult{
			TransactionID:       t.ID,
			AccountID:           acct.ID,
			RefundedAmount:      refund,
			FloatRestored:       len(restoration.Movements) > 0,
			NewBalance:          acct.Balance,
			ReversedCommissions: reversedCommissions,
		}
		return nil
	})
	if err != nil {
		re.audit.LogError(OpReverseWithdrawal, req.CompanyID, req.TransactionID, err)
		return nil, err
	}

	re.logger.Info("withdrawal reversed",
		zap.Int64("transaction_id", result.TransactionID),
		zap.String("refunded", result.RefundedAmount.StringFixed(2)),
		zap.Bool("float_restored", result.FloatRestored),
		zap.Int("commissions_reversed", len(result.ReversedCommissions)))
	re.audit.LogOperation(OpReverseWithdrawal, req.CompanyID, result.TransactionID, result.AccountID, result.RefundedAmount, string(models.StatusReversed))
	re.publish(Event{Operation: OpReverseWithdrawal, CompanyID: req.CompanyID, AccountID: result.AccountID, TransactionID: result.TransactionID, Amount: result.RefundedAmount, Status: string(models.StatusReversed)})
	return &result, nil
}

type TransferReversalResult struct {
	ReversedIDs   []int64         `json:"reversed_ids"`
	FromAccountID int64           `json:"from_account_id"`
	ToAccountID   int64           `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	FromBalance   decimal.Decimal `json:"from_balance"`
	ToBalance     decimal.Decimal `json:"to_balance"`
}

// ReverseTransfer undoes a transfer given the id of either leg. The destination account may go
// negative if the money has already been spent.
func (re *ReversalEngine) ReverseTransfer(ctx context.Context, req ReversalRequest) (*TransferReversalResult, error) {
	if err := re.validator.validate(&req); err != nil {
		return nil, err
	}

	var result TransferReversalResult
	err := re.run(ctx, OpReverseTransfer, func(tx store.Tx) error {
		given, err := tx.GetTransaction(ctx, req.CompanyID, req.TransactionID)
		if err != nil {
			return lookup(err, "transaction %d not found", req.TransactionID)
		}

		var debitID int64
		switch given.Type {
		case models.TransactionTransferOut:
			debitID = given.ID
		case models.TransactionTransferIn:
			if given.SourceTransactionID == nil {
				return notFoundError("transfer %d has no debit leg", given.ID)
			}
			debitID = *given.SourceTransactionID
		default:
			return invalidStateError("transaction %d is a %s, not a transfer", given.ID, given.Type)
		}

		debit, err := tx.LockTransaction(ctx, req.CompanyID, debitID)
		if err != nil {
			return lookup(err, "transfer %d has no debit leg", given.ID)
		}
		if debit.Type != models.TransactionTransferOut {
			return invalidStateError("transaction %d is a %s, not a transfer debit", debit.ID, debit.Type)
		}
		credits, err := tx.LockDerivedTransactions(ctx, debit.ID, models.TransactionTransferIn)
		if err != nil {
			return err
		}
		if len(credits) == 0 {
			return notFoundError("transfer %d has no credit leg", debit.ID)
		}
		credit := credits[0]

		if debit.Status != models.StatusApproved || credit.Status != models.StatusApproved {
			return invalidStateError("transfer legs must both be approved, found %s and %s", debit.Status, credit.Status)
		}

		from, to, err := lockPair(ctx, tx, req.CompanyID, debit.AccountID, credit.AccountID)
		if err != nil {
			return err
		}

		now := re.now()
		from.Balance = from.Balance.Add(debit.Amount)
		to.Balance = to.Balance.Sub(debit.Amount)
		if err := tx.UpdateAccountBalance(ctx, from.ID, from.Balance, now); err != nil {
			return err
		}
		if err := tx.UpdateAccountBalance(ctx, to.ID, to.Balance, now); err != nil {
			return err
		}

		reversal := models.Reversal{StaffID: req.StaffID, Reason: req.Reason, At: now}
		if err := tx.MarkTransactionReversed(ctx, debit.ID, reversal); err != nil {
			return err
		}
		if err := tx.MarkTransactionReversed(ctx, credit.ID, reversal); err != nil {
			return err
		}

		result = TransferReversalResult{
			ReversedIDs:   []int64{debit.ID, credit.ID},
			FromAccountID: from.ID,
			ToAccountID:   to.ID,
			Amount:        debit.Amount,
			FromBalance:   from.Balance,
			ToBalance:     to.Balance,
		}
		return nil
	})
	if err != nil {
		re.audit.LogError(OpReverseTransfer, req.CompanyID, req.TransactionID, err)
		return nil, err
	}

	re.audit.LogTransfer(OpReverseTransfer, req.CompanyID, result.ReversedIDs[0], result.FromAccountID, result.ToAccountID, result.Amount, string(models.StatusReversed))
	re.publish(Event{Operation: OpReverseTransfer, CompanyID: req.CompanyID, AccountID: result.FromAccountID, TransactionID: result.ReversedIDs[0], Amount: result.Amount, Status: string(models.StatusReversed)})
	return &result, nil
}
