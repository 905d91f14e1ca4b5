package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/susubank/ledger/internal/store"
)

// SweepConfig controls the nightly inactivity sweep.
type SweepConfig struct {
	InactivityDays    int
	CustomerGraceDays int
	Hour              int
	BatchSize         int
}

// DefaultSweepConfig flags accounts idle for 30 days and customers 20 days after their last
// account went inactive, at 02:00.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{InactivityDays: 30, CustomerGraceDays: 20, Hour: 2, BatchSize: 500}
}

type SweepResult struct {
	Accounts  int64 `json:"accounts"`
	Customers int64 `json:"customers"`
}

// InactivitySweep flips stale accounts and dormant customers to Inactive. Each batch is its own
// short transaction and skips rows the engine currently holds.
type InactivitySweep struct {
	store    store.Runner
	cfg      SweepConfig
	logger   *zap.Logger
	location *time.Location
	now      func() time.Time
}

func NewInactivitySweep(runner store.Runner, cfg SweepConfig, logger *zap.Logger, loc *time.Location) *InactivitySweep {
	def := DefaultSweepConfig()
	if cfg.InactivityDays <= 0 {
		cfg.InactivityDays = def.InactivityDays
	}
	if cfg.CustomerGraceDays <= 0 {
		cfg.CustomerGraceDays = def.CustomerGraceDays
	}
	if cfg.Hour < 0 || cfg.Hour > 23 {
		cfg.Hour = def.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &InactivitySweep{store: runner, cfg: cfg, logger: logger.Named("sweep"), location: loc, now: time.Now}
}

// RunOnce performs one full sweep.
func (s *InactivitySweep) RunOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := s.now()
	cutoff := now.AddDate(0, 0, -s.cfg.InactivityDays)

	for {
		var n int64
		err := s.store.RunInTx(ctx, func(tx store.Tx) error {
			var err error
			n, err = tx.DeactivateStaleAccounts(ctx, cutoff, s.cfg.BatchSize)
			return err
		})
		if err != nil {
			return result, err
		}
		result.Accounts += n
		if n < int64(s.cfg.BatchSize) {
			break
		}
	}

	graceCutoff := now.AddDate(0, 0, -s.cfg.CustomerGraceDays)
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		result.Customers, err = tx.DeactivateDormantCustomers(ctx, graceCutoff)
		return err
	})
	if err != nil {
		return result, err
	}

	s.logger.Info("inactivity sweep finished",
		zap.Int64("accounts", result.Accounts),
		zap.Int64("customers", result.Customers))
	return result, nil
}

// Start runs the sweep every day at the configured hour until ctx is cancelled.
func (s *InactivitySweep) Start(ctx context.Context) {
	for {
		next := s.nextRun(s.now())
		s.logger.Info("next inactivity sweep scheduled", zap.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("inactivity sweep failed", zap.Error(err))
		}
	}
}

// nextRun returns the first occurrence of the sweep hour strictly after from.
func (s *InactivitySweep) nextRun(from time.Time) time.Time {
	local := from.In(s.location)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.cfg.Hour, 0, 0, 0, s.location)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
