package scheduler

import (
	"context"
	"fmt"
	"time"

	"famfin/internal/domain/banksync"

	"go.uber.org/zap"
)

// Task names.
const (
	TaskBalances     = "balance-sync"
	TaskTransactions = "transaction-import"
)

// Syncer is the slice of banksync.Service the scheduled jobs need.
type Syncer interface {
	ListFamilies(ctx context.Context) ([]string, error)
	SyncFamilyBalances(ctx context.Context, familyID string) (*banksync.SyncResult, error)
	ImportFamilyTransactions(ctx context.Context, familyID string, from, to time.Time) (*banksync.SyncResult, error)
	ImportWindow() (time.Time, time.Time)
}

// BalanceSyncJob refreshes the balances of one family.
type BalanceSyncJob struct {
	familyID string
	syncer   Syncer
	logger   *zap.Logger
}

func NewBalanceSyncJob(familyID string, syncer Syncer, logger *zap.Logger) *BalanceSyncJob {
	return &BalanceSyncJob{familyID: familyID, syncer: syncer, logger: logger}
}

func (j *BalanceSyncJob) Execute(ctx context.Context) error {
	res, err := j.syncer.SyncFamilyBalances(ctx, j.familyID)
	if err != nil {
		return fmt.Errorf("balance sync failed: %w", err)
	}
	logPartial(j.logger, j, res)
	return nil
}

func (j *BalanceSyncJob) FamilyID() string { return j.familyID }

func (j *BalanceSyncJob) Description() string { return TaskBalances }

// TransactionImportJob imports one family's transactions over [From, To].
type TransactionImportJob struct {
	familyID string
	from, to time.Time
	syncer   Syncer
	logger   *zap.Logger
}

func NewTransactionImportJob(familyID string, from, to time.Time, syncer Syncer, logger *zap.Logger) *TransactionImportJob {
	return &TransactionImportJob{familyID: familyID, from: from, to: to, syncer: syncer, logger: logger}
}

func (j *TransactionImportJob) Execute(ctx context.Context) error {
	res, err := j.syncer.ImportFamilyTransactions(ctx, j.familyID, j.from, j.to)
	if err != nil {
		return fmt.Errorf("transaction import failed: %w", err)
	}
	logPartial(j.logger, j, res)
	return nil
}

func (j *TransactionImportJob) FamilyID() string { return j.familyID }

func (j *TransactionImportJob) Description() string { return TaskTransactions }

// Per-account failures do not fail the job; they are logged here.
func logPartial(logger *zap.Logger, job Job, res *banksync.SyncResult) {
	for _, a := range res.Failed() {
		logger.Warn("account sync failed",
			zap.String("job", job.Description()),
			zap.String("family_id", job.FamilyID()),
			zap.String("provider_account_id", a.ProviderAccountID),
			zap.Error(a.Err),
		)
	}
}

// BalanceJobs lists one BalanceSyncJob per family with a connection.
func BalanceJobs(syncer Syncer, logger *zap.Logger) JobProvider {
	return func(ctx context.Context) ([]Job, error) {
		families, err := syncer.ListFamilies(ctx)
		if err != nil {
			return nil, err
		}
		jobs := make([]Job, 0, len(families))
		for _, id := range families {
			jobs = append(jobs, NewBalanceSyncJob(id, syncer, logger))
		}
		return jobs, nil
	}
}

// TransactionJobs lists one TransactionImportJob per family. Every job of a run
// shares the same window.
func TransactionJobs(syncer Syncer, logger *zap.Logger) JobProvider {
	return func(ctx context.Context) ([]Job, error) {
		families, err := syncer.ListFamilies(ctx)
		if err != nil {
			return nil, err
		}
		from, to := syncer.ImportWindow()
		jobs := make([]Job, 0, len(families))
		for _, id := range families {
			jobs = append(jobs, NewTransactionImportJob(id, from, to, syncer, logger))
		}
		return jobs, nil
	}
}
