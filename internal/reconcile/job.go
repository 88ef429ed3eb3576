// Package reconcile runs the scheduled balance reconciliation pass.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MarkoPoloResearchLab/walletledger/pkg/ledger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultSchedule = "@every 1h"

var errNilReconciler = errors.New("reconciler is nil")

// Reconciler walks every account and reports cached balance against ledger sum.
type Reconciler interface {
	ReconcileAll(ctx context.Context, visit func(ledger.Reconciliation) error) error
}

// Observer receives reconciliation outcomes, typically a metrics recorder.
type Observer interface {
	ObserveReconciliation(reconciliation ledger.Reconciliation)
	ObserveReconciliationFailure()
}

// Report summarizes one pass.
type Report struct {
	Accounts         int
	DivergedAccounts []string
}

// Consistent reports whether no account diverged.
func (report Report) Consistent() bool {
	return len(report.DivergedAccounts) == 0
}

// Job reconciles all accounts once or on a cron schedule. Divergence is
// logged and counted; balances are never rewritten.
type Job struct {
	reconciler Reconciler
	observer   Observer
	logger     *zap.Logger

	mutex     sync.Mutex
	scheduler *cron.Cron
}

// NewJob wires a Job. observer and logger may be nil.
func NewJob(reconciler Reconciler, observer Observer, logger *zap.Logger) (*Job, error) {
	if reconciler == nil {
		return nil, errNilReconciler
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{reconciler: reconciler, observer: observer, logger: logger}, nil
}

// RunOnce reconciles every account.
func (job *Job) RunOnce(ctx context.Context) (Report, error) {
	report := Report{}
	err := job.reconciler.ReconcileAll(ctx, func(reconciliation ledger.Reconciliation) error {
		report.Accounts++
		if job.observer != nil {
			job.observer.ObserveReconciliation(reconciliation)
		}
		if !reconciliation.Consistent() {
			report.DivergedAccounts = append(report.DivergedAccounts, reconciliation.AccountID.String())
			job.logger.Error("balance diverged from ledger",
				zap.String("account_id", reconciliation.AccountID.String()),
				zap.Int64("cached_balance", reconciliation.CachedBalance),
				zap.Int64("ledger_sum", reconciliation.LedgerSum),
			)
		}
		return nil
	})
	if err != nil {
		if job.observer != nil {
			job.observer.ObserveReconciliationFailure()
		}
		return report, fmt.Errorf("reconcile accounts: %w", err)
	}
	job.logger.Info("reconciliation finished",
		zap.Int("accounts", report.Accounts),
		zap.Int("diverged", len(report.DivergedAccounts)),
	)
	return report, nil
}

// ValidateSchedule rejects schedules the scheduler cannot parse. Empty is
// valid and disables the job.
func ValidateSchedule(schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("reconcile schedule %q: %w", schedule, err)
	}
	return nil
}

// Start schedules RunOnce. An empty schedule disables the job. The scheduler
// stops when ctx is done.
func (job *Job) Start(ctx context.Context, schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		job.logger.Info("reconciliation schedule disabled")
		return nil
	}
	job.mutex.Lock()
	defer job.mutex.Unlock()
	if job.scheduler != nil {
		return fmt.Errorf("reconciliation already scheduled")
	}
	cronLogger := NewCronLogger(job.logger)
	scheduler := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := scheduler.AddFunc(schedule, func() {
		if _, err := job.RunOnce(ctx); err != nil {
			job.logger.Error("scheduled reconciliation failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("reconcile schedule %q: %w", schedule, err)
	}
	scheduler.Start()
	job.scheduler = scheduler
	go func() {
		<-ctx.Done()
		job.Stop()
	}()
	return nil
}

// Stop halts the scheduler and waits for a running pass to finish.
func (job *Job) Stop() {
	job.mutex.Lock()
	scheduler := job.scheduler
	job.scheduler = nil
	job.mutex.Unlock()
	if scheduler == nil {
		return
	}
	<-scheduler.Stop().Done()
}

// CronLogger adapts zap to cron.Logger.
type CronLogger struct {
	sugar *zap.SugaredLogger
}

// NewCronLogger wraps logger for the cron scheduler.
func NewCronLogger(logger *zap.Logger) CronLogger {
	return CronLogger{sugar: logger.Sugar()}
}

func (logger CronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.sugar.Debugw(msg, keysAndValues...)
}

func (logger CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
