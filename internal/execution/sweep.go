package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/captainace/backend/internal/ledger"
	"github.com/captainace/backend/internal/repository"
	"github.com/captainace/backend/internal/services"
)

// AutoReleaser is the engine call the auto-release sweep drives.
type AutoReleaser interface {
	AutoReleaseDue(ctx context.Context, now time.Time, limit int) (services.AutoReleaseReport, error)
}

type AutoReleaseArgs struct{}

func (AutoReleaseArgs) Kind() string { return "auto_release" }

type AutoReleaseWorker struct {
	river.WorkerDefaults[AutoReleaseArgs]
	engine AutoReleaser
	batch  int
	now    func() time.Time
}

func NewAutoReleaseWorker(engine AutoReleaser, batch int) *AutoReleaseWorker {
	return &AutoReleaseWorker{engine: engine, batch: batch, now: time.Now}
}

func (w *AutoReleaseWorker) Work(ctx context.Context, job *river.Job[AutoReleaseArgs]) error {
	return w.Run(ctx)
}

// Run sweeps once. Failed tasks are logged by the engine and picked up by
// the next sweep, so only a failure to list due tasks is an error.
func (w *AutoReleaseWorker) Run(ctx context.Context) error {
	if _, err := w.engine.AutoReleaseDue(ctx, w.now().UTC(), w.batch); err != nil {
		return fmt.Errorf("auto-release sweep: %w", err)
	}
	return nil
}

type ReconcileArgs struct{}

func (ReconcileArgs) Kind() string { return "reconcile_ledger" }

// ReconcileWorker checks every wallet chain and looks for settled escrows
// that never produced a wallet event. Findings are logged, not repaired.
type ReconcileWorker struct {
	river.WorkerDefaults[ReconcileArgs]
	ledger *ledger.Service
	store  repository.Store
}

func NewReconcileWorker(ledgerSvc *ledger.Service, store repository.Store) *ReconcileWorker {
	return &ReconcileWorker{ledger: ledgerSvc, store: store}
}

func (w *ReconcileWorker) Work(ctx context.Context, job *river.Job[ReconcileArgs]) error {
	_, err := w.Run(ctx)
	return err
}

func (w *ReconcileWorker) Run(ctx context.Context) (ledger.Report, error) {
	return w.ledger.Reconcile(ctx, w.store)
}

// PeriodicJobs schedules the auto-release and reconcile sweeps.
func PeriodicJobs(autoRelease, reconcile time.Duration) []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(autoRelease),
			func() (river.JobArgs, *river.InsertOpts) {
				return AutoReleaseArgs{}, &river.InsertOpts{UniqueOpts: river.UniqueOpts{ByPeriod: autoRelease}}
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(reconcile),
			func() (river.JobArgs, *river.InsertOpts) {
				return ReconcileArgs{}, &river.InsertOpts{UniqueOpts: river.UniqueOpts{ByPeriod: reconcile}}
			},
			nil,
		),
	}
}

// Every calls fn on each tick until ctx is done. It stands in for River's
// periodic jobs when the store is in memory.
func Every(ctx context.Context, interval time.Duration, name string, logger *slog.Logger, fn func(context.Context) error) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				logger.Error("periodic job failed", "job", name, "error", err)
			}
		}
	}
}
