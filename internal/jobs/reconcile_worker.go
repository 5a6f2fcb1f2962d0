package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/stadtwerk-labs/wissen/internal/service"
)

// Reconciler defines the interface for index reconciliation
type Reconciler interface {
	Reconcile(ctx context.Context) (*service.ReconcileReport, error)
}

// ReconcileWorker periodically repairs drift between the record store and the
// vector index.
type ReconcileWorker struct {
	reconciler Reconciler
}

// NewReconcileWorker creates a new ReconcileWorker instance
func NewReconcileWorker(reconciler Reconciler) *ReconcileWorker {
	return &ReconcileWorker{reconciler: reconciler}
}

// ProcessJobs implements the JobProcessor interface
func (w *ReconcileWorker) ProcessJobs(ctx context.Context) error {
	report, err := w.reconciler.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}
	if report.Missing > 0 || len(report.StalePoints) > 0 {
		log.Printf("Reconcile run: collections=%d approved=%d missing=%d reindexed=%d failures=%d stale=%d",
			report.CollectionsChecked, report.ApprovedItems, report.Missing,
			report.Reindexed, report.ReindexFailures, len(report.StalePoints))
	}
	return nil
}
