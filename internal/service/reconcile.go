package service

import (
	"context"
	"log"

	"github.com/stadtwerk-labs/wissen/internal/domain"
	"github.com/stadtwerk-labs/wissen/internal/qdrant"
	"github.com/stadtwerk-labs/wissen/internal/telemetry"
)

// VectorReconciler is the index surface reconciliation needs.
type VectorReconciler interface {
	RetrieveIDs(ctx context.Context, collection string, ids []string) (map[string]bool, error)
	ScrollIDs(ctx context.Context, collection string) ([]string, error)
}

// ItemIndexer re-indexes a single item. Satisfied by KnowledgeService.
type ItemIndexer interface {
	IndexItem(ctx context.Context, item *domain.KBItem) error
}

// ClientLister enumerates registered clients.
type ClientLister interface {
	List(ctx context.Context) ([]*domain.Client, error)
}

// StalePoint is an index point with no approved current record behind it.
// Reported, never deleted automatically: the record store is authoritative
// and a human decides.
type StalePoint struct {
	Collection string `json:"collection"`
	PointID    string `json:"point_id"`
}

// ReconcileReport summarizes one reconciliation run.
type ReconcileReport struct {
	CollectionsChecked int          `json:"collections_checked"`
	ApprovedItems      int          `json:"approved_items"`
	Missing            int          `json:"missing"`
	Reindexed          int          `json:"reindexed"`
	ReindexFailures    int          `json:"reindex_failures"`
	StalePoints        []StalePoint `json:"stale_points"`
}

// ReconcileService repairs drift between the record store and the vector
// index. Approval commits before indexing, so the steady-state defect is an
// APPROVED item missing its point; those are re-embedded and upserted.
type ReconcileService struct {
	kbRepo     KBItemRepositoryInterface
	clientRepo ClientLister
	index      VectorReconciler
	indexer    ItemIndexer
}

func NewReconcileService(kbRepo KBItemRepositoryInterface, clientRepo ClientLister, index VectorReconciler, indexer ItemIndexer) *ReconcileService {
	return &ReconcileService{
		kbRepo:     kbRepo,
		clientRepo: clientRepo,
		index:      index,
		indexer:    indexer,
	}
}

// Reconcile walks the standard scope and every registered client scope.
func (s *ReconcileService) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	ctx, span := telemetry.StartSpan(ctx, "ReconcileService.Reconcile", telemetry.SpanAttributes{
		Operation: "reconcile",
	})
	defer span.End()

	report := &ReconcileReport{StalePoints: []StalePoint{}}

	if err := s.reconcileScope(ctx, domain.ScopeStandard, "", report); err != nil {
		return nil, err
	}

	clients, err := s.clientRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range clients {
		if err := s.reconcileScope(ctx, domain.ScopeClient, c.Code, report); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func (s *ReconcileService) reconcileScope(ctx context.Context, scope domain.Scope, clientCode string, report *ReconcileReport) error {
	collection, err := qdrant.CollectionName(scope, clientCode)
	if err != nil {
		return err
	}
	report.CollectionsChecked++

	items, err := s.kbRepo.ListCurrentByStatus(ctx, scope, clientCode, domain.KBItemStatusApproved)
	if err != nil {
		return err
	}
	report.ApprovedItems += len(items)

	approved := make(map[string]*domain.KBItem, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		approved[item.ID] = item
		ids = append(ids, item.ID)
	}

	present, err := s.index.RetrieveIDs(ctx, collection, ids)
	if err != nil {
		return err
	}
	for _, item := range items {
		if present[item.ID] {
			continue
		}
		report.Missing++
		if err := s.indexer.IndexItem(ctx, item); err != nil {
			report.ReindexFailures++
			log.Printf("reconcile: reindex %s in %s: %v", item.ID, collection, err)
			telemetry.CaptureError(ctx, err)
			continue
		}
		report.Reindexed++
	}

	pointIDs, err := s.index.ScrollIDs(ctx, collection)
	if err != nil {
		return err
	}
	for _, id := range pointIDs {
		if _, ok := approved[id]; !ok {
			report.StalePoints = append(report.StalePoints, StalePoint{Collection: collection, PointID: id})
		}
	}
	return nil
}
