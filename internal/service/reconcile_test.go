package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stadtwerk-labs/wissen/internal/domain"
)

func newReconcileFixture() (*ReconcileService, *MockKBItemRepo, *MockClientRepo, *MockVectorReconciler, *MockItemIndexer) {
	kbRepo := new(MockKBItemRepo)
	clientRepo := new(MockClientRepo)
	index := new(MockVectorReconciler)
	indexer := new(MockItemIndexer)
	return NewReconcileService(kbRepo, clientRepo, index, indexer), kbRepo, clientRepo, index, indexer
}

func TestReconcileService_Reconcile_ReindexesMissingItems(t *testing.T) {
	svc, kbRepo, clientRepo, index, indexer := newReconcileFixture()

	indexed := &domain.KBItem{ID: "kb-ok", Scope: domain.ScopeStandard, Status: domain.KBItemStatusApproved}
	missing := &domain.KBItem{ID: "kb-gone", Scope: domain.ScopeStandard, Status: domain.KBItemStatusApproved}

	kbRepo.On("ListCurrentByStatus", mock.Anything, domain.ScopeStandard, "", domain.KBItemStatusApproved).
		Return([]*domain.KBItem{indexed, missing}, nil).Once()
	index.On("RetrieveIDs", mock.Anything, "kb_standard", []string{"kb-ok", "kb-gone"}).
		Return(map[string]bool{"kb-ok": true}, nil).Once()
	indexer.On("IndexItem", mock.Anything, missing).Return(nil).Once()
	index.On("ScrollIDs", mock.Anything, "kb_standard").Return([]string{"kb-ok", "kb-gone"}, nil).Once()
	clientRepo.On("List", mock.Anything).Return([]*domain.Client{}, nil).Once()

	report, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.CollectionsChecked)
	assert.Equal(t, 2, report.ApprovedItems)
	assert.Equal(t, 1, report.Missing)
	assert.Equal(t, 1, report.Reindexed)
	assert.Equal(t, 0, report.ReindexFailures)
	assert.Empty(t, report.StalePoints)
	indexer.AssertExpectations(t)
}

func TestReconcileService_Reconcile_ReportsStalePoints(t *testing.T) {
	svc, kbRepo, clientRepo, index, indexer := newReconcileFixture()

	kbRepo.On("ListCurrentByStatus", mock.Anything, domain.ScopeStandard, "", domain.KBItemStatusApproved).
		Return([]*domain.KBItem{}, nil).Once()
	index.On("RetrieveIDs", mock.Anything, "kb_standard", []string{}).
		Return(map[string]bool{}, nil).Once()
	index.On("ScrollIDs", mock.Anything, "kb_standard").Return([]string{"ghost-1"}, nil).Once()
	clientRepo.On("List", mock.Anything).Return([]*domain.Client{}, nil).Once()

	report, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, report.StalePoints, 1)
	assert.Equal(t, "kb_standard", report.StalePoints[0].Collection)
	assert.Equal(t, "ghost-1", report.StalePoints[0].PointID)
	// Stale points are reported, never deleted.
	indexer.AssertNotCalled(t, "IndexItem")
}

func TestReconcileService_Reconcile_WalksClientCollections(t *testing.T) {
	svc, kbRepo, clientRepo, index, _ := newReconcileFixture()

	kbRepo.On("ListCurrentByStatus", mock.Anything, domain.ScopeStandard, "", domain.KBItemStatusApproved).
		Return([]*domain.KBItem{}, nil).Once()
	index.On("RetrieveIDs", mock.Anything, "kb_standard", []string{}).Return(map[string]bool{}, nil).Once()
	index.On("ScrollIDs", mock.Anything, "kb_standard").Return([]string{}, nil).Once()

	clientRepo.On("List", mock.Anything).Return([]*domain.Client{{Code: "SWM"}}, nil).Once()
	kbRepo.On("ListCurrentByStatus", mock.Anything, domain.ScopeClient, "SWM", domain.KBItemStatusApproved).
		Return([]*domain.KBItem{}, nil).Once()
	index.On("RetrieveIDs", mock.Anything, "kb_SWM", []string{}).Return(map[string]bool{}, nil).Once()
	index.On("ScrollIDs", mock.Anything, "kb_SWM").Return([]string{}, nil).Once()

	report, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.CollectionsChecked)
	index.AssertExpectations(t)
}

func TestReconcileService_Reconcile_ReindexFailureCounted(t *testing.T) {
	svc, kbRepo, clientRepo, index, indexer := newReconcileFixture()

	missing := &domain.KBItem{ID: "kb-gone", Scope: domain.ScopeStandard, Status: domain.KBItemStatusApproved}
	kbRepo.On("ListCurrentByStatus", mock.Anything, domain.ScopeStandard, "", domain.KBItemStatusApproved).
		Return([]*domain.KBItem{missing}, nil).Once()
	index.On("RetrieveIDs", mock.Anything, "kb_standard", []string{"kb-gone"}).
		Return(map[string]bool{}, nil).Once()
	indexer.On("IndexItem", mock.Anything, missing).Return(domain.ErrVectorIndexUnreachable).Once()
	index.On("ScrollIDs", mock.Anything, "kb_standard").Return([]string{}, nil).Once()
	clientRepo.On("List", mock.Anything).Return([]*domain.Client{}, nil).Once()

	report, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Missing)
	assert.Equal(t, 0, report.Reindexed)
	assert.Equal(t, 1, report.ReindexFailures)
}
