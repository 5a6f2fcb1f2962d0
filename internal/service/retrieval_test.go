package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stadtwerk-labs/wissen/internal/domain"
	"github.com/stadtwerk-labs/wissen/internal/qdrant"
)

func approvedItem(id, title string, tags []string, updatedAt time.Time) *domain.KBItem {
	return &domain.KBItem{
		ID:        id,
		Scope:     domain.ScopeStandard,
		Type:      domain.KBItemTypeResolution,
		Title:     title,
		ContentMD: "content",
		Tags:      tags,
		Current:   true,
		Status:    domain.KBItemStatusApproved,
		UpdatedAt: updatedAt,
	}
}

func newRetrievalFixture(topK int) (*RetrievalService, *MockEmbedder, *MockVectorSearcher, *MockKBItemRepo) {
	embedder := new(MockEmbedder)
	searcher := new(MockVectorSearcher)
	kbRepo := new(MockKBItemRepo)
	return NewRetrievalService(embedder, searcher, kbRepo, topK), embedder, searcher, kbRepo
}

func TestRetrievalService_Retrieve_GeneralModeSearchesStandardOnly(t *testing.T) {
	svc, embedder, searcher, kbRepo := newRetrievalFixture(8)

	vec := []float32{0.5}
	embedder.On("Embed", mock.Anything, "how to fix UTILMD rejections").Return(vec, nil).Once()
	searcher.On("Search", mock.Anything, "kb_standard", vec, 8, "").
		Return([]qdrant.Point{{ID: "kb-1", Score: 0.9}}, nil).Once()
	kbRepo.On("GetCurrentByIDs", mock.Anything, []string{"kb-1"}).
		Return([]*domain.KBItem{approvedItem("kb-1", "UTILMD rejection handling", nil, time.Now())}, nil).Once()

	pack, err := svc.Retrieve(context.Background(), RetrieveInput{
		Question: "how to fix UTILMD rejections",
		Mode:     ModeGeneral,
	})
	require.NoError(t, err)
	assert.False(t, pack.NoMatches)
	require.Len(t, pack.Items, 1)
	searcher.AssertExpectations(t)
	searcher.AssertNumberOfCalls(t, "Search", 1)
}

func TestRetrievalService_Retrieve_ClientAndStandardSearchesBoth(t *testing.T) {
	svc, embedder, searcher, kbRepo := newRetrievalFixture(8)

	vec := []float32{0.5}
	embedder.On("Embed", mock.Anything, mock.Anything).Return(vec, nil).Once()
	searcher.On("Search", mock.Anything, "kb_SWM", vec, 8, "").
		Return([]qdrant.Point{{ID: "kb-c", Score: 0.8}}, nil).Once()
	searcher.On("Search", mock.Anything, "kb_standard", vec, 8, "").
		Return([]qdrant.Point{{ID: "kb-s", Score: 0.7}}, nil).Once()
	kbRepo.On("GetCurrentByIDs", mock.Anything, mock.MatchedBy(func(ids []string) bool {
		return len(ids) == 2
	})).Return([]*domain.KBItem{
		approvedItem("kb-c", "client item", nil, time.Now()),
		approvedItem("kb-s", "standard item", nil, time.Now()),
	}, nil).Once()

	pack, err := svc.Retrieve(context.Background(), RetrieveInput{
		Question:     "billing question",
		Mode:         ModeClientAndStandard,
		ActiveClient: "swm",
	})
	require.NoError(t, err)
	require.Len(t, pack.Items, 2)
	assert.Equal(t, "kb-c", pack.Items[0].Item.ID)
	searcher.AssertExpectations(t)
}

func TestRetrievalService_Retrieve_ClientModeWithoutClient(t *testing.T) {
	svc, _, _, _ := newRetrievalFixture(8)

	_, err := svc.Retrieve(context.Background(), RetrieveInput{
		Question: "anything",
		Mode:     ModeClient,
	})
	assert.ErrorIs(t, err, domain.ErrClientCodeRequired)
}

func TestRetrievalService_Retrieve_InvalidMode(t *testing.T) {
	svc, _, _, _ := newRetrievalFixture(8)

	_, err := svc.Retrieve(context.Background(), RetrieveInput{
		Question: "anything",
		Mode:     RetrievalMode("EVERYTHING"),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRetrievalScope)
}

func TestRetrievalService_Retrieve_EmptyHitsIsNoMatches(t *testing.T) {
	svc, embedder, searcher, kbRepo := newRetrievalFixture(8)

	embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{0.5}, nil).Once()
	searcher.On("Search", mock.Anything, "kb_standard", mock.Anything, 8, "").
		Return([]qdrant.Point{}, nil).Once()

	pack, err := svc.Retrieve(context.Background(), RetrieveInput{
		Question: "something nobody wrote down",
		Mode:     ModeGeneral,
	})
	require.NoError(t, err)
	assert.True(t, pack.NoMatches)
	assert.NotEmpty(t, pack.NextActions)
	kbRepo.AssertNotCalled(t, "GetCurrentByIDs")
}

func TestRetrievalService_Retrieve_StalePointsDiscarded(t *testing.T) {
	svc, embedder, searcher, kbRepo := newRetrievalFixture(8)

	embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{0.5}, nil).Once()
	searcher.On("Search", mock.Anything, "kb_standard", mock.Anything, 8, "").
		Return([]qdrant.Point{
			{ID: "kb-live", Score: 0.9},
			{ID: "kb-stale", Score: 0.95},
			{ID: "kb-draft", Score: 0.85},
		}, nil).Once()

	draft := approvedItem("kb-draft", "still a draft", nil, time.Now())
	draft.Status = domain.KBItemStatusDraft
	// kb-stale has no current record at all.
	kbRepo.On("GetCurrentByIDs", mock.Anything, mock.Anything).Return([]*domain.KBItem{
		approvedItem("kb-live", "live item", nil, time.Now()),
		draft,
	}, nil).Once()

	pack, err := svc.Retrieve(context.Background(), RetrieveInput{
		Question: "query",
		Mode:     ModeGeneral,
	})
	require.NoError(t, err)
	require.Len(t, pack.Items, 1)
	assert.Equal(t, "kb-live", pack.Items[0].Item.ID)
}

func TestRetrievalService_Retrieve_AllStaleIsNoMatches(t *testing.T) {
	svc, embedder, searcher, kbRepo := newRetrievalFixture(8)

	embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{0.5}, nil).Once()
	searcher.On("Search", mock.Anything, "kb_standard", mock.Anything, 8, "").
		Return([]qdrant.Point{{ID: "kb-ghost", Score: 0.9}}, nil).Once()
	kbRepo.On("GetCurrentByIDs", mock.Anything, mock.Anything).Return([]*domain.KBItem{}, nil).Once()

	pack, err := svc.Retrieve(context.Background(), RetrieveInput{
		Question: "query",
		Mode:     ModeGeneral,
	})
	require.NoError(t, err)
	assert.True(t, pack.NoMatches)
}

func TestRetrievalService_Retrieve_TokenBoostReordersHits(t *testing.T) {
	svc, embedder, searcher, kbRepo := newRetrievalFixture(8)

	embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{0.5}, nil).Once()
	searcher.On("Search", mock.Anything, "kb_standard", mock.Anything, 8, "").
		Return([]qdrant.Point{
			{ID: "kb-plain", Score: 0.80},
			{ID: "kb-tagged", Score: 0.75},
		}, nil).Once()

	now := time.Now().UTC()
	tagged := approvedItem("kb-tagged", "tagged", []string{"UTILMD", "MaKo"}, now)
	kbRepo.On("GetCurrentByIDs", mock.Anything, mock.Anything).Return([]*domain.KBItem{
		approvedItem("kb-plain", "plain", nil, now),
		tagged,
	}, nil).Once()

	// Two tag matches add 0.10 and push the lower-similarity hit to the top.
	pack, err := svc.Retrieve(context.Background(), RetrieveInput{
		Question: "UTILMD error in MaKo processing",
		Mode:     ModeGeneral,
	})
	require.NoError(t, err)
	require.Len(t, pack.Items, 2)
	assert.Equal(t, "kb-tagged", pack.Items[0].Item.ID)
	assert.Equal(t, 2, pack.Items[0].Matches)
	assert.InDelta(t, 0.85, pack.Items[0].BoostedScore, 1e-9)
	assert.Equal(t, "kb-plain", pack.Items[1].Item.ID)
	assert.Equal(t, 0, pack.Items[1].Matches)
}

func TestRetrievalService_Retrieve_TieBreaksOnRecencyThenID(t *testing.T) {
	svc, embedder, searcher, kbRepo := newRetrievalFixture(8)

	embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{0.5}, nil).Once()
	searcher.On("Search", mock.Anything, "kb_standard", mock.Anything, 8, "").
		Return([]qdrant.Point{
			{ID: "kb-b", Score: 0.8},
			{ID: "kb-a", Score: 0.8},
			{ID: "kb-newer", Score: 0.8},
		}, nil).Once()

	older := time.Now().UTC().Add(-time.Hour)
	newer := time.Now().UTC()
	kbRepo.On("GetCurrentByIDs", mock.Anything, mock.Anything).Return([]*domain.KBItem{
		approvedItem("kb-b", "b", nil, older),
		approvedItem("kb-a", "a", nil, older),
		approvedItem("kb-newer", "n", nil, newer),
	}, nil).Once()

	pack, err := svc.Retrieve(context.Background(), RetrieveInput{
		Question: "query",
		Mode:     ModeGeneral,
	})
	require.NoError(t, err)
	require.Len(t, pack.Items, 3)
	assert.Equal(t, "kb-newer", pack.Items[0].Item.ID)
	assert.Equal(t, "kb-a", pack.Items[1].Item.ID)
	assert.Equal(t, "kb-b", pack.Items[2].Item.ID)
}

func TestRetrievalService_Retrieve_TruncatesToTopK(t *testing.T) {
	svc, embedder, searcher, kbRepo := newRetrievalFixture(2)

	embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{0.5}, nil).Once()
	searcher.On("Search", mock.Anything, "kb_standard", mock.Anything, 2, "").
		Return([]qdrant.Point{
			{ID: "kb-1", Score: 0.9},
			{ID: "kb-2", Score: 0.8},
			{ID: "kb-3", Score: 0.7},
		}, nil).Once()

	now := time.Now().UTC()
	kbRepo.On("GetCurrentByIDs", mock.Anything, mock.Anything).Return([]*domain.KBItem{
		approvedItem("kb-1", "1", nil, now),
		approvedItem("kb-2", "2", nil, now),
		approvedItem("kb-3", "3", nil, now),
	}, nil).Once()

	pack, err := svc.Retrieve(context.Background(), RetrieveInput{
		Question: "query",
		Mode:     ModeGeneral,
	})
	require.NoError(t, err)
	require.Len(t, pack.Items, 2)
	assert.Equal(t, "kb-1", pack.Items[0].Item.ID)
	assert.Equal(t, "kb-2", pack.Items[1].Item.ID)
}

func TestRetrievalService_Retrieve_FailedCollectionContributesNothing(t *testing.T) {
	svc, embedder, searcher, kbRepo := newRetrievalFixture(8)

	vec := []float32{0.5}
	embedder.On("Embed", mock.Anything, mock.Anything).Return(vec, nil).Once()
	searcher.On("Search", mock.Anything, "kb_SWM", vec, 8, "").
		Return(nil, domain.ErrVectorIndexUnreachable).Once()
	searcher.On("Search", mock.Anything, "kb_standard", vec, 8, "").
		Return([]qdrant.Point{{ID: "kb-s", Score: 0.7}}, nil).Once()
	kbRepo.On("GetCurrentByIDs", mock.Anything, []string{"kb-s"}).
		Return([]*domain.KBItem{approvedItem("kb-s", "standard item", nil, time.Now())}, nil).Once()

	pack, err := svc.Retrieve(context.Background(), RetrieveInput{
		Question:     "query",
		Mode:         ModeClientAndStandard,
		ActiveClient: "SWM",
	})
	require.NoError(t, err)
	require.Len(t, pack.Items, 1)
	assert.Equal(t, "kb-s", pack.Items[0].Item.ID)
}

func TestRetrievalService_Retrieve_EmptyQuestion(t *testing.T) {
	svc, embedder, _, _ := newRetrievalFixture(8)

	_, err := svc.Retrieve(context.Background(), RetrieveInput{Question: "  ", Mode: ModeGeneral})
	assert.ErrorIs(t, err, domain.ErrEmptyInput)
	embedder.AssertNotCalled(t, "Embed")
}

func TestRetrievalService_Retrieve_InvalidTypeFilter(t *testing.T) {
	svc, _, _, _ := newRetrievalFixture(8)

	_, err := svc.Retrieve(context.Background(), RetrieveInput{
		Question:   "query",
		Mode:       ModeGeneral,
		TypeFilter: domain.KBItemType("BOGUS"),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidKBItemType)
}
