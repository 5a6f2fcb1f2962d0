package service

import (
	"context"
	"log"
	"sort"
	"strings"
	"unicode"

	"github.com/stadtwerk-labs/wissen/internal/domain"
	"github.com/stadtwerk-labs/wissen/internal/qdrant"
	"github.com/stadtwerk-labs/wissen/internal/telemetry"
)

// RetrievalMode selects which collections a retrieval may touch. The engine
// never queries a collection outside the selected set; tenant isolation hangs
// on this.
type RetrievalMode string

const (
	ModeGeneral           RetrievalMode = "GENERAL"
	ModeClient            RetrievalMode = "CLIENT"
	ModeClientAndStandard RetrievalMode = "CLIENT_AND_STANDARD"
)

// VectorSearcher is the search surface of the vector index.
type VectorSearcher interface {
	Search(ctx context.Context, collection string, vector []float32, limit int, typeFilter string) ([]qdrant.Point, error)
}

// ContextItem is one retrieved knowledge item with its scoring breakdown.
type ContextItem struct {
	Item         *domain.KBItem
	Score        float64 // raw similarity
	BoostedScore float64 // similarity + token-match boost
	Matches      int     // distinct question tokens matched
}

// ContextPack is the ordered retrieval result handed to answer assembly.
// NoMatches means the model must not be called; NextActions then suggests
// what the user can do instead.
type ContextPack struct {
	Items       []ContextItem
	NoMatches   bool
	NextActions []string
}

// UsedItemIDs returns the ids of the packed items in rank order.
func (p *ContextPack) UsedItemIDs() []string {
	ids := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		ids = append(ids, it.Item.ID)
	}
	return ids
}

var noMatchNextActions = []string{
	"Ingest relevant documents so the knowledge base covers this topic.",
	"Approve pending draft items; only approved items are retrievable.",
	"Broaden the retrieval scope or remove the type filter.",
	"Rephrase the question with SAP transaction codes or object names.",
}

// RetrievalService retrieves scoped, approved knowledge for a question.
type RetrievalService struct {
	embedder EmbeddingClient
	searcher VectorSearcher
	kbRepo   KBItemRepositoryInterface
	topK     int
}

func NewRetrievalService(embedder EmbeddingClient, searcher VectorSearcher, kbRepo KBItemRepositoryInterface, topK int) *RetrievalService {
	if topK <= 0 {
		topK = 8
	}
	return &RetrievalService{
		embedder: embedder,
		searcher: searcher,
		kbRepo:   kbRepo,
		topK:     topK,
	}
}

// RetrieveInput selects what to retrieve and from where.
type RetrieveInput struct {
	Question     string
	Mode         RetrievalMode
	ActiveClient string
	TypeFilter   domain.KBItemType
}

// collections resolves the fixed collection set for a mode.
func collections(mode RetrievalMode, activeClient string) ([]string, error) {
	switch mode {
	case ModeGeneral:
		return []string{qdrant.StandardCollection}, nil
	case ModeClient:
		name, err := qdrant.CollectionName(domain.ScopeClient, activeClient)
		if err != nil {
			return nil, err
		}
		return []string{name}, nil
	case ModeClientAndStandard:
		name, err := qdrant.CollectionName(domain.ScopeClient, activeClient)
		if err != nil {
			return nil, err
		}
		return []string{name, qdrant.StandardCollection}, nil
	default:
		return nil, domain.ErrInvalidRetrievalScope
	}
}

// Retrieve embeds the question, searches the selected collections, keeps only
// items that are APPROVED and current in the record store, applies the
// deterministic token-match boost and returns the top-K ranked pack. An empty
// surviving set short-circuits into a NoMatches pack; the completion service
// is never called for one.
func (s *RetrievalService) Retrieve(ctx context.Context, input RetrieveInput) (*ContextPack, error) {
	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.Retrieve", telemetry.SpanAttributes{
		ClientCode: input.ActiveClient,
		Operation:  "retrieve",
	})
	defer span.End()

	if strings.TrimSpace(input.Question) == "" {
		return nil, domain.ErrEmptyInput
	}
	if input.TypeFilter != "" && !domain.ValidKBItemType(input.TypeFilter) {
		return nil, domain.ErrInvalidKBItemType
	}
	names, err := collections(input.Mode, domain.NormalizeClientCode(input.ActiveClient))
	if err != nil {
		return nil, err
	}

	vector, err := s.embedder.Embed(ctx, input.Question)
	if err != nil {
		return nil, err
	}

	// Per-collection search. A failing or timed-out collection contributes
	// nothing; the others still count.
	type hit struct {
		id    string
		score float64
	}
	var hits []hit
	seen := make(map[string]float64)
	for _, name := range names {
		points, err := s.searcher.Search(ctx, name, vector, s.topK, string(input.TypeFilter))
		if err != nil {
			log.Printf("retrieval: search %s: %v", name, err)
			telemetry.CaptureError(ctx, err)
			continue
		}
		for _, p := range points {
			if prev, ok := seen[p.ID]; !ok || p.Score > prev {
				seen[p.ID] = p.Score
			}
		}
	}
	for id, score := range seen {
		hits = append(hits, hit{id: id, score: score})
	}

	if len(hits) == 0 {
		return &ContextPack{NoMatches: true, NextActions: noMatchNextActions}, nil
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.id)
	}
	items, err := s.kbRepo.GetCurrentByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Trust the record store, not the index: only APPROVED current versions
	// survive. Anything else is a stale point worth flagging.
	byID := make(map[string]*domain.KBItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	tokens := tokenize(input.Question)
	var survivors []ContextItem
	for _, h := range hits {
		item, ok := byID[h.id]
		if !ok || item.Status != domain.KBItemStatusApproved {
			staleErr := domain.NewDomainError(domain.ErrCodeConsistency,
				"vector index point "+h.id+" has no approved current record")
			log.Printf("retrieval: %v", staleErr)
			telemetry.CaptureError(ctx, staleErr)
			continue
		}
		matches := countTokenMatches(tokens, item)
		survivors = append(survivors, ContextItem{
			Item:         item,
			Score:        h.score,
			BoostedScore: h.score + 0.05*float64(matches),
			Matches:      matches,
		})
	}

	if len(survivors) == 0 {
		return &ContextPack{NoMatches: true, NextActions: noMatchNextActions}, nil
	}

	sort.Slice(survivors, func(i, j int) bool {
		a, b := survivors[i], survivors[j]
		if a.BoostedScore != b.BoostedScore {
			return a.BoostedScore > b.BoostedScore
		}
		if !a.Item.UpdatedAt.Equal(b.Item.UpdatedAt) {
			return a.Item.UpdatedAt.After(b.Item.UpdatedAt)
		}
		return a.Item.ID < b.Item.ID
	})
	if len(survivors) > s.topK {
		survivors = survivors[:s.topK]
	}

	return &ContextPack{Items: survivors}, nil
}

// tokenize lowercases and splits on non-alphanumeric runes, deduplicating.
func tokenize(question string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make(map[string]bool, len(fields))
	for _, f := range fields {
		tokens[f] = true
	}
	return tokens
}

// countTokenMatches counts distinct question tokens that exactly match any
// tag or SAP object reference, case-insensitively.
func countTokenMatches(tokens map[string]bool, item *domain.KBItem) int {
	terms := make(map[string]bool, len(item.Tags)+len(item.SAPObjects))
	for _, t := range item.Tags {
		terms[strings.ToLower(t)] = true
	}
	for _, o := range item.SAPObjects {
		terms[strings.ToLower(o)] = true
	}
	count := 0
	for token := range tokens {
		if terms[token] {
			count++
		}
	}
	return count
}
