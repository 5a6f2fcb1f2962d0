package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stadtwerk-labs/wissen/internal/domain"
	"github.com/stadtwerk-labs/wissen/internal/openai"
	"github.com/stadtwerk-labs/wissen/internal/telemetry"
)

const synthesisSystemPrompt = `You are a SAP IS-U knowledge engineer. Your task is to analyze
the provided content and synthesize it into structured knowledge base items.

Each item must have:
- type: One of INCIDENT_PATTERN, ROOT_CAUSE, RESOLUTION, VERIFICATION_STEPS, CUSTOMIZING, ABAP_TECH_NOTE, GLOSSARY, RUNBOOK
- title: A clear, concise title
- content_markdown: Detailed content in Markdown format
- tags: Relevant tags (e.g., IDEX, UTILMD, MaKo, GPKE)
- sap_objects: SAP transaction codes, programs, tables, or objects mentioned
- signals: Additional metadata object with keys like module, process, country

Extract all relevant knowledge items from the content. Be thorough but precise.
Return a valid JSON object with a single "kb_items" array.`

// CompletionClient generates model completions.
type CompletionClient interface {
	Complete(ctx context.Context, req openai.CompletionRequest) (string, error)
}

// SynthesisResult carries the validated drafts of one synthesis run.
type SynthesisResult struct {
	Drafts []domain.KBItemDraft
}

// SynthesisService turns extracted text into validated knowledge item drafts.
// Output that fails schema validation is retried exactly once with the
// validation errors fed back to the model; a second failure is final and
// never yields partial results.
type SynthesisService struct {
	client CompletionClient
}

func NewSynthesisService(client CompletionClient) *SynthesisService {
	return &SynthesisService{client: client}
}

type synthesisPayload struct {
	KBItems []synthesisItem `json:"kb_items"`
}

type synthesisItem struct {
	Type            string            `json:"type"`
	Title           string            `json:"title"`
	ContentMarkdown string            `json:"content_markdown"`
	Tags            []string          `json:"tags"`
	SAPObjects      []string          `json:"sap_objects"`
	Signals         map[string]string `json:"signals"`
}

// Synthesize runs the extraction prompt over text and returns validated
// drafts.
func (s *SynthesisService) Synthesize(ctx context.Context, text, effort string) (*SynthesisResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "SynthesisService.Synthesize", telemetry.SpanAttributes{
		Operation: "synthesize",
	})
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyInput
	}

	prompt := "Analyze and synthesize the following content:\n\n" + text

	var lastReasons []string
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			prompt = fmt.Sprintf(
				"Analyze and synthesize the following content:\n\n%s\n\nYour previous output was rejected for these reasons:\n- %s\nReturn corrected JSON.",
				text, strings.Join(lastReasons, "\n- "),
			)
		}

		raw, err := s.client.Complete(ctx, openai.CompletionRequest{
			System: synthesisSystemPrompt,
			Prompt: prompt,
			Effort: effort,
			JSON:   true,
		})
		if err != nil {
			if errors.Is(err, domain.ErrCompletionTimeout) && attempt == 0 {
				lastReasons = []string{"completion timed out"}
				continue
			}
			return nil, err
		}

		var payload synthesisPayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			lastReasons = []string{"invalid JSON: " + err.Error()}
			continue
		}

		reasons := validateSynthesisPayload(&payload)
		if len(reasons) > 0 {
			lastReasons = reasons
			continue
		}

		return &SynthesisResult{Drafts: toDrafts(&payload)}, nil
	}

	return nil, domain.NewDomainError(domain.ErrCodeValidation,
		"synthesis output invalid after retry: "+strings.Join(lastReasons, "; "))
}

// validateSynthesisPayload mirrors the persisted schema: non-empty kb_items,
// closed type enum, non-empty title and content.
func validateSynthesisPayload(p *synthesisPayload) []string {
	if len(p.KBItems) == 0 {
		return []string{"kb_items must be non-empty"}
	}

	var reasons []string
	for i, item := range p.KBItems {
		prefix := fmt.Sprintf("kb_items[%d]", i)
		if !domain.ValidKBItemType(domain.KBItemType(item.Type)) {
			reasons = append(reasons, fmt.Sprintf("%s.type: invalid value %q", prefix, item.Type))
		}
		if strings.TrimSpace(item.Title) == "" {
			reasons = append(reasons, prefix+".title: must be a non-empty string")
		}
		if strings.TrimSpace(item.ContentMarkdown) == "" {
			reasons = append(reasons, prefix+".content_markdown: must be a non-empty string")
		}
	}
	return reasons
}

func toDrafts(p *synthesisPayload) []domain.KBItemDraft {
	drafts := make([]domain.KBItemDraft, 0, len(p.KBItems))
	for _, item := range p.KBItems {
		tags := item.Tags
		if tags == nil {
			tags = []string{}
		}
		sapObjects := item.SAPObjects
		if sapObjects == nil {
			sapObjects = []string{}
		}
		signals := item.Signals
		if signals == nil {
			signals = map[string]string{}
		}
		drafts = append(drafts, domain.KBItemDraft{
			Type:       domain.KBItemType(item.Type),
			Title:      item.Title,
			ContentMD:  item.ContentMarkdown,
			Tags:       tags,
			SAPObjects: sapObjects,
			Signals:    signals,
		})
	}
	return drafts
}
