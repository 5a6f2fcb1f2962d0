package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/stadtwerk-labs/wissen/internal/domain"
	"github.com/stadtwerk-labs/wissen/internal/openai"
	"github.com/stadtwerk-labs/wissen/internal/telemetry"
)

const answerSystemPrompt = `You are an SAP IS-U technical assistant. Answer questions using ONLY the provided context.

Hard constraints:
- Do not reference Kanban or operational tickets.
- Do not assume facts not supported by the context provided.
- If the context is insufficient, list what information is missing under "Missing inputs".
- Be precise and technical. Reference SAP transactions, programs, and objects where relevant.
- Structure your answers clearly with headings and steps where appropriate.`

// StreamingCompletionClient generates completions with incremental delivery.
type StreamingCompletionClient interface {
	CompletionClient
	StreamComplete(ctx context.Context, req openai.CompletionRequest, onDelta func(string)) (string, error)
}

// AnswerResult is a generated answer with its traceability payload.
type AnswerResult struct {
	Answer      string
	UsedItemIDs []string
	ModelCalled bool
}

// AnswerService assembles grounded answers from a context pack. It is never
// invoked on an empty pack; the retrieval gate enforces that upstream, and
// this service re-checks it. Completion failures are surfaced as-is, not
// retried: answers are unconstrained text, so a blind retry doubles cost
// without any remediation signal.
type AnswerService struct {
	client StreamingCompletionClient
	effort string
}

func NewAnswerService(client StreamingCompletionClient, effort string) *AnswerService {
	return &AnswerService{client: client, effort: effort}
}

// Answer generates a complete answer in one call.
func (s *AnswerService) Answer(ctx context.Context, question string, pack *ContextPack) (*AnswerResult, error) {
	return s.answer(ctx, question, pack, nil)
}

// StreamAnswer generates an answer, delivering text increments through
// onDelta as they arrive.
func (s *AnswerService) StreamAnswer(ctx context.Context, question string, pack *ContextPack, onDelta func(string)) (*AnswerResult, error) {
	return s.answer(ctx, question, pack, onDelta)
}

func (s *AnswerService) answer(ctx context.Context, question string, pack *ContextPack, onDelta func(string)) (*AnswerResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "AnswerService.Answer", telemetry.SpanAttributes{
		Operation: "answer",
	})
	defer span.End()

	if pack == nil || pack.NoMatches || len(pack.Items) == 0 {
		return nil, domain.NewDomainError(domain.ErrCodeInternalError, "answer requested for an empty context pack")
	}

	req := openai.CompletionRequest{
		System: answerSystemPrompt,
		Prompt: fmt.Sprintf("## Question\n\n%s\n\n## Context\n\n%s", question, buildContextSection(pack)),
		Effort: s.effort,
	}

	var text string
	var err error
	if onDelta != nil {
		text, err = s.client.StreamComplete(ctx, req, onDelta)
	} else {
		text, err = s.client.Complete(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	return &AnswerResult{
		Answer:      text,
		UsedItemIDs: pack.UsedItemIDs(),
		ModelCalled: true,
	}, nil
}

// buildContextSection renders the pack for the prompt: numbered sections with
// metadata header and full body per item.
func buildContextSection(pack *ContextPack) string {
	sections := make([]string, 0, len(pack.Items))
	for i, ci := range pack.Items {
		item := ci.Item
		sections = append(sections, fmt.Sprintf(
			"### [%d] %s\nType: %s | Tags: %s | SAP Objects: %s\nScore: %.3f | ID: %s\n\n%s",
			i+1, item.Title,
			item.Type, strings.Join(item.Tags, ", "), strings.Join(item.SAPObjects, ", "),
			ci.BoostedScore, item.ID,
			item.ContentMD,
		))
	}
	return strings.Join(sections, "\n\n---\n\n")
}
