package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/stadtwerk-labs/wissen/internal/service"
)

// IngestionPipeline defines the interface for running the synthesis pipeline
type IngestionPipeline interface {
	ProcessPending(ctx context.Context, limit int) (*service.ProcessReport, error)
}

// SynthesisWorker drives the ingestion pipeline: it claims pending ingestions
// and runs synthesis plus the dedupe engine over each batch.
type SynthesisWorker struct {
	pipeline  IngestionPipeline
	batchSize int
}

// NewSynthesisWorker creates a new SynthesisWorker instance
func NewSynthesisWorker(pipeline IngestionPipeline, batchSize int) *SynthesisWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &SynthesisWorker{pipeline: pipeline, batchSize: batchSize}
}

// ProcessJobs implements the JobProcessor interface
func (w *SynthesisWorker) ProcessJobs(ctx context.Context) error {
	report, err := w.pipeline.ProcessPending(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("failed to process pending ingestions: %w", err)
	}
	if report.Claimed > 0 {
		log.Printf("Synthesis batch: claimed=%d synthesized=%d failed=%d created=%d versioned=%d duplicates=%d",
			report.Claimed, report.Synthesized, report.Failed, report.Created, report.Versioned, report.Duplicates)
	}
	return nil
}
