package domain

import "time"

// InputKind is the kind of input an ingestion was created from.
type InputKind string

const (
	InputKindText InputKind = "text"
	InputKindPDF  InputKind = "pdf"
	InputKindDOCX InputKind = "docx"
)

// ValidInputKind reports whether k is a supported input kind.
func ValidInputKind(k InputKind) bool {
	return k == InputKindText || k == InputKindPDF || k == InputKindDOCX
}

// IngestionStatus tracks an ingestion through the synthesis pipeline.
type IngestionStatus string

const (
	IngestionStatusDraft       IngestionStatus = "DRAFT"
	IngestionStatusSynthesized IngestionStatus = "SYNTHESIZED"
	IngestionStatusFailed      IngestionStatus = "FAILED"
	IngestionStatusApproved    IngestionStatus = "APPROVED"
	IngestionStatusRejected    IngestionStatus = "REJECTED"
)

// Ingestion is one raw intake event preceding synthesis. The triple
// (Scope, ClientCode, InputHash) is the natural dedupe key for raw intake,
// distinct from knowledge item dedupe on type+title+content.
type Ingestion struct {
	ID              string
	Scope           Scope
	ClientCode      string
	InputKind       InputKind
	InputHash       string
	InputName       string
	Status          IngestionStatus
	FailureReason   string
	Model           string
	ReasoningEffort string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
