package domain

import (
	"strings"
	"time"
	"unicode"
)

// Scope is the tenant boundary for a knowledge item or a retrieval query.
type Scope string

const (
	ScopeStandard Scope = "standard"
	ScopeClient   Scope = "client"
)

// KBItemType is the closed enum of knowledge item types.
type KBItemType string

const (
	KBItemTypeIncidentPattern   KBItemType = "INCIDENT_PATTERN"
	KBItemTypeRootCause         KBItemType = "ROOT_CAUSE"
	KBItemTypeResolution        KBItemType = "RESOLUTION"
	KBItemTypeVerificationSteps KBItemType = "VERIFICATION_STEPS"
	KBItemTypeCustomizing       KBItemType = "CUSTOMIZING"
	KBItemTypeABAPTechNote      KBItemType = "ABAP_TECH_NOTE"
	KBItemTypeGlossary          KBItemType = "GLOSSARY"
	KBItemTypeRunbook           KBItemType = "RUNBOOK"
)

// KBItemTypes lists every valid knowledge item type.
var KBItemTypes = []KBItemType{
	KBItemTypeIncidentPattern,
	KBItemTypeRootCause,
	KBItemTypeResolution,
	KBItemTypeVerificationSteps,
	KBItemTypeCustomizing,
	KBItemTypeABAPTechNote,
	KBItemTypeGlossary,
	KBItemTypeRunbook,
}

// ValidKBItemType reports whether t is a member of the closed type enum.
func ValidKBItemType(t KBItemType) bool {
	for _, v := range KBItemTypes {
		if v == t {
			return true
		}
	}
	return false
}

// KBItemStatus is the approval status of a knowledge item.
type KBItemStatus string

const (
	KBItemStatusDraft    KBItemStatus = "DRAFT"
	KBItemStatusApproved KBItemStatus = "APPROVED"
	KBItemStatusRejected KBItemStatus = "REJECTED"
)

// Source records where a knowledge item came from.
type Source struct {
	IngestionID string `json:"ingestion_id"`
	InputName   string `json:"input_name,omitempty"`
}

// KBItem is one versioned unit of curated knowledge.
//
// The ID is stable across versions and doubles as the vector index point key:
// re-upserting a new version overwrites the previous point instead of
// duplicating it. Exactly one row per ID has Current set; superseded versions
// are retained for audit and excluded from retrieval.
type KBItem struct {
	ID          string
	Scope       Scope
	ClientCode  string // set iff Scope == ScopeClient
	Type        KBItemType
	Title       string
	ContentMD   string
	Tags        []string
	SAPObjects  []string
	Signals     map[string]string
	Sources     []Source
	Version     int
	Current     bool
	Status      KBItemStatus
	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// KBItemDraft is a synthesized candidate before persistence.
type KBItemDraft struct {
	Type       KBItemType
	Title      string
	ContentMD  string
	Tags       []string
	SAPObjects []string
	Signals    map[string]string
}

// ValidateScope checks the scope/client-code pairing. A client-scoped value
// must carry a client code; a standard-scoped value must not.
func ValidateScope(scope Scope, clientCode string) error {
	switch scope {
	case ScopeStandard:
		if clientCode != "" {
			return ErrClientCodeNotAllowed
		}
	case ScopeClient:
		if clientCode == "" {
			return ErrClientCodeRequired
		}
	default:
		return ErrInvalidScope
	}
	return nil
}

// ValidateKBItemDraft validates a synthesized candidate.
func ValidateKBItemDraft(d *KBItemDraft) error {
	if d == nil {
		return ErrMissingRequiredField
	}
	if !ValidKBItemType(d.Type) {
		return ErrInvalidKBItemType
	}
	if strings.TrimSpace(d.Title) == "" || strings.TrimSpace(d.ContentMD) == "" {
		return ErrMissingRequiredField
	}
	return nil
}

// NormalizeTitle folds case, trims and collapses internal whitespace so that
// dedupe compares titles on exact normalized equality only.
func NormalizeTitle(title string) string {
	lowered := strings.ToLower(strings.TrimSpace(title))
	var b strings.Builder
	b.Grow(len(lowered))
	inSpace := false
	for _, r := range lowered {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
