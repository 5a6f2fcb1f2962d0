package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// InputFingerprint hashes raw extracted text for ingestion-level dedupe.
// Deterministic, no side effects.
func InputFingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ContentFingerprint hashes the identity-bearing parts of a knowledge item
// (type, title, content) for item-level dedupe and versioning decisions.
func ContentFingerprint(itemType KBItemType, title, contentMD string) string {
	combined := fmt.Sprintf("%s|%s|%s", itemType, title, contentMD)
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:])
}
