package domain

import "time"

// MessageRole is the author role of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// RetentionWindows are the allowed retention windows, in days, for unpinned
// chat sessions.
var RetentionWindows = []int{7, 15, 30}

// ValidRetentionDays reports whether days is an allowed retention window.
func ValidRetentionDays(days int) bool {
	for _, d := range RetentionWindows {
		if d == days {
			return true
		}
	}
	return false
}

// ChatSession is one conversation. Pinned sessions are unconditionally exempt
// from retention cleanup.
type ChatSession struct {
	ID             string
	ClientCode     string // empty for general scope
	Title          string
	Pinned         bool
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// ChatMessage is one message in a session. Messages are strictly ordered by
// Seq, assigned in the same transaction as the insert. Assistant messages
// carry the knowledge item IDs used as grounding and whether the completion
// model was actually invoked.
type ChatMessage struct {
	ID          string
	SessionID   string
	Role        MessageRole
	Content     string
	Seq         int
	UsedItemIDs []string
	ModelCalled bool
	CreatedAt   time.Time
}
