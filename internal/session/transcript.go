package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one line of the conversation transcript.
type Entry struct {
	ID        string
	Role      Role
	Text      string
	Timestamp time.Time
}

// Transcript is the append-only conversation history. Entries are never
// rewritten or removed.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds one entry and returns it with its assigned ID.
func (t *Transcript) Append(role Role, text string) Entry {
	entry := Entry{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}

	t.mu.Lock()
	t.entries = append(t.entries, entry)
	t.mu.Unlock()

	return entry
}

// Entries returns a copy of the transcript in append order.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
