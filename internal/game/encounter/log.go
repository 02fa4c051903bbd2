package encounter

import (
	"sync"
	"time"
)

// EntryKind classifies a log entry.
type EntryKind string

const (
	EntryEncounter EntryKind = "encounter" // lifecycle transitions
	EntryRound     EntryKind = "round"     // round boundaries
	EntryTurn      EntryKind = "turn"      // turn announcements
	EntryProposal  EntryKind = "proposal"  // pending intent from the planner
	EntryApproval  EntryKind = "approval"  // approval acknowledgments
	EntryExecution EntryKind = "execution" // executed action results
	EntryFailure   EntryKind = "failure"   // rejected executions
	EntryNarration EntryKind = "narration" // best-effort flavor text
)

// LogEntry is one immutable record in the encounter log.
type LogEntry struct {
	Seq     int       `json:"seq"`
	Time    time.Time `json:"time"`
	Kind    EntryKind `json:"kind"`
	ActorID string    `json:"actorId,omitempty"`
	Message string    `json:"message"`
}

// Log is the append-only encounter log. Entries are never mutated in place.
type Log struct {
	mu      sync.RWMutex
	entries []LogEntry
}

// Append adds an entry with the next sequence number and returns it.
func (l *Log) Append(kind EntryKind, actorID, message string) LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := LogEntry{
		Seq:     len(l.entries),
		Time:    time.Now().UTC(),
		Kind:    kind,
		ActorID: actorID,
		Message: message,
	}
	l.entries = append(l.entries, e)
	return e
}

// Tail returns a copy of the last n entries (all entries when n exceeds the
// log length).
func (l *Log) Tail(n int) []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]LogEntry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// Entries returns a copy of the full log.
func (l *Log) Entries() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
