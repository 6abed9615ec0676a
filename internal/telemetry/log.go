package telemetry

import (
	"sync"

	"github.com/umputun/sftpcloud/internal/identity"
)

// Log is a session's in-memory buffer of Transfer Records, flushed to the
// Identity Store Port either incrementally or, as here, in a single batch
// when the Session Supervisor finalizes the connection (spec.md §3, §5).
type Log struct {
	mu      sync.Mutex
	entries []identity.Transfer
}

// Append adds a transfer record to the buffer.
func (l *Log) Append(entry identity.Transfer) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Drain returns every buffered record and empties the buffer. Safe to call
// exactly once at session end; calling it again returns an empty slice.
func (l *Log) Drain() []identity.Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return nil
	}
	drained := l.entries
	l.entries = nil
	return drained
}
