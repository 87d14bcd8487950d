package logger

import (
	"sync"
	"time"
)

// Audit entry kinds.
const (
	AuditTransition = "transition"
	AuditWrap       = "wrap"
	AuditSLOBreach  = "slo_breach"
)

// AuditEntry is one audited pipeline event: an execution-path transition, a
// ring wrap, or a latency-SLO breach.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Symbol string    `json:"symbol"`
	From   string    `json:"from,omitempty"`
	To     string    `json:"to,omitempty"`
	Stage  string    `json:"stage,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// Audit is a bounded in-memory ring of audited events so path selection can
// be inspected after the fact without trawling log output.
type Audit struct {
	mu      sync.Mutex
	entries []AuditEntry
	next    int
	full    bool
}

// NewAudit creates a trail retaining the most recent size entries.
func NewAudit(size int) *Audit {
	if size <= 0 {
		size = 256
	}
	return &Audit{entries: make([]AuditEntry, size)}
}

// Append records one event, stamping At when unset.
func (a *Audit) Append(e AuditEntry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	a.mu.Lock()
	a.entries[a.next] = e
	a.next = (a.next + 1) % len(a.entries)
	if a.next == 0 {
		a.full = true
	}
	a.mu.Unlock()
}

// Recent returns up to n entries, oldest first.
func (a *Audit) Recent(n int) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := a.next
	if a.full {
		size = len(a.entries)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]AuditEntry, 0, n)
	start := a.next - n
	if start < 0 {
		start += len(a.entries)
	}
	for i := 0; i < n; i++ {
		out = append(out, a.entries[(start+i)%len(a.entries)])
	}
	return out
}

// Len returns how many entries are retained.
func (a *Audit) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.full {
		return len(a.entries)
	}
	return a.next
}
