// Package inflight tags asynchronous work on a case with a generation so results
// computed against stale input can be recognized and dropped.
package inflight

import "sync"

// Ticket identifies one unit of work started against a case.
type Ticket struct {
	CaseID     int64
	Generation uint64
}

type Tracker struct {
	mu  sync.Mutex
	gen map[int64]uint64
}

func NewTracker() *Tracker {
	return &Tracker{gen: make(map[int64]uint64)}
}

// Begin returns a ticket for the current generation of caseID.
func (t *Tracker) Begin(caseID int64) Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Ticket{CaseID: caseID, Generation: t.gen[caseID]}
}

// Current reports whether nothing has invalidated the case since tk was issued.
func (t *Tracker) Current(tk Ticket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen[tk.CaseID] == tk.Generation
}

// Invalidate marks every outstanding ticket for caseID as stale. Counters are
// never removed, so a deleted case keeps its tickets stale.
func (t *Tracker) Invalidate(caseID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen[caseID]++
}
