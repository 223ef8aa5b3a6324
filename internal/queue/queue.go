// Package queue holds sessions waiting for a human agent.
package queue

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotQueued = errors.New("session not queued")

type Entry struct {
	SessionID   string    `json:"session_id"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	Position    int       `json:"position"`
	Claimed     bool      `json:"claimed,omitempty"`
	Quarantined bool      `json:"quarantined,omitempty"`
}

type entry struct {
	sessionID   string
	enqueuedAt  time.Time
	seq         uint64
	claimed     bool
	quarantined bool
}

// Queue is a FIFO ordered by enqueue time, ties broken by insertion order.
// Positions are 1-indexed and skip quarantined entries. A claimed entry
// keeps its position until it is taken or removed.
type Queue struct {
	mu      sync.Mutex
	entries []*entry
	index   map[string]*entry
	nextSeq uint64
	now     func() time.Time
}

func New() *Queue {
	return &Queue{
		index: make(map[string]*entry),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue adds the session if absent and returns its position.
func (q *Queue) Enqueue(sessionID string) int {
	return q.Restore(sessionID, q.now())
}

// Restore inserts the session with an explicit enqueue time, used when the
// queue is rebuilt from persisted sessions. Existing entries are kept.
func (q *Queue) Restore(sessionID string, at time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.index[sessionID]; !ok {
		q.nextSeq++
		e := &entry{sessionID: sessionID, enqueuedAt: at, seq: q.nextSeq}
		q.index[sessionID] = e
		i := sort.Search(len(q.entries), func(i int) bool {
			return less(e, q.entries[i])
		})
		q.entries = append(q.entries, nil)
		copy(q.entries[i+1:], q.entries[i:])
		q.entries[i] = e
	}
	pos, _ := q.positionLocked(sessionID)
	return pos
}

// DequeueNext removes and returns the head of the queue. Claimed entries
// are skipped.
func (q *Queue) DequeueNext() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.quarantined || e.claimed {
			continue
		}
		q.removeAtLocked(i)
		return e.sessionID, true
	}
	return "", false
}

// Claim reserves the first unclaimed entry without removing it. The
// holder finishes with Take, or gives it back with Unclaim.
func (q *Queue) Claim() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.quarantined || e.claimed {
			continue
		}
		e.claimed = true
		return e.sessionID, true
	}
	return "", false
}

// Claimed reports whether the session's entry is still present and claimed.
func (q *Queue) Claimed(sessionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.index[sessionID]
	return ok && e.claimed && !e.quarantined
}

func (q *Queue) Unclaim(sessionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.index[sessionID]
	if !ok || !e.claimed {
		return false
	}
	e.claimed = false
	return true
}

// Take removes a specific entry, claimed or not. It reports whether the
// entry existed and was eligible.
func (q *Queue) Take(sessionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.index[sessionID]
	if !ok || e.quarantined {
		return false
	}
	for i := range q.entries {
		if q.entries[i] == e {
			q.removeAtLocked(i)
			break
		}
	}
	return true
}

func (q *Queue) PositionOf(sessionID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.positionLocked(sessionID)
}

// Remove drops the session's entry, quarantined or not. No-op when absent.
func (q *Queue) Remove(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.index[sessionID]
	if !ok {
		return
	}
	for i := range q.entries {
		if q.entries[i] == e {
			q.removeAtLocked(i)
			return
		}
	}
}

// Quarantine parks an entry so it is neither dequeued nor counted.
func (q *Queue) Quarantine(sessionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.index[sessionID]
	if !ok {
		return false
	}
	e.quarantined = true
	e.claimed = false
	return true
}

// Release returns a quarantined entry to its original place in line.
func (q *Queue) Release(sessionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.index[sessionID]
	if !ok || !e.quarantined {
		return false
	}
	e.quarantined = false
	return true
}

// Len counts eligible entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if !e.quarantined {
			n++
		}
	}
	return n
}

// Snapshot lists all entries in queue order.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, 0, len(q.entries))
	pos := 0
	for _, e := range q.entries {
		item := Entry{SessionID: e.sessionID, EnqueuedAt: e.enqueuedAt, Claimed: e.claimed, Quarantined: e.quarantined}
		if !e.quarantined {
			pos++
			item.Position = pos
		}
		out = append(out, item)
	}
	return out
}

func (q *Queue) positionLocked(sessionID string) (int, error) {
	e, ok := q.index[sessionID]
	if !ok || e.quarantined {
		return 0, ErrNotQueued
	}
	pos := 0
	for _, cur := range q.entries {
		if cur.quarantined {
			continue
		}
		pos++
		if cur == e {
			return pos, nil
		}
	}
	return 0, ErrNotQueued
}

func (q *Queue) removeAtLocked(i int) {
	e := q.entries[i]
	delete(q.index, e.sessionID)
	copy(q.entries[i:], q.entries[i+1:])
	q.entries[len(q.entries)-1] = nil
	q.entries = q.entries[:len(q.entries)-1]
}

func less(a, b *entry) bool {
	if !a.enqueuedAt.Equal(b.enqueuedAt) {
		return a.enqueuedAt.Before(b.enqueuedAt)
	}
	return a.seq < b.seq
}
