package chat

import (
	"log/slog"
	"sync"
	"time"
)

type mailbox struct {
	jobs    chan func()
	pending int
}

// mailboxes runs the jobs of each session one at a time in submission
// order. A session's goroutine starts on first use and exits after idle
// time with nothing pending.
type mailboxes struct {
	mu     sync.Mutex
	boxes  map[string]*mailbox
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
	idle   time.Duration
	logger *slog.Logger
}

func newMailboxes(idle time.Duration, logger *slog.Logger) *mailboxes {
	if idle <= 0 {
		idle = 2 * time.Minute
	}
	return &mailboxes{
		boxes:  make(map[string]*mailbox),
		done:   make(chan struct{}),
		idle:   idle,
		logger: logger,
	}
}

// submit queues job for the session. It returns false after close.
func (m *mailboxes) submit(sessionID string, job func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	b := m.boxes[sessionID]
	if b == nil {
		b = &mailbox{jobs: make(chan func(), 64)}
		m.boxes[sessionID] = b
		m.wg.Add(1)
		go m.run(sessionID, b)
	}
	// pending is raised before the send so the runner cannot retire
	// between the two.
	b.pending++
	m.mu.Unlock()

	b.jobs <- job
	return true
}

func (m *mailboxes) run(sessionID string, b *mailbox) {
	defer m.wg.Done()
	timer := time.NewTimer(m.idle)
	defer timer.Stop()
	done := m.done
	draining := false

	for {
		select {
		case job := <-b.jobs:
			m.exec(sessionID, job)
			m.mu.Lock()
			b.pending--
			exit := draining && b.pending == 0
			if exit {
				delete(m.boxes, sessionID)
			}
			m.mu.Unlock()
			if exit {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(m.idle)
		case <-timer.C:
			m.mu.Lock()
			if b.pending == 0 {
				delete(m.boxes, sessionID)
				m.mu.Unlock()
				return
			}
			m.mu.Unlock()
			timer.Reset(m.idle)
		case <-done:
			done = nil
			draining = true
			m.mu.Lock()
			if b.pending == 0 {
				delete(m.boxes, sessionID)
				m.mu.Unlock()
				return
			}
			m.mu.Unlock()
		}
	}
}

func (m *mailboxes) exec(sessionID string, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("session job panicked", "session_id", sessionID, "panic", r)
		}
	}()
	job()
}

func (m *mailboxes) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.boxes)
}

// close rejects new jobs, lets queued ones finish and waits for every
// runner to exit.
func (m *mailboxes) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()
	m.wg.Wait()
}
