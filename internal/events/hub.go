package events

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Hub keeps an ordered log per job and replays it to every subscriber, so an
// observer that connects late still sees the whole history.
type Hub struct {
	mu     sync.Mutex
	jobs   map[string]*jobLog
	logger *logrus.Logger
}

type jobLog struct {
	events []Event
	closed bool
	notify chan struct{}
}

func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{jobs: make(map[string]*jobLog), logger: logger}
}

func (h *Hub) logFor(jobID string) *jobLog {
	l, ok := h.jobs[jobID]
	if !ok {
		l = &jobLog{notify: make(chan struct{})}
		h.jobs[jobID] = l
	}
	return l
}

// Emit appends e to the job's log and wakes its subscribers. Events after a
// terminal event are dropped.
func (h *Hub) Emit(jobID string, e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l := h.logFor(jobID)
	if l.closed {
		h.logger.WithField("job_id", jobID).Warnf("event %s after terminal event dropped", e.Type())
		return
	}
	l.events = append(l.events, e)
	if e.Terminal() {
		l.closed = true
	}
	close(l.notify)
	l.notify = make(chan struct{})
}

// Subscribe streams the job's events from the beginning. The channel closes
// after the terminal event, when ctx ends, or when the job is forgotten.
func (h *Hub) Subscribe(ctx context.Context, jobID string) <-chan Event {
	h.mu.Lock()
	l := h.logFor(jobID)
	h.mu.Unlock()

	out := make(chan Event)
	go func() {
		defer close(out)
		next := 0
		for {
			h.mu.Lock()
			batch := append([]Event(nil), l.events[next:]...)
			closed := l.closed
			wait := l.notify
			h.mu.Unlock()

			for _, e := range batch {
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
			next += len(batch)
			if closed {
				return
			}

			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Events returns a copy of the job's log so far.
func (h *Hub) Events(jobID string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.jobs[jobID]
	if !ok {
		return nil
	}
	return append([]Event(nil), l.events...)
}

// Forget drops the job's log and releases its subscribers.
func (h *Hub) Forget(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.jobs[jobID]
	if !ok {
		return
	}
	if !l.closed {
		l.closed = true
		close(l.notify)
		l.notify = make(chan struct{})
	}
	delete(h.jobs, jobID)
}

var _ Sink = (*Hub)(nil)
