// Package session provides a one-shot completion record for a controller's
// initial full-state read.
//
// A Session resolves exactly once, as a success or with an error. Waiters
// registered before or after resolution are all notified by that single
// event: Await delivers through callbacks on the owner's scheduler, Wait
// blocks a goroutine until resolution or context cancellation.
package session

import (
	"context"
	"sync"
)

// Handlers receive a session's outcome. OnSuccess and OnError are
// exclusive; OnComplete always runs after whichever fired. Any may be nil.
type Handlers struct {
	OnSuccess  func()
	OnError    func(error)
	OnComplete func()
}

// Session tracks whether initial data has arrived.
//
// Thread-safety: Session is safe for concurrent use.
type Session struct {
	mu       sync.Mutex
	resolved bool
	err      error
	waiters  []Handlers
	done     chan struct{}
	schedule func(func())
}

// New creates an unresolved session. schedule queues handler delivery on
// the owner's event loop; nil runs handlers inline.
func New(schedule func(func())) *Session {
	if schedule == nil {
		schedule = func(fn func()) { fn() }
	}
	return &Session{
		done:     make(chan struct{}),
		schedule: schedule,
	}
}

// Resolve settles the session with err (nil for success). Returns false,
// changing nothing, if the session was already resolved.
func (s *Session) Resolve(err error) bool {
	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		return false
	}
	s.resolved = true
	s.err = err
	waiters := s.waiters
	s.waiters = nil
	close(s.done)
	s.mu.Unlock()

	for _, h := range waiters {
		s.deliver(h, err)
	}
	return true
}

// Resolved reports whether the session has settled.
func (s *Session) Resolved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolved
}

// Succeeded reports whether the session settled without error.
func (s *Session) Succeeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolved && s.err == nil
}

// Err returns the resolution error, nil while unresolved or on success.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the session resolves.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session resolves or ctx is done, returning the
// resolution error or ctx.Err().
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Await registers h. If the session has already resolved, h is scheduled
// right away; otherwise it is scheduled at resolution.
func (s *Session) Await(h Handlers) {
	s.mu.Lock()
	if !s.resolved {
		s.waiters = append(s.waiters, h)
		s.mu.Unlock()
		return
	}
	err := s.err
	s.mu.Unlock()
	s.deliver(h, err)
}

func (s *Session) deliver(h Handlers, err error) {
	s.schedule(func() {
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
		} else if h.OnSuccess != nil {
			h.OnSuccess()
		}
		if h.OnComplete != nil {
			h.OnComplete()
		}
	})
}
