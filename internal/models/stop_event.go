package models

import "sync"

// StopEvent is a one-shot cooperative cancellation signal shared between the
// manager, the job, and the running pipeline. The pipeline is expected to
// poll it at sentence boundaries; there is no forced kill.
type StopEvent struct {
	once sync.Once
	ch   chan struct{}
}

// NewStopEvent creates an unsignalled stop event.
func NewStopEvent() *StopEvent {
	return &StopEvent{ch: make(chan struct{})}
}

// Signal fires the event. Safe to call from any goroutine, any number of
// times.
func (s *StopEvent) Signal() {
	s.once.Do(func() { close(s.ch) })
}

// IsSignaled reports whether the event has fired.
func (s *StopEvent) IsSignaled() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the event fires, for select loops.
func (s *StopEvent) Done() <-chan struct{} {
	return s.ch
}
