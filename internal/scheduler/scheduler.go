// Package scheduler debounces buffer-change events into renders.
//
// A scheduler is Idle until the first change, then Pending until the
// quiescence timer expires. Every further change while Pending restarts the
// timer, so a burst of edits produces exactly one render that observes the
// state at expiry.
package scheduler

import (
	"sync"
	"time"
)

// DefaultDelay is the quiescence interval used when none is configured.
const DefaultDelay = 500 * time.Millisecond

// State is the scheduler state.
type State int

const (
	StateIdle State = iota
	StatePending
)

// String returns the string representation of the State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	default:
		return "unknown"
	}
}

// RenderFunc is invoked once per quiescent interval.
type RenderFunc func()

// Scheduler groups rapid change events together
type Scheduler struct {
	delay  time.Duration
	clock  Clock
	render RenderFunc

	mutex   sync.Mutex
	timer   Timer
	seq     uint64
	state   State
	stopped bool
	renders uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// New creates a scheduler calling render after delay of quiet.
func New(delay time.Duration, render RenderFunc, opts ...Option) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	s := &Scheduler{
		delay:  delay,
		clock:  RealClock{},
		render: render,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Changed records a buffer change, moving to Pending and (re)starting the
// quiescence timer.
func (s *Scheduler) Changed() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.stopped {
		return
	}

	if s.timer != nil {
		s.timer.Stop()
	}

	s.seq++
	seq := s.seq
	s.state = StatePending
	s.timer = s.clock.AfterFunc(s.delay, func() {
		s.fire(seq)
	})
}

// fire renders if seq is still the latest change. A timer that was
// superseded after it had already started running finds a newer seq and
// does nothing.
func (s *Scheduler) fire(seq uint64) {
	s.mutex.Lock()
	if s.stopped || seq != s.seq || s.state != StatePending {
		s.mutex.Unlock()
		return
	}
	s.state = StateIdle
	s.timer = nil
	s.renders++
	s.mutex.Unlock()

	if s.render != nil {
		s.render()
	}
}

// Flush renders immediately if a render is pending.
func (s *Scheduler) Flush() bool {
	s.mutex.Lock()
	if s.stopped || s.state != StatePending {
		s.mutex.Unlock()
		return false
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	seq := s.seq
	s.mutex.Unlock()

	s.fire(seq)
	return true
}

// Stop cancels any pending render; later changes are ignored.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.stopped = true
	s.state = StateIdle
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

// Renders returns how many renders have fired.
func (s *Scheduler) Renders() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.renders
}

// Delay returns the quiescence interval.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}
