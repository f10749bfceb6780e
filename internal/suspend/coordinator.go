// Package suspend broadcasts system suspend/resume transitions to every fan
// controller. Each subscriber tracks its own position in the transition
// log, so one controller consuming an event never hides it from another.
package suspend

import (
	"context"
	"sync"
)

// Coordinator is a single-writer, many-reader broadcast of suspend state.
type Coordinator struct {
	mu        sync.Mutex
	suspended bool
	// events holds transitions not yet seen by every subscriber; events[i]
	// has sequence number base+i.
	events  []bool
	base    uint64
	subs    map[*Subscription]struct{}
	changed chan struct{}
}

// NewCoordinator returns a Coordinator in the resumed state.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		subs:    make(map[*Subscription]struct{}),
		changed: make(chan struct{}),
	}
}

// Publish records a transition. Repeating the current state is a no-op.
func (c *Coordinator) Publish(suspended bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if suspended == c.suspended {
		return
	}
	c.suspended = suspended
	c.events = append(c.events, suspended)
	c.trimLocked()

	close(c.changed)
	c.changed = make(chan struct{})
}

// Suspended reports the last published state.
func (c *Coordinator) Suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended
}

// Subscribe returns a subscription that observes transitions published
// from now on.
func (c *Coordinator) Subscribe() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &Subscription{
		coordinator: c,
		position:    c.nextLocked(),
	}
	c.subs[sub] = struct{}{}
	return sub
}

func (c *Coordinator) nextLocked() uint64 {
	return c.base + uint64(len(c.events))
}

// trimLocked drops transitions every subscriber has already consumed.
func (c *Coordinator) trimLocked() {
	lowest := c.nextLocked()
	for sub := range c.subs {
		if sub.position < lowest {
			lowest = sub.position
		}
	}
	drop := lowest - c.base
	if drop == 0 {
		return
	}
	c.events = append([]bool(nil), c.events[drop:]...)
	c.base = lowest
}

// Subscription is one reader of a Coordinator.
type Subscription struct {
	coordinator *Coordinator
	position    uint64
	sawSuspend  bool
	closed      bool
}

// Changed returns a channel closed on the next published transition.
// Fetch it before calling Consume so no transition is missed.
func (s *Subscription) Changed() <-chan struct{} {
	s.coordinator.mu.Lock()
	defer s.coordinator.mu.Unlock()
	return s.coordinator.changed
}

// Consume advances the subscription over every unseen transition and
// reports whether a complete suspend→resume cycle was observed. A resume
// without a preceding suspend does not count.
func (s *Subscription) Consume() bool {
	c := s.coordinator
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.closed {
		return false
	}

	resumed := false
	next := c.nextLocked()
	for seq := s.position; seq < next; seq++ {
		if c.events[seq-c.base] {
			s.sawSuspend = true
		} else if s.sawSuspend {
			s.sawSuspend = false
			resumed = true
		}
	}
	s.position = next
	c.trimLocked()

	return resumed
}

// Suspended reports whether the subscription has consumed a suspend that
// has not been followed by a resume yet.
func (s *Subscription) Suspended() bool {
	s.coordinator.mu.Lock()
	defer s.coordinator.mu.Unlock()
	return s.sawSuspend
}

// Wait blocks until a full suspend→resume cycle has been observed.
func (s *Subscription) Wait(ctx context.Context) error {
	for {
		changed := s.Changed()
		if s.Consume() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Close detaches the subscription so it no longer pins old transitions.
func (s *Subscription) Close() {
	c := s.coordinator
	c.mu.Lock()
	defer c.mu.Unlock()

	s.closed = true
	delete(c.subs, s)
	c.trimLocked()
}
