package node

import (
	"github.com/loom-services/loom/lib"

	"github.com/loom-services/loom/term"
)

// mailbox is the per-process message queue. Any process may enqueue
// concurrently; only the owning process matches and dequeues. Messages
// scanned by a selective receive that matched nothing are parked in the
// owner-side saved list and stay ahead of the queue, preserving FIFO
// order across receives.
type mailbox struct {
	queue  lib.QueueMPSC
	saved  []term.Term
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		queue:  lib.NewQueueMPSC(),
		notify: make(chan struct{}, 1),
	}
}

// enqueue appends a message and wakes the owner if it is suspended in a
// receive. Safe for concurrent senders.
func (mb *mailbox) enqueue(message term.Term) {
	mb.queue.Push(message)
	select {
	case mb.notify <- struct{}{}:
	default:
	}
}

// match removes and returns the first message (in arrival order) matching
// any of the patterns. Owner-only.
func (mb *mailbox) match(patterns []Pattern) (term.Term, bool) {
	for i := range mb.saved {
		if matchAny(patterns, mb.saved[i]) {
			m := mb.saved[i]
			mb.saved = append(mb.saved[:i], mb.saved[i+1:]...)
			return m, true
		}
	}
	for {
		v, ok := mb.queue.Pop()
		if !ok {
			return nil, false
		}
		if matchAny(patterns, v) {
			return v, true
		}
		mb.saved = append(mb.saved, v)
	}
}

// len reports the number of pending messages. Owner-only.
func (mb *mailbox) len() int {
	return len(mb.saved) + int(mb.queue.Len())
}

func matchAny(patterns []Pattern, m term.Term) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if p(m) {
			return true
		}
	}
	return false
}
