// Lock-free implementation of MPSC queue (Multiple Producers Single Consumer).
// Every process mailbox is backed by one of these: any process may push into
// it concurrently, only the owning process pops.

package lib

import (
	"sync/atomic"
	"unsafe"
)

// QueueMPSC is a FIFO queue with concurrency-safe Push and single-consumer Pop.
type QueueMPSC interface {
	Push(value any)
	Pop() (any, bool)
	// Len returns the number of items in the queue
	Len() int64
}

type queueMPSC struct {
	head   *itemMPSC
	tail   *itemMPSC
	length int64
}

type itemMPSC struct {
	value any
	next  *itemMPSC
}

// NewQueueMPSC creates an unbounded MPSC queue.
func NewQueueMPSC() QueueMPSC {
	emptyItem := &itemMPSC{}
	return &queueMPSC{
		head: emptyItem,
		tail: emptyItem,
	}
}

func (q *queueMPSC) Push(value any) {
	i := &itemMPSC{
		value: value,
	}
	atomic.AddInt64(&q.length, 1)
	oldHead := (*itemMPSC)(atomic.SwapPointer((*unsafe.Pointer)(unsafe.Pointer(&q.head)), unsafe.Pointer(i)))
	atomic.StorePointer((*unsafe.Pointer)(unsafe.Pointer(&oldHead.next)), unsafe.Pointer(i))
}

func (q *queueMPSC) Pop() (any, bool) {
	tailNext := (*itemMPSC)(atomic.LoadPointer((*unsafe.Pointer)(unsafe.Pointer(&q.tail.next))))
	if tailNext == nil {
		return nil, false
	}

	value := tailNext.value
	tailNext.value = nil // let the GC free this item

	atomic.StorePointer((*unsafe.Pointer)(unsafe.Pointer(&q.tail)), unsafe.Pointer(tailNext))
	atomic.AddInt64(&q.length, -1)
	return value, true
}

func (q *queueMPSC) Len() int64 {
	return atomic.LoadInt64(&q.length)
}
