package engine

import (
	"container/heap"

	"github.com/hotstuffsim/hotstuffsim/types"
)

// item is one entry in the event heap: a callback due at a simulated time,
// ordered by (at, seq) so two events scheduled for the same instant still
// run in the order they were scheduled -- the tie-break that makes the
// whole simulation bit-reproducible for a given seed.
type item struct {
	at      int64
	seq     uint64
	cb      func()
	tag     *timeoutTag
	canceled bool
}

// timeoutTag marks a scheduled item as a per-(replica, view) pacemaker
// timeout, the only kind of event ever canceled before it fires -- a
// replica that advances past a view because it committed has no more use
// for that view's timeout.
type timeoutTag struct {
	replica types.ReplicaId
	view    types.ViewNumber
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// EventQueue is the deterministic scheduler of §4.1: a priority queue keyed
// by (simulated_time, monotonic_seq), driven by a single caller thread with
// no real concurrency anywhere in the core.
type EventQueue struct {
	h   itemHeap
	seq uint64
	now int64
}

func NewEventQueue() *EventQueue {
	q := &EventQueue{h: make(itemHeap, 0)}
	heap.Init(&q.h)
	return q
}

// Now returns the simulated time of the event currently being processed, or
// of the last event processed if the queue is idle between Step calls.
func (q *EventQueue) Now() int64 { return q.now }

// Schedule arms cb to run at simulated time at. Satisfies network.Clock.
func (q *EventQueue) Schedule(at int64, cb func()) {
	q.push(at, nil, cb)
}

// ScheduleTimeout arms a pacemaker timeout for (replica, view), tagged so a
// later commit can cancel it via CancelViewTimeouts before it fires.
func (q *EventQueue) ScheduleTimeout(replica types.ReplicaId, view types.ViewNumber, at int64, cb func()) {
	q.push(at, &timeoutTag{replica: replica, view: view}, cb)
}

// CancelViewTimeouts cancels every pending timeout tagged for replica at a
// view strictly less than upTo -- called whenever a replica advances its
// view by any means other than that view's own timeout firing.
func (q *EventQueue) CancelViewTimeouts(replica types.ReplicaId, upTo types.ViewNumber) {
	for _, it := range q.h {
		if it.tag != nil && it.tag.replica == replica && it.tag.view < upTo {
			it.canceled = true
		}
	}
}

func (q *EventQueue) push(at int64, tag *timeoutTag, cb func()) {
	q.seq++
	heap.Push(&q.h, &item{at: at, seq: q.seq, cb: cb, tag: tag})
}

// Step pops and runs the next non-canceled event, advancing Now() to its
// scheduled time. It reports false once the queue is exhausted -- the
// QueueExhausted terminal condition of §7.
func (q *EventQueue) Step() bool {
	for q.h.Len() > 0 {
		it := heap.Pop(&q.h).(*item)
		if it.canceled {
			continue
		}
		q.now = it.at
		it.cb()
		return true
	}
	return false
}

// Pending reports how many live (non-canceled) events remain queued.
func (q *EventQueue) Pending() int {
	n := 0
	for _, it := range q.h {
		if !it.canceled {
			n++
		}
	}
	return n
}
