package delivery

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// DefaultQueueCapacity bounds how many tasks may wait for dispatch.
const DefaultQueueCapacity = 1024

var (
	// ErrQueueFull is returned to producers when the queue is at capacity.
	// Tasks already inside the pipeline are never subject to it.
	ErrQueueFull = errors.New("delivery queue is full")
	// ErrQueueClosed is returned once the queue has been shut down.
	ErrQueueClosed = errors.New("delivery queue is closed")
)

// item is a queued task plus its admission sequence number. The sequence
// breaks priority ties so equal-priority tasks leave in arrival order, and it
// survives retries: a task deferred and promoted again keeps its place among
// its peers.
type item struct {
	task  *Task
	seq   uint64
	index int
}

type readyHeap []*item

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *readyHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// delayedHeap orders waiting retries by eligibility time.
type delayedHeap []*item

func (h delayedHeap) Len() int { return len(h) }

func (h delayedHeap) Less(i, j int) bool {
	return h[i].task.NextAttemptAt.Before(h[j].task.NextAttemptAt)
}

func (h delayedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue hands tasks to workers highest priority first, FIFO within a
// priority. Deferred tasks sit in a side heap until their eligibility time
// and are then promoted back into the ready set; a dedicated promoter
// goroutine sleeps until the earliest eligibility instead of polling.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	ready   readyHeap
	delayed delayedHeap

	capacity int
	nextSeq  uint64
	closed   bool

	nudge chan struct{}
	done  chan struct{}
}

// NewQueue builds a queue bounded at capacity tasks (ready plus delayed) and
// starts its promoter. Non-positive capacity uses the default.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	q := &Queue{
		capacity: capacity,
		nudge:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.promote()
	return q
}

// Enqueue admits a new task. It fails fast with ErrQueueFull at capacity so
// producers get backpressure instead of unbounded memory growth.
func (q *Queue) Enqueue(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if len(q.ready)+len(q.delayed) >= q.capacity {
		return ErrQueueFull
	}

	q.nextSeq++
	t.seq = q.nextSeq
	heap.Push(&q.ready, &item{task: t, seq: t.seq})
	q.cond.Signal()
	return nil
}

// Defer parks an in-flight task until at. Re-admissions bypass the capacity
// check: a retrying task already holds its queue slot and rejecting it would
// lose the thought. The task keeps its original admission sequence, so when
// the backoff elapses it rejoins its priority tier in enqueue order.
func (q *Queue) Defer(t *Task, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	t.NextAttemptAt = at
	if t.seq == 0 {
		q.nextSeq++
		t.seq = q.nextSeq
	}
	heap.Push(&q.delayed, &item{task: t, seq: t.seq})

	// Wake the promoter in case this is now the earliest eligibility.
	select {
	case q.nudge <- struct{}{}:
	default:
	}
	return nil
}

// Pop blocks until a task is ready or the queue closes. The boolean is false
// only on shutdown.
func (q *Queue) Pop() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.ready) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	it := heap.Pop(&q.ready).(*item)
	return it.task, true
}

// Close stops admissions and unblocks every waiting Pop. Tasks still queued
// are abandoned; callers may Drain them first for accounting.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
	q.cond.Broadcast()
}

// Drain removes and returns everything still queued, ready and delayed alike.
// Used at shutdown to report what was abandoned.
func (q *Queue) Drain() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Task, 0, len(q.ready)+len(q.delayed))
	for _, it := range q.ready {
		out = append(out, it.task)
	}
	for _, it := range q.delayed {
		out = append(out, it.task)
	}
	q.ready = nil
	q.delayed = nil
	return out
}

// Depth reports how many tasks are ready and how many are waiting on a retry
// timer.
func (q *Queue) Depth() (ready, delayed int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), len(q.delayed)
}

// promote moves delayed tasks into the ready heap as they become eligible.
// It sleeps until the earliest eligibility and is nudged awake whenever Defer
// may have changed that.
func (q *Queue) promote() {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		q.mu.Lock()
		now := time.Now()
		wait := time.Duration(-1)
		promoted := 0
		for len(q.delayed) > 0 {
			next := q.delayed[0]
			if next.task.NextAttemptAt.After(now) {
				wait = next.task.NextAttemptAt.Sub(now)
				break
			}
			heap.Pop(&q.delayed)
			next.task.NextAttemptAt = time.Time{}
			heap.Push(&q.ready, next)
			promoted++
		}
		for i := 0; i < promoted; i++ {
			q.cond.Signal()
		}
		q.mu.Unlock()

		if wait < 0 {
			select {
			case <-q.nudge:
			case <-q.done:
				return
			}
			continue
		}

		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-q.nudge:
			if !timer.Stop() {
				<-timer.C
			}
		case <-q.done:
			return
		}
	}
}
