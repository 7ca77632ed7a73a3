package engine

import (
	"sync"

	"github.com/roach88/vigil/internal/domain"
	"github.com/roach88/vigil/internal/transport"
)

// deliveryJob is one unit of dispatcher work: a single attempt for a single
// recipient.
type deliveryJob struct {
	recipient *domain.Recipient
	payload   transport.Payload
}

// deliveryQueue is a thread-safe FIFO queue feeding the dispatcher's
// worker pool.
//
// Recipients are independent units of work with no cross-recipient
// ordering requirement, so workers may drain the queue in any interleaving.
type deliveryQueue struct {
	mu     sync.Mutex
	jobs   []deliveryJob
	closed bool
	signal chan struct{} // closed on Close; wakes all blocked workers
}

func newDeliveryQueue() *deliveryQueue {
	return &deliveryQueue{
		jobs:   make([]deliveryJob, 0, 64),
		signal: make(chan struct{}),
	}
}

// Enqueue adds a job to the back of the queue.
// Returns false if the queue is closed.
func (q *deliveryQueue) Enqueue(j deliveryJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)
	return true
}

// Dequeue removes and returns the front job.
// Returns (deliveryJob{}, false) once the queue is closed and empty.
//
// The engine closes the queue after enqueuing a tick's work, so workers
// never block here in practice; the signal wait only matters if a worker
// starts before the producer finishes.
func (q *deliveryQueue) Dequeue() (deliveryJob, bool) {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			j := q.jobs[0]
			// Nil out the slot so the backing array doesn't retain the
			// job's pointers until reallocation.
			q.jobs[0] = deliveryJob{}
			q.jobs = q.jobs[1:]
			if len(q.jobs) == 0 {
				q.jobs = make([]deliveryJob, 0, 64)
			}
			q.mu.Unlock()
			return j, true
		}
		if q.closed {
			q.mu.Unlock()
			return deliveryJob{}, false
		}
		q.mu.Unlock()

		<-q.signal
	}
}

// Close marks the queue complete. Workers drain remaining jobs and then
// see (zero, false).
func (q *deliveryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Len returns the number of pending jobs.
func (q *deliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
