package engine

import "sync"

// jobQueue is a FIFO with same-pair replacement: enqueueing a pair already
// queued replaces the earlier entry in place rather than appending a
// second one, per spec §4.H's dispatch rules.
type jobQueue struct {
	mu     sync.Mutex
	order  []string
	jobs   map[string]Job
	notify chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make(map[string]Job),
		notify: make(chan struct{}, 1),
	}
}

// Enqueue adds job, replacing any existing queued job for the same pair
// in place (same position in the FIFO order).
func (q *jobQueue) Enqueue(job Job) {
	q.mu.Lock()
	if _, exists := q.jobs[job.Pair]; !exists {
		q.order = append(q.order, job.Pair)
	}
	q.jobs[job.Pair] = job
	q.mu.Unlock()
	q.wake()
}

// ClearAndEnqueueAll implements the "global recalc" trigger: drops every
// queued job and enqueues one job per pair, optionally placing
// priorityPair at the head.
func (q *jobQueue) ClearAndEnqueueAll(jobs []Job, priorityPair string) {
	q.mu.Lock()
	q.order = q.order[:0]
	for k := range q.jobs {
		delete(q.jobs, k)
	}
	if priorityPair != "" {
		for _, j := range jobs {
			if j.Pair == priorityPair {
				q.order = append(q.order, j.Pair)
				q.jobs[j.Pair] = j
				break
			}
		}
	}
	for _, j := range jobs {
		if j.Pair == priorityPair {
			continue
		}
		q.order = append(q.order, j.Pair)
		q.jobs[j.Pair] = j
	}
	q.mu.Unlock()
	q.wake()
}

// Len reports the current number of queued jobs.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

func (q *jobQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue pops the front job, reporting false if the queue is empty.
func (q *jobQueue) Dequeue() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return Job{}, false
	}
	pair := q.order[0]
	q.order = q.order[1:]
	job := q.jobs[pair]
	delete(q.jobs, pair)
	return job, true
}

// DequeueBlocking pops the front job, blocking until one is available or
// done is closed.
func (q *jobQueue) DequeueBlocking(done <-chan struct{}) (Job, bool) {
	for {
		if job, ok := q.Dequeue(); ok {
			return job, true
		}
		select {
		case <-q.notify:
		case <-done:
			return Job{}, false
		}
	}
}
