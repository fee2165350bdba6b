// Package queue holds the in-memory admission queue. Tasks are kept in
// submission order; positions are recomputed on every removal.
package queue

import (
	"errors"
	"sync"
	"time"

	"coursebot/internal/channels"
)

// ErrDuplicateID is returned when a task id is already queued.
var ErrDuplicateID = errors.New("queue: duplicate task id")

// Request is the caller-supplied payload of a task.
type Request struct {
	Prompt string
	Origin channels.Origin
	Ack    channels.Acknowledger
}

// Status is the scheduling state of a queued task.
type Status struct {
	Position   int  // zero-based rank in submission order
	Processing bool // a runner has been started for the task
}

// Task is one admitted request.
type Task struct {
	ID         string
	Request    Request
	Status     Status
	Channel    channels.Channel // nil until the runner creates it
	EnqueuedAt time.Time
	StartedAt  time.Time
}

// Queue is an insertion-ordered collection of pending and processing tasks.
// It is safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	tasks []*Task
	index map[string]int
	now   func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source used for task timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		index: make(map[string]int),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add appends a task at the end of submission order and returns a snapshot of it.
func (q *Queue) Add(id string, req Request) (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.index[id]; exists {
		return Task{}, ErrDuplicateID
	}
	if req.Ack == nil {
		req.Ack = channels.NopAck()
	}

	task := &Task{
		ID:         id,
		Request:    req,
		Status:     Status{Position: len(q.tasks)},
		EnqueuedAt: q.now(),
	}
	q.index[id] = len(q.tasks)
	q.tasks = append(q.tasks, task)
	return *task, nil
}

// Remove deletes the task and reports whether it was present. Removing an
// absent id is a no-op.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx, ok := q.index[id]
	if !ok {
		return false
	}

	copy(q.tasks[idx:], q.tasks[idx+1:])
	q.tasks[len(q.tasks)-1] = nil
	q.tasks = q.tasks[:len(q.tasks)-1]
	delete(q.index, id)

	for i := idx; i < len(q.tasks); i++ {
		q.tasks[i].Status.Position = i
		q.index[q.tasks[i].ID] = i
	}
	return true
}

// Get returns a snapshot of the task with the given id.
func (q *Queue) Get(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx, ok := q.index[id]
	if !ok {
		return Task{}, false
	}
	return *q.tasks[idx], true
}

// Len returns the number of queued tasks, processing ones included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// IsEmpty reports whether no tasks are queued.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Snapshot returns copies of all tasks in submission order.
func (q *Queue) Snapshot() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Task, len(q.tasks))
	for i, task := range q.tasks {
		out[i] = *task
	}
	return out
}

// ProcessingCount returns the number of tasks holding a slot.
func (q *Queue) ProcessingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processingLocked()
}

func (q *Queue) processingLocked() int {
	count := 0
	for _, task := range q.tasks {
		if task.Status.Processing {
			count++
		}
	}
	return count
}

// Claim marks pending tasks as processing, in submission order, until the
// number of processing tasks reaches limit. It returns snapshots of the
// newly claimed tasks.
func (q *Queue) Claim(limit int) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	available := limit - q.processingLocked()
	if available <= 0 {
		return nil
	}

	var claimed []Task
	now := q.now()
	for _, task := range q.tasks {
		if available == 0 {
			break
		}
		if task.Status.Processing {
			continue
		}
		task.Status.Processing = true
		task.StartedAt = now
		claimed = append(claimed, *task)
		available--
	}
	return claimed
}

// AssignChannel records the output channel created for a task.
func (q *Queue) AssignChannel(id string, ch channels.Channel) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx, ok := q.index[id]
	if !ok {
		return false
	}
	q.tasks[idx].Channel = ch
	return true
}
