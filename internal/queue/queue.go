// Package queue holds the in-memory work queue the orchestrator drains
// product URLs from. One queue belongs to one site run.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
)

// Task is one product page to scrape.
type Task struct {
	ID        string
	Site      string
	URL       string
	Priority  int
	Retries   int
	CreatedAt time.Time
}

type Queue interface {
	Push(task *Task) error
	Pop(ctx context.Context) (*Task, error)
	Size() int
	Close() error
}

type InMemoryQueue struct {
	tasks  []*Task
	mu     sync.Mutex
	wake   chan struct{}
	closed bool
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		tasks: make([]*Task, 0),
		wake:  make(chan struct{}),
	}
}

func (q *InMemoryQueue) Push(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.tasks = append(q.tasks, task)
	q.sortByPriority()
	q.wakeWaiters()

	return nil
}

// Pop blocks until a task is available, the queue is closed and drained,
// or ctx is cancelled.
func (q *InMemoryQueue) Pop(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			task := q.tasks[0]
			q.tasks = q.tasks[1:]
			q.mu.Unlock()
			return task, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

// wakeWaiters releases every blocked Pop. Callers hold q.mu.
func (q *InMemoryQueue) wakeWaiters() {
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close marks the queue drained. Pending tasks can still be popped; Pop
// returns ErrQueueClosed once they are gone.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		q.wakeWaiters()
	}

	return nil
}

func (q *InMemoryQueue) sortByPriority() {
	for i := 0; i < len(q.tasks)-1; i++ {
		for j := 0; j < len(q.tasks)-i-1; j++ {
			if q.tasks[j].Priority < q.tasks[j+1].Priority {
				q.tasks[j], q.tasks[j+1] = q.tasks[j+1], q.tasks[j]
			}
		}
	}
}

// BatchQueue wraps a Queue with bulk push/pop for loading a whole URL
// listing at once.
type BatchQueue struct {
	queue     Queue
	batchSize int
}

func NewBatchQueue(q Queue, batchSize int) *BatchQueue {
	return &BatchQueue{
		queue:     q,
		batchSize: batchSize,
	}
}

func (b *BatchQueue) PushBatch(tasks []*Task) error {
	for _, task := range tasks {
		if err := b.queue.Push(task); err != nil {
			return err
		}
	}
	return nil
}

func (b *BatchQueue) PopBatch(ctx context.Context) ([]*Task, error) {
	var tasks []*Task

	for i := 0; i < b.batchSize; i++ {
		task, err := b.queue.Pop(ctx)
		if err != nil {
			if err == ErrQueueEmpty || err == ErrQueueClosed {
				break
			}
			return tasks, err
		}
		tasks = append(tasks, task)
	}

	if len(tasks) == 0 {
		return nil, ErrQueueEmpty
	}

	return tasks, nil
}
