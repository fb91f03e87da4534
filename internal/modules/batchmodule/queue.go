package batchmodule

import "sync"

// taskQueue is a FIFO queue of analysis tasks. New tasks and retried tasks
// both append at the tail, so retries never starve fresh work.
type taskQueue struct {
	mu    sync.Mutex
	tasks []*AnalysisTask
}

func newTaskQueue() *taskQueue {
	return &taskQueue{}
}

// Push appends a task at the tail.
func (q *taskQueue) Push(t *AnalysisTask) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
}

// PopN removes and returns up to n tasks from the head.
func (q *taskQueue) PopN(n int) []*AnalysisTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.tasks) {
		n = len(q.tasks)
	}
	if n == 0 {
		return nil
	}
	batch := make([]*AnalysisTask, n)
	copy(batch, q.tasks[:n])
	q.tasks = q.tasks[n:]
	return batch
}

// Len returns the number of queued tasks.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
