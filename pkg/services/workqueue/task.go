package workqueue

import (
	"context"

	"github.com/google/uuid"
)

// Task is one unit of background work.
//
// Tasks are delivered at least once: a task may be retried after a
// transient failure, so Execute must be safe to run again.
type Task interface {
	// ID is unique per enqueued task.
	ID() string

	// Name groups tasks of one kind in logs and failure reports.
	Name() string

	// Key identifies the unit of work. While a task with a key is pending
	// or running, enqueueing another task with the same key is a no-op.
	// An empty key disables the check.
	Key() string

	// Exclusive tasks never run alongside another exclusive task.
	Exclusive() bool

	// Execute runs the task. Follow-up work goes through enqueuer, which
	// keeps accepting tasks while the queue drains on shutdown.
	Execute(ctx context.Context, enqueuer TaskEnqueuer) error
}

// TaskEnqueuer allows tasks to enqueue follow-up tasks.
type TaskEnqueuer interface {
	Enqueue(task Task)
}

// entry is a task waiting for, or holding, a strategy slot.
// Guarded by the owning queue's mutex except for retries, which only
// the goroutine running the task touches.
type entry struct {
	task    Task
	retries int
}

// BaseTask carries the identity fields of a task.
// Embed it and implement Execute.
type BaseTask struct {
	id        string
	name      string
	key       string
	exclusive bool
}

// NewBaseTask creates a BaseTask with a fresh ID.
func NewBaseTask(name, key string, exclusive bool) BaseTask {
	return BaseTask{
		id:        uuid.New().String(),
		name:      name,
		key:       key,
		exclusive: exclusive,
	}
}

func (t BaseTask) ID() string      { return t.id }
func (t BaseTask) Name() string    { return t.name }
func (t BaseTask) Key() string     { return t.key }
func (t BaseTask) Exclusive() bool { return t.exclusive }
