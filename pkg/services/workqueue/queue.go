package workqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/logging"
	"github.com/planwatch/planwatch-engine/pkg/retry"
)

// DefaultRetryConfig returns the retry policy for tasks that fail with a
// transient error: 2s, 4s, 8s, 16s, then 30s (capped).
func DefaultRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:   6,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Backoff:      retry.Exponential,
		JitterFactor: 0.1,
	}
}

// Stats summarises the queue since it was created.
type Stats struct {
	Pending     int      `json:"pending"`
	Running     int      `json:"running"`
	Enqueued    int64    `json:"enqueued"`
	Duplicates  int64    `json:"duplicates"`
	Completed   int64    `json:"completed"`
	Failed      int64    `json:"failed"`
	Cancelled   int64    `json:"cancelled"`
	Retries     int64    `json:"retries"`
	LastFailure *Failure `json:"last_failure,omitempty"`
}

// Failure records a task that gave up. Error is sanitized for display.
type Failure struct {
	Task    string    `json:"task"`
	Key     string    `json:"key,omitempty"`
	Error   string    `json:"error"`
	Retries int       `json:"retries"`
	At      time.Time `json:"at"`
}

// Queue runs tasks in the background. Tasks are admitted in FIFO order as
// far as the concurrency strategy allows:
// - SerializedStrategy: one exclusive task and one shared task at a time (default)
// - PooledStrategy: up to N shared tasks plus one exclusive task
//
// Finished tasks are not retained; only their counts survive in Stats.
type Queue struct {
	mu        sync.Mutex
	pending   []*entry
	running   int
	keys      map[string]struct{}
	cancelled bool
	closed    bool
	stats     Stats

	// batchErr is the first failure since the queue was last idle.
	batchErr error
	// idle is closed whenever nothing is pending or running.
	idle chan struct{}
	wg   sync.WaitGroup

	strategy    ConcurrencyStrategy
	retryConfig *retry.Config

	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithStrategy sets the concurrency strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// WithRetryConfig sets the policy for transient task errors.
func WithRetryConfig(config *retry.Config) QueueOption {
	return func(q *Queue) {
		if config != nil {
			q.retryConfig = config
		}
	}
}

// NewQueue creates a queue with the serialized strategy.
func NewQueue(logger *zap.Logger) *Queue {
	return New(logger)
}

// New creates a queue with the given options.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	q := &Queue{
		keys:        make(map[string]struct{}),
		idle:        idle,
		strategy:    NewSerializedStrategy(),
		retryConfig: DefaultRetryConfig(),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("workqueue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds a task. A task whose key matches a pending or running task
// is dropped, as is every task offered after Shutdown or Cancel.
func (q *Queue) Enqueue(task Task) {
	q.enqueue(task, false)
}

// followUps is the enqueuer handed to running tasks. Their follow-up work
// is still accepted while the queue drains.
type followUps struct{ q *Queue }

func (f followUps) Enqueue(task Task) { f.q.enqueue(task, true) }

func (q *Queue) enqueue(task Task, followUp bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled || (q.closed && !followUp) {
		q.logger.Warn("queue closed, ignoring task",
			zap.String("task_name", task.Name()),
			zap.String("key", task.Key()))
		return
	}

	if key := task.Key(); key != "" {
		if _, active := q.keys[key]; active {
			q.stats.Duplicates++
			q.logger.Debug("task already queued, skipping",
				zap.String("task_name", task.Name()),
				zap.String("key", key))
			return
		}
		q.keys[key] = struct{}{}
	}

	if q.idleLocked() {
		q.idle = make(chan struct{})
		q.batchErr = nil
	}
	q.pending = append(q.pending, &entry{task: task})
	q.stats.Enqueued++

	q.logger.Debug("task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()),
		zap.Bool("exclusive", task.Exclusive()))

	q.startLocked()
}

func (q *Queue) idleLocked() bool {
	return len(q.pending) == 0 && q.running == 0
}

// startLocked starts every pending task the strategy admits, keeping the
// rest in arrival order.
func (q *Queue) startLocked() {
	if q.cancelled {
		return
	}

	waiting := q.pending[:0]
	for _, e := range q.pending {
		exclusive := e.task.Exclusive()
		if !q.strategy.CanStart(exclusive) {
			waiting = append(waiting, e)
			continue
		}
		q.strategy.OnStart(exclusive)
		q.running++
		q.wg.Add(1)
		go q.run(e)
	}
	for i := len(waiting); i < len(q.pending); i++ {
		q.pending[i] = nil
	}
	q.pending = waiting
}

func (q *Queue) run(e *entry) {
	defer q.wg.Done()
	q.finish(e, q.execute(e))
}

// execute runs the task until it succeeds, fails permanently, is
// cancelled or exhausts the retry policy.
func (q *Queue) execute(e *entry) error {
	cfg := q.retryConfig
	for attempt := 0; ; attempt++ {
		err := e.task.Execute(q.ctx, followUps{q})
		if err == nil || errors.Is(err, context.Canceled) || !retry.IsRetryable(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			q.logger.Error("task failed after max retries",
				zap.String("task_name", e.task.Name()),
				zap.String("key", e.task.Key()),
				zap.Int("retries", e.retries),
				zap.Error(err))
			return err
		}

		e.retries++
		q.mu.Lock()
		q.stats.Retries++
		q.mu.Unlock()

		backoff := cfg.JitteredDelay(attempt + 1)
		q.logger.Warn("retrying task after transient error",
			zap.String("task_name", e.task.Name()),
			zap.String("key", e.task.Key()),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-q.ctx.Done():
			timer.Stop()
			return q.ctx.Err()
		case <-timer.C:
		}
	}
}

// finish releases the task's slot and key and records its outcome.
func (q *Queue) finish(e *entry, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.strategy.OnComplete(e.task.Exclusive())
	q.running--
	if key := e.task.Key(); key != "" {
		delete(q.keys, key)
	}

	switch {
	case err == nil:
		q.stats.Completed++
		q.logger.Debug("task completed",
			zap.String("task_id", e.task.ID()),
			zap.String("task_name", e.task.Name()),
			zap.Int("retries", e.retries))
	case errors.Is(err, context.Canceled):
		q.stats.Cancelled++
		q.logger.Info("task cancelled", zap.String("task_name", e.task.Name()))
	default:
		q.stats.Failed++
		q.stats.LastFailure = &Failure{
			Task:    e.task.Name(),
			Key:     e.task.Key(),
			Error:   logging.SanitizeError(err),
			Retries: e.retries,
			At:      time.Now().UTC(),
		}
		if q.batchErr == nil {
			q.batchErr = err
		}
		q.logger.Error("task failed",
			zap.String("task_id", e.task.ID()),
			zap.String("task_name", e.task.Name()),
			zap.String("key", e.task.Key()),
			zap.Error(err))
	}

	q.startLocked()
	q.signalIdleLocked()
}

func (q *Queue) signalIdleLocked() {
	if !q.idleLocked() {
		return
	}
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
}

// Wait blocks until the queue is idle and returns the first task failure
// since it was last idle. If ctx ends first, the queue is cancelled and
// ctx.Err() is returned.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.batchErr
	case <-ctx.Done():
		q.Cancel()
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks and lets queued work drain, including
// follow-ups enqueued by running tasks. If ctx ends first, running tasks
// are cancelled and ctx.Err() is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	idle := q.idle
	q.mu.Unlock()

	// Once closed, the queue can only become busy again through a running
	// task, so the current idle channel is the last one.
	drained := make(chan struct{})
	go func() {
		<-idle
		q.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		q.Cancel()
		return nil
	case <-ctx.Done():
		q.Cancel()
		<-drained
		return ctx.Err()
	}
}

// Cancel drops pending tasks, signals running tasks to stop and stops
// accepting new tasks.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		return
	}
	q.cancelled = true
	q.cancel()

	for _, e := range q.pending {
		q.stats.Cancelled++
		if key := e.task.Key(); key != "" {
			delete(q.keys, key)
		}
	}
	q.logger.Info("queue cancelled",
		zap.Int("dropped", len(q.pending)),
		zap.Int("running", q.running))
	q.pending = nil

	q.signalIdleLocked()
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.stats
	s.Pending = len(q.pending)
	s.Running = q.running
	return s
}
