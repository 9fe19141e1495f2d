package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch-engine/pkg/models"
	"github.com/planwatch/planwatch-engine/pkg/repositories"
	"github.com/planwatch/planwatch-engine/pkg/services/workqueue"
)

// PipelineDeps is what the pipeline tasks need to run and to build
// their follow-up tasks.
type PipelineDeps struct {
	Scope      ScopeFunc
	Processor  MinuteProcessor
	Deliveries DeliveryService
	Minutes    repositories.MinuteRepository
	Logger     *zap.Logger
}

// ProcessMinuteTask stores one scraped minute, then queues its indexing.
// Minute tasks share the worker pool.
type ProcessMinuteTask struct {
	workqueue.BaseTask
	deps    *PipelineDeps
	meeting *models.MeetingRecord
	minute  *models.MinuteRecord
}

// NewProcessMinuteTask creates a task processing minute of meeting.
func NewProcessMinuteTask(deps *PipelineDeps, meeting *models.MeetingRecord, minute *models.MinuteRecord) *ProcessMinuteTask {
	key := fmt.Sprintf("process:%s#%s", meeting.URL, minute.CaseSerial)
	return &ProcessMinuteTask{
		BaseTask: workqueue.NewBaseTask(fmt.Sprintf("Process minute %s %s", minute.Serial, minute.CaseSerial), key, false),
		deps:     deps,
		meeting:  meeting,
		minute:   minute,
	}
}

// Execute implements workqueue.Task.
func (t *ProcessMinuteTask) Execute(ctx context.Context, enqueuer workqueue.TaskEnqueuer) error {
	scopedCtx, cleanup, err := t.deps.Scope(ctx)
	if err != nil {
		return fmt.Errorf("acquire database connection: %w", err)
	}
	defer cleanup()

	minute, err := t.deps.Processor.Process(scopedCtx, t.meeting, t.minute)
	if err != nil {
		return fmt.Errorf("process minute %s: %w", t.minute.CaseSerial, err)
	}

	enqueuer.Enqueue(NewIndexMinuteTask(t.deps, minute.ID))
	return nil
}

// IndexMinuteTask derives a minute's search lemmas, then queues delivery
// creation so saved searches see the new lemmas.
type IndexMinuteTask struct {
	workqueue.BaseTask
	deps     *PipelineDeps
	minuteID int64
}

// NewIndexMinuteTask creates a task indexing minuteID.
func NewIndexMinuteTask(deps *PipelineDeps, minuteID int64) *IndexMinuteTask {
	return &IndexMinuteTask{
		BaseTask: workqueue.NewBaseTask(fmt.Sprintf("Index minute %d", minuteID), fmt.Sprintf("index:%d", minuteID), false),
		deps:     deps,
		minuteID: minuteID,
	}
}

// Execute implements workqueue.Task.
func (t *IndexMinuteTask) Execute(ctx context.Context, enqueuer workqueue.TaskEnqueuer) error {
	scopedCtx, cleanup, err := t.deps.Scope(ctx)
	if err != nil {
		return fmt.Errorf("acquire database connection: %w", err)
	}
	defer cleanup()

	if err := t.deps.Processor.Index(scopedCtx, t.minuteID); err != nil {
		return fmt.Errorf("index minute %d: %w", t.minuteID, err)
	}

	enqueuer.Enqueue(NewCreateDeliveriesTask(t.deps, t.minuteID))
	return nil
}

// CreateDeliveriesTask records deliveries for every subscription a minute matches.
type CreateDeliveriesTask struct {
	workqueue.BaseTask
	deps     *PipelineDeps
	minuteID int64
}

// NewCreateDeliveriesTask creates a task matching minuteID.
func NewCreateDeliveriesTask(deps *PipelineDeps, minuteID int64) *CreateDeliveriesTask {
	return &CreateDeliveriesTask{
		BaseTask: workqueue.NewBaseTask(fmt.Sprintf("Create deliveries for minute %d", minuteID), fmt.Sprintf("deliveries:%d", minuteID), false),
		deps:     deps,
		minuteID: minuteID,
	}
}

// Execute implements workqueue.Task.
func (t *CreateDeliveriesTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	scopedCtx, cleanup, err := t.deps.Scope(ctx)
	if err != nil {
		return fmt.Errorf("acquire database connection: %w", err)
	}
	defer cleanup()

	if _, err := t.deps.Deliveries.CreateDeliveries(scopedCtx, t.minuteID); err != nil {
		return fmt.Errorf("create deliveries for minute %d: %w", t.minuteID, err)
	}
	return nil
}

// SendBatchTask runs one immediate or weekly sending pass. Sending tasks
// are exclusive so two passes never race for the same deliveries.
type SendBatchTask struct {
	workqueue.BaseTask
	deps   *PipelineDeps
	weekly bool
}

// NewSendBatchTask creates a sending pass.
func NewSendBatchTask(deps *PipelineDeps, weekly bool) *SendBatchTask {
	name, key := "Send immediate notifications", "send:immediate"
	if weekly {
		name, key = "Send weekly digests", "send:weekly"
	}
	return &SendBatchTask{
		BaseTask: workqueue.NewBaseTask(name, key, true),
		deps:     deps,
		weekly:   weekly,
	}
}

// Execute implements workqueue.Task. Failed batches are reported by the
// delivery service and retried by the next pass, not by the queue.
func (t *SendBatchTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	scopedCtx, cleanup, err := t.deps.Scope(ctx)
	if err != nil {
		return fmt.Errorf("acquire database connection: %w", err)
	}
	defer cleanup()

	send := t.deps.Deliveries.SendImmediate
	if t.weekly {
		send = t.deps.Deliveries.SendWeekly
	}
	report, err := send(scopedCtx)
	if err != nil {
		return fmt.Errorf("%s: %w", t.Name(), err)
	}
	if len(report.Failed) > 0 {
		t.deps.Logger.Warn("Some notifications were not sent",
			zap.Bool("weekly", t.weekly),
			zap.Int("failed_batches", len(report.Failed)))
	}
	return nil
}

// sweepLimit bounds how many minutes one sweep re-queues per stage.
const sweepLimit = 500

// SweepTask re-queues pipeline work that a restart dropped from the
// in-memory queue. Minutes with text but no lemmas are indexed again,
// which also recreates their deliveries. Minutes processed within the
// window get their deliveries recreated; delivery creation is idempotent.
type SweepTask struct {
	workqueue.BaseTask
	deps   *PipelineDeps
	window time.Duration
	now    func() time.Time
}

// NewSweepTask creates a sweep covering minutes processed within window.
func NewSweepTask(deps *PipelineDeps, window time.Duration) *SweepTask {
	return &SweepTask{
		BaseTask: workqueue.NewBaseTask("Sweep pipeline", "sweep", false),
		deps:     deps,
		window:   window,
		now:      time.Now,
	}
}

// Execute implements workqueue.Task.
func (t *SweepTask) Execute(ctx context.Context, enqueuer workqueue.TaskEnqueuer) error {
	scopedCtx, cleanup, err := t.deps.Scope(ctx)
	if err != nil {
		return fmt.Errorf("acquire database connection: %w", err)
	}
	defer cleanup()

	unindexed, err := t.deps.Minutes.ListUnindexed(scopedCtx, sweepLimit)
	if err != nil {
		return err
	}
	recent, err := t.deps.Minutes.ListProcessedSince(scopedCtx, t.now().Add(-t.window), sweepLimit)
	if err != nil {
		return err
	}

	indexing := make(map[int64]bool, len(unindexed))
	for _, id := range unindexed {
		indexing[id] = true
		enqueuer.Enqueue(NewIndexMinuteTask(t.deps, id))
	}
	matched := 0
	for _, id := range recent {
		if indexing[id] {
			continue
		}
		enqueuer.Enqueue(NewCreateDeliveriesTask(t.deps, id))
		matched++
	}

	if len(unindexed) > 0 || matched > 0 {
		t.deps.Logger.Info("Pipeline sweep queued work",
			zap.Int("index", len(unindexed)),
			zap.Int("deliveries", matched))
	}
	return nil
}
