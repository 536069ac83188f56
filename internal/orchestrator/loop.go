package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/parley/internal/types"
)

// Handler processes one claimed task. Handlers own their terminal
// bookkeeping; a returned error means the task may still be non-terminal
// and the loop records the failure itself.
type Handler func(ctx context.Context, task *types.Task) error

type registration struct {
	handler Handler
	slots   *semaphore.Weighted
}

// Orchestrator polls the task store and dispatches claimed tasks to
// registered handlers. Concurrency is bounded twice: per class, so one
// slow class cannot monopolize the pool, and globally across all classes.
type Orchestrator struct {
	tasks    types.TaskStore
	interval time.Duration
	workers  *semaphore.Weighted

	classes map[string]*registration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(tasks types.TaskStore, interval time.Duration, maxWorkers int64) *Orchestrator {
	if interval <= 0 {
		interval = time.Second
	}
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Orchestrator{
		tasks:    tasks,
		interval: interval,
		workers:  semaphore.NewWeighted(maxWorkers),
		classes:  make(map[string]*registration),
	}
}

// Register binds a handler to a task class with its own capacity. Must be
// called before Start.
func (o *Orchestrator) Register(class string, capacity int64, h Handler) {
	if capacity <= 0 {
		capacity = 1
	}
	o.classes[class] = &registration{
		handler: h,
		slots:   semaphore.NewWeighted(capacity),
	}
}

// Start resets dangling work left over from a previous run, then begins
// polling. The reset runs exactly once, before the first claim.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.ctx, o.cancel = context.WithCancel(ctx)

	reset, err := o.tasks.ResetDangling(o.ctx)
	if err != nil {
		return fmt.Errorf("reset dangling work: %w", err)
	}
	if reset.Tasks > 0 || reset.Steps > 0 || reset.Sessions > 0 {
		slog.Info("reset dangling work from previous run",
			"tasks", reset.Tasks, "steps", reset.Steps, "sessions", reset.Sessions)
	}

	o.wg.Add(1)
	go o.loop()
	slog.Info("orchestrator started", "interval", o.interval, "classes", len(o.classes))
	return nil
}

// Stop ends polling and waits for in-flight workers to finish. Workers are
// not cancelled; they run to completion on a detached context.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	slog.Info("orchestrator stopped")
}

func (o *Orchestrator) loop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.poll()
		}
	}
}

// poll claims at most one task per registered class. Claim or dispatch
// errors are logged and the loop keeps running.
func (o *Orchestrator) poll() {
	for class, reg := range o.classes {
		if !reg.slots.TryAcquire(1) {
			continue
		}
		if !o.workers.TryAcquire(1) {
			reg.slots.Release(1)
			return
		}

		task, err := o.tasks.ClaimNextTask(o.ctx, class)
		if err != nil {
			o.workers.Release(1)
			reg.slots.Release(1)
			slog.Error("claim failed", "class", class, "error", err)
			continue
		}
		if task == nil {
			o.workers.Release(1)
			reg.slots.Release(1)
			continue
		}

		if err := o.tasks.MarkTaskRunning(o.ctx, task.ID); err != nil {
			o.workers.Release(1)
			reg.slots.Release(1)
			slog.Error("mark running failed", "task_id", string(task.ID), "error", err)
			continue
		}

		o.wg.Add(1)
		go o.work(task, reg)
	}
}

// work runs one task to completion. The slot and worker permits are
// released on every path, and a handler panic or error is recorded as a
// terminal task failure.
func (o *Orchestrator) work(task *types.Task, reg *registration) {
	// Detached from the poll context so shutdown does not abort the model
	// call mid-flight; Stop waits for us via the WaitGroup.
	ctx := context.WithoutCancel(o.ctx)

	defer o.wg.Done()
	defer o.workers.Release(1)
	defer reg.slots.Release(1)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panicked", "task_id", string(task.ID), "panic", r)
			o.failTask(ctx, task.ID, fmt.Sprintf("handler panic: %v", r))
		}
	}()

	slog.Debug("task dispatched", "task_id", string(task.ID), "class", task.Class)
	if err := reg.handler(ctx, task); err != nil {
		slog.Error("handler failed", "task_id", string(task.ID), "class", task.Class, "error", err)
		o.failTask(ctx, task.ID, err.Error())
	}
}

func (o *Orchestrator) failTask(ctx context.Context, id types.TaskID, message string) {
	if err := o.tasks.CompleteTaskError(ctx, id, "orchestrator", message); err != nil {
		slog.Error("failed to record task error", "task_id", string(id), "error", err)
	}
}
