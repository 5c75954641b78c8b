package task

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/datalens-ai/taskstream/internal/metrics"
	"github.com/datalens-ai/taskstream/internal/store"
	"github.com/datalens-ai/taskstream/internal/stream"
)

// Emitter publishes events for a task; stream.Emitter satisfies it.
type Emitter interface {
	Emit(taskID string, eventType stream.EventType, payload map[string]any)
}

// Finisher tears down the task's stream after the terminal event and grace
// delay; stream.Coordinator satisfies it.
type Finisher interface {
	FinishTask(taskID string)
}

// DriverConfig controls driver pacing.
type DriverConfig struct {
	// StageDelay is the base delay per stage weight unit.
	StageDelay time.Duration
	// Grace is how long the stream stays open after the terminal event.
	Grace time.Duration
}

// Driver executes one task as a linear sequence of timed stages. It is the
// single writer of business events for its task: stage order on the wire is
// exactly stage order in the program. A driver keeps running when its
// observer disconnects; it still reaches a terminal state and persists final
// status.
type Driver struct {
	taskID   string
	typ      Type
	prog     program
	emitter  Emitter
	finisher Finisher
	repo     store.TaskRepository
	cfg      DriverConfig
	logger   *zap.Logger
}

// NewDriver builds a driver for the given type and parameters.
func NewDriver(
	taskID string,
	typ Type,
	params Params,
	limits Limits,
	emitter Emitter,
	finisher Finisher,
	repo store.TaskRepository,
	cfg DriverConfig,
	logger *zap.Logger,
) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StageDelay <= 0 {
		cfg.StageDelay = 800 * time.Millisecond
	}
	return &Driver{
		taskID:   taskID,
		typ:      typ,
		prog:     buildProgram(typ, params.withDefaults(limits)),
		emitter:  emitter,
		finisher: finisher,
		repo:     repo,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run drives the task to a terminal state. It blocks for the task's simulated
// duration and is meant to be launched on its own goroutine.
func (d *Driver) Run(ctx context.Context) {
	start := time.Now()
	metrics.ObserveTaskStarted(string(d.typ))

	// Repository failures are logged and skipped: the stream stays the
	// primary reporting path and the driver must reach its terminal state.
	if err := d.repo.MarkRunning(ctx, d.taskID, time.Now().UTC()); err != nil {
		d.logger.Error("mark task running failed",
			zap.String("task_id", d.taskID), zap.Error(err))
	}
	d.emitter.Emit(d.taskID, stream.EventType(d.prog.prefix+"_started"), map[string]any{
		"task_type": string(d.typ),
	})

	st := &runState{
		taskID: d.taskID,
		result: map[string]any{},
		emit:   d.emitter.Emit,
	}

	total := len(d.prog.stages)
	var failErr error
	for i, sg := range d.prog.stages {
		if !d.sleep(ctx, time.Duration(sg.weight)*d.cfg.StageDelay) {
			failErr = ctx.Err()
			break
		}
		if sg.run != nil {
			if err := sg.run(ctx, st); err != nil {
				failErr = err
				break
			}
		}
		pct := (i + 1) * 100 / total
		d.emitter.Emit(d.taskID, stream.EventProgress, map[string]any{
			"progress": pct,
			"message":  sg.message,
			"phase":    sg.phase,
		})
		if err := d.repo.UpdateProgress(ctx, d.taskID, pct, sg.message, time.Now().UTC()); err != nil {
			d.logger.Error("update task progress failed",
				zap.String("task_id", d.taskID), zap.Error(err))
		}
	}

	if failErr != nil {
		d.fail(ctx, failErr.Error())
	} else {
		d.complete(ctx, st.result)
	}
	metrics.ObserveTaskFinished(string(d.typ), d.terminalLabel(failErr), time.Since(start))

	// Grace delay: give the observer time to receive the terminal frame
	// before the transport is closed and the task unregistered.
	d.sleep(ctx, d.cfg.Grace)
	d.finisher.FinishTask(d.taskID)
}

func (d *Driver) complete(ctx context.Context, result map[string]any) {
	d.emitter.Emit(d.taskID, stream.EventType(d.prog.prefix+"_completed"), result)
	resultJSON, err := json.Marshal(result)
	if err != nil {
		d.logger.Error("marshal task result failed",
			zap.String("task_id", d.taskID), zap.Error(err))
		resultJSON = []byte("{}")
	}
	if err := d.repo.CompleteTask(noCancel(ctx), d.taskID, resultJSON, time.Now().UTC()); err != nil {
		d.logger.Error("complete task failed",
			zap.String("task_id", d.taskID), zap.Error(err))
	}
	d.logger.Info("task completed",
		zap.String("task_id", d.taskID), zap.String("type", string(d.typ)))
}

func (d *Driver) fail(ctx context.Context, msg string) {
	d.emitter.Emit(d.taskID, stream.EventType(d.prog.prefix+"_failed"), map[string]any{
		"error": msg,
	})
	if err := d.repo.FailTask(noCancel(ctx), d.taskID, msg, time.Now().UTC()); err != nil {
		d.logger.Error("fail task failed",
			zap.String("task_id", d.taskID), zap.Error(err))
	}
	d.logger.Warn("task failed",
		zap.String("task_id", d.taskID),
		zap.String("type", string(d.typ)),
		zap.String("error", msg))
}

func (d *Driver) terminalLabel(failErr error) string {
	if failErr != nil {
		return string(store.StatusFailed)
	}
	return string(store.StatusCompleted)
}

// sleep waits for dur or until ctx is done, reporting whether the full wait
// elapsed.
func (d *Driver) sleep(ctx context.Context, dur time.Duration) bool {
	if dur <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// noCancel detaches terminal persistence from a context that may already be
// cancelled (shutdown path): final status must still be written.
func noCancel(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
