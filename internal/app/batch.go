package app

import (
	"context"
	"sync"
	"time"

	"schedd/internal/task/engine"
	"schedd/internal/task/processor"
	"schedd/internal/task/scheduler"
)

const (
	batchJobName   = "processor.batch"
	startupJobName = "processor.startup"
)

// batchRunner routes every batch pass through the task engine. The cron
// trigger and on-demand runs share one RunState, so at most one pass is in
// flight per process.
type batchRunner struct {
	eng   *engine.Service
	proc  *processor.Processor
	state *engine.RunState

	mu      sync.Mutex
	timeout time.Duration
}

func newBatchRunner(eng *engine.Service, proc *processor.Processor) *batchRunner {
	return &batchRunner{eng: eng, proc: proc, state: &engine.RunState{}}
}

func (b *batchRunner) setTimeout(d time.Duration) {
	b.mu.Lock()
	b.timeout = d
	b.mu.Unlock()
}

func (b *batchRunner) taskTimeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timeout
}

func (b *batchRunner) options() engine.TaskOptions {
	return engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning}
}

// register upserts the cron entry for the batch pass.
func (b *batchRunner) register(s *scheduler.Service, schedule string) error {
	_, err := s.AddScheduleOpt(batchJobName, schedule, b.taskTimeout(), b.options(), b.state, b.proc.Job)
	return err
}

// scheduleStartup queues one pass right after the trigger starts.
func (b *batchRunner) scheduleStartup(s *scheduler.Service, at time.Time) error {
	_, err := s.AddOnce(startupJobName, at, b.taskTimeout(), b.proc.Job)
	return err
}

// RunNow executes one pass through the engine and waits for its result.
// ErrOverlapSkip is returned when a triggered pass is still running.
func (b *batchRunner) RunNow(ctx context.Context) (processor.Result, error) {
	var res processor.Result
	err := b.eng.RunSync(ctx, engine.Task{
		Name:    batchJobName,
		Timeout: b.taskTimeout(),
		Opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning, RetryMax: -1},
		State:   b.state,
		Run: func(c context.Context) error {
			r, err := b.proc.ProcessDue(c)
			res = r
			return err
		},
	})
	return res, err
}

func (b *batchRunner) Snapshot() processor.Snapshot { return b.proc.Snapshot() }
