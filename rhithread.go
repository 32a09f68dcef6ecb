package dieselrhi

import (
	"context"
	"runtime"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// TranslateTask converts one recorded command list into native commands.
type TranslateTask func(ctx context.Context) error

// rhiThread runs submission work in the configured RHIThreadMode. With RHIThreadOff work
// runs on the caller; otherwise one goroutine runs it in enqueue order.
type rhiThread struct {
	mode RHIThreadMode
	log  *slog.Logger

	cmds chan func()
	done chan struct{}

	translate *semaphore.Weighted
	workers   int
}

func newRHIThread(mode RHIThreadMode, workers int, logger *slog.Logger) *rhiThread {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	t := &rhiThread{
		mode:      mode,
		log:       logger,
		translate: semaphore.NewWeighted(int64(workers)),
		workers:   workers,
	}
	if mode != RHIThreadOff {
		t.cmds = make(chan func(), 256)
		t.done = make(chan struct{})
		go t.loop()
	}
	logger.Info("rhi thread started", slog.Int("mode", int(mode)), slog.Int("translateWorkers", workers))
	return t
}

func (t *rhiThread) loop() {
	defer close(t.done)
	for fn := range t.cmds {
		fn()
	}
}

// Enqueue schedules fn after all previously enqueued work.
func (t *rhiThread) Enqueue(fn func()) {
	if t.cmds == nil {
		fn()
		return
	}
	t.cmds <- fn
}

// Sync runs fn after all previously enqueued work and waits for it.
func (t *rhiThread) Sync(fn func()) {
	if t.cmds == nil {
		fn()
		return
	}
	finished := make(chan struct{})
	t.cmds <- func() {
		defer close(finished)
		fn()
	}
	<-finished
}

// Flush waits until every enqueued command has run.
func (t *rhiThread) Flush() {
	t.Sync(func() {})
}

// Translate runs tasks, in parallel with RHIThreadParallel and in order otherwise. The
// first error cancels the remaining tasks.
func (t *rhiThread) Translate(ctx context.Context, tasks []TranslateTask) error {
	if t.mode != RHIThreadParallel {
		for i, task := range tasks {
			if err := task(ctx); err != nil {
				return errors.Wrapf(err, "translate command list %d", i)
			}
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		if err := t.translate.Acquire(gctx, 1); err != nil {
			break
		}
		i, task := i, task
		g.Go(func() error {
			defer t.translate.Release(1)
			if err := task(gctx); err != nil {
				return errors.Wrapf(err, "translate command list %d", i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Stop drains queued work and ends the goroutine.
func (t *rhiThread) Stop() {
	if t.cmds == nil {
		return
	}
	close(t.cmds)
	<-t.done
	t.cmds = nil
}
