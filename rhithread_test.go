package dieselrhi

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestRHIThreadOffRunsInline(t *testing.T) {
	th := newRHIThread(RHIThreadOff, 1, testLogger())
	ran := false
	th.Enqueue(func() { ran = true })
	if !ran {
		t.Errorf("enqueued work did not run on the caller")
	}
	th.Flush()
	th.Stop()
}

func TestRHIThreadSingleKeepsOrder(t *testing.T) {
	th := newRHIThread(RHIThreadSingle, 1, testLogger())
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		th.Enqueue(func() { order = append(order, i) })
	}
	var synced int
	th.Sync(func() { synced = len(order) })
	if synced != 100 {
		t.Fatalf("sync ran after %d of 100 enqueued commands", synced)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("command %d ran at position %d", v, i)
		}
	}
	th.Stop()
	th.Stop()

	ran := false
	th.Enqueue(func() { ran = true })
	if !ran {
		t.Errorf("work after Stop should run inline")
	}
}

func TestTranslateSequential(t *testing.T) {
	th := newRHIThread(RHIThreadSingle, 4, testLogger())
	defer th.Stop()
	boom := errors.New("boom")
	var ran []int
	tasks := make([]TranslateTask, 5)
	for i := range tasks {
		i := i
		tasks[i] = func(ctx context.Context) error {
			ran = append(ran, i)
			if i == 2 {
				return boom
			}
			return nil
		}
	}
	err := th.Translate(context.Background(), tasks)
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "translate command list 2") {
		t.Errorf("got %v", err)
	}
	if len(ran) != 3 {
		t.Errorf("ran %v, want to stop at the failing list", ran)
	}
}

func TestTranslateParallelBoundsWorkers(t *testing.T) {
	th := newRHIThread(RHIThreadParallel, 2, testLogger())
	defer th.Stop()
	var running, peak, done atomic.Int32
	var mu sync.Mutex
	tasks := make([]TranslateTask, 16)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			n := running.Add(1)
			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()
			running.Add(-1)
			done.Add(1)
			return nil
		}
	}
	if err := th.Translate(context.Background(), tasks); err != nil {
		t.Fatalf("Translate: %+v", err)
	}
	if done.Load() != 16 {
		t.Errorf("%d of 16 tasks ran", done.Load())
	}
	if peak.Load() > 2 {
		t.Errorf("%d tasks ran at once with two workers", peak.Load())
	}
}

func TestTranslateParallelCancelsOnError(t *testing.T) {
	th := newRHIThread(RHIThreadParallel, 8, testLogger())
	defer th.Stop()
	boom := errors.New("boom")
	tasks := make([]TranslateTask, 4)
	for i := range tasks {
		i := i
		tasks[i] = func(ctx context.Context) error {
			if i == 3 {
				return boom
			}
			<-ctx.Done()
			return ctx.Err()
		}
	}
	err := th.Translate(context.Background(), tasks)
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "translate command list 3") {
		t.Errorf("got %v", err)
	}
}

func TestTranslateCanceledContext(t *testing.T) {
	th := newRHIThread(RHIThreadParallel, 2, testLogger())
	defer th.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := th.Translate(ctx, []TranslateTask{func(context.Context) error { return nil }})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestFramesOnRHIThread(t *testing.T) {
	for _, mode := range []RHIThreadMode{RHIThreadSingle, RHIThreadParallel} {
		env := newTestEnv(t, func(cfg *Config, drv *fakeDriver) {
			cfg.RHIThread = mode
			cfg.ParallelTranslateWorkers = 2
		})
		v := env.viewport(t, 320, 240)
		for i := 0; i < 5; i++ {
			env.frame(t, v)
		}
		var translated atomic.Int32
		task := func(context.Context) error {
			translated.Add(1)
			return nil
		}
		if err := env.rhi.ParallelTranslate(context.Background(), task, task, task); err != nil {
			t.Fatalf("ParallelTranslate: %+v", err)
		}
		if translated.Load() != 3 {
			t.Errorf("mode %d: translated %d lists", mode, translated.Load())
		}
		env.rhi.ResizeViewport(v, 640, 480)
		env.frame(t, v)
		if v.PresentCount() != 6 {
			t.Errorf("mode %d: presented %d frames", mode, v.PresentCount())
		}
		env.shutdown(t)
	}
}
