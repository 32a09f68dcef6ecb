package dieselrhi

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// RHI is the entry point the renderer drives: viewports, frame boundaries, profiling
// events and recorded work. Calls that touch the device are routed through the RHI
// thread selected by Config.RHIThread.
type RHI struct {
	cfg      Config
	log      *slog.Logger
	device   *Device
	platform Platform
	thread   *rhiThread

	mu        sync.Mutex
	viewports []*Viewport
	drawing   *Viewport
	shutdown  bool
}

// NewRHI creates the device. Initialization failures are shown in a platform message box
// and reported to the fatal handler.
func NewRHI(driver Driver, platform Platform, cfg Config) (*RHI, error) {
	cfg = cfg.withDefaults()
	log := componentLogger(cfg.Logger, "rhi")
	device, err := NewDevice(driver, platform, cfg)
	if err != nil {
		err = errors.Wrap(err, "initialize vulkan device")
		if platform != nil {
			if mbErr := platform.MessageBox("Vulkan", err.Error()); mbErr != nil {
				log.Warn("cannot show message box", slog.String("error", mbErr.Error()))
			}
		}
		log.Error("fatal error", slog.String("error", err.Error()))
		fatal(cfg.OnFatal, err)
		return nil, err
	}
	r := &RHI{
		cfg:      cfg,
		log:      log,
		device:   device,
		platform: platform,
		thread:   newRHIThread(cfg.RHIThread, cfg.ParallelTranslateWorkers, log),
	}
	log.Info("rhi initialized",
		slog.String("driver", driver.Name()),
		slog.String("gpu", device.record.Name),
		slog.Bool("delayAcquire", cfg.DelayAcquireBackBuffer))
	return r, nil
}

func (r *RHI) Device() *Device { return r.device }

func (r *RHI) Config() Config { return r.cfg }

// CreateViewport creates a viewport presenting to win.
func (r *RHI) CreateViewport(win Window, width, height uint32, pf PixelFormat) (*Viewport, error) {
	var (
		v   *Viewport
		err error
	)
	r.thread.Sync(func() {
		v, err = NewViewport(r.device, win, width, height, pf)
	})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.viewports = append(r.viewports, v)
	r.mu.Unlock()
	return v, nil
}

// ResizeViewport flushes queued rendering and rebuilds the viewport's swapchain.
func (r *RHI) ResizeViewport(v *Viewport, width, height uint32) {
	r.FlushRenderingCommands()
	r.thread.Sync(func() { v.Resize(width, height) })
}

// RecreateViewport flushes queued rendering and rebuilds the swapchain against win.
func (r *RHI) RecreateViewport(v *Viewport, win Window) {
	r.FlushRenderingCommands()
	r.thread.Sync(func() { v.RecreateSwapchain(win) })
}

// DestroyViewport flushes queued rendering and tears the viewport down.
func (r *RHI) DestroyViewport(v *Viewport) {
	r.FlushRenderingCommands()
	r.thread.Sync(v.Destroy)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, other := range r.viewports {
		if other == v {
			r.viewports = append(r.viewports[:i], r.viewports[i+1:]...)
			break
		}
	}
}

func (r *RHI) GetViewportBackBuffer(v *Viewport) *Texture {
	var t *Texture
	r.thread.Sync(func() { t = v.GetBackBuffer() })
	return t
}

func (r *RHI) AdvanceFrameForGetViewportBackBuffer(v *Viewport) {
	r.thread.Enqueue(v.AdvanceBackBufferFrame)
}

func (r *RHI) BeginDrawingViewport(v *Viewport) {
	r.thread.Enqueue(func() {
		check(r.drawing == nil, "viewport drawing already begun")
		r.drawing = v
	})
}

// EndDrawingViewport ends any open render pass and, when present is set, presents v.
func (r *RHI) EndDrawingViewport(v *Viewport, present, lockToVsync bool) {
	r.thread.Enqueue(func() {
		check(r.drawing == v, "ending a viewport that is not being drawn")
		ctx := r.device.immediate
		if ctx.CommandBufferManager().GetActiveCmdBuffer().IsInsideRenderPass() {
			ctx.EndRenderPass()
		}
		if present {
			v.Present(lockToVsync)
		}
		ctx.CommandBufferManager().RefreshFenceStatus()
		r.drawing = nil
	})
}

func (r *RHI) BeginFrame() {
	r.thread.Enqueue(r.device.immediate.BeginFrame)
}

func (r *RHI) EndFrame() {
	r.thread.Enqueue(r.device.immediate.EndFrame)
}

func (r *RHI) PushEvent(name string, color [4]float32) {
	r.thread.Enqueue(func() { r.device.immediate.PushEvent(name, color) })
}

func (r *RHI) PopEvent() {
	r.thread.Enqueue(r.device.immediate.PopEvent)
}

// Execute records fn into the immediate context on the RHI thread.
func (r *RHI) Execute(fn func(ctx *CommandListContext)) {
	r.thread.Enqueue(func() { fn(r.device.immediate) })
}

// ParallelTranslate runs translation tasks, spread over workers with RHIThreadParallel.
func (r *RHI) ParallelTranslate(ctx context.Context, tasks ...TranslateTask) error {
	return r.thread.Translate(ctx, tasks)
}

// FlushRenderingCommands waits until all enqueued RHI work has run.
func (r *RHI) FlushRenderingCommands() {
	r.thread.Flush()
}

// Shutdown destroys every viewport and the device. The RHI must not be used afterwards.
func (r *RHI) Shutdown() {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return
	}
	r.shutdown = true
	viewports := r.viewports
	r.viewports = nil
	r.mu.Unlock()

	r.thread.Sync(func() {
		for _, v := range viewports {
			v.Destroy()
		}
		r.device.Destroy()
	})
	r.thread.Stop()
	r.log.Info("rhi shut down")
}
