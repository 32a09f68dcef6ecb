package dieselrhi

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"golang.org/x/exp/slog"
)

type gpuEvent struct {
	name  string
	start time.Duration
}

// CommandListContext records rendering commands into the active command buffer of its
// manager. The immediate context is the one the device flushes and frames are counted on.
type CommandListContext struct {
	device    *Device
	queue     *Queue
	immediate bool
	log       *slog.Logger

	cmdMgr          *CommandBufferManager
	layouts         *LayoutTracker
	framebuffers    *FramebufferCache
	descriptorPools *DescriptorPoolManager

	currentLayout      *RenderTargetLayout
	currentRenderPass  *RenderPass
	currentFramebuffer *Framebuffer

	events []gpuEvent
}

func NewCommandListContext(device *Device, queue *Queue, immediate bool) (*CommandListContext, error) {
	c := &CommandListContext{
		device:          device,
		queue:           queue,
		immediate:       immediate,
		log:             componentLogger(device.log, "context"),
		layouts:         NewLayoutTracker(),
		framebuffers:    NewFramebufferCache(device),
		descriptorPools: NewDescriptorPoolManager(device),
	}
	var err error
	c.cmdMgr, err = NewCommandBufferManager(device, queue)
	if err != nil {
		return nil, errors.Wrap(err, "create command buffer manager")
	}
	return c, nil
}

func (c *CommandListContext) Device() *Device { return c.device }

func (c *CommandListContext) IsImmediate() bool { return c.immediate }

func (c *CommandListContext) CommandBufferManager() *CommandBufferManager { return c.cmdMgr }

func (c *CommandListContext) Layouts() *LayoutTracker { return c.layouts }

func (c *CommandListContext) Framebuffers() *FramebufferCache { return c.framebuffers }

func (c *CommandListContext) DescriptorPools() *DescriptorPoolManager { return c.descriptorPools }

// BeginFrame retires completed command buffers and releases deferred deletions they unblocked.
func (c *CommandListContext) BeginFrame() {
	c.cmdMgr.RefreshFenceStatus()
	if c.immediate {
		c.device.deferredDeletion.ReleaseResources(false)
	}
}

func (c *CommandListContext) EndFrame() {
	if c.immediate {
		c.device.advanceFrame()
	}
}

// PushEvent opens a named region on the GPU timeline. Regions are timed on the CPU and
// labeled in the command buffer when debug markers are available.
func (c *CommandListContext) PushEvent(name string, color [4]float32) {
	c.events = append(c.events, gpuEvent{name: name, start: hrtime.Now()})
	if c.device.debugMarkers {
		c.device.native.CmdBeginLabel(c.cmdMgr.GetActiveCmdBuffer().handle, name, color)
	}
}

func (c *CommandListContext) PopEvent() {
	n := len(c.events)
	if n == 0 {
		c.log.Warn("pop of an empty event stack")
		return
	}
	ev := c.events[n-1]
	c.events = c.events[:n-1]
	if c.device.debugMarkers {
		c.device.native.CmdEndLabel(c.cmdMgr.GetActiveCmdBuffer().handle)
	}
	c.log.Debug("event", slog.String("name", ev.name), slog.Duration("cpu", hrtime.Since(ev.start)))
}

// EventDepth gets the number of open events.
func (c *CommandListContext) EventDepth() int { return len(c.events) }

func (c *CommandListContext) transitionTo(cb *CmdBuffer, t *Texture, layout ImageLayout) {
	current := c.layouts.FindOrAddLayout(t.image, ImageLayoutUndefined)
	if current == layout {
		return
	}
	SetImageLayout(c.device.native, cb.handle, t.image, current, layout, t.FullRange())
	c.layouts.SetLayout(t.image, layout)
}

// TransitionResource moves t into layout outside of a render pass.
func (c *CommandListContext) TransitionResource(t *Texture, layout ImageLayout) {
	cb := c.cmdMgr.GetActiveCmdBuffer()
	if cb.IsInsideRenderPass() {
		c.EndRenderPass()
	}
	c.transitionTo(cb, t, layout)
}

// BeginRenderPass ends any open render pass and starts one on info, creating the
// render pass and framebuffer as needed.
func (c *CommandListContext) BeginRenderPass(info RenderTargetsInfo, clearValues []ClearValue) error {
	cb := c.cmdMgr.GetActiveCmdBuffer()
	if cb.IsInsideRenderPass() {
		c.EndRenderPass()
	}
	layout, err := NewRenderTargetLayout(info)
	if err != nil {
		return err
	}
	rp, err := c.device.renderPasses.GetOrCreate(layout)
	if err != nil {
		return err
	}
	fb, err := c.framebuffers.GetOrCreate(info, layout, rp)
	if err != nil {
		return err
	}

	for i := 0; i < info.NumColorRenderTargets; i++ {
		rt := info.ColorRenderTargets[i]
		if rt.Texture == nil {
			continue
		}
		c.transitionTo(cb, rt.Texture, ImageLayoutColorAttachmentOptimal)
		if rt.ResolveTarget != nil {
			c.transitionTo(cb, rt.ResolveTarget, ImageLayoutGeneral)
		}
	}
	if ds := info.DepthStencilRenderTarget.Texture; ds != nil {
		c.transitionTo(cb, ds, ImageLayoutDepthStencilAttachmentOptimal)
	}

	cb.BeginRenderPass(layout, rp, fb, clearValues)
	c.currentLayout = layout
	c.currentRenderPass = rp
	c.currentFramebuffer = fb
	return nil
}

func (c *CommandListContext) EndRenderPass() {
	cb := c.cmdMgr.GetActiveCmdBuffer()
	if !cb.IsInsideRenderPass() {
		return
	}
	cb.EndRenderPass()
	c.currentLayout = nil
	c.currentRenderPass = nil
	c.currentFramebuffer = nil
}

func (c *CommandListContext) CurrentRenderPass() *RenderPass { return c.currentRenderPass }

// NotifyDeletedImage drops every framebuffer and tracked layout that references image.
func (c *CommandListContext) NotifyDeletedImage(image ImageHandle) {
	if c.currentFramebuffer != nil && c.currentFramebuffer.ContainsImage(image) {
		c.currentFramebuffer = nil
	}
	c.framebuffers.NotifyDeletedImage(image)
	c.layouts.Forget(image)
}

// flushPendingCommands submits the pending upload and active buffers and begins a new
// active buffer.
func (c *CommandListContext) flushPendingCommands() {
	if c.cmdMgr.HasPendingUploadCmdBuffer() {
		c.cmdMgr.SubmitUploadCmdBuffer()
	}
	if !c.cmdMgr.HasPendingActiveCmdBuffer() {
		return
	}
	if c.cmdMgr.active.IsInsideRenderPass() {
		c.EndRenderPass()
	}
	c.cmdMgr.SubmitActiveCmdBuffer()
	c.cmdMgr.PrepareForNewActiveCommandBuffer()
}

// Destroy releases the context's caches and command buffers. The GPU must be idle.
func (c *CommandListContext) Destroy() {
	if len(c.events) > 0 {
		c.log.Warn("context destroyed with open events", slog.Int("count", len(c.events)))
	}
	c.framebuffers.Destroy()
	c.descriptorPools.Destroy()
	c.cmdMgr.Destroy()
}
