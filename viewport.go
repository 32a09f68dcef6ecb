package dieselrhi

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// maxSwapchainRecreateAttempts bounds the recreations DoCheckedSwapChainJob performs
// before giving up.
const maxSwapchainRecreateAttempts = 4

// ViewportState is the position of a viewport in its acquire/present cycle.
type ViewportState int

const (
	ViewportIdle ViewportState = iota
	ViewportAcquiring
	ViewportAcquired
	ViewportPresentPending
)

func (s ViewportState) String() string {
	switch s {
	case ViewportIdle:
		return "idle"
	case ViewportAcquiring:
		return "acquiring"
	case ViewportAcquired:
		return "acquired"
	case ViewportPresentPending:
		return "present pending"
	}
	return fmt.Sprintf("viewport state %d", int(s))
}

// SwapchainJob runs against the viewport's swapchain and returns a negative
// SwapchainStatus when the swapchain has to be recreated.
type SwapchainJob func(v *Viewport) int

// Viewport presents to one window. It owns the swapchain, the per-image views and
// rendering-done semaphores, and the back buffer textures the renderer draws into.
//
// With delayed acquire the renderer draws into an intermediate texture that is copied
// into the swapchain image right before present. Otherwise the back buffer texture is
// bound directly to the acquired swapchain image.
type Viewport struct {
	device *Device
	ctx    *CommandListContext
	log    *slog.Logger

	window       Window
	width        uint32
	height       uint32
	pixelFormat  PixelFormat
	lockToVsync  bool
	delayAcquire bool

	swapchain       *Swapchain
	backBufferViews []ImageViewHandle
	renderingDone   []SemaphoreHandle

	// backBuffer wraps the acquired swapchain image in direct mode.
	backBuffer *Texture
	// renderingBackBuffer is the intermediate texture in delayed mode.
	renderingBackBuffer *Texture

	state              ViewportState
	acquiredImageIndex int
	acquiredSemaphore  SemaphoreHandle
	presentCount       uint64
	recreateCount      uint64
}

// NewViewport creates a viewport and its swapchain for win.
func NewViewport(device *Device, win Window, width, height uint32, pf PixelFormat) (*Viewport, error) {
	cfg := device.cfg
	if pf == PixelFormatUnknown {
		pf = cfg.PixelFormat
	}
	v := &Viewport{
		device:             device,
		ctx:                device.immediate,
		log:                componentLogger(device.log, "viewport"),
		window:             win,
		width:              width,
		height:             height,
		pixelFormat:        pf,
		lockToVsync:        cfg.LockToVsync,
		delayAcquire:       cfg.DelayAcquireBackBuffer,
		acquiredImageIndex: -1,
	}
	if err := v.createSwapchain(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Viewport) createSwapchain() error {
	sc, err := NewSwapchain(v.device, v.window, SwapchainRequest{
		PixelFormat: v.pixelFormat,
		Width:       v.width,
		Height:      v.height,
		BufferCount: v.device.cfg.BackBufferCount,
		LockToVsync: v.lockToVsync,
	})
	if err != nil {
		return errors.Wrap(err, "create swapchain")
	}
	v.swapchain = sc
	extent := sc.Extent()
	images := sc.Images()
	native := v.device.native

	for _, image := range images {
		view, ret := native.CreateImageView(ImageViewInfo{
			Image:    image,
			ViewType: ImageViewType2D,
			Format:   sc.Format().Format,
			Range:    ColorRange(),
		})
		if isError(ret) {
			return newErrorf(ret, "create back buffer view")
		}
		v.backBufferViews = append(v.backBufferViews, view)
		sem, ret := native.CreateSemaphore()
		if isError(ret) {
			return newErrorf(ret, "create rendering done semaphore")
		}
		v.renderingDone = append(v.renderingDone, sem)
	}

	// Present expects every image in the present layout.
	cmdMgr := v.ctx.CommandBufferManager()
	upload := cmdMgr.GetUploadCmdBuffer()
	var barrier PipelineBarrier
	for _, image := range images {
		barrier.AddImageLayoutTransition(image, ImageLayoutUndefined, ImageLayoutPresentSrc, ColorRange())
		v.ctx.layouts.SetLayout(image, ImageLayoutPresentSrc)
	}
	barrier.Execute(native, upload.handle)
	cmdMgr.SubmitUploadCmdBuffer()

	if v.delayAcquire {
		v.renderingBackBuffer, err = NewTexture(v.device, TextureDesc{
			Kind:   Texture2D,
			Format: sc.PixelFormat(),
			Width:  extent.Width,
			Height: extent.Height,
			Usage:  ImageUsageColorAttachment | ImageUsageTransferSrc | ImageUsageSampled,
		})
		if err != nil {
			return errors.Wrap(err, "create rendering back buffer")
		}
	} else {
		v.backBuffer = newBackBufferTexture(v.device, sc.PixelFormat(), sc.Format().Format, extent.Width, extent.Height)
	}
	v.acquiredImageIndex = -1
	v.state = ViewportIdle
	return nil
}

// destroySwapchain idles the GPU and synchronously destroys everything tied to the swapchain.
func (v *Viewport) destroySwapchain() {
	v.device.SubmitCommandsAndFlushGPU()
	v.device.WaitUntilIdle()

	deferred := v.device.deferredDeletion
	if v.renderingBackBuffer != nil {
		v.renderingBackBuffer.Destroy()
		v.renderingBackBuffer = nil
	}
	if v.swapchain != nil {
		for i, image := range v.swapchain.Images() {
			v.ctx.NotifyDeletedImage(image)
			if i < len(v.backBufferViews) {
				deferred.EnqueueResource(ResourceImageView, uint64(v.backBufferViews[i]))
			}
		}
	}
	for _, sem := range v.renderingDone {
		deferred.EnqueueResource(ResourceSemaphore, uint64(sem))
	}
	v.backBufferViews = nil
	v.renderingDone = nil
	v.backBuffer = nil
	deferred.ReleaseResources(true)

	if v.swapchain != nil {
		v.swapchain.Destroy()
		v.swapchain = nil
	}
	v.acquiredImageIndex = -1
	v.acquiredSemaphore = NullSemaphore
	v.state = ViewportIdle
}

// recreateSwapchain rebuilds the swapchain against win. Callers flush the RHI thread first.
func (v *Viewport) recreateSwapchain(win Window) {
	v.destroySwapchain()
	v.window = win
	v.recreateCount++
	if err := v.createSwapchain(); err != nil {
		v.device.fatal(errors.Wrap(err, "recreate swapchain"))
	}
}

// Resize rebuilds the swapchain for the new size.
func (v *Viewport) Resize(width, height uint32) {
	v.log.Info("resizing viewport", slog.Uint64("width", uint64(width)), slog.Uint64("height", uint64(height)))
	v.width = width
	v.height = height
	v.recreateSwapchain(v.window)
}

// RecreateSwapchain rebuilds the swapchain against win, which may be the current window.
func (v *Viewport) RecreateSwapchain(win Window) {
	v.recreateSwapchain(win)
}

// DoCheckedSwapChainJob runs job and, while it reports a negative status, recreates the
// swapchain against the same window and retries, at most maxSwapchainRecreateAttempts
// times. It reports whether the job eventually succeeded.
func (v *Viewport) DoCheckedSwapChainJob(job SwapchainJob) bool {
	status := job(v)
	for attempts := maxSwapchainRecreateAttempts; status < 0 && attempts > 0; attempts-- {
		switch SwapchainStatus(status) {
		case SwapchainOutOfDate:
			v.log.Warn("swapchain is out of date, recreating", slog.Int("attemptsLeft", attempts))
		case SwapchainSurfaceLost:
			v.log.Warn("swapchain surface lost, recreating", slog.Int("attemptsLeft", attempts))
		default:
			check(false, "unexpected swapchain status %d", status)
		}
		v.recreateSwapchain(v.window)
		// creation records commands; start the retry from a fresh, idle state
		v.device.SubmitCommandsAndFlushGPU()
		v.device.WaitUntilIdle()
		status = job(v)
	}
	return status >= 0
}

// acquireImage acquires a swapchain image through the retry helper. A failure after every
// recreation is fatal.
func (v *Viewport) acquireImage() bool {
	check(v.acquiredImageIndex == -1, "back buffer %d is already acquired", v.acquiredImageIndex)
	v.state = ViewportAcquiring
	ok := v.DoCheckedSwapChainJob(func(v *Viewport) int {
		if v.swapchain == nil {
			return int(SwapchainSurfaceLost)
		}
		index, sem := v.swapchain.AcquireImageIndex()
		if index >= 0 {
			v.acquiredImageIndex = index
			v.acquiredSemaphore = sem
		}
		return index
	})
	if !ok {
		v.acquiredImageIndex = -1
		v.state = ViewportIdle
		v.device.fatal(errors.Wrap(ErrOutOfDate, "swapchain acquire image index failed"))
		return false
	}
	v.state = ViewportAcquired
	if v.backBuffer != nil {
		v.backBuffer.bind(v.swapchain.Images()[v.acquiredImageIndex], v.backBufferViews[v.acquiredImageIndex])
	}
	return true
}

// AcquireBackBuffer acquires the next image, transitions it for rendering and submits the
// active command buffer with a wait on the acquire semaphore, so the wait is recorded
// before the frame's rendering work.
func (v *Viewport) AcquireBackBuffer() bool {
	cmdMgr := v.ctx.CommandBufferManager()
	check(!cmdMgr.GetActiveCmdBuffer().IsInsideRenderPass(), "back buffer must be acquired outside a render pass")
	if !v.acquireImage() {
		return false
	}
	cb := cmdMgr.GetActiveCmdBuffer()
	image := v.swapchain.Images()[v.acquiredImageIndex]
	SetAcquiredImageLayout(v.device.native, cb.handle, image, PipelineStageColorAttachmentOutput, ImageLayoutColorAttachmentOptimal)
	v.ctx.layouts.SetLayout(image, ImageLayoutColorAttachmentOptimal)
	cb.End()
	cb.AddWaitSemaphore(PipelineStageColorAttachmentOutput, v.acquiredSemaphore)
	cmdMgr.SubmitActiveCmdBuffer()
	cmdMgr.PrepareForNewActiveCommandBuffer()
	v.acquiredSemaphore = NullSemaphore
	return true
}

// CopyImageToBackBuffer records the copy of src into the just-acquired swapchain image dst and
// leaves dst ready for present. The acquire semaphore of dst must be waited at the transfer stage.
func (v *Viewport) CopyImageToBackBuffer(cb *CmdBuffer, src *Texture, dst ImageHandle) {
	native := v.device.native
	srcLayout := v.ctx.layouts.FindOrAddLayout(src.image, ImageLayoutUndefined)

	var before PipelineBarrier
	before.AddImageLayoutTransition(src.image, srcLayout, ImageLayoutTransferSrcOptimal, src.FullRange())
	before.AddAcquiredImageTransition(dst, PipelineStageTransfer, ImageLayoutTransferDstOptimal, ColorRange())
	before.Execute(native, cb.handle)

	extent := v.swapchain.Extent()
	layers := ImageSubresourceLayers{AspectMask: ImageAspectColor, LayerCount: 1}
	native.CmdCopyImage(cb.handle, src.image, ImageLayoutTransferSrcOptimal, dst, ImageLayoutTransferDstOptimal, []ImageCopy{{
		SrcSubresource: layers,
		DstSubresource: layers,
		Extent:         Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1},
	}})

	var after PipelineBarrier
	after.AddImageLayoutTransition(src.image, ImageLayoutTransferSrcOptimal, ImageLayoutColorAttachmentOptimal, src.FullRange())
	after.AddImageLayoutTransition(dst, ImageLayoutTransferDstOptimal, ImageLayoutPresentSrc, ColorRange())
	after.Execute(native, cb.handle)

	v.ctx.layouts.SetLayout(src.image, ImageLayoutColorAttachmentOptimal)
	v.ctx.layouts.SetLayout(dst, ImageLayoutPresentSrc)
}

// submitForPresent ends the active buffer and submits it signaling the rendering-done
// semaphore of the acquired image.
func (v *Viewport) submitForPresent(waitStage PipelineStageFlags) {
	cmdMgr := v.ctx.CommandBufferManager()
	cb := cmdMgr.GetActiveCmdBuffer()
	cb.End()
	cb.AddWaitSemaphore(waitStage, v.acquiredSemaphore)
	v.acquiredSemaphore = NullSemaphore
	cmdMgr.SubmitActiveCmdBuffer(v.renderingDone[v.acquiredImageIndex])
	cmdMgr.PrepareForNewActiveCommandBuffer()
}

// Present finishes the frame on the active command buffer and presents the back buffer.
func (v *Viewport) Present(lockToVsync bool) bool {
	cmdMgr := v.ctx.CommandBufferManager()
	check(!cmdMgr.GetActiveCmdBuffer().IsInsideRenderPass(), "present inside a render pass")
	if lockToVsync != v.lockToVsync {
		// present mode is fixed at creation; the new setting applies to the next swapchain
		v.log.Debug("vsync setting changed", slog.Bool("lockToVsync", lockToVsync))
		v.lockToVsync = lockToVsync
	}

	if v.delayAcquire {
		if !v.acquireImage() {
			return false
		}
		// a recreation during acquire flushed the previous active buffer
		cb := cmdMgr.GetActiveCmdBuffer()
		v.CopyImageToBackBuffer(cb, v.renderingBackBuffer, v.swapchain.Images()[v.acquiredImageIndex])
		v.submitForPresent(PipelineStageTransfer)
	} else {
		if v.acquiredImageIndex == -1 && !v.AcquireBackBuffer() {
			return false
		}
		cb := cmdMgr.GetActiveCmdBuffer()
		image := v.swapchain.Images()[v.acquiredImageIndex]
		current := v.ctx.layouts.FindOrAddLayout(image, ImageLayoutColorAttachmentOptimal)
		SetImageLayout(v.device.native, cb.handle, image, current, ImageLayoutPresentSrc, ColorRange())
		v.ctx.layouts.SetLayout(image, ImageLayoutPresentSrc)
		v.submitForPresent(PipelineStageColorAttachmentOutput)
	}

	v.state = ViewportPresentPending
	gfx := v.device.graphicsQueue
	present := v.device.PresentQueue()
	ok := v.DoCheckedSwapChainJob(func(v *Viewport) int {
		if v.swapchain == nil {
			return int(SwapchainSurfaceLost)
		}
		if v.acquiredImageIndex < 0 {
			// the swapchain was rebuilt, bring an image of the new one to the present layout
			index, sem := v.swapchain.AcquireImageIndex()
			if index < 0 {
				return index
			}
			v.acquiredImageIndex = index
			v.acquiredSemaphore = sem
			cb := cmdMgr.GetActiveCmdBuffer()
			image := v.swapchain.Images()[index]
			SetAcquiredImageLayout(v.device.native, cb.handle, image, PipelineStageColorAttachmentOutput, ImageLayoutPresentSrc)
			v.ctx.layouts.SetLayout(image, ImageLayoutPresentSrc)
			v.submitForPresent(PipelineStageColorAttachmentOutput)
		}
		return int(v.swapchain.Present(gfx, present, v.renderingDone[v.acquiredImageIndex]))
	})
	if !ok {
		v.acquiredImageIndex = -1
		v.state = ViewportIdle
		v.device.fatal(errors.Wrap(ErrOutOfDate, "swapchain present failed"))
		return false
	}
	v.acquiredImageIndex = -1
	v.state = ViewportIdle
	v.presentCount++
	return true
}

// GetBackBuffer gets the texture the renderer draws the frame into. In direct mode the
// swapchain image is acquired on first use.
func (v *Viewport) GetBackBuffer() *Texture {
	if v.delayAcquire {
		return v.renderingBackBuffer
	}
	if v.acquiredImageIndex == -1 && !v.AcquireBackBuffer() {
		return nil
	}
	return v.backBuffer
}

// AdvanceBackBufferFrame prepares the back buffer of the next frame. In direct mode this
// acquires the next swapchain image ahead of rendering.
func (v *Viewport) AdvanceBackBufferFrame() {
	if v.delayAcquire || v.acquiredImageIndex != -1 {
		return
	}
	v.AcquireBackBuffer()
}

func (v *Viewport) Swapchain() *Swapchain { return v.swapchain }

func (v *Viewport) Window() Window { return v.window }

func (v *Viewport) Size() (uint32, uint32) { return v.width, v.height }

func (v *Viewport) State() ViewportState { return v.state }

// AcquiredImageIndex gets the acquired swapchain image, -1 when none is held.
func (v *Viewport) AcquiredImageIndex() int { return v.acquiredImageIndex }

func (v *Viewport) PresentCount() uint64 { return v.presentCount }

// RecreateCount counts swapchain rebuilds after the first creation.
func (v *Viewport) RecreateCount() uint64 { return v.recreateCount }

func (v *Viewport) BackBufferViews() []ImageViewHandle { return v.backBufferViews }

func (v *Viewport) DelayAcquire() bool { return v.delayAcquire }

// Destroy tears down the swapchain and everything attached to it.
func (v *Viewport) Destroy() {
	v.destroySwapchain()
}
