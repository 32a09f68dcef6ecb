package dieselrhi

import (
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// SwapchainStatus is the outcome of an acquire or present. Negative values ask the caller
// to recreate the swapchain.
type SwapchainStatus int

const (
	SwapchainHealthy     SwapchainStatus = 0
	SwapchainOutOfDate   SwapchainStatus = -1
	SwapchainSurfaceLost SwapchainStatus = -2
)

func (s SwapchainStatus) String() string {
	switch s {
	case SwapchainHealthy:
		return "healthy"
	case SwapchainOutOfDate:
		return "out of date"
	case SwapchainSurfaceLost:
		return "surface lost"
	}
	return "unknown"
}

func statusFromResult(ret Result) (SwapchainStatus, bool) {
	switch ret {
	case ErrorOutOfDate:
		return SwapchainOutOfDate, true
	case ErrorSurfaceLost:
		return SwapchainSurfaceLost, true
	}
	return SwapchainHealthy, false
}

// acquireFenceTimeout is how long an acquire waits on its CPU fence, in nanoseconds.
const acquireFenceTimeout = 5 * 1000 * 1000 * 1000

// SwapchainRequest is what a viewport asks of a new swapchain.
type SwapchainRequest struct {
	PixelFormat PixelFormat
	Width       uint32
	Height      uint32
	BufferCount uint32
	LockToVsync bool
}

// Swapchain owns the surface of a window, the native swapchain, its images and the ring
// of acquire semaphores.
type Swapchain struct {
	device *Device
	log    *slog.Logger
	window Window

	surface     SurfaceHandle
	handle      SwapchainHandle
	format      SurfaceFormat
	pixelFormat PixelFormat
	extent      Extent2D
	presentMode PresentMode
	images      []ImageHandle

	acquireSemaphores []SemaphoreHandle
	acquireFences     []*Fence
	semaphoreIndex    int

	currentImageIndex int
	numAcquireCalls   uint64
	numPresentCalls   uint64
}

func (s *Swapchain) fatalf(format string, args ...interface{}) {
	s.device.fatal(errors.Newf(format, args...), s.Destroy)
}

// NewSwapchain creates a surface for win and a swapchain on it. Failures to negotiate a
// format or to create native objects are fatal.
func NewSwapchain(device *Device, win Window, req SwapchainRequest) (*Swapchain, error) {
	s := &Swapchain{
		device:            device,
		log:               componentLogger(device.log, "swapchain"),
		window:            win,
		currentImageIndex: -1,
		semaphoreIndex:    -1,
	}
	surface, err := device.instance.CreateSurface(win)
	if err != nil {
		return nil, errors.Wrap(err, "create window surface")
	}
	s.surface = surface
	if err := device.SetupPresentQueue(surface); err != nil {
		s.Destroy()
		return nil, err
	}
	if err := s.create(req); err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

func (s *Swapchain) create(req SwapchainRequest) error {
	gpu := s.device.gpu
	formats, err := gpu.SurfaceFormats(s.surface)
	if err != nil {
		return errors.Wrap(err, "query surface formats")
	}
	format, pf, ok := selectSurfaceFormat(req.PixelFormat, formats)
	if !ok {
		names := make([]string, 0, len(formats))
		for _, f := range formats {
			names = append(names, f.Format.String())
		}
		s.fatalf("no usable surface format for %s, supported: %s", req.PixelFormat, strings.Join(names, ", "))
		return errors.Newf("no usable surface format for %s", req.PixelFormat)
	}
	if req.PixelFormat != PixelFormatUnknown && pf != req.PixelFormat {
		s.log.Warn("requested pixel format is not supported by the surface, falling back",
			slog.String("requested", req.PixelFormat.String()),
			slog.String("selected", pf.String()))
	}
	s.format = format
	s.pixelFormat = pf

	caps, err := gpu.SurfaceCapabilities(s.surface)
	if err != nil {
		return errors.Wrap(err, "query surface capabilities")
	}
	s.extent = swapchainExtent(caps, req.Width, req.Height)

	modes, err := gpu.SurfacePresentModes(s.surface)
	if err != nil {
		return errors.Wrap(err, "query present modes")
	}
	s.presentMode = s.selectPresentMode(modes, req.LockToVsync)

	count := clampImageCount(req.BufferCount, caps)
	transform := caps.CurrentTransform
	if caps.SupportedTransforms&SurfaceTransformIdentity != 0 {
		transform = SurfaceTransformIdentity
	}
	alpha := CompositeAlphaOpaque
	for _, a := range []CompositeAlphaFlags{CompositeAlphaOpaque, CompositeAlphaPreMultiplied, CompositeAlphaPostMultiplied, CompositeAlphaInherit} {
		if caps.SupportedCompositeAlpha&a != 0 {
			alpha = a
			break
		}
	}

	info := SwapchainInfo{
		Surface:        s.surface,
		MinImageCount:  count,
		Format:         format.Format,
		ColorSpace:     format.ColorSpace,
		Extent:         s.extent,
		Usage:          ImageUsageColorAttachment | ImageUsageTransferDst,
		PreTransform:   transform,
		CompositeAlpha: alpha,
		PresentMode:    s.presentMode,
	}
	handle, ret := s.device.native.CreateSwapchain(info)
	if isError(ret) {
		return newErrorf(ret, "create swapchain")
	}
	s.handle = handle
	images, ret := s.device.native.SwapchainImages(handle)
	if isError(ret) {
		return newErrorf(ret, "get swapchain images")
	}
	s.images = images

	for range images {
		sem, ret := s.device.native.CreateSemaphore()
		if isError(ret) {
			return newErrorf(ret, "create acquire semaphore")
		}
		s.acquireSemaphores = append(s.acquireSemaphores, sem)
		if s.device.cfg.RequireAcquireFences {
			fence, err := s.device.fenceManager.AllocateFence(true)
			if err != nil {
				return errors.Wrap(err, "create acquire fence")
			}
			s.acquireFences = append(s.acquireFences, fence)
		}
	}

	s.log.Info("created swapchain",
		slog.Int("images", len(images)),
		slog.Uint64("width", uint64(s.extent.Width)),
		slog.Uint64("height", uint64(s.extent.Height)),
		slog.String("format", pf.String()),
		slog.String("presentMode", s.presentMode.String()))
	return nil
}

// swapchainExtent takes the surface extent, or the requested size when the surface leaves
// it to the swapchain, clamped to the supported range.
func swapchainExtent(caps SurfaceCapabilities, width, height uint32) Extent2D {
	extent := caps.CurrentExtent
	if extent.Width == ^uint32(0) {
		extent = Extent2D{Width: width, Height: height}
	}
	extent.Width = clampUint32(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = clampUint32(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	return extent
}

func clampUint32(v, min, max uint32) uint32 {
	if v < min {
		v = min
	}
	if max > 0 && v > max {
		v = max
	}
	return v
}

// clampImageCount clamps desired to the surface's image count range. A zero maximum is unlimited.
func clampImageCount(desired uint32, caps SurfaceCapabilities) uint32 {
	if desired < caps.MinImageCount {
		desired = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && desired > caps.MaxImageCount {
		desired = caps.MaxImageCount
	}
	return desired
}

func (s *Swapchain) selectPresentMode(modes []PresentMode, lockToVsync bool) PresentMode {
	has := func(m PresentMode) bool {
		for _, v := range modes {
			if v == m {
				return true
			}
		}
		return false
	}
	if s.device.cfg.Mobile {
		return PresentModeFifo
	}
	if !lockToVsync {
		for _, m := range []PresentMode{PresentModeMailbox, PresentModeImmediate} {
			if has(m) {
				return m
			}
		}
	}
	if has(PresentModeFifo) {
		return PresentModeFifo
	}
	if len(modes) == 0 {
		s.log.Warn("surface reports no present modes, using FIFO")
		return PresentModeFifo
	}
	s.log.Warn("FIFO present mode is not supported, using the first reported mode",
		slog.String("mode", modes[0].String()))
	return modes[0]
}

func (s *Swapchain) Handle() SwapchainHandle { return s.handle }

func (s *Swapchain) Surface() SurfaceHandle { return s.surface }

func (s *Swapchain) Window() Window { return s.window }

func (s *Swapchain) Extent() Extent2D { return s.extent }

func (s *Swapchain) Format() SurfaceFormat { return s.format }

func (s *Swapchain) PixelFormat() PixelFormat { return s.pixelFormat }

func (s *Swapchain) PresentMode() PresentMode { return s.presentMode }

func (s *Swapchain) Images() []ImageHandle { return s.images }

func (s *Swapchain) NumImages() int { return len(s.images) }

// CurrentImageIndex gets the index returned by the last successful acquire, -1 before any.
func (s *Swapchain) CurrentImageIndex() int { return s.currentImageIndex }

// Outstanding gets the number of images acquired and not yet presented.
func (s *Swapchain) Outstanding() int { return int(s.numAcquireCalls - s.numPresentCalls) }

// AcquireImageIndex acquires the next presentable image. It returns the image index and
// the semaphore signaled when the image is ready, or a negative SwapchainStatus as the
// index when the swapchain must be recreated.
func (s *Swapchain) AcquireImageIndex() (int, SemaphoreHandle) {
	check(s.Outstanding() < len(s.acquireSemaphores),
		"acquiring with %d of %d images outstanding, present an image first", s.Outstanding(), len(s.acquireSemaphores))

	prev := s.semaphoreIndex
	s.semaphoreIndex = (s.semaphoreIndex + 1) % len(s.acquireSemaphores)
	sem := s.acquireSemaphores[s.semaphoreIndex]

	fence := NullFence
	var acquireFence *Fence
	if len(s.acquireFences) > 0 {
		acquireFence = s.acquireFences[s.semaphoreIndex]
		s.device.fenceManager.ResetFence(acquireFence)
		fence = acquireFence.Handle()
	}

	index, ret := s.device.native.AcquireNextImage(s.handle, InfiniteTimeout, sem, fence)
	if status, recreate := statusFromResult(ret); recreate {
		s.semaphoreIndex = prev
		return int(status), NullSemaphore
	}
	if ret != Success && ret != Suboptimal {
		s.device.fatal(newErrorf(ret, "acquire next image"))
		s.semaphoreIndex = prev
		return int(SwapchainSurfaceLost), NullSemaphore
	}
	s.numAcquireCalls++
	s.currentImageIndex = int(index)

	if acquireFence != nil && !s.device.fenceManager.WaitForFence(acquireFence, acquireFenceTimeout) {
		s.log.Warn("acquire fence did not signal in time", slog.Int("image", s.currentImageIndex))
	}
	return s.currentImageIndex, sem
}

// Present queues the current image on presentQueue once renderingDone is signaled.
func (s *Swapchain) Present(gfxQueue, presentQueue *Queue, renderingDone SemaphoreHandle) SwapchainStatus {
	check(s.currentImageIndex >= 0, "present without an acquired image")
	if presentQueue == nil {
		presentQueue = gfxQueue
	}
	info := PresentInfo{
		Swapchain:  s.handle,
		ImageIndex: uint32(s.currentImageIndex),
	}
	if renderingDone != NullSemaphore {
		info.WaitSemaphores = []SemaphoreHandle{renderingDone}
	}
	ret := presentQueue.Present(info)
	if status, recreate := statusFromResult(ret); recreate {
		return status
	}
	if ret != Success && ret != Suboptimal {
		s.device.fatal(newErrorf(ret, "queue present"))
		return SwapchainSurfaceLost
	}
	s.numPresentCalls++
	return SwapchainHealthy
}

// Destroy destroys the swapchain, its semaphores and fences, and the surface.
// The images must no longer be in use.
func (s *Swapchain) Destroy() {
	native := s.device.native
	for _, sem := range s.acquireSemaphores {
		native.DestroySemaphore(sem)
	}
	s.acquireSemaphores = nil
	for _, f := range s.acquireFences {
		s.device.fenceManager.ReleaseFence(f)
	}
	s.acquireFences = nil
	if s.handle != 0 {
		native.DestroySwapchain(s.handle)
		s.handle = 0
	}
	if s.surface != 0 {
		s.device.instance.DestroySurface(s.surface)
		s.surface = 0
	}
	s.images = nil
	s.currentImageIndex = -1
}
