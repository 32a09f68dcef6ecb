package dieselrhi

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"

	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeObjects tracks every live native object by kind.
type fakeObjects struct {
	mu      sync.Mutex
	next    uint64
	live    map[string]map[uint64]bool
	created map[string]int
	misused []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{
		live:    make(map[string]map[uint64]bool),
		created: make(map[string]int),
	}
}

func (o *fakeObjects) add(kind string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next++
	if o.live[kind] == nil {
		o.live[kind] = make(map[uint64]bool)
	}
	o.live[kind][o.next] = true
	o.created[kind]++
	return o.next
}

// id hands out a handle for an object owned by another, like a swapchain image.
func (o *fakeObjects) id() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next++
	return o.next
}

func (o *fakeObjects) remove(kind string, h uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h == 0 {
		return
	}
	if !o.live[kind][h] {
		o.misused = append(o.misused, fmt.Sprintf("destroy of dead %s %d", kind, h))
		return
	}
	delete(o.live[kind], h)
}

func (o *fakeObjects) misuse(format string, args ...interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.misused = append(o.misused, fmt.Sprintf(format, args...))
}

func (o *fakeObjects) count(kind string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.live[kind])
}

func (o *fakeObjects) createdCount(kind string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.created[kind]
}

func (o *fakeObjects) leaks() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for kind, objs := range o.live {
		if len(objs) > 0 {
			out = append(out, fmt.Sprintf("%d %s", len(objs), kind))
		}
	}
	sort.Strings(out)
	return out
}

func (o *fakeObjects) misuses() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.misused...)
}

type fakeDriver struct {
	objs       *fakeObjects
	extensions []string
	layers     []string
	gpus       []*fakeGPU

	instanceInfo InstanceInfo
	device       *fakeDevice
}

func newFakeDriver() *fakeDriver {
	drv := &fakeDriver{
		objs:       newFakeObjects(),
		extensions: []string{ExtensionSurface, "VK_KHR_fake_surface", ExtensionDebugReport},
		layers:     []string{LayerValidation},
	}
	drv.gpus = []*fakeGPU{newFakeGPU(drv, "fake discrete", PhysicalDeviceTypeDiscreteGPU)}
	return drv
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) InstanceExtensions() ([]string, error) { return d.extensions, nil }

func (d *fakeDriver) InstanceLayers() ([]string, error) { return d.layers, nil }

func (d *fakeDriver) CreateInstance(info InstanceInfo) (Instance, error) {
	for _, ext := range info.Extensions {
		if !containsString(d.extensions, ext) {
			return nil, ErrorExtensionNotPresent
		}
	}
	d.instanceInfo = info
	return &fakeInstance{drv: d, handle: d.objs.add("instance")}, nil
}

type fakeInstance struct {
	drv    *fakeDriver
	handle uint64
}

func (i *fakeInstance) PhysicalDevices() ([]PhysicalDevice, error) {
	gpus := make([]PhysicalDevice, len(i.drv.gpus))
	for n, g := range i.drv.gpus {
		gpus[n] = g
	}
	return gpus, nil
}

func (i *fakeInstance) CreateSurface(win Window) (SurfaceHandle, error) {
	if _, err := win.CreateSurface(i.handle); err != nil {
		return 0, err
	}
	return SurfaceHandle(i.drv.objs.add("surface")), nil
}

func (i *fakeInstance) DestroySurface(s SurfaceHandle) { i.drv.objs.remove("surface", uint64(s)) }

func (i *fakeInstance) Destroy() { i.drv.objs.remove("instance", i.handle) }

type fakeGPU struct {
	drv        *fakeDriver
	props      PhysicalDeviceProperties
	families   []QueueFamily
	extensions []string
	formats    []SurfaceFormat
	modes      []PresentMode
	caps       SurfaceCapabilities
	// presentFamilies lists the families that can present, every family when nil.
	presentFamilies []uint32
}

func testLimits() DeviceLimits {
	return DeviceLimits{
		MaxImageDimension2D:               16384,
		MaxBoundDescriptorSets:            8,
		MaxDescriptorSetSamplers:          1024,
		MaxDescriptorSetUniformBuffers:    72,
		MaxDescriptorSetUniformBuffersDyn: 8,
		MaxDescriptorSetStorageBuffers:    64,
		MaxDescriptorSetStorageBuffersDyn: 8,
		MaxDescriptorSetSampledImages:     1024,
		MaxDescriptorSetStorageImages:     64,
		MaxDescriptorSetInputAttachments:  8,
		MaxColorAttachments:               8,
		MaxFramebufferWidth:               16384,
		MaxFramebufferHeight:              16384,
		MaxFramebufferLayers:              2048,
	}
}

func newFakeGPU(drv *fakeDriver, name string, typ PhysicalDeviceType) *fakeGPU {
	return &fakeGPU{
		drv: drv,
		props: PhysicalDeviceProperties{
			Name:       name,
			VendorID:   0x1d1d,
			DeviceID:   uint32(len(drv.gpus) + 1),
			Type:       typ,
			APIVersion: 1<<22 | 1<<12,
			Limits:     testLimits(),
		},
		families:   []QueueFamily{{Flags: QueueGraphics | QueueCompute | QueueTransfer, Count: 1}},
		extensions: []string{ExtensionSwapchain, ExtensionDebugMarker},
		formats: []SurfaceFormat{
			{Format: FormatB8G8R8A8Unorm, ColorSpace: ColorSpaceSrgbNonlinear},
			{Format: FormatR8G8B8A8Unorm, ColorSpace: ColorSpaceSrgbNonlinear},
		},
		modes: []PresentMode{PresentModeFifo, PresentModeMailbox},
		caps: SurfaceCapabilities{
			MinImageCount:           2,
			MaxImageCount:           8,
			CurrentExtent:           Extent2D{Width: ^uint32(0), Height: ^uint32(0)},
			MinImageExtent:          Extent2D{Width: 1, Height: 1},
			MaxImageExtent:          Extent2D{Width: 8192, Height: 8192},
			SupportedTransforms:     SurfaceTransformIdentity,
			CurrentTransform:        SurfaceTransformIdentity,
			SupportedCompositeAlpha: CompositeAlphaOpaque,
			SupportedUsage:          ImageUsageColorAttachment | ImageUsageTransferDst,
		},
	}
}

func (g *fakeGPU) Properties() PhysicalDeviceProperties { return g.props }

func (g *fakeGPU) QueueFamilies() []QueueFamily { return g.families }

func (g *fakeGPU) Extensions() ([]string, error) { return g.extensions, nil }

func (g *fakeGPU) SurfaceSupport(family uint32, s SurfaceHandle) (bool, error) {
	if g.presentFamilies == nil {
		return true, nil
	}
	for _, f := range g.presentFamilies {
		if f == family {
			return true, nil
		}
	}
	return false, nil
}

func (g *fakeGPU) SurfaceCapabilities(s SurfaceHandle) (SurfaceCapabilities, error) { return g.caps, nil }

func (g *fakeGPU) SurfaceFormats(s SurfaceHandle) ([]SurfaceFormat, error) { return g.formats, nil }

func (g *fakeGPU) SurfacePresentModes(s SurfaceHandle) ([]PresentMode, error) { return g.modes, nil }

func (g *fakeGPU) CreateDevice(info DeviceInfo) (NativeDevice, error) {
	for _, ext := range info.Extensions {
		if !containsString(g.extensions, ext) {
			return nil, ErrorExtensionNotPresent
		}
	}
	d := &fakeDevice{
		objs:       g.drv.objs,
		info:       info,
		handle:     g.drv.objs.add("device"),
		signaled:   make(map[FenceHandle]bool),
		pending:    make(map[FenceHandle]bool),
		cmdState:   make(map[CommandBufferHandle]string),
		swapchains: make(map[SwapchainHandle]*fakeSwapchain),
		poolCap:    make(map[DescriptorPoolHandle]int),
		poolUsed:   make(map[DescriptorPoolHandle]int),

		awaiting:     make(map[ImageHandle]bool),
		firstBarrier: make(map[ImageHandle]PipelineStageFlags),
		acquired:     make(map[SemaphoreHandle]ImageHandle),
	}
	g.drv.device = d
	return d, nil
}

type fakeSwapchain struct {
	info   SwapchainInfo
	images []ImageHandle
	next   uint32
}

// fakeDevice completes GPU work instantly unless holdFences is set, in which case
// submitted fences signal on the next wait.
type fakeDevice struct {
	objs   *fakeObjects
	info   DeviceInfo
	handle uint64

	mu         sync.Mutex
	holdFences bool
	signaled   map[FenceHandle]bool
	pending    map[FenceHandle]bool
	cmdState   map[CommandBufferHandle]string

	swapchains     map[SwapchainHandle]*fakeSwapchain
	lastSwapchain  SwapchainInfo
	acquireResults []Result
	presentResults []Result

	// poolSetLimit caps the sets of every descriptor pool below its requested size.
	poolSetLimit int
	poolCap      map[DescriptorPoolHandle]int
	poolUsed     map[DescriptorPoolHandle]int
	poolResets   int

	// awaiting holds images acquired since their last barrier, firstBarrier the source
	// stages of the first barrier recorded on them, acquired the image behind each
	// acquire semaphore until a submit waits on it.
	awaiting     map[ImageHandle]bool
	firstBarrier map[ImageHandle]PipelineStageFlags
	acquired     map[SemaphoreHandle]ImageHandle
	acquireWaits int

	// onBegin runs before every command buffer begin.
	onBegin func()

	submits      int
	waits        int
	acquires     int
	presented    []uint32
	barriers     int
	copies       int
	passBegins   int
	clearValues  int
	openLabels   int
	labelsBegun  int
	lastPassInfo RenderPassInfo
}

func (d *fakeDevice) hold(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.holdFences = on
}

func (d *fakeDevice) scriptAcquire(results ...Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquireResults = append(d.acquireResults, results...)
}

func (d *fakeDevice) scriptPresent(results ...Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presentResults = append(d.presentResults, results...)
}

func (d *fakeDevice) stats() (submits, acquires, presents int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submits, d.acquires, len(d.presented)
}

func (d *fakeDevice) Queue(family, index uint32) QueueHandle { return QueueHandle(family + 1) }

func (d *fakeDevice) signalPending() {
	for f := range d.pending {
		d.signaled[f] = true
		delete(d.pending, f)
	}
}

func (d *fakeDevice) WaitIdle() Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signalPending()
	return Success
}

func (d *fakeDevice) QueueWaitIdle(q QueueHandle) Result { return d.WaitIdle() }

func (d *fakeDevice) QueueSubmit(q QueueHandle, submits []SubmitInfo, fence FenceHandle) Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range submits {
		for _, cb := range s.CommandBuffers {
			if d.cmdState[cb] != "ended" {
				d.objs.misuse("submit of command buffer %d in state %q", cb, d.cmdState[cb])
			}
			d.cmdState[cb] = "pending"
		}
		d.waits += len(s.Waits)
		for _, w := range s.Waits {
			img, ok := d.acquired[w.Semaphore]
			if !ok {
				continue
			}
			delete(d.acquired, w.Semaphore)
			d.acquireWaits++
			if src := d.firstBarrier[img]; src&w.Stage == 0 {
				d.objs.misuse("first barrier on acquired image %d has source stages %#x, acquire waited at %#x", img, src, w.Stage)
			}
		}
	}
	d.submits++
	if fence != NullFence {
		if d.holdFences {
			d.pending[fence] = true
		} else {
			d.signaled[fence] = true
		}
	}
	return Success
}

func (d *fakeDevice) QueuePresent(q QueueHandle, info PresentInfo) Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	ret := Success
	if len(d.presentResults) > 0 {
		ret = d.presentResults[0]
		d.presentResults = d.presentResults[1:]
	}
	if ret == Success || ret == Suboptimal {
		d.presented = append(d.presented, info.ImageIndex)
	}
	return ret
}

func (d *fakeDevice) CreateSemaphore() (SemaphoreHandle, Result) {
	return SemaphoreHandle(d.objs.add("semaphore")), Success
}

func (d *fakeDevice) DestroySemaphore(s SemaphoreHandle) { d.objs.remove("semaphore", uint64(s)) }

func (d *fakeDevice) CreateFence(signaled bool) (FenceHandle, Result) {
	f := FenceHandle(d.objs.add("fence"))
	d.mu.Lock()
	d.signaled[f] = signaled
	d.mu.Unlock()
	return f, Success
}

func (d *fakeDevice) DestroyFence(f FenceHandle) {
	d.objs.remove("fence", uint64(f))
	d.mu.Lock()
	delete(d.signaled, f)
	delete(d.pending, f)
	d.mu.Unlock()
}

func (d *fakeDevice) WaitForFences(fences []FenceHandle, waitAll bool, timeout uint64) Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range fences {
		d.signaled[f] = true
		delete(d.pending, f)
	}
	return Success
}

func (d *fakeDevice) ResetFences(fences []FenceHandle) Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range fences {
		d.signaled[f] = false
	}
	return Success
}

func (d *fakeDevice) FenceStatus(f FenceHandle) Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.signaled[f] {
		return Success
	}
	return NotReady
}

func (d *fakeDevice) CreateSwapchain(info SwapchainInfo) (SwapchainHandle, Result) {
	h := SwapchainHandle(d.objs.add("swapchain"))
	sc := &fakeSwapchain{info: info}
	for i := uint32(0); i < info.MinImageCount; i++ {
		sc.images = append(sc.images, ImageHandle(d.objs.id()))
	}
	d.mu.Lock()
	d.swapchains[h] = sc
	d.lastSwapchain = info
	d.mu.Unlock()
	return h, Success
}

func (d *fakeDevice) DestroySwapchain(sc SwapchainHandle) {
	d.objs.remove("swapchain", uint64(sc))
	d.mu.Lock()
	delete(d.swapchains, sc)
	d.mu.Unlock()
}

func (d *fakeDevice) SwapchainImages(sc SwapchainHandle) ([]ImageHandle, Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ImageHandle(nil), d.swapchains[sc].images...), Success
}

func (d *fakeDevice) AcquireNextImage(sc SwapchainHandle, timeout uint64, sem SemaphoreHandle, fence FenceHandle) (uint32, Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquires++
	ret := Success
	if len(d.acquireResults) > 0 {
		ret = d.acquireResults[0]
		d.acquireResults = d.acquireResults[1:]
	}
	if ret != Success && ret != Suboptimal {
		return 0, ret
	}
	s := d.swapchains[sc]
	index := s.next % uint32(len(s.images))
	s.next++
	if sem != NullSemaphore {
		img := s.images[index]
		d.acquired[sem] = img
		d.awaiting[img] = true
		delete(d.firstBarrier, img)
	}
	if fence != NullFence {
		d.signaled[fence] = true
	}
	return index, ret
}

func (d *fakeDevice) CreateImage(info ImageInfo) (ImageHandle, Result) {
	return ImageHandle(d.objs.add("image")), Success
}

func (d *fakeDevice) DestroyImage(img ImageHandle) { d.objs.remove("image", uint64(img)) }

func (d *fakeDevice) CreateImageView(info ImageViewInfo) (ImageViewHandle, Result) {
	if info.Image == 0 {
		d.objs.misuse("image view of a null image")
	}
	return ImageViewHandle(d.objs.add("image view")), Success
}

func (d *fakeDevice) DestroyImageView(view ImageViewHandle) { d.objs.remove("image view", uint64(view)) }

func (d *fakeDevice) CreateCommandPool(family uint32) (CommandPoolHandle, Result) {
	return CommandPoolHandle(d.objs.add("command pool")), Success
}

func (d *fakeDevice) DestroyCommandPool(pool CommandPoolHandle) {
	d.objs.remove("command pool", uint64(pool))
}

func (d *fakeDevice) AllocateCommandBuffer(pool CommandPoolHandle) (CommandBufferHandle, Result) {
	cb := CommandBufferHandle(d.objs.add("command buffer"))
	d.mu.Lock()
	d.cmdState[cb] = "initial"
	d.mu.Unlock()
	return cb, Success
}

func (d *fakeDevice) FreeCommandBuffer(pool CommandPoolHandle, cb CommandBufferHandle) {
	d.objs.remove("command buffer", uint64(cb))
	d.mu.Lock()
	delete(d.cmdState, cb)
	d.mu.Unlock()
}

func (d *fakeDevice) transition(cb CommandBufferHandle, from, to string) Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if from != "" && d.cmdState[cb] != from {
		d.objs.misuse("command buffer %d moved to %q from %q", cb, to, d.cmdState[cb])
	}
	d.cmdState[cb] = to
	return Success
}

func (d *fakeDevice) BeginCommandBuffer(cb CommandBufferHandle) Result {
	if d.onBegin != nil {
		d.onBegin()
	}
	return d.transition(cb, "initial", "recording")
}

func (d *fakeDevice) EndCommandBuffer(cb CommandBufferHandle) Result {
	return d.transition(cb, "recording", "ended")
}

func (d *fakeDevice) ResetCommandBuffer(cb CommandBufferHandle) Result {
	return d.transition(cb, "", "initial")
}

func (d *fakeDevice) recording(cb CommandBufferHandle, what string) {
	if d.cmdState[cb] != "recording" {
		d.objs.misuse("%s recorded into command buffer %d in state %q", what, cb, d.cmdState[cb])
	}
}

func (d *fakeDevice) CmdPipelineBarrier(cb CommandBufferHandle, src, dst PipelineStageFlags, barriers []ImageBarrier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recording(cb, "barrier")
	d.barriers += len(barriers)
	for _, b := range barriers {
		if d.awaiting[b.Image] {
			delete(d.awaiting, b.Image)
			d.firstBarrier[b.Image] = src
		}
	}
}

func (d *fakeDevice) CmdCopyImage(cb CommandBufferHandle, src ImageHandle, srcLayout ImageLayout, dst ImageHandle, dstLayout ImageLayout, regions []ImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recording(cb, "copy")
	if srcLayout != ImageLayoutTransferSrcOptimal || dstLayout != ImageLayoutTransferDstOptimal {
		d.objs.misuse("copy with layouts %d -> %d", srcLayout, dstLayout)
	}
	d.copies++
}

func (d *fakeDevice) CmdBeginRenderPass(cb CommandBufferHandle, info RenderPassBeginInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recording(cb, "render pass")
	d.passBegins++
	d.clearValues = len(info.ClearValues)
}

func (d *fakeDevice) CmdEndRenderPass(cb CommandBufferHandle) {}

func (d *fakeDevice) CmdBeginLabel(cb CommandBufferHandle, name string, color [4]float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openLabels++
	d.labelsBegun++
}

func (d *fakeDevice) CmdEndLabel(cb CommandBufferHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openLabels--
}

func (d *fakeDevice) CreateRenderPass(info RenderPassInfo) (RenderPassHandle, Result) {
	d.mu.Lock()
	d.lastPassInfo = info
	d.mu.Unlock()
	return RenderPassHandle(d.objs.add("render pass")), Success
}

func (d *fakeDevice) DestroyRenderPass(rp RenderPassHandle) { d.objs.remove("render pass", uint64(rp)) }

func (d *fakeDevice) CreateFramebuffer(info FramebufferInfo) (FramebufferHandle, Result) {
	return FramebufferHandle(d.objs.add("framebuffer")), Success
}

func (d *fakeDevice) DestroyFramebuffer(fb FramebufferHandle) { d.objs.remove("framebuffer", uint64(fb)) }

func (d *fakeDevice) CreateDescriptorSetLayout(bindings []DescriptorSetLayoutBinding) (DescriptorSetLayoutHandle, Result) {
	return DescriptorSetLayoutHandle(d.objs.add("descriptor set layout")), Success
}

func (d *fakeDevice) DestroyDescriptorSetLayout(l DescriptorSetLayoutHandle) {
	d.objs.remove("descriptor set layout", uint64(l))
}

func (d *fakeDevice) CreateDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize) (DescriptorPoolHandle, Result) {
	p := DescriptorPoolHandle(d.objs.add("descriptor pool"))
	d.mu.Lock()
	defer d.mu.Unlock()
	d.poolCap[p] = int(maxSets)
	if d.poolSetLimit > 0 && d.poolSetLimit < int(maxSets) {
		d.poolCap[p] = d.poolSetLimit
	}
	return p, Success
}

func (d *fakeDevice) DestroyDescriptorPool(p DescriptorPoolHandle) {
	d.objs.remove("descriptor pool", uint64(p))
	d.mu.Lock()
	delete(d.poolCap, p)
	delete(d.poolUsed, p)
	d.mu.Unlock()
}

func (d *fakeDevice) ResetDescriptorPool(p DescriptorPoolHandle) Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.poolUsed[p] = 0
	d.poolResets++
	return Success
}

func (d *fakeDevice) AllocateDescriptorSets(p DescriptorPoolHandle, layouts []DescriptorSetLayoutHandle) ([]DescriptorSetHandle, Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.poolUsed[p]+len(layouts) > d.poolCap[p] {
		return nil, ErrorOutOfPoolMemory
	}
	d.poolUsed[p] += len(layouts)
	sets := make([]DescriptorSetHandle, len(layouts))
	for i := range sets {
		sets[i] = DescriptorSetHandle(d.objs.id())
	}
	return sets, Success
}

func (d *fakeDevice) FreeDescriptorSets(p DescriptorPoolHandle, sets []DescriptorSetHandle) Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.poolUsed[p] -= len(sets)
	return Success
}

func (d *fakeDevice) Destroy() { d.objs.remove("device", d.handle) }

type fakeWindow struct {
	width, height int
	messages      []string
}

func (w *fakeWindow) FramebufferSize() (int, int) { return w.width, w.height }

func (w *fakeWindow) CreateSurface(instance interface{}) (uintptr, error) { return 1, nil }

func (w *fakeWindow) Name() string { return "fake" }

func (w *fakeWindow) RequiredInstanceExtensions() []string { return []string{"VK_KHR_fake_surface"} }

func (w *fakeWindow) MessageBox(title, message string) error {
	w.messages = append(w.messages, message)
	return nil
}

type fatalRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *fatalRecorder) handle(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *fatalRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func (r *fatalRecorder) last() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[len(r.errs)-1]
}

type testEnv struct {
	drv    *fakeDriver
	win    *fakeWindow
	fatals *fatalRecorder
	cfg    Config
	rhi    *RHI
}

func testConfig(fatals *fatalRecorder) Config {
	cfg := DefaultConfig()
	cfg.RHIThread = RHIThreadOff
	cfg.Logger = testLogger()
	cfg.OnFatal = fatals.handle
	return cfg
}

// newTestEnv creates an RHI on a fake driver. configure may adjust the config and the
// fake GPUs before the device is created.
func newTestEnv(t *testing.T, configure func(cfg *Config, drv *fakeDriver)) *testEnv {
	t.Helper()
	env := &testEnv{
		drv:    newFakeDriver(),
		win:    &fakeWindow{width: 1920, height: 1080},
		fatals: &fatalRecorder{},
	}
	env.cfg = testConfig(env.fatals)
	if configure != nil {
		configure(&env.cfg, env.drv)
	}
	rhi, err := NewRHI(env.drv, env.win, env.cfg)
	if err != nil {
		t.Fatalf("NewRHI: %+v", err)
	}
	env.rhi = rhi
	return env
}

func (e *testEnv) device() *fakeDevice { return e.drv.device }

func (e *testEnv) viewport(t *testing.T, width, height uint32) *Viewport {
	t.Helper()
	v, err := e.rhi.CreateViewport(e.win, width, height, PixelFormatUnknown)
	if err != nil {
		t.Fatalf("CreateViewport: %+v", err)
	}
	return v
}

// frame runs one renderer frame that clears the back buffer and presents it.
func (e *testEnv) frame(t *testing.T, v *Viewport) {
	t.Helper()
	r := e.rhi
	r.BeginFrame()
	r.BeginDrawingViewport(v)
	bb := r.GetViewportBackBuffer(v)
	if bb == nil {
		t.Fatalf("no back buffer")
	}
	r.PushEvent("Frame", [4]float32{1, 1, 1, 1})
	var err error
	r.Execute(func(ctx *CommandListContext) {
		err = ctx.BeginRenderPass(ColorTarget(bb, LoadActionClear, StoreActionStore), []ClearValue{{Color: [4]float32{0, 0, 0, 1}}})
		ctx.EndRenderPass()
	})
	r.PopEvent()
	r.EndDrawingViewport(v, true, e.cfg.LockToVsync)
	r.AdvanceFrameForGetViewportBackBuffer(v)
	r.EndFrame()
	r.FlushRenderingCommands()
	if err != nil {
		t.Fatalf("BeginRenderPass: %+v", err)
	}
}

// shutdown destroys the RHI and reports leaked or misused native objects.
func (e *testEnv) shutdown(t *testing.T) {
	t.Helper()
	e.rhi.Shutdown()
	if leaks := e.drv.objs.leaks(); len(leaks) > 0 {
		t.Errorf("leaked native objects: %v", leaks)
	}
	e.checkMisuse(t)
}

func (e *testEnv) checkMisuse(t *testing.T) {
	t.Helper()
	for _, m := range e.drv.objs.misuses() {
		t.Errorf("native misuse: %s", m)
	}
}
