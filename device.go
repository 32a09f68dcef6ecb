package dieselrhi

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// PhysicalDeviceRecord describes one enumerated GPU. It is built once and never modified.
type PhysicalDeviceRecord struct {
	Index int
	PhysicalDeviceProperties
	Extensions    []string
	QueueFamilies []QueueFamily
	// Family indices, -1 when the device has no suitable family.
	GraphicsFamily int
	ComputeFamily  int
	TransferFamily int

	gpu PhysicalDevice
}

func (r *PhysicalDeviceRecord) IsDiscrete() bool {
	return r.Type == PhysicalDeviceTypeDiscreteGPU
}

func (r *PhysicalDeviceRecord) HasExtension(name string) bool {
	return containsString(r.Extensions, name)
}

// Suitable reports whether the device can render and present.
func (r *PhysicalDeviceRecord) Suitable() bool {
	return r.GraphicsFamily >= 0 && r.HasExtension(ExtensionSwapchain)
}

func newPhysicalDeviceRecord(index int, gpu PhysicalDevice) (PhysicalDeviceRecord, error) {
	extensions, err := gpu.Extensions()
	if err != nil {
		return PhysicalDeviceRecord{}, errors.Wrapf(err, "enumerate extensions of GPU %d", index)
	}
	families := gpu.QueueFamilies()
	r := PhysicalDeviceRecord{
		Index:                    index,
		PhysicalDeviceProperties: gpu.Properties(),
		Extensions:               extensions,
		QueueFamilies:            families,
		GraphicsFamily:           -1,
		ComputeFamily:            -1,
		TransferFamily:           -1,
		gpu:                      gpu,
	}
	for i, f := range families {
		if f.Count == 0 {
			continue
		}
		if f.Flags&QueueGraphics != 0 && r.GraphicsFamily < 0 {
			r.GraphicsFamily = i
		}
		if f.Flags&QueueCompute != 0 && f.Flags&QueueGraphics == 0 && r.ComputeFamily < 0 {
			r.ComputeFamily = i
		}
		if f.Flags&QueueTransfer != 0 && f.Flags&(QueueGraphics|QueueCompute) == 0 && r.TransferFamily < 0 {
			r.TransferFamily = i
		}
	}
	// Without dedicated families, compute and transfer share the graphics family.
	if r.ComputeFamily < 0 {
		r.ComputeFamily = r.GraphicsFamily
	}
	if r.TransferFamily < 0 {
		r.TransferFamily = r.GraphicsFamily
	}
	return r, nil
}

func enumeratePhysicalDevices(instance Instance) ([]PhysicalDeviceRecord, error) {
	gpus, err := instance.PhysicalDevices()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate physical devices")
	}
	if len(gpus) == 0 {
		return nil, errors.Wrap(ErrNoSuitableDevice, "no GPU devices found")
	}
	records := make([]PhysicalDeviceRecord, 0, len(gpus))
	for i, gpu := range gpus {
		r, err := newPhysicalDeviceRecord(i, gpu)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// SelectPhysicalDevice picks the record to create the device on. A valid, suitable preferred
// index wins; otherwise the first suitable discrete GPU, then the first suitable device.
func SelectPhysicalDevice(records []PhysicalDeviceRecord, preferred int) (int, error) {
	if preferred >= 0 && preferred < len(records) && records[preferred].Suitable() {
		return preferred, nil
	}
	selected := -1
	for i := range records {
		if !records[i].Suitable() {
			continue
		}
		if records[i].IsDiscrete() {
			return i, nil
		}
		if selected < 0 {
			selected = i
		}
	}
	if selected < 0 {
		return -1, ErrNoSuitableDevice
	}
	return selected, nil
}

// ListPhysicalDevices creates a temporary instance and describes every GPU on it.
func ListPhysicalDevices(driver Driver, cfg Config) ([]PhysicalDeviceRecord, error) {
	cfg = cfg.withDefaults()
	instance, err := driver.CreateInstance(InstanceInfo{AppName: cfg.AppName})
	if err != nil {
		return nil, errors.Wrap(err, "create instance")
	}
	defer instance.Destroy()
	records, err := enumeratePhysicalDevices(instance)
	for i := range records {
		records[i].gpu = nil
	}
	return records, err
}

// Device owns the instance, the logical device and its queues, and every device-wide manager.
type Device struct {
	cfg      Config
	log      *slog.Logger
	driver   Driver
	platform Platform
	instance Instance

	record       PhysicalDeviceRecord
	gpu          PhysicalDevice
	native       NativeDevice
	extensions   []string
	debugMarkers bool

	graphicsQueue *Queue
	computeQueue  *Queue
	transferQueue *Queue

	presentMu    sync.Mutex
	presentQueue *Queue

	fenceManager     *FenceManager
	deferredDeletion *DeferredDeletionQueue
	layoutCache      *DescriptorSetLayoutCache
	renderPasses     *RenderPassCache
	immediate        *CommandListContext

	frameNumber atomic.Uint64
}

// NewDevice loads the instance, selects a GPU and creates the logical device with its queues.
func NewDevice(driver Driver, platform Platform, cfg Config) (d *Device, err error) {
	defer checkErr(&err)
	cfg = cfg.withDefaults()
	d = &Device{
		cfg:      cfg,
		log:      componentLogger(cfg.Logger, "device"),
		driver:   driver,
		platform: platform,
	}
	if err := d.createInstance(); err != nil {
		return nil, err
	}
	records, err := enumeratePhysicalDevices(d.instance)
	if err != nil {
		d.instance.Destroy()
		return nil, err
	}
	for _, r := range records {
		d.log.Info("found GPU",
			slog.Int("index", r.Index),
			slog.String("name", r.Name),
			slog.String("type", r.Type.String()),
			slog.Bool("suitable", r.Suitable()))
	}
	index, err := SelectPhysicalDevice(records, cfg.PreferredGPU)
	if err != nil {
		d.instance.Destroy()
		for _, r := range records {
			if r.GraphicsFamily >= 0 && !r.HasExtension(ExtensionSwapchain) {
				return nil, errors.Wrapf(ErrMissingExtension, "device extension %s", ExtensionSwapchain)
			}
		}
		return nil, err
	}
	if cfg.PreferredGPU >= 0 && index != cfg.PreferredGPU {
		d.log.Warn("preferred GPU is not usable, selecting automatically", slog.Int("preferred", cfg.PreferredGPU))
	}
	d.record = records[index]
	d.gpu = d.record.gpu
	d.log.Info("using GPU", slog.Int("index", index), slog.String("name", d.record.Name))

	if err := d.createDevice(); err != nil {
		d.instance.Destroy()
		return nil, err
	}

	d.fenceManager = NewFenceManager(d.native, d.log)
	d.deferredDeletion = NewDeferredDeletionQueue(d)
	d.layoutCache = NewDescriptorSetLayoutCache(d)
	d.renderPasses = NewRenderPassCache(d)
	d.immediate, err = NewCommandListContext(d, d.graphicsQueue, true)
	if err != nil {
		d.native.Destroy()
		d.instance.Destroy()
		return nil, err
	}
	return d, nil
}

func (d *Device) createInstance() error {
	actual, err := d.driver.InstanceExtensions()
	if err != nil {
		return errors.Wrap(err, "enumerate instance extensions")
	}
	required := []string{ExtensionSurface}
	if d.platform != nil {
		for _, ext := range d.platform.RequiredInstanceExtensions() {
			if !containsString(required, ext) {
				required = append(required, ext)
			}
		}
	}
	extensions, missing := checkExisting(actual, required)
	if missing > 0 {
		for _, ext := range required {
			if !containsString(actual, ext) {
				return errors.Wrapf(ErrMissingExtension, "instance extension %s", ext)
			}
		}
	}
	var layers []string
	debugReport := false
	if d.cfg.EnableValidation {
		actualLayers, err := d.driver.InstanceLayers()
		if err != nil {
			return errors.Wrap(err, "enumerate instance layers")
		}
		layers, missing = checkExisting(actualLayers, []string{LayerValidation})
		if missing > 0 {
			d.log.Warn("validation requested but layer is missing", slog.String("layer", LayerValidation))
		}
		if containsString(actual, ExtensionDebugReport) {
			extensions = append(extensions, ExtensionDebugReport)
			debugReport = true
		}
	}
	d.log.Info("enabling instance extensions", slog.Int("count", len(extensions)), slog.Int("layers", len(layers)))
	d.instance, err = d.driver.CreateInstance(InstanceInfo{
		AppName:     d.cfg.AppName,
		Extensions:  extensions,
		Layers:      layers,
		DebugReport: debugReport,
	})
	if err != nil {
		return errors.Wrap(err, "create instance")
	}
	return nil
}

func (d *Device) createDevice() error {
	d.extensions = []string{ExtensionSwapchain}
	if d.record.HasExtension(ExtensionDebugMarker) {
		d.extensions = append(d.extensions, ExtensionDebugMarker)
		d.debugMarkers = true
	}
	families := []uint32{uint32(d.record.GraphicsFamily)}
	for _, f := range []int{d.record.ComputeFamily, d.record.TransferFamily} {
		if !containsFamily(families, uint32(f)) {
			families = append(families, uint32(f))
		}
	}
	var layers []string
	if d.cfg.EnableValidation {
		layers = []string{LayerValidation}
	}
	native, err := d.gpu.CreateDevice(DeviceInfo{
		QueueFamilies: families,
		Extensions:    d.extensions,
		Layers:        layers,
	})
	if err != nil {
		return errors.Wrap(err, "create device")
	}
	d.native = native
	d.log.Info("enabling device extensions", slog.Int("count", len(d.extensions)), slog.Int("queueFamilies", len(families)))

	d.graphicsQueue = NewQueue(d, uint32(d.record.GraphicsFamily))
	d.computeQueue = d.graphicsQueue
	if d.record.ComputeFamily != d.record.GraphicsFamily {
		d.computeQueue = NewQueue(d, uint32(d.record.ComputeFamily))
	}
	d.transferQueue = d.graphicsQueue
	if d.record.TransferFamily != d.record.GraphicsFamily {
		d.transferQueue = NewQueue(d, uint32(d.record.TransferFamily))
	}
	return nil
}

func containsFamily(list []uint32, f uint32) bool {
	for _, v := range list {
		if v == f {
			return true
		}
	}
	return false
}

// SetupPresentQueue picks, once, the first of the graphics, compute and transfer queues
// that can present to the surface.
func (d *Device) SetupPresentQueue(surface SurfaceHandle) error {
	d.presentMu.Lock()
	defer d.presentMu.Unlock()
	if d.presentQueue != nil {
		return nil
	}
	for _, q := range []*Queue{d.graphicsQueue, d.computeQueue, d.transferQueue} {
		ok, err := d.gpu.SurfaceSupport(q.Family(), surface)
		if err != nil {
			return errors.Wrap(err, "query surface support")
		}
		if ok {
			d.presentQueue = q
			if q != d.graphicsQueue {
				d.log.Info("using a separate present queue", slog.Uint64("family", uint64(q.Family())))
			}
			return nil
		}
	}
	return ErrNoPresentQueue
}

func (d *Device) Config() Config { return d.cfg }
func (d *Device) Logger() *slog.Logger { return d.log }
func (d *Device) Native() NativeDevice { return d.native }
func (d *Device) Instance() Instance { return d.instance }
func (d *Device) PhysicalDevice() PhysicalDevice { return d.gpu }
func (d *Device) Record() PhysicalDeviceRecord { return d.record }
func (d *Device) Limits() DeviceLimits { return d.record.Limits }
func (d *Device) GraphicsQueue() *Queue { return d.graphicsQueue }
func (d *Device) ComputeQueue() *Queue { return d.computeQueue }
func (d *Device) TransferQueue() *Queue { return d.transferQueue }
func (d *Device) FenceManager() *FenceManager { return d.fenceManager }
func (d *Device) DeferredDeletion() *DeferredDeletionQueue { return d.deferredDeletion }
func (d *Device) ImmediateContext() *CommandListContext { return d.immediate }
func (d *Device) DescriptorSetLayouts() *DescriptorSetLayoutCache { return d.layoutCache }
func (d *Device) RenderPasses() *RenderPassCache { return d.renderPasses }
func (d *Device) DebugMarkersEnabled() bool { return d.debugMarkers }

// PresentQueue gets the present queue, nil before the first surface was seen.
func (d *Device) PresentQueue() *Queue {
	d.presentMu.Lock()
	defer d.presentMu.Unlock()
	return d.presentQueue
}

// FrameNumber is the render frame counter used to stamp deferred deletions.
func (d *Device) FrameNumber() uint64 {
	return d.frameNumber.Load()
}

func (d *Device) advanceFrame() uint64 {
	return d.frameNumber.Add(1)
}

// SubmitCommandsAndFlushGPU submits whatever the immediate context has recorded and
// opens a fresh active command buffer.
func (d *Device) SubmitCommandsAndFlushGPU() {
	d.immediate.flushPendingCommands()
}

// WaitUntilIdle blocks until the device finished all submitted work.
func (d *Device) WaitUntilIdle() {
	d.verify(d.native.WaitIdle(), "wait device idle")
	d.immediate.CommandBufferManager().RefreshFenceStatus()
}

// verify treats any non-success result as fatal and reports whether the result was a success.
func (d *Device) verify(ret Result, op string) bool {
	if ret == Success {
		return true
	}
	d.fatal(newErrorf(ret, "%s", op))
	return false
}

func (d *Device) fatal(err error, finalizers ...func()) {
	d.log.Error("fatal error", slog.String("error", err.Error()))
	fatal(d.cfg.OnFatal, err, finalizers...)
}

// Destroy idles the device and releases every object it owns.
func (d *Device) Destroy() {
	if d.native == nil {
		return
	}
	d.native.WaitIdle()
	d.immediate.Destroy()
	d.deferredDeletion.ReleaseResources(true)
	d.layoutCache.Destroy()
	d.renderPasses.Destroy()
	d.fenceManager.Destroy()
	d.native.Destroy()
	d.native = nil
	d.instance.Destroy()
	d.instance = nil
}
