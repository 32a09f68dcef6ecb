package vkdriver

import (
	"sync"

	"github.com/andewx/dieselrhi"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"
)

// device is a logical device. Handles of every object it creates live in its tables.
type device struct {
	gpu    *physicalDevice
	log    *slog.Logger
	handle vk.Device

	queues          *handleTable[vk.Queue]
	semaphores      *handleTable[vk.Semaphore]
	fences          *handleTable[vk.Fence]
	swapchains      *handleTable[vk.Swapchain]
	images          *handleTable[vk.Image]
	views           *handleTable[vk.ImageView]
	pools           *handleTable[vk.CommandPool]
	cmdBuffers      *handleTable[vk.CommandBuffer]
	renderPasses    *handleTable[vk.RenderPass]
	framebuffers    *handleTable[vk.Framebuffer]
	setLayouts      *handleTable[vk.DescriptorSetLayout]
	descriptorPools *handleTable[vk.DescriptorPool]
	descriptorSets  *handleTable[vk.DescriptorSet]

	mu              sync.Mutex
	imageMemory     map[uint64]vk.DeviceMemory
	swapchainImages map[uint64][]uint64
	setPool         map[uint64]uint64

	markers *debugMarkers
}

var _ dieselrhi.NativeDevice = (*device)(nil)

func newDevice(gpu *physicalDevice, handle vk.Device) *device {
	return &device{
		gpu:             gpu,
		log:             gpu.inst.log,
		handle:          handle,
		queues:          newHandleTable[vk.Queue](),
		semaphores:      newHandleTable[vk.Semaphore](),
		fences:          newHandleTable[vk.Fence](),
		swapchains:      newHandleTable[vk.Swapchain](),
		images:          newHandleTable[vk.Image](),
		views:           newHandleTable[vk.ImageView](),
		pools:           newHandleTable[vk.CommandPool](),
		cmdBuffers:      newHandleTable[vk.CommandBuffer](),
		renderPasses:    newHandleTable[vk.RenderPass](),
		framebuffers:    newHandleTable[vk.Framebuffer](),
		setLayouts:      newHandleTable[vk.DescriptorSetLayout](),
		descriptorPools: newHandleTable[vk.DescriptorPool](),
		descriptorSets:  newHandleTable[vk.DescriptorSet](),
		imageMemory:     make(map[uint64]vk.DeviceMemory),
		swapchainImages: make(map[uint64][]uint64),
		setPool:         make(map[uint64]uint64),
	}
}

func (d *device) Queue(family, index uint32) dieselrhi.QueueHandle {
	var q vk.Queue
	vk.GetDeviceQueue(d.handle, family, index, &q)
	return dieselrhi.QueueHandle(d.queues.add(q))
}

func (d *device) WaitIdle() dieselrhi.Result {
	return result(vk.DeviceWaitIdle(d.handle))
}

func (d *device) QueueWaitIdle(q dieselrhi.QueueHandle) dieselrhi.Result {
	return result(vk.QueueWaitIdle(d.queues.lookup(uint64(q))))
}

func (d *device) QueueSubmit(q dieselrhi.QueueHandle, submits []dieselrhi.SubmitInfo, fence dieselrhi.FenceHandle) dieselrhi.Result {
	infos := make([]vk.SubmitInfo, len(submits))
	for i, s := range submits {
		waits, stages := submitWaits(s.Waits, d.semaphores)
		cbs := make([]vk.CommandBuffer, len(s.CommandBuffers))
		for j, cb := range s.CommandBuffers {
			cbs[j] = d.cmdBuffers.lookup(uint64(cb))
		}
		signals := make([]vk.Semaphore, len(s.SignalSemaphores))
		for j, sem := range s.SignalSemaphores {
			signals[j] = d.semaphores.lookup(uint64(sem))
		}
		infos[i] = vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(waits)),
			PWaitSemaphores:      waits,
			PWaitDstStageMask:    stages,
			CommandBufferCount:   uint32(len(cbs)),
			PCommandBuffers:      cbs,
			SignalSemaphoreCount: uint32(len(signals)),
			PSignalSemaphores:    signals,
		}
	}
	ret := vk.QueueSubmit(d.queues.lookup(uint64(q)), uint32(len(infos)), infos, d.fences.lookup(uint64(fence)))
	return result(ret)
}

func (d *device) QueuePresent(q dieselrhi.QueueHandle, info dieselrhi.PresentInfo) dieselrhi.Result {
	waits := make([]vk.Semaphore, len(info.WaitSemaphores))
	for i, s := range info.WaitSemaphores {
		waits[i] = d.semaphores.lookup(uint64(s))
	}
	ret := vk.QueuePresent(d.queues.lookup(uint64(q)), &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(waits)),
		PWaitSemaphores:    waits,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{d.swapchains.lookup(uint64(info.Swapchain))},
		PImageIndices:      []uint32{info.ImageIndex},
	})
	return result(ret)
}

func (d *device) CreateSemaphore() (dieselrhi.SemaphoreHandle, dieselrhi.Result) {
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(d.handle, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &sem)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return dieselrhi.SemaphoreHandle(d.semaphores.add(sem)), dieselrhi.Success
}

func (d *device) DestroySemaphore(s dieselrhi.SemaphoreHandle) {
	if sem, ok := d.semaphores.remove(uint64(s)); ok {
		vk.DestroySemaphore(d.handle, sem, nil)
	}
}

func (d *device) CreateFence(signaled bool) (dieselrhi.FenceHandle, dieselrhi.Result) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if ret := vk.CreateFence(d.handle, &info, nil, &fence); ret != vk.Success {
		return 0, result(ret)
	}
	return dieselrhi.FenceHandle(d.fences.add(fence)), dieselrhi.Success
}

func (d *device) DestroyFence(f dieselrhi.FenceHandle) {
	if fence, ok := d.fences.remove(uint64(f)); ok {
		vk.DestroyFence(d.handle, fence, nil)
	}
}

func (d *device) nativeFences(list []dieselrhi.FenceHandle) []vk.Fence {
	out := make([]vk.Fence, len(list))
	for i, f := range list {
		out[i] = d.fences.lookup(uint64(f))
	}
	return out
}

func (d *device) WaitForFences(fences []dieselrhi.FenceHandle, waitAll bool, timeout uint64) dieselrhi.Result {
	native := d.nativeFences(fences)
	return result(vk.WaitForFences(d.handle, uint32(len(native)), native, bool32(waitAll), timeout))
}

func (d *device) ResetFences(fences []dieselrhi.FenceHandle) dieselrhi.Result {
	native := d.nativeFences(fences)
	return result(vk.ResetFences(d.handle, uint32(len(native)), native))
}

func (d *device) FenceStatus(f dieselrhi.FenceHandle) dieselrhi.Result {
	return result(vk.GetFenceStatus(d.handle, d.fences.lookup(uint64(f))))
}

func (d *device) CreateSwapchain(info dieselrhi.SwapchainInfo) (dieselrhi.SwapchainHandle, dieselrhi.Result) {
	sharing := vk.SharingModeExclusive
	if len(info.QueueFamilies) > 1 {
		sharing = vk.SharingModeConcurrent
	}
	var sc vk.Swapchain
	ret := vk.CreateSwapchain(d.handle, &vk.SwapchainCreateInfo{
		SType:                 vk.StructureTypeSwapchainCreateInfo,
		Surface:               d.gpu.inst.surface(info.Surface),
		MinImageCount:         info.MinImageCount,
		ImageFormat:           vk.Format(info.Format),
		ImageColorSpace:       vk.ColorSpace(info.ColorSpace),
		ImageExtent:           extent2D(info.Extent),
		ImageArrayLayers:      1,
		ImageUsage:            vk.ImageUsageFlags(info.Usage),
		ImageSharingMode:      sharing,
		QueueFamilyIndexCount: uint32(len(info.QueueFamilies)),
		PQueueFamilyIndices:   info.QueueFamilies,
		PreTransform:          vk.SurfaceTransformFlagBits(info.PreTransform),
		CompositeAlpha:        vk.CompositeAlphaFlagBits(info.CompositeAlpha),
		PresentMode:           vk.PresentMode(info.PresentMode),
		Clipped:               vk.True,
		OldSwapchain:          d.swapchains.lookup(uint64(info.OldSwapchain)),
	}, nil, &sc)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return dieselrhi.SwapchainHandle(d.swapchains.add(sc)), dieselrhi.Success
}

func (d *device) DestroySwapchain(h dieselrhi.SwapchainHandle) {
	sc, ok := d.swapchains.remove(uint64(h))
	if !ok {
		return
	}
	d.mu.Lock()
	images := d.swapchainImages[uint64(h)]
	delete(d.swapchainImages, uint64(h))
	d.mu.Unlock()
	for _, id := range images {
		d.images.remove(id)
	}
	vk.DestroySwapchain(d.handle, sc, nil)
}

// SwapchainImages registers the swapchain's images once; later calls return the same handles.
func (d *device) SwapchainImages(h dieselrhi.SwapchainHandle) ([]dieselrhi.ImageHandle, dieselrhi.Result) {
	d.mu.Lock()
	known, ok := d.swapchainImages[uint64(h)]
	d.mu.Unlock()
	if !ok {
		sc := d.swapchains.lookup(uint64(h))
		var count uint32
		if ret := vk.GetSwapchainImages(d.handle, sc, &count, nil); ret != vk.Success {
			return nil, result(ret)
		}
		list := make([]vk.Image, count)
		if ret := vk.GetSwapchainImages(d.handle, sc, &count, list); ret != vk.Success {
			return nil, result(ret)
		}
		known = make([]uint64, count)
		for i, img := range list[:count] {
			known[i] = d.images.add(img)
		}
		d.mu.Lock()
		d.swapchainImages[uint64(h)] = known
		d.mu.Unlock()
	}
	out := make([]dieselrhi.ImageHandle, len(known))
	for i, id := range known {
		out[i] = dieselrhi.ImageHandle(id)
	}
	return out, dieselrhi.Success
}

func (d *device) AcquireNextImage(h dieselrhi.SwapchainHandle, timeout uint64, s dieselrhi.SemaphoreHandle, f dieselrhi.FenceHandle) (uint32, dieselrhi.Result) {
	var index uint32
	ret := vk.AcquireNextImage(d.handle, d.swapchains.lookup(uint64(h)), timeout,
		d.semaphores.lookup(uint64(s)), d.fences.lookup(uint64(f)), &index)
	return index, result(ret)
}

// CreateImage creates an optimally tiled image bound to its own device-local allocation.
func (d *device) CreateImage(info dieselrhi.ImageInfo) (dieselrhi.ImageHandle, dieselrhi.Result) {
	var img vk.Image
	ret := vk.CreateImage(d.handle, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		Flags:     vk.ImageCreateFlags(info.Flags),
		ImageType: vk.ImageType(info.Type),
		Format:    vk.Format(info.Format),
		Extent: vk.Extent3D{
			Width:  info.Extent.Width,
			Height: info.Extent.Height,
			Depth:  info.Extent.Depth,
		},
		MipLevels:     info.MipLevels,
		ArrayLayers:   info.ArrayLayers,
		Samples:       vk.SampleCountFlagBits(info.Samples),
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(info.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &img)
	if ret != vk.Success {
		return 0, result(ret)
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.handle, img, &req)
	req.Deref()
	memType, ok := d.gpu.memoryType(req.MemoryTypeBits, vk.MemoryPropertyDeviceLocalBit)
	if !ok {
		d.log.Warn("no device local memory type for image, using any allowed type")
		if memType, ok = d.gpu.memoryType(req.MemoryTypeBits, 0); !ok {
			vk.DestroyImage(d.handle, img, nil)
			return 0, dieselrhi.ErrorOutOfDeviceMemory
		}
	}
	var memory vk.DeviceMemory
	ret = vk.AllocateMemory(d.handle, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: memType,
	}, nil, &memory)
	if ret != vk.Success {
		vk.DestroyImage(d.handle, img, nil)
		return 0, result(ret)
	}
	if ret = vk.BindImageMemory(d.handle, img, memory, 0); ret != vk.Success {
		vk.FreeMemory(d.handle, memory, nil)
		vk.DestroyImage(d.handle, img, nil)
		return 0, result(ret)
	}
	id := d.images.add(img)
	d.mu.Lock()
	d.imageMemory[id] = memory
	d.mu.Unlock()
	return dieselrhi.ImageHandle(id), dieselrhi.Success
}

func (d *device) DestroyImage(h dieselrhi.ImageHandle) {
	d.mu.Lock()
	memory, owned := d.imageMemory[uint64(h)]
	delete(d.imageMemory, uint64(h))
	d.mu.Unlock()
	if !owned {
		// Swapchain images are released with their swapchain.
		return
	}
	if img, ok := d.images.remove(uint64(h)); ok {
		vk.DestroyImage(d.handle, img, nil)
	}
	vk.FreeMemory(d.handle, memory, nil)
}

func (d *device) CreateImageView(info dieselrhi.ImageViewInfo) (dieselrhi.ImageViewHandle, dieselrhi.Result) {
	var view vk.ImageView
	ret := vk.CreateImageView(d.handle, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    d.images.lookup(uint64(info.Image)),
		ViewType: vk.ImageViewType(info.ViewType),
		Format:   vk.Format(info.Format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleR,
			G: vk.ComponentSwizzleG,
			B: vk.ComponentSwizzleB,
			A: vk.ComponentSwizzleA,
		},
		SubresourceRange: subresourceRange(info.Range),
	}, nil, &view)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return dieselrhi.ImageViewHandle(d.views.add(view)), dieselrhi.Success
}

func (d *device) DestroyImageView(h dieselrhi.ImageViewHandle) {
	if view, ok := d.views.remove(uint64(h)); ok {
		vk.DestroyImageView(d.handle, view, nil)
	}
}

func (d *device) CreateRenderPass(info dieselrhi.RenderPassInfo) (dieselrhi.RenderPassHandle, dieselrhi.Result) {
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(info.ColorRefs)),
		PColorAttachments:    attachmentReferences(info.ColorRefs),
		PResolveAttachments:  attachmentReferences(info.ResolveRefs),
	}
	if info.DepthStencil != nil {
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: info.DepthStencil.Attachment,
			Layout:     vk.ImageLayout(info.DepthStencil.Layout),
		}
	}
	attachments := attachmentDescriptions(info.Attachments)
	deps := subpassDependencies(info)
	var rp vk.RenderPass
	ret := vk.CreateRenderPass(d.handle, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(deps)),
		PDependencies:   deps,
	}, nil, &rp)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return dieselrhi.RenderPassHandle(d.renderPasses.add(rp)), dieselrhi.Success
}

func (d *device) DestroyRenderPass(h dieselrhi.RenderPassHandle) {
	if rp, ok := d.renderPasses.remove(uint64(h)); ok {
		vk.DestroyRenderPass(d.handle, rp, nil)
	}
}

func (d *device) CreateFramebuffer(info dieselrhi.FramebufferInfo) (dieselrhi.FramebufferHandle, dieselrhi.Result) {
	views := make([]vk.ImageView, len(info.Attachments))
	for i, v := range info.Attachments {
		views[i] = d.views.lookup(uint64(v))
	}
	var fb vk.Framebuffer
	ret := vk.CreateFramebuffer(d.handle, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      d.renderPasses.lookup(uint64(info.RenderPass)),
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           info.Width,
		Height:          info.Height,
		Layers:          info.Layers,
	}, nil, &fb)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return dieselrhi.FramebufferHandle(d.framebuffers.add(fb)), dieselrhi.Success
}

func (d *device) DestroyFramebuffer(h dieselrhi.FramebufferHandle) {
	if fb, ok := d.framebuffers.remove(uint64(h)); ok {
		vk.DestroyFramebuffer(d.handle, fb, nil)
	}
}

func (d *device) CreateDescriptorSetLayout(bindings []dieselrhi.DescriptorSetLayoutBinding) (dieselrhi.DescriptorSetLayoutHandle, dieselrhi.Result) {
	native := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		// Samplers are not created through this driver, so immutable samplers only
		// take part in layout hashing.
		native[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vk.DescriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      vk.ShaderStageFlags(b.StageFlags),
		}
	}
	var layout vk.DescriptorSetLayout
	ret := vk.CreateDescriptorSetLayout(d.handle, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(native)),
		PBindings:    native,
	}, nil, &layout)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return dieselrhi.DescriptorSetLayoutHandle(d.setLayouts.add(layout)), dieselrhi.Success
}

func (d *device) DestroyDescriptorSetLayout(h dieselrhi.DescriptorSetLayoutHandle) {
	if layout, ok := d.setLayouts.remove(uint64(h)); ok {
		vk.DestroyDescriptorSetLayout(d.handle, layout, nil)
	}
}

func (d *device) CreateDescriptorPool(maxSets uint32, sizes []dieselrhi.DescriptorPoolSize) (dieselrhi.DescriptorPoolHandle, dieselrhi.Result) {
	native := make([]vk.DescriptorPoolSize, 0, len(sizes))
	for _, s := range sizes {
		if s.Count == 0 {
			continue
		}
		native = append(native, vk.DescriptorPoolSize{
			Type:            vk.DescriptorType(s.Type),
			DescriptorCount: s.Count,
		})
	}
	var pool vk.DescriptorPool
	ret := vk.CreateDescriptorPool(d.handle, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(native)),
		PPoolSizes:    native,
	}, nil, &pool)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return dieselrhi.DescriptorPoolHandle(d.descriptorPools.add(pool)), dieselrhi.Success
}

// forgetSets drops the handles of every set allocated from pool.
func (d *device) forgetSets(pool uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for set, owner := range d.setPool {
		if owner == pool {
			delete(d.setPool, set)
			d.descriptorSets.remove(set)
		}
	}
}

func (d *device) DestroyDescriptorPool(h dieselrhi.DescriptorPoolHandle) {
	pool, ok := d.descriptorPools.remove(uint64(h))
	if !ok {
		return
	}
	d.forgetSets(uint64(h))
	vk.DestroyDescriptorPool(d.handle, pool, nil)
}

func (d *device) ResetDescriptorPool(h dieselrhi.DescriptorPoolHandle) dieselrhi.Result {
	ret := vk.ResetDescriptorPool(d.handle, d.descriptorPools.lookup(uint64(h)), 0)
	if ret == vk.Success {
		d.forgetSets(uint64(h))
	}
	return result(ret)
}

func (d *device) AllocateDescriptorSets(h dieselrhi.DescriptorPoolHandle, layouts []dieselrhi.DescriptorSetLayoutHandle) ([]dieselrhi.DescriptorSetHandle, dieselrhi.Result) {
	if len(layouts) == 0 {
		return nil, dieselrhi.Success
	}
	native := make([]vk.DescriptorSetLayout, len(layouts))
	for i, l := range layouts {
		native[i] = d.setLayouts.lookup(uint64(l))
	}
	sets := make([]vk.DescriptorSet, len(layouts))
	ret := vk.AllocateDescriptorSets(d.handle, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     d.descriptorPools.lookup(uint64(h)),
		DescriptorSetCount: uint32(len(native)),
		PSetLayouts:        native,
	}, &sets[0])
	if ret != vk.Success {
		return nil, result(ret)
	}
	out := make([]dieselrhi.DescriptorSetHandle, len(sets))
	d.mu.Lock()
	for i, s := range sets {
		id := d.descriptorSets.add(s)
		d.setPool[id] = uint64(h)
		out[i] = dieselrhi.DescriptorSetHandle(id)
	}
	d.mu.Unlock()
	return out, dieselrhi.Success
}

func (d *device) FreeDescriptorSets(h dieselrhi.DescriptorPoolHandle, sets []dieselrhi.DescriptorSetHandle) dieselrhi.Result {
	native := make([]vk.DescriptorSet, 0, len(sets))
	d.mu.Lock()
	for _, s := range sets {
		if set, ok := d.descriptorSets.remove(uint64(s)); ok {
			native = append(native, set)
			delete(d.setPool, uint64(s))
		}
	}
	d.mu.Unlock()
	if len(native) == 0 {
		return dieselrhi.Success
	}
	return result(vk.FreeDescriptorSets(d.handle, d.descriptorPools.lookup(uint64(h)), uint32(len(native)), &native[0]))
}

// Destroy waits for the device and destroys it. Objects still alive are reported, not destroyed.
func (d *device) Destroy() {
	if d.handle == nil {
		return
	}
	vk.DeviceWaitIdle(d.handle)
	leaks := []slog.Attr{}
	for name, n := range map[string]int{
		"semaphores":      d.semaphores.len(),
		"fences":          d.fences.len(),
		"swapchains":      d.swapchains.len(),
		"imageViews":      d.views.len(),
		"commandPools":    d.pools.len(),
		"renderPasses":    d.renderPasses.len(),
		"framebuffers":    d.framebuffers.len(),
		"setLayouts":      d.setLayouts.len(),
		"descriptorPools": d.descriptorPools.len(),
	} {
		if n > 0 {
			leaks = append(leaks, slog.Int(name, n))
		}
	}
	if len(leaks) > 0 {
		args := make([]any, len(leaks))
		for i, a := range leaks {
			args[i] = a
		}
		d.log.Warn("destroying device with live objects", args...)
	}
	vk.DestroyDevice(d.handle, nil)
	d.handle = nil
}
