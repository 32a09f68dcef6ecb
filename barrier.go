package dieselrhi

import "sync"

// layoutStageAccess gets the pipeline stage and access mask that produce or consume an image in layout.
func layoutStageAccess(layout ImageLayout) (PipelineStageFlags, AccessFlags) {
	switch layout {
	case ImageLayoutUndefined:
		return PipelineStageTopOfPipe, 0
	case ImageLayoutGeneral:
		return PipelineStageAllCommands, AccessShaderRead | AccessShaderWrite
	case ImageLayoutColorAttachmentOptimal:
		return PipelineStageColorAttachmentOutput, AccessColorAttachmentRead | AccessColorAttachmentWrite
	case ImageLayoutDepthStencilAttachmentOptimal:
		return PipelineStageEarlyFragmentTests | PipelineStageLateFragmentTests,
			AccessDepthStencilAttachmentRead | AccessDepthStencilAttachmentWrite
	case ImageLayoutDepthStencilReadOnlyOptimal:
		return PipelineStageEarlyFragmentTests | PipelineStageFragmentShader,
			AccessDepthStencilAttachmentRead | AccessShaderRead
	case ImageLayoutShaderReadOnlyOptimal:
		return PipelineStageFragmentShader | PipelineStageComputeShader, AccessShaderRead
	case ImageLayoutTransferSrcOptimal:
		return PipelineStageTransfer, AccessTransferRead
	case ImageLayoutTransferDstOptimal:
		return PipelineStageTransfer, AccessTransferWrite
	case ImageLayoutPreinitialized:
		return PipelineStageHost, AccessHostWrite
	case ImageLayoutPresentSrc:
		return PipelineStageBottomOfPipe, AccessMemoryRead
	}
	return PipelineStageAllCommands, AccessMemoryRead | AccessMemoryWrite
}

// PipelineBarrier collects image barriers and records them as one native barrier.
type PipelineBarrier struct {
	srcStages PipelineStageFlags
	dstStages PipelineStageFlags
	barriers  []ImageBarrier
}

// AddImageLayoutTransition adds a transition of rng of image from oldLayout to newLayout.
func (b *PipelineBarrier) AddImageLayoutTransition(image ImageHandle, oldLayout, newLayout ImageLayout, rng ImageSubresourceRange) {
	srcStage, srcAccess := layoutStageAccess(oldLayout)
	b.add(image, srcStage, srcAccess, oldLayout, newLayout, rng)
}

// AddAcquiredImageTransition adds the first transition of a swapchain image that was just
// acquired. The source stage is waitStage, the stage the acquire semaphore is waited at, so
// the transition is ordered after the presentation engine releases the image.
func (b *PipelineBarrier) AddAcquiredImageTransition(image ImageHandle, waitStage PipelineStageFlags, newLayout ImageLayout, rng ImageSubresourceRange) {
	b.add(image, waitStage, 0, ImageLayoutUndefined, newLayout, rng)
}

func (b *PipelineBarrier) add(image ImageHandle, srcStage PipelineStageFlags, srcAccess AccessFlags, oldLayout, newLayout ImageLayout, rng ImageSubresourceRange) {
	dstStage, dstAccess := layoutStageAccess(newLayout)
	// Presentation reads happen outside the pipeline.
	if newLayout == ImageLayoutPresentSrc {
		dstAccess = 0
	}
	b.srcStages |= srcStage
	b.dstStages |= dstStage
	b.barriers = append(b.barriers, ImageBarrier{
		SrcAccess: srcAccess,
		DstAccess: dstAccess,
		OldLayout: oldLayout,
		NewLayout: newLayout,
		Image:     image,
		Range:     rng,
	})
}

func (b *PipelineBarrier) Len() int { return len(b.barriers) }

// Execute records the collected barriers into cb.
func (b *PipelineBarrier) Execute(native NativeDevice, cb CommandBufferHandle) {
	if len(b.barriers) == 0 {
		return
	}
	native.CmdPipelineBarrier(cb, b.srcStages, b.dstStages, b.barriers)
}

// SetImageLayout records a single layout transition barrier.
func SetImageLayout(native NativeDevice, cb CommandBufferHandle, image ImageHandle, oldLayout, newLayout ImageLayout, rng ImageSubresourceRange) {
	var b PipelineBarrier
	b.AddImageLayoutTransition(image, oldLayout, newLayout, rng)
	b.Execute(native, cb)
}

// SetAcquiredImageLayout records the first transition of a just-acquired swapchain image.
func SetAcquiredImageLayout(native NativeDevice, cb CommandBufferHandle, image ImageHandle, waitStage PipelineStageFlags, newLayout ImageLayout) {
	var b PipelineBarrier
	b.AddAcquiredImageTransition(image, waitStage, newLayout, ColorRange())
	b.Execute(native, cb)
}

// ColorRange is the first mip and layer of a color image.
func ColorRange() ImageSubresourceRange {
	return ImageSubresourceRange{AspectMask: ImageAspectColor, LevelCount: 1, LayerCount: 1}
}

// LayoutTracker remembers the last known layout of every image a context touched.
type LayoutTracker struct {
	mu      sync.Mutex
	layouts map[ImageHandle]ImageLayout
}

func NewLayoutTracker() *LayoutTracker {
	return &LayoutTracker{layouts: make(map[ImageHandle]ImageLayout)}
}

// FindOrAddLayout gets the tracked layout of image, recording def when it is unknown.
func (t *LayoutTracker) FindOrAddLayout(image ImageHandle, def ImageLayout) ImageLayout {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.layouts[image]; ok {
		return l
	}
	t.layouts[image] = def
	return def
}

func (t *LayoutTracker) SetLayout(image ImageHandle, layout ImageLayout) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.layouts[image] = layout
}

func (t *LayoutTracker) Forget(image ImageHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.layouts, image)
}

func (t *LayoutTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.layouts)
}
