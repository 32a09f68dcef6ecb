package vkdriver

import (
	"github.com/andewx/dieselrhi"
	vk "github.com/vulkan-go/vulkan"
)

// CreateCommandPool creates a pool whose command buffers can be reset individually.
func (d *device) CreateCommandPool(family uint32) (dieselrhi.CommandPoolHandle, dieselrhi.Result) {
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(d.handle, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &pool)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return dieselrhi.CommandPoolHandle(d.pools.add(pool)), dieselrhi.Success
}

func (d *device) DestroyCommandPool(h dieselrhi.CommandPoolHandle) {
	if pool, ok := d.pools.remove(uint64(h)); ok {
		vk.DestroyCommandPool(d.handle, pool, nil)
	}
}

func (d *device) AllocateCommandBuffer(h dieselrhi.CommandPoolHandle) (dieselrhi.CommandBufferHandle, dieselrhi.Result) {
	buffers := make([]vk.CommandBuffer, 1)
	ret := vk.AllocateCommandBuffers(d.handle, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.pools.lookup(uint64(h)),
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, buffers)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return dieselrhi.CommandBufferHandle(d.cmdBuffers.add(buffers[0])), dieselrhi.Success
}

func (d *device) FreeCommandBuffer(h dieselrhi.CommandPoolHandle, cb dieselrhi.CommandBufferHandle) {
	if buf, ok := d.cmdBuffers.remove(uint64(cb)); ok {
		vk.FreeCommandBuffers(d.handle, d.pools.lookup(uint64(h)), 1, []vk.CommandBuffer{buf})
	}
}

func (d *device) BeginCommandBuffer(cb dieselrhi.CommandBufferHandle) dieselrhi.Result {
	return result(vk.BeginCommandBuffer(d.cmdBuffers.lookup(uint64(cb)), &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}))
}

func (d *device) EndCommandBuffer(cb dieselrhi.CommandBufferHandle) dieselrhi.Result {
	return result(vk.EndCommandBuffer(d.cmdBuffers.lookup(uint64(cb))))
}

func (d *device) ResetCommandBuffer(cb dieselrhi.CommandBufferHandle) dieselrhi.Result {
	return result(vk.ResetCommandBuffer(d.cmdBuffers.lookup(uint64(cb)),
		vk.CommandBufferResetFlags(vk.CommandBufferResetReleaseResourcesBit)))
}

func (d *device) CmdPipelineBarrier(cb dieselrhi.CommandBufferHandle, src, dst dieselrhi.PipelineStageFlags, barriers []dieselrhi.ImageBarrier) {
	if len(barriers) == 0 {
		return
	}
	native := make([]vk.ImageMemoryBarrier, len(barriers))
	for i, b := range barriers {
		native[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(b.SrcAccess),
			DstAccessMask:       vk.AccessFlags(b.DstAccess),
			OldLayout:           vk.ImageLayout(b.OldLayout),
			NewLayout:           vk.ImageLayout(b.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               d.images.lookup(uint64(b.Image)),
			SubresourceRange:    subresourceRange(b.Range),
		}
	}
	vk.CmdPipelineBarrier(d.cmdBuffers.lookup(uint64(cb)),
		vk.PipelineStageFlags(src), vk.PipelineStageFlags(dst), 0,
		0, nil, 0, nil, uint32(len(native)), native)
}

func (d *device) CmdCopyImage(cb dieselrhi.CommandBufferHandle, src dieselrhi.ImageHandle, srcLayout dieselrhi.ImageLayout, dst dieselrhi.ImageHandle, dstLayout dieselrhi.ImageLayout, regions []dieselrhi.ImageCopy) {
	native := imageCopies(regions)
	vk.CmdCopyImage(d.cmdBuffers.lookup(uint64(cb)),
		d.images.lookup(uint64(src)), vk.ImageLayout(srcLayout),
		d.images.lookup(uint64(dst)), vk.ImageLayout(dstLayout),
		uint32(len(native)), native)
}

func (d *device) CmdBeginRenderPass(cb dieselrhi.CommandBufferHandle, info dieselrhi.RenderPassBeginInfo) {
	clears := clearValues(info.ClearValues)
	vk.CmdBeginRenderPass(d.cmdBuffers.lookup(uint64(cb)), &vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  d.renderPasses.lookup(uint64(info.RenderPass)),
		Framebuffer: d.framebuffers.lookup(uint64(info.Framebuffer)),
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: extent2D(info.Extent),
		},
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}, vk.SubpassContentsInline)
}

func (d *device) CmdEndRenderPass(cb dieselrhi.CommandBufferHandle) {
	vk.CmdEndRenderPass(d.cmdBuffers.lookup(uint64(cb)))
}

// CmdBeginLabel opens a debug marker region. Labels are dropped when the device was
// created without VK_EXT_debug_marker.
func (d *device) CmdBeginLabel(cb dieselrhi.CommandBufferHandle, name string, color [4]float32) {
	if d.markers == nil {
		return
	}
	d.markers.beginLabel(d.cmdBuffers.lookup(uint64(cb)), name, color)
}

func (d *device) CmdEndLabel(cb dieselrhi.CommandBufferHandle) {
	if d.markers == nil {
		return
	}
	d.markers.endLabel(d.cmdBuffers.lookup(uint64(cb)))
}
