package dieselrhi

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// Framebuffer binds the views of a RenderTargetsInfo to a render pass. Targets are
// remembered by image, so a back buffer texture rebound to another swapchain image
// gets a different framebuffer.
type Framebuffer struct {
	device *Device
	handle FramebufferHandle
	extent Extent2D
	layers uint32

	info          RenderTargetsInfo
	colorImages   [MaxSimultaneousRenderTargets]ImageHandle
	resolveImages [MaxSimultaneousRenderTargets]ImageHandle
	depthImage    ImageHandle

	attachments []ImageViewHandle
	ownedViews  []ImageViewHandle
}

// renderTargetView gets a view on the mip and slice of t selected by a render target.
// Cube and volume textures are rendered through 2D array views.
func renderTargetView(device *Device, t *Texture, mip uint32, slice int) (ImageViewHandle, uint32, bool, error) {
	layers := t.desc.arrayLayers()
	if t.desc.Kind == Texture3D {
		layers = t.MipExtent(mip).Depth
	}
	count := layers
	base := uint32(0)
	if slice >= 0 {
		base = uint32(slice)
		count = 1
	}
	if t.desc.Kind == Texture2D && mip == 0 && t.desc.MipLevels == 1 && t.view != 0 {
		return t.view, 1, false, nil
	}
	viewType := ImageViewType2D
	if t.desc.Kind != Texture2D {
		viewType = ImageViewType2DArray
	}
	view, ret := device.native.CreateImageView(ImageViewInfo{
		Image:    t.image,
		ViewType: viewType,
		Format:   t.format,
		Range: ImageSubresourceRange{
			AspectMask:     t.aspect,
			BaseMipLevel:   mip,
			LevelCount:     1,
			BaseArrayLayer: base,
			LayerCount:     count,
		},
	})
	if isError(ret) {
		return 0, 0, false, newErrorf(ret, "create render target view mip %d slice %d", mip, slice)
	}
	return view, count, true, nil
}

func newFramebuffer(device *Device, info RenderTargetsInfo, layout *RenderTargetLayout, rp *RenderPass) (*Framebuffer, error) {
	fb := &Framebuffer{
		device: device,
		extent: Extent2D{Width: layout.Extent().Width, Height: layout.Extent().Height},
		layers: 1,
		info:   info,
	}
	if err := fb.create(layout, rp); err != nil {
		for _, v := range fb.ownedViews {
			device.native.DestroyImageView(v)
		}
		return nil, err
	}
	return fb, nil
}

// create builds the attachment views and the native framebuffer. Views created before a
// failure stay in ownedViews for the caller to destroy.
func (fb *Framebuffer) create(layout *RenderTargetLayout, rp *RenderPass) error {
	device, info := fb.device, fb.info
	addView := func(t *Texture, mip uint32, slice int) error {
		view, layers, owned, err := renderTargetView(device, t, mip, slice)
		if err != nil {
			return err
		}
		if owned {
			fb.ownedViews = append(fb.ownedViews, view)
		}
		if layers > fb.layers {
			fb.layers = layers
		}
		fb.attachments = append(fb.attachments, view)
		return nil
	}

	for i := 0; i < info.NumColorRenderTargets; i++ {
		rt := info.ColorRenderTargets[i]
		if rt.Texture == nil {
			continue
		}
		fb.colorImages[i] = rt.Texture.image
		if err := addView(rt.Texture, rt.MipIndex, rt.ArraySliceIndex); err != nil {
			return err
		}
		if rt.Texture.Samples() > SampleCount1 {
			if rt.ResolveTarget == nil {
				return errors.Newf("multisampled color target %d has no resolve target", i)
			}
			fb.resolveImages[i] = rt.ResolveTarget.image
			if err := addView(rt.ResolveTarget, rt.MipIndex, rt.ArraySliceIndex); err != nil {
				return err
			}
		}
	}
	if ds := info.DepthStencilRenderTarget.Texture; ds != nil {
		fb.depthImage = ds.image
		if err := addView(ds, 0, -1); err != nil {
			return err
		}
	}
	if len(fb.attachments) != layout.NumAttachments() {
		return errors.AssertionFailedf("framebuffer has %d views for %d attachments", len(fb.attachments), layout.NumAttachments())
	}

	handle, ret := device.native.CreateFramebuffer(FramebufferInfo{
		RenderPass:  rp.Handle(),
		Attachments: fb.attachments,
		Width:       fb.extent.Width,
		Height:      fb.extent.Height,
		Layers:      fb.layers,
	})
	if isError(ret) {
		return newErrorf(ret, "create %dx%d framebuffer", fb.extent.Width, fb.extent.Height)
	}
	fb.handle = handle
	return nil
}

func (fb *Framebuffer) Handle() FramebufferHandle { return fb.handle }

func (fb *Framebuffer) Extent() Extent2D { return fb.extent }

func (fb *Framebuffer) Layers() uint32 { return fb.layers }

func (fb *Framebuffer) NumColorAttachments() int { return fb.info.NumColorRenderTargets }

func imageOf(t *Texture) ImageHandle {
	if t == nil {
		return 0
	}
	return t.image
}

// Matches reports whether the framebuffer was built for a structurally identical info:
// the same count, clear flags, images, mips, slices and actions.
func (fb *Framebuffer) Matches(info RenderTargetsInfo) bool {
	own := &fb.info
	if own.NumColorRenderTargets != info.NumColorRenderTargets ||
		own.ClearColor != info.ClearColor ||
		own.ClearDepth != info.ClearDepth ||
		own.ClearStencil != info.ClearStencil {
		return false
	}
	for i := 0; i < info.NumColorRenderTargets; i++ {
		a, b := own.ColorRenderTargets[i], info.ColorRenderTargets[i]
		if fb.colorImages[i] != imageOf(b.Texture) || fb.resolveImages[i] != imageOf(b.ResolveTarget) {
			return false
		}
		if a.MipIndex != b.MipIndex || a.ArraySliceIndex != b.ArraySliceIndex ||
			a.LoadAction != b.LoadAction || a.StoreAction != b.StoreAction {
			return false
		}
	}
	a, b := own.DepthStencilRenderTarget, info.DepthStencilRenderTarget
	return fb.depthImage == imageOf(b.Texture) &&
		a.DepthLoadAction == b.DepthLoadAction &&
		a.DepthStoreAction == b.DepthStoreAction &&
		a.StencilLoadAction == b.StencilLoadAction &&
		a.StencilStoreAction == b.StencilStoreAction
}

// ContainsImage reports whether any attachment views image.
func (fb *Framebuffer) ContainsImage(image ImageHandle) bool {
	if image == 0 {
		return false
	}
	if fb.depthImage == image {
		return true
	}
	for i := 0; i < fb.info.NumColorRenderTargets; i++ {
		if fb.colorImages[i] == image || fb.resolveImages[i] == image {
			return true
		}
	}
	return false
}

// Destroy defers destruction of the framebuffer and the views it created.
func (fb *Framebuffer) Destroy() {
	q := fb.device.deferredDeletion
	q.EnqueueResource(ResourceFramebuffer, uint64(fb.handle))
	for _, v := range fb.ownedViews {
		q.EnqueueResource(ResourceImageView, uint64(v))
	}
	fb.handle = 0
	fb.ownedViews = nil
}

func framebufferKey(info RenderTargetsInfo, layout *RenderTargetLayout) uint64 {
	b := make([]byte, 0, 8+MaxSimultaneousRenderTargets*8)
	b = binary.LittleEndian.AppendUint64(b, layout.Hash())
	for i := range info.ColorRenderTargets {
		rt := info.ColorRenderTargets[i]
		b = binary.LittleEndian.AppendUint32(b, uint32(int32(rt.ArraySliceIndex)))
		b = binary.LittleEndian.AppendUint32(b, rt.MipIndex)
	}
	return xxhash.Sum64(b)
}

// FramebufferCache keeps framebuffers per layout, mip and slice selection.
type FramebufferCache struct {
	device *Device

	mu    sync.Mutex
	lists map[uint64][]*Framebuffer
}

func NewFramebufferCache(device *Device) *FramebufferCache {
	return &FramebufferCache{
		device: device,
		lists:  make(map[uint64][]*Framebuffer),
	}
}

func (c *FramebufferCache) GetOrCreate(info RenderTargetsInfo, layout *RenderTargetLayout, rp *RenderPass) (*Framebuffer, error) {
	key := framebufferKey(info, layout)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fb := range c.lists[key] {
		if fb.Matches(info) {
			return fb, nil
		}
	}
	fb, err := newFramebuffer(c.device, info, layout, rp)
	if err != nil {
		return nil, err
	}
	c.lists[key] = append(c.lists[key], fb)
	return fb, nil
}

// NotifyDeletedImage destroys every framebuffer referencing image and returns how many there were.
func (c *FramebufferCache) NotifyDeletedImage(image ImageHandle) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, list := range c.lists {
		for i := len(list) - 1; i >= 0; i-- {
			if !list[i].ContainsImage(image) {
				continue
			}
			list[i].Destroy()
			list[i] = list[len(list)-1]
			list = list[:len(list)-1]
			removed++
		}
		if len(list) == 0 {
			delete(c.lists, key)
		} else {
			c.lists[key] = list
		}
	}
	if removed > 0 {
		c.device.log.Debug("dropped framebuffers of deleted image", slog.Int("count", removed))
	}
	return removed
}

func (c *FramebufferCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, list := range c.lists {
		n += len(list)
	}
	return n
}

func (c *FramebufferCache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, list := range c.lists {
		for _, fb := range list {
			fb.Destroy()
		}
		delete(c.lists, key)
	}
}
