package dieselrhi

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// MaxSimultaneousRenderTargets is the number of color targets a render pass can bind.
const MaxSimultaneousRenderTargets = 8

type RenderTargetLoadAction int

const (
	LoadActionNoAction RenderTargetLoadAction = iota
	LoadActionLoad
	LoadActionClear
)

func (a RenderTargetLoadAction) native() AttachmentLoadOp {
	switch a {
	case LoadActionLoad:
		return AttachmentLoadOpLoad
	case LoadActionClear:
		return AttachmentLoadOpClear
	}
	return AttachmentLoadOpDontCare
}

type RenderTargetStoreAction int

const (
	StoreActionNoAction RenderTargetStoreAction = iota
	StoreActionStore
	// StoreActionMultisampleResolve discards the multisampled target after resolving it.
	StoreActionMultisampleResolve
)

func (a RenderTargetStoreAction) native() AttachmentStoreOp {
	if a == StoreActionStore {
		return AttachmentStoreOpStore
	}
	return AttachmentStoreOpDontCare
}

// RenderTargetView selects the mip and slice of a texture bound as a color target.
type RenderTargetView struct {
	Texture  *Texture
	MipIndex uint32
	// ArraySliceIndex is the slice to render to, -1 binds every slice.
	ArraySliceIndex int
	LoadAction      RenderTargetLoadAction
	StoreAction     RenderTargetStoreAction
	// ResolveTarget receives the resolved samples of a multisampled texture.
	ResolveTarget *Texture
}

type DepthRenderTargetView struct {
	Texture            *Texture
	DepthLoadAction    RenderTargetLoadAction
	DepthStoreAction   RenderTargetStoreAction
	StencilLoadAction  RenderTargetLoadAction
	StencilStoreAction RenderTargetStoreAction
}

// RenderTargetsInfo is the full set of targets for a render pass.
type RenderTargetsInfo struct {
	ColorRenderTargets       [MaxSimultaneousRenderTargets]RenderTargetView
	NumColorRenderTargets    int
	DepthStencilRenderTarget DepthRenderTargetView

	ClearColor   bool
	ClearDepth   bool
	ClearStencil bool
}

// ColorTarget is a shortcut for a single color target at mip 0 covering every slice.
func ColorTarget(t *Texture, load RenderTargetLoadAction, store RenderTargetStoreAction) RenderTargetsInfo {
	var info RenderTargetsInfo
	info.ColorRenderTargets[0] = RenderTargetView{
		Texture:         t,
		ArraySliceIndex: -1,
		LoadAction:      load,
		StoreAction:     store,
	}
	info.NumColorRenderTargets = 1
	info.ClearColor = load == LoadActionClear
	return info
}

// RenderTargetLayout is the attachment layout derived from a RenderTargetsInfo. Two
// infos with the same formats, sample counts and actions share a render pass.
type RenderTargetLayout struct {
	attachments []AttachmentDescription
	colorRefs   []AttachmentReference
	resolveRefs []AttachmentReference
	depthRef    AttachmentReference

	hasDepthStencil       bool
	hasResolveAttachments bool
	numSamples            SampleCount
	numUsedClearValues    int
	extent                Extent3D

	renderPassHash uint64
	hash           uint64
}

// NewRenderTargetLayout builds the layout for info. All targets must share one extent
// and one sample count.
func NewRenderTargetLayout(info RenderTargetsInfo) (*RenderTargetLayout, error) {
	l := &RenderTargetLayout{}
	setExtent := false
	markClear := func(index int) {
		l.numUsedClearValues = index + 1
	}

	for i := 0; i < info.NumColorRenderTargets; i++ {
		view := info.ColorRenderTargets[i]
		if view.Texture == nil {
			continue
		}
		tex := view.Texture
		mipExtent := tex.MipExtent(view.MipIndex)
		if setExtent {
			if l.extent.Width != mipExtent.Width || l.extent.Height != mipExtent.Height {
				return nil, errors.Newf("color target %d is %dx%d, expected %dx%d",
					i, mipExtent.Width, mipExtent.Height, l.extent.Width, l.extent.Height)
			}
		} else {
			setExtent = true
			l.extent = Extent3D{Width: mipExtent.Width, Height: mipExtent.Height, Depth: tex.desc.Depth}
		}
		if l.numSamples != 0 && l.numSamples != tex.Samples() {
			return nil, errors.Newf("color target %d has %d samples, expected %d", i, tex.Samples(), l.numSamples)
		}
		l.numSamples = tex.Samples()

		desc := AttachmentDescription{
			Format:         tex.NativeFormat(),
			Samples:        l.numSamples,
			LoadOp:         view.LoadAction.native(),
			StoreOp:        view.StoreAction.native(),
			StencilLoadOp:  AttachmentLoadOpDontCare,
			StencilStoreOp: AttachmentStoreOpDontCare,
			InitialLayout:  ImageLayoutColorAttachmentOptimal,
			FinalLayout:    ImageLayoutColorAttachmentOptimal,
		}
		index := len(l.attachments)
		if desc.LoadOp == AttachmentLoadOpClear {
			markClear(index)
		}
		l.attachments = append(l.attachments, desc)
		l.colorRefs = append(l.colorRefs, AttachmentReference{Attachment: uint32(index), Layout: ImageLayoutColorAttachmentOptimal})
		if desc.Samples > SampleCount1 {
			resolve := desc
			resolve.Samples = SampleCount1
			l.resolveRefs = append(l.resolveRefs, AttachmentReference{Attachment: uint32(len(l.attachments)), Layout: ImageLayoutGeneral})
			l.attachments = append(l.attachments, resolve)
			l.hasResolveAttachments = true
		} else {
			l.resolveRefs = append(l.resolveRefs, AttachmentReference{Attachment: AttachmentUnused})
		}
	}

	if ds := info.DepthStencilRenderTarget; ds.Texture != nil {
		tex := ds.Texture
		if l.numSamples != 0 && l.numSamples != tex.Samples() {
			return nil, errors.Newf("depth target has %d samples, expected %d", tex.Samples(), l.numSamples)
		}
		l.numSamples = tex.Samples()
		desc := AttachmentDescription{
			Format:         tex.NativeFormat(),
			Samples:        l.numSamples,
			LoadOp:         ds.DepthLoadAction.native(),
			StencilLoadOp:  ds.StencilLoadAction.native(),
			StoreOp:        AttachmentStoreOpDontCare,
			StencilStoreOp: AttachmentStoreOpDontCare,
			InitialLayout:  ImageLayoutDepthStencilAttachmentOptimal,
			FinalLayout:    ImageLayoutDepthStencilAttachmentOptimal,
		}
		// multisampled depth is never stored
		if desc.Samples == SampleCount1 {
			desc.StoreOp = ds.DepthStoreAction.native()
			desc.StencilStoreOp = ds.StencilStoreAction.native()
		}
		index := len(l.attachments)
		if desc.LoadOp == AttachmentLoadOpClear || desc.StencilLoadOp == AttachmentLoadOpClear {
			markClear(index)
		}
		l.attachments = append(l.attachments, desc)
		l.depthRef = AttachmentReference{Attachment: uint32(index), Layout: ImageLayoutDepthStencilAttachmentOptimal}
		l.hasDepthStencil = true

		if setExtent {
			if l.extent.Width != tex.desc.Width || l.extent.Height != tex.desc.Height {
				return nil, errors.Newf("depth target is %dx%d, expected %dx%d",
					tex.desc.Width, tex.desc.Height, l.extent.Width, l.extent.Height)
			}
		} else {
			l.extent = Extent3D{Width: tex.desc.Width, Height: tex.desc.Height, Depth: 1}
		}
	}
	if !l.hasResolveAttachments {
		l.resolveRefs = nil
	}
	l.computeHashes(info)
	return l, nil
}

func (l *RenderTargetLayout) computeHashes(info RenderTargetsInfo) {
	b := make([]byte, 0, 16+len(l.attachments)*32)
	b = binary.LittleEndian.AppendUint32(b, uint32(info.NumColorRenderTargets))
	b = binary.LittleEndian.AppendUint32(b, uint32(l.numSamples))
	for i := 0; i < info.NumColorRenderTargets; i++ {
		view := info.ColorRenderTargets[i]
		b = binary.LittleEndian.AppendUint32(b, uint32(view.LoadAction))
		b = binary.LittleEndian.AppendUint32(b, uint32(view.StoreAction))
		var format Format
		if view.Texture != nil {
			format = view.Texture.NativeFormat()
		}
		b = binary.LittleEndian.AppendUint32(b, uint32(format))
	}
	ds := info.DepthStencilRenderTarget
	var depthFormat Format
	if ds.Texture != nil {
		depthFormat = ds.Texture.NativeFormat()
	}
	b = binary.LittleEndian.AppendUint32(b, uint32(depthFormat))
	b = append(b, byte(ds.DepthLoadAction), byte(ds.DepthStoreAction), byte(ds.StencilLoadAction), byte(ds.StencilStoreAction))
	l.renderPassHash = xxhash.Sum64(b)

	b = binary.LittleEndian.AppendUint32(b, l.extent.Width)
	b = binary.LittleEndian.AppendUint32(b, l.extent.Height)
	b = binary.LittleEndian.AppendUint32(b, l.extent.Depth)
	l.hash = xxhash.Sum64(b)
}

func (l *RenderTargetLayout) Attachments() []AttachmentDescription { return l.attachments }

func (l *RenderTargetLayout) NumAttachments() int { return len(l.attachments) }

func (l *RenderTargetLayout) NumColorAttachments() int { return len(l.colorRefs) }

func (l *RenderTargetLayout) HasDepthStencil() bool { return l.hasDepthStencil }

func (l *RenderTargetLayout) HasResolveAttachments() bool { return l.hasResolveAttachments }

func (l *RenderTargetLayout) NumSamples() SampleCount { return l.numSamples }

// NumUsedClearValues is one past the last attachment that clears on load.
func (l *RenderTargetLayout) NumUsedClearValues() int { return l.numUsedClearValues }

func (l *RenderTargetLayout) Extent() Extent3D { return l.extent }

// RenderPassHash identifies compatible render passes. It ignores the extent.
func (l *RenderTargetLayout) RenderPassHash() uint64 { return l.renderPassHash }

// Hash identifies the layout including its extent.
func (l *RenderTargetLayout) Hash() uint64 { return l.hash }

func (l *RenderTargetLayout) renderPassInfo() RenderPassInfo {
	info := RenderPassInfo{
		Attachments:    l.attachments,
		ColorRefs:      l.colorRefs,
		ResolveRefs:    l.resolveRefs,
		ExternalDepend: true,
	}
	if l.hasDepthStencil {
		ref := l.depthRef
		info.DepthStencil = &ref
	}
	return info
}

// RenderPass is a single subpass native render pass built from a layout.
type RenderPass struct {
	layout *RenderTargetLayout
	handle RenderPassHandle
}

func (rp *RenderPass) Handle() RenderPassHandle { return rp.handle }

func (rp *RenderPass) Layout() *RenderTargetLayout { return rp.layout }

// RenderPassCache shares render passes between layouts with the same RenderPassHash.
type RenderPassCache struct {
	device *Device

	mu     sync.Mutex
	passes map[uint64]*RenderPass
}

func NewRenderPassCache(device *Device) *RenderPassCache {
	return &RenderPassCache{
		device: device,
		passes: make(map[uint64]*RenderPass),
	}
}

func (c *RenderPassCache) GetOrCreate(layout *RenderTargetLayout) (*RenderPass, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rp, ok := c.passes[layout.RenderPassHash()]; ok {
		return rp, nil
	}
	handle, ret := c.device.native.CreateRenderPass(layout.renderPassInfo())
	if isError(ret) {
		return nil, newErrorf(ret, "create render pass with %d attachments", layout.NumAttachments())
	}
	rp := &RenderPass{layout: layout, handle: handle}
	c.passes[layout.RenderPassHash()] = rp
	c.device.log.Debug("created render pass",
		slog.Int("attachments", layout.NumAttachments()),
		slog.Int("samples", int(layout.NumSamples())))
	return rp, nil
}

func (c *RenderPassCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.passes)
}

func (c *RenderPassCache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for hash, rp := range c.passes {
		c.device.native.DestroyRenderPass(rp.handle)
		delete(c.passes, hash)
	}
}
