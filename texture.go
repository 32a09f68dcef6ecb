package dieselrhi

import (
	"github.com/cockroachdb/errors"
)

type TextureKind int

const (
	Texture2D TextureKind = iota
	Texture2DArray
	Texture3D
	TextureCube
)

type TextureDesc struct {
	Kind   TextureKind
	Format PixelFormat
	Width  uint32
	Height uint32
	// Depth is the depth of a 3D texture or the layer count of an array.
	Depth     uint32
	MipLevels uint32
	Samples   SampleCount
	Usage     ImageUsageFlags
}

// Texture is an image with a default view. Textures wrapping swapchain images do not own them.
type Texture struct {
	device *Device
	desc   TextureDesc
	format Format
	aspect ImageAspectFlags

	image ImageHandle
	view  ImageViewHandle
	owned bool
}

func (d TextureDesc) arrayLayers() uint32 {
	switch d.Kind {
	case TextureCube:
		return 6
	case Texture2DArray:
		if d.Depth > 0 {
			return d.Depth
		}
	}
	return 1
}

func (d TextureDesc) viewType() ImageViewType {
	switch d.Kind {
	case Texture2DArray:
		return ImageViewType2DArray
	case Texture3D:
		return ImageViewType3D
	case TextureCube:
		return ImageViewTypeCube
	}
	return ImageViewType2D
}

func (d TextureDesc) normalized() TextureDesc {
	if d.MipLevels == 0 {
		d.MipLevels = 1
	}
	if d.Samples == 0 {
		d.Samples = SampleCount1
	}
	if d.Depth == 0 {
		d.Depth = 1
	}
	return d
}

// NewTexture creates an image with a default view covering all mips and layers.
func NewTexture(device *Device, desc TextureDesc) (*Texture, error) {
	desc = desc.normalized()
	format := desc.Format.NativeFormat()
	if format == FormatUndefined {
		return nil, errors.Newf("pixel format %s has no native format", desc.Format)
	}
	info := ImageInfo{
		Type:        ImageType2D,
		Format:      format,
		Extent:      Extent3D{Width: desc.Width, Height: desc.Height, Depth: 1},
		MipLevels:   desc.MipLevels,
		ArrayLayers: desc.arrayLayers(),
		Samples:     desc.Samples,
		Usage:       desc.Usage,
	}
	switch desc.Kind {
	case TextureCube:
		info.Flags |= ImageCreateCubeCompatible
	case Texture3D:
		info.Type = ImageType3D
		info.Extent.Depth = desc.Depth
		// layered rendering into a volume goes through 2D array views
		info.Flags |= ImageCreate2DArrayCompatible
	}
	image, ret := device.native.CreateImage(info)
	if isError(ret) {
		return nil, newErrorf(ret, "create %dx%d image", desc.Width, desc.Height)
	}
	t := &Texture{
		device: device,
		desc:   desc,
		format: format,
		aspect: aspectForFormat(format),
		image:  image,
		owned:  true,
	}
	view, ret := device.native.CreateImageView(ImageViewInfo{
		Image:    image,
		ViewType: desc.viewType(),
		Format:   format,
		Range:    t.FullRange(),
	})
	if isError(ret) {
		device.native.DestroyImage(image)
		return nil, newErrorf(ret, "create image view")
	}
	t.view = view
	return t, nil
}

// newBackBufferTexture wraps swapchain images. The image and view are bound on acquire.
func newBackBufferTexture(device *Device, format PixelFormat, native Format, width, height uint32) *Texture {
	return &Texture{
		device: device,
		desc: TextureDesc{
			Kind:      Texture2D,
			Format:    format,
			Width:     width,
			Height:    height,
			Depth:     1,
			MipLevels: 1,
			Samples:   SampleCount1,
			Usage:     ImageUsageColorAttachment | ImageUsageTransferDst,
		},
		format: native,
		aspect: ImageAspectColor,
	}
}

func (t *Texture) bind(image ImageHandle, view ImageViewHandle) {
	t.image = image
	t.view = view
}

func (t *Texture) Image() ImageHandle { return t.image }
func (t *Texture) DefaultView() ImageViewHandle { return t.view }
func (t *Texture) Desc() TextureDesc { return t.desc }
func (t *Texture) Kind() TextureKind { return t.desc.Kind }
func (t *Texture) PixelFormat() PixelFormat { return t.desc.Format }
func (t *Texture) NativeFormat() Format { return t.format }
func (t *Texture) Aspect() ImageAspectFlags { return t.aspect }
func (t *Texture) Samples() SampleCount { return t.desc.Samples }
func (t *Texture) NumMips() uint32 { return t.desc.MipLevels }
func (t *Texture) IsDepth() bool { return t.aspect&ImageAspectDepth != 0 }

// MipExtent gets the extent of mip level mip, never smaller than one texel.
func (t *Texture) MipExtent(mip uint32) Extent3D {
	shift := func(v uint32) uint32 {
		v >>= mip
		if v == 0 {
			return 1
		}
		return v
	}
	depth := uint32(1)
	if t.desc.Kind == Texture3D {
		depth = shift(t.desc.Depth)
	}
	return Extent3D{Width: shift(t.desc.Width), Height: shift(t.desc.Height), Depth: depth}
}

func (t *Texture) FullRange() ImageSubresourceRange {
	return ImageSubresourceRange{
		AspectMask: t.aspect,
		LevelCount: t.desc.MipLevels,
		LayerCount: t.desc.arrayLayers(),
	}
}

// Destroy hands owned native objects to the deferred deletion queue and drops cached state
// that references the image.
func (t *Texture) Destroy() {
	if !t.owned || t.image == 0 {
		return
	}
	t.device.immediate.NotifyDeletedImage(t.image)
	t.device.deferredDeletion.EnqueueResource(ResourceImageView, uint64(t.view))
	t.device.deferredDeletion.EnqueueResource(ResourceImage, uint64(t.image))
	t.image = 0
	t.view = 0
}
