package dieselrhi

import "fmt"

// PixelFormat is the engine-side texture format. Each format maps to at most one native format.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatB8G8R8A8
	PixelFormatR8G8B8A8
	PixelFormatA2B10G10R10
	PixelFormatFloatRGBA
	PixelFormatR5G6B5
	PixelFormatG8
	PixelFormatR32Float
	PixelFormatDepthStencil
	PixelFormatShadowDepth

	numPixelFormats
)

var pixelFormatNames = [numPixelFormats]string{
	"Unknown", "B8G8R8A8", "R8G8B8A8", "A2B10G10R10", "FloatRGBA", "R5G6B5", "G8", "R32Float",
	"DepthStencil", "ShadowDepth",
}

func (p PixelFormat) String() string {
	if p >= 0 && p < numPixelFormats {
		return pixelFormatNames[p]
	}
	return fmt.Sprintf("PixelFormat(%d)", int(p))
}

var pixelFormatToNative = [numPixelFormats]Format{
	PixelFormatUnknown:      FormatUndefined,
	PixelFormatB8G8R8A8:     FormatB8G8R8A8Unorm,
	PixelFormatR8G8B8A8:     FormatR8G8B8A8Unorm,
	PixelFormatA2B10G10R10:  FormatA2B10G10R10UnormPack32,
	PixelFormatFloatRGBA:    FormatR16G16B16A16Sfloat,
	PixelFormatR5G6B5:       FormatR5G6B5UnormPack16,
	PixelFormatG8:           FormatR8Unorm,
	PixelFormatR32Float:     FormatR32Sfloat,
	PixelFormatDepthStencil: FormatD32SfloatS8Uint,
	PixelFormatShadowDepth:  FormatD16Unorm,
}

// NativeFormat gets the native format for p, FormatUndefined when it has none.
func (p PixelFormat) NativeFormat() Format {
	if p < 0 || p >= numPixelFormats {
		return FormatUndefined
	}
	return pixelFormatToNative[p]
}

// IsDepth reports whether p is a depth or depth/stencil format.
func (p PixelFormat) IsDepth() bool {
	return p == PixelFormatDepthStencil || p == PixelFormatShadowDepth
}

// HasStencil reports whether p carries a stencil aspect.
func (p PixelFormat) HasStencil() bool {
	return p == PixelFormatDepthStencil
}

// PixelFormatFromNative is the reverse platform-format mapping.
func PixelFormatFromNative(f Format) (PixelFormat, bool) {
	if f == FormatUndefined {
		return PixelFormatUnknown, false
	}
	for p := PixelFormat(1); p < numPixelFormats; p++ {
		if pixelFormatToNative[p] == f {
			return p, true
		}
	}
	return PixelFormatUnknown, false
}

func aspectForFormat(f Format) ImageAspectFlags {
	switch f {
	case FormatD16Unorm, FormatX8D24UnormPack32, FormatD32Sfloat:
		return ImageAspectDepth
	case FormatS8Uint:
		return ImageAspectStencil
	case FormatD24UnormS8Uint, FormatD32SfloatS8Uint:
		return ImageAspectDepth | ImageAspectStencil
	}
	return ImageAspectColor
}

// selectSurfaceFormat picks the surface format for a requested pixel format. A supported request
// wins; otherwise the first surface format with a reverse mapping is used. ok is false when no
// surface format can be expressed as a PixelFormat.
func selectSurfaceFormat(requested PixelFormat, formats []SurfaceFormat) (SurfaceFormat, PixelFormat, bool) {
	// A single undefined entry means the surface has no preferred format.
	if len(formats) == 1 && formats[0].Format == FormatUndefined {
		if requested == PixelFormatUnknown || requested.NativeFormat() == FormatUndefined {
			requested = PixelFormatB8G8R8A8
		}
		return SurfaceFormat{Format: requested.NativeFormat(), ColorSpace: formats[0].ColorSpace}, requested, true
	}
	if requested != PixelFormatUnknown {
		want := requested.NativeFormat()
		for _, f := range formats {
			if f.Format == want {
				return f, requested, true
			}
		}
	}
	for _, f := range formats {
		if p, ok := PixelFormatFromNative(f.Format); ok {
			return f, p, true
		}
	}
	return SurfaceFormat{}, PixelFormatUnknown, false
}
