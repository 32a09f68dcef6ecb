package dieselrhi

import "testing"

func TestPixelFormatRoundTrip(t *testing.T) {
	for p := PixelFormat(1); p < numPixelFormats; p++ {
		native := p.NativeFormat()
		if native == FormatUndefined {
			t.Errorf("%v has no native format", p)
			continue
		}
		back, ok := PixelFormatFromNative(native)
		if !ok || back != p {
			t.Errorf("%v -> %d -> %v", p, native, back)
		}
	}
	if _, ok := PixelFormatFromNative(FormatUndefined); ok {
		t.Errorf("undefined format mapped")
	}
	if _, ok := PixelFormatFromNative(FormatS8Uint); ok {
		t.Errorf("unmapped format mapped")
	}
	if PixelFormat(-1).NativeFormat() != FormatUndefined || numPixelFormats.NativeFormat() != FormatUndefined {
		t.Errorf("out of range format mapped")
	}
}

func TestPixelFormatAspects(t *testing.T) {
	cases := []struct {
		format  PixelFormat
		depth   bool
		stencil bool
		aspect  ImageAspectFlags
	}{
		{PixelFormatB8G8R8A8, false, false, ImageAspectColor},
		{PixelFormatFloatRGBA, false, false, ImageAspectColor},
		{PixelFormatShadowDepth, true, false, ImageAspectDepth},
		{PixelFormatDepthStencil, true, true, ImageAspectDepth | ImageAspectStencil},
	}
	for _, c := range cases {
		if c.format.IsDepth() != c.depth || c.format.HasStencil() != c.stencil {
			t.Errorf("%v: depth %v stencil %v", c.format, c.format.IsDepth(), c.format.HasStencil())
		}
		if got := aspectForFormat(c.format.NativeFormat()); got != c.aspect {
			t.Errorf("%v: aspect %d, want %d", c.format, got, c.aspect)
		}
	}
	if aspectForFormat(FormatS8Uint) != ImageAspectStencil {
		t.Errorf("stencil only format")
	}
}

func TestPixelFormatString(t *testing.T) {
	if PixelFormatR32Float.String() != "R32Float" {
		t.Errorf("got %q", PixelFormatR32Float.String())
	}
	if PixelFormat(42).String() != "PixelFormat(42)" {
		t.Errorf("got %q", PixelFormat(42).String())
	}
}
