package vkdriver

import (
	"strings"

	"github.com/andewx/dieselrhi"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"
)

// The RHI enums carry native values, so most conversions are casts.

func result(ret vk.Result) dieselrhi.Result {
	return dieselrhi.Result(ret)
}

func resultError(ret vk.Result) error {
	return dieselrhi.NewError(result(ret))
}

// safeString terminates s with NUL for the native API.
func safeString(s string) string {
	if strings.HasSuffix(s, "\x00") {
		return s
	}
	return s + "\x00"
}

func safeStrings(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = safeString(s)
	}
	return out
}

func bool32(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}

func extent2D(e dieselrhi.Extent2D) vk.Extent2D {
	return vk.Extent2D{Width: e.Width, Height: e.Height}
}

func fromExtent2D(e vk.Extent2D) dieselrhi.Extent2D {
	e.Deref()
	return dieselrhi.Extent2D{Width: e.Width, Height: e.Height}
}

func subresourceRange(r dieselrhi.ImageSubresourceRange) vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(r.AspectMask),
		BaseMipLevel:   r.BaseMipLevel,
		LevelCount:     r.LevelCount,
		BaseArrayLayer: r.BaseArrayLayer,
		LayerCount:     r.LayerCount,
	}
}

func subresourceLayers(l dieselrhi.ImageSubresourceLayers) vk.ImageSubresourceLayers {
	return vk.ImageSubresourceLayers{
		AspectMask:     vk.ImageAspectFlags(l.AspectMask),
		MipLevel:       l.MipLevel,
		BaseArrayLayer: l.BaseArrayLayer,
		LayerCount:     l.LayerCount,
	}
}

func imageCopies(regions []dieselrhi.ImageCopy) []vk.ImageCopy {
	out := make([]vk.ImageCopy, len(regions))
	for i, r := range regions {
		out[i] = vk.ImageCopy{
			SrcSubresource: subresourceLayers(r.SrcSubresource),
			SrcOffset:      vk.Offset3D{X: r.SrcOffset.X, Y: r.SrcOffset.Y, Z: r.SrcOffset.Z},
			DstSubresource: subresourceLayers(r.DstSubresource),
			DstOffset:      vk.Offset3D{X: r.DstOffset.X, Y: r.DstOffset.Y, Z: r.DstOffset.Z},
			Extent:         vk.Extent3D{Width: r.Extent.Width, Height: r.Extent.Height, Depth: r.Extent.Depth},
		}
	}
	return out
}

func clearValues(values []dieselrhi.ClearValue) []vk.ClearValue {
	if len(values) == 0 {
		return nil
	}
	out := make([]vk.ClearValue, len(values))
	for i, v := range values {
		if v.IsDepth {
			out[i] = vk.NewClearDepthStencil(v.Depth, v.Stencil)
		} else {
			out[i] = vk.NewClearValue(v.Color[:])
		}
	}
	return out
}

func attachmentDescriptions(list []dieselrhi.AttachmentDescription) []vk.AttachmentDescription {
	out := make([]vk.AttachmentDescription, len(list))
	for i, a := range list {
		out[i] = vk.AttachmentDescription{
			Format:         vk.Format(a.Format),
			Samples:        vk.SampleCountFlagBits(a.Samples),
			LoadOp:         vk.AttachmentLoadOp(a.LoadOp),
			StoreOp:        vk.AttachmentStoreOp(a.StoreOp),
			StencilLoadOp:  vk.AttachmentLoadOp(a.StencilLoadOp),
			StencilStoreOp: vk.AttachmentStoreOp(a.StencilStoreOp),
			InitialLayout:  vk.ImageLayout(a.InitialLayout),
			FinalLayout:    vk.ImageLayout(a.FinalLayout),
		}
	}
	return out
}

func attachmentReferences(list []dieselrhi.AttachmentReference) []vk.AttachmentReference {
	if len(list) == 0 {
		return nil
	}
	out := make([]vk.AttachmentReference, len(list))
	for i, r := range list {
		out[i] = vk.AttachmentReference{Attachment: r.Attachment, Layout: vk.ImageLayout(r.Layout)}
	}
	return out
}

// subpassDependencies makes attachment writes of a previous pass visible to this one.
func subpassDependencies(info dieselrhi.RenderPassInfo) []vk.SubpassDependency {
	if !info.ExternalDepend {
		return nil
	}
	stages := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	access := vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit)
	if info.DepthStencil != nil {
		stages |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
		access |= vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit)
	}
	return []vk.SubpassDependency{{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  stages,
		DstStageMask:  stages,
		SrcAccessMask: access,
		DstAccessMask: access,
	}}
}

func submitWaits(waits []dieselrhi.SemaphoreWait, sems *handleTable[vk.Semaphore]) ([]vk.Semaphore, []vk.PipelineStageFlags) {
	if len(waits) == 0 {
		return nil, nil
	}
	handles := make([]vk.Semaphore, len(waits))
	stages := make([]vk.PipelineStageFlags, len(waits))
	for i, w := range waits {
		handles[i] = sems.lookup(uint64(w.Semaphore))
		stages[i] = vk.PipelineStageFlags(w.Stage)
	}
	return handles, stages
}

// debugLevel maps debug report flags onto log levels.
func debugLevel(flags vk.DebugReportFlags) slog.Level {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		return slog.LevelError
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
		return slog.LevelWarn
	case flags&vk.DebugReportFlags(vk.DebugReportInformationBit) != 0:
		return slog.LevelInfo
	}
	return slog.LevelDebug
}
