package dieselrhi

import "fmt"

// Native objects cross the driver boundary as opaque handles. Zero is the null handle.
type (
	SurfaceHandle             uint64
	QueueHandle               uint64
	SemaphoreHandle           uint64
	FenceHandle               uint64
	SwapchainHandle           uint64
	ImageHandle               uint64
	ImageViewHandle           uint64
	CommandPoolHandle         uint64
	CommandBufferHandle       uint64
	RenderPassHandle          uint64
	FramebufferHandle         uint64
	DescriptorSetLayoutHandle uint64
	DescriptorPoolHandle      uint64
	DescriptorSetHandle       uint64
	SamplerHandle             uint64
)

const (
	NullSemaphore SemaphoreHandle = 0
	NullFence     FenceHandle     = 0
)

// InfiniteTimeout is the timeout used for acquires that block until an image is available.
const InfiniteTimeout = ^uint64(0)

// Result mirrors the native result codes.
type Result int32

const (
	Success                   Result = 0
	NotReady                  Result = 1
	Timeout                   Result = 2
	Incomplete                Result = 5
	ErrorOutOfHostMemory      Result = -1
	ErrorOutOfDeviceMemory    Result = -2
	ErrorInitializationFailed Result = -3
	ErrorDeviceLost           Result = -4
	ErrorLayerNotPresent      Result = -6
	ErrorExtensionNotPresent  Result = -7
	ErrorFeatureNotPresent    Result = -8
	ErrorIncompatibleDriver   Result = -9
	ErrorTooManyObjects       Result = -10
	ErrorFormatNotSupported   Result = -11
	ErrorFragmentedPool       Result = -12
	ErrorOutOfPoolMemory      Result = -1000069000
	ErrorSurfaceLost          Result = -1000000000
	ErrorNativeWindowInUse    Result = -1000000001
	Suboptimal                Result = 1000001003
	ErrorOutOfDate            Result = -1000001004
)

var resultNames = map[Result]string{
	Success:                   "success",
	NotReady:                  "not ready",
	Timeout:                   "timeout",
	Incomplete:                "incomplete",
	ErrorOutOfHostMemory:      "out of host memory",
	ErrorOutOfDeviceMemory:    "out of device memory",
	ErrorInitializationFailed: "initialization failed",
	ErrorDeviceLost:           "device lost",
	ErrorLayerNotPresent:      "layer not present",
	ErrorExtensionNotPresent:  "extension not present",
	ErrorFeatureNotPresent:    "feature not present",
	ErrorIncompatibleDriver:   "incompatible driver",
	ErrorTooManyObjects:       "too many objects",
	ErrorFormatNotSupported:   "format not supported",
	ErrorFragmentedPool:       "fragmented pool",
	ErrorOutOfPoolMemory:      "out of pool memory",
	ErrorSurfaceLost:          "surface lost",
	ErrorNativeWindowInUse:    "native window in use",
	Suboptimal:                "suboptimal",
	ErrorOutOfDate:            "out of date",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("result(%d)", int32(r))
}

// Error implements error so a Result can be wrapped directly.
func (r Result) Error() string {
	return "vulkan error: " + r.String()
}

type Format uint32

const (
	FormatUndefined              Format = 0
	FormatR5G6B5UnormPack16      Format = 4
	FormatR8Unorm                Format = 9
	FormatR8G8B8A8Unorm          Format = 37
	FormatR8G8B8A8Srgb           Format = 43
	FormatB8G8R8A8Unorm          Format = 44
	FormatB8G8R8A8Srgb           Format = 50
	FormatA8B8G8R8UnormPack32    Format = 51
	FormatA2R10G10B10UnormPack32 Format = 58
	FormatA2B10G10R10UnormPack32 Format = 64
	FormatR16G16B16A16Sfloat     Format = 97
	FormatR32Sfloat              Format = 100
	FormatD16Unorm               Format = 124
	FormatX8D24UnormPack32       Format = 125
	FormatD32Sfloat              Format = 126
	FormatS8Uint                 Format = 127
	FormatD24UnormS8Uint         Format = 129
	FormatD32SfloatS8Uint        Format = 130
)

var formatNames = map[Format]string{
	FormatUndefined:              "UNDEFINED",
	FormatR5G6B5UnormPack16:      "R5G6B5_UNORM_PACK16",
	FormatR8Unorm:                "R8_UNORM",
	FormatR8G8B8A8Unorm:          "R8G8B8A8_UNORM",
	FormatR8G8B8A8Srgb:           "R8G8B8A8_SRGB",
	FormatB8G8R8A8Unorm:          "B8G8R8A8_UNORM",
	FormatB8G8R8A8Srgb:           "B8G8R8A8_SRGB",
	FormatA8B8G8R8UnormPack32:    "A8B8G8R8_UNORM_PACK32",
	FormatA2R10G10B10UnormPack32: "A2R10G10B10_UNORM_PACK32",
	FormatA2B10G10R10UnormPack32: "A2B10G10R10_UNORM_PACK32",
	FormatR16G16B16A16Sfloat:     "R16G16B16A16_SFLOAT",
	FormatR32Sfloat:              "R32_SFLOAT",
	FormatD16Unorm:               "D16_UNORM",
	FormatX8D24UnormPack32:       "X8_D24_UNORM_PACK32",
	FormatD32Sfloat:              "D32_SFLOAT",
	FormatS8Uint:                 "S8_UINT",
	FormatD24UnormS8Uint:         "D24_UNORM_S8_UINT",
	FormatD32SfloatS8Uint:        "D32_SFLOAT_S8_UINT",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format %d", uint32(f))
}

type ColorSpace uint32

const ColorSpaceSrgbNonlinear ColorSpace = 0

type PresentMode uint32

const (
	PresentModeImmediate   PresentMode = 0
	PresentModeMailbox     PresentMode = 1
	PresentModeFifo        PresentMode = 2
	PresentModeFifoRelaxed PresentMode = 3
)

func (m PresentMode) String() string {
	switch m {
	case PresentModeImmediate:
		return "immediate"
	case PresentModeMailbox:
		return "mailbox"
	case PresentModeFifo:
		return "fifo"
	case PresentModeFifoRelaxed:
		return "fifo relaxed"
	}
	return fmt.Sprintf("present mode %d", uint32(m))
}

type ImageLayout uint32

const (
	ImageLayoutUndefined                     ImageLayout = 0
	ImageLayoutGeneral                       ImageLayout = 1
	ImageLayoutColorAttachmentOptimal        ImageLayout = 2
	ImageLayoutDepthStencilAttachmentOptimal ImageLayout = 3
	ImageLayoutDepthStencilReadOnlyOptimal   ImageLayout = 4
	ImageLayoutShaderReadOnlyOptimal         ImageLayout = 5
	ImageLayoutTransferSrcOptimal            ImageLayout = 6
	ImageLayoutTransferDstOptimal            ImageLayout = 7
	ImageLayoutPreinitialized                ImageLayout = 8
	ImageLayoutPresentSrc                    ImageLayout = 1000001002
)

type PipelineStageFlags uint32

const (
	PipelineStageTopOfPipe             PipelineStageFlags = 0x00000001
	PipelineStageVertexShader          PipelineStageFlags = 0x00000008
	PipelineStageFragmentShader        PipelineStageFlags = 0x00000080
	PipelineStageEarlyFragmentTests    PipelineStageFlags = 0x00000100
	PipelineStageLateFragmentTests     PipelineStageFlags = 0x00000200
	PipelineStageColorAttachmentOutput PipelineStageFlags = 0x00000400
	PipelineStageComputeShader         PipelineStageFlags = 0x00000800
	PipelineStageTransfer              PipelineStageFlags = 0x00001000
	PipelineStageBottomOfPipe          PipelineStageFlags = 0x00002000
	PipelineStageHost                  PipelineStageFlags = 0x00004000
	PipelineStageAllCommands           PipelineStageFlags = 0x00010000
)

type AccessFlags uint32

const (
	AccessShaderRead                  AccessFlags = 0x00000020
	AccessShaderWrite                 AccessFlags = 0x00000040
	AccessColorAttachmentRead         AccessFlags = 0x00000080
	AccessColorAttachmentWrite        AccessFlags = 0x00000100
	AccessDepthStencilAttachmentRead  AccessFlags = 0x00000200
	AccessDepthStencilAttachmentWrite AccessFlags = 0x00000400
	AccessTransferRead                AccessFlags = 0x00000800
	AccessTransferWrite               AccessFlags = 0x00001000
	AccessHostWrite                   AccessFlags = 0x00004000
	AccessMemoryRead                  AccessFlags = 0x00008000
	AccessMemoryWrite                 AccessFlags = 0x00010000
)

type ImageAspectFlags uint32

const (
	ImageAspectColor   ImageAspectFlags = 0x1
	ImageAspectDepth   ImageAspectFlags = 0x2
	ImageAspectStencil ImageAspectFlags = 0x4
)

type ImageUsageFlags uint32

const (
	ImageUsageTransferSrc            ImageUsageFlags = 0x01
	ImageUsageTransferDst            ImageUsageFlags = 0x02
	ImageUsageSampled                ImageUsageFlags = 0x04
	ImageUsageStorage                ImageUsageFlags = 0x08
	ImageUsageColorAttachment        ImageUsageFlags = 0x10
	ImageUsageDepthStencilAttachment ImageUsageFlags = 0x20
)

type ImageViewType uint32

const (
	ImageViewType1D        ImageViewType = 0
	ImageViewType2D        ImageViewType = 1
	ImageViewType3D        ImageViewType = 2
	ImageViewTypeCube      ImageViewType = 3
	ImageViewType2DArray   ImageViewType = 5
	ImageViewTypeCubeArray ImageViewType = 6
)

type ImageType uint32

const (
	ImageType1D ImageType = 0
	ImageType2D ImageType = 1
	ImageType3D ImageType = 2
)

type ImageCreateFlags uint32

const (
	ImageCreateCubeCompatible    ImageCreateFlags = 0x10
	ImageCreate2DArrayCompatible ImageCreateFlags = 0x20
)

type SampleCount uint32

const (
	SampleCount1 SampleCount = 1
	SampleCount2 SampleCount = 2
	SampleCount4 SampleCount = 4
	SampleCount8 SampleCount = 8
)

type AttachmentLoadOp uint32

const (
	AttachmentLoadOpLoad     AttachmentLoadOp = 0
	AttachmentLoadOpClear    AttachmentLoadOp = 1
	AttachmentLoadOpDontCare AttachmentLoadOp = 2
)

type AttachmentStoreOp uint32

const (
	AttachmentStoreOpStore    AttachmentStoreOp = 0
	AttachmentStoreOpDontCare AttachmentStoreOp = 1
)

type DescriptorType uint32

const (
	DescriptorTypeSampler              DescriptorType = 0
	DescriptorTypeCombinedImageSampler DescriptorType = 1
	DescriptorTypeSampledImage         DescriptorType = 2
	DescriptorTypeStorageImage         DescriptorType = 3
	DescriptorTypeUniformTexelBuffer   DescriptorType = 4
	DescriptorTypeStorageTexelBuffer   DescriptorType = 5
	DescriptorTypeUniformBuffer        DescriptorType = 6
	DescriptorTypeStorageBuffer        DescriptorType = 7
	DescriptorTypeUniformBufferDynamic DescriptorType = 8
	DescriptorTypeStorageBufferDynamic DescriptorType = 9
	DescriptorTypeInputAttachment      DescriptorType = 10

	NumDescriptorTypes = 11
)

type ShaderStageFlags uint32

const (
	ShaderStageVertex   ShaderStageFlags = 0x01
	ShaderStageGeometry ShaderStageFlags = 0x08
	ShaderStageFragment ShaderStageFlags = 0x10
	ShaderStageCompute  ShaderStageFlags = 0x20
	ShaderStageAll      ShaderStageFlags = 0x7fffffff
)

type QueueFlags uint32

const (
	QueueGraphics QueueFlags = 0x1
	QueueCompute  QueueFlags = 0x2
	QueueTransfer QueueFlags = 0x4
)

type PhysicalDeviceType uint32

const (
	PhysicalDeviceTypeOther         PhysicalDeviceType = 0
	PhysicalDeviceTypeIntegratedGPU PhysicalDeviceType = 1
	PhysicalDeviceTypeDiscreteGPU   PhysicalDeviceType = 2
	PhysicalDeviceTypeVirtualGPU    PhysicalDeviceType = 3
	PhysicalDeviceTypeCPU           PhysicalDeviceType = 4
)

func (t PhysicalDeviceType) String() string {
	switch t {
	case PhysicalDeviceTypeIntegratedGPU:
		return "integrated"
	case PhysicalDeviceTypeDiscreteGPU:
		return "discrete"
	case PhysicalDeviceTypeVirtualGPU:
		return "virtual"
	case PhysicalDeviceTypeCPU:
		return "cpu"
	}
	return "other"
}

type CompositeAlphaFlags uint32

const (
	CompositeAlphaOpaque         CompositeAlphaFlags = 0x1
	CompositeAlphaPreMultiplied  CompositeAlphaFlags = 0x2
	CompositeAlphaPostMultiplied CompositeAlphaFlags = 0x4
	CompositeAlphaInherit        CompositeAlphaFlags = 0x8
)

type SurfaceTransformFlags uint32

const SurfaceTransformIdentity SurfaceTransformFlags = 0x1

type Extent2D struct {
	Width, Height uint32
}

type Extent3D struct {
	Width, Height, Depth uint32
}

type Offset3D struct {
	X, Y, Z int32
}

type ImageSubresourceRange struct {
	AspectMask     ImageAspectFlags
	BaseMipLevel   uint32
	LevelCount     uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

type ImageSubresourceLayers struct {
	AspectMask     ImageAspectFlags
	MipLevel       uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

// DeviceLimits holds the subset of device limits checked by this package.
type DeviceLimits struct {
	MaxImageDimension2D               uint32
	MaxBoundDescriptorSets            uint32
	MaxDescriptorSetSamplers          uint32
	MaxDescriptorSetUniformBuffers    uint32
	MaxDescriptorSetUniformBuffersDyn uint32
	MaxDescriptorSetStorageBuffers    uint32
	MaxDescriptorSetStorageBuffersDyn uint32
	MaxDescriptorSetSampledImages     uint32
	MaxDescriptorSetStorageImages     uint32
	MaxDescriptorSetInputAttachments  uint32
	MaxColorAttachments               uint32
	MaxFramebufferWidth               uint32
	MaxFramebufferHeight              uint32
	MaxFramebufferLayers              uint32
}

type PhysicalDeviceProperties struct {
	Name          string
	VendorID      uint32
	DeviceID      uint32
	Type          PhysicalDeviceType
	APIVersion    uint32
	DriverVersion uint32
	Limits        DeviceLimits
}

type QueueFamily struct {
	Flags QueueFlags
	Count uint32
}

type SurfaceCapabilities struct {
	MinImageCount           uint32
	MaxImageCount           uint32
	CurrentExtent           Extent2D
	MinImageExtent          Extent2D
	MaxImageExtent          Extent2D
	SupportedTransforms     SurfaceTransformFlags
	CurrentTransform        SurfaceTransformFlags
	SupportedCompositeAlpha CompositeAlphaFlags
	SupportedUsage          ImageUsageFlags
}

type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

type InstanceInfo struct {
	AppName    string
	Extensions []string
	Layers     []string
	// DebugReport installs a driver message callback.
	DebugReport bool
}

type DeviceInfo struct {
	QueueFamilies []uint32
	Extensions    []string
	Layers        []string
}

type SwapchainInfo struct {
	Surface        SurfaceHandle
	MinImageCount  uint32
	Format         Format
	ColorSpace     ColorSpace
	Extent         Extent2D
	Usage          ImageUsageFlags
	PreTransform   SurfaceTransformFlags
	CompositeAlpha CompositeAlphaFlags
	PresentMode    PresentMode
	OldSwapchain   SwapchainHandle
	QueueFamilies  []uint32
}

type ImageInfo struct {
	Type        ImageType
	Flags       ImageCreateFlags
	Format      Format
	Extent      Extent3D
	MipLevels   uint32
	ArrayLayers uint32
	Samples     SampleCount
	Usage       ImageUsageFlags
}

type ImageViewInfo struct {
	Image    ImageHandle
	ViewType ImageViewType
	Format   Format
	Range    ImageSubresourceRange
}

type SemaphoreWait struct {
	Semaphore SemaphoreHandle
	Stage     PipelineStageFlags
}

type SubmitInfo struct {
	Waits            []SemaphoreWait
	CommandBuffers   []CommandBufferHandle
	SignalSemaphores []SemaphoreHandle
}

type PresentInfo struct {
	WaitSemaphores []SemaphoreHandle
	Swapchain      SwapchainHandle
	ImageIndex     uint32
}

type ImageBarrier struct {
	SrcAccess AccessFlags
	DstAccess AccessFlags
	OldLayout ImageLayout
	NewLayout ImageLayout
	Image     ImageHandle
	Range     ImageSubresourceRange
}

type ImageCopy struct {
	SrcSubresource ImageSubresourceLayers
	SrcOffset      Offset3D
	DstSubresource ImageSubresourceLayers
	DstOffset      Offset3D
	Extent         Extent3D
}

type AttachmentDescription struct {
	Format         Format
	Samples        SampleCount
	LoadOp         AttachmentLoadOp
	StoreOp        AttachmentStoreOp
	StencilLoadOp  AttachmentLoadOp
	StencilStoreOp AttachmentStoreOp
	InitialLayout  ImageLayout
	FinalLayout    ImageLayout
}

type AttachmentReference struct {
	Attachment uint32
	Layout     ImageLayout
}

// AttachmentUnused marks an unused attachment reference.
const AttachmentUnused = ^uint32(0)

type RenderPassInfo struct {
	Attachments    []AttachmentDescription
	ColorRefs      []AttachmentReference
	ResolveRefs    []AttachmentReference
	DepthStencil   *AttachmentReference
	ExternalDepend bool
}

type FramebufferInfo struct {
	RenderPass  RenderPassHandle
	Attachments []ImageViewHandle
	Width       uint32
	Height      uint32
	Layers      uint32
}

// ClearValue holds either a color or a depth/stencil clear.
type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
	IsDepth bool
}

type RenderPassBeginInfo struct {
	RenderPass  RenderPassHandle
	Framebuffer FramebufferHandle
	Extent      Extent2D
	ClearValues []ClearValue
}

type DescriptorSetLayoutBinding struct {
	Binding           uint32
	Type              DescriptorType
	Count             uint32
	StageFlags        ShaderStageFlags
	ImmutableSamplers []SamplerHandle
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

// Driver loads the native API and creates instances.
type Driver interface {
	Name() string
	InstanceExtensions() ([]string, error)
	InstanceLayers() ([]string, error)
	CreateInstance(info InstanceInfo) (Instance, error)
}

type Instance interface {
	PhysicalDevices() ([]PhysicalDevice, error)
	CreateSurface(win Window) (SurfaceHandle, error)
	DestroySurface(s SurfaceHandle)
	Destroy()
}

type PhysicalDevice interface {
	Properties() PhysicalDeviceProperties
	QueueFamilies() []QueueFamily
	Extensions() ([]string, error)
	SurfaceSupport(family uint32, s SurfaceHandle) (bool, error)
	SurfaceCapabilities(s SurfaceHandle) (SurfaceCapabilities, error)
	SurfaceFormats(s SurfaceHandle) ([]SurfaceFormat, error)
	SurfacePresentModes(s SurfaceHandle) ([]PresentMode, error)
	CreateDevice(info DeviceInfo) (NativeDevice, error)
}

// NativeDevice is the logical device entry points used by this package.
type NativeDevice interface {
	Queue(family, index uint32) QueueHandle
	WaitIdle() Result
	QueueWaitIdle(q QueueHandle) Result
	QueueSubmit(q QueueHandle, submits []SubmitInfo, fence FenceHandle) Result
	QueuePresent(q QueueHandle, info PresentInfo) Result

	CreateSemaphore() (SemaphoreHandle, Result)
	DestroySemaphore(s SemaphoreHandle)
	CreateFence(signaled bool) (FenceHandle, Result)
	DestroyFence(f FenceHandle)
	WaitForFences(fences []FenceHandle, waitAll bool, timeout uint64) Result
	ResetFences(fences []FenceHandle) Result
	FenceStatus(f FenceHandle) Result

	CreateSwapchain(info SwapchainInfo) (SwapchainHandle, Result)
	DestroySwapchain(sc SwapchainHandle)
	SwapchainImages(sc SwapchainHandle) ([]ImageHandle, Result)
	AcquireNextImage(sc SwapchainHandle, timeout uint64, sem SemaphoreHandle, fence FenceHandle) (uint32, Result)

	CreateImage(info ImageInfo) (ImageHandle, Result)
	DestroyImage(img ImageHandle)
	CreateImageView(info ImageViewInfo) (ImageViewHandle, Result)
	DestroyImageView(view ImageViewHandle)

	CreateCommandPool(family uint32) (CommandPoolHandle, Result)
	DestroyCommandPool(pool CommandPoolHandle)
	AllocateCommandBuffer(pool CommandPoolHandle) (CommandBufferHandle, Result)
	FreeCommandBuffer(pool CommandPoolHandle, cb CommandBufferHandle)
	BeginCommandBuffer(cb CommandBufferHandle) Result
	EndCommandBuffer(cb CommandBufferHandle) Result
	ResetCommandBuffer(cb CommandBufferHandle) Result

	CmdPipelineBarrier(cb CommandBufferHandle, src, dst PipelineStageFlags, barriers []ImageBarrier)
	CmdCopyImage(cb CommandBufferHandle, src ImageHandle, srcLayout ImageLayout, dst ImageHandle, dstLayout ImageLayout, regions []ImageCopy)
	CmdBeginRenderPass(cb CommandBufferHandle, info RenderPassBeginInfo)
	CmdEndRenderPass(cb CommandBufferHandle)
	CmdBeginLabel(cb CommandBufferHandle, name string, color [4]float32)
	CmdEndLabel(cb CommandBufferHandle)

	CreateRenderPass(info RenderPassInfo) (RenderPassHandle, Result)
	DestroyRenderPass(rp RenderPassHandle)
	CreateFramebuffer(info FramebufferInfo) (FramebufferHandle, Result)
	DestroyFramebuffer(fb FramebufferHandle)

	CreateDescriptorSetLayout(bindings []DescriptorSetLayoutBinding) (DescriptorSetLayoutHandle, Result)
	DestroyDescriptorSetLayout(l DescriptorSetLayoutHandle)
	CreateDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize) (DescriptorPoolHandle, Result)
	DestroyDescriptorPool(p DescriptorPoolHandle)
	ResetDescriptorPool(p DescriptorPoolHandle) Result
	AllocateDescriptorSets(p DescriptorPoolHandle, layouts []DescriptorSetLayoutHandle) ([]DescriptorSetHandle, Result)
	FreeDescriptorSets(p DescriptorPoolHandle, sets []DescriptorSetHandle) Result

	Destroy()
}
