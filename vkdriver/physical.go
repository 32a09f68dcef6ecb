package vkdriver

import (
	"github.com/andewx/dieselrhi"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slices"
)

type physicalDevice struct {
	inst   *instance
	handle vk.PhysicalDevice

	props    dieselrhi.PhysicalDeviceProperties
	families []dieselrhi.QueueFamily
	memory   vk.PhysicalDeviceMemoryProperties
}

var _ dieselrhi.PhysicalDevice = (*physicalDevice)(nil)

func newPhysicalDevice(inst *instance, gpu vk.PhysicalDevice) *physicalDevice {
	p := &physicalDevice{inst: inst, handle: gpu}

	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(gpu, &props)
	props.Deref()
	props.Limits.Deref()
	l := props.Limits
	p.props = dieselrhi.PhysicalDeviceProperties{
		Name:          vk.ToString(props.DeviceName[:]),
		VendorID:      props.VendorID,
		DeviceID:      props.DeviceID,
		Type:          dieselrhi.PhysicalDeviceType(props.DeviceType),
		APIVersion:    props.ApiVersion,
		DriverVersion: props.DriverVersion,
		Limits: dieselrhi.DeviceLimits{
			MaxImageDimension2D:               l.MaxImageDimension2D,
			MaxBoundDescriptorSets:            l.MaxBoundDescriptorSets,
			MaxDescriptorSetSamplers:          l.MaxDescriptorSetSamplers,
			MaxDescriptorSetUniformBuffers:    l.MaxDescriptorSetUniformBuffers,
			MaxDescriptorSetUniformBuffersDyn: l.MaxDescriptorSetUniformBuffersDynamic,
			MaxDescriptorSetStorageBuffers:    l.MaxDescriptorSetStorageBuffers,
			MaxDescriptorSetStorageBuffersDyn: l.MaxDescriptorSetStorageBuffersDynamic,
			MaxDescriptorSetSampledImages:     l.MaxDescriptorSetSampledImages,
			MaxDescriptorSetStorageImages:     l.MaxDescriptorSetStorageImages,
			MaxDescriptorSetInputAttachments:  l.MaxDescriptorSetInputAttachments,
			MaxColorAttachments:               l.MaxColorAttachments,
			MaxFramebufferWidth:               l.MaxFramebufferWidth,
			MaxFramebufferHeight:              l.MaxFramebufferHeight,
			MaxFramebufferLayers:              l.MaxFramebufferLayers,
		},
	}

	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	list := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, list)
	p.families = make([]dieselrhi.QueueFamily, 0, count)
	for _, f := range list[:count] {
		f.Deref()
		p.families = append(p.families, dieselrhi.QueueFamily{
			Flags: dieselrhi.QueueFlags(f.QueueFlags),
			Count: f.QueueCount,
		})
	}

	vk.GetPhysicalDeviceMemoryProperties(gpu, &p.memory)
	p.memory.Deref()
	return p
}

func (p *physicalDevice) Properties() dieselrhi.PhysicalDeviceProperties { return p.props }

func (p *physicalDevice) QueueFamilies() []dieselrhi.QueueFamily {
	out := make([]dieselrhi.QueueFamily, len(p.families))
	copy(out, p.families)
	return out
}

func (p *physicalDevice) Extensions() ([]string, error) {
	return deviceExtensions(p.handle)
}

func (p *physicalDevice) SurfaceSupport(family uint32, s dieselrhi.SurfaceHandle) (bool, error) {
	var supported vk.Bool32
	ret := vk.GetPhysicalDeviceSurfaceSupport(p.handle, family, p.inst.surface(s), &supported)
	if err := resultError(ret); err != nil {
		return false, errors.Wrap(err, "vkGetPhysicalDeviceSurfaceSupportKHR")
	}
	return supported == vk.True, nil
}

func (p *physicalDevice) SurfaceCapabilities(s dieselrhi.SurfaceHandle) (dieselrhi.SurfaceCapabilities, error) {
	var caps vk.SurfaceCapabilities
	ret := vk.GetPhysicalDeviceSurfaceCapabilities(p.handle, p.inst.surface(s), &caps)
	if err := resultError(ret); err != nil {
		return dieselrhi.SurfaceCapabilities{}, errors.Wrap(err, "vkGetPhysicalDeviceSurfaceCapabilitiesKHR")
	}
	caps.Deref()
	return dieselrhi.SurfaceCapabilities{
		MinImageCount:           caps.MinImageCount,
		MaxImageCount:           caps.MaxImageCount,
		CurrentExtent:           fromExtent2D(caps.CurrentExtent),
		MinImageExtent:          fromExtent2D(caps.MinImageExtent),
		MaxImageExtent:          fromExtent2D(caps.MaxImageExtent),
		SupportedTransforms:     dieselrhi.SurfaceTransformFlags(caps.SupportedTransforms),
		CurrentTransform:        dieselrhi.SurfaceTransformFlags(caps.CurrentTransform),
		SupportedCompositeAlpha: dieselrhi.CompositeAlphaFlags(caps.SupportedCompositeAlpha),
		SupportedUsage:          dieselrhi.ImageUsageFlags(caps.SupportedUsageFlags),
	}, nil
}

func (p *physicalDevice) SurfaceFormats(s dieselrhi.SurfaceHandle) ([]dieselrhi.SurfaceFormat, error) {
	surface := p.inst.surface(s)
	var count uint32
	if err := resultError(vk.GetPhysicalDeviceSurfaceFormats(p.handle, surface, &count, nil)); err != nil {
		return nil, errors.Wrap(err, "vkGetPhysicalDeviceSurfaceFormatsKHR")
	}
	list := make([]vk.SurfaceFormat, count)
	if err := resultError(vk.GetPhysicalDeviceSurfaceFormats(p.handle, surface, &count, list)); err != nil {
		return nil, errors.Wrap(err, "vkGetPhysicalDeviceSurfaceFormatsKHR")
	}
	out := make([]dieselrhi.SurfaceFormat, 0, count)
	for _, f := range list[:count] {
		f.Deref()
		out = append(out, dieselrhi.SurfaceFormat{
			Format:     dieselrhi.Format(f.Format),
			ColorSpace: dieselrhi.ColorSpace(f.ColorSpace),
		})
	}
	return out, nil
}

func (p *physicalDevice) SurfacePresentModes(s dieselrhi.SurfaceHandle) ([]dieselrhi.PresentMode, error) {
	surface := p.inst.surface(s)
	var count uint32
	if err := resultError(vk.GetPhysicalDeviceSurfacePresentModes(p.handle, surface, &count, nil)); err != nil {
		return nil, errors.Wrap(err, "vkGetPhysicalDeviceSurfacePresentModesKHR")
	}
	list := make([]vk.PresentMode, count)
	if err := resultError(vk.GetPhysicalDeviceSurfacePresentModes(p.handle, surface, &count, list)); err != nil {
		return nil, errors.Wrap(err, "vkGetPhysicalDeviceSurfacePresentModesKHR")
	}
	out := make([]dieselrhi.PresentMode, count)
	for i, m := range list[:count] {
		out[i] = dieselrhi.PresentMode(m)
	}
	return out, nil
}

func (p *physicalDevice) CreateDevice(info dieselrhi.DeviceInfo) (dieselrhi.NativeDevice, error) {
	priorities := []float32{1.0}
	queueInfos := make([]vk.DeviceQueueCreateInfo, len(info.QueueFamilies))
	for i, family := range info.QueueFamilies {
		queueInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: priorities,
		}
	}
	var handle vk.Device
	ret := vk.CreateDevice(p.handle, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(info.Extensions)),
		PpEnabledExtensionNames: safeStrings(info.Extensions),
		EnabledLayerCount:       uint32(len(info.Layers)),
		PpEnabledLayerNames:     safeStrings(info.Layers),
	}, nil, &handle)
	if err := resultError(ret); err != nil {
		return nil, errors.Wrap(err, "vkCreateDevice")
	}
	d := newDevice(p, handle)
	if slices.Contains(info.Extensions, dieselrhi.ExtensionDebugMarker) {
		d.markers = loadDebugMarkers(p.inst.driver.getInstanceProcAddr, p.inst.handle, handle)
		if d.markers == nil {
			d.log.Warn("debug marker commands not found, labels disabled")
		}
	}
	return d, nil
}

// memoryType finds a memory type allowed by typeBits with all of the required properties.
func (p *physicalDevice) memoryType(typeBits uint32, required vk.MemoryPropertyFlagBits) (uint32, bool) {
	for i := uint32(0); i < p.memory.MemoryTypeCount && i < vk.MaxMemoryTypes; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		p.memory.MemoryTypes[i].Deref()
		flags := p.memory.MemoryTypes[i].PropertyFlags
		if flags&vk.MemoryPropertyFlags(required) == vk.MemoryPropertyFlags(required) {
			return i, true
		}
	}
	return 0, false
}
