package vkdriver

import (
	"context"
	"unsafe"

	"github.com/andewx/dieselrhi"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"
)

const extensionPortabilityEnumeration = "VK_KHR_portability_enumeration"

// instanceCreateEnumeratePortability is VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR.
const instanceCreateEnumeratePortability = 0x00000001

type instance struct {
	driver *Driver
	log    *slog.Logger
	handle vk.Instance
	dbg    vk.DebugReportCallback

	surfaces *handleTable[vk.Surface]
	gpus     []*physicalDevice
}

var _ dieselrhi.Instance = (*instance)(nil)

func newInstance(d *Driver, info dieselrhi.InstanceInfo) (*instance, error) {
	var flags vk.InstanceCreateFlags
	for _, ext := range info.Extensions {
		if ext == extensionPortabilityEnumeration {
			flags |= vk.InstanceCreateFlags(instanceCreateEnumeratePortability)
		}
	}
	appName := info.AppName
	if appName == "" {
		appName = "dieselrhi"
	}
	var handle vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         uint32(d.opts.APIVersion),
			ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
			PApplicationName:   safeString(appName),
			PEngineName:        safeString("dieselrhi"),
		},
		EnabledExtensionCount:   uint32(len(info.Extensions)),
		PpEnabledExtensionNames: safeStrings(info.Extensions),
		EnabledLayerCount:       uint32(len(info.Layers)),
		PpEnabledLayerNames:     safeStrings(info.Layers),
		Flags:                   flags,
	}, nil, &handle)
	if err := resultError(ret); err != nil {
		return nil, errors.Wrap(err, "vkCreateInstance")
	}
	if err := vk.InitInstance(handle); err != nil {
		vk.DestroyInstance(handle, nil)
		return nil, errors.Wrap(err, "load instance entry points")
	}
	inst := &instance{
		driver:   d,
		log:      d.log,
		handle:   handle,
		surfaces: newHandleTable[vk.Surface](),
	}
	if info.DebugReport {
		inst.installDebugReport()
	}
	return inst, nil
}

// installDebugReport forwards validation messages to the logger. Failure only loses the messages.
func (inst *instance) installDebugReport() {
	logger := inst.log.With(slog.String("source", "validation"))
	callback := func(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
		object uint64, location uint, messageCode int32, layerPrefix string,
		message string, userData unsafe.Pointer) vk.Bool32 {
		logger.Log(context.Background(), debugLevel(flags), message,
			slog.String("layer", layerPrefix),
			slog.Int("code", int(messageCode)),
			slog.Uint64("object", object))
		return vk.False
	}
	var dbg vk.DebugReportCallback
	ret := vk.CreateDebugReportCallback(inst.handle, &vk.DebugReportCallbackCreateInfo{
		SType: vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags: vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit |
			vk.DebugReportPerformanceWarningBit),
		PfnCallback: callback,
	}, nil, &dbg)
	if err := resultError(ret); err != nil {
		inst.log.Warn("cannot install debug report callback", slog.String("error", err.Error()))
		return
	}
	inst.dbg = dbg
}

func (inst *instance) PhysicalDevices() ([]dieselrhi.PhysicalDevice, error) {
	if inst.gpus == nil {
		var count uint32
		if err := resultError(vk.EnumeratePhysicalDevices(inst.handle, &count, nil)); err != nil {
			return nil, errors.Wrap(err, "vkEnumeratePhysicalDevices")
		}
		list := make([]vk.PhysicalDevice, count)
		if err := resultError(vk.EnumeratePhysicalDevices(inst.handle, &count, list)); err != nil {
			return nil, errors.Wrap(err, "vkEnumeratePhysicalDevices")
		}
		for _, gpu := range list[:count] {
			inst.gpus = append(inst.gpus, newPhysicalDevice(inst, gpu))
		}
	}
	out := make([]dieselrhi.PhysicalDevice, len(inst.gpus))
	for i, gpu := range inst.gpus {
		out[i] = gpu
	}
	return out, nil
}

// CreateSurface asks the window for a surface on this instance.
func (inst *instance) CreateSurface(win dieselrhi.Window) (dieselrhi.SurfaceHandle, error) {
	ptr, err := win.CreateSurface(inst.handle)
	if err != nil {
		return 0, errors.Wrap(err, "create window surface")
	}
	surface := vk.SurfaceFromPointer(ptr)
	if surface == vk.NullSurface {
		return 0, errors.New("window returned a null surface")
	}
	return dieselrhi.SurfaceHandle(inst.surfaces.add(surface)), nil
}

func (inst *instance) DestroySurface(s dieselrhi.SurfaceHandle) {
	if surface, ok := inst.surfaces.remove(uint64(s)); ok {
		vk.DestroySurface(inst.handle, surface, nil)
	}
}

func (inst *instance) surface(s dieselrhi.SurfaceHandle) vk.Surface {
	return inst.surfaces.lookup(uint64(s))
}

func (inst *instance) Destroy() {
	if inst.handle == nil {
		return
	}
	if n := inst.surfaces.len(); n > 0 {
		inst.log.Warn("destroying instance with live surfaces", slog.Int("count", n))
		inst.surfaces.each(func(_ uint64, s vk.Surface) {
			vk.DestroySurface(inst.handle, s, nil)
		})
		inst.surfaces = newHandleTable[vk.Surface]()
	}
	if inst.dbg != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(inst.handle, inst.dbg, nil)
		inst.dbg = vk.NullDebugReportCallback
	}
	vk.DestroyInstance(inst.handle, nil)
	inst.handle = nil
}
