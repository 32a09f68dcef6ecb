//go:build linux || darwin || freebsd

package vkdriver

import (
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
	vk "github.com/vulkan-go/vulkan"
)

// structureTypeDebugMarkerMarkerInfo is VK_STRUCTURE_TYPE_DEBUG_MARKER_MARKER_INFO_EXT.
const structureTypeDebugMarkerMarkerInfo = 1000022002

// debugMarkerInfo mirrors VkDebugMarkerMarkerInfoEXT.
type debugMarkerInfo struct {
	sType       uint32
	pNext       unsafe.Pointer
	pMarkerName *byte
	color       [4]float32
}

// debugMarkers holds the VK_EXT_debug_marker commands, resolved through vkGetDeviceProcAddr
// and called with purego.
type debugMarkers struct {
	begin uintptr
	end   uintptr
}

func cString(s string) *byte {
	b := append([]byte(s), 0)
	return &b[0]
}

func lookupProc(getProcAddr uintptr, handle unsafe.Pointer, name string) uintptr {
	cname := cString(name)
	addr, _, _ := purego.SyscallN(getProcAddr, uintptr(handle), uintptr(unsafe.Pointer(cname)))
	runtime.KeepAlive(cname)
	return addr
}

func loadDebugMarkers(getInstanceProcAddr uintptr, inst vk.Instance, dev vk.Device) *debugMarkers {
	if getInstanceProcAddr == 0 {
		return nil
	}
	getDeviceProcAddr := lookupProc(getInstanceProcAddr, unsafe.Pointer(inst), "vkGetDeviceProcAddr")
	if getDeviceProcAddr == 0 {
		return nil
	}
	m := &debugMarkers{
		begin: lookupProc(getDeviceProcAddr, unsafe.Pointer(dev), "vkCmdDebugMarkerBeginEXT"),
		end:   lookupProc(getDeviceProcAddr, unsafe.Pointer(dev), "vkCmdDebugMarkerEndEXT"),
	}
	if m.begin == 0 || m.end == 0 {
		return nil
	}
	return m
}

func (m *debugMarkers) beginLabel(cb vk.CommandBuffer, name string, color [4]float32) {
	info := &debugMarkerInfo{
		sType:       structureTypeDebugMarkerMarkerInfo,
		pMarkerName: cString(name),
		color:       color,
	}
	purego.SyscallN(m.begin, uintptr(unsafe.Pointer(cb)), uintptr(unsafe.Pointer(info)))
	runtime.KeepAlive(info)
}

func (m *debugMarkers) endLabel(cb vk.CommandBuffer) {
	purego.SyscallN(m.end, uintptr(unsafe.Pointer(cb)))
}
