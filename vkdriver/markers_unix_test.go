//go:build linux || darwin || freebsd

package vkdriver

import (
	"testing"
	"unsafe"
)

func TestDebugMarkerInfoLayout(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) != 8 {
		t.Skip("layout checked on 64-bit targets")
	}
	var info debugMarkerInfo
	if unsafe.Offsetof(info.pNext) != 8 || unsafe.Offsetof(info.pMarkerName) != 16 ||
		unsafe.Offsetof(info.color) != 24 || unsafe.Sizeof(info) != 40 {
		t.Errorf("layout does not match VkDebugMarkerMarkerInfoEXT: size %d", unsafe.Sizeof(info))
	}
}

func TestDebugMarkersWithoutLoader(t *testing.T) {
	if loadDebugMarkers(0, nil, nil) != nil {
		t.Errorf("markers resolved without a loader entry point")
	}
	// A device without markers drops labels before touching its command buffers.
	d := &device{}
	d.CmdBeginLabel(1, "frame", [4]float32{1, 1, 1, 1})
	d.CmdEndLabel(1)
}

func TestCString(t *testing.T) {
	p := cString("vkCmdDebugMarkerBeginEXT")
	b := unsafe.Slice(p, len("vkCmdDebugMarkerBeginEXT")+1)
	if string(b[:len(b)-1]) != "vkCmdDebugMarkerBeginEXT" || b[len(b)-1] != 0 {
		t.Errorf("got %q", b)
	}
}
