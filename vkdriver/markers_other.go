//go:build !linux && !darwin && !freebsd

package vkdriver

import vk "github.com/vulkan-go/vulkan"

// debugMarkers is unavailable without a loader entry point to resolve the commands from.
type debugMarkers struct{}

func loadDebugMarkers(getInstanceProcAddr uintptr, inst vk.Instance, dev vk.Device) *debugMarkers {
	return nil
}

func (m *debugMarkers) beginLabel(cb vk.CommandBuffer, name string, color [4]float32) {}

func (m *debugMarkers) endLabel(cb vk.CommandBuffer) {}
