//go:build !linux && !darwin && !freebsd

package vkdriver

import (
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

func loadDefault() (uintptr, error) {
	return 0, errors.Wrap(vk.SetDefaultGetInstanceProcAddr(), "open vulkan loader")
}
