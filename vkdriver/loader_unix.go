//go:build linux || darwin || freebsd

package vkdriver

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/ebitengine/purego"
	vk "github.com/vulkan-go/vulkan"
)

func loaderNames() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"libvulkan.1.dylib", "libvulkan.dylib", "libMoltenVK.dylib"}
	case "freebsd":
		return []string{"libvulkan.so.1", "libvulkan.so"}
	}
	return []string{"libvulkan.so.1", "libvulkan.so"}
}

// loadDefault opens the system Vulkan loader and hands vkGetInstanceProcAddr to the bindings.
// The returned address is kept for entry points the bindings do not export.
func loadDefault() (uintptr, error) {
	var lastErr error
	for _, name := range loaderNames() {
		lib, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		addr, err := purego.Dlsym(lib, "vkGetInstanceProcAddr")
		if err != nil {
			lastErr = errors.Wrapf(err, "lookup vkGetInstanceProcAddr in %s", name)
			continue
		}
		vk.SetGetInstanceProcAddr(*(*unsafe.Pointer)(unsafe.Pointer(&addr)))
		return addr, nil
	}
	return 0, errors.Wrap(lastErr, "open vulkan loader")
}
