package dieselrhi

// Window is the native window a viewport presents to.
type Window interface {
	// FramebufferSize gets the drawable size in pixels.
	FramebufferSize() (width, height int)
	// CreateSurface creates a presentable surface for the given native instance
	// and returns its raw handle.
	CreateSurface(instance interface{}) (uintptr, error)
}

// Platform is the windowing layer the device is created against.
type Platform interface {
	Name() string
	// RequiredInstanceExtensions lists the surface extensions the windowing layer needs.
	RequiredInstanceExtensions() []string
	// MessageBox shows a blocking error dialog, used before fatal driver errors.
	MessageBox(title, message string) error
}

const (
	ExtensionSurface     = "VK_KHR_surface"
	ExtensionSwapchain   = "VK_KHR_swapchain"
	ExtensionDebugReport = "VK_EXT_debug_report"
	ExtensionDebugMarker = "VK_EXT_debug_marker"

	LayerValidation = "VK_LAYER_KHRONOS_validation"
)

// checkExisting returns the names of required that are in actual and the count missing.
func checkExisting(actual, required []string) (existing []string, missing int) {
	existing = make([]string, 0, len(required))
	for _, name := range required {
		if containsString(actual, name) {
			existing = append(existing, name)
		} else {
			missing++
		}
	}
	return existing, missing
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
