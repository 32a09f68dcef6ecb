// Package window provides the windows and platform layers the RHI presents to.
//
// Window creation and event polling must happen on the main OS thread.
package window

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	"golang.org/x/exp/slog"
)

// GLFW is a GLFW window and the platform layer built around it.
type GLFW struct {
	log    *slog.Logger
	window *glfw.Window

	// Updated by the resize callback, read from the RHI thread.
	mu            sync.Mutex
	resized       bool
	width, height int
}

// NewGLFW initializes GLFW and opens a resizable window without a client API.
func NewGLFW(title string, width, height int, logger *slog.Logger) (*GLFW, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := glfw.Init(); err != nil {
		return nil, errors.Wrap(err, "initialize glfw")
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return nil, errors.New("glfw: vulkan loader not found")
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.Visible, glfw.True)
	w, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, errors.Wrap(err, "create window")
	}
	g := &GLFW{
		log:    logger.With(slog.String("component", "glfw")),
		window: w,
	}
	g.width, g.height = w.GetFramebufferSize()
	w.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		g.mu.Lock()
		g.resized = true
		g.width, g.height = width, height
		g.mu.Unlock()
	})
	return g, nil
}

// ProcAddr is GLFW's vkGetInstanceProcAddr, usable as vkdriver.Options.ProcAddr.
func (g *GLFW) ProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

func (g *GLFW) Name() string { return "glfw" }

func (g *GLFW) RequiredInstanceExtensions() []string {
	return g.window.GetRequiredInstanceExtensions()
}

// MessageBox reports the message through the logger; GLFW has no native dialogs.
func (g *GLFW) MessageBox(title, message string) error {
	g.log.Error(message, slog.String("title", title))
	return nil
}

func (g *GLFW) FramebufferSize() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.width, g.height
}

func (g *GLFW) CreateSurface(instance interface{}) (uintptr, error) {
	surface, err := g.window.CreateWindowSurface(instance, nil)
	if err != nil {
		return 0, errors.Wrap(err, "glfw: create window surface")
	}
	return surface, nil
}

func (g *GLFW) ShouldClose() bool {
	return g.window.ShouldClose()
}

// PollEvents processes pending events and reports a framebuffer resize since the last call.
func (g *GLFW) PollEvents() (width, height int, resized bool) {
	glfw.PollEvents()
	g.mu.Lock()
	defer g.mu.Unlock()
	resized, g.resized = g.resized, false
	return g.width, g.height, resized
}

func (g *GLFW) Destroy() {
	if g.window == nil {
		return
	}
	g.window.Destroy()
	g.window = nil
	glfw.Terminate()
}
