//go:build sdl

package window

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"golang.org/x/exp/slog"
)

// SDL is an SDL2 window and the platform layer built around it.
type SDL struct {
	log    *slog.Logger
	window *sdl.Window
	quit   bool
}

func NewSDL(title string, width, height int, logger *slog.Logger) (*SDL, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, errors.Wrap(err, "initialize sdl")
	}
	if err := sdl.VulkanLoadLibrary(""); err != nil {
		sdl.Quit()
		return nil, errors.Wrap(err, "sdl: load vulkan library")
	}
	w, err := sdl.CreateWindow(title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(width), int32(height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		sdl.Quit()
		return nil, errors.Wrap(err, "create window")
	}
	return &SDL{
		log:    logger.With(slog.String("component", "sdl")),
		window: w,
	}, nil
}

func (s *SDL) ProcAddr() unsafe.Pointer {
	return sdl.VulkanGetVkGetInstanceProcAddr()
}

func (s *SDL) Name() string { return "sdl" }

func (s *SDL) RequiredInstanceExtensions() []string {
	return s.window.VulkanGetInstanceExtensions()
}

func (s *SDL) MessageBox(title, message string) error {
	s.log.Error(message, slog.String("title", title))
	return sdl.ShowSimpleMessageBox(sdl.MESSAGEBOX_ERROR, title, message, s.window)
}

func (s *SDL) FramebufferSize() (int, int) {
	w, h := s.window.VulkanGetDrawableSize()
	return int(w), int(h)
}

func (s *SDL) CreateSurface(instance interface{}) (uintptr, error) {
	surface, err := s.window.VulkanCreateSurface(instance)
	if err != nil {
		return 0, errors.Wrap(err, "sdl: create window surface")
	}
	return uintptr(surface), nil
}

func (s *SDL) ShouldClose() bool {
	return s.quit
}

func (s *SDL) PollEvents() (width, height int, resized bool) {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch ev := event.(type) {
		case *sdl.QuitEvent:
			s.quit = true
		case *sdl.WindowEvent:
			if ev.Event == sdl.WINDOWEVENT_RESIZED || ev.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
				resized = true
			}
		}
	}
	width, height = s.FramebufferSize()
	return width, height, resized
}

func (s *SDL) Destroy() {
	if s.window == nil {
		return
	}
	s.window.Destroy()
	s.window = nil
	sdl.Quit()
}
