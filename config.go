package dieselrhi

import (
	"golang.org/x/exp/slog"
)

// RHIThreadMode selects where command submission runs.
type RHIThreadMode int

const (
	// RHIThreadOff executes submission on the calling thread.
	RHIThreadOff RHIThreadMode = iota
	// RHIThreadSingle executes submission on one dedicated RHI goroutine.
	RHIThreadSingle
	// RHIThreadParallel additionally translates command lists on parallel workers.
	RHIThreadParallel
)

// Config replaces the console variables read by the renderer. It is passed to NewRHI and
// copied into every object created from it.
type Config struct {
	AppName string

	RHIThread RHIThreadMode
	// ParallelTranslateWorkers bounds RHIThreadParallel translation. Zero means GOMAXPROCS.
	ParallelTranslateWorkers int

	// DelayAcquireBackBuffer renders into an intermediate texture and acquires the
	// swapchain image just before present.
	DelayAcquireBackBuffer bool

	BackBufferCount uint32
	PixelFormat     PixelFormat
	LockToVsync     bool

	EnableValidation bool
	// PreferredGPU is an index into the enumerated devices, -1 selects automatically.
	PreferredGPU int

	// NumFramesToWaitForResourceDelete delays deferred deletion by whole frames on top of fence tracking.
	NumFramesToWaitForResourceDelete uint64

	// DescriptorPoolMaxSets sizes each descriptor pool.
	DescriptorPoolMaxSets uint32

	// Mobile fixes the present mode to FIFO.
	Mobile bool
	// RequireAcquireFences waits on a CPU fence after every acquire.
	RequireAcquireFences bool

	Logger  *slog.Logger
	OnFatal FatalHandler
}

func DefaultConfig() Config {
	return Config{
		AppName:                "dieselrhi",
		RHIThread:              RHIThreadSingle,
		DelayAcquireBackBuffer: true,
		BackBufferCount:        3,
		PixelFormat:            PixelFormatB8G8R8A8,
		LockToVsync:            true,
		PreferredGPU:           -1,
		DescriptorPoolMaxSets:  4096,
	}
}

func (c Config) withDefaults() Config {
	if c.BackBufferCount == 0 {
		c.BackBufferCount = 3
	}
	if c.DescriptorPoolMaxSets == 0 {
		c.DescriptorPoolMaxSets = 4096
	}
	if c.AppName == "" {
		c.AppName = "dieselrhi"
	}
	if c.Logger == nil {
		c.Logger = defaultLogger()
	}
	if c.OnFatal == nil {
		c.OnFatal = DefaultFatalHandler
	}
	return c
}

// ApplyConsoleVariables overrides fields from console variables. Unknown names are logged and ignored.
func (c *Config) ApplyConsoleVariables(cv *ConsoleVariables) {
	logger := c.Logger
	if logger == nil {
		logger = defaultLogger()
	}
	for _, name := range cv.Names() {
		switch name {
		case CVarRHIThread:
			mode := cv.Int(name, int(c.RHIThread))
			if mode < int(RHIThreadOff) || mode > int(RHIThreadParallel) {
				logger.Warn("console variable out of range", slog.String("name", name), slog.Int("value", mode))
				continue
			}
			c.RHIThread = RHIThreadMode(mode)
		case CVarDelayAcquireBackBuffer:
			c.DelayAcquireBackBuffer = cv.Bool(name, c.DelayAcquireBackBuffer)
		case CVarEnableValidation:
			c.EnableValidation = cv.Bool(name, c.EnableValidation)
		case CVarGraphicsAdapter:
			c.PreferredGPU = cv.Int(name, c.PreferredGPU)
		case CVarVSync:
			c.LockToVsync = cv.Bool(name, c.LockToVsync)
		case CVarNumFramesToWaitForResourceDelete:
			if n := cv.Int(name, 0); n >= 0 {
				c.NumFramesToWaitForResourceDelete = uint64(n)
			}
		case CVarBackBufferCount:
			if n := cv.Int(name, 0); n > 0 {
				c.BackBufferCount = uint32(n)
			}
		default:
			logger.Warn("unknown console variable", slog.String("name", name))
		}
	}
}
