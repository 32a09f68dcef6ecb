// Command rhidemo lists the Vulkan devices or opens a window and clears it every frame.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/andewx/dieselrhi"
	"github.com/andewx/dieselrhi/vkdriver"
	"github.com/andewx/dieselrhi/window"
	"github.com/cockroachdb/errors"
	"github.com/xlab/closer"
	"github.com/xlab/tablewriter"
	"golang.org/x/exp/slog"
)

func init() {
	runtime.LockOSThread()
}

type cvarFlags []string

func (c *cvarFlags) String() string { return strings.Join(*c, ",") }

func (c *cvarFlags) Set(v string) error {
	*c = append(*c, v)
	return nil
}

var (
	listDevices = flag.Bool("list", false, "list physical devices and exit")
	cvarFile    = flag.String("cvars", "", "file with name=value console variables")
	frames      = flag.Int("frames", 0, "number of frames to render, 0 runs until the window closes")
	width       = flag.Int("width", 1280, "window width")
	height      = flag.Int("height", 720, "window height")
	verbose     = flag.Bool("v", false, "log debug messages")
	cvars       cvarFlags
)

func main() {
	flag.Var(&cvars, "cvar", "console variable override name=value, may be repeated")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(logger)
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(2)
	}

	defer closer.Close()
	if *listDevices {
		if err := list(cfg, logger); err != nil {
			logger.Error("cannot list devices", slog.String("error", fmt.Sprintf("%+v", err)))
			closer.Exit(1)
		}
		return
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("demo failed", slog.String("error", fmt.Sprintf("%+v", err)))
		closer.Exit(1)
	}
}

func loadConfig(logger *slog.Logger) (dieselrhi.Config, error) {
	cfg := dieselrhi.DefaultConfig()
	cfg.AppName = "rhidemo"
	cfg.Logger = logger

	cv := dieselrhi.DefaultConsoleVariables()
	if *cvarFile != "" {
		f, err := os.Open(*cvarFile)
		if err != nil {
			return cfg, errors.Wrap(err, "open console variables")
		}
		fromFile, err := dieselrhi.ParseConsoleVariables(*cvarFile, f)
		f.Close()
		if err != nil {
			return cfg, err
		}
		fromFile.Linked = cv
		cv = fromFile
	}
	overrides := dieselrhi.NewConsoleVariables("flags")
	for _, pair := range cvars {
		if err := overrides.SetPair(pair); err != nil {
			return cfg, err
		}
	}
	overrides.Linked = cv
	cfg.ApplyConsoleVariables(overrides)
	return cfg, nil
}

func list(cfg dieselrhi.Config, logger *slog.Logger) error {
	driver := vkdriver.New(vkdriver.Options{Logger: logger})
	records, err := dieselrhi.ListPhysicalDevices(driver, cfg)
	if err != nil {
		return err
	}
	index, selErr := dieselrhi.SelectPhysicalDevice(records, cfg.PreferredGPU)

	table := tablewriter.CreateTable()
	table.UTF8Box()
	table.AddTitle("VULKAN PHYSICAL DEVICES")
	table.AddHeaders("#", "Name", "Type", "Vendor", "API", "Driver", "Extensions", "Suitable")
	for _, r := range records {
		name := r.Name
		if selErr == nil && r.Index == index {
			name += " *"
		}
		table.AddRow(r.Index, name, r.Type.String(),
			fmt.Sprintf("%04x:%04x", r.VendorID, r.DeviceID),
			versionString(r.APIVersion), versionString(r.DriverVersion),
			len(r.Extensions), r.Suitable())
	}
	fmt.Println(table.Render())
	return nil
}

func versionString(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>22, (v>>12)&0x3ff, v&0xfff)
}

func run(cfg dieselrhi.Config, logger *slog.Logger) error {
	win, err := window.NewGLFW("dieselrhi", *width, *height, logger)
	if err != nil {
		return err
	}
	driver := vkdriver.New(vkdriver.Options{Logger: logger, ProcAddr: win.ProcAddr()})
	rhi, err := dieselrhi.NewRHI(driver, win, cfg)
	if err != nil {
		dieselrhi.Fatal(errors.Wrap(err, "create RHI"), win.Destroy)
		return err
	}
	// The device must go before the window that owns its surface.
	closer.Bind(func() {
		rhi.Shutdown()
		win.Destroy()
	})

	w, h := win.FramebufferSize()
	viewport, err := rhi.CreateViewport(win, uint32(w), uint32(h), cfg.PixelFormat)
	if err != nil {
		return err
	}

	clear := []dieselrhi.ClearValue{{Color: [4]float32{0.1, 0.1, 0.2, 1}}}
	for frame := 0; !win.ShouldClose() && (*frames == 0 || frame < *frames); frame++ {
		w, h, resized := win.PollEvents()
		if w == 0 || h == 0 {
			// Minimized.
			continue
		}
		if resized {
			rhi.ResizeViewport(viewport, uint32(w), uint32(h))
		}

		rhi.BeginFrame()
		rhi.BeginDrawingViewport(viewport)
		backBuffer := rhi.GetViewportBackBuffer(viewport)
		rhi.PushEvent("Clear", [4]float32{1, 0, 0, 1})
		rhi.Execute(func(ctx *dieselrhi.CommandListContext) {
			info := dieselrhi.ColorTarget(backBuffer, dieselrhi.LoadActionClear, dieselrhi.StoreActionStore)
			if err := ctx.BeginRenderPass(info, clear); err != nil {
				logger.Error("begin render pass", slog.String("error", err.Error()))
				return
			}
			ctx.EndRenderPass()
		})
		rhi.PopEvent()
		rhi.EndDrawingViewport(viewport, true, cfg.LockToVsync)
		rhi.AdvanceFrameForGetViewportBackBuffer(viewport)
		rhi.EndFrame()
	}
	rhi.FlushRenderingCommands()
	logger.Info("done",
		slog.Uint64("presented", viewport.PresentCount()),
		slog.Uint64("recreated", viewport.RecreateCount()))
	return nil
}
