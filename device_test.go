package dieselrhi

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestSelectPhysicalDevice(t *testing.T) {
	rec := func(typ PhysicalDeviceType, graphics int, extensions ...string) PhysicalDeviceRecord {
		return PhysicalDeviceRecord{
			PhysicalDeviceProperties: PhysicalDeviceProperties{Type: typ},
			Extensions:               extensions,
			GraphicsFamily:           graphics,
		}
	}
	integrated := rec(PhysicalDeviceTypeIntegratedGPU, 0, ExtensionSwapchain)
	discrete := rec(PhysicalDeviceTypeDiscreteGPU, 0, ExtensionSwapchain)
	headless := rec(PhysicalDeviceTypeDiscreteGPU, 0)
	computeOnly := rec(PhysicalDeviceTypeDiscreteGPU, -1, ExtensionSwapchain)

	cases := []struct {
		name      string
		records   []PhysicalDeviceRecord
		preferred int
		want      int
		err       error
	}{
		{"discrete first", []PhysicalDeviceRecord{integrated, discrete}, -1, 1, nil},
		{"integrated fallback", []PhysicalDeviceRecord{headless, integrated}, -1, 1, nil},
		{"preferred", []PhysicalDeviceRecord{integrated, discrete}, 0, 0, nil},
		{"preferred out of range", []PhysicalDeviceRecord{integrated, discrete}, 7, 1, nil},
		{"preferred unsuitable", []PhysicalDeviceRecord{headless, integrated}, 0, 1, nil},
		{"nothing suitable", []PhysicalDeviceRecord{headless, computeOnly}, -1, -1, ErrNoSuitableDevice},
		{"no devices", nil, -1, -1, ErrNoSuitableDevice},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := SelectPhysicalDevice(c.records, c.preferred)
			if got != c.want || !errors.Is(err, c.err) {
				t.Errorf("got %d, %v; want %d, %v", got, err, c.want, c.err)
			}
		})
	}
}

func TestNewRHIPicksDiscreteGPU(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, drv *fakeDriver) {
		integrated := newFakeGPU(drv, "fake integrated", PhysicalDeviceTypeIntegratedGPU)
		drv.gpus = append([]*fakeGPU{integrated}, drv.gpus...)
	})
	if r := env.rhi.Device().Record(); r.Index != 1 || r.Name != "fake discrete" {
		t.Errorf("selected GPU %d %q", r.Index, r.Name)
	}
	env.shutdown(t)

	env = newTestEnv(t, func(cfg *Config, drv *fakeDriver) {
		drv.gpus = append([]*fakeGPU{newFakeGPU(drv, "fake integrated", PhysicalDeviceTypeIntegratedGPU)}, drv.gpus...)
		cfg.PreferredGPU = 0
	})
	if r := env.rhi.Device().Record(); r.Index != 0 {
		t.Errorf("preferred GPU ignored, selected %d", r.Index)
	}
	env.shutdown(t)
}

func TestMissingSwapchainExtension(t *testing.T) {
	drv := newFakeDriver()
	drv.gpus[0].extensions = nil
	win := &fakeWindow{width: 640, height: 480}
	fatals := &fatalRecorder{}

	_, err := NewRHI(drv, win, testConfig(fatals))
	if !errors.Is(err, ErrMissingExtension) {
		t.Fatalf("got %v, want a missing extension error", err)
	}
	if !strings.Contains(err.Error(), ExtensionSwapchain) {
		t.Errorf("error %q does not name the extension", err)
	}
	if len(win.messages) != 1 {
		t.Errorf("got %d message boxes, want 1", len(win.messages))
	}
	if fatals.count() != 1 {
		t.Errorf("got %d fatal errors, want 1", fatals.count())
	}
	if leaks := drv.objs.leaks(); len(leaks) > 0 {
		t.Errorf("failed initialization leaked %v", leaks)
	}
}

func TestMissingInstanceExtension(t *testing.T) {
	drv := newFakeDriver()
	drv.extensions = []string{ExtensionSurface}
	fatals := &fatalRecorder{}
	_, err := NewRHI(drv, &fakeWindow{}, testConfig(fatals))
	if !errors.Is(err, ErrMissingExtension) || !strings.Contains(err.Error(), "VK_KHR_fake_surface") {
		t.Fatalf("got %v", err)
	}
	if drv.objs.createdCount("instance") != 0 {
		t.Errorf("instance created without required extensions")
	}
}

func TestValidationLayers(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, drv *fakeDriver) {
		cfg.EnableValidation = true
	})
	info := env.drv.instanceInfo
	if len(info.Layers) != 1 || info.Layers[0] != LayerValidation {
		t.Errorf("instance layers %v", info.Layers)
	}
	if !info.DebugReport || !containsString(info.Extensions, ExtensionDebugReport) {
		t.Errorf("debug report not enabled: %+v", info)
	}
	env.shutdown(t)

	env = newTestEnv(t, func(cfg *Config, drv *fakeDriver) {
		cfg.EnableValidation = true
		drv.layers = nil
	})
	if layers := env.drv.instanceInfo.Layers; len(layers) != 0 {
		t.Errorf("missing layer was enabled: %v", layers)
	}
	env.shutdown(t)

	env = newTestEnv(t, nil)
	if info := env.drv.instanceInfo; len(info.Layers) != 0 || info.DebugReport {
		t.Errorf("validation enabled by default: %+v", info)
	}
	env.shutdown(t)
}

func TestDebugMarkers(t *testing.T) {
	env := newTestEnv(t, nil)
	if !env.rhi.Device().DebugMarkersEnabled() {
		t.Errorf("debug markers not enabled on a GPU that supports them")
	}
	env.shutdown(t)

	env = newTestEnv(t, func(cfg *Config, drv *fakeDriver) {
		drv.gpus[0].extensions = []string{ExtensionSwapchain}
	})
	if env.rhi.Device().DebugMarkersEnabled() {
		t.Errorf("debug markers enabled without the extension")
	}
	v := env.viewport(t, 320, 240)
	env.frame(t, v)
	if n := env.device().labelsBegun; n != 0 {
		t.Errorf("%d labels recorded without debug markers", n)
	}
	env.shutdown(t)
}

func TestDedicatedQueueFamilies(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, drv *fakeDriver) {
		drv.gpus[0].families = []QueueFamily{
			{Flags: QueueGraphics | QueueCompute | QueueTransfer, Count: 1},
			{Flags: QueueCompute | QueueTransfer, Count: 1},
			{Flags: QueueTransfer, Count: 1},
		}
		drv.gpus[0].presentFamilies = []uint32{1}
	})
	d := env.rhi.Device()
	if got := env.device().info.QueueFamilies; len(got) != 3 {
		t.Errorf("device created with families %v", got)
	}
	if d.GraphicsQueue().Family() != 0 || d.ComputeQueue().Family() != 1 || d.TransferQueue().Family() != 2 {
		t.Errorf("families: graphics %d compute %d transfer %d",
			d.GraphicsQueue().Family(), d.ComputeQueue().Family(), d.TransferQueue().Family())
	}
	if d.PresentQueue() != nil {
		t.Errorf("present queue chosen before any surface")
	}

	v := env.viewport(t, 640, 480)
	if q := d.PresentQueue(); q == nil || q.Family() != 1 {
		t.Fatalf("present queue %v, want family 1", q)
	}
	env.frame(t, v)
	if v.PresentCount() != 1 {
		t.Errorf("presented %d frames through the compute queue", v.PresentCount())
	}
	env.shutdown(t)
}

func TestSharedQueueFamily(t *testing.T) {
	env := newTestEnv(t, nil)
	d := env.rhi.Device()
	if d.ComputeQueue() != d.GraphicsQueue() || d.TransferQueue() != d.GraphicsQueue() {
		t.Errorf("a single family must back every queue")
	}
	env.viewport(t, 64, 64)
	if d.PresentQueue() != d.GraphicsQueue() {
		t.Errorf("graphics queue should present")
	}
	env.shutdown(t)
}

func TestNoPresentQueue(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, drv *fakeDriver) {
		drv.gpus[0].presentFamilies = []uint32{5}
	})
	_, err := env.rhi.CreateViewport(env.win, 640, 480, PixelFormatUnknown)
	if !errors.Is(err, ErrNoPresentQueue) {
		t.Fatalf("got %v, want ErrNoPresentQueue", err)
	}
	if n := env.drv.objs.count("surface"); n != 0 {
		t.Errorf("%d surfaces left", n)
	}
	env.shutdown(t)
}

func TestListPhysicalDevices(t *testing.T) {
	drv := newFakeDriver()
	drv.gpus = append(drv.gpus, newFakeGPU(drv, "fake cpu", PhysicalDeviceTypeCPU))
	drv.gpus[1].families = []QueueFamily{{Flags: QueueCompute, Count: 1}}

	records, err := ListPhysicalDevices(drv, testConfig(&fatalRecorder{}))
	if err != nil {
		t.Fatalf("ListPhysicalDevices: %+v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}
	if !records[0].Suitable() || records[1].Suitable() {
		t.Errorf("suitability: %v %v", records[0].Suitable(), records[1].Suitable())
	}
	if r := records[1]; r.GraphicsFamily != -1 || r.ComputeFamily != 0 || r.TransferFamily != -1 {
		t.Errorf("cpu families: graphics %d compute %d transfer %d", r.GraphicsFamily, r.ComputeFamily, r.TransferFamily)
	}
	if records[0].Limits.MaxDescriptorSetUniformBuffers != 72 {
		t.Errorf("limits not copied: %+v", records[0].Limits)
	}
	if drv.objs.createdCount("device") != 0 {
		t.Errorf("listing created a device")
	}
	if leaks := drv.objs.leaks(); len(leaks) > 0 {
		t.Errorf("listing leaked %v", leaks)
	}
}

func TestFrameNumber(t *testing.T) {
	env := newTestEnv(t, nil)
	v := env.viewport(t, 64, 64)
	start := env.rhi.Device().FrameNumber()
	env.frame(t, v)
	env.frame(t, v)
	if got := env.rhi.Device().FrameNumber(); got != start+2 {
		t.Errorf("frame number %d after two frames from %d", got, start)
	}
	env.shutdown(t)
}
