package dieselrhi

import (
	"strings"
	"testing"
)

const testCVars = `
; renderer settings
# comments use either marker
r.VSync = 0
r.Vulkan.RHIThread=2

r.Vulkan.BackBufferCount = 2
`

func TestParseConsoleVariables(t *testing.T) {
	cv, err := ParseConsoleVariables("engine.ini", strings.NewReader(testCVars))
	if err != nil {
		t.Fatalf("ParseConsoleVariables: %+v", err)
	}
	if got := cv.Names(); len(got) != 3 {
		t.Fatalf("names %v", got)
	}
	if cv.Get(CVarVSync, "") != "0" || cv.Int(CVarRHIThread, -1) != 2 || cv.Int(CVarBackBufferCount, 0) != 2 {
		t.Errorf("values: vsync %q, thread %d, buffers %d",
			cv.Get(CVarVSync, ""), cv.Int(CVarRHIThread, -1), cv.Int(CVarBackBufferCount, 0))
	}
	if cv.Get("r.Missing", "fallback") != "fallback" {
		t.Errorf("missing name did not use the default")
	}
}

func TestParseConsoleVariablesMalformed(t *testing.T) {
	_, err := ParseConsoleVariables("engine.ini", strings.NewReader("r.VSync=1\n\nnot a pair\n"))
	if err == nil {
		t.Fatalf("malformed line accepted")
	}
	if !strings.Contains(err.Error(), "engine.ini:3") {
		t.Errorf("error %q does not point at the line", err)
	}
	if _, err := ParseConsoleVariables("x", strings.NewReader(" = 1")); err == nil {
		t.Errorf("empty name accepted")
	}
}

func TestConsoleVariablesChain(t *testing.T) {
	defaults := DefaultConsoleVariables()
	overrides := NewConsoleVariables("overrides")
	if err := overrides.SetPair("r.VSync=false"); err != nil {
		t.Fatal(err)
	}
	overrides.Set("r.Custom", "yes")
	overrides.Linked = defaults

	if overrides.Bool(CVarVSync, true) {
		t.Errorf("override not used")
	}
	if !defaults.Bool(CVarVSync, false) {
		t.Errorf("defaults changed by an override")
	}
	if overrides.Int(CVarGraphicsAdapter, 0) != -1 {
		t.Errorf("lookup did not fall through to the linked set")
	}
	names := overrides.Names()
	if len(names) != len(defaults.Names())+1 {
		t.Errorf("names %v", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("names not sorted: %v", names)
			break
		}
	}
}

func TestConsoleVariablesConversions(t *testing.T) {
	cv := NewConsoleVariables("t")
	cv.Set("a", "1")
	cv.Set("b", "0")
	cv.Set("c", "true")
	cv.Set("d", "maybe")
	cv.Set("e", "12x")
	for name, want := range map[string]bool{"a": true, "b": false, "c": true, "d": true, "missing": true} {
		if got := cv.Bool(name, true); got != want {
			t.Errorf("Bool(%s) = %v, want %v", name, got, want)
		}
	}
	if cv.Int("e", 7) != 7 {
		t.Errorf("invalid integer did not use the default")
	}
}

func TestApplyConsoleVariables(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logger = testLogger()
	cfg.ApplyConsoleVariables(DefaultConsoleVariables())
	def := DefaultConfig()
	if cfg.RHIThread != def.RHIThread || cfg.DelayAcquireBackBuffer != def.DelayAcquireBackBuffer ||
		cfg.LockToVsync != def.LockToVsync || cfg.PreferredGPU != def.PreferredGPU ||
		cfg.BackBufferCount != def.BackBufferCount || cfg.EnableValidation {
		t.Errorf("default console variables changed the default config: %+v", cfg)
	}

	cv := NewConsoleVariables("test")
	for _, pair := range []string{
		"r.Vulkan.RHIThread=2",
		"r.Vulkan.DelayAcquireBackBuffer=0",
		"r.Vulkan.EnableValidation=1",
		"r.Vulkan.NumFramesToWaitForResourceDelete=3",
		"r.Vulkan.BackBufferCount=2",
		"r.GraphicsAdapter=1",
		"r.VSync=0",
		"r.Unknown=5",
	} {
		if err := cv.SetPair(pair); err != nil {
			t.Fatal(err)
		}
	}
	cfg.ApplyConsoleVariables(cv)
	if cfg.RHIThread != RHIThreadParallel || cfg.DelayAcquireBackBuffer || !cfg.EnableValidation ||
		cfg.NumFramesToWaitForResourceDelete != 3 || cfg.BackBufferCount != 2 ||
		cfg.PreferredGPU != 1 || cfg.LockToVsync {
		t.Errorf("overrides not applied: %+v", cfg)
	}

	bad := NewConsoleVariables("bad")
	bad.Set(CVarRHIThread, "9")
	bad.Set(CVarBackBufferCount, "0")
	bad.Set(CVarNumFramesToWaitForResourceDelete, "-1")
	cfg.ApplyConsoleVariables(bad)
	if cfg.RHIThread != RHIThreadParallel || cfg.BackBufferCount != 2 || cfg.NumFramesToWaitForResourceDelete != 3 {
		t.Errorf("out of range values applied: %+v", cfg)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.BackBufferCount != 3 || cfg.DescriptorPoolMaxSets != 4096 || cfg.AppName == "" ||
		cfg.Logger == nil || cfg.OnFatal == nil {
		t.Errorf("zero config not filled: %+v", cfg)
	}
	custom := Config{BackBufferCount: 2, DescriptorPoolMaxSets: 16}.withDefaults()
	if custom.BackBufferCount != 2 || custom.DescriptorPoolMaxSets != 16 {
		t.Errorf("explicit values replaced: %+v", custom)
	}
}
