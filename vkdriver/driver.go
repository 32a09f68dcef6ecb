// Package vkdriver implements the dieselrhi native driver on top of github.com/vulkan-go/vulkan.
//
// Native objects are kept in handle tables and handed to the RHI as opaque uint64 handles.
package vkdriver

import (
	"sync"
	"unsafe"

	"github.com/andewx/dieselrhi"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"
)

// Options configures the driver.
type Options struct {
	Logger *slog.Logger
	// ProcAddr, when set, is used as vkGetInstanceProcAddr instead of opening the
	// system loader. Windowing layers such as GLFW provide one.
	ProcAddr unsafe.Pointer
	// APIVersion requested at instance creation. Zero means 1.1.
	APIVersion vk.Version
}

// Driver loads the Vulkan entry points once and creates instances.
type Driver struct {
	opts Options
	log  *slog.Logger

	initOnce sync.Once
	initErr  error
	// getInstanceProcAddr is the loader entry point, 0 when the bindings loaded it themselves.
	getInstanceProcAddr uintptr
}

var _ dieselrhi.Driver = (*Driver)(nil)

func New(opts Options) *Driver {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.APIVersion == 0 {
		opts.APIVersion = vk.Version(vk.MakeVersion(1, 1, 0))
	}
	return &Driver{
		opts: opts,
		log:  opts.Logger.With(slog.String("component", "vkdriver")),
	}
}

func (d *Driver) Name() string { return "vulkan" }

func (d *Driver) init() error {
	d.initOnce.Do(func() {
		if d.opts.ProcAddr != nil {
			vk.SetGetInstanceProcAddr(d.opts.ProcAddr)
			d.getInstanceProcAddr = uintptr(d.opts.ProcAddr)
		} else {
			addr, err := loadDefault()
			if err != nil {
				d.initErr = err
				return
			}
			d.getInstanceProcAddr = addr
		}
		if err := vk.Init(); err != nil {
			d.initErr = errors.Wrap(err, "initialize vulkan bindings")
		}
	})
	return d.initErr
}

// InstanceExtensions lists the instance extensions available on the platform.
func (d *Driver) InstanceExtensions() ([]string, error) {
	if err := d.init(); err != nil {
		return nil, err
	}
	return instanceExtensions()
}

// InstanceLayers lists the layers available on the platform.
func (d *Driver) InstanceLayers() ([]string, error) {
	if err := d.init(); err != nil {
		return nil, err
	}
	return validationLayers()
}

func (d *Driver) CreateInstance(info dieselrhi.InstanceInfo) (dieselrhi.Instance, error) {
	if err := d.init(); err != nil {
		return nil, err
	}
	return newInstance(d, info)
}
