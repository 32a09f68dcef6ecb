package dieselrhi

import (
	"sync"

	"golang.org/x/exp/slog"
)

type fenceState int

const (
	fenceNotReady fenceState = iota
	fenceSignaled
)

// Fence is a CPU-waitable GPU completion signal handed out by a FenceManager.
type Fence struct {
	owner  *FenceManager
	handle FenceHandle
	state  fenceState
}

func (f *Fence) Handle() FenceHandle {
	return f.handle
}

// IsSignaled reports the last observed state without querying the device.
func (f *Fence) IsSignaled() bool {
	return f.state == fenceSignaled
}

// FenceManager keeps track of fences which in turn are used to keep track of GPU progress.
// Released fences are reset and recycled by later allocations.
type FenceManager struct {
	mu     sync.Mutex
	device NativeDevice
	log    *slog.Logger
	free   []*Fence
	used   []*Fence
}

func NewFenceManager(device NativeDevice, logger *slog.Logger) *FenceManager {
	return &FenceManager{
		device: device,
		log:    logger,
	}
}

func (m *FenceManager) AllocateFence(createSignaled bool) (*Fence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.free); n > 0 {
		fence := m.free[n-1]
		m.free = m.free[:n-1]
		m.used = append(m.used, fence)
		if createSignaled {
			fence.state = fenceSignaled
		}
		return fence, nil
	}
	handle, ret := m.device.CreateFence(createSignaled)
	if isError(ret) {
		return nil, newErrorf(ret, "create fence")
	}
	fence := &Fence{owner: m, handle: handle}
	if createSignaled {
		fence.state = fenceSignaled
	}
	m.used = append(m.used, fence)
	return fence, nil
}

// ReleaseFence resets the fence and returns it to the free list.
func (m *FenceManager) ReleaseFence(fence *Fence) {
	if fence == nil {
		return
	}
	m.ResetFence(fence)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range m.used {
		if f == fence {
			m.used = append(m.used[:i], m.used[i+1:]...)
			break
		}
	}
	m.free = append(m.free, fence)
}

// IsFenceSignaled queries the device and caches a signaled state.
func (m *FenceManager) IsFenceSignaled(fence *Fence) bool {
	if fence.state == fenceSignaled {
		return true
	}
	switch ret := m.device.FenceStatus(fence.handle); ret {
	case Success:
		fence.state = fenceSignaled
		return true
	case NotReady:
	default:
		m.log.Error("fence status query failed", slog.String("result", ret.String()))
	}
	return false
}

// WaitForFence blocks until the fence signals or the timeout in nanoseconds expires.
func (m *FenceManager) WaitForFence(fence *Fence, timeout uint64) bool {
	if fence.state == fenceSignaled {
		return true
	}
	switch ret := m.device.WaitForFences([]FenceHandle{fence.handle}, true, timeout); ret {
	case Success:
		fence.state = fenceSignaled
		return true
	case Timeout:
	default:
		m.log.Error("fence wait failed", slog.String("result", ret.String()))
	}
	return false
}

func (m *FenceManager) ResetFence(fence *Fence) {
	if fence.state != fenceNotReady {
		m.device.ResetFences([]FenceHandle{fence.handle})
		fence.state = fenceNotReady
	}
}

// Destroy destroys every fence the manager created. Outstanding fences must have signaled.
func (m *FenceManager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.used) > 0 {
		m.log.Warn("destroying fence manager with fences in use", slog.Int("count", len(m.used)))
	}
	for _, f := range m.used {
		m.device.DestroyFence(f.handle)
	}
	for _, f := range m.free {
		m.device.DestroyFence(f.handle)
	}
	m.used = nil
	m.free = nil
}
