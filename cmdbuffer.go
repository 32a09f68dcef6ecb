package dieselrhi

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// CmdBufferState tracks a command buffer through recording, submission and retirement.
type CmdBufferState int32

const (
	// CmdBufferReadyForBegin is the initial state, and the state a retired buffer returns to.
	CmdBufferReadyForBegin CmdBufferState = iota
	CmdBufferRecording
	CmdBufferInsideRenderPass
	CmdBufferEnded
	CmdBufferSubmitted
)

func (s CmdBufferState) String() string {
	switch s {
	case CmdBufferReadyForBegin:
		return "ready for begin"
	case CmdBufferRecording:
		return "recording"
	case CmdBufferInsideRenderPass:
		return "inside render pass"
	case CmdBufferEnded:
		return "ended"
	case CmdBufferSubmitted:
		return "submitted"
	}
	return fmt.Sprintf("state %d", int32(s))
}

// CmdBuffer is a primary command buffer with its own fence.
type CmdBuffer struct {
	owner  *CommandBufferManager
	handle CommandBufferHandle
	fence  *Fence

	state atomic.Int32
	// fenceSignaledCounter increments every time the buffer retires.
	fenceSignaledCounter atomic.Uint64
	submittedFrame       uint64

	waitSemaphores []SemaphoreWait

	renderPass  *RenderPass
	framebuffer *Framebuffer
}

func (cb *CmdBuffer) Handle() CommandBufferHandle { return cb.handle }

func (cb *CmdBuffer) State() CmdBufferState {
	return CmdBufferState(cb.state.Load())
}

func (cb *CmdBuffer) setState(s CmdBufferState) {
	cb.state.Store(int32(s))
}

func (cb *CmdBuffer) IsReadyForBegin() bool { return cb.State() == CmdBufferReadyForBegin }

// HasBegun reports whether the buffer is recording, inside or outside a render pass.
func (cb *CmdBuffer) HasBegun() bool {
	s := cb.State()
	return s == CmdBufferRecording || s == CmdBufferInsideRenderPass
}

func (cb *CmdBuffer) HasEnded() bool { return cb.State() == CmdBufferEnded }

func (cb *CmdBuffer) IsSubmitted() bool { return cb.State() == CmdBufferSubmitted }

func (cb *CmdBuffer) IsInsideRenderPass() bool { return cb.State() == CmdBufferInsideRenderPass }

func (cb *CmdBuffer) IsOutsideRenderPass() bool { return cb.State() == CmdBufferRecording }

// FenceSignaledCounter counts how many times the buffer's work has completed on the GPU.
func (cb *CmdBuffer) FenceSignaledCounter() uint64 {
	return cb.fenceSignaledCounter.Load()
}

func (cb *CmdBuffer) SubmittedFrame() uint64 { return cb.submittedFrame }

func (cb *CmdBuffer) Begin() {
	check(cb.IsReadyForBegin(), "command buffer begin in state %s", cb.State())
	if !cb.owner.device.verify(cb.owner.device.native.BeginCommandBuffer(cb.handle), "begin command buffer") {
		return
	}
	cb.setState(CmdBufferRecording)
}

func (cb *CmdBuffer) End() {
	check(cb.IsOutsideRenderPass(), "command buffer end in state %s", cb.State())
	if !cb.owner.device.verify(cb.owner.device.native.EndCommandBuffer(cb.handle), "end command buffer") {
		return
	}
	cb.setState(CmdBufferEnded)
}

func (cb *CmdBuffer) BeginRenderPass(layout *RenderTargetLayout, rp *RenderPass, fb *Framebuffer, clearValues []ClearValue) {
	check(cb.IsOutsideRenderPass(), "begin render pass in state %s", cb.State())
	n := layout.NumUsedClearValues()
	if len(clearValues) > n {
		clearValues = clearValues[:n]
	}
	cb.owner.device.native.CmdBeginRenderPass(cb.handle, RenderPassBeginInfo{
		RenderPass:  rp.Handle(),
		Framebuffer: fb.Handle(),
		Extent:      Extent2D{Width: fb.Extent().Width, Height: fb.Extent().Height},
		ClearValues: clearValues,
	})
	cb.renderPass = rp
	cb.framebuffer = fb
	cb.setState(CmdBufferInsideRenderPass)
}

func (cb *CmdBuffer) EndRenderPass() {
	check(cb.IsInsideRenderPass(), "end render pass in state %s", cb.State())
	cb.owner.device.native.CmdEndRenderPass(cb.handle)
	cb.renderPass = nil
	cb.framebuffer = nil
	cb.setState(CmdBufferRecording)
}

// CurrentFramebuffer gets the framebuffer of the open render pass, nil outside a render pass.
func (cb *CmdBuffer) CurrentFramebuffer() *Framebuffer { return cb.framebuffer }

// AddWaitSemaphore makes the next submission of this buffer wait on sem at the given stage.
func (cb *CmdBuffer) AddWaitSemaphore(stage PipelineStageFlags, sem SemaphoreHandle) {
	if sem == NullSemaphore {
		return
	}
	cb.waitSemaphores = append(cb.waitSemaphores, SemaphoreWait{Semaphore: sem, Stage: stage})
}

func (cb *CmdBuffer) markSubmitted() {
	cb.waitSemaphores = nil
	cb.submittedFrame = cb.owner.device.FrameNumber()
	cb.setState(CmdBufferSubmitted)
}

// RefreshFenceStatus retires a submitted buffer whose fence has signaled.
func (cb *CmdBuffer) RefreshFenceStatus() {
	if !cb.IsSubmitted() {
		return
	}
	fences := cb.owner.device.fenceManager
	if !fences.IsFenceSignaled(cb.fence) {
		return
	}
	cb.retire()
}

func (cb *CmdBuffer) retire() {
	device := cb.owner.device
	device.native.ResetCommandBuffer(cb.handle)
	device.fenceManager.ResetFence(cb.fence)
	cb.fenceSignaledCounter.Add(1)
	cb.setState(CmdBufferReadyForBegin)
}

// CommandBufferManager owns a command pool and recycles its buffers. It keeps one active
// buffer for rendering and an optional upload buffer that is submitted ahead of it.
// The manager is not safe for concurrent use; each context owns one.
type CommandBufferManager struct {
	device *Device
	queue  *Queue
	pool   CommandPoolHandle

	buffers []*CmdBuffer
	active  *CmdBuffer
	upload  *CmdBuffer
	// published copy of active for threads stamping deferred deletions
	activeRef atomic.Pointer[CmdBuffer]
}

func (m *CommandBufferManager) setActive(cb *CmdBuffer) {
	m.active = cb
	m.activeRef.Store(cb)
}

func (m *CommandBufferManager) loadActive() *CmdBuffer {
	return m.activeRef.Load()
}

func NewCommandBufferManager(device *Device, queue *Queue) (*CommandBufferManager, error) {
	pool, ret := device.native.CreateCommandPool(queue.Family())
	if isError(ret) {
		return nil, newErrorf(ret, "create command pool")
	}
	m := &CommandBufferManager{
		device: device,
		queue:  queue,
		pool:   pool,
	}
	active, err := m.create()
	if err != nil {
		device.native.DestroyCommandPool(pool)
		return nil, err
	}
	m.setActive(active)
	m.active.Begin()
	return m, nil
}

func (m *CommandBufferManager) create() (*CmdBuffer, error) {
	handle, ret := m.device.native.AllocateCommandBuffer(m.pool)
	if isError(ret) {
		return nil, newErrorf(ret, "allocate command buffer")
	}
	fence, err := m.device.fenceManager.AllocateFence(false)
	if err != nil {
		m.device.native.FreeCommandBuffer(m.pool, handle)
		return nil, errors.Wrap(err, "allocate command buffer fence")
	}
	cb := &CmdBuffer{owner: m, handle: handle, fence: fence}
	m.buffers = append(m.buffers, cb)
	m.device.log.Debug("allocated command buffer", slog.Int("total", len(m.buffers)))
	return cb, nil
}

// nextReady returns a retired buffer or allocates a new one.
func (m *CommandBufferManager) nextReady() *CmdBuffer {
	for _, cb := range m.buffers {
		cb.RefreshFenceStatus()
		if cb.IsReadyForBegin() && cb != m.active && cb != m.upload {
			return cb
		}
	}
	cb, err := m.create()
	if err != nil {
		m.device.fatal(err)
		return nil
	}
	return cb
}

func (m *CommandBufferManager) Queue() *Queue { return m.queue }

// GetActiveCmdBuffer returns the buffer rendering commands are recorded into.
// A pending upload buffer is submitted first so uploads land before the rendering that uses them.
func (m *CommandBufferManager) GetActiveCmdBuffer() *CmdBuffer {
	if m.upload != nil {
		m.SubmitUploadCmdBuffer()
	}
	return m.active
}

// HasPendingActiveCmdBuffer reports whether the active buffer has recorded but unsubmitted work.
func (m *CommandBufferManager) HasPendingActiveCmdBuffer() bool {
	return m.active != nil && (m.active.HasBegun() || m.active.HasEnded())
}

func (m *CommandBufferManager) HasPendingUploadCmdBuffer() bool {
	return m.upload != nil
}

// GetUploadCmdBuffer returns a recording buffer for transfer work.
func (m *CommandBufferManager) GetUploadCmdBuffer() *CmdBuffer {
	if m.upload == nil {
		cb := m.nextReady()
		if cb == nil {
			return nil
		}
		cb.Begin()
		m.upload = cb
	}
	return m.upload
}

func (m *CommandBufferManager) SubmitUploadCmdBuffer(signalSemaphores ...SemaphoreHandle) {
	check(m.upload != nil, "no upload command buffer to submit")
	if m.upload.IsInsideRenderPass() {
		m.upload.EndRenderPass()
	}
	if !m.upload.HasEnded() {
		m.upload.End()
	}
	m.queue.Submit(m.upload, signalSemaphores...)
	m.upload = nil
}

// SubmitActiveCmdBuffer ends and submits the active buffer. PrepareForNewActiveCommandBuffer
// must be called before recording more work.
func (m *CommandBufferManager) SubmitActiveCmdBuffer(signalSemaphores ...SemaphoreHandle) {
	check(m.active != nil, "no active command buffer to submit")
	if !m.active.HasEnded() {
		m.active.End()
	}
	m.queue.Submit(m.active, signalSemaphores...)
}

// PrepareForNewActiveCommandBuffer retires completed buffers and begins a recycled or new
// buffer as the active one. The previous active buffer must have been submitted; it may
// already have retired.
func (m *CommandBufferManager) PrepareForNewActiveCommandBuffer() {
	check(m.active == nil || !(m.active.HasBegun() || m.active.HasEnded()),
		"active command buffer was not submitted, state %s", m.activeState())
	// activeRef still holds the previous buffer until the new one has begun.
	m.active = nil
	cb := m.nextReady()
	if cb == nil {
		return
	}
	cb.Begin()
	m.setActive(cb)
}

func (m *CommandBufferManager) activeState() CmdBufferState {
	if m.active == nil {
		return CmdBufferReadyForBegin
	}
	return m.active.State()
}

// WaitForCmdBuffer blocks until a submitted buffer retires or the timeout expires.
func (m *CommandBufferManager) WaitForCmdBuffer(cb *CmdBuffer, timeout uint64) bool {
	check(cb.IsSubmitted(), "waiting on command buffer in state %s", cb.State())
	if !m.device.fenceManager.WaitForFence(cb.fence, timeout) {
		return false
	}
	cb.retire()
	return true
}

// RefreshFenceStatus retires every buffer whose fence has signaled.
func (m *CommandBufferManager) RefreshFenceStatus() {
	for _, cb := range m.buffers {
		cb.RefreshFenceStatus()
	}
}

// Destroy frees every buffer and the pool. All work must have completed.
func (m *CommandBufferManager) Destroy() {
	for _, cb := range m.buffers {
		m.device.native.FreeCommandBuffer(m.pool, cb.handle)
		m.device.fenceManager.ReleaseFence(cb.fence)
	}
	m.buffers = nil
	m.setActive(nil)
	m.upload = nil
	m.device.native.DestroyCommandPool(m.pool)
}
