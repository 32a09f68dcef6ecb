package dieselrhi

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slog"
)

// ResourceKind names the native object type held by a deferred deletion entry.
type ResourceKind int

const (
	ResourceImage ResourceKind = iota
	ResourceImageView
	ResourceFramebuffer
	ResourceRenderPass
	ResourceDescriptorSetLayout
	ResourceSemaphore
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceImage:
		return "image"
	case ResourceImageView:
		return "image view"
	case ResourceFramebuffer:
		return "framebuffer"
	case ResourceRenderPass:
		return "render pass"
	case ResourceDescriptorSetLayout:
		return "descriptor set layout"
	case ResourceSemaphore:
		return "semaphore"
	}
	return fmt.Sprintf("resource %d", int(k))
}

type deferredEntry struct {
	kind   ResourceKind
	handle uint64

	cmdBuffer    *CmdBuffer
	fenceCounter uint64
	frameNumber  uint64
}

// DeferredDeletionQueue delays destruction of native objects until no in-flight command
// buffer can reference them. Entries are stamped with the active command buffer, or the last
// submitted one while the next is being begun, and its fence counter; an entry is released once that counter has moved on. Released slots are
// reused through a free list.
type DeferredDeletionQueue struct {
	device *Device

	mu      sync.Mutex
	entries []deferredEntry
	live    []bool
	free    []int
	count   int
}

func NewDeferredDeletionQueue(device *Device) *DeferredDeletionQueue {
	return &DeferredDeletionQueue{device: device}
}

// EnqueueResource schedules handle for destruction. Null handles are ignored.
func (q *DeferredDeletionQueue) EnqueueResource(kind ResourceKind, handle uint64) {
	if handle == 0 {
		return
	}
	entry := deferredEntry{
		kind:        kind,
		handle:      handle,
		frameNumber: q.device.FrameNumber(),
	}
	if ctx := q.device.immediate; ctx != nil {
		if cb := ctx.CommandBufferManager().loadActive(); cb != nil {
			entry.cmdBuffer = cb
			entry.fenceCounter = cb.FenceSignaledCounter()
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if n := len(q.free); n > 0 {
		slot := q.free[n-1]
		q.free = q.free[:n-1]
		q.entries[slot] = entry
		q.live[slot] = true
	} else {
		q.entries = append(q.entries, entry)
		q.live = append(q.live, true)
	}
	q.count++
}

// Len gets the number of pending entries.
func (q *DeferredDeletionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *DeferredDeletionQueue) releasable(e *deferredEntry, frame uint64) bool {
	if e.frameNumber+q.device.cfg.NumFramesToWaitForResourceDelete > frame {
		return false
	}
	return e.cmdBuffer == nil || e.fenceCounter < e.cmdBuffer.FenceSignaledCounter()
}

// ReleaseResources destroys every entry whose command buffer has retired, or every
// entry when deleteImmediately is set. Destruction happens outside the lock.
func (q *DeferredDeletionQueue) ReleaseResources(deleteImmediately bool) {
	frame := q.device.FrameNumber()
	var release []deferredEntry

	q.mu.Lock()
	for i := range q.entries {
		if !q.live[i] {
			continue
		}
		if deleteImmediately || q.releasable(&q.entries[i], frame) {
			release = append(release, q.entries[i])
			q.entries[i] = deferredEntry{}
			q.live[i] = false
			q.free = append(q.free, i)
			q.count--
		}
	}
	q.mu.Unlock()

	for _, e := range release {
		q.destroy(e)
	}
	if len(release) > 0 {
		q.device.log.Debug("released deferred resources", slog.Int("count", len(release)), slog.Bool("immediate", deleteImmediately))
	}
}

func (q *DeferredDeletionQueue) destroy(e deferredEntry) {
	native := q.device.native
	switch e.kind {
	case ResourceImage:
		native.DestroyImage(ImageHandle(e.handle))
	case ResourceImageView:
		native.DestroyImageView(ImageViewHandle(e.handle))
	case ResourceFramebuffer:
		native.DestroyFramebuffer(FramebufferHandle(e.handle))
	case ResourceRenderPass:
		native.DestroyRenderPass(RenderPassHandle(e.handle))
	case ResourceDescriptorSetLayout:
		native.DestroyDescriptorSetLayout(DescriptorSetLayoutHandle(e.handle))
	case ResourceSemaphore:
		native.DestroySemaphore(SemaphoreHandle(e.handle))
	default:
		q.device.log.Error("unknown deferred resource kind", slog.String("kind", e.kind.String()))
	}
}
