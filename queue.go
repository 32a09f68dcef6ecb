package dieselrhi

import (
	"sync"

	"golang.org/x/exp/slog"
)

// Queue wraps one native queue. Submissions and presents on it are serialized.
type Queue struct {
	device *Device
	handle QueueHandle
	family uint32

	mu            sync.Mutex
	submitCounter uint64
}

func NewQueue(device *Device, family uint32) *Queue {
	return &Queue{
		device: device,
		handle: device.native.Queue(family, 0),
		family: family,
	}
}

func (q *Queue) Handle() QueueHandle { return q.handle }

func (q *Queue) Family() uint32 { return q.family }

// SubmitCounter counts the submissions made on this queue.
func (q *Queue) SubmitCounter() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submitCounter
}

// Submit submits an ended command buffer, waiting on its wait semaphores and signaling
// the given semaphores. The buffer's fence signals when the GPU is done with it.
func (q *Queue) Submit(cb *CmdBuffer, signalSemaphores ...SemaphoreHandle) {
	check(cb.HasEnded(), "command buffer must be ended before submit, state %s", cb.State())

	var signals []SemaphoreHandle
	for _, s := range signalSemaphores {
		if s != NullSemaphore {
			signals = append(signals, s)
		}
	}
	info := SubmitInfo{
		Waits:            cb.waitSemaphores,
		CommandBuffers:   []CommandBufferHandle{cb.handle},
		SignalSemaphores: signals,
	}

	q.mu.Lock()
	ret := q.device.native.QueueSubmit(q.handle, []SubmitInfo{info}, cb.fence.handle)
	if ret == Success {
		q.submitCounter++
	}
	q.mu.Unlock()

	if !q.device.verify(ret, "queue submit") {
		return
	}
	cb.markSubmitted()
	q.device.log.Debug("submitted command buffer",
		slog.Uint64("family", uint64(q.family)),
		slog.Int("waits", len(info.Waits)),
		slog.Int("signals", len(signals)))
}

// SubmitBlocking submits and waits for the command buffer to retire.
func (q *Queue) SubmitBlocking(cb *CmdBuffer, signalSemaphores ...SemaphoreHandle) {
	q.Submit(cb, signalSemaphores...)
	cb.owner.WaitForCmdBuffer(cb, InfiniteTimeout)
}

// Present queues a present on this queue and returns the raw result.
func (q *Queue) Present(info PresentInfo) Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.device.native.QueuePresent(q.handle, info)
}

// WaitIdle blocks until the queue has drained.
func (q *Queue) WaitIdle() {
	q.mu.Lock()
	ret := q.device.native.QueueWaitIdle(q.handle)
	q.mu.Unlock()
	q.device.verify(ret, "queue wait idle")
}
