package vkdriver

import "sync"

// handleTable maps the opaque uint64 handles handed to the RHI onto native objects.
// Ids start at 1 so the zero handle stays null.
type handleTable[T comparable] struct {
	mu   sync.RWMutex
	next uint64
	objs map[uint64]T
	ids  map[T]uint64
}

func newHandleTable[T comparable]() *handleTable[T] {
	return &handleTable[T]{
		objs: make(map[uint64]T),
		ids:  make(map[T]uint64),
	}
}

// add registers obj and returns its handle. Registering the same object twice returns
// the existing handle.
func (h *handleTable[T]) add(obj T) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id, ok := h.ids[obj]; ok {
		return id
	}
	h.next++
	h.objs[h.next] = obj
	h.ids[obj] = h.next
	return h.next
}

func (h *handleTable[T]) get(id uint64) (T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	obj, ok := h.objs[id]
	return obj, ok
}

// lookup returns the native object or its zero value for unknown and null handles.
func (h *handleTable[T]) lookup(id uint64) T {
	obj, _ := h.get(id)
	return obj
}

func (h *handleTable[T]) remove(id uint64) (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, ok := h.objs[id]
	if ok {
		delete(h.objs, id)
		delete(h.ids, obj)
	}
	return obj, ok
}

func (h *handleTable[T]) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.objs)
}

// each calls fn for every live object; fn must not modify the table.
func (h *handleTable[T]) each(fn func(id uint64, obj T)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, obj := range h.objs {
		fn(id, obj)
	}
}
