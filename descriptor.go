package dieselrhi

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// DescriptorSetLayoutBindings are the bindings of one descriptor set, indexed by binding slot.
// Slots without a descriptor have a zero Count and are not emitted.
type DescriptorSetLayoutBindings struct {
	Bindings []DescriptorSetLayoutBinding
}

// DescriptorSetsLayoutInfo accumulates the bindings of every set a shader pipeline uses.
type DescriptorSetsLayoutInfo struct {
	setLayouts  []DescriptorSetLayoutBindings
	layoutTypes [NumDescriptorTypes]uint32
	hash        uint64
}

// AddDescriptor places desc at bindingIndex of set setIndex, growing both as needed, and folds
// it into the layout hash. Immutable samplers are not supported.
func (l *DescriptorSetsLayoutInfo) AddDescriptor(setIndex int, desc DescriptorSetLayoutBinding, bindingIndex int) {
	check(len(desc.ImmutableSamplers) == 0, "immutable samplers are not supported (set %d binding %d)", setIndex, bindingIndex)
	check(int(desc.Type) < NumDescriptorTypes, "invalid descriptor type %d", desc.Type)
	if desc.Count == 0 {
		desc.Count = 1
	}
	l.layoutTypes[desc.Type] += desc.Count

	for len(l.setLayouts) <= setIndex {
		l.setLayouts = append(l.setLayouts, DescriptorSetLayoutBindings{})
	}
	set := &l.setLayouts[setIndex]
	for len(set.Bindings) <= bindingIndex {
		set.Bindings = append(set.Bindings, DescriptorSetLayoutBinding{})
	}
	set.Bindings[bindingIndex] = desc

	l.hash = hashBinding(l.hash, uint32(setIndex), uint32(bindingIndex), desc)
}

func hashBinding(seed uint64, set, index uint32, desc DescriptorSetLayoutBinding) uint64 {
	var buf [40]byte
	b := binary.LittleEndian.AppendUint64(buf[:0], seed)
	b = binary.LittleEndian.AppendUint32(b, set)
	b = binary.LittleEndian.AppendUint32(b, index)
	b = binary.LittleEndian.AppendUint32(b, desc.Binding)
	b = binary.LittleEndian.AppendUint32(b, uint32(desc.Type))
	b = binary.LittleEndian.AppendUint32(b, desc.Count)
	b = binary.LittleEndian.AppendUint32(b, uint32(desc.StageFlags))
	return xxhash.Sum64(b)
}

func (l *DescriptorSetsLayoutInfo) Hash() uint64 { return l.hash }

func (l *DescriptorSetsLayoutInfo) NumSets() int { return len(l.setLayouts) }

func (l *DescriptorSetsLayoutInfo) SetLayouts() []DescriptorSetLayoutBindings { return l.setLayouts }

// TypeCount gets the total descriptor count of type t across all sets.
func (l *DescriptorSetsLayoutInfo) TypeCount(t DescriptorType) uint32 {
	return l.layoutTypes[t]
}

// Equal compares bindings structurally.
func (l *DescriptorSetsLayoutInfo) Equal(o *DescriptorSetsLayoutInfo) bool {
	if l.hash != o.hash || len(l.setLayouts) != len(o.setLayouts) || l.layoutTypes != o.layoutTypes {
		return false
	}
	for i := range l.setLayouts {
		a, b := l.setLayouts[i].Bindings, o.setLayouts[i].Bindings
		if len(a) != len(b) {
			return false
		}
		for j := range a {
			if a[j].Binding != b[j].Binding || a[j].Type != b[j].Type ||
				a[j].Count != b[j].Count || a[j].StageFlags != b[j].StageFlags {
				return false
			}
		}
	}
	return true
}

// DescriptorLimitError reports a descriptor category whose total count is above the device limit.
type DescriptorLimitError struct {
	Category string
	Count    uint32
	Limit    uint32
}

func (e *DescriptorLimitError) Error() string {
	return fmt.Sprintf("descriptor set layout uses %d %s, device limit is %d", e.Count, e.Category, e.Limit)
}

// CheckLimits validates the aggregate descriptor counts against the device limits.
func (l *DescriptorSetsLayoutInfo) CheckLimits(limits DeviceLimits) error {
	t := &l.layoutTypes
	checks := []struct {
		category string
		count    uint32
		limit    uint32
	}{
		{"samplers", t[DescriptorTypeSampler] + t[DescriptorTypeCombinedImageSampler], limits.MaxDescriptorSetSamplers},
		{"uniform buffers", t[DescriptorTypeUniformBuffer] + t[DescriptorTypeUniformBufferDynamic], limits.MaxDescriptorSetUniformBuffers},
		{"dynamic uniform buffers", t[DescriptorTypeUniformBufferDynamic], limits.MaxDescriptorSetUniformBuffersDyn},
		{"storage buffers", t[DescriptorTypeStorageBuffer] + t[DescriptorTypeStorageBufferDynamic], limits.MaxDescriptorSetStorageBuffers},
		{"dynamic storage buffers", t[DescriptorTypeStorageBufferDynamic], limits.MaxDescriptorSetStorageBuffersDyn},
		{"sampled images", t[DescriptorTypeCombinedImageSampler] + t[DescriptorTypeSampledImage] + t[DescriptorTypeUniformTexelBuffer], limits.MaxDescriptorSetSampledImages},
		{"storage images", t[DescriptorTypeStorageImage] + t[DescriptorTypeStorageTexelBuffer], limits.MaxDescriptorSetStorageImages},
		{"input attachments", t[DescriptorTypeInputAttachment], limits.MaxDescriptorSetInputAttachments},
		{"descriptor sets", uint32(len(l.setLayouts)), limits.MaxBoundDescriptorSets},
	}
	for _, c := range checks {
		if c.count > c.limit {
			return errors.Mark(&DescriptorLimitError{Category: c.category, Count: c.count, Limit: c.limit}, ErrDescriptorLimit)
		}
	}
	return nil
}

// DescriptorSetsLayout is a compiled layout holding one native layout per set.
type DescriptorSetsLayout struct {
	DescriptorSetsLayoutInfo
	device  *Device
	handles []DescriptorSetLayoutHandle
}

func NewDescriptorSetsLayout(device *Device, info DescriptorSetsLayoutInfo) *DescriptorSetsLayout {
	return &DescriptorSetsLayout{DescriptorSetsLayoutInfo: info, device: device}
}

// Handles gets the native layouts, one per set, after Compile.
func (l *DescriptorSetsLayout) Handles() []DescriptorSetLayoutHandle { return l.handles }

// Compile checks the device limits and only then creates the native layouts.
func (l *DescriptorSetsLayout) Compile() error {
	check(len(l.handles) == 0, "descriptor sets layout compiled twice")
	if err := l.CheckLimits(l.device.Limits()); err != nil {
		return err
	}
	handles := make([]DescriptorSetLayoutHandle, 0, len(l.setLayouts))
	for i, set := range l.setLayouts {
		bindings := make([]DescriptorSetLayoutBinding, 0, len(set.Bindings))
		for _, b := range set.Bindings {
			if b.Count > 0 {
				bindings = append(bindings, b)
			}
		}
		h, ret := l.device.native.CreateDescriptorSetLayout(bindings)
		if isError(ret) {
			for _, created := range handles {
				l.device.native.DestroyDescriptorSetLayout(created)
			}
			return newErrorf(ret, "create descriptor set layout %d", i)
		}
		handles = append(handles, h)
	}
	l.handles = handles
	return nil
}

// Destroy hands the native layouts to the deferred deletion queue.
func (l *DescriptorSetsLayout) Destroy() {
	for _, h := range l.handles {
		l.device.deferredDeletion.EnqueueResource(ResourceDescriptorSetLayout, uint64(h))
	}
	l.handles = nil
}

// DescriptorSetLayoutCache shares compiled layouts between pipelines with identical bindings.
type DescriptorSetLayoutCache struct {
	device  *Device
	mu      sync.Mutex
	layouts map[uint64][]*DescriptorSetsLayout
}

func NewDescriptorSetLayoutCache(device *Device) *DescriptorSetLayoutCache {
	return &DescriptorSetLayoutCache{
		device:  device,
		layouts: make(map[uint64][]*DescriptorSetsLayout),
	}
}

// GetOrCompile returns the cached layout for info, compiling it on first use. A layout over the
// device limits is a content error: it is reported as fatal and nothing native is created.
func (c *DescriptorSetLayoutCache) GetOrCompile(info DescriptorSetsLayoutInfo) (*DescriptorSetsLayout, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.layouts[info.hash] {
		if l.Equal(&info) {
			return l, nil
		}
	}
	l := NewDescriptorSetsLayout(c.device, info)
	if err := l.Compile(); err != nil {
		if errors.Is(err, ErrDescriptorLimit) {
			c.device.fatal(err)
		}
		return nil, err
	}
	c.layouts[info.hash] = append(c.layouts[info.hash], l)
	return l, nil
}

func (c *DescriptorSetLayoutCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, list := range c.layouts {
		n += len(list)
	}
	return n
}

func (c *DescriptorSetLayoutCache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, list := range c.layouts {
		for _, l := range list {
			for _, h := range l.handles {
				c.device.native.DestroyDescriptorSetLayout(h)
			}
			l.handles = nil
		}
	}
	c.layouts = make(map[uint64][]*DescriptorSetsLayout)
}

// poolSizeRatios scale the per-type capacity of a pool against its set count, as numerator/denominator.
var poolSizeRatios = [NumDescriptorTypes][2]uint32{
	DescriptorTypeSampler:              {1, 2},
	DescriptorTypeCombinedImageSampler: {3, 1},
	DescriptorTypeSampledImage:         {2, 1},
	DescriptorTypeStorageImage:         {1, 4},
	DescriptorTypeUniformTexelBuffer:   {1, 2},
	DescriptorTypeStorageTexelBuffer:   {1, 4},
	DescriptorTypeUniformBuffer:        {2, 1},
	DescriptorTypeStorageBuffer:        {1, 4},
	DescriptorTypeUniformBufferDynamic: {1, 1},
	DescriptorTypeStorageBufferDynamic: {1, 4},
	DescriptorTypeInputAttachment:      {1, 4},
}

// DescriptorPool tracks how much of a native pool is in use.
type DescriptorPool struct {
	device  *Device
	handle  DescriptorPoolHandle
	maxSets uint32

	numAllocatedSets  uint32
	peakAllocatedSets uint32
	maxTypes          [NumDescriptorTypes]uint32
	allocatedTypes    [NumDescriptorTypes]uint32
}

func newDescriptorPool(device *Device, maxSets uint32) (*DescriptorPool, error) {
	p := &DescriptorPool{device: device, maxSets: maxSets}
	sizes := make([]DescriptorPoolSize, 0, NumDescriptorTypes)
	for t := 0; t < NumDescriptorTypes; t++ {
		r := poolSizeRatios[t]
		n := maxSets * r[0] / r[1]
		if n == 0 {
			n = 1
		}
		p.maxTypes[t] = n
		sizes = append(sizes, DescriptorPoolSize{Type: DescriptorType(t), Count: n})
	}
	handle, ret := device.native.CreateDescriptorPool(maxSets, sizes)
	if isError(ret) {
		return nil, newErrorf(ret, "create descriptor pool")
	}
	p.handle = handle
	return p, nil
}

func (p *DescriptorPool) Handle() DescriptorPoolHandle { return p.handle }

func (p *DescriptorPool) NumAllocatedSets() uint32 { return p.numAllocatedSets }

func (p *DescriptorPool) IsEmpty() bool { return p.numAllocatedSets == 0 }

// CanAllocate reports whether the tracked capacity fits one more instance of layout.
func (p *DescriptorPool) CanAllocate(layout *DescriptorSetsLayout) bool {
	if p.numAllocatedSets+uint32(len(layout.handles)) > p.maxSets {
		return false
	}
	for t := 0; t < NumDescriptorTypes; t++ {
		if p.allocatedTypes[t]+layout.layoutTypes[t] > p.maxTypes[t] {
			return false
		}
	}
	return true
}

func (p *DescriptorPool) trackAddUsage(layout *DescriptorSetsLayout) {
	for t := 0; t < NumDescriptorTypes; t++ {
		p.allocatedTypes[t] += layout.layoutTypes[t]
	}
	p.numAllocatedSets += uint32(len(layout.handles))
	if p.numAllocatedSets > p.peakAllocatedSets {
		p.peakAllocatedSets = p.numAllocatedSets
	}
}

func (p *DescriptorPool) trackRemoveUsage(layout *DescriptorSetsLayout) {
	for t := 0; t < NumDescriptorTypes; t++ {
		check(p.allocatedTypes[t] >= layout.layoutTypes[t], "descriptor pool usage underflow")
		p.allocatedTypes[t] -= layout.layoutTypes[t]
	}
	p.numAllocatedSets -= uint32(len(layout.handles))
}

// DescriptorSets is one allocation of every set of a layout.
type DescriptorSets struct {
	Handles []DescriptorSetHandle
	layout  *DescriptorSetsLayout
	pool    *DescriptorPool
}

func (s *DescriptorSets) Layout() *DescriptorSetsLayout { return s.layout }

// DescriptorPoolManager allocates descriptor sets for a context and adds pools when the
// existing ones are exhausted.
type DescriptorPoolManager struct {
	device *Device
	pools  []*DescriptorPool
}

func NewDescriptorPoolManager(device *Device) *DescriptorPoolManager {
	return &DescriptorPoolManager{device: device}
}

func (m *DescriptorPoolManager) Pools() []*DescriptorPool { return m.pools }

func (m *DescriptorPoolManager) Allocate(layout *DescriptorSetsLayout) (*DescriptorSets, error) {
	check(len(layout.handles) > 0, "allocating descriptor sets from an uncompiled layout")
	for _, p := range m.pools {
		if !p.CanAllocate(layout) {
			continue
		}
		sets, err := m.allocateFrom(p, layout)
		if err == nil {
			return sets, nil
		}
		if !isPoolExhausted(err) {
			return nil, err
		}
	}
	p, err := newDescriptorPool(m.device, m.device.cfg.DescriptorPoolMaxSets)
	if err != nil {
		return nil, err
	}
	m.pools = append(m.pools, p)
	m.device.log.Debug("added descriptor pool", slog.Int("pools", len(m.pools)))
	return m.allocateFrom(p, layout)
}

func isPoolExhausted(err error) bool {
	var ret Result
	if !errors.As(err, &ret) {
		return false
	}
	return ret == ErrorOutOfPoolMemory || ret == ErrorFragmentedPool
}

func (m *DescriptorPoolManager) allocateFrom(p *DescriptorPool, layout *DescriptorSetsLayout) (*DescriptorSets, error) {
	handles, ret := m.device.native.AllocateDescriptorSets(p.handle, layout.handles)
	if isError(ret) {
		return nil, NewError(ret)
	}
	p.trackAddUsage(layout)
	return &DescriptorSets{Handles: handles, layout: layout, pool: p}, nil
}

// Free returns the sets to their pool. A pool left empty is reset.
func (m *DescriptorPoolManager) Free(sets *DescriptorSets) {
	if sets == nil || sets.pool == nil {
		return
	}
	p := sets.pool
	m.device.native.FreeDescriptorSets(p.handle, sets.Handles)
	p.trackRemoveUsage(sets.layout)
	if p.IsEmpty() {
		m.device.native.ResetDescriptorPool(p.handle)
	}
	sets.pool = nil
	sets.Handles = nil
}

func (m *DescriptorPoolManager) Destroy() {
	for _, p := range m.pools {
		m.device.native.DestroyDescriptorPool(p.handle)
	}
	m.pools = nil
}
