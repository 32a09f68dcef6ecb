package dieselrhi

import (
	"testing"

	"github.com/cockroachdb/errors"
)

func uniformBuffers(set, count int) DescriptorSetsLayoutInfo {
	var info DescriptorSetsLayoutInfo
	for i := 0; i < count; i++ {
		info.AddDescriptor(set, DescriptorSetLayoutBinding{
			Binding:    uint32(i),
			Type:       DescriptorTypeUniformBuffer,
			StageFlags: ShaderStageVertex | ShaderStageFragment,
		}, i)
	}
	return info
}

func TestDescriptorLimits(t *testing.T) {
	limits := testLimits()

	atLimit := uniformBuffers(0, int(limits.MaxDescriptorSetUniformBuffers))
	if err := atLimit.CheckLimits(limits); err != nil {
		t.Errorf("count equal to the limit rejected: %v", err)
	}

	over := uniformBuffers(0, int(limits.MaxDescriptorSetUniformBuffers)+1)
	err := over.CheckLimits(limits)
	if !errors.Is(err, ErrDescriptorLimit) {
		t.Fatalf("got %v, want a descriptor limit error", err)
	}
	var limitErr *DescriptorLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("%v is not a DescriptorLimitError", err)
	}
	if limitErr.Category != "uniform buffers" || limitErr.Count != 73 || limitErr.Limit != 72 {
		t.Errorf("got %+v", limitErr)
	}

	// Dynamic uniform buffers count against both limits.
	var dyn DescriptorSetsLayoutInfo
	for i := 0; i < 9; i++ {
		dyn.AddDescriptor(0, DescriptorSetLayoutBinding{Type: DescriptorTypeUniformBufferDynamic}, i)
	}
	if err := dyn.CheckLimits(limits); !errors.As(err, &limitErr) || limitErr.Category != "dynamic uniform buffers" {
		t.Errorf("got %v", err)
	}

	// Combined image samplers count as samplers and as sampled images.
	var combined DescriptorSetsLayoutInfo
	combined.AddDescriptor(0, DescriptorSetLayoutBinding{Type: DescriptorTypeCombinedImageSampler, Count: 1025}, 0)
	if err := combined.CheckLimits(limits); !errors.As(err, &limitErr) || limitErr.Category != "samplers" {
		t.Errorf("got %v", err)
	}

	var sampled DescriptorSetsLayoutInfo
	sampled.AddDescriptor(0, DescriptorSetLayoutBinding{Type: DescriptorTypeSampledImage, Count: 1000}, 0)
	sampled.AddDescriptor(1, DescriptorSetLayoutBinding{Type: DescriptorTypeSampledImage, Count: 25}, 0)
	if err := sampled.CheckLimits(limits); !errors.As(err, &limitErr) || limitErr.Category != "sampled images" || limitErr.Count != 1025 {
		t.Errorf("got %v", err)
	}

	var sets DescriptorSetsLayoutInfo
	sets.AddDescriptor(int(limits.MaxBoundDescriptorSets), DescriptorSetLayoutBinding{Type: DescriptorTypeSampler}, 0)
	if err := sets.CheckLimits(limits); !errors.As(err, &limitErr) || limitErr.Category != "descriptor sets" {
		t.Errorf("got %v", err)
	}
}

func TestAddDescriptorGrowsSets(t *testing.T) {
	var info DescriptorSetsLayoutInfo
	info.AddDescriptor(2, DescriptorSetLayoutBinding{Binding: 3, Type: DescriptorTypeStorageBuffer, Count: 2}, 3)
	if info.NumSets() != 3 {
		t.Fatalf("got %d sets", info.NumSets())
	}
	if n := len(info.SetLayouts()[2].Bindings); n != 4 {
		t.Errorf("set 2 has %d binding slots, want 4", n)
	}
	if info.TypeCount(DescriptorTypeStorageBuffer) != 2 {
		t.Errorf("storage buffer count %d", info.TypeCount(DescriptorTypeStorageBuffer))
	}
	var zero DescriptorSetsLayoutInfo
	zero.AddDescriptor(0, DescriptorSetLayoutBinding{Type: DescriptorTypeSampler}, 0)
	if zero.TypeCount(DescriptorTypeSampler) != 1 {
		t.Errorf("zero count should mean one descriptor")
	}
}

func TestDescriptorHashIsOrderSensitive(t *testing.T) {
	a := uniformBuffers(0, 4)
	b := uniformBuffers(0, 4)
	if a.Hash() != b.Hash() || !a.Equal(&b) {
		t.Errorf("identical layouts differ")
	}
	c := uniformBuffers(1, 4)
	if a.Hash() == c.Hash() || a.Equal(&c) {
		t.Errorf("layouts in different sets compare equal")
	}
}

func TestImmutableSamplersRejected(t *testing.T) {
	defer func() {
		if r := recover(); !IsAssertionFailure(r) {
			t.Errorf("immutable samplers should fail an assertion, got %v", r)
		}
	}()
	var info DescriptorSetsLayoutInfo
	info.AddDescriptor(0, DescriptorSetLayoutBinding{Type: DescriptorTypeSampler, ImmutableSamplers: []SamplerHandle{1}}, 0)
}

func TestDescriptorLayoutOverLimitIsFatal(t *testing.T) {
	env := newTestEnv(t, nil)
	cache := env.rhi.Device().DescriptorSetLayouts()
	_, err := cache.GetOrCompile(uniformBuffers(0, 73))
	if !errors.Is(err, ErrDescriptorLimit) {
		t.Fatalf("got %v", err)
	}
	if env.fatals.count() != 1 || !errors.Is(env.fatals.last(), ErrDescriptorLimit) {
		t.Errorf("fatal errors: %d, last %v", env.fatals.count(), env.fatals.last())
	}
	if cache.Len() != 0 || env.drv.objs.createdCount("descriptor set layout") != 0 {
		t.Errorf("native layouts created for a layout over the limits")
	}
	env.shutdown(t)
}

func TestDescriptorLayoutCacheShares(t *testing.T) {
	env := newTestEnv(t, nil)
	cache := env.rhi.Device().DescriptorSetLayouts()

	var info DescriptorSetsLayoutInfo
	info.AddDescriptor(0, DescriptorSetLayoutBinding{Type: DescriptorTypeUniformBuffer}, 0)
	info.AddDescriptor(2, DescriptorSetLayoutBinding{Type: DescriptorTypeCombinedImageSampler}, 1)

	a, err := cache.GetOrCompile(info)
	if err != nil {
		t.Fatalf("GetOrCompile: %+v", err)
	}
	b, err := cache.GetOrCompile(info)
	if err != nil {
		t.Fatalf("GetOrCompile: %+v", err)
	}
	if a != b || cache.Len() != 1 {
		t.Errorf("identical layouts were compiled twice")
	}
	if len(a.Handles()) != 3 || env.drv.objs.count("descriptor set layout") != 3 {
		t.Errorf("got %d handles for three sets", len(a.Handles()))
	}
	if _, err := cache.GetOrCompile(uniformBuffers(0, 2)); err != nil {
		t.Fatalf("GetOrCompile: %+v", err)
	}
	if cache.Len() != 2 {
		t.Errorf("cache has %d layouts", cache.Len())
	}
	env.shutdown(t)
}

func TestDescriptorPoolGrowth(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, drv *fakeDriver) {
		cfg.DescriptorPoolMaxSets = 2
	})
	dev := env.rhi.Device()
	layout, err := dev.DescriptorSetLayouts().GetOrCompile(uniformBuffers(0, 1))
	if err != nil {
		t.Fatalf("GetOrCompile: %+v", err)
	}
	pools := dev.ImmediateContext().DescriptorPools()
	var all []*DescriptorSets
	for i := 0; i < 3; i++ {
		sets, err := pools.Allocate(layout)
		if err != nil {
			t.Fatalf("Allocate %d: %+v", i, err)
		}
		all = append(all, sets)
	}
	if n := len(pools.Pools()); n != 2 {
		t.Errorf("got %d pools for three sets of two per pool", n)
	}
	if all[0].Layout() != layout || len(all[0].Handles) != 1 {
		t.Errorf("allocation does not match the layout")
	}
	for _, sets := range all {
		pools.Free(sets)
	}
	for i, p := range pools.Pools() {
		if !p.IsEmpty() {
			t.Errorf("pool %d still has %d sets", i, p.NumAllocatedSets())
		}
	}
	env.shutdown(t)
}

func TestDescriptorPoolNativeExhaustion(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, drv *fakeDriver) {
		cfg.DescriptorPoolMaxSets = 8
	})
	env.device().poolSetLimit = 1
	dev := env.rhi.Device()
	layout, err := dev.DescriptorSetLayouts().GetOrCompile(uniformBuffers(0, 1))
	if err != nil {
		t.Fatalf("GetOrCompile: %+v", err)
	}
	pools := dev.ImmediateContext().DescriptorPools()
	first, err := pools.Allocate(layout)
	if err != nil {
		t.Fatalf("Allocate: %+v", err)
	}
	second, err := pools.Allocate(layout)
	if err != nil {
		t.Fatalf("out of pool memory was not recovered: %+v", err)
	}
	if len(pools.Pools()) != 2 || first.pool == second.pool {
		t.Errorf("second allocation did not move to a new pool")
	}

	pools.Free(first)
	if env.device().poolResets != 1 {
		t.Errorf("empty pool reset %d times, want 1", env.device().poolResets)
	}
	if first.Handles != nil {
		t.Errorf("freed sets keep their handles")
	}
	pools.Free(first)
	if env.device().poolResets != 1 {
		t.Errorf("double free reached the pool")
	}
	env.shutdown(t)
}

func TestDescriptorPoolCapacity(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, drv *fakeDriver) {
		cfg.DescriptorPoolMaxSets = 4
	})
	dev := env.rhi.Device()
	// Uniform buffers are sized at twice the set count.
	layout, err := dev.DescriptorSetLayouts().GetOrCompile(uniformBuffers(0, 5))
	if err != nil {
		t.Fatalf("GetOrCompile: %+v", err)
	}
	pools := dev.ImmediateContext().DescriptorPools()
	if _, err := pools.Allocate(layout); err != nil {
		t.Fatalf("Allocate: %+v", err)
	}
	if _, err := pools.Allocate(layout); err != nil {
		t.Fatalf("Allocate: %+v", err)
	}
	if n := len(pools.Pools()); n != 2 {
		t.Errorf("got %d pools, want a new one once eight uniform buffers are used", n)
	}
	env.shutdown(t)
}
