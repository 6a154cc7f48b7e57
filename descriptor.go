package vkframe

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// DescriptorCapacity bounds the live descriptors of every accounted type.
type DescriptorCapacity struct {
	UniformBuffers   uint32
	CombinedSamplers uint32
	StorageImages    uint32
	StorageBuffers   uint32
}

func (c DescriptorCapacity) byType() map[vk.DescriptorType]uint32 {
	return map[vk.DescriptorType]uint32{
		vk.DescriptorTypeUniformBuffer:        c.UniformBuffers,
		vk.DescriptorTypeCombinedImageSampler: c.CombinedSamplers,
		vk.DescriptorTypeStorageImage:         c.StorageImages,
		vk.DescriptorTypeStorageBuffer:        c.StorageBuffers,
	}
}

func (c DescriptorCapacity) poolSizes() []vk.DescriptorPoolSize {
	var sizes []vk.DescriptorPoolSize
	for _, t := range accountedTypes {
		if n := c.byType()[t]; n > 0 {
			sizes = append(sizes, vk.DescriptorPoolSize{Type: t, DescriptorCount: n})
		}
	}
	return sizes
}

var accountedTypes = []vk.DescriptorType{
	vk.DescriptorTypeUniformBuffer,
	vk.DescriptorTypeCombinedImageSampler,
	vk.DescriptorTypeStorageImage,
	vk.DescriptorTypeStorageBuffer,
}

func descriptorTypeName(t vk.DescriptorType) string {
	switch t {
	case vk.DescriptorTypeUniformBuffer:
		return "uniform-buffer"
	case vk.DescriptorTypeCombinedImageSampler:
		return "combined-image-sampler"
	case vk.DescriptorTypeStorageImage:
		return "storage-image"
	case vk.DescriptorTypeStorageBuffer:
		return "storage-buffer"
	}
	return fmt.Sprintf("descriptor-type(%d)", int(t))
}

// DescriptorDemand is one line of an exhaustion report.
type DescriptorDemand struct {
	Type      vk.DescriptorType
	Requested uint32
	InUse     uint32
	Capacity  uint32
}

// DescriptorExhaustedError reports a Notify that would leave the pool
// outside its bounds. Nothing was changed.
type DescriptorExhaustedError struct {
	// Release is set when a negative delta would drop a counter below zero.
	Release bool
	Demands []DescriptorDemand

	SetsRequested uint32
	SetsInUse     uint32
	MaxSets       uint32
}

func (e *DescriptorExhaustedError) Error() string {
	var b strings.Builder
	if e.Release {
		b.WriteString("descriptor release exceeds live count:")
	} else {
		b.WriteString("descriptor pool exhausted:")
	}
	for _, d := range e.Demands {
		fmt.Fprintf(&b, " %s requested %d in use %d capacity %d;",
			descriptorTypeName(d.Type), d.Requested, d.InUse, d.Capacity)
	}
	fmt.Fprintf(&b, " sets requested %d in use %d max %d", e.SetsRequested, e.SetsInUse, e.MaxSets)
	return b.String()
}

// DescriptorUsage is a snapshot of the accountant.
type DescriptorUsage struct {
	Live     map[vk.DescriptorType]uint32
	Capacity map[vk.DescriptorType]uint32
	Sets     uint32
	MaxSets  uint32
}

func (u DescriptorUsage) String() string {
	var b strings.Builder
	for _, t := range accountedTypes {
		fmt.Fprintf(&b, "%s %d/%d ", descriptorTypeName(t), u.Live[t], u.Capacity[t])
	}
	fmt.Fprintf(&b, "sets %d/%d", u.Sets, u.MaxSets)
	return b.String()
}

// DescriptorAccountant mirrors the live contents of a bounded descriptor pool.
// It is safe for concurrent use.
type DescriptorAccountant struct {
	mu       sync.Mutex
	capacity map[vk.DescriptorType]uint32
	live     map[vk.DescriptorType]uint32
	maxSets  uint32
	sets     uint32
}

func NewDescriptorAccountant(capacity DescriptorCapacity, maxSets uint32) *DescriptorAccountant {
	return &DescriptorAccountant{
		capacity: capacity.byType(),
		live:     make(map[vk.DescriptorType]uint32),
		maxSets:  maxSets,
	}
}

// Notify adjusts the counters for delta sets of the given layout bindings.
// Every type is checked before any counter changes; a violation returns a
// *DescriptorExhaustedError marked ErrAllocation.
func (a *DescriptorAccountant) Notify(bindings []vk.DescriptorSetLayoutBinding, delta int) error {
	if delta == 0 {
		return nil
	}
	n := delta
	if n < 0 {
		n = -n
	}
	request := make(map[vk.DescriptorType]uint32)
	for _, b := range bindings {
		request[b.DescriptorType] += b.DescriptorCount * uint32(n)
	}
	types := make([]vk.DescriptorType, 0, len(request))
	for t := range request {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	a.mu.Lock()
	defer a.mu.Unlock()

	ok := true
	demands := make([]DescriptorDemand, 0, len(types))
	for _, t := range types {
		d := DescriptorDemand{Type: t, Requested: request[t], InUse: a.live[t], Capacity: a.capacity[t]}
		demands = append(demands, d)
		if delta > 0 && d.Requested > d.Capacity-min32(d.InUse, d.Capacity) {
			ok = false
		}
		if delta < 0 && d.Requested > d.InUse {
			ok = false
		}
	}
	if delta > 0 && uint32(n) > a.maxSets-min32(a.sets, a.maxSets) {
		ok = false
	}
	if delta < 0 && uint32(n) > a.sets {
		ok = false
	}
	if !ok {
		err := &DescriptorExhaustedError{
			Release:       delta < 0,
			Demands:       demands,
			SetsRequested: uint32(n),
			SetsInUse:     a.sets,
			MaxSets:       a.maxSets,
		}
		Logger().Warn("vulkan: descriptor accounting rejected", "err", err.Error())
		return errors.Mark(errors.WithStack(err), ErrAllocation)
	}

	for _, t := range types {
		if delta > 0 {
			a.live[t] += request[t]
		} else {
			a.live[t] -= request[t]
		}
	}
	if delta > 0 {
		a.sets += uint32(n)
	} else {
		a.sets -= uint32(n)
	}
	return nil
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func (a *DescriptorAccountant) Usage() DescriptorUsage {
	a.mu.Lock()
	defer a.mu.Unlock()
	u := DescriptorUsage{
		Live:     make(map[vk.DescriptorType]uint32, len(a.live)),
		Capacity: make(map[vk.DescriptorType]uint32, len(a.capacity)),
		Sets:     a.sets,
		MaxSets:  a.maxSets,
	}
	for t, v := range a.live {
		u.Live[t] = v
	}
	for t, v := range a.capacity {
		u.Capacity[t] = v
	}
	return u
}

// DescriptorSetLayout is a created layout together with its bindings, which
// the accountant charges per allocated set.
type DescriptorSetLayout struct {
	ctx      *DeviceContext
	handle   vk.DescriptorSetLayout
	bindings []vk.DescriptorSetLayoutBinding
}

func NewDescriptorSetLayout(ctx *DeviceContext, bindings ...vk.DescriptorSetLayoutBinding) (*DescriptorSetLayout, error) {
	var layout vk.DescriptorSetLayout
	ret := vk.CreateDescriptorSetLayout(ctx.Device(), &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}, nil, &layout)
	if err := creationError(ret, "create descriptor set layout"); err != nil {
		return nil, err
	}
	return &DescriptorSetLayout{ctx: ctx.Retain(), handle: layout, bindings: bindings}, nil
}

func (l *DescriptorSetLayout) VK() vk.DescriptorSetLayout { return l.handle }

func (l *DescriptorSetLayout) Bindings() []vk.DescriptorSetLayoutBinding { return l.bindings }

func (l *DescriptorSetLayout) Destroy() {
	if l.handle == nil {
		return
	}
	vk.DestroyDescriptorSetLayout(l.ctx.Device(), l.handle, nil)
	l.handle = nil
	l.ctx.Release()
}

// DescriptorPool is a Vulkan descriptor pool whose contents are mirrored by
// an accountant, so exhaustion is reported before the driver sees it.
type DescriptorPool struct {
	ctx        *DeviceContext
	handle     vk.DescriptorPool
	accountant *DescriptorAccountant
}

func NewDescriptorPool(ctx *DeviceContext, capacity DescriptorCapacity, maxSets uint32) (*DescriptorPool, error) {
	sizes := capacity.poolSizes()
	var pool vk.DescriptorPool
	ret := vk.CreateDescriptorPool(ctx.Device(), &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, nil, &pool)
	if err := creationError(ret, "create descriptor pool"); err != nil {
		return nil, err
	}
	return &DescriptorPool{
		ctx:        ctx.Retain(),
		handle:     pool,
		accountant: NewDescriptorAccountant(capacity, maxSets),
	}, nil
}

func (p *DescriptorPool) Accountant() *DescriptorAccountant { return p.accountant }

// AllocateSet charges the accountant for one set of layout and allocates it.
// A failed allocation gives the charge back.
func (p *DescriptorPool) AllocateSet(layout *DescriptorSetLayout) (*DescriptorSet, error) {
	if err := p.accountant.Notify(layout.bindings, 1); err != nil {
		return nil, err
	}
	var set vk.DescriptorSet
	ret := vk.AllocateDescriptorSets(p.ctx.Device(), &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout.handle},
	}, &set)
	if err := creationError(ret, "allocate descriptor set"); err != nil {
		if rerr := p.accountant.Notify(layout.bindings, -1); rerr != nil {
			return nil, errors.CombineErrors(err, rerr)
		}
		return nil, err
	}
	return &DescriptorSet{pool: p, layout: layout, handle: set}, nil
}

func (p *DescriptorPool) FreeSet(set *DescriptorSet) error {
	if set.handle == nil {
		return nil
	}
	if err := NewError(vk.FreeDescriptorSets(p.ctx.Device(), p.handle, 1, &set.handle)); err != nil {
		return errors.Wrap(err, "free descriptor set")
	}
	set.handle = nil
	return p.accountant.Notify(set.layout.bindings, -1)
}

func (p *DescriptorPool) Destroy() {
	if p.handle == nil {
		return
	}
	vk.DestroyDescriptorPool(p.ctx.Device(), p.handle, nil)
	p.handle = nil
	p.ctx.Release()
}

// DescriptorSet collects writes and applies them with Update.
type DescriptorSet struct {
	pool   *DescriptorPool
	layout *DescriptorSetLayout
	handle vk.DescriptorSet
	writes []vk.WriteDescriptorSet
}

func (s *DescriptorSet) VK() vk.DescriptorSet { return s.handle }

func (s *DescriptorSet) WriteBuffer(binding uint32, dtype vk.DescriptorType, buf *Buffer, offset, size uint64) {
	s.writes = append(s.writes, vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstBinding:      binding,
		DescriptorCount: 1,
		DescriptorType:  dtype,
		PBufferInfo:     []vk.DescriptorBufferInfo{buf.DescriptorInfo(offset, size)},
	})
}

// WriteImage binds view in the given layout. sampler may be nil for storage
// images.
func (s *DescriptorSet) WriteImage(binding uint32, dtype vk.DescriptorType, view *ImageView, sampler *Sampler, layout vk.ImageLayout) {
	info := vk.DescriptorImageInfo{ImageView: view.handle, ImageLayout: layout}
	if sampler != nil {
		info.Sampler = sampler.handle
	}
	s.writes = append(s.writes, vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstBinding:      binding,
		DescriptorCount: 1,
		DescriptorType:  dtype,
		PImageInfo:      []vk.DescriptorImageInfo{info},
	})
}

// Update applies the pending writes.
func (s *DescriptorSet) Update() {
	if len(s.writes) == 0 {
		return
	}
	for i := range s.writes {
		s.writes[i].DstSet = s.handle
	}
	vk.UpdateDescriptorSets(s.pool.ctx.Device(), uint32(len(s.writes)), s.writes, 0, nil)
	s.writes = s.writes[:0]
}
