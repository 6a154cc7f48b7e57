package vkframe

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Buffer is a device buffer bound to its own memory allocation. Size, usage
// and memory properties never change after construction.
type Buffer struct {
	ctx    *DeviceContext
	handle vk.Buffer
	memory vk.DeviceMemory

	size  uint64
	usage vk.BufferUsageFlags
	props vk.MemoryPropertyFlags

	refs int32

	mu       sync.Mutex
	mapCount int
	mapped   unsafe.Pointer
}

// NewBuffer creates a buffer of size bytes and binds it to memory satisfying
// props. The returned buffer holds one reference.
func NewBuffer(ctx *DeviceContext, size uint64, usage vk.BufferUsageFlags, props vk.MemoryPropertyFlags) (*Buffer, error) {
	if size == 0 {
		return nil, errors.Mark(errors.New("buffer size must be positive"), ErrResourceCreation)
	}
	var handle vk.Buffer
	ret := vk.CreateBuffer(ctx.Device(), &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}, nil, &handle)
	if err := creationError(ret, "create buffer of %d bytes", size); err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(ctx.Device(), handle, &reqs)
	reqs.Deref()
	memory, err := ctx.allocate(reqs, props)
	if err != nil {
		vk.DestroyBuffer(ctx.Device(), handle, nil)
		return nil, errors.Wrapf(err, "buffer of %d bytes", size)
	}
	if err := creationError(vk.BindBufferMemory(ctx.Device(), handle, memory, 0), "bind buffer memory"); err != nil {
		vk.FreeMemory(ctx.Device(), memory, nil)
		vk.DestroyBuffer(ctx.Device(), handle, nil)
		return nil, err
	}
	return &Buffer{
		ctx:    ctx.Retain(),
		handle: handle,
		memory: memory,
		size:   size,
		usage:  usage,
		props:  props,
		refs:   1,
	}, nil
}

func (b *Buffer) VK() vk.Buffer                            { return b.handle }
func (b *Buffer) Size() uint64                             { return b.size }
func (b *Buffer) Usage() vk.BufferUsageFlags               { return b.usage }
func (b *Buffer) MemoryProperties() vk.MemoryPropertyFlags { return b.props }

func (b *Buffer) hostVisible() bool {
	return b.props&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) != 0
}

func (b *Buffer) hostCoherent() bool {
	return b.props&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit) != 0
}

// Map maps the whole buffer into host memory. Calls nest, every Map needs an
// Unmap and the pointer is invalid after the last one.
func (b *Buffer) Map() (unsafe.Pointer, error) {
	if !b.hostVisible() {
		return nil, errors.New("map of a buffer without host-visible memory")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mapCount == 0 {
		var p unsafe.Pointer
		if err := NewError(vk.MapMemory(b.ctx.Device(), b.memory, 0, vk.DeviceSize(b.size), 0, &p)); err != nil {
			return nil, errors.Wrap(err, "map buffer memory")
		}
		b.mapped = p
	}
	b.mapCount++
	return b.mapped, nil
}

func (b *Buffer) Unmap() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mapCount == 0 {
		return
	}
	b.mapCount--
	if b.mapCount == 0 {
		if !b.hostCoherent() {
			vk.FlushMappedMemoryRanges(b.ctx.Device(), 1, []vk.MappedMemoryRange{{
				SType:  vk.StructureTypeMappedMemoryRange,
				Memory: b.memory,
				Size:   vk.DeviceSize(vk.WholeSize),
			}})
		}
		vk.UnmapMemory(b.ctx.Device(), b.memory)
		b.mapped = nil
	}
}

// Bytes views the mapped memory, nil while unmapped.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mapCount == 0 {
		return nil
	}
	return hostBytes(b.mapped, int(b.size))
}

// SetData copies data to offset through a scoped mapping.
func (b *Buffer) SetData(data []byte, offset uint64) error {
	if err := checkRange(b.size, offset, uint64(len(data))); err != nil {
		return err
	}
	p, err := b.Map()
	if err != nil {
		return err
	}
	defer b.Unmap()
	copy(hostBytes(p, int(b.size))[offset:], data)
	return nil
}

func checkRange(size, offset, n uint64) error {
	if offset > size || n > size-offset {
		return errors.Newf("range [%d, %d) outside buffer of %d bytes", offset, offset+n, size)
	}
	return nil
}

// CopyFrom records a copy of size bytes from src into b. src stays alive
// until cmd is reset or freed.
func (b *Buffer) CopyFrom(src *Buffer, srcOffset, dstOffset, size uint64, cmd *CommandBuffer) error {
	if err := checkRange(src.size, srcOffset, size); err != nil {
		return errors.Wrap(err, "copy source")
	}
	if err := checkRange(b.size, dstOffset, size); err != nil {
		return errors.Wrap(err, "copy destination")
	}
	src.retain()
	cmd.keepAlive(src.Destroy)
	vk.CmdCopyBuffer(cmd.VK(), src.handle, b.handle, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
	return nil
}

// DescriptorInfo describes the range [offset, offset+size) for descriptor
// writes. size 0 means up to the end.
func (b *Buffer) DescriptorInfo(offset, size uint64) vk.DescriptorBufferInfo {
	r := vk.DeviceSize(size)
	if size == 0 {
		r = vk.DeviceSize(vk.WholeSize)
	}
	return vk.DescriptorBufferInfo{Buffer: b.handle, Offset: vk.DeviceSize(offset), Range: r}
}

func (b *Buffer) retain() {
	atomic.AddInt32(&b.refs, 1)
}

// Destroy drops one reference. The last one frees the buffer and its memory.
func (b *Buffer) Destroy() {
	switch n := atomic.AddInt32(&b.refs, -1); {
	case n > 0:
		return
	case n < 0:
		panic("vkframe: buffer destroyed twice")
	}
	vk.DestroyBuffer(b.ctx.Device(), b.handle, nil)
	vk.FreeMemory(b.ctx.Device(), b.memory, nil)
	Logger().Debug("vulkan: freed buffer", "bytes", b.size)
	b.handle = vk.NullBuffer
	b.memory = vk.NullDeviceMemory
	b.ctx.Release()
}

// UploadBuffer creates a device-local buffer holding data, filled through a
// host-visible staging buffer.
func UploadBuffer(pool *CommandPool, data []byte, usage vk.BufferUsageFlags) (*Buffer, error) {
	ctx := pool.ctx
	size := uint64(len(data))
	staging, err := NewBuffer(ctx, size, vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, errors.Wrap(err, "staging buffer")
	}
	defer staging.Destroy()
	if err := staging.SetData(data, 0); err != nil {
		return nil, err
	}

	dst, err := NewBuffer(ctx, size, usage|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		return nil, err
	}
	err = OneTimeSubmit(pool, func(cmd *CommandBuffer) error {
		return dst.CopyFrom(staging, 0, 0, size, cmd)
	})
	if err != nil {
		dst.Destroy()
		return nil, errors.Wrap(err, "upload buffer")
	}
	return dst, nil
}
