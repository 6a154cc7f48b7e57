package vkframe

import (
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
	lin "github.com/xlab/linmath"
)

type dataSetter interface {
	SetData(data []byte, offset uint64) error
}

// UniformBuffers holds one host-visible uniform buffer per frame slot. Writes
// go through a Frame and are refused while the slot's previous submission
// may still read the buffer.
type UniformBuffers struct {
	size    uint64
	buffers []*Buffer
	setters []dataSetter
}

func NewUniformBuffers(ctx *DeviceContext, frames int, size uint64) (*UniformBuffers, error) {
	u := &UniformBuffers{size: size}
	for i := 0; i < frames; i++ {
		buf, err := NewBuffer(ctx, size, vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
		if err != nil {
			u.Destroy()
			return nil, errors.Wrapf(err, "uniform buffer of slot %d", i)
		}
		u.buffers = append(u.buffers, buf)
		u.setters = append(u.setters, buf)
	}
	return u, nil
}

func (u *UniformBuffers) Size() uint64 { return u.size }

// Buffer returns the uniform buffer of slot.
func (u *UniformBuffers) Buffer(slot int) *Buffer {
	return u.buffers[slot]
}

// Write copies data to offset in the buffer of frame's slot.
func (u *UniformBuffers) Write(frame *Frame, data []byte, offset uint64) error {
	if !frame.Writable() {
		return errors.AssertionFailedf("uniform write to slot %d during frame %d while its previous submission is in flight",
			frame.Slot, frame.Number)
	}
	return u.setters[frame.Slot].SetData(data, offset)
}

// WriteMatrix stores m at the start of the buffer of frame's slot.
func (u *UniformBuffers) WriteMatrix(frame *Frame, m *lin.Mat4x4) error {
	return u.Write(frame, matrixBytes(m), 0)
}

func (u *UniformBuffers) Destroy() {
	for _, buf := range u.buffers {
		buf.Destroy()
	}
	u.buffers = nil
	u.setters = nil
}
