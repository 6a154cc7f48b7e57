package vkframe

import (
	vk "github.com/vulkan-go/vulkan"
)

// CommandBufferManager allocates command buffers from its own pool and
// recycles them every frame. It is not safe for concurrent use; parallel
// recording gives every worker its own manager.
type CommandBufferManager struct {
	pool    *CommandPool
	level   vk.CommandBufferLevel
	buffers []*CommandBuffer
	count   int
}

// NewCommandBufferManager creates a manager handing out buffers of level for
// the queue family of role.
func NewCommandBufferManager(ctx *DeviceContext, role QueueRole, level vk.CommandBufferLevel) (*CommandBufferManager, error) {
	pool, err := NewCommandPool(ctx, role, 0)
	if err != nil {
		return nil, err
	}
	return &CommandBufferManager{pool: pool, level: level}, nil
}

// Reset marks every managed buffer recyclable. Call it only once the work
// recorded into them finished.
func (m *CommandBufferManager) Reset() {
	m.count = 0
}

// NewCommandBuffer returns a recycled buffer in the initial state or
// allocates a new one.
func (m *CommandBufferManager) NewCommandBuffer() (*CommandBuffer, error) {
	if m.count < len(m.buffers) {
		buf := m.buffers[m.count]
		if err := buf.Reset(); err != nil {
			return nil, err
		}
		m.count++
		return buf, nil
	}
	buf, err := m.pool.AllocateOne(m.level)
	if err != nil {
		return nil, err
	}
	m.buffers = append(m.buffers, buf)
	m.count++
	return buf, nil
}

// Active returns the buffers handed out since the last Reset.
func (m *CommandBufferManager) Active() []*CommandBuffer {
	return m.buffers[:m.count]
}

func (m *CommandBufferManager) Destroy() {
	for _, buf := range m.buffers {
		buf.Free()
	}
	m.buffers = nil
	m.count = 0
	m.pool.Destroy()
}
