package vkframe

import (
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// CommandPool allocates command buffers for the queue family of one role.
// A pool and the buffers it allocated must only be used from one goroutine at
// a time.
type CommandPool struct {
	ctx    *DeviceContext
	handle vk.CommandPool
	role   QueueRole
}

// NewCommandPool creates a pool whose buffers can be reset individually.
// Extra flags (transient) are or'ed in.
func NewCommandPool(ctx *DeviceContext, role QueueRole, flags vk.CommandPoolCreateFlags) (*CommandPool, error) {
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(ctx.Device(), &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: ctx.Families().Index(role),
		Flags:            flags | vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &pool)
	if err := creationError(ret, "create %s command pool", role); err != nil {
		return nil, err
	}
	return &CommandPool{ctx: ctx.Retain(), handle: pool, role: role}, nil
}

func (p *CommandPool) VK() vk.CommandPool { return p.handle }
func (p *CommandPool) Role() QueueRole    { return p.role }

// Allocate returns count command buffers of the given level.
func (p *CommandPool) Allocate(level vk.CommandBufferLevel, count int) ([]*CommandBuffer, error) {
	handles := make([]vk.CommandBuffer, count)
	ret := vk.AllocateCommandBuffers(p.ctx.Device(), &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.handle,
		Level:              level,
		CommandBufferCount: uint32(count),
	}, handles)
	if err := creationError(ret, "allocate %d command buffers", count); err != nil {
		return nil, err
	}
	out := make([]*CommandBuffer, count)
	for i := range handles {
		out[i] = &CommandBuffer{pool: p, handle: handles[i], level: level}
	}
	return out, nil
}

func (p *CommandPool) AllocateOne(level vk.CommandBufferLevel) (*CommandBuffer, error) {
	list, err := p.Allocate(level, 1)
	if err != nil {
		return nil, err
	}
	return list[0], nil
}

func (p *CommandPool) Destroy() {
	if p.handle == vk.NullCommandPool {
		return
	}
	vk.DestroyCommandPool(p.ctx.Device(), p.handle, nil)
	p.handle = vk.NullCommandPool
	p.ctx.Release()
}

// CommandBuffer records commands. Resources that must outlive the recorded
// commands are registered with keepAlive and released on Reset or Free, which
// callers only do after the submission's fence signaled.
type CommandBuffer struct {
	pool   *CommandPool
	handle vk.CommandBuffer
	level  vk.CommandBufferLevel

	mu       sync.Mutex
	releases []func()
}

func (c *CommandBuffer) VK() vk.CommandBuffer { return c.handle }

func (c *CommandBuffer) keepAlive(release func()) {
	c.mu.Lock()
	c.releases = append(c.releases, release)
	c.mu.Unlock()
}

func (c *CommandBuffer) releaseKept() {
	c.mu.Lock()
	list := c.releases
	c.releases = nil
	c.mu.Unlock()
	for _, fn := range list {
		fn()
	}
}

func (c *CommandBuffer) Begin() error {
	return c.begin(0, nil)
}

// BeginOneTime begins a buffer that is submitted once and then reset.
func (c *CommandBuffer) BeginOneTime() error {
	return c.begin(vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit), nil)
}

// BeginSecondary begins a secondary buffer that continues renderPass inside
// framebuffer.
func (c *CommandBuffer) BeginSecondary(renderPass vk.RenderPass, framebuffer vk.Framebuffer) error {
	if c.level != vk.CommandBufferLevelSecondary {
		return errors.New("BeginSecondary on a primary command buffer")
	}
	return c.begin(vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit|vk.CommandBufferUsageOneTimeSubmitBit),
		[]vk.CommandBufferInheritanceInfo{{
			SType:       vk.StructureTypeCommandBufferInheritanceInfo,
			RenderPass:  renderPass,
			Framebuffer: framebuffer,
		}})
}

func (c *CommandBuffer) begin(flags vk.CommandBufferUsageFlags, inherit []vk.CommandBufferInheritanceInfo) error {
	return NewError(vk.BeginCommandBuffer(c.handle, &vk.CommandBufferBeginInfo{
		SType:            vk.StructureTypeCommandBufferBeginInfo,
		Flags:            flags,
		PInheritanceInfo: inherit,
	}))
}

func (c *CommandBuffer) End() error {
	return NewError(vk.EndCommandBuffer(c.handle))
}

// Reset returns the buffer to the initial state and drops the resources kept
// alive by the previous recording.
func (c *CommandBuffer) Reset() error {
	c.releaseKept()
	return NewError(vk.ResetCommandBuffer(c.handle, 0))
}

// ExecuteCommands records secondaries into this primary buffer.
func (c *CommandBuffer) ExecuteCommands(secondaries ...*CommandBuffer) {
	if len(secondaries) == 0 {
		return
	}
	handles := make([]vk.CommandBuffer, len(secondaries))
	for i, s := range secondaries {
		handles[i] = s.handle
	}
	vk.CmdExecuteCommands(c.handle, uint32(len(handles)), handles)
}

// Free returns the buffer to its pool.
func (c *CommandBuffer) Free() {
	c.releaseKept()
	if c.handle == nil {
		return
	}
	vk.FreeCommandBuffers(c.pool.ctx.Device(), c.pool.handle, 1, []vk.CommandBuffer{c.handle})
	c.handle = nil
}

// endAfterFailure ends a command buffer whose recording failed with err. An
// error from end joins err instead of replacing it.
func endAfterFailure(err error, end func() error) error {
	return errors.CombineErrors(err, errors.Wrap(end(), "end command buffer after failed recording"))
}

// OneTimeSubmit records fn into a fresh buffer from pool, submits it to the
// pool's queue and waits for that queue to drain.
func OneTimeSubmit(pool *CommandPool, fn func(cmd *CommandBuffer) error) (err error) {
	cmd, err := pool.AllocateOne(vk.CommandBufferLevelPrimary)
	if err != nil {
		return err
	}
	defer cmd.Free()

	if err := cmd.BeginOneTime(); err != nil {
		return errors.Wrap(err, "begin one-time command buffer")
	}
	if err := func() (err error) {
		defer checkErr(&err)
		return fn(cmd)
	}(); err != nil {
		return endAfterFailure(err, cmd.End)
	}
	if err := cmd.End(); err != nil {
		return errors.Wrap(err, "end one-time command buffer")
	}

	queue := pool.ctx.Queue(pool.role)
	if err := queue.Submit([]vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cmd.handle},
	}}, vk.NullFence); err != nil {
		return errors.Wrap(err, "submit one-time command buffer")
	}
	return queue.WaitIdle()
}
