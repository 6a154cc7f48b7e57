package vkframe

import (
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Fence is a GPU to CPU signal.
type Fence struct {
	ctx    *DeviceContext
	handle vk.Fence
}

// NewFence creates a fence, already signaled when signaled is true so the
// first wait on it returns at once.
func NewFence(ctx *DeviceContext, signaled bool) (*Fence, error) {
	var flags vk.FenceCreateFlags
	if signaled {
		flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	ret := vk.CreateFence(ctx.Device(), &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: flags,
	}, nil, &fence)
	if err := creationError(ret, "create fence"); err != nil {
		return nil, err
	}
	return &Fence{ctx: ctx.Retain(), handle: fence}, nil
}

func (f *Fence) VK() vk.Fence { return f.handle }

// Wait blocks until the fence signals or timeout elapses. A timeout is
// reported as ErrSynchronizationTimeout.
func (f *Fence) Wait(timeout time.Duration) error {
	ret := vk.WaitForFences(f.ctx.Device(), 1, []vk.Fence{f.handle}, vk.True, uint64(timeout.Nanoseconds()))
	return waitResult(ret, timeout)
}

func waitResult(ret vk.Result, timeout time.Duration) error {
	switch ret {
	case vk.Success:
		return nil
	case vk.Timeout:
		return errors.Mark(errors.Newf("fence not signaled within %s", timeout), ErrSynchronizationTimeout)
	}
	return errors.Wrap(NewError(ret), "wait for fence")
}

func (f *Fence) Reset() error {
	return NewError(vk.ResetFences(f.ctx.Device(), 1, []vk.Fence{f.handle}))
}

// Signaled polls the fence without blocking.
func (f *Fence) Signaled() (bool, error) {
	switch ret := vk.GetFenceStatus(f.ctx.Device(), f.handle); ret {
	case vk.Success:
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, NewError(ret)
	}
}

func (f *Fence) Destroy() {
	if f.handle == vk.NullFence {
		return
	}
	vk.DestroyFence(f.ctx.Device(), f.handle, nil)
	f.handle = vk.NullFence
	f.ctx.Release()
}

// Semaphore is a GPU to GPU signal between queue operations.
type Semaphore struct {
	ctx    *DeviceContext
	handle vk.Semaphore
}

func NewSemaphore(ctx *DeviceContext) (*Semaphore, error) {
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(ctx.Device(), &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &sem)
	if err := creationError(ret, "create semaphore"); err != nil {
		return nil, err
	}
	return &Semaphore{ctx: ctx.Retain(), handle: sem}, nil
}

func (s *Semaphore) VK() vk.Semaphore { return s.handle }

func (s *Semaphore) Destroy() {
	if s.handle == vk.NullSemaphore {
		return
	}
	vk.DestroySemaphore(s.ctx.Device(), s.handle, nil)
	s.handle = vk.NullSemaphore
	s.ctx.Release()
}
