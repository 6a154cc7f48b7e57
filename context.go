package vkframe

import (
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// frameSlot holds the per-frame objects of one slot. The slot's command pool
// and secondary managers are only touched after its fence was waited on.
type frameSlot struct {
	fence     *Fence
	acquired  *Semaphore
	rendered  *Semaphore
	pool      *CommandPool
	cmd       *CommandBuffer
	secondary []*CommandBufferManager
}

func newFrameSlot(ctx *DeviceContext, threads int) (*frameSlot, error) {
	slot := &frameSlot{}
	if err := slot.create(ctx, threads); err != nil {
		slot.destroy()
		return nil, err
	}
	return slot, nil
}

// create fills s in order. On error s holds whatever was created so far.
func (s *frameSlot) create(ctx *DeviceContext, threads int) (err error) {
	// Signaled so the first wait of every slot returns at once.
	if s.fence, err = NewFence(ctx, true); err != nil {
		return err
	}
	if s.acquired, err = NewSemaphore(ctx); err != nil {
		return err
	}
	if s.rendered, err = NewSemaphore(ctx); err != nil {
		return err
	}
	if s.pool, err = NewCommandPool(ctx, QueueGraphics, 0); err != nil {
		return err
	}
	if s.cmd, err = s.pool.AllocateOne(vk.CommandBufferLevelPrimary); err != nil {
		return err
	}
	for i := 0; i < threads; i++ {
		m, err := NewCommandBufferManager(ctx, QueueGraphics, vk.CommandBufferLevelSecondary)
		if err != nil {
			return err
		}
		s.secondary = append(s.secondary, m)
	}
	return nil
}

func (s *frameSlot) destroy() {
	for _, m := range s.secondary {
		m.Destroy()
	}
	s.secondary = nil
	if s.cmd != nil {
		s.cmd.Free()
		s.cmd = nil
	}
	if s.pool != nil {
		s.pool.Destroy()
	}
	if s.rendered != nil {
		s.rendered.Destroy()
	}
	if s.acquired != nil {
		s.acquired.Destroy()
	}
	if s.fence != nil {
		s.fence.Destroy()
	}
}

// SwapchainBackend is the FrameBackend presenting to a Swapchain. Every
// slot owns a fence, an image-available and a render-finished semaphore and
// a command pool; every swapchain image remembers the fence of the slot that
// last rendered to it.
type SwapchainBackend struct {
	ctx       *DeviceContext
	swapchain *Swapchain
	targets   *RenderTargets

	slots          []*frameSlot
	imagesInFlight []*Fence
	onRecreate     []func(*Swapchain) error
}

func NewSwapchainBackend(ctx *DeviceContext, sc *Swapchain, targets *RenderTargets, frames, threads int) (*SwapchainBackend, error) {
	b := &SwapchainBackend{
		ctx:            ctx,
		swapchain:      sc,
		targets:        targets,
		imagesInFlight: make([]*Fence, sc.ImageCount()),
	}
	for i := 0; i < frames; i++ {
		slot, err := newFrameSlot(ctx, threads)
		if err != nil {
			b.Destroy()
			return nil, errors.Wrapf(err, "frame slot %d", i)
		}
		b.slots = append(b.slots, slot)
	}
	return b, nil
}

// OnRecreate registers fn to run after every swapchain reset, before the
// render targets are rebuilt.
func (b *SwapchainBackend) OnRecreate(fn func(*Swapchain) error) {
	b.onRecreate = append(b.onRecreate, fn)
}

// Secondary returns the per-thread secondary managers of slot.
func (b *SwapchainBackend) Secondary(slot int) []*CommandBufferManager {
	return b.slots[slot].secondary
}

func (b *SwapchainBackend) WaitSlot(slot int, timeout time.Duration) error {
	return b.slots[slot].fence.Wait(timeout)
}

func (b *SwapchainBackend) AcquireImage(slot int, timeout time.Duration) (uint32, error) {
	s := b.slots[slot]
	idx, err := b.swapchain.AcquireNextImage(b.ctx, s.acquired, timeout)
	if err != nil {
		return 0, err
	}
	// An earlier slot may still be rendering into this image.
	if f := b.imagesInFlight[idx]; f != nil && f != s.fence {
		if err := f.Wait(timeout); err != nil {
			return 0, errors.Wrapf(err, "swapchain image %d", idx)
		}
	}
	b.imagesInFlight[idx] = s.fence
	return idx, nil
}

func (b *SwapchainBackend) BeginSlot(slot int, image uint32) (*CommandBuffer, error) {
	s := b.slots[slot]
	if err := s.cmd.Reset(); err != nil {
		return nil, errors.Wrap(err, "reset frame command buffer")
	}
	for _, m := range s.secondary {
		m.Reset()
	}
	if err := s.cmd.Begin(); err != nil {
		return nil, errors.Wrap(err, "begin frame command buffer")
	}
	return s.cmd, nil
}

func (b *SwapchainBackend) EndSlot(slot int) error {
	if err := b.slots[slot].cmd.End(); err != nil {
		return errors.Wrap(err, "end frame command buffer")
	}
	return nil
}

func (b *SwapchainBackend) ResetSlot(slot int) error {
	return b.slots[slot].fence.Reset()
}

func (b *SwapchainBackend) SubmitSlot(slot int, image uint32) error {
	s := b.slots[slot]
	return b.ctx.Submit(QueueGraphics, []vk.SubmitInfo{{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{s.acquired.VK()},
		PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{s.cmd.VK()},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{s.rendered.VK()},
	}}, s.fence.VK())
}

func (b *SwapchainBackend) PresentImage(slot int, image uint32) error {
	return b.swapchain.Present(b.ctx.Queue(QueuePresent), b.slots[slot].rendered, image)
}

// Recreate waits for the device, replaces the image-available semaphores
// (an abandoned acquire may have left one signaled), resets the swapchain and
// rebuilds the render targets.
func (b *SwapchainBackend) Recreate() error {
	if err := b.ctx.WaitIdle(); err != nil {
		return errors.Wrap(err, "wait idle before recreate")
	}
	for i, s := range b.slots {
		sem, err := NewSemaphore(b.ctx)
		if err != nil {
			return errors.Wrapf(err, "image-available semaphore of slot %d", i)
		}
		s.acquired.Destroy()
		s.acquired = sem
	}
	if err := b.swapchain.Reset(); err != nil {
		return err
	}
	b.imagesInFlight = make([]*Fence, b.swapchain.ImageCount())
	for _, fn := range b.onRecreate {
		if err := fn(b.swapchain); err != nil {
			return err
		}
	}
	if b.targets != nil {
		if err := b.targets.Rebuild(b.swapchain); err != nil {
			return errors.Wrap(err, "rebuild render targets")
		}
	}
	return nil
}

// Destroy waits for the device and releases every slot.
func (b *SwapchainBackend) Destroy() {
	if err := b.ctx.WaitIdle(); err != nil {
		Logger().Warn("vulkan: wait idle before destroy", "err", err)
	}
	for _, s := range b.slots {
		s.destroy()
	}
	b.slots = nil
	b.imagesInFlight = nil
}
