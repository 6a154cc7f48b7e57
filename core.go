package vkframe

import (
	"image"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Engine wires the device, swapchain, render passes, render targets,
// descriptor pool, per-frame uniforms and the frame orchestrator together.
// Every field is private; collaborators reach the parts through accessors.
type Engine struct {
	cfg     Config
	formats PassFormats

	ctx          *DeviceContext
	swapchain    *Swapchain
	passes       *RenderPassSet
	targets      *RenderTargets
	descriptors  *DescriptorPool
	frameLayout  *DescriptorSetLayout
	frameSets    []*DescriptorSet
	uniforms     *UniformBuffers
	uploads      *CommandPool
	backend      *SwapchainBackend
	orchestrator *Orchestrator
}

// NewEngine creates every component for display. On error everything built
// so far is destroyed.
func NewEngine(cfg Config, display Display) (*Engine, error) {
	if display == nil {
		return nil, errors.New("engine needs a display")
	}
	eng := &Engine{cfg: cfg}
	if err := eng.create(display); err != nil {
		eng.Destroy()
		return nil, err
	}
	return eng, nil
}

// create builds the components in dependency order. On error e holds
// whatever was created so far.
func (e *Engine) create(display Display) (err error) {
	cfg := e.cfg
	if e.ctx, err = NewDeviceContext(cfg, display); err != nil {
		return err
	}
	depth, err := DepthFormat(e.ctx)
	if err != nil {
		return err
	}
	if e.swapchain, err = NewSwapchain(e.ctx, display, depth); err != nil {
		return errors.Wrap(err, "swapchain")
	}
	e.formats = PassFormats{Swapchain: e.swapchain.Format(), Offscreen: cfg.OffscreenFormat, Depth: depth}
	if e.passes, err = NewRenderPassSet(e.ctx, e.formats); err != nil {
		return errors.Wrap(err, "render passes")
	}
	if e.targets, err = NewRenderTargets(e.ctx, e.passes, e.swapchain, cfg.FramesInFlight, cfg.OffscreenFormat, depth); err != nil {
		return errors.Wrap(err, "render targets")
	}
	if err = e.createFrameData(); err != nil {
		return err
	}
	if e.uploads, err = NewCommandPool(e.ctx, QueueGraphics, vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit)); err != nil {
		return err
	}
	if e.backend, err = NewSwapchainBackend(e.ctx, e.swapchain, e.targets, cfg.FramesInFlight, cfg.RecordingThreads); err != nil {
		return err
	}
	e.backend.OnRecreate(e.swapchainChanged)
	if e.orchestrator, err = NewOrchestrator(e.backend, cfg); err != nil {
		return err
	}
	return nil
}

// createFrameData builds the uniform buffer and descriptor set of every
// frame slot. Binding 0 of each set is the slot's uniform buffer.
func (e *Engine) createFrameData() (err error) {
	if e.descriptors, err = NewDescriptorPool(e.ctx, e.cfg.DescriptorCapacity, e.cfg.MaxDescriptorSets); err != nil {
		return err
	}
	e.frameLayout, err = NewDescriptorSetLayout(e.ctx, vk.DescriptorSetLayoutBinding{
		Binding:         0,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		DescriptorCount: 1,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit),
	})
	if err != nil {
		return err
	}
	if e.uniforms, err = NewUniformBuffers(e.ctx, e.cfg.FramesInFlight, MatrixSize); err != nil {
		return err
	}
	for slot := 0; slot < e.cfg.FramesInFlight; slot++ {
		set, err := e.descriptors.AllocateSet(e.frameLayout)
		if err != nil {
			return errors.Wrapf(err, "descriptor set of slot %d", slot)
		}
		set.WriteBuffer(0, vk.DescriptorTypeUniformBuffer, e.uniforms.Buffer(slot), 0, 0)
		set.Update()
		e.frameSets = append(e.frameSets, set)
	}
	return nil
}

// swapchainChanged rebuilds the render passes when the surface format moved.
func (e *Engine) swapchainChanged(sc *Swapchain) error {
	if sc.Format() == e.formats.Swapchain {
		return nil
	}
	formats := e.formats
	formats.Swapchain = sc.Format()
	if err := e.passes.Rebuild(formats); err != nil {
		return err
	}
	e.formats = formats
	return nil
}

func (e *Engine) Config() Config                    { return e.cfg }
func (e *Engine) Context() *DeviceContext           { return e.ctx }
func (e *Engine) Swapchain() *Swapchain             { return e.swapchain }
func (e *Engine) RenderPasses() *RenderPassSet      { return e.passes }
func (e *Engine) Targets() *RenderTargets           { return e.targets }
func (e *Engine) Descriptors() *DescriptorPool      { return e.descriptors }
func (e *Engine) Uniforms() *UniformBuffers         { return e.uniforms }
func (e *Engine) Orchestrator() *Orchestrator       { return e.orchestrator }
func (e *Engine) FrameSet(slot int) *DescriptorSet  { return e.frameSets[slot] }
func (e *Engine) FrameLayout() *DescriptorSetLayout { return e.frameLayout }

// Secondary returns the secondary command buffer managers of slot, one per
// recording thread, for RecordParallel.
func (e *Engine) Secondary(slot int) []*CommandBufferManager {
	return e.backend.Secondary(slot)
}

// Frame renders one frame. A nil record runs RecordDefault.
func (e *Engine) Frame(record func(*Frame) error) error {
	if record == nil {
		record = e.RecordDefault
	}
	return e.orchestrator.Frame(record)
}

// Resize schedules a swapchain reset, typically from a framebuffer size
// callback.
func (e *Engine) Resize() {
	e.orchestrator.NotifyResize()
}

// RecordDefault clears the slot's GRAPHIC and BLUR targets and runs the GUI
// pass over the acquired image, leaving it ready to present.
func (e *Engine) RecordDefault(f *Frame) error {
	graphic := e.passes.Get(ScenarioGraphic)
	fb := e.targets.Graphic(f.Slot)
	graphic.Begin(f.Cmd, fb, vk.SubpassContentsInline)
	graphic.End(f.Cmd, fb)

	blur := e.passes.Get(ScenarioBlur)
	fb = e.targets.Blur(f.Slot)
	blur.Begin(f.Cmd, fb, vk.SubpassContentsInline)
	blur.End(f.Cmd, fb)

	img := e.swapchain.Images()[f.Image]
	if err := img.Transition(f.Cmd, vk.ImageLayoutGeneral); err != nil {
		return errors.Wrapf(err, "swapchain image %d", f.Image)
	}
	gui := e.passes.Get(ScenarioGUI)
	fb = e.targets.GUI(f.Image)
	gui.Begin(f.Cmd, fb, vk.SubpassContentsInline)
	gui.End(f.Cmd, fb)
	return nil
}

// UploadTexture uploads img as a sampled texture with a full mip chain.
func (e *Engine) UploadTexture(img image.Image) (*Texture, error) {
	return NewTextureFromImage(e.uploads, img, true)
}

// UploadBuffer uploads data into a device-local buffer of the given usage.
func (e *Engine) UploadBuffer(data []byte, usage vk.BufferUsageFlags) (*Buffer, error) {
	return UploadBuffer(e.uploads, data, usage)
}

// Destroy waits for the device and releases every component in reverse
// creation order. The device goes away once the last resource holding it is
// destroyed.
func (e *Engine) Destroy() {
	if e == nil || e.ctx == nil {
		return
	}
	if e.backend != nil {
		e.backend.Destroy()
	} else if err := e.ctx.WaitIdle(); err != nil {
		Logger().Warn("vulkan: wait idle before destroy", "err", err)
	}
	if e.uploads != nil {
		e.uploads.Destroy()
	}
	for _, set := range e.frameSets {
		if err := e.descriptors.FreeSet(set); err != nil {
			Logger().Warn("vulkan: free frame descriptor set", "err", err)
		}
	}
	e.frameSets = nil
	if e.uniforms != nil {
		e.uniforms.Destroy()
	}
	if e.frameLayout != nil {
		e.frameLayout.Destroy()
	}
	if e.descriptors != nil {
		e.descriptors.Destroy()
	}
	if e.targets != nil {
		e.targets.Destroy()
	}
	if e.passes != nil {
		e.passes.Destroy()
	}
	if e.swapchain != nil {
		e.swapchain.Destroy()
	}
	e.ctx.Release()
	e.ctx = nil
}
