package vkframe

import (
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// chooseSurfaceFormat prefers the configured format and color space. A single
// undefined entry means the surface takes anything.
func chooseSurfaceFormat(formats []vk.SurfaceFormat, preferred vk.Format, space vk.ColorSpace) (vk.SurfaceFormat, error) {
	if len(formats) == 0 {
		return vk.SurfaceFormat{}, errors.Mark(errors.New("surface reports no formats"), ErrFormatUnsupported)
	}
	if len(formats) == 1 && formats[0].Format == vk.FormatUndefined {
		return vk.SurfaceFormat{Format: preferred, ColorSpace: space}, nil
	}
	for _, f := range formats {
		if f.Format == preferred && f.ColorSpace == space {
			return f, nil
		}
	}
	return formats[0], nil
}

// choosePresentMode returns preferred when offered, else FIFO which every
// surface supports.
func choosePresentMode(modes []vk.PresentMode, preferred vk.PresentMode) vk.PresentMode {
	for _, m := range modes {
		if m == preferred {
			return m
		}
	}
	return vk.PresentModeFifo
}

// chooseExtent takes the surface's current extent unless the surface leaves
// the size to the application, then the framebuffer size clamped to bounds.
func chooseExtent(caps vk.SurfaceCapabilities, fbWidth, fbHeight int) vk.Extent2D {
	if caps.CurrentExtent.Width != vk.MaxUint32 {
		return caps.CurrentExtent
	}
	clamp := func(v int, lo, hi uint32) uint32 {
		if v < int(lo) {
			return lo
		}
		if v > int(hi) {
			return hi
		}
		return uint32(v)
	}
	return vk.Extent2D{
		Width:  clamp(fbWidth, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clamp(fbHeight, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

// chooseImageCount asks for one image more than the minimum. A zero maximum
// means unbounded.
func chooseImageCount(caps vk.SurfaceCapabilities) uint32 {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

// sharingFor shares swapchain images between the graphics and present
// families when they differ.
func sharingFor(families QueueFamilies) (vk.SharingMode, []uint32) {
	if families.SeparatePresent() {
		return vk.SharingModeConcurrent, []uint32{families.Graphics, families.Present}
	}
	return vk.SharingModeExclusive, nil
}

func chooseCompositeAlpha(supported vk.CompositeAlphaFlags) vk.CompositeAlphaFlagBits {
	for _, bit := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if supported&vk.CompositeAlphaFlags(bit) != 0 {
			return bit
		}
	}
	return vk.CompositeAlphaOpaqueBit
}

func acquireResult(ret vk.Result, timeout time.Duration) error {
	switch ret {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate, vk.Suboptimal:
		return staleError(ret, "acquire next image")
	case vk.Timeout, vk.NotReady:
		return errors.Mark(errors.Newf("no swapchain image within %s", timeout), ErrSynchronizationTimeout)
	}
	return errors.Wrap(NewError(ret), "acquire next image")
}

func presentResult(ret vk.Result) error {
	switch ret {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate, vk.Suboptimal:
		return staleError(ret, "present")
	}
	return errors.Wrap(NewError(ret), "present")
}

// swapchainChain is everything one swapchain generation owns.
type swapchainChain struct {
	handle      vk.Swapchain
	images      []*Image
	views       []*ImageView
	depth       *Image
	depthView   *ImageView
	extent      vk.Extent2D
	format      vk.SurfaceFormat
	presentMode vk.PresentMode
	generation  uint64
}

type swapchainBuilder interface {
	build() (*swapchainChain, error)
	destroy(chain *swapchainChain)
	waitIdle() error
}

// Swapchain owns the presentable images with a view each and one depth
// image of the same extent. Reset is the only mutator. After a failed Reset
// there is no chain until the next successful one: the image accessors return
// nothing while generation, extent and format keep their last values.
type Swapchain struct {
	builder    swapchainBuilder
	chain      *swapchainChain
	generation uint64
	extent     vk.Extent2D
	format     vk.SurfaceFormat
}

// NewSwapchain builds the first swapchain generation for the context's
// surface. depthFormat comes from DepthFormat.
func NewSwapchain(ctx *DeviceContext, display Display, depthFormat vk.Format) (*Swapchain, error) {
	return newSwapchain(&vkSwapchainBuilder{ctx: ctx, display: display, depthFormat: depthFormat})
}

func newSwapchain(b swapchainBuilder) (*Swapchain, error) {
	s := &Swapchain{builder: b}
	if err := s.install(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Swapchain) install() error {
	chain, err := s.builder.build()
	if err != nil {
		return err
	}
	s.generation++
	chain.generation = s.generation
	s.chain = chain
	s.extent, s.format = chain.extent, chain.format
	Logger().Info("vulkan: swapchain ready",
		"generation", chain.generation, "images", len(chain.images),
		"width", chain.extent.Width, "height", chain.extent.Height)
	return nil
}

// Reset waits for the device to idle, destroys the current generation and
// builds a new one from fresh surface capabilities.
func (s *Swapchain) Reset() error {
	if err := s.builder.waitIdle(); err != nil {
		return errors.Wrap(err, "wait idle before swapchain reset")
	}
	if s.chain != nil {
		s.builder.destroy(s.chain)
		s.chain = nil
	}
	return s.install()
}

func (s *Swapchain) Extent() vk.Extent2D { return s.extent }
func (s *Swapchain) Format() vk.Format   { return s.format.Format }
func (s *Swapchain) Generation() uint64  { return s.generation }

// Ready reports whether a chain is installed.
func (s *Swapchain) Ready() bool { return s.chain != nil }

func (s *Swapchain) VK() vk.Swapchain {
	if s.chain == nil {
		return vk.NullSwapchain
	}
	return s.chain.handle
}

func (s *Swapchain) Images() []*Image {
	if s.chain == nil {
		return nil
	}
	return s.chain.images
}

func (s *Swapchain) Views() []*ImageView {
	if s.chain == nil {
		return nil
	}
	return s.chain.views
}

func (s *Swapchain) DepthView() *ImageView {
	if s.chain == nil {
		return nil
	}
	return s.chain.depthView
}

func (s *Swapchain) PresentMode() vk.PresentMode {
	if s.chain == nil {
		return vk.PresentModeFifo
	}
	return s.chain.presentMode
}

func (s *Swapchain) ImageCount() int { return len(s.Images()) }

func (s *Swapchain) Dimensions() SwapchainDimensions {
	return SwapchainDimensions{Width: s.extent.Width, Height: s.extent.Height, Format: s.format.Format}
}

func (s *Swapchain) errNoChain(op string) error {
	return errors.Mark(errors.Newf("%s: no swapchain since the last failed reset", op), ErrSwapchainStale)
}

// AcquireNextImage returns the index of the next presentable image; signal is
// signaled when the image is ready.
func (s *Swapchain) AcquireNextImage(ctx *DeviceContext, signal *Semaphore, timeout time.Duration) (uint32, error) {
	if s.chain == nil {
		return 0, s.errNoChain("acquire next image")
	}
	var idx uint32
	ret := vk.AcquireNextImage(ctx.Device(), s.chain.handle, uint64(timeout.Nanoseconds()), signal.VK(), vk.NullFence, &idx)
	if err := acquireResult(ret, timeout); err != nil {
		return 0, err
	}
	return idx, nil
}

// Present queues image idx for presentation once wait is signaled.
func (s *Swapchain) Present(queue *Queue, wait *Semaphore, idx uint32) error {
	if s.chain == nil {
		return s.errNoChain("present")
	}
	results := []vk.Result{vk.Success}
	ret := queue.Present(&vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{wait.VK()},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.chain.handle},
		PImageIndices:      []uint32{idx},
		PResults:           results,
	})
	return presentResult(ret)
}

// Destroy releases the current generation. The caller waits for the device to
// idle first.
func (s *Swapchain) Destroy() {
	if s.chain != nil {
		s.builder.destroy(s.chain)
		s.chain = nil
	}
}

type vkSwapchainBuilder struct {
	ctx         *DeviceContext
	display     Display
	depthFormat vk.Format
}

func (b *vkSwapchainBuilder) waitIdle() error {
	return b.ctx.WaitIdle()
}

func (b *vkSwapchainBuilder) surfaceSupport() (vk.SurfaceCapabilities, []vk.SurfaceFormat, []vk.PresentMode) {
	gpu, surface := b.ctx.PhysicalDevice(), b.ctx.Surface()

	var caps vk.SurfaceCapabilities
	vk.GetPhysicalDeviceSurfaceCapabilities(gpu, surface, &caps)
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	var count uint32
	vk.GetPhysicalDeviceSurfaceFormats(gpu, surface, &count, nil)
	formats := make([]vk.SurfaceFormat, count)
	vk.GetPhysicalDeviceSurfaceFormats(gpu, surface, &count, formats)
	for i := range formats {
		formats[i].Deref()
	}

	count = 0
	vk.GetPhysicalDeviceSurfacePresentModes(gpu, surface, &count, nil)
	modes := make([]vk.PresentMode, count)
	vk.GetPhysicalDeviceSurfacePresentModes(gpu, surface, &count, modes)
	return caps, formats, modes
}

func (b *vkSwapchainBuilder) build() (*swapchainChain, error) {
	cfg := b.ctx.Config()
	caps, formats, modes := b.surfaceSupport()

	format, err := chooseSurfaceFormat(formats, cfg.PreferredFormat, cfg.PreferredColorSpace)
	if err != nil {
		return nil, err
	}
	fbWidth, fbHeight := 0, 0
	if b.display != nil {
		fbWidth, fbHeight = b.display.FramebufferSize()
	}
	extent := chooseExtent(caps, fbWidth, fbHeight)
	if extent.Width == 0 || extent.Height == 0 {
		return nil, errors.Mark(errors.New("surface has a zero extent"), ErrSwapchainStale)
	}
	mode := choosePresentMode(modes, cfg.PreferredPresentMode)
	sharing, families := sharingFor(b.ctx.Families())

	preTransform := caps.CurrentTransform
	if caps.SupportedTransforms&vk.SurfaceTransformFlags(vk.SurfaceTransformIdentityBit) != 0 {
		preTransform = vk.SurfaceTransformIdentityBit
	}

	var handle vk.Swapchain
	ret := vk.CreateSwapchain(b.ctx.Device(), &vk.SwapchainCreateInfo{
		SType:                 vk.StructureTypeSwapchainCreateInfo,
		Surface:               b.ctx.Surface(),
		MinImageCount:         chooseImageCount(caps),
		ImageFormat:           format.Format,
		ImageColorSpace:       format.ColorSpace,
		ImageExtent:           extent,
		ImageArrayLayers:      1,
		ImageUsage:            vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		ImageSharingMode:      sharing,
		QueueFamilyIndexCount: uint32(len(families)),
		PQueueFamilyIndices:   families,
		PreTransform:          preTransform,
		CompositeAlpha:        chooseCompositeAlpha(caps.SupportedCompositeAlpha),
		PresentMode:           mode,
		Clipped:               vk.True,
		OldSwapchain:          vk.NullSwapchain,
	}, nil, &handle)
	if err := creationError(ret, "create swapchain"); err != nil {
		return nil, err
	}

	chain := &swapchainChain{handle: handle, extent: extent, format: format, presentMode: mode}
	if err := b.fill(chain); err != nil {
		b.destroy(chain)
		return nil, err
	}
	return chain, nil
}

// fill gets the images of chain.handle and creates their views and the depth
// attachment. On error chain holds whatever was created so far.
func (b *vkSwapchainBuilder) fill(chain *swapchainChain) (err error) {
	handle, format, extent := chain.handle, chain.format, chain.extent

	var count uint32
	if err := NewError(vk.GetSwapchainImages(b.ctx.Device(), handle, &count, nil)); err != nil {
		return errors.Wrap(err, "get swapchain images")
	}
	handles := make([]vk.Image, count)
	if err := NewError(vk.GetSwapchainImages(b.ctx.Device(), handle, &count, handles)); err != nil {
		return errors.Wrap(err, "get swapchain images")
	}
	for _, h := range handles {
		img := wrapImage(b.ctx, h, format.Format, extent)
		chain.images = append(chain.images, img)
		view, err := NewImageView(img, ViewDesc{})
		if err != nil {
			return errors.Wrap(err, "swapchain image view")
		}
		chain.views = append(chain.views, view)
	}

	chain.depth, err = NewImage(b.ctx, ImageDesc{
		Extent:           extent,
		Format:           b.depthFormat,
		Tiling:           vk.ImageTilingOptimal,
		Usage:            vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit | vk.ImageUsageSampledBit),
		MemoryProperties: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
	})
	if err != nil {
		return errors.Wrap(err, "swapchain depth image")
	}
	chain.depthView, err = NewImageView(chain.depth, ViewDesc{})
	if err != nil {
		return errors.Wrap(err, "swapchain depth view")
	}
	return nil
}

func (b *vkSwapchainBuilder) destroy(chain *swapchainChain) {
	if chain == nil {
		return
	}
	for _, v := range chain.views {
		v.Destroy()
	}
	for _, img := range chain.images {
		img.Destroy()
	}
	if chain.depthView != nil {
		chain.depthView.Destroy()
	}
	if chain.depth != nil {
		chain.depth.Destroy()
	}
	if chain.handle != vk.NullSwapchain {
		vk.DestroySwapchain(b.ctx.Device(), chain.handle, nil)
	}
	chain.views, chain.images = nil, nil
	chain.depth, chain.depthView = nil, nil
	chain.handle = vk.NullSwapchain
}
