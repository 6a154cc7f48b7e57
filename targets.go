package vkframe

import (
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// slotTargets are the offscreen attachments one frame slot renders into.
type slotTargets struct {
	images  []*Image
	views   []*ImageView
	graphic *Framebuffer
	blur    *Framebuffer
}

func (s *slotTargets) destroy() {
	if s.graphic != nil {
		s.graphic.Destroy()
	}
	if s.blur != nil {
		s.blur.Destroy()
	}
	for _, v := range s.views {
		v.Destroy()
	}
	for _, img := range s.images {
		img.Destroy()
	}
	*s = slotTargets{}
}

// RenderTargets owns the extent dependent framebuffers: GRAPHIC and BLUR per
// frame slot, GUI per swapchain image. Rebuild follows every swapchain reset.
type RenderTargets struct {
	ctx       *DeviceContext
	passes    *RenderPassSet
	frames    int
	offscreen vk.Format
	depth     vk.Format

	extent     vk.Extent2D
	generation uint64
	slots      []slotTargets
	gui        []*Framebuffer
}

func NewRenderTargets(ctx *DeviceContext, passes *RenderPassSet, sc *Swapchain, frames int, offscreen, depth vk.Format) (*RenderTargets, error) {
	t := &RenderTargets{
		ctx:       ctx,
		passes:    passes,
		frames:    frames,
		offscreen: offscreen,
		depth:     depth,
	}
	if err := t.Rebuild(sc); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *RenderTargets) attachment(format vk.Format, usage vk.ImageUsageFlagBits) (*Image, *ImageView, error) {
	img, err := NewImage(t.ctx, ImageDesc{
		Extent:           t.extent,
		Format:           format,
		Tiling:           vk.ImageTilingOptimal,
		Usage:            vk.ImageUsageFlags(usage | vk.ImageUsageSampledBit),
		MemoryProperties: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
	})
	if err != nil {
		return nil, nil, err
	}
	view, err := NewImageView(img, ViewDesc{})
	if err != nil {
		img.Destroy()
		return nil, nil, err
	}
	return img, view, nil
}

func (t *RenderTargets) buildSlot(s *slotTargets) error {
	color := vk.ImageUsageColorAttachmentBit | vk.ImageUsageStorageBit
	for i := 0; i < 3; i++ {
		format, usage := t.offscreen, color
		if i == 2 {
			format, usage = t.depth, vk.ImageUsageDepthStencilAttachmentBit
		}
		img, view, err := t.attachment(format, usage)
		if err != nil {
			return err
		}
		s.images = append(s.images, img)
		s.views = append(s.views, view)
	}
	img, view, err := t.attachment(t.offscreen, color)
	if err != nil {
		return err
	}
	s.images = append(s.images, img)
	s.views = append(s.views, view)

	if s.graphic, err = NewFramebuffer(t.passes.Get(ScenarioGraphic), t.extent, s.views[0], s.views[1], s.views[2]); err != nil {
		return err
	}
	s.blur, err = NewFramebuffer(t.passes.Get(ScenarioBlur), t.extent, s.views[3])
	return err
}

// Rebuild recreates every target for the swapchain's current extent.
func (t *RenderTargets) Rebuild(sc *Swapchain) (err error) {
	t.destroy()
	t.extent = sc.Extent()
	t.generation = sc.Generation()
	defer func() {
		if err != nil {
			t.destroy()
		}
	}()

	t.slots = make([]slotTargets, t.frames)
	for i := range t.slots {
		if err := t.buildSlot(&t.slots[i]); err != nil {
			return errors.Wrapf(err, "render targets of slot %d", i)
		}
	}
	gui := t.passes.Get(ScenarioGUI)
	for i, view := range sc.Views() {
		fb, err := NewFramebuffer(gui, t.extent, view)
		if err != nil {
			return errors.Wrapf(err, "GUI framebuffer of image %d", i)
		}
		t.gui = append(t.gui, fb)
	}
	Logger().Debug("vulkan: render targets rebuilt", "slots", t.frames, "images", len(t.gui),
		"width", t.extent.Width, "height", t.extent.Height)
	return nil
}

func (t *RenderTargets) Graphic(slot int) *Framebuffer { return t.slots[slot].graphic }
func (t *RenderTargets) Blur(slot int) *Framebuffer    { return t.slots[slot].blur }
func (t *RenderTargets) GUI(image uint32) *Framebuffer { return t.gui[image] }
func (t *RenderTargets) Extent() vk.Extent2D           { return t.extent }
func (t *RenderTargets) Generation() uint64            { return t.generation }

// HDR returns the GRAPHIC color attachment i (0 or 1) of slot.
func (t *RenderTargets) HDR(slot, i int) *Image {
	return t.slots[slot].images[i]
}

func (t *RenderTargets) destroy() {
	for _, fb := range t.gui {
		fb.Destroy()
	}
	t.gui = nil
	for i := range t.slots {
		t.slots[i].destroy()
	}
	t.slots = nil
}

func (t *RenderTargets) Destroy() {
	t.destroy()
}
