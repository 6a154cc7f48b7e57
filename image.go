package vkframe

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// ImageDesc describes a 2D image, an image array or a cube map (Layers 6).
type ImageDesc struct {
	Extent           vk.Extent2D
	Layers           uint32
	MipLevels        uint32
	Format           vk.Format
	Tiling           vk.ImageTiling
	Usage            vk.ImageUsageFlags
	MemoryProperties vk.MemoryPropertyFlags
}

func (d ImageDesc) normalized() ImageDesc {
	if d.Layers == 0 {
		d.Layers = 1
	}
	if d.MipLevels == 0 {
		d.MipLevels = 1
	}
	return d
}

// Cube reports whether the description yields a cube-compatible image.
func (d ImageDesc) Cube() bool {
	return d.Layers == 6
}

func (d ImageDesc) createInfo() vk.ImageCreateInfo {
	d = d.normalized()
	var flags vk.ImageCreateFlags
	if d.Cube() {
		flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}
	return vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		Flags:     flags,
		ImageType: vk.ImageType2d,
		Format:    d.Format,
		Extent: vk.Extent3D{
			Width:  d.Extent.Width,
			Height: d.Extent.Height,
			Depth:  1,
		},
		MipLevels:     d.MipLevels,
		ArrayLayers:   d.Layers,
		Samples:       vk.SampleCount1Bit,
		Tiling:        d.Tiling,
		Usage:         d.Usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
}

// MaxMipLevels is the length of the full mip chain of a width x height image.
func MaxMipLevels(width, height uint32) uint32 {
	levels := uint32(1)
	for width > 1 || height > 1 {
		width /= 2
		height /= 2
		levels++
	}
	return levels
}

// Image is a device image. Its current layout is cached and changed only by
// recorded transitions, mipmap generation and render pass ends.
type Image struct {
	ctx    *DeviceContext
	handle vk.Image
	memory vk.DeviceMemory
	desc   ImageDesc
	layout vk.ImageLayout

	// swapchain images are owned by the swapchain
	owned bool
	refs  int32
}

// NewImage creates an image and binds it to memory satisfying
// desc.MemoryProperties. The returned image holds one reference.
func NewImage(ctx *DeviceContext, desc ImageDesc) (*Image, error) {
	desc = desc.normalized()
	if desc.Extent.Width == 0 || desc.Extent.Height == 0 {
		return nil, errors.Mark(errors.Newf("image extent %dx%d is empty", desc.Extent.Width, desc.Extent.Height), ErrResourceCreation)
	}
	info := desc.createInfo()
	var handle vk.Image
	if err := creationError(vk.CreateImage(ctx.Device(), &info, nil, &handle),
		"create %dx%d image", desc.Extent.Width, desc.Extent.Height); err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(ctx.Device(), handle, &reqs)
	reqs.Deref()
	memory, err := ctx.allocate(reqs, desc.MemoryProperties)
	if err != nil {
		vk.DestroyImage(ctx.Device(), handle, nil)
		return nil, errors.Wrapf(err, "%dx%d image", desc.Extent.Width, desc.Extent.Height)
	}
	if err := creationError(vk.BindImageMemory(ctx.Device(), handle, memory, 0), "bind image memory"); err != nil {
		vk.FreeMemory(ctx.Device(), memory, nil)
		vk.DestroyImage(ctx.Device(), handle, nil)
		return nil, err
	}
	return &Image{
		ctx:    ctx.Retain(),
		handle: handle,
		memory: memory,
		desc:   desc,
		layout: vk.ImageLayoutUndefined,
		owned:  true,
		refs:   1,
	}, nil
}

// wrapImage adopts an image owned by someone else, a swapchain image.
func wrapImage(ctx *DeviceContext, handle vk.Image, format vk.Format, extent vk.Extent2D) *Image {
	return &Image{
		ctx:    ctx.Retain(),
		handle: handle,
		desc: ImageDesc{
			Extent:    extent,
			Layers:    1,
			MipLevels: 1,
			Format:    format,
			Tiling:    vk.ImageTilingOptimal,
			Usage:     vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		},
		layout: vk.ImageLayoutUndefined,
		refs:   1,
	}
}

func (i *Image) VK() vk.Image                { return i.handle }
func (i *Image) Desc() ImageDesc             { return i.desc }
func (i *Image) Format() vk.Format           { return i.desc.Format }
func (i *Image) Extent() vk.Extent2D         { return i.desc.Extent }
func (i *Image) Layout() vk.ImageLayout      { return i.layout }
func (i *Image) Aspect() vk.ImageAspectFlags { return aspectFor(i.desc.Format) }

// CopyFromBuffer records a copy of tightly packed texels from buf into mip 0
// of every layer. The image must be in transfer-dst layout. buf stays alive
// until cmd is reset or freed.
func (i *Image) CopyFromBuffer(buf *Buffer, cmd *CommandBuffer) error {
	if i.layout != vk.ImageLayoutTransferDstOptimal {
		return errors.Newf("copy into image in layout %s, want %s",
			layoutName(i.layout), layoutName(vk.ImageLayoutTransferDstOptimal))
	}
	buf.retain()
	cmd.keepAlive(buf.Destroy)
	vk.CmdCopyBufferToImage(cmd.VK(), buf.handle, i.handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     i.Aspect(),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     i.desc.Layers,
		},
		ImageExtent: vk.Extent3D{Width: i.desc.Extent.Width, Height: i.desc.Extent.Height, Depth: 1},
	}})
	return nil
}

func (i *Image) retain() {
	atomic.AddInt32(&i.refs, 1)
}

// Destroy drops one reference. The last one destroys an owned image and frees
// its memory.
func (i *Image) Destroy() {
	switch n := atomic.AddInt32(&i.refs, -1); {
	case n > 0:
		return
	case n < 0:
		panic("vkframe: image destroyed twice")
	}
	if i.owned {
		vk.DestroyImage(i.ctx.Device(), i.handle, nil)
		vk.FreeMemory(i.ctx.Device(), i.memory, nil)
		Logger().Debug("vulkan: freed image", "width", i.desc.Extent.Width, "height", i.desc.Extent.Height)
	}
	i.handle = vk.NullImage
	i.memory = vk.NullDeviceMemory
	i.ctx.Release()
}

// ViewDesc selects the subresources of a view. Zero counts mean all the
// remaining levels or layers.
type ViewDesc struct {
	BaseMip   uint32
	MipLevels uint32
	BaseLayer uint32
	Layers    uint32
	// Aspect overrides the aspect derived from the format.
	Aspect vk.ImageAspectFlags
}

// resolve fills in the defaulted counts and rejects ranges outside img.
func (v ViewDesc) resolve(img ImageDesc) (vk.ImageSubresourceRange, error) {
	img = img.normalized()
	if v.BaseMip >= img.MipLevels || v.BaseLayer >= img.Layers {
		return vk.ImageSubresourceRange{}, errors.Newf("view base mip %d layer %d outside image of %d mips %d layers",
			v.BaseMip, v.BaseLayer, img.MipLevels, img.Layers)
	}
	if v.MipLevels == 0 {
		v.MipLevels = img.MipLevels - v.BaseMip
	}
	if v.Layers == 0 {
		v.Layers = img.Layers - v.BaseLayer
	}
	if uint64(v.BaseMip)+uint64(v.MipLevels) > uint64(img.MipLevels) ||
		uint64(v.BaseLayer)+uint64(v.Layers) > uint64(img.Layers) {
		return vk.ImageSubresourceRange{}, errors.Newf("view of mips [%d,+%d) layers [%d,+%d) outside image",
			v.BaseMip, v.MipLevels, v.BaseLayer, v.Layers)
	}
	if v.Aspect == 0 {
		v.Aspect = aspectFor(img.Format)
	}
	return vk.ImageSubresourceRange{
		AspectMask:     v.Aspect,
		BaseMipLevel:   v.BaseMip,
		LevelCount:     v.MipLevels,
		BaseArrayLayer: v.BaseLayer,
		LayerCount:     v.Layers,
	}, nil
}

func viewType(img ImageDesc, layers uint32) vk.ImageViewType {
	switch {
	case layers == 6 && img.Cube():
		return vk.ImageViewTypeCube
	case layers > 1:
		return vk.ImageViewType2dArray
	}
	return vk.ImageViewType2d
}

// ImageView is a view of an Image. It keeps the image alive.
type ImageView struct {
	image  *Image
	handle vk.ImageView
	rng    vk.ImageSubresourceRange
}

func NewImageView(img *Image, desc ViewDesc) (*ImageView, error) {
	rng, err := desc.resolve(img.desc)
	if err != nil {
		return nil, errors.Mark(err, ErrResourceCreation)
	}
	var view vk.ImageView
	ret := vk.CreateImageView(img.ctx.Device(), &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.handle,
		ViewType: viewType(img.desc, rng.LayerCount),
		Format:   img.desc.Format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleR,
			G: vk.ComponentSwizzleG,
			B: vk.ComponentSwizzleB,
			A: vk.ComponentSwizzleA,
		},
		SubresourceRange: rng,
	}, nil, &view)
	if err := creationError(ret, "create image view"); err != nil {
		return nil, err
	}
	img.retain()
	return &ImageView{image: img, handle: view, rng: rng}, nil
}

func (v *ImageView) VK() vk.ImageView { return v.handle }
func (v *ImageView) Image() *Image    { return v.image }

func (v *ImageView) Destroy() {
	if v.handle == vk.NullImageView {
		return
	}
	vk.DestroyImageView(v.image.ctx.Device(), v.handle, nil)
	v.handle = vk.NullImageView
	v.image.Destroy()
}
