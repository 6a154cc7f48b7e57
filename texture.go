package vkframe

import (
	"image"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/image/draw"
)

// Sampler is a linear, repeating sampler covering maxLod mip levels.
type Sampler struct {
	ctx    *DeviceContext
	handle vk.Sampler
}

func NewSampler(ctx *DeviceContext, maxLod float32) (*Sampler, error) {
	var handle vk.Sampler
	ret := vk.CreateSampler(ctx.Device(), &vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		AddressModeU:            vk.SamplerAddressModeRepeat,
		AddressModeV:            vk.SamplerAddressModeRepeat,
		AddressModeW:            vk.SamplerAddressModeRepeat,
		MaxAnisotropy:           1,
		CompareOp:               vk.CompareOpNever,
		MinLod:                  0,
		MaxLod:                  maxLod,
		BorderColor:             vk.BorderColorFloatOpaqueWhite,
		UnnormalizedCoordinates: vk.False,
	}, nil, &handle)
	if err := creationError(ret, "create sampler"); err != nil {
		return nil, err
	}
	return &Sampler{ctx: ctx.Retain(), handle: handle}, nil
}

func (s *Sampler) VK() vk.Sampler { return s.handle }

func (s *Sampler) Destroy() {
	if s.handle == vk.NullSampler {
		return
	}
	vk.DestroySampler(s.ctx.Device(), s.handle, nil)
	s.handle = vk.NullSampler
	s.ctx.Release()
}

// toRGBA returns img as tightly packed RGBA with its origin at (0, 0),
// scaled down to fit maxDim on both axes when maxDim is non-zero.
func toRGBA(img image.Image, maxDim int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim > 0 && (w > maxDim || h > maxDim) {
		if w >= h {
			w, h = maxDim, max1(h*maxDim/w)
		} else {
			w, h = max1(w*maxDim/h), maxDim
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		return dst
	}
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) && rgba.Stride == 4*w {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func max1(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// Texture is a sampled RGBA image with its view and sampler.
type Texture struct {
	Image   *Image
	View    *ImageView
	Sampler *Sampler
}

const textureFormat = vk.FormatR8g8b8a8Unorm

// NewTextureFromImage uploads src through a staging buffer and leaves the
// image in shader-read-only layout. With mips, the full chain is generated
// when the format supports linear blits, otherwise a single level is kept.
func NewTextureFromImage(pool *CommandPool, src image.Image, mips bool) (*Texture, error) {
	ctx := pool.ctx
	rgba := toRGBA(src, int(ctx.Properties().Limits.MaxImageDimension2D))
	w, h := uint32(rgba.Rect.Dx()), uint32(rgba.Rect.Dy())
	if w == 0 || h == 0 {
		return nil, errors.New("empty texture image")
	}

	levels := uint32(1)
	usage := vk.ImageUsageTransferDstBit | vk.ImageUsageSampledBit
	if mips {
		if supportsLinearBlit(ctx.formatProperties(textureFormat)) {
			levels = MaxMipLevels(w, h)
			usage |= vk.ImageUsageTransferSrcBit
		} else {
			Logger().Warn("vulkan: texture format lacks linear blits, skipping mipmaps", "format", int(textureFormat))
		}
	}

	staging, err := NewBuffer(ctx, uint64(len(rgba.Pix)), vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, errors.Wrap(err, "texture staging buffer")
	}
	defer staging.Destroy()
	if err := staging.SetData(rgba.Pix, 0); err != nil {
		return nil, err
	}

	tex := &Texture{}
	if err := tex.upload(pool, staging, w, h, levels, usage); err != nil {
		tex.Destroy()
		return nil, err
	}
	Logger().Debug("vulkan: texture uploaded", "width", w, "height", h, "mips", levels)
	return tex, nil
}

// upload creates the image, copies staging into it and creates the view and
// sampler. On error t holds whatever was created so far.
func (t *Texture) upload(pool *CommandPool, staging *Buffer, w, h, levels uint32, usage vk.ImageUsageFlagBits) (err error) {
	ctx := pool.ctx
	t.Image, err = NewImage(ctx, ImageDesc{
		Extent:           vk.Extent2D{Width: w, Height: h},
		MipLevels:        levels,
		Format:           textureFormat,
		Tiling:           vk.ImageTilingOptimal,
		Usage:            vk.ImageUsageFlags(usage),
		MemoryProperties: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
	})
	if err != nil {
		return err
	}
	err = OneTimeSubmit(pool, func(cmd *CommandBuffer) error {
		if err := t.Image.TransitionRange(cmd, vk.ImageLayoutTransferDstOptimal, 0, levels, 0, 1); err != nil {
			return err
		}
		if err := t.Image.CopyFromBuffer(staging, cmd); err != nil {
			return err
		}
		if levels > 1 {
			return t.Image.GenerateMipmaps(cmd)
		}
		return t.Image.Transition(cmd, vk.ImageLayoutShaderReadOnlyOptimal)
	})
	if err != nil {
		return errors.Wrap(err, "upload texture")
	}
	if t.View, err = NewImageView(t.Image, ViewDesc{}); err != nil {
		return err
	}
	if t.Sampler, err = NewSampler(ctx, float32(levels)); err != nil {
		return err
	}
	return nil
}

func (t *Texture) Destroy() {
	if t == nil {
		return
	}
	if t.Sampler != nil {
		t.Sampler.Destroy()
	}
	if t.View != nil {
		t.View.Destroy()
	}
	if t.Image != nil {
		t.Image.Destroy()
	}
}
