package vkframe

import (
	"strconv"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// BarrierMask holds the access and stage masks of one image barrier.
type BarrierMask struct {
	SrcAccess vk.AccessFlags
	SrcStage  vk.PipelineStageFlags
	DstAccess vk.AccessFlags
	DstStage  vk.PipelineStageFlags
}

type layoutUse struct {
	access vk.AccessFlags
	stage  vk.PipelineStageFlags
}

func use(access vk.AccessFlagBits, stage vk.PipelineStageFlagBits) layoutUse {
	return layoutUse{access: vk.AccessFlags(access), stage: vk.PipelineStageFlags(stage)}
}

// Work that must finish before an image leaves the layout.
var srcUses = map[vk.ImageLayout]layoutUse{
	vk.ImageLayoutUndefined:                     use(0, vk.PipelineStageTopOfPipeBit),
	vk.ImageLayoutPreinitialized:                use(0, vk.PipelineStageTopOfPipeBit),
	vk.ImageLayoutTransferDstOptimal:            use(vk.AccessTransferWriteBit, vk.PipelineStageTransferBit),
	vk.ImageLayoutTransferSrcOptimal:            use(vk.AccessTransferReadBit, vk.PipelineStageTransferBit),
	vk.ImageLayoutColorAttachmentOptimal:        use(vk.AccessColorAttachmentWriteBit, vk.PipelineStageColorAttachmentOutputBit),
	vk.ImageLayoutDepthStencilAttachmentOptimal: use(vk.AccessDepthStencilAttachmentWriteBit, vk.PipelineStageLateFragmentTestsBit),
	vk.ImageLayoutDepthStencilReadOnlyOptimal: use(vk.AccessDepthStencilAttachmentReadBit|vk.AccessShaderReadBit,
		vk.PipelineStageEarlyFragmentTestsBit|vk.PipelineStageFragmentShaderBit),
	vk.ImageLayoutShaderReadOnlyOptimal: use(vk.AccessShaderReadBit, vk.PipelineStageFragmentShaderBit),
	vk.ImageLayoutPresentSrc:            use(0, vk.PipelineStageColorAttachmentOutputBit),
	vk.ImageLayoutGeneral:               use(vk.AccessShaderReadBit|vk.AccessShaderWriteBit, vk.PipelineStageComputeShaderBit),
}

// Work that waits for an image entering the layout.
var dstUses = map[vk.ImageLayout]layoutUse{
	vk.ImageLayoutTransferDstOptimal: use(vk.AccessTransferWriteBit, vk.PipelineStageTransferBit),
	vk.ImageLayoutTransferSrcOptimal: use(vk.AccessTransferReadBit, vk.PipelineStageTransferBit),
	vk.ImageLayoutColorAttachmentOptimal: use(vk.AccessColorAttachmentReadBit|vk.AccessColorAttachmentWriteBit,
		vk.PipelineStageColorAttachmentOutputBit),
	vk.ImageLayoutDepthStencilAttachmentOptimal: use(vk.AccessDepthStencilAttachmentReadBit|vk.AccessDepthStencilAttachmentWriteBit,
		vk.PipelineStageEarlyFragmentTestsBit|vk.PipelineStageLateFragmentTestsBit),
	vk.ImageLayoutDepthStencilReadOnlyOptimal: use(vk.AccessDepthStencilAttachmentReadBit|vk.AccessShaderReadBit,
		vk.PipelineStageEarlyFragmentTestsBit|vk.PipelineStageFragmentShaderBit),
	vk.ImageLayoutShaderReadOnlyOptimal: use(vk.AccessShaderReadBit, vk.PipelineStageFragmentShaderBit|vk.PipelineStageComputeShaderBit),
	vk.ImageLayoutPresentSrc:            use(0, vk.PipelineStageBottomOfPipeBit),
	vk.ImageLayoutGeneral: use(vk.AccessShaderReadBit|vk.AccessShaderWriteBit,
		vk.PipelineStageComputeShaderBit|vk.PipelineStageFragmentShaderBit),
}

var layoutNames = map[vk.ImageLayout]string{
	vk.ImageLayoutUndefined:                     "undefined",
	vk.ImageLayoutPreinitialized:                "preinitialized",
	vk.ImageLayoutTransferDstOptimal:            "transfer-dst",
	vk.ImageLayoutTransferSrcOptimal:            "transfer-src",
	vk.ImageLayoutColorAttachmentOptimal:        "color-attachment",
	vk.ImageLayoutDepthStencilAttachmentOptimal: "depth-stencil-attachment",
	vk.ImageLayoutDepthStencilReadOnlyOptimal:   "depth-stencil-read-only",
	vk.ImageLayoutShaderReadOnlyOptimal:         "shader-read-only",
	vk.ImageLayoutPresentSrc:                    "present",
	vk.ImageLayoutGeneral:                       "general",
}

func layoutName(l vk.ImageLayout) string {
	if name, ok := layoutNames[l]; ok {
		return name
	}
	return "layout(" + strconv.Itoa(int(l)) + ")"
}

// BarrierMasks derives the masks of a transition from oldLayout to newLayout.
// Layouts outside the engine's set are rejected with ErrUnknownLayout, as is
// a transition into undefined or preinitialized.
func BarrierMasks(oldLayout, newLayout vk.ImageLayout) (BarrierMask, error) {
	src, ok := srcUses[oldLayout]
	if !ok {
		return BarrierMask{}, errors.Mark(errors.Newf("no source masks for %s", layoutName(oldLayout)), ErrUnknownLayout)
	}
	dst, ok := dstUses[newLayout]
	if !ok {
		return BarrierMask{}, errors.Mark(errors.Newf("cannot transition %s into %s",
			layoutName(oldLayout), layoutName(newLayout)), ErrUnknownLayout)
	}
	m := BarrierMask{SrcAccess: src.access, SrcStage: src.stage, DstAccess: dst.access, DstStage: dst.stage}
	if newLayout == vk.ImageLayoutShaderReadOnlyOptimal && m.SrcAccess == 0 {
		// Sampled images are filled by the host or a transfer.
		m.SrcAccess = vk.AccessFlags(vk.AccessHostWriteBit | vk.AccessTransferWriteBit)
		m.SrcStage = vk.PipelineStageFlags(vk.PipelineStageHostBit | vk.PipelineStageTransferBit)
	}
	return m, nil
}

func imageBarrier(handle vk.Image, oldLayout, newLayout vk.ImageLayout, rng vk.ImageSubresourceRange) (vk.ImageMemoryBarrier, BarrierMask, error) {
	m, err := BarrierMasks(oldLayout, newLayout)
	if err != nil {
		return vk.ImageMemoryBarrier{}, m, err
	}
	return vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       m.SrcAccess,
		DstAccessMask:       m.DstAccess,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               handle,
		SubresourceRange:    rng,
	}, m, nil
}

func recordBarrier(cmd *CommandBuffer, barrier vk.ImageMemoryBarrier, m BarrierMask) {
	vk.CmdPipelineBarrier(cmd.VK(), m.SrcStage, m.DstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

// Transition records a barrier moving every mip and layer of the image from
// its cached layout to newLayout and updates the cache.
func (i *Image) Transition(cmd *CommandBuffer, newLayout vk.ImageLayout) error {
	return i.TransitionRange(cmd, newLayout, 0, i.desc.MipLevels, 0, i.desc.Layers)
}

// TransitionRange transitions a mip and layer subrange. The cache tracks one
// layout per image, so after a partial transition it holds newLayout and the
// caller is responsible for bringing the rest of the image along.
func (i *Image) TransitionRange(cmd *CommandBuffer, newLayout vk.ImageLayout, baseMip, levels, baseLayer, layers uint32) error {
	rng := vk.ImageSubresourceRange{
		AspectMask:     i.Aspect(),
		BaseMipLevel:   baseMip,
		LevelCount:     levels,
		BaseArrayLayer: baseLayer,
		LayerCount:     layers,
	}
	barrier, m, err := imageBarrier(i.handle, i.layout, newLayout, rng)
	if err != nil {
		return err
	}
	recordBarrier(cmd, barrier, m)
	i.layout = newLayout
	return nil
}

// markLayout records a layout change performed implicitly by the GPU, such
// as a render pass final layout.
func (i *Image) markLayout(layout vk.ImageLayout) {
	i.layout = layout
}

// mipStep blits level Level-1 into Level.
type mipStep struct {
	Level      uint32
	SrcW, SrcH int32
	DstW, DstH int32
}

func mipmapPlan(width, height int32, levels uint32) []mipStep {
	steps := make([]mipStep, 0, levels)
	w, h := width, height
	for level := uint32(1); level < levels; level++ {
		nw, nh := w/2, h/2
		if nw < 1 {
			nw = 1
		}
		if nh < 1 {
			nh = 1
		}
		steps = append(steps, mipStep{Level: level, SrcW: w, SrcH: h, DstW: nw, DstH: nh})
		w, h = nw, nh
	}
	return steps
}

// mipOp is one command of mipmap generation: a barrier moving Level from Old
// to New, or with Blit set, a blit described by Step.
type mipOp struct {
	Blit     bool
	Step     mipStep
	Level    uint32
	Old, New vk.ImageLayout
}

// mipmapOps lists the commands generating levels 1..levels-1 of an image
// whose levels all start in transfer-dst. Every source level goes to
// transfer-src for its blit and then to shader-read-only; the last level,
// never a source, is promoted on its own.
func mipmapOps(width, height int32, levels uint32) []mipOp {
	barrier := func(level uint32, oldLayout, newLayout vk.ImageLayout) mipOp {
		return mipOp{Level: level, Old: oldLayout, New: newLayout}
	}
	ops := make([]mipOp, 0, 3*levels)
	for _, step := range mipmapPlan(width, height, levels) {
		src := step.Level - 1
		ops = append(ops,
			barrier(src, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutTransferSrcOptimal),
			mipOp{Blit: true, Step: step, Level: step.Level},
			barrier(src, vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutShaderReadOnlyOptimal))
	}
	return append(ops, barrier(levels-1, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal))
}

// GenerateMipmaps fills levels 1..n from level 0 with linear blits and leaves
// every level in shader-read-only layout. The image is first moved to
// transfer-dst when it is elsewhere.
func (i *Image) GenerateMipmaps(cmd *CommandBuffer) error {
	if !supportsLinearBlit(i.ctx.formatProperties(i.desc.Format)) {
		return errors.Mark(errors.Newf("format %d does not support linear blits", int(i.desc.Format)), ErrFormatUnsupported)
	}
	if i.layout != vk.ImageLayoutTransferDstOptimal {
		if err := i.Transition(cmd, vk.ImageLayoutTransferDstOptimal); err != nil {
			return err
		}
	}
	aspect := i.Aspect()
	for _, op := range mipmapOps(int32(i.desc.Extent.Width), int32(i.desc.Extent.Height), i.desc.MipLevels) {
		if op.Blit {
			step := op.Step
			vk.CmdBlitImage(cmd.VK(),
				i.handle, vk.ImageLayoutTransferSrcOptimal,
				i.handle, vk.ImageLayoutTransferDstOptimal,
				1, []vk.ImageBlit{{
					SrcSubresource: vk.ImageSubresourceLayers{AspectMask: aspect, MipLevel: step.Level - 1, LayerCount: i.desc.Layers},
					SrcOffsets:     [2]vk.Offset3D{{}, {X: step.SrcW, Y: step.SrcH, Z: 1}},
					DstSubresource: vk.ImageSubresourceLayers{AspectMask: aspect, MipLevel: step.Level, LayerCount: i.desc.Layers},
					DstOffsets:     [2]vk.Offset3D{{}, {X: step.DstW, Y: step.DstH, Z: 1}},
				}},
				vk.FilterLinear)
			continue
		}
		rng := vk.ImageSubresourceRange{AspectMask: aspect, BaseMipLevel: op.Level, LevelCount: 1, LayerCount: i.desc.Layers}
		barrier, m, err := imageBarrier(i.handle, op.Old, op.New, rng)
		if err != nil {
			return err
		}
		recordBarrier(cmd, barrier, m)
	}
	i.layout = vk.ImageLayoutShaderReadOnlyOptimal
	return nil
}
