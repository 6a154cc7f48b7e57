package vkframe

import (
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

type formatQuery func(vk.Format) vk.FormatProperties

func (c *DeviceContext) formatProperties(format vk.Format) vk.FormatProperties {
	var props vk.FormatProperties
	vk.GetPhysicalDeviceFormatProperties(c.gpu, format, &props)
	props.Deref()
	return props
}

func pickFormat(candidates []vk.Format, tiling vk.ImageTiling, features vk.FormatFeatureFlags, query formatQuery) (vk.Format, error) {
	for _, format := range candidates {
		props := query(format)
		var have vk.FormatFeatureFlags
		switch tiling {
		case vk.ImageTilingLinear:
			have = props.LinearTilingFeatures
		case vk.ImageTilingOptimal:
			have = props.OptimalTilingFeatures
		}
		if have&features == features {
			return format, nil
		}
	}
	return vk.FormatUndefined, errors.Mark(
		errors.Newf("none of %d candidate formats supports features %#x", len(candidates), uint32(features)),
		ErrFormatUnsupported)
}

// FindSupportedFormat returns the first candidate whose tiling supports all
// features.
func FindSupportedFormat(ctx *DeviceContext, candidates []vk.Format, tiling vk.ImageTiling, features vk.FormatFeatureFlags) (vk.Format, error) {
	return pickFormat(candidates, tiling, features, ctx.formatProperties)
}

var depthCandidates = []vk.Format{
	vk.FormatD32Sfloat,
	vk.FormatD32SfloatS8Uint,
	vk.FormatD24UnormS8Uint,
}

// DepthFormat picks an optimal-tiling depth attachment format.
func DepthFormat(ctx *DeviceContext) (vk.Format, error) {
	return FindSupportedFormat(ctx, depthCandidates, vk.ImageTilingOptimal,
		vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit))
}

func supportsLinearBlit(props vk.FormatProperties) bool {
	return props.OptimalTilingFeatures&vk.FormatFeatureFlags(vk.FormatFeatureSampledImageFilterLinearBit) != 0
}
