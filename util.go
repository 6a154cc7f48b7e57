package vkframe

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

func safeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != '\x00' {
		return s + "\x00"
	}
	return s
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = safeString(list[i])
	}
	return out
}

// sliceUint32 reinterprets SPIR-V bytes as words.
func sliceUint32(data []byte) []uint32 {
	if len(data) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
}

// hostBytes views size bytes starting at p.
func hostBytes(p unsafe.Pointer, size int) []byte {
	if p == nil || size <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(p), size)
}

func hasStencil(format vk.Format) bool {
	switch format {
	case vk.FormatD32SfloatS8Uint, vk.FormatD24UnormS8Uint, vk.FormatD16UnormS8Uint, vk.FormatS8Uint:
		return true
	}
	return false
}

func isDepthFormat(format vk.Format) bool {
	switch format {
	case vk.FormatD32Sfloat, vk.FormatD16Unorm, vk.FormatX8D24UnormPack32:
		return true
	}
	return hasStencil(format) && format != vk.FormatS8Uint
}

// aspectFor derives the aspect mask of a whole image from its format.
func aspectFor(format vk.Format) vk.ImageAspectFlags {
	if isDepthFormat(format) {
		mask := vk.ImageAspectFlags(vk.ImageAspectDepthBit)
		if hasStencil(format) {
			mask |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
		}
		return mask
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}
