package vkframe

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// findMemoryType returns the first memory type allowed by typeBits whose
// property flags contain every bit of want.
func findMemoryType(types []vk.MemoryPropertyFlags, typeBits uint32, want vk.MemoryPropertyFlags) (uint32, error) {
	for i := range types {
		if typeBits&(1<<uint(i)) == 0 {
			continue
		}
		if types[i]&want == want {
			return uint32(i), nil
		}
	}
	return 0, allocationError("no memory type satisfies properties %s (allowed types %#b)", memoryPropertyString(want), typeBits)
}

func memoryPropertyString(flags vk.MemoryPropertyFlags) string {
	names := []struct {
		bit  vk.MemoryPropertyFlagBits
		name string
	}{
		{vk.MemoryPropertyDeviceLocalBit, "device-local"},
		{vk.MemoryPropertyHostVisibleBit, "host-visible"},
		{vk.MemoryPropertyHostCoherentBit, "host-coherent"},
		{vk.MemoryPropertyHostCachedBit, "host-cached"},
		{vk.MemoryPropertyLazilyAllocatedBit, "lazily-allocated"},
	}
	out := ""
	for _, n := range names {
		if flags&vk.MemoryPropertyFlags(n.bit) == 0 {
			continue
		}
		if out != "" {
			out += "|"
		}
		out += n.name
	}
	if out == "" {
		return fmt.Sprintf("none(%#x)", uint32(flags))
	}
	return out
}

// allocate finds a memory type for reqs and allocates a block of it.
func (c *DeviceContext) allocate(reqs vk.MemoryRequirements, props vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	typeIndex, err := findMemoryType(c.memoryTypes, reqs.MemoryTypeBits, props)
	if err != nil {
		return vk.NullDeviceMemory, err
	}
	var memory vk.DeviceMemory
	ret := vk.AllocateMemory(c.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: typeIndex,
	}, nil, &memory)
	if err := creationError(ret, "allocate %d bytes of %s memory", uint64(reqs.Size), memoryPropertyString(props)); err != nil {
		return vk.NullDeviceMemory, err
	}
	Logger().Debug("vulkan: allocated memory", "bytes", uint64(reqs.Size), "type", typeIndex)
	return memory, nil
}
