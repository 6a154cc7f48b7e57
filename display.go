package vkframe

import (
	vk "github.com/vulkan-go/vulkan"
)

// Display is the windowing collaborator. It creates the presentation surface
// once and reports the framebuffer size when the surface leaves the extent to
// the application.
type Display interface {
	// CreateSurface creates the presentation surface for instance.
	CreateSurface(instance vk.Instance) (vk.Surface, error)
	// FramebufferSize is the drawable size in pixels.
	FramebufferSize() (width, height int)
	// RequiredInstanceExtensions lists the surface extensions of the platform.
	RequiredInstanceExtensions() []string
}

// SwapchainDimensions describes the size and format of the swapchain.
type SwapchainDimensions struct {
	Width  uint32
	Height uint32
	Format vk.Format
}
